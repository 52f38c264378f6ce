// Package dbtest opens a migrated PostgreSQL pool for integration tests.
package dbtest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/otherjamesbrown/meetcap/migrations"
	"github.com/otherjamesbrown/meetcap/pkg/db"
)

// EnvDatabaseURL names the variable holding the integration database URL.
const EnvDatabaseURL = "MEETCAP_TEST_DATABASE_URL"

// Open connects to the database named by MEETCAP_TEST_DATABASE_URL, applies the
// embedded migrations and truncates the meeting tables. The test is skipped
// when the variable is unset.
func Open(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv(EnvDatabaseURL)
	if dsn == "" {
		t.Skipf("Skipping integration test: %s not set", EnvDatabaseURL)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg := db.DefaultConfig()
	cfg.URL = dsn
	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	if _, err := db.RunMigrations(ctx, pool, migrations.FS); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := pool.Exec(ctx, "TRUNCATE meeting_transition_records, meetings, users, capture_logs RESTART IDENTITY CASCADE"); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	return pool
}

// InsertUser creates an owner row and returns its id.
func InsertUser(t *testing.T, pool *pgxpool.Pool, email string) int64 {
	t.Helper()
	var id int64
	err := pool.QueryRow(context.Background(),
		`INSERT INTO users (keycloak_uuid, email, first_name) VALUES (gen_random_uuid(), $1, 'Test') RETURNING id`,
		email).Scan(&id)
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}
	return id
}

// InsertMeeting creates a meeting row and returns its id.
func InsertMeeting(t *testing.T, pool *pgxpool.Pool, userID int64, platform, status string) int64 {
	t.Helper()
	var id int64
	err := pool.QueryRow(context.Background(),
		`INSERT INTO meetings (name, url, platform, status, user_id) VALUES ('weekly sync', 'https://visio.example/abc', $1, $2, $3) RETURNING id`,
		platform, status, userID).Scan(&id)
	if err != nil {
		t.Fatalf("insert meeting: %v", err)
	}
	return id
}
