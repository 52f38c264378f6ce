package cmd

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/meetcap/config"
	"github.com/otherjamesbrown/meetcap/pkg/db"
)

// TestDbCommand tests the parent db command structure.
func TestDbCommand(t *testing.T) {
	cmd := NewDbCommand(DefaultDeps(""))

	assert.Equal(t, "db", cmd.Use)
	assert.NotEmpty(t, cmd.Short)
	assert.NotEmpty(t, cmd.Long)

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.ElementsMatch(t, []string{"migrate", "status"}, names)
}

func TestDbMigrateCommand_Flags(t *testing.T) {
	cmd := NewDbCommand(DefaultDeps(""))

	migrateCmd, _, err := cmd.Find([]string{"migrate"})
	require.NoError(t, err)

	dryRun := migrateCmd.Flags().Lookup("dry-run")
	require.NotNil(t, dryRun)
	assert.Equal(t, "bool", dryRun.Value.Type())

	target := migrateCmd.Flags().Lookup("target")
	require.NotNil(t, target)
	assert.Equal(t, "string", target.Value.Type())
	assert.Equal(t, "t", target.Shorthand)
}

func TestEmbeddedMigrations(t *testing.T) {
	matches, err := fs.Glob(migrationFS, "*.sql")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"001_create_users_and_meetings.sql",
		"002_create_transition_records.sql",
		"003_create_capture_logs.sql",
	}, matches)
}

func TestRunDb_PropagatesErrors(t *testing.T) {
	tests := []struct {
		name    string
		deps    *CommandDeps
		wantErr string
	}{
		{
			name: "config",
			deps: &CommandDeps{
				LoadConfig: func() (*config.Config, error) { return nil, errors.New("bad yaml") },
			},
			wantErr: "loading configuration: bad yaml",
		},
		{
			name: "connect",
			deps: &CommandDeps{
				LoadConfig: func() (*config.Config, error) { return config.DefaultConfig(), nil },
				ConnectToDB: func(context.Context, *config.Config) (*pgxpool.Pool, error) {
					return nil, errors.New("connection refused")
				},
			},
			wantErr: "connecting to database: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := runDbMigrate(context.Background(), tt.deps)
			assert.EqualError(t, err, tt.wantErr)

			err = runDbStatus(context.Background(), tt.deps)
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}

func TestOutputMigrationStatus_Text(t *testing.T) {
	applied := time.Date(2026, 10, 1, 9, 30, 0, 0, time.UTC)
	status := &db.MigrationStatus{
		Applied: []db.MigrationStatusEntry{{Version: "001", Name: "create_users_and_meetings", AppliedAt: &applied}},
		Pending: []db.MigrationStatusEntry{{Version: "002", Name: "create_transition_records"}},
	}

	var buf bytes.Buffer
	require.NoError(t, outputMigrationStatus(&buf, OutputFormatText, status))

	out := buf.String()
	assert.Contains(t, out, "Applied Migrations (1):")
	assert.Contains(t, out, "2026-10-01 09:30:00")
	assert.Contains(t, out, "Pending Migrations (1):")
	assert.NotContains(t, out, "Drift")
	assert.Contains(t, out, "Summary: 1 applied, 1 pending")
}

func TestOutputMigrationStatus_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, outputMigrationStatus(&buf, OutputFormatText, &db.MigrationStatus{}))
	assert.Equal(t, "No migrations found.\n", buf.String())
}

func TestOutputMigrationStatus_JSON(t *testing.T) {
	status := &db.MigrationStatus{Drift: []db.MigrationStatusEntry{{Version: "009", Name: "gone"}}}

	var buf bytes.Buffer
	require.NoError(t, outputMigrationStatus(&buf, OutputFormatJSON, status))
	assert.JSONEq(t, `{"Applied":null,"Pending":null,"Drift":[{"Version":"009","Name":"gone","AppliedAt":null}]}`, buf.String())
}

func TestPrintMigrationResult(t *testing.T) {
	var buf bytes.Buffer
	printMigrationResult(&buf, &db.MigrationResult{Applied: []string{"002", "003"}, Skipped: []string{"001"}})
	assert.Equal(t, "Applied 2 migration(s):\n  + 002\n  + 003\nSkipped 1 migration(s) (already applied)\n", buf.String())

	buf.Reset()
	printMigrationResult(&buf, &db.MigrationResult{Skipped: []string{"001"}})
	assert.Contains(t, buf.String(), "No pending migrations.")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "create_...", truncate("create_transition_records", 10))
}
