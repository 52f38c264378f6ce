package cmd

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/meetcap/migrations"
	"github.com/otherjamesbrown/meetcap/pkg/db"
)

// Database command flags
var (
	dbDryRun bool
	dbTarget string
	dbOutput string
)

// migrationFS is the embedded schema; tests may swap it.
var migrationFS fs.FS = migrations.FS

// NewDbCommand creates the root db command with all subcommands.
func NewDbCommand(deps *CommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
		Long: `Database management commands for meetcap.

Manage the schema of the meetings, transition ledger and capture log tables.
The SQL files are embedded in the binary and tracked in schema_migrations.

The db command connects with the database section of the configuration,
overridden by DATABASE_URL or DB_* environment variables.`,
		Aliases: []string{"database", "migrations"},
	}

	cmd.AddCommand(newDbMigrateCommand(deps))
	cmd.AddCommand(newDbStatusCommand(deps))

	return cmd
}

// newDbMigrateCommand creates the 'db migrate' subcommand.
func newDbMigrateCommand(deps *CommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Apply pending database migrations.

Migrations run in filename order, each in its own transaction. If one fails
it is rolled back and no further migration is attempted.`,
		Example: `  meetcap db migrate
  meetcap db migrate --dry-run
  meetcap db migrate --target 002`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDbMigrate(cmd.Context(), deps)
		},
	}

	cmd.Flags().BoolVar(&dbDryRun, "dry-run", false, "Show what would be applied without executing")
	cmd.Flags().StringVarP(&dbTarget, "target", "t", "", "Target version to migrate to (e.g., 002)")

	return cmd
}

// newDbStatusCommand creates the 'db status' subcommand.
func newDbStatusCommand(deps *CommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show database migration status",
		Long: `Show applied and pending migrations, plus drift: migrations recorded as
applied whose file is no longer embedded.`,
		Example: `  meetcap db status
  meetcap db status --output json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDbStatus(cmd.Context(), deps)
		},
	}

	cmd.Flags().StringVarP(&dbOutput, "output", "o", "", "Output format: text, json, yaml")

	return cmd
}

// runDbMigrate executes the db migrate command.
func runDbMigrate(ctx context.Context, deps *CommandDeps) error {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	pool, err := deps.ConnectToDB(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	out := deps.out()

	if dbDryRun {
		status, err := db.GetMigrationStatus(ctx, pool, migrationFS)
		if err != nil {
			return fmt.Errorf("getting migration status: %w", err)
		}
		if len(status.Pending) == 0 {
			fmt.Fprintln(out, "No pending migrations.")
			return nil
		}
		fmt.Fprintf(out, "Pending migrations (%d):\n", len(status.Pending))
		for _, m := range status.Pending {
			fmt.Fprintf(out, "  %s - %s\n", m.Version, m.Name)
		}
		fmt.Fprintln(out, "Dry run mode: no migrations applied.")
		return nil
	}

	result, err := db.RunMigrationsToTarget(ctx, pool, migrationFS, dbTarget)
	if err != nil {
		if result != nil && len(result.Applied) > 0 {
			fmt.Fprintf(out, "Applied before failure: %s\n", strings.Join(result.Applied, ", "))
		}
		return fmt.Errorf("migration failed: %w", err)
	}
	printMigrationResult(out, result)
	return nil
}

func printMigrationResult(w io.Writer, result *db.MigrationResult) {
	if len(result.Applied) == 0 {
		fmt.Fprintln(w, "No pending migrations.")
	} else {
		fmt.Fprintf(w, "Applied %d migration(s):\n", len(result.Applied))
		for _, v := range result.Applied {
			fmt.Fprintf(w, "  + %s\n", v)
		}
	}
	if len(result.Skipped) > 0 {
		fmt.Fprintf(w, "Skipped %d migration(s) (already applied)\n", len(result.Skipped))
	}
}

// runDbStatus executes the db status command.
func runDbStatus(ctx context.Context, deps *CommandDeps) error {
	format, err := parseOutputFormat(dbOutput)
	if err != nil {
		return err
	}

	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	pool, err := deps.ConnectToDB(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	status, err := db.GetMigrationStatus(ctx, pool, migrationFS)
	if err != nil {
		return fmt.Errorf("getting migration status: %w", err)
	}

	return outputMigrationStatus(deps.out(), format, status)
}

// outputMigrationStatus formats and outputs migration status.
func outputMigrationStatus(w io.Writer, format OutputFormat, status *db.MigrationStatus) error {
	if done, err := encode(w, format, status); done || err != nil {
		return err
	}

	section := func(title string, entries []db.MigrationStatusEntry) {
		if len(entries) == 0 {
			return
		}
		fmt.Fprintf(w, "%s (%d):\n", title, len(entries))
		for _, m := range entries {
			appliedAt := "-"
			if m.AppliedAt != nil {
				appliedAt = m.AppliedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "  %-8s %-40s %s\n", m.Version, truncate(m.Name, 40), appliedAt)
		}
		fmt.Fprintln(w)
	}

	section("Applied Migrations", status.Applied)
	section("Pending Migrations", status.Pending)
	section("Drift - applied but file missing", status.Drift)

	if len(status.Applied) == 0 && len(status.Pending) == 0 && len(status.Drift) == 0 {
		fmt.Fprintln(w, "No migrations found.")
		return nil
	}

	fmt.Fprintf(w, "Summary: %d applied, %d pending", len(status.Applied), len(status.Pending))
	if len(status.Drift) > 0 {
		fmt.Fprintf(w, ", %d drift", len(status.Drift))
	}
	fmt.Fprintln(w)
	return nil
}

// truncate truncates a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
