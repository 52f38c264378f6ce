// Package main provides the meetcap entry point.
// meetcap runs the meeting capture bot: it claims meetings waiting for a
// recorder, joins them with an automated browser and hands the audio over to
// transcription.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/meetcap/cmd"
	"github.com/otherjamesbrown/meetcap/config"
	"github.com/otherjamesbrown/meetcap/pkg/logging"
)

// Global flags.
var (
	cfgFile  string
	logLevel string
	logJSON  bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "meetcap",
	Short: "Meeting capture bot",
	Long: `meetcap joins online meetings with an automated browser, records their
audio in chunks to object storage and drives each meeting through its
capture, transcription and report lifecycle.

COMMON WORKFLOWS:
  Run the worker:      meetcap run
  Cron / k8s job:      meetcap once
  Prepare a database:  meetcap db migrate
  Inspect a meeting:   meetcap meeting status <id>

CONFIGURATION:
  Settings come from meetcap.yaml (or --config / $MEETCAP_CONFIG), then a
  .env file, then MEETCAP_* and DB_* environment variables.`,
	SilenceUsage: true,
}

// loadConfig loads the configuration and applies the global flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logging.Level(logLevel)
	}
	if rootCmd.PersistentFlags().Changed("log-json") {
		cfg.Logging.JSON = logJSON
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func init() {
	deps := cmd.DefaultDeps("")
	deps.LoadConfig = loadConfig

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file (default $MEETCAP_CONFIG or ./meetcap.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Write logs as JSON")

	rootCmd.AddCommand(cmd.NewRunCommand(deps))
	rootCmd.AddCommand(cmd.NewOnceCommand(deps))
	rootCmd.AddCommand(cmd.NewDbCommand(deps))
	rootCmd.AddCommand(cmd.NewMeetingCommand(deps))
	rootCmd.AddCommand(cmd.NewVersionCommand(deps))
	rootCmd.AddCommand(cmd.NewLogsCommand(deps))
	rootCmd.AddCommand(cmd.NewHealthCommand(deps))
}

func main() {
	// Set up signal handling for graceful shutdown. The first signal stops
	// claiming and lets an in-flight capture finalize; the second exits.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "Received interrupt signal, finishing current capture...")
		cancel()
		<-sigChan
		fmt.Fprintln(os.Stderr, "Received second interrupt signal, exiting")
		os.Exit(1)
	}()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
