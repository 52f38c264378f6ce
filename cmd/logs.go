package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/meetcap/pkg/db"
	"github.com/otherjamesbrown/meetcap/pkg/logging"
)

// Logs command flags.
var (
	logsMeeting  int64
	logsService  string
	logsLevel    string
	logsSince    string
	logsUntil    string
	logsContains string
	logsLimit    int
	logsFollow   bool
	logsOutput   string
	logsNoColor  bool
)

// followInterval is how often --follow polls capture_logs.
var followInterval = 2 * time.Second

// NewLogsCommand creates the logs command.
func NewLogsCommand(deps *CommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View persisted worker logs",
		Long: `View warnings and errors persisted by capture workers.

Workers started with logging.persist_warnings write warn and error entries to
the capture_logs table. This command reads them back, filtered by meeting,
service, level, time range and content.

Examples:
  # Recent entries from all workers
  meetcap logs

  # Everything logged while capturing meeting 42
  meetcap logs --meeting 42 --since 24h

  # Only errors mentioning uploads
  meetcap logs --level error --contains upload

  # Follow new entries
  meetcap logs --follow`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogs(cmd.Context(), deps)
		},
	}

	cmd.Flags().Int64VarP(&logsMeeting, "meeting", "m", 0, "Filter by meeting ID")
	cmd.Flags().StringVarP(&logsService, "service", "s", "", "Filter by service name")
	cmd.Flags().StringVarP(&logsLevel, "level", "l", "", "Minimum log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&logsSince, "since", "15m", "Show logs since this time ago (e.g., 5m, 1h, 24h)")
	cmd.Flags().StringVar(&logsUntil, "until", "", "Show logs until this time ago")
	cmd.Flags().StringVarP(&logsContains, "contains", "c", "", "Filter logs containing this string")
	cmd.Flags().IntVarP(&logsLimit, "limit", "n", db.DefaultLogLimit, "Maximum number of log entries")
	cmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow logs in real-time")
	cmd.Flags().StringVarP(&logsOutput, "output", "o", "", "Output format: text, json, yaml")
	cmd.Flags().BoolVar(&logsNoColor, "no-color", false, "Disable colored output")

	return cmd
}

// logsFilter turns the command flags into a query filter.
func logsFilter(now time.Time) (db.LogFilter, error) {
	f := db.LogFilter{
		Service:  logsService,
		MinLevel: logging.Level(logsLevel),
		Contains: logsContains,
		Limit:    logsLimit,
	}
	if logsMeeting < 0 {
		return f, fmt.Errorf("invalid --meeting %d", logsMeeting)
	}
	if logsMeeting > 0 {
		id := logsMeeting
		f.MeetingID = &id
	}
	if logsSince != "" {
		d, err := time.ParseDuration(logsSince)
		if err != nil {
			return f, fmt.Errorf("invalid --since duration: %w", err)
		}
		f.Since = now.Add(-d)
	}
	if logsUntil != "" {
		d, err := time.ParseDuration(logsUntil)
		if err != nil {
			return f, fmt.Errorf("invalid --until duration: %w", err)
		}
		f.Until = now.Add(-d)
	}
	return f, nil
}

// runLogs executes the logs command.
func runLogs(ctx context.Context, deps *CommandDeps) error {
	format, err := parseOutputFormat(logsOutput)
	if err != nil {
		return err
	}
	filter, err := logsFilter(time.Now())
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

	out := deps.out()

	if logsFollow {
		return followLogs(ctx, out, pool, filter)
	}

	entries, err := db.ListLogs(ctx, pool, filter)
	if err != nil {
		return fmt.Errorf("fetching logs: %w", err)
	}
	// Oldest first reads naturally in a terminal.
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Timestamp.Before(entries[j].Timestamp) })

	return outputLogs(out, format, entries, filter.Limit)
}

// followLogs polls for entries newer than the last one printed.
func followLogs(ctx context.Context, out io.Writer, q db.Querier, filter db.LogFilter) error {
	fmt.Fprintln(out, "Following logs (press Ctrl+C to stop)...")
	fmt.Fprintln(out)

	filter.Since = time.Now()
	filter.Until = time.Time{}

	ticker := time.NewTicker(followInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "\nStopped following logs.")
			return nil
		case <-ticker.C:
		}

		entries, err := db.ListLogs(ctx, q, filter)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			return fmt.Errorf("fetching logs: %w", err)
		}
		for i := len(entries) - 1; i >= 0; i-- {
			outputLogEntry(out, entries[i], logsNoColor)
		}
		if len(entries) > 0 {
			filter.Since = entries[0].Timestamp.Add(time.Microsecond)
		}
	}
}

type logEntryView struct {
	Timestamp time.Time         `json:"timestamp" yaml:"timestamp"`
	Level     string            `json:"level" yaml:"level"`
	Service   string            `json:"service" yaml:"service"`
	Message   string            `json:"message" yaml:"message"`
	MeetingID *int64            `json:"meeting_id,omitempty" yaml:"meeting_id,omitempty"`
	Fields    map[string]string `json:"fields,omitempty" yaml:"fields,omitempty"`
	TraceID   string            `json:"trace_id,omitempty" yaml:"trace_id,omitempty"`
	Caller    string            `json:"caller,omitempty" yaml:"caller,omitempty"`
}

// outputLogs formats and outputs log entries.
func outputLogs(w io.Writer, format OutputFormat, entries []logging.LogEntry, limit int) error {
	views := make([]logEntryView, len(entries))
	for i, e := range entries {
		views[i] = logEntryView(e)
	}
	if done, err := encode(w, format, views); done || err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Fprintln(w, "No log entries found.")
		return nil
	}
	for _, e := range entries {
		outputLogEntry(w, e, logsNoColor)
	}
	if limit > 0 && len(entries) >= limit {
		fmt.Fprintf(w, "\n(Showing %d entries, use --limit to see more)\n", len(entries))
	}
	return nil
}

// outputLogEntry outputs a single log entry.
func outputLogEntry(w io.Writer, entry logging.LogEntry, noColor bool) {
	timestamp := entry.Timestamp.Format("15:04:05")
	levelStr := strings.ToUpper(entry.Level)

	if noColor {
		fmt.Fprintf(w, "%s [%-5s] %s: %s", timestamp, levelStr, entry.Service, entry.Message)
	} else {
		fmt.Fprintf(w, "\033[90m%s\033[0m %s%-5s\033[0m \033[36m%s\033[0m: %s",
			timestamp, logLevelColor(entry.Level), levelStr, entry.Service, entry.Message)
	}
	if entry.MeetingID != nil {
		fmt.Fprintf(w, " meeting=%d", *entry.MeetingID)
	}

	keys := make([]string, 0, len(entry.Fields))
	for k := range entry.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// Few fields stay on the line, many go underneath.
	if len(keys) > 0 && len(keys) <= 3 {
		pairs := make([]string, len(keys))
		for i, k := range keys {
			pairs[i] = k + "=" + entry.Fields[k]
		}
		fmt.Fprintf(w, " {%s}", strings.Join(pairs, ", "))
	}
	fmt.Fprintln(w)

	if len(keys) > 3 {
		for _, k := range keys {
			if noColor {
				fmt.Fprintf(w, "    %s=%s\n", k, entry.Fields[k])
			} else {
				fmt.Fprintf(w, "    \033[90m%s\033[0m=%s\n", k, entry.Fields[k])
			}
		}
	}
}

// logLevelColor returns the ANSI color code for a level.
func logLevelColor(level string) string {
	switch logging.Level(level) {
	case logging.LevelDebug:
		return "\033[90m" // Gray
	case logging.LevelInfo:
		return "\033[32m" // Green
	case logging.LevelWarn:
		return "\033[33m" // Yellow
	case logging.LevelError:
		return "\033[31m" // Red
	default:
		return ""
	}
}
