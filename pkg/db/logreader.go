package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/otherjamesbrown/meetcap/pkg/logging"
)

// DefaultLogLimit caps ListLogs when the filter sets no limit.
const DefaultLogLimit = 100

// LogFilter narrows a capture_logs query. Zero values match everything.
type LogFilter struct {
	MeetingID *int64
	Service   string
	// MinLevel keeps entries at or above this level.
	MinLevel logging.Level
	Since    time.Time
	Until    time.Time
	Contains string
	Limit    int
}

var levelOrder = []logging.Level{logging.LevelDebug, logging.LevelInfo, logging.LevelWarn, logging.LevelError}

// levelsFrom returns min and every level above it.
func levelsFrom(min logging.Level) ([]string, error) {
	for i, l := range levelOrder {
		if l == min {
			out := make([]string, 0, len(levelOrder)-i)
			for _, above := range levelOrder[i:] {
				out = append(out, string(above))
			}
			return out, nil
		}
	}
	return nil, fmt.Errorf("invalid log level %q (must be debug, info, warn, or error)", min)
}

func buildLogQuery(f LogFilter) (string, []any, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if f.MeetingID != nil {
		add("meeting_id = $%d", *f.MeetingID)
	}
	if f.Service != "" {
		add("service = $%d", f.Service)
	}
	if f.MinLevel != "" {
		levels, err := levelsFrom(f.MinLevel)
		if err != nil {
			return "", nil, err
		}
		add("level = ANY($%d)", levels)
	}
	if !f.Since.IsZero() {
		add("logged_at >= $%d", f.Since)
	}
	if !f.Until.IsZero() {
		add("logged_at <= $%d", f.Until)
	}
	if f.Contains != "" {
		add("message ILIKE '%%' || $%d || '%%'", f.Contains)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLogLimit
	}

	var b strings.Builder
	b.WriteString("SELECT logged_at, level, service, message, meeting_id, COALESCE(trace_id, ''), COALESCE(caller, ''), fields FROM capture_logs")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	args = append(args, limit)
	fmt.Fprintf(&b, " ORDER BY logged_at DESC, id DESC LIMIT $%d", len(args))

	return b.String(), args, nil
}

// ListLogs returns the newest capture_logs entries matching f, newest first.
func ListLogs(ctx context.Context, q Querier, f LogFilter) ([]logging.LogEntry, error) {
	sql, args, err := buildLogQuery(f)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query capture logs: %w", err)
	}
	defer rows.Close()

	var entries []logging.LogEntry
	for rows.Next() {
		var (
			e      logging.LogEntry
			fields []byte
		)
		if err := rows.Scan(&e.Timestamp, &e.Level, &e.Service, &e.Message, &e.MeetingID, &e.TraceID, &e.Caller, &fields); err != nil {
			return nil, fmt.Errorf("failed to scan capture log: %w", err)
		}
		if len(fields) > 0 {
			if err := json.Unmarshal(fields, &e.Fields); err != nil {
				return nil, fmt.Errorf("failed to decode log fields: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
