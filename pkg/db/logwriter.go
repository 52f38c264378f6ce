package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/otherjamesbrown/meetcap/pkg/logging"
)

// copier is satisfied by *pgxpool.Pool and pgx.Tx.
type copier interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// LogWriter persists log entries to the capture_logs table.
// It implements logging.LogWriter for use with logging.DBSink.
type LogWriter struct {
	conn copier
}

var _ logging.LogWriter = (*LogWriter)(nil)

// NewLogWriter creates a LogWriter on top of a pool or transaction.
func NewLogWriter(conn copier) *LogWriter {
	return &LogWriter{conn: conn}
}

var logColumns = []string{"logged_at", "level", "service", "message", "meeting_id", "trace_id", "caller", "fields"}

// WriteBatch copies entries into capture_logs in a single round trip.
func (w *LogWriter) WriteBatch(ctx context.Context, entries []logging.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	_, err := w.conn.CopyFrom(ctx, pgx.Identifier{"capture_logs"}, logColumns,
		pgx.CopyFromSlice(len(entries), func(i int) ([]any, error) {
			e := entries[i]
			fields, err := json.Marshal(e.Fields)
			if err != nil {
				return nil, err
			}
			return []any{e.Timestamp, e.Level, e.Service, e.Message, e.MeetingID, e.TraceID, e.Caller, fields}, nil
		}))
	if err != nil {
		return fmt.Errorf("failed to copy %d log entries: %w", len(entries), err)
	}
	return nil
}
