// Package logging is the worker's zerolog wrapper. Every entry carries the
// service name; entries logged through WithContext also carry the meeting,
// capture run and trace ids. Warnings and errors can additionally be fanned
// out to sinks such as the capture_logs table.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// ContextKey type for context values to avoid collisions.
type ContextKey string

// Context keys for correlation information.
const (
	MeetingIDKey ContextKey = "meeting_id"
	RunIDKey     ContextKey = "run_id"
)

// Level represents logging severity levels.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level sets the minimum log level (debug, info, warn, error).
	Level Level

	// ServiceName is included in all log entries.
	ServiceName string

	// Environment is included in all log entries (e.g., "development", "production").
	Environment string

	// JSONFormat enables JSON output when true, human-readable when false.
	JSONFormat bool

	// Output sets the writer for logs (defaults to os.Stdout).
	Output io.Writer

	// Sinks are optional log sinks for async persistence.
	Sinks []Sink

	// SinkLevel is the minimum level forwarded to sinks (defaults to warn).
	SinkLevel Level
}

// DefaultConfig returns a Config with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Level:       LevelInfo,
		ServiceName: "meetcap",
		Environment: "development",
		JSONFormat:  false,
		Output:      os.Stdout,
		SinkLevel:   LevelWarn,
	}
}

// Logger is the interface for structured logging.
type Logger interface {
	// Debug logs a debug message with optional fields.
	Debug(msg string, fields ...Field)

	// Info logs an info message with optional fields.
	Info(msg string, fields ...Field)

	// Warn logs a warning message with optional fields.
	Warn(msg string, fields ...Field)

	// Error logs an error message with optional fields.
	Error(msg string, fields ...Field)

	// With returns a new Logger with the given fields attached to all subsequent logs.
	With(fields ...Field) Logger

	// WithContext returns a new Logger carrying the meeting, run and trace ids found in ctx.
	WithContext(ctx context.Context) Logger

	// Zerolog returns the underlying zerolog.Logger.
	Zerolog() zerolog.Logger
}

// Field represents a key-value pair for structured logging.
type Field struct {
	Key   string
	Value interface{}
}

// F creates a new Field with the given key and value.
func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Err creates a Field for an error.
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}

// MeetingID creates the meeting_id field used across the worker.
func MeetingID(id int64) Field {
	return Field{Key: string(MeetingIDKey), Value: id}
}

// logger implements the Logger interface using zerolog.
type logger struct {
	zl          zerolog.Logger
	serviceName string
	sinks       []Sink
	sinkLevel   zerolog.Level
	// base holds fields attached with With so sinks see them too.
	base []Field
}

// NewLogger creates a new Logger with the given configuration.
func NewLogger(cfg *Config) Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if !cfg.JSONFormat {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	zl := zerolog.New(output).
		Level(parseLevel(cfg.Level)).
		With().
		Timestamp().
		Str("service_name", cfg.ServiceName).
		Str("environment", cfg.Environment).
		Logger()

	sinkLevel := zerolog.WarnLevel
	if cfg.SinkLevel != "" {
		sinkLevel = parseLevel(cfg.SinkLevel)
	}

	return &logger{
		zl:          zl,
		serviceName: cfg.ServiceName,
		sinks:       cfg.Sinks,
		sinkLevel:   sinkLevel,
	}
}

func (l *logger) Zerolog() zerolog.Logger {
	return l.zl
}

// parseLevel converts Level to zerolog.Level.
func parseLevel(l Level) zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *logger) Debug(msg string, fields ...Field) {
	l.log(zerolog.DebugLevel, msg, fields)
}

func (l *logger) Info(msg string, fields ...Field) {
	l.log(zerolog.InfoLevel, msg, fields)
}

func (l *logger) Warn(msg string, fields ...Field) {
	l.log(zerolog.WarnLevel, msg, fields)
}

func (l *logger) Error(msg string, fields ...Field) {
	l.log(zerolog.ErrorLevel, msg, fields)
}

func (l *logger) log(level zerolog.Level, msg string, fields []Field) {
	l.zl.WithLevel(level).Fields(keyvals(fields)).Msg(msg)
	if level >= l.sinkLevel && level >= l.zl.GetLevel() {
		l.sendToSinks(level.String(), msg, fields)
	}
}

// With returns a new logger with additional fields.
func (l *logger) With(fields ...Field) Logger {
	zl := l.zl.With().Fields(keyvals(fields)).Logger()
	base := make([]Field, 0, len(l.base)+len(fields))
	base = append(base, l.base...)
	base = append(base, fields...)
	return &logger{
		zl:          zl,
		serviceName: l.serviceName,
		sinks:       l.sinks,
		sinkLevel:   l.sinkLevel,
		base:        base,
	}
}

// WithContext returns a new logger that includes correlation ids from ctx.
// The trace id comes from the active OpenTelemetry span, if any.
func (l *logger) WithContext(ctx context.Context) Logger {
	var fields []Field

	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		fields = append(fields, F("trace_id", sc.TraceID().String()))
	}
	if meetingID, ok := ctx.Value(MeetingIDKey).(int64); ok {
		fields = append(fields, MeetingID(meetingID))
	}
	if runID, ok := ctx.Value(RunIDKey).(string); ok && runID != "" {
		fields = append(fields, F(string(RunIDKey), runID))
	}

	if len(fields) == 0 {
		return l
	}
	return l.With(fields...)
}

// ContextWithMeeting returns a context carrying the meeting id and capture run id.
func ContextWithMeeting(ctx context.Context, meetingID int64, runID string) context.Context {
	ctx = context.WithValue(ctx, MeetingIDKey, meetingID)
	if runID != "" {
		ctx = context.WithValue(ctx, RunIDKey, runID)
	}
	return ctx
}

// keyvals flattens fields into the key/value list zerolog's Fields accepts,
// keeping their order.
func keyvals(fields []Field) []interface{} {
	kv := make([]interface{}, 0, 2*len(fields))
	for _, f := range fields {
		kv = append(kv, f.Key, f.Value)
	}
	return kv
}

// sendToSinks sends a log entry to all configured sinks.
func (l *logger) sendToSinks(level, msg string, fields []Field) {
	if len(l.sinks) == 0 {
		return
	}

	entry := LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Service:   l.serviceName,
		Message:   msg,
		Fields:    make(map[string]string, len(l.base)+len(fields)),
		Caller:    getCaller(4), // sendToSinks, log, Debug/Info/Warn/Error, caller
	}

	for _, f := range append(append([]Field{}, l.base...), fields...) {
		switch f.Key {
		case "trace_id":
			entry.TraceID = fmt.Sprint(f.Value)
		case string(MeetingIDKey):
			if id, ok := f.Value.(int64); ok {
				entry.MeetingID = &id
			}
		}
		entry.Fields[f.Key] = fmt.Sprint(f.Value)
	}

	for _, sink := range l.sinks {
		sink.Write(entry)
	}
}

// nopLogger is a logger that discards all output.
type nopLogger struct{}

func (n *nopLogger) Debug(msg string, fields ...Field)      {}
func (n *nopLogger) Info(msg string, fields ...Field)       {}
func (n *nopLogger) Warn(msg string, fields ...Field)       {}
func (n *nopLogger) Error(msg string, fields ...Field)      {}
func (n *nopLogger) With(fields ...Field) Logger            { return n }
func (n *nopLogger) WithContext(ctx context.Context) Logger { return n }
func (n *nopLogger) Zerolog() zerolog.Logger                { return zerolog.Nop() }

// NewNopLogger returns a logger that discards all output.
// Useful for testing when you don't want log noise.
func NewNopLogger() Logger {
	return &nopLogger{}
}
