package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// LogEntry is one persisted log line.
type LogEntry struct {
	Timestamp time.Time
	Level     string
	Service   string
	Message   string
	MeetingID *int64
	Fields    map[string]string
	TraceID   string
	Caller    string
}

// LogWriter persists batches of log entries.
type LogWriter interface {
	WriteBatch(ctx context.Context, entries []LogEntry) error
}

// Sink receives entries from a Logger.
type Sink interface {
	Write(entry LogEntry)
	Flush(ctx context.Context) error
	Close() error
}

// DBSinkConfig configures a DBSink. Zero values take the defaults noted.
type DBSinkConfig struct {
	Writer LogWriter
	// BufferSize is the queue capacity (1000).
	BufferSize int
	// BatchSize is the most entries handed to one WriteBatch call (100).
	BatchSize int
	// FlushInterval bounds how long an entry waits in a partial batch (2s).
	FlushInterval time.Duration
	// ErrorOutput receives the sink's own failures (stderr).
	ErrorOutput io.Writer
}

// DBSink batches entries on a background goroutine and hands them to a
// LogWriter. Write never blocks: when the queue is full the entry is
// counted as dropped and reported with the next batch.
type DBSink struct {
	writer       LogWriter
	queue        chan LogEntry
	flushes      chan chan error
	batchSize    int
	interval     time.Duration
	writeTimeout time.Duration
	errOut       io.Writer

	dropped atomic.Uint64

	mu      sync.RWMutex
	closed  bool
	stop    chan struct{}
	stopped chan struct{}
}

// NewDBSink starts a sink. It panics on a nil Writer.
func NewDBSink(cfg DBSinkConfig) *DBSink {
	if cfg.Writer == nil {
		panic("logging: DBSink requires a Writer")
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if cfg.ErrorOutput == nil {
		cfg.ErrorOutput = os.Stderr
	}

	s := &DBSink{
		writer:       cfg.Writer,
		queue:        make(chan LogEntry, cfg.BufferSize),
		flushes:      make(chan chan error),
		batchSize:    cfg.BatchSize,
		interval:     cfg.FlushInterval,
		writeTimeout: 5 * time.Second,
		errOut:       cfg.ErrorOutput,
		stop:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}
	go s.loop()
	return s
}

// Write queues entry. It is a no-op after Close.
func (s *DBSink) Write(entry LogEntry) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}

	select {
	case s.queue <- entry:
	default:
		s.dropped.Add(1)
	}
}

// Dropped returns how many entries were discarded because the queue was full.
func (s *DBSink) Dropped() uint64 {
	return s.dropped.Load()
}

// Flush writes everything queued before the call and returns the writer's
// error, if any.
func (s *DBSink) Flush(ctx context.Context) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil
	}

	reply := make(chan error, 1)
	select {
	case s.flushes <- reply:
	case <-s.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains the queue, writes the final batch and stops the goroutine.
func (s *DBSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stop)
	<-s.stopped
	return nil
}

func (s *DBSink) loop() {
	defer close(s.stopped)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	batch := make([]LogEntry, 0, s.batchSize)
	var reported uint64

	write := func() error {
		if n := s.dropped.Load(); n > reported {
			fmt.Fprintf(s.errOut, "[DBSink] %d log entries dropped, queue full\n", n-reported)
			reported = n
		}
		if len(batch) == 0 {
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
		err := s.writer.WriteBatch(ctx, batch)
		cancel()
		if err != nil {
			fmt.Fprintf(s.errOut, "[DBSink] failed to write %d entries: %v\n", len(batch), err)
		}
		batch = batch[:0]
		return err
	}

	push := func(e LogEntry) error {
		batch = append(batch, e)
		if len(batch) < s.batchSize {
			return nil
		}
		return write()
	}

	// drain moves whatever is already queued into batches.
	drain := func() error {
		var firstErr error
		for n := len(s.queue); n > 0; n-- {
			if err := push(<-s.queue); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if err := write(); err != nil && firstErr == nil {
			firstErr = err
		}
		return firstErr
	}

	for {
		select {
		case e := <-s.queue:
			_ = push(e)
		case <-ticker.C:
			_ = write()
		case reply := <-s.flushes:
			reply <- drain()
		case <-s.stop:
			_ = drain()
			return
		}
	}
}

// getCaller returns file:line of the frame skip levels up.
func getCaller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return ""
	}
	return filepath.Base(file) + ":" + strconv.Itoa(line)
}
