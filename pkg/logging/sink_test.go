package logging

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// mockLogWriter is a test implementation of LogWriter.
type mockLogWriter struct {
	mu      sync.Mutex
	batches [][]LogEntry
	err     error
}

func (m *mockLogWriter) WriteBatch(ctx context.Context, entries []LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}

	batch := make([]LogEntry, len(entries))
	copy(batch, entries)
	m.batches = append(m.batches, batch)

	return nil
}

func (m *mockLogWriter) Entries() []LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []LogEntry
	for _, batch := range m.batches {
		all = append(all, batch...)
	}
	return all
}

func TestDBSink_FlushWritesEverythingQueued(t *testing.T) {
	writer := &mockLogWriter{}
	sink := NewDBSink(DBSinkConfig{
		Writer:        writer,
		BufferSize:    100,
		BatchSize:     10,
		FlushInterval: time.Hour,
	})
	defer sink.Close()

	for i := 0; i < 25; i++ {
		sink.Write(LogEntry{Timestamp: time.Now(), Level: "warn", Message: "chunk upload failed"})
	}

	if err := sink.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	if got := len(writer.Entries()); got != 25 {
		t.Errorf("expected 25 entries after flush, got %d", got)
	}
}

func TestDBSink_PeriodicFlush(t *testing.T) {
	writer := &mockLogWriter{}
	sink := NewDBSink(DBSinkConfig{
		Writer:        writer,
		BufferSize:    100,
		BatchSize:     100,
		FlushInterval: 50 * time.Millisecond,
	})
	defer sink.Close()

	sink.Write(LogEntry{Level: "error", Message: "bot connection failed"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(writer.Entries()) == 0 {
		time.Sleep(10 * time.Millisecond)
	}

	if got := len(writer.Entries()); got != 1 {
		t.Errorf("expected periodic flush to write 1 entry, got %d", got)
	}
}

func TestDBSink_CloseDrains(t *testing.T) {
	writer := &mockLogWriter{}
	sink := NewDBSink(DBSinkConfig{
		Writer:        writer,
		BufferSize:    100,
		BatchSize:     50,
		FlushInterval: time.Hour,
	})

	for i := 0; i < 7; i++ {
		sink.Write(LogEntry{Message: "pending"})
	}

	if err := sink.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if got := len(writer.Entries()); got != 7 {
		t.Errorf("expected close to drain 7 entries, got %d", got)
	}

	// Writes after close are ignored and a second close is a no-op.
	sink.Write(LogEntry{Message: "late"})
	if err := sink.Close(); err != nil {
		t.Errorf("second Close returned %v", err)
	}
	if err := sink.Flush(context.Background()); err != nil {
		t.Errorf("Flush after close returned %v", err)
	}
}

func TestDBSink_WriterErrorSurfacesFromFlush(t *testing.T) {
	writer := &mockLogWriter{err: errors.New("db unavailable")}
	sink := NewDBSink(DBSinkConfig{Writer: writer, FlushInterval: time.Hour})
	defer sink.Close()

	sink.Write(LogEntry{Message: "x"})

	if err := sink.Flush(context.Background()); err == nil {
		t.Error("expected flush to return the writer error")
	}
}

func TestDBSink_ConcurrentWrites(t *testing.T) {
	writer := &mockLogWriter{}
	sink := NewDBSink(DBSinkConfig{Writer: writer, BufferSize: 1000, BatchSize: 20, FlushInterval: time.Hour})

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				sink.Write(LogEntry{Message: "concurrent"})
			}
		}()
	}
	wg.Wait()
	sink.Close()

	if got := len(writer.Entries()); got != 500 {
		t.Errorf("expected 500 entries, got %d", got)
	}
}

func TestLogger_ForwardsToSinkAtSinkLevel(t *testing.T) {
	writer := &mockLogWriter{}
	sink := NewDBSink(DBSinkConfig{Writer: writer, FlushInterval: time.Hour})
	defer sink.Close()

	log := NewLogger(&Config{
		Level:      LevelDebug,
		JSONFormat: true,
		Output:     &bytes.Buffer{},
		Sinks:      []Sink{sink},
		SinkLevel:  LevelWarn,
	}).With(MeetingID(42), F("component", "capture_session"))

	log.Info("polling status")
	log.Warn("participant count unavailable", F("platform", "COMU"))

	if err := sink.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	entries := writer.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected only the warn entry to reach the sink, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != "warn" {
		t.Errorf("expected level warn, got %s", entry.Level)
	}
	if entry.MeetingID == nil || *entry.MeetingID != 42 {
		t.Errorf("expected meeting id 42 on the entry, got %v", entry.MeetingID)
	}
	if entry.Fields["component"] != "capture_session" || entry.Fields["platform"] != "COMU" {
		t.Errorf("expected base and call fields to be preserved, got %v", entry.Fields)
	}
	if entry.Caller == "" {
		t.Error("expected caller to be recorded")
	}
}

// blockingWriter holds every WriteBatch until release is closed.
type blockingWriter struct {
	mockLogWriter
	release chan struct{}
}

func (b *blockingWriter) WriteBatch(ctx context.Context, entries []LogEntry) error {
	<-b.release
	return b.mockLogWriter.WriteBatch(ctx, entries)
}

func TestDBSink_CountsDroppedEntries(t *testing.T) {
	writer := &blockingWriter{release: make(chan struct{})}
	var errOut bytes.Buffer
	sink := NewDBSink(DBSinkConfig{
		Writer:        writer,
		BufferSize:    2,
		BatchSize:     1,
		FlushInterval: time.Hour,
		ErrorOutput:   &errOut,
	})

	// The first entry is taken by the loop and blocks in WriteBatch; two more
	// fill the queue and the rest are dropped.
	for i := 0; i < 10; i++ {
		sink.Write(LogEntry{Message: "burst"})
		time.Sleep(time.Millisecond)
	}

	if sink.Dropped() == 0 {
		t.Fatal("expected dropped entries once the queue was full")
	}
	dropped := sink.Dropped()

	close(writer.release)
	sink.Close()

	if got := uint64(len(writer.Entries())) + dropped; got != 10 {
		t.Errorf("written + dropped = %d, want 10", got)
	}
}
