// Package jobs dispatches asynchronous transcription and report tasks to the
// processing workers through a Redis sorted-set queue.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Task names understood by the processing workers.
const (
	TaskTranscribe = "transcribe"
	TaskReport     = "report"
)

// Priority orders tasks within a queue. Higher is served first.
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
)

// ErrInvalidTask is returned for tasks without a name.
var ErrInvalidTask = errors.New("invalid task")

// Task is a named job with positional arguments.
type Task struct {
	Name     string
	Args     []any
	Priority Priority
}

// TranscribeTask builds the transcription job for a meeting.
func TranscribeTask(meetingID int64) Task {
	return Task{Name: TaskTranscribe, Args: []any{meetingID}, Priority: PriorityNormal}
}

// ReportTask builds the report job for a meeting and its transcription file.
func ReportTask(meetingID int64, transcriptionFilename string) Task {
	return Task{Name: TaskReport, Args: []any{meetingID, transcriptionFilename}, Priority: PriorityNormal}
}

// QueuedMessage is the envelope stored for each dispatched task.
type QueuedMessage struct {
	ID         string          `json:"id"`
	Task       string          `json:"task"`
	Args       json.RawMessage `json:"args"`
	Priority   Priority        `json:"priority"`
	RetryCount int             `json:"retry_count"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Dispatcher hands tasks to the processing workers.
type Dispatcher interface {
	Dispatch(ctx context.Context, task Task) (string, error)
}
