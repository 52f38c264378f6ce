// Package observability provides tracing, metrics and the capture event feed
// the worker reports to.
package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Redis channels for capture events.
const (
	ChannelCaptureStarted   = "events.capture.started"
	ChannelCaptureCompleted = "events.capture.completed"
	ChannelCaptureFailed    = "events.capture.failed"
)

// CaptureEvent describes a capture session milestone.
type CaptureEvent struct {
	EventID      string    `json:"event_id"`
	MeetingID    int64     `json:"meeting_id"`
	RunID        string    `json:"run_id"`
	TraceID      string    `json:"trace_id,omitempty"`
	Platform     string    `json:"platform"`
	Stage        string    `json:"stage,omitempty"`
	ErrorCode    string    `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Retryable    bool      `json:"retryable"`
	DurationMs   int64     `json:"duration_ms,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewCaptureEvent creates an event for a meeting and run.
func NewCaptureEvent(meetingID int64, runID, platform string) *CaptureEvent {
	return &CaptureEvent{
		EventID:   uuid.New().String(),
		MeetingID: meetingID,
		RunID:     runID,
		Platform:  platform,
		Timestamp: time.Now(),
	}
}

// EventPublisher publishes events to a channel.
type EventPublisher interface {
	Publish(ctx context.Context, channel string, event interface{}) error
	Close() error
}

// RedisEventPublisher publishes JSON events through a Redis PUBLISH function.
type RedisEventPublisher struct {
	publish func(ctx context.Context, channel string, message interface{}) error
}

// NewRedisEventPublisher wraps a publish function, typically
// func(ctx, ch, msg) error { return client.Publish(ctx, ch, msg).Err() }.
func NewRedisEventPublisher(publishFn func(ctx context.Context, channel string, message interface{}) error) *RedisEventPublisher {
	return &RedisEventPublisher{publish: publishFn}
}

func (p *RedisEventPublisher) Publish(ctx context.Context, channel string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return p.publish(ctx, channel, data)
}

func (p *RedisEventPublisher) Close() error {
	return nil
}

// NoOpEventPublisher drops every event.
type NoOpEventPublisher struct{}

func (p *NoOpEventPublisher) Publish(ctx context.Context, channel string, event interface{}) error {
	return nil
}

func (p *NoOpEventPublisher) Close() error {
	return nil
}

// EventEmitter sends capture events to their channels.
type EventEmitter struct {
	publisher EventPublisher
}

// NewEventEmitter creates an emitter. A nil publisher drops events.
func NewEventEmitter(publisher EventPublisher) *EventEmitter {
	if publisher == nil {
		publisher = &NoOpEventPublisher{}
	}
	return &EventEmitter{publisher: publisher}
}

func (e *EventEmitter) EmitCaptureStarted(ctx context.Context, event *CaptureEvent) error {
	return e.publisher.Publish(ctx, ChannelCaptureStarted, event)
}

func (e *EventEmitter) EmitCaptureCompleted(ctx context.Context, event *CaptureEvent) error {
	return e.publisher.Publish(ctx, ChannelCaptureCompleted, event)
}

func (e *EventEmitter) EmitCaptureFailed(ctx context.Context, event *CaptureEvent) error {
	return e.publisher.Publish(ctx, ChannelCaptureFailed, event)
}

func (e *EventEmitter) Close() error {
	return e.publisher.Close()
}
