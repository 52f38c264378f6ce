package lifecycle

import (
	"context"

	"github.com/otherjamesbrown/meetcap/pkg/meeting"
)

// LocalTransitions reports capture progress by applying events in process,
// for deployments where the worker owns the meeting database.
type LocalTransitions struct {
	orchestrator *Orchestrator
}

// NewLocalTransitions wraps an orchestrator.
func NewLocalTransitions(o *Orchestrator) *LocalTransitions {
	return &LocalTransitions{orchestrator: o}
}

func (l *LocalTransitions) StartCaptureBot(ctx context.Context, meetingID int64) error {
	return l.fire(ctx, meetingID, meeting.EventStartCaptureBot)
}

func (l *LocalTransitions) EndCapture(ctx context.Context, meetingID int64) error {
	return l.fire(ctx, meetingID, meeting.EventCompleteCapture)
}

func (l *LocalTransitions) FailCaptureBot(ctx context.Context, meetingID int64) error {
	return l.fire(ctx, meetingID, meeting.EventFailCaptureBot)
}

func (l *LocalTransitions) FailCapture(ctx context.Context, meetingID int64) error {
	return l.fire(ctx, meetingID, meeting.EventFailCapture)
}

func (l *LocalTransitions) InitTranscription(ctx context.Context, meetingID int64) error {
	return l.fire(ctx, meetingID, meeting.EventInitTranscription)
}

func (l *LocalTransitions) fire(ctx context.Context, meetingID int64, event meeting.Event) error {
	_, err := l.orchestrator.Apply(ctx, meetingID, event)
	return err
}
