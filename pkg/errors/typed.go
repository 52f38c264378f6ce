package errors

import "fmt"

// InvalidTransitionError is returned when an event is not legal for the current
// state of a meeting's lifecycle. It always unwraps to ErrInvalidState.
type InvalidTransitionError struct {
	Event     string
	MeetingID int64
	State     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("event %s is not allowed for meeting %d in state %s", e.Event, e.MeetingID, e.State)
}

func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidState
}

// TaskCreationError is returned when an async job could not be dispatched
// as part of a lifecycle transition.
type TaskCreationError struct {
	Task      string
	MeetingID int64
	Cause     error
}

func (e *TaskCreationError) Error() string {
	return fmt.Sprintf("creating %s task for meeting %d: %v", e.Task, e.MeetingID, e.Cause)
}

func (e *TaskCreationError) Unwrap() error {
	return e.Cause
}

// ConnectionError is returned when the capture bot fails to join a meeting.
// Stage names the connection step that failed.
type ConnectionError struct {
	Stage     string
	MeetingID int64
	Cause     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("bot connection to meeting %d failed at %s: %v", e.MeetingID, e.Stage, e.Cause)
}

func (e *ConnectionError) Unwrap() error {
	return e.Cause
}
