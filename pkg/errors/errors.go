// Package errors holds the error vocabulary shared by the capture worker and
// the lifecycle state machine.
//
// Sentinels describe the condition and are matched with errors.Is. The typed
// errors in typed.go carry the meeting and stage involved and unwrap to a
// sentinel, so callers can check either:
//
//	if mcerrors.IsInvalidState(err) {
//	    // event rejected for the meeting's current status
//	}
//
// Codes in codes.go give each failure a stable name for events and metrics.
package errors

import "errors"

var (
	// ErrNotFound: no meeting, user or object with that key.
	ErrNotFound = errors.New("not found")

	// ErrValidation: malformed input such as an unknown platform or status.
	ErrValidation = errors.New("validation error")

	// ErrUnauthorized: the core service refused the owner's identity.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidState: the event is not allowed from the current status.
	ErrInvalidState = errors.New("invalid state")

	// ErrTimeout: a bounded wait ran out of attempts or time.
	ErrTimeout = errors.New("timeout")
)

func IsNotFound(err error) bool     { return errors.Is(err, ErrNotFound) }
func IsValidation(err error) bool   { return errors.Is(err, ErrValidation) }
func IsInvalidState(err error) bool { return errors.Is(err, ErrInvalidState) }
func IsTimeout(err error) bool      { return errors.Is(err, ErrTimeout) }
