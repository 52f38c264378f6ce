package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// CaptureError is a classified error for a failed capture run.
type CaptureError struct {
	Code    ErrorCode
	Stage   string
	Message string
	Cause   error
}

func (e *CaptureError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CaptureError) Unwrap() error {
	return e.Cause
}

// Classify inspects an error and returns a *CaptureError with the appropriate code.
// If the error doesn't match any known pattern, the code is CodeProcessingError.
func Classify(err error, stage string) *CaptureError {
	if err == nil {
		return nil
	}

	ce := &CaptureError{
		Stage:   stage,
		Message: err.Error(),
		Cause:   err,
	}

	var (
		connErr  *ConnectionError
		transErr *InvalidTransitionError
		taskErr  *TaskCreationError
	)

	switch {
	case errors.Is(err, context.Canceled):
		ce.Code = CodeContextCancelled
	case errors.As(err, &transErr):
		ce.Code = CodeInvalidTransition
	case errors.As(err, &taskErr):
		ce.Code = CodeTaskCreation
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		ce.Code = CodeTimeout
	case errors.As(err, &connErr):
		ce.Code = CodeConnectionFailed
		if ce.Stage == "" {
			ce.Stage = connErr.Stage
		}
	case errors.Is(err, ErrNotFound):
		ce.Code = CodeNotFound
	default:
		ce.Code = classifyMessage(strings.ToLower(err.Error()))
	}

	return ce
}

func classifyMessage(lower string) ErrorCode {
	switch {
	case strings.Contains(lower, "target closed"), strings.Contains(lower, "browser has been closed"):
		return CodeBrowserCrashed
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "timed out"):
		return CodeTimeout
	case strings.Contains(lower, "connection refused"), strings.Contains(lower, "503"),
		strings.Contains(lower, "service unavailable"), strings.Contains(lower, "no such host"):
		return CodeServiceUnavailable
	default:
		return CodeProcessingError
	}
}

// IsErrorRetryable returns true if the error is likely transient and worth retrying.
func IsErrorRetryable(err error) bool {
	var ce *CaptureError
	if !errors.As(err, &ce) {
		ce = Classify(err, "")
	}
	if ce == nil {
		return false
	}
	return IsRetryable(ce.Code)
}
