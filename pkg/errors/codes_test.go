package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allCodes = []ErrorCode{
	CodeTimeout,
	CodeContextCancelled,
	CodeConnectionFailed,
	CodeInvalidTransition,
	CodeTaskCreation,
	CodeNotFound,
	CodeServiceUnavailable,
	CodeBrowserCrashed,
	CodeProcessingError,
}

func TestErrorCodeRegistry_Completeness(t *testing.T) {
	for _, code := range allCodes {
		t.Run(string(code), func(t *testing.T) {
			info, ok := ErrorCodeRegistry[code]
			assert.True(t, ok, "ErrorCode %s should be in registry", code)
			assert.Equal(t, code, info.Code, "Registry entry should have matching code")
			assert.NotEmpty(t, info.Description)
			assert.NotEmpty(t, info.SuggestedAction)
		})
	}
	assert.Len(t, ErrorCodeRegistry, len(allCodes))
}

func TestIsRetryable_ErrorCode(t *testing.T) {
	assert.True(t, IsRetryable(CodeTimeout))
	assert.True(t, IsRetryable(CodeConnectionFailed))
	assert.False(t, IsRetryable(CodeInvalidTransition))
	assert.False(t, IsRetryable(ErrorCode("unknown")))
}

func TestGetSuggestedAction_Unknown(t *testing.T) {
	assert.Equal(t, "Check worker logs for more details", GetSuggestedAction("nope"))
	assert.Equal(t, "Unknown error", GetDescription("nope"))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"cancelled", fmt.Errorf("poll: %w", context.Canceled), CodeContextCancelled},
		{"deadline", context.DeadlineExceeded, CodeTimeout},
		{"bounded retry", &ConnectionError{Stage: "webrtc", Cause: fmt.Errorf("no stream: %w", ErrTimeout)}, CodeTimeout},
		{"connection", &ConnectionError{Stage: "join", Cause: errors.New("selector missing")}, CodeConnectionFailed},
		{"transition", fmt.Errorf("apply: %w", &InvalidTransitionError{Event: "E"}), CodeInvalidTransition},
		{"task", &TaskCreationError{Task: "transcribe", Cause: errors.New("x")}, CodeTaskCreation},
		{"not found", fmt.Errorf("meeting 3: %w", ErrNotFound), CodeNotFound},
		{"browser", errors.New("Target closed"), CodeBrowserCrashed},
		{"unavailable", errors.New("dial tcp: connection refused"), CodeServiceUnavailable},
		{"fallback", errors.New("weird"), CodeProcessingError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce := Classify(tt.err, "session")
			require.NotNil(t, ce)
			assert.Equal(t, tt.want, ce.Code)
			assert.ErrorIs(t, ce, tt.err)
		})
	}
}

func TestClassify_NilAndStage(t *testing.T) {
	assert.Nil(t, Classify(nil, "x"))

	ce := Classify(&ConnectionError{Stage: "set_bot_name", Cause: errors.New("boom")}, "")
	assert.Equal(t, "set_bot_name", ce.Stage)
	assert.Contains(t, ce.Error(), "connection_failed: set_bot_name")
}

func TestIsErrorRetryable(t *testing.T) {
	assert.True(t, IsErrorRetryable(&ConnectionError{Cause: errors.New("x")}))
	assert.False(t, IsErrorRetryable(&InvalidTransitionError{}))
	assert.False(t, IsErrorRetryable(nil))
}
