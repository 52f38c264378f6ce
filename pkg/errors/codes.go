package errors

// ErrorCode represents a classified capture failure.
type ErrorCode string

const (
	CodeTimeout            ErrorCode = "timeout"
	CodeContextCancelled   ErrorCode = "context_cancelled"
	CodeConnectionFailed   ErrorCode = "connection_failed"
	CodeInvalidTransition  ErrorCode = "invalid_transition"
	CodeTaskCreation       ErrorCode = "task_creation_failed"
	CodeNotFound           ErrorCode = "not_found"
	CodeServiceUnavailable ErrorCode = "service_unavailable"
	CodeBrowserCrashed     ErrorCode = "browser_crashed"
	CodeProcessingError    ErrorCode = "processing_error"
)

// ErrorCodeInfo contains metadata about an error code.
type ErrorCodeInfo struct {
	Code            ErrorCode
	Retryable       bool
	Description     string
	SuggestedAction string
}

// ErrorCodeRegistry maps error codes to their metadata.
var ErrorCodeRegistry = map[ErrorCode]ErrorCodeInfo{
	CodeTimeout: {
		Code:            CodeTimeout,
		Retryable:       true,
		Description:     "A bounded wait exhausted its attempts or deadline",
		SuggestedAction: "Inspect the uploaded trace: trace/<meeting-id>/trace.zip",
	},
	CodeContextCancelled: {
		Code:            CodeContextCancelled,
		Retryable:       false,
		Description:     "Operation cancelled by worker shutdown",
		SuggestedAction: "Check if the shutdown was intentional",
	},
	CodeConnectionFailed: {
		Code:            CodeConnectionFailed,
		Retryable:       true,
		Description:     "Capture bot could not join the meeting",
		SuggestedAction: "Inspect the uploaded trace and verify the meeting credentials",
	},
	CodeInvalidTransition: {
		Code:            CodeInvalidTransition,
		Retryable:       false,
		Description:     "Event is not legal for the meeting's current status",
		SuggestedAction: "Check the transition history: meetcap meeting status <meeting-id>",
	},
	CodeTaskCreation: {
		Code:            CodeTaskCreation,
		Retryable:       true,
		Description:     "Async job could not be dispatched",
		SuggestedAction: "Check the job queue connection (redis)",
	},
	CodeNotFound: {
		Code:            CodeNotFound,
		Retryable:       false,
		Description:     "Meeting or prerequisite artifact not found",
		SuggestedAction: "Verify the meeting exists and has a transcription artifact",
	},
	CodeServiceUnavailable: {
		Code:            CodeServiceUnavailable,
		Retryable:       true,
		Description:     "Orchestrator or storage service unavailable",
		SuggestedAction: "Check core service and blob store health",
	},
	CodeBrowserCrashed: {
		Code:            CodeBrowserCrashed,
		Retryable:       true,
		Description:     "Automated browser closed unexpectedly",
		SuggestedAction: "Check worker memory limits and browser installation",
	},
	CodeProcessingError: {
		Code:            CodeProcessingError,
		Retryable:       false,
		Description:     "Unclassified capture error",
		SuggestedAction: "Check worker logs for the meeting id",
	},
}

// IsRetryable returns true if the given error code represents a transient, retryable error.
func IsRetryable(code ErrorCode) bool {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.Retryable
	}
	return false
}

// GetSuggestedAction returns the suggested action for the given error code.
func GetSuggestedAction(code ErrorCode) string {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.SuggestedAction
	}
	return "Check worker logs for more details"
}

// GetDescription returns the human-readable description for the given error code.
func GetDescription(code ErrorCode) string {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.Description
	}
	return "Unknown error"
}
