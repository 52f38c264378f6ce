// Package meeting defines the meeting entity, its closed enumerations and the
// repository the capture worker and lifecycle state machine read and write.
package meeting

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the persisted lifecycle status of a meeting.
type Status string

const (
	StatusNone                       Status = "NONE"
	StatusCapturePending             Status = "CAPTURE_PENDING"
	StatusImportPending              Status = "IMPORT_PENDING"
	StatusCaptureBotIsConnecting     Status = "CAPTURE_BOT_IS_CONNECTING"
	StatusCaptureBotConnectionFailed Status = "CAPTURE_BOT_CONNECTION_FAILED"
	StatusCaptureInProgress          Status = "CAPTURE_IN_PROGRESS"
	StatusCaptureDone                Status = "CAPTURE_DONE"
	StatusCaptureFailed              Status = "CAPTURE_FAILED"
	StatusTranscriptionPending       Status = "TRANSCRIPTION_PENDING"
	StatusTranscriptionInProgress    Status = "TRANSCRIPTION_IN_PROGRESS"
	StatusTranscriptionDone          Status = "TRANSCRIPTION_DONE"
	StatusTranscriptionFailed        Status = "TRANSCRIPTION_FAILED"
	StatusReportPending              Status = "REPORT_PENDING"
	StatusReportDone                 Status = "REPORT_DONE"
	StatusReportFailed               Status = "REPORT_FAILED"
	StatusDeleted                    Status = "DELETED"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusNone,
	StatusCapturePending,
	StatusImportPending,
	StatusCaptureBotIsConnecting,
	StatusCaptureBotConnectionFailed,
	StatusCaptureInProgress,
	StatusCaptureDone,
	StatusCaptureFailed,
	StatusTranscriptionPending,
	StatusTranscriptionInProgress,
	StatusTranscriptionDone,
	StatusTranscriptionFailed,
	StatusReportPending,
	StatusReportDone,
	StatusReportFailed,
	StatusDeleted,
}

// ParseStatus converts a persisted string into a Status.
func ParseStatus(s string) (Status, error) {
	for _, st := range AllStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown meeting status %q", s)
}

func (s Status) String() string { return string(s) }

// Platform identifies where a meeting takes place or how its audio arrives.
type Platform string

const (
	PlatformComu      Platform = "COMU"
	PlatformWebinaire Platform = "WEBINAIRE"
	PlatformWebconf   Platform = "WEBCONF"
	PlatformVisio     Platform = "VISIO"
	PlatformImport    Platform = "MCR_IMPORT"
	PlatformRecord    Platform = "MCR_RECORD"
)

// AllPlatforms lists every supported platform.
var AllPlatforms = []Platform{
	PlatformComu,
	PlatformWebinaire,
	PlatformWebconf,
	PlatformVisio,
	PlatformImport,
	PlatformRecord,
}

// ParsePlatform converts a persisted string into a Platform.
func ParsePlatform(s string) (Platform, error) {
	for _, p := range AllPlatforms {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown meeting platform %q", s)
}

func (p Platform) String() string { return string(p) }

// Origin groups platforms by how a meeting's audio is obtained.
type Origin string

const (
	OriginLiveBot Origin = "live_bot"
	OriginRecord  Origin = "record"
	OriginImport  Origin = "import"
)

// Origin returns how audio is obtained for the platform.
// Unknown platforms have no origin.
func (p Platform) Origin() (Origin, bool) {
	switch p {
	case PlatformComu, PlatformWebinaire, PlatformWebconf, PlatformVisio:
		return OriginLiveBot, true
	case PlatformRecord:
		return OriginRecord, true
	case PlatformImport:
		return OriginImport, true
	default:
		return "", false
	}
}

// Event drives a meeting from one status to the next.
type Event string

const (
	EventInitCapture           Event = "INIT_CAPTURE"
	EventStartCapture          Event = "START_CAPTURE"
	EventStartCaptureBot       Event = "START_CAPTURE_BOT"
	EventCompleteCapture       Event = "COMPLETE_CAPTURE"
	EventFailCaptureBot        Event = "FAIL_CAPTURE_BOT"
	EventFailCapture           Event = "FAIL_CAPTURE"
	EventInitTranscription     Event = "INIT_TRANSCRIPTION"
	EventStartTranscription    Event = "START_TRANSCRIPTION"
	EventCompleteTranscription Event = "COMPLETE_TRANSCRIPTION"
	EventFailTranscription     Event = "FAIL_TRANSCRIPTION"
	EventStartReport           Event = "START_REPORT"
	EventCompleteReport        Event = "COMPLETE_REPORT"
	EventFailReport            Event = "FAIL_REPORT"
)

// AllEvents lists every lifecycle event.
var AllEvents = []Event{
	EventInitCapture,
	EventStartCapture,
	EventStartCaptureBot,
	EventCompleteCapture,
	EventFailCaptureBot,
	EventFailCapture,
	EventInitTranscription,
	EventStartTranscription,
	EventCompleteTranscription,
	EventFailTranscription,
	EventStartReport,
	EventCompleteReport,
	EventFailReport,
}

// ParseEvent converts a string into an Event.
func ParseEvent(s string) (Event, error) {
	for _, e := range AllEvents {
		if string(e) == s {
			return e, nil
		}
	}
	return "", fmt.Errorf("unknown meeting event %q", s)
}

func (e Event) String() string { return string(e) }

// Owner is the user a meeting belongs to.
type Owner struct {
	ID           int64
	KeycloakUUID uuid.UUID
	Email        string
	FirstName    string
	LastName     string
}

// Meeting is a meeting row joined with its owner.
type Meeting struct {
	ID                    int64
	Name                  string
	URL                   string
	Platform              Platform
	PlatformMeetingID     string
	Password              string
	Status                Status
	CreationDate          *time.Time
	StartDate             *time.Time
	EndDate               *time.Time
	TranscriptionFilename string
	ReportFilename        string
	Owner                 Owner
}

// UsesPassword reports whether the meeting is joined with a numeric id and
// passcode rather than a URL.
func (m *Meeting) UsesPassword() bool {
	return m.URL == "" && m.PlatformMeetingID != "" && m.Password != ""
}

// DurationMinutes returns the captured duration, or false when either bound is missing.
func (m *Meeting) DurationMinutes() (int, bool) {
	if m.StartDate == nil || m.EndDate == nil {
		return 0, false
	}
	return int(m.EndDate.Sub(*m.StartDate) / time.Minute), true
}

type ownerKey struct{}

// ContextWithOwner attaches the meeting owner to ctx. Transports that act on
// behalf of the owner read it back with OwnerFromContext.
func ContextWithOwner(ctx context.Context, owner Owner) context.Context {
	return context.WithValue(ctx, ownerKey{}, owner)
}

// OwnerFromContext returns the owner attached by ContextWithOwner.
func OwnerFromContext(ctx context.Context) (Owner, bool) {
	o, ok := ctx.Value(ownerKey{}).(Owner)
	return o, ok
}
