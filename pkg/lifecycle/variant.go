// Package lifecycle implements the meeting lifecycle state machine: three
// transition tables chosen by platform, reconstruction from the persisted
// status, and the side effects each transition runs once it is accepted.
package lifecycle

import (
	"errors"
	"fmt"

	mcerrors "github.com/otherjamesbrown/meetcap/pkg/errors"
	"github.com/otherjamesbrown/meetcap/pkg/meeting"
)

var (
	// ErrUnknownPlatform is returned when no variant serves a platform.
	ErrUnknownPlatform = errors.New("no lifecycle variant for platform")

	// ErrUnknownState is returned when a persisted status is not a state of the variant.
	ErrUnknownState = errors.New("status is not a state of the lifecycle variant")
)

// edge is one row of a transition table.
type edge struct {
	event meeting.Event
	from  []meeting.Status
	to    meeting.Status
}

// Variant is one transition table of the lifecycle.
type Variant struct {
	name        string
	initial     meeting.Status
	states      map[meeting.Status]bool
	transitions map[meeting.Event]map[meeting.Status]meeting.Status
}

func newVariant(name string, initial meeting.Status, edges ...[]edge) *Variant {
	v := &Variant{
		name:        name,
		initial:     initial,
		states:      map[meeting.Status]bool{initial: true},
		transitions: make(map[meeting.Event]map[meeting.Status]meeting.Status),
	}
	for _, group := range edges {
		for _, e := range group {
			if v.transitions[e.event] == nil {
				v.transitions[e.event] = make(map[meeting.Status]meeting.Status)
			}
			for _, from := range e.from {
				v.transitions[e.event][from] = e.to
				v.states[from] = true
			}
			v.states[e.to] = true
		}
	}
	return v
}

var sharedTail = []edge{
	{meeting.EventStartTranscription, []meeting.Status{meeting.StatusTranscriptionPending}, meeting.StatusTranscriptionInProgress},
	{meeting.EventCompleteTranscription, []meeting.Status{
		meeting.StatusTranscriptionInProgress,
		meeting.StatusTranscriptionDone,
		meeting.StatusReportDone,
	}, meeting.StatusTranscriptionDone},
	{meeting.EventFailTranscription, []meeting.Status{
		meeting.StatusTranscriptionPending,
		meeting.StatusTranscriptionInProgress,
	}, meeting.StatusTranscriptionFailed},
	{meeting.EventStartReport, []meeting.Status{
		meeting.StatusTranscriptionDone,
		meeting.StatusReportFailed,
	}, meeting.StatusReportPending},
	{meeting.EventCompleteReport, []meeting.Status{meeting.StatusReportPending}, meeting.StatusReportDone},
	{meeting.EventFailReport, []meeting.Status{meeting.StatusReportPending}, meeting.StatusReportFailed},
}

var (
	// RecordVariant serves pre-recorded audio uploaded by the owner.
	RecordVariant = newVariant("record", meeting.StatusCaptureInProgress, []edge{
		{meeting.EventFailCapture, []meeting.Status{meeting.StatusCaptureInProgress}, meeting.StatusCaptureFailed},
		{meeting.EventInitTranscription, []meeting.Status{
			meeting.StatusCaptureInProgress,
			meeting.StatusCaptureFailed,
			meeting.StatusTranscriptionFailed,
		}, meeting.StatusTranscriptionPending},
	}, sharedTail)

	// LiveBotVariant serves meetings the capture bot joins.
	LiveBotVariant = newVariant("live_bot", meeting.StatusNone, []edge{
		{meeting.EventInitCapture, []meeting.Status{meeting.StatusNone}, meeting.StatusCapturePending},
		{meeting.EventStartCapture, []meeting.Status{meeting.StatusCapturePending}, meeting.StatusCaptureBotIsConnecting},
		{meeting.EventStartCaptureBot, []meeting.Status{meeting.StatusCaptureBotIsConnecting}, meeting.StatusCaptureInProgress},
		{meeting.EventFailCaptureBot, []meeting.Status{meeting.StatusCaptureBotIsConnecting}, meeting.StatusCaptureBotConnectionFailed},
		{meeting.EventCompleteCapture, []meeting.Status{meeting.StatusCaptureInProgress}, meeting.StatusCaptureDone},
		{meeting.EventFailCapture, []meeting.Status{meeting.StatusCaptureInProgress}, meeting.StatusCaptureFailed},
		{meeting.EventInitTranscription, []meeting.Status{
			meeting.StatusCaptureDone,
			meeting.StatusCaptureFailed,
			meeting.StatusTranscriptionFailed,
		}, meeting.StatusTranscriptionPending},
	}, sharedTail)

	// ImportVariant serves imported audio files.
	ImportVariant = newVariant("import", meeting.StatusImportPending, []edge{
		{meeting.EventInitTranscription, []meeting.Status{
			meeting.StatusImportPending,
			meeting.StatusTranscriptionFailed,
		}, meeting.StatusTranscriptionPending},
	}, sharedTail)
)

var variants = map[meeting.Origin]*Variant{
	meeting.OriginRecord:  RecordVariant,
	meeting.OriginLiveBot: LiveBotVariant,
	meeting.OriginImport:  ImportVariant,
}

// VariantFor returns the transition table serving a platform.
func VariantFor(p meeting.Platform) (*Variant, error) {
	origin, ok := p.Origin()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlatform, p)
	}
	return variants[origin], nil
}

// Name identifies the variant in logs.
func (v *Variant) Name() string { return v.name }

// Initial returns the state new meetings of this variant start in.
func (v *Variant) Initial() meeting.Status { return v.initial }

// StateFor maps a persisted status onto a state of the variant.
func (v *Variant) StateFor(s meeting.Status) (meeting.Status, error) {
	if !v.states[s] {
		return "", fmt.Errorf("%w: %s in %s lifecycle", ErrUnknownState, s, v.name)
	}
	return s, nil
}

// States lists the statuses the variant can be in.
func (v *Variant) States() []meeting.Status {
	out := make([]meeting.Status, 0, len(v.states))
	for _, s := range meeting.AllStatuses {
		if v.states[s] {
			out = append(out, s)
		}
	}
	return out
}

// Next returns the target of event from state, if the table has one.
func (v *Variant) Next(from meeting.Status, event meeting.Event) (meeting.Status, bool) {
	to, ok := v.transitions[event][from]
	return to, ok
}

// Send fires event from state and returns the new state or an
// InvalidTransitionError.
func (v *Variant) Send(meetingID int64, from meeting.Status, event meeting.Event) (meeting.Status, error) {
	to, ok := v.Next(from, event)
	if !ok {
		return "", &mcerrors.InvalidTransitionError{
			Event:     string(event),
			MeetingID: meetingID,
			State:     string(from),
		}
	}
	return to, nil
}
