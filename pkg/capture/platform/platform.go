// Package platform knows how to join each supported videoconference platform
// with a bot, arm the in-page audio recorder and read participant counts.
//
// Each platform is a Strategy (how to get into the meeting) paired with a
// Monitor (what the room looks like once inside). Registry maps the persisted
// platform enum to that pair; Connector runs the shared join template around
// a Strategy and keeps a browser trace of failed attempts.
package platform

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/otherjamesbrown/meetcap/pkg/capture/browser"
	"github.com/otherjamesbrown/meetcap/pkg/logging"
	"github.com/otherjamesbrown/meetcap/pkg/meeting"
)

// ErrUnsupportedPlatform is returned for platforms the bot cannot join,
// including the upload-only origins.
var ErrUnsupportedPlatform = errors.New("platform not supported by capture bot")

// Strategy is the set of steps that take a bot from a blank page to a
// recording-ready seat in a meeting.
type Strategy interface {
	ConnectToMeeting(ctx context.Context, page browser.Page, m *meeting.Meeting) error
	SetBotName(ctx context.Context, page browser.Page, name string) error
	JoinWaitingRoomAndSetDevices(ctx context.Context, page browser.Page) error
	LoadRecordingScript(ctx context.Context, page browser.Page) error
	WaitForWebRTC(ctx context.Context, page browser.Page) error
	Disconnect(ctx context.Context, page browser.Page) error
}

// Monitor reads live room information. ParticipantCount returns false when
// the platform does not expose a count or reading it failed.
type Monitor interface {
	ParticipantCount(ctx context.Context, page browser.Page) (int, bool)
}

// Platform pairs a join strategy with its room monitor.
type Platform struct {
	Strategy Strategy
	Monitor  Monitor
}

// Registry resolves a meeting platform to its capabilities.
type Registry map[meeting.Platform]Platform

// NewRegistry builds the registry of every platform the bot can join.
func NewRegistry(t Timings, logger logging.Logger) Registry {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logger = logger.With(logging.F("component", "platform"))
	return Registry{
		meeting.PlatformComu: {
			Strategy: NewComu(t, logger),
			Monitor:  NewComuMonitor(logger),
		},
		meeting.PlatformWebinaire: {
			Strategy: NewWebinaire(t, logger),
			Monitor:  NewWebinaireMonitor(t, logger),
		},
		meeting.PlatformWebconf: {
			Strategy: NewWebconf(t, logger),
			Monitor:  UnknownCount{},
		},
		meeting.PlatformVisio: {
			Strategy: NewVisio(t, logger),
			Monitor:  UnknownCount{},
		},
	}
}

// Lookup returns the capabilities registered for p.
func (r Registry) Lookup(p meeting.Platform) (Platform, error) {
	pl, ok := r[p]
	if !ok {
		return Platform{}, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, p)
	}
	return pl, nil
}

// Timings bounds every wait and retry loop of the join strategies.
type Timings struct {
	// MaxRetries caps the readiness and device-setup loops.
	MaxRetries int
	// ReadinessInterval separates stream readiness probes.
	ReadinessInterval time.Duration
	// RetryDelay separates device-setup attempts.
	RetryDelay time.Duration
	// MediaWait bounds the wait for a media element to appear.
	MediaWait time.Duration
	// NameInputWait bounds the wait for a pre-join name field.
	NameInputWait time.Duration
	// JoinSettle is slept after joining on platforms that render late.
	JoinSettle time.Duration
	// LeavePause is slept after clicking a leave button.
	LeavePause time.Duration
	// CounterTimeout bounds participant counter reads.
	CounterTimeout time.Duration
}

// DefaultTimings returns the production timings.
func DefaultTimings() Timings {
	return Timings{
		MaxRetries:        30,
		ReadinessInterval: 500 * time.Millisecond,
		RetryDelay:        time.Second,
		MediaWait:         60 * time.Second,
		NameInputWait:     5 * time.Minute,
		JoinSettle:        5 * time.Second,
		LeavePause:        time.Second,
		CounterTimeout:    5 * time.Second,
	}
}

func (t Timings) withDefaults() Timings {
	d := DefaultTimings()
	if t.MaxRetries <= 0 {
		t.MaxRetries = d.MaxRetries
	}
	if t.ReadinessInterval <= 0 {
		t.ReadinessInterval = d.ReadinessInterval
	}
	if t.RetryDelay <= 0 {
		t.RetryDelay = d.RetryDelay
	}
	if t.MediaWait <= 0 {
		t.MediaWait = d.MediaWait
	}
	if t.NameInputWait <= 0 {
		t.NameInputWait = d.NameInputWait
	}
	if t.JoinSettle < 0 {
		t.JoinSettle = 0
	}
	if t.LeavePause < 0 {
		t.LeavePause = 0
	}
	if t.CounterTimeout <= 0 {
		t.CounterTimeout = d.CounterTimeout
	}
	return t
}

var (
	//go:embed scripts/bridge.js
	bridgeScript string
	//go:embed scripts/element_recorder.js
	elementRecorderScript string
	//go:embed scripts/mixed_recorder.js
	mixedRecorderScript string
)

// ElementRecorderScript records the first media element carrying audio.
func ElementRecorderScript() string { return bridgeScript + "\n" + elementRecorderScript }

// MixedRecorderScript records a live mix of every media element on the page.
func MixedRecorderScript() string { return bridgeScript + "\n" + mixedRecorderScript }

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
