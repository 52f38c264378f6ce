package platform

import (
	"context"
	"fmt"

	"github.com/otherjamesbrown/meetcap/pkg/capture/browser"
	mcerrors "github.com/otherjamesbrown/meetcap/pkg/errors"
	"github.com/otherjamesbrown/meetcap/pkg/logging"
)

// Base carries behaviour shared by every platform: injecting the recorder
// script, waiting for a recordable media stream and a no-op disconnect.
// Platforms embed it and override what differs.
type Base struct {
	timings Timings
	logger  logging.Logger
	script  string
}

func newBase(t Timings, logger logging.Logger, script string) Base {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return Base{timings: t.withDefaults(), logger: logger, script: script}
}

// LoadRecordingScript installs the recorder so it runs in every document the
// page loads.
func (b *Base) LoadRecordingScript(ctx context.Context, page browser.Page) error {
	if err := page.AddInitScript(ctx, b.script); err != nil {
		return fmt.Errorf("failed to load recording script: %w", err)
	}
	return nil
}

// WaitForWebRTC waits for a media element to be attached, then probes the
// recorder until it can acquire an audio stream.
func (b *Base) WaitForWebRTC(ctx context.Context, page browser.Page) error {
	if err := page.WaitFor(ctx, "audio, video", browser.StateAttached, b.timings.MediaWait); err != nil {
		return fmt.Errorf("waiting for media element: %w", err)
	}

	for attempt := 0; attempt < b.timings.MaxRetries; attempt++ {
		ok, err := page.Evaluate(ctx, "window.canAcquireAudioStream()")
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.logger.Debug("Stream readiness probe failed", logging.Err(err), logging.F("attempt", attempt+1))
		} else if ready, _ := ok.(bool); ready {
			return nil
		}

		if err := sleep(ctx, b.timings.ReadinessInterval); err != nil {
			return err
		}
	}

	return fmt.Errorf("%w: audio element has no MediaStream attached", mcerrors.ErrTimeout)
}

// Disconnect does nothing; closing the browser is enough to leave.
func (b *Base) Disconnect(ctx context.Context, page browser.Page) error {
	return nil
}
