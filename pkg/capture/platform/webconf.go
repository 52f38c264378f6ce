package platform

import (
	"context"
	"fmt"

	"github.com/otherjamesbrown/meetcap/pkg/capture/browser"
	mcerrors "github.com/otherjamesbrown/meetcap/pkg/errors"
	"github.com/otherjamesbrown/meetcap/pkg/logging"
	"github.com/otherjamesbrown/meetcap/pkg/meeting"
)

const (
	webconfNameInput   = "#premeeting-name-input"
	webconfJoinButton  = `[data-testid="prejoin.joinMeeting"]`
	webconfVideoToggle = `[aria-label="Couper votre vidéo"]`
	webconfMicToggle   = `[aria-label="Couper votre micro"]`
	webconfLeave       = `[aria-label="Quitter la conversation"]`
)

// Webconf joins Jitsi-based conferences. The pre-join screen can take
// minutes to render and audio arrives through several elements, so the
// mixed recorder is used and the stream wait is skipped.
type Webconf struct {
	Base
}

// NewWebconf returns the Jitsi strategy.
func NewWebconf(t Timings, logger logging.Logger) *Webconf {
	return &Webconf{Base: newBase(t, logger, MixedRecorderScript())}
}

func (w *Webconf) ConnectToMeeting(ctx context.Context, page browser.Page, m *meeting.Meeting) error {
	if m.URL == "" {
		return fmt.Errorf("%w: webconf meeting %d has no url", mcerrors.ErrValidation, m.ID)
	}
	return page.Goto(ctx, m.URL)
}

func (w *Webconf) SetBotName(ctx context.Context, page browser.Page, name string) error {
	if err := page.WaitFor(ctx, webconfNameInput, browser.StateVisible, w.timings.NameInputWait); err != nil {
		return fmt.Errorf("waiting for name input: %w", err)
	}
	return page.Fill(ctx, webconfNameInput, name)
}

func (w *Webconf) JoinWaitingRoomAndSetDevices(ctx context.Context, page browser.Page) error {
	for _, sel := range []string{webconfJoinButton, webconfVideoToggle, webconfMicToggle} {
		if err := page.Click(ctx, sel); err != nil {
			return err
		}
	}
	return sleep(ctx, w.timings.JoinSettle)
}

func (w *Webconf) WaitForWebRTC(ctx context.Context, page browser.Page) error {
	return nil
}

// Disconnect leaves the conference so the room does not keep a ghost seat.
func (w *Webconf) Disconnect(ctx context.Context, page browser.Page) error {
	if err := page.Click(ctx, webconfLeave); err != nil {
		return fmt.Errorf("failed to leave conference: %w", err)
	}
	return sleep(ctx, w.timings.LeavePause)
}
