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
	webinaireNameInput   = `xpath=//*[@id="fullname"]`
	webinaireJoinButton  = `xpath=//*[@id="joinMeetingForm"]/div/div[2]/div/button`
	webinaireModal       = "#simpleModal"
	webinaireJoinAudio   = "Join Audio"
	webinaireAcceptTerms = "Accept recording and continue"
)

// Webinaire joins BigBlueButton-style webinars from a direct link.
type Webinaire struct {
	Base
}

// NewWebinaire returns the webinar strategy.
func NewWebinaire(t Timings, logger logging.Logger) *Webinaire {
	return &Webinaire{Base: newBase(t, logger, ElementRecorderScript())}
}

func (w *Webinaire) ConnectToMeeting(ctx context.Context, page browser.Page, m *meeting.Meeting) error {
	if m.URL == "" {
		return fmt.Errorf("%w: webinaire meeting %d has no url", mcerrors.ErrValidation, m.ID)
	}
	return page.Goto(ctx, m.URL)
}

func (w *Webinaire) SetBotName(ctx context.Context, page browser.Page, name string) error {
	return page.Fill(ctx, webinaireNameInput, name)
}

// JoinWaitingRoomAndSetDevices submits the join form, then alternates between
// confirming listen-only audio and dismissing the recording consent modal
// until the audio prompt shows up.
func (w *Webinaire) JoinWaitingRoomAndSetDevices(ctx context.Context, page browser.Page) error {
	if err := page.Click(ctx, webinaireJoinButton); err != nil {
		return err
	}

	for attempt := 0; attempt < w.timings.MaxRetries; attempt++ {
		n, err := page.RoleCount(ctx, webinaireModal, "button", webinaireJoinAudio)
		if err == nil && n > 0 {
			return page.ClickRole(ctx, webinaireModal, "button", webinaireJoinAudio)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := page.ClickRole(ctx, webinaireModal, "button", webinaireAcceptTerms); err != nil {
			w.logger.Debug("Consent modal not present", logging.Err(err), logging.F("attempt", attempt+1))
		}
		if err := sleep(ctx, w.timings.RetryDelay); err != nil {
			return err
		}
	}

	return fmt.Errorf("%w: couldn't set devices", mcerrors.ErrTimeout)
}
