package platform

import (
	"context"
	"fmt"

	"github.com/otherjamesbrown/meetcap/pkg/capture/browser"
	mcerrors "github.com/otherjamesbrown/meetcap/pkg/errors"
	"github.com/otherjamesbrown/meetcap/pkg/logging"
	"github.com/otherjamesbrown/meetcap/pkg/meeting"
)

// ComuURL is the lobby where COMU meetings are joined by id and passcode.
const ComuURL = "https://webconf.comu.gouv.fr/en-US/"

const (
	comuMeetingIDInput = "xpath=/html/body/div/main/section/form/div/input"
	comuPasswordInput  = "xpath=/html/body/div/main/section/form/input[3]"
	comuLobbySubmit    = "xpath=/html/body/div/main/section/form/button"
	comuNameInput      = "xpath=/html/body/div/section/section/section[1]/form/input"
	comuNameSubmit     = "xpath=/html/body/div/section/section/section[1]/form/button"
	comuMicToggle      = `xpath=//*[@id="meeting_app"]/section[1]/section/section/button[2]`
	comuCameraToggle   = `xpath=//*[@id="meeting_app"]/section[1]/section/section/button[3]`
	comuJoinButton     = "xpath=/html/body/div/section/section/section/button[1]"
)

// Comu joins COMU meetings, either from a direct link or from the lobby with
// a numeric meeting id and passcode.
type Comu struct {
	Base
}

// NewComu returns the COMU strategy.
func NewComu(t Timings, logger logging.Logger) *Comu {
	return &Comu{Base: newBase(t, logger, ElementRecorderScript())}
}

func (c *Comu) ConnectToMeeting(ctx context.Context, page browser.Page, m *meeting.Meeting) error {
	switch {
	case m.UsesPassword():
		if err := page.Goto(ctx, ComuURL); err != nil {
			return fmt.Errorf("failed to open lobby: %w", err)
		}
		if err := page.Fill(ctx, comuMeetingIDInput, m.PlatformMeetingID); err != nil {
			return fmt.Errorf("failed to fill meeting id: %w", err)
		}
		if err := page.Fill(ctx, comuPasswordInput, m.Password); err != nil {
			return fmt.Errorf("failed to fill passcode: %w", err)
		}
		return page.Click(ctx, comuLobbySubmit)
	case m.URL != "":
		return page.Goto(ctx, m.URL)
	default:
		return fmt.Errorf("%w: meeting %d has neither a url nor an id and passcode", mcerrors.ErrValidation, m.ID)
	}
}

func (c *Comu) SetBotName(ctx context.Context, page browser.Page, name string) error {
	if err := page.Fill(ctx, comuNameInput, name); err != nil {
		return err
	}
	return page.Click(ctx, comuNameSubmit)
}

func (c *Comu) JoinWaitingRoomAndSetDevices(ctx context.Context, page browser.Page) error {
	for _, sel := range []string{comuMicToggle, comuCameraToggle, comuJoinButton} {
		if err := page.Click(ctx, sel); err != nil {
			return err
		}
	}
	return nil
}
