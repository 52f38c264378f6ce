package platform

import (
	"context"
	"fmt"

	"github.com/otherjamesbrown/meetcap/pkg/capture/browser"
	mcerrors "github.com/otherjamesbrown/meetcap/pkg/errors"
	"github.com/otherjamesbrown/meetcap/pkg/logging"
	"github.com/otherjamesbrown/meetcap/pkg/meeting"
)

const visioNameInput = `input[autocomplete="name"]`

// Visio joins LiveKit-based rooms. The recorder mixes every participant
// element, which is available as soon as the room loads.
type Visio struct {
	Base
}

// NewVisio returns the Visio strategy.
func NewVisio(t Timings, logger logging.Logger) *Visio {
	return &Visio{Base: newBase(t, logger, MixedRecorderScript())}
}

func (v *Visio) ConnectToMeeting(ctx context.Context, page browser.Page, m *meeting.Meeting) error {
	if m.URL == "" {
		return fmt.Errorf("%w: visio meeting %d has no url", mcerrors.ErrValidation, m.ID)
	}
	return page.Goto(ctx, m.URL)
}

func (v *Visio) SetBotName(ctx context.Context, page browser.Page, name string) error {
	return page.Fill(ctx, visioNameInput, name)
}

func (v *Visio) JoinWaitingRoomAndSetDevices(ctx context.Context, page browser.Page) error {
	for _, name := range []string{"Disable microphone", "Disable camera", "Join"} {
		if err := page.ClickRole(ctx, "", "button", name); err != nil {
			return fmt.Errorf("failed to click %q: %w", name, err)
		}
	}
	return nil
}

func (v *Visio) WaitForWebRTC(ctx context.Context, page browser.Page) error {
	return nil
}
