package platform

import (
	"context"
	"fmt"
	"os"

	"github.com/otherjamesbrown/meetcap/pkg/blob"
	"github.com/otherjamesbrown/meetcap/pkg/capture/browser"
	mcerrors "github.com/otherjamesbrown/meetcap/pkg/errors"
	"github.com/otherjamesbrown/meetcap/pkg/logging"
	"github.com/otherjamesbrown/meetcap/pkg/meeting"
)

// Connection stages reported in ConnectionError.
const (
	StageTracing = "tracing"
	StageConnect = "connect"
	StageBotName = "bot_name"
	StageDevices = "devices"
	StageWebRTC  = "webrtc"
)

// BotName is the display name the bot joins under.
func BotName(owner meeting.Owner) string {
	return "FCR Agent de " + owner.Email
}

// Connector runs the join template shared by every platform and keeps the
// browser trace of attempts that fail.
type Connector struct {
	store   blob.Store
	logger  logging.Logger
	tempDir string
}

// NewConnector returns a connector uploading failure traces to store.
// An empty tempDir uses the system default.
func NewConnector(store blob.Store, tempDir string, logger logging.Logger) *Connector {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Connector{
		store:   store,
		logger:  logger.With(logging.F("component", "connector")),
		tempDir: tempDir,
	}
}

// Connect takes the bot into the meeting: connect, set the bot name, pass the
// waiting room and devices, then wait for a recordable stream. The whole
// attempt is traced. On failure the trace is uploaded to the meeting's trace
// path and the step error is returned as a *errors.ConnectionError.
func (c *Connector) Connect(ctx context.Context, s Strategy, bctx browser.Context, page browser.Page, m *meeting.Meeting) error {
	if err := bctx.StartTracing(ctx); err != nil {
		return &mcerrors.ConnectionError{Stage: StageTracing, MeetingID: m.ID, Cause: err}
	}

	steps := []struct {
		stage string
		run   func() error
	}{
		{StageConnect, func() error { return s.ConnectToMeeting(ctx, page, m) }},
		{StageBotName, func() error { return s.SetBotName(ctx, page, BotName(m.Owner)) }},
		{StageDevices, func() error { return s.JoinWaitingRoomAndSetDevices(ctx, page) }},
		{StageWebRTC, func() error { return s.WaitForWebRTC(ctx, page) }},
	}

	for _, step := range steps {
		if err := step.run(); err != nil {
			c.logger.Error("Bot connection failed",
				logging.MeetingID(m.ID),
				logging.F("stage", step.stage),
				logging.Err(err))
			c.uploadTrace(ctx, bctx, m.ID)
			return &mcerrors.ConnectionError{Stage: step.stage, MeetingID: m.ID, Cause: err}
		}
	}

	if err := bctx.StopTracing(ctx, ""); err != nil {
		c.logger.Warn("Failed to stop tracing", logging.MeetingID(m.ID), logging.Err(err))
	}
	return nil
}

// uploadTrace stops tracing into a temporary archive and stores it. Failures
// are logged; the connection error stays the one reported.
func (c *Connector) uploadTrace(ctx context.Context, bctx browser.Context, meetingID int64) {
	ctx = context.WithoutCancel(ctx)
	logger := c.logger.With(logging.MeetingID(meetingID))

	f, err := os.CreateTemp(c.tempDir, "meetcap-trace-*.zip")
	if err != nil {
		logger.Error("Failed to create trace file", logging.Err(err))
		_ = bctx.StopTracing(ctx, "")
		return
	}
	path := f.Name()
	f.Close()
	defer os.Remove(path)

	if err := bctx.StopTracing(ctx, path); err != nil {
		logger.Error("Failed to save trace", logging.Err(err))
		return
	}

	if err := c.putFile(ctx, path, blob.TracePath(meetingID)); err != nil {
		logger.Error("Failed to upload trace", logging.Err(err))
		return
	}
	logger.Info("Uploaded connection trace", logging.F("path", blob.TracePath(meetingID)))
}

func (c *Connector) putFile(ctx context.Context, local, remote string) error {
	f, err := os.Open(local)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if err := c.store.Put(ctx, remote, f, info.Size(), blob.ContentTypeTrace); err != nil {
		return fmt.Errorf("failed to store %s: %w", remote, err)
	}
	return nil
}
