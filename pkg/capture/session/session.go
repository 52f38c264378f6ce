// Package session records one meeting: it launches a browser, joins the
// meeting through the platform strategy, streams audio chunks to the blob
// store while the meeting is CAPTURE_IN_PROGRESS and hands the recording to
// transcription once the status moves on.
//
// The page drives the end of a recording. Stopping the in-page recorder makes
// it call back into the worker, which finalizes the capture (end capture,
// drain uploads, init transcription, close the browser) and then closes the
// session's done channel. The run loop waits on that channel.
//
// Once the bot has joined, a failed recording is never left in
// CAPTURE_IN_PROGRESS: the session marks it CAPTURE_FAILED and still starts
// transcription of whatever audio was stored.
package session

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/otherjamesbrown/meetcap/pkg/blob"
	"github.com/otherjamesbrown/meetcap/pkg/capture/browser"
	"github.com/otherjamesbrown/meetcap/pkg/capture/platform"
	"github.com/otherjamesbrown/meetcap/pkg/capture/uploadqueue"
	mcerrors "github.com/otherjamesbrown/meetcap/pkg/errors"
	"github.com/otherjamesbrown/meetcap/pkg/logging"
	"github.com/otherjamesbrown/meetcap/pkg/meeting"
	"github.com/otherjamesbrown/meetcap/pkg/observability"
)

// Names of the Go functions exposed to the recorder script.
const (
	BindingDataAvailable = "sendOnDataavailableToWorker"
	BindingStart         = "sendOnStartToWorker"
	BindingStop          = "sendOnStopToWorker"
)

// Transitions reports capture progress to the meeting lifecycle.
type Transitions interface {
	StartCaptureBot(ctx context.Context, meetingID int64) error
	EndCapture(ctx context.Context, meetingID int64) error
	FailCaptureBot(ctx context.Context, meetingID int64) error
	FailCapture(ctx context.Context, meetingID int64) error
	InitTranscription(ctx context.Context, meetingID int64) error
}

// JoinedError is a capture failure after the bot joined the meeting and
// StartCaptureBot was reported. The session has already moved the meeting
// on, so the bot connection must not be reported as failed.
type JoinedError struct {
	Err error
}

func (e *JoinedError) Error() string { return e.Err.Error() }

func (e *JoinedError) Unwrap() error { return e.Err }

// StatusReader reads the current status of a meeting.
type StatusReader interface {
	GetStatus(ctx context.Context, meetingID int64) (meeting.Status, error)
}

// Config holds session timings.
type Config struct {
	Headless bool
	// PageTimeout is the default timeout of every page action.
	PageTimeout time.Duration
	// SettleDelay separates arming the bindings from starting the recorder.
	SettleDelay time.Duration
	// PollInterval separates status checks while recording.
	PollInterval time.Duration
	// FinalizePause lets in-flight chunks reach the queue before draining it.
	FinalizePause time.Duration
	// StopTimeout bounds the wait for finalization after stopping the recorder.
	StopTimeout time.Duration
	// MonitorInterval separates participant count samples.
	MonitorInterval time.Duration
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		Headless:        true,
		PageTimeout:     10 * time.Second,
		SettleDelay:     3 * time.Second,
		PollInterval:    time.Second,
		FinalizePause:   time.Second,
		StopTimeout:     5 * time.Minute,
		MonitorInterval: time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PageTimeout <= 0 {
		c.PageTimeout = d.PageTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = d.StopTimeout
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = d.MonitorInterval
	}
	return c
}

// Deps are the collaborators a session needs.
type Deps struct {
	Launcher    browser.Launcher
	Connector   *platform.Connector
	Statuses    StatusReader
	Transitions Transitions
	Store       blob.Store
	Metrics     *observability.CaptureMetrics
	Tracer      *observability.Tracer
	Logger      logging.Logger
}

// Run identifies one capture attempt.
type Run struct {
	ID       string
	Meeting  *meeting.Meeting
	Platform platform.Platform
}

// NewRunID returns a sortable capture run id.
func NewRunID() string {
	return ulid.Make().String()
}

// Runner starts a fresh Session per capture.
type Runner struct {
	cfg  Config
	deps Deps
}

// NewRunner returns a runner sharing cfg and deps across sessions.
func NewRunner(cfg Config, deps Deps) *Runner {
	return &Runner{cfg: cfg, deps: deps}
}

// Capture records run to completion.
func (r *Runner) Capture(ctx context.Context, run Run) error {
	return New(r.cfg, r.deps, run).Run(ctx)
}

// Session is one recording of one meeting.
type Session struct {
	cfg          Config
	deps         Deps
	run          Run
	meetID       int64
	logger       logging.Logger
	uploads      *uploadqueue.Queue
	now          func() time.Time
	bgCtx        context.Context
	browser      browser.Browser
	closeOnce    sync.Once
	finalizeOnce sync.Once
	done         chan struct{}

	mu          sync.Mutex
	finalizeErr error
	lastChunk   time.Time
}

// New prepares a session; nothing is started until Run.
func New(cfg Config, deps Deps, run Run) *Session {
	if run.ID == "" {
		run.ID = NewRunID()
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Session{
		cfg:    cfg.withDefaults(),
		deps:   deps,
		run:    run,
		meetID: run.Meeting.ID,
		logger: logger.With(
			logging.F("component", "capture_session"),
			logging.MeetingID(run.Meeting.ID),
			logging.F("run_id", run.ID),
		),
		now:  time.Now,
		done: make(chan struct{}),
	}
}

// RunID returns the capture run id.
func (s *Session) RunID() string { return s.run.ID }

// Done is closed once the recording has been finalized.
func (s *Session) Done() <-chan struct{} { return s.done }

// Run joins the meeting, records until its status leaves
// CAPTURE_IN_PROGRESS, then stops and waits for finalization.
func (s *Session) Run(ctx context.Context) error {
	ctx = logging.ContextWithMeeting(ctx, s.meetID, s.run.ID)
	s.bgCtx = context.WithoutCancel(ctx)
	s.uploads = uploadqueue.New(s.bgCtx, s.logger)
	defer s.closeBrowser()

	page, err := s.launch(ctx)
	if err != nil {
		return err
	}

	if err := s.deps.Transitions.StartCaptureBot(ctx, s.meetID); err != nil {
		return fmt.Errorf("failed to report capture start: %w", err)
	}

	if err := s.record(ctx, page); err != nil {
		s.salvage(s.bgCtx)
		return &JoinedError{Err: err}
	}
	return nil
}

func (s *Session) record(ctx context.Context, page browser.Page) error {
	if err := s.arm(ctx, page); err != nil {
		return err
	}
	s.logger.Info("Recording armed")

	s.watch(ctx, page)
	return s.stop(ctx, page)
}

// salvage hands a meeting whose recording failed after StartCaptureBot to
// transcription: CAPTURE_IN_PROGRESS becomes CAPTURE_FAILED, then
// INIT_TRANSCRIPTION runs from CAPTURE_FAILED or CAPTURE_DONE. Any other
// status was set elsewhere and is left alone.
func (s *Session) salvage(ctx context.Context) {
	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.StopTimeout)
	defer cancel()
	if err := s.uploads.Wait(waitCtx); err != nil {
		s.logger.Warn("Chunk uploads still running", logging.F("pending", s.uploads.Pending()))
	}

	status, err := s.deps.Statuses.GetStatus(ctx, s.meetID)
	if err != nil {
		s.logger.Error("Failed to read status of failed capture", logging.Err(err))
		return
	}

	switch status {
	case meeting.StatusCaptureInProgress:
		if err := s.deps.Transitions.FailCapture(ctx, s.meetID); err != nil {
			s.logger.Error("Failed to mark capture as failed", logging.Err(err))
			return
		}
	case meeting.StatusCaptureDone, meeting.StatusCaptureFailed:
	default:
		s.logger.Info("Failed capture already moved on", logging.F("status", string(status)))
		return
	}

	if err := s.deps.Transitions.InitTranscription(ctx, s.meetID); err != nil {
		s.logger.Error("Failed to init transcription of failed capture", logging.Err(err))
		return
	}
	s.logger.Info("Failed capture handed to transcription", logging.F("chunks", s.uploads.Started()))
}

func (s *Session) launch(ctx context.Context) (browser.Page, error) {
	b, err := s.deps.Launcher.Launch(ctx, browser.LaunchOptions{
		Headless: s.cfg.Headless,
		Args:     browser.FakeMediaArgs,
	})
	if err != nil {
		return nil, err
	}
	s.browser = b

	bctx, err := b.NewContext(ctx, browser.ContextOptions{Permissions: browser.MediaPermissions})
	if err != nil {
		return nil, err
	}
	page, err := bctx.NewPage(ctx)
	if err != nil {
		return nil, err
	}
	page.SetDefaultTimeout(s.cfg.PageTimeout)

	strategy := s.run.Platform.Strategy
	if err := strategy.LoadRecordingScript(ctx, page); err != nil {
		return nil, err
	}
	connectCtx, span := s.tracer().StartConnectSpan(ctx, string(s.run.Meeting.Platform))
	err = s.deps.Connector.Connect(connectCtx, strategy, bctx, page, s.run.Meeting)
	if err != nil {
		ce := mcerrors.Classify(err, "")
		observability.NewSpanHelper(span).SetError(err, string(ce.Code), mcerrors.IsRetryable(ce.Code))
		span.End()
		return nil, err
	}
	span.End()
	s.logger.Info("Bot joined meeting")
	return page, nil
}

func (s *Session) arm(ctx context.Context, page browser.Page) error {
	page.OnConsole(ConsoleRelay(s.logger))

	bindings := map[string]browser.Binding{
		BindingDataAvailable: func(args ...any) any {
			s.onChunk(args)
			return nil
		},
		BindingStart: func(args ...any) any {
			s.logger.Info("Recording started")
			return nil
		},
		BindingStop: func(args ...any) any {
			go s.finish(s.bgCtx)
			return nil
		},
	}
	for _, name := range []string{BindingDataAvailable, BindingStart, BindingStop} {
		if err := page.Expose(name, bindings[name]); err != nil {
			return fmt.Errorf("failed to expose %s: %w", name, err)
		}
	}

	if err := sleep(ctx, s.cfg.SettleDelay); err != nil {
		return err
	}
	if _, err := page.Evaluate(ctx, "window.startRecording()"); err != nil {
		return fmt.Errorf("failed to start recorder: %w", err)
	}
	return nil
}

// watch polls the meeting status until it leaves CAPTURE_IN_PROGRESS, the
// meeting disappears, the status cannot be read or ctx is done.
func (s *Session) watch(ctx context.Context, page browser.Page) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	lastSample := s.now()

	for {
		status, err := s.deps.Statuses.GetStatus(ctx, s.meetID)
		switch {
		case mcerrors.IsNotFound(err):
			s.logger.Warn("Meeting no longer exists, stopping recording")
			return
		case err != nil:
			if ctx.Err() == nil {
				s.logger.Error("Failed to read meeting status, stopping recording", logging.Err(err))
			}
			return
		case status != meeting.StatusCaptureInProgress:
			s.logger.Info("Meeting status changed, stopping recording", logging.F("status", string(status)))
			return
		}

		if s.now().Sub(lastSample) >= s.cfg.MonitorInterval {
			lastSample = s.now()
			s.sampleParticipants(ctx, page)
		}

		select {
		case <-ctx.Done():
			s.logger.Warn("Capture interrupted, stopping recording", logging.Err(ctx.Err()))
			return
		case <-ticker.C:
		}
	}
}

func (s *Session) sampleParticipants(ctx context.Context, page browser.Page) {
	if s.run.Platform.Monitor == nil {
		return
	}
	if n, ok := s.run.Platform.Monitor.ParticipantCount(ctx, page); ok {
		s.logger.Info("Participants in meeting", logging.F("count", n))
	}
}

// stop stops the recorder, leaves the meeting and waits for the stop
// callback to finalize the capture.
func (s *Session) stop(ctx context.Context, page browser.Page) error {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StopTimeout)
	defer cancel()

	recording := true
	active, err := page.Evaluate(stopCtx, "window.stopRecording()")
	if err != nil {
		s.logger.Warn("Failed to stop recorder", logging.Err(err))
		recording = false
	} else if v, ok := active.(bool); ok {
		recording = v
	}
	if err := s.run.Platform.Strategy.Disconnect(stopCtx, page); err != nil {
		s.logger.Warn("Failed to disconnect from meeting", logging.Err(err))
	}
	if !recording {
		// No stop callback will come from the page.
		s.finish(stopCtx)
	}

	select {
	case <-s.done:
	case <-stopCtx.Done():
		return fmt.Errorf("%w: recording of meeting %d not finalized after %s", mcerrors.ErrTimeout, s.meetID, s.cfg.StopTimeout)
	}

	s.logger.Info("Recording stopped", logging.F("chunks", s.uploads.Started()))
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalizeErr
}

// finish finalizes the capture exactly once and then closes done.
func (s *Session) finish(ctx context.Context) {
	s.finalizeOnce.Do(func() {
		defer close(s.done)
		err := s.finalizeCapture(ctx)
		if err != nil {
			s.logger.Error("Failed to finalize capture", logging.Err(err))
		}
		s.mu.Lock()
		s.finalizeErr = err
		s.mu.Unlock()
	})
}

func (s *Session) finalizeCapture(ctx context.Context) error {
	status, err := s.deps.Statuses.GetStatus(ctx, s.meetID)
	if err != nil && !mcerrors.IsNotFound(err) {
		return fmt.Errorf("failed to read status before ending capture: %w", err)
	}
	var endErr error
	if err == nil && status == meeting.StatusCaptureInProgress {
		if err := s.deps.Transitions.EndCapture(ctx, s.meetID); err != nil {
			s.logger.Error("Failed to end capture, still draining uploads", logging.Err(err))
			endErr = fmt.Errorf("failed to end capture: %w", err)
		}
	}

	if err := sleep(ctx, s.cfg.FinalizePause); err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.StopTimeout)
	defer cancel()
	if err := s.uploads.Wait(waitCtx); err != nil {
		return fmt.Errorf("waiting for chunk uploads: %w", err)
	}
	if failed := s.uploads.Failed(); len(failed) > 0 {
		s.logger.Warn("Some audio chunks were not stored", logging.F("failed", len(failed)), logging.F("total", s.uploads.Started()))
	}
	if endErr != nil {
		s.closeBrowser()
		return endErr
	}
	s.logger.Info("All chunks sent, starting transcription")

	if err := s.deps.Transitions.InitTranscription(ctx, s.meetID); err != nil {
		return fmt.Errorf("failed to init transcription: %w", err)
	}

	s.closeBrowser()
	return nil
}

func (s *Session) onChunk(args []any) {
	data, err := decodeChunk(args)
	if err != nil {
		s.logger.Error("Discarding malformed audio chunk", logging.Err(err))
		s.deps.Metrics.RecordChunk("invalid", 0)
		return
	}

	path := blob.AudioChunkPath(s.meetID, s.chunkTime())
	s.uploads.Append(func(ctx context.Context) error {
		err := s.deps.Store.Put(ctx, path, bytes.NewReader(data), int64(len(data)), blob.ContentTypeAudio)
		if err != nil {
			s.deps.Metrics.RecordChunk("error", len(data))
			return fmt.Errorf("failed to store chunk %s: %w", path, err)
		}
		s.deps.Metrics.RecordChunk("ok", len(data))
		return nil
	})
}

// chunkTime returns the timestamp naming the next chunk. Chunk names have
// one-second resolution, so a chunk landing in the same second as the
// previous one is named one second later instead of overwriting it.
func (s *Session) chunkTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	at := s.now().Truncate(time.Second)
	if !s.lastChunk.IsZero() && !at.After(s.lastChunk) {
		at = s.lastChunk.Add(time.Second)
	}
	s.lastChunk = at
	return at
}

// decodeChunk extracts the audio bytes from a data binding call. The page
// sends {data: <base64>, size: <bytes>}.
func decodeChunk(args []any) ([]byte, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("no payload")
	}
	payload, ok := args[0].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("payload is %T, want object", args[0])
	}
	encoded, ok := payload["data"].(string)
	if !ok || encoded == "" {
		return nil, fmt.Errorf("payload has no data")
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("payload data is not base64: %w", err)
	}
	return data, nil
}

func (s *Session) tracer() *observability.Tracer {
	if s.deps.Tracer == nil {
		return observability.NewTracer()
	}
	return s.deps.Tracer
}

func (s *Session) closeBrowser() {
	s.closeOnce.Do(func() {
		if s.browser == nil {
			return
		}
		if err := s.browser.Close(); err != nil {
			s.logger.Warn("Failed to close browser", logging.Err(err))
		}
	})
}

// ConsoleRelay logs page console output. Debug and log messages are dropped.
func ConsoleRelay(logger logging.Logger) func(browser.ConsoleMessage) {
	return func(msg browser.ConsoleMessage) {
		switch msg.Type {
		case "debug", "log":
			return
		case "error":
			logger.Warn("Browser console", logging.F("type", msg.Type), logging.F("text", msg.Text))
		default:
			logger.Info("Browser console", logging.F("type", msg.Type), logging.F("text", msg.Text))
		}
	}
}

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
