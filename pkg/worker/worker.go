// Package worker claims meetings waiting for a capture bot and records them
// one at a time.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/otherjamesbrown/meetcap/pkg/capture/platform"
	"github.com/otherjamesbrown/meetcap/pkg/capture/session"
	mcerrors "github.com/otherjamesbrown/meetcap/pkg/errors"
	"github.com/otherjamesbrown/meetcap/pkg/logging"
	"github.com/otherjamesbrown/meetcap/pkg/meeting"
	"github.com/otherjamesbrown/meetcap/pkg/observability"
)

// DefaultPollInterval separates claim attempts in long-running mode.
const DefaultPollInterval = 2 * time.Second

// Claimer hands out the next meeting waiting for capture, or nil.
type Claimer interface {
	ClaimNextPending(ctx context.Context) (*meeting.Meeting, error)
}

// Capturer records one meeting.
type Capturer interface {
	Capture(ctx context.Context, run session.Run) error
}

// FailureReporter marks a meeting whose bot could not record it.
type FailureReporter interface {
	FailCaptureBot(ctx context.Context, meetingID int64) error
}

// Config configures a Worker.
type Config struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Deps are the collaborators of a Worker.
type Deps struct {
	Claimer  Claimer
	Registry platform.Registry
	Capturer Capturer
	Failures FailureReporter
	Tracer   *observability.Tracer
	Metrics  *observability.CaptureMetrics
	Events   *observability.EventEmitter
	Logger   logging.Logger
}

// Stats are the worker's lifetime counters.
type Stats struct {
	Processed int64
	Failed    int64
}

// Worker claims and captures meetings.
type Worker struct {
	cfg    Config
	deps   Deps
	logger logging.Logger

	processed atomic.Int64
	failed    atomic.Int64
}

// New returns a worker. Missing optional deps get no-op defaults.
func New(cfg Config, deps Deps) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if deps.Tracer == nil {
		deps.Tracer = observability.NewTracer()
	}
	if deps.Events == nil {
		deps.Events = observability.NewEventEmitter(nil)
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNopLogger()
	}
	return &Worker{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger.With(logging.F("component", "capture_worker")),
	}
}

// Stats returns the worker's counters.
func (w *Worker) Stats() Stats {
	return Stats{Processed: w.processed.Load(), Failed: w.failed.Load()}
}

// Run calls RunOnce every PollInterval until ctx is done. Claim errors are
// logged and retried on the next tick.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Capture worker started", logging.F("poll_interval", w.cfg.PollInterval.String()))

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("Claim attempt failed", logging.Err(err))
		}

		select {
		case <-ctx.Done():
			w.logger.Info("Capture worker stopped",
				logging.F("processed", w.processed.Load()),
				logging.F("failed", w.failed.Load()))
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce claims one meeting and captures it. It reports false when nothing
// was waiting. Capture failures, panics included, are handled here (the
// meeting is marked failed, the error is traced and published) and never
// returned; only a failed claim is.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	m, err := w.claim(ctx)
	if err != nil {
		return false, err
	}
	if m == nil {
		return false, nil
	}

	runID := session.NewRunID()
	ctx = meeting.ContextWithOwner(ctx, m.Owner)
	ctx = logging.ContextWithMeeting(ctx, m.ID, runID)
	ctx, span := w.deps.Tracer.StartSessionSpan(ctx, m.ID, string(m.Platform), runID)
	defer span.End()
	helper := observability.NewSpanHelper(span)
	logger := w.logger.WithContext(ctx)

	event := observability.NewCaptureEvent(m.ID, runID, string(m.Platform))
	event.TraceID = observability.GetTraceID(ctx)
	if err := w.deps.Events.EmitCaptureStarted(ctx, event); err != nil {
		logger.Warn("Failed to publish capture event", logging.Err(err))
	}

	logger.Info("Processing meeting", logging.F("platform", string(m.Platform)))
	w.deps.Metrics.SessionStarted()
	started := time.Now()

	err = w.capture(ctx, m, runID)

	w.deps.Metrics.SessionEnded()
	elapsed := time.Since(started)

	if err == nil {
		w.processed.Add(1)
		helper.SetSuccess()
		w.deps.Metrics.RecordSession(string(m.Platform), observability.OutcomeCompleted, elapsed.Seconds())
		done := observability.NewCaptureEvent(m.ID, runID, string(m.Platform))
		done.TraceID = event.TraceID
		done.DurationMs = elapsed.Milliseconds()
		if err := w.deps.Events.EmitCaptureCompleted(ctx, done); err != nil {
			logger.Warn("Failed to publish capture event", logging.Err(err))
		}
		logger.Info("Meeting processed successfully", logging.F("duration", elapsed.String()))
		return true, nil
	}

	w.handleFailure(ctx, logger, helper, m, runID, event.TraceID, elapsed, err)
	return true, nil
}

func (w *Worker) claim(ctx context.Context) (*meeting.Meeting, error) {
	ctx, span := w.deps.Tracer.StartClaimSpan(ctx)
	defer span.End()

	m, err := w.deps.Claimer.ClaimNextPending(ctx)
	if err != nil {
		w.deps.Metrics.RecordClaim("error")
		observability.NewSpanHelper(span).SetError(err, string(mcerrors.CodeServiceUnavailable), true)
		return nil, fmt.Errorf("failed to claim meeting: %w", err)
	}
	if m == nil {
		w.deps.Metrics.RecordClaim("empty")
		return nil, nil
	}
	w.deps.Metrics.RecordClaim("claimed")
	return m, nil
}

func (w *Worker) capture(ctx context.Context, m *meeting.Meeting, runID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.WithContext(ctx).Error("Capture panicked",
				logging.F("panic", fmt.Sprint(r)),
				logging.F("stack", string(debug.Stack())))
			err = fmt.Errorf("capture of meeting %d panicked: %v", m.ID, r)
		}
	}()

	p, err := w.deps.Registry.Lookup(m.Platform)
	if err != nil {
		return err
	}
	return w.deps.Capturer.Capture(ctx, session.Run{ID: runID, Meeting: m, Platform: p})
}

func (w *Worker) handleFailure(
	ctx context.Context,
	logger logging.Logger,
	helper *observability.SpanHelper,
	m *meeting.Meeting,
	runID, traceID string,
	elapsed time.Duration,
	err error,
) {
	w.failed.Add(1)
	ce := mcerrors.Classify(err, "")
	retryable := mcerrors.IsRetryable(ce.Code)

	logger.Error("Error processing meeting",
		logging.Err(err),
		logging.F("error_code", string(ce.Code)),
		logging.F("stage", ce.Stage))
	helper.SetError(err, string(ce.Code), retryable)

	outcome := observability.OutcomeFailed
	var connErr *mcerrors.ConnectionError
	if errors.As(err, &connErr) {
		outcome = observability.OutcomeConnectionFailed
	}
	w.deps.Metrics.RecordSession(string(m.Platform), outcome, elapsed.Seconds())

	// After the bot joined, the session has already reported the failure.
	reportCtx := context.WithoutCancel(ctx)
	var joined *session.JoinedError
	if !errors.As(err, &joined) {
		if ferr := w.deps.Failures.FailCaptureBot(reportCtx, m.ID); ferr != nil {
			logger.Error("Failed to mark capture bot as failed", logging.Err(ferr))
		}
	}

	event := observability.NewCaptureEvent(m.ID, runID, string(m.Platform))
	event.TraceID = traceID
	event.Stage = ce.Stage
	event.ErrorCode = string(ce.Code)
	event.ErrorMessage = err.Error()
	event.Retryable = retryable
	event.DurationMs = elapsed.Milliseconds()
	if perr := w.deps.Events.EmitCaptureFailed(reportCtx, event); perr != nil {
		logger.Warn("Failed to publish capture event", logging.Err(perr))
	}
}
