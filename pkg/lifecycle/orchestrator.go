package lifecycle

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/otherjamesbrown/meetcap/pkg/blob"
	mcerrors "github.com/otherjamesbrown/meetcap/pkg/errors"
	"github.com/otherjamesbrown/meetcap/pkg/jobs"
	"github.com/otherjamesbrown/meetcap/pkg/ledger"
	"github.com/otherjamesbrown/meetcap/pkg/logging"
	"github.com/otherjamesbrown/meetcap/pkg/meeting"
	"github.com/otherjamesbrown/meetcap/pkg/notify"
	"github.com/otherjamesbrown/meetcap/pkg/observability"
)

// Estimator predicts the transcription wait for a meeting.
type Estimator interface {
	Predict(ctx context.Context, meetingID int64) (*ledger.Record, error)
}

// Mailer sends email.
type Mailer interface {
	Send(ctx context.Context, e notify.Email) error
}

// Notifier publishes in-app notifications.
type Notifier interface {
	Publish(ctx context.Context, n *notify.Notification) error
}

// ledgerExcluded lists target statuses that get no plain ledger record
// because their side effect writes its own.
var ledgerExcluded = map[meeting.Status]bool{
	meeting.StatusTranscriptionPending: true,
}

// Option configures a single Apply call.
type Option func(*applyOptions)

type applyOptions struct {
	report *notify.Report
}

// WithReport supplies the generated report for COMPLETE_REPORT.
func WithReport(r *notify.Report) Option {
	return func(o *applyOptions) { o.report = r }
}

// Deps are the collaborators of an Orchestrator. Mailer, Notifier, Tracer and
// Metrics are optional.
type Deps struct {
	Store       Store
	Dispatcher  jobs.Dispatcher
	Estimator   Estimator
	Blobs       blob.Store
	Renderer    *notify.Renderer
	Mailer      Mailer
	Notifier    Notifier
	FrontendURL string
	Tracer      *observability.Tracer
	Metrics     *observability.CaptureMetrics
	Logger      logging.Logger
}

// Orchestrator loads a meeting, rebuilds its state machine from the persisted
// status, fires an event and runs the resulting side effects.
type Orchestrator struct {
	store       Store
	dispatcher  jobs.Dispatcher
	estimator   Estimator
	blobs       blob.Store
	renderer    *notify.Renderer
	mailer      Mailer
	notifier    Notifier
	frontendURL string
	tracer      *observability.Tracer
	metrics     *observability.CaptureMetrics
	logger      logging.Logger
	now         func() time.Time
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(d Deps) *Orchestrator {
	if d.Renderer == nil {
		d.Renderer = notify.NewRenderer()
	}
	if d.Tracer == nil {
		d.Tracer = observability.NewTracer()
	}
	if d.Logger == nil {
		d.Logger = logging.NewNopLogger()
	}
	return &Orchestrator{
		store:       d.Store,
		dispatcher:  d.Dispatcher,
		estimator:   d.Estimator,
		blobs:       d.Blobs,
		renderer:    d.Renderer,
		mailer:      d.Mailer,
		notifier:    d.Notifier,
		frontendURL: d.FrontendURL,
		tracer:      d.Tracer,
		metrics:     d.Metrics,
		logger:      d.Logger.With(logging.F("component", "lifecycle")),
		now:         time.Now,
	}
}

// Apply fires event on the meeting and returns the meeting in its new state.
func (o *Orchestrator) Apply(ctx context.Context, meetingID int64, event meeting.Event, opts ...Option) (*meeting.Meeting, error) {
	var options applyOptions
	for _, opt := range opts {
		opt(&options)
	}

	ctx, span := o.tracer.StartTransitionSpan(ctx, meetingID, string(event))
	defer span.End()
	helper := observability.NewSpanHelper(span)

	m, from, to, err := o.apply(ctx, meetingID, event, options)
	if err != nil {
		ce := mcerrors.Classify(err, "transition")
		helper.SetError(err, string(ce.Code), mcerrors.IsRetryable(ce.Code))
		o.metrics.RecordTransition(string(event), "error")
		o.logger.Warn("Transition failed",
			logging.MeetingID(meetingID),
			logging.F("event", event),
			logging.Err(err))
		return nil, fmt.Errorf("error applying transition %s to meeting %d: %w", event, meetingID, err)
	}

	helper.SetTransition(string(from), string(to))
	helper.SetSuccess()
	o.metrics.RecordTransition(string(event), "ok")
	o.logger.Info("Meeting transitioned",
		logging.MeetingID(meetingID),
		logging.F("event", event),
		logging.F("from", from),
		logging.F("to", to))
	return m, nil
}

func (o *Orchestrator) apply(ctx context.Context, meetingID int64, event meeting.Event, options applyOptions) (*meeting.Meeting, meeting.Status, meeting.Status, error) {
	m, err := o.store.Meetings().Get(ctx, meetingID)
	if err != nil {
		return nil, "", "", err
	}

	variant, err := VariantFor(m.Platform)
	if err != nil {
		return nil, "", "", err
	}
	from, err := variant.StateFor(m.Status)
	if err != nil {
		return nil, "", "", err
	}
	to, err := variant.Send(m.ID, from, event)
	if err != nil {
		return nil, "", "", err
	}

	if err := o.runSideEffects(ctx, m, from, to, event, options); err != nil {
		return nil, from, to, err
	}
	m.Status = to

	if !ledgerExcluded[to] {
		if err := o.store.Ledger().Append(ctx, &ledger.Record{MeetingID: m.ID, Status: to}); err != nil {
			return nil, from, to, err
		}
	}

	return m, from, to, nil
}

func (o *Orchestrator) runSideEffects(ctx context.Context, m *meeting.Meeting, from, to meeting.Status, event meeting.Event, options applyOptions) error {
	switch {
	case event == meeting.EventInitTranscription:
		return o.initTranscription(ctx, m, from, to)
	case event == meeting.EventStartCaptureBot:
		return o.store.InTx(ctx, func(s Store) error {
			if err := s.Meetings().TransitionStatus(ctx, m.ID, from, to); err != nil {
				return err
			}
			now := o.now()
			m.StartDate = &now
			return s.Meetings().SetStartDate(ctx, m.ID, now)
		})
	case event == meeting.EventCompleteCapture:
		return o.store.InTx(ctx, func(s Store) error {
			if err := s.Meetings().TransitionStatus(ctx, m.ID, from, to); err != nil {
				return err
			}
			now := o.now()
			m.EndDate = &now
			return s.Meetings().SetEndDate(ctx, m.ID, now)
		})
	case event == meeting.EventStartReport:
		return o.startReport(ctx, m, from, to)
	case event == meeting.EventCompleteReport:
		return o.completeReport(ctx, m, from, to, options.report)
	case event == meeting.EventCompleteTranscription && from == meeting.StatusReportDone:
		return o.store.InTx(ctx, func(s Store) error {
			if err := s.Meetings().TransitionStatus(ctx, m.ID, from, to); err != nil {
				return err
			}
			m.ReportFilename = ""
			return s.Meetings().SetReportFilename(ctx, m.ID, "")
		})
	default:
		return o.store.Meetings().TransitionStatus(ctx, m.ID, from, to)
	}
}

func (o *Orchestrator) initTranscription(ctx context.Context, m *meeting.Meeting, from, to meeting.Status) error {
	err := o.store.InTx(ctx, func(s Store) error {
		if err := s.Meetings().TransitionStatus(ctx, m.ID, from, to); err != nil {
			return err
		}
		if origin, _ := m.Platform.Origin(); origin == meeting.OriginRecord {
			now := o.now()
			m.EndDate = &now
			if err := s.Meetings().SetEndDate(ctx, m.ID, now); err != nil {
				return err
			}
		}
		if _, err := o.dispatcher.Dispatch(ctx, jobs.TranscribeTask(m.ID)); err != nil {
			return &mcerrors.TaskCreationError{Task: jobs.TaskTranscribe, MeetingID: m.ID, Cause: err}
		}
		return nil
	})
	if err != nil {
		return err
	}

	rec, err := o.estimator.Predict(ctx, m.ID)
	if err != nil {
		o.logger.Warn("Failed to estimate transcription wait", logging.MeetingID(m.ID), logging.Err(err))
		rec = &ledger.Record{MeetingID: m.ID, Status: to}
	}
	return o.store.Ledger().Append(ctx, rec)
}

func (o *Orchestrator) startReport(ctx context.Context, m *meeting.Meeting, from, to meeting.Status) error {
	if m.TranscriptionFilename == "" {
		return fmt.Errorf("transcription file of meeting %d: %w", m.ID, mcerrors.ErrNotFound)
	}

	return o.store.InTx(ctx, func(s Store) error {
		if err := s.Meetings().TransitionStatus(ctx, m.ID, from, to); err != nil {
			return err
		}
		if _, err := o.dispatcher.Dispatch(ctx, jobs.ReportTask(m.ID, m.TranscriptionFilename)); err != nil {
			return &mcerrors.TaskCreationError{Task: jobs.TaskReport, MeetingID: m.ID, Cause: err}
		}
		return nil
	})
}

func (o *Orchestrator) completeReport(ctx context.Context, m *meeting.Meeting, from, to meeting.Status, report *notify.Report) error {
	if report == nil {
		return fmt.Errorf("report payload is required: %w", mcerrors.ErrValidation)
	}

	doc, err := o.renderer.RenderReport(m.Name, report)
	if err != nil {
		return err
	}
	path := blob.ReportPath(m.ID)

	err = o.store.InTx(ctx, func(s Store) error {
		if err := s.Meetings().TransitionStatus(ctx, m.ID, from, to); err != nil {
			return err
		}
		if err := o.blobs.Put(ctx, path, bytes.NewReader(doc), int64(len(doc)), blob.ContentTypeHTML); err != nil {
			return err
		}
		return s.Meetings().SetReportFilename(ctx, m.ID, path)
	})
	if err != nil {
		return err
	}
	m.ReportFilename = path

	o.announceReport(ctx, m)
	return nil
}

// announceReport emails the owner and publishes a notification. Failures are
// logged only; the transition has already committed.
func (o *Orchestrator) announceReport(ctx context.Context, m *meeting.Meeting) {
	link := notify.MeetingLink(o.frontendURL, m.ID)
	log := o.logger.With(logging.MeetingID(m.ID))

	if o.mailer != nil && m.Owner.Email != "" {
		email, err := o.renderer.ReportReadyEmail(m.Owner.Email, m.Name, link)
		if err == nil {
			err = o.mailer.Send(ctx, email)
		}
		if err != nil {
			log.Error("Failed to send report email", logging.Err(err))
		}
	}

	if o.notifier != nil {
		n := notify.ReportReadyNotification(m.Owner.KeycloakUUID.String(), m.Name, link)
		if err := o.notifier.Publish(ctx, n); err != nil {
			log.Error("Failed to publish report notification", logging.Err(err))
		}
	}
}
