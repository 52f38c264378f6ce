package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/otherjamesbrown/meetcap/pkg/meeting"
)

// EstimatorConfig holds the throughput assumptions behind the wait estimate.
type EstimatorConfig struct {
	ParallelPods            int
	AvgTranscriptionMinutes int
	AvgMeetingHours         int
	Window                  time.Duration
}

// DefaultEstimatorConfig returns the production defaults.
func DefaultEstimatorConfig() EstimatorConfig {
	return EstimatorConfig{
		ParallelPods:            14,
		AvgTranscriptionMinutes: 12,
		AvgMeetingHours:         1,
		Window:                  24 * time.Hour,
	}
}

// PendingCounter counts meetings in a status created since a point in time.
type PendingCounter interface {
	CountByStatusSince(ctx context.Context, status meeting.Status, since time.Time) (int, error)
}

// LatestReader reads the latest ledger record of a meeting for a status.
type LatestReader interface {
	Latest(ctx context.Context, meetingID int64, status meeting.Status) (*Record, error)
}

// Estimator predicts how long a new transcription request waits.
type Estimator struct {
	cfg     EstimatorConfig
	counter PendingCounter
	records LatestReader
	now     func() time.Time
}

// NewEstimator creates an estimator. Non-positive config values fall back to defaults.
func NewEstimator(cfg EstimatorConfig, counter PendingCounter, records LatestReader) *Estimator {
	def := DefaultEstimatorConfig()
	if cfg.ParallelPods <= 0 {
		cfg.ParallelPods = def.ParallelPods
	}
	if cfg.AvgTranscriptionMinutes <= 0 {
		cfg.AvgTranscriptionMinutes = def.AvgTranscriptionMinutes
	}
	if cfg.AvgMeetingHours <= 0 {
		cfg.AvgMeetingHours = def.AvgMeetingHours
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	return &Estimator{cfg: cfg, counter: counter, records: records, now: time.Now}
}

// WaitFor returns the estimated wait given the number of pending requests.
func (e *Estimator) WaitFor(pending int) time.Duration {
	batches := pending / e.cfg.ParallelPods
	minutes := batches*e.cfg.AvgTranscriptionMinutes + e.cfg.AvgMeetingHours*60
	return time.Duration(minutes) * time.Minute
}

// EstimateWait counts recent pending transcriptions and returns the wait.
func (e *Estimator) EstimateWait(ctx context.Context) (time.Duration, error) {
	since := e.now().Add(-e.cfg.Window)
	pending, err := e.counter.CountByStatusSince(ctx, meeting.StatusTranscriptionPending, since)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending transcriptions: %w", err)
	}
	return e.WaitFor(pending), nil
}

// Predict returns the record to append when a meeting enters TRANSCRIPTION_PENDING.
func (e *Estimator) Predict(ctx context.Context, meetingID int64) (*Record, error) {
	wait, err := e.EstimateWait(ctx)
	if err != nil {
		return nil, err
	}
	predicted := e.now().Add(wait)
	return &Record{
		MeetingID:                     meetingID,
		Status:                        meeting.StatusTranscriptionPending,
		PredictedDateOfNextTransition: &predicted,
	}, nil
}

// RemainingMinutes returns the minutes left until the predicted end of the
// meeting's transcription wait, never negative.
func (e *Estimator) RemainingMinutes(ctx context.Context, meetingID int64) (int, error) {
	rec, err := e.records.Latest(ctx, meetingID, meeting.StatusTranscriptionPending)
	if err != nil {
		return 0, err
	}
	if rec.PredictedDateOfNextTransition == nil {
		return 0, nil
	}
	left := rec.PredictedDateOfNextTransition.Sub(e.now())
	if left <= 0 {
		return 0, nil
	}
	return int(left / time.Minute), nil
}
