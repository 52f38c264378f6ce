package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcerrors "github.com/otherjamesbrown/meetcap/pkg/errors"
	"github.com/otherjamesbrown/meetcap/pkg/meeting"
)

type fakeCounter struct {
	n      int
	err    error
	status meeting.Status
	since  time.Time
}

func (f *fakeCounter) CountByStatusSince(_ context.Context, status meeting.Status, since time.Time) (int, error) {
	f.status = status
	f.since = since
	return f.n, f.err
}

type fakeRecords struct {
	rec *Record
	err error
}

func (f *fakeRecords) Latest(context.Context, int64, meeting.Status) (*Record, error) {
	return f.rec, f.err
}

func fixedNow() time.Time {
	return time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
}

func TestEstimator_WaitFor(t *testing.T) {
	e := NewEstimator(DefaultEstimatorConfig(), nil, nil)

	tests := []struct {
		pending int
		want    time.Duration
	}{
		{0, 60 * time.Minute},
		{13, 60 * time.Minute},
		{14, 72 * time.Minute},
		{27, 72 * time.Minute},
		{28, 84 * time.Minute},
		{140, 180 * time.Minute},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, e.WaitFor(tt.pending), "pending=%d", tt.pending)
	}
}

func TestEstimator_DefaultsForZeroConfig(t *testing.T) {
	e := NewEstimator(EstimatorConfig{}, nil, nil)
	assert.Equal(t, DefaultEstimatorConfig(), e.cfg)
}

func TestEstimator_Predict(t *testing.T) {
	counter := &fakeCounter{n: 15}
	e := NewEstimator(DefaultEstimatorConfig(), counter, nil)
	e.now = fixedNow

	rec, err := e.Predict(context.Background(), 42)
	require.NoError(t, err)

	assert.Equal(t, int64(42), rec.MeetingID)
	assert.Equal(t, meeting.StatusTranscriptionPending, rec.Status)
	require.NotNil(t, rec.PredictedDateOfNextTransition)
	assert.Equal(t, fixedNow().Add(72*time.Minute), *rec.PredictedDateOfNextTransition)

	assert.Equal(t, meeting.StatusTranscriptionPending, counter.status)
	assert.Equal(t, fixedNow().Add(-24*time.Hour), counter.since)
}

func TestEstimator_PredictCountError(t *testing.T) {
	e := NewEstimator(DefaultEstimatorConfig(), &fakeCounter{err: errors.New("boom")}, nil)

	_, err := e.Predict(context.Background(), 1)
	assert.Error(t, err)
}

func TestEstimator_RemainingMinutes(t *testing.T) {
	future := fixedNow().Add(25*time.Minute + 40*time.Second)
	past := fixedNow().Add(-5 * time.Minute)

	tests := []struct {
		name string
		rec  *Record
		want int
	}{
		{"future", &Record{PredictedDateOfNextTransition: &future}, 25},
		{"past clamps to zero", &Record{PredictedDateOfNextTransition: &past}, 0},
		{"no prediction", &Record{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEstimator(DefaultEstimatorConfig(), nil, &fakeRecords{rec: tt.rec})
			e.now = fixedNow

			got, err := e.RemainingMinutes(context.Background(), 7)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEstimator_RemainingMinutesNotFound(t *testing.T) {
	e := NewEstimator(DefaultEstimatorConfig(), nil, &fakeRecords{err: mcerrors.ErrNotFound})

	_, err := e.RemainingMinutes(context.Background(), 7)
	assert.True(t, mcerrors.IsNotFound(err))
}
