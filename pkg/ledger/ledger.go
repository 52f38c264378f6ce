// Package ledger keeps the append-only history of meeting transitions and the
// waiting-time estimate attached to transcription requests.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/otherjamesbrown/meetcap/pkg/db"
	mcerrors "github.com/otherjamesbrown/meetcap/pkg/errors"
	"github.com/otherjamesbrown/meetcap/pkg/logging"
	"github.com/otherjamesbrown/meetcap/pkg/meeting"
)

// Record is one immutable ledger entry.
type Record struct {
	ID                            int64
	MeetingID                     int64
	Timestamp                     time.Time
	Status                        meeting.Status
	PredictedDateOfNextTransition *time.Time
}

// Repository stores transition records.
type Repository struct {
	q      db.Querier
	logger logging.Logger
}

// NewRepository creates a ledger repository.
func NewRepository(q db.Querier, logger logging.Logger) *Repository {
	return &Repository{
		q:      q,
		logger: logger.With(logging.F("component", "ledger_repository")),
	}
}

// WithQuerier returns a copy bound to q.
func (r *Repository) WithQuerier(q db.Querier) *Repository {
	return &Repository{q: q, logger: r.logger}
}

// Append inserts a record. ID and Timestamp are filled from the database.
func (r *Repository) Append(ctx context.Context, rec *Record) error {
	query := `
		INSERT INTO meeting_transition_records (meeting_id, status, predicted_date_of_next_transition)
		VALUES ($1, $2, $3)
		RETURNING id, recorded_at`

	err := r.q.QueryRow(ctx, query, rec.MeetingID, rec.Status, rec.PredictedDateOfNextTransition).
		Scan(&rec.ID, &rec.Timestamp)
	if err != nil {
		r.logger.Error("Failed to append transition record",
			logging.MeetingID(rec.MeetingID), logging.F("status", rec.Status), logging.Err(err))
		return fmt.Errorf("failed to append transition record: %w", err)
	}
	return nil
}

// Latest returns the most recent record for the meeting in the given status.
func (r *Repository) Latest(ctx context.Context, meetingID int64, status meeting.Status) (*Record, error) {
	query := `
		SELECT id, meeting_id, recorded_at, status, predicted_date_of_next_transition
		FROM meeting_transition_records
		WHERE meeting_id = $1 AND status = $2
		ORDER BY recorded_at DESC, id DESC
		LIMIT 1`

	var (
		rec Record
		raw string
	)
	err := r.q.QueryRow(ctx, query, meetingID, status).
		Scan(&rec.ID, &rec.MeetingID, &rec.Timestamp, &raw, &rec.PredictedDateOfNextTransition)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("no %s record for meeting %d: %w", status, meetingID, mcerrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read transition record: %w", err)
	}
	if rec.Status, err = meeting.ParseStatus(raw); err != nil {
		return nil, err
	}
	return &rec, nil
}

// History lists every record of a meeting, oldest first.
func (r *Repository) History(ctx context.Context, meetingID int64) ([]Record, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, meeting_id, recorded_at, status, predicted_date_of_next_transition
		FROM meeting_transition_records
		WHERE meeting_id = $1
		ORDER BY recorded_at, id`, meetingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transition records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec Record
			raw string
		)
		if err := rows.Scan(&rec.ID, &rec.MeetingID, &rec.Timestamp, &raw, &rec.PredictedDateOfNextTransition); err != nil {
			return nil, fmt.Errorf("failed to scan transition record: %w", err)
		}
		if rec.Status, err = meeting.ParseStatus(raw); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
