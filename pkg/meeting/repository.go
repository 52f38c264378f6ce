package meeting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/otherjamesbrown/meetcap/pkg/db"
	mcerrors "github.com/otherjamesbrown/meetcap/pkg/errors"
	"github.com/otherjamesbrown/meetcap/pkg/logging"
)

// Repository provides meeting persistence on PostgreSQL.
type Repository struct {
	q      db.Querier
	logger logging.Logger
}

// NewRepository creates a repository over a pool or transaction.
func NewRepository(q db.Querier, logger logging.Logger) *Repository {
	return &Repository{
		q:      q,
		logger: logger.With(logging.F("component", "meeting_repository")),
	}
}

// WithQuerier returns a copy of the repository bound to q, typically a pgx.Tx.
func (r *Repository) WithQuerier(q db.Querier) *Repository {
	return &Repository{q: q, logger: r.logger}
}

const meetingColumns = `
	m.id, m.name, m.url, m.platform, m.platform_meeting_id, m.meeting_password,
	m.status, m.creation_date, m.start_date, m.end_date,
	m.transcription_filename, m.report_filename,
	u.id, u.keycloak_uuid, u.email, u.first_name, u.last_name`

// claimQuery moves the oldest pending meeting to "bot connecting" in a single
// statement. SKIP LOCKED lets concurrent workers pass over a row another worker
// is claiming instead of waiting on it.
const claimQuery = `
	WITH claimed AS (
		UPDATE meetings SET status = $1
		WHERE id = (
			SELECT id FROM meetings
			WHERE status = $2
			ORDER BY id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *
	)
	SELECT ` + meetingColumns + `
	FROM claimed m
	JOIN users u ON u.id = m.user_id`

// ClaimNextPending atomically claims the oldest CAPTURE_PENDING meeting and
// marks it CAPTURE_BOT_IS_CONNECTING. It returns (nil, nil) when there is
// nothing to claim.
func (r *Repository) ClaimNextPending(ctx context.Context) (*Meeting, error) {
	m, err := scanMeeting(r.q.QueryRow(ctx, claimQuery, StatusCaptureBotIsConnecting, StatusCapturePending))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to claim pending meeting", logging.Err(err))
		return nil, fmt.Errorf("failed to claim pending meeting: %w", err)
	}

	r.logger.Info("Claimed meeting", logging.MeetingID(m.ID), logging.F("platform", m.Platform))
	return m, nil
}

// Get loads a meeting with its owner. Missing meetings yield errors.ErrNotFound.
func (r *Repository) Get(ctx context.Context, id int64) (*Meeting, error) {
	query := `SELECT ` + meetingColumns + `
		FROM meetings m
		JOIN users u ON u.id = m.user_id
		WHERE m.id = $1`

	m, err := scanMeeting(r.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("meeting %d: %w", id, mcerrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get meeting %d: %w", id, err)
	}
	return m, nil
}

// GetStatus reads only the persisted status. It is the capture session's poll.
func (r *Repository) GetStatus(ctx context.Context, id int64) (Status, error) {
	var raw string
	err := r.q.QueryRow(ctx, `SELECT status FROM meetings WHERE id = $1`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("meeting %d: %w", id, mcerrors.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get status of meeting %d: %w", id, err)
	}
	return ParseStatus(raw)
}

// TransitionStatus moves a meeting from one status to another. The write only
// applies while the row still holds from; otherwise it fails with
// errors.ErrInvalidState and the caller's transition lost to a concurrent one.
func (r *Repository) TransitionStatus(ctx context.Context, id int64, from, to Status) error {
	tag, err := r.q.Exec(ctx,
		`UPDATE meetings SET status = $3 WHERE id = $1 AND status = $2`,
		id, from, to)
	if err != nil {
		r.logger.Error("Failed to update meeting status", logging.MeetingID(id), logging.Err(err))
		return fmt.Errorf("failed to update meeting %d: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	current, err := r.GetStatus(ctx, id)
	if err != nil {
		return err
	}
	r.logger.Warn("Meeting status changed concurrently",
		logging.MeetingID(id),
		logging.F("expected", from),
		logging.F("current", current))
	return fmt.Errorf("meeting %d is %s, expected %s: %w", id, current, from, mcerrors.ErrInvalidState)
}

// SetStartDate stamps the capture start time.
func (r *Repository) SetStartDate(ctx context.Context, id int64, at time.Time) error {
	return r.exec(ctx, id, `UPDATE meetings SET start_date = $2 WHERE id = $1`, id, at)
}

// SetEndDate stamps the capture end time.
func (r *Repository) SetEndDate(ctx context.Context, id int64, at time.Time) error {
	return r.exec(ctx, id, `UPDATE meetings SET end_date = $2 WHERE id = $1`, id, at)
}

// SetReportFilename records the stored report object; an empty name clears it.
func (r *Repository) SetReportFilename(ctx context.Context, id int64, name string) error {
	var value *string
	if name != "" {
		value = &name
	}
	return r.exec(ctx, id, `UPDATE meetings SET report_filename = $2 WHERE id = $1`, id, value)
}

// CountByStatusSince counts meetings in status created at or after since.
func (r *Repository) CountByStatusSince(ctx context.Context, status Status, since time.Time) (int, error) {
	var n int
	err := r.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM meetings WHERE status = $1 AND creation_date >= $2`,
		status, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s meetings: %w", status, err)
	}
	return n, nil
}

func (r *Repository) exec(ctx context.Context, id int64, sql string, args ...any) error {
	tag, err := r.q.Exec(ctx, sql, args...)
	if err != nil {
		r.logger.Error("Failed to update meeting", logging.MeetingID(id), logging.Err(err))
		return fmt.Errorf("failed to update meeting %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("meeting %d: %w", id, mcerrors.ErrNotFound)
	}
	return nil
}

func scanMeeting(row pgx.Row) (*Meeting, error) {
	var (
		m                               Meeting
		name, url, platformID, password *string
		transcription, report           *string
		firstName, lastName             *string
		platform, status                string
		keycloak                        uuid.UUID
	)

	err := row.Scan(
		&m.ID, &name, &url, &platform, &platformID, &password,
		&status, &m.CreationDate, &m.StartDate, &m.EndDate,
		&transcription, &report,
		&m.Owner.ID, &keycloak, &m.Owner.Email, &firstName, &lastName,
	)
	if err != nil {
		return nil, err
	}

	if m.Platform, err = ParsePlatform(platform); err != nil {
		return nil, err
	}
	if m.Status, err = ParseStatus(status); err != nil {
		return nil, err
	}

	m.Name = deref(name)
	m.URL = deref(url)
	m.PlatformMeetingID = deref(platformID)
	m.Password = deref(password)
	m.TranscriptionFilename = deref(transcription)
	m.ReportFilename = deref(report)
	m.Owner.KeycloakUUID = keycloak
	m.Owner.FirstName = deref(firstName)
	m.Owner.LastName = deref(lastName)

	return &m, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
