package lifecycle

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/otherjamesbrown/meetcap/pkg/db"
	"github.com/otherjamesbrown/meetcap/pkg/ledger"
	"github.com/otherjamesbrown/meetcap/pkg/logging"
	"github.com/otherjamesbrown/meetcap/pkg/meeting"
)

// MeetingStore is the meeting persistence the side effects use.
type MeetingStore interface {
	Get(ctx context.Context, id int64) (*meeting.Meeting, error)
	TransitionStatus(ctx context.Context, id int64, from, to meeting.Status) error
	SetStartDate(ctx context.Context, id int64, at time.Time) error
	SetEndDate(ctx context.Context, id int64, at time.Time) error
	SetReportFilename(ctx context.Context, id int64, name string) error
}

// LedgerStore appends transition records.
type LedgerStore interface {
	Append(ctx context.Context, rec *ledger.Record) error
}

// Store groups the repositories a transition writes, with a unit of work.
type Store interface {
	Meetings() MeetingStore
	Ledger() LedgerStore
	// InTx runs fn with a Store whose writes commit together or not at all.
	InTx(ctx context.Context, fn func(Store) error) error
}

// Pool is what PGStore needs from a connection pool.
type Pool interface {
	db.Querier
	db.TxBeginner
}

// PGStore implements Store on PostgreSQL.
type PGStore struct {
	beginner db.TxBeginner
	meetings *meeting.Repository
	ledger   *ledger.Repository
}

// NewPGStore creates a store over a pool.
func NewPGStore(pool Pool, logger logging.Logger) *PGStore {
	return &PGStore{
		beginner: pool,
		meetings: meeting.NewRepository(pool, logger),
		ledger:   ledger.NewRepository(pool, logger),
	}
}

func (s *PGStore) Meetings() MeetingStore { return s.meetings }
func (s *PGStore) Ledger() LedgerStore    { return s.ledger }

// InTx opens a transaction. Nested calls join the enclosing transaction.
func (s *PGStore) InTx(ctx context.Context, fn func(Store) error) error {
	if s.beginner == nil {
		return fn(s)
	}
	return db.WithTx(ctx, s.beginner, func(tx pgx.Tx) error {
		return fn(&PGStore{
			meetings: s.meetings.WithQuerier(tx),
			ledger:   s.ledger.WithQuerier(tx),
		})
	})
}

var _ Store = (*PGStore)(nil)
