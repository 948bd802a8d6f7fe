package repository

import (
	"context"
	"time"

	"github.com/jcastillo/ticketero/internal/model"
	"github.com/jmoiron/sqlx"
)

// TicketEventsRepository appends rows to the per-ticket audit trail.
type TicketEventsRepository interface {
	Insert(ctx context.Context, tx *sqlx.Tx, e model.TicketEvent) error
}

type TicketEventsRepositoryImpl struct {
	db *sqlx.DB
}

func NewTicketEventsRepository(db *sqlx.DB) *TicketEventsRepositoryImpl {
	return &TicketEventsRepositoryImpl{db: db}
}

var _ TicketEventsRepository = (*TicketEventsRepositoryImpl)(nil)

func (r *TicketEventsRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, e model.TicketEvent) error {
	const q = `
		INSERT INTO ticket_events (ticket_id, event_type, new_status, advisor_id, notes, created_at)
		VALUES (?, ?, ?, ?, ?, NOW())
	`
	exec := func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, e.TicketID, e.EventType, e.NewStatus, e.AdvisorID, e.Notes)
		return err
	}
	if tx != nil {
		return exec(tx)
	}

	t, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = t.Rollback() }()
	if err := exec(t); err != nil {
		return err
	}
	return t.Commit()
}

// RecoveryEventsRepository appends advisor-reclamation audit rows.
type RecoveryEventsRepository interface {
	Insert(ctx context.Context, tx *sqlx.Tx, e model.RecoveryEvent) error
	CountSince(ctx context.Context, since time.Time) (int, error)
}

type RecoveryEventsRepositoryImpl struct {
	db *sqlx.DB
}

func NewRecoveryEventsRepository(db *sqlx.DB) *RecoveryEventsRepositoryImpl {
	return &RecoveryEventsRepositoryImpl{db: db}
}

var _ RecoveryEventsRepository = (*RecoveryEventsRepositoryImpl)(nil)

func (r *RecoveryEventsRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, e model.RecoveryEvent) error {
	const q = `
		INSERT INTO recovery_events
		    (advisor_id, ticket_id, recovery_type, old_advisor_status, old_ticket_status, notes, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, NOW())
	`
	exec := func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			e.AdvisorID, e.TicketID, e.RecoveryType, e.OldAdvisorStatus, e.OldTicketStatus, e.Notes,
		)
		return err
	}
	if tx != nil {
		return exec(tx)
	}

	t, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = t.Rollback() }()
	if err := exec(t); err != nil {
		return err
	}
	return t.Commit()
}

func (r *RecoveryEventsRepositoryImpl) CountSince(ctx context.Context, since time.Time) (int, error) {
	const q = `SELECT COUNT(*) FROM recovery_events WHERE detected_at >= ?`

	var n int
	err := r.db.GetContext(ctx, &n, q, since)
	return n, err
}
