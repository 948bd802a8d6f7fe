package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jcastillo/ticketero/internal/model"
	"github.com/jmoiron/sqlx"
)

const ticketColumns = `
	id, reference_code, numero, national_id, telefono, branch_office,
	queue_type, status, position_in_queue, estimated_wait_minutes,
	assigned_advisor_id, assigned_module, upcoming_turn_notified,
	created_at, called_at, started_at, completed_at`

// TicketsRepository defines persistence for the tickets table.
// Methods taking a tx participate in the caller's transaction; passing
// nil opens and commits an internal one.
type TicketsRepository interface {
	Insert(ctx context.Context, tx *sqlx.Tx, t *model.Ticket) error
	GetByID(ctx context.Context, tx *sqlx.Tx, id int64) (*model.Ticket, error)
	GetByReference(ctx context.Context, code string) (*model.Ticket, error)
	CountWaiting(ctx context.Context, tx *sqlx.Tx, q model.QueueType) (int, error)
	ListWaiting(ctx context.Context, tx *sqlx.Tx, q model.QueueType) ([]model.Ticket, error)
	ListActive(ctx context.Context, tx *sqlx.Tx, q model.QueueType) ([]model.Ticket, error)
	CountByStatus(ctx context.Context, q model.QueueType, s model.TicketStatus) (int, error)

	// GetCurrentForAdvisor derives the ticket an advisor is serving:
	// status CALLED or IN_PROGRESS and bound to the advisor. Returns
	// (nil, nil) when the advisor has no active ticket.
	GetCurrentForAdvisor(ctx context.Context, tx *sqlx.Tx, advisorID int64) (*model.Ticket, error)

	// Direct atomic field updates: each guards on the expected current
	// status so a stale in-memory copy cannot clobber newer state.
	AssignCalled(ctx context.Context, tx *sqlx.Tx, ticketID, advisorID int64, module int, at time.Time) (bool, error)
	MarkInProgress(ctx context.Context, tx *sqlx.Tx, ticketID int64, at time.Time) error
	MarkCompleted(ctx context.Context, tx *sqlx.Tx, ticketID int64, at time.Time) error
	UpdatePosition(ctx context.Context, tx *sqlx.Tx, ticketID int64, position, waitMinutes int) error
	MarkUpcomingNotified(ctx context.Context, tx *sqlx.Tx, ticketID int64) error
	RevertToWaiting(ctx context.Context, tx *sqlx.Tx, ticketID int64, position, waitMinutes int) error
}

type TicketsRepositoryImpl struct {
	db *sqlx.DB
}

func NewTicketsRepository(db *sqlx.DB) *TicketsRepositoryImpl {
	return &TicketsRepositoryImpl{db: db}
}

var _ TicketsRepository = (*TicketsRepositoryImpl)(nil)

// withTx runs fn in the provided tx, or starts a new transaction when tx is nil.
func (r *TicketsRepositoryImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}

	t, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() { _ = t.Rollback() }()
	if err := fn(t); err != nil {
		return err
	}

	return t.Commit()
}

func (r *TicketsRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, t *model.Ticket) error {
	const q = `
		INSERT INTO tickets
		    (reference_code, numero, national_id, telefono, branch_office,
		     queue_type, status, position_in_queue, estimated_wait_minutes,
		     upcoming_turn_notified, created_at)
		VALUES
		    (?, ?, ?, ?, ?, ?, 'WAITING', ?, ?, 0, NOW())
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, q,
			t.ReferenceCode, t.Numero, t.NationalID, t.Telefono, t.BranchOffice,
			t.QueueType.String(), t.PositionInQueue, t.EstimatedWaitMinutes,
		)
		if err != nil {
			return err
		}
		t.ID, err = res.LastInsertId()
		return err
	})
}

func (r *TicketsRepositoryImpl) GetByID(ctx context.Context, tx *sqlx.Tx, id int64) (*model.Ticket, error) {
	const q = `SELECT` + ticketColumns + ` FROM tickets WHERE id = ?`

	var t model.Ticket
	var err error
	if tx != nil {
		err = tx.GetContext(ctx, &t, q, id)
	} else {
		err = r.db.GetContext(ctx, &t, q, id)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TicketsRepositoryImpl) GetByReference(ctx context.Context, code string) (*model.Ticket, error) {
	const q = `SELECT` + ticketColumns + ` FROM tickets WHERE reference_code = ? LIMIT 1`

	var t model.Ticket
	err := r.db.GetContext(ctx, &t, q, code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TicketsRepositoryImpl) CountWaiting(ctx context.Context, tx *sqlx.Tx, qt model.QueueType) (int, error) {
	const q = `SELECT COUNT(*) FROM tickets WHERE queue_type = ? AND status = 'WAITING'`

	var n int
	var err error
	if tx != nil {
		err = tx.GetContext(ctx, &n, q, qt.String())
	} else {
		err = r.db.GetContext(ctx, &n, q, qt.String())
	}
	return n, err
}

func (r *TicketsRepositoryImpl) ListWaiting(ctx context.Context, tx *sqlx.Tx, qt model.QueueType) ([]model.Ticket, error) {
	const q = `SELECT` + ticketColumns + `
		FROM tickets
		WHERE queue_type = ? AND status = 'WAITING'
		ORDER BY created_at ASC, id ASC`

	return r.list(ctx, tx, q, qt.String())
}

// ListActive returns WAITING and CALLED tickets ordered by creation time,
// the set whose positions Reorder maintains.
func (r *TicketsRepositoryImpl) ListActive(ctx context.Context, tx *sqlx.Tx, qt model.QueueType) ([]model.Ticket, error) {
	const q = `SELECT` + ticketColumns + `
		FROM tickets
		WHERE queue_type = ? AND status IN ('WAITING', 'CALLED')
		ORDER BY created_at ASC, id ASC`

	return r.list(ctx, tx, q, qt.String())
}

func (r *TicketsRepositoryImpl) list(ctx context.Context, tx *sqlx.Tx, q string, args ...any) ([]model.Ticket, error) {
	var ts []model.Ticket
	var err error
	if tx != nil {
		err = tx.SelectContext(ctx, &ts, q, args...)
	} else {
		err = r.db.SelectContext(ctx, &ts, q, args...)
	}
	return ts, err
}

func (r *TicketsRepositoryImpl) CountByStatus(ctx context.Context, qt model.QueueType, s model.TicketStatus) (int, error) {
	const q = `SELECT COUNT(*) FROM tickets WHERE queue_type = ? AND status = ?`

	var n int
	err := r.db.GetContext(ctx, &n, q, qt.String(), s.String())
	return n, err
}

func (r *TicketsRepositoryImpl) GetCurrentForAdvisor(ctx context.Context, tx *sqlx.Tx, advisorID int64) (*model.Ticket, error) {
	const q = `SELECT` + ticketColumns + `
		FROM tickets
		WHERE assigned_advisor_id = ? AND status IN ('CALLED', 'IN_PROGRESS')
		ORDER BY called_at DESC
		LIMIT 1`

	var t model.Ticket
	var err error
	if tx != nil {
		err = tx.GetContext(ctx, &t, q, advisorID)
	} else {
		err = r.db.GetContext(ctx, &t, q, advisorID)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// AssignCalled binds the advisor and moves WAITING → CALLED in one
// statement. Returns false when the ticket was no longer WAITING, which
// callers treat as lost contention rather than an error.
func (r *TicketsRepositoryImpl) AssignCalled(ctx context.Context, tx *sqlx.Tx, ticketID, advisorID int64, module int, at time.Time) (bool, error) {
	const q = `
		UPDATE tickets
		SET status = 'CALLED', assigned_advisor_id = ?, assigned_module = ?, called_at = ?
		WHERE id = ? AND status = 'WAITING'
	`
	var assigned bool
	err := r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, q, advisorID, module, at, ticketID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		assigned = n > 0
		return err
	})
	return assigned, err
}

func (r *TicketsRepositoryImpl) MarkInProgress(ctx context.Context, tx *sqlx.Tx, ticketID int64, at time.Time) error {
	const q = `
		UPDATE tickets SET status = 'IN_PROGRESS', started_at = ?
		WHERE id = ? AND status = 'CALLED'
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, at, ticketID)
		return err
	})
}

func (r *TicketsRepositoryImpl) MarkCompleted(ctx context.Context, tx *sqlx.Tx, ticketID int64, at time.Time) error {
	const q = `
		UPDATE tickets SET status = 'COMPLETED', completed_at = ?
		WHERE id = ? AND status = 'IN_PROGRESS'
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, at, ticketID)
		return err
	})
}

func (r *TicketsRepositoryImpl) UpdatePosition(ctx context.Context, tx *sqlx.Tx, ticketID int64, position, waitMinutes int) error {
	const q = `
		UPDATE tickets SET position_in_queue = ?, estimated_wait_minutes = ?
		WHERE id = ?
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, position, waitMinutes, ticketID)
		return err
	})
}

func (r *TicketsRepositoryImpl) MarkUpcomingNotified(ctx context.Context, tx *sqlx.Tx, ticketID int64) error {
	const q = `UPDATE tickets SET upcoming_turn_notified = 1 WHERE id = ?`

	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, ticketID)
		return err
	})
}

// RevertToWaiting is the single backward edge of the state machine,
// taken only during recovery: advisor binding and call/start timestamps
// are cleared and the ticket rejoins the queue at the given position.
func (r *TicketsRepositoryImpl) RevertToWaiting(ctx context.Context, tx *sqlx.Tx, ticketID int64, position, waitMinutes int) error {
	const q = `
		UPDATE tickets
		SET status = 'WAITING', assigned_advisor_id = NULL, assigned_module = NULL,
		    called_at = NULL, started_at = NULL,
		    position_in_queue = ?, estimated_wait_minutes = ?
		WHERE id = ? AND status IN ('CALLED', 'IN_PROGRESS')
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, position, waitMinutes, ticketID)
		return err
	})
}
