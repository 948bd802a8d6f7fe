package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jcastillo/ticketero/internal/model"
	"github.com/jmoiron/sqlx"
)

const advisorColumns = `
	id, name, module_number, queue_types, status, avg_service_time_minutes,
	total_tickets_served, last_heartbeat, recovery_count, created_at, updated_at`

// AdvisorsRepository defines persistence for the advisors table.
type AdvisorsRepository interface {
	GetByID(ctx context.Context, tx *sqlx.Tx, id int64) (*model.Advisor, error)

	// SelectAvailableForUpdate picks the least-loaded AVAILABLE advisor
	// qualified for the queue type, holding an exclusive row lock for
	// the rest of the transaction. Returns (nil, nil) when no candidate
	// qualifies. Must be called inside a transaction.
	SelectAvailableForUpdate(ctx context.Context, tx *sqlx.Tx, q model.QueueType) (*model.Advisor, error)

	MarkBusy(ctx context.Context, tx *sqlx.Tx, id int64, at time.Time) error

	// Release frees a BUSY advisor after a completed service, updating
	// the rolling average and served count in the same statement.
	Release(ctx context.Context, tx *sqlx.Tx, id int64, newAvgMinutes int, at time.Time) error

	// ForceAvailable flips an advisor to AVAILABLE without touching
	// service statistics (shutdown and recovery paths).
	ForceAvailable(ctx context.Context, tx *sqlx.Tx, id int64) error

	ListByStatus(ctx context.Context, s model.AdvisorStatus) ([]model.Advisor, error)
	CountByStatus(ctx context.Context, s model.AdvisorStatus) (int, error)

	// RefreshHeartbeats stamps last_heartbeat = NOW() on every BUSY
	// advisor in a single statement.
	RefreshHeartbeats(ctx context.Context) (int64, error)

	// ListDeadForUpdate returns BUSY advisors whose heartbeat is missing
	// or older than threshold, locked for the caller's transaction.
	ListDeadForUpdate(ctx context.Context, tx *sqlx.Tx, threshold time.Time) ([]model.Advisor, error)

	// Recover marks a BUSY advisor AVAILABLE, refreshes its heartbeat
	// and increments the recovery counter. An advisor in any other
	// status is left untouched.
	Recover(ctx context.Context, tx *sqlx.Tx, id int64) error

	Upsert(ctx context.Context, tx *sqlx.Tx, a model.Advisor) error
}

type AdvisorsRepositoryImpl struct {
	db *sqlx.DB
}

func NewAdvisorsRepository(db *sqlx.DB) *AdvisorsRepositoryImpl {
	return &AdvisorsRepositoryImpl{db: db}
}

var _ AdvisorsRepository = (*AdvisorsRepositoryImpl)(nil)

func (r *AdvisorsRepositoryImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
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

func (r *AdvisorsRepositoryImpl) GetByID(ctx context.Context, tx *sqlx.Tx, id int64) (*model.Advisor, error) {
	const q = `SELECT` + advisorColumns + ` FROM advisors WHERE id = ?`

	var a model.Advisor
	var err error
	if tx != nil {
		err = tx.GetContext(ctx, &a, q, id)
	} else {
		err = r.db.GetContext(ctx, &a, q, id)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAdvisorNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AdvisorsRepositoryImpl) SelectAvailableForUpdate(ctx context.Context, tx *sqlx.Tx, qt model.QueueType) (*model.Advisor, error) {
	const q = `SELECT` + advisorColumns + `
		FROM advisors
		WHERE status = 'AVAILABLE' AND FIND_IN_SET(?, queue_types) > 0
		ORDER BY total_tickets_served ASC, id ASC
		LIMIT 1
		FOR UPDATE`

	var a model.Advisor
	err := tx.GetContext(ctx, &a, q, qt.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AdvisorsRepositoryImpl) MarkBusy(ctx context.Context, tx *sqlx.Tx, id int64, at time.Time) error {
	const q = `
		UPDATE advisors
		SET status = 'BUSY', last_heartbeat = ?, updated_at = NOW()
		WHERE id = ? AND status = 'AVAILABLE'
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, at, id)
		return err
	})
}

func (r *AdvisorsRepositoryImpl) Release(ctx context.Context, tx *sqlx.Tx, id int64, newAvgMinutes int, at time.Time) error {
	const q = `
		UPDATE advisors
		SET status = 'AVAILABLE',
		    total_tickets_served = total_tickets_served + 1,
		    avg_service_time_minutes = ?,
		    last_heartbeat = ?,
		    updated_at = NOW()
		WHERE id = ? AND status = 'BUSY'
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, newAvgMinutes, at, id)
		return err
	})
}

func (r *AdvisorsRepositoryImpl) ForceAvailable(ctx context.Context, tx *sqlx.Tx, id int64) error {
	const q = `
		UPDATE advisors SET status = 'AVAILABLE', updated_at = NOW()
		WHERE id = ? AND status = 'BUSY'
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, id)
		return err
	})
}

func (r *AdvisorsRepositoryImpl) ListByStatus(ctx context.Context, s model.AdvisorStatus) ([]model.Advisor, error) {
	const q = `SELECT` + advisorColumns + ` FROM advisors WHERE status = ? ORDER BY module_number ASC`

	var as []model.Advisor
	err := r.db.SelectContext(ctx, &as, q, s.String())
	return as, err
}

func (r *AdvisorsRepositoryImpl) CountByStatus(ctx context.Context, s model.AdvisorStatus) (int, error) {
	const q = `SELECT COUNT(*) FROM advisors WHERE status = ?`

	var n int
	err := r.db.GetContext(ctx, &n, q, s.String())
	return n, err
}

func (r *AdvisorsRepositoryImpl) RefreshHeartbeats(ctx context.Context) (int64, error) {
	const q = `UPDATE advisors SET last_heartbeat = NOW() WHERE status = 'BUSY'`

	res, err := r.db.ExecContext(ctx, q)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *AdvisorsRepositoryImpl) ListDeadForUpdate(ctx context.Context, tx *sqlx.Tx, threshold time.Time) ([]model.Advisor, error) {
	const q = `SELECT` + advisorColumns + `
		FROM advisors
		WHERE status = 'BUSY' AND (last_heartbeat IS NULL OR last_heartbeat < ?)
		FOR UPDATE`

	var as []model.Advisor
	err := tx.SelectContext(ctx, &as, q, threshold)
	return as, err
}

func (r *AdvisorsRepositoryImpl) Recover(ctx context.Context, tx *sqlx.Tx, id int64) error {
	const q = `
		UPDATE advisors
		SET status = 'AVAILABLE', last_heartbeat = NOW(),
		    recovery_count = recovery_count + 1, updated_at = NOW()
		WHERE id = ? AND status = 'BUSY'
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, id)
		return err
	})
}

// Upsert inserts or refreshes an advisor keyed by module number (seed).
func (r *AdvisorsRepositoryImpl) Upsert(ctx context.Context, tx *sqlx.Tx, a model.Advisor) error {
	const q = `
		INSERT INTO advisors
		    (name, module_number, queue_types, status, avg_service_time_minutes,
		     total_tickets_served, recovery_count, created_at, updated_at)
		VALUES
		    (?, ?, ?, ?, ?, 0, 0, NOW(), NOW())
		ON DUPLICATE KEY UPDATE
		    name = VALUES(name),
		    queue_types = VALUES(queue_types),
		    updated_at = VALUES(updated_at)
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			a.Name, a.ModuleNumber, a.QueueTypes, a.Status.String(), a.AvgServiceTimeMinutes,
		)
		return err
	})
}
