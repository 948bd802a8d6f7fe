package repository

import (
	"context"
	"time"

	"github.com/jcastillo/ticketero/internal/model"
	"github.com/jmoiron/sqlx"
)

const outboxColumns = `
	id, aggregate_type, aggregate_id, event_type, payload, routing_key,
	status, retry_count, max_retries, next_retry_at, claimed_at,
	error_message, created_at, processed_at`

// OutboxRepository defines persistence for the outbox_messages table.
type OutboxRepository interface {
	// Insert writes an outbox row. Call it with the transaction that
	// writes the business record the message announces.
	Insert(ctx context.Context, tx *sqlx.Tx, m *model.OutboxMessage) error

	// ClaimDue atomically claims up to limit due rows, oldest first,
	// flipping them to PROCESSING and stamping claimed_at. Due means
	// PENDING with a retry time unset or elapsed, or PROCESSING with a
	// claim older than staleBefore: a publisher that died between the
	// claim and the terminal update loses its rows to the next claimer
	// once the lease runs out, so nothing is ever stranded. SKIP LOCKED
	// keeps concurrent instances off each other's rows.
	ClaimDue(ctx context.Context, limit int, staleBefore time.Time) ([]model.OutboxMessage, error)

	MarkSent(ctx context.Context, id int64, at time.Time) error

	// ScheduleRetry returns the row to PENDING with the retry count and
	// next attempt time, recording the delivery error.
	ScheduleRetry(ctx context.Context, id int64, retryCount int, nextRetryAt time.Time, errMsg string) error

	// MarkFailed is terminal: the row is never retried again and needs
	// operator intervention.
	MarkFailed(ctx context.Context, id int64, errMsg string, at time.Time) error

	DeleteSentBefore(ctx context.Context, cutoff time.Time) (int64, error)
	CountByStatus(ctx context.Context, s model.OutboxStatus) (int, error)
}

type OutboxRepositoryImpl struct {
	db *sqlx.DB
}

func NewOutboxRepository(db *sqlx.DB) *OutboxRepositoryImpl {
	return &OutboxRepositoryImpl{db: db}
}

var _ OutboxRepository = (*OutboxRepositoryImpl)(nil)

func (r *OutboxRepositoryImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
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

func (r *OutboxRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, m *model.OutboxMessage) error {
	const q = `
		INSERT INTO outbox_messages
		    (aggregate_type, aggregate_id, event_type, payload, routing_key,
		     status, retry_count, max_retries, created_at)
		VALUES
		    (?, ?, ?, ?, ?, 'PENDING', 0, ?, NOW())
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, q,
			m.AggregateType, m.AggregateID, m.EventType, m.Payload, m.RoutingKey, m.MaxRetries,
		)
		if err != nil {
			return err
		}
		m.ID, err = res.LastInsertId()
		return err
	})
}

func (r *OutboxRepositoryImpl) ClaimDue(ctx context.Context, limit int, staleBefore time.Time) ([]model.OutboxMessage, error) {
	const selectQ = `SELECT` + outboxColumns + `
		FROM outbox_messages
		WHERE (status = 'PENDING' AND (next_retry_at IS NULL OR next_retry_at <= NOW()))
		   OR (status = 'PROCESSING' AND (claimed_at IS NULL OR claimed_at < ?))
		ORDER BY created_at ASC, id ASC
		LIMIT ?
		FOR UPDATE SKIP LOCKED`

	var claimed []model.OutboxMessage
	err := r.withTx(ctx, nil, func(tx *sqlx.Tx) error {
		if err := tx.SelectContext(ctx, &claimed, selectQ, staleBefore, limit); err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}

		ids := make([]int64, 0, len(claimed))
		for i := range claimed {
			ids = append(ids, claimed[i].ID)
			claimed[i].Status = model.OutboxProcessing
		}

		q, args, err := sqlx.In(`UPDATE outbox_messages SET status = 'PROCESSING', claimed_at = NOW() WHERE id IN (?)`, ids)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, r.db.Rebind(q), args...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *OutboxRepositoryImpl) MarkSent(ctx context.Context, id int64, at time.Time) error {
	const q = `
		UPDATE outbox_messages
		SET status = 'SENT', processed_at = ?, error_message = NULL
		WHERE id = ?
	`
	_, err := r.db.ExecContext(ctx, q, at, id)
	return err
}

func (r *OutboxRepositoryImpl) ScheduleRetry(ctx context.Context, id int64, retryCount int, nextRetryAt time.Time, errMsg string) error {
	const q = `
		UPDATE outbox_messages
		SET status = 'PENDING', retry_count = ?, next_retry_at = ?, error_message = ?
		WHERE id = ?
	`
	_, err := r.db.ExecContext(ctx, q, retryCount, nextRetryAt, errMsg, id)
	return err
}

func (r *OutboxRepositoryImpl) MarkFailed(ctx context.Context, id int64, errMsg string, at time.Time) error {
	const q = `
		UPDATE outbox_messages
		SET status = 'FAILED', retry_count = retry_count + 1, error_message = ?, processed_at = ?
		WHERE id = ?
	`
	_, err := r.db.ExecContext(ctx, q, errMsg, at, id)
	return err
}

func (r *OutboxRepositoryImpl) DeleteSentBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `DELETE FROM outbox_messages WHERE status = 'SENT' AND processed_at < ?`

	res, err := r.db.ExecContext(ctx, q, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *OutboxRepositoryImpl) CountByStatus(ctx context.Context, s model.OutboxStatus) (int, error) {
	const q = `SELECT COUNT(*) FROM outbox_messages WHERE status = ?`

	var n int
	err := r.db.GetContext(ctx, &n, q, s.String())
	return n, err
}
