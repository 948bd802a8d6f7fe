package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jcastillo/ticketero/internal/model"
	"github.com/jmoiron/sqlx"
)

// QueueConfigsRepository defines persistence for per-queue tuning rows.
type QueueConfigsRepository interface {
	GetByType(ctx context.Context, tx *sqlx.Tx, q model.QueueType) (*model.QueueConfig, error)
	ListActive(ctx context.Context) ([]model.QueueConfig, error)
	Upsert(ctx context.Context, tx *sqlx.Tx, c model.QueueConfig) error
}

type QueueConfigsRepositoryImpl struct {
	db *sqlx.DB
}

func NewQueueConfigsRepository(db *sqlx.DB) *QueueConfigsRepositoryImpl {
	return &QueueConfigsRepositoryImpl{db: db}
}

var _ QueueConfigsRepository = (*QueueConfigsRepositoryImpl)(nil)

const queueConfigColumns = `
	id, queue_type, avg_service_time_minutes, notification_threshold,
	priority, active, created_at, updated_at`

func (r *QueueConfigsRepositoryImpl) GetByType(ctx context.Context, tx *sqlx.Tx, qt model.QueueType) (*model.QueueConfig, error) {
	const q = `SELECT` + queueConfigColumns + ` FROM queue_configs WHERE queue_type = ? LIMIT 1`

	var c model.QueueConfig
	var err error
	if tx != nil {
		err = tx.GetContext(ctx, &c, q, qt.String())
	} else {
		err = r.db.GetContext(ctx, &c, q, qt.String())
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrQueueConfigNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *QueueConfigsRepositoryImpl) ListActive(ctx context.Context) ([]model.QueueConfig, error) {
	const q = `SELECT` + queueConfigColumns + ` FROM queue_configs WHERE active = 1 ORDER BY priority ASC`

	var cs []model.QueueConfig
	err := r.db.SelectContext(ctx, &cs, q)
	return cs, err
}

func (r *QueueConfigsRepositoryImpl) Upsert(ctx context.Context, tx *sqlx.Tx, c model.QueueConfig) error {
	const q = `
		INSERT INTO queue_configs
		    (queue_type, avg_service_time_minutes, notification_threshold, priority, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, NOW(), NOW())
		ON DUPLICATE KEY UPDATE
		    avg_service_time_minutes = VALUES(avg_service_time_minutes),
		    notification_threshold = VALUES(notification_threshold),
		    priority = VALUES(priority),
		    active = VALUES(active),
		    updated_at = VALUES(updated_at)
	`
	exec := func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			c.QueueType.String(), c.AvgServiceTimeMinutes, c.NotificationThreshold, c.Priority, c.Active,
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
