// Package queue computes queue positions and estimated waits, and keeps
// active tickets densely ordered.
package queue

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jcastillo/ticketero/internal/logger"
	"github.com/jcastillo/ticketero/internal/model"
	"github.com/jcastillo/ticketero/internal/notify"
	"github.com/jcastillo/ticketero/internal/repository"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

const defaultAvgServiceMinutes = 5

// Manager is the queue-position authority. All methods taking a tx run
// inside the caller's transaction.
type Manager struct {
	tickets  repository.TicketsRepository
	configs  repository.QueueConfigsRepository
	events   repository.TicketEventsRepository
	notifier notify.Notifier
}

func NewManager(
	tickets repository.TicketsRepository,
	configs repository.QueueConfigsRepository,
	events repository.TicketEventsRepository,
	notifier notify.Notifier,
) *Manager {
	return &Manager{tickets: tickets, configs: configs, events: events, notifier: notifier}
}

// Position returns the slot a new ticket would take: count of WAITING
// tickets plus one. Two creations in the same instant can compute the
// same position; the next Reorder pass densifies them.
func (m *Manager) Position(ctx context.Context, tx *sqlx.Tx, q model.QueueType) (int, error) {
	waiting, err := m.tickets.CountWaiting(ctx, tx, q)
	if err != nil {
		return 0, fmt.Errorf("count waiting: %w", err)
	}
	return waiting + 1, nil
}

// EstimatedWait is (position-1) × the queue's average service minutes.
// Position 1 waits zero: it is next.
func (m *Manager) EstimatedWait(ctx context.Context, tx *sqlx.Tx, q model.QueueType, position int) (int, error) {
	avg, _, err := m.queueTuning(ctx, tx, q)
	if err != nil {
		return 0, err
	}
	return (position - 1) * avg, nil
}

// AvgServiceMinutes exposes the configured per-queue average.
func (m *Manager) AvgServiceMinutes(ctx context.Context, tx *sqlx.Tx, q model.QueueType) (int, error) {
	avg, _, err := m.queueTuning(ctx, tx, q)
	return avg, err
}

func (m *Manager) queueTuning(ctx context.Context, tx *sqlx.Tx, q model.QueueType) (avgMinutes, threshold int, err error) {
	cfg, err := m.configs.GetByType(ctx, tx, q)
	if err == repository.ErrQueueConfigNotFound {
		return defaultAvgServiceMinutes, 3, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("queue config %s: %w", q, err)
	}
	return cfg.AvgServiceTimeMinutes, cfg.NotificationThreshold, nil
}

// Reorder assigns dense 1-based positions to the queue's active tickets
// (WAITING and CALLED, creation order), recomputes wait estimates, and
// writes only the rows whose position actually changed. A ticket whose
// position first enters [1, threshold] gets the upcoming-turn notice,
// at most once over its lifetime.
func (m *Manager) Reorder(ctx context.Context, tx *sqlx.Tx, q model.QueueType) error {
	active, err := m.tickets.ListActive(ctx, tx, q)
	if err != nil {
		return fmt.Errorf("list active: %w", err)
	}
	if len(active) == 0 {
		return nil
	}

	avg, threshold, err := m.queueTuning(ctx, tx, q)
	if err != nil {
		return err
	}

	changed := 0
	for i := range active {
		t := &active[i]
		position := i + 1

		if t.PositionInQueue != position {
			oldPos := t.PositionInQueue
			t.PositionInQueue = position
			t.EstimatedWaitMinutes = (position - 1) * avg

			if err := m.tickets.UpdatePosition(ctx, tx, t.ID, position, t.EstimatedWaitMinutes); err != nil {
				return fmt.Errorf("update position ticket %d: %w", t.ID, err)
			}

			ev := model.TicketEvent{
				TicketID:  t.ID,
				EventType: model.EventPositionUpdated,
				NewStatus: t.Status.String(),
				Notes:     sql.NullString{String: fmt.Sprintf("position %d -> %d", oldPos, position), Valid: true},
			}
			if err := m.events.Insert(ctx, tx, ev); err != nil {
				return fmt.Errorf("position event ticket %d: %w", t.ID, err)
			}
			changed++
		}

		if position <= threshold && t.Status == model.TicketWaiting && !t.UpcomingTurnNotified {
			m.notifyUpcoming(ctx, tx, t)
		}
	}

	if changed > 0 {
		logger.Log.Debug("queue reordered",
			zap.String("queue", q.String()),
			zap.Int("active", len(active)),
			zap.Int("changed", changed),
		)
	}
	return nil
}

// notifyUpcoming sends the upcoming-turn notice best-effort. The
// notified flag is only set after a successful send so a failed
// delivery retries on the next reorder.
func (m *Manager) notifyUpcoming(ctx context.Context, tx *sqlx.Tx, t *model.Ticket) {
	if t.Telefono == "" {
		// nothing to notify; mark anyway so we stop re-checking
		if err := m.tickets.MarkUpcomingNotified(ctx, tx, t.ID); err == nil {
			t.UpcomingTurnNotified = true
		}
		return
	}

	if err := m.notifier.Notify(ctx, t.Telefono, notify.UpcomingTurnMessage(t)); err != nil {
		logger.Log.Warn("upcoming-turn notification failed",
			zap.String("numero", t.Numero), zap.Error(err))
		return
	}

	if err := m.tickets.MarkUpcomingNotified(ctx, tx, t.ID); err != nil {
		logger.Log.Warn("mark upcoming notified failed",
			zap.String("numero", t.Numero), zap.Error(err))
		return
	}
	t.UpcomingTurnNotified = true
}
