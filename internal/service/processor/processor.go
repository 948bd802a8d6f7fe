// Package processor drives one ticket through its full state machine as
// a single atomic unit of work.
package processor

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/jcastillo/ticketero/internal/logger"
	"github.com/jcastillo/ticketero/internal/metrics"
	"github.com/jcastillo/ticketero/internal/model"
	"github.com/jcastillo/ticketero/internal/notify"
	"github.com/jcastillo/ticketero/internal/repository"
	"github.com/jcastillo/ticketero/internal/service/queue"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Processor runs the WAITING → CALLED → IN_PROGRESS → COMPLETED path in
// one transaction. Any error at any step rolls the whole unit back:
// ticket and advisor revert to their pre-call state and the caller
// requeues the message.
type Processor struct {
	db       *sqlx.DB
	tickets  repository.TicketsRepository
	advisors repository.AdvisorsRepository
	events   repository.TicketEventsRepository
	queues   *queue.Manager
	assigner *AssignmentCoordinator
	notifier notify.Notifier

	// ServiceTimeUnit is how long one configured service "minute"
	// actually takes. Tests and demos run accelerated.
	ServiceTimeUnit time.Duration
}

func New(
	db *sqlx.DB,
	tickets repository.TicketsRepository,
	advisors repository.AdvisorsRepository,
	events repository.TicketEventsRepository,
	queues *queue.Manager,
	assigner *AssignmentCoordinator,
	notifier notify.Notifier,
	serviceTimeUnit time.Duration,
) *Processor {
	if serviceTimeUnit <= 0 {
		serviceTimeUnit = time.Second
	}
	return &Processor{
		db:              db,
		tickets:         tickets,
		advisors:        advisors,
		events:          events,
		queues:          queues,
		assigner:        assigner,
		notifier:        notifier,
		ServiceTimeUnit: serviceTimeUnit,
	}
}

// Process handles one ticket end to end. Returns (false, nil) when the
// ticket was already past WAITING — reprocessing a redelivered message
// is a no-op, which is what makes delivery at-least-once safe.
//
// The service time runs as an in-line wait inside the transaction while
// the advisor and ticket rows stay locked. A real deployment would
// complete service via an explicit advisor action instead; the wait is
// context-aware so an interrupted worker rolls back cleanly.
func (p *Processor) Process(ctx context.Context, ticketID int64, q model.QueueType) (bool, error) {
	start := time.Now()

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	// 1. idempotence gate
	t, err := p.tickets.GetByID(ctx, tx, ticketID)
	if err != nil {
		return false, err
	}
	if t.Status != model.TicketWaiting {
		logger.Log.Info("ticket already processed",
			zap.String("numero", t.Numero), zap.String("status", t.Status.String()))
		return false, nil
	}

	// 2-3. bind advisor, WAITING → CALLED
	now := time.Now()
	adv, err := p.assigner.Assign(ctx, tx, q, t.ID, now)
	if err != nil {
		return false, err
	}
	t.Status = model.TicketCalled
	t.AssignedAdvisorID = sql.NullInt64{Int64: adv.ID, Valid: true}
	t.AssignedModule = sql.NullInt64{Int64: int64(adv.ModuleNumber), Valid: true}

	if err := p.appendEvent(ctx, tx, t, model.EventCalled, adv.ID,
		fmt.Sprintf("assigned to module %d", adv.ModuleNumber)); err != nil {
		return false, err
	}

	// 4. keep the rest of the queue dense
	if err := p.queues.Reorder(ctx, tx, q); err != nil {
		return false, err
	}

	// 5. your-turn notice: failure must not roll back the unit
	if t.Telefono != "" {
		if err := p.notifier.Notify(ctx, t.Telefono, notify.YourTurnMessage(t, adv.ModuleNumber)); err != nil {
			logger.Log.Warn("your-turn notification failed",
				zap.String("numero", t.Numero), zap.Error(err))
		}
	}

	// 6. CALLED → IN_PROGRESS
	started := time.Now()
	if err := p.tickets.MarkInProgress(ctx, tx, t.ID, started); err != nil {
		return false, err
	}
	t.Status = model.TicketInProgress
	if err := p.appendEvent(ctx, tx, t, model.EventStarted, adv.ID, "service started"); err != nil {
		return false, err
	}

	// 7. service execution
	if err := p.simulateService(ctx, tx, q); err != nil {
		return false, err
	}

	// 8. IN_PROGRESS → COMPLETED
	completed := time.Now()
	if err := p.tickets.MarkCompleted(ctx, tx, t.ID, completed); err != nil {
		return false, err
	}
	t.Status = model.TicketCompleted
	if err := p.appendEvent(ctx, tx, t, model.EventCompleted, adv.ID, "service completed"); err != nil {
		return false, err
	}

	// 9. release advisor with updated rolling average
	elapsedMinutes := completed.Sub(started).Seconds() / 60.0
	newAvg := rollingAverage(adv.AvgServiceTimeMinutes, adv.TotalTicketsServed, elapsedMinutes)
	if err := p.advisors.Release(ctx, tx, adv.ID, newAvg, completed); err != nil {
		return false, fmt.Errorf("release advisor: %w", err)
	}

	// 10. commit
	if err := tx.Commit(); err != nil {
		return false, err
	}

	metrics.TicketsCompleted.WithLabelValues(q.String()).Inc()
	metrics.ProcessingDuration.WithLabelValues(q.String()).Observe(time.Since(start).Seconds())
	logger.Log.Info("ticket completed",
		zap.String("numero", t.Numero),
		zap.String("advisor", adv.Name),
		zap.Int("total_served", adv.TotalTicketsServed+1),
	)
	return true, nil
}

func (p *Processor) appendEvent(ctx context.Context, tx *sqlx.Tx, t *model.Ticket, eventType string, advisorID int64, notes string) error {
	ev := model.TicketEvent{
		TicketID:  t.ID,
		EventType: eventType,
		NewStatus: t.Status.String(),
		AdvisorID: sql.NullInt64{Int64: advisorID, Valid: true},
		Notes:     sql.NullString{String: notes, Valid: true},
	}
	if err := p.events.Insert(ctx, tx, ev); err != nil {
		return fmt.Errorf("%s event: %w", eventType, err)
	}
	return nil
}

// simulateService blocks for the queue's configured service time. A
// cancelled context aborts immediately so the transaction rolls back
// and the message is redelivered.
func (p *Processor) simulateService(ctx context.Context, tx *sqlx.Tx, q model.QueueType) error {
	minutes, err := p.queues.AvgServiceMinutes(ctx, tx, q)
	if err != nil {
		return err
	}

	timer := time.NewTimer(time.Duration(minutes) * p.ServiceTimeUnit)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// rollingAverage folds one sample into the advisor's mean service time:
// round((avg×N + sample) / (N+1)).
func rollingAverage(avg, served int, sampleMinutes float64) int {
	return int(math.Round((float64(avg)*float64(served) + sampleMinutes) / float64(served+1)))
}
