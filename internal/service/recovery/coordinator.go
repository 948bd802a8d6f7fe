package recovery

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jcastillo/ticketero/internal/logger"
	"github.com/jcastillo/ticketero/internal/metrics"
	"github.com/jcastillo/ticketero/internal/model"
	"github.com/jcastillo/ticketero/internal/repository"
	"github.com/jcastillo/ticketero/internal/service/queue"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Coordinator reclaims advisors whose heartbeat went stale while BUSY.
// Each reclamation is one transaction: audit event, ticket reverted to
// WAITING with a fresh position, a requeue row in the outbox (durable
// redelivery rides the outbox publisher), advisor freed. A crash that
// is detected here is never surfaced as an error anywhere, only as
// audit rows.
type Coordinator struct {
	db       *sqlx.DB
	advisors repository.AdvisorsRepository
	tickets  repository.TicketsRepository
	events   repository.TicketEventsRepository
	recov    repository.RecoveryEventsRepository
	outbox   repository.OutboxRepository
	queues   *queue.Manager

	interval         time.Duration
	heartbeatTimeout time.Duration
	outboxMaxRetries int
}

func NewCoordinator(
	db *sqlx.DB,
	advisors repository.AdvisorsRepository,
	tickets repository.TicketsRepository,
	events repository.TicketEventsRepository,
	recov repository.RecoveryEventsRepository,
	outbox repository.OutboxRepository,
	queues *queue.Manager,
	interval, heartbeatTimeout time.Duration,
	outboxMaxRetries int,
) *Coordinator {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = 60 * time.Second
	}
	return &Coordinator{
		db:               db,
		advisors:         advisors,
		tickets:          tickets,
		events:           events,
		recov:            recov,
		outbox:           outbox,
		queues:           queues,
		interval:         interval,
		heartbeatTimeout: heartbeatTimeout,
		outboxMaxRetries: outboxMaxRetries,
	}
}

// Run scans on the configured interval until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	tick := time.NewTicker(c.interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if err := c.RecoverDeadWorkers(ctx); err != nil && ctx.Err() == nil {
				logger.Log.Error("recovery scan failed", zap.Error(err))
			}
		}
	}
}

// RecoverDeadWorkers reclaims every BUSY advisor whose heartbeat is
// missing or older than the timeout.
func (c *Coordinator) RecoverDeadWorkers(ctx context.Context) error {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	threshold := time.Now().Add(-c.heartbeatTimeout)
	dead, err := c.advisors.ListDeadForUpdate(ctx, tx, threshold)
	if err != nil {
		return fmt.Errorf("list dead workers: %w", err)
	}
	if len(dead) == 0 {
		return tx.Commit()
	}

	logger.Log.Warn("dead workers detected",
		zap.Int("count", len(dead)),
		zap.Duration("heartbeat_timeout", c.heartbeatTimeout),
	)

	for i := range dead {
		if err := c.recoverOne(ctx, tx, &dead[i], model.RecoveryDeadWorker, heartbeatNote(&dead[i])); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	logger.Log.Info("recovery completed", zap.Int("advisors_freed", len(dead)))
	return nil
}

// ErrAdvisorNotBusy means a manual recovery targeted an advisor with
// nothing to recover.
var ErrAdvisorNotBusy = errors.New("advisor is not busy")

// RecoverAdvisor runs the identical procedure on demand for one
// advisor, tagged MANUAL. Only a BUSY advisor can be recovered;
// anything else would fake an audit trail entry.
func (c *Coordinator) RecoverAdvisor(ctx context.Context, advisorID int64) error {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	adv, err := c.advisors.GetByID(ctx, tx, advisorID)
	if err != nil {
		return err
	}
	if adv.Status != model.AdvisorBusy {
		return ErrAdvisorNotBusy
	}

	if err := c.recoverOne(ctx, tx, adv, model.RecoveryManual, "manual recovery requested by operations"); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	logger.Log.Info("advisor manually recovered", zap.String("advisor", adv.Name))
	return nil
}

func (c *Coordinator) recoverOne(ctx context.Context, tx *sqlx.Tx, adv *model.Advisor, recoveryType, notes string) error {
	// derive the current ticket; there is no stored pointer to go stale
	current, err := c.tickets.GetCurrentForAdvisor(ctx, tx, adv.ID)
	if err != nil {
		return fmt.Errorf("current ticket for advisor %d: %w", adv.ID, err)
	}

	ev := model.RecoveryEvent{
		AdvisorID:        adv.ID,
		RecoveryType:     recoveryType,
		OldAdvisorStatus: adv.Status.String(),
		Notes:            sql.NullString{String: notes, Valid: true},
	}
	if current != nil {
		ev.TicketID = sql.NullInt64{Int64: current.ID, Valid: true}
		ev.OldTicketStatus = sql.NullString{String: current.Status.String(), Valid: true}
	}
	if err := c.recov.Insert(ctx, tx, ev); err != nil {
		return fmt.Errorf("recovery event: %w", err)
	}

	if current != nil && current.Status != model.TicketCompleted {
		if err := c.requeueTicket(ctx, tx, current); err != nil {
			return err
		}
	}

	if err := c.advisors.Recover(ctx, tx, adv.ID); err != nil {
		return fmt.Errorf("recover advisor %d: %w", adv.ID, err)
	}

	metrics.RecoveriesTotal.WithLabelValues(recoveryType).Inc()
	logger.Log.Info("advisor recovered",
		zap.String("advisor", adv.Name),
		zap.String("type", recoveryType),
	)
	return nil
}

// requeueTicket takes the state machine's only backward edge: the
// orphaned ticket returns to WAITING at a freshly computed position and
// a requeue message joins the outbox so redelivery survives a broker
// outage.
func (c *Coordinator) requeueTicket(ctx context.Context, tx *sqlx.Tx, t *model.Ticket) error {
	position, err := c.queues.Position(ctx, tx, t.QueueType)
	if err != nil {
		return err
	}
	wait, err := c.queues.EstimatedWait(ctx, tx, t.QueueType, position)
	if err != nil {
		return err
	}

	if err := c.tickets.RevertToWaiting(ctx, tx, t.ID, position, wait); err != nil {
		return fmt.Errorf("revert ticket %d: %w", t.ID, err)
	}

	tev := model.TicketEvent{
		TicketID:  t.ID,
		EventType: model.EventRequeued,
		NewStatus: model.TicketWaiting.String(),
		Notes:     sql.NullString{String: fmt.Sprintf("requeued from %s at position %d", t.Status, position), Valid: true},
	}
	if err := c.events.Insert(ctx, tx, tev); err != nil {
		return fmt.Errorf("requeue event: %w", err)
	}

	payload, err := json.Marshal(model.QueueMessage{
		TicketID:  t.ID,
		Numero:    t.Numero,
		QueueType: t.QueueType,
		Telefono:  t.Telefono,
	})
	if err != nil {
		return err
	}

	ob := &model.OutboxMessage{
		AggregateType: "TICKET",
		AggregateID:   t.ID,
		EventType:     model.EventTicketCreated,
		Payload:       payload,
		RoutingKey:    t.QueueType.Topic(),
		MaxRetries:    c.outboxMaxRetries,
	}
	if err := c.outbox.Insert(ctx, tx, ob); err != nil {
		return fmt.Errorf("requeue outbox: %w", err)
	}

	logger.Log.Info("orphaned ticket requeued",
		zap.String("numero", t.Numero),
		zap.String("from_status", t.Status.String()),
		zap.Int("position", position),
	)
	return nil
}

func heartbeatNote(adv *model.Advisor) string {
	last := "NULL"
	if adv.LastHeartbeat.Valid {
		last = adv.LastHeartbeat.Time.Format(time.RFC3339)
	}
	return fmt.Sprintf("dead worker detected, last heartbeat %s", last)
}
