// Package ticket owns ticket intake: one transaction writes the ticket,
// its CREATED audit event, and the outbox row announcing it.
package ticket

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"

	"github.com/jcastillo/ticketero/internal/logger"
	"github.com/jcastillo/ticketero/internal/metrics"
	"github.com/jcastillo/ticketero/internal/model"
	"github.com/jcastillo/ticketero/internal/notify"
	"github.com/jcastillo/ticketero/internal/repository"
	"github.com/jcastillo/ticketero/internal/service/queue"
	"github.com/jcastillo/ticketero/internal/util"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

type CreateRequest struct {
	NationalID   string
	Telefono     string
	BranchOffice string
	QueueType    model.QueueType
}

// Service creates tickets and serves status queries.
type Service struct {
	db         *sqlx.DB
	tickets    repository.TicketsRepository
	events     repository.TicketEventsRepository
	outbox     repository.OutboxRepository
	queues     *queue.Manager
	notifier   notify.Notifier
	maxRetries int
}

func New(
	db *sqlx.DB,
	tickets repository.TicketsRepository,
	events repository.TicketEventsRepository,
	outbox repository.OutboxRepository,
	queues *queue.Manager,
	notifier notify.Notifier,
	outboxMaxRetries int,
) *Service {
	return &Service{
		db:         db,
		tickets:    tickets,
		events:     events,
		outbox:     outbox,
		queues:     queues,
		notifier:   notifier,
		maxRetries: outboxMaxRetries,
	}
}

// Create persists a new WAITING ticket together with its outbox row.
// A ticket that commits is guaranteed to reach its queue channel even
// if the broker is down right now.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*model.Ticket, error) {
	t := &model.Ticket{
		ReferenceCode: util.NewRef(),
		Numero:        displayNumber(req.QueueType),
		NationalID:    req.NationalID,
		Telefono:      util.NormalizePhone(req.Telefono),
		BranchOffice:  req.BranchOffice,
		QueueType:     req.QueueType,
		Status:        model.TicketWaiting,
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	position, err := s.queues.Position(ctx, tx, req.QueueType)
	if err != nil {
		return nil, err
	}
	wait, err := s.queues.EstimatedWait(ctx, tx, req.QueueType, position)
	if err != nil {
		return nil, err
	}
	t.PositionInQueue = position
	t.EstimatedWaitMinutes = wait

	if err := s.tickets.Insert(ctx, tx, t); err != nil {
		return nil, fmt.Errorf("insert ticket: %w", err)
	}

	ev := model.TicketEvent{
		TicketID:  t.ID,
		EventType: model.EventCreated,
		NewStatus: t.Status.String(),
	}
	if err := s.events.Insert(ctx, tx, ev); err != nil {
		return nil, fmt.Errorf("created event: %w", err)
	}

	payload, err := json.Marshal(model.QueueMessage{
		TicketID:  t.ID,
		Numero:    t.Numero,
		QueueType: t.QueueType,
		Telefono:  t.Telefono,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal queue message: %w", err)
	}

	ob := &model.OutboxMessage{
		AggregateType: "TICKET",
		AggregateID:   t.ID,
		EventType:     model.EventTicketCreated,
		Payload:       payload,
		RoutingKey:    t.QueueType.Topic(),
		MaxRetries:    s.maxRetries,
	}
	if err := s.outbox.Insert(ctx, tx, ob); err != nil {
		return nil, fmt.Errorf("insert outbox: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	metrics.TicketsCreated.WithLabelValues(t.QueueType.String()).Inc()
	logger.Log.Info("ticket created",
		zap.String("numero", t.Numero),
		zap.String("queue", t.QueueType.String()),
		zap.Int("position", t.PositionInQueue),
		zap.Int("wait_minutes", t.EstimatedWaitMinutes),
	)

	// best-effort creation notice, never part of the transaction
	if t.Telefono != "" {
		if err := s.notifier.Notify(ctx, t.Telefono, notify.TicketCreatedMessage(t)); err != nil {
			logger.Log.Warn("creation notification failed",
				zap.String("numero", t.Numero), zap.Error(err))
		}
	}

	return t, nil
}

// GetByReference looks a ticket up by its public reference code.
func (s *Service) GetByReference(ctx context.Context, code string) (*model.Ticket, error) {
	return s.tickets.GetByReference(ctx, code)
}

// QueuePosition reports a ticket's live standing in its queue.
type QueuePosition struct {
	Numero               string   `json:"numero"`
	QueueType            string   `json:"queueType"`
	Position             int      `json:"position"`
	TicketsAhead         int      `json:"ticketsAhead"`
	EstimatedWaitMinutes int      `json:"estimatedWaitMinutes"`
	Status               string   `json:"status"`
	Ahead                []string `json:"ahead"`
}

func (s *Service) Position(ctx context.Context, code string) (*QueuePosition, error) {
	t, err := s.tickets.GetByReference(ctx, code)
	if err != nil {
		return nil, err
	}

	p := &QueuePosition{
		Numero:               t.Numero,
		QueueType:            t.QueueType.String(),
		Position:             t.PositionInQueue,
		EstimatedWaitMinutes: t.EstimatedWaitMinutes,
		Status:               t.Status.String(),
	}

	if t.Status != model.TicketWaiting {
		return p, nil
	}

	waiting, err := s.tickets.ListWaiting(ctx, nil, t.QueueType)
	if err != nil {
		return nil, err
	}
	for _, w := range waiting {
		if w.ID != t.ID && w.PositionInQueue < t.PositionInQueue {
			p.Ahead = append(p.Ahead, w.Numero)
		}
	}
	p.TicketsAhead = len(p.Ahead)
	return p, nil
}

// displayNumber renders the customer-visible turn number: queue prefix
// plus three digits, e.g. C042. Collisions across days are fine, the
// reference code is the real identifier.
func displayNumber(q model.QueueType) string {
	return fmt.Sprintf("%c%03d", q.String()[0], rand.Intn(999)+1)
}
