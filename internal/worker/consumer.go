// Package worker consumes queue messages and drives tickets through
// their service lifecycle. Every reader owns exactly one in-flight
// message: it fetches, processes and commits serially, so the group
// offset never advances past an unfinished message. A committed offset
// means the ticket transaction committed, the message was re-published
// for retry, or the payload was poison. Anything else stays
// uncommitted and is redelivered.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/jcastillo/ticketero/internal/kafka"
	"github.com/jcastillo/ticketero/internal/logger"
	"github.com/jcastillo/ticketero/internal/metrics"
	"github.com/jcastillo/ticketero/internal/model"
	"github.com/jcastillo/ticketero/internal/service/processor"
	"go.uber.org/zap"
)

// redeliveryHeader counts how many times a message went back to its
// topic through requeue.
const redeliveryHeader = "redeliveries"

// Consumer is the broker-facing side of the worker.
type Consumer interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, m kafka.Message) error
}

// Republisher puts a message back on its topic for another delivery.
type Republisher interface {
	Republish(ctx context.Context, topic string, key, payload []byte, eventType string, redeliveries int) error
}

// TicketProcessor runs the full service transaction for one ticket.
type TicketProcessor interface {
	Process(ctx context.Context, ticketID int64, q model.QueueType) (bool, error)
}

// Worker drives one reader goroutine per consumer. All consumers join
// the same group, so the broker spreads partitions across them;
// parallelism is the number of consumers handed to New.
type Worker struct {
	queue     model.QueueType
	consumers []Consumer
	publisher Republisher
	proc      TicketProcessor

	NoAdvisorBackoff time.Duration
	MaxRedeliveries  int
}

func New(q model.QueueType, consumers []Consumer, pub Republisher, proc TicketProcessor) *Worker {
	return &Worker{
		queue:            q,
		consumers:        consumers,
		publisher:        pub,
		proc:             proc,
		NoAdvisorBackoff: 3 * time.Second,
		MaxRedeliveries:  5,
	}
}

// Run starts one serial fetch-process-commit loop per consumer and
// returns once ctx is cancelled and every loop finished its in-flight
// message.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, c := range w.consumers {
		wg.Add(1)
		go func(c Consumer) {
			defer wg.Done()
			w.consume(ctx, c)
		}(c)
	}
	wg.Wait()
	logger.Log.Info("worker stopped", zap.String("queue", w.queue.String()))
}

func (w *Worker) consume(ctx context.Context, c Consumer) {
	for {
		m, err := c.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Log.Error("fetch failed", zap.String("queue", w.queue.String()), zap.Error(err))
			continue
		}
		w.handleOne(ctx, c, m)
	}
}

func (w *Worker) handleOne(ctx context.Context, c Consumer, m kafka.Message) {
	var qm model.QueueMessage
	if err := json.Unmarshal(m.Value, &qm); err != nil {
		// poison message: never processable, drop it
		logger.Log.Error("unparseable message dropped",
			zap.String("queue", w.queue.String()),
			zap.Int64("offset", m.Offset),
			zap.Error(err),
		)
		metrics.ProcessingErrors.WithLabelValues(w.queue.String(), "poison").Inc()
		w.commit(c, m)
		return
	}

	processed, err := w.proc.Process(ctx, qm.TicketID, w.queue)
	switch {
	case err == nil:
		if !processed {
			logger.Log.Info("ticket already settled, skipping",
				zap.Int64("ticket_id", qm.TicketID),
				zap.String("numero", qm.Numero),
			)
		}
		w.commit(c, m)

	case errors.Is(err, processor.ErrNoAdvisorAvailable):
		// every qualifying advisor is busy: wait a beat, then put the
		// ticket back at the end of the topic so others can progress
		metrics.ProcessingErrors.WithLabelValues(w.queue.String(), "no_advisor").Inc()
		w.sleep(ctx, w.NoAdvisorBackoff)
		w.requeue(c, m)

	default:
		logger.Log.Error("ticket processing failed, requeueing",
			zap.Int64("ticket_id", qm.TicketID),
			zap.String("queue", w.queue.String()),
			zap.Error(err),
		)
		metrics.ProcessingErrors.WithLabelValues(w.queue.String(), "error").Inc()
		w.requeue(c, m)
	}
}

// requeue re-publishes the message to its own topic with a bumped
// redelivery count, then commits the original offset. If the publish
// fails the offset is left alone and the broker redelivers — the
// message is never lost either way. Once the count exceeds
// MaxRedeliveries the message is dropped instead: the ticket stays
// WAITING and the audit trail points the operator at it, mirroring the
// outbox's terminal FAILED state.
func (w *Worker) requeue(c Consumer, m kafka.Message) {
	n := redeliveries(m) + 1
	if n > w.MaxRedeliveries {
		logger.Log.Error("redeliveries exhausted, message dropped",
			zap.String("topic", m.Topic),
			zap.Int64("offset", m.Offset),
			zap.Int("redeliveries", n-1),
		)
		metrics.ProcessingErrors.WithLabelValues(w.queue.String(), "exhausted").Inc()
		w.commit(c, m)
		return
	}

	ctx, cancel := detached()
	defer cancel()

	if err := w.publisher.Republish(ctx, m.Topic, m.Key, m.Value, eventType(m), n); err != nil {
		logger.Log.Error("requeue publish failed, offset not committed",
			zap.String("topic", m.Topic),
			zap.Int64("offset", m.Offset),
			zap.Error(err),
		)
		return
	}
	w.commit(c, m)
}

func (w *Worker) commit(c Consumer, m kafka.Message) {
	ctx, cancel := detached()
	defer cancel()

	if err := c.Commit(ctx, m); err != nil {
		logger.Log.Error("offset commit failed",
			zap.String("topic", m.Topic),
			zap.Int64("offset", m.Offset),
			zap.Error(err),
		)
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// detached returns a context that survives worker shutdown, so the
// final commit or requeue of an in-flight message can still complete.
func detached() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func eventType(m kafka.Message) string {
	for _, h := range m.Headers {
		if h.Key == "event_type" {
			return string(h.Value)
		}
	}
	return model.EventTicketCreated
}

func redeliveries(m kafka.Message) int {
	for _, h := range m.Headers {
		if h.Key == redeliveryHeader {
			n, err := strconv.Atoi(string(h.Value))
			if err != nil {
				return 0
			}
			return n
		}
	}
	return 0
}
