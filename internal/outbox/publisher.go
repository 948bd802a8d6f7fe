// Package outbox delivers stored messages to the broker. A row written
// in the same transaction as its business record will reach the channel
// eventually: delivery failures back off exponentially and only give up
// after max retries, leaving a terminal FAILED row for the operator.
package outbox

import (
	"context"
	"strconv"
	"time"

	"github.com/jcastillo/ticketero/internal/logger"
	"github.com/jcastillo/ticketero/internal/metrics"
	"github.com/jcastillo/ticketero/internal/model"
	"github.com/jcastillo/ticketero/internal/repository"
	"go.uber.org/zap"
)

// Producer is the broker-facing side of the publisher.
type Producer interface {
	Publish(ctx context.Context, topic string, key, payload []byte, outboxID int64, eventType string) error
}

type Publisher struct {
	repo     repository.OutboxRepository
	producer Producer

	PollInterval  time.Duration
	BatchSize     int
	ClaimLease    time.Duration
	PurgeInterval time.Duration
	Retention     time.Duration
}

func NewPublisher(repo repository.OutboxRepository, producer Producer) *Publisher {
	return &Publisher{
		repo:          repo,
		producer:      producer,
		PollInterval:  time.Second,
		BatchSize:     50,
		ClaimLease:    5 * time.Minute,
		PurgeInterval: time.Hour,
		Retention:     7 * 24 * time.Hour,
	}
}

// Run polls for due rows until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	tick := time.NewTicker(p.PollInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if err := p.ProcessBatch(ctx); err != nil && ctx.Err() == nil {
				logger.Log.Error("outbox batch failed", zap.Error(err))
			}
		}
	}
}

// ProcessBatch claims up to BatchSize due rows and attempts delivery,
// oldest first. The claim flips rows to PROCESSING under SKIP LOCKED,
// so concurrent publisher instances never touch the same row. The
// claim is leased for ClaimLease: rows stuck in PROCESSING past that
// (a publisher died before the terminal update) are claimed again.
func (p *Publisher) ProcessBatch(ctx context.Context) error {
	rows, err := p.repo.ClaimDue(ctx, p.BatchSize, time.Now().Add(-p.ClaimLease))
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	sent, failed := 0, 0
	for i := range rows {
		if err := p.deliver(ctx, &rows[i]); err != nil {
			p.handleFailure(ctx, &rows[i], err)
			failed++
		} else {
			sent++
		}
	}

	logger.Log.Info("outbox processed", zap.Int("sent", sent), zap.Int("failed", failed))
	return nil
}

func (p *Publisher) deliver(ctx context.Context, m *model.OutboxMessage) error {
	key := []byte(strconv.FormatInt(m.AggregateID, 10))
	if err := p.producer.Publish(ctx, m.RoutingKey, key, m.Payload, m.ID, m.EventType); err != nil {
		return err
	}

	if err := p.repo.MarkSent(ctx, m.ID, time.Now()); err != nil {
		// delivered but not recorded: the row stays claimable and will
		// be sent again — at-least-once, consumers are idempotent
		return err
	}

	metrics.OutboxPublished.WithLabelValues("sent").Inc()
	return nil
}

// handleFailure schedules the next attempt with exponential backoff
// (1s, 2s, 4s, ...), or marks the row terminally FAILED once retries
// are exhausted.
func (p *Publisher) handleFailure(ctx context.Context, m *model.OutboxMessage, cause error) {
	retryCount := m.RetryCount + 1

	if retryCount >= m.MaxRetries {
		if err := p.repo.MarkFailed(ctx, m.ID, cause.Error(), time.Now()); err != nil {
			logger.Log.Error("mark outbox failed", zap.Int64("outbox_id", m.ID), zap.Error(err))
			return
		}
		metrics.OutboxPublished.WithLabelValues("failed").Inc()
		logger.Log.Error("outbox message failed terminally",
			zap.Int64("outbox_id", m.ID),
			zap.Int("attempts", retryCount),
			zap.Error(cause),
		)
		return
	}

	next := time.Now().Add(RetryDelay(retryCount))
	if err := p.repo.ScheduleRetry(ctx, m.ID, retryCount, next, cause.Error()); err != nil {
		logger.Log.Error("schedule outbox retry", zap.Int64("outbox_id", m.ID), zap.Error(err))
		return
	}

	metrics.OutboxPublished.WithLabelValues("retry").Inc()
	logger.Log.Warn("outbox delivery failed, retry scheduled",
		zap.Int64("outbox_id", m.ID),
		zap.Int("retry", retryCount),
		zap.Time("next_retry_at", next),
		zap.Error(cause),
	)
}

// RetryDelay is the backoff before attempt retryCount+1: 2^(retryCount-1) seconds.
func RetryDelay(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	return time.Duration(1<<(retryCount-1)) * time.Second
}

// RunPurge periodically deletes SENT rows older than Retention.
func (p *Publisher) RunPurge(ctx context.Context) {
	tick := time.NewTicker(p.PurgeInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			cutoff := time.Now().Add(-p.Retention)
			n, err := p.repo.DeleteSentBefore(ctx, cutoff)
			if err != nil {
				if ctx.Err() == nil {
					logger.Log.Error("outbox purge failed", zap.Error(err))
				}
				continue
			}
			if n > 0 {
				logger.Log.Info("outbox purged", zap.Int64("deleted", n))
			}
		}
	}
}
