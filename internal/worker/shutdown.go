package worker

import (
	"context"
	"time"

	"github.com/jcastillo/ticketero/internal/logger"
	"github.com/jcastillo/ticketero/internal/model"
	"github.com/jcastillo/ticketero/internal/repository"
	"go.uber.org/zap"
)

// ShutdownCoordinator waits for in-flight service transactions to
// finish before the process exits. New message intake must already be
// stopped (consumer contexts cancelled) when Drain is called.
type ShutdownCoordinator struct {
	advisors repository.AdvisorsRepository

	DrainTimeout time.Duration
	PollInterval time.Duration
}

func NewShutdownCoordinator(advisors repository.AdvisorsRepository) *ShutdownCoordinator {
	return &ShutdownCoordinator{
		advisors:     advisors,
		DrainTimeout: 30 * time.Second,
		PollInterval: 2 * time.Second,
	}
}

// Drain polls until no advisor is BUSY or the timeout elapses. Advisors
// still BUSY at the deadline are force-released so the next process
// start finds a clean roster; their tickets are picked up by crash
// recovery, which sees the stale heartbeats.
func (s *ShutdownCoordinator) Drain(ctx context.Context) error {
	deadline := time.Now().Add(s.DrainTimeout)

	for {
		busy, err := s.advisors.CountByStatus(ctx, model.AdvisorBusy)
		if err != nil {
			return err
		}
		if busy == 0 {
			logger.Log.Info("drain complete, all advisors idle")
			return nil
		}
		if time.Now().After(deadline) {
			return s.forceRelease(ctx, busy)
		}

		logger.Log.Info("draining", zap.Int("busy_advisors", busy))

		t := time.NewTimer(s.PollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (s *ShutdownCoordinator) forceRelease(ctx context.Context, busy int) error {
	logger.Log.Warn("drain timeout, force-releasing busy advisors", zap.Int("busy_advisors", busy))

	advisors, err := s.advisors.ListByStatus(ctx, model.AdvisorBusy)
	if err != nil {
		return err
	}
	for _, a := range advisors {
		if err := s.advisors.ForceAvailable(ctx, nil, a.ID); err != nil {
			logger.Log.Error("force release failed",
				zap.Int64("advisor_id", a.ID),
				zap.String("name", a.Name),
				zap.Error(err),
			)
			continue
		}
		logger.Log.Warn("advisor force-released", zap.Int64("advisor_id", a.ID), zap.String("name", a.Name))
	}
	return nil
}
