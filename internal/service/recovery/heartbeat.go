// Package recovery detects dead workers and reconciles the state they
// left behind, and keeps liveness timestamps fresh while work runs.
package recovery

import (
	"context"
	"time"

	"github.com/jcastillo/ticketero/internal/logger"
	"github.com/jcastillo/ticketero/internal/repository"
	"go.uber.org/zap"
)

// HeartbeatMonitor stamps last_heartbeat on every BUSY advisor at a
// fixed cadence. As long as a worker process is alive, the advisors it
// holds BUSY keep fresh timestamps; when it dies the stamps go stale
// and the Coordinator reclaims them.
type HeartbeatMonitor struct {
	advisors repository.AdvisorsRepository
	interval time.Duration
}

func NewHeartbeatMonitor(advisors repository.AdvisorsRepository, interval time.Duration) *HeartbeatMonitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &HeartbeatMonitor{advisors: advisors, interval: interval}
}

// Run blocks until ctx is cancelled.
func (h *HeartbeatMonitor) Run(ctx context.Context) {
	tick := time.NewTicker(h.interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			n, err := h.advisors.RefreshHeartbeats(ctx)
			if err != nil {
				if ctx.Err() == nil {
					logger.Log.Warn("heartbeat refresh failed", zap.Error(err))
				}
				continue
			}
			if n > 0 {
				logger.Log.Debug("heartbeats refreshed", zap.Int64("busy_advisors", n))
			}
		}
	}
}
