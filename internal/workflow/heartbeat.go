package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"recast/internal/logging"
	"recast/internal/recording"
	"recast/internal/store"
)

const workerLostMessage = "worker lost: stage stopped heartbeating"

// HeartbeatMonitor keeps running stage runs alive and finds the ones whose
// worker disappeared.
type HeartbeatMonitor struct {
	store             *store.Store
	logger            *slog.Logger
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
}

// NewHeartbeatMonitor creates a new monitor.
func NewHeartbeatMonitor(st *store.Store, logger *slog.Logger, interval, timeout time.Duration) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		store:             st,
		logger:            logger,
		heartbeatInterval: interval,
		heartbeatTimeout:  timeout,
	}
}

// StaleRuns returns running stage runs whose heartbeat is older than the
// timeout. A zero timeout disables detection.
func (h *HeartbeatMonitor) StaleRuns(ctx context.Context) ([]*recording.StageRun, error) {
	if h.heartbeatTimeout <= 0 {
		return nil, nil
	}
	return h.store.StaleRuns(ctx, time.Now().Add(-h.heartbeatTimeout))
}

// StartLoop refreshes the heartbeat of one stage run until ctx ends.
func (h *HeartbeatMonitor) StartLoop(ctx context.Context, wg *sync.WaitGroup, runID int64) {
	defer wg.Done()
	if h.heartbeatInterval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	logger := logging.WithContext(ctx, h.logger.With(logging.String(logging.FieldComponent, "workflow-heartbeat")))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.store.Heartbeat(ctx, runID); err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Debug("heartbeat update cancelled", logging.Int64("run_id", runID))
				} else {
					logger.Warn("heartbeat update failed",
						logging.Int64("run_id", runID),
						logging.Error(err),
						logging.String(logging.FieldEventType, "heartbeat_failed"),
						logging.String(logging.FieldErrorHint, "check state database access"),
						logging.String(logging.FieldImpact, "stage may be reclaimed as lost"),
					)
				}
			}
		}
	}
}
