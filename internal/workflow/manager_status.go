package workflow

import (
	"context"

	"recast/internal/logging"
	"recast/internal/recording"
	"recast/internal/stage"
	"recast/internal/workerpool"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running       bool
	LastError     string
	LastRecording *recording.Recording
	Counts        map[recording.Status]int
	Pools         []workerpool.Stats
	StageHealth   map[recording.Stage]stage.Health
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	running := m.running
	lastErr := m.lastErr
	lastItem := m.lastItem
	registry := m.registry
	m.mu.RUnlock()

	counts, err := m.store.StatusCounts(ctx)
	if err != nil {
		m.logger.Warn("failed to read status counts", logging.Error(err))
	}

	health := make(map[recording.Stage]stage.Health)
	if registry != nil {
		for _, def := range registry.Definitions() {
			if def.Handler == nil {
				continue
			}
			health[def.Stage] = def.Handler.HealthCheck(ctx)
		}
	}

	summary := StatusSummary{Running: running, Counts: counts, Pools: m.pools.Stats(), StageHealth: health}
	if lastErr != nil {
		summary.LastError = lastErr.Error()
	}
	if lastItem != nil {
		copy := *lastItem
		summary.LastRecording = &copy
	}
	return summary
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setLastItem(rec *recording.Recording) {
	m.mu.Lock()
	if rec != nil {
		copy := *rec
		m.lastItem = &copy
	} else {
		m.lastItem = nil
	}
	m.mu.Unlock()
}
