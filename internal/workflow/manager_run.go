package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"recast/internal/logging"
	"recast/internal/recording"
	"recast/internal/services"
	"recast/internal/staging"
	"recast/internal/store"
)

const (
	shutdownGrace     = 30 * time.Second
	defaultPollPeriod = 5 * time.Second
	restartReason     = "stage interrupted by daemon restart"
)

// Start recovers work interrupted by a previous process and begins the
// background loops: scheduled resumes and stale heartbeat reclamation.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if m.registry == nil {
		m.mu.Unlock()
		return errors.New("workflow stages not configured")
	}
	m.mu.Unlock()

	if err := m.recover(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	m.mu.Unlock()

	go m.runScheduler(runCtx)
	return nil
}

// Stop terminates the background loops, lets in-flight stages finish within
// a grace period and waits for completion.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		m.wg.Wait()
	}
	m.closeOnce.Do(func() {
		ctx, done := context.WithTimeout(context.Background(), shutdownGrace)
		defer done()
		if err := m.pools.Close(ctx); err != nil {
			logging.WarnWithContext(m.logger, "worker pools did not drain", "pool_drain_timeout",
				logging.Error(err),
				logging.String(logging.FieldImpact, "interrupted stages resume after restart"),
				logging.String(logging.FieldErrorHint, "raise workflow.stage_timeout or wait for long stages before stopping"),
			)
		}
		m.baseCancel()
	})
}

// recover fails stage runs left running by a previous process, so the retry
// path resumes them, rebuilds the quota counters from persisted state and
// clears scratch space of recordings that can no longer resume.
func (m *Manager) recover(ctx context.Context) error {
	runs, err := m.store.RunningRuns(ctx)
	if err != nil {
		return err
	}
	for _, run := range runs {
		m.failLostRun(ctx, run, restartReason)
	}
	if len(runs) > 0 {
		m.logger.Info("recovered interrupted stages",
			logging.String(logging.FieldEventType, "recovery"),
			logging.Int("count", len(runs)),
		)
	}
	if err := m.store.RebuildUsage(ctx); err != nil {
		return err
	}

	recs, err := m.store.List(ctx, store.Filter{})
	if err != nil {
		return err
	}
	active := make(map[int64]struct{}, len(recs))
	for _, rec := range recs {
		if !rec.Status.IsTerminal() {
			active[rec.ID] = struct{}{}
		}
	}
	staging.CleanOrphaned(ctx, m.cfg.Paths.WorkDir, active, m.logger)
	return nil
}

func (m *Manager) runScheduler(ctx context.Context) {
	defer m.wg.Done()
	period := m.cfg.Workflow.Poll()
	if period <= 0 {
		period = defaultPollPeriod
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reclaimStale(ctx)
			m.resumeDue(ctx)
		}
	}
}

func (m *Manager) reclaimStale(ctx context.Context) {
	stale, err := m.heartbeat.StaleRuns(ctx)
	if err != nil {
		m.handleLoopError(ctx, err, "heartbeat_reclaim_failed")
		return
	}
	for _, run := range stale {
		m.failLostRun(ctx, run, workerLostMessage)
	}
	if len(stale) > 0 {
		m.logger.Info("reclaimed stale stages", logging.Int("count", len(stale)))
	}
}

// resumeDue dispatches recordings whose scheduled attempt time has passed:
// automatic retries of failed stages and continuations that waited for
// capacity.
func (m *Manager) resumeDue(ctx context.Context) {
	due, err := m.store.ClaimDue(ctx, time.Now())
	if err != nil {
		m.handleLoopError(ctx, err, "schedule_claim_failed")
		return
	}
	for _, rec := range due {
		if ctx.Err() != nil {
			return
		}
		logger := logging.WithContext(services.WithRecordingID(ctx, rec.ID), m.logger)
		if rec.Status != recording.StatusFailed {
			m.advance(m.baseCtx, rec.ID)
			continue
		}
		logger.Info("resuming failed stage",
			logging.Args(append(logging.DecisionAttrs("retry", "resumed", "scheduled automatic retry"),
				logging.String(logging.FieldStage, string(rec.FailedAtStage)))...)...)
		_, err := m.dispatch(m.baseCtx, dispatchRequest{recording: rec, stage: rec.FailedAtStage, auto: true})
		m.handleContinuationError(m.baseCtx, logger, rec, rec.FailedAtStage, err)
	}
}

func (m *Manager) handleLoopError(ctx context.Context, err error, eventType string) {
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return
	}
	m.setLastError(err)
	m.loopLogger().Error("workflow loop iteration failed",
		logging.Error(err),
		logging.String(logging.FieldEventType, eventType),
		logging.String(logging.FieldErrorHint, "check state database access"),
	)
}

func (m *Manager) loopLogger() *slog.Logger {
	return m.logger.With(logging.String("loop", "scheduler"))
}

func (m *Manager) removeStaging(logger *slog.Logger, rec *recording.Recording) {
	if err := staging.Remove(m.cfg.Paths.WorkDir, rec.Tenant, rec.ID); err != nil {
		logger.Warn("failed to remove staging directory",
			logging.Error(err),
			logging.String(logging.FieldEventType, "staging_cleanup_failed"),
			logging.String(logging.FieldImpact, "scratch files remain until the next startup sweep"),
			logging.String(logging.FieldErrorHint, "check permissions on paths.work_dir"),
		)
	}
}
