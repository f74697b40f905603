package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"recast/internal/events"
	"recast/internal/logging"
	"recast/internal/quota"
	"recast/internal/recording"
	"recast/internal/services"
	"recast/internal/stage"
	"recast/internal/store"
	"recast/internal/workerpool"
)

// dispatchRequest describes one stage dispatch.
type dispatchRequest struct {
	recording  *recording.Recording
	stage      recording.Stage
	operator   bool
	auto       bool
	clearPause bool
	targets    []recording.Platform
}

// slotHold is a distributed concurrency slot released at most once: after
// the run's terminal write, or when its task never runs.
type slotHold struct {
	once    sync.Once
	release func()
}

func (m *Manager) holdSlot(tenant string) *slotHold {
	return &slotHold{release: func() { m.gate.ReleaseSlot(context.Background(), tenant) }}
}

// Release is a no-op on a nil hold.
func (h *slotHold) Release() {
	if h == nil {
		return
	}
	h.once.Do(h.release)
}

// dispatch opens the StageRun and hands the work to its pool. Every rejection
// (conflict, pause, transition, quota) happens before a run exists.
func (m *Manager) dispatch(ctx context.Context, req dispatchRequest) (*recording.StageRun, error) {
	registry, _ := m.stages()
	if registry == nil {
		return nil, errors.New("workflow stages not configured")
	}
	def, ok := registry.Lookup(req.stage)
	if !ok {
		return nil, fmt.Errorf("%w: stage %s is not registered", ErrInvalidTransition, req.stage)
	}
	rec := req.recording
	takesSlot := !def.Fanout
	var slot *slotHold
	if takesSlot {
		if err := m.gate.AcquireSlot(ctx, rec.Tenant); err != nil {
			return nil, err
		}
		slot = m.holdSlot(rec.Tenant)
	}
	run, err := m.store.BeginStage(ctx, store.StageRequest{
		RecordingID:   rec.ID,
		Stage:         req.stage,
		TakesSlot:     takesSlot,
		Admitter:      m.admitter(),
		OperatorRetry: req.operator,
		AutoRetry:     req.auto,
		ClearPause:    req.clearPause,
		Targets:       req.targets,
	})
	if err != nil {
		slot.Release()
		return nil, err
	}

	m.bus.Publish(ctx, events.Event{
		Type:        events.StageStarted,
		RecordingID: rec.ID,
		Tenant:      rec.Tenant,
		RunID:       run.ID,
		Stage:       run.Stage,
		Status:      run.Stage.Running(),
	})

	if def.Fanout {
		err = m.startFanout(ctx, rec, run)
	} else {
		err = m.pools.Submit(m.baseCtx, def.Pool, func(taskCtx context.Context) {
			defer slot.Release()
			m.executeStage(taskCtx, rec, run, def, slot)
		}, workerpool.OnDrop(slot.Release))
		if err != nil {
			slot.Release()
		}
	}
	if err != nil {
		m.failUndispatched(ctx, rec, run, err)
		return nil, err
	}
	return run, nil
}

// failUndispatched closes a run whose task never reached a worker.
func (m *Manager) failUndispatched(ctx context.Context, rec *recording.Recording, run *recording.StageRun, cause error) {
	m.handleStageFailure(context.WithoutCancel(ctx), rec, run,
		services.Transient("dispatch", "stage could not be queued", cause), 0, nil)
}

func (m *Manager) admitter() store.Admitter {
	if m.gate == nil {
		return nil
	}
	return m.gate
}

func (m *Manager) executeStage(ctx context.Context, rec *recording.Recording, run *recording.StageRun, def stage.Definition, slot *slotHold) {
	requestID := uuid.NewString()
	stageCtx := withStageContext(ctx, rec, run.Stage, requestID)
	stageLogger := logging.WithContext(stageCtx, m.logger)

	hbCtx, stopHeartbeat := context.WithCancel(stageCtx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat.StartLoop(hbCtx, &hbWG, run.ID)
	defer func() {
		stopHeartbeat()
		hbWG.Wait()
	}()

	stageStart := time.Now()
	stageLogger.Info(
		"stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("stage_label", StageLabel(run.Stage)),
		logging.Int64("run_id", run.ID),
		logging.Int("attempt", run.Attempt),
		logging.String(logging.FieldPool, string(def.Pool)),
	)

	task, err := m.buildTask(stageCtx, rec.ID, run)
	if err == nil {
		err = m.runHandler(stageCtx, def.Handler, task)
	}
	persistCtx := context.WithoutCancel(stageCtx)
	if err != nil {
		m.handleStageFailure(persistCtx, rec, run, err, time.Since(stageStart), slot)
		return
	}
	m.completeStage(persistCtx, stageLogger, run, task, time.Since(stageStart), slot)
}

func (m *Manager) runHandler(ctx context.Context, handler stage.Handler, task *stage.Task) (err error) {
	if deadline := m.cfg.Workflow.StageDeadline(); deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = services.Permanent("execute", fmt.Sprintf("stage handler panicked: %v", r), nil)
		}
	}()
	if err := handler.Prepare(ctx, task); err != nil {
		return err
	}
	return handler.Execute(ctx, task)
}

// buildTask loads the recording and the outputs of the current generation's
// completed stages, later stages overriding earlier ones.
func (m *Manager) buildTask(ctx context.Context, recordingID int64, run *recording.StageRun) (*stage.Task, error) {
	rec, err := m.store.Get(ctx, recordingID)
	if err != nil {
		return nil, services.Transient("load recording", "recording could not be read", err)
	}
	artifacts, err := m.artifacts(ctx, recordingID)
	if err != nil {
		return nil, err
	}
	return &stage.Task{Recording: *rec, Run: *run, Artifacts: artifacts}, nil
}

func (m *Manager) artifacts(ctx context.Context, recordingID int64) (map[string]string, error) {
	runs, err := m.store.CurrentRuns(ctx, recordingID)
	if err != nil {
		return nil, services.Transient("load artifacts", "stage history could not be read", err)
	}
	artifacts := make(map[string]string)
	for _, run := range runs {
		if run.Status != recording.RunCompleted || run.Metadata == "" {
			continue
		}
		var output map[string]string
		if err := json.Unmarshal([]byte(run.Metadata), &output); err != nil {
			return nil, services.Permanent("load artifacts", fmt.Sprintf("stage %s metadata is malformed", run.Stage), err)
		}
		for k, v := range output {
			artifacts[k] = v
		}
	}
	return artifacts, nil
}

// completeStage records a finished run. The slot is released once the write
// commits so the continuation it publishes can take it.
func (m *Manager) completeStage(ctx context.Context, stageLogger *slog.Logger, run *recording.StageRun, task *stage.Task, elapsed time.Duration, slot *slotHold) {
	metadata, err := encodeOutput(task.Output)
	if err != nil {
		m.handleStageFailure(ctx, &task.Recording, run, services.Permanent("persist", "stage output could not be encoded", err), elapsed, slot)
		return
	}
	updated, err := m.store.CompleteStage(ctx, run.ID, store.StageResult{Metadata: metadata, StoredBytes: task.StoredBytes})
	slot.Release()
	if err != nil {
		m.setLastError(err)
		logging.ErrorWithContext(stageLogger, "failed to persist stage completion", "stage_persist_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check state database access"),
			logging.String(logging.FieldImpact, "run will be reclaimed once its heartbeat goes stale"),
		)
		return
	}
	m.metrics.ObserveStage(string(run.Stage), "completed", "", elapsed)
	stageLogger.Info(
		"stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String("stage_label", StageLabel(run.Stage)),
		logging.Duration("stage_duration", elapsed),
		logging.String("status", string(updated.Status)),
		logging.Int64("stored_bytes", task.StoredBytes),
	)
	m.setLastItem(updated)
	m.bus.Publish(ctx, events.Event{
		Type:        events.StageCompleted,
		RecordingID: updated.ID,
		Tenant:      updated.Tenant,
		RunID:       run.ID,
		Stage:       run.Stage,
		Status:      updated.Status,
	})
}

func encodeOutput(output map[string]string) (string, error) {
	if len(output) == 0 {
		return "", nil
	}
	data, err := json.Marshal(output)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// onStageCompleted is the chain link: once a stage's terminal write has
// committed, the next stage is dispatched.
func (m *Manager) onStageCompleted(_ context.Context, e events.Event) {
	if m.baseCtx.Err() != nil {
		return
	}
	m.advance(m.baseCtx, e.RecordingID)
}

// advance dispatches the next stage of a recording whose last stage completed.
func (m *Manager) advance(ctx context.Context, recordingID int64) {
	logger := logging.WithContext(services.WithRecordingID(ctx, recordingID), m.logger)
	rec, err := m.store.Get(ctx, recordingID)
	if err != nil {
		m.setLastError(err)
		logger.Error("failed to load recording for continuation", logging.Error(err))
		return
	}
	if rec.Status.IsTerminal() {
		m.finishPipeline(ctx, logger, rec)
		return
	}
	next, err := m.nextStage(ctx, rec)
	if err != nil {
		m.setLastError(err)
		logger.Warn("no continuation for recording",
			logging.Error(err),
			logging.String(logging.FieldEventType, "continuation_missing"),
			logging.String(logging.FieldErrorHint, "check the recording's processing settings"),
		)
		return
	}
	_, err = m.dispatch(ctx, dispatchRequest{recording: rec, stage: next})
	m.handleContinuationError(ctx, logger, rec, next, err)
}

func (m *Manager) handleContinuationError(ctx context.Context, logger *slog.Logger, rec *recording.Recording, next recording.Stage, err error) {
	switch {
	case err == nil:
	case errors.Is(err, ErrPaused):
		attrs := append(logging.DecisionAttrs("continuation", "halted", "recording paused"),
			logging.String(logging.FieldStage, string(next)))
		logger.Info("chain halted at stage boundary", logging.Args(attrs...)...)
	case errors.Is(err, ErrConflict):
		logger.Debug("continuation skipped, stage already running", logging.String(logging.FieldStage, string(next)))
	case errors.Is(err, ErrQuotaExceeded):
		m.deferForQuota(ctx, logger, rec, next, err)
	default:
		m.setLastError(err)
		logging.ErrorWithContext(logger, "continuation dispatch failed", "continuation_failed",
			logging.String(logging.FieldStage, string(next)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "run the recording again once the cause is fixed"),
		)
	}
}

// deferForQuota parks a continuation rejected by the quota gate. Concurrency
// waits are re-attempted after the capacity interval; other bounds only
// record why the chain stopped.
func (m *Manager) deferForQuota(ctx context.Context, logger *slog.Logger, rec *recording.Recording, next recording.Stage, cause error) {
	var retryAt *time.Time
	var exceeded *quota.ExceededError
	if errors.As(cause, &exceeded) && exceeded.Resource == quota.ResourceConcurrentTasks {
		at := time.Now().Add(m.cfg.Workflow.CapacityRetry())
		retryAt = &at
	}
	message := fmt.Sprintf("%s waiting for quota: %v", StageLabel(next), cause)
	if err := m.store.Defer(ctx, rec.ID, retryAt, string(services.KindQuotaExceeded), message); err != nil {
		m.setLastError(err)
		logger.Error("failed to record quota wait", logging.Error(err))
		return
	}
	m.bus.Publish(ctx, events.Event{
		Type:        events.QuotaDeferred,
		RecordingID: rec.ID,
		Tenant:      rec.Tenant,
		Stage:       next,
		Status:      rec.Status,
		Kind:        string(services.KindQuotaExceeded),
		Message:     message,
	})
	attrs := []logging.Attr{
		logging.String(logging.FieldStage, string(next)),
		logging.String(logging.FieldErrorKind, string(services.KindQuotaExceeded)),
		logging.Error(cause),
	}
	if retryAt != nil {
		logger.Info("continuation waiting for capacity", logging.Args(append(attrs, logging.String("retry_at", retryAt.Format(time.RFC3339)))...)...)
		return
	}
	logging.WarnWithContext(logger, "continuation blocked by quota", "quota_blocked",
		append(attrs,
			logging.String(logging.FieldImpact, "recording halts until run again"),
			logging.String(logging.FieldErrorHint, "raise the tenant limit or free storage, then run the recording"),
		)...,
	)
}

// nextStage returns the first planned stage after the last one of the
// current generation.
func (m *Manager) nextStage(ctx context.Context, rec *recording.Recording) (recording.Stage, error) {
	registry, _ := m.stages()
	if registry == nil {
		return "", errors.New("workflow stages not configured")
	}
	runs, err := m.store.CurrentRuns(ctx, rec.ID)
	if err != nil {
		return "", err
	}
	last := recording.Derive(rec.SourceState, runs).LastStage
	if next, ok := registry.Next(rec.Settings, last); ok {
		return next, nil
	}
	return "", fmt.Errorf("%w: no stage follows %s for recording %d", ErrInvalidTransition, last, rec.ID)
}

func (m *Manager) finishPipeline(ctx context.Context, logger *slog.Logger, rec *recording.Recording) {
	if rec.Status != recording.StatusUploaded {
		return
	}
	var duration time.Duration
	if rec.PipelineStartedAt != nil && rec.PipelineCompletedAt != nil {
		duration = rec.PipelineCompletedAt.Sub(*rec.PipelineStartedAt)
	}
	logger.Info("pipeline completed",
		logging.String(logging.FieldEventType, "pipeline_complete"),
		logging.String(logging.FieldTenant, rec.Tenant),
		logging.Duration("pipeline_duration", duration),
	)
	m.removeStaging(logger, rec)
}
