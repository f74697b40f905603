package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"recast/internal/events"
	"recast/internal/logging"
	"recast/internal/quota"
	"recast/internal/recording"
	"recast/internal/retry"
	"recast/internal/services"
	"recast/internal/stage"
	"recast/internal/store"
)

// fanout tracks the heartbeat of a publish run while its targets upload.
type fanout struct {
	stop context.CancelFunc
	wg   sync.WaitGroup
}

// startFanout submits one upload task per queued target of a publish run.
// A run with nothing queued completes at once.
func (m *Manager) startFanout(ctx context.Context, rec *recording.Recording, run *recording.StageRun) error {
	targets, err := m.store.Targets(ctx, rec.ID)
	if err != nil {
		return err
	}
	queued := make([]recording.Platform, 0, len(targets))
	for _, t := range targets {
		if t.Queued {
			queued = append(queued, t.Platform)
		}
	}
	logger := logging.WithContext(withStageContext(ctx, rec, run.Stage, ""), m.logger)
	logger.Info("publish fan-out started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.Int64("run_id", run.ID),
		logging.Int("targets", len(queued)),
	)
	if len(queued) == 0 {
		m.finishPublish(context.WithoutCancel(ctx), rec, &store.Join{RecordingID: rec.ID, RunID: run.ID, Done: true})
		return nil
	}

	m.startFanoutHeartbeat(run.ID)
	for _, platform := range queued {
		if err := m.submitTarget(rec, run, platform); err != nil {
			m.stopFanoutHeartbeat(run.ID)
			return err
		}
	}
	return nil
}

func (m *Manager) submitTarget(rec *recording.Recording, run *recording.StageRun, platform recording.Platform) error {
	return m.pools.Submit(m.baseCtx, stage.PoolIO, func(ctx context.Context) {
		m.uploadTarget(ctx, rec, run, platform)
	})
}

func (m *Manager) uploadTarget(ctx context.Context, rec *recording.Recording, run *recording.StageRun, platform recording.Platform) {
	ctx = withStageContext(ctx, rec, recording.StageUploading, "")
	logger := logging.WithContext(ctx, m.logger).With(logging.String(logging.FieldPlatform, string(platform)))

	if err := m.gate.AcquireSlot(ctx, rec.Tenant); err != nil {
		m.retryTargetLater(ctx, logger, rec, run, platform, err)
		return
	}
	slot := m.holdSlot(rec.Tenant)
	defer slot.Release()

	if _, err := m.store.BeginTarget(ctx, store.TargetRequest{
		RecordingID: rec.ID,
		Platform:    platform,
		Admitter:    m.admitter(),
	}); err != nil {
		var exceeded *quota.ExceededError
		if errors.As(err, &exceeded) && exceeded.Resource == quota.ResourceConcurrentTasks {
			slot.Release()
			m.retryTargetLater(ctx, logger, rec, run, platform, err)
			return
		}
		m.rejectTarget(context.WithoutCancel(ctx), logger, rec, run, platform, err, slot)
		return
	}
	m.bus.Publish(ctx, events.Event{
		Type:        events.TargetStarted,
		RecordingID: rec.ID,
		Tenant:      rec.Tenant,
		RunID:       run.ID,
		Stage:       recording.StageUploading,
		Platform:    platform,
	})
	logger.Info("target upload started", logging.String(logging.FieldEventType, "target_start"))

	started := time.Now()
	result, uploadErr := m.upload(ctx, rec, platform)
	outcome := store.TargetOutcome{Uploaded: uploadErr == nil, RemoteURL: result.RemoteURL, RemoteID: result.RemoteID}
	if uploadErr != nil {
		outcome.Kind = string(retry.Classify(uploadErr))
		outcome.Message = classifyStageFailure(recording.StageUploading, uploadErr)
	}

	persistCtx := context.WithoutCancel(ctx)
	join, err := m.store.FinishTarget(persistCtx, rec.ID, platform, outcome)
	slot.Release()
	if err != nil {
		m.setLastError(err)
		logging.ErrorWithContext(logger, "failed to persist target outcome", "target_persist_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the publish run may already have failed; check the recording's targets"),
		)
		return
	}
	m.observeTarget(persistCtx, logger, rec, run, platform, outcome, uploadErr, time.Since(started))
	if join.Done {
		m.finishPublish(persistCtx, rec, join)
	}
}

// rejectTarget settles a target refused before it started. Only that target
// fails; the run joins once its siblings finish.
func (m *Manager) rejectTarget(ctx context.Context, logger *slog.Logger, rec *recording.Recording, run *recording.StageRun, platform recording.Platform, cause error, slot *slotHold) {
	outcome := store.TargetOutcome{
		Kind:    string(retry.Classify(cause)),
		Message: classifyStageFailure(recording.StageUploading, cause),
	}
	join, err := m.store.RejectTarget(ctx, rec.ID, platform, outcome)
	slot.Release()
	if err != nil {
		m.setLastError(err)
		logging.ErrorWithContext(logger, "target could not start", "target_start_failed",
			logging.Error(err),
			logging.String("rejection", cause.Error()),
			logging.String(logging.FieldErrorHint, "inspect the recording's targets and retry the publish stage"),
			logging.String(logging.FieldImpact, "publish run will be reclaimed once its heartbeat goes stale"),
		)
		m.stopFanoutHeartbeat(run.ID)
		return
	}
	m.observeTarget(ctx, logger, rec, run, platform, outcome, cause, 0)
	if join.Done {
		m.finishPublish(ctx, rec, join)
	}
}

func (m *Manager) upload(ctx context.Context, rec *recording.Recording, platform recording.Platform) (stage.TargetResult, error) {
	if deadline := m.cfg.Workflow.StageDeadline(); deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}
	_, publishers := m.stages()
	pub, err := publishers.For(platform)
	if err != nil {
		return stage.TargetResult{}, services.Permanent("publish", "destination is not configured", errors.Join(services.ErrConfiguration, err))
	}
	artifacts, err := m.artifacts(ctx, rec.ID)
	if err != nil {
		return stage.TargetResult{}, err
	}
	content := stage.Content{
		Tenant:        rec.Tenant,
		RecordingID:   rec.ID,
		MediaKey:      artifacts[stage.ArtifactMedia],
		SubtitlesKey:  artifacts[stage.ArtifactSubtitles],
		TranscriptKey: artifacts[stage.ArtifactTranscript],
		TopicsKey:     artifacts[stage.ArtifactTopics],
	}
	if content.MediaKey == "" {
		return stage.TargetResult{}, services.Permanent("publish", "no media artefact to publish", services.ErrValidation)
	}
	meta := stage.Metadata{Title: rec.Title, Language: rec.Settings.Language}
	if meta.Title == "" {
		meta.Title = fmt.Sprintf("Recording %d", rec.ID)
	}
	return pub.Upload(ctx, content, meta)
}

func (m *Manager) observeTarget(ctx context.Context, logger *slog.Logger, rec *recording.Recording, run *recording.StageRun, platform recording.Platform, outcome store.TargetOutcome, uploadErr error, elapsed time.Duration) {
	event := events.Event{
		RecordingID: rec.ID,
		Tenant:      rec.Tenant,
		RunID:       run.ID,
		Stage:       recording.StageUploading,
		Platform:    platform,
	}
	if outcome.Uploaded {
		m.metrics.ObserveTarget(string(platform), "uploaded")
		logger.Info("target uploaded",
			logging.String(logging.FieldEventType, "target_complete"),
			logging.String("remote_url", outcome.RemoteURL),
			logging.Duration("upload_duration", elapsed),
		)
		event.Type = events.TargetUploaded
		event.Message = outcome.RemoteURL
	} else {
		m.metrics.ObserveTarget(string(platform), "failed")
		details := services.Details(uploadErr)
		logger.Warn("target upload failed",
			logging.String(logging.FieldEventType, "target_failure"),
			logging.String(logging.FieldErrorKind, outcome.Kind),
			logging.String(logging.FieldErrorHint, details.Hint),
			logging.String(logging.FieldImpact, "other destinations are unaffected"),
			logging.Error(uploadErr),
		)
		event.Type = events.TargetFailed
		event.Kind = outcome.Kind
		event.Message = outcome.Message
	}
	m.bus.Publish(ctx, event)
}

// retryTargetLater re-submits a target that found no free concurrency slot
// once the capacity interval has passed.
func (m *Manager) retryTargetLater(ctx context.Context, logger *slog.Logger, rec *recording.Recording, run *recording.StageRun, platform recording.Platform, cause error) {
	delay := m.cfg.Workflow.CapacityRetry()
	logger.Info("target waiting for capacity",
		logging.Args(append(logging.DecisionAttrs("capacity_wait", "deferred", cause.Error()),
			logging.Duration("retry_delay", delay))...)...)
	m.bus.Publish(ctx, events.Event{
		Type:        events.QuotaDeferred,
		RecordingID: rec.ID,
		Tenant:      rec.Tenant,
		RunID:       run.ID,
		Stage:       recording.StageUploading,
		Platform:    platform,
		Kind:        string(services.Classify(cause)),
		Message:     cause.Error(),
	})
	time.AfterFunc(delay, func() {
		if m.baseCtx.Err() != nil {
			return
		}
		if err := m.submitTarget(rec, run, platform); err != nil {
			logger.Debug("deferred target not resubmitted", logging.Error(err))
		}
	})
}

// finishPublish settles a joined publish run: complete when every queued
// target uploaded, failed otherwise.
func (m *Manager) finishPublish(ctx context.Context, rec *recording.Recording, join *store.Join) {
	m.stopFanoutHeartbeat(join.RunID)
	run, err := m.store.GetRun(ctx, join.RunID)
	if err != nil {
		m.setLastError(err)
		m.logger.Error("failed to load publish run", logging.Int64("run_id", join.RunID), logging.Error(err))
		return
	}
	elapsed := time.Since(run.StartedAt)
	if len(join.Failed) > 0 {
		m.handleStageFailure(ctx, rec, run, publishFailure(join), elapsed, nil)
		return
	}
	uploaded := make([]string, 0, len(join.Uploaded))
	for _, p := range join.Uploaded {
		uploaded = append(uploaded, string(p))
	}
	task := &stage.Task{Recording: *rec, Run: *run}
	if len(uploaded) > 0 {
		task.SetOutput("uploaded", strings.Join(uploaded, ","))
	}
	logger := logging.WithContext(withStageContext(ctx, rec, run.Stage, ""), m.logger)
	m.completeStage(ctx, logger, run, task, elapsed, nil)
}

// publishFailure summarizes failed targets. The run is transient only when
// every failed target is.
func publishFailure(join *store.Join) error {
	kind := services.KindTransient
	parts := make([]string, 0, len(join.Failed))
	failed := append([]recording.Target(nil), join.Failed...)
	sort.Slice(failed, func(i, j int) bool { return failed[i].Platform < failed[j].Platform })
	for _, t := range failed {
		if t.ErrorKind != string(services.KindTransient) {
			kind = services.KindPermanent
		}
		msg := t.LastError
		if msg == "" {
			msg = "not uploaded"
		}
		parts = append(parts, fmt.Sprintf("%s: %s", t.Platform, msg))
	}
	total := len(join.Failed) + len(join.Uploaded)
	return &services.ClassifiedError{
		Kind:    kind,
		Op:      "publish",
		Message: fmt.Sprintf("%d of %d targets failed: %s", len(join.Failed), total, strings.Join(parts, "; ")),
		Hint:    "retry the failed targets individually",
	}
}

func (m *Manager) startFanoutHeartbeat(runID int64) {
	ctx, cancel := context.WithCancel(m.baseCtx)
	f := &fanout{stop: cancel}
	f.wg.Add(1)
	m.mu.Lock()
	if m.fanouts == nil {
		m.fanouts = make(map[int64]*fanout)
	}
	m.fanouts[runID] = f
	m.mu.Unlock()
	go m.heartbeat.StartLoop(ctx, &f.wg, runID)
}

func (m *Manager) stopFanoutHeartbeat(runID int64) {
	m.mu.Lock()
	f, ok := m.fanouts[runID]
	delete(m.fanouts, runID)
	m.mu.Unlock()
	if !ok {
		return
	}
	f.stop()
	f.wg.Wait()
}
