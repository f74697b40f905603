package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"recast/internal/events"
	"recast/internal/logging"
	"recast/internal/recording"
	"recast/internal/services"
	"recast/internal/store"
)

// handleStageFailure classifies stageErr, records the failed run and, when
// the retry budget allows, schedules an automatic resume at the same stage.
// A held slot is released once the failure is written.
func (m *Manager) handleStageFailure(ctx context.Context, rec *recording.Recording, run *recording.StageRun, stageErr error, elapsed time.Duration, slot *slotHold) {
	stageCtx := withStageContext(ctx, rec, run.Stage, "")
	logger := logging.WithContext(stageCtx, m.logger)

	autoRetries := rec.AutoRetries
	if current, err := m.store.Get(ctx, rec.ID); err == nil {
		autoRetries = current.AutoRetries
	}
	decision := m.policy.Decide(stageErr, autoRetries)
	message := classifyStageFailure(run.Stage, stageErr)
	failure := store.Failure{Kind: string(decision.Kind), Message: message}
	var retryAt time.Time
	if decision.Retry {
		retryAt = time.Now().Add(decision.Delay)
		failure.RetryAt = &retryAt
	}

	details := services.Details(stageErr)
	attrs := []logging.Attr{
		logging.String("stage_label", StageLabel(run.Stage)),
		logging.Int64("run_id", run.ID),
		logging.String("error_message", message),
		logging.Alert("stage_failure"),
		logging.String(logging.FieldErrorKind, string(decision.Kind)),
		logging.String("error_operation", details.Operation),
		logging.String("error_code", details.Code),
		logging.String(logging.FieldErrorHint, details.Hint),
		logging.Bool("auto_retry", decision.Retry),
		logging.Bool("escalated", decision.Escalated),
		logging.Duration("stage_duration", elapsed),
		logging.Error(stageErr),
		logging.String(logging.FieldEventType, "stage_failure"),
	}
	logger.Error("stage failed", logging.Args(attrs...)...)

	updated, err := m.store.FailStage(ctx, run.ID, failure)
	slot.Release()
	if err != nil {
		m.setLastError(err)
		if errors.Is(err, context.Canceled) {
			logger.Debug("daemon shutting down, could not persist stage failure")
		} else {
			logger.Error("failed to persist stage failure",
				logging.Error(err),
				logging.String(logging.FieldEventType, "stage_persist_failed"),
				logging.String(logging.FieldErrorHint, "check state database access"),
			)
		}
		return
	}
	m.metrics.ObserveStage(string(run.Stage), "failed", string(decision.Kind), elapsed)
	m.setLastError(stageErr)
	m.setLastItem(updated)
	m.bus.Publish(ctx, events.Event{
		Type:        events.StageFailed,
		RecordingID: updated.ID,
		Tenant:      updated.Tenant,
		RunID:       run.ID,
		Stage:       run.Stage,
		Status:      updated.Status,
		Kind:        string(decision.Kind),
		Message:     message,
	})
	if !decision.Retry {
		return
	}
	m.metrics.IncAutoRetry(string(run.Stage))
	decisionAttrs := append(logging.DecisionAttrs("retry", "scheduled", "transient failure"),
		logging.Duration("retry_delay", decision.Delay),
		logging.Int("auto_retries", autoRetries),
	)
	logger.Info("automatic retry scheduled", logging.Args(decisionAttrs...)...)
	m.bus.Publish(ctx, events.Event{
		Type:        events.RetryScheduled,
		RecordingID: updated.ID,
		Tenant:      updated.Tenant,
		RunID:       run.ID,
		Stage:       run.Stage,
		Status:      updated.Status,
		Kind:        string(decision.Kind),
		Message:     fmt.Sprintf("resume at %s", retryAt.UTC().Format(time.RFC3339)),
	})
}

func classifyStageFailure(stageName recording.Stage, stageErr error) string {
	if stageErr == nil {
		return getStageFailureMessage(stageName, "failed without error detail")
	}
	details := services.Details(stageErr)
	message := strings.TrimSpace(details.Message)
	if message == "" {
		message = strings.TrimSpace(stageErr.Error())
	}
	if message == "" {
		message = getStageFailureMessage(stageName, "failed")
	}
	return message
}

func getStageFailureMessage(stageName recording.Stage, defaultMsg string) string {
	if stageName != "" {
		return fmt.Sprintf("%s %s", StageLabel(stageName), defaultMsg)
	}
	return fmt.Sprintf("workflow %s", defaultMsg)
}

// failLostRun closes a running stage whose worker disappeared. The failure
// is transient so the regular retry path resumes it.
func (m *Manager) failLostRun(ctx context.Context, run *recording.StageRun, reason string) {
	rec, err := m.store.Get(ctx, run.RecordingID)
	if err != nil {
		m.logger.Warn("lost stage run has no recording",
			logging.Int64("run_id", run.ID),
			logging.Error(err),
			logging.String(logging.FieldEventType, "heartbeat_reclaim_failed"),
			logging.String(logging.FieldErrorHint, "check state database integrity"),
		)
		return
	}
	elapsed := time.Since(run.StartedAt)
	m.stopFanoutHeartbeat(run.ID)
	m.handleStageFailure(ctx, rec, run, services.Transient("heartbeat", reason, nil), elapsed, nil)
}
