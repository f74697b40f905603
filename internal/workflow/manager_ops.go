package workflow

import (
	"context"
	"fmt"

	"recast/internal/events"
	"recast/internal/logging"
	"recast/internal/recording"
	"recast/internal/services"
	"recast/internal/stage"
	"recast/internal/store"
)

// Create registers a recording and returns its view. Recordings asking for a
// stage or destination this manager has no handler for are rejected.
func (m *Manager) Create(ctx context.Context, req store.NewRecording) (*View, error) {
	if err := m.checkSupported(req.Settings); err != nil {
		return nil, err
	}
	rec, err := m.store.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	logging.WithContext(services.WithRecordingID(ctx, rec.ID), m.logger).Info("recording created",
		logging.String(logging.FieldEventType, "recording_created"),
		logging.String(logging.FieldTenant, rec.Tenant),
		logging.String("status", string(rec.Status)),
	)
	return m.view(ctx, rec, false)
}

func (m *Manager) checkSupported(settings recording.Settings) error {
	registry, publishers := m.stages()
	if registry == nil {
		return nil
	}
	optional := []recording.Stage{
		recording.StageProcessing,
		recording.StageTranscribing,
		recording.StageExtractingTopics,
		recording.StageGeneratingSubtitles,
	}
	for _, st := range optional {
		if !stage.DefaultEnabled(st, settings) {
			continue
		}
		if _, ok := registry.Lookup(st); !ok {
			return services.Wrap(services.ErrValidation, "", "create recording",
				fmt.Sprintf("%s is not available: no handler configured", StageLabel(st)), nil)
		}
	}
	for _, platform := range settings.Destinations {
		if _, err := publishers.For(platform); err != nil {
			return services.Wrap(services.ErrValidation, "", "create recording", err.Error(), nil)
		}
	}
	return nil
}

// Get returns a recording with its computed observation, targets and the
// full stage run history.
func (m *Manager) Get(ctx context.Context, id int64) (*View, error) {
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.view(ctx, rec, true)
}

// List returns recordings matching filter with their observations.
func (m *Manager) List(ctx context.Context, filter store.Filter) ([]View, error) {
	recs, err := m.store.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]View, 0, len(recs))
	for _, rec := range recs {
		v, err := m.view(ctx, rec, false)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, nil
}

func (m *Manager) view(ctx context.Context, rec *recording.Recording, withRuns bool) (*View, error) {
	targets, err := m.store.Targets(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	v := &View{Recording: *rec, Targets: targets, Observation: recording.Observe(*rec, targets)}
	if withRuns {
		if v.Runs, err = m.store.Runs(ctx, rec.ID); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// Run computes and dispatches the single next action for a recording:
// terminal recordings report ErrAlreadyComplete, a running stage ErrConflict,
// FAILED resumes at the failed stage and anything else dispatches the next
// planned stage. A paused recording is unpaused by the dispatch.
func (m *Manager) Run(ctx context.Context, id int64) (*recording.StageRun, error) {
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case rec.Status.IsTerminal():
		return nil, fmt.Errorf("recording %d is %s: %w", id, rec.Status, ErrAlreadyComplete)
	case rec.Status.IsRunning():
		return nil, fmt.Errorf("recording %d is %s: %w", id, rec.Status, ErrConflict)
	case rec.Status == recording.StatusFailed:
		return m.resume(ctx, rec, nil)
	}
	next, err := m.nextStage(ctx, rec)
	if err != nil {
		return nil, err
	}
	return m.dispatch(ctx, dispatchRequest{recording: rec, stage: next, clearPause: rec.OnPause})
}

// Retry is the operator retry of a FAILED recording. It resumes exactly at
// the failed stage and restores the automatic retry budget.
func (m *Manager) Retry(ctx context.Context, id int64) (*recording.StageRun, error) {
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != recording.StatusFailed {
		return nil, fmt.Errorf("%w: recording %d is %s, not %s", ErrInvalidTransition, id, rec.Status, recording.StatusFailed)
	}
	return m.resume(ctx, rec, nil)
}

// RetryTarget re-publishes one failed destination. Targets already uploaded
// are left untouched.
func (m *Manager) RetryTarget(ctx context.Context, id int64, platform recording.Platform) (*recording.StageRun, error) {
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	target, err := m.store.GetTarget(ctx, id, platform)
	if err != nil {
		return nil, err
	}
	if target.Status != recording.TargetFailed {
		return nil, fmt.Errorf("%w: target %s of recording %d is %s", ErrInvalidTransition, platform, id, target.Status)
	}
	if rec.Status.IsRunning() {
		return nil, fmt.Errorf("recording %d is %s: %w", id, rec.Status, ErrConflict)
	}
	return m.dispatch(ctx, dispatchRequest{
		recording:  rec,
		stage:      recording.StageUploading,
		operator:   true,
		clearPause: true,
		targets:    []recording.Platform{platform},
	})
}

func (m *Manager) resume(ctx context.Context, rec *recording.Recording, targets []recording.Platform) (*recording.StageRun, error) {
	if rec.FailedAtStage == "" {
		return nil, fmt.Errorf("%w: recording %d has no failed stage", ErrInvalidTransition, rec.ID)
	}
	logging.WithContext(services.WithRecordingID(ctx, rec.ID), m.logger).Info("operator retry",
		logging.Args(append(logging.DecisionAttrs("retry", "resumed", "operator request"),
			logging.String(logging.FieldStage, string(rec.FailedAtStage)),
			logging.Int("retry_count", rec.RetryCount+1))...)...)
	return m.dispatch(ctx, dispatchRequest{
		recording:  rec,
		stage:      rec.FailedAtStage,
		operator:   true,
		clearPause: true,
		targets:    targets,
	})
}

// Pause sets the cooperative pause flag. A running stage completes; the
// chain stops before the next dispatch.
func (m *Manager) Pause(ctx context.Context, id int64) (*recording.Recording, error) {
	rec, err := m.store.SetPause(ctx, id, true)
	if err != nil {
		return nil, err
	}
	logging.WithContext(services.WithRecordingID(ctx, rec.ID), m.logger).Info("recording paused",
		logging.String(logging.FieldEventType, "recording_paused"),
		logging.String("status", string(rec.Status)),
	)
	m.bus.Publish(ctx, events.Event{Type: events.RecordingPaused, RecordingID: rec.ID, Tenant: rec.Tenant, Status: rec.Status})
	return rec, nil
}

// Reset starts a fresh generation for the recording. Stage history is kept
// for audit but no longer drives its status; targets and scratch files are
// dropped.
func (m *Manager) Reset(ctx context.Context, id int64) (*recording.Recording, error) {
	rec, err := m.store.Reset(ctx, id)
	if err != nil {
		return nil, err
	}
	logger := logging.WithContext(services.WithRecordingID(ctx, rec.ID), m.logger)
	m.removeStaging(logger, rec)
	logger.Info("recording reset",
		logging.String(logging.FieldEventType, "recording_reset"),
		logging.Int("generation", rec.Generation),
		logging.String("status", string(rec.Status)),
	)
	m.bus.Publish(ctx, events.Event{Type: events.RecordingReset, RecordingID: rec.ID, Tenant: rec.Tenant, Status: rec.Status})
	return rec, nil
}

// MarkSourceReady resolves a PENDING_SOURCE recording. Blank recordings and
// recordings without destinations are skipped.
func (m *Manager) MarkSourceReady(ctx context.Context, id int64, blank bool) (*recording.Recording, error) {
	rec, err := m.store.ResolveSource(ctx, id, blank)
	if err != nil {
		return nil, err
	}
	logging.WithContext(services.WithRecordingID(ctx, rec.ID), m.logger).Info("source resolved",
		logging.String(logging.FieldEventType, "source_resolved"),
		logging.Bool("blank", blank),
		logging.String("status", string(rec.Status)),
	)
	m.bus.Publish(ctx, events.Event{Type: events.SourceResolved, RecordingID: rec.ID, Tenant: rec.Tenant, Status: rec.Status})
	return rec, nil
}
