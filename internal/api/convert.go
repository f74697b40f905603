package api

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"recast/internal/language"
	"recast/internal/recording"
	"recast/internal/services"
	"recast/internal/stage"
	"recast/internal/store"
	"recast/internal/workflow"
)

// FromView converts a workflow view to its API representation.
func FromView(v *workflow.View) RecordingResponse {
	if v == nil {
		return RecordingResponse{}
	}
	resp := RecordingResponse{Recording: FromRecording(v.Recording, v.Observation, v.Targets)}
	if len(v.Runs) > 0 {
		resp.Runs = make([]StageRun, 0, len(v.Runs))
		for _, run := range v.Runs {
			resp.Runs = append(resp.Runs, FromRun(run))
		}
	}
	return resp
}

// FromViews converts a list of views, dropping run history.
func FromViews(views []workflow.View) []Recording {
	out := make([]Recording, 0, len(views))
	for _, v := range views {
		out = append(out, FromRecording(v.Recording, v.Observation, v.Targets))
	}
	return out
}

// FromRecording converts a recording row. An empty observation is computed
// from the cached status alone.
func FromRecording(rec recording.Recording, obs recording.Observation, targets []recording.Target) Recording {
	if obs == "" {
		obs = recording.Observe(rec, targets)
	}
	dto := Recording{
		ID:                  rec.ID,
		Tenant:              rec.Tenant,
		Title:               rec.Title,
		SourceURI:           rec.SourceURI,
		SourceState:         string(rec.SourceState),
		Blank:               rec.Blank,
		Status:              string(rec.Status),
		Observation:         string(obs),
		Failed:              rec.Failed,
		FailedAtStage:       string(rec.FailedAtStage),
		RetryCount:          rec.RetryCount,
		AutoRetries:         rec.AutoRetries,
		OnPause:             rec.OnPause,
		Generation:          rec.Generation,
		ErrorMessage:        rec.ErrorMessage,
		ErrorKind:           rec.ErrorKind,
		NextAttemptAt:       formatTimePtr(rec.NextAttemptAt),
		PipelineStartedAt:   formatTimePtr(rec.PipelineStartedAt),
		PipelineCompletedAt: formatTimePtr(rec.PipelineCompletedAt),
		CreatedAt:           FormatTime(rec.CreatedAt),
		UpdatedAt:           FormatTime(rec.UpdatedAt),
		Settings:            fromSettings(rec.Settings),
	}
	for _, t := range targets {
		dto.Targets = append(dto.Targets, Target{
			Platform:   string(t.Platform),
			Status:     string(t.Status),
			RetryCount: t.RetryCount,
			LastError:  t.LastError,
			ErrorKind:  t.ErrorKind,
			RemoteURL:  t.RemoteURL,
			RemoteID:   t.RemoteID,
			UpdatedAt:  FormatTime(t.UpdatedAt),
		})
	}
	return dto
}

// FromRun converts a stage run.
func FromRun(run *recording.StageRun) StageRun {
	if run == nil {
		return StageRun{}
	}
	dto := StageRun{
		ID:           run.ID,
		Stage:        string(run.Stage),
		Attempt:      run.Attempt,
		Generation:   run.Generation,
		Status:       string(run.Status),
		StartedAt:    FormatTime(run.StartedAt),
		FinishedAt:   formatTimePtr(run.FinishedAt),
		ErrorKind:    run.ErrorKind,
		ErrorMessage: run.ErrorMessage,
		StoredBytes:  run.StoredBytes,
	}
	if raw := strings.TrimSpace(run.Metadata); raw != "" && json.Valid([]byte(raw)) {
		dto.Output = json.RawMessage(raw)
	}
	return dto
}

func fromSettings(s recording.Settings) Settings {
	dest := make([]string, 0, len(s.Destinations))
	for _, p := range s.Destinations {
		dest = append(dest, string(p))
	}
	return Settings{
		Trim:             s.Trim,
		TrimStartSeconds: s.TrimStartSeconds,
		TrimEndSeconds:   s.TrimEndSeconds,
		Transcribe:       s.Transcribe,
		ExtractTopics:    s.ExtractTopics,
		Subtitles:        s.Subtitles,
		Granularity:      s.Granularity,
		Language:         s.Language,
		Destinations:     dest,
	}
}

// ToNewRecording validates a create request and converts it for the store.
func ToNewRecording(req CreateRecordingRequest) (store.NewRecording, error) {
	invalid := func(format string, args ...any) error {
		return services.Wrap(services.ErrValidation, "", "create recording", fmt.Sprintf(format, args...), nil)
	}
	tenant := strings.TrimSpace(req.Tenant)
	if tenant == "" {
		return store.NewRecording{}, invalid("tenant is required")
	}
	if strings.TrimSpace(req.SourceURI) == "" && req.SourceState != string(recording.SourcePending) {
		return store.NewRecording{}, invalid("sourceUri is required")
	}
	var state recording.SourceState
	switch strings.ToLower(strings.TrimSpace(req.SourceState)) {
	case "":
	case string(recording.SourcePending):
		state = recording.SourcePending
	case string(recording.SourceReady):
		state = recording.SourceReady
	default:
		return store.NewRecording{}, invalid("unsupported sourceState %q", req.SourceState)
	}
	s := req.Settings
	if s.TrimStartSeconds < 0 || s.TrimEndSeconds < 0 {
		return store.NewRecording{}, invalid("trim offsets must not be negative")
	}
	lang, err := language.Normalize(s.Language)
	if err != nil {
		return store.NewRecording{}, invalid("%v", err)
	}
	settings := recording.Settings{
		Trim:             s.Trim,
		TrimStartSeconds: s.TrimStartSeconds,
		TrimEndSeconds:   s.TrimEndSeconds,
		Transcribe:       s.Transcribe,
		ExtractTopics:    s.ExtractTopics,
		Subtitles:        s.Subtitles,
		Granularity:      strings.TrimSpace(s.Granularity),
		Language:         lang,
	}
	seen := make(map[recording.Platform]struct{}, len(s.Destinations))
	for _, raw := range s.Destinations {
		platform, ok := recording.ParsePlatform(raw)
		if !ok {
			return store.NewRecording{}, invalid("unsupported destination %q", raw)
		}
		if _, dup := seen[platform]; dup {
			continue
		}
		seen[platform] = struct{}{}
		settings.Destinations = append(settings.Destinations, platform)
	}
	return store.NewRecording{
		Tenant:      tenant,
		Title:       strings.TrimSpace(req.Title),
		SourceURI:   strings.TrimSpace(req.SourceURI),
		SourceState: state,
		Blank:       req.Blank,
		Settings:    settings,
	}, nil
}

// FromStatusSummary converts workflow diagnostics.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	counts := make(map[string]int, len(summary.Counts))
	for status, count := range summary.Counts {
		counts[string(status)] = count
	}
	pools := make([]PoolStatus, 0, len(summary.Pools))
	for _, p := range summary.Pools {
		pools = append(pools, PoolStatus{Name: p.Name, Size: p.Size, Queued: p.Queued, InFlight: p.InFlight})
	}
	wf := WorkflowStatus{
		Running:      summary.Running,
		StatusCounts: counts,
		LastError:    summary.LastError,
		Pools:        pools,
		StageHealth:  StageHealthSlice(summary.StageHealth),
	}
	if summary.LastRecording != nil {
		last := FromRecording(*summary.LastRecording, "", nil)
		wf.LastRecording = &last
	}
	return wf
}

// StageHealthSlice orders stage health by pipeline position.
func StageHealthSlice(health map[recording.Stage]stage.Health) []StageHealth {
	if len(health) == 0 {
		return nil
	}
	stages := make([]recording.Stage, 0, len(health))
	for s := range health {
		stages = append(stages, s)
	}
	slices.SortFunc(stages, func(a, b recording.Stage) int { return a.Order() - b.Order() })

	out := make([]StageHealth, 0, len(stages))
	for _, s := range stages {
		h := health[s]
		name := h.Name
		if name == "" {
			name = string(s)
		}
		out = append(out, StageHealth{Name: name, Ready: h.Ready, Detail: h.Detail})
	}
	return out
}

// FormatTime converts a time to RFC3339 or returns empty string.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return FormatTime(*t)
}
