package api_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"recast/internal/api"
	"recast/internal/quota"
	"recast/internal/recording"
	"recast/internal/services"
	"recast/internal/stage"
	"recast/internal/workflow"
)

func TestToNewRecordingNormalizesRequest(t *testing.T) {
	req := api.CreateRecordingRequest{
		Tenant:    "  acme ",
		Title:     " Weekly sync ",
		SourceURI: "https://meet.example.com/rec/1",
		Settings: api.Settings{
			Trim:         true,
			Transcribe:   true,
			Language:     "English",
			Destinations: []string{"YouTube", "vk", "youtube"},
		},
	}
	got, err := api.ToNewRecording(req)
	if err != nil {
		t.Fatalf("ToNewRecording: %v", err)
	}
	if got.Tenant != "acme" || got.Title != "Weekly sync" {
		t.Fatalf("expected trimmed fields, got %q/%q", got.Tenant, got.Title)
	}
	want := []recording.Platform{recording.PlatformYouTube, recording.PlatformVK}
	if len(got.Settings.Destinations) != len(want) {
		t.Fatalf("expected deduplicated destinations %v, got %v", want, got.Settings.Destinations)
	}
	for i := range want {
		if got.Settings.Destinations[i] != want[i] {
			t.Fatalf("expected destinations %v, got %v", want, got.Settings.Destinations)
		}
	}
	if got.SourceState != "" {
		t.Fatalf("expected default source state, got %q", got.SourceState)
	}
	if got.Settings.Language != "en" {
		t.Fatalf("expected normalized language en, got %q", got.Settings.Language)
	}
}

func TestToNewRecordingRejectsInvalidInput(t *testing.T) {
	cases := map[string]api.CreateRecordingRequest{
		"missing tenant": {SourceURI: "https://x"},
		"missing source": {Tenant: "acme"},
		"bad platform":   {Tenant: "acme", SourceURI: "https://x", Settings: api.Settings{Destinations: []string{"myspace"}}},
		"bad state":      {Tenant: "acme", SourceURI: "https://x", SourceState: "lost"},
		"negative trim":  {Tenant: "acme", SourceURI: "https://x", Settings: api.Settings{TrimStartSeconds: -1}},
		"bad language":   {Tenant: "acme", SourceURI: "https://x", Settings: api.Settings{Language: "klingon!"}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := api.ToNewRecording(req)
			if !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestToNewRecordingAllowsPendingWithoutSource(t *testing.T) {
	got, err := api.ToNewRecording(api.CreateRecordingRequest{Tenant: "acme", SourceState: "pending"})
	if err != nil {
		t.Fatalf("ToNewRecording: %v", err)
	}
	if got.SourceState != recording.SourcePending {
		t.Fatalf("expected pending source, got %q", got.SourceState)
	}
}

func TestFromViewIncludesObservationTargetsAndRuns(t *testing.T) {
	finished := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	view := &workflow.View{
		Recording: recording.Recording{
			ID:            4,
			Tenant:        "acme",
			Status:        recording.StatusFailed,
			Failed:        true,
			FailedAtStage: recording.StageUploading,
		},
		Observation: recording.ObservePartial,
		Targets: []recording.Target{
			{Platform: recording.PlatformYouTube, Status: recording.TargetFailed, LastError: "rejected"},
			{Platform: recording.PlatformVK, Status: recording.TargetUploaded, RemoteURL: "https://vk.example.com/v/4"},
		},
		Runs: []*recording.StageRun{
			{ID: 1, Stage: recording.StageDownloading, Attempt: 1, Status: recording.RunCompleted, FinishedAt: &finished, Metadata: `{"media":"acme/4/downloading/source.mp4"}`},
			{ID: 2, Stage: recording.StageUploading, Attempt: 1, Status: recording.RunFailed, Metadata: "not json"},
		},
	}
	resp := api.FromView(view)
	if resp.Recording.Observation != "partial" || resp.Recording.FailedAtStage != "UPLOADING" {
		t.Fatalf("unexpected recording dto %+v", resp.Recording)
	}
	if len(resp.Recording.Targets) != 2 || resp.Recording.Targets[1].RemoteURL == "" {
		t.Fatalf("unexpected targets %+v", resp.Recording.Targets)
	}
	if len(resp.Runs) != 2 {
		t.Fatalf("expected two runs, got %d", len(resp.Runs))
	}
	if string(resp.Runs[0].Output) == "" || resp.Runs[0].FinishedAt != "2026-03-01T10:00:00.000Z" {
		t.Fatalf("unexpected first run %+v", resp.Runs[0])
	}
	if resp.Runs[1].Output != nil {
		t.Fatalf("invalid metadata should be omitted, got %s", resp.Runs[1].Output)
	}
}

func TestStageHealthSliceFollowsPipelineOrder(t *testing.T) {
	health := map[recording.Stage]stage.Health{
		recording.StageUploading:    stage.Healthy("publish"),
		recording.StageDownloading:  stage.Healthy("acquire"),
		recording.StageTranscribing: stage.Unhealthy("transcribe", "provider unreachable"),
	}
	got := api.StageHealthSlice(health)
	if len(got) != 3 || got[0].Name != "acquire" || got[1].Name != "transcribe" || got[2].Name != "publish" {
		t.Fatalf("unexpected order %+v", got)
	}
	if got[1].Ready || got[1].Detail == "" {
		t.Fatalf("expected unhealthy transcribe stage, got %+v", got[1])
	}
}

func TestClassifyMapsOrchestratorErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("get: %w", workflow.ErrNotFound), http.StatusNotFound, api.CodeNotFound},
		{fmt.Errorf("run: %w", workflow.ErrConflict), http.StatusConflict, api.CodeConflict},
		{fmt.Errorf("retry: %w", workflow.ErrInvalidTransition), http.StatusConflict, api.CodeInvalidTransition},
		{&quota.ExceededError{Tenant: "acme", Resource: quota.ResourceMonthlyItems, Limit: 1, Current: 1}, http.StatusTooManyRequests, api.CodeQuotaExceeded},
		{services.Wrap(services.ErrValidation, "", "create", "bad", nil), http.StatusBadRequest, api.CodeValidation},
		{errors.New("disk on fire"), http.StatusInternalServerError, api.CodeInternal},
	}
	for _, tc := range cases {
		status, code := api.Classify(tc.err)
		if status != tc.status || code != tc.code {
			t.Fatalf("Classify(%v) = %d/%s, want %d/%s", tc.err, status, code, tc.status, tc.code)
		}
	}
}
