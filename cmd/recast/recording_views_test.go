package main

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"recast/internal/api"
)

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("Daemon", statusError, "Not reachable", false)
	if !strings.HasPrefix(got, statusIndent+"Daemon:") || !strings.HasSuffix(got, "[ERROR] Not reachable") {
		t.Fatalf("unexpected status line %q", got)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("Daemon", statusOK, "Running", true)
	if !strings.HasPrefix(got, ansiGreen) || !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected green line, got %q", got)
	}
}

func TestShouldColorizeNonFile(t *testing.T) {
	if shouldColorize(io.Discard) {
		t.Fatalf("expected non-file writer to disable color")
	}
}

func TestTargetSummaryMarksOutcome(t *testing.T) {
	got := targetSummary([]api.Target{
		{Platform: "youtube", Status: "UPLOADED"},
		{Platform: "vk", Status: "FAILED"},
		{Platform: "rutube", Status: "UPLOADING"},
	})
	if got != "youtube✓ vk✗ rutube…" {
		t.Fatalf("unexpected summary %q", got)
	}
	if targetSummary(nil) != "-" {
		t.Fatal("expected dash for no targets")
	}
}

func TestBuildStatusCountRowsFollowsPipelineOrder(t *testing.T) {
	rows := buildStatusCountRows(map[string]int{"UPLOADED": 2, "INITIALIZED": 1, "FAILED": 0, "DOWNLOADING": 3})
	if len(rows) != 3 {
		t.Fatalf("expected zero counts dropped, got %v", rows)
	}
	if rows[0][0] != "INITIALIZED" || rows[1][0] != "DOWNLOADING" || rows[2][0] != "UPLOADED" {
		t.Fatalf("unexpected order %v", rows)
	}
}

func TestRenderRecordingDetailShowsFailureAndTargets(t *testing.T) {
	var buf bytes.Buffer
	renderRecordingDetail(&buf, api.RecordingResponse{
		Recording: api.Recording{
			ID:            5,
			Tenant:        "acme",
			Status:        "FAILED",
			Observation:   "partial",
			Failed:        true,
			FailedAtStage: "UPLOADING",
			ErrorMessage:  "vk rejected the upload",
			ErrorKind:     "permanent",
			Settings:      api.Settings{Transcribe: true, Destinations: []string{"youtube", "vk"}},
			Targets: []api.Target{
				{Platform: "youtube", Status: "UPLOADED", RemoteURL: "https://youtube.example.com/v/5"},
				{Platform: "vk", Status: "FAILED", LastError: "rejected"},
			},
		},
		Runs: []api.StageRun{{Stage: "EXTRACTING_TOPICS", Attempt: 1, Generation: 1, Status: "COMPLETED",
			StartedAt: "2026-03-01T10:00:00.000Z", FinishedAt: "2026-03-01T10:01:30.000Z"}},
	}, false)
	out := buf.String()
	for _, want := range []string{"Recording 5", "Uploading: vk rejected the upload [permanent]", "transcribe, publish to youtube, vk", "https://youtube.example.com/v/5", "Extracting Topics", "1m30s"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestTruncateCountsRunes(t *testing.T) {
	if got := truncate("Еженедельная встреча", 5); got != "Ежен…" {
		t.Fatalf("unexpected truncation %q", got)
	}
}

func TestSettingsSummaryNamesLanguage(t *testing.T) {
	got := settingsSummary(api.Settings{Transcribe: true, Language: "ru", ExtractTopics: true})
	if got != "transcribe (Russian), topics" {
		t.Fatalf("unexpected summary %q", got)
	}
	if got := settingsSummary(api.Settings{}); got != "download only" {
		t.Fatalf("unexpected empty summary %q", got)
	}
}
