package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"recast/internal/api"
	"recast/internal/daemon"
	"recast/internal/logging"
	"recast/internal/recording"
	"recast/internal/stage"
	"recast/internal/testsupport"
	"recast/internal/workflow"
)

type acquireStub struct{}

func (acquireStub) Prepare(context.Context, *stage.Task) error { return nil }

func (acquireStub) Execute(_ context.Context, task *stage.Task) error {
	task.SetOutput(stage.ArtifactSource, "acme/source.mp4")
	task.SetOutput(stage.ArtifactMedia, "acme/source.mp4")
	return nil
}

func (acquireStub) HealthCheck(context.Context) stage.Health { return stage.Healthy("acquire") }

type publisherStub struct{}

func (publisherStub) Platform() recording.Platform { return recording.PlatformYouTube }

func (publisherStub) Upload(context.Context, stage.Content, stage.Metadata) (stage.TargetResult, error) {
	return stage.TargetResult{RemoteID: "v1", RemoteURL: "https://youtube.example.com/v1"}, nil
}

type cliTestEnv struct {
	addr       string
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	mgr := workflow.NewManager(cfg, st, logging.NewNop(), workflow.Options{})
	if err := mgr.ConfigureStages(workflow.StageSet{
		Acquirer:   acquireStub{},
		Publishers: stage.NewPublishers(publisherStub{}),
	}); err != nil {
		t.Fatalf("ConfigureStages: %v", err)
	}
	d, err := daemon.New(cfg, st, logging.NewNop(), mgr)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("daemon Start: %v", err)
	}
	t.Cleanup(d.Stop)

	return &cliTestEnv{
		addr:       d.APIAddress(),
		configPath: filepath.Join(testsupport.BaseDir(cfg), "missing.toml"),
	}
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", e.configPath, "--api", e.addr}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCLIRecordingLifecycle(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "add", "https://meet.example.com/rec/1", "--tenant", "acme", "--title", "Weekly sync", "-d", "youtube")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !strings.Contains(out, "Registered recording #1") {
		t.Fatalf("unexpected add output %q", out)
	}

	out, err = env.run(t, "run", "1")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "Dispatched Downloading for recording #1") {
		t.Fatalf("unexpected run output %q", out)
	}

	var shown api.RecordingResponse
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		out, err = env.run(t, "--json", "show", "1")
		if err != nil {
			t.Fatalf("show: %v", err)
		}
		if err := json.Unmarshal([]byte(out), &shown); err != nil {
			t.Fatalf("decode show output: %v\n%s", err, out)
		}
		if shown.Recording.Status == string(recording.StatusUploaded) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if shown.Recording.Status != string(recording.StatusUploaded) {
		t.Fatalf("expected UPLOADED, got %s", shown.Recording.Status)
	}

	out, err = env.run(t, "run", "1")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !strings.Contains(out, "already complete") {
		t.Fatalf("expected already complete message, got %q", out)
	}

	out, err = env.run(t, "list", "--tenant", "acme")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "Weekly sync") || !strings.Contains(out, "UPLOADED") {
		t.Fatalf("unexpected list output:\n%s", out)
	}

	out, err = env.run(t, "show", "1")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out, "Stage History") || !strings.Contains(out, "Downloading") {
		t.Fatalf("expected stage history in show output:\n%s", out)
	}
}

func TestCLIRetryRejectsHealthyRecording(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, err := env.run(t, "add", "https://meet.example.com/rec/1", "--tenant", "acme"); err != nil {
		t.Fatalf("add: %v", err)
	}
	_, err := env.run(t, "retry", "1")
	if err == nil {
		t.Fatal("expected retry of a non-failed recording to fail")
	}
	if !strings.Contains(err.Error(), "not FAILED") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestCLIPendingSourceFlow(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, err := env.run(t, "add", "--tenant", "acme", "--pending", "-d", "youtube"); err != nil {
		t.Fatalf("add: %v", err)
	}
	out, err := env.run(t, "source-ready", "1", "--blank")
	if err != nil {
		t.Fatalf("source-ready: %v", err)
	}
	if !strings.Contains(out, "SKIPPED") {
		t.Fatalf("expected skipped recording, got %q", out)
	}
}

func TestCLIStatusRendersPoolsAndStages(t *testing.T) {
	env := setupCLITestEnv(t)
	out, err := env.run(t, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"Running (pid", "acquire", "Worker Pools", "cpu", "io"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in status output:\n%s", want, out)
		}
	}
}

func TestCLIReportsUnreachableDaemon(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "none.toml"), "--api", "127.0.0.1:1", "list"})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "recast daemon start") {
		t.Fatalf("expected start hint, got %v", err)
	}
}

func TestParseRecordingID(t *testing.T) {
	if _, err := parseRecordingID("0"); err == nil {
		t.Fatal("expected error for zero id")
	}
	if id, err := parseRecordingID(" 12 "); err != nil || id != 12 {
		t.Fatalf("parseRecordingID = %d, %v", id, err)
	}
}
