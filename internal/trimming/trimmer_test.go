package trimming_test

import (
	"context"
	"errors"
	"io"
	"os"
	"slices"
	"strings"
	"testing"

	"recast/internal/logging"
	"recast/internal/media/ffprobe"
	"recast/internal/recording"
	"recast/internal/services"
	"recast/internal/stage"
	"recast/internal/storage"
	"recast/internal/testsupport"
	"recast/internal/trimming"
)

func probeWith(duration string, streams ...string) func(context.Context, string, string) (ffprobe.Result, error) {
	return func(context.Context, string, string) (ffprobe.Result, error) {
		p := ffprobe.Result{Format: ffprobe.Format{Duration: duration}}
		for i, s := range streams {
			p.Streams = append(p.Streams, ffprobe.Stream{Index: i, CodecType: s})
		}
		return p, nil
	}
}

func setup(t *testing.T, settings recording.Settings) (*trimming.Trimmer, storage.Storage, *stage.Task) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st, err := storage.NewLocal(cfg.Storage.LocalDir)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	key := storage.Key("acme", 3, recording.StageDownloading, "source.mp4")
	if _, err := st.Save(context.Background(), key, strings.NewReader("raw media")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	task := &stage.Task{
		Recording: recording.Recording{ID: 3, Tenant: "acme", Settings: settings},
		Artifacts: map[string]string{stage.ArtifactMedia: key},
	}
	return trimming.New(cfg, st, logging.NewNop()), st, task
}

func TestTrimmerCutsHeadAndTail(t *testing.T) {
	settings := recording.Settings{Trim: true, TrimStartSeconds: 10, TrimEndSeconds: 5}
	trimmer, st, task := setup(t, settings)

	restoreProbe := trimming.SetProbeForTests(probeWith("100.0", "video", "audio"))
	defer restoreProbe()
	var gotArgs []string
	restoreFF := trimming.SetFFmpegForTests(func(_ context.Context, _ string, args ...string) error {
		gotArgs = args
		out := args[len(args)-1]
		return os.WriteFile(out, []byte("trimmed media"), 0o644)
	})
	defer restoreFF()

	ctx := context.Background()
	if err := trimmer.Prepare(ctx, task); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := trimmer.Execute(ctx, task); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	idx := slices.Index(gotArgs, "-ss")
	if idx < 0 || gotArgs[idx+1] != "10.000" {
		t.Fatalf("missing start offset in %v", gotArgs)
	}
	idx = slices.Index(gotArgs, "-t")
	if idx < 0 || gotArgs[idx+1] != "85.000" {
		t.Fatalf("unexpected duration in %v", gotArgs)
	}
	if !slices.Contains(gotArgs, "copy") {
		t.Fatalf("expected stream copy, got %v", gotArgs)
	}

	key := task.Output[stage.ArtifactMedia]
	if key != "acme/3/processing/media.mp4" {
		t.Fatalf("unexpected output key %q", key)
	}
	rc, err := st.Load(ctx, key)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "trimmed media" {
		t.Fatalf("stored %q", data)
	}
	if task.StoredBytes != int64(len("trimmed media")) {
		t.Fatalf("StoredBytes = %d", task.StoredBytes)
	}
}

func TestTrimmerRejectsWindowCoveringWholeRecording(t *testing.T) {
	trimmer, _, task := setup(t, recording.Settings{Trim: true, TrimStartSeconds: 60, TrimEndSeconds: 60})
	defer trimming.SetProbeForTests(probeWith("100", "audio"))()
	defer trimming.SetFFmpegForTests(func(context.Context, string, ...string) error {
		t.Fatal("ffmpeg should not run")
		return nil
	})()

	err := trimmer.Execute(context.Background(), task)
	if services.Classify(err) != services.KindPermanent || !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected permanent validation error, got %v", err)
	}
}

func TestTrimmerRejectsMediaWithoutStreams(t *testing.T) {
	trimmer, _, task := setup(t, recording.Settings{Trim: true})
	defer trimming.SetProbeForTests(probeWith("30", "data"))()

	err := trimmer.Execute(context.Background(), task)
	if !errors.Is(err, services.ErrUnsupported) {
		t.Fatalf("expected unsupported media, got %v", err)
	}
}

func TestTrimmerClassifiesFFmpegFailureAsPermanent(t *testing.T) {
	trimmer, _, task := setup(t, recording.Settings{Trim: true, TrimStartSeconds: 1})
	defer trimming.SetProbeForTests(probeWith("30", "video"))()
	defer trimming.SetFFmpegForTests(func(context.Context, string, ...string) error {
		return errors.New("exit status 1: invalid data")
	})()

	err := trimmer.Execute(context.Background(), task)
	if !errors.Is(err, services.ErrExternalTool) || services.Classify(err) != services.KindPermanent {
		t.Fatalf("expected permanent external tool error, got %v", err)
	}
}

func TestTrimmerPrepareRequiresMedia(t *testing.T) {
	trimmer, _, task := setup(t, recording.Settings{Trim: true})
	task.Artifacts = nil
	if err := trimmer.Prepare(context.Background(), task); err == nil {
		t.Fatal("expected error without media artefact")
	}
}
