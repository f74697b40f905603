package trimming

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"recast/internal/config"
	"recast/internal/deps"
	"recast/internal/fileutil"
	"recast/internal/logging"
	"recast/internal/recording"
	"recast/internal/services"
	"recast/internal/stage"
	"recast/internal/staging"
	"recast/internal/storage"
)

const stageName = "trim"

// Trimmer cuts recordings to the configured window.
type Trimmer struct {
	store   storage.Storage
	ffmpeg  string
	ffprobe string
	workDir string
	logger  *slog.Logger
}

// New constructs the processing stage handler.
func New(cfg *config.Config, store storage.Storage, logger *slog.Logger) *Trimmer {
	return &Trimmer{
		store:   store,
		ffmpeg:  cfg.Media.FFmpegBinary,
		ffprobe: cfg.Media.FFprobeBinary,
		workDir: cfg.Paths.WorkDir,
		logger:  logging.NewComponentLogger(logger, "trimming"),
	}
}

// SetLogger implements stage.LoggerAware.
func (t *Trimmer) SetLogger(logger *slog.Logger) {
	t.logger = logging.NewComponentLogger(logger, "trimming")
}

func (t *Trimmer) Prepare(ctx context.Context, task *stage.Task) error {
	if _, ok := task.Artifact(stage.ArtifactMedia); !ok {
		return services.Permanent(stageName, "no acquired media to trim", services.ErrValidation)
	}
	s := task.Recording.Settings
	if s.TrimStartSeconds < 0 || s.TrimEndSeconds < 0 {
		return services.Permanent(stageName, "trim bounds must not be negative", services.ErrValidation)
	}
	return nil
}

func (t *Trimmer) Execute(ctx context.Context, task *stage.Task) error {
	logger := logging.WithContext(ctx, t.logger)
	mediaKey, _ := task.Artifact(stage.ArtifactMedia)
	rec := task.Recording

	dir, err := staging.Ensure(t.workDir, rec.Tenant, rec.ID)
	if err != nil {
		return services.Transient(stageName, "prepare staging", err)
	}
	ext := path.Ext(mediaKey)
	input := filepath.Join(dir, "input"+ext)
	output := filepath.Join(dir, "trimmed"+ext)
	defer func() {
		_ = os.Remove(input)
		_ = os.Remove(output)
	}()

	if err := t.stageInput(ctx, mediaKey, input); err != nil {
		return err
	}

	probe, err := probeMedia(ctx, t.ffprobe, input)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return services.Permanent(stageName, "media could not be inspected", fmt.Errorf("%w: %w", services.ErrUnsupported, err))
	}
	if probe.MediaStreamCount() == 0 {
		return services.Permanent(stageName, "media has no audio or video streams", services.ErrUnsupported)
	}
	duration := probe.DurationSeconds()
	start, end := window(rec.Settings, duration)
	if duration > 0 && start >= end {
		return services.Permanent(stageName, fmt.Sprintf("trim window removes the whole recording (%.1fs)", duration), services.ErrValidation)
	}

	args := []string{"-hide_banner", "-loglevel", "error", "-y"}
	if start > 0 {
		args = append(args, "-ss", formatSeconds(start))
	}
	args = append(args, "-i", input)
	if end > 0 {
		args = append(args, "-t", formatSeconds(end-start))
	}
	args = append(args, "-c", "copy", "-map", "0", output)

	started := time.Now()
	if err := execFFmpeg(ctx, t.ffmpeg, args...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return services.Permanent(stageName, "ffmpeg trim failed", fmt.Errorf("%w: %w", services.ErrExternalTool, err))
	}

	f, err := os.Open(output)
	if err != nil {
		return services.Permanent(stageName, "ffmpeg produced no output", fmt.Errorf("%w: %w", services.ErrExternalTool, err))
	}
	defer f.Close()
	key := storage.Key(rec.Tenant, rec.ID, recording.StageProcessing, "media"+ext)
	loc, err := t.store.Save(ctx, key, f)
	if err != nil {
		return err
	}
	task.StoredBytes += loc.Size
	task.SetOutput(stage.ArtifactMedia, loc.Key)

	logger.Info("recording trimmed",
		logging.String("key", loc.Key),
		logging.Float64("start_seconds", start),
		logging.Float64("end_seconds", end),
		logging.Duration("elapsed", time.Since(started)),
		logging.String(logging.FieldEventType, "recording_trimmed"),
	)
	return nil
}

func (t *Trimmer) stageInput(ctx context.Context, key, dst string) error {
	rc, err := t.store.Load(ctx, key)
	if err != nil {
		return err
	}
	defer rc.Close()
	if _, err := fileutil.WriteAtomic(dst, rc, 0o644); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return services.Transient(stageName, "stage media locally", err)
	}
	return nil
}

func (t *Trimmer) HealthCheck(context.Context) stage.Health {
	if status := deps.CheckFFmpeg(t.ffmpeg); !status.Available {
		return stage.Unhealthy(stageName, status.Detail)
	}
	return stage.Healthy(stageName)
}

// window converts head/tail trim settings into an absolute [start, end)
// range. end is zero when the tail is kept and the duration is unknown.
func window(s recording.Settings, duration float64) (float64, float64) {
	start := s.TrimStartSeconds
	if duration <= 0 {
		return start, 0
	}
	end := duration - s.TrimEndSeconds
	return start, end
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
