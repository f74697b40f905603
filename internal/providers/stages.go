package providers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"recast/internal/logging"
	"recast/internal/recording"
	"recast/internal/services"
	"recast/internal/stage"
	"recast/internal/storage"
)

// Stage adapts one provider operation to the stage.Handler contract.
type Stage struct {
	name     string
	kind     Kind
	stage    recording.Stage
	input    string
	output   string
	file     string
	provider Provider
	store    storage.Storage
	language string
	logger   *slog.Logger
}

// NewTranscriber builds the TRANSCRIBING handler. It reads the media artefact.
func NewTranscriber(p Provider, store storage.Storage, language string, logger *slog.Logger) *Stage {
	return newStage("transcribe", KindTranscribe, recording.StageTranscribing, stage.ArtifactMedia, stage.ArtifactTranscript, "transcript.json", p, store, language, logger)
}

// NewTopicExtractor builds the EXTRACTING_TOPICS handler.
func NewTopicExtractor(p Provider, store storage.Storage, language string, logger *slog.Logger) *Stage {
	return newStage("topics", KindTopics, recording.StageExtractingTopics, stage.ArtifactTranscript, stage.ArtifactTopics, "topics.json", p, store, language, logger)
}

// NewSubtitleGenerator builds the GENERATING_SUBTITLES handler.
func NewSubtitleGenerator(p Provider, store storage.Storage, language string, logger *slog.Logger) *Stage {
	return newStage("subtitles", KindSubtitles, recording.StageGeneratingSubtitles, stage.ArtifactTranscript, stage.ArtifactSubtitles, "subtitles.json", p, store, language, logger)
}

func newStage(name string, kind Kind, st recording.Stage, input, output, file string, p Provider, store storage.Storage, language string, logger *slog.Logger) *Stage {
	return &Stage{
		name:     name,
		kind:     kind,
		stage:    st,
		input:    input,
		output:   output,
		file:     file,
		provider: p,
		store:    store,
		language: language,
		logger:   logging.NewComponentLogger(logger, name),
	}
}

// SetLogger implements stage.LoggerAware.
func (s *Stage) SetLogger(logger *slog.Logger) {
	s.logger = logging.NewComponentLogger(logger, s.name)
}

func (s *Stage) Prepare(ctx context.Context, task *stage.Task) error {
	if s.provider == nil {
		return services.Permanent(s.name, "no provider configured", services.ErrConfiguration)
	}
	if _, ok := task.Artifact(s.input); !ok {
		return services.Permanent(s.name, fmt.Sprintf("missing %s artefact", s.input), services.ErrValidation)
	}
	return nil
}

func (s *Stage) Execute(ctx context.Context, task *stage.Task) error {
	logger := logging.WithContext(ctx, s.logger)
	rec := task.Recording
	inputKey, _ := task.Artifact(s.input)

	rc, err := s.store.Load(ctx, inputKey)
	if err != nil {
		return err
	}
	defer rc.Close()

	in := Input{
		Kind:        s.kind,
		Tenant:      rec.Tenant,
		RecordingID: rec.ID,
		Language:    s.languageFor(rec.Settings),
		Granularity: rec.Settings.Granularity,
	}
	if s.kind == KindTranscribe {
		in.Media = rc
	} else {
		doc, err := io.ReadAll(rc)
		if err != nil {
			return services.Transient(s.name, "read transcript", err)
		}
		in.Document = doc
	}

	started := time.Now()
	result, err := s.provider.Submit(ctx, in)
	if err != nil {
		return err
	}

	key := storage.Key(rec.Tenant, rec.ID, s.stage, s.file)
	loc, err := s.store.Save(ctx, key, bytes.NewReader(result.Document))
	if err != nil {
		return err
	}
	task.StoredBytes += loc.Size
	task.SetOutput(s.output, loc.Key)

	logger.Info("provider stage completed",
		logging.String("operation", string(s.kind)),
		logging.String("key", loc.Key),
		logging.Duration("elapsed", time.Since(started)),
		logging.String(logging.FieldEventType, "provider_completed"),
	)
	return nil
}

func (s *Stage) languageFor(settings recording.Settings) string {
	if settings.Language != "" {
		return settings.Language
	}
	return s.language
}

func (s *Stage) HealthCheck(context.Context) stage.Health {
	if s.provider == nil {
		return stage.Unhealthy(s.name, "provider gateway not configured")
	}
	return stage.Healthy(s.name)
}
