package stage

import (
	"context"
	"log/slog"

	"recast/internal/recording"
)

// Task is the unit handed to a stage handler. Artifacts carries the outputs
// recorded by earlier completed stages of the current generation; the handler
// records its own outputs in Output, which are persisted on the stage run,
// and the bytes it wrote to storage in StoredBytes.
type Task struct {
	Recording   recording.Recording
	Run         recording.StageRun
	Artifacts   map[string]string
	Output      map[string]string
	StoredBytes int64
}

// Artifact returns a prior stage output.
func (t *Task) Artifact(key string) (string, bool) {
	if t == nil || t.Artifacts == nil {
		return "", false
	}
	v, ok := t.Artifacts[key]
	return v, ok && v != ""
}

// SetOutput records an output for later stages.
func (t *Task) SetOutput(key, value string) {
	if t.Output == nil {
		t.Output = make(map[string]string)
	}
	t.Output[key] = value
}

// Handler describes the contract the workflow manager needs from each stage.
// Execute must tolerate re-execution for the same recording.
type Handler interface {
	Prepare(context.Context, *Task) error
	Execute(context.Context, *Task) error
	HealthCheck(context.Context) Health
}

// LoggerAware handlers receive a logger scoped to the running task.
type LoggerAware interface {
	SetLogger(*slog.Logger)
}

// Artifact keys shared between stages.
const (
	ArtifactSource     = "source"
	ArtifactMedia      = "media"
	ArtifactTranscript = "transcript"
	ArtifactTopics     = "topics"
	ArtifactSubtitles  = "subtitles"
)
