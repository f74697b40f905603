package stage

import (
	"errors"
	"fmt"

	"recast/internal/recording"
)

// Pool selects the execution pool for a stage.
type Pool string

const (
	PoolCPU Pool = "cpu"
	PoolIO  Pool = "io"
)

// Definition binds a pipeline stage to its handler and pool. Fanout stages
// have no handler: the orchestrator dispatches one publisher task per target.
type Definition struct {
	Stage   recording.Stage
	Pool    Pool
	Handler Handler
	Fanout  bool
	Enabled func(recording.Settings) bool
}

// Registry declares the ordered stages applicable to a recording.
type Registry struct {
	defs []Definition
}

// NewRegistry validates and orders definitions by canonical stage order.
func NewRegistry(defs ...Definition) (*Registry, error) {
	seen := make(map[recording.Stage]bool, len(defs))
	ordered := make([]Definition, len(recording.AllStages()))
	present := make([]bool, len(ordered))
	for _, def := range defs {
		idx := def.Stage.Order()
		if idx < 0 {
			return nil, fmt.Errorf("stage registry: unknown stage %q", def.Stage)
		}
		if seen[def.Stage] {
			return nil, fmt.Errorf("stage registry: duplicate stage %s", def.Stage)
		}
		if !def.Fanout && def.Handler == nil {
			return nil, fmt.Errorf("stage registry: stage %s has no handler", def.Stage)
		}
		if def.Pool == "" {
			def.Pool = PoolIO
		}
		seen[def.Stage] = true
		ordered[idx] = def
		present[idx] = true
	}
	if !seen[recording.StageDownloading] {
		return nil, errors.New("stage registry: acquisition stage is required")
	}
	if !seen[recording.StageUploading] {
		return nil, errors.New("stage registry: publication stage is required")
	}
	r := &Registry{}
	for i, def := range ordered {
		if present[i] {
			r.defs = append(r.defs, def)
		}
	}
	return r, nil
}

// DefaultEnabled reports whether a stage applies under settings when the
// definition has no explicit predicate.
func DefaultEnabled(stage recording.Stage, settings recording.Settings) bool {
	switch stage {
	case recording.StageProcessing:
		return settings.Trim
	case recording.StageTranscribing:
		return settings.Transcribe
	case recording.StageExtractingTopics:
		return settings.Transcribe && settings.ExtractTopics
	case recording.StageGeneratingSubtitles:
		return settings.Transcribe && settings.Subtitles
	default:
		return true
	}
}

func (d Definition) enabled(settings recording.Settings) bool {
	if d.Enabled != nil {
		return d.Enabled(settings)
	}
	return DefaultEnabled(d.Stage, settings)
}

// Plan returns the ordered stages that apply to settings.
func (r *Registry) Plan(settings recording.Settings) []recording.Stage {
	plan := make([]recording.Stage, 0, len(r.defs))
	for _, def := range r.defs {
		if def.enabled(settings) {
			plan = append(plan, def.Stage)
		}
	}
	return plan
}

// First returns the first applicable stage.
func (r *Registry) First(settings recording.Settings) (recording.Stage, bool) {
	plan := r.Plan(settings)
	if len(plan) == 0 {
		return "", false
	}
	return plan[0], true
}

// Next returns the first applicable stage ordered after the given one, or
// false when the pipeline is finished. An empty after yields First.
func (r *Registry) Next(settings recording.Settings, after recording.Stage) (recording.Stage, bool) {
	if after == "" {
		return r.First(settings)
	}
	for _, stage := range r.Plan(settings) {
		if stage.Order() > after.Order() {
			return stage, true
		}
	}
	return "", false
}

// Lookup returns the definition for stage.
func (r *Registry) Lookup(stage recording.Stage) (Definition, bool) {
	for _, def := range r.defs {
		if def.Stage == stage {
			return def, true
		}
	}
	return Definition{}, false
}

// Definitions returns all registered definitions in order.
func (r *Registry) Definitions() []Definition {
	out := make([]Definition, len(r.defs))
	copy(out, r.defs)
	return out
}
