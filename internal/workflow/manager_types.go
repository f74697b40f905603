package workflow

import (
	"errors"
	"fmt"

	"recast/internal/quota"
	"recast/internal/recording"
	"recast/internal/stage"
	"recast/internal/store"
)

var (
	// ErrAlreadyComplete reports a Run on a recording in a terminal success state.
	ErrAlreadyComplete = errors.New("recording already complete")
	// ErrConflict reports a request against a recording with a running stage.
	ErrConflict = store.ErrConflict
	// ErrNotFound reports an unknown recording or target.
	ErrNotFound = store.ErrNotFound
	// ErrPaused reports a dispatch blocked by the pause flag.
	ErrPaused = store.ErrPaused
	// ErrInvalidTransition reports a request outside the transition allow-list.
	ErrInvalidTransition = recording.ErrInvalidTransition
	// ErrQuotaExceeded matches every quota rejection.
	ErrQuotaExceeded = quota.ErrQuotaExceeded
)

// StageSet bundles the concrete handlers the manager orchestrates. Nil
// optional handlers leave their stage out of every plan.
type StageSet struct {
	Acquirer          stage.Handler
	Trimmer           stage.Handler
	Transcriber       stage.Handler
	TopicExtractor    stage.Handler
	SubtitleGenerator stage.Handler
	Publishers        stage.Publishers
}

func (s StageSet) registry() (*stage.Registry, error) {
	defs := []stage.Definition{
		{Stage: recording.StageDownloading, Pool: stage.PoolIO, Handler: s.Acquirer},
		{Stage: recording.StageUploading, Pool: stage.PoolIO, Fanout: true},
	}
	optional := []struct {
		stage   recording.Stage
		pool    stage.Pool
		handler stage.Handler
	}{
		{recording.StageProcessing, stage.PoolCPU, s.Trimmer},
		{recording.StageTranscribing, stage.PoolIO, s.Transcriber},
		{recording.StageExtractingTopics, stage.PoolIO, s.TopicExtractor},
		{recording.StageGeneratingSubtitles, stage.PoolIO, s.SubtitleGenerator},
	}
	for _, opt := range optional {
		if opt.handler == nil {
			continue
		}
		defs = append(defs, stage.Definition{Stage: opt.stage, Pool: opt.pool, Handler: opt.handler})
	}
	if s.Acquirer == nil {
		return nil, fmt.Errorf("workflow: acquirer handler is required")
	}
	return stage.NewRegistry(defs...)
}

// View is a recording with its computed observation and per-target state.
type View struct {
	Recording   recording.Recording
	Observation recording.Observation
	Targets     []recording.Target
	Runs        []*recording.StageRun
}
