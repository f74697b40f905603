package recording

import "strings"

// Stage identifies one unit of pipeline work.
type Stage string

const (
	StageDownloading         Stage = "DOWNLOADING"
	StageProcessing          Stage = "PROCESSING"
	StageTranscribing        Stage = "TRANSCRIBING"
	StageExtractingTopics    Stage = "EXTRACTING_TOPICS"
	StageGeneratingSubtitles Stage = "GENERATING_SUBTITLES"
	StageUploading           Stage = "UPLOADING"
)

var allStages = []Stage{
	StageDownloading,
	StageProcessing,
	StageTranscribing,
	StageExtractingTopics,
	StageGeneratingSubtitles,
	StageUploading,
}

// AllStages returns every stage in canonical pipeline order.
func AllStages() []Stage {
	out := make([]Stage, len(allStages))
	copy(out, allStages)
	return out
}

// ParseStage converts a string to a Stage.
func ParseStage(value string) (Stage, bool) {
	candidate := Stage(strings.ToUpper(strings.TrimSpace(value)))
	for _, stage := range allStages {
		if stage == candidate {
			return stage, true
		}
	}
	return "", false
}

// Running is the aggregate status held while the stage executes.
func (s Stage) Running() Status {
	switch s {
	case StageDownloading:
		return StatusDownloading
	case StageProcessing:
		return StatusProcessing
	case StageTranscribing, StageExtractingTopics, StageGeneratingSubtitles:
		return StatusTranscribing
	case StageUploading:
		return StatusUploading
	}
	return ""
}

// Completed is the aggregate status reached when the stage succeeds.
func (s Stage) Completed() Status {
	switch s {
	case StageDownloading:
		return StatusDownloaded
	case StageProcessing:
		return StatusProcessed
	case StageTranscribing, StageExtractingTopics, StageGeneratingSubtitles:
		return StatusTranscribed
	case StageUploading:
		return StatusUploaded
	}
	return ""
}

// Order is the stage's position in the canonical pipeline, or -1.
func (s Stage) Order() int {
	for i, stage := range allStages {
		if stage == s {
			return i
		}
	}
	return -1
}
