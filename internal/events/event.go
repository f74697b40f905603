package events

import (
	"time"

	"recast/internal/recording"
)

// Type names a lifecycle event.
type Type string

const (
	StageStarted    Type = "stage.started"
	StageCompleted  Type = "stage.completed"
	StageFailed     Type = "stage.failed"
	TargetStarted   Type = "target.started"
	TargetUploaded  Type = "target.uploaded"
	TargetFailed    Type = "target.failed"
	RecordingPaused Type = "recording.paused"
	RecordingReset  Type = "recording.reset"
	SourceResolved  Type = "recording.source_resolved"
	RetryScheduled  Type = "retry.scheduled"
	QuotaDeferred   Type = "quota.deferred"
)

// Event is one lifecycle notification.
type Event struct {
	ID          string             `json:"id"`
	Type        Type               `json:"type"`
	At          time.Time          `json:"at"`
	RecordingID int64              `json:"recording_id"`
	Tenant      string             `json:"tenant"`
	RunID       int64              `json:"run_id,omitempty"`
	Stage       recording.Stage    `json:"stage,omitempty"`
	Platform    recording.Platform `json:"platform,omitempty"`
	Status      recording.Status   `json:"status,omitempty"`
	Kind        string             `json:"kind,omitempty"`
	Message     string             `json:"message,omitempty"`
}
