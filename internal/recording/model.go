package recording

import "time"

// SourceState tracks whether the upstream source can be acquired.
type SourceState string

const (
	SourcePending SourceState = "pending"
	SourceReady   SourceState = "ready"
	SourceSkipped SourceState = "skipped"
)

// Settings selects which optional stages apply and where output is published.
type Settings struct {
	Trim             bool       `json:"trim"`
	TrimStartSeconds float64    `json:"trim_start_seconds,omitempty"`
	TrimEndSeconds   float64    `json:"trim_end_seconds,omitempty"`
	Transcribe       bool       `json:"transcribe"`
	ExtractTopics    bool       `json:"extract_topics"`
	Subtitles        bool       `json:"subtitles"`
	Granularity      string     `json:"granularity,omitempty"`
	Language         string     `json:"language,omitempty"`
	Destinations     []Platform `json:"destinations"`
}

// Recording is one ingested recording owned by a tenant. Status, Failed and
// FailedAtStage are a cache of Derive over the current generation.
type Recording struct {
	ID                  int64
	Tenant              string
	Title               string
	SourceURI           string
	SourceState         SourceState
	Blank               bool
	Settings            Settings
	Status              Status
	Failed              bool
	FailedAtStage       Stage
	RetryCount          int
	AutoRetries         int
	OnPause             bool
	Generation          int
	ErrorMessage        string
	ErrorKind           string
	NextAttemptAt       *time.Time
	PipelineStartedAt   *time.Time
	PipelineCompletedAt *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// RunStatus is the state of one stage attempt.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// StageRun is one append-only attempt of a stage for a recording.
type StageRun struct {
	ID           int64
	RecordingID  int64
	Stage        Stage
	Attempt      int
	Generation   int
	Status       RunStatus
	StartedAt    time.Time
	FinishedAt   *time.Time
	HeartbeatAt  *time.Time
	ErrorKind    string
	ErrorMessage string
	Metadata     string
	StoredBytes  int64
	HoldsSlot    bool
}

// Target is the publication state of one destination for one recording.
type Target struct {
	RecordingID int64
	Platform    Platform
	Status      TargetStatus
	RetryCount  int
	LastError   string
	ErrorKind   string
	RemoteURL   string
	RemoteID    string
	// Queued marks the target as part of the active publish attempt.
	Queued    bool
	UpdatedAt time.Time
}
