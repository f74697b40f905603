package api

import "encoding/json"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Error codes carried in ErrorResponse.Code.
const (
	CodeNotFound          = "not_found"
	CodeConflict          = "conflict"
	CodeInvalidTransition = "invalid_transition"
	CodeQuotaExceeded     = "quota_exceeded"
	CodePaused            = "paused"
	CodeValidation        = "validation"
	CodeUnauthorized      = "unauthorized"
	CodeInternal          = "internal"
)

// Settings mirrors recording.Settings on the wire.
type Settings struct {
	Trim             bool     `json:"trim"`
	TrimStartSeconds float64  `json:"trimStartSeconds,omitempty"`
	TrimEndSeconds   float64  `json:"trimEndSeconds,omitempty"`
	Transcribe       bool     `json:"transcribe"`
	ExtractTopics    bool     `json:"extractTopics"`
	Subtitles        bool     `json:"subtitles"`
	Granularity      string   `json:"granularity,omitempty"`
	Language         string   `json:"language,omitempty"`
	Destinations     []string `json:"destinations"`
}

// Recording describes a recording in a transport-friendly format.
type Recording struct {
	ID                  int64    `json:"id"`
	Tenant              string   `json:"tenant"`
	Title               string   `json:"title"`
	SourceURI           string   `json:"sourceUri"`
	SourceState         string   `json:"sourceState"`
	Blank               bool     `json:"blank"`
	Status              string   `json:"status"`
	Observation         string   `json:"observation"`
	Failed              bool     `json:"failed"`
	FailedAtStage       string   `json:"failedAtStage,omitempty"`
	RetryCount          int      `json:"retryCount"`
	AutoRetries         int      `json:"autoRetries"`
	OnPause             bool     `json:"onPause"`
	Generation          int      `json:"generation"`
	ErrorMessage        string   `json:"errorMessage,omitempty"`
	ErrorKind           string   `json:"errorKind,omitempty"`
	NextAttemptAt       string   `json:"nextAttemptAt,omitempty"`
	PipelineStartedAt   string   `json:"pipelineStartedAt,omitempty"`
	PipelineCompletedAt string   `json:"pipelineCompletedAt,omitempty"`
	CreatedAt           string   `json:"createdAt,omitempty"`
	UpdatedAt           string   `json:"updatedAt,omitempty"`
	Settings            Settings `json:"settings"`
	Targets             []Target `json:"targets,omitempty"`
}

// Target is the per-destination publication state.
type Target struct {
	Platform   string `json:"platform"`
	Status     string `json:"status"`
	RetryCount int    `json:"retryCount"`
	LastError  string `json:"lastError,omitempty"`
	ErrorKind  string `json:"errorKind,omitempty"`
	RemoteURL  string `json:"remoteUrl,omitempty"`
	RemoteID   string `json:"remoteId,omitempty"`
	UpdatedAt  string `json:"updatedAt,omitempty"`
}

// StageRun is one attempt of a stage.
type StageRun struct {
	ID           int64           `json:"id"`
	Stage        string          `json:"stage"`
	Attempt      int             `json:"attempt"`
	Generation   int             `json:"generation"`
	Status       string          `json:"status"`
	StartedAt    string          `json:"startedAt,omitempty"`
	FinishedAt   string          `json:"finishedAt,omitempty"`
	ErrorKind    string          `json:"errorKind,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	StoredBytes  int64           `json:"storedBytes,omitempty"`
	Output       json.RawMessage `json:"output,omitempty"`
}

// RecordingResponse wraps a single recording with its run history.
type RecordingResponse struct {
	Recording Recording  `json:"recording"`
	Runs      []StageRun `json:"runs,omitempty"`
}

// RecordingListResponse wraps a collection of recordings.
type RecordingListResponse struct {
	Recordings []Recording `json:"recordings"`
}

// RunResponse reports the outcome of a dispatching action. AlreadyComplete is
// set instead of Run when the recording needs no further work.
type RunResponse struct {
	Run             *StageRun `json:"run,omitempty"`
	AlreadyComplete bool      `json:"alreadyComplete,omitempty"`
}

// CreateRecordingRequest registers a recording.
type CreateRecordingRequest struct {
	Tenant      string   `json:"tenant"`
	Title       string   `json:"title"`
	SourceURI   string   `json:"sourceUri"`
	SourceState string   `json:"sourceState,omitempty"`
	Blank       bool     `json:"blank,omitempty"`
	Settings    Settings `json:"settings"`
}

// SourceReadyRequest resolves a pending source.
type SourceReadyRequest struct {
	Blank bool `json:"blank"`
}

// PoolStatus mirrors worker pool occupancy.
type PoolStatus struct {
	Name     string `json:"name"`
	Size     int    `json:"size"`
	Queued   int    `json:"queued"`
	InFlight int    `json:"inFlight"`
}

// StageHealth mirrors readiness reporting for workflow stages.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// WorkflowStatus summarizes workflow execution state.
type WorkflowStatus struct {
	Running       bool           `json:"running"`
	StatusCounts  map[string]int `json:"statusCounts"`
	LastError     string         `json:"lastError,omitempty"`
	LastRecording *Recording     `json:"lastRecording,omitempty"`
	Pools         []PoolStatus   `json:"pools"`
	StageHealth   []StageHealth  `json:"stageHealth"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	DatabasePath string         `json:"databasePath"`
	LockFilePath string         `json:"lockFilePath"`
	Workflow     WorkflowStatus `json:"workflow"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
