package recording

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidTransition is returned for any status change outside the allow-list.
var ErrInvalidTransition = errors.New("invalid transition")

// Status is the aggregate processing status of a recording.
type Status string

const (
	StatusInitialized   Status = "INITIALIZED"
	StatusDownloading   Status = "DOWNLOADING"
	StatusDownloaded    Status = "DOWNLOADED"
	StatusProcessing    Status = "PROCESSING"
	StatusProcessed     Status = "PROCESSED"
	StatusTranscribing  Status = "TRANSCRIBING"
	StatusTranscribed   Status = "TRANSCRIBED"
	StatusUploading     Status = "UPLOADING"
	StatusUploaded      Status = "UPLOADED"
	StatusPendingSource Status = "PENDING_SOURCE"
	StatusSkipped       Status = "SKIPPED"
	StatusFailed        Status = "FAILED"
)

var allStatuses = []Status{
	StatusPendingSource,
	StatusInitialized,
	StatusDownloading,
	StatusDownloaded,
	StatusProcessing,
	StatusProcessed,
	StatusTranscribing,
	StatusTranscribed,
	StatusUploading,
	StatusUploaded,
	StatusSkipped,
	StatusFailed,
}

// transitions is the allow-list keyed by current status.
var transitions = map[Status][]Status{
	StatusPendingSource: {StatusInitialized, StatusSkipped},
	StatusInitialized:   {StatusDownloading, StatusSkipped},
	StatusDownloading:   {StatusDownloaded, StatusFailed},
	StatusDownloaded:    {StatusProcessing, StatusTranscribing, StatusUploading},
	StatusProcessing:    {StatusProcessed, StatusFailed},
	StatusProcessed:     {StatusTranscribing, StatusUploading},
	StatusTranscribing:  {StatusTranscribed, StatusFailed},
	StatusTranscribed:   {StatusTranscribing, StatusUploading},
	StatusUploading:     {StatusUploaded, StatusFailed},
	StatusFailed:        {StatusDownloading, StatusProcessing, StatusTranscribing, StatusUploading},
}

// AllStatuses returns the known statuses in pipeline order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus converts a string to a Status.
func ParseStatus(value string) (Status, bool) {
	candidate := Status(strings.ToUpper(strings.TrimSpace(value)))
	for _, status := range allStatuses {
		if status == candidate {
			return status, true
		}
	}
	return "", false
}

// IsTerminal reports whether no further pipeline work can happen without reset.
func (s Status) IsTerminal() bool {
	return s == StatusUploaded || s == StatusSkipped
}

// IsRunning reports whether a stage is executing in this status.
func (s Status) IsRunning() bool {
	switch s {
	case StatusDownloading, StatusProcessing, StatusTranscribing, StatusUploading:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is in the allow-list.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionError describes a rejected status change.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s", ErrInvalidTransition, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// ValidateTransition returns a *TransitionError when from -> to is not allowed.
func ValidateTransition(from, to Status) error {
	if CanTransition(from, to) {
		return nil
	}
	return &TransitionError{From: from, To: to}
}
