package store

import (
	"errors"

	"recast/internal/recording"
	"recast/internal/services"
)

var (
	// ErrNotFound reports an unknown recording or target.
	ErrNotFound = errors.New("not found")
	// ErrConflict reports that the recording already has a running stage.
	ErrConflict = errors.New("stage already running")
	// ErrPaused reports that a dispatch reached a paused recording.
	ErrPaused = errors.New("recording paused")
	// ErrInvalidTransition is returned for writes the state machines reject.
	ErrInvalidTransition = recording.ErrInvalidTransition
)

type notFoundError struct{ what string }

func (e *notFoundError) Error() string { return e.what + " not found" }

func (e *notFoundError) Is(target error) bool {
	return target == ErrNotFound || target == services.ErrNotFound
}
