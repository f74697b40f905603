package api

import (
	"errors"
	"net/http"

	"recast/internal/services"
	"recast/internal/workflow"
)

// Classify maps an orchestrator error onto an HTTP status and error code.
func Classify(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.Is(err, workflow.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, workflow.ErrConflict):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, workflow.ErrPaused):
		return http.StatusConflict, CodePaused
	case errors.Is(err, workflow.ErrInvalidTransition):
		return http.StatusConflict, CodeInvalidTransition
	case errors.Is(err, workflow.ErrQuotaExceeded):
		return http.StatusTooManyRequests, CodeQuotaExceeded
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest, CodeValidation
	}
	return http.StatusInternalServerError, CodeInternal
}

// Error is a non-2xx reply decoded by Client.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return http.StatusText(e.Status)
	}
	return e.Message
}

// Is lets callers match daemon replies against the orchestrator sentinels.
func (e *Error) Is(target error) bool {
	switch e.Code {
	case CodeNotFound:
		return target == workflow.ErrNotFound
	case CodeConflict:
		return target == workflow.ErrConflict
	case CodePaused:
		return target == workflow.ErrPaused
	case CodeInvalidTransition:
		return target == workflow.ErrInvalidTransition
	case CodeQuotaExceeded:
		return target == workflow.ErrQuotaExceeded
	case CodeValidation:
		return target == services.ErrValidation
	}
	return false
}
