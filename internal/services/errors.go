package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
	ErrPermanent     = errors.New("permanent failure")
	ErrRateLimited   = errors.New("rate limited")
	ErrNotReady      = errors.New("not ready")
	ErrCredentials   = errors.New("invalid credentials")
	ErrUnsupported   = errors.New("unsupported")
	ErrQuotaExceeded = errors.New("quota exceeded")
)

// Kind is the retry classification attached to a stage failure.
type Kind string

const (
	KindTransient     Kind = "transient"
	KindPermanent     Kind = "permanent"
	KindQuotaExceeded Kind = "quota_exceeded"
)

// ErrorClassifier is implemented by errors that know their own kind.
type ErrorClassifier interface {
	ErrorKind() Kind
}

// ClassifiedError carries an explicit kind plus operator-facing context.
type ClassifiedError struct {
	Kind       Kind
	Op         string
	Message    string
	Hint       string
	Code       string
	RetryAfter time.Duration
	Err        error
}

func (e *ClassifiedError) Error() string {
	if e == nil {
		return ""
	}
	detail := buildDetail("", e.Op, e.Message)
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, detail)
}

func (e *ClassifiedError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ErrorKind implements ErrorClassifier.
func (e *ClassifiedError) ErrorKind() Kind {
	if e == nil || e.Kind == "" {
		return KindPermanent
	}
	return e.Kind
}

// Transient returns a ClassifiedError of kind transient.
func Transient(op, message string, err error) *ClassifiedError {
	return &ClassifiedError{Kind: KindTransient, Op: op, Message: message, Err: err}
}

// Permanent returns a ClassifiedError of kind permanent.
func Permanent(op, message string, err error) *ClassifiedError {
	return &ClassifiedError{Kind: KindPermanent, Op: op, Message: message, Err: err}
}

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrExternalTool
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify decides whether a failure may be resumed automatically.
// Anything not explicitly marked transient is treated as permanent.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	var classifier ErrorClassifier
	if errors.As(err, &classifier) {
		return classifier.ErrorKind()
	}
	switch {
	case errors.Is(err, ErrQuotaExceeded):
		return KindQuotaExceeded
	case errors.Is(err, ErrPermanent),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrConfiguration),
		errors.Is(err, ErrCredentials),
		errors.Is(err, ErrUnsupported),
		errors.Is(err, ErrNotFound):
		return KindPermanent
	case errors.Is(err, ErrTransient),
		errors.Is(err, ErrTimeout),
		errors.Is(err, ErrRateLimited),
		errors.Is(err, ErrNotReady),
		errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	default:
		return KindPermanent
	}
}

// ErrorDetails is the flattened view of a failure persisted on stage runs.
type ErrorDetails struct {
	Kind      Kind
	Operation string
	Message   string
	Hint      string
	Code      string
	Cause     string
}

// Details extracts persisted failure context from err.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	details := ErrorDetails{Kind: Classify(err), Message: err.Error()}
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		details.Operation = classified.Op
		details.Hint = classified.Hint
		details.Code = classified.Code
		if strings.TrimSpace(classified.Message) != "" {
			details.Message = classified.Message
		}
		if classified.Err != nil {
			details.Cause = classified.Err.Error()
		}
	}
	return details
}

// RetryAfter returns the collaborator-provided delay hint, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var classified *ClassifiedError
	if errors.As(err, &classified) && classified.RetryAfter > 0 {
		return classified.RetryAfter, true
	}
	return 0, false
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
