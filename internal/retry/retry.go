// Package retry decides what happens after a stage or upload fails: resume
// automatically after a bounded exponential backoff, or halt for an operator.
package retry

import (
	"context"
	"errors"
	"time"

	"recast/internal/config"
	"recast/internal/services"
)

const (
	defaultBaseDelay = 5 * time.Second
	defaultMaxDelay  = 5 * time.Minute
)

// Policy bounds automatic resumes.
type Policy struct {
	MaxAutoRetries int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
}

// Decision is the outcome of classifying one failure.
type Decision struct {
	Kind services.Kind
	// Retry schedules an automatic resume after Delay.
	Retry bool
	Delay time.Duration
	// Escalated reports a transient failure that exhausted the budget and is
	// now treated as permanent.
	Escalated bool
}

// FromConfig builds the policy from workflow settings.
func FromConfig(cfg config.Workflow) Policy {
	return Policy{
		MaxAutoRetries: cfg.MaxAutoRetries,
		BaseDelay:      time.Duration(cfg.RetryBaseDelay) * time.Second,
		MaxDelay:       time.Duration(cfg.RetryMaxDelay) * time.Second,
	}
}

// Classify returns the failure kind. Cancellation counts as transient: the
// stage was interrupted, not rejected.
func Classify(err error) services.Kind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		var classifier services.ErrorClassifier
		if !errors.As(err, &classifier) {
			return services.KindTransient
		}
	}
	return services.Classify(err)
}

// Decide classifies err given the automatic resumes already spent.
func (p Policy) Decide(err error, autoRetries int) Decision {
	kind := Classify(err)
	if kind != services.KindTransient {
		return Decision{Kind: kind}
	}
	return p.DecideKind(kind, autoRetries, retryAfter(err))
}

// DecideKind applies the budget to an already classified failure.
func (p Policy) DecideKind(kind services.Kind, autoRetries int, hint time.Duration) Decision {
	if kind != services.KindTransient {
		return Decision{Kind: kind}
	}
	if autoRetries >= p.MaxAutoRetries {
		return Decision{Kind: services.KindPermanent, Escalated: true}
	}
	delay := p.Backoff(autoRetries + 1)
	if hint > delay {
		delay = p.capDelay(hint)
	}
	return Decision{Kind: kind, Retry: true, Delay: delay}
}

// Backoff returns the delay before the given 1-based attempt:
// attempt 1 -> base, attempt 2 -> base*2, attempt 3 -> base*4, capped at max.
func (p Policy) Backoff(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = defaultBaseDelay
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultMaxDelay
	}
	if attempt <= 0 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		if delay > maxDelay/2 {
			return maxDelay
		}
		delay *= 2
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func (p Policy) capDelay(d time.Duration) time.Duration {
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultMaxDelay
	}
	if d > maxDelay {
		return maxDelay
	}
	return d
}

func retryAfter(err error) time.Duration {
	d, _ := services.RetryAfter(err)
	return d
}
