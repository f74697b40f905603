package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HTTPStatusError classifies a non-2xx collaborator response. Rate limits,
// upstream outages and "not ready" answers are transient; authentication and
// content rejections are permanent.
func HTTPStatusError(op string, resp *http.Response) error {
	if resp == nil {
		return Permanent(op, "empty response", nil)
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	detail := strings.TrimSpace(string(body))
	cause := fmt.Errorf("%s: %s", resp.Status, detail)
	code := strconv.Itoa(resp.StatusCode)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &ClassifiedError{
			Kind:       KindTransient,
			Op:         op,
			Message:    "rate limited",
			Code:       code,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
			Err:        fmt.Errorf("%w: %w", ErrRateLimited, cause),
		}
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return &ClassifiedError{
			Kind:    KindPermanent,
			Op:      op,
			Message: "credentials rejected",
			Hint:    "check the collaborator token",
			Code:    code,
			Err:     fmt.Errorf("%w: %w", ErrCredentials, cause),
		}
	case resp.StatusCode == http.StatusConflict, resp.StatusCode == http.StatusTooEarly:
		return &ClassifiedError{
			Kind:       KindTransient,
			Op:         op,
			Message:    "upstream not ready",
			Code:       code,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
			Err:        fmt.Errorf("%w: %w", ErrNotReady, cause),
		}
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode >= 500:
		return &ClassifiedError{
			Kind:       KindTransient,
			Op:         op,
			Message:    "upstream unavailable",
			Code:       code,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
			Err:        cause,
		}
	case resp.StatusCode == http.StatusUnsupportedMediaType, resp.StatusCode == http.StatusUnprocessableEntity:
		return &ClassifiedError{
			Kind:    KindPermanent,
			Op:      op,
			Message: "content rejected",
			Code:    code,
			Err:     fmt.Errorf("%w: %w", ErrUnsupported, cause),
		}
	default:
		return &ClassifiedError{Kind: KindPermanent, Op: op, Message: "request rejected", Code: code, Err: cause}
	}
}

// HTTPTransportError classifies a failure to reach a collaborator at all.
func HTTPTransportError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &ClassifiedError{Kind: KindTransient, Op: op, Message: "request timed out", Err: fmt.Errorf("%w: %w", ErrTimeout, err)}
	}
	return Transient(op, "request failed", err)
}

func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
