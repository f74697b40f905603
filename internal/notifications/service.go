package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"recast/internal/config"
)

const (
	userAgent      = "recast/0.1.0"
	defaultTimeout = 10 * time.Second
)

// Event enumerates the milestones that produce a notification.
type Event string

const (
	EventPipelineCompleted Event = "pipeline_completed"
	EventStageFailed       Event = "stage_failed"
	EventTargetFailed      Event = "target_failed"
	EventQuotaBlocked      Event = "quota_blocked"
	EventTest              Event = "test"
)

// Payload carries the values rendered into a message.
type Payload map[string]string

// Service defines the notification surface.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := cfg.Notifications.NotifyTimeout()
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := render(event, payload)
	if !ok {
		return fmt.Errorf("unknown notification event %q", event)
	}
	return n.send(ctx, msg)
}

func render(event Event, p Payload) (message, bool) {
	subject := recordingLabel(p)
	switch event {
	case EventPipelineCompleted:
		body := fmt.Sprintf("✅ Published: %s", subject)
		if dest := p["destinations"]; dest != "" {
			body = fmt.Sprintf("%s\nDestinations: %s", body, dest)
		}
		return message{
			title:    "Recast - Published",
			body:     body,
			tags:     []string{"recast", "pipeline", "completed"},
			priority: "high",
		}, true
	case EventStageFailed:
		body := fmt.Sprintf("❌ %s failed at %s", subject, fallback(p["stage"], "unknown stage"))
		if reason := p["error"]; reason != "" {
			body = fmt.Sprintf("%s: %s", body, reason)
		}
		return message{
			title:    "Recast - Stage Failed",
			body:     body,
			tags:     []string{"recast", "error", "alert"},
			priority: "high",
		}, true
	case EventTargetFailed:
		body := fmt.Sprintf("⚠️ Upload to %s failed for %s", fallback(p["platform"], "unknown"), subject)
		if reason := p["error"]; reason != "" {
			body = fmt.Sprintf("%s: %s", body, reason)
		}
		return message{
			title: "Recast - Upload Failed",
			body:  body,
			tags:  []string{"recast", "upload", fallback(p["platform"], "target")},
		}, true
	case EventQuotaBlocked:
		return message{
			title: "Recast - Quota Reached",
			body:  fmt.Sprintf("⏸️ %s is waiting for quota: %s", subject, fallback(p["reason"], "limit reached")),
			tags:  []string{"recast", "quota", fallback(p["tenant"], "tenant")},
		}, true
	case EventTest:
		return message{
			title:    "Recast - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"recast", "test"},
			priority: "low",
		}, true
	}
	return message{}, false
}

func recordingLabel(p Payload) string {
	label := strings.TrimSpace(p["title"])
	id := strings.TrimSpace(p["recording_id"])
	switch {
	case label != "" && id != "":
		return fmt.Sprintf("%s (#%s)", label, id)
	case id != "":
		return "recording #" + id
	case label != "":
		return label
	}
	return "recording"
}

func fallback(value, def string) string {
	if value = strings.TrimSpace(value); value != "" {
		return value
	}
	return def
}

func (n *ntfyService) send(ctx context.Context, data message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
