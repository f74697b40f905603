package notifications

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"recast/internal/events"
	"recast/internal/logging"
	"recast/internal/recording"
	"recast/internal/services"
)

const defaultQueueSize = 64

// RecordingSource resolves recording titles for messages.
type RecordingSource interface {
	Get(ctx context.Context, id int64) (*recording.Recording, error)
}

type delivery struct {
	event   Event
	payload Payload
}

// Notifier turns bus events into notifications. Bus handlers only enqueue;
// Run delivers on its own goroutine so a slow ntfy server never stalls a
// stage transition.
type Notifier struct {
	svc     Service
	source  RecordingSource
	logger  *slog.Logger
	queue   chan delivery
	mu      sync.Mutex
	blocked map[int64]struct{}
}

// NewNotifier constructs a notifier. source may be nil.
func NewNotifier(svc Service, source RecordingSource, logger *slog.Logger) *Notifier {
	return &Notifier{
		svc:     svc,
		source:  source,
		logger:  logging.NewComponentLogger(logger, "notifications"),
		queue:   make(chan delivery, defaultQueueSize),
		blocked: make(map[int64]struct{}),
	}
}

// Attach subscribes the notifier to the milestones it reports.
func (n *Notifier) Attach(bus *events.Bus) {
	bus.Subscribe(events.StageCompleted, n.handle)
	bus.Subscribe(events.StageFailed, n.handle)
	bus.Subscribe(events.TargetFailed, n.handle)
	bus.Subscribe(events.QuotaDeferred, n.handle)
	bus.Subscribe(events.RecordingReset, n.handle)
}

func (n *Notifier) handle(_ context.Context, e events.Event) {
	event, payload, ok := n.translate(e)
	if !ok {
		return
	}
	select {
	case n.queue <- delivery{event: event, payload: payload}:
	default:
		n.logger.Warn("notification dropped",
			logging.String(logging.FieldEventType, "notification_dropped"),
			logging.String("notification", string(event)),
			logging.String(logging.FieldErrorHint, "ntfy server is slow or unreachable"),
		)
	}
}

func (n *Notifier) translate(e events.Event) (Event, Payload, bool) {
	payload := Payload{
		"recording_id": strconv.FormatInt(e.RecordingID, 10),
		"tenant":       e.Tenant,
	}
	switch e.Type {
	case events.StageCompleted:
		if e.Status != recording.StatusUploaded {
			return "", nil, false
		}
		n.clearBlocked(e.RecordingID)
		return EventPipelineCompleted, payload, true
	case events.StageFailed:
		if e.Kind == string(services.KindTransient) {
			return "", nil, false
		}
		payload["stage"] = string(e.Stage)
		payload["error"] = e.Message
		return EventStageFailed, payload, true
	case events.TargetFailed:
		payload["platform"] = string(e.Platform)
		payload["error"] = e.Message
		return EventTargetFailed, payload, true
	case events.QuotaDeferred:
		if !n.markBlocked(e.RecordingID) {
			return "", nil, false
		}
		payload["reason"] = e.Message
		return EventQuotaBlocked, payload, true
	case events.RecordingReset:
		n.clearBlocked(e.RecordingID)
	}
	return "", nil, false
}

// markBlocked reports whether this is the first quota wait seen for id.
func (n *Notifier) markBlocked(id int64) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.blocked[id]; ok {
		return false
	}
	n.blocked[id] = struct{}{}
	return true
}

func (n *Notifier) clearBlocked(id int64) {
	n.mu.Lock()
	delete(n.blocked, id)
	n.mu.Unlock()
}

// Run delivers queued notifications until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-n.queue:
			n.deliver(ctx, d)
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, d delivery) {
	if n.source != nil {
		if id, err := strconv.ParseInt(d.payload["recording_id"], 10, 64); err == nil {
			if rec, err := n.source.Get(ctx, id); err == nil {
				d.payload["title"] = rec.Title
				if d.event == EventPipelineCompleted {
					d.payload["destinations"] = joinPlatforms(rec.Settings.Destinations)
				}
			}
		}
	}
	if err := n.svc.Publish(ctx, d.event, d.payload); err != nil {
		logging.WarnWithContext(n.logger, "notification delivery failed", "notification_failed",
			logging.String("notification", string(d.event)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
		)
	}
}

func joinPlatforms(platforms []recording.Platform) string {
	parts := make([]string, 0, len(platforms))
	for _, p := range platforms {
		parts = append(parts, string(p))
	}
	return strings.Join(parts, ", ")
}
