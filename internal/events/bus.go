package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"recast/internal/logging"
)

// Handler reacts to an event. Handlers run on the publisher's goroutine and
// must not block for long.
type Handler func(ctx context.Context, e Event)

// Bus is an in-process publish/subscribe hub.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Type][]Handler
	all      []Handler
	sink     *Producer
	logger   *slog.Logger
}

// NewBus constructs a bus. sink may be nil.
func NewBus(sink *Producer, logger *slog.Logger) *Bus {
	return &Bus{
		handlers: make(map[Type][]Handler),
		sink:     sink,
		logger:   logging.NewComponentLogger(logger, "events"),
	}
}

// Subscribe registers h for events of type t.
func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// SubscribeAll registers h for every event.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

// Publish stamps e and delivers it to subscribers, then to the sink.
func (b *Bus) Publish(ctx context.Context, e Event) {
	if b == nil {
		return
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[e.Type]...)
	handlers = append(handlers, b.all...)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, e)
	}
	if b.sink != nil {
		if err := b.sink.Write(e); err != nil {
			b.logger.Debug("event not forwarded", logging.String(logging.FieldEventType, string(e.Type)), logging.Error(err))
		}
	}
}
