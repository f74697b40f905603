package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"recast/internal/logging"
)

const defaultTopic = "recast.events"

// ErrProducerClosed is returned by Write after Close.
var ErrProducerClosed = errors.New("event producer closed")

// Writer is implemented by external sinks.
type Writer interface {
	Write(ctx context.Context, topic string, e Event) error
	Close(ctx context.Context) error
}

// ProducerOption configures a Producer.
type ProducerOption func(*Producer)

// WithOutputTopic overrides the destination topic.
func WithOutputTopic(topic string) ProducerOption {
	return func(p *Producer) {
		if topic != "" {
			p.topic = topic
		}
	}
}

// WithBufferSize bounds the pending events; the oldest is dropped when full.
func WithBufferSize(n int) ProducerOption {
	return func(p *Producer) {
		p.buffer = newBuffer(n)
	}
}

// WithLogger sets the producer's logger.
func WithLogger(logger *slog.Logger) ProducerOption {
	return func(p *Producer) {
		p.logger = logging.NewComponentLogger(logger, "event-producer")
	}
}

// Producer wraps a Writer with a buffer so a slow sink never blocks callers.
type Producer struct {
	buffer  *buffer
	wakeCh  chan struct{}
	doneCh  chan struct{}
	exited  chan struct{}
	writer  Writer
	topic   string
	logger  *slog.Logger
	mu      sync.Mutex
	closed  bool
	timeout time.Duration
}

// NewProducer starts a producer forwarding to w.
func NewProducer(w Writer, opts ...ProducerOption) *Producer {
	p := &Producer{
		buffer:  newBuffer(0),
		wakeCh:  make(chan struct{}, 1),
		doneCh:  make(chan struct{}),
		exited:  make(chan struct{}),
		writer:  w,
		topic:   defaultTopic,
		logger:  logging.NewComponentLogger(nil, "event-producer"),
		timeout: 10 * time.Second,
	}
	for _, o := range opts {
		o(p)
	}
	go p.run()
	return p
}

// Write queues e for delivery.
func (p *Producer) Write(e Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrProducerClosed
	}
	p.buffer.PushBack(e)
	select {
	case p.wakeCh <- struct{}{}:
	default:
	}
	return nil
}

// Pending returns the number of undelivered events.
func (p *Producer) Pending() int {
	return p.buffer.Size()
}

// Close flushes pending events and closes the writer, bounded by a timeout.
func (p *Producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	g, ctx := errgroup.WithContext(closeCtx)
	g.Go(func() error {
		close(p.doneCh)
		select {
		case <-p.exited:
		case <-ctx.Done():
			return ctx.Err()
		}
		return p.writer.Close(ctx)
	})
	if err := g.Wait(); err != nil {
		p.logger.Error("event producer closed with error", logging.Error(err))
		return err
	}
	if dropped := p.buffer.Dropped(); dropped > 0 {
		p.logger.Warn("event producer dropped events",
			logging.Int("dropped", dropped),
			logging.String(logging.FieldEventType, "events_dropped"),
			logging.String(logging.FieldImpact, "external sinks missed lifecycle events"),
			logging.String(logging.FieldErrorHint, "raise events.buffer_size or check the sink"),
		)
	}
	p.logger.Debug("event producer closed")
	return nil
}

func (p *Producer) run() {
	defer close(p.exited)
	for {
		if p.buffer.Size() == 0 {
			select {
			case <-p.wakeCh:
			case <-p.doneCh:
				return
			}
		}
		e, ok := p.buffer.Pop()
		if !ok {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		if err := p.writer.Write(ctx, p.topic, e); err != nil {
			p.logger.Warn("failed to send event",
				logging.Error(err),
				logging.String(logging.FieldEventType, "event_send_failed"),
				logging.String("event", string(e.Type)),
				logging.Int64(logging.FieldRecordingID, e.RecordingID),
				logging.String(logging.FieldImpact, "external sink missed one lifecycle event"),
				logging.String(logging.FieldErrorHint, "check event sink connectivity"),
			)
		}
		cancel()
	}
}

// MultiWriter fans one event out to several writers.
type MultiWriter []Writer

func (m MultiWriter) Write(ctx context.Context, topic string, e Event) error {
	var errs []error
	for _, w := range m {
		if err := w.Write(ctx, topic, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiWriter) Close(ctx context.Context) error {
	var errs []error
	for _, w := range m {
		if err := w.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
