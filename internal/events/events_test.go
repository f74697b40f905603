package events_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"recast/internal/events"
	"recast/internal/logging"
	"recast/internal/recording"
)

type recordingWriter struct {
	mu     sync.Mutex
	topics []string
	events []events.Event
	closed bool
	block  chan struct{}
	fail   error
}

func (w *recordingWriter) Write(_ context.Context, topic string, e events.Event) error {
	if w.block != nil {
		<-w.block
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.topics = append(w.topics, topic)
	w.events = append(w.events, e)
	return w.fail
}

func (w *recordingWriter) Close(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *recordingWriter) snapshot() []events.Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]events.Event(nil), w.events...)
}

func TestBusDeliversByTypeAndAll(t *testing.T) {
	bus := events.NewBus(nil, logging.NewNop())
	var typed, all []events.Type
	bus.Subscribe(events.StageCompleted, func(_ context.Context, e events.Event) {
		typed = append(typed, e.Type)
	})
	bus.SubscribeAll(func(_ context.Context, e events.Event) {
		all = append(all, e.Type)
	})

	ctx := context.Background()
	bus.Publish(ctx, events.Event{Type: events.StageStarted, RecordingID: 1})
	bus.Publish(ctx, events.Event{Type: events.StageCompleted, RecordingID: 1, Stage: recording.StageDownloading})

	if len(typed) != 1 || typed[0] != events.StageCompleted {
		t.Fatalf("typed subscriber saw %v", typed)
	}
	if len(all) != 2 {
		t.Fatalf("catch-all subscriber saw %v", all)
	}
}

func TestBusStampsIDAndTime(t *testing.T) {
	bus := events.NewBus(nil, logging.NewNop())
	var got events.Event
	bus.SubscribeAll(func(_ context.Context, e events.Event) { got = e })
	bus.Publish(context.Background(), events.Event{Type: events.RecordingPaused})
	if got.ID == "" {
		t.Fatal("expected generated event id")
	}
	if got.At.IsZero() {
		t.Fatal("expected event timestamp")
	}
}

func TestNilBusIgnoresPublish(t *testing.T) {
	var bus *events.Bus
	bus.Publish(context.Background(), events.Event{Type: events.StageFailed})
}

func TestProducerForwardsAndFlushesOnClose(t *testing.T) {
	w := &recordingWriter{}
	p := events.NewProducer(w, events.WithOutputTopic("pipeline"), events.WithLogger(logging.NewNop()))
	bus := events.NewBus(p, logging.NewNop())

	for i := range 5 {
		bus.Publish(context.Background(), events.Event{Type: events.StageStarted, RecordingID: int64(i + 1)})
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got := w.snapshot()
	if len(got) != 5 {
		t.Fatalf("expected 5 forwarded events, got %d", len(got))
	}
	for i, e := range got {
		if e.RecordingID != int64(i+1) {
			t.Fatalf("event %d out of order: %+v", i, e)
		}
	}
	if w.topics[0] != "pipeline" {
		t.Fatalf("unexpected topic %q", w.topics[0])
	}
	if !w.closed {
		t.Fatal("expected writer to be closed")
	}
	if err := p.Write(events.Event{Type: events.StageStarted}); !errors.Is(err, events.ErrProducerClosed) {
		t.Fatalf("expected ErrProducerClosed, got %v", err)
	}
}

func TestProducerDoesNotBlockOnSlowSink(t *testing.T) {
	w := &recordingWriter{block: make(chan struct{})}
	p := events.NewProducer(w, events.WithBufferSize(2), events.WithLogger(logging.NewNop()))

	done := make(chan struct{})
	go func() {
		for i := range 10 {
			_ = p.Write(events.Event{Type: events.StageStarted, RecordingID: int64(i)})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Write blocked on a stalled sink")
	}
	if pending := p.Pending(); pending > 2 {
		t.Fatalf("buffer exceeded bound: %d", pending)
	}
	close(w.block)
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestProducerSurvivesWriterErrors(t *testing.T) {
	w := &recordingWriter{fail: errors.New("broker down")}
	p := events.NewProducer(w, events.WithLogger(logging.NewNop()))
	_ = p.Write(events.Event{Type: events.TargetFailed})
	_ = p.Write(events.Event{Type: events.TargetUploaded})
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := len(w.snapshot()); got != 2 {
		t.Fatalf("expected both events attempted, got %d", got)
	}
}
