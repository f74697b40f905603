package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"recast/internal/recording"
)

type fakeMessageWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (f *fakeMessageWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeMessageWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaWriterEncodesEvent(t *testing.T) {
	fake := &fakeMessageWriter{}
	w := &KafkaWriter{writer: fake}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := Event{
		ID:          "evt-1",
		Type:        StageCompleted,
		At:          at,
		RecordingID: 42,
		Tenant:      "acme",
		Stage:       recording.StageProcessing,
	}
	if err := w.Write(context.Background(), "recast.events", e); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(fake.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(fake.msgs))
	}
	msg := fake.msgs[0]
	if msg.Topic != "recast.events" || string(msg.Key) != "42" {
		t.Fatalf("unexpected routing: topic=%q key=%q", msg.Topic, msg.Key)
	}
	if !msg.Time.Equal(at) {
		t.Fatalf("unexpected message time %v", msg.Time)
	}
	var decoded Event
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Type != StageCompleted || decoded.Stage != recording.StageProcessing || decoded.Tenant != "acme" {
		t.Fatalf("unexpected payload %+v", decoded)
	}
	if string(msg.Headers[0].Value) != string(StageCompleted) {
		t.Fatalf("unexpected header %+v", msg.Headers[0])
	}
	if err := w.Close(context.Background()); err != nil || !fake.closed {
		t.Fatalf("Close: %v closed=%v", err, fake.closed)
	}
}
