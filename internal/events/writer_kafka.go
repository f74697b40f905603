package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"recast/internal/config"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaWriter publishes events as JSON messages keyed by recording id so a
// recording's events stay ordered within a partition.
type KafkaWriter struct {
	writer messageWriter
}

// NewKafkaWriter builds a writer for the configured brokers. The topic comes
// from the producer.
func NewKafkaWriter(cfg config.Kafka) *KafkaWriter {
	return &KafkaWriter{writer: &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		WriteTimeout:           10 * time.Second,
		AllowAutoTopicCreation: true,
	}}
}

func (w *KafkaWriter) Write(ctx context.Context, topic string, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(strconv.FormatInt(e.RecordingID, 10)),
		Value: payload,
		Time:  e.At,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(e.Type)},
			{Key: "tenant", Value: []byte(e.Tenant)},
		},
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write kafka message: %w", err)
	}
	return nil
}

func (w *KafkaWriter) Close(context.Context) error {
	return w.writer.Close()
}
