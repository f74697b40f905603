package events

import (
	"log/slog"

	"recast/internal/config"
)

// NewProducerFromConfig wires the configured sinks. It returns nil when no
// sink is enabled.
func NewProducerFromConfig(cfg config.Events, logger *slog.Logger) *Producer {
	var writers MultiWriter
	if cfg.Log {
		writers = append(writers, NewLogWriter(logger))
	}
	if cfg.Kafka.Enabled {
		writers = append(writers, NewKafkaWriter(cfg.Kafka))
	}
	if len(writers) == 0 {
		return nil
	}
	topic := cfg.Kafka.Topic
	return NewProducer(writers, WithOutputTopic(topic), WithBufferSize(cfg.BufferSize), WithLogger(logger))
}
