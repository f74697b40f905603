package events

import (
	"context"
	"log/slog"

	"recast/internal/logging"
)

// LogWriter emits each event as a structured log line.
type LogWriter struct {
	logger *slog.Logger
}

// NewLogWriter constructs a log sink.
func NewLogWriter(logger *slog.Logger) *LogWriter {
	return &LogWriter{logger: logging.NewComponentLogger(logger, "event-log")}
}

func (w *LogWriter) Write(ctx context.Context, topic string, e Event) error {
	attrs := []logging.Attr{
		logging.String("topic", topic),
		logging.String("event_id", e.ID),
		logging.String(logging.FieldEventType, string(e.Type)),
		logging.Int64(logging.FieldRecordingID, e.RecordingID),
		logging.String(logging.FieldTenant, e.Tenant),
	}
	if e.RunID != 0 {
		attrs = append(attrs, logging.Int64("run_id", e.RunID))
	}
	if e.Stage != "" {
		attrs = append(attrs, logging.String(logging.FieldStage, string(e.Stage)))
	}
	if e.Platform != "" {
		attrs = append(attrs, logging.String(logging.FieldPlatform, string(e.Platform)))
	}
	if e.Status != "" {
		attrs = append(attrs, logging.String("status", string(e.Status)))
	}
	if e.Kind != "" {
		attrs = append(attrs, logging.String(logging.FieldErrorKind, e.Kind))
	}
	if e.Message != "" {
		attrs = append(attrs, logging.String("message", e.Message))
	}
	w.logger.LogAttrs(ctx, slog.LevelInfo, "lifecycle event", attrs...)
	return nil
}

func (w *LogWriter) Close(context.Context) error { return nil }
