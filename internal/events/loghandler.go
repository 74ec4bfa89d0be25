package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/toolvet/toolvet/internal/review/model"
)

// LogHandler writes every workflow event to the structured log. It is the
// fallback consumer for deployments without a ClickHouse archive.
type LogHandler struct {
	logger *zap.Logger
}

// NewLogHandler creates a LogHandler that outputs events to the given logger.
func NewLogHandler(logger *zap.Logger) *LogHandler {
	return &LogHandler{logger: logger}
}

func (h *LogHandler) Name() string { return "log" }

func (h *LogHandler) Handle(_ context.Context, event model.Event) error {
	h.logger.Info("workflow event",
		zap.String("event_id", event.ID.String()),
		zap.String("event_type", string(event.Type)),
		zap.String("review_id", event.ReviewID.String()),
		zap.String("tool_uri", event.ToolURI),
		zap.Time("timestamp", event.Timestamp),
		zap.Any("payload", event.Payload),
	)
	return nil
}
