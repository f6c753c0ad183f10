package notify

import (
	"context"
	"log/slog"
)

// Log writes messages to the logger instead of delivering them.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Publish(ctx context.Context, msg Message) error {
	attrs := []any{"format", msg.Format, "text", msg.Text}
	if msg.Destination != "" {
		attrs = append(attrs, "destination", msg.Destination)
	}
	l.logger.InfoContext(ctx, "notification", attrs...)
	return nil
}
