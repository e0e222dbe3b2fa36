package dispatcher

import (
	"context"
	"log/slog"
)

// LogSender writes messages to the log instead of delivering them.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger.With("module", "log_sender")}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logger.InfoContext(ctx, "Message",
		"channel", msg.Channel,
		"target", msg.Target,
		"subject", msg.Subject,
		"body", msg.Template,
		"execution_id", msg.ExecutionID,
		"step_id", msg.StepID,
	)

	return nil
}
