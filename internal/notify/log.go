package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogNotifier writes messages to the log instead of sending them. Used in development.
type LogNotifier struct {
	logger *zap.SugaredLogger
}

func NewLogNotifier(logger *zap.SugaredLogger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return ErrNoRecipient
	}
	l.logger.Infow("email", "to", msg.To, "subject", msg.Subject)
	// the body carries live verification links
	l.logger.Debugw("email body", "to", msg.To, "html", msg.HTML)
	return nil
}
