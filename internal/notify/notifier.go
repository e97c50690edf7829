package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Message is one outbound HTML email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Notifier delivers a message or reports why it could not.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

var ErrNoRecipient = errors.New("message has no recipient")

// Config selects and configures a backend.
type Config struct {
	Driver  string // log / mailgun / smtp
	From    string
	Timeout time.Duration

	MailgunDomain  string
	MailgunAPIKey  string
	MailgunAPIBase string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
}

// New builds the notifier named by cfg.Driver. Every send is bounded by cfg.Timeout.
func New(cfg Config, logger *zap.SugaredLogger) (Notifier, error) {
	var n Notifier
	switch cfg.Driver {
	case "", "log":
		n = NewLogNotifier(logger)
	case "mailgun":
		n = NewMailgunNotifier(cfg.From, cfg.MailgunDomain, cfg.MailgunAPIKey, cfg.MailgunAPIBase)
	case "smtp":
		n = NewSMTPNotifier(cfg.From, cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword)
	default:
		return nil, fmt.Errorf("unknown mail driver %q", cfg.Driver)
	}
	return WithTimeout(n, cfg.Timeout), nil
}

type timeoutNotifier struct {
	next    Notifier
	timeout time.Duration
}

// WithTimeout derives a per-send deadline from the caller's context.
func WithTimeout(n Notifier, d time.Duration) Notifier {
	if d <= 0 {
		return n
	}
	return timeoutNotifier{next: n, timeout: d}
}

func (t timeoutNotifier) Send(ctx context.Context, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Send(ctx, msg)
}
