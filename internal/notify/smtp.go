package notify

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"
)

// SMTPNotifier sends through a plain SMTP relay.
type SMTPNotifier struct {
	from   string
	dialer *gomail.Dialer
}

func NewSMTPNotifier(from, host string, port int, username, password string) *SMTPNotifier {
	return &SMTPNotifier{from: from, dialer: gomail.NewDialer(host, port, username, password)}
}

// Send dials, delivers and hangs up. gomail has no context support, so a
// cancelled context is only honoured before dialing.
func (s *SMTPNotifier) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return ErrNoRecipient
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.HTML)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
