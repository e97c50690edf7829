package notify

import (
	"context"
	"fmt"

	"github.com/mailgun/mailgun-go/v4"
)

// MailgunNotifier sends through the Mailgun HTTP API.
type MailgunNotifier struct {
	from string
	mg   *mailgun.MailgunImpl
}

func NewMailgunNotifier(from, domain, apiKey, apiBase string) *MailgunNotifier {
	mg := mailgun.NewMailgun(domain, apiKey)
	if apiBase != "" {
		mg.SetAPIBase(apiBase)
	}
	return &MailgunNotifier{from: from, mg: mg}
}

func (m *MailgunNotifier) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return ErrNoRecipient
	}
	message := mailgun.NewMessage(m.from, msg.Subject, "", msg.To)
	message.SetHtml(msg.HTML)

	if _, _, err := m.mg.Send(ctx, message); err != nil {
		return fmt.Errorf("mailgun send: %w", err)
	}
	return nil
}
