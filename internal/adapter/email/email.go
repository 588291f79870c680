// Package email implements the email channel adapter over SMTP.
package email

import (
	"bytes"
	"context"
	"fmt"

	"gopkg.in/mail.v2"

	"github.com/notifyd/notifyd/internal/adapter"
	"github.com/notifyd/notifyd/internal/model"
)

// Adapter sends notifications as email through an SMTP relay.
type Adapter struct {
	smtpHost string
	smtpPort int
	username string
	password string
	from     string
}

// New creates an email adapter.
func New(smtpHost string, smtpPort int, username, password, from string) *Adapter {
	return &Adapter{
		smtpHost: smtpHost,
		smtpPort: smtpPort,
		username: username,
		password: password,
		from:     from,
	}
}

// Name implements adapter.Adapter.
func (a *Adapter) Name() string { return "smtp" }

// CanHandle implements adapter.Adapter.
func (a *Adapter) CanHandle(channel model.Channel) bool {
	return channel == model.ChannelEmail
}

// Send transmits the rendered payload to the recipient's address.
//
// One-off recipients carry the address directly; user-linked recipients must
// have been resolved to an address by the context generator and passed through
// extra params under "email".
func (a *Adapter) Send(ctx context.Context, p adapter.Payload) error {
	to, err := recipientAddress(p)
	if err != nil {
		return err
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", a.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", p.Subject)

	if p.HTMLBody {
		msg.SetBody("text/html", p.Body)
	} else {
		msg.SetBody("text/plain", p.Body)
	}

	for _, f := range p.Attachments {
		msg.AttachReader(f.Name, bytes.NewReader(f.Data))
	}

	dialer := mail.NewDialer(a.smtpHost, a.smtpPort, a.username, a.password)

	if err := dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}

	return nil
}

func recipientAddress(p adapter.Payload) (string, error) {
	if p.Recipient.Kind == model.RecipientOneOff {
		return p.Recipient.EmailOrPhone, nil
	}

	if addr, ok := p.Extra["email"].(string); ok && addr != "" {
		return addr, nil
	}

	return "", fmt.Errorf("no email address for user recipient")
}
