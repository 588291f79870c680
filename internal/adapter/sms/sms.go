// Package sms implements the SMS channel adapter on top of Twilio.
package sms

import (
	"context"
	"fmt"

	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/notifyd/notifyd/internal/adapter"
	"github.com/notifyd/notifyd/internal/model"
)

// messageCreator is the slice of the Twilio client the adapter needs.
type messageCreator interface {
	CreateMessage(params *api.CreateMessageParams) (*api.ApiV2010Message, error)
}

// Adapter sends notifications as SMS via the Twilio REST API.
type Adapter struct {
	fromNumber string
	client     messageCreator
}

// New creates an SMS adapter with a real Twilio client.
func New(accountSID, authToken, fromNumber string) *Adapter {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})

	return &Adapter{fromNumber: fromNumber, client: client.Api}
}

// NewWithClient creates an SMS adapter with a custom message creator. Used in
// tests.
func NewWithClient(fromNumber string, client messageCreator) *Adapter {
	return &Adapter{fromNumber: fromNumber, client: client}
}

// Name implements adapter.Adapter.
func (a *Adapter) Name() string { return "twilio" }

// CanHandle implements adapter.Adapter.
func (a *Adapter) CanHandle(channel model.Channel) bool {
	return channel == model.ChannelSMS
}

// Send transmits the rendered body to the recipient's phone number. SMS has
// no subject; the subject, if rendered, is ignored.
func (a *Adapter) Send(ctx context.Context, p adapter.Payload) error {
	to, err := recipientNumber(p)
	if err != nil {
		return err
	}

	params := &api.CreateMessageParams{}
	params.SetBody(p.Body)
	params.SetFrom(a.fromNumber)
	params.SetTo(to)

	resp, err := a.client.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("twilio send: %w", err)
	}

	if resp.Sid == nil {
		return fmt.Errorf("twilio send: no message sid returned")
	}

	return nil
}

func recipientNumber(p adapter.Payload) (string, error) {
	if p.Recipient.Kind == model.RecipientOneOff {
		return p.Recipient.EmailOrPhone, nil
	}

	if num, ok := p.Extra["phone"].(string); ok && num != "" {
		return num, nil
	}

	return "", fmt.Errorf("no phone number for user recipient")
}
