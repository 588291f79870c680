// Package push implements the push channel adapter against an HTTP push
// gateway.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/notifyd/notifyd/internal/adapter"
	"github.com/notifyd/notifyd/internal/model"
)

// Adapter delivers notifications through an HTTP push gateway that fans the
// message out to the user's registered devices.
type Adapter struct {
	gatewayURL string
	apiKey     string
	client     *http.Client
}

// New creates a push adapter.
func New(gatewayURL, apiKey string) *Adapter {
	return &Adapter{
		gatewayURL: gatewayURL,
		apiKey:     apiKey,
		client:     &http.Client{},
	}
}

// NewWithClient creates a push adapter with a custom HTTP client. Used in tests.
func NewWithClient(gatewayURL, apiKey string, client *http.Client) *Adapter {
	return &Adapter{gatewayURL: gatewayURL, apiKey: apiKey, client: client}
}

// Name implements adapter.Adapter.
func (a *Adapter) Name() string { return "push-gateway" }

// CanHandle implements adapter.Adapter.
func (a *Adapter) CanHandle(channel model.Channel) bool {
	return channel == model.ChannelPush
}

// pushRequest is the payload for the gateway's send endpoint.
type pushRequest struct {
	UserID string         `json:"user_id"`
	Title  string         `json:"title,omitempty"`
	Body   string         `json:"body"`
	Data   map[string]any `json:"data,omitempty"`
}

// Send posts the rendered payload to the push gateway. Push delivery requires
// a registered user; one-off recipients have no device tokens.
func (a *Adapter) Send(ctx context.Context, p adapter.Payload) error {
	if p.Recipient.Kind != model.RecipientUser || p.Recipient.UserID == nil {
		return fmt.Errorf("push requires a registered user recipient")
	}

	body, err := json.Marshal(pushRequest{
		UserID: p.Recipient.UserID.String(),
		Title:  p.Subject,
		Body:   p.Body,
		Data:   p.Extra,
	})
	if err != nil {
		return fmt.Errorf("marshal push request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.gatewayURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("push gateway request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("push gateway error: %s", resp.Status)
	}

	return nil
}
