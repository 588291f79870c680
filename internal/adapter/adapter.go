// Package adapter defines the channel adapter capability: given a rendered
// notification, transmit it over one delivery channel. Adapters never retry;
// failures are reported synchronously to the engine.
package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/notifyd/notifyd/internal/model"
)

// ErrNoAdapter is returned when no registered adapter handles a channel.
var ErrNoAdapter = errors.New("no adapter registered")

// File is a transmittable attachment handle.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Payload is the rendered message handed to an adapter.
type Payload struct {
	NotificationID uuid.UUID

	Subject     string // empty for channels without a subject concept
	Body        string
	HTMLBody    bool // whether Body was rendered from an HTML template
	Recipient   model.Recipient
	Attachments []File
	Extra       map[string]any // opaque extra_params, passed through untouched
}

// Adapter is a channel-specific transmission capability.
type Adapter interface {
	// Name identifies the adapter in audit fields (adapter_used).
	Name() string

	// CanHandle reports whether the adapter handles the given channel.
	CanHandle(channel model.Channel) bool

	// Send transmits the payload. A returned error is recorded verbatim as
	// the notification's failure reason.
	Send(ctx context.Context, p Payload) error
}

// Select returns the first adapter that declares the channel. First match
// wins; the registration order is the dispatch priority.
func Select(adapters []Adapter, channel model.Channel) (Adapter, error) {
	for _, a := range adapters {
		if a.CanHandle(channel) {
			return a, nil
		}
	}

	return nil, fmt.Errorf("%w for channel %s", ErrNoAdapter, channel)
}
