// Package inapp implements the in-app channel adapter. Delivery is an insert
// into the user's inbox table; the web layer serves the inbox separately.
package inapp

import (
	"context"
	"fmt"

	"github.com/wb-go/wbf/dbpg"

	"github.com/notifyd/notifyd/internal/adapter"
	"github.com/notifyd/notifyd/internal/model"
)

// Adapter stores notifications in the in-app inbox.
type Adapter struct {
	db *dbpg.DB
}

// New creates an in-app adapter writing to the given database.
func New(db *dbpg.DB) *Adapter {
	return &Adapter{db: db}
}

// Name implements adapter.Adapter.
func (a *Adapter) Name() string { return "inapp-inbox" }

// CanHandle implements adapter.Adapter.
func (a *Adapter) CanHandle(channel model.Channel) bool {
	return channel == model.ChannelInApp
}

// Send inserts the rendered payload into the recipient's inbox. In-app
// delivery requires a registered user; one-off recipients have no inbox.
func (a *Adapter) Send(ctx context.Context, p adapter.Payload) error {
	if p.Recipient.Kind != model.RecipientUser || p.Recipient.UserID == nil {
		return fmt.Errorf("in-app delivery requires a registered user recipient")
	}

	query := `
		INSERT INTO inapp_messages (notification_id, user_id, title, body)
		VALUES ($1, $2, $3, $4);
    `

	_, err := a.db.ExecContext(ctx, query, p.NotificationID, *p.Recipient.UserID, p.Subject, p.Body)
	if err != nil {
		return fmt.Errorf("insert inbox message: %w", err)
	}

	return nil
}
