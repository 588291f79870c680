package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrRecipientMode is returned when a notification carries both a user id
	// and a one-off recipient, or neither.
	ErrRecipientMode = errors.New("exactly one recipient mode must be set")

	// ErrMissingTemplate is returned when a notification has no body template.
	ErrMissingTemplate = errors.New("body template is required")

	// ErrMissingContext is returned when a notification has no context name.
	ErrMissingContext = errors.New("context name is required")
)

// Channel is the delivery channel of a notification. It selects the adapter
// at dispatch time.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
	ChannelInApp Channel = "in_app"
)

// Valid reports whether c is one of the known channels.
func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush, ChannelInApp:
		return true
	}
	return false
}

// Status is the lifecycle state of a notification.
//
// StatusProcessing is the internal claim marker held while a dispatch attempt
// is in flight; it is never accepted from API clients.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
	StatusRead       Status = "read"
	StatusCancelled  Status = "cancelled"
)

// RecipientKind tags the recipient variant of a notification.
type RecipientKind string

const (
	RecipientUser   RecipientKind = "user"
	RecipientOneOff RecipientKind = "one_off"
)

// Recipient is a tagged variant: either a registered user reference or a
// one-off email/phone + name. The persisted representation keeps both sides
// as nullable columns; Validate enforces the tag discipline.
type Recipient struct {
	Kind         RecipientKind `json:"kind"`
	UserID       *uuid.UUID    `json:"user_id,omitempty"`
	EmailOrPhone string        `json:"email_or_phone,omitempty"`
	FirstName    string        `json:"first_name,omitempty"`
	LastName     string        `json:"last_name,omitempty"`
}

// NewUserRecipient builds a recipient referencing a registered user.
func NewUserRecipient(userID uuid.UUID) Recipient {
	return Recipient{Kind: RecipientUser, UserID: &userID}
}

// NewOneOffRecipient builds an account-less recipient.
func NewOneOffRecipient(emailOrPhone, firstName, lastName string) Recipient {
	return Recipient{
		Kind:         RecipientOneOff,
		EmailOrPhone: emailOrPhone,
		FirstName:    firstName,
		LastName:     lastName,
	}
}

// Validate checks that exactly one recipient mode is populated and that it
// matches the tag.
func (r Recipient) Validate() error {
	hasUser := r.UserID != nil && *r.UserID != uuid.Nil
	hasOneOff := r.EmailOrPhone != ""

	if hasUser == hasOneOff {
		return ErrRecipientMode
	}

	switch r.Kind {
	case RecipientUser:
		if !hasUser {
			return ErrRecipientMode
		}
	case RecipientOneOff:
		if !hasOneOff {
			return ErrRecipientMode
		}
	default:
		return ErrRecipientMode
	}

	return nil
}

// Notification represents a notification entity in the system.
type Notification struct {
	ID                uuid.UUID      `json:"id"`
	Recipient         Recipient      `json:"recipient"`
	Type              Channel        `json:"type"`               // delivery channel, selects the adapter
	Title             string         `json:"title,omitempty"`    // human-readable label, not rendered
	BodyTemplate      string         `json:"body_template"`      // reference to the body template
	SubjectTemplate   *string        `json:"subject_template"`   // absent for channels without a subject
	ContextName       string         `json:"context_name"`       // key into the context registry
	ContextParameters map[string]any `json:"context_parameters"` // parameters passed to the generator
	SendAfter         *time.Time     `json:"send_after"`         // nil means eligible immediately
	Status            Status         `json:"status"`
	ContextUsed       map[string]any `json:"context_used"`   // snapshot of the context of the successful render
	AdapterUsed       *string        `json:"adapter_used"`   // adapter that performed the successful send
	FailureReason     *string        `json:"failure_reason"` // last dispatch failure detail
	SentAt            *time.Time     `json:"sent_at"`
	ReadAt            *time.Time     `json:"read_at"`
	ExtraParams       map[string]any `json:"extra_params"` // opaque metadata passed through to adapters
	AttachmentIDs     []uuid.UUID    `json:"attachment_ids,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Validate checks the creation-time invariants of a notification.
func (n Notification) Validate() error {
	if err := n.Recipient.Validate(); err != nil {
		return err
	}

	if !n.Type.Valid() {
		return errors.New("unknown notification type " + string(n.Type))
	}

	if n.BodyTemplate == "" {
		return ErrMissingTemplate
	}

	if n.ContextName == "" {
		return ErrMissingContext
	}

	return nil
}

// Eligible reports whether the notification may be picked up for dispatch at
// the given instant: it must be pending and its send_after, if set, passed.
func (n Notification) Eligible(now time.Time) bool {
	if n.Status != StatusPending {
		return false
	}

	return n.SendAfter == nil || !n.SendAfter.After(now)
}
