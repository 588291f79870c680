package dto

import (
	"time"

	"github.com/google/uuid"
)

// CreateRequest is the JSON body for creating a user-linked notification.
type CreateRequest struct {
	UserID            uuid.UUID      `json:"user_id" validate:"required"`
	Type              string         `json:"type" validate:"required,oneof=email sms push in_app"`
	Title             string         `json:"title"`
	BodyTemplate      string         `json:"body_template" validate:"required"`
	SubjectTemplate   *string        `json:"subject_template"`
	ContextName       string         `json:"context_name" validate:"required"`
	ContextParameters map[string]any `json:"context_parameters"`
	SendAfter         *time.Time     `json:"send_after"`
	ExtraParams       map[string]any `json:"extra_params"`
	AttachmentIDs     []uuid.UUID    `json:"attachment_ids"`
}

// CreateOneOffRequest is the JSON body for creating a notification addressed
// to an account-less recipient.
type CreateOneOffRequest struct {
	EmailOrPhone      string         `json:"email_or_phone" validate:"required"`
	FirstName         string         `json:"first_name" validate:"required"`
	LastName          string         `json:"last_name"`
	Type              string         `json:"type" validate:"required,oneof=email sms push in_app"`
	Title             string         `json:"title"`
	BodyTemplate      string         `json:"body_template" validate:"required"`
	SubjectTemplate   *string        `json:"subject_template"`
	ContextName       string         `json:"context_name" validate:"required"`
	ContextParameters map[string]any `json:"context_parameters"`
	SendAfter         *time.Time     `json:"send_after"`
	ExtraParams       map[string]any `json:"extra_params"`
	AttachmentIDs     []uuid.UUID    `json:"attachment_ids"`
}

// UpdateOneOffRequest is the JSON body for patching a pending one-off
// notification. Absent fields are left unchanged.
type UpdateOneOffRequest struct {
	EmailOrPhone *string    `json:"email_or_phone"`
	FirstName    *string    `json:"first_name"`
	LastName     *string    `json:"last_name"`
	Title        *string    `json:"title"`
	SendAfter    *time.Time `json:"send_after"`
}

// RescheduleRequest is the JSON body for re-scheduling a failed notification.
type RescheduleRequest struct {
	SendAfter *time.Time `json:"send_after"`
}
