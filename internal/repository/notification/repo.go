package notification

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/dbpg"

	"github.com/notifyd/notifyd/internal/model"
)

var (
	ErrNotificationNotFound = errors.New("notification not found")
	ErrNoNotificationsFound = errors.New("no notifications found")

	// ErrAlreadyClaimed is returned when a claim races with another dispatcher:
	// the row exists but is no longer pending.
	ErrAlreadyClaimed = errors.New("notification already claimed")

	// ErrInvalidState is returned when a transition is attempted from a state
	// the state machine does not allow it from.
	ErrInvalidState = errors.New("invalid notification state for this operation")
)

// notificationColumns is the full column list scanned into model.Notification.
const notificationColumns = `
		id, user_id, email_or_phone, first_name, last_name,
		type, title, body_template, subject_template,
		context_name, context_parameters, send_after, status,
		context_used, adapter_used, failure_reason,
		sent_at, read_at, extra_params, created_at, updated_at`

// Repository provides durable CRUD and the atomic status transitions over the
// notifications table.
type Repository struct {
	db *dbpg.DB
}

// NewRepository creates a new notification repository.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

// CreateNotification validates and inserts a new notification, returning its ID.
func (r *Repository) CreateNotification(ctx context.Context, n model.Notification) (uuid.UUID, error) {
	if err := n.Validate(); err != nil {
		return uuid.Nil, fmt.Errorf("validate notification: %w", err)
	}

	contextParams, err := json.Marshal(n.ContextParameters)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal context parameters: %w", err)
	}

	extraParams, err := json.Marshal(n.ExtraParams)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal extra params: %w", err)
	}

	query := `
		INSERT INTO notifications (
		    user_id, email_or_phone, first_name, last_name,
		    type, title, body_template, subject_template,
		    context_name, context_parameters, send_after, extra_params
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id;
    `

	// The row and its attachment links land together or not at all; a
	// half-linked notification must never become visible to the poller.
	tx, err := r.db.Master.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin create notification: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(
		ctx, query,
		nullUUID(n.Recipient.UserID), nullString(n.Recipient.EmailOrPhone),
		nullString(n.Recipient.FirstName), nullString(n.Recipient.LastName),
		n.Type, n.Title, n.BodyTemplate, n.SubjectTemplate,
		n.ContextName, contextParams, n.SendAfter, extraParams,
	).Scan(&n.ID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create notification: %w", err)
	}

	for _, attID := range n.AttachmentIDs {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO notification_attachments (notification_id, attachment_id)
			VALUES ($1, $2);
	    `, n.ID, attID)
		if err != nil {
			return uuid.Nil, fmt.Errorf("failed to link attachment: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("commit create notification: %w", err)
	}

	return n.ID, nil
}

// GetNotificationByID retrieves a single notification with its attachment refs.
func (r *Repository) GetNotificationByID(ctx context.Context, id uuid.UUID) (model.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE id = $1;
    `

	n, err := scanNotification(r.db.Master.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Notification{}, ErrNotificationNotFound
		}

		return model.Notification{}, fmt.Errorf("failed to get notification: %w", err)
	}

	n.AttachmentIDs, err = r.attachmentIDs(ctx, id)
	if err != nil {
		return model.Notification{}, err
	}

	return n, nil
}

// GetNotificationStatusByID retrieves the status of a notification by its ID.
func (r *Repository) GetNotificationStatusByID(ctx context.Context, id uuid.UUID) (model.Status, error) {
	query := `
		SELECT status
		FROM notifications
		WHERE id = $1;
    `

	var status model.Status
	err := r.db.Master.QueryRowContext(ctx, query, id).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotificationNotFound
		}

		return "", fmt.Errorf("failed to get notification status: %w", err)
	}

	return status, nil
}

// ClaimForDispatch atomically moves a pending notification to the in-flight
// processing marker and returns the claimed row. The single-statement
// compare-and-swap on status is the concurrency boundary: of N racing
// callers, exactly one gets the row, the rest get ErrAlreadyClaimed.
func (r *Repository) ClaimForDispatch(ctx context.Context, id uuid.UUID) (model.Notification, error) {
	query := `
		UPDATE notifications
		SET status = 'processing', updated_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + notificationColumns + `;
    `

	n, err := scanNotification(r.db.Master.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Distinguish a lost race from a missing row.
			if _, statusErr := r.GetNotificationStatusByID(ctx, id); statusErr != nil {
				return model.Notification{}, statusErr
			}

			return model.Notification{}, ErrAlreadyClaimed
		}

		return model.Notification{}, fmt.Errorf("failed to claim notification: %w", err)
	}

	n.AttachmentIDs, err = r.attachmentIDs(ctx, id)
	if err != nil {
		return model.Notification{}, err
	}

	return n, nil
}

// MarkSent finalizes a claimed dispatch attempt as successful. It is the only
// writer of context_used and adapter_used.
func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID, contextUsed map[string]any, adapterUsed string) error {
	snapshot, err := json.Marshal(contextUsed)
	if err != nil {
		return fmt.Errorf("marshal context snapshot: %w", err)
	}

	query := `
		UPDATE notifications
		SET status = 'sent', sent_at = now(), context_used = $2,
		    adapter_used = $3, failure_reason = NULL, updated_at = now()
		WHERE id = $1 AND status = 'processing';
    `

	return r.transition(ctx, query, id, snapshot, adapterUsed)
}

// MarkFailed finalizes a claimed dispatch attempt as failed, preserving the
// failure detail for diagnostics.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	query := `
		UPDATE notifications
		SET status = 'failed', failure_reason = $2, updated_at = now()
		WHERE id = $1 AND status = 'processing';
    `

	return r.transition(ctx, query, id, reason)
}

// Cancel moves a pending notification to cancelled. Cancelling a row already
// claimed by an in-flight dispatch loses the race by design: the attempt runs
// to completion and the cancel returns ErrInvalidState.
func (r *Repository) Cancel(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE notifications
		SET status = 'cancelled', updated_at = now()
		WHERE id = $1 AND status = 'pending';
    `

	return r.transition(ctx, query, id)
}

// MarkRead records that the recipient read a sent notification.
func (r *Repository) MarkRead(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE notifications
		SET status = 'read', read_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'sent';
    `

	return r.transition(ctx, query, id)
}

// Reschedule moves a failed notification back to pending, clearing the
// failure reason and optionally replacing send_after. This is the only path
// out of the failed state. It also releases a claim orphaned by a worker that
// crashed between the claim and its terminal transition, so a stuck
// processing row is recoverable by the same operator action.
func (r *Repository) Reschedule(ctx context.Context, id uuid.UUID, sendAfter *time.Time) error {
	query := `
		UPDATE notifications
		SET status = 'pending', failure_reason = NULL,
		    send_after = COALESCE($2, send_after), updated_at = now()
		WHERE id = $1 AND status IN ('failed', 'processing');
    `

	return r.transition(ctx, query, id, sendAfter)
}

// OneOffPatch is the set of fields mutable on a pending one-off notification.
// Audit fields (context_used, adapter_used) are not patchable by construction.
type OneOffPatch struct {
	EmailOrPhone *string
	FirstName    *string
	LastName     *string
	Title        *string
	SendAfter    *time.Time
}

// UpdateOneOffNotification patches a pending one-off notification.
func (r *Repository) UpdateOneOffNotification(ctx context.Context, id uuid.UUID, patch OneOffPatch) error {
	query := `
		UPDATE notifications
		SET email_or_phone = COALESCE($2, email_or_phone),
		    first_name = COALESCE($3, first_name),
		    last_name = COALESCE($4, last_name),
		    title = COALESCE($5, title),
		    send_after = COALESCE($6, send_after),
		    updated_at = now()
		WHERE id = $1 AND status = 'pending' AND email_or_phone IS NOT NULL;
    `

	return r.transition(ctx, query, id,
		patch.EmailOrPhone, patch.FirstName, patch.LastName, patch.Title, patch.SendAfter)
}

// ListPending returns all notifications eligible for dispatch at the given
// instant, overdue first, then in creation order.
func (r *Repository) ListPending(ctx context.Context, now time.Time) ([]model.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE status = 'pending' AND (send_after IS NULL OR send_after <= $1)
		ORDER BY send_after ASC NULLS FIRST, created_at ASC;
    `

	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending notifications: %w", err)
	}
	defer rows.Close()

	return collectNotifications(rows)
}

// GetAllNotifications retrieves all notifications, newest first.
func (r *Repository) GetAllNotifications(ctx context.Context) ([]model.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		ORDER BY created_at DESC;
    `

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get all notifications: %w", err)
	}
	defer rows.Close()

	notifications, err := collectNotifications(rows)
	if err != nil {
		return nil, err
	}

	if len(notifications) == 0 {
		return nil, ErrNoNotificationsFound
	}

	return notifications, nil
}

// transition executes a guarded single-row status update. Zero affected rows
// means the guard failed: either the row is missing or it is in another state.
func (r *Repository) transition(ctx context.Context, query string, id uuid.UUID, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to update notification: %w", err)
	}

	rows, _ := res.RowsAffected()
	if rows == 0 {
		if _, statusErr := r.GetNotificationStatusByID(ctx, id); statusErr != nil {
			return statusErr
		}

		return ErrInvalidState
	}

	return nil
}

func (r *Repository) attachmentIDs(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT attachment_id
		FROM notification_attachments
		WHERE notification_id = $1;
    `, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load attachment refs: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var attID uuid.UUID
		if err := rows.Scan(&attID); err != nil {
			return nil, err
		}

		ids = append(ids, attID)
	}

	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotification(row rowScanner) (model.Notification, error) {
	var (
		n             model.Notification
		emailOrPhone  sql.NullString
		firstName     sql.NullString
		lastName      sql.NullString
		contextParams []byte
		contextUsed   []byte
		extraParams   []byte
	)

	err := row.Scan(
		&n.ID, &n.Recipient.UserID, &emailOrPhone, &firstName, &lastName,
		&n.Type, &n.Title, &n.BodyTemplate, &n.SubjectTemplate,
		&n.ContextName, &contextParams, &n.SendAfter, &n.Status,
		&contextUsed, &n.AdapterUsed, &n.FailureReason,
		&n.SentAt, &n.ReadAt, &extraParams, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return model.Notification{}, err
	}

	n.Recipient.EmailOrPhone = emailOrPhone.String
	n.Recipient.FirstName = firstName.String
	n.Recipient.LastName = lastName.String

	if n.Recipient.UserID != nil {
		n.Recipient.Kind = model.RecipientUser
	} else {
		n.Recipient.Kind = model.RecipientOneOff
	}

	if len(contextParams) > 0 {
		if err := json.Unmarshal(contextParams, &n.ContextParameters); err != nil {
			return model.Notification{}, fmt.Errorf("unmarshal context parameters: %w", err)
		}
	}

	if len(contextUsed) > 0 {
		if err := json.Unmarshal(contextUsed, &n.ContextUsed); err != nil {
			return model.Notification{}, fmt.Errorf("unmarshal context snapshot: %w", err)
		}
	}

	if len(extraParams) > 0 {
		if err := json.Unmarshal(extraParams, &n.ExtraParams); err != nil {
			return model.Notification{}, fmt.Errorf("unmarshal extra params: %w", err)
		}
	}

	return n, nil
}

func collectNotifications(rows *sql.Rows) ([]model.Notification, error) {
	var notifications []model.Notification

	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}

		notifications = append(notifications, n)
	}

	return notifications, rows.Err()
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}

	return &s
}

// nullUUID converts a possibly-nil uuid pointer into a driver-friendly value.
func nullUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}

	return *id
}
