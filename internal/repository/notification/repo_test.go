package notification

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/wb-go/wbf/dbpg"

	"github.com/notifyd/notifyd/internal/model"
)

func setupMockDB(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open mock db: %v", err)
	}

	wrappedDB := &dbpg.DB{Master: db}
	repo := NewRepository(wrappedDB)

	return repo, mock
}

var notifColumns = []string{
	"id", "user_id", "email_or_phone", "first_name", "last_name",
	"type", "title", "body_template", "subject_template",
	"context_name", "context_parameters", "send_after", "status",
	"context_used", "adapter_used", "failure_reason",
	"sent_at", "read_at", "extra_params", "created_at", "updated_at",
}

func notifRow(rows *sqlmock.Rows, id uuid.UUID, status string) *sqlmock.Rows {
	now := time.Now()

	return rows.AddRow(
		id, nil, "user@example.com", "Ada", "Lovelace",
		"email", "", "welcome.txt", nil,
		"params", []byte(`{"code":"1234"}`), nil, status,
		nil, nil, nil,
		nil, nil, []byte(`{}`), now, now,
	)
}

func expectAttachmentRefs(mock sqlmock.Sqlmock, id uuid.UUID) {
	mock.ExpectQuery(regexp.QuoteMeta(`
		SELECT attachment_id
		FROM notification_attachments
		WHERE notification_id = $1;
    `)).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"attachment_id"}))
}

func TestCreateNotification(t *testing.T) {
	repo, mock := setupMockDB(t)

	notificationID := uuid.New()
	n := model.Notification{
		Recipient:         model.NewOneOffRecipient("user@example.com", "Ada", "Lovelace"),
		Type:              model.ChannelEmail,
		BodyTemplate:      "welcome.txt",
		ContextName:       "params",
		ContextParameters: map[string]any{"code": "1234"},
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`
		INSERT INTO notifications (
		    user_id, email_or_phone, first_name, last_name,
		    type, title, body_template, subject_template,
		    context_name, context_parameters, send_after, extra_params
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id;
    `)).
		WithArgs(
			nil, "user@example.com", "Ada", "Lovelace",
			"email", "", "welcome.txt", nil,
			"params", []byte(`{"code":"1234"}`), nil, []byte("null"),
		).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(notificationID))
	mock.ExpectCommit()

	id, err := repo.CreateNotification(context.Background(), n)
	assert.NoError(t, err)
	assert.Equal(t, notificationID, id)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateNotificationLinksAttachmentsAtomically(t *testing.T) {
	repo, mock := setupMockDB(t)

	notificationID := uuid.New()
	attID := uuid.New()
	n := model.Notification{
		Recipient:     model.NewOneOffRecipient("user@example.com", "Ada", "Lovelace"),
		Type:          model.ChannelEmail,
		BodyTemplate:  "welcome.txt",
		ContextName:   "params",
		AttachmentIDs: []uuid.UUID{attID},
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO notifications`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(notificationID))
	mock.ExpectExec(regexp.QuoteMeta(`
			INSERT INTO notification_attachments (notification_id, attachment_id)
			VALUES ($1, $2);
	    `)).
		WithArgs(notificationID, attID).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	id, err := repo.CreateNotification(context.Background(), n)
	assert.NoError(t, err)
	assert.Equal(t, notificationID, id)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateNotificationRollsBackOnLinkFailure(t *testing.T) {
	repo, mock := setupMockDB(t)

	notificationID := uuid.New()
	attID := uuid.New()
	n := model.Notification{
		Recipient:     model.NewOneOffRecipient("user@example.com", "Ada", "Lovelace"),
		Type:          model.ChannelEmail,
		BodyTemplate:  "welcome.txt",
		ContextName:   "params",
		AttachmentIDs: []uuid.UUID{attID},
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO notifications`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(notificationID))
	mock.ExpectExec(`INSERT INTO notification_attachments`).
		WithArgs(notificationID, attID).
		WillReturnError(errors.New("foreign key violation"))
	mock.ExpectRollback()

	id, err := repo.CreateNotification(context.Background(), n)
	assert.Error(t, err)
	assert.Equal(t, uuid.Nil, id, "no live notification survives a failed attachment link")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateNotificationRejectsBadRecipient(t *testing.T) {
	repo, mock := setupMockDB(t)

	userID := uuid.New()
	n := model.Notification{
		Recipient: model.Recipient{
			Kind:         model.RecipientUser,
			UserID:       &userID,
			EmailOrPhone: "user@example.com", // both modes populated
		},
		Type:         model.ChannelEmail,
		BodyTemplate: "welcome.txt",
		ContextName:  "params",
	}

	_, err := repo.CreateNotification(context.Background(), n)
	assert.ErrorIs(t, err, model.ErrRecipientMode)

	n.Recipient = model.Recipient{Kind: model.RecipientUser}
	_, err = repo.CreateNotification(context.Background(), n)
	assert.ErrorIs(t, err, model.ErrRecipientMode)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimForDispatchSuccess(t *testing.T) {
	repo, mock := setupMockDB(t)

	id := uuid.New()

	mock.ExpectQuery(`UPDATE notifications\s+SET status = 'processing'`).
		WithArgs(id).
		WillReturnRows(notifRow(sqlmock.NewRows(notifColumns), id, "processing"))

	expectAttachmentRefs(mock, id)

	n, err := repo.ClaimForDispatch(context.Background(), id)
	assert.NoError(t, err)
	assert.Equal(t, id, n.ID)
	assert.Equal(t, model.StatusProcessing, n.Status)
	assert.Equal(t, model.RecipientOneOff, n.Recipient.Kind)
	assert.Equal(t, map[string]any{"code": "1234"}, n.ContextParameters)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimForDispatchAlreadyClaimed(t *testing.T) {
	repo, mock := setupMockDB(t)

	id := uuid.New()

	mock.ExpectQuery(`UPDATE notifications\s+SET status = 'processing'`).
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	mock.ExpectQuery(regexp.QuoteMeta(`
		SELECT status
		FROM notifications
		WHERE id = $1;
    `)).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("sent"))

	_, err := repo.ClaimForDispatch(context.Background(), id)
	assert.ErrorIs(t, err, ErrAlreadyClaimed)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimForDispatchNotFound(t *testing.T) {
	repo, mock := setupMockDB(t)

	id := uuid.New()

	mock.ExpectQuery(`UPDATE notifications\s+SET status = 'processing'`).
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	mock.ExpectQuery(regexp.QuoteMeta(`
		SELECT status
		FROM notifications
		WHERE id = $1;
    `)).
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.ClaimForDispatch(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotificationNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkSent(t *testing.T) {
	repo, mock := setupMockDB(t)

	id := uuid.New()

	mock.ExpectExec(`UPDATE notifications\s+SET status = 'sent'`).
		WithArgs(id, []byte(`{"code":"1234"}`), "smtp").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.MarkSent(context.Background(), id, map[string]any{"code": "1234"}, "smtp")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkFailed(t *testing.T) {
	repo, mock := setupMockDB(t)

	id := uuid.New()

	mock.ExpectExec(`UPDATE notifications\s+SET status = 'failed'`).
		WithArgs(id, "adapter smtp: connection refused").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.MarkFailed(context.Background(), id, "adapter smtp: connection refused")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelGuards(t *testing.T) {
	repo, mock := setupMockDB(t)

	id := uuid.New()

	// Pending row cancels cleanly.
	mock.ExpectExec(`UPDATE notifications\s+SET status = 'cancelled'`).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, repo.Cancel(context.Background(), id))

	// A row in another state is rejected with ErrInvalidState.
	mock.ExpectExec(`UPDATE notifications\s+SET status = 'cancelled'`).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectQuery(regexp.QuoteMeta(`
		SELECT status
		FROM notifications
		WHERE id = $1;
    `)).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("sent"))

	assert.ErrorIs(t, repo.Cancel(context.Background(), id), ErrInvalidState)

	// A missing row is reported as not found.
	mock.ExpectExec(`UPDATE notifications\s+SET status = 'cancelled'`).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectQuery(regexp.QuoteMeta(`
		SELECT status
		FROM notifications
		WHERE id = $1;
    `)).
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	assert.ErrorIs(t, repo.Cancel(context.Background(), id), ErrNotificationNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkReadOnlyFromSent(t *testing.T) {
	repo, mock := setupMockDB(t)

	id := uuid.New()

	mock.ExpectExec(`UPDATE notifications\s+SET status = 'read'`).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectQuery(regexp.QuoteMeta(`
		SELECT status
		FROM notifications
		WHERE id = $1;
    `)).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("pending"))

	assert.ErrorIs(t, repo.MarkRead(context.Background(), id), ErrInvalidState)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReschedule(t *testing.T) {
	repo, mock := setupMockDB(t)

	id := uuid.New()
	sendAfter := time.Now().Add(time.Hour)

	mock.ExpectExec(`UPDATE notifications\s+SET status = 'pending', failure_reason = NULL`).
		WithArgs(id, sendAfter).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, repo.Reschedule(context.Background(), id, &sendAfter))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRescheduleReleasesOrphanedClaim(t *testing.T) {
	repo, mock := setupMockDB(t)

	id := uuid.New()

	// The guard must accept a processing row, so a claim stranded by a
	// crashed worker is recoverable through the same operator action.
	mock.ExpectExec(`WHERE id = \$1 AND status IN \('failed', 'processing'\)`).
		WithArgs(id, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, repo.Reschedule(context.Background(), id, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateOneOffNotification(t *testing.T) {
	repo, mock := setupMockDB(t)

	id := uuid.New()
	email := "new@example.com"

	mock.ExpectExec(`UPDATE notifications\s+SET email_or_phone = COALESCE`).
		WithArgs(id, email, nil, nil, nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateOneOffNotification(context.Background(), id, OneOffPatch{EmailOrPhone: &email})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListPending(t *testing.T) {
	repo, mock := setupMockDB(t)

	id1 := uuid.New()
	id2 := uuid.New()
	now := time.Now()

	rows := sqlmock.NewRows(notifColumns)
	notifRow(rows, id1, "pending")
	notifRow(rows, id2, "pending")

	mock.ExpectQuery(regexp.QuoteMeta(
		`ORDER BY send_after ASC NULLS FIRST, created_at ASC;`,
	)).
		WithArgs(now).
		WillReturnRows(rows)

	list, err := repo.ListPending(context.Background(), now)
	assert.NoError(t, err)
	assert.Len(t, list, 2)
	assert.Equal(t, id1, list[0].ID)
	assert.Equal(t, id2, list[1].ID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetNotificationStatusByID(t *testing.T) {
	repo, mock := setupMockDB(t)

	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta(`
		SELECT status
		FROM notifications
		WHERE id = $1;
    `)).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("pending"))

	status, err := repo.GetNotificationStatusByID(context.Background(), id)
	assert.NoError(t, err)
	assert.Equal(t, model.StatusPending, status)

	mock.ExpectQuery(regexp.QuoteMeta(`
		SELECT status
		FROM notifications
		WHERE id = $1;
    `)).
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	_, err = repo.GetNotificationStatusByID(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotificationNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}
