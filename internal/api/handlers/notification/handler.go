package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/notifyd/notifyd/internal/api/dto"
	"github.com/notifyd/notifyd/internal/api/respond"
	"github.com/notifyd/notifyd/internal/config"
	"github.com/notifyd/notifyd/internal/model"
	notifrepo "github.com/notifyd/notifyd/internal/repository/notification"
)

// notificationEngine defines the slice of the lifecycle engine the HTTP
// handlers depend on.
type notificationEngine interface {
	CreateNotification(context.Context, retry.Strategy, model.Notification) (uuid.UUID, error)
	CreateOneOffNotification(context.Context, retry.Strategy, model.Notification) (uuid.UUID, error)
	UpdateOneOffNotification(ctx context.Context, id uuid.UUID, patch notifrepo.OneOffPatch) (model.Notification, error)
	Dispatch(ctx context.Context, strategy retry.Strategy, id uuid.UUID) error
	Cancel(ctx context.Context, strategy retry.Strategy, id uuid.UUID) error
	MarkRead(ctx context.Context, strategy retry.Strategy, id uuid.UUID) error
	Reschedule(ctx context.Context, strategy retry.Strategy, id uuid.UUID, sendAfter *time.Time) error
	GetNotificationStatusByID(context.Context, retry.Strategy, uuid.UUID) (model.Status, error)
	GetNotificationByID(context.Context, uuid.UUID) (model.Notification, error)
	GetPendingNotifications(context.Context, time.Time) ([]model.Notification, error)
	GetAllNotifications(context.Context) ([]model.Notification, error)
}

// Handler handles HTTP requests related to notifications.
type Handler struct {
	engine    notificationEngine
	validator *validator.Validate
	cfg       *config.Config
}

// NewHandler creates a new Handler instance.
func NewHandler(e notificationEngine, v *validator.Validate, cfg *config.Config) *Handler {
	return &Handler{engine: e, validator: v, cfg: cfg}
}

// Create handles POST requests to create a new user-linked notification.
func (h *Handler) Create(c *ginext.Context) {
	var req dto.CreateRequest
	if !h.decode(c, &req) {
		return
	}

	notif := model.Notification{
		Recipient:         model.NewUserRecipient(req.UserID),
		Type:              model.Channel(req.Type),
		Title:             req.Title,
		BodyTemplate:      req.BodyTemplate,
		SubjectTemplate:   req.SubjectTemplate,
		ContextName:       req.ContextName,
		ContextParameters: req.ContextParameters,
		SendAfter:         req.SendAfter,
		ExtraParams:       req.ExtraParams,
		AttachmentIDs:     req.AttachmentIDs,
	}

	id, err := h.engine.CreateNotification(c.Request.Context(), h.cfg.Retry, notif)
	if err != nil {
		h.fail(c, err, "failed to create notification")
		return
	}

	respond.Created(c.Writer, id)
}

// CreateOneOff handles POST requests to create a notification for an
// account-less recipient.
func (h *Handler) CreateOneOff(c *ginext.Context) {
	var req dto.CreateOneOffRequest
	if !h.decode(c, &req) {
		return
	}

	notif := model.Notification{
		Recipient:         model.NewOneOffRecipient(req.EmailOrPhone, req.FirstName, req.LastName),
		Type:              model.Channel(req.Type),
		Title:             req.Title,
		BodyTemplate:      req.BodyTemplate,
		SubjectTemplate:   req.SubjectTemplate,
		ContextName:       req.ContextName,
		ContextParameters: req.ContextParameters,
		SendAfter:         req.SendAfter,
		ExtraParams:       req.ExtraParams,
		AttachmentIDs:     req.AttachmentIDs,
	}

	id, err := h.engine.CreateOneOffNotification(c.Request.Context(), h.cfg.Retry, notif)
	if err != nil {
		h.fail(c, err, "failed to create one-off notification")
		return
	}

	respond.Created(c.Writer, id)
}

// UpdateOneOff handles PUT requests to patch a pending one-off notification.
func (h *Handler) UpdateOneOff(c *ginext.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	var req dto.UpdateOneOffRequest
	if !h.decode(c, &req) {
		return
	}

	patch := notifrepo.OneOffPatch{
		EmailOrPhone: req.EmailOrPhone,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Title:        req.Title,
		SendAfter:    req.SendAfter,
	}

	notif, err := h.engine.UpdateOneOffNotification(c.Request.Context(), id, patch)
	if err != nil {
		h.fail(c, err, "failed to update one-off notification")
		return
	}

	respond.OK(c.Writer, notif)
}

// Send handles POST requests to dispatch a notification synchronously.
func (h *Handler) Send(c *ginext.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	if err := h.engine.Dispatch(c.Request.Context(), h.cfg.Retry, id); err != nil {
		h.fail(c, err, "failed to dispatch notification")
		return
	}

	status, err := h.engine.GetNotificationStatusByID(c.Request.Context(), h.cfg.Retry, id)
	if err != nil {
		h.fail(c, err, "failed to get notification status")
		return
	}

	respond.OK(c.Writer, status)
}

// Resend handles POST requests to re-schedule a failed notification.
func (h *Handler) Resend(c *ginext.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	var req dto.RescheduleRequest
	if c.Request.Body != nil && c.Request.ContentLength > 0 {
		if !h.decode(c, &req) {
			return
		}
	}

	if err := h.engine.Reschedule(c.Request.Context(), h.cfg.Retry, id, req.SendAfter); err != nil {
		h.fail(c, err, "failed to reschedule notification")
		return
	}

	respond.OK(c.Writer, "notification rescheduled")
}

// GetStatus handles GET requests for a notification's status.
func (h *Handler) GetStatus(c *ginext.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	status, err := h.engine.GetNotificationStatusByID(c.Request.Context(), h.cfg.Retry, id)
	if err != nil {
		h.fail(c, err, "failed to get notification status")
		return
	}

	respond.OK(c.Writer, status)
}

// Get handles GET requests for a full notification record.
func (h *Handler) Get(c *ginext.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	notif, err := h.engine.GetNotificationByID(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, "failed to get notification")
		return
	}

	respond.OK(c.Writer, notif)
}

// GetAll handles GET requests for all notifications.
func (h *Handler) GetAll(c *ginext.Context) {
	notifications, err := h.engine.GetAllNotifications(c.Request.Context())
	if err != nil {
		h.fail(c, err, "failed to get notifications")
		return
	}

	respond.OK(c.Writer, notifications)
}

// GetPending handles GET requests for all currently eligible notifications.
func (h *Handler) GetPending(c *ginext.Context) {
	notifications, err := h.engine.GetPendingNotifications(c.Request.Context(), time.Now())
	if err != nil {
		h.fail(c, err, "failed to get pending notifications")
		return
	}

	respond.OK(c.Writer, notifications)
}

// MarkRead handles POST requests to mark a sent notification as read.
func (h *Handler) MarkRead(c *ginext.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	if err := h.engine.MarkRead(c.Request.Context(), h.cfg.Retry, id); err != nil {
		h.fail(c, err, "failed to mark notification read")
		return
	}

	respond.OK(c.Writer, "notification read")
}

// Cancel handles DELETE requests to cancel a pending notification.
func (h *Handler) Cancel(c *ginext.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	if err := h.engine.Cancel(c.Request.Context(), h.cfg.Retry, id); err != nil {
		h.fail(c, err, "failed to cancel notification")
		return
	}

	respond.OK(c.Writer, "notification cancelled")
}

// decode parses and validates the request body, writing the error response on
// failure.
func (h *Handler) decode(c *ginext.Context, req any) bool {
	if err := json.NewDecoder(c.Request.Body).Decode(req); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to decode request body")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid request body"))
		return false
	}

	if err := h.validator.Struct(req); err != nil {
		zlog.Logger.Warn().Err(err).Msg("failed to validate request body")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("validation error: %s", err.Error()))
		return false
	}

	return true
}

// pathID extracts the notification ID from URL parameters.
func (h *Handler) pathID(c *ginext.Context) (uuid.UUID, bool) {
	idStr := c.Param("id")

	id, err := uuid.Parse(idStr)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("id", idStr).Msg("failed to parse id")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid id"))
		return uuid.Nil, false
	}

	if id == uuid.Nil {
		zlog.Logger.Warn().Msg("missing id")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("missing id"))
		return uuid.Nil, false
	}

	return id, true
}

// fail maps domain errors onto HTTP status codes.
func (h *Handler) fail(c *ginext.Context, err error, msg string) {
	switch {
	case errors.Is(err, notifrepo.ErrNotificationNotFound):
		zlog.Logger.Warn().Err(err).Msg(msg)
		respond.Fail(c.Writer, http.StatusNotFound, fmt.Errorf("notification not found"))
	case errors.Is(err, notifrepo.ErrNoNotificationsFound):
		zlog.Logger.Warn().Err(err).Msg(msg)
		respond.Fail(c.Writer, http.StatusNotFound, fmt.Errorf("no notifications found"))
	case errors.Is(err, notifrepo.ErrInvalidState):
		zlog.Logger.Warn().Err(err).Msg(msg)
		respond.Fail(c.Writer, http.StatusConflict, fmt.Errorf("notification is not in a valid state for this operation"))
	case errors.Is(err, model.ErrRecipientMode),
		errors.Is(err, model.ErrMissingTemplate),
		errors.Is(err, model.ErrMissingContext):
		zlog.Logger.Warn().Err(err).Msg(msg)
		respond.Fail(c.Writer, http.StatusBadRequest, err)
	default:
		zlog.Logger.Error().Err(err).Msg(msg)
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
	}
}
