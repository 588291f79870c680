// Package engine orchestrates the notification lifecycle: claim the record,
// resolve its context, render the templates, transmit through the matching
// adapter and persist the terminal status. Each dispatch attempt is a single
// atomic unit: it either ends in sent or failed, or returns before any
// mutation when the record was not claimable.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/notifyd/notifyd/internal/adapter"
	"github.com/notifyd/notifyd/internal/model"
	"github.com/notifyd/notifyd/internal/rabbitmq/queue"
	"github.com/notifyd/notifyd/internal/registry"
	notifrepo "github.com/notifyd/notifyd/internal/repository/notification"
)

type notificationRepository interface {
	CreateNotification(context.Context, model.Notification) (uuid.UUID, error)
	GetNotificationByID(context.Context, uuid.UUID) (model.Notification, error)
	GetNotificationStatusByID(context.Context, uuid.UUID) (model.Status, error)
	ClaimForDispatch(context.Context, uuid.UUID) (model.Notification, error)
	MarkSent(ctx context.Context, id uuid.UUID, contextUsed map[string]any, adapterUsed string) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	Cancel(context.Context, uuid.UUID) error
	MarkRead(context.Context, uuid.UUID) error
	Reschedule(ctx context.Context, id uuid.UUID, sendAfter *time.Time) error
	UpdateOneOffNotification(ctx context.Context, id uuid.UUID, patch notifrepo.OneOffPatch) error
	ListPending(context.Context, time.Time) ([]model.Notification, error)
	GetAllNotifications(context.Context) ([]model.Notification, error)
}

type triggerPublisher interface {
	Publish(msg queue.TriggerMessage, strategy retry.Strategy) error
}

type renderer interface {
	Render(ref string, data map[string]any) (string, error)
}

type attachmentResolver interface {
	Resolve(ctx context.Context, ids []uuid.UUID) ([]adapter.File, error)
}

type cache interface {
	SetWithRetry(ctx context.Context, strategy retry.Strategy, key string, value interface{}) error
	GetWithRetry(ctx context.Context, strategy retry.Strategy, key string) (string, error)
}

// Engine is the notification lifecycle engine.
type Engine struct {
	repo        notificationRepository
	queue       triggerPublisher
	adapters    []adapter.Adapter
	registry    *registry.Registry
	renderer    renderer
	attachments attachmentResolver
	cache       cache
}

// New wires the engine. The queue publisher may be nil: the engine then works
// purely through the poller.
func New(
	repo notificationRepository,
	q triggerPublisher,
	adapters []adapter.Adapter,
	reg *registry.Registry,
	rend renderer,
	att attachmentResolver,
	c cache,
) *Engine {
	return &Engine{
		repo:        repo,
		queue:       q,
		adapters:    adapters,
		registry:    reg,
		renderer:    rend,
		attachments: att,
		cache:       c,
	}
}

// CreateNotification validates and persists a new notification and signals
// the trigger queue. A publish failure is logged, not returned: the poller
// discovers the record regardless.
func (e *Engine) CreateNotification(ctx context.Context, strategy retry.Strategy, n model.Notification) (uuid.UUID, error) {
	id, err := e.repo.CreateNotification(ctx, n)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create notification: %w", err)
	}

	e.cacheStatus(ctx, strategy, id, model.StatusPending)

	if e.queue != nil {
		msg := queue.TriggerMessage{ID: id, SendAfter: n.SendAfter}
		if err := e.queue.Publish(msg, strategy); err != nil {
			zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("failed to publish dispatch trigger")
		}
	}

	return id, nil
}

// CreateOneOffNotification persists a notification addressed to an
// account-less recipient. Same lifecycle as CreateNotification thereafter.
func (e *Engine) CreateOneOffNotification(ctx context.Context, strategy retry.Strategy, n model.Notification) (uuid.UUID, error) {
	if n.Recipient.Kind != model.RecipientOneOff {
		return uuid.Nil, model.ErrRecipientMode
	}

	return e.CreateNotification(ctx, strategy, n)
}

// UpdateOneOffNotification patches a pending one-off notification.
func (e *Engine) UpdateOneOffNotification(ctx context.Context, id uuid.UUID, patch notifrepo.OneOffPatch) (model.Notification, error) {
	if err := e.repo.UpdateOneOffNotification(ctx, id, patch); err != nil {
		return model.Notification{}, fmt.Errorf("update one-off notification: %w", err)
	}

	return e.repo.GetNotificationByID(ctx, id)
}

// Dispatch performs one dispatch attempt for the given notification.
//
// Losing the claim race is not an error: a concurrent caller (queue worker,
// poller tick, direct API call) already holds or has finished the attempt, so
// the loser logs and returns nil with no side effects. Every failure past the
// claim transitions the record to failed with the reason recorded verbatim;
// those failures are visible through the persisted status, not the return
// value.
func (e *Engine) Dispatch(ctx context.Context, strategy retry.Strategy, id uuid.UUID) error {
	n, err := e.repo.ClaimForDispatch(ctx, id)
	if err != nil {
		if errors.Is(err, notifrepo.ErrAlreadyClaimed) {
			zlog.Logger.Info().Str("id", id.String()).Msg("notification already claimed, skipping")
			return nil
		}

		return fmt.Errorf("claim notification: %w", err)
	}

	a, err := adapter.Select(e.adapters, n.Type)
	if err != nil {
		return e.fail(ctx, strategy, id, err)
	}

	gen, err := e.registry.Resolve(n.ContextName)
	if err != nil {
		return e.fail(ctx, strategy, id, err)
	}

	contextData, err := gen(ctx, n.ContextParameters)
	if err != nil {
		return e.fail(ctx, strategy, id, fmt.Errorf("context generation: %w", err))
	}

	body, err := e.renderer.Render(n.BodyTemplate, contextData)
	if err != nil {
		return e.fail(ctx, strategy, id, fmt.Errorf("render body: %w", err))
	}

	var subject string
	if n.SubjectTemplate != nil {
		subject, err = e.renderer.Render(*n.SubjectTemplate, contextData)
		if err != nil {
			return e.fail(ctx, strategy, id, fmt.Errorf("render subject: %w", err))
		}
	}

	files, err := e.attachments.Resolve(ctx, n.AttachmentIDs)
	if err != nil {
		return e.fail(ctx, strategy, id, fmt.Errorf("resolve attachments: %w", err))
	}

	payload := adapter.Payload{
		NotificationID: n.ID,
		Subject:        subject,
		Body:           body,
		HTMLBody:       strings.HasSuffix(n.BodyTemplate, ".html"),
		Recipient:      n.Recipient,
		Attachments:    files,
		Extra:          n.ExtraParams,
	}

	if err := a.Send(ctx, payload); err != nil {
		return e.fail(ctx, strategy, id, fmt.Errorf("adapter %s: %w", a.Name(), err))
	}

	if err := e.repo.MarkSent(ctx, id, contextData, a.Name()); err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}

	e.cacheStatus(ctx, strategy, id, model.StatusSent)
	zlog.Logger.Info().Str("id", id.String()).Str("adapter", a.Name()).Msg("notification sent")

	return nil
}

// Cancel moves a pending notification to cancelled.
func (e *Engine) Cancel(ctx context.Context, strategy retry.Strategy, id uuid.UUID) error {
	if err := e.repo.Cancel(ctx, id); err != nil {
		return fmt.Errorf("cancel notification: %w", err)
	}

	e.cacheStatus(ctx, strategy, id, model.StatusCancelled)

	return nil
}

// MarkRead records that the recipient read a sent notification.
func (e *Engine) MarkRead(ctx context.Context, strategy retry.Strategy, id uuid.UUID) error {
	if err := e.repo.MarkRead(ctx, id); err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}

	e.cacheStatus(ctx, strategy, id, model.StatusRead)

	return nil
}

// Reschedule moves a failed notification back to pending and re-signals the
// trigger queue.
func (e *Engine) Reschedule(ctx context.Context, strategy retry.Strategy, id uuid.UUID, sendAfter *time.Time) error {
	if err := e.repo.Reschedule(ctx, id, sendAfter); err != nil {
		return fmt.Errorf("reschedule notification: %w", err)
	}

	e.cacheStatus(ctx, strategy, id, model.StatusPending)

	if e.queue != nil {
		msg := queue.TriggerMessage{ID: id, SendAfter: sendAfter}
		if err := e.queue.Publish(msg, strategy); err != nil {
			zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("failed to publish dispatch trigger")
		}
	}

	return nil
}

// GetNotificationStatusByID returns the status, cache-aside through redis.
func (e *Engine) GetNotificationStatusByID(ctx context.Context, strategy retry.Strategy, id uuid.UUID) (model.Status, error) {
	if e.cache != nil {
		cached, err := e.cache.GetWithRetry(ctx, strategy, id.String())
		if err != nil && !errors.Is(err, redis.Nil) {
			zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("failed to get notification status from cache")
		}

		if err == nil && cached != "" {
			return model.Status(cached), nil
		}
	}

	status, err := e.repo.GetNotificationStatusByID(ctx, id)
	if err != nil {
		return "", fmt.Errorf("get notification status: %w", err)
	}

	e.cacheStatus(ctx, strategy, id, status)

	return status, nil
}

// GetNotificationByID returns the full notification record.
func (e *Engine) GetNotificationByID(ctx context.Context, id uuid.UUID) (model.Notification, error) {
	n, err := e.repo.GetNotificationByID(ctx, id)
	if err != nil {
		return model.Notification{}, fmt.Errorf("get notification: %w", err)
	}

	return n, nil
}

// GetPendingNotifications returns all notifications eligible for dispatch at
// the given instant.
func (e *Engine) GetPendingNotifications(ctx context.Context, now time.Time) ([]model.Notification, error) {
	notifications, err := e.repo.ListPending(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list pending notifications: %w", err)
	}

	return notifications, nil
}

// GetAllNotifications returns every notification record.
func (e *Engine) GetAllNotifications(ctx context.Context) ([]model.Notification, error) {
	notifications, err := e.repo.GetAllNotifications(ctx)
	if err != nil {
		return nil, fmt.Errorf("get all notifications: %w", err)
	}

	return notifications, nil
}

// fail finalizes a claimed attempt as failed. The dispatch failure itself is
// reported through the persisted status, so fail returns nil unless the
// terminal transition could not be recorded.
func (e *Engine) fail(ctx context.Context, strategy retry.Strategy, id uuid.UUID, cause error) error {
	zlog.Logger.Warn().Err(cause).Str("id", id.String()).Msg("dispatch failed")

	if err := e.repo.MarkFailed(ctx, id, cause.Error()); err != nil {
		return fmt.Errorf("mark notification failed: %w", err)
	}

	e.cacheStatus(ctx, strategy, id, model.StatusFailed)

	return nil
}

func (e *Engine) cacheStatus(ctx context.Context, strategy retry.Strategy, id uuid.UUID, status model.Status) {
	if e.cache == nil {
		return
	}

	if err := e.cache.SetWithRetry(ctx, strategy, id.String(), string(status)); err != nil {
		zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("failed to cache notification status")
	}
}
