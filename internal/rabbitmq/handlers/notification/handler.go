package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/notifyd/notifyd/internal/rabbitmq/queue"
)

type dispatcher interface {
	Dispatch(ctx context.Context, strategy retry.Strategy, id uuid.UUID) error
}

// Handler consumes dispatch triggers and feeds them into the engine.
type Handler struct {
	engine dispatcher
}

// NewHandler creates a trigger message handler.
func NewHandler(engine dispatcher) *Handler {
	return &Handler{engine: engine}
}

// HandleMessage holds the trigger until the notification becomes eligible and
// then performs one dispatch attempt. The engine's claim absorbs duplicate
// triggers, so redelivery of the same id is harmless.
func (h *Handler) HandleMessage(ctx context.Context, msg queue.TriggerMessage, strategy retry.Strategy) {
	if msg.SendAfter != nil {
		if delay := time.Until(*msg.SendAfter); delay > 0 {
			zlog.Logger.Info().
				Str("id", msg.ID.String()).
				Dur("delay", delay).
				Msg("holding trigger until send_after")

			timer := time.NewTimer(delay)
			defer timer.Stop()

			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
		}
	}

	if err := h.engine.Dispatch(ctx, strategy, msg.ID); err != nil {
		zlog.Logger.Error().Err(err).Str("id", msg.ID.String()).Msg("dispatch attempt errored")
	}
}
