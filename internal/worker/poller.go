package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/notifyd/notifyd/internal/model"
)

type pollerEngine interface {
	GetPendingNotifications(ctx context.Context, now time.Time) ([]model.Notification, error)
	Dispatch(ctx context.Context, strategy retry.Strategy, id uuid.UUID) error
}

// Poller periodically asks the backend for all eligible notifications and
// feeds each into the engine. It is the crash-safe fallback for triggers the
// queue lost, and works standalone when no queue is configured.
type Poller struct {
	engine      pollerEngine
	interval    time.Duration
	concurrency int
}

// NewPoller creates a poller dispatching at most concurrency notifications in
// flight per tick.
func NewPoller(engine pollerEngine, interval time.Duration, concurrency int) *Poller {
	if concurrency < 1 {
		concurrency = 1
	}

	return &Poller{engine: engine, interval: interval, concurrency: concurrency}
}

// Run polls until ctx is cancelled. Outcomes are independent per id: one
// failed dispatch never aborts the rest of the batch, and a tick overlapping
// a still-running previous tick never double-sends thanks to the claim.
func (p *Poller) Run(ctx context.Context, strategy retry.Strategy) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	zlog.Logger.Info().Dur("interval", p.interval).Msg("poller started")

	for {
		select {
		case <-ctx.Done():
			zlog.Logger.Info().Msg("poller stopped")
			return
		case now := <-ticker.C:
			p.tick(ctx, strategy, now)
		}
	}
}

func (p *Poller) tick(ctx context.Context, strategy retry.Strategy, now time.Time) {
	pending, err := p.engine.GetPendingNotifications(ctx, now)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to list pending notifications")
		return
	}

	if len(pending) == 0 {
		return
	}

	zlog.Logger.Info().Int("count", len(pending)).Msg("dispatching eligible notifications")

	var wg sync.WaitGroup
	sem := make(chan struct{}, p.concurrency)

	for _, n := range pending {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := p.engine.Dispatch(ctx, strategy, id); err != nil {
				zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("dispatch attempt errored")
			}
		}(n.ID)
	}

	wg.Wait()
}
