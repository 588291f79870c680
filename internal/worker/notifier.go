// Package worker runs the two dispatch triggers: the queue-fed worker pool
// and the periodic eligibility poller. Both funnel into the engine, whose
// claim guarantees at most one successful dispatch attempt per notification
// however many triggers fire.
package worker

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/notifyd/notifyd/internal/model"
	"github.com/notifyd/notifyd/internal/rabbitmq/queue"
)

type triggerConsumer interface {
	Consume(ctx context.Context, out chan<- queue.TriggerMessage, strategy retry.Strategy) error
}

type messageHandler interface {
	HandleMessage(ctx context.Context, msg queue.TriggerMessage, strategy retry.Strategy)
}

type statusReader interface {
	GetNotificationStatusByID(context.Context, retry.Strategy, uuid.UUID) (model.Status, error)
}

// Notifier is the queue-fed worker pool.
type Notifier struct {
	queue   triggerConsumer
	handler messageHandler
	engine  statusReader
}

// NewNotifier creates a worker pool reading triggers from q.
func NewNotifier(q triggerConsumer, h messageHandler, e statusReader) *Notifier {
	return &Notifier{
		queue:   q,
		handler: h,
		engine:  e,
	}
}

// Run consumes triggers with workerCount goroutines until ctx is cancelled.
// Triggers whose notification is no longer pending are dropped before the
// handler runs; the claim would reject them anyway, this just avoids holding
// a delayed trigger for a cancelled record.
func (n *Notifier) Run(ctx context.Context, strategy retry.Strategy, workerCount int) {
	var wg sync.WaitGroup
	msgChan := make(chan queue.TriggerMessage, workerCount*10)

	go func() {
		if err := n.queue.Consume(ctx, msgChan, strategy); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to consume trigger messages")
		}
	}()

	wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go func(id int) {
			defer wg.Done()

			zlog.Logger.Printf("worker-%d started", id)

			for {
				select {
				case <-ctx.Done():
					zlog.Logger.Printf("worker-%d shutting down", id)
					return
				case msg, ok := <-msgChan:
					if !ok {
						zlog.Logger.Printf("worker-%d channel closed, shutting down", id)
						return
					}

					status, err := n.engine.GetNotificationStatusByID(ctx, strategy, msg.ID)
					if err != nil {
						zlog.Logger.Printf("failed to get status for %s: %v", msg.ID, err)
						continue
					}

					if status != model.StatusPending {
						zlog.Logger.Printf("notification %s is %s, skipping trigger", msg.ID, status)
						continue
					}

					n.handler.HandleMessage(ctx, msg, strategy)
				}
			}
		}(i)
	}

	<-ctx.Done()
	wg.Wait()
	zlog.Logger.Print("notifier stopped")
}
