// Package queue declares the dispatch trigger queue topology and the message
// codec on top of RabbitMQ. The trigger is fire-and-forget and at-least-once:
// duplicate deliveries are absorbed by the engine's claim.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/rabbitmq"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"
)

const (
	ExchangeName   = "notifyd-exchange"
	MainQueueName  = "notifyd-dispatch"
	RetryQueueName = "notifyd-dispatch-retry"
	DLQName        = "notifyd-dispatch-dlq"
	RoutingKey     = "dispatch"
)

// TriggerMessage is the asynchronous "go dispatch this ID" signal.
type TriggerMessage struct {
	ID        uuid.UUID  `json:"id"`
	SendAfter *time.Time `json:"send_after,omitempty"`
}

// TriggerQueue wraps the publisher and consumer of dispatch triggers.
type TriggerQueue struct {
	Publisher *rabbitmq.Publisher
	Consumer  *rabbitmq.Consumer
}

// NewTriggerQueue declares the exchange, main queue, retry queue and DLQ, and
// binds them together.
func NewTriggerQueue(ch *rabbitmq.Channel) (*TriggerQueue, error) {
	exchange := rabbitmq.NewExchange(ExchangeName, "direct")
	if err := exchange.BindToChannel(ch); err != nil {
		return nil, fmt.Errorf("failed to bind to exchange: %w", err)
	}

	qm := rabbitmq.NewQueueManager(ch)

	_, err := qm.DeclareQueue(DLQName, rabbitmq.QueueConfig{Durable: true})
	if err != nil {
		return nil, fmt.Errorf("failed to declare DLQ queue: %w", err)
	}

	retryArgs := map[string]interface{}{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": MainQueueName,
		"x-message-ttl":             int32(5000),
	}

	_, err = qm.DeclareQueue(RetryQueueName, rabbitmq.QueueConfig{
		Durable: true,
		Args:    retryArgs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to declare retry queue: %w", err)
	}

	mainArgs := map[string]interface{}{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": DLQName,
	}

	mainQ, err := qm.DeclareQueue(MainQueueName, rabbitmq.QueueConfig{
		Durable: true,
		Args:    mainArgs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to declare main queue: %w", err)
	}

	if err := ch.QueueBind(mainQ.Name, RoutingKey, exchange.Name(), false, nil); err != nil {
		return nil, fmt.Errorf("failed to bind the exchange to the main queue: %w", err)
	}

	pub := rabbitmq.NewPublisher(ch, exchange.Name())
	cons := rabbitmq.NewConsumer(ch, rabbitmq.NewConsumerConfig(mainQ.Name))

	return &TriggerQueue{Publisher: pub, Consumer: cons}, nil
}

// Publish enqueues a dispatch trigger.
func (q *TriggerQueue) Publish(msg TriggerMessage, strategy retry.Strategy) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	return q.Publisher.PublishWithRetry(body, RoutingKey, "application/json", strategy)
}

// Consume decodes dispatch triggers into out until the underlying consumer
// stops.
func (q *TriggerQueue) Consume(ctx context.Context, out chan<- TriggerMessage, strategy retry.Strategy) error {
	msgChan := make(chan []byte)

	go func() {
		for m := range msgChan {
			var msg TriggerMessage
			if err := json.Unmarshal(m, &msg); err != nil {
				zlog.Logger.Error().Err(err).Msg("failed to unmarshal trigger message")
				continue
			}

			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	return q.Consumer.ConsumeWithRetry(msgChan, strategy)
}
