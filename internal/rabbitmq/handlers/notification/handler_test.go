package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/wb-go/wbf/retry"

	"github.com/notifyd/notifyd/internal/rabbitmq/queue"
)

type stubDispatcher struct {
	mu    sync.Mutex
	calls []uuid.UUID
	err   error
}

func (d *stubDispatcher) Dispatch(_ context.Context, _ retry.Strategy, id uuid.UUID) error {
	d.mu.Lock()
	d.calls = append(d.calls, id)
	d.mu.Unlock()

	return d.err
}

func (d *stubDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.calls)
}

func TestHandleMessageDispatchesImmediately(t *testing.T) {
	d := &stubDispatcher{}
	h := NewHandler(d)

	msg := queue.TriggerMessage{ID: uuid.New()}
	h.HandleMessage(context.Background(), msg, retry.Strategy{})

	assert.Equal(t, 1, d.count())
	assert.Equal(t, msg.ID, d.calls[0])
}

func TestHandleMessageHoldsUntilSendAfter(t *testing.T) {
	d := &stubDispatcher{}
	h := NewHandler(d)

	sendAfter := time.Now().Add(50 * time.Millisecond)
	msg := queue.TriggerMessage{ID: uuid.New(), SendAfter: &sendAfter}

	start := time.Now()
	h.HandleMessage(context.Background(), msg, retry.Strategy{})

	assert.Equal(t, 1, d.count())
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond, "trigger is held until send_after")
}

func TestHandleMessagePastSendAfterIsImmediate(t *testing.T) {
	d := &stubDispatcher{}
	h := NewHandler(d)

	sendAfter := time.Now().Add(-time.Hour)
	msg := queue.TriggerMessage{ID: uuid.New(), SendAfter: &sendAfter}

	start := time.Now()
	h.HandleMessage(context.Background(), msg, retry.Strategy{})

	assert.Equal(t, 1, d.count())
	assert.Less(t, time.Since(start), time.Second)
}

func TestHandleMessageAbortsOnContextCancel(t *testing.T) {
	d := &stubDispatcher{}
	h := NewHandler(d)

	sendAfter := time.Now().Add(time.Hour)
	msg := queue.TriggerMessage{ID: uuid.New(), SendAfter: &sendAfter}

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.HandleMessage(ctx, msg, retry.Strategy{})
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler did not abort after context cancellation")
	}

	assert.Equal(t, 0, d.count(), "no dispatch happens for an abandoned hold")
}

func TestHandleMessageLogsDispatchError(t *testing.T) {
	d := &stubDispatcher{err: errors.New("claim notification: db down")}
	h := NewHandler(d)

	msg := queue.TriggerMessage{ID: uuid.New()}
	h.HandleMessage(context.Background(), msg, retry.Strategy{})

	assert.Equal(t, 1, d.count())
}
