package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/notifyd/notifyd/internal/adapter"
	"github.com/notifyd/notifyd/internal/model"
)

func TestSendPostsToGateway(t *testing.T) {
	userID := uuid.New()

	var got pushRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewWithClient(srv.URL, "secret", srv.Client())

	err := a.Send(context.Background(), adapter.Payload{
		Subject:   "Welcome",
		Body:      "Hello Ada",
		Recipient: model.NewUserRecipient(userID),
		Extra:     map[string]any{"badge": float64(3)},
	})

	assert.NoError(t, err)
	assert.Equal(t, userID.String(), got.UserID)
	assert.Equal(t, "Welcome", got.Title)
	assert.Equal(t, "Hello Ada", got.Body)
	assert.Equal(t, map[string]any{"badge": float64(3)}, got.Data)
}

func TestSendGatewayFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	a := NewWithClient(srv.URL, "secret", srv.Client())

	err := a.Send(context.Background(), adapter.Payload{
		Body:      "hi",
		Recipient: model.NewUserRecipient(uuid.New()),
	})

	assert.ErrorContains(t, err, "push gateway error")
}

func TestSendRejectsOneOffRecipient(t *testing.T) {
	a := NewWithClient("http://unreachable.invalid", "secret", &http.Client{})

	err := a.Send(context.Background(), adapter.Payload{
		Body:      "hi",
		Recipient: model.NewOneOffRecipient("ada@example.com", "Ada", "Lovelace"),
	})

	assert.Error(t, err)
}

func TestCanHandle(t *testing.T) {
	a := New("http://gateway.local", "secret")

	assert.True(t, a.CanHandle(model.ChannelPush))
	assert.False(t, a.CanHandle(model.ChannelInApp))
}
