package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/emergency-dispatch/internal/models"
)

// wsPair starts a server that registers every connection under id and returns the client end.
func wsPair(t *testing.T, reg *WSRegistry, id string) *websocket.Conn {
	t.Helper()
	up := websocket.Upgrader{}
	registered := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		reg.Add(id, conn)
		close(registered)
	}))
	t.Cleanup(srv.Close)
	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	select {
	case <-registered:
	case <-time.After(2 * time.Second):
		t.Fatal("session was not registered")
	}
	return client
}

func TestWSRegistryDeliversOffer(t *testing.T) {
	reg := NewWSRegistry(nil)
	client := wsPair(t, reg, "amb-1")
	require.True(t, reg.Connected("amb-1"))

	offer := models.Offer{RequestID: "req-1", ResourceID: "amb-1", Priority: models.PriorityHigh, ETAMinutes: 4}
	require.NoError(t, reg.Offer(context.Background(), "amb-1", offer))

	var got models.Offer
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, client.ReadJSON(&got))
	assert.Equal(t, offer, got)
}

func TestWSRegistryNoSession(t *testing.T) {
	reg := NewWSRegistry(nil)
	assert.ErrorIs(t, reg.Offer(context.Background(), "ghost", models.Offer{}), ErrNoSession)
}

func TestPushFallsBackToHTTP(t *testing.T) {
	var body map[string]map[string]json.RawMessage
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewPushDispatcher(srv.URL, "secret", NewWSRegistry(nil))
	require.NoError(t, p.Offer(context.Background(), "amb-2", models.Offer{RequestID: "req-9"}))
	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, `"resource-amb-2"`, string(body["message"]["topic"]))
}

func TestPushGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	p := NewPushDispatcher(srv.URL, "", nil)
	assert.Error(t, p.Offer(context.Background(), "amb-2", models.Offer{}))
}

func TestPushWithoutEndpointNeedsSession(t *testing.T) {
	p := NewPushDispatcher("", "", NewWSRegistry(nil))
	assert.ErrorIs(t, p.Offer(context.Background(), "amb-3", models.Offer{}), ErrNoSession)
}
