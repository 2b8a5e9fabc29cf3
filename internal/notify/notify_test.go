package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestLogNotifierMasksCode(t *testing.T) {
	var buf bytes.Buffer
	n := &LogNotifier{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	require.NoError(t, n.Notify(context.Background(), Party{Kind: PartyRequester, ID: "r1"}, TemplateRideCode, map[string]string{"code": "1234", "request_id": "req"}))
	assert.NotContains(t, buf.String(), "1234")
	assert.Contains(t, buf.String(), "req")
}

func newTestWebhook(url string) *Webhook {
	return &Webhook{
		Endpoint: url,
		Client:   &http.Client{Timeout: time.Second},
		Limiter:  rate.NewLimiter(rate.Inf, 1),
		Attempts: 3,
		Backoff:  time.Millisecond,
	}
}

func TestWebhookRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		var m Message
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&m))
		assert.Equal(t, TemplateRequestAccepted, m.Template)
		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	err := newTestWebhook(srv.URL).Notify(context.Background(), Party{Kind: PartyRequester, ID: "r1"}, TemplateRequestAccepted, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestWebhookDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := newTestWebhook(srv.URL).Notify(context.Background(), Party{Kind: PartyResource, ID: "a"}, TemplateRequestCancelled, nil)
	assert.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestWebhookGivesUpAfterAttempts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := newTestWebhook(srv.URL).Notify(context.Background(), Party{Kind: PartyResource, ID: "a"}, TemplateRequestCancelled, nil)
	assert.Error(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

type recordingPublisher struct {
	key string
	v   any
}

func (r *recordingPublisher) Publish(_ context.Context, key string, v any) error {
	r.key, r.v = key, v
	return nil
}

func TestKafkaNotifierKeysByParty(t *testing.T) {
	p := &recordingPublisher{}
	n := &KafkaNotifier{Publisher: p}
	require.NoError(t, n.Notify(context.Background(), Party{Kind: PartyRequester, ID: "req-1"}, TemplateNoResources, map[string]string{"request_id": "x"}))
	assert.Equal(t, "requester:req-1", p.key)
	msg, ok := p.v.(Message)
	require.True(t, ok)
	assert.Equal(t, TemplateNoResources, msg.Template)
}
