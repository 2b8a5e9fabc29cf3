package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Webhook posts notifications to an SMS/voice gateway. Outbound calls are throttled with a
// token bucket and retried with exponential backoff on transport errors and 5xx responses.
type Webhook struct {
	Endpoint string
	Client   *http.Client
	Limiter  *rate.Limiter
	Attempts int
	Backoff  time.Duration
}

func NewWebhook(endpoint string, perSecond float64, burst int) *Webhook {
	return &Webhook{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: 3 * time.Second},
		Limiter:  rate.NewLimiter(rate.Limit(perSecond), burst),
		Attempts: 3,
		Backoff:  200 * time.Millisecond,
	}
}

func (w *Webhook) Notify(ctx context.Context, to Party, tmpl Template, vars map[string]string) error {
	b, err := json.Marshal(Message{To: to, Template: tmpl, Vars: vars})
	if err != nil {
		return err
	}
	attempts := w.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := w.Backoff
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		if w.Limiter != nil {
			if err := w.Limiter.Wait(ctx); err != nil {
				return err
			}
		}
		retry, err := w.post(ctx, b)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return lastErr
}

func (w *Webhook) post(ctx context.Context, body []byte) (retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.Endpoint, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.Client.Do(req)
	if err != nil {
		return true, err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return true, fmt.Errorf("notification gateway returned %d", resp.StatusCode)
	case resp.StatusCode >= 300:
		return false, fmt.Errorf("notification gateway returned %d", resp.StatusCode)
	}
	return false, nil
}
