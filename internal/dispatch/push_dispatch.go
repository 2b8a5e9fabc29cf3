package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/example/emergency-dispatch/internal/models"
)

// PushDispatcher tries the WebSocket session first and falls back to an HTTP push gateway
// (FCM-style JSON body, bearer key).
type PushDispatcher struct {
	Endpoint string
	Key      string
	Client   *http.Client
	WS       *WSRegistry
}

func NewPushDispatcher(endpoint, key string, ws *WSRegistry) *PushDispatcher {
	return &PushDispatcher{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 3 * time.Second}, WS: ws}
}

func (p *PushDispatcher) Offer(ctx context.Context, resourceID string, offer models.Offer) error {
	if p.WS != nil {
		err := p.WS.Offer(ctx, resourceID, offer)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrNoSession) && p.Endpoint == "" {
			return err
		}
	}
	if p.Endpoint == "" {
		return ErrNoSession
	}
	body := map[string]any{"message": map[string]any{"topic": "resource-" + resourceID, "data": offer}}
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.Key != "" {
		req.Header.Set("Authorization", "Bearer "+p.Key)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("push gateway returned %d", resp.StatusCode)
	}
	return nil
}
