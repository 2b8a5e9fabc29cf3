// Package dispatch carries offers to resources: a live WebSocket session when the crew app is
// connected, an HTTP push gateway otherwise.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/emergency-dispatch/internal/models"
)

var ErrNoSession = errors.New("no ws session")

// Dispatcher delivers one offer to one resource.
type Dispatcher interface {
	Offer(ctx context.Context, resourceID string, offer models.Offer) error
}

// WSSession represents a connected resource session
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(ctx context.Context, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(5 * time.Second)
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return s.conn.WriteJSON(v)
}

// WSRegistry holds resource sessions
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
	logger   *slog.Logger
}

func NewWSRegistry(logger *slog.Logger) *WSRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSRegistry{sessions: make(map[string]*WSSession), logger: logger}
}

// Add registers conn for the resource, closing any previous session.
func (r *WSRegistry) Add(resourceID string, conn *websocket.Conn) {
	r.mu.Lock()
	prev := r.sessions[resourceID]
	r.sessions[resourceID] = &WSSession{conn: conn}
	r.mu.Unlock()
	if prev != nil {
		_ = prev.conn.Close()
	}
}

// Remove drops the session if it still belongs to conn.
func (r *WSRegistry) Remove(resourceID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[resourceID]; ok && s.conn == conn {
		delete(r.sessions, resourceID)
	}
}

func (r *WSRegistry) Connected(resourceID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[resourceID]
	return ok
}

func (r *WSRegistry) Offer(ctx context.Context, resourceID string, offer models.Offer) error {
	r.mu.RLock()
	s, ok := r.sessions[resourceID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.Send(ctx, offer); err != nil {
		r.logger.Warn("ws send error", "resource_id", resourceID, "error", err)
		return err
	}
	return nil
}
