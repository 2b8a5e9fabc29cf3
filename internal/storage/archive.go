// Package storage keeps terminal transport requests after they leave the coordinator's memory.
package storage

import (
	"context"
	"sync"

	"github.com/example/emergency-dispatch/internal/apperr"
	"github.com/example/emergency-dispatch/internal/models"
)

// Archive receives requests once their retention window has passed.
type Archive interface {
	Save(ctx context.Context, r *models.TransportRequest) error
	Get(ctx context.Context, id string) (*models.TransportRequest, error)
}

type MemoryArchive struct {
	mu       sync.RWMutex
	requests map[string]*models.TransportRequest
}

func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{requests: make(map[string]*models.TransportRequest)}
}

func (m *MemoryArchive) Save(_ context.Context, r *models.TransportRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[r.ID] = r.Clone()
	return nil
}

func (m *MemoryArchive) Get(_ context.Context, id string) (*models.TransportRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, apperr.NotFound("request %s", id)
	}
	return r.Clone(), nil
}

func (m *MemoryArchive) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}
