package coordinator

import (
	"context"
	"time"

	"github.com/example/emergency-dispatch/internal/models"
	"github.com/example/emergency-dispatch/internal/observability"
)

// Run retries stalled broadcasts, clears lapsed codes and archives finished requests until ctx
// is done.
func (s *Service) Run(ctx context.Context) {
	retry := time.NewTicker(s.opts.BroadcastRetryInterval)
	defer retry.Stop()
	archive := time.NewTicker(s.opts.ArchiveInterval)
	defer archive.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-retry.C:
			if n := s.RetryBroadcasts(ctx); n > 0 {
				s.logger.Info("broadcast retry sent offers", "offers", n)
			}
			if n := s.ExpireCodes(); n > 0 {
				s.logger.Info("expired one-time codes", "count", n)
			}
		case <-archive.C:
			if n := s.ArchiveExpired(ctx); n > 0 {
				s.logger.Info("archived requests", "count", n)
			}
		}
	}
}

// ArchiveExpired hands terminal requests older than the retention window to the archive and
// evicts them from memory. A request whose archive write fails stays for the next pass.
func (s *Service) ArchiveExpired(ctx context.Context) int {
	cutoff := s.now().Add(-s.opts.RetentionWindow)
	var evict []string
	for _, e := range s.entries() {
		if ctx.Err() != nil {
			break
		}
		e.mu.Lock()
		r := e.req
		done := finishedAt(r)
		if !r.State.Terminal() || done == nil || done.After(cutoff) {
			e.mu.Unlock()
			continue
		}
		snap := snapshot(r)
		e.mu.Unlock()

		if s.opts.Archive != nil {
			actx, cancel := context.WithTimeout(ctx, s.opts.SettlementTimeout)
			err := s.opts.Archive.Save(actx, snap)
			cancel()
			if err != nil {
				s.logger.Warn("archive request failed", "request_id", snap.ID, "err", err)
				continue
			}
		}
		evict = append(evict, snap.ID)
	}

	if len(evict) == 0 {
		return 0
	}
	s.mu.Lock()
	for _, id := range evict {
		delete(s.requests, id)
	}
	s.mu.Unlock()
	observability.ActiveRequests.Sub(float64(len(evict)))
	return len(evict)
}

// ExpireCodes clears one-time codes past their window. The request stays CODE_ISSUED so a new
// code can be issued.
func (s *Service) ExpireCodes() int {
	now := s.now()
	n := 0
	for _, e := range s.entries() {
		e.mu.Lock()
		r := e.req
		if r.OneTimeCode != "" && r.CodeExpiresAt != nil && !now.Before(*r.CodeExpiresAt) {
			clearCode(r, now)
			n++
		}
		e.mu.Unlock()
	}
	return n
}

func finishedAt(r *models.TransportRequest) *time.Time {
	if r.CompletedAt != nil {
		return r.CompletedAt
	}
	return r.CancelledAt
}
