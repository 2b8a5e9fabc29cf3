package coordinator

import (
	"context"
	"fmt"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/example/emergency-dispatch/internal/apperr"
	"github.com/example/emergency-dispatch/internal/geo"
	"github.com/example/emergency-dispatch/internal/models"
	"github.com/example/emergency-dispatch/internal/notify"
	"github.com/example/emergency-dispatch/internal/observability"
)

type broadcast struct {
	offers []models.Offer
	// exhausted is set once the attempt cap is reached without anyone having been offered.
	exhausted bool
}

// discoverLocked runs one broadcast attempt and records who is being offered.
// Resources offered on an earlier attempt are not offered again.
func (s *Service) discoverLocked(ctx context.Context, r *models.TransportRequest) (broadcast, error) {
	r.BroadcastAttempts++
	r.UpdatedAt = s.now()

	exclude := make(map[string]bool, len(r.OfferedTo))
	for _, id := range r.OfferedTo {
		exclude[id] = true
	}
	dctx, cancel := context.WithTimeout(ctx, s.opts.DiscoveryTimeout)
	defer cancel()
	cands, err := s.opts.Fleet.Nearby(dctx, geo.Query{
		Origin:   r.Pickup,
		RadiusKm: s.opts.SearchRadiusKm,
		MinTier:  r.RequiredTier,
		Limit:    s.opts.MaxOffers,
		Exclude:  exclude,
	})
	var b broadcast
	if err != nil {
		b.exhausted = s.exhaustLocked(r)
		return b, fmt.Errorf("discover resources for %s: %w", r.ID, err)
	}
	for _, c := range cands {
		r.OfferedTo = append(r.OfferedTo, c.Resource.ID)
		b.offers = append(b.offers, models.Offer{
			RequestID:  r.ID,
			ResourceID: c.Resource.ID,
			Pickup:     r.Pickup,
			PickupAddr: r.PickupAddr,
			Priority:   r.Priority,
			DistanceKm: c.DistanceKm,
			ETAMinutes: c.ETAMinutes,
		})
	}
	if len(cands) == 0 {
		observability.NoCandidates.Inc()
		b.exhausted = s.exhaustLocked(r)
	}
	return b, nil
}

func (s *Service) exhaustLocked(r *models.TransportRequest) bool {
	if r.NoResources || len(r.OfferedTo) > 0 || r.BroadcastAttempts < s.opts.MaxBroadcastAttempts {
		return false
	}
	r.NoResources = true
	return true
}

// deliver sends the offers concurrently. A failed offer is logged and counted; the remaining
// resources can still accept.
func (s *Service) deliver(ctx context.Context, r *models.TransportRequest, b broadcast) {
	var g errgroup.Group
	g.SetLimit(s.opts.MaxOffers)
	for _, offer := range b.offers {
		g.Go(func() error {
			octx, cancel := context.WithTimeout(ctx, s.opts.OfferTimeout)
			defer cancel()
			if err := s.opts.Dispatcher.Offer(octx, offer.ResourceID, offer); err != nil {
				observability.OffersSent.WithLabelValues("failed").Inc()
				s.logger.Warn("offer failed", "request_id", offer.RequestID, "resource_id", offer.ResourceID, "err", err)
				return nil
			}
			observability.OffersSent.WithLabelValues("sent").Inc()
			return nil
		})
	}
	_ = g.Wait()

	if b.exhausted {
		s.logger.Warn("no resources after retries", "request_id", r.ID, "attempts", r.BroadcastAttempts)
		s.notify(ctx, requesterParty(r), notify.TemplateNoResources, map[string]string{
			"request_id": r.ID,
			"attempts":   strconv.Itoa(r.BroadcastAttempts),
		})
	}
}

// Rebroadcast forces one discovery attempt regardless of the retry cap.
func (s *Service) Rebroadcast(ctx context.Context, id string) (*models.TransportRequest, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	r := e.req
	if r.State != models.StateBroadcasting {
		e.mu.Unlock()
		return nil, apperr.Conflict("request %s is %s, not broadcasting", r.ID, r.State)
	}
	b, err := s.discoverLocked(ctx, r)
	snap := snapshot(r)
	e.mu.Unlock()

	s.deliver(ctx, snap, b)
	if err != nil {
		return nil, err
	}
	if len(b.offers) == 0 {
		return nil, fmt.Errorf("%w: request %s", apperr.ErrNoCandidates, id)
	}
	return snap, nil
}

// RetryBroadcasts re-runs discovery for every unassigned request still under the attempt cap
// and returns how many new offers went out.
func (s *Service) RetryBroadcasts(ctx context.Context) int {
	sent := 0
	for _, e := range s.entries() {
		if ctx.Err() != nil {
			return sent
		}
		e.mu.Lock()
		r := e.req
		if r.State != models.StateBroadcasting || r.NoResources || r.BroadcastAttempts >= s.opts.MaxBroadcastAttempts {
			e.mu.Unlock()
			continue
		}
		b, err := s.discoverLocked(ctx, r)
		snap := snapshot(r)
		e.mu.Unlock()

		if err != nil {
			s.logger.Warn("broadcast retry failed", "request_id", snap.ID, "attempt", snap.BroadcastAttempts, "err", err)
		}
		s.deliver(ctx, snap, b)
		sent += len(b.offers)
	}
	return sent
}
