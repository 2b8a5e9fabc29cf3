// Package coordinator drives transport requests through their lifecycle: broadcast to nearby
// resources, first-accept-wins assignment, one-time code hand-off, settlement and cancellation.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/emergency-dispatch/internal/apperr"
	"github.com/example/emergency-dispatch/internal/dispatch"
	"github.com/example/emergency-dispatch/internal/geo"
	"github.com/example/emergency-dispatch/internal/models"
	"github.com/example/emergency-dispatch/internal/notify"
	"github.com/example/emergency-dispatch/internal/observability"
	"github.com/example/emergency-dispatch/internal/payments"
	"github.com/example/emergency-dispatch/internal/storage"
	"github.com/example/emergency-dispatch/internal/triage"
)

const (
	DefaultSearchRadiusKm         = 25.0
	DefaultMaxOffers              = 5
	DefaultDiscoveryTimeout       = 2 * time.Second
	DefaultOfferTimeout           = 3 * time.Second
	DefaultNotifyTimeout          = 5 * time.Second
	DefaultSettlementTimeout      = 10 * time.Second
	DefaultCodeTTL                = 5 * time.Minute
	DefaultMaxBroadcastAttempts   = 5
	DefaultBroadcastRetryInterval = 30 * time.Second
	DefaultRetentionWindow        = time.Hour
	DefaultArchiveInterval        = time.Minute
)

// EventPublisher receives lifecycle events. The Kafka producer satisfies it.
type EventPublisher interface {
	Publish(ctx context.Context, key string, v any) error
}

// Event is published after every committed transition.
type Event struct {
	Type       string          `json:"type"`
	RequestID  string          `json:"request_id"`
	State      models.State    `json:"state"`
	Priority   models.Priority `json:"priority"`
	ResourceID string          `json:"resource_id,omitempty"`
	At         time.Time       `json:"at"`
}

type Options struct {
	Fleet      geo.Fleet
	Dispatcher dispatch.Dispatcher
	Notifier   notify.Notifier
	Settler    payments.Settler
	Archive    storage.Archive
	Events     EventPublisher
	Logger     *slog.Logger
	Now        func() time.Time

	SearchRadiusKm         float64
	MaxOffers              int
	DiscoveryTimeout       time.Duration
	OfferTimeout           time.Duration
	NotifyTimeout          time.Duration
	SettlementTimeout      time.Duration
	CodeTTL                time.Duration
	MaxBroadcastAttempts   int
	BroadcastRetryInterval time.Duration
	RetentionWindow        time.Duration
	ArchiveInterval        time.Duration

	// Fares are in minor currency units.
	BaseFare  int64
	PerKmFare int64
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Notifier == nil {
		o.Notifier = &notify.LogNotifier{Logger: o.Logger}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.SearchRadiusKm <= 0 {
		o.SearchRadiusKm = DefaultSearchRadiusKm
	}
	if o.MaxOffers <= 0 {
		o.MaxOffers = DefaultMaxOffers
	}
	if o.DiscoveryTimeout <= 0 {
		o.DiscoveryTimeout = DefaultDiscoveryTimeout
	}
	if o.OfferTimeout <= 0 {
		o.OfferTimeout = DefaultOfferTimeout
	}
	if o.NotifyTimeout <= 0 {
		o.NotifyTimeout = DefaultNotifyTimeout
	}
	if o.SettlementTimeout <= 0 {
		o.SettlementTimeout = DefaultSettlementTimeout
	}
	if o.CodeTTL <= 0 {
		o.CodeTTL = DefaultCodeTTL
	}
	if o.MaxBroadcastAttempts <= 0 {
		o.MaxBroadcastAttempts = DefaultMaxBroadcastAttempts
	}
	if o.BroadcastRetryInterval <= 0 {
		o.BroadcastRetryInterval = DefaultBroadcastRetryInterval
	}
	if o.RetentionWindow <= 0 {
		o.RetentionWindow = DefaultRetentionWindow
	}
	if o.ArchiveInterval <= 0 {
		o.ArchiveInterval = DefaultArchiveInterval
	}
}

// entry is the single writer for one request. Every read or write of req holds mu.
type entry struct {
	mu  sync.Mutex
	req *models.TransportRequest
	// orphans are resources whose claim outcome was lost and whose compensating release
	// also failed. They may still be held under this request's id.
	orphans []string
}

type Service struct {
	mu       sync.RWMutex
	requests map[string]*entry

	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

func NewService(opts Options) (*Service, error) {
	var errs []error
	if opts.Fleet == nil {
		errs = append(errs, errors.New("coordinator: fleet is required"))
	}
	if opts.Dispatcher == nil {
		errs = append(errs, errors.New("coordinator: dispatcher is required"))
	}
	if opts.Settler == nil {
		errs = append(errs, errors.New("coordinator: settler is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	opts.setDefaults()
	return &Service{
		requests: make(map[string]*entry),
		opts:     opts,
		logger:   opts.Logger,
		now:      opts.Now,
	}, nil
}

type CreateCommand struct {
	Requester   models.Requester
	Pickup      models.Coord
	PickupAddr  string
	Destination *models.Coord
	Intake      models.Intake
}

func (c CreateCommand) validate() error {
	if strings.TrimSpace(c.Requester.Name) == "" {
		return apperr.Validation("requester name is required")
	}
	if strings.TrimSpace(c.Requester.Contact) == "" {
		return apperr.Validation("requester contact is required")
	}
	if !c.Pickup.Valid() {
		return apperr.Validation("pickup coordinates out of range")
	}
	if c.Destination != nil && !c.Destination.Valid() {
		return apperr.Validation("destination coordinates out of range")
	}
	if c.Intake.PainScore < 0 || c.Intake.PainScore > 10 {
		return apperr.Validation("pain score must be between 0 and 10")
	}
	return nil
}

// Create classifies the intake, registers the request and broadcasts it to nearby resources.
// Finding nobody is not an error: the request stays BROADCASTING and is retried by Run.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*models.TransportRequest, error) {
	if err := cmd.validate(); err != nil {
		return nil, err
	}
	now := s.now()
	priority := triage.Classify(cmd.Intake)
	r := &models.TransportRequest{
		ID:           uuid.NewString(),
		Requester:    cmd.Requester,
		Pickup:       cmd.Pickup,
		PickupAddr:   cmd.PickupAddr,
		Destination:  cmd.Destination,
		Intake:       cmd.Intake,
		Priority:     priority,
		RequiredTier: triage.RequiredTier(priority),
		State:        models.StateCreated,
		FareQuote:    quoteFare(s.opts.BaseFare, s.opts.PerKmFare, priority, cmd.Pickup, cmd.Destination),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r = r.Clone() // detach caller-owned slices and pointers

	e := &entry{req: r}
	e.mu.Lock()
	s.mu.Lock()
	s.requests[r.ID] = e
	s.mu.Unlock()
	observability.RequestsCreated.WithLabelValues(string(priority)).Inc()
	observability.ActiveRequests.Inc()

	if err := advance(r, models.StateBroadcasting, now); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	b, err := s.discoverLocked(ctx, r)
	snap := snapshot(r)
	e.mu.Unlock()

	s.logger.Info("request created", "request_id", snap.ID, "priority", snap.Priority, "required_tier", snap.RequiredTier, "offers", len(b.offers))
	if err != nil {
		s.logger.Warn("discovery failed, will retry", "request_id", snap.ID, "err", err)
	}
	s.publish(ctx, "request.broadcasting", snap)
	s.deliver(ctx, snap, b)
	return snap, nil
}

// Get returns a copy of the request. Requests past their retention window are read from the archive.
func (s *Service) Get(ctx context.Context, id string) (*models.TransportRequest, error) {
	e, err := s.lookup(id)
	if err == nil {
		e.mu.Lock()
		defer e.mu.Unlock()
		return snapshot(e.req), nil
	}
	if s.opts.Archive == nil {
		return nil, err
	}
	return s.opts.Archive.Get(ctx, id)
}

func (s *Service) lookup(id string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.requests[id]
	if !ok {
		return nil, apperr.NotFound("request %s", id)
	}
	return e, nil
}

// entries returns the current arena members in no particular order.
func (s *Service) entries() []*entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*entry, 0, len(s.requests))
	for _, e := range s.requests {
		out = append(out, e)
	}
	return out
}

// snapshot copies r for callers outside the lock. The one-time code never leaves the coordinator
// except through the notifier.
func snapshot(r *models.TransportRequest) *models.TransportRequest {
	cp := r.Clone()
	cp.OneTimeCode = ""
	return cp
}

func requesterParty(r *models.TransportRequest) notify.Party {
	return notify.Party{Kind: notify.PartyRequester, ID: r.ID, Contact: r.Requester.Contact}
}

func resourceParty(id string) notify.Party {
	return notify.Party{Kind: notify.PartyResource, ID: id}
}

// notify runs after the request lock is released. Failures never roll back a committed transition.
func (s *Service) notify(ctx context.Context, to notify.Party, tmpl notify.Template, vars map[string]string) {
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.NotifyTimeout)
	defer cancel()
	if err := s.opts.Notifier.Notify(nctx, to, tmpl, vars); err != nil {
		observability.Notifications.WithLabelValues(string(tmpl), "failed").Inc()
		s.logger.Warn("notification failed", "template", tmpl, "party_kind", to.Kind, "party_id", to.ID, "err", err)
		return
	}
	observability.Notifications.WithLabelValues(string(tmpl), "sent").Inc()
}

func (s *Service) publish(ctx context.Context, typ string, r *models.TransportRequest) {
	if s.opts.Events == nil {
		return
	}
	ev := Event{
		Type:       typ,
		RequestID:  r.ID,
		State:      r.State,
		Priority:   r.Priority,
		ResourceID: r.AssignedResourceID,
		At:         r.UpdatedAt,
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.NotifyTimeout)
	defer cancel()
	if err := s.opts.Events.Publish(pctx, r.ID, ev); err != nil {
		s.logger.Warn("publish event failed", "type", typ, "request_id", r.ID, "err", err)
	}
}
