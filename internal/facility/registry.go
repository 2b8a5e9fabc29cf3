// Package facility ranks receiving hospitals for a patient and holds beds for inbound transports.
package facility

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/emergency-dispatch/internal/apperr"
	"github.com/example/emergency-dispatch/internal/eta"
	"github.com/example/emergency-dispatch/internal/models"
	"github.com/example/emergency-dispatch/internal/observability"
)

// DefaultHoldBuffer is added to the ETA when computing a reservation's expiry.
const DefaultHoldBuffer = 15 * time.Minute

type Options struct {
	HoldBuffer time.Duration
	SpeedKmh   float64
	Logger     *slog.Logger
	Now        func() time.Time
}

// Registry is the system of record for facilities and their bed reservations.
// Bed counters only change through reservation transitions, under mu.
type Registry struct {
	mu           sync.Mutex
	facilities   map[string]*models.Facility
	order        []string
	reservations map[string]*models.Reservation

	holdBuffer time.Duration
	speedKmh   float64
	logger     *slog.Logger
	now        func() time.Time
}

func NewRegistry(opts Options) *Registry {
	if opts.HoldBuffer <= 0 {
		opts.HoldBuffer = DefaultHoldBuffer
	}
	if opts.SpeedKmh <= 0 {
		opts.SpeedKmh = eta.DefaultSpeedKmh
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		facilities:   make(map[string]*models.Facility),
		reservations: make(map[string]*models.Reservation),
		holdBuffer:   opts.HoldBuffer,
		speedKmh:     opts.SpeedKmh,
		logger:       opts.Logger,
		now:          opts.Now,
	}
}

// Register adds a facility. Ids are unique; bed pools must satisfy 0 <= available <= total.
func (r *Registry) Register(f models.Facility) error {
	if strings.TrimSpace(f.ID) == "" {
		return apperr.Validation("facility id is required")
	}
	if !f.Loc.Valid() {
		return apperr.Validation("facility %s has invalid coordinates", f.ID)
	}
	for bt, p := range f.Beds {
		if !bt.Valid() {
			return apperr.Validation("facility %s has unknown bed type %q", f.ID, bt)
		}
		if p.Total < 0 || p.Available < 0 || p.Available > p.Total {
			return apperr.Validation("facility %s bed pool %s out of range (%d/%d)", f.ID, bt, p.Available, p.Total)
		}
	}
	cp := f.Clone()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.facilities[f.ID]; ok {
		return apperr.Conflict("facility %s already registered", f.ID)
	}
	r.facilities[f.ID] = &cp
	r.order = append(r.order, f.ID)
	return nil
}

func (r *Registry) Get(id string) (models.Facility, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.facilities[id]
	if !ok {
		return models.Facility{}, apperr.NotFound("facility %s", id)
	}
	return f.Clone(), nil
}

// List returns facilities in registration order.
func (r *Registry) List() []models.Facility {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() []models.Facility {
	out := make([]models.Facility, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.facilities[id].Clone())
	}
	return out
}

type RecommendQuery struct {
	Location    models.Coord
	Need        string
	Priority    models.Priority
	BedTypeHint models.BedType
	Limit       int
}

// Recommend scores every registered facility for the query, highest score first.
// It never mutates facility state and returns an empty slice when nothing is registered.
func (r *Registry) Recommend(_ context.Context, q RecommendQuery) []models.ScoredFacility {
	r.mu.Lock()
	snap := r.snapshotLocked()
	r.mu.Unlock()
	return Rank(snap, q, r.speedKmh)
}

// Rank scores an explicit facility list.
func Rank(facilities []models.Facility, q RecommendQuery, speedKmh float64) []models.ScoredFacility {
	in := scoreInput{
		specialty: RequiredSpecialty(q.Need),
		equipment: RequiredEquipment(q.Need, q.Priority),
		bedType:   SelectBedType(q.Priority, q.BedTypeHint),
		origin:    q.Location,
		speedKmh:  speedKmh,
	}
	out := make([]models.ScoredFacility, 0, len(facilities))
	for _, f := range facilities {
		out = append(out, scoreFacility(f, in))
	}
	rank(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

type ReserveCommand struct {
	FacilityID string
	BedType    models.BedType
	RequestID  string
	ETAMinutes int
}

// Reserve holds one bed of the given type until ETA plus the hold buffer.
func (r *Registry) Reserve(_ context.Context, cmd ReserveCommand) (models.Reservation, error) {
	if !cmd.BedType.Valid() {
		return models.Reservation{}, apperr.Validation("unknown bed type %q", cmd.BedType)
	}
	if strings.TrimSpace(cmd.RequestID) == "" {
		return models.Reservation{}, apperr.Validation("request id is required")
	}
	if cmd.ETAMinutes < 0 {
		return models.Reservation{}, apperr.Validation("eta must not be negative")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.facilities[cmd.FacilityID]
	if !ok {
		return models.Reservation{}, apperr.NotFound("facility %s", cmd.FacilityID)
	}
	pool := f.Beds[cmd.BedType]
	if pool.Available <= 0 {
		observability.ReservationsTotal.WithLabelValues("rejected").Inc()
		return models.Reservation{}, apperr.ErrNoBeds
	}
	pool.Available--
	f.Beds[cmd.BedType] = pool

	now := r.now()
	res := &models.Reservation{
		ID:         uuid.NewString(),
		FacilityID: f.ID,
		RequestID:  cmd.RequestID,
		BedType:    cmd.BedType,
		State:      models.ReservationHeld,
		ReservedAt: now,
		ExpiresAt:  now.Add(time.Duration(cmd.ETAMinutes)*time.Minute + r.holdBuffer),
	}
	r.reservations[res.ID] = res
	observability.ReservationsTotal.WithLabelValues("held").Inc()
	r.logger.Info("bed reserved", "reservation_id", res.ID, "facility_id", f.ID, "bed_type", cmd.BedType, "request_id", cmd.RequestID, "expires_at", res.ExpiresAt)
	return *res, nil
}

func (r *Registry) GetReservation(id string) (models.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.reservations[id]
	if !ok {
		return models.Reservation{}, apperr.NotFound("reservation %s", id)
	}
	return *res, nil
}

// ConfirmArrival marks the patient as admitted. The bed stays consumed.
// A hold that already ran past its expiry is expired instead and reported as ErrExpired.
func (r *Registry) ConfirmArrival(_ context.Context, id, confirmedBy, notes string) (models.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.reservations[id]
	if !ok {
		return models.Reservation{}, apperr.NotFound("reservation %s", id)
	}
	if err := r.checkHeldLocked(res); err != nil {
		return *res, err
	}
	now := r.now()
	res.State = models.ReservationConfirmed
	res.ConfirmedBy = confirmedBy
	res.Notes = notes
	res.ClosedAt = &now
	observability.ReservationsTotal.WithLabelValues("confirmed").Inc()
	r.logger.Info("arrival confirmed", "reservation_id", id, "confirmed_by", confirmedBy)
	return *res, nil
}

// CancelReservation drops a hold and returns its bed.
func (r *Registry) CancelReservation(_ context.Context, id, reason string) (models.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.reservations[id]
	if !ok {
		return models.Reservation{}, apperr.NotFound("reservation %s", id)
	}
	if err := r.checkHeldLocked(res); err != nil {
		return *res, err
	}
	r.closeLocked(res, models.ReservationCancelled, reason)
	return *res, nil
}

// ExpireStale expires every hold past its expiry and returns how many were released.
func (r *Registry) ExpireStale(_ context.Context) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	n := 0
	for _, res := range r.reservations {
		if res.State == models.ReservationHeld && !now.Before(res.ExpiresAt) {
			r.closeLocked(res, models.ReservationExpired, "hold expired")
			n++
		}
	}
	return n
}

// RunExpirySweeper calls ExpireStale on every tick until ctx is done.
func (r *Registry) RunExpirySweeper(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.ExpireStale(ctx); n > 0 {
				r.logger.Info("expired stale reservations", "count", n)
			}
		}
	}
}

func (r *Registry) checkHeldLocked(res *models.Reservation) error {
	switch res.State {
	case models.ReservationHeld:
	case models.ReservationExpired:
		return apperr.Expired("reservation %s expired", res.ID)
	default:
		return apperr.Conflict("reservation %s is %s", res.ID, res.State)
	}
	if !r.now().Before(res.ExpiresAt) {
		r.closeLocked(res, models.ReservationExpired, "hold expired")
		return apperr.Expired("reservation %s expired", res.ID)
	}
	return nil
}

// closeLocked moves a HELD reservation to a releasing state and returns its bed exactly once.
func (r *Registry) closeLocked(res *models.Reservation, to models.ReservationState, reason string) {
	if res.State != models.ReservationHeld {
		return
	}
	now := r.now()
	res.State = to
	res.Reason = reason
	res.ClosedAt = &now
	if f, ok := r.facilities[res.FacilityID]; ok {
		pool := f.Beds[res.BedType]
		if pool.Available < pool.Total {
			pool.Available++
		}
		f.Beds[res.BedType] = pool
	}
	observability.ReservationsTotal.WithLabelValues(strings.ToLower(string(to))).Inc()
	r.logger.Info("reservation released", "reservation_id", res.ID, "state", to, "reason", reason)
}
