package models

import (
	"fmt"
	"strings"
	"time"
)

type Coord struct {
	Lat float64 `json:"lat" toml:"lat"`
	Lon float64 `json:"lon" toml:"lon"`
}

// Valid reports whether the coordinate lies inside the WGS84 ranges.
func (c Coord) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

type Priority string

const (
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "HIGH"
	PriorityMedium   Priority = "MEDIUM"
	PriorityLow      Priority = "LOW"
)

// Tier is the capability level of a resource. Higher values can serve everything a lower one can.
type Tier int

const (
	TierBasic Tier = iota + 1
	TierIntermediate
	TierAdvanced
	TierCriticalCare
)

var tierNames = map[Tier]string{
	TierBasic:        "BASIC",
	TierIntermediate: "INTERMEDIATE",
	TierAdvanced:     "ADVANCED",
	TierCriticalCare: "CRITICAL_CARE",
}

func (t Tier) String() string {
	if n, ok := tierNames[t]; ok {
		return n
	}
	return "UNKNOWN"
}

// ParseTier maps a tier name to its value. Unknown names return false.
func ParseTier(s string) (Tier, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for t, n := range tierNames {
		if n == s {
			return t, true
		}
	}
	return 0, false
}

func (t Tier) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *Tier) UnmarshalText(b []byte) error {
	v, ok := ParseTier(string(b))
	if !ok {
		return fmt.Errorf("unknown tier %q", string(b))
	}
	*t = v
	return nil
}

type State string

const (
	StateCreated      State = "CREATED"
	StateBroadcasting State = "BROADCASTING"
	StateAccepted     State = "ACCEPTED"
	StateCodeIssued   State = "CODE_ISSUED"
	StateInProgress   State = "IN_PROGRESS"
	StateCompleted    State = "COMPLETED"
	StateCancelled    State = "CANCELLED"
)

// Terminal reports whether no further transitions are accepted from s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled
}

type Requester struct {
	Name       string   `json:"name" toml:"name"`
	Contact    string   `json:"contact" toml:"contact"`
	Conditions []string `json:"conditions,omitempty" toml:"conditions"`
	Allergies  []string `json:"allergies,omitempty" toml:"allergies"`
}

// Intake is the raw triage input captured when a request is raised.
type Intake struct {
	Category  string `json:"category"`
	Conscious *bool  `json:"conscious,omitempty"`
	Breathing *bool  `json:"breathing,omitempty"`
	Bleeding  bool   `json:"bleeding"`
	PainScore int    `json:"pain_score"`
	Symptoms  string `json:"symptoms"`
}

type TransportRequest struct {
	ID           string    `json:"id"`
	Requester    Requester `json:"requester"`
	Pickup       Coord     `json:"pickup"`
	PickupAddr   string    `json:"pickup_address"`
	Destination  *Coord    `json:"destination,omitempty"`
	Intake       Intake    `json:"intake"`
	Priority     Priority  `json:"priority"`
	RequiredTier Tier      `json:"required_tier"`
	State        State     `json:"state"`

	AssignedResourceID string   `json:"assigned_resource_id,omitempty"`
	OfferedTo          []string `json:"offered_to,omitempty"`
	BroadcastAttempts  int      `json:"broadcast_attempts"`
	NoResources        bool     `json:"no_resources,omitempty"`

	OneTimeCode   string     `json:"-"`
	CodeExpiresAt *time.Time `json:"code_expires_at,omitempty"`
	CodeAttempts  int        `json:"code_attempts,omitempty"`

	FareQuote int64 `json:"fare_quote"`
	FarePaid  int64 `json:"fare_paid"`

	CancelReason string `json:"cancel_reason,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Clone returns a deep copy safe to hand out of the coordinator.
func (r *TransportRequest) Clone() *TransportRequest {
	cp := *r
	cp.OfferedTo = append([]string(nil), r.OfferedTo...)
	cp.Requester.Conditions = append([]string(nil), r.Requester.Conditions...)
	cp.Requester.Allergies = append([]string(nil), r.Requester.Allergies...)
	cp.Destination = copyCoord(r.Destination)
	cp.Intake.Conscious = copyBool(r.Intake.Conscious)
	cp.Intake.Breathing = copyBool(r.Intake.Breathing)
	cp.CodeExpiresAt = copyTime(r.CodeExpiresAt)
	cp.AcceptedAt = copyTime(r.AcceptedAt)
	cp.StartedAt = copyTime(r.StartedAt)
	cp.CompletedAt = copyTime(r.CompletedAt)
	cp.CancelledAt = copyTime(r.CancelledAt)
	return &cp
}

// Resource is a vehicle with crew that can be offered a transport request.
type Resource struct {
	ID        string    `json:"id" toml:"id"`
	Loc       Coord     `json:"loc" toml:"loc"`
	Available bool      `json:"available" toml:"available"`
	Tier      Tier      `json:"tier" toml:"tier"`
	Rating    float64   `json:"rating" toml:"rating"` // 0..5
	Updated   time.Time `json:"updated" toml:"-"`
	ClaimedBy string    `json:"claimed_by,omitempty" toml:"-"` // request holding it
}

type BedType string

const (
	BedGeneral   BedType = "general"
	BedICU       BedType = "icu"
	BedEmergency BedType = "emergency"
)

func (b BedType) Valid() bool {
	return b == BedGeneral || b == BedICU || b == BedEmergency
}

type BedPool struct {
	Total     int `json:"total" toml:"total"`
	Available int `json:"available" toml:"available"`
}

type Facility struct {
	ID               string              `json:"id" toml:"id"`
	Name             string              `json:"name" toml:"name"`
	Loc              Coord               `json:"loc" toml:"loc"`
	Specialties      []string            `json:"specialties" toml:"specialties"`
	Equipment        []string            `json:"equipment" toml:"equipment"`
	Beds             map[BedType]BedPool `json:"beds" toml:"beds"`
	Rating           float64             `json:"rating" toml:"rating"`
	AcceptsEmergency bool                `json:"accepts_emergency" toml:"accepts_emergency"`
}

// Clone copies the facility including its slices and bed map.
func (f Facility) Clone() Facility {
	cp := f
	cp.Specialties = append([]string(nil), f.Specialties...)
	cp.Equipment = append([]string(nil), f.Equipment...)
	cp.Beds = make(map[BedType]BedPool, len(f.Beds))
	for k, v := range f.Beds {
		cp.Beds[k] = v
	}
	return cp
}

type ReservationState string

const (
	ReservationHeld      ReservationState = "HELD"
	ReservationConfirmed ReservationState = "CONFIRMED"
	ReservationCancelled ReservationState = "CANCELLED"
	ReservationExpired   ReservationState = "EXPIRED"
)

type Reservation struct {
	ID          string           `json:"id"`
	FacilityID  string           `json:"facility_id"`
	RequestID   string           `json:"request_id"`
	BedType     BedType          `json:"bed_type"`
	State       ReservationState `json:"state"`
	ReservedAt  time.Time        `json:"reserved_at"`
	ExpiresAt   time.Time        `json:"expires_at"`
	ConfirmedBy string           `json:"confirmed_by,omitempty"`
	Notes       string           `json:"notes,omitempty"`
	Reason      string           `json:"reason,omitempty"`
	ClosedAt    *time.Time       `json:"closed_at,omitempty"`
}

// ScoredFacility is a facility decorated for one recommendation query. Never cached.
type ScoredFacility struct {
	Facility         Facility `json:"facility"`
	DistanceKm       float64  `json:"distance_km"`
	ETAMinutes       int      `json:"eta_minutes"`
	Score            int      `json:"score"`
	BedType          BedType  `json:"bed_type"`
	MatchedSpecialty string   `json:"matched_specialty,omitempty"`
	MatchedEquipment []string `json:"matched_equipment,omitempty"`
	Recommended      bool     `json:"recommended"`
}

// Offer is what a resource receives during broadcast. It never carries the one-time code.
type Offer struct {
	RequestID  string   `json:"request_id"`
	ResourceID string   `json:"resource_id"`
	Pickup     Coord    `json:"pickup"`
	PickupAddr string   `json:"pickup_address"`
	Priority   Priority `json:"priority"`
	DistanceKm float64  `json:"distance_km"`
	ETAMinutes int      `json:"eta_minutes"`
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}

func copyCoord(c *Coord) *Coord {
	if c == nil {
		return nil
	}
	v := *c
	return &v
}
