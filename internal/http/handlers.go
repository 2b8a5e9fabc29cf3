package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/emergency-dispatch/internal/apperr"
	"github.com/example/emergency-dispatch/internal/coordinator"
	"github.com/example/emergency-dispatch/internal/facility"
	"github.com/example/emergency-dispatch/internal/models"
	"github.com/example/emergency-dispatch/internal/observability"
	"github.com/example/emergency-dispatch/internal/triage"
)

type triageResponse struct {
	Priority     models.Priority `json:"priority"`
	Score        int             `json:"score"`
	RequiredTier models.Tier     `json:"required_tier"`
}

func (s *Server) handleTriage(w http.ResponseWriter, r *http.Request) {
	var in models.Intake
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	score := triage.Score(in)
	p := triage.FromScore(score)
	writeJSON(w, http.StatusOK, triageResponse{Priority: p, Score: score, RequiredTier: triage.RequiredTier(p)})
}

type recommendRequest struct {
	Location    models.Coord    `json:"location"`
	Need        string          `json:"need"`
	Priority    models.Priority `json:"priority"`
	Intake      *models.Intake  `json:"intake,omitempty"`
	BedTypeHint models.BedType  `json:"bed_type_hint"`
	Limit       int             `json:"limit"`
}

func parsePriority(p models.Priority) (models.Priority, bool) {
	v := models.Priority(strings.ToUpper(strings.TrimSpace(string(p))))
	switch v {
	case models.PriorityCritical, models.PriorityHigh, models.PriorityMedium, models.PriorityLow:
		return v, true
	}
	return "", false
}

// handleRecommend ranks facilities. Priority may be given directly or derived from an intake.
func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	var req recommendRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if !req.Location.Valid() {
		s.writeError(w, r, apperr.Validation("location out of range"))
		return
	}
	if req.BedTypeHint != "" && !req.BedTypeHint.Valid() {
		s.writeError(w, r, apperr.Validation("unknown bed type %q", req.BedTypeHint))
		return
	}
	priority, ok := parsePriority(req.Priority)
	switch {
	case ok:
	case req.Priority == "" && req.Intake != nil:
		priority = triage.Classify(*req.Intake)
	default:
		s.writeError(w, r, apperr.Validation("priority or intake is required"))
		return
	}
	ranked := s.facilities.Recommend(r.Context(), facility.RecommendQuery{
		Location:    req.Location,
		Need:        req.Need,
		Priority:    priority,
		BedTypeHint: req.BedTypeHint,
		Limit:       req.Limit,
	})
	writeJSON(w, http.StatusOK, map[string]any{"priority": priority, "facilities": ranked})
}

type reserveRequest struct {
	FacilityID string         `json:"facility_id"`
	BedType    models.BedType `json:"bed_type"`
	RequestID  string         `json:"request_id"`
	ETAMinutes int            `json:"eta_minutes"`
}

func (s *Server) handleReserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.facilities.Reserve(r.Context(), facility.ReserveCommand(req))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleGetReservation(w http.ResponseWriter, r *http.Request) {
	res, err := s.facilities.GetReservation(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type confirmRequest struct {
	ConfirmedBy string `json:"confirmed_by"`
	Notes       string `json:"notes"`
}

func (s *Server) handleConfirmArrival(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.facilities.ConfirmArrival(r.Context(), mux.Vars(r)["id"], req.ConfirmedBy, req.Notes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleCancelReservation(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.facilities.CancelReservation(r.Context(), mux.Vars(r)["id"], req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type createRequest struct {
	Requester   models.Requester `json:"requester"`
	Pickup      models.Coord     `json:"pickup"`
	PickupAddr  string           `json:"pickup_address"`
	Destination *models.Coord    `json:"destination,omitempty"`
	Intake      models.Intake    `json:"intake"`
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	tr, err := s.coordinator.Create(r.Context(), coordinator.CreateCommand(req))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tr)
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	tr, err := s.coordinator.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tr)
}

type acceptRequest struct {
	ResourceID string `json:"resource_id"`
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	var req acceptRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	tr, err := s.coordinator.Accept(r.Context(), coordinator.AcceptCommand{RequestID: mux.Vars(r)["id"], ResourceID: req.ResourceID})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tr)
}

type issueCodeResponse struct {
	ExpiresAt time.Time `json:"expires_at"`
}

// handleIssueCode never echoes the code; it goes to the requester through the notifier.
func (s *Server) handleIssueCode(w http.ResponseWriter, r *http.Request) {
	expiresAt, err := s.coordinator.IssueCode(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, issueCodeResponse{ExpiresAt: expiresAt})
}

type verifyRequest struct {
	ResourceID string `json:"resource_id"`
	Code       string `json:"code"`
}

func (s *Server) handleVerifyCode(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	tr, err := s.coordinator.VerifyCode(r.Context(), coordinator.VerifyCommand{
		RequestID:  mux.Vars(r)["id"],
		ResourceID: req.ResourceID,
		Code:       req.Code,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tr)
}

type completeRequest struct {
	FarePaid int64 `json:"fare_paid"`
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	tr, err := s.coordinator.Complete(r.Context(), coordinator.CompleteCommand{RequestID: mux.Vars(r)["id"], FarePaid: req.FarePaid})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tr)
}

func (s *Server) handleCancelRequest(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	tr, err := s.coordinator.Cancel(r.Context(), coordinator.CancelCommand{RequestID: mux.Vars(r)["id"], Reason: req.Reason})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tr)
}

func (s *Server) handleRebroadcast(w http.ResponseWriter, r *http.Request) {
	tr, err := s.coordinator.Rebroadcast(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tr)
}

type resourceUpdate struct {
	ID        string       `json:"id"`
	Loc       models.Coord `json:"loc"`
	Tier      models.Tier  `json:"tier"`
	Rating    float64      `json:"rating"`
	Available *bool        `json:"available,omitempty"`
}

// handleResourceUpdate records a resource position. Availability only applies to resources the
// fleet has not seen yet; after that it is owned by request assignment.
func (s *Server) handleResourceUpdate(w http.ResponseWriter, r *http.Request) {
	var req resourceUpdate
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.ID) == "" || !req.Loc.Valid() || req.Tier == 0 {
		s.writeError(w, r, apperr.Validation("resource id, valid loc and tier are required"))
		return
	}
	if req.Rating < 0 || req.Rating > 5 {
		s.writeError(w, r, apperr.Validation("rating must be between 0 and 5"))
		return
	}
	res := models.Resource{ID: req.ID, Loc: req.Loc, Tier: req.Tier, Rating: req.Rating, Available: true}
	if req.Available != nil {
		res.Available = *req.Available
	}
	if err := s.fleet.Upsert(r.Context(), res); err != nil {
		s.writeError(w, r, err)
		return
	}
	observability.LocationUpdates.Inc()
	if s.locations != nil {
		if err := s.locations.PublishLocation(r.Context(), res); err != nil {
			s.logger.Warn("publish location failed", "resource_id", res.ID, "err", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
