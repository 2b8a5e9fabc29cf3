package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/emergency-dispatch/internal/apperr"
	"github.com/example/emergency-dispatch/internal/coordinator"
	"github.com/example/emergency-dispatch/internal/dispatch"
	"github.com/example/emergency-dispatch/internal/facility"
	"github.com/example/emergency-dispatch/internal/geo"
	"github.com/example/emergency-dispatch/internal/models"
)

// LocationPublisher fans resource positions out to the location consumer.
type LocationPublisher interface {
	PublishLocation(ctx context.Context, r models.Resource) error
}

type Deps struct {
	Facilities  *facility.Registry
	Coordinator *coordinator.Service
	Fleet       geo.Fleet
	Locations   LocationPublisher // optional
	WSReg       *dispatch.WSRegistry
	Logger      *slog.Logger
}

type Server struct {
	facilities  *facility.Registry
	coordinator *coordinator.Service
	fleet       geo.Fleet
	locations   LocationPublisher
	wsReg       *dispatch.WSRegistry
	logger      *slog.Logger
	mux         *mux.Router
}

func NewServer(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	s := &Server{
		facilities:  d.Facilities,
		coordinator: d.Coordinator,
		fleet:       d.Fleet,
		locations:   d.Locations,
		wsReg:       d.WSReg,
		logger:      d.Logger,
		mux:         mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/triage", s.handleTriage).Methods(http.MethodPost)

	api.HandleFunc("/facilities/recommend", s.handleRecommend).Methods(http.MethodPost)
	api.HandleFunc("/reservations", s.handleReserve).Methods(http.MethodPost)
	api.HandleFunc("/reservations/{id}", s.handleGetReservation).Methods(http.MethodGet)
	api.HandleFunc("/reservations/{id}/confirm", s.handleConfirmArrival).Methods(http.MethodPost)
	api.HandleFunc("/reservations/{id}/cancel", s.handleCancelReservation).Methods(http.MethodPost)

	api.HandleFunc("/requests", s.handleCreateRequest).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}", s.handleGetRequest).Methods(http.MethodGet)
	api.HandleFunc("/requests/{id}/accept", s.handleAccept).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}/code", s.handleIssueCode).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}/verify", s.handleVerifyCode).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}/complete", s.handleComplete).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}/cancel", s.handleCancelRequest).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}/rebroadcast", s.handleRebroadcast).Methods(http.MethodPost)

	s.mux.HandleFunc("/internal/resources", s.handleResourceUpdate).Methods(http.MethodPost)
	s.mux.HandleFunc("/ws/resources/{resource_id}", s.handleWS).Methods(http.MethodGet)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.Validation("malformed body: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

var errorStatus = []struct {
	kind   error
	name   string
	status int
}{
	{apperr.ErrValidation, "validation", http.StatusBadRequest},
	{apperr.ErrNotFound, "not_found", http.StatusNotFound},
	{apperr.ErrConflict, "conflict", http.StatusConflict},
	{apperr.ErrExpired, "expired", http.StatusGone},
	{apperr.ErrNoCandidates, "no_candidates", http.StatusServiceUnavailable},
	{apperr.ErrInvalidCode, "invalid_code", http.StatusUnprocessableEntity},
	{apperr.ErrSettlement, "settlement", http.StatusBadGateway},
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	for _, e := range errorStatus {
		if errors.Is(err, e.kind) {
			writeJSON(w, e.status, errorBody{Error: err.Error(), Kind: e.name})
			return
		}
	}
	s.logger.Error("request failed", "route", routeTemplate(r), "request_id", requestIDFromContext(r.Context()), "err", err)
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Kind: "internal"})
}

func newID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
