package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "emergency_dispatch"

var (
	RequestsCreated = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "requests_created_total", Help: "Transport requests created, by priority"}, []string{"priority"})
	Transitions     = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "request_transitions_total", Help: "Committed request state transitions"}, []string{"to"})
	AcceptConflicts = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "accept_conflicts_total", Help: "Accept attempts rejected because the request or resource was taken"})
	OffersSent      = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "offers_sent_total", Help: "Offers broadcast to resources"}, []string{"outcome"})
	NoCandidates    = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "broadcast_no_candidates_total", Help: "Broadcast attempts that found no eligible resource"})
	CodeChecks      = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "code_verifications_total", Help: "One-time code verifications"}, []string{"outcome"})
	Notifications   = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "notifications_total", Help: "Notifications handed to the notification port"}, []string{"template", "outcome"})
	Settlements     = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "settlements_total", Help: "Settlement confirmations"}, []string{"outcome"})
	ActiveRequests  = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "active_requests", Help: "Requests held in memory"})
	AcceptLatency   = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "accept_latency_seconds", Help: "Time from request creation to acceptance", Buckets: prometheus.ExponentialBuckets(1, 2, 10)})

	ReservationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "bed_reservations_total", Help: "Bed reservation transitions"}, []string{"outcome"})

	LocationUpdates = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "resource_location_updates_total", Help: "Resource location updates received"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
