package coordinator

import (
	"time"

	"github.com/example/emergency-dispatch/internal/apperr"
	"github.com/example/emergency-dispatch/internal/models"
	"github.com/example/emergency-dispatch/internal/observability"
)

// allowedTransitions is the request lifecycle as code.
// CODE_ISSUED loops on itself when a fresh code is requested.
var allowedTransitions = map[models.State][]models.State{
	models.StateCreated:      {models.StateBroadcasting, models.StateCancelled},
	models.StateBroadcasting: {models.StateAccepted, models.StateCancelled},
	models.StateAccepted:     {models.StateCodeIssued, models.StateCancelled},
	models.StateCodeIssued:   {models.StateCodeIssued, models.StateInProgress, models.StateCancelled},
	models.StateInProgress:   {models.StateCompleted, models.StateCancelled},
}

func canTransition(from, to models.State) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// advance moves r to the next state. The caller holds the entry lock.
func advance(r *models.TransportRequest, to models.State, now time.Time) error {
	if !canTransition(r.State, to) {
		return apperr.Conflict("request %s cannot move from %s to %s", r.ID, r.State, to)
	}
	r.State = to
	r.UpdatedAt = now
	observability.Transitions.WithLabelValues(string(to)).Inc()
	return nil
}
