package coordinator

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/emergency-dispatch/internal/apperr"
	"github.com/example/emergency-dispatch/internal/facility"
	"github.com/example/emergency-dispatch/internal/models"
	"github.com/example/emergency-dispatch/internal/triage"
)

func hospital(id string, icuAvailable int) models.Facility {
	return models.Facility{
		ID:          id,
		Name:        "Hospital " + id,
		Loc:         models.Coord{Lat: 12.98, Lon: 77.60},
		Specialties: []string{"cardiac"},
		Equipment:   []string{"cath_lab", "icu", "ventilators"},
		Beds: map[models.BedType]models.BedPool{
			models.BedICU: {Total: 10, Available: icuAvailable},
		},
		Rating:           4,
		AcceptsEmergency: true,
	}
}

func TestCardiacEmergencyEndToEnd(t *testing.T) {
	ctx := context.Background()
	cmd := cardiacCommand()

	priority := triage.Classify(cmd.Intake)
	require.Contains(t, []models.Priority{models.PriorityCritical, models.PriorityHigh}, priority)

	reg := facility.NewRegistry(facility.Options{})
	require.NoError(t, reg.Register(hospital("full", 0)))
	require.NoError(t, reg.Register(hospital("open", 5)))
	ranked := reg.Recommend(ctx, facility.RecommendQuery{Location: cmd.Pickup, Need: "cardiac", Priority: priority})
	require.Len(t, ranked, 2)
	assert.Equal(t, "open", ranked[0].Facility.ID)
	assert.True(t, ranked[0].Recommended)
	assert.Greater(t, ranked[0].Score, ranked[1].Score)
	assert.Equal(t, 60, ranked[0].Score-ranked[1].Score, "bed ratio plus the empty-pool penalty")

	h := newHarness(t)
	h.addResource(t, "amb-a", 1, models.TierAdvanced)
	h.addResource(t, "amb-b", 1.2, models.TierCriticalCare)
	req, err := h.svc.Create(ctx, cmd)
	require.NoError(t, err)
	require.Equal(t, models.StateBroadcasting, req.State)

	res, err := reg.Reserve(ctx, facility.ReserveCommand{
		FacilityID: ranked[0].Facility.ID,
		BedType:    ranked[0].BedType,
		RequestID:  req.ID,
		ETAMinutes: ranked[0].ETAMinutes,
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{"amb-a", "amb-b"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = h.svc.Accept(ctx, AcceptCommand{RequestID: req.ID, ResourceID: id})
		}()
	}
	wg.Wait()
	var winner string
	for i, id := range []string{"amb-a", "amb-b"} {
		if errs[i] == nil {
			require.Empty(t, winner, "two resources won the same request")
			winner = id
		} else {
			assert.ErrorIs(t, errs[i], apperr.ErrConflict)
		}
	}
	require.NotEmpty(t, winner)

	_, err = h.svc.IssueCode(ctx, req.ID)
	require.NoError(t, err)
	code := h.notes.lastCode(t)
	_, err = h.svc.VerifyCode(ctx, VerifyCommand{RequestID: req.ID, ResourceID: winner, Code: wrongCode(code)})
	assert.ErrorIs(t, err, apperr.ErrInvalidCode)
	_, err = h.svc.VerifyCode(ctx, VerifyCommand{RequestID: req.ID, ResourceID: winner, Code: code})
	require.NoError(t, err)

	done, err := h.svc.Complete(ctx, CompleteCommand{RequestID: req.ID, FarePaid: 500})
	require.NoError(t, err)
	assert.Equal(t, models.StateCompleted, done.State)
	assert.Equal(t, winner, done.AssignedResourceID)
	assert.Equal(t, int64(500), done.FarePaid)
	assert.True(t, h.available(t, winner))

	arrived, err := reg.ConfirmArrival(ctx, res.ID, "triage-nurse", "admitted to ICU")
	require.NoError(t, err)
	assert.Equal(t, models.ReservationConfirmed, arrived.State)
}
