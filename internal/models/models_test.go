package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCloneDetachesPointers(t *testing.T) {
	conscious, breathing := true, true
	now := time.Now()
	r := &TransportRequest{
		ID:            "req-1",
		Intake:        Intake{Category: "CARDIAC", Conscious: &conscious, Breathing: &breathing},
		Destination:   &Coord{Lat: 1, Lon: 2},
		OfferedTo:     []string{"amb-1"},
		CodeExpiresAt: &now,
	}

	cp := r.Clone()
	conscious, breathing = false, false
	r.Destination.Lat = 9
	r.OfferedTo[0] = "amb-2"
	*r.CodeExpiresAt = now.Add(time.Hour)

	assert.True(t, *cp.Intake.Conscious)
	assert.True(t, *cp.Intake.Breathing)
	assert.Equal(t, 1.0, cp.Destination.Lat)
	assert.Equal(t, []string{"amb-1"}, cp.OfferedTo)
	assert.Equal(t, now, *cp.CodeExpiresAt)

	empty := (&TransportRequest{}).Clone()
	assert.Nil(t, empty.Intake.Conscious)
	assert.Nil(t, empty.Destination)
}
