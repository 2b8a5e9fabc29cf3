package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/emergency-dispatch/internal/apperr"
	"github.com/example/emergency-dispatch/internal/models"
)

func sampleRequest() *models.TransportRequest {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &models.TransportRequest{
		ID:                 uuid.NewString(),
		Requester:          models.Requester{Name: "Asha", Contact: "+91000", Allergies: []string{"penicillin"}},
		Pickup:             models.Coord{Lat: 12.97, Lon: 77.59},
		Priority:           models.PriorityHigh,
		State:              models.StateCompleted,
		AssignedResourceID: "amb-1",
		FareQuote:          650,
		FarePaid:           500,
		CreatedAt:          now,
		CompletedAt:        &now,
	}
}

func TestMemoryArchiveRoundTrip(t *testing.T) {
	a := NewMemoryArchive()
	ctx := context.Background()
	r := sampleRequest()
	require.NoError(t, a.Save(ctx, r))

	r.Requester.Allergies[0] = "mutated"
	got, err := a.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "penicillin", got.Requester.Allergies[0], "archive keeps its own copy")
	assert.Equal(t, 1, a.Len())

	_, err = a.Get(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func setupPostgresArchive(t *testing.T) *PostgresArchive {
	t.Helper()
	dsn := os.Getenv("DISPATCH_TEST_DSN")
	if dsn == "" {
		t.Skip("DISPATCH_TEST_DSN not set; skipping DB-backed archive tests")
	}
	ctx := context.Background()
	a, err := NewPostgresArchive(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	b, err := os.ReadFile(filepath.Join("..", "..", "migrations", "001_create_transport_requests.sql"))
	require.NoError(t, err)
	_, err = a.DB().ExecContext(ctx, string(b))
	require.NoError(t, err)
	_, err = a.DB().ExecContext(ctx, "TRUNCATE TABLE transport_requests")
	require.NoError(t, err)
	return a
}

func TestPostgresArchiveUpsert(t *testing.T) {
	a := setupPostgresArchive(t)
	ctx := context.Background()
	r := sampleRequest()
	require.NoError(t, a.Save(ctx, r))
	require.NoError(t, a.Save(ctx, r), "saving twice is idempotent")

	got, err := a.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.FarePaid, got.FarePaid)
	assert.Equal(t, models.StateCompleted, got.State)

	_, err = a.Get(ctx, uuid.NewString())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
