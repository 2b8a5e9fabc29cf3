package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/emergency-dispatch/internal/models"
)

// fakeFleet fails the first failN upserts.
type fakeFleet struct {
	failN int
	calls int
	last  models.Resource
}

func (f *fakeFleet) Upsert(_ context.Context, r models.Resource) error {
	f.calls++
	if f.calls <= f.failN {
		return errors.New("redis down")
	}
	f.last = r
	return nil
}

func TestUpsertWithRetrySucceedsAfterRetries(t *testing.T) {
	f := &fakeFleet{failN: 2}
	start := time.Now()
	err := upsertWithRetry(context.Background(), f, models.Resource{ID: "amb-1"}, 3, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 3, f.calls)
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond, "backs off between attempts")
}

func TestUpsertWithRetryFailsWhenExhausted(t *testing.T) {
	f := &fakeFleet{failN: 5}
	err := upsertWithRetry(context.Background(), f, models.Resource{ID: "amb-1"}, 3, time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis down")
	assert.Equal(t, 3, f.calls)
}

func TestUpsertWithRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := upsertWithRetry(ctx, &fakeFleet{failN: 5}, models.Resource{ID: "amb-1"}, 3, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHandleMessage(t *testing.T) {
	f := &fakeFleet{}
	err := handleMessage(context.Background(), f, []byte(`{"id":"amb-9","loc":{"lat":12.97,"lon":77.59},"tier":"ADVANCED","rating":4.4,"available":true}`))
	require.NoError(t, err)
	assert.Equal(t, "amb-9", f.last.ID)
	assert.Equal(t, models.TierAdvanced, f.last.Tier)

	assert.ErrorIs(t, handleMessage(context.Background(), f, []byte(`{not json`)), errInvalidMessage)
	assert.ErrorIs(t, handleMessage(context.Background(), f, []byte(`{"id":"","loc":{"lat":1,"lon":1}}`)), errInvalidMessage)
	assert.ErrorIs(t, handleMessage(context.Background(), f, []byte(`{"id":"x","loc":{"lat":1,"lon":1},"tier":"JETPACK"}`)), errInvalidMessage)

	f = &fakeFleet{}
	err = handleMessage(context.Background(), f, []byte(`{"id":"amb-10","loc":{"lat":12.97,"lon":77.59},"rating":4}`))
	assert.ErrorIs(t, err, errInvalidMessage)
	assert.Contains(t, err.Error(), "no tier")
	assert.Zero(t, f.calls, "an untiered resource is never stored")
}
