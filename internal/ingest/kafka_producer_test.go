package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/emergency-dispatch/internal/models"
)

type fakeWriter struct {
	msgs     []kafka.Message
	err      error
	deadline bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	_, f.deadline = ctx.Deadline()
	f.msgs = append(f.msgs, msgs...)
	return f.err
}

func (f *fakeWriter) Close() error { return nil }

func TestPublishLocation(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaProducer{writer: w, timeout: time.Second}
	r := models.Resource{ID: "amb-1", Loc: models.Coord{Lat: 1, Lon: 2}, Tier: models.TierAdvanced, Available: true}
	require.NoError(t, p.PublishLocation(context.Background(), r))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "amb-1", string(w.msgs[0].Key))
	assert.True(t, w.deadline, "writes are bounded by a timeout")

	var got models.Resource
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, models.TierAdvanced, got.Tier)
	assert.Equal(t, r.Loc, got.Loc)
}

func TestPublishPropagatesError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := &KafkaProducer{writer: w, timeout: time.Second}
	assert.EqualError(t, p.Publish(context.Background(), "k", map[string]string{"a": "b"}), "broker down")
}
