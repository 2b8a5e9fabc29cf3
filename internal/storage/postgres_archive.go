package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/example/emergency-dispatch/internal/apperr"
	"github.com/example/emergency-dispatch/internal/models"
)

type PostgresArchive struct {
	db *sql.DB
}

func NewPostgresArchive(ctx context.Context, dsn string) (*PostgresArchive, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresArchive{db: db}, nil
}

func (p *PostgresArchive) DB() *sql.DB { return p.db }

func (p *PostgresArchive) Close() error { return p.db.Close() }

// Save upserts so that a retried archive pass stays idempotent.
func (p *PostgresArchive) Save(ctx context.Context, r *models.TransportRequest) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode request %s: %w", r.ID, err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO transport_requests (
			id, priority, state, assigned_resource_id,
			pickup_lat, pickup_lon, fare_quote, fare_paid, cancel_reason,
			created_at, accepted_at, started_at, completed_at, cancelled_at, payload
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			assigned_resource_id = EXCLUDED.assigned_resource_id,
			fare_paid = EXCLUDED.fare_paid,
			cancel_reason = EXCLUDED.cancel_reason,
			completed_at = EXCLUDED.completed_at,
			cancelled_at = EXCLUDED.cancelled_at,
			payload = EXCLUDED.payload`,
		r.ID, string(r.Priority), string(r.State), nullString(r.AssignedResourceID),
		r.Pickup.Lat, r.Pickup.Lon, r.FareQuote, r.FarePaid, nullString(r.CancelReason),
		r.CreatedAt, r.AcceptedAt, r.StartedAt, r.CompletedAt, r.CancelledAt, payload,
	)
	return err
}

func (p *PostgresArchive) Get(ctx context.Context, id string) (*models.TransportRequest, error) {
	var payload []byte
	err := p.db.QueryRowContext(ctx, `SELECT payload FROM transport_requests WHERE id = $1`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("request %s", id)
	}
	if err != nil {
		return nil, err
	}
	var r models.TransportRequest
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, fmt.Errorf("decode request %s: %w", id, err)
	}
	return &r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
