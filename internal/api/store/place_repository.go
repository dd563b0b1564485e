package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/go-trip-planner/internal/types"
)

func (r *RepositoryImpl) GetPlace(ctx context.Context, name string) (_ *types.ShortlistItem, err error) {
	ctx, span := otel.Tracer("StoreRepo").Start(ctx, "GetPlace", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", tablePlaces),
		attribute.String("place.name", name),
	))
	defer span.End()
	start := time.Now()
	defer func() { r.finish(ctx, span, tablePlaces, "SELECT", start, err) }()

	var payload []byte
	err = r.db.QueryRow(ctx, `SELECT record FROM place_info WHERE place_name = $1`, name).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get place: %w", err)
	}

	var item types.ShortlistItem
	if err = json.Unmarshal(payload, &item); err != nil {
		return nil, fmt.Errorf("place %q: %w", name, ErrInvalidRecord)
	}
	return &item, nil
}

// SavePlace upserts the record keyed by place name.
func (r *RepositoryImpl) SavePlace(ctx context.Context, item *types.ShortlistItem) (err error) {
	ctx, span := otel.Tracer("StoreRepo").Start(ctx, "SavePlace", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", tablePlaces),
		attribute.String("place.name", item.Name),
		attribute.String("place.status", string(item.Status)),
	))
	defer span.End()
	start := time.Now()
	defer func() { r.finish(ctx, span, tablePlaces, "INSERT", start, err) }()

	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to encode place: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO place_info (place_name, place_id, place_type, status, record, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (place_name) DO UPDATE
		SET place_id = EXCLUDED.place_id, place_type = EXCLUDED.place_type, status = EXCLUDED.status,
		    record = EXCLUDED.record, updated_at = EXCLUDED.updated_at`,
		item.Name, item.PlaceID, string(item.Type), string(item.Status), payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save place: %w", err)
	}
	return nil
}
