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

func preferenceSpan(ctx context.Context, name, op, userID string) (context.Context, trace.Span) {
	return otel.Tracer("StoreRepo").Start(ctx, name, trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", op),
		attribute.String("db.sql.table", tablePreferences),
		attribute.String("user.id", userID),
	))
}

func (r *RepositoryImpl) GetPreference(ctx context.Context, userID string) (_ *types.LongTermProfile, err error) {
	ctx, span := preferenceSpan(ctx, "GetPreference", "SELECT", userID)
	defer span.End()
	start := time.Now()
	defer func() { r.finish(ctx, span, tablePreferences, "SELECT", start, err) }()

	var payload []byte
	err = r.db.QueryRow(ctx, `SELECT profile FROM user_preferences WHERE user_id = $1`, userID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get preference: %w", err)
	}

	profile := types.NewLongTermProfile(userID)
	if err = json.Unmarshal(payload, profile); err != nil {
		return nil, fmt.Errorf("preference of %s: %w", userID, ErrInvalidRecord)
	}
	return profile, nil
}

func (r *RepositoryImpl) SavePreference(ctx context.Context, profile *types.LongTermProfile) (err error) {
	ctx, span := preferenceSpan(ctx, "SavePreference", "INSERT", profile.UserID)
	defer span.End()
	start := time.Now()
	defer func() { r.finish(ctx, span, tablePreferences, "INSERT", start, err) }()

	payload, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to encode preference: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO user_preferences (user_id, profile, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET profile = EXCLUDED.profile, updated_at = EXCLUDED.updated_at`,
		profile.UserID, payload, profile.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save preference: %w", err)
	}
	return nil
}

// DeletePreference is idempotent.
func (r *RepositoryImpl) DeletePreference(ctx context.Context, userID string) (err error) {
	ctx, span := preferenceSpan(ctx, "DeletePreference", "DELETE", userID)
	defer span.End()
	start := time.Now()
	defer func() { r.finish(ctx, span, tablePreferences, "DELETE", start, err) }()

	if _, err = r.db.Exec(ctx, `DELETE FROM user_preferences WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete preference: %w", err)
	}
	return nil
}
