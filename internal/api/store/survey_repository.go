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

func surveySpan(ctx context.Context, name, op, userID string) (context.Context, trace.Span) {
	return otel.Tracer("StoreRepo").Start(ctx, name, trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", op),
		attribute.String("db.sql.table", tableSurveys),
		attribute.String("user.id", userID),
	))
}

func (r *RepositoryImpl) GetConsentStatus(ctx context.Context, userID string) (_ types.ConsentStatus, err error) {
	ctx, span := surveySpan(ctx, "GetConsentStatus", "SELECT", userID)
	defer span.End()
	start := time.Now()
	defer func() { r.finish(ctx, span, tableSurveys, "SELECT", start, err) }()

	var status types.ConsentStatus
	err = r.db.QueryRow(ctx, `
		SELECT is_consented, survey_completed
		FROM user_surveys
		WHERE user_id = $1 AND (expire_at IS NULL OR expire_at > NOW())`, userID).
		Scan(&status.IsConsented, &status.SurveyCompleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.ConsentStatus{}, nil
	}
	if err != nil {
		return types.ConsentStatus{}, fmt.Errorf("failed to get consent status: %w", err)
	}
	return status, nil
}

// SaveConsent marks the user as consented and sets when the row expires.
func (r *RepositoryImpl) SaveConsent(ctx context.Context, userID, consentHash string, expireAt time.Time) (err error) {
	ctx, span := surveySpan(ctx, "SaveConsent", "INSERT", userID)
	defer span.End()
	start := time.Now()
	defer func() { r.finish(ctx, span, tableSurveys, "INSERT", start, err) }()

	_, err = r.db.Exec(ctx, `
		INSERT INTO user_surveys (user_id, is_consented, consent_hash, expire_at, updated_at)
		VALUES ($1, TRUE, $2, $3, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET is_consented = TRUE, consent_hash = EXCLUDED.consent_hash,
		    expire_at = EXCLUDED.expire_at, updated_at = NOW()`,
		userID, consentHash, expireAt)
	if err != nil {
		return fmt.Errorf("failed to save consent: %w", err)
	}
	return nil
}

// SaveSurveyResponse stores the answers and marks the survey completed. Consent is left as is.
func (r *RepositoryImpl) SaveSurveyResponse(ctx context.Context, userID string, response types.SurveyResponse) (err error) {
	ctx, span := surveySpan(ctx, "SaveSurveyResponse", "INSERT", userID)
	defer span.End()
	start := time.Now()
	defer func() { r.finish(ctx, span, tableSurveys, "INSERT", start, err) }()

	payload, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to encode survey response: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO user_surveys (user_id, survey_completed, response, updated_at)
		VALUES ($1, TRUE, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET survey_completed = TRUE, response = EXCLUDED.response, updated_at = NOW()`,
		userID, payload)
	if err != nil {
		return fmt.Errorf("failed to save survey response: %w", err)
	}
	return nil
}
