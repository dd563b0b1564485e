package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/go-trip-planner/app/observability/metrics"
	"github.com/FACorreiaa/go-trip-planner/internal/types"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrInvalidRecord = errors.New("stored record could not be decoded")
)

const (
	tableSessions    = "planner_sessions"
	tablePlaces      = "place_info"
	tablePreferences = "user_preferences"
	tableSurveys     = "user_surveys"
)

// DBTX is the subset of pgx used by the repository. *pgxpool.Pool and pgxmock pools satisfy it.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ Repository = (*RepositoryImpl)(nil)

// Repository is the authoritative tier. Every write is an idempotent upsert on the record's natural key,
// except SaveShortlist which only updates an existing session row.
type Repository interface {
	UpsertSession(ctx context.Context, state *types.SessionState) error
	// GetSession returns ErrNotFound when no session row exists and ErrInvalidRecord when it cannot be decoded.
	GetSession(ctx context.Context, userID string, sessionID uuid.UUID) (*types.SessionState, error)
	// ListSessionsByUser returns the user's sessions, most recently updated first. Undecodable rows are skipped.
	ListSessionsByUser(ctx context.Context, userID string) ([]types.SessionState, error)
	DeleteSession(ctx context.Context, userID string, sessionID uuid.UUID) error

	SaveHistory(ctx context.Context, userID string, sessionID uuid.UUID, history []types.History) error
	GetHistory(ctx context.Context, userID string, sessionID uuid.UUID) ([]types.History, error)
	SaveShortlist(ctx context.Context, userID string, sessionID uuid.UUID, items []types.ShortlistItem) error
	GetShortlist(ctx context.Context, userID string, sessionID uuid.UUID) ([]types.ShortlistItem, error)

	GetPreference(ctx context.Context, userID string) (*types.LongTermProfile, error)
	SavePreference(ctx context.Context, profile *types.LongTermProfile) error
	DeletePreference(ctx context.Context, userID string) error

	GetPlace(ctx context.Context, name string) (*types.ShortlistItem, error)
	SavePlace(ctx context.Context, item *types.ShortlistItem) error
}

var _ SurveyRepository = (*RepositoryImpl)(nil)

// SurveyRepository keeps research consent and survey answers, one row per user.
type SurveyRepository interface {
	// GetConsentStatus reports false for both flags when the row is missing or past its expiry.
	GetConsentStatus(ctx context.Context, userID string) (types.ConsentStatus, error)
	SaveConsent(ctx context.Context, userID, consentHash string, expireAt time.Time) error
	SaveSurveyResponse(ctx context.Context, userID string, response types.SurveyResponse) error
}

type RepositoryImpl struct {
	logger  *slog.Logger
	db      DBTX
	metrics *metrics.AppMetrics
}

func NewRepository(db DBTX, logger *slog.Logger) *RepositoryImpl {
	return &RepositoryImpl{
		logger:  logger,
		db:      db,
		metrics: metrics.Get(),
	}
}

// finish records the query outcome on the span and the db metrics.
func (r *RepositoryImpl) finish(ctx context.Context, span trace.Span, table, op string, start time.Time, err error) {
	r.metrics.DbQuery(ctx, table, op, time.Since(start).Seconds(), err)
	if err != nil && !errors.Is(err, ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, op+" failed")
		return
	}
	span.SetStatus(codes.Ok, "")
}
