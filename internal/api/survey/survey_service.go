package survey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/go-trip-planner/internal/api/store"
	"github.com/FACorreiaa/go-trip-planner/internal/types"
)

// DefaultRetention is how long consent and answers are kept when no retention is configured.
const DefaultRetention = 180 * 24 * time.Hour

var (
	ErrInvalidResponse = errors.New("invalid survey response")
	ErrMissingUser     = errors.New("user id is required")
)

var _ Service = (*ServiceImpl)(nil)

// Service records research consent and the post-trip survey.
type Service interface {
	ConsentStatus(ctx context.Context, userID string) (types.ConsentStatus, error)
	SaveConsent(ctx context.Context, userID, consentHash string) error
	SaveResponse(ctx context.Context, userID string, response types.SurveyResponse) error
}

type ServiceImpl struct {
	logger    *slog.Logger
	store     store.SurveyRepository
	retention time.Duration
	now       func() time.Time
}

func NewService(st store.SurveyRepository, retention time.Duration, logger *slog.Logger) *ServiceImpl {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &ServiceImpl{
		logger:    logger,
		store:     st,
		retention: retention,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *ServiceImpl) ConsentStatus(ctx context.Context, userID string) (types.ConsentStatus, error) {
	ctx, span := otel.Tracer("SurveyService").Start(ctx, "ConsentStatus", trace.WithAttributes(
		attribute.String("user.id", userID),
	))
	defer span.End()

	if userID == "" {
		return types.ConsentStatus{}, ErrMissingUser
	}
	status, err := s.store.GetConsentStatus(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "consent lookup failed")
		return types.ConsentStatus{}, fmt.Errorf("failed to load consent status: %w", err)
	}
	return status, nil
}

// SaveConsent records consent until the retention period ends. An empty hash is stored but logged.
func (s *ServiceImpl) SaveConsent(ctx context.Context, userID, consentHash string) error {
	ctx, span := otel.Tracer("SurveyService").Start(ctx, "SaveConsent", trace.WithAttributes(
		attribute.String("user.id", userID),
	))
	defer span.End()

	if userID == "" {
		return ErrMissingUser
	}
	if consentHash == "" {
		s.logger.WarnContext(ctx, "Consent saved without a consent hash", slog.String("user_id", userID))
	}
	if err := s.store.SaveConsent(ctx, userID, consentHash, s.now().Add(s.retention)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save consent failed")
		return fmt.Errorf("failed to save consent: %w", err)
	}
	s.logger.InfoContext(ctx, "Research consent recorded", slog.String("user_id", userID))
	return nil
}

func (s *ServiceImpl) SaveResponse(ctx context.Context, userID string, response types.SurveyResponse) error {
	ctx, span := otel.Tracer("SurveyService").Start(ctx, "SaveResponse", trace.WithAttributes(
		attribute.String("user.id", userID),
	))
	defer span.End()

	if userID == "" {
		return ErrMissingUser
	}
	if err := response.Validate(); err != nil {
		span.SetStatus(codes.Error, "invalid response")
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if err := s.store.SaveSurveyResponse(ctx, userID, response); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save response failed")
		return fmt.Errorf("failed to save survey response: %w", err)
	}
	return nil
}
