package preference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	generativeAI "github.com/FACorreiaa/go-trip-planner/internal/api/generative_ai"
	"github.com/FACorreiaa/go-trip-planner/internal/api/store"
	"github.com/FACorreiaa/go-trip-planner/internal/types"
)

const (
	maxTagsPerPlace = 2
	// sessions in a row a tag must appear in to be verified
	verifyStreak = 2
	// sessions in a row a verified tag must be missing from to decay
	decayStreak = 3
)

type Store interface {
	ListSessionsByUser(ctx context.Context, userID string) ([]types.SessionState, error)
	GetPreference(ctx context.Context, userID string) (*types.LongTermProfile, error)
	SavePreference(ctx context.Context, profile *types.LongTermProfile) error
	DeletePreference(ctx context.Context, userID string) error
}

type PlaceResolver interface {
	Resolve(ctx context.Context, name, description, reason string) (*types.ShortlistItem, error)
}

// Shortlister applies shortlist side effects of behaviours to the session.
type Shortlister interface {
	AddToShortlist(ctx context.Context, state *types.SessionState, item types.ShortlistItem) error
	RemoveFromShortlist(ctx context.Context, state *types.SessionState, name string) (bool, error)
}

// Input carries styles the user stated directly, independent of any place.
type Input struct {
	Preferences []string
	Avoids      []string
}

var _ Service = (*ServiceImpl)(nil)

type Service interface {
	UpdateShortTerm(ctx context.Context, state *types.SessionState, input Input) (*types.SessionState, error)
	RecomputeLongTerm(ctx context.Context, userID string) (*types.LongTermProfile, error)
	GetLongTerm(ctx context.Context, userID string) (*types.LongTermProfile, error)
	ClearLongTerm(ctx context.Context, userID string) error
}

type ServiceImpl struct {
	logger    *slog.Logger
	store     Store
	lang      generativeAI.LanguageService
	places    PlaceResolver
	shortlist Shortlister
	steepness float64
}

func NewService(st Store, lang generativeAI.LanguageService, places PlaceResolver, shortlist Shortlister, steepness float64, logger *slog.Logger) *ServiceImpl {
	if steepness <= 0 {
		steepness = DefaultSteepness
	}
	return &ServiceImpl{
		logger:    logger,
		store:     st,
		lang:      lang,
		places:    places,
		shortlist: shortlist,
		steepness: steepness,
	}
}

// UpdateShortTerm folds pending behaviours and stated styles into the session profile and clears
// the pending list. The state is modified in place and returned; persisting it is up to the caller.
func (s *ServiceImpl) UpdateShortTerm(ctx context.Context, state *types.SessionState, input Input) (*types.SessionState, error) {
	ctx, span := otel.Tracer("PreferenceService").Start(ctx, "UpdateShortTerm", trace.WithAttributes(
		attribute.String("session.id", state.SessionID.String()),
		attribute.Int("behaviors.count", len(state.PendingBehaviors)),
	))
	defer span.End()

	profile := &state.ShortTermProfile
	if profile.Preferences == nil {
		profile.Preferences = make(map[string]types.TagWeight)
	}

	places, scores := ScorePlaces(state.PendingBehaviors, s.steepness)
	if len(places) > 0 {
		tagsByPlace, err := s.styleTags(ctx, places)
		if err != nil {
			s.logger.WarnContext(ctx, "Style tags unavailable, keeping profile as merged so far", slog.Any("error", err))
		}
		for _, name := range places {
			for _, tag := range tagsByPlace[name] {
				if profile.Avoiding(tag) {
					continue
				}
				existing, ok := profile.Preferences[tag]
				profile.Preferences[tag] = types.TagWeight{Tag: tag, Weight: MergeWeight(existing, ok, scores[name])}
			}
		}
	}

	for _, raw := range input.Preferences {
		tag := normalizeTag(raw)
		if tag == "" || profile.Avoiding(tag) {
			continue
		}
		existing, ok := profile.Preferences[tag]
		profile.Preferences[tag] = types.TagWeight{Tag: tag, Weight: MergeWeight(existing, ok, ExplicitPrior)}
	}

	var avoids []string
	for _, raw := range input.Avoids {
		if tag := normalizeTag(raw); tag != "" {
			avoids = append(avoids, tag)
		}
	}
	profile.Avoids = types.UnionStrings(profile.Avoids, avoids)
	for _, tag := range profile.Avoids {
		delete(profile.Preferences, tag)
	}

	s.applyShortlistEvents(ctx, state)
	state.PendingBehaviors = nil
	return state, nil
}

func (s *ServiceImpl) styleTags(ctx context.Context, places []string) (map[string][]string, error) {
	raw, err := s.lang.Generate(ctx, types.PromptStyleTags, map[string]any{"places": places})
	if err != nil {
		return nil, err
	}
	var out struct {
		Tags map[string][]string `json:"tags"`
	}
	if err := generativeAI.DecodeJSON(raw, &out); err != nil {
		return nil, err
	}

	result := make(map[string][]string, len(out.Tags))
	for place, tags := range out.Tags {
		var clean []string
		for _, t := range tags {
			if t = normalizeTag(t); t != "" {
				clean = types.UnionStrings(clean, []string{t})
			}
			if len(clean) == maxTagsPerPlace {
				break
			}
		}
		result[place] = clean
	}
	return result, nil
}

func (s *ServiceImpl) applyShortlistEvents(ctx context.Context, state *types.SessionState) {
	for _, b := range state.PendingBehaviors {
		switch b.EventType {
		case types.EventShortlist:
			item, err := s.places.Resolve(ctx, b.PlaceName, "", "")
			if err != nil {
				s.logger.WarnContext(ctx, "Cannot shortlist unresolved place", slog.String("place", b.PlaceName), slog.Any("error", err))
				continue
			}
			if err := s.shortlist.AddToShortlist(ctx, state, *item); err != nil {
				s.logger.WarnContext(ctx, "Failed to add to shortlist", slog.String("place", b.PlaceName), slog.Any("error", err))
			}
		case types.EventUnshortlist:
			if _, err := s.shortlist.RemoveFromShortlist(ctx, state, b.PlaceName); err != nil {
				s.logger.WarnContext(ctx, "Failed to remove from shortlist", slog.String("place", b.PlaceName), slog.Any("error", err))
			}
		}
	}
}

func normalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

// RecomputeLongTerm scans the user's sessions newest first. A tag present in the two most recent
// sessions becomes verified; a verified tag missing from the three most recent sessions decays.
func (s *ServiceImpl) RecomputeLongTerm(ctx context.Context, userID string) (*types.LongTermProfile, error) {
	ctx, span := otel.Tracer("PreferenceService").Start(ctx, "RecomputeLongTerm", trace.WithAttributes(
		attribute.String("user.id", userID),
	))
	defer span.End()

	sessions, err := s.store.ListSessionsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to scan sessions: %w", err)
	}
	previous, err := s.GetLongTerm(ctx, userID)
	if err != nil {
		return nil, err
	}

	profile := Recompute(previous, sessions)
	profile.UpdatedAt = time.Now().UTC()
	if err := s.store.SavePreference(ctx, profile); err != nil {
		return nil, fmt.Errorf("failed to save long term profile: %w", err)
	}
	span.SetAttributes(
		attribute.Int("sessions.count", len(sessions)),
		attribute.Int("verified.count", len(profile.VerifiedPreferences)),
		attribute.Int("decaying.count", len(profile.DecayingPreferences)),
	)
	return profile, nil
}

// Recompute derives a long-term profile from the previous one and sessions ordered newest first.
// Sessions without any short-term signal, such as the one just opened, are neither hits nor misses.
func Recompute(previous *types.LongTermProfile, sessions []types.SessionState) *types.LongTermProfile {
	sessions = withSignal(sessions)
	profile := types.NewLongTermProfile(previous.UserID)
	profile.Avoids = previous.Avoids

	var tags []string
	for _, st := range sessions {
		profile.Avoids = types.UnionStrings(profile.Avoids, st.ShortTermProfile.Avoids)
		for tag := range st.ShortTermProfile.Preferences {
			tags = append(tags, tag)
		}
	}
	for tag := range previous.VerifiedPreferences {
		tags = append(tags, tag)
	}
	for tag := range previous.DecayingPreferences {
		tags = append(tags, tag)
	}
	tags = types.UnionStrings(nil, tags)

	for _, tag := range tags {
		if contains(profile.Avoids, tag) {
			continue
		}
		streak, missed, sum := 0, 0, 0.0
		for _, st := range sessions {
			tw, ok := st.ShortTermProfile.Preferences[tag]
			if !ok {
				break
			}
			streak++
			sum += tw.Weight
		}
		if streak == 0 {
			for _, st := range sessions {
				if _, ok := st.ShortTermProfile.Preferences[tag]; ok {
					break
				}
				missed++
			}
		}

		verified, wasVerified := previous.VerifiedPreferences[tag]
		decaying, wasDecaying := previous.DecayingPreferences[tag]
		switch {
		case streak >= verifyStreak:
			profile.VerifiedPreferences[tag] = types.TagWeight{
				Tag:                 tag,
				Weight:              types.ClampWeight(sum / float64(streak)),
				ConsecutiveSessions: streak,
			}
		case wasVerified && missed >= decayStreak:
			profile.DecayingPreferences[tag] = types.TagWeight{Tag: tag, Weight: verified.Weight}
			profile.MissedSessions[tag] = missed
		case wasVerified:
			verified.ConsecutiveSessions = streak
			profile.VerifiedPreferences[tag] = verified
			if missed > 0 {
				profile.MissedSessions[tag] = missed
			}
		case wasDecaying:
			decaying.ConsecutiveSessions = streak
			profile.DecayingPreferences[tag] = decaying
			profile.MissedSessions[tag] = missed
		}
	}
	return profile
}

func withSignal(sessions []types.SessionState) []types.SessionState {
	out := make([]types.SessionState, 0, len(sessions))
	for _, st := range sessions {
		if len(st.ShortTermProfile.Preferences) == 0 && len(st.ShortTermProfile.Avoids) == 0 {
			continue
		}
		out = append(out, st)
	}
	return out
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// GetLongTerm returns the stored profile, or an empty one when the user has none or it cannot be read.
func (s *ServiceImpl) GetLongTerm(ctx context.Context, userID string) (*types.LongTermProfile, error) {
	profile, err := s.store.GetPreference(ctx, userID)
	switch {
	case err == nil:
		if profile.VerifiedPreferences == nil {
			profile.VerifiedPreferences = make(map[string]types.TagWeight)
		}
		if profile.DecayingPreferences == nil {
			profile.DecayingPreferences = make(map[string]types.TagWeight)
		}
		if profile.MissedSessions == nil {
			profile.MissedSessions = make(map[string]int)
		}
		return profile, nil
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrInvalidRecord):
		return types.NewLongTermProfile(userID), nil
	default:
		s.logger.WarnContext(ctx, "Long term profile unavailable", slog.String("user_id", userID), slog.Any("error", err))
		return types.NewLongTermProfile(userID), nil
	}
}

func (s *ServiceImpl) ClearLongTerm(ctx context.Context, userID string) error {
	if err := s.store.DeletePreference(ctx, userID); err != nil {
		return fmt.Errorf("failed to clear long term profile: %w", err)
	}
	return nil
}
