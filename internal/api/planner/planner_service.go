package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/go-trip-planner/app/observability/metrics"
	generativeAI "github.com/FACorreiaa/go-trip-planner/internal/api/generative_ai"
	"github.com/FACorreiaa/go-trip-planner/internal/api/preference"
	"github.com/FACorreiaa/go-trip-planner/internal/api/session"
	"github.com/FACorreiaa/go-trip-planner/internal/background"
	"github.com/FACorreiaa/go-trip-planner/internal/types"
)

const (
	DefaultTitle          = "New Trip"
	DefaultHistoryWindow  = 10
	DefaultRecommendCount = 5
	DefaultTopicCount     = 5
	// view events shorter than this carry no signal
	DefaultMinViewSeconds = 10.0
)

// ErrSessionNotFound is the one condition surfaced to callers so a client can start over.
var ErrSessionNotFound = session.ErrNotFound

type SessionStore interface {
	Create(ctx context.Context, state *types.SessionState) error
	Load(ctx context.Context, userID string, sessionID uuid.UUID) (*types.SessionState, error)
	Save(ctx context.Context, state *types.SessionState) error
	Delete(ctx context.Context, userID string, sessionID uuid.UUID) error
	List(ctx context.Context, userID string) ([]types.SessionSummary, error)
	AppendHistory(ctx context.Context, state *types.SessionState, entry types.History) error
	History(ctx context.Context, state *types.SessionState) ([]types.History, error)
	SaveItinerary(ctx context.Context, state *types.SessionState, idx int, legs []types.ItineraryLeg) error
	Shortlist(ctx context.Context, state *types.SessionState) ([]types.ShortlistItem, error)
	AddToShortlist(ctx context.Context, state *types.SessionState, item types.ShortlistItem) error
	RemoveFromShortlist(ctx context.Context, state *types.SessionState, name string) (bool, error)
}

type Preferences interface {
	UpdateShortTerm(ctx context.Context, state *types.SessionState, input preference.Input) (*types.SessionState, error)
	RecomputeLongTerm(ctx context.Context, userID string) (*types.LongTermProfile, error)
	GetLongTerm(ctx context.Context, userID string) (*types.LongTermProfile, error)
}

type Places interface {
	Resolve(ctx context.Context, name, description, reason string) (*types.ShortlistItem, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, legs []types.ItineraryLeg) []types.ItineraryLeg
}

type Runner interface {
	Go(name string, fn background.Task) error
}

type Options struct {
	HistoryWindow  int
	RecommendCount int
	MinViewSeconds float64
}

// Reply is the outcome of one conversational turn.
type Reply struct {
	Session *types.SessionState `json:"session"`
	Message types.Message       `json:"message"`
	Action  Action              `json:"action"`
	Intents []types.IntentTag   `json:"intents"`
}

var _ Service = (*ServiceImpl)(nil)

type Service interface {
	StartSession(ctx context.Context, userID, prompt string, slots types.Slots) (*types.SessionState, error)
	HandleMessage(ctx context.Context, userID string, sessionID uuid.UUID, text string) (*Reply, error)
	TrackBehavior(ctx context.Context, userID string, sessionID uuid.UUID, events []types.UserBehavior) (int, error)

	GetSession(ctx context.Context, userID string, sessionID uuid.UUID) (*types.SessionState, error)
	ListSessions(ctx context.Context, userID string) ([]types.SessionSummary, error)
	RenameSession(ctx context.Context, userID string, sessionID uuid.UUID, title string) (*types.SessionState, error)
	DeleteSession(ctx context.Context, userID string, sessionID uuid.UUID) error

	GetHistory(ctx context.Context, userID string, sessionID uuid.UUID) ([]types.History, error)
	SaveItinerary(ctx context.Context, userID string, sessionID uuid.UUID, idx int, legs []types.ItineraryLeg) ([]types.ItineraryLeg, error)

	GetShortlist(ctx context.Context, userID string, sessionID uuid.UUID) ([]types.ShortlistItem, error)
	AddToShortlist(ctx context.Context, userID string, sessionID uuid.UUID, name string) (*types.ShortlistItem, error)
	RemoveFromShortlist(ctx context.Context, userID string, sessionID uuid.UUID, name string) (bool, error)

	RecommendTopics(ctx context.Context, userID string) ([]string, error)
}

type ServiceImpl struct {
	logger     *slog.Logger
	sessions   SessionStore
	prefs      Preferences
	places     Places
	reconciler Reconciler
	lang       generativeAI.LanguageService
	classifier generativeAI.IntentClassifier
	runner     Runner
	opts       Options
	metrics    *metrics.AppMetrics
}

func NewService(
	sessions SessionStore,
	prefs Preferences,
	places Places,
	reconciler Reconciler,
	lang generativeAI.LanguageService,
	classifier generativeAI.IntentClassifier,
	runner Runner,
	opts Options,
	logger *slog.Logger,
) *ServiceImpl {
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = DefaultHistoryWindow
	}
	if opts.RecommendCount <= 0 {
		opts.RecommendCount = DefaultRecommendCount
	}
	if opts.MinViewSeconds <= 0 {
		opts.MinViewSeconds = DefaultMinViewSeconds
	}
	return &ServiceImpl{
		logger:     logger,
		sessions:   sessions,
		prefs:      prefs,
		places:     places,
		reconciler: reconciler,
		lang:       lang,
		classifier: classifier,
		runner:     runner,
		opts:       opts,
		metrics:    metrics.Get(),
	}
}

func (s *ServiceImpl) load(ctx context.Context, userID string, sessionID uuid.UUID) (*types.SessionState, error) {
	state, err := s.sessions.Load(ctx, userID, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrSessionNotFound, err)
	}
	return state, nil
}

// StartSession creates a session titled and planned from the first prompt. The user's long-term
// profile is recomputed in the background.
func (s *ServiceImpl) StartSession(ctx context.Context, userID, prompt string, slots types.Slots) (*types.SessionState, error) {
	ctx, span := otel.Tracer("PlannerService").Start(ctx, "StartSession", trace.WithAttributes(
		attribute.String("user.id", userID),
	))
	defer span.End()

	state := types.NewSessionState(userID, uuid.New(), s.generateTitle(ctx, prompt))
	state.Slots = slots
	state.Todo = s.generateTodo(ctx, prompt, slots)

	if err := s.sessions.Create(ctx, state); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create session")
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	if err := s.runner.Go("preference.recompute", func(ctx context.Context) error {
		_, err := s.prefs.RecomputeLongTerm(ctx, userID)
		return err
	}); err != nil {
		s.logger.WarnContext(ctx, "Long term recompute not scheduled", slog.Any("error", err))
	}

	span.SetAttributes(attribute.String("session.id", state.SessionID.String()))
	s.logger.InfoContext(ctx, "Session started",
		slog.String("user_id", userID),
		slog.String("session_id", state.SessionID.String()),
		slog.String("title", state.Title))
	return state, nil
}

func (s *ServiceImpl) generateTitle(ctx context.Context, prompt string) string {
	if strings.TrimSpace(prompt) == "" {
		return DefaultTitle
	}
	title, err := s.lang.Generate(ctx, types.PromptTitle, map[string]any{"prompt": prompt})
	if err != nil {
		s.logger.WarnContext(ctx, "Title generation failed, using default", slog.Any("error", err))
		return DefaultTitle
	}
	title = strings.TrimSpace(strings.Trim(strings.TrimSpace(title), `"'`))
	if title == "" {
		return DefaultTitle
	}
	return title
}

func (s *ServiceImpl) generateTodo(ctx context.Context, prompt string, slots types.Slots) []types.TodoStep {
	raw, err := s.lang.Generate(ctx, types.PromptTodo, map[string]any{"prompt": prompt, "slots": slots})
	if err != nil {
		s.logger.WarnContext(ctx, "To-do generation failed, using default plan", slog.Any("error", err))
		return types.DefaultTodo()
	}
	var out struct {
		Steps []types.TodoStep `json:"steps"`
	}
	if err := generativeAI.DecodeJSON(raw, &out); err != nil {
		s.logger.WarnContext(ctx, "To-do output unreadable, using default plan", slog.Any("error", err))
		return types.DefaultTodo()
	}

	todo := make([]types.TodoStep, 0, len(out.Steps))
	for _, step := range out.Steps {
		step.Type = types.StepType(strings.ToUpper(strings.TrimSpace(string(step.Type))))
		if !step.Type.Valid() {
			continue
		}
		step.Status = types.StepStatusPending
		todo = append(todo, step)
	}
	if len(todo) == 0 {
		return types.DefaultTodo()
	}
	return todo
}

// TrackBehavior queues interaction events for the next turn. Invalid events and short views are
// dropped; the number of queued events is returned.
func (s *ServiceImpl) TrackBehavior(ctx context.Context, userID string, sessionID uuid.UUID, events []types.UserBehavior) (int, error) {
	state, err := s.load(ctx, userID, sessionID)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, e := range events {
		if e.PlaceName == "" || !e.EventType.Valid() {
			continue
		}
		if e.EventType == types.EventView && (e.DurationSec == nil || *e.DurationSec < s.opts.MinViewSeconds) {
			continue
		}
		state.PendingBehaviors = append(state.PendingBehaviors, e)
		queued++
	}
	if queued == 0 {
		return 0, nil
	}
	if err := s.sessions.Save(ctx, state); err != nil {
		return 0, fmt.Errorf("failed to queue behaviours: %w", err)
	}
	return queued, nil
}

func (s *ServiceImpl) GetSession(ctx context.Context, userID string, sessionID uuid.UUID) (*types.SessionState, error) {
	return s.load(ctx, userID, sessionID)
}

func (s *ServiceImpl) ListSessions(ctx context.Context, userID string) ([]types.SessionSummary, error) {
	summaries, err := s.sessions.List(ctx, userID)
	if err != nil {
		s.logger.WarnContext(ctx, "Session listing unavailable", slog.String("user_id", userID), slog.Any("error", err))
		return []types.SessionSummary{}, nil
	}
	return summaries, nil
}

func (s *ServiceImpl) RenameSession(ctx context.Context, userID string, sessionID uuid.UUID, title string) (*types.SessionState, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("title must not be empty")
	}
	state, err := s.load(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	state.Title = title
	if err := s.sessions.Save(ctx, state); err != nil {
		return nil, fmt.Errorf("failed to rename session: %w", err)
	}
	return state, nil
}

func (s *ServiceImpl) DeleteSession(ctx context.Context, userID string, sessionID uuid.UUID) error {
	if err := s.sessions.Delete(ctx, userID, sessionID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *ServiceImpl) GetHistory(ctx context.Context, userID string, sessionID uuid.UUID) ([]types.History, error) {
	state, err := s.load(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	return s.sessions.History(ctx, state)
}

// SaveItinerary reconciles a user-edited itinerary and attaches it to the AI message at idx.
func (s *ServiceImpl) SaveItinerary(ctx context.Context, userID string, sessionID uuid.UUID, idx int, legs []types.ItineraryLeg) ([]types.ItineraryLeg, error) {
	state, err := s.load(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	reconciled := s.reconciler.Reconcile(ctx, legs)
	if err := s.sessions.SaveItinerary(ctx, state, idx, reconciled); err != nil {
		return nil, err
	}
	return reconciled, nil
}

func (s *ServiceImpl) GetShortlist(ctx context.Context, userID string, sessionID uuid.UUID) ([]types.ShortlistItem, error) {
	state, err := s.load(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	return s.sessions.Shortlist(ctx, state)
}

func (s *ServiceImpl) AddToShortlist(ctx context.Context, userID string, sessionID uuid.UUID, name string) (*types.ShortlistItem, error) {
	state, err := s.load(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	item, err := s.places.Resolve(ctx, name, "", "")
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %q: %w", name, err)
	}
	if err := s.sessions.AddToShortlist(ctx, state, *item); err != nil {
		return nil, err
	}
	return item, nil
}

func (s *ServiceImpl) RemoveFromShortlist(ctx context.Context, userID string, sessionID uuid.UUID, name string) (bool, error) {
	state, err := s.load(ctx, userID, sessionID)
	if err != nil {
		return false, err
	}
	return s.sessions.RemoveFromShortlist(ctx, state, name)
}

// RecommendTopics suggests conversation starters from the user's verified preferences.
// With no verified preferences there is nothing to suggest.
func (s *ServiceImpl) RecommendTopics(ctx context.Context, userID string) ([]string, error) {
	profile, err := s.prefs.GetLongTerm(ctx, userID)
	if err != nil {
		return nil, err
	}
	top := profile.TopVerified(DefaultTopicCount)
	if len(top) == 0 {
		return []string{}, nil
	}
	tags := make([]string, len(top))
	for i, tw := range top {
		tags[i] = tw.Tag
	}

	raw, err := s.lang.Generate(ctx, types.PromptTopics, map[string]any{"tags": tags, "avoids": profile.Avoids})
	if err != nil {
		s.logger.WarnContext(ctx, "Topic generation failed, returning tags", slog.Any("error", err))
		return tags, nil
	}
	var out struct {
		Topics []string `json:"topics"`
	}
	if err := generativeAI.DecodeJSON(raw, &out); err != nil || len(out.Topics) == 0 {
		return tags, nil
	}
	if len(out.Topics) > DefaultTopicCount {
		out.Topics = out.Topics[:DefaultTopicCount]
	}
	return out.Topics, nil
}

func elapsedSeconds(start time.Time) float64 {
	return time.Since(start).Seconds()
}
