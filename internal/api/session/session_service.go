package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/go-trip-planner/internal/api/store"
	"github.com/FACorreiaa/go-trip-planner/internal/background"
	"github.com/FACorreiaa/go-trip-planner/internal/types"
)

var (
	// ErrNotFound means the session is in neither tier, or the durable tier could not be read.
	ErrNotFound = errors.New("session not found or expired")
	// ErrInvalidHistoryIndex is returned when an itinerary edit targets a missing or non-AI entry.
	ErrInvalidHistoryIndex = errors.New("history index does not refer to an ai message")
)

// Cache is the ephemeral tier as seen by the session service. *cache.Cache implements it.
type Cache interface {
	GetSession(ctx context.Context, userID, sessionID string) (*types.SessionState, bool)
	SetSession(ctx context.Context, state *types.SessionState) error
	DeleteSession(ctx context.Context, state *types.SessionState)

	AppendHistory(ctx context.Context, key string, h types.History) (int, error)
	History(ctx context.Context, key string) ([]types.History, bool)
	SetHistory(ctx context.Context, key string, entries []types.History) error
	SetHistoryEntry(ctx context.Context, key string, idx int, h types.History) error

	PutShortlist(ctx context.Context, key string, item types.ShortlistItem) error
	DeleteShortlist(ctx context.Context, key, name string) bool
	Shortlist(ctx context.Context, key string) ([]types.ShortlistItem, bool)
	SetShortlist(ctx context.Context, key string, items []types.ShortlistItem) error
}

// Runner schedules detached write-behind tasks.
type Runner interface {
	Go(name string, fn background.Task) error
}

var _ Service = (*ServiceImpl)(nil)

// Service gives tiered access to session state: reads hit the cache first and fall back to the
// durable store, writes land in the cache synchronously and in the durable store asynchronously.
type Service interface {
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

type ServiceImpl struct {
	logger *slog.Logger
	cache  Cache
	repo   store.Repository
	runner Runner
}

func NewService(c Cache, repo store.Repository, runner Runner, logger *slog.Logger) *ServiceImpl {
	return &ServiceImpl{
		logger: logger,
		cache:  c,
		repo:   repo,
		runner: runner,
	}
}

func (s *ServiceImpl) Create(ctx context.Context, state *types.SessionState) error {
	state.EnsureKeys()
	if err := s.cache.SetHistory(ctx, state.HistoryKey, nil); err != nil {
		return fmt.Errorf("failed to initialise history: %w", err)
	}
	if err := s.cache.SetShortlist(ctx, state.ShortlistKey, nil); err != nil {
		return fmt.Errorf("failed to initialise shortlist: %w", err)
	}
	return s.Save(ctx, state)
}

// Load returns the session from the cache, or from the durable store on a miss, repopulating the cache.
func (s *ServiceImpl) Load(ctx context.Context, userID string, sessionID uuid.UUID) (*types.SessionState, error) {
	ctx, span := otel.Tracer("SessionService").Start(ctx, "Load", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.String("session.id", sessionID.String()),
	))
	defer span.End()

	if state, ok := s.cache.GetSession(ctx, userID, sessionID.String()); ok {
		span.SetAttributes(attribute.String("session.tier", "cache"))
		return state, nil
	}

	state, err := s.repo.GetSession(ctx, userID, sessionID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		span.SetStatus(codes.Error, "session not found")
		return nil, ErrNotFound
	case errors.Is(err, store.ErrInvalidRecord):
		s.logger.WarnContext(ctx, "Durable session record unreadable", slog.String("session_id", sessionID.String()), slog.Any("error", err))
		return nil, ErrNotFound
	case err != nil:
		s.logger.ErrorContext(ctx, "Durable store unavailable while loading session", slog.String("session_id", sessionID.String()), slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "durable read failed")
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	span.SetAttributes(attribute.String("session.tier", "durable"))
	if err := s.cache.SetSession(ctx, state); err != nil {
		s.logger.WarnContext(ctx, "Failed to repopulate session cache", slog.Any("error", err))
	}
	return state, nil
}

// Save bumps the version, writes the cache and schedules the durable upsert.
// Concurrent turns on one session are last-writer-wins; the version is logged to make that visible.
func (s *ServiceImpl) Save(ctx context.Context, state *types.SessionState) error {
	state.EnsureKeys()
	state.Version++
	state.UpdatedAt = time.Now().UTC()

	if err := s.cache.SetSession(ctx, state); err != nil {
		return fmt.Errorf("failed to cache session: %w", err)
	}

	snapshot, err := cloneState(state)
	if err != nil {
		return err
	}
	s.schedule(ctx, "session.upsert", snapshot.SessionID, func(ctx context.Context) error {
		if err := s.repo.UpsertSession(ctx, snapshot); err != nil {
			return err
		}
		s.logger.DebugContext(ctx, "Session persisted",
			slog.String("session_id", snapshot.SessionID.String()), slog.Int64("version", snapshot.Version))
		return nil
	})
	return nil
}

func (s *ServiceImpl) Delete(ctx context.Context, userID string, sessionID uuid.UUID) error {
	sid := sessionID.String()
	state, cached := s.cache.GetSession(ctx, userID, sid)
	if !cached {
		state = types.NewSessionState(userID, sessionID, "")
	}
	s.cache.DeleteSession(ctx, state)

	err := s.repo.DeleteSession(ctx, userID, sessionID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if cached {
			return nil
		}
		return ErrNotFound
	case err != nil:
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// List returns the user's sessions, most recently updated first.
func (s *ServiceImpl) List(ctx context.Context, userID string) ([]types.SessionSummary, error) {
	sessions, err := s.repo.ListSessionsByUser(ctx, userID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list sessions", slog.String("user_id", userID), slog.Any("error", err))
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	summaries := make([]types.SessionSummary, 0, len(sessions))
	for _, st := range sessions {
		// the cached copy may be ahead of the durable one
		if cached, ok := s.cache.GetSession(ctx, userID, st.SessionID.String()); ok {
			st = *cached
		}
		summaries = append(summaries, types.SessionSummary{SessionID: st.SessionID, Title: st.Title, UpdatedAt: st.UpdatedAt})
	}
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries, nil
}

// AppendHistory appends to the cached history and schedules a durable sync of the whole list.
func (s *ServiceImpl) AppendHistory(ctx context.Context, state *types.SessionState, entry types.History) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	// make sure the cached list is complete before appending to it
	if _, err := s.History(ctx, state); err != nil {
		return err
	}
	if _, err := s.cache.AppendHistory(ctx, state.HistoryKey, entry); err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	s.syncHistory(ctx, state)
	return nil
}

func (s *ServiceImpl) History(ctx context.Context, state *types.SessionState) ([]types.History, error) {
	if entries, ok := s.cache.History(ctx, state.HistoryKey); ok {
		return entries, nil
	}

	entries, err := s.repo.GetHistory(ctx, state.UserID, state.SessionID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		// degrade to an empty history, the durable copy stays authoritative
		s.logger.WarnContext(ctx, "Durable history unavailable", slog.String("session_id", state.SessionID.String()), slog.Any("error", err))
		return nil, nil
	}
	if err := s.cache.SetHistory(ctx, state.HistoryKey, entries); err != nil {
		s.logger.WarnContext(ctx, "Failed to repopulate history cache", slog.Any("error", err))
	}
	return entries, nil
}

// SaveItinerary attaches legs to the AI entry at idx. Only the history record is written;
// it does not depend on a session metadata write succeeding.
func (s *ServiceImpl) SaveItinerary(ctx context.Context, state *types.SessionState, idx int, legs []types.ItineraryLeg) error {
	entries, err := s.History(ctx, state)
	if err != nil {
		return err
	}
	if idx < 0 || idx >= len(entries) || entries[idx].Role != types.RoleAI {
		return fmt.Errorf("%w: %d", ErrInvalidHistoryIndex, idx)
	}

	entry := entries[idx]
	entry.Message.Itinerary = legs
	if err := s.cache.SetHistoryEntry(ctx, state.HistoryKey, idx, entry); err != nil {
		return fmt.Errorf("failed to update history entry: %w", err)
	}
	s.syncHistory(ctx, state)
	return nil
}

func (s *ServiceImpl) syncHistory(ctx context.Context, state *types.SessionState) {
	userID, sessionID, key := state.UserID, state.SessionID, state.HistoryKey
	s.schedule(ctx, "history.sync", sessionID, func(ctx context.Context) error {
		entries, ok := s.cache.History(ctx, key)
		if !ok {
			return nil
		}
		return s.repo.SaveHistory(ctx, userID, sessionID, entries)
	})
}

func (s *ServiceImpl) Shortlist(ctx context.Context, state *types.SessionState) ([]types.ShortlistItem, error) {
	if items, ok := s.cache.Shortlist(ctx, state.ShortlistKey); ok {
		return items, nil
	}

	items, err := s.repo.GetShortlist(ctx, state.UserID, state.SessionID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.WarnContext(ctx, "Durable shortlist unavailable", slog.String("session_id", state.SessionID.String()), slog.Any("error", err))
		return nil, nil
	}
	if err := s.cache.SetShortlist(ctx, state.ShortlistKey, items); err != nil {
		s.logger.WarnContext(ctx, "Failed to repopulate shortlist cache", slog.Any("error", err))
	}
	return items, nil
}

func (s *ServiceImpl) AddToShortlist(ctx context.Context, state *types.SessionState, item types.ShortlistItem) error {
	if _, err := s.Shortlist(ctx, state); err != nil {
		return err
	}
	if err := s.cache.PutShortlist(ctx, state.ShortlistKey, item); err != nil {
		return fmt.Errorf("failed to add to shortlist: %w", err)
	}
	s.syncShortlist(ctx, state)
	return nil
}

func (s *ServiceImpl) RemoveFromShortlist(ctx context.Context, state *types.SessionState, name string) (bool, error) {
	if _, err := s.Shortlist(ctx, state); err != nil {
		return false, err
	}
	removed := s.cache.DeleteShortlist(ctx, state.ShortlistKey, name)
	if removed {
		s.syncShortlist(ctx, state)
	}
	return removed, nil
}

func (s *ServiceImpl) syncShortlist(ctx context.Context, state *types.SessionState) {
	userID, sessionID, key := state.UserID, state.SessionID, state.ShortlistKey
	s.schedule(ctx, "shortlist.sync", sessionID, func(ctx context.Context) error {
		items, ok := s.cache.Shortlist(ctx, key)
		if !ok {
			return nil
		}
		err := s.repo.SaveShortlist(ctx, userID, sessionID, items)
		if errors.Is(err, store.ErrNotFound) {
			s.logger.WarnContext(ctx, "Shortlist sync skipped, session record not persisted yet",
				slog.String("session_id", sessionID.String()))
			return nil
		}
		return err
	})
}

func (s *ServiceImpl) schedule(ctx context.Context, name string, sessionID uuid.UUID, fn background.Task) {
	if err := s.runner.Go(name, fn); err != nil {
		s.logger.WarnContext(ctx, "Write-behind task not scheduled",
			slog.String("task", name), slog.String("session_id", sessionID.String()), slog.Any("error", err))
	}
}

func cloneState(state *types.SessionState) (*types.SessionState, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot session: %w", err)
	}
	var out types.SessionState
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to snapshot session: %w", err)
	}
	return &out, nil
}
