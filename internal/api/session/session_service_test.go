package session

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/go-trip-planner/internal/api/cache"
	"github.com/FACorreiaa/go-trip-planner/internal/api/store"
	"github.com/FACorreiaa/go-trip-planner/internal/background"
	"github.com/FACorreiaa/go-trip-planner/internal/types"
)

// MockRepository is a mock implementation of store.Repository
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) UpsertSession(ctx context.Context, state *types.SessionState) error {
	return m.Called(ctx, state).Error(0)
}

func (m *MockRepository) GetSession(ctx context.Context, userID string, sessionID uuid.UUID) (*types.SessionState, error) {
	args := m.Called(ctx, userID, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.SessionState), args.Error(1)
}

func (m *MockRepository) ListSessionsByUser(ctx context.Context, userID string) ([]types.SessionState, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.SessionState), args.Error(1)
}

func (m *MockRepository) DeleteSession(ctx context.Context, userID string, sessionID uuid.UUID) error {
	return m.Called(ctx, userID, sessionID).Error(0)
}

func (m *MockRepository) SaveHistory(ctx context.Context, userID string, sessionID uuid.UUID, history []types.History) error {
	return m.Called(ctx, userID, sessionID, history).Error(0)
}

func (m *MockRepository) GetHistory(ctx context.Context, userID string, sessionID uuid.UUID) ([]types.History, error) {
	args := m.Called(ctx, userID, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.History), args.Error(1)
}

func (m *MockRepository) SaveShortlist(ctx context.Context, userID string, sessionID uuid.UUID, items []types.ShortlistItem) error {
	return m.Called(ctx, userID, sessionID, items).Error(0)
}

func (m *MockRepository) GetShortlist(ctx context.Context, userID string, sessionID uuid.UUID) ([]types.ShortlistItem, error) {
	args := m.Called(ctx, userID, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.ShortlistItem), args.Error(1)
}

func (m *MockRepository) GetPreference(ctx context.Context, userID string) (*types.LongTermProfile, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.LongTermProfile), args.Error(1)
}

func (m *MockRepository) SavePreference(ctx context.Context, profile *types.LongTermProfile) error {
	return m.Called(ctx, profile).Error(0)
}

func (m *MockRepository) DeletePreference(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

func (m *MockRepository) GetPlace(ctx context.Context, name string) (*types.ShortlistItem, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.ShortlistItem), args.Error(1)
}

func (m *MockRepository) SavePlace(ctx context.Context, item *types.ShortlistItem) error {
	return m.Called(ctx, item).Error(0)
}

type sessionTest struct {
	service *ServiceImpl
	repo    *MockRepository
	cache   *cache.Cache
	runner  *background.Runner
}

func setupSessionServiceTest(t *testing.T) sessionTest {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	c := cache.New(cache.Options{}, logger)
	runner := background.NewRunner(4, logger)
	repo := new(MockRepository)
	t.Cleanup(func() {
		_ = runner.Shutdown(context.Background())
		_ = c.Close()
	})
	return sessionTest{
		service: NewService(c, repo, runner, logger),
		repo:    repo,
		cache:   c,
		runner:  runner,
	}
}

func TestServiceImpl_CreateAndLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("create writes cache now and durable store later", func(t *testing.T) {
		st := setupSessionServiceTest(t)
		state := types.NewSessionState("user-1", uuid.New(), "Kyoto")
		st.repo.On("UpsertSession", mock.Anything, mock.MatchedBy(func(s *types.SessionState) bool {
			return s.SessionID == state.SessionID && s.Version == 1
		})).Return(nil).Once()

		require.NoError(t, st.service.Create(ctx, state))
		assert.Equal(t, int64(1), state.Version)

		got, err := st.service.Load(ctx, state.UserID, state.SessionID)
		require.NoError(t, err)
		assert.Equal(t, "Kyoto", got.Title)

		st.runner.Wait()
		st.repo.AssertExpectations(t)
	})

	t.Run("cache miss falls back and repopulates", func(t *testing.T) {
		st := setupSessionServiceTest(t)
		durable := types.NewSessionState("user-1", uuid.New(), "From durable")
		st.repo.On("GetSession", mock.Anything, "user-1", durable.SessionID).Return(durable, nil).Once()

		got, err := st.service.Load(ctx, "user-1", durable.SessionID)
		require.NoError(t, err)
		assert.Equal(t, "From durable", got.Title)

		_, cached := st.cache.GetSession(ctx, "user-1", durable.SessionID.String())
		assert.True(t, cached)

		_, err = st.service.Load(ctx, "user-1", durable.SessionID)
		require.NoError(t, err)
		st.repo.AssertExpectations(t)
	})

	t.Run("missing in both tiers", func(t *testing.T) {
		st := setupSessionServiceTest(t)
		id := uuid.New()
		st.repo.On("GetSession", mock.Anything, "user-1", id).Return(nil, store.ErrNotFound).Once()

		_, err := st.service.Load(ctx, "user-1", id)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("durable store down degrades to not found", func(t *testing.T) {
		st := setupSessionServiceTest(t)
		id := uuid.New()
		st.repo.On("GetSession", mock.Anything, "user-1", id).Return(nil, errors.New("dial tcp: refused")).Once()

		_, err := st.service.Load(ctx, "user-1", id)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestServiceImpl_History(t *testing.T) {
	ctx := context.Background()

	t.Run("append syncs the whole list", func(t *testing.T) {
		st := setupSessionServiceTest(t)
		state := types.NewSessionState("user-1", uuid.New(), "Trip")
		require.NoError(t, st.cache.SetHistory(ctx, state.HistoryKey, nil))

		st.repo.On("SaveHistory", mock.Anything, "user-1", state.SessionID, mock.MatchedBy(func(h []types.History) bool {
			return len(h) >= 1
		})).Return(nil)

		require.NoError(t, st.service.AppendHistory(ctx, state, types.History{Role: types.RoleUser, Message: types.Message{Content: "hello"}}))
		require.NoError(t, st.service.AppendHistory(ctx, state, types.History{Role: types.RoleAI, Message: types.Message{Content: "hi"}}))
		st.runner.Wait()

		entries, err := st.service.History(ctx, state)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.False(t, entries[0].CreatedAt.IsZero())
		st.repo.AssertCalled(t, "SaveHistory", mock.Anything, "user-1", state.SessionID, mock.Anything)
	})

	t.Run("sync failure is swallowed", func(t *testing.T) {
		st := setupSessionServiceTest(t)
		state := types.NewSessionState("user-1", uuid.New(), "Trip")
		require.NoError(t, st.cache.SetHistory(ctx, state.HistoryKey, nil))
		st.repo.On("SaveHistory", mock.Anything, "user-1", state.SessionID, mock.Anything).Return(errors.New("db down"))

		require.NoError(t, st.service.AppendHistory(ctx, state, types.History{Role: types.RoleUser}))
		st.runner.Wait()
	})

	t.Run("miss loads from durable store", func(t *testing.T) {
		st := setupSessionServiceTest(t)
		state := types.NewSessionState("user-1", uuid.New(), "Trip")
		durable := []types.History{{Role: types.RoleUser, Message: types.Message{Content: "old"}}}
		st.repo.On("GetHistory", mock.Anything, "user-1", state.SessionID).Return(durable, nil).Once()

		entries, err := st.service.History(ctx, state)
		require.NoError(t, err)
		assert.Equal(t, "old", entries[0].Message.Content)

		entries, err = st.service.History(ctx, state)
		require.NoError(t, err)
		assert.Len(t, entries, 1)
		st.repo.AssertExpectations(t)
	})
}

func TestServiceImpl_SaveItinerary(t *testing.T) {
	ctx := context.Background()
	st := setupSessionServiceTest(t)
	state := types.NewSessionState("user-1", uuid.New(), "Trip")
	require.NoError(t, st.cache.SetHistory(ctx, state.HistoryKey, []types.History{
		{Role: types.RoleUser, Message: types.Message{Content: "plan day one"}},
		{Role: types.RoleAI, Message: types.Message{Content: "draft"}},
	}))
	st.repo.On("SaveHistory", mock.Anything, "user-1", state.SessionID, mock.Anything).Return(nil)

	legs := []types.ItineraryLeg{{Date: 1, Type: types.LegVisit, PlaceName: "Kinkaku-ji", StartTime: "09:00", EndTime: "10:30"}}

	t.Run("ai entry", func(t *testing.T) {
		require.NoError(t, st.service.SaveItinerary(ctx, state, 1, legs))
		entries, _ := st.service.History(ctx, state)
		assert.Equal(t, legs, entries[1].Message.Itinerary)
		assert.Equal(t, "draft", entries[1].Message.Content)
	})

	t.Run("user entry rejected", func(t *testing.T) {
		assert.ErrorIs(t, st.service.SaveItinerary(ctx, state, 0, legs), ErrInvalidHistoryIndex)
	})

	t.Run("out of range", func(t *testing.T) {
		assert.ErrorIs(t, st.service.SaveItinerary(ctx, state, 7, legs), ErrInvalidHistoryIndex)
		assert.ErrorIs(t, st.service.SaveItinerary(ctx, state, -1, legs), ErrInvalidHistoryIndex)
	})

	st.runner.Wait()
	st.repo.AssertNotCalled(t, "UpsertSession", mock.Anything, mock.Anything)
}

func TestServiceImpl_Shortlist(t *testing.T) {
	ctx := context.Background()
	st := setupSessionServiceTest(t)
	state := types.NewSessionState("user-1", uuid.New(), "Trip")
	st.repo.On("GetShortlist", mock.Anything, "user-1", state.SessionID).Return(nil, store.ErrNotFound).Once()
	st.repo.On("SaveShortlist", mock.Anything, "user-1", state.SessionID, mock.Anything).Return(store.ErrNotFound)

	require.NoError(t, st.service.AddToShortlist(ctx, state, types.ShortlistItem{Name: "Kyoto", Type: types.PlaceCity}))
	items, err := st.service.Shortlist(ctx, state)
	require.NoError(t, err)
	require.Len(t, items, 1)

	removed, err := st.service.RemoveFromShortlist(ctx, state, "Kyoto")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = st.service.RemoveFromShortlist(ctx, state, "Kyoto")
	require.NoError(t, err)
	assert.False(t, removed)

	st.runner.Wait()
	st.repo.AssertNumberOfCalls(t, "SaveShortlist", 2)
}

func TestServiceImpl_DeleteAndList(t *testing.T) {
	ctx := context.Background()

	t.Run("delete removes every key", func(t *testing.T) {
		st := setupSessionServiceTest(t)
		state := types.NewSessionState("user-1", uuid.New(), "Trip")
		st.repo.On("UpsertSession", mock.Anything, mock.Anything).Return(nil)
		st.repo.On("DeleteSession", mock.Anything, "user-1", state.SessionID).Return(store.ErrNotFound).Once()
		require.NoError(t, st.service.Create(ctx, state))
		st.runner.Wait()

		require.NoError(t, st.service.Delete(ctx, "user-1", state.SessionID))
		assert.False(t, st.cache.Exists(state.MetadataKey()))
		assert.False(t, st.cache.Exists(state.HistoryKey))
		assert.False(t, st.cache.Exists(state.ShortlistKey))
	})

	t.Run("delete unknown session", func(t *testing.T) {
		st := setupSessionServiceTest(t)
		id := uuid.New()
		st.repo.On("DeleteSession", mock.Anything, "user-1", id).Return(store.ErrNotFound).Once()
		assert.ErrorIs(t, st.service.Delete(ctx, "user-1", id), ErrNotFound)
	})

	t.Run("list prefers cached copies", func(t *testing.T) {
		st := setupSessionServiceTest(t)
		older := types.NewSessionState("user-1", uuid.New(), "Lisbon")
		newer := types.NewSessionState("user-1", uuid.New(), "Kyoto")
		older.UpdatedAt = newer.UpdatedAt.Add(-1)
		st.repo.On("ListSessionsByUser", mock.Anything, "user-1").Return([]types.SessionState{*newer, *older}, nil).Once()
		st.repo.On("UpsertSession", mock.Anything, mock.Anything).Return(nil)

		older.Title = "Lisbon renamed"
		require.NoError(t, st.service.Save(ctx, older))
		st.runner.Wait()

		summaries, err := st.service.List(ctx, "user-1")
		require.NoError(t, err)
		require.Len(t, summaries, 2)
		assert.Equal(t, "Lisbon renamed", summaries[0].Title)
		assert.Equal(t, "Kyoto", summaries[1].Title)
	})
}
