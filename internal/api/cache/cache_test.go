package cache

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/go-trip-planner/internal/types"
)

func setupCacheTest(opts Options) *Cache {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return New(opts, logger)
}

func seedSession(t *testing.T, c *Cache) *types.SessionState {
	t.Helper()
	ctx := context.Background()
	state := types.NewSessionState("user-1", uuid.New(), "Kyoto in spring")
	require.NoError(t, c.SetSession(ctx, state))
	_, err := c.AppendHistory(ctx, state.HistoryKey, types.History{Role: types.RoleUser, Message: types.Message{Content: "hi"}})
	require.NoError(t, err)
	require.NoError(t, c.PutShortlist(ctx, state.ShortlistKey, types.ShortlistItem{Name: "Kyoto", Type: types.PlaceCity}))
	return state
}

func TestCache_SessionRoundTrip(t *testing.T) {
	c := setupCacheTest(Options{})
	defer c.Close()
	ctx := context.Background()

	t.Run("miss", func(t *testing.T) {
		got, ok := c.GetSession(ctx, "nobody", uuid.NewString())
		assert.False(t, ok)
		assert.Nil(t, got)
	})

	t.Run("hit returns a copy", func(t *testing.T) {
		state := types.NewSessionState("user-1", uuid.New(), "Trip")
		state.ShortTermProfile.Preferences["historic"] = types.TagWeight{Tag: "historic", Weight: 0.9}
		state.Recommended = []string{"Kyoto"}
		require.NoError(t, c.SetSession(ctx, state))

		got, ok := c.GetSession(ctx, state.UserID, state.SessionID.String())
		require.True(t, ok)
		assert.Equal(t, state.HistoryKey, got.HistoryKey)
		assert.Equal(t, state.ShortlistKey, got.ShortlistKey)
		assert.Equal(t, 0.9, got.ShortTermProfile.Preferences["historic"].Weight)

		got.Title = "changed"
		again, _ := c.GetSession(ctx, state.UserID, state.SessionID.String())
		assert.Equal(t, "Trip", again.Title)
	})
}

func TestCache_History(t *testing.T) {
	c := setupCacheTest(Options{})
	defer c.Close()
	ctx := context.Background()
	key := types.HistoryKey("u", "s")

	_, ok := c.History(ctx, key)
	assert.False(t, ok)

	n, err := c.AppendHistory(ctx, key, types.History{Role: types.RoleUser, Message: types.Message{Content: "one"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = c.AppendHistory(ctx, key, types.History{Role: types.RoleAI, Message: types.Message{Content: "two"}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, c.SetHistoryEntry(ctx, key, 1, types.History{Role: types.RoleAI, Message: types.Message{Content: "edited"}}))
	assert.Error(t, c.SetHistoryEntry(ctx, key, 5, types.History{}))

	entries, ok := c.History(ctx, key)
	require.True(t, ok)
	require.Len(t, entries, 2)
	assert.Equal(t, "one", entries[0].Message.Content)
	assert.Equal(t, "edited", entries[1].Message.Content)
}

func TestCache_Shortlist(t *testing.T) {
	c := setupCacheTest(Options{})
	defer c.Close()
	ctx := context.Background()
	key := types.ShortlistKey("u", "s")

	require.NoError(t, c.PutShortlist(ctx, key, types.ShortlistItem{Name: "Nara", Type: types.PlaceCity}))
	require.NoError(t, c.PutShortlist(ctx, key, types.ShortlistItem{Name: "Fushimi Inari", Type: types.PlaceAttraction}))
	require.NoError(t, c.PutShortlist(ctx, key, types.ShortlistItem{Name: "Nara", Type: types.PlaceCity, Description: "deer"}))

	items, ok := c.Shortlist(ctx, key)
	require.True(t, ok)
	require.Len(t, items, 2)
	assert.Equal(t, "Fushimi Inari", items[0].Name)
	assert.Equal(t, "deer", items[1].Description)

	assert.True(t, c.DeleteShortlist(ctx, key, "Nara"))
	assert.False(t, c.DeleteShortlist(ctx, key, "Nara"))
	items, _ = c.Shortlist(ctx, key)
	assert.Len(t, items, 1)
}

func TestCache_Lock(t *testing.T) {
	c := setupCacheTest(Options{})
	defer c.Close()

	t.Run("set if absent", func(t *testing.T) {
		assert.True(t, c.AcquireLock("Kyoto", 0))
		assert.False(t, c.AcquireLock("Kyoto", 0))
		assert.True(t, c.Exists(LockKey("Kyoto")))
		c.ReleaseLock("Kyoto")
		assert.True(t, c.AcquireLock("Kyoto", 0))
		c.ReleaseLock("Kyoto")
	})

	t.Run("only one concurrent winner", func(t *testing.T) {
		var wg sync.WaitGroup
		var mu sync.Mutex
		winners := 0
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if c.AcquireLock("Osaka", time.Minute) {
					mu.Lock()
					winners++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, winners)
	})

	t.Run("expires", func(t *testing.T) {
		assert.True(t, c.AcquireLock("Nara", 10*time.Millisecond))
		time.Sleep(30 * time.Millisecond)
		assert.True(t, c.AcquireLock("Nara", time.Minute))
	})
}

func TestCache_ExpiryCascade(t *testing.T) {
	ctx := context.Background()

	t.Run("explicit delete publishes nothing", func(t *testing.T) {
		c := setupCacheTest(Options{})
		defer c.Close()
		state := seedSession(t, c)

		c.DeleteSession(ctx, state)
		select {
		case ev := <-c.Subscribe():
			t.Fatalf("unexpected expiry event %v", ev)
		default:
		}
		assert.False(t, c.Exists(state.HistoryKey))
	})

	t.Run("expired metadata removes history and shortlist", func(t *testing.T) {
		c := setupCacheTest(Options{SessionTTL: 10 * time.Millisecond})
		defer c.Close()
		state := seedSession(t, c)
		listener := NewExpiryListener(c, 0, c.logger)

		time.Sleep(30 * time.Millisecond)
		c.DeleteExpired()

		select {
		case ev := <-c.Subscribe():
			assert.Equal(t, state.MetadataKey(), ev.Key)
			listener.Handle(ctx, ev)
		case <-time.After(time.Second):
			t.Fatal("no expiry event published")
		}

		assert.False(t, c.Exists(state.MetadataKey()))
		assert.False(t, c.Exists(state.HistoryKey))
		assert.False(t, c.Exists(state.ShortlistKey))
	})

	t.Run("listener sweep drives the cascade", func(t *testing.T) {
		c := setupCacheTest(Options{SessionTTL: 10 * time.Millisecond})
		defer c.Close()
		state := seedSession(t, c)
		other := types.NewSessionState("user-2", uuid.New(), "Other")
		_, err := c.AppendHistory(ctx, other.HistoryKey, types.History{Role: types.RoleUser})
		require.NoError(t, err)

		listener := NewExpiryListener(c, 5*time.Millisecond, c.logger)
		listener.Start(ctx)
		defer listener.Stop()

		assert.Eventually(t, func() bool {
			return !c.Exists(state.HistoryKey) && !c.Exists(state.ShortlistKey)
		}, time.Second, 5*time.Millisecond)
		assert.True(t, c.Exists(other.HistoryKey))
	})

	t.Run("place and lock expiries are not published", func(t *testing.T) {
		c := setupCacheTest(Options{PlaceTTL: 10 * time.Millisecond, EventBuffer: 1})
		defer c.Close()
		for _, name := range []string{"Kyoto", "Nara", "Osaka"} {
			require.NoError(t, c.SetPlace(ctx, &types.ShortlistItem{Name: name, Type: types.PlaceCity}))
			require.True(t, c.AcquireLock(name, 10*time.Millisecond))
		}

		time.Sleep(30 * time.Millisecond)
		c.DeleteExpired()

		select {
		case ev := <-c.Subscribe():
			t.Fatalf("unexpected expiry event %v", ev)
		default:
		}
		assert.Empty(t, c.DrainOverflow())
	})

	t.Run("metadata beyond the buffer still cascades", func(t *testing.T) {
		c := setupCacheTest(Options{SessionTTL: 10 * time.Millisecond, PlaceTTL: 10 * time.Millisecond, EventBuffer: 1})
		defer c.Close()
		for _, name := range []string{"Kyoto", "Nara", "Osaka", "Kobe"} {
			require.NoError(t, c.SetPlace(ctx, &types.ShortlistItem{Name: name, Type: types.PlaceCity}))
		}
		states := []*types.SessionState{seedSession(t, c), seedSession(t, c), seedSession(t, c)}

		time.Sleep(30 * time.Millisecond)
		c.DeleteExpired()

		listener := NewExpiryListener(c, time.Hour, c.logger)
		listener.Start(ctx)
		defer listener.Stop()

		assert.Eventually(t, func() bool {
			for _, st := range states {
				if c.Exists(st.HistoryKey) || c.Exists(st.ShortlistKey) {
					return false
				}
			}
			return true
		}, time.Second, 5*time.Millisecond)
		assert.Empty(t, c.DrainOverflow())
	})

	t.Run("cache without janitor gets a sweeping listener", func(t *testing.T) {
		c := setupCacheTest(Options{})
		defer c.Close()
		assert.Equal(t, DefaultSweepInterval, NewExpiryListener(c, 0, c.logger).SweepInterval())

		withJanitor := setupCacheTest(Options{CleanupInterval: time.Minute})
		defer withJanitor.Close()
		assert.Zero(t, NewExpiryListener(withJanitor, 0, withJanitor.logger).SweepInterval())
	})

	t.Run("stop waits for the listener", func(t *testing.T) {
		c := setupCacheTest(Options{})
		defer c.Close()
		listener := NewExpiryListener(c, 0, c.logger)
		listener.Start(ctx)
		listener.Stop()
		listener.Stop()
	})
}

func TestParseMetadataKey(t *testing.T) {
	uid, sid, ok := ParseMetadataKey("user:u1:session:s1:metadata")
	require.True(t, ok)
	assert.Equal(t, "u1", uid)
	assert.Equal(t, "s1", sid)

	for _, key := range []string{
		"user:u1:session:s1:history",
		"user:u1:session:s1",
		"place_lock:Kyoto",
		"Kyoto",
		"user::session:s1:metadata",
	} {
		_, _, ok := ParseMetadataKey(key)
		assert.False(t, ok, key)
	}
}
