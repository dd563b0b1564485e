package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/FACorreiaa/go-trip-planner/app/observability/metrics"
	"github.com/FACorreiaa/go-trip-planner/internal/types"
)

const (
	DefaultSessionTTL = time.Hour
	DefaultPlaceTTL   = time.Hour
	DefaultLockTTL    = 5 * time.Minute

	lockPrefix = "place_lock:"
)

// Options configures the ephemeral tier. Zero values fall back to the defaults above.
type Options struct {
	SessionTTL      time.Duration
	PlaceTTL        time.Duration
	LockTTL         time.Duration
	CleanupInterval time.Duration
	EventBuffer     int
}

// ExpiryEvent is published when a key's deadline passed and the entry was swept.
type ExpiryEvent struct {
	Key string
	At  time.Time
}

// entry wraps every stored value so the eviction hook can tell expiry apart from deletion.
type entry struct {
	data      []byte
	expiresAt time.Time
}

type entryList struct {
	items [][]byte
}

type entryMap struct {
	items map[string][]byte
}

// Cache is the latency-critical tier for session metadata, history, shortlists and place records.
type Cache struct {
	logger  *slog.Logger
	c       *gocache.Cache
	opts    Options
	metrics *metrics.AppMetrics

	// guards in-place mutation of list and map values
	mu     sync.Mutex
	events chan ExpiryEvent
	closed bool

	// metadata expiries that did not fit in events, drained by the listener
	overflow   map[string]time.Time
	overflowed chan struct{}
}

func New(opts Options, logger *slog.Logger) *Cache {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = DefaultSessionTTL
	}
	if opts.PlaceTTL <= 0 {
		opts.PlaceTTL = DefaultPlaceTTL
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = DefaultLockTTL
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 256
	}
	if opts.CleanupInterval < 0 {
		opts.CleanupInterval = 0
	}

	c := &Cache{
		logger:  logger,
		c:       gocache.New(opts.SessionTTL, opts.CleanupInterval),
		opts:    opts,
		metrics: metrics.Get(),
		events:  make(chan ExpiryEvent, opts.EventBuffer),

		overflow:   make(map[string]time.Time),
		overflowed: make(chan struct{}, 1),
	}
	c.c.OnEvicted(c.onEvicted)
	return c
}

func (c *Cache) Options() Options { return c.opts }

// Subscribe returns the channel of expiry notifications.
func (c *Cache) Subscribe() <-chan ExpiryEvent { return c.events }

// DeleteExpired sweeps expired entries, publishing expiry events for them.
func (c *Cache) DeleteExpired() { c.c.DeleteExpired() }

// Overflowed signals that metadata expiries are waiting in DrainOverflow.
func (c *Cache) Overflowed() <-chan struct{} { return c.overflowed }

// DrainOverflow returns and clears the expiries that did not fit in the event buffer, oldest first.
func (c *Cache) DrainOverflow() []ExpiryEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ExpiryEvent, 0, len(c.overflow))
	for key, at := range c.overflow {
		out = append(out, ExpiryEvent{Key: key, At: at})
	}
	clear(c.overflow)
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

// onEvicted publishes expiries of session metadata. Place and lock keys need no cascade.
func (c *Cache) onEvicted(key string, v interface{}) {
	e, ok := v.(entry)
	if !ok || e.expiresAt.IsZero() || time.Now().Before(e.expiresAt) {
		return // explicit delete, not an expiry
	}
	if _, _, ok := ParseMetadataKey(key); !ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	ev := ExpiryEvent{Key: key, At: time.Now()}
	select {
	case c.events <- ev:
	default:
		c.overflow[key] = ev.At
		select {
		case c.overflowed <- struct{}{}:
		default:
		}
		c.logger.Warn("Expiry event buffer full, cascade deferred", slog.String("key", key))
	}
}

// Close stops publishing expiry events and closes the subscription channel.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.events)
	c.c.Flush()
	return nil
}

func (c *Cache) setJSON(key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode cache value for %s: %w", key, err)
	}
	c.c.Set(key, entry{data: data, expiresAt: time.Now().Add(ttl)}, ttl)
	return nil
}

func (c *Cache) getJSON(key string, dst any) (bool, error) {
	v, found := c.c.Get(key)
	if !found {
		return false, nil
	}
	e, ok := v.(entry)
	if !ok {
		return false, fmt.Errorf("unexpected cache value type %T for %s", v, key)
	}
	if err := json.Unmarshal(e.data, dst); err != nil {
		return false, fmt.Errorf("failed to decode cache value for %s: %w", key, err)
	}
	return true, nil
}

// GetSession returns the cached session metadata. A decode failure is logged and treated as a miss.
func (c *Cache) GetSession(ctx context.Context, userID, sessionID string) (*types.SessionState, bool) {
	var state types.SessionState
	found, err := c.getJSON(types.MetadataKey(userID, sessionID), &state)
	if err != nil {
		c.logger.WarnContext(ctx, "Discarding unreadable session metadata", slog.Any("error", err))
		c.metrics.CacheMiss(ctx, "session")
		return nil, false
	}
	if !found {
		c.metrics.CacheMiss(ctx, "session")
		return nil, false
	}
	c.metrics.CacheHit(ctx, "session")
	return &state, true
}

// SetSession writes session metadata and refreshes its TTL.
func (c *Cache) SetSession(_ context.Context, state *types.SessionState) error {
	return c.setJSON(state.MetadataKey(), state, c.opts.SessionTTL)
}

func (c *Cache) DeleteSession(_ context.Context, state *types.SessionState) {
	c.Delete(state.MetadataKey(), state.HistoryKey, state.ShortlistKey)
}

// AppendHistory appends one entry to the list stored at key and returns the new length.
func (c *Cache) AppendHistory(_ context.Context, key string, h types.History) (int, error) {
	data, err := json.Marshal(h)
	if err != nil {
		return 0, fmt.Errorf("failed to encode history entry: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.listLocked(key)
	list.items = append(list.items, data)
	return len(list.items), nil
}

// History returns every entry stored at key, oldest first, and whether the list exists.
func (c *Cache) History(ctx context.Context, key string) ([]types.History, bool) {
	c.mu.Lock()
	v, found := c.c.Get(key)
	var raw [][]byte
	if found {
		if list, ok := v.(*entryList); ok {
			raw = append(raw, list.items...)
		}
	}
	c.mu.Unlock()

	if !found {
		c.metrics.CacheMiss(ctx, "history")
		return nil, false
	}
	c.metrics.CacheHit(ctx, "history")

	out := make([]types.History, 0, len(raw))
	for i, data := range raw {
		var h types.History
		if err := json.Unmarshal(data, &h); err != nil {
			c.logger.WarnContext(ctx, "Skipping unreadable history entry",
				slog.String("key", key), slog.Int("index", i), slog.Any("error", err))
			continue
		}
		out = append(out, h)
	}
	return out, true
}

// SetHistory replaces the list stored at key, used to repopulate from the durable store.
func (c *Cache) SetHistory(_ context.Context, key string, entries []types.History) error {
	items := make([][]byte, 0, len(entries))
	for _, h := range entries {
		data, err := json.Marshal(h)
		if err != nil {
			return fmt.Errorf("failed to encode history entry: %w", err)
		}
		items = append(items, data)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.c.Set(key, &entryList{items: items}, gocache.NoExpiration)
	return nil
}

// SetHistoryEntry overwrites the entry at idx.
func (c *Cache) SetHistoryEntry(_ context.Context, key string, idx int, h types.History) error {
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("failed to encode history entry: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.listLocked(key)
	if idx < 0 || idx >= len(list.items) {
		return fmt.Errorf("history index %d out of range [0,%d)", idx, len(list.items))
	}
	list.items[idx] = data
	return nil
}

func (c *Cache) listLocked(key string) *entryList {
	if v, found := c.c.Get(key); found {
		if list, ok := v.(*entryList); ok {
			return list
		}
	}
	list := &entryList{}
	c.c.Set(key, list, gocache.NoExpiration)
	return list
}

func (c *Cache) mapLocked(key string) *entryMap {
	if v, found := c.c.Get(key); found {
		if m, ok := v.(*entryMap); ok {
			return m
		}
	}
	m := &entryMap{items: make(map[string][]byte)}
	c.c.Set(key, m, gocache.NoExpiration)
	return m
}

// PutShortlist upserts item into the shortlist map at key, keyed by place name.
func (c *Cache) PutShortlist(_ context.Context, key string, item types.ShortlistItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to encode shortlist item: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mapLocked(key).items[item.Name] = data
	return nil
}

// DeleteShortlist removes name from the shortlist at key and reports whether it was present.
func (c *Cache) DeleteShortlist(_ context.Context, key, name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.mapLocked(key)
	if _, ok := m.items[name]; !ok {
		return false
	}
	delete(m.items, name)
	return true
}

// Shortlist returns the items stored at key ordered by name, and whether the map exists.
func (c *Cache) Shortlist(ctx context.Context, key string) ([]types.ShortlistItem, bool) {
	c.mu.Lock()
	v, found := c.c.Get(key)
	raw := make(map[string][]byte)
	if found {
		if m, ok := v.(*entryMap); ok {
			for k, data := range m.items {
				raw[k] = data
			}
		}
	}
	c.mu.Unlock()

	if !found {
		c.metrics.CacheMiss(ctx, "shortlist")
		return nil, false
	}
	c.metrics.CacheHit(ctx, "shortlist")

	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]types.ShortlistItem, 0, len(names))
	for _, name := range names {
		var item types.ShortlistItem
		if err := json.Unmarshal(raw[name], &item); err != nil {
			c.logger.WarnContext(ctx, "Skipping unreadable shortlist item",
				slog.String("key", key), slog.String("name", name), slog.Any("error", err))
			continue
		}
		out = append(out, item)
	}
	return out, true
}

// SetShortlist replaces the shortlist at key.
func (c *Cache) SetShortlist(_ context.Context, key string, items []types.ShortlistItem) error {
	m := &entryMap{items: make(map[string][]byte, len(items))}
	for _, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("failed to encode shortlist item: %w", err)
		}
		m.items[item.Name] = data
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.c.Set(key, m, gocache.NoExpiration)
	return nil
}

// GetPlace returns the cached place record stored under its name.
func (c *Cache) GetPlace(ctx context.Context, name string) (*types.ShortlistItem, bool) {
	var item types.ShortlistItem
	found, err := c.getJSON(name, &item)
	if err != nil {
		c.logger.WarnContext(ctx, "Discarding unreadable place record", slog.String("place", name), slog.Any("error", err))
		found = false
	}
	if !found {
		c.metrics.CacheMiss(ctx, "place")
		return nil, false
	}
	c.metrics.CacheHit(ctx, "place")
	return &item, true
}

func (c *Cache) SetPlace(_ context.Context, item *types.ShortlistItem) error {
	return c.setJSON(item.Name, item, c.opts.PlaceTTL)
}

func LockKey(name string) string { return lockPrefix + name }

// AcquireLock sets place_lock:{name} only if it is absent. The lock expires after ttl.
func (c *Cache) AcquireLock(name string, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = c.opts.LockTTL
	}
	err := c.c.Add(LockKey(name), entry{expiresAt: time.Now().Add(ttl)}, ttl)
	return err == nil
}

func (c *Cache) ReleaseLock(name string) { c.c.Delete(LockKey(name)) }

func (c *Cache) Exists(key string) bool {
	_, found := c.c.Get(key)
	return found
}

// Delete removes keys without publishing expiry events.
func (c *Cache) Delete(keys ...string) {
	for _, k := range keys {
		c.c.Delete(k)
	}
}
