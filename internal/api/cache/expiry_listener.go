package cache

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/FACorreiaa/go-trip-planner/internal/types"
)

// ParseMetadataKey recovers (user id, session id) from user:{uid}:session:{sid}:metadata.
func ParseMetadataKey(key string) (userID, sessionID string, ok bool) {
	parts := strings.Split(key, ":")
	if len(parts) != 5 || parts[0] != "user" || parts[2] != "session" || parts[4] != "metadata" {
		return "", "", false
	}
	if parts[1] == "" || parts[3] == "" {
		return "", "", false
	}
	return parts[1], parts[3], true
}

// ExpiryListener removes a session's history and shortlist once its metadata key expires.
// Those keys carry no TTL of their own.
type ExpiryListener struct {
	logger        *slog.Logger
	cache         *Cache
	sweepInterval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// DefaultSweepInterval drives DeleteExpired when neither the caller nor the cache janitor does.
const DefaultSweepInterval = time.Minute

// NewExpiryListener builds a listener. When sweepInterval is positive the listener also drives
// DeleteExpired itself. A cache created without a janitor gets DefaultSweepInterval.
func NewExpiryListener(c *Cache, sweepInterval time.Duration, logger *slog.Logger) *ExpiryListener {
	if sweepInterval <= 0 && c.Options().CleanupInterval == 0 {
		sweepInterval = DefaultSweepInterval
	}
	return &ExpiryListener{
		logger:        logger,
		cache:         c,
		sweepInterval: sweepInterval,
	}
}

// SweepInterval is how often the listener itself drives DeleteExpired. Zero leaves it to the janitor.
func (l *ExpiryListener) SweepInterval() time.Duration { return l.sweepInterval }

// Start runs the listener in its own goroutine until Stop is called or ctx ends.
func (l *ExpiryListener) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	go func() {
		defer close(l.done)
		l.Run(ctx)
	}()
}

// Stop cancels the subscription and waits for the listener goroutine to return.
func (l *ExpiryListener) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Run blocks, handling expiry events until ctx is cancelled or the cache is closed.
func (l *ExpiryListener) Run(ctx context.Context) {
	events := l.cache.Subscribe()
	l.logger.InfoContext(ctx, "Expiry listener subscribed to cache expiry events")

	var tick <-chan time.Time
	if l.sweepInterval > 0 {
		ticker := time.NewTicker(l.sweepInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("Expiry listener stopped")
			return
		case <-tick:
			l.cache.DeleteExpired()
		case <-l.cache.Overflowed():
			for _, ev := range l.cache.DrainOverflow() {
				l.Handle(ctx, ev)
			}
		case ev, ok := <-events:
			if !ok {
				l.logger.Info("Expiry listener channel closed")
				return
			}
			l.Handle(ctx, ev)
		}
	}
}

// Handle applies the cascade for one event. Non-metadata keys are ignored.
func (l *ExpiryListener) Handle(ctx context.Context, ev ExpiryEvent) {
	userID, sessionID, ok := ParseMetadataKey(ev.Key)
	if !ok {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.logger.ErrorContext(ctx, "Expiry cleanup failed",
				slog.String("user_id", userID), slog.String("session_id", sessionID), slog.Any("panic", r))
		}
	}()

	l.cache.Delete(types.HistoryKey(userID, sessionID), types.ShortlistKey(userID, sessionID))
	l.logger.DebugContext(ctx, "Removed history and shortlist of expired session",
		slog.String("user_id", userID), slog.String("session_id", sessionID))
}
