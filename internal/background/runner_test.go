package background

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRunnerTest(workers int) *Runner {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return NewRunner(workers, logger)
}

func TestRunner_Go(t *testing.T) {
	t.Run("runs tasks and swallows failures", func(t *testing.T) {
		r := setupRunnerTest(2)
		var ran atomic.Int32

		require.NoError(t, r.Go("ok", func(ctx context.Context) error {
			ran.Add(1)
			return nil
		}))
		require.NoError(t, r.Go("fails", func(ctx context.Context) error {
			ran.Add(1)
			return errors.New("boom")
		}))
		require.NoError(t, r.Go("panics", func(ctx context.Context) error {
			ran.Add(1)
			panic("kaboom")
		}))

		r.Wait()
		assert.Equal(t, int32(3), ran.Load())
		require.NoError(t, r.Shutdown(context.Background()))
	})

	t.Run("bounded concurrency", func(t *testing.T) {
		r := setupRunnerTest(2)
		var running, peak atomic.Int32
		for i := 0; i < 10; i++ {
			require.NoError(t, r.Go("work", func(ctx context.Context) error {
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				running.Add(-1)
				return nil
			}))
		}
		r.Wait()
		assert.LessOrEqual(t, peak.Load(), int32(2))
	})

	t.Run("rejects after shutdown", func(t *testing.T) {
		r := setupRunnerTest(1)
		require.NoError(t, r.Shutdown(context.Background()))
		err := r.Go("late", func(ctx context.Context) error { return nil })
		assert.ErrorIs(t, err, ErrRunnerClosed)
	})
}

func TestRunner_Shutdown(t *testing.T) {
	t.Run("cancels stragglers when the deadline passes", func(t *testing.T) {
		r := setupRunnerTest(1)
		started := make(chan struct{})
		require.NoError(t, r.Go("slow", func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		}))
		<-started

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		err := r.Shutdown(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
