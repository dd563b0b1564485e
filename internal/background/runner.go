package background

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/FACorreiaa/go-trip-planner/app/observability/metrics"
)

const DefaultWorkers = 16

var ErrRunnerClosed = errors.New("background runner is shut down")

// Task is a detached unit of work. Its context belongs to the runner, not to the request that scheduled it.
type Task func(ctx context.Context) error

// Runner executes fire-and-forget tasks with bounded concurrency. Failures are logged and counted,
// never retried and never returned to the caller that scheduled them.
type Runner struct {
	logger  *slog.Logger
	sem     *semaphore.Weighted
	metrics *metrics.AppMetrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewRunner(workers int, logger *slog.Logger) *Runner {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		logger:  logger,
		sem:     semaphore.NewWeighted(int64(workers)),
		metrics: metrics.Get(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Go schedules fn and returns immediately. It returns ErrRunnerClosed once Shutdown has started.
func (r *Runner) Go(name string, fn Task) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.logger.Warn("Dropping background task, runner is shut down", slog.String("task", name))
		return ErrRunnerClosed
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.sem.Acquire(r.ctx, 1); err != nil {
			r.logger.Warn("Background task cancelled before start", slog.String("task", name))
			return
		}
		defer r.sem.Release(1)
		r.run(name, fn)
	}()
	return nil
}

func (r *Runner) run(name string, fn Task) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			r.metrics.TaskFailed(r.ctx, name)
			r.logger.Error("Background task panicked",
				slog.String("task", name),
				slog.Any("panic", p),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	if err := fn(r.ctx); err != nil {
		r.metrics.TaskFailed(r.ctx, name)
		r.logger.Error("Background task failed",
			slog.String("task", name),
			slog.Duration("elapsed", time.Since(start)),
			slog.Any("error", err))
		return
	}
	r.logger.Debug("Background task finished", slog.String("task", name), slog.Duration("elapsed", time.Since(start)))
}

// Wait blocks until every scheduled task has returned. Used by tests and by Shutdown.
func (r *Runner) Wait() { r.wg.Wait() }

// Shutdown stops accepting tasks and waits for running ones. If ctx ends first the task
// context is cancelled and Shutdown still waits for the tasks to observe it.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return fmt.Errorf("background tasks did not drain in time: %w", ctx.Err())
	}
}
