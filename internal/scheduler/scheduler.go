// Package scheduler runs periodic background jobs such as the subscription
// sweep and the expired-token purge.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Ticker is the part of *time.Ticker the runner needs. Tests supply their own.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct {
	t *time.Ticker
}

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

func NewTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

// JobFunc is one pass of a job. A returned error is logged; the job keeps its schedule.
type JobFunc func(ctx context.Context) error

type job struct {
	name     string
	interval time.Duration
	run      JobFunc
	running  atomic.Bool
}

// Runner starts every job once immediately and again on each tick. A tick
// that arrives while the previous pass of the same job is still running is
// skipped.
type Runner struct {
	jobs      []*job
	newTicker func(time.Duration) Ticker
	timeout   time.Duration
	wg        sync.WaitGroup
	cancel    context.CancelFunc
}

func New() *Runner {
	return &Runner{
		newTicker: NewTicker,
		timeout:   10 * time.Minute,
	}
}

// WithTicker replaces the ticker factory.
func (r *Runner) WithTicker(newTicker func(time.Duration) Ticker) *Runner {
	r.newTicker = newTicker
	return r
}

func (r *Runner) Add(name string, interval time.Duration, run JobFunc) {
	r.jobs = append(r.jobs, &job{
		name:     name,
		interval: interval,
		run:      run,
	})
}

func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	for _, j := range r.jobs {
		r.wg.Add(1)
		go r.loop(ctx, j)
	}
	slog.Info("scheduler started", "jobs", len(r.jobs))
}

// Stop cancels running passes and waits for every loop to return.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	slog.Info("scheduler stopped")
}

func (r *Runner) loop(ctx context.Context, j *job) {
	defer r.wg.Done()

	ticker := r.newTicker(j.interval)
	defer ticker.Stop()

	var passes sync.WaitGroup
	defer passes.Wait()

	r.trigger(ctx, j, &passes)
	for {
		select {
		case <-ticker.C():
			r.trigger(ctx, j, &passes)
		case <-ctx.Done():
			return
		}
	}
}

// trigger starts a pass unless the previous one is still running.
func (r *Runner) trigger(ctx context.Context, j *job, passes *sync.WaitGroup) bool {
	if !j.running.CompareAndSwap(false, true) {
		slog.Warn("job still running, skipping tick", "job", j.name)
		return false
	}

	passes.Add(1)
	go func() {
		defer passes.Done()
		defer j.running.Store(false)

		ctx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		start := time.Now()
		err := j.run(ctx)
		if err != nil {
			slog.Error("job failed", "job", j.name, "error", err)
		} else {
			slog.Debug("job finished", "job", j.name, "duration_ms", time.Since(start).Milliseconds())
		}
	}()
	return true
}
