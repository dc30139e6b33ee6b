// Package schedule drives the periodic sweeps: consolidation, reflection,
// refinement and initiation each run on their own cadence in their own
// goroutine. A sweep that overruns its interval simply absorbs the missed
// ticks; two passes of the same sweep never overlap, and a weighted
// semaphore bounds how many different sweeps run at once.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/confabhq/confab/logging"
)

// Sweeper runs one sweep pass. The memory sweeps and the initiation engine
// implement it.
type Sweeper interface {
	Run(ctx context.Context) error
}

// SweeperFunc adapts a function to the Sweeper interface.
type SweeperFunc func(ctx context.Context) error

// Run implements Sweeper.
func (f SweeperFunc) Run(ctx context.Context) error { return f(ctx) }

// Job is one recurring sweep.
type Job struct {
	// Name identifies the job in logs ("consolidate", "initiate").
	Name string

	// Every is the sweep cadence. Zero or negative disables the job.
	Every time.Duration

	// Immediate runs the first pass at Start instead of waiting out the
	// first interval.
	Immediate bool

	// Sweeper does the work.
	Sweeper Sweeper
}

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	// MaxConcurrentSweeps bounds how many sweeps may run at the same time
	// across all jobs. A sweep past the bound waits for a slot.
	MaxConcurrentSweeps int

	// Logger receives sweep diagnostics.
	Logger logging.Logger
}

// Scheduler runs registered jobs on their cadences until stopped. Sweep
// failures and panics are logged and never stop the loop.
type Scheduler struct {
	opts SchedulerOptions
	sem  *semaphore.Weighted

	mu      sync.Mutex
	jobs    []Job
	cancel  context.CancelFunc
	group   *errgroup.Group
	started bool
}

// New creates a scheduler. Register jobs with Add before Start.
func New(optFns ...func(o *SchedulerOptions)) *Scheduler {
	opts := SchedulerOptions{
		MaxConcurrentSweeps: 2,
		Logger:              logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxConcurrentSweeps <= 0 {
		opts.MaxConcurrentSweeps = 2
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Scheduler{
		opts: opts,
		sem:  semaphore.NewWeighted(int64(opts.MaxConcurrentSweeps)),
	}
}

// Add registers a job. Calls after Start are ignored.
func (s *Scheduler) Add(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.jobs = append(s.jobs, job)
}

// Start launches one loop per enabled job. Sweep contexts descend from ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.group, _ = errgroup.WithContext(loopCtx)

	for _, job := range s.jobs {
		if job.Every <= 0 || job.Sweeper == nil {
			s.opts.Logger.Info("schedule.job_disabled", "job", job.Name)
			continue
		}
		job := job
		s.group.Go(func() error {
			s.runJob(loopCtx, job)
			return nil
		})
		s.opts.Logger.Info("schedule.job_started", "job", job.Name, "every", job.Every.String())
	}
}

// Stop cancels all loops and waits for in-flight sweeps to return. It is
// safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	group := s.group
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if group != nil {
		_ = group.Wait()
	}
	s.opts.Logger.Info("schedule.stopped")
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Every)
	defer ticker.Stop()

	if job.Immediate {
		s.sweep(ctx, job)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx, job)
		}
	}
}

// sweep runs one pass with panic isolation, waiting for a concurrency slot
// first. A canceled context while waiting skips the pass.
func (s *Scheduler) sweep(ctx context.Context, job Job) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer s.sem.Release(1)

	defer func() {
		if r := recover(); r != nil {
			s.opts.Logger.Error("schedule.sweep_panic", "job", job.Name, "panic", fmt.Sprint(r))
		}
	}()

	start := time.Now()
	if err := job.Sweeper.Run(ctx); err != nil {
		s.opts.Logger.Error("schedule.sweep_failed", "job", job.Name, "error", err.Error())
		return
	}
	s.opts.Logger.Debug("schedule.sweep_done", "job", job.Name, "elapsed", time.Since(start).String())
}
