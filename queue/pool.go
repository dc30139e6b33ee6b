package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/confabhq/confab/core"
	"github.com/confabhq/confab/logging"
	"github.com/confabhq/confab/metrics"
)

// Pool defaults.
const (
	DefaultWorkers = 4
	DefaultBuffer  = 1024
)

// ErrShutDown is returned by Submit once Shutdown has begun.
var ErrShutDown = errors.New("task queue is shut down")

// PoolOptions configures a Pool.
type PoolOptions struct {
	// Workers is the number of concurrent task runners.
	Workers int

	// Buffer is the queued-task channel capacity. Submissions beyond it
	// spill to background senders instead of blocking the caller.
	Buffer int

	// Logger receives task diagnostics.
	Logger logging.Logger

	// Metrics records task outcomes and queue depth. Nil is valid.
	Metrics *metrics.Metrics
}

// Pool is the in-process TaskQueue: a fixed worker group draining a buffered
// channel. Delayed submissions and retries re-enter the channel through
// timers, so no worker is ever parked waiting out a backoff. Submit never
// blocks, which keeps workers free to submit follow-up tasks from inside a
// running task.
type Pool struct {
	tasks chan attempt
	opts  PoolOptions

	group   *errgroup.Group
	baseCtx context.Context

	mu      sync.Mutex
	closed  bool
	started bool
	timers  map[*time.Timer]struct{}
	pending sync.WaitGroup
}

var _ core.TaskQueue = (*Pool)(nil)

// attempt is one scheduled execution of a task.
type attempt struct {
	task core.Task
	opts core.SubmitOptions
	n    int // 1-based attempt number about to run
}

// NewPool creates a pool. Workers start on Start.
func NewPool(optFns ...func(o *PoolOptions)) *Pool {
	opts := PoolOptions{
		Workers: DefaultWorkers,
		Buffer:  DefaultBuffer,
		Logger:  logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Pool{
		tasks:  make(chan attempt, opts.Buffer),
		opts:   opts,
		timers: make(map[*time.Timer]struct{}),
	}
}

// Start launches the worker group. Tasks submitted before Start wait in the
// buffer. Task contexts descend from ctx, so canceling it cancels in-flight
// work.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true
	p.group, p.baseCtx = errgroup.WithContext(ctx)
	for i := 0; i < p.opts.Workers; i++ {
		p.group.Go(p.worker)
	}
	p.opts.Logger.Info("queue.started", "workers", p.opts.Workers, "buffer", p.opts.Buffer)
}

// Submit implements core.TaskQueue.
func (p *Pool) Submit(_ context.Context, task core.Task, optFns ...func(o *core.SubmitOptions)) error {
	if task.Run == nil {
		return errors.New("task has no run function")
	}
	var opts core.SubmitOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	return p.schedule(attempt{task: task, opts: opts, n: 1}, opts.Delay)
}

// schedule places an attempt into the channel, now or after delay.
func (p *Pool) schedule(a attempt, delay time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrShutDown
	}

	if delay > 0 {
		p.pending.Add(1)
		var timer *time.Timer
		timer = time.AfterFunc(delay, func() {
			p.forgetTimer(timer)
			p.send(a)
			p.pending.Done()
		})
		p.timers[timer] = struct{}{}
		return nil
	}

	select {
	case p.tasks <- a:
		p.opts.Metrics.SetQueueDepth(len(p.tasks))
	default:
		p.pending.Add(1)
		go func() {
			p.send(a)
			p.pending.Done()
		}()
	}
	return nil
}

func (p *Pool) send(a attempt) {
	p.tasks <- a
	p.opts.Metrics.SetQueueDepth(len(p.tasks))
}

func (p *Pool) forgetTimer(t *time.Timer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.timers, t)
}

// Shutdown stops intake, drops not-yet-due timers, drains the buffer and
// waits for the workers, or returns early with ctx's error. Retries that
// come due during the drain are dropped.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for timer := range p.timers {
		if timer.Stop() {
			p.pending.Done()
		}
	}
	p.timers = make(map[*time.Timer]struct{})
	started := p.started
	p.mu.Unlock()

	// Sends already in flight finish before the channel closes.
	go func() {
		p.pending.Wait()
		close(p.tasks)
	}()

	if !started {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- p.group.Wait() }()
	select {
	case err := <-done:
		p.opts.Logger.Info("queue.stopped")
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) worker() error {
	for a := range p.tasks {
		p.opts.Metrics.SetQueueDepth(len(p.tasks))
		p.runAttempt(a)
	}
	return nil
}

func (p *Pool) runAttempt(a attempt) {
	start := time.Now()
	err := p.runProtected(a)
	if err == nil {
		p.opts.Metrics.ObserveTask(a.task.Kind, "ok")
		p.opts.Logger.Debug("queue.task_done",
			"kind", a.task.Kind, "attempt", a.n, "elapsed", time.Since(start).String())
		return
	}

	if a.opts.Retry != nil {
		if delay, retry := a.opts.Retry.NextDelay(a.n, err); retry {
			p.opts.Metrics.ObserveTask(a.task.Kind, "retry")
			p.opts.Logger.Warn("queue.task_retry",
				"kind", a.task.Kind, "attempt", a.n, "delay", delay.String(), "error", err.Error())
			next := a
			next.n++
			if err := p.schedule(next, delay); err != nil {
				p.opts.Metrics.ObserveTask(a.task.Kind, "dropped")
				p.opts.Logger.Error("queue.task_dropped", "kind", a.task.Kind, "error", err.Error())
			}
			return
		}
	}

	p.opts.Metrics.ObserveTask(a.task.Kind, "failed")
	p.opts.Logger.Error("queue.task_failed",
		"kind", a.task.Kind, "attempt", a.n, "error", err.Error())
}

// runProtected converts a task panic into an error so one bad task cannot
// take a worker down.
func (p *Pool) runProtected(a attempt) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", a.task.Kind, r)
		}
	}()
	return a.task.Run(p.baseCtx)
}
