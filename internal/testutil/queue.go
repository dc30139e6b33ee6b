package testutil

import (
	"context"
	"sync"

	"github.com/confabhq/confab/core"
)

// RecordedTask is one submission captured by a QueueRecorder.
type RecordedTask struct {
	Task    core.Task
	Options core.SubmitOptions
}

// QueueRecorder is a core.TaskQueue that records submissions instead of
// executing them. Tests drain it explicitly, which makes multi-step
// scheduling (sequencer chains, sweep fan-out) observable and deterministic.
type QueueRecorder struct {
	mu      sync.Mutex
	pending []RecordedTask
	all     []RecordedTask
}

// NewQueueRecorder constructs an empty recorder.
func NewQueueRecorder() *QueueRecorder {
	return &QueueRecorder{}
}

// Submit implements core.TaskQueue.
func (q *QueueRecorder) Submit(_ context.Context, task core.Task, optFns ...func(o *core.SubmitOptions)) error {
	opts := core.SubmitOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	rec := RecordedTask{Task: task, Options: opts}
	q.pending = append(q.pending, rec)
	q.all = append(q.all, rec)
	return nil
}

// Len returns the number of pending (not yet run) tasks.
func (q *QueueRecorder) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Submitted returns every recorded submission, run or not, in order.
func (q *QueueRecorder) Submitted() []RecordedTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]RecordedTask(nil), q.all...)
}

// Pop removes and returns the oldest pending task.
func (q *QueueRecorder) Pop() (RecordedTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return RecordedTask{}, false
	}
	rec := q.pending[0]
	q.pending = q.pending[1:]
	return rec, true
}

// RunNext executes the oldest pending task once, ignoring delay and retry
// options. It reports whether a task was available.
func (q *QueueRecorder) RunNext(ctx context.Context) (bool, error) {
	rec, ok := q.Pop()
	if !ok {
		return false, nil
	}
	return true, rec.Task.Run(ctx)
}

// RunAll executes pending tasks in FIFO order, including tasks submitted
// while draining, until the queue is empty or a task fails.
func (q *QueueRecorder) RunAll(ctx context.Context) error {
	for {
		ran, err := q.RunNext(ctx)
		if err != nil {
			return err
		}
		if !ran {
			return nil
		}
	}
}
