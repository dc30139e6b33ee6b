package core

import (
	"context"
	"time"
)

// Task is one independently schedulable, retryable unit of work: an agent
// turn, a sequencer step, a memory sweep item or an initiation decision.
// Kind names the work for logs and metrics ("turn.run", "memory.consolidate").
type Task struct {
	Kind string
	Run  func(ctx context.Context) error
}

// RetryPolicy decides whether a failed task attempt runs again. attempt is
// 1-based and counts the attempt that just failed. Implementations return the
// delay before the next attempt and false when the task should fail
// terminally.
type RetryPolicy interface {
	NextDelay(attempt int, err error) (time.Duration, bool)
}

// SubmitOptions carries per-submission scheduling parameters.
type SubmitOptions struct {
	// Delay defers the first attempt.
	Delay time.Duration
	// Retry governs re-execution after failures. Nil means no retries.
	Retry RetryPolicy
}

// WithDelay defers the task's first attempt by d.
func WithDelay(d time.Duration) func(o *SubmitOptions) {
	return func(o *SubmitOptions) { o.Delay = d }
}

// WithRetry attaches a retry policy to the submission.
func WithRetry(p RetryPolicy) func(o *SubmitOptions) {
	return func(o *SubmitOptions) { o.Retry = p }
}

// TaskQueue is the durable task queue contract the core schedules through.
// Submit enqueues a task for asynchronous execution; it returns an error only
// when the queue cannot accept work (shut down), never for task failures.
type TaskQueue interface {
	Submit(ctx context.Context, task Task, optFns ...func(o *SubmitOptions)) error
}
