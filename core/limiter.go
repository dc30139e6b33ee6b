package core

import (
	"fmt"
	"sync"
)

// OpLimiter enforces a maximum number of operations within one bounded
// session, such as ledger mutations during a refinement run or tool rounds
// within a single turn.
type OpLimiter struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewOpLimiter creates a limiter allowing max operations. If max == 0,
// unlimited operations are allowed.
func NewOpLimiter(max int) *OpLimiter {
	return &OpLimiter{max: max}
}

// Increment consumes one operation and returns an error once the limit is
// exceeded.
func (l *OpLimiter) Increment() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.count++
	if l.max > 0 && l.count > l.max {
		return fmt.Errorf("operation limit reached: %d", l.max)
	}

	return nil
}

// Count returns the number of operations consumed so far.
func (l *OpLimiter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.count
}

// Remaining returns how many operations are left, or -1 when unlimited.
func (l *OpLimiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.max == 0 {
		return -1
	}

	return l.max - l.count
}
