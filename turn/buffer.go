package turn

import (
	"strings"
	"time"

	"github.com/confabhq/confab/core"
)

// Default flush intervals for the two stream channels.
const (
	DefaultContentInterval   = 200 * time.Millisecond
	DefaultReasoningInterval = 100 * time.Millisecond
)

// StreamBuffer debounces one channel of streamed chunks. Enqueued chunks
// collect in a pending buffer and a full-turn accumulator; Flush drains the
// pending buffer (exactly the buffered substring, arrival order) while the
// accumulator keeps everything for fallback use at finalization.
//
// The last-flush time starts at construction, so chunks arriving within the
// first interval do not trigger an immediate write.
//
// A buffer belongs to a single turn and is driven from that turn's event
// loop; it is not safe for concurrent use.
type StreamBuffer struct {
	pending   strings.Builder
	acc       strings.Builder
	lastFlush time.Time
	interval  time.Duration
	clock     core.Clock
	flushes   int
}

// NewStreamBuffer creates a buffer with the given flush interval. A nil
// clock uses the system clock.
func NewStreamBuffer(interval time.Duration, clock core.Clock) *StreamBuffer {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &StreamBuffer{
		interval:  interval,
		clock:     clock,
		lastFlush: clock.Now(),
	}
}

// Enqueue appends a chunk to the pending buffer and the accumulator.
// Empty chunks are ignored.
func (b *StreamBuffer) Enqueue(chunk string) {
	if chunk == "" {
		return
	}
	b.pending.WriteString(chunk)
	b.acc.WriteString(chunk)
}

// ShouldFlush reports whether enough time has passed since the last flush.
func (b *StreamBuffer) ShouldFlush(now time.Time) bool {
	return b.lastFlush.IsZero() || now.Sub(b.lastFlush) >= b.interval
}

// Flush drains and returns the pending buffer, resetting the flush timer.
// Returns "" when nothing is pending; the accumulator is left intact.
func (b *StreamBuffer) Flush() string {
	b.lastFlush = b.clock.Now()
	if b.pending.Len() == 0 {
		return ""
	}
	out := b.pending.String()
	b.pending.Reset()
	b.flushes++
	return out
}

// TryFlush flushes only when the interval has elapsed and chunks are
// pending. The opportunistic path called after every enqueue.
func (b *StreamBuffer) TryFlush() (string, bool) {
	if b.pending.Len() == 0 || !b.ShouldFlush(b.clock.Now()) {
		return "", false
	}
	return b.Flush(), true
}

// Pending returns the number of buffered bytes awaiting flush.
func (b *StreamBuffer) Pending() int {
	return b.pending.Len()
}

// Accumulated returns everything enqueued over the turn, flushed or not.
func (b *StreamBuffer) Accumulated() string {
	return b.acc.String()
}

// Flushes returns how many non-empty flushes have occurred.
func (b *StreamBuffer) Flushes() int {
	return b.flushes
}
