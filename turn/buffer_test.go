package turn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confabhq/confab/internal/testutil"
)

func TestStreamBufferDebouncesChunksIntoOneFlush(t *testing.T) {
	clock := testutil.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	buf := NewStreamBuffer(200*time.Millisecond, clock)

	// Three chunks arriving over 40ms stay buffered for the whole window.
	for _, chunk := range []string{"Hel", "lo, ", "world"} {
		buf.Enqueue(chunk)
		if out, ok := buf.TryFlush(); ok {
			t.Fatalf("unexpected intermediate flush %q", out)
		}
		clock.Advance(20 * time.Millisecond)
	}

	clock.Advance(200 * time.Millisecond)
	out, ok := buf.TryFlush()
	require.True(t, ok)
	assert.Equal(t, "Hello, world", out)
	assert.Equal(t, 1, buf.Flushes())
	assert.Equal(t, 0, buf.Pending())
	assert.Equal(t, "Hello, world", buf.Accumulated())
}

func TestStreamBufferForceFlushIdempotent(t *testing.T) {
	clock := testutil.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	buf := NewStreamBuffer(200*time.Millisecond, clock)

	buf.Enqueue("partial reply")
	assert.Equal(t, "partial reply", buf.Flush())

	// A second force flush with nothing pending is a no-op.
	assert.Equal(t, "", buf.Flush())
	assert.Equal(t, 1, buf.Flushes())
	assert.Equal(t, "partial reply", buf.Accumulated())
}

func TestStreamBufferFlushResetsTimer(t *testing.T) {
	clock := testutil.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	buf := NewStreamBuffer(100*time.Millisecond, clock)

	buf.Enqueue("one")
	clock.Advance(100 * time.Millisecond)
	out, ok := buf.TryFlush()
	require.True(t, ok)
	assert.Equal(t, "one", out)

	// The window restarts at the flush, not at the next enqueue.
	buf.Enqueue("two")
	_, ok = buf.TryFlush()
	assert.False(t, ok)

	clock.Advance(99 * time.Millisecond)
	_, ok = buf.TryFlush()
	assert.False(t, ok)

	clock.Advance(1 * time.Millisecond)
	out, ok = buf.TryFlush()
	require.True(t, ok)
	assert.Equal(t, "two", out)
}

func TestStreamBufferAccumulatorSpansFlushes(t *testing.T) {
	clock := testutil.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	buf := NewStreamBuffer(50*time.Millisecond, clock)

	buf.Enqueue("alpha ")
	clock.Advance(50 * time.Millisecond)
	first, ok := buf.TryFlush()
	require.True(t, ok)

	buf.Enqueue("beta")
	clock.Advance(50 * time.Millisecond)
	second, ok := buf.TryFlush()
	require.True(t, ok)

	// Concatenated flushes reproduce the accumulated stream exactly.
	assert.Equal(t, buf.Accumulated(), first+second)
	assert.Equal(t, "alpha beta", buf.Accumulated())
	assert.Equal(t, 2, buf.Flushes())
}

func TestStreamBufferIgnoresEmptyChunks(t *testing.T) {
	clock := testutil.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	buf := NewStreamBuffer(0, clock)

	buf.Enqueue("")
	assert.Equal(t, 0, buf.Pending())
	_, ok := buf.TryFlush()
	assert.False(t, ok)
	assert.Equal(t, "", buf.Accumulated())
}
