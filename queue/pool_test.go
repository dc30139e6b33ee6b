package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confabhq/confab/core"
	"github.com/confabhq/confab/model"
)

func waitFor(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tasks")
	}
}

func TestPoolRunsSubmittedTasks(t *testing.T) {
	ctx := context.Background()
	pool := NewPool(func(o *PoolOptions) { o.Workers = 2; o.Buffer = 8 })
	pool.Start(ctx)
	defer pool.Shutdown(ctx)

	var ran atomic.Int32
	var wg sync.WaitGroup
	wg.Add(5)
	for i := 0; i < 5; i++ {
		err := pool.Submit(ctx, core.Task{Kind: "test.unit", Run: func(context.Context) error {
			ran.Add(1)
			wg.Done()
			return nil
		}})
		require.NoError(t, err)
	}

	waitFor(t, &wg)
	assert.Equal(t, int32(5), ran.Load())
}

func TestPoolRunsTasksSubmittedBeforeStart(t *testing.T) {
	ctx := context.Background()
	pool := NewPool(func(o *PoolOptions) { o.Workers = 1; o.Buffer = 8 })

	var wg sync.WaitGroup
	wg.Add(1)
	require.NoError(t, pool.Submit(ctx, core.Task{Kind: "test.early", Run: func(context.Context) error {
		wg.Done()
		return nil
	}}))

	pool.Start(ctx)
	defer pool.Shutdown(ctx)
	waitFor(t, &wg)
}

func TestPoolRetriesUntilSuccess(t *testing.T) {
	ctx := context.Background()
	pool := NewPool(func(o *PoolOptions) { o.Workers = 1 })
	pool.Start(ctx)
	defer pool.Shutdown(ctx)

	policy := NewClassifiedBackoff()
	policy.Base = time.Millisecond
	policy.Jitter = 0

	var attempts atomic.Int32
	done := make(chan struct{})
	flaky := core.Task{Kind: "test.flaky", Run: func(context.Context) error {
		if attempts.Add(1) < 3 {
			return model.NewProviderError("anthropic", 500, errors.New("boom"))
		}
		close(done)
		return nil
	}}

	require.NoError(t, pool.Submit(ctx, flaky, core.WithRetry(policy)))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task never succeeded")
	}
	assert.Equal(t, int32(3), attempts.Load())
}

func TestPoolStopsAfterBudgetExhausted(t *testing.T) {
	ctx := context.Background()
	pool := NewPool(func(o *PoolOptions) { o.Workers = 1 })
	pool.Start(ctx)
	defer pool.Shutdown(ctx)

	policy := NewClassifiedBackoff()
	policy.Base = time.Millisecond
	policy.Jitter = 0

	var attempts atomic.Int32
	hopeless := core.Task{Kind: "test.hopeless", Run: func(context.Context) error {
		attempts.Add(1)
		return model.NewProviderError("anthropic", 502, errors.New("still down"))
	}}

	require.NoError(t, pool.Submit(ctx, hopeless, core.WithRetry(policy)))

	assert.Eventually(t, func() bool { return attempts.Load() == 3 },
		2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(3), attempts.Load(), "server budget is three attempts")
}

func TestPoolDelaysFirstAttempt(t *testing.T) {
	ctx := context.Background()
	pool := NewPool(func(o *PoolOptions) { o.Workers = 1 })
	pool.Start(ctx)
	defer pool.Shutdown(ctx)

	start := time.Now()
	done := make(chan struct{})
	require.NoError(t, pool.Submit(ctx, core.Task{Kind: "test.deferred", Run: func(context.Context) error {
		close(done)
		return nil
	}}, core.WithDelay(50*time.Millisecond)))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("deferred task never ran")
	}
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestPoolRecoversFromTaskPanic(t *testing.T) {
	ctx := context.Background()
	pool := NewPool(func(o *PoolOptions) { o.Workers = 1 })
	pool.Start(ctx)
	defer pool.Shutdown(ctx)

	require.NoError(t, pool.Submit(ctx, core.Task{Kind: "test.panic", Run: func(context.Context) error {
		panic("unexpected")
	}}))

	var wg sync.WaitGroup
	wg.Add(1)
	require.NoError(t, pool.Submit(ctx, core.Task{Kind: "test.after", Run: func(context.Context) error {
		wg.Done()
		return nil
	}}))

	waitFor(t, &wg)
}

func TestPoolShutdownDrainsBuffer(t *testing.T) {
	ctx := context.Background()
	pool := NewPool(func(o *PoolOptions) { o.Workers = 1; o.Buffer = 16 })
	pool.Start(ctx)

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Submit(ctx, core.Task{Kind: "test.drain", Run: func(context.Context) error {
			time.Sleep(time.Millisecond)
			ran.Add(1)
			return nil
		}}))
	}

	require.NoError(t, pool.Shutdown(ctx))
	assert.Equal(t, int32(10), ran.Load(), "shutdown drains accepted work")

	err := pool.Submit(ctx, core.Task{Kind: "test.late", Run: func(context.Context) error { return nil }})
	require.ErrorIs(t, err, ErrShutDown)
}

func TestPoolShutdownDropsPendingTimers(t *testing.T) {
	ctx := context.Background()
	pool := NewPool(func(o *PoolOptions) { o.Workers = 1 })
	pool.Start(ctx)

	var ran atomic.Int32
	require.NoError(t, pool.Submit(ctx, core.Task{Kind: "test.future", Run: func(context.Context) error {
		ran.Add(1)
		return nil
	}}, core.WithDelay(5*time.Second)))

	start := time.Now()
	require.NoError(t, pool.Shutdown(ctx))
	assert.Less(t, time.Since(start), time.Second, "shutdown does not wait out timers")
	assert.Equal(t, int32(0), ran.Load())
}
