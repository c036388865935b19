package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/metric"
)

type testWork struct {
	id    int
	delay time.Duration
	fail  bool
}

func process(ctx context.Context, w testWork) error {
	if w.delay > 0 {
		select {
		case <-time.After(w.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if w.fail {
		return errors.New("work failed")
	}
	return nil
}

func TestNewPool_Defaults(t *testing.T) {
	pool := NewPool(5, 100, process)
	assert.Equal(t, 5, pool.workers)
	assert.Equal(t, 100, pool.queueSize)

	pool = NewPool(0, 0, process)
	assert.Equal(t, 10, pool.workers)
	assert.Equal(t, 1000, pool.queueSize)
}

func TestNewPool_NilProcessor(t *testing.T) {
	assert.PanicsWithValue(t, ErrNilProcessor, func() {
		NewPool[testWork](5, 100, nil)
	})
}

func TestPool_Lifecycle(t *testing.T) {
	pool := NewPool(2, 10, process)

	assert.ErrorIs(t, pool.Submit(testWork{id: 1}), ErrPoolNotStarted)

	ctx := context.Background()
	require.NoError(t, pool.Start(ctx))
	assert.ErrorIs(t, pool.Start(ctx), ErrPoolAlreadyStarted)

	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Submit(testWork{id: i}))
	}
	require.NoError(t, pool.Stop(time.Second))
	assert.ErrorIs(t, pool.Submit(testWork{id: 99}), ErrPoolStopped)

	stats := pool.Stats()
	assert.Equal(t, int64(5), stats.Submitted)
	assert.Equal(t, int64(5), stats.Processed)
	assert.Equal(t, 0, stats.Busy)
}

func TestPool_QueueFull(t *testing.T) {
	release := make(chan struct{})
	pool := NewPool(1, 1, func(_ context.Context, _ testWork) error {
		<-release
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))
	defer func() {
		close(release)
		_ = pool.Stop(time.Second)
	}()

	require.NoError(t, pool.Submit(testWork{id: 1}))
	require.Eventually(t, func() bool { return pool.Stats().Busy == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, pool.Submit(testWork{id: 2}))

	assert.ErrorIs(t, pool.Submit(testWork{id: 3}), ErrQueueFull)
	assert.Equal(t, int64(1), pool.Stats().Dropped)
}

func TestPool_FailuresCounted(t *testing.T) {
	pool := NewPool(3, 10, process)
	require.NoError(t, pool.Start(context.Background()))

	for i := 0; i < 6; i++ {
		require.NoError(t, pool.Submit(testWork{id: i, fail: i%2 == 0}))
	}
	require.NoError(t, pool.Stop(time.Second))

	assert.Equal(t, int64(6), pool.Stats().Processed)
	assert.Equal(t, int64(3), pool.Stats().Failed)
}

func TestPool_StopTimeout(t *testing.T) {
	pool := NewPool(1, 1, process)
	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Submit(testWork{delay: 300 * time.Millisecond}))

	assert.ErrorIs(t, pool.Stop(10*time.Millisecond), ErrStopTimeout)
}

func TestPool_ConcurrentSubmissions(t *testing.T) {
	var done atomic.Int64
	pool := NewPool(4, 200, func(_ context.Context, _ testWork) error {
		done.Add(1)
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				assert.NoError(t, pool.Submit(testWork{id: g*10 + i}))
			}
		}(g)
	}
	wg.Wait()
	require.NoError(t, pool.Stop(2*time.Second))

	assert.Equal(t, int64(100), done.Load())
}

func TestPool_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	pool := NewPool(2, 10, process, WithMetricsRegistry[testWork](registry, "orchestration"))
	require.NotNil(t, pool.metrics)

	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Submit(testWork{}))
	require.NoError(t, pool.Submit(testWork{fail: true}))
	require.NoError(t, pool.Stop(time.Second))

	assert.Equal(t, 2.0, testutil.ToFloat64(pool.metrics.outcomes.WithLabelValues("submitted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pool.metrics.outcomes.WithLabelValues("processed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pool.metrics.outcomes.WithLabelValues("failed")))
}
