package queue

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaiter_CountsAndWait(t *testing.T) {
	w := NewWaiter()
	w.Add(3)

	expected, completed := w.Counts()
	assert.Equal(t, 3, expected)
	assert.Equal(t, 0, completed)

	for i := 0; i < 3; i++ {
		w.Done()
	}

	err := w.Wait(context.Background(), time.Second)
	require.NoError(t, err)

	expected, completed = w.Counts()
	assert.Equal(t, 3, expected)
	assert.Equal(t, 3, completed)
}

func TestWaiter_Timeout(t *testing.T) {
	w := NewWaiter()
	w.Add(2)
	w.Done()

	err := w.Wait(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrWaitTimeout)
}

func TestWaiter_ZeroExpected(t *testing.T) {
	w := NewWaiter()
	require.NoError(t, w.Wait(context.Background(), time.Second))
}

func TestWaiter_ConcurrentDone(t *testing.T) {
	w := NewWaiter()
	const n = 50
	w.Add(n)
	for i := 0; i < n; i++ {
		go w.Done()
	}
	require.NoError(t, w.Wait(context.Background(), 2*time.Second))
}

func TestPool_ExecutesJobsAndSignalsWaiter(t *testing.T) {
	var executed atomic.Int64
	pool, err := NewPool(4, 16, func(_ context.Context, job Job) error {
		executed.Add(1)
		return nil
	}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	pool.Start(ctx)

	w := NewWaiter()
	const jobs = 10
	for i := 0; i < jobs; i++ {
		w.Add(1)
		payload, _ := json.Marshal(map[string]int{"n": i})
		job := Job{Kind: "issue", ProjectID: 1, Payload: payload}.WithDone(w.Done)
		require.NoError(t, pool.Enqueue(ctx, job))
	}

	require.NoError(t, w.Wait(ctx, 2*time.Second))
	assert.Equal(t, int64(jobs), executed.Load())
	pool.Close()
}

func TestPool_DelayedEnqueue(t *testing.T) {
	done := make(chan struct{})
	pool, err := NewPool(1, 1, func(_ context.Context, _ Job) error {
		close(done)
		return nil
	}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	pool.Start(ctx)
	defer pool.Close()

	start := time.Now()
	require.NoError(t, pool.EnqueueIn(ctx, Job{Kind: "note"}, 30*time.Millisecond))

	select {
	case <-done:
		assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("delayed job never ran")
	}
}

func TestPool_EnqueueAfterCloseFails(t *testing.T) {
	pool, err := NewPool(1, 1, func(_ context.Context, _ Job) error { return nil }, nil)
	require.NoError(t, err)

	ctx := context.Background()
	pool.Start(ctx)
	pool.Close()

	assert.Error(t, pool.Enqueue(ctx, Job{Kind: "issue"}))
	assert.Error(t, pool.EnqueueIn(ctx, Job{Kind: "issue"}, time.Millisecond))
}

func TestPool_ConcurrentEnqueueAndClose(t *testing.T) {
	pool, err := NewPool(4, 64, func(_ context.Context, _ Job) error { return nil }, nil)
	require.NoError(t, err)

	ctx := context.Background()
	pool.Start(ctx)

	// Hammer Enqueue while Close runs. Accepted jobs go through a closing
	// channel only if the close guard is broken, which panics the senders.
	const enqueuers = 8
	stop := make(chan struct{})
	finished := make(chan struct{}, enqueuers)
	for i := 0; i < enqueuers; i++ {
		go func() {
			defer func() { finished <- struct{}{} }()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if err := pool.Enqueue(ctx, Job{Kind: "issue"}); err != nil {
					return
				}
			}
		}()
	}

	time.Sleep(10 * time.Millisecond)
	pool.Close()
	close(stop)
	for i := 0; i < enqueuers; i++ {
		select {
		case <-finished:
		case <-time.After(2 * time.Second):
			t.Fatal("enqueuer did not finish after Close")
		}
	}
}

func TestPool_HandlerErrorStillSignals(t *testing.T) {
	pool, err := NewPool(1, 1, func(_ context.Context, _ Job) error {
		return assert.AnError
	}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	pool.Start(ctx)
	defer pool.Close()

	w := NewWaiter()
	w.Add(1)
	require.NoError(t, pool.Enqueue(ctx, Job{Kind: "issue"}.WithDone(w.Done)))
	require.NoError(t, w.Wait(ctx, 2*time.Second))
}
