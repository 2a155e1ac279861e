package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_RunsAllTasks(t *testing.T) {
	p := NewWorkerPool(4, 2)
	require.NoError(t, p.Start())
	defer p.Stop()

	var count int64
	var wg sync.WaitGroup
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		wg.Add(1)
		err := p.Submit(ctx, func(context.Context) error {
			defer wg.Done()
			atomic.AddInt64(&count, 1)
			return nil
		})
		require.NoError(t, err)
	}
	wg.Wait()

	assert.Equal(t, int64(50), atomic.LoadInt64(&count))
	assert.Equal(t, int64(50), p.GetStats().TotalTasks)
}

func TestWorkerPool_DoReturnsTaskError(t *testing.T) {
	p := NewWorkerPool(1, 1)
	require.NoError(t, p.Start())
	defer p.Stop()

	boom := errors.New("boom")
	err := p.Do(context.Background(), func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(1), p.GetStats().FailedTasks)
}

func TestWorkerPool_SubmitBeforeStart(t *testing.T) {
	p := NewWorkerPool(1, 1)
	err := p.Submit(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolStopped)
}

func TestWorkerPool_SubmitBlocksUntilContextDone(t *testing.T) {
	p := NewWorkerPool(1, 1)
	require.NoError(t, p.Start())
	defer p.Stop()

	release := make(chan struct{})
	block := func(context.Context) error { <-release; return nil }

	ctx := context.Background()
	require.NoError(t, p.Submit(ctx, block)) // taken by the worker
	require.Eventually(t, func() bool { return p.GetStats().ActiveWorkers == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, p.Submit(ctx, block)) // fills the queue

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := p.Submit(short, block)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
}

func TestWorkerPool_StopRunsQueuedTasks(t *testing.T) {
	p := NewWorkerPool(1, 2)
	require.NoError(t, p.Start())

	release := make(chan struct{})
	ctx := context.Background()
	require.NoError(t, p.Submit(ctx, func(context.Context) error { <-release; return nil }))
	require.Eventually(t, func() bool { return p.GetStats().ActiveWorkers == 1 }, time.Second, 5*time.Millisecond)

	var ran int64
	for i := 0; i < 2; i++ {
		require.NoError(t, p.Submit(ctx, func(context.Context) error {
			atomic.AddInt64(&ran, 1)
			return nil
		}))
	}

	// Workers only notice quit once the blocking task returns.
	time.AfterFunc(20*time.Millisecond, func() { close(release) })
	p.Stop()

	assert.Equal(t, int64(2), atomic.LoadInt64(&ran))
	assert.ErrorIs(t, p.Submit(ctx, func(context.Context) error { return nil }), ErrPoolStopped)
}

func TestWorkerPool_AcceptedTasksRunWhenStopRaces(t *testing.T) {
	for i := 0; i < 200; i++ {
		p := NewWorkerPool(1, 1)
		require.NoError(t, p.Start())

		var accepted, ran int64
		var wg sync.WaitGroup
		for j := 0; j < 4; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := p.Submit(context.Background(), func(context.Context) error {
					atomic.AddInt64(&ran, 1)
					return nil
				})
				if err == nil {
					atomic.AddInt64(&accepted, 1)
				}
			}()
		}
		p.Stop()
		wg.Wait()

		require.Equal(t, atomic.LoadInt64(&accepted), atomic.LoadInt64(&ran), "iteration %d", i)
	}
}

func TestWorkerPool_StartAfterStop(t *testing.T) {
	p := NewWorkerPool(1, 1)
	require.NoError(t, p.Start())
	p.Stop()
	p.Stop()
	assert.ErrorIs(t, p.Start(), ErrPoolStopped)
}

func TestWorkerPool_DoubleStart(t *testing.T) {
	p := NewWorkerPool(1, 1)
	require.NoError(t, p.Start())
	defer p.Stop()
	assert.Error(t, p.Start())
}

func TestBufferPool_Reuse(t *testing.T) {
	bp := NewBufferPool(2, 1024, 4096)

	buf := bp.Get()
	buf.WriteString("hello")
	out := bp.Detach(buf)
	assert.Equal(t, []byte("hello"), out)

	again := bp.Get()
	assert.Equal(t, 0, again.Len())
	bp.Put(again)

	stats := bp.GetStats()
	assert.Equal(t, int32(0), stats.InUse)
	assert.Equal(t, int64(2), stats.Hits)
}

func TestBufferPool_DropsOversizedBuffers(t *testing.T) {
	bp := NewBufferPool(0, 16, 32)
	buf := bp.Get()
	buf.Write(make([]byte, 1024))
	before := bp.GetStats().Allocated
	bp.Put(buf)
	assert.Equal(t, before-1, bp.GetStats().Allocated)
}
