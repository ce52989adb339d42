package server

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPoolRunsSubmittedTasks(t *testing.T) {
	pool := NewWorkerPool(2, 16, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	var ran int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		pool.Submit(func() {
			defer wg.Done()
			atomic.AddInt64(&ran, 1)
		})
	}
	wg.Wait()
	pool.Stop()

	assert.Equal(t, int64(10), atomic.LoadInt64(&ran))
	assert.Equal(t, int64(0), pool.DroppedTasks())
}

func TestWorkerPoolDropsWhenQueueFull(t *testing.T) {
	pool := NewWorkerPool(1, 1, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	block := make(chan struct{})
	pool.Submit(func() { <-block })

	// Fill the queue, then overflow it.
	for i := 0; i < 8; i++ {
		pool.Submit(func() {})
	}
	assert.Greater(t, pool.DroppedTasks(), int64(0))

	close(block)
	pool.Stop()
}

func TestWorkerPoolRecoversTaskPanic(t *testing.T) {
	pool := NewWorkerPool(1, 4, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	done := make(chan struct{})
	pool.Submit(func() { panic("task blew up") })
	pool.Submit(func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive the panicking task")
	}
	pool.Stop()
}

func TestWorkerPoolDrainsQueueOnStop(t *testing.T) {
	pool := NewWorkerPool(1, 16, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)

	var ran int64
	for i := 0; i < 5; i++ {
		pool.Submit(func() { atomic.AddInt64(&ran, 1) })
	}
	cancel()
	pool.Stop()

	require.Equal(t, int64(5), atomic.LoadInt64(&ran))
}
