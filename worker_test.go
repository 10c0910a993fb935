package gomarket

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWorkerPoolSingleWorkerKeepsOrder(t *testing.T) {
	ctx := context.Background()
	wp := NewWorkerPool(1, 4, zap.NewNop())

	var (
		mu  sync.Mutex
		got []int
	)
	for i := 0; i < 100; i++ {
		i := i
		require.NoError(t, wp.Submit(ctx, func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}
	wp.Shutdown()

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestWorkerPoolShutdownDrains(t *testing.T) {
	ctx := context.Background()
	wp := NewWorkerPool(4, 64, zap.NewNop())

	var n atomic.Int64
	for i := 0; i < 64; i++ {
		require.NoError(t, wp.Submit(ctx, func() { n.Add(1) }))
	}
	wp.Shutdown()
	wp.Shutdown()

	assert.Equal(t, int64(64), n.Load())
	assert.ErrorIs(t, wp.Submit(ctx, func() {}), ErrPoolClosed)
}

func TestWorkerPoolSurvivesPanic(t *testing.T) {
	ctx := context.Background()
	wp := NewWorkerPool(0, -1, zap.NewNop())

	ran := make(chan struct{})
	require.NoError(t, wp.Submit(ctx, func() { panic("boom") }))
	require.NoError(t, wp.Submit(ctx, func() { close(ran) }))

	<-ran
	wp.Shutdown()
}

func TestWorkerPoolSubmitHonoursContext(t *testing.T) {
	wp := NewWorkerPool(1, 0, zap.NewNop())

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, wp.Submit(context.Background(), func() {
		close(started)
		<-release
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, wp.Submit(ctx, func() {}), context.DeadlineExceeded, "a busy writer does not hold the caller")

	close(release)
	wp.Shutdown()
}
