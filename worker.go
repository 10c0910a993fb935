package gomarket

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrPoolClosed is returned by Submit once Shutdown has started.
var ErrPoolClosed = errors.New("gomarket: worker pool is shut down")

// WorkerPool runs submitted tasks on a fixed number of goroutines. With a
// single worker, tasks run one at a time in submission order.
type WorkerPool struct {
	tasks  chan func()
	logger *zap.Logger

	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

func NewWorkerPool(size, backlog int, logger *zap.Logger) *WorkerPool {
	if size < 1 {
		size = 1
	}
	if backlog < 0 {
		backlog = 0
	}

	wp := &WorkerPool{
		tasks:  make(chan func(), backlog),
		logger: logger,
	}

	wp.wg.Add(size)
	for i := 0; i < size; i++ {
		go wp.worker()
	}

	return wp
}

func (wp *WorkerPool) worker() {
	defer wp.wg.Done()
	for task := range wp.tasks {
		wp.run(task)
	}
}

func (wp *WorkerPool) run(task func()) {
	defer func() {
		if p := recover(); p != nil {
			wp.logger.Error("panic in worker task", zap.Any("panic", p))
		}
	}()
	task()
}

// Submit queues task, blocking while the backlog is full until ctx is done.
// A free slot always wins over a done ctx.
func (wp *WorkerPool) Submit(ctx context.Context, task func()) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if wp.closed {
		return ErrPoolClosed
	}

	select {
	case wp.tasks <- task:
		return nil
	default:
	}

	select {
	case wp.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting tasks and waits for queued ones to finish.
func (wp *WorkerPool) Shutdown() {
	wp.mu.Lock()
	if wp.closed {
		wp.mu.Unlock()
		return
	}
	wp.closed = true
	close(wp.tasks)
	wp.mu.Unlock()

	wp.wg.Wait()
}
