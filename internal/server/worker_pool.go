package server

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/dialog-im/dialogd/internal/monitoring"
)

// Task is a work item for the worker pool: journal writes and sweeper
// notification fan-out that must not run on a handler's critical path.
type Task func()

// WorkerPool runs a fixed set of worker goroutines over a bounded queue.
// A full queue drops the task rather than blocking the submitter; dropped
// counts surface in metrics.
type WorkerPool struct {
	workerCount  int
	taskQueue    chan Task
	ctx          context.Context
	wg           sync.WaitGroup
	droppedTasks int64
	logger       zerolog.Logger
}

func NewWorkerPool(workerCount, queueSize int, logger zerolog.Logger) *WorkerPool {
	return &WorkerPool{
		workerCount: workerCount,
		taskQueue:   make(chan Task, queueSize),
		logger:      logger.With().Str("component", "worker_pool").Logger(),
	}
}

// Start launches the workers. Must be called before Submit.
func (wp *WorkerPool) Start(ctx context.Context) {
	wp.ctx = ctx
	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker()
	}
}

func (wp *WorkerPool) worker() {
	defer wp.wg.Done()
	for {
		select {
		case task, ok := <-wp.taskQueue:
			if !ok {
				return
			}
			wp.run(task)
		case <-wp.ctx.Done():
			// Drain what is already queued before exiting; journal rows
			// for calls that ended during shutdown should still land.
			for {
				select {
				case task, ok := <-wp.taskQueue:
					if !ok {
						return
					}
					wp.run(task)
				default:
					return
				}
			}
		}
	}
}

func (wp *WorkerPool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			wp.logger.Error().
				Interface("panic_value", r).
				Str("stack_trace", string(debug.Stack())).
				Msg("Worker panic recovered")
		}
	}()
	task()
	monitoring.WorkerQueueDepth.Set(float64(len(wp.taskQueue)))
}

// Submit enqueues a task, dropping it if the queue is full.
func (wp *WorkerPool) Submit(task Task) {
	select {
	case wp.taskQueue <- task:
		monitoring.WorkerQueueDepth.Set(float64(len(wp.taskQueue)))
	default:
		atomic.AddInt64(&wp.droppedTasks, 1)
		monitoring.WorkerTasksDropped.Inc()
	}
}

// Stop closes the queue and waits for workers to finish the remainder.
func (wp *WorkerPool) Stop() {
	close(wp.taskQueue)
	wp.wg.Wait()
}

// DroppedTasks reports how many tasks were dropped on a full queue.
func (wp *WorkerPool) DroppedTasks() int64 {
	return atomic.LoadInt64(&wp.droppedTasks)
}
