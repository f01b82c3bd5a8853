// Package worker provides a bounded pool for best-effort background tasks:
// online-flag mirror writes, bus publishes and other work that must never
// block a connection's event loop.
package worker

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Task is a unit of background work.
type Task func()

// Pool runs tasks on a fixed set of goroutines. When the queue is full a
// submitted task is dropped rather than blocking the caller; dropped work is
// best-effort by contract.
type Pool struct {
	workers int
	tasks   chan Task
	ctx     context.Context
	wg      sync.WaitGroup
	dropped int64
	logger  zerolog.Logger
}

// NewPool creates a pool with the given worker count and queue capacity.
func NewPool(workers, queueSize int, logger zerolog.Logger) *Pool {
	return &Pool{
		workers: workers,
		tasks:   make(chan Task, queueSize),
		logger:  logger.With().Str("component", "worker_pool").Logger(),
	}
}

// Start launches the workers. Must be called once before Submit.
func (p *Pool) Start(ctx context.Context) {
	p.ctx = ctx
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run()
	}
}

func (p *Pool) run() {
	defer p.wg.Done()
	for {
		select {
		case task := <-p.tasks:
			if task == nil {
				continue
			}
			func() {
				defer func() {
					if r := recover(); r != nil {
						p.logger.Error().
							Interface("panic_value", r).
							Str("stack_trace", string(debug.Stack())).
							Msg("Task panic recovered, worker continues")
					}
				}()
				task()
			}()
		case <-p.ctx.Done():
			return
		}
	}
}

// Submit enqueues a task; if the queue is full the task is dropped and the
// drop counter incremented.
func (p *Pool) Submit(task Task) {
	select {
	case p.tasks <- task:
	default:
		atomic.AddInt64(&p.dropped, 1)
	}
}

// Stop waits for workers to exit after the start context is cancelled.
func (p *Pool) Stop() {
	p.wg.Wait()
}

// Dropped returns the number of tasks dropped due to a full queue.
func (p *Pool) Dropped() int64 { return atomic.LoadInt64(&p.dropped) }

// QueueDepth returns the number of queued tasks.
func (p *Pool) QueueDepth() int { return len(p.tasks) }
