// Package pool provides a fixed-size worker pool draining a bounded task
// queue, used by reactor/hsha to run user handlers off the event loop
// thread.
package pool

import (
	"fmt"
	"sync"

	"github.com/halfsync/reactor"
)

// WorkerPool runs n goroutines, each popping tasks from queue until
// Close is called and the queue drains. A panicking task is recovered
// and logged; it never takes down the worker.
type WorkerPool struct {
	queue *reactor.TaskQueue
	n     int

	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
}

// New creates a WorkerPool of n workers backed by a bounded queue of the
// given capacity (non-positive means unbounded). Call Start to spawn the
// worker goroutines.
func New(n int, queueCapacity int) (*WorkerPool, error) {
	if n < 1 {
		return nil, fmt.Errorf("pool: worker count must be >= 1, got %d", n)
	}
	return &WorkerPool{
		queue: reactor.NewTaskQueue(queueCapacity),
		n:     n,
	}, nil
}

// Start spawns the worker goroutines. Safe to call only once; subsequent
// calls are no-ops.
func (p *WorkerPool) Start() {
	p.startOnce.Do(func() {
		p.wg.Add(p.n)
		for i := 0; i < p.n; i++ {
			go p.worker()
		}
	})
}

// Submit enqueues fn to run on some worker goroutine. Blocks if the
// queue is at capacity.
func (p *WorkerPool) Submit(fn func()) error {
	return p.queue.Push(reactor.Task{Runnable: fn})
}

// TrySubmit enqueues fn without blocking, returning an error if the
// queue is full or closed.
func (p *WorkerPool) TrySubmit(fn func()) error {
	return p.queue.TryPush(reactor.Task{Runnable: fn})
}

// Close flips the pool closed: no further Submit calls succeed, but
// workers keep draining whatever is already queued. Close does not
// block; call Join to wait for workers to finish draining.
func (p *WorkerPool) Close() {
	p.closeOnce.Do(func() {
		p.queue.Close()
	})
}

// Join blocks until every worker goroutine has exited, which only
// happens once the queue is both closed and empty. Join must be called
// after Close.
func (p *WorkerPool) Join() {
	p.wg.Wait()
}

// QueueSize returns the number of tasks currently queued.
func (p *WorkerPool) QueueSize() int { return p.queue.Size() }

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for {
		task, ok := p.queue.PopWait(0)
		if !ok {
			return
		}
		p.runTask(task)
	}
}

func (p *WorkerPool) runTask(task reactor.Task) {
	defer func() {
		if r := recover(); r != nil {
			reactor.Log().Err().Any("panic", r).Log("pool: recovered panic in worker task")
		}
	}()
	task.Runnable()
}
