package speech

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("speech worker pool closed")

type job struct {
	ctx context.Context
	run func(context.Context)
}

// Pool runs synthesis jobs on a fixed set of workers fed by a bounded queue.
// Submit blocks while the queue is full until a slot frees up or the
// caller's context ends. Queued jobs whose context has ended are dropped
// without running.
type Pool struct {
	jobs chan job

	mu     sync.RWMutex
	closed bool

	wg      sync.WaitGroup
	queued  atomic.Int64
	onDepth func(int)
}

// NewPool starts workers goroutines. onDepth, when set, receives the queue
// depth after every change.
func NewPool(workers, queueSize int, onDepth func(int)) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	p := &Pool{
		jobs:    make(chan job, queueSize),
		onDepth: onDepth,
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for j := range p.jobs {
		p.reportDepth(p.queued.Add(-1))
		if j.ctx.Err() != nil {
			continue
		}
		j.run(j.ctx)
	}
}

// Submit enqueues run. It returns once the job is queued, not when it ran.
func (p *Pool) Submit(ctx context.Context, run func(context.Context)) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case p.jobs <- job{ctx: ctx, run: run}:
		p.reportDepth(p.queued.Add(1))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs and waits for queued ones to drain.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// Depth reports how many jobs are waiting for a worker.
func (p *Pool) Depth() int {
	n := p.queued.Load()
	if n < 0 {
		return 0
	}
	return int(n)
}

func (p *Pool) reportDepth(n int64) {
	if p.onDepth == nil {
		return
	}
	if n < 0 {
		n = 0
	}
	p.onDepth(int(n))
}

// Do submits fn to the pool and waits for its result or for ctx to end.
func Do[T any](ctx context.Context, p *Pool, fn func(context.Context) (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)

	var zero T
	err := p.Submit(ctx, func(ctx context.Context) {
		v, err := fn(ctx)
		done <- result{value: v, err: err}
	})
	if err != nil {
		return zero, err
	}

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
