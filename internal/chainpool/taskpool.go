// Copyright (c) 2025 Neomantra Corp

// Package chainpool implements the fixed-size worker pool and job pool
// substrate used throughout the option-chain retrieval pipeline to bound
// concurrency against a market-data provider's rate limits.
package chainpool

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Future is the result of a task submitted to a Pool. It resolves exactly
// once, with either a value or an error captured at call time.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Await blocks until the task backing this Future has completed.
func (f *Future[T]) Await() (T, error) {
	<-f.done
	return f.val, f.err
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) resolve(val T, err error) {
	f.val = val
	f.err = err
	close(f.done)
}

// Pool is a fixed-size worker pool returning typed Futures on submission.
// Scheduling is FIFO per submission order; concurrency is bounded by the
// pool's weight (thread count). Cancellation of an already-submitted task
// is not supported: a submitted task always runs to completion.
type Pool[T any] struct {
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	closed chan struct{}
	once   sync.Once
}

// NewPool constructs a Pool with nThreads of concurrency.
func NewPool[T any](nThreads int64) *Pool[T] {
	if nThreads < 1 {
		nThreads = 1
	}
	return &Pool[T]{
		sem:    semaphore.NewWeighted(nThreads),
		closed: make(chan struct{}),
	}
}

// Submit schedules fn for execution and returns a Future for its result.
// Submit itself blocks while the pool is at capacity, waiting for a slot
// in submission order; fn then runs on an internal goroutine. If ctx is
// done before a slot is free, the Future resolves with ctx's error and fn
// is not run.
func (p *Pool[T]) Submit(ctx context.Context, fn func(context.Context) (T, error)) *Future[T] {
	future := newFuture[T]()
	if err := p.sem.Acquire(ctx, 1); err != nil {
		var zero T
		future.resolve(zero, err)
		return future
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		val, err := fn(ctx)
		future.resolve(val, err)
	}()
	return future
}

// Close blocks until every submitted task has finished running. After
// Close returns, the pool must not be used again.
func (p *Pool[T]) Close() {
	p.once.Do(func() {
		close(p.closed)
	})
	p.wg.Wait()
}
