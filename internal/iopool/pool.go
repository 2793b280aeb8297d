// Package iopool runs blocking storage and disk work on a bounded set of
// goroutines, separate from the goroutines accepting HTTP requests.
//
// A Pool is a counting semaphore: at most Size operations run at once.
// Waiting for a slot honours the caller's context, so a request whose client
// disconnected while queued never starts its I/O.
package iopool

import (
	"context"
	"runtime"

	"github.com/koustreak/mediavault/internal/errs"
	"golang.org/x/sync/semaphore"
)

// Pool bounds concurrent blocking operations.
type Pool struct {
	sem  *semaphore.Weighted
	size int
}

// New returns a pool with size slots. size <= 0 picks 4×GOMAXPROCS.
func New(size int) *Pool {
	if size <= 0 {
		size = 4 * runtime.GOMAXPROCS(0)
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	return p.size
}

// Go acquires a slot and runs fn on its own goroutine, releasing the slot
// when fn returns. It returns without waiting for fn. The only error is a
// context error while waiting for a slot, in which case fn never runs.
func (p *Pool) Go(ctx context.Context, fn func()) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		if ctxErr := errs.FromContext(err, "waiting for io slot"); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	go func() {
		defer p.sem.Release(1)
		fn()
	}()
	return nil
}

// Do runs fn on the pool and waits for it to return. fn receives ctx and is
// expected to abort promptly once ctx ends; Do always waits so that any
// resource fn acquired is observed by the caller and never leaked.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	done := make(chan error, 1)
	if err := p.Go(ctx, func() { done <- fn(ctx) }); err != nil {
		return err
	}
	return <-done
}

// Call is Do for functions returning a value.
func Call[T any](ctx context.Context, p *Pool, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		out = v
		return err
	})
	return out, err
}
