// Package gate bounds the number of in-flight upstream sends.
//
// A Gate is a fixed pool of permits. Waiters are woken in FIFO order when a
// permit is released; nothing polls.
package gate

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DefaultPermits is the permit count used when New is given a non-positive size.
const DefaultPermits = 15

// Gate is a permit pool. The zero value is not usable; use New.
type Gate struct {
	sem     *semaphore.Weighted
	size    int64
	inUse   atomic.Int64
	waiting atomic.Int64
}

// New creates a gate with the given number of permits.
func New(permits int) *Gate {
	if permits <= 0 {
		permits = DefaultPermits
	}
	return &Gate{
		sem:  semaphore.NewWeighted(int64(permits)),
		size: int64(permits),
	}
}

// Acquire blocks until a permit is available or ctx is done. On success the
// caller owns one permit and must call Release exactly once.
func (g *Gate) Acquire(ctx context.Context) error {
	g.waiting.Add(1)
	err := g.sem.Acquire(ctx, 1)
	g.waiting.Add(-1)
	if err != nil {
		return err
	}
	g.inUse.Add(1)
	return nil
}

// TryAcquire takes a permit only if one is free right now.
func (g *Gate) TryAcquire() bool {
	if !g.sem.TryAcquire(1) {
		return false
	}
	g.inUse.Add(1)
	return true
}

// Release returns one permit. It panics if no permit is held.
func (g *Gate) Release() {
	g.inUse.Add(-1)
	g.sem.Release(1)
}

// Do runs fn while holding a permit. The permit is released on every exit
// path, including a panic in fn.
func (g *Gate) Do(ctx context.Context, fn func() error) error {
	if err := g.Acquire(ctx); err != nil {
		return err
	}
	defer g.Release()
	return fn()
}

// Size returns the total number of permits.
func (g *Gate) Size() int {
	return int(g.size)
}

// InUse returns the number of permits currently held.
func (g *Gate) InUse() int {
	return int(g.inUse.Load())
}

// Waiting returns the number of callers blocked in Acquire.
func (g *Gate) Waiting() int {
	return int(g.waiting.Load())
}
