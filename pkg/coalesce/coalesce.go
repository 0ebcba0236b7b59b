// Package coalesce collapses concurrent loads of the same key into one call.
//
// The first caller for a key starts the load; callers arriving while it runs
// attach to it and receive the identical value or error. The key is forgotten
// as soon as the result is published, so the next caller after that starts a
// fresh load. Keys are spread over independent shards so unrelated keys do not
// contend on one lock.
package coalesce

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// DefaultShards is the shard count used when New is given a non-positive value.
const DefaultShards = 32

// LoadFunc produces the value for a key. The context it receives is detached
// from any single caller's cancellation.
type LoadFunc[T any] func(ctx context.Context) (T, error)

// Group coalesces loads returning T.
type Group[T any] struct {
	shards   []singleflight.Group
	inFlight atomic.Int64
}

// New creates a Group with the given number of shards.
func New[T any](shards int) *Group[T] {
	if shards <= 0 {
		shards = DefaultShards
	}
	return &Group[T]{shards: make([]singleflight.Group, shards)}
}

// Do returns the result of load for key, running load only if no load for key
// is already in flight. shared reports whether the result was delivered to
// more than one caller.
//
// If ctx is done before the result is ready, Do returns ctx.Err() for this
// caller only; the load keeps running and other callers still get its result.
func (g *Group[T]) Do(ctx context.Context, key string, load LoadFunc[T]) (v T, shared bool, err error) {
	detached := context.WithoutCancel(ctx)

	ch := g.shard(key).DoChan(key, func() (any, error) {
		g.inFlight.Add(1)
		defer g.inFlight.Add(-1)
		return load(detached)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return v, res.Shared, res.Err
		}
		val, ok := res.Val.(T)
		if !ok && res.Val != nil {
			return v, res.Shared, fmt.Errorf("coalesce: unexpected result type %T for key %q", res.Val, key)
		}
		return val, res.Shared, nil
	case <-ctx.Done():
		return v, false, ctx.Err()
	}
}

// Forget drops key so the next Do starts a new load even if one is running.
func (g *Group[T]) Forget(key string) {
	g.shard(key).Forget(key)
}

// InFlight returns the number of loads currently running.
func (g *Group[T]) InFlight() int {
	return int(g.inFlight.Load())
}

func (g *Group[T]) shard(key string) *singleflight.Group {
	if len(g.shards) == 1 {
		return &g.shards[0]
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &g.shards[h.Sum32()%uint32(len(g.shards))]
}
