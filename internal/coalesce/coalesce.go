// Package coalesce provides a typed in-flight coalescer: while a computation
// for a key is running, further callers for that key wait for it and receive
// the same outcome instead of starting their own. Nothing is memoized; once
// the computation finishes the next call starts a fresh one.
package coalesce

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Factory produces the value for one key.
type Factory[V any] func(ctx context.Context) (V, error)

// Group coalesces concurrent calls per key. The zero value is ready to use.
type Group[K ~string, V any] struct {
	sf singleflight.Group
}

// Query returns the result of the running computation for key, starting one
// with factory if none is running. The factory runs detached from the
// caller's cancellation so that one impatient caller cannot fail the others;
// a cancelled caller stops waiting and gets ctx.Err().
func (g *Group[K, V]) Query(ctx context.Context, key K, factory Factory[V]) (V, error) {
	v, _, err := g.QueryShared(ctx, key, factory)
	return v, err
}

// QueryShared is Query that also reports whether the result was shared with
// other callers.
func (g *Group[K, V]) QueryShared(ctx context.Context, key K, factory Factory[V]) (V, bool, error) {
	detached := context.WithoutCancel(ctx)
	ch := g.sf.DoChan(string(key), func() (interface{}, error) {
		return factory(detached)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			var zero V
			return zero, res.Shared, res.Err
		}
		v, _ := res.Val.(V)
		return v, res.Shared, nil
	case <-ctx.Done():
		var zero V
		return zero, false, ctx.Err()
	}
}
