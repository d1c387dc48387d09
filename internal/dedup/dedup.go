// Package dedup collapses concurrent calls that share a key into a single
// in-flight execution.
//
// A key is held only while its call is running. Once the call returns,
// successfully or not, the key is released and the next caller starts a
// fresh execution. Callers that need freshness windows layer their own
// cache on top.
package dedup

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/agentoven/opsdesk/internal/metrics"
)

// Group is a typed single-flight group. The zero value is not usable; use
// New.
type Group[T any] struct {
	scope string
	sf    singleflight.Group
}

// New creates a group. scope labels the shared-result metric.
func New[T any](scope string) *Group[T] {
	return &Group[T]{scope: scope}
}

// Do runs fn once per key among concurrent callers. Every caller waiting on
// the same key receives the same value and error. shared reports whether
// the result was delivered to more than one caller.
func (g *Group[T]) Do(key string, fn func() (T, error)) (v T, shared bool, err error) {
	res, err, shared := g.sf.Do(key, func() (interface{}, error) {
		return fn()
	})
	if shared {
		metrics.DedupShared.WithLabelValues(g.scope).Inc()
	}
	v, _ = res.(T)
	return v, shared, err
}

// DoContext is Do but returns early with ctx's error when the caller gives
// up. The underlying call keeps running for the other waiters.
func (g *Group[T]) DoContext(ctx context.Context, key string, fn func() (T, error)) (T, bool, error) {
	ch := g.sf.DoChan(key, func() (interface{}, error) {
		return fn()
	})
	select {
	case r := <-ch:
		if r.Shared {
			metrics.DedupShared.WithLabelValues(g.scope).Inc()
		}
		v, _ := r.Val.(T)
		return v, r.Shared, r.Err
	case <-ctx.Done():
		var zero T
		return zero, false, ctx.Err()
	}
}
