// Package cache provides TTL caches with read-through semantics over a
// pluggable byte-level backend (in-process memory or Redis).
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Backend stores opaque values with a per-entry expiry.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Len() int
}

// Cache is a typed, namespaced view over a Backend. Values are stored as JSON
// so the same cache works against memory and Redis.
type Cache[V any] struct {
	logger    *zap.Logger
	backend   Backend
	namespace string
	ttl       time.Duration
	group     singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a cache that stores entries under namespace for ttl.
func New[V any](logger *zap.Logger, backend Backend, namespace string, ttl time.Duration) *Cache[V] {
	if logger == nil {
		logger = zap.NewNop()
	}
	if backend == nil {
		backend = NewMemory()
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache[V]{
		logger:    logger,
		backend:   backend,
		namespace: namespace,
		ttl:       ttl,
	}
}

func (c *Cache[V]) key(k string) string {
	return c.namespace + ":" + k
}

// Get returns the cached value for k if present and fresh.
func (c *Cache[V]) Get(ctx context.Context, k string) (V, bool) {
	var zero V
	raw, ok, err := c.backend.Get(ctx, c.key(k))
	if err != nil {
		c.logger.Warn("cache read failed",
			zap.String("namespace", c.namespace),
			zap.Error(err),
		)
		return zero, false
	}
	if !ok {
		return zero, false
	}
	var v V
	if err := json.Unmarshal(raw, &v); err != nil {
		c.logger.Warn("cache entry decode failed",
			zap.String("namespace", c.namespace),
			zap.Error(err),
		)
		return zero, false
	}
	return v, true
}

// Set stores v under k with the cache TTL.
func (c *Cache[V]) Set(ctx context.Context, k string, v V) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := c.backend.Set(ctx, c.key(k), raw, c.ttl); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	return nil
}

// GetOrCompute returns the cached value for k, or runs compute and stores its
// result. Concurrent callers for the same key share one compute. When force
// is set the cached value is ignored but the fresh result is still stored.
// Errors from compute are returned and nothing is stored.
func (c *Cache[V]) GetOrCompute(
	ctx context.Context,
	k string,
	force bool,
	compute func(ctx context.Context) (V, error),
) (V, error) {
	return c.GetOrComputeIf(ctx, k, force, compute, nil)
}

// GetOrComputeIf is GetOrCompute, except a computed value is stored only
// when keep reports true for it. A nil keep stores every value.
//
// The shared compute runs detached from the first caller's cancellation so
// one caller giving up does not fail the others waiting on the same key;
// each caller still returns as soon as its own ctx is done.
func (c *Cache[V]) GetOrComputeIf(
	ctx context.Context,
	k string,
	force bool,
	compute func(ctx context.Context) (V, error),
	keep func(V) bool,
) (V, error) {
	var zero V
	if !force {
		if v, ok := c.Get(ctx, k); ok {
			c.hits.Add(1)
			return v, nil
		}
	}
	c.misses.Add(1)

	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(k, func() (any, error) {
		v, err := compute(shared)
		if err != nil {
			return v, err
		}
		if keep != nil && !keep(v) {
			return v, nil
		}
		if err := c.Set(shared, k, v); err != nil {
			c.logger.Warn("cache store failed",
				zap.String("namespace", c.namespace),
				zap.Error(err),
			)
		}
		return v, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}

// Stats returns hit and miss counters.
func (c *Cache[V]) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Size returns the number of entries in the underlying backend.
func (c *Cache[V]) Size() int {
	return c.backend.Len()
}

// TTL returns the entry lifetime.
func (c *Cache[V]) TTL() time.Duration {
	return c.ttl
}
