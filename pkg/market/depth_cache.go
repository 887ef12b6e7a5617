package market

import (
	"context"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/collection"
	"github.com/zeromicro/go-zero/core/logx"
)

const (
	defaultDepthTTL     = 30 * time.Second
	defaultDepthTimeout = 5 * time.Second
)

// CachedDepth memoises depth snapshots per pair for a fixed TTL. Concurrent
// misses on the same pair share a single upstream request.
type CachedDepth struct {
	source  DepthSource
	cache   *collection.Cache
	timeout time.Duration
}

// CachedDepthOption customises a CachedDepth.
type CachedDepthOption func(*cachedDepthConfig)

type cachedDepthConfig struct {
	ttl     time.Duration
	timeout time.Duration
	name    string
}

// WithDepthTTL overrides the cache lifetime (default 30s).
func WithDepthTTL(ttl time.Duration) CachedDepthOption {
	return func(c *cachedDepthConfig) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithDepthTimeout bounds each upstream depth request.
func WithDepthTimeout(timeout time.Duration) CachedDepthOption {
	return func(c *cachedDepthConfig) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithDepthCacheName names the underlying cache (shows up in go-zero cache stats).
func WithDepthCacheName(name string) CachedDepthOption {
	return func(c *cachedDepthConfig) {
		if name != "" {
			c.name = name
		}
	}
}

// NewCachedDepth wraps source with a TTL cache.
func NewCachedDepth(source DepthSource, opts ...CachedDepthOption) (*CachedDepth, error) {
	if source == nil {
		return nil, fmt.Errorf("market: depth source is required")
	}
	cfg := &cachedDepthConfig{ttl: defaultDepthTTL, timeout: defaultDepthTimeout, name: "depth"}
	for _, opt := range opts {
		opt(cfg)
	}
	cache, err := collection.NewCache(cfg.ttl, collection.WithName(cfg.name))
	if err != nil {
		return nil, fmt.Errorf("market: create depth cache: %w", err)
	}
	return &CachedDepth{source: source, cache: cache, timeout: cfg.timeout}, nil
}

// GetDepth returns a cached snapshot or fetches a fresh one.
func (c *CachedDepth) GetDepth(ctx context.Context, pair Pair) (*DepthSnapshot, error) {
	val, err := c.cache.Take(pair.String(), func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		snap, err := c.source.Depth(fetchCtx, pair)
		if err != nil {
			return nil, err
		}
		if snap == nil {
			return nil, ErrDepthUnavailable
		}
		logx.WithContext(ctx).Debugf("market: depth refreshed pair=%s bids=%d asks=%d", pair, len(snap.Bids), len(snap.Asks))
		return snap.Clone(), nil
	})
	if err != nil {
		return nil, err
	}
	snap, ok := val.(*DepthSnapshot)
	if !ok {
		return nil, ErrDepthUnavailable
	}
	return snap.Clone(), nil
}

// Depth lets a CachedDepth stand in for its source.
func (c *CachedDepth) Depth(ctx context.Context, pair Pair) (*DepthSnapshot, error) {
	return c.GetDepth(ctx, pair)
}

// Invalidate drops the cached snapshot for pair.
func (c *CachedDepth) Invalidate(pair Pair) {
	c.cache.Del(pair.String())
}
