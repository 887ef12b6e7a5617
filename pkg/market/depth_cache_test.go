package market

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingDepth struct {
	calls atomic.Int32
	err   error
	delay time.Duration
}

func (c *countingDepth) Depth(ctx context.Context, pair Pair) (*DepthSnapshot, error) {
	c.calls.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.err != nil {
		return nil, c.err
	}
	return &DepthSnapshot{
		Pair: pair,
		Bids: []DepthEntry{{Price: 99, Size: 10}},
		Asks: []DepthEntry{{Price: 101, Size: 10}},
	}, nil
}

func TestCachedDepth_ServesFromCacheWithinTTL(t *testing.T) {
	src := &countingDepth{}
	cache, err := NewCachedDepth(src, WithDepthTTL(time.Minute), WithDepthCacheName("depth-ttl-test"))
	require.NoError(t, err)

	pair := Pair{Base: "SOL", Quote: "USDC"}
	first, err := cache.GetDepth(context.Background(), pair)
	require.NoError(t, err)
	second, err := cache.GetDepth(context.Background(), pair)
	require.NoError(t, err)

	assert.Equal(t, int32(1), src.calls.Load(), "second call should hit the cache")
	assert.Equal(t, first.Bids, second.Bids)

	second.Bids[0].Size = 0
	third, err := cache.GetDepth(context.Background(), pair)
	require.NoError(t, err)
	assert.Equal(t, 10.0, third.Bids[0].Size, "callers must not mutate the cached snapshot")
}

func TestCachedDepth_ErrorsAreNotCached(t *testing.T) {
	src := &countingDepth{err: errors.New("upstream down")}
	cache, err := NewCachedDepth(src, WithDepthCacheName("depth-error-test"))
	require.NoError(t, err)

	pair := Pair{Base: "SOL", Quote: "USDC"}
	_, err = cache.GetDepth(context.Background(), pair)
	assert.Error(t, err)
	_, err = cache.GetDepth(context.Background(), pair)
	assert.Error(t, err)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestCachedDepth_ConcurrentMissesShareFetch(t *testing.T) {
	src := &countingDepth{delay: 50 * time.Millisecond}
	cache, err := NewCachedDepth(src, WithDepthCacheName("depth-flight-test"))
	require.NoError(t, err)

	pair := Pair{Base: "SOL", Quote: "USDC"}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.GetDepth(context.Background(), pair)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestCachedDepth_Invalidate(t *testing.T) {
	src := &countingDepth{}
	cache, err := NewCachedDepth(src, WithDepthCacheName("depth-invalidate-test"))
	require.NoError(t, err)

	pair := Pair{Base: "SOL", Quote: "USDC"}
	_, err = cache.Depth(context.Background(), pair)
	require.NoError(t, err)
	cache.Invalidate(pair)
	_, err = cache.Depth(context.Background(), pair)
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.calls.Load())
}
