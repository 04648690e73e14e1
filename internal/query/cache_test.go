package query

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

type clock struct{ t time.Time }

func (c *clock) now() time.Time      { return c.t }
func (c *clock) add(d time.Duration) { c.t = c.t.Add(d) }

func newTestCache() (*Cache, *clock) {
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	c := New(Options{StaleTime: time.Minute}, MetricsHooks{})
	c.now = clk.now
	return c, clk
}

func cached(c *Cache, key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	return ok
}

func counter(calls *atomic.Int32, value any) Loader {
	return func(context.Context) (any, error) {
		calls.Add(1)
		return value, nil
	}
}

func TestKey(t *testing.T) {
	assert.Equal(t, "all_pfps", Key("all_pfps"))
	assert.Equal(t, "all_pfps/ab", Key("all_pfps", "ab"))
	assert.Equal(t, "items/ab/fishing_rods", Key("items", "ab", "fishing_rods"))
}

func TestCache_ServesFreshAndRefetchesStale(t *testing.T) {
	c, clk := newTestCache()
	ctx := context.Background()
	var calls atomic.Int32

	v, err := c.Get(ctx, "all_pfps/a", counter(&calls, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	clk.add(59 * time.Second)
	_, err = c.Get(ctx, "all_pfps/a", counter(&calls, 2))
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	clk.add(2 * time.Second)
	v, err = c.Get(ctx, "all_pfps/a", counter(&calls, 3))
	require.NoError(t, err)
	assert.Equal(t, 3, v)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 1, c.Len())

	c.InvalidateAll()
	assert.Equal(t, 0, c.Len())
}

func TestCache_ErrorsAreNotCached(t *testing.T) {
	c, _ := newTestCache()
	ctx := context.Background()
	boom := errors.New("node down")

	_, err := c.Get(ctx, "k", func(context.Context) (any, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, cached(c, "k"))

	v, err := c.Get(ctx, "k", func(context.Context) (any, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestCache_ConcurrentLoadsShareOneCall(t *testing.T) {
	c, _ := newTestCache()
	ctx := context.Background()
	var calls atomic.Int32
	gate := make(chan struct{})

	loader := func(context.Context) (any, error) {
		calls.Add(1)
		<-gate
		return "v", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Get(ctx, "k", loader)
			assert.NoError(t, err)
			assert.Equal(t, "v", v)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())
}

func TestCache_Invalidate(t *testing.T) {
	tests := []struct {
		name       string
		invalidate func(c *Cache)
		refetched  []string
	}{
		{
			name:       "exact key",
			invalidate: func(c *Cache) { c.Invalidate("all_pfps/a") },
			refetched:  []string{"all_pfps/a"},
		},
		{
			name:       "every key of a query",
			invalidate: func(c *Cache) { c.InvalidatePrefix("all_pfps") },
			refetched:  []string{"all_pfps/a", "all_pfps/b"},
		},
		{
			name:       "everything",
			invalidate: func(c *Cache) { c.InvalidateAll() },
			refetched:  []string{"all_pfps/a", "all_pfps/b", "equipped_pfp/a"},
		},
	}
	keys := []string{"all_pfps/a", "all_pfps/b", "equipped_pfp/a"}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestCache()
			ctx := context.Background()
			calls := map[string]*atomic.Int32{}
			for _, k := range keys {
				calls[k] = &atomic.Int32{}
				_, err := c.Get(ctx, k, counter(calls[k], k))
				require.NoError(t, err)
			}

			tt.invalidate(c)
			for _, k := range keys {
				_, err := c.Get(ctx, k, counter(calls[k], k))
				require.NoError(t, err)
			}

			for _, k := range keys {
				want := int32(1)
				for _, r := range tt.refetched {
					if r == k {
						want = 2
					}
				}
				assert.Equal(t, want, calls[k].Load(), k)
			}
		})
	}
}

func TestCache_InvalidatedOldValueIsNotObservable(t *testing.T) {
	c, _ := newTestCache()
	ctx := context.Background()
	list := []string{"before"}
	_, err := c.Get(ctx, "all_pfps/a", func(context.Context) (any, error) { return list, nil })
	require.NoError(t, err)

	c.InvalidatePrefix("all_pfps")
	assert.False(t, cached(c, "all_pfps/a"))
}

func TestCache_LoadStartedBeforeInvalidateIsDiscarded(t *testing.T) {
	c, _ := newTestCache()
	ctx := context.Background()
	started := make(chan struct{})
	gate := make(chan struct{})

	done := make(chan any)
	go func() {
		v, _ := c.Get(ctx, "all_pfps/a", func(context.Context) (any, error) {
			close(started)
			<-gate
			return "stale", nil
		})
		done <- v
	}()
	<-started
	c.InvalidatePrefix("all_pfps")
	close(gate)
	assert.Equal(t, "stale", <-done)

	assert.False(t, cached(c, "all_pfps/a"), "result of a load that raced an invalidation is not stored")

	v, err := c.Get(ctx, "all_pfps/a", func(context.Context) (any, error) { return "fresh", nil })
	require.NoError(t, err)
	assert.Equal(t, "fresh", v)
}

func TestFetch_Typed(t *testing.T) {
	c, _ := newTestCache()
	got, err := Fetch(context.Background(), c, "k", func(context.Context) ([]int, error) {
		return []int{1, 2}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, got)

	_, err = Fetch(context.Background(), c, "e", func(context.Context) ([]int, error) {
		return nil, errors.New("x")
	})
	assert.Error(t, err)
}

func TestCache_MetricsHooks(t *testing.T) {
	var hits, misses, invalidations int
	c := New(Options{}, MetricsHooks{
		OnHit:        func(string) { hits++ },
		OnMiss:       func(string) { misses++ },
		OnInvalidate: func(string) { invalidations++ },
	})
	ctx := context.Background()
	load := func(context.Context) (any, error) { return 1, nil }

	_, _ = c.Get(ctx, "k", load)
	_, _ = c.Get(ctx, "k", load)
	c.Invalidate("k")

	assert.Equal(t, 1, hits)
	assert.Equal(t, 1, misses)
	assert.Equal(t, 1, invalidations)
}
