package query

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultStaleTime is how long a loaded result is served without refetching.
const DefaultStaleTime = 60 * time.Second

type Options struct {
	StaleTime time.Duration
}

type MetricsHooks struct {
	OnHit        func(key string)
	OnMiss       func(key string)
	OnInvalidate func(key string)
}

type entry struct {
	value    any
	storedAt time.Time
}

// Cache holds query results for one tab. Results are replaced wholesale and never
// modified after being stored; invalidation drops the entry so the next read refetches.
type Cache struct {
	mu    sync.Mutex
	items map[string]*entry
	// Loads compare versions before storing; any invalidation touching the key
	// increments one of the counters.
	keyVersions  map[string]uint64
	nameVersions map[string]uint64
	epoch        uint64
	opts         Options
	metrics      MetricsHooks
	sf           singleflight.Group
	now          func() time.Time
}

func New(opts Options, hooks MetricsHooks) *Cache {
	if opts.StaleTime <= 0 {
		opts.StaleTime = DefaultStaleTime
	}
	return &Cache{
		items:        make(map[string]*entry),
		keyVersions:  make(map[string]uint64),
		nameVersions: make(map[string]uint64),
		opts:         opts,
		metrics:      hooks,
		now:          time.Now,
	}
}

// Key joins a query name with its arguments.
func Key(name string, args ...string) string {
	if len(args) == 0 {
		return name
	}
	return name + "/" + strings.Join(args, "/")
}

type Loader func(ctx context.Context) (any, error)

// Get returns the fresh cached value for key or loads it. Concurrent loads of the same
// key share one call. A load that started before an invalidation is not stored.
func (c *Cache) Get(ctx context.Context, key string, loader Loader) (any, error) {
	c.mu.Lock()
	if e, ok := c.items[key]; ok && c.now().Sub(e.storedAt) < c.opts.StaleTime {
		c.mu.Unlock()
		if c.metrics.OnHit != nil {
			c.metrics.OnHit(key)
		}
		return e.value, nil
	}
	version := c.versionLocked(key)
	c.mu.Unlock()

	if c.metrics.OnMiss != nil {
		c.metrics.OnMiss(key)
	}
	flight := key + "#" + strconv.FormatUint(version, 10)
	val, err, _ := c.sf.Do(flight, func() (any, error) {
		v, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.versionLocked(key) == version {
			c.items[key] = &entry{value: v, storedAt: c.now()}
		}
		c.mu.Unlock()
		return v, nil
	})
	return val, err
}

func (c *Cache) versionLocked(key string) uint64 {
	return c.epoch<<32 + c.nameVersions[NameOf(key)] + c.keyVersions[key]
}

// NameOf returns the query name part of a cache key.
func NameOf(key string) string {
	if i := strings.IndexByte(key, '/'); i >= 0 {
		return key[:i]
	}
	return key
}

// Invalidate drops key so the next Get refetches.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.keyVersions[key]++
	c.mu.Unlock()
	if c.metrics.OnInvalidate != nil {
		c.metrics.OnInvalidate(key)
	}
}

// InvalidatePrefix drops every key of a query, whatever its arguments.
func (c *Cache) InvalidatePrefix(name string) {
	c.mu.Lock()
	for key := range c.items {
		if NameOf(key) == name {
			delete(c.items, key)
		}
	}
	c.nameVersions[name]++
	c.mu.Unlock()
	if c.metrics.OnInvalidate != nil {
		c.metrics.OnInvalidate(name)
	}
}

func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.items = make(map[string]*entry)
	c.epoch++
	c.mu.Unlock()
	if c.metrics.OnInvalidate != nil {
		c.metrics.OnInvalidate("*")
	}
}

// Len is the number of stored results, fresh or stale.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Fetch is Get with a typed loader.
func Fetch[T any](ctx context.Context, c *Cache, key string, load func(ctx context.Context) (T, error)) (T, error) {
	v, err := c.Get(ctx, key, func(ctx context.Context) (any, error) {
		return load(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}
