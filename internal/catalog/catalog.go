// Package catalog is the read repository: every query the API and CLI serve
// goes through a cache keyed by the full parameter tuple, with a positive
// TTL, a shorter negative TTL for not-found lookups, and epoch-based bulk
// invalidation after write batches.
package catalog

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rotisserie/eris"

	"github.com/vitalhub/topicsync/internal/store"
	"github.com/vitalhub/topicsync/internal/topic"
)

const (
	cacheSize   = 2048
	positiveTTL = 10 * time.Minute
	negativeTTL = 2 * time.Minute
)

// Reader is the store read surface the catalog fronts.
type Reader interface {
	ListTopics(ctx context.Context, params store.ListParams) ([]*topic.Topic, error)
	CountTopics(ctx context.Context, typeFilter string) (int, error)
	GetTopicByName(ctx context.Context, name string) (*topic.Topic, error)
	SearchTopics(ctx context.Context, query string, params store.ListParams) ([]*topic.Topic, error)
	SearchTopicCount(ctx context.Context, query string) (int, error)
	DistinctTypes(ctx context.Context) ([]topic.TypeCount, error)
}

// notFound is the reserved sentinel distinguishing a cached miss from an
// uncached key.
type notFoundSentinel struct{}

var notFound = notFoundSentinel{}

type entry struct {
	value   any
	epoch   uint64
	expires time.Time
}

// Catalog caches read results. Entries are tagged with the epoch current at
// insert; InvalidateCache bumps the epoch, which expires every older entry
// at once without enumerating keys.
type Catalog struct {
	reader Reader
	cache  *expirable.LRU[string, entry]
	epoch  atomic.Uint64
	now    func() time.Time
}

// New creates a catalog over the given reader.
func New(reader Reader) *Catalog {
	return &Catalog{
		reader: reader,
		cache:  expirable.NewLRU[string, entry](cacheSize, nil, positiveTTL),
		now:    time.Now,
	}
}

// InvalidateCache expires every cached entry immediately.
func (c *Catalog) InvalidateCache() {
	c.epoch.Add(1)
}

// List returns one page of topics, optionally filtered by type.
func (c *Catalog) List(ctx context.Context, params store.ListParams) ([]*topic.Topic, error) {
	key := fmt.Sprintf("list|%s|%d|%d", params.Type, params.Offset, params.Limit)
	return lookup(c, ctx, key, func(ctx context.Context) ([]*topic.Topic, error) {
		return c.reader.ListTopics(ctx, params)
	})
}

// Count returns the number of topics, optionally filtered by type.
func (c *Catalog) Count(ctx context.Context, typeFilter string) (int, error) {
	key := "count|" + typeFilter
	return lookup(c, ctx, key, func(ctx context.Context) (int, error) {
		return c.reader.CountTopics(ctx, typeFilter)
	})
}

// GetByName returns a topic by canonical name, or nil when absent. Misses
// are cached with the shorter negative TTL.
func (c *Catalog) GetByName(ctx context.Context, name string) (*topic.Topic, error) {
	key := "get|" + name
	if v, ok := c.get(key); ok {
		if _, miss := v.(notFoundSentinel); miss {
			return nil, nil
		}
		return v.(*topic.Topic), nil
	}

	t, err := c.reader.GetTopicByName(ctx, name)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: get %q", name)
	}
	if t == nil {
		c.put(key, notFound, negativeTTL)
		return nil, nil
	}
	c.put(key, t, positiveTTL)
	return t, nil
}

// Search returns one page of topics matching the query.
func (c *Catalog) Search(ctx context.Context, query string, params store.ListParams) ([]*topic.Topic, error) {
	key := fmt.Sprintf("search|%s|%d|%d", query, params.Offset, params.Limit)
	return lookup(c, ctx, key, func(ctx context.Context) ([]*topic.Topic, error) {
		return c.reader.SearchTopics(ctx, query, params)
	})
}

// SearchCount returns the number of topics matching the query.
func (c *Catalog) SearchCount(ctx context.Context, query string) (int, error) {
	key := "searchcount|" + query
	return lookup(c, ctx, key, func(ctx context.Context) (int, error) {
		return c.reader.SearchTopicCount(ctx, query)
	})
}

// Types returns per-type topic counts.
func (c *Catalog) Types(ctx context.Context) ([]topic.TypeCount, error) {
	return lookup(c, ctx, "types", func(ctx context.Context) ([]topic.TypeCount, error) {
		return c.reader.DistinctTypes(ctx)
	})
}

// lookup serves key from the cache or fetches and caches the result with
// the positive TTL.
func lookup[T any](c *Catalog, ctx context.Context, key string, fetch func(context.Context) (T, error)) (T, error) {
	if v, ok := c.get(key); ok {
		return v.(T), nil
	}

	var zero T
	v, err := fetch(ctx)
	if err != nil {
		return zero, eris.Wrapf(err, "catalog: fetch %s", key)
	}
	c.put(key, v, positiveTTL)
	return v, nil
}

// get returns a cached value only if it is from the current epoch and not
// past its own deadline.
func (c *Catalog) get(key string) (any, bool) {
	e, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	if e.epoch != c.epoch.Load() || !c.now().Before(e.expires) {
		c.cache.Remove(key)
		return nil, false
	}
	return e.value, true
}

func (c *Catalog) put(key string, value any, ttl time.Duration) {
	c.cache.Add(key, entry{
		value:   value,
		epoch:   c.epoch.Load(),
		expires: c.now().Add(ttl),
	})
}
