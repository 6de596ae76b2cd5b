package page

import (
	"context"
	"sync"

	"pagediff/internal/blob"
)

// Loader loads the Asset a Ref points at.
type Loader interface {
	Load(ctx context.Context, ref Ref) (Asset, error)
}

// StoreLoader loads every page straight from a blob store.
type StoreLoader struct {
	Store blob.Store
}

// Load implements Loader.
func (l StoreLoader) Load(ctx context.Context, ref Ref) (Asset, error) {
	return LoadFromStore(ctx, l.Store, ref)
}

// Cache memoizes successfully loaded assets by blob keys so a page decoded
// for scoring is not decoded again for diffing. Failures are not cached.
type Cache struct {
	next Loader

	mu     sync.Mutex
	assets map[cacheKey]Asset
}

type cacheKey struct {
	image, descriptors string
}

// NewCache wraps a Loader with an in-memory cache.
func NewCache(next Loader) *Cache {
	return &Cache{next: next, assets: make(map[cacheKey]Asset)}
}

// Load implements Loader.
func (c *Cache) Load(ctx context.Context, ref Ref) (Asset, error) {
	key := cacheKey{image: ref.ImageKey, descriptors: ref.DescriptorKey}
	c.mu.Lock()
	a, ok := c.assets[key]
	c.mu.Unlock()
	if ok {
		return a, nil
	}

	a, err := c.next.Load(ctx, ref)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.assets[key] = a
	c.mu.Unlock()
	return a, nil
}

// Len returns the number of cached assets.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.assets)
}
