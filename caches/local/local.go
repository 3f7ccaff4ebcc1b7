package local

import (
	"context"
	"slices"
	"sync"

	gocache "github.com/patrickmn/go-cache"

	offlinecache "github.com/dgduncan/go-offline-cache"
	"github.com/dgduncan/go-offline-cache/caches"
)

// BasicCache keeps every partition in memory. Entries never expire; a
// partition lives until it is deleted.
type BasicCache struct {
	partitions map[string]*gocache.Cache
	order      []string

	lock sync.RWMutex
}

func (bc *BasicCache) Open(_ context.Context, partition string) error {
	bc.lock.Lock()
	defer bc.lock.Unlock()

	bc.open(partition)
	return nil
}

func (bc *BasicCache) open(partition string) *gocache.Cache {
	if c, found := bc.partitions[partition]; found {
		return c
	}
	c := gocache.New(gocache.NoExpiration, 0)
	bc.partitions[partition] = c
	bc.order = append(bc.order, partition)
	return c
}

func (bc *BasicCache) Match(_ context.Context, partition, key string) (*offlinecache.CacheItem, error) {
	bc.lock.RLock()
	defer bc.lock.RUnlock()

	c, found := bc.partitions[partition]
	if !found {
		return nil, caches.ErrNoPartition
	}

	val, found := c.Get(key)
	if !found {
		return nil, caches.ErrNoCacheItem
	}
	return val.(*offlinecache.CacheItem), nil
}

// Put creates the partition when it does not exist yet.
func (bc *BasicCache) Put(_ context.Context, partition string, item *offlinecache.CacheItem) error {
	bc.lock.Lock()
	defer bc.lock.Unlock()

	bc.open(partition).Set(item.Key, item, gocache.NoExpiration)
	return nil
}

func (bc *BasicCache) Delete(_ context.Context, partition string) (bool, error) {
	bc.lock.Lock()
	defer bc.lock.Unlock()

	c, found := bc.partitions[partition]
	if !found {
		return false, nil
	}
	c.Flush()
	delete(bc.partitions, partition)
	bc.order = slices.DeleteFunc(bc.order, func(name string) bool { return name == partition })
	return true, nil
}

func (bc *BasicCache) Keys(_ context.Context) ([]string, error) {
	bc.lock.RLock()
	defer bc.lock.RUnlock()

	return slices.Clone(bc.order), nil
}

// Len returns the number of entries stored in partition.
func (bc *BasicCache) Len(partition string) int {
	bc.lock.RLock()
	defer bc.lock.RUnlock()

	c, found := bc.partitions[partition]
	if !found {
		return 0
	}
	return c.ItemCount()
}

func NewBasicCache() *BasicCache {
	return &BasicCache{
		partitions: make(map[string]*gocache.Cache),
	}
}

var _ offlinecache.Storage = (*BasicCache)(nil)
