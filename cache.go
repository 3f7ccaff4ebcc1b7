package offlinecache

import (
	"context"
	"time"
)

// CacheItem is a single stored response. Response holds the wire form
// produced by httputil.DumpResponse so any backend can persist it as bytes.
type CacheItem struct {
	Key      string
	Response []byte
	StoredAt time.Time
}

// Storage is the port every partition backend implements. Partition names
// are opaque to the backend; versioning lives in the names themselves.
//
// Keys must list partitions in creation order, Match on a missing partition
// returns caches.ErrNoPartition and a missing entry returns
// caches.ErrNoCacheItem.
type Storage interface {
	Open(ctx context.Context, partition string) error
	Match(ctx context.Context, partition, key string) (*CacheItem, error)
	Put(ctx context.Context, partition string, item *CacheItem) error
	Delete(ctx context.Context, partition string) (bool, error)
	Keys(ctx context.Context) ([]string, error)
}
