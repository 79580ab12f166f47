package layers

import (
	"context"
	"time"

	"encore.app/cache/lru"
)

// L1 wraps the in-process lru.Store as a Layer, the same role the teacher's
// L1Cache plays inside cachemanager.Service, generalized to the standalone
// store so it can be reused verbatim by the query optimizer's plan cache.
type L1 struct {
	store *lru.Store
}

// NewL1 creates an L1 layer backed by a store of the given capacity.
func NewL1(capacity int) *L1 {
	return &L1{store: lru.New(capacity)}
}

func (l *L1) Name() string { return "l1" }

func (l *L1) Get(_ context.Context, key string) (*Entry, bool, error) {
	v, ok := l.store.Get(key)
	if !ok {
		return nil, false, nil
	}
	return &Entry{Value: v, Source: "l1"}, true, nil
}

func (l *L1) Set(_ context.Context, key string, value interface{}, ttl time.Duration, tags ...string) error {
	l.store.Set(key, value, ttl, tags...)
	return nil
}

// InvalidateByTag removes every entry tagged with tag from the underlying
// store, using the tag index lru.Store already maintains on Set.
func (l *L1) InvalidateByTag(_ context.Context, tag string) (int, error) {
	return l.store.InvalidateByTag(tag), nil
}

func (l *L1) Delete(_ context.Context, key string) error {
	l.store.Delete(key)
	return nil
}

func (l *L1) DeletePattern(_ context.Context, pattern string) (int, error) {
	return l.store.InvalidateByPattern(pattern), nil
}

func (l *L1) Size(_ context.Context) (int, error) {
	return l.store.Size(), nil
}

// Stats exposes the underlying store's counters, used by monitoring's
// aggregation layer.
func (l *L1) Stats() lru.Snapshot {
	return l.store.Stats()
}

// Cleanup removes expired entries; called from the cache manager's
// background TTL sweep the way runTTLCleanup drives L1Cache.CleanupExpired
// in the teacher.
func (l *L1) Cleanup() int {
	return l.store.Cleanup()
}
