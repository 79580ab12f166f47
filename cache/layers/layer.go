// Package layers implements the three cache tiers the cache manager reads
// through: an in-process L1, a shared L2, and a persisted L3. Each tier
// satisfies the same Layer interface so the manager can treat them
// uniformly, the way the teacher's cachemanager.Service treats its
// RemoteCache interface as an abstraction over whatever L2 provider is
// wired in (cache-manager/service.go's RemoteCache).
package layers

import (
	"context"
	"time"
)

// Entry is what a layer returns on a hit: the decoded value plus enough
// bookkeeping for the cache manager to decide whether to promote it to a
// faster tier and how long it has left to live.
type Entry struct {
	Value     interface{}
	CachedAt  time.Time
	ExpiresAt time.Time
	Source    string   // "l1", "l2", "l3"
	Tags      []string // invalidation tags attached at Set time
}

// Layer is the uniform read/write surface every cache tier implements.
// Tiers below L1 are expected to be slower and potentially fallible, hence
// the error return on every method — L1 never actually returns a non-nil
// error but participates in the same interface for uniform composition.
//
// Set's tags vararg attaches the entry to zero or more invalidation tags;
// InvalidateByTag removes every entry currently tagged with tag and
// reports how many it removed. A tier that does not maintain a tag index
// returns (0, nil) rather than an error, so the manager can fan a tag
// invalidation out across tiers without special-casing any one of them.
type Layer interface {
	Name() string
	Get(ctx context.Context, key string) (*Entry, bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration, tags ...string) error
	Delete(ctx context.Context, key string) error
	DeletePattern(ctx context.Context, pattern string) (int, error)
	InvalidateByTag(ctx context.Context, tag string) (int, error)
	Size(ctx context.Context) (int, error)
}
