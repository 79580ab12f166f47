package layers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"encore.app/pkg/apperrors"
)

// wireEntry is the JSON payload stored in Redis, matching the shape the
// teacher's cachemanager.Service marshals before calling RemoteCache.Set
// (cache-manager/service.go's fetchWithFallback/Set).
type wireEntry struct {
	Value     interface{} `json:"value"`
	CachedAt  time.Time   `json:"cached_at"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// L2 is the shared, network-backed cache tier. It's a thin wrapper over
// go-redis rather than a bespoke client, grounded on the same pattern
// jordigilh-kubernaut and ipiton-alert-history-service use for their
// Redis-backed layers: a single *redis.Client, a key prefix for
// namespacing, and SCAN-based pattern deletion since Redis has no native
// glob delete.
type L2 struct {
	client *redis.Client
	prefix string
}

// NewL2 wraps an existing go-redis client. Tests construct client against
// a miniredis instance rather than a live server.
func NewL2(client *redis.Client, prefix string) *L2 {
	return &L2{client: client, prefix: prefix}
}

func (l *L2) Name() string { return "l2" }

func (l *L2) key(k string) string {
	if l.prefix == "" {
		return k
	}
	return l.prefix + ":" + k
}

func (l *L2) Get(ctx context.Context, key string) (*Entry, bool, error) {
	data, err := l.client.Get(ctx, l.key(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.Wrap(apperrors.KindUnavailable, "l2 get failed", err)
	}

	var we wireEntry
	if err := json.Unmarshal(data, &we); err != nil {
		return nil, false, apperrors.Wrap(apperrors.KindFatal, "l2 entry corrupt", err)
	}
	return &Entry{Value: we.Value, CachedAt: we.CachedAt, ExpiresAt: we.ExpiresAt, Source: "l2"}, true, nil
}

func (l *L2) Set(ctx context.Context, key string, value interface{}, ttl time.Duration, tags ...string) error {
	now := time.Now()
	we := wireEntry{Value: value, CachedAt: now, ExpiresAt: now.Add(ttl)}
	data, err := json.Marshal(we)
	if err != nil {
		return apperrors.Wrap(apperrors.KindValidation, "l2 value not serializable", err)
	}
	if err := l.client.Set(ctx, l.key(key), data, ttl).Err(); err != nil {
		return apperrors.Wrap(apperrors.KindUnavailable, "l2 set failed", err)
	}
	for _, tag := range tags {
		if err := l.client.SAdd(ctx, l.tagKey(tag), l.key(key)).Err(); err != nil {
			return apperrors.Wrap(apperrors.KindUnavailable, "l2 tag index update failed", err)
		}
	}
	return nil
}

// tagKey namespaces a tag's member set separately from the data keyspace,
// so a tag named the same as a cache key never collides.
func (l *L2) tagKey(tag string) string {
	return l.key("tag:" + tag)
}

// InvalidateByTag deletes every key ever SAdd'ed under tag along with the
// tag set itself, mirroring cache/lru.Store's tag index but backed by a
// Redis set instead of an in-process map.
func (l *L2) InvalidateByTag(ctx context.Context, tag string) (int, error) {
	tagKey := l.tagKey(tag)
	members, err := l.client.SMembers(ctx, tagKey).Result()
	if err != nil {
		return 0, apperrors.Wrap(apperrors.KindUnavailable, "l2 tag members lookup failed", err)
	}
	if len(members) == 0 {
		l.client.Del(ctx, tagKey)
		return 0, nil
	}
	if err := l.client.Del(ctx, members...).Err(); err != nil {
		return 0, apperrors.Wrap(apperrors.KindUnavailable, "l2 tag invalidate failed", err)
	}
	if err := l.client.Del(ctx, tagKey).Err(); err != nil {
		return 0, apperrors.Wrap(apperrors.KindUnavailable, "l2 tag set cleanup failed", err)
	}
	return len(members), nil
}

func (l *L2) Delete(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, l.key(key)).Err(); err != nil {
		return apperrors.Wrap(apperrors.KindUnavailable, "l2 delete failed", err)
	}
	return nil
}

// DeletePattern scans for matching keys in batches and deletes them. Redis
// glob syntax ('*', '?', '[...]') is passed straight through since go-redis
// SCAN MATCH already implements it natively — no separate translation layer
// is needed the way cache/lru needs its own glob matcher for in-process keys.
// Scanning is restricted to the "string" type so it never sweeps up the
// tag-index sets InvalidateByTag maintains alongside the data keyspace.
func (l *L2) DeletePattern(ctx context.Context, pattern string) (int, error) {
	var (
		cursor uint64
		count  int
	)
	match := l.key(pattern)
	for {
		keys, next, err := l.client.ScanType(ctx, cursor, match, 256, "string").Result()
		if err != nil {
			return count, apperrors.Wrap(apperrors.KindUnavailable, "l2 scan failed", err)
		}
		if len(keys) > 0 {
			if err := l.client.Del(ctx, keys...).Err(); err != nil {
				return count, apperrors.Wrap(apperrors.KindUnavailable, "l2 pattern delete failed", err)
			}
			count += len(keys)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return count, nil
}

// Size counts data entries only, excluding the tag-index sets.
func (l *L2) Size(ctx context.Context) (int, error) {
	match := l.key("*")
	var (
		cursor uint64
		count  int
	)
	for {
		keys, next, err := l.client.ScanType(ctx, cursor, match, 256, "string").Result()
		if err != nil {
			return 0, fmt.Errorf("l2 size scan failed: %w", err)
		}
		count += len(keys)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return count, nil
}
