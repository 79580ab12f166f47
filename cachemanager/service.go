// Package cachemanager implements the cache manager component: the single
// entry point callers use to read and write through the L1/L2/L3 tier
// hierarchy, choosing among cache-aside, write-through, write-behind and
// refresh-ahead strategies per key.
//
// Generalized from the teacher's cache-manager/service.go, which only
// implements a single fixed strategy (read: L1 -> L2 -> origin,
// write: L1 + synchronous L2). This version keeps that code's shape —
// Service struct, singleflight-coalesced miss path, atomic Metrics,
// background TTL sweep goroutine, Pub/Sub coordination — but drives it
// from a Layer slice plus a per-key WritePolicy instead of one hardcoded
// L1/L2 pair.
package cachemanager

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"encore.app/cache/layers"
	"encore.app/pkg/apperrors"
	"encore.app/pkg/logging"
)

// WritePolicy selects how Set populates the tier hierarchy.
type WritePolicy int

const (
	// WriteThrough writes to every tier synchronously before returning.
	WriteThrough WritePolicy = iota
	// WriteBehind writes to L1 synchronously and queues the remaining
	// tiers for asynchronous flush by the write-behind worker.
	WriteBehind
	// CacheAside never writes the cache directly; Get populates tiers
	// lazily on miss, and Set only invalidates.
	CacheAside
)

// RefreshMode selects how a key nearing expiry is kept warm.
type RefreshMode int

const (
	// RefreshNone does nothing special; the entry simply expires.
	RefreshNone RefreshMode = iota
	// RefreshAhead triggers an async origin refetch once an entry's
	// remaining TTL drops below Config.RefreshAheadThreshold, so readers
	// rarely observe a miss for hot keys.
	RefreshAhead
)

// OriginFetcher is consulted on a full miss across every tier.
type OriginFetcher interface {
	Fetch(ctx context.Context, key string) (interface{}, error)
}

// Config holds the manager's runtime tuning, following the teacher's
// Config-struct-plus-DefaultConfig convention (cache-manager/service.go).
type Config struct {
	DefaultTTL            time.Duration
	CleanupInterval       time.Duration
	WritePolicy           WritePolicy
	RefreshMode           RefreshMode
	RefreshAheadThreshold time.Duration
	HTTPSkipMethods       map[string]struct{} // methods that bypass the cache entirely, e.g. POST/PUT/DELETE
}

// DefaultConfig returns the manager's default tuning: write-through,
// no refresh-ahead, and POST/PUT/PATCH/DELETE requests bypassing the cache.
func DefaultConfig() Config {
	return Config{
		DefaultTTL:            1 * time.Hour,
		CleanupInterval:       1 * time.Minute,
		WritePolicy:           WriteThrough,
		RefreshMode:           RefreshNone,
		RefreshAheadThreshold: 0,
		HTTPSkipMethods: map[string]struct{}{
			"POST": {}, "PUT": {}, "PATCH": {}, "DELETE": {},
		},
	}
}

// Metrics mirrors the teacher's atomic counter set, extended with a
// counter per tier instead of a fixed L1/L2 pair.
type Metrics struct {
	Hits      atomic.Int64
	Misses    atomic.Int64
	Sets      atomic.Int64
	Deletes   atomic.Int64
	Evictions atomic.Int64
	TierHits  sync.Map // tier name -> *atomic.Int64
	TierMiss  sync.Map
	TierErr   sync.Map
}

func (m *Metrics) recordTierHit(tier string) {
	counter, _ := m.TierHits.LoadOrStore(tier, new(atomic.Int64))
	counter.(*atomic.Int64).Add(1)
}

func (m *Metrics) recordTierMiss(tier string) {
	counter, _ := m.TierMiss.LoadOrStore(tier, new(atomic.Int64))
	counter.(*atomic.Int64).Add(1)
}

func (m *Metrics) recordTierErr(tier string) {
	counter, _ := m.TierErr.LoadOrStore(tier, new(atomic.Int64))
	counter.(*atomic.Int64).Add(1)
}

// Manager is the cache manager service.
//
//encore:service
type Manager struct {
	tiers     []layers.Layer // ordered fastest to slowest; tiers[0] must be L1
	origin    OriginFetcher
	coalescer *Coalescer[*layers.Entry]
	metrics   *Metrics
	config    Config
	log       *logging.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup

	wbOnce  sync.Once
	wbQueue chan writeBehindTask
}

// New constructs a Manager over the given tier chain. tiers[0] is assumed
// to be the fastest (in-process) tier and is always consulted first.
func New(tiers []layers.Layer, origin OriginFetcher, config Config) *Manager {
	m := &Manager{
		tiers:     tiers,
		origin:    origin,
		coalescer: NewCoalescer[*layers.Entry](),
		metrics:   &Metrics{},
		config:    config,
		log:       logging.New("cachemanager"),
		stopChan:  make(chan struct{}),
	}
	m.wg.Add(1)
	go m.runCleanup()
	return m
}

// Get reads through the tier chain, promoting a hit from a slower tier
// back into every faster tier it skipped, and falling through to the
// origin fetcher (coalesced via singleflight) on a full miss.
func (m *Manager) Get(ctx context.Context, key string) (*layers.Entry, bool, error) {
	if key == "" {
		return nil, false, apperrors.New(apperrors.KindValidation, "key cannot be empty")
	}

	for i, tier := range m.tiers {
		entry, ok, err := tier.Get(ctx, key)
		if err != nil {
			m.metrics.recordTierErr(tier.Name())
			continue // a degraded tier falls through to the next, not a hard failure
		}
		if ok {
			m.metrics.Hits.Add(1)
			m.metrics.recordTierHit(tier.Name())
			m.promote(ctx, key, entry, i)
			if m.config.RefreshMode == RefreshAhead {
				m.maybeRefreshAhead(key, entry)
			}
			return entry, true, nil
		}
		m.metrics.recordTierMiss(tier.Name())
	}

	if m.origin == nil {
		m.metrics.Misses.Add(1)
		return nil, false, nil
	}

	entry, err := m.coalescer.Do(key, func() (*layers.Entry, error) {
		value, err := m.origin.Fetch(ctx, key)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindUnavailable, "origin fetch failed", err)
		}
		now := time.Now()
		e := &layers.Entry{Value: value, CachedAt: now, ExpiresAt: now.Add(m.config.DefaultTTL), Source: "origin"}
		m.populateAll(context.WithoutCancel(ctx), key, e)
		return e, nil
	})
	if err != nil {
		m.metrics.Misses.Add(1)
		return nil, false, err
	}
	m.metrics.Hits.Add(1)
	return entry, true, nil
}

// promote writes a hit found at tier index foundAt back into every faster
// tier (indices < foundAt), matching the teacher's "populate L1 from L2"
// behavior in fetchWithFallback, generalized to N tiers.
func (m *Manager) promote(ctx context.Context, key string, entry *layers.Entry, foundAt int) {
	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		return
	}
	for i := 0; i < foundAt; i++ {
		_ = m.tiers[i].Set(ctx, key, entry.Value, ttl, entry.Tags...)
	}
}

// Set writes key according to the configured WritePolicy, attaching tags
// for later InvalidateByTag lookups across whichever tiers maintain a tag
// index.
func (m *Manager) Set(ctx context.Context, key string, value interface{}, ttl time.Duration, tags ...string) error {
	if key == "" {
		return apperrors.New(apperrors.KindValidation, "key cannot be empty")
	}
	if ttl <= 0 {
		ttl = m.config.DefaultTTL
	}

	switch m.config.WritePolicy {
	case CacheAside:
		return m.invalidateAll(ctx, key)
	case WriteBehind:
		if len(m.tiers) > 0 {
			if err := m.tiers[0].Set(ctx, key, value, ttl, tags...); err != nil {
				return apperrors.Wrap(apperrors.KindUnavailable, "l1 set failed", err)
			}
		}
		m.metrics.Sets.Add(1)
		m.enqueueWriteBehind(key, value, ttl)
		return nil
	default: // WriteThrough
		return m.populateAll(ctx, key, &layers.Entry{Value: value, CachedAt: time.Now(), ExpiresAt: time.Now().Add(ttl), Tags: tags})
	}
}

func (m *Manager) populateAll(ctx context.Context, key string, entry *layers.Entry) error {
	ttl := time.Until(entry.ExpiresAt)
	var firstErr error
	for _, tier := range m.tiers {
		if err := tier.Set(ctx, key, entry.Value, ttl, entry.Tags...); err != nil {
			m.metrics.recordTierErr(tier.Name())
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
	}
	m.metrics.Sets.Add(1)
	if firstErr != nil {
		return fmt.Errorf("partial write failure: %w", firstErr)
	}
	return nil
}

// Invalidate removes key (or every key matching pattern, or every key
// tagged with tag) from every tier. It publishes nothing itself; the
// Invalidate endpoint in api.go follows it with PublishInvalidation for
// other instances, mirroring the teacher's Invalidate + PublishInvalidation
// pair.
func (m *Manager) Invalidate(ctx context.Context, keys []string, pattern, tag string) (int, error) {
	count := 0
	for _, key := range keys {
		if err := m.invalidateAll(ctx, key); err == nil {
			count++
		}
	}
	if pattern != "" {
		for _, tier := range m.tiers {
			n, err := tier.DeletePattern(ctx, pattern)
			if err != nil {
				m.metrics.recordTierErr(tier.Name())
				continue
			}
			count += n
		}
	}
	if tag != "" {
		for _, tier := range m.tiers {
			n, err := tier.InvalidateByTag(ctx, tag)
			if err != nil {
				m.metrics.recordTierErr(tier.Name())
				continue
			}
			count += n
		}
	}
	m.metrics.Deletes.Add(int64(count))
	return count, nil
}

func (m *Manager) invalidateAll(ctx context.Context, key string) error {
	var firstErr error
	for _, tier := range m.tiers {
		if err := tier.Delete(ctx, key); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	m.coalescer.Forget(key)
	return firstErr
}

// SkipsHTTPMethod reports whether requests using the given HTTP method
// should bypass the cache entirely, per the manager's HTTPSkipMethods
// configuration (spec's HTTP-layer cache skip rule).
func (m *Manager) SkipsHTTPMethod(method string) bool {
	_, skip := m.config.HTTPSkipMethods[method]
	return skip
}

// runCleanup periodically sweeps expired entries from every tier that
// exposes one, the same loop shape as the teacher's runTTLCleanup.
func (m *Manager) runCleanup() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			for _, tier := range m.tiers {
				if cleaner, ok := tier.(interface{ Cleanup() int }); ok {
					m.metrics.Evictions.Add(int64(cleaner.Cleanup()))
				}
			}
		}
	}
}

// Shutdown stops background goroutines and drains the write-behind queue.
func (m *Manager) Shutdown() {
	close(m.stopChan)
	m.wg.Wait()
	m.drainWriteBehind()
}
