package cachemanager

import (
	"context"
	"sync"
	"time"

	"encore.app/cache/layers"
)

var (
	mgr      *Manager
	initOnce sync.Once
)

// initService constructs the Manager with an in-process L1 tier only; L2/L3
// tiers and an origin fetcher are wired in by the caller via AddTier/
// SetOrigin once the service has started, the same deferred-wiring shape as
// the teacher's SetL2Cache/SetOriginFetcher.
func initService() (*Manager, error) {
	initOnce.Do(func() {
		l1 := layers.NewL1(10000)
		mgr = New([]layers.Layer{l1}, nil, DefaultConfig())
	})
	return mgr, nil
}

// AddTier appends a slower tier (L2, L3, ...) to the chain.
func (m *Manager) AddTier(tier layers.Layer) {
	m.tiers = append(m.tiers, tier)
}

// SetOrigin wires the fallback fetcher consulted on a full cache miss.
func (m *Manager) SetOrigin(origin OriginFetcher) {
	m.origin = origin
}

type GetRequest struct {
	Key string `json:"key"`
}

type GetResponse struct {
	Value     interface{} `json:"value"`
	Hit       bool        `json:"hit"`
	CachedAt  *time.Time  `json:"cached_at,omitempty"`
	ExpiresAt *time.Time  `json:"expires_at,omitempty"`
}

//encore:api public method=GET path=/cache/:key
func Get(ctx context.Context, key string) (*GetResponse, error) {
	entry, hit, err := mgr.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !hit {
		return &GetResponse{Hit: false}, nil
	}
	return &GetResponse{Value: entry.Value, Hit: true, CachedAt: &entry.CachedAt, ExpiresAt: &entry.ExpiresAt}, nil
}

type SetRequest struct {
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
	TTL   int         `json:"ttl"`            // seconds, 0 means Config.DefaultTTL
	Tags  []string    `json:"tags,omitempty"` // invalidation tags attached to this entry
}

type SetResponse struct {
	Success bool `json:"success"`
}

//encore:api public method=PUT path=/cache/:key
func Set(ctx context.Context, key string, req *SetRequest) (*SetResponse, error) {
	if err := mgr.Set(ctx, key, req.Value, time.Duration(req.TTL)*time.Second, req.Tags...); err != nil {
		return nil, err
	}
	return &SetResponse{Success: true}, nil
}

type InvalidateRequest struct {
	Keys    []string `json:"keys,omitempty"`
	Pattern string   `json:"pattern,omitempty"`
	Tag     string   `json:"tag,omitempty"`
}

type InvalidateResponse struct {
	Invalidated int `json:"invalidated"`
}

//encore:api public method=POST path=/cache/invalidate
func Invalidate(ctx context.Context, req *InvalidateRequest) (*InvalidateResponse, error) {
	n, err := mgr.Invalidate(ctx, req.Keys, req.Pattern, req.Tag)
	if err != nil {
		return nil, err
	}
	_ = mgr.PublishInvalidation(ctx, req.Keys, req.Pattern)
	return &InvalidateResponse{Invalidated: n}, nil
}

type MetricsResponse struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Sets      int64 `json:"sets"`
	Deletes   int64 `json:"deletes"`
	Evictions int64 `json:"evictions"`
}

//encore:api public method=GET path=/cache/metrics
func GetMetrics(ctx context.Context) (*MetricsResponse, error) {
	return &MetricsResponse{
		Hits:      mgr.metrics.Hits.Load(),
		Misses:    mgr.metrics.Misses.Load(),
		Sets:      mgr.metrics.Sets.Load(),
		Deletes:   mgr.metrics.Deletes.Load(),
		Evictions: mgr.metrics.Evictions.Load(),
	}, nil
}
