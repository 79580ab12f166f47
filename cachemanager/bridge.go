package cachemanager

import (
	"context"
	"time"
)

// WarmingClient adapts Manager to the shape the warming service's
// CacheClient interface expects ([]byte values rather than interface{}),
// so warming can populate the cache without either package importing the
// other's concrete types.
type WarmingClient struct {
	mgr *Manager
}

// NewWarmingClient wraps mgr for use as warming.CacheClient.
func NewWarmingClient(mgr *Manager) *WarmingClient {
	return &WarmingClient{mgr: mgr}
}

func (w *WarmingClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return w.mgr.Set(ctx, key, value, ttl)
}
