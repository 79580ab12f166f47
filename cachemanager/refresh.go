package cachemanager

import (
	"context"
	"time"

	"encore.app/cache/layers"
)

// maybeRefreshAhead schedules an async origin refetch when entry's
// remaining TTL has dropped under the configured threshold, so the next
// reader observes a freshly repopulated cache instead of a miss. This
// generalizes the warming service's predictive refresh into a per-read
// hook rather than a separate scheduled job, since refresh-ahead is
// triggered by actual read traffic, not a cron tick.
func (m *Manager) maybeRefreshAhead(key string, entry *layers.Entry) {
	if m.origin == nil {
		return
	}
	remaining := time.Until(entry.ExpiresAt)
	if remaining <= 0 || remaining > m.config.RefreshAheadThreshold {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		m.coalescer.Do("refresh-ahead:"+key, func() (*layers.Entry, error) {
			value, err := m.origin.Fetch(ctx, key)
			if err != nil {
				m.log.Warn(ctx, "refresh-ahead fetch failed", map[string]interface{}{"key": key, "error": err.Error()})
				return nil, err
			}
			now := time.Now()
			fresh := &layers.Entry{Value: value, CachedAt: now, ExpiresAt: now.Add(m.config.DefaultTTL), Source: "refresh-ahead"}
			_ = m.populateAll(ctx, key, fresh)
			return fresh, nil
		})
	}()
}
