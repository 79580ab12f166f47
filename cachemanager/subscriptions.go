package cachemanager

import (
	"context"
	"encoding/json"
	"time"

	"encore.dev/pubsub"

	"encore.app/cache/layers"
	"encore.app/invalidation"
)

// RefreshEvent carries a precomputed value to populate into every tier,
// broadcast by the warming service once it has fetched fresh data from
// origin so every Manager instance benefits without each re-fetching.
type RefreshEvent struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	TTLSecs   int             `json:"ttl_seconds"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
}

var CacheRefreshTopic = pubsub.NewTopic[*RefreshEvent](
	"cache-refresh",
	pubsub.TopicConfig{
		DeliveryGuarantee: pubsub.AtLeastOnce,
	},
)

// Subscribing to invalidation's topic keeps every Manager instance's tiers
// consistent after an invalidation.Service call on a different instance.
var _ = pubsub.NewSubscription(
	invalidation.CacheInvalidateTopic,
	"cache-manager-invalidate",
	pubsub.SubscriptionConfig[*invalidation.InvalidationEvent]{
		Handler: HandleInvalidateEvent,
	},
)

func HandleInvalidateEvent(ctx context.Context, event *invalidation.InvalidationEvent) error {
	if mgr == nil {
		return nil
	}
	if len(event.MatchedKeys) > 0 {
		_, err := mgr.Invalidate(ctx, event.MatchedKeys, "", "")
		return err
	}
	if event.Pattern != "" {
		_, err := mgr.Invalidate(ctx, nil, event.Pattern, "")
		return err
	}
	if event.Tag != "" {
		_, err := mgr.Invalidate(ctx, nil, "", event.Tag)
		return err
	}
	return nil
}

var _ = pubsub.NewSubscription(
	CacheRefreshTopic,
	"cache-manager-refresh",
	pubsub.SubscriptionConfig[*RefreshEvent]{
		Handler: HandleRefreshEvent,
	},
)

// HandleRefreshEvent proactively populates every tier with a value the
// warming service has already fetched, skipping the origin round trip.
func HandleRefreshEvent(ctx context.Context, event *RefreshEvent) error {
	if mgr == nil {
		return nil
	}
	ttl := time.Duration(event.TTLSecs) * time.Second
	if ttl <= 0 {
		ttl = mgr.config.DefaultTTL
	}
	var value interface{}
	if err := json.Unmarshal(event.Value, &value); err != nil {
		value = string(event.Value)
	}
	now := time.Now()
	return mgr.populateAll(ctx, event.Key, &layers.Entry{Value: value, CachedAt: now, ExpiresAt: now.Add(ttl)})
}

// PublishInvalidation broadcasts a local invalidation so sibling instances
// evict the same keys/pattern from their own tiers.
func (m *Manager) PublishInvalidation(ctx context.Context, keys []string, pattern string) error {
	event := &invalidation.InvalidationEvent{
		Pattern:     pattern,
		MatchedKeys: keys,
		TriggeredBy: "cachemanager",
		Timestamp:   time.Now(),
	}
	_, err := invalidation.CacheInvalidateTopic.Publish(ctx, event)
	return err
}

// PublishRefresh broadcasts a freshly-fetched value for sibling instances
// to populate without each re-fetching from origin themselves.
func (m *Manager) PublishRefresh(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	event := &RefreshEvent{
		Key:       key,
		Value:     raw,
		TTLSecs:   int(ttl.Seconds()),
		Timestamp: time.Now(),
		Source:    "cachemanager",
	}
	_, err = CacheRefreshTopic.Publish(ctx, event)
	return err
}
