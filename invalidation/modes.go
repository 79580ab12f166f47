package invalidation

import (
	"context"
	"errors"
	"time"
)

// InvalidateDelayedRequest schedules an invalidation to apply after Delay
// instead of immediately, giving in-flight reads a grace window.
type InvalidateDelayedRequest struct {
	Key         string        `json:"key,omitempty"`
	Pattern     string        `json:"pattern,omitempty"`
	Tag         string        `json:"tag,omitempty"`
	Delay       time.Duration `json:"delay"`
	TriggeredBy string        `json:"triggered_by"`
}

type InvalidateDelayedResponse struct {
	Scheduled bool      `json:"scheduled"`
	ReadyAt   time.Time `json:"ready_at"`
	QueueLen  int       `json:"queue_len"`
}

// InvalidateDelayed enqueues key/pattern for invalidation once Delay has
// elapsed, applied by the background delayed worker.
//
//encore:api public method=POST path=/invalidate/delayed
func InvalidateDelayed(ctx context.Context, req *InvalidateDelayedRequest) (*InvalidateDelayedResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.InvalidateDelayed(ctx, req)
}

func (s *Service) InvalidateDelayed(ctx context.Context, req *InvalidateDelayedRequest) (*InvalidateDelayedResponse, error) {
	if req.Key == "" && req.Pattern == "" && req.Tag == "" {
		return nil, errors.New("key, pattern or tag required")
	}
	if req.Delay <= 0 {
		return nil, errors.New("delay must be positive")
	}
	s.delayed().Schedule(req.Key, req.Pattern, req.Tag, req.Delay)
	return &InvalidateDelayedResponse{
		Scheduled: true,
		ReadyAt:   time.Now().Add(req.Delay),
		QueueLen:  s.delayed().Len(),
	}, nil
}

// InvalidateScheduledRequest invalidates key/pattern at a fixed wall-clock
// time in the future, distinct from InvalidateDelayed's relative delay —
// used for invalidations pinned to a known event (e.g. contract expiry at
// midnight) rather than "soon after this write".
type InvalidateScheduledRequest struct {
	Key         string    `json:"key,omitempty"`
	Pattern     string    `json:"pattern,omitempty"`
	Tag         string    `json:"tag,omitempty"`
	At          time.Time `json:"at"`
	TriggeredBy string    `json:"triggered_by"`
}

type InvalidateScheduledResponse struct {
	Scheduled bool      `json:"scheduled"`
	At        time.Time `json:"at"`
}

//encore:api public method=POST path=/invalidate/scheduled
func InvalidateScheduled(ctx context.Context, req *InvalidateScheduledRequest) (*InvalidateScheduledResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.InvalidateScheduled(ctx, req)
}

func (s *Service) InvalidateScheduled(ctx context.Context, req *InvalidateScheduledRequest) (*InvalidateScheduledResponse, error) {
	if req.Key == "" && req.Pattern == "" && req.Tag == "" {
		return nil, errors.New("key, pattern or tag required")
	}
	delay := time.Until(req.At)
	if delay < 0 {
		delay = 0
	}
	s.delayed().Schedule(req.Key, req.Pattern, req.Tag, delay)
	return &InvalidateScheduledResponse{Scheduled: true, At: req.At}, nil
}

// RegisterDependencyRequest records that Child is derived from Parent, so
// invalidating Parent later cascades to Child.
type RegisterDependencyRequest struct {
	Parent string `json:"parent"`
	Child  string `json:"child"`
}

type RegisterDependencyResponse struct {
	Registered bool `json:"registered"`
}

//encore:api public method=POST path=/invalidate/dependency
func RegisterDependency(ctx context.Context, req *RegisterDependencyRequest) (*RegisterDependencyResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	if req.Parent == "" || req.Child == "" {
		return nil, errors.New("parent and child are required")
	}
	svc.dependencies().Register(req.Parent, req.Child)
	return &RegisterDependencyResponse{Registered: true}, nil
}

// InvalidateDependencyChainRequest invalidates root and every key
// transitively registered as depending on it.
type InvalidateDependencyChainRequest struct {
	Root        string `json:"root"`
	TriggeredBy string `json:"triggered_by"`
}

type InvalidateDependencyChainResponse struct {
	InvalidatedCount int      `json:"invalidated_count"`
	Keys             []string `json:"keys"`
}

//encore:api public method=POST path=/invalidate/chain
func InvalidateDependencyChain(ctx context.Context, req *InvalidateDependencyChainRequest) (*InvalidateDependencyChainResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.InvalidateDependencyChain(ctx, req)
}

func (s *Service) InvalidateDependencyChain(ctx context.Context, req *InvalidateDependencyChainRequest) (*InvalidateDependencyChainResponse, error) {
	if req.Root == "" {
		return nil, errors.New("root is required")
	}
	chain := s.dependencies().Chain(req.Root)

	resp, err := s.InvalidateKey(ctx, &InvalidateKeyRequest{Keys: chain, TriggeredBy: req.TriggeredBy})
	if err != nil {
		return nil, err
	}
	return &InvalidateDependencyChainResponse{InvalidatedCount: resp.InvalidatedCount, Keys: resp.Keys}, nil
}

// DispatchEventRequest looks up the rule catalogue by Event and applies
// every matching rule's tag/patterns/keys, the catalogue-driven entry point
// callers use instead of hardcoding invalidation patterns at call sites.
// Data supplies the event payload fields a rule's "${field}" templates
// interpolate against (e.g. {"id": "42"} for a customer:updated event).
type DispatchEventRequest struct {
	Event       string            `json:"event"`
	Data        map[string]string `json:"data,omitempty"`
	TriggeredBy string            `json:"triggered_by"`
}

type DispatchEventResponse struct {
	RulesApplied     int `json:"rules_applied"`
	InvalidatedCount int `json:"invalidated_count"`
}

//encore:api public method=POST path=/invalidate/dispatch
func DispatchEvent(ctx context.Context, req *DispatchEventRequest) (*DispatchEventResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.DispatchEvent(ctx, req)
}

func (s *Service) DispatchEvent(ctx context.Context, req *DispatchEventRequest) (*DispatchEventResponse, error) {
	rules := s.rules().RulesFor(req.Event)
	total := 0
	for _, rule := range rules {
		if rule.CascadeRoot {
			for _, root := range rule.Keys {
				resp, err := s.InvalidateDependencyChain(ctx, &InvalidateDependencyChainRequest{Root: interpolate(root, req.Data), TriggeredBy: req.TriggeredBy})
				if err == nil {
					total += resp.InvalidatedCount
				}
			}
		} else if len(rule.Keys) > 0 {
			keys := make([]string, len(rule.Keys))
			for i, k := range rule.Keys {
				keys[i] = interpolate(k, req.Data)
			}
			resp, err := s.InvalidateKey(ctx, &InvalidateKeyRequest{Keys: keys, TriggeredBy: req.TriggeredBy})
			if err == nil {
				total += resp.InvalidatedCount
			}
		}
		for _, pattern := range rule.Patterns {
			resp, err := s.InvalidatePattern(ctx, &InvalidatePatternRequest{Pattern: interpolate(pattern, req.Data), TriggeredBy: req.TriggeredBy})
			if err == nil {
				total += resp.InvalidatedCount
			}
		}
		if rule.Tag != "" {
			if _, err := s.InvalidateTag(ctx, &InvalidateTagRequest{Tag: interpolate(rule.Tag, req.Data), TriggeredBy: req.TriggeredBy}); err == nil {
				total++
			}
		}
	}
	return &DispatchEventResponse{RulesApplied: len(rules), InvalidatedCount: total}, nil
}
