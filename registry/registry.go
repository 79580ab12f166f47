// Package registry implements component registration, dependency-ordered
// startup, aggregated health checks and reverse-order graceful shutdown
// for every service in the process.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"encore.app/pkg/apperrors"
)

// HealthProbe reports a component's current health.
type HealthProbe func(ctx context.Context) error

// InitFunc runs a component's startup logic.
type InitFunc func(ctx context.Context) error

// ShutdownFunc runs a component's graceful shutdown logic.
type ShutdownFunc func(ctx context.Context) error

// Component describes one registrable unit: name, dependency edges,
// priority (used only to break ties among otherwise-unordered components),
// whether its failure to initialize is fatal, its environment tag, and
// optional health/shutdown hooks.
type Component struct {
	Name         string
	Dependencies []string
	Priority     int
	Required     bool
	Environment  string
	Init         InitFunc
	Health       HealthProbe
	Shutdown     ShutdownFunc
}

// Status is one component's reported health.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDisabled  Status = "disabled"
)

// Registry holds registered components and the resolved load order.
type Registry struct {
	mu         sync.Mutex
	components map[string]Component
	order      []string
	started    map[string]bool
}

func New() *Registry {
	return &Registry{
		components: make(map[string]Component),
		started:    make(map[string]bool),
	}
}

// Register adds a component. It is an error to register the same name
// twice.
func (r *Registry) Register(c Component) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.components[c.Name]; exists {
		return apperrors.New(apperrors.KindConflict, "component already registered: "+c.Name)
	}
	r.components[c.Name] = c
	return nil
}

// resolveOrder computes a topological load order over Dependencies,
// breaking ties among components with no remaining unresolved
// dependencies by descending Priority, then by name for determinism.
func (r *Registry) resolveOrder() ([]string, error) {
	remaining := make(map[string]Component, len(r.components))
	for k, v := range r.components {
		remaining[k] = v
	}
	for name, c := range remaining {
		for _, dep := range c.Dependencies {
			if _, ok := remaining[dep]; !ok {
				return nil, apperrors.New(apperrors.KindValidation, fmt.Sprintf("component %s depends on unregistered component %s", name, dep))
			}
		}
	}

	var order []string
	resolved := make(map[string]bool)

	for len(remaining) > 0 {
		var ready []Component
		for _, c := range remaining {
			if dependenciesResolved(c, resolved) {
				ready = append(ready, c)
			}
		}
		if len(ready) == 0 {
			return nil, apperrors.New(apperrors.KindValidation, "dependency cycle detected among components: "+namesOf(remaining))
		}
		sort.Slice(ready, func(i, j int) bool {
			if ready[i].Priority != ready[j].Priority {
				return ready[i].Priority > ready[j].Priority
			}
			return ready[i].Name < ready[j].Name
		})
		for _, c := range ready {
			order = append(order, c.Name)
			resolved[c.Name] = true
			delete(remaining, c.Name)
		}
	}
	return order, nil
}

func dependenciesResolved(c Component, resolved map[string]bool) bool {
	for _, dep := range c.Dependencies {
		if !resolved[dep] {
			return false
		}
	}
	return true
}

func namesOf(m map[string]Component) string {
	var names []string
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ","
		}
		out += n
	}
	return out
}

// InitResult reports what happened initializing one component.
type InitResult struct {
	Name    string
	Skipped bool
	Error   error
}

// Start resolves the load order and runs each component's Init in order.
// A required component's init failure aborts startup; an optional
// component's failure is recorded and skipped.
func (r *Registry) Start(ctx context.Context) ([]InitResult, error) {
	order, err := r.resolveOrder()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.order = order
	r.mu.Unlock()

	var results []InitResult
	for _, name := range order {
		c := r.components[name]
		if c.Init == nil {
			results = append(results, InitResult{Name: name, Skipped: true})
			r.markStarted(name)
			continue
		}
		if err := c.Init(ctx); err != nil {
			results = append(results, InitResult{Name: name, Error: err})
			if c.Required {
				return results, apperrors.Wrap(apperrors.KindFatal, "required component failed to initialize: "+name, err)
			}
			continue
		}
		results = append(results, InitResult{Name: name})
		r.markStarted(name)
	}
	return results, nil
}

func (r *Registry) markStarted(name string) {
	r.mu.Lock()
	r.started[name] = true
	r.mu.Unlock()
}

// Shutdown walks the load order in reverse, invoking each started
// component's Shutdown hook; the whole pass is bounded by deadline.
func (r *Registry) Shutdown(ctx context.Context, deadline time.Duration) map[string]error {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	r.mu.Lock()
	order := append([]string{}, r.order...)
	r.mu.Unlock()

	results := make(map[string]error)
	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		c := r.components[name]
		if !r.started[name] || c.Shutdown == nil {
			continue
		}
		select {
		case <-ctx.Done():
			results[name] = apperrors.New(apperrors.KindTimeout, "shutdown deadline exceeded before reaching "+name)
			continue
		default:
		}
		if err := c.Shutdown(ctx); err != nil {
			results[name] = err
		}
	}
	return results
}

// HealthReport is one component's current status.
type HealthReport struct {
	Name   string
	Status Status
	Error  string
}

// Health runs the health probe of every component in the load order
// (started or not, including optional ones whose Init failed) concurrently
// via an errgroup and returns a report per component.
func (r *Registry) Health(ctx context.Context) []HealthReport {
	r.mu.Lock()
	order := append([]string{}, r.order...)
	r.mu.Unlock()

	reports := make([]HealthReport, len(order))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range order {
		i, name := i, name
		c := r.components[name]
		g.Go(func() error {
			if c.Health == nil {
				reports[i] = HealthReport{Name: name, Status: StatusDisabled}
				recordHealthGauge(reports[i])
				return nil
			}
			if err := c.Health(gctx); err != nil {
				reports[i] = HealthReport{Name: name, Status: StatusUnhealthy, Error: err.Error()}
				recordHealthGauge(reports[i])
				return nil
			}
			reports[i] = HealthReport{Name: name, Status: StatusHealthy}
			recordHealthGauge(reports[i])
			return nil
		})
	}
	_ = g.Wait()
	return reports
}

// Order returns the resolved load order.
func (r *Registry) Order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.order...)
}
