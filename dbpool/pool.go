// Package dbpool implements the database connection pool subsystem: one
// primary pool and zero or more weighted read replicas, each guarded by its
// own circuit breaker, with routed, retried, metered queries.
//
// Generalized from the teacher's cache-layer resilience idioms
// (cache-manager/service.go's tier-isolation-on-error, invalidation's
// metrics struct) applied to a domain the teacher never had: a DB pool.
package dbpool

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sony/gobreaker"

	"encore.app/pkg/apperrors"
)

// Descriptor configures one physical pool (primary or replica).
type Descriptor struct {
	Name      string
	DSN       string
	Weight    int // relative selection weight among healthy replicas
	IsPrimary bool
}

// Pool wraps one pgx pool with a circuit breaker and health flag.
type Pool struct {
	name    string
	weight  int
	db      *pgxpool.Pool
	breaker *gobreaker.CircuitBreaker
	healthy atomic.Bool

	queries atomic.Int64
	slow    atomic.Int64
	errors  atomic.Int64
}

func newPool(desc Descriptor, db *pgxpool.Pool, cooldown time.Duration) *Pool {
	p := &Pool{name: desc.Name, weight: desc.Weight, db: db}
	p.healthy.Store(true)
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        desc.Name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return p
}

func (p *Pool) Name() string { return p.name }

func (p *Pool) Healthy() bool { return p.healthy.Load() }

// Open reports whether the breaker is currently rejecting work.
func (p *Pool) Open() bool { return p.breaker.State() == gobreaker.StateOpen }

// QueryOptions tunes one call to Manager.Query.
type QueryOptions struct {
	Operation   string // "read" or "write"
	UseReplica  bool
	Timeout     time.Duration
	Retries     int
	RequestID   string
	SlowAfter   time.Duration
}

// Manager owns the primary pool and its replicas and implements the
// route/guard/execute/retry/record pipeline from the DB connection pool
// specification.
type Manager struct {
	mu       sync.RWMutex
	primary  *Pool
	replicas []*Pool

	probeInterval time.Duration
	stopChan      chan struct{}
	wg            sync.WaitGroup
}

// New constructs a Manager and starts its background health prober.
func New(primary *Pool, replicas []*Pool, probeInterval time.Duration) *Manager {
	m := &Manager{primary: primary, replicas: replicas, probeInterval: probeInterval, stopChan: make(chan struct{})}
	m.wg.Add(1)
	go m.runHealthProber()
	return m
}

// route selects the target pool for a call per the specification: writes
// always go to primary; replica-eligible reads pick a weighted-random
// healthy replica; otherwise fall back to primary.
func (m *Manager) route(opts QueryOptions) *Pool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if opts.Operation != "read" || !opts.UseReplica {
		return m.primary
	}
	var healthy []*Pool
	totalWeight := 0
	for _, r := range m.replicas {
		if r.Healthy() && !r.Open() {
			healthy = append(healthy, r)
			w := r.weight
			if w <= 0 {
				w = 1
			}
			totalWeight += w
		}
	}
	if len(healthy) == 0 {
		return m.primary
	}
	pick := rand.Intn(totalWeight)
	for _, r := range healthy {
		w := r.weight
		if w <= 0 {
			w = 1
		}
		if pick < w {
			return r
		}
		pick -= w
	}
	return healthy[len(healthy)-1]
}

// Result is the outcome of a routed query.
type Result struct {
	Rows     []map[string]interface{}
	RowCount int
	Pool     string
	Duration time.Duration
}

// Query routes, guards, executes, retries and records one call per the
// specification's five-step pipeline.
func (m *Manager) Query(ctx context.Context, sql string, args []interface{}, opts QueryOptions) (*Result, error) {
	target := m.route(opts)
	if target.Open() {
		return nil, apperrors.New(apperrors.KindUnavailable, fmt.Sprintf("pool %s circuit open", target.name))
	}

	retries := opts.Retries
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			backoffDelay := time.Duration(1<<uint(attempt)) * 50 * time.Millisecond
			select {
			case <-time.After(backoffDelay):
			case <-ctx.Done():
				return nil, apperrors.Wrap(apperrors.KindTimeout, "query canceled during retry backoff", ctx.Err())
			}
		}

		res, err := m.execOnce(ctx, target, sql, args, opts)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !apperrors.Is(err, apperrors.KindTransient) {
			break
		}
	}
	return nil, lastErr
}

func (m *Manager) execOnce(ctx context.Context, target *Pool, sql string, args []interface{}, opts QueryOptions) (*Result, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	annotated := annotateWithRequestID(sql, opts.RequestID)

	start := time.Now()
	out, err := target.breaker.Execute(func() (interface{}, error) {
		rows, qerr := target.db.Query(qctx, annotated, args...)
		if qerr != nil {
			return nil, classify(qerr)
		}
		defer rows.Close()

		var records []map[string]interface{}
		for rows.Next() {
			vals, verr := rows.Values()
			if verr != nil {
				return nil, classify(verr)
			}
			fields := rows.FieldDescriptions()
			rec := make(map[string]interface{}, len(fields))
			for i, f := range fields {
				rec[string(f.Name)] = vals[i]
			}
			records = append(records, rec)
		}
		return records, classify(rows.Err())
	})
	duration := time.Since(start)

	target.queries.Add(1)
	slowAfter := opts.SlowAfter
	if slowAfter <= 0 {
		slowAfter = 200 * time.Millisecond
	}
	if duration > slowAfter {
		target.slow.Add(1)
	}

	if err != nil {
		target.errors.Add(1)
		return nil, err
	}

	records, _ := out.([]map[string]interface{})
	return &Result{Rows: records, RowCount: len(records), Pool: target.name, Duration: duration}, nil
}

// annotateWithRequestID embeds a tracing comment ahead of the statement,
// the same "annotate for tracing" step the specification calls for.
func annotateWithRequestID(sql, requestID string) string {
	if requestID == "" {
		return sql
	}
	return fmt.Sprintf("/* request-id=%s */ %s", requestID, sql)
}

// classify maps a pgx error to an apperrors.Kind so the retry loop can tell
// a transient transport fault from a fatal one.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if err == pgx.ErrNoRows {
		return apperrors.Wrap(apperrors.KindNotFound, "no rows", err)
	}
	return apperrors.Wrap(apperrors.KindTransient, "query execution failed", err)
}

// runHealthProber executes a trivial probe against every pool every
// probeInterval, flipping each pool's healthy flag.
func (m *Manager) runHealthProber() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.probeAll()
		}
	}
}

func (m *Manager) probeAll() {
	m.mu.RLock()
	pools := append([]*Pool{m.primary}, m.replicas...)
	m.mu.RUnlock()

	for _, p := range pools {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := p.db.Ping(ctx)
		cancel()
		p.healthy.Store(err == nil)
	}
}

// Status reports overall and per-pool health.
type Status struct {
	Overall  bool
	Primary  bool
	Replicas map[string]bool
}

func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status := Status{Overall: m.primary.Healthy(), Primary: m.primary.Healthy(), Replicas: make(map[string]bool, len(m.replicas))}
	for _, r := range m.replicas {
		status.Replicas[r.name] = r.Healthy()
		status.Overall = status.Overall && r.Healthy()
	}
	return status
}

// Shutdown stops the health prober and closes every pool.
func (m *Manager) Shutdown() {
	close(m.stopChan)
	m.wg.Wait()
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.primary.db.Close()
	for _, r := range m.replicas {
		r.db.Close()
	}
}
