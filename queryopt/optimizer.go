// Package queryopt implements the query optimizer: a plan cache, a result
// cache, a prepared-statement registry, deterministic rewrites, batching
// and index-usage tracking, all wrapped around dbpool.Manager.
//
// Plan and result caching reuse cache/lru.Store, the same generalized LRU
// the cache-manager tiers use (module 1 in the layout), rather than
// inventing a second cache data structure.
package queryopt

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"strings"
	"sync"

	"encore.app/cache/lru"
	"encore.app/dbpool"
)

var (
	whitespaceRe   = regexp.MustCompile(`\s+`)
	dateLiteralRe  = regexp.MustCompile(`'\d{4}-\d{2}-\d{2}(?:[ T]\d{2}:\d{2}:\d{2})?'`)
	largeIntRe     = regexp.MustCompile(`\b\d{5,}\b`)
	selectStarRe   = regexp.MustCompile(`(?i)select\s+\*`)
	nonDeterminRe  = regexp.MustCompile(`(?i)\b(now\(\)|current_timestamp|random\(\)|uuid_generate)\b`)
)

// Plan is a cached execution plan for a normalized query signature.
type Plan struct {
	Signature string
	RawJSON   string
	Warnings  []string
}

// Optimizer wraps a dbpool.Manager with plan/result caching, a
// prepared-statement registry and index-usage tracking.
type Optimizer struct {
	pool *dbpool.Manager

	planCache   *lru.Store
	resultCache *lru.Store

	mu       sync.Mutex
	prepared map[string]string // caller-supplied name -> normalized SQL

	indexMu  sync.Mutex
	indexHit map[string]int64
}

// New constructs an Optimizer with bounded plan/result caches.
func New(pool *dbpool.Manager, planCacheSize, resultCacheSize int) *Optimizer {
	return &Optimizer{
		pool:        pool,
		planCache:   lru.New(planCacheSize),
		resultCache: lru.New(resultCacheSize),
		prepared:    make(map[string]string),
		indexHit:    make(map[string]int64),
	}
}

// Normalize computes a stable signature for sql: lowercased, trimmed and
// whitespace collapsed. Literals and placeholders are kept as written, so
// queries that differ only in literal values get different signatures.
func Normalize(sql string) string {
	s := strings.ToLower(strings.TrimSpace(sql))
	s = whitespaceRe.ReplaceAllString(s, " ")
	return s
}

// Rewrite applies the deterministic rewrites the specification calls for:
// parameterizing hardcoded dates/large integers, trimming whitespace, and
// flagging SELECT *. Returns the rewritten SQL and any warnings.
func Rewrite(sql string) (string, []string) {
	var warnings []string
	rewritten := strings.TrimSpace(sql)
	rewritten = whitespaceRe.ReplaceAllString(rewritten, " ")

	if dateLiteralRe.MatchString(rewritten) {
		rewritten = dateLiteralRe.ReplaceAllString(rewritten, "?")
		warnings = append(warnings, "hardcoded date literal parameterized")
	}
	if largeIntRe.MatchString(rewritten) {
		rewritten = largeIntRe.ReplaceAllString(rewritten, "?")
		warnings = append(warnings, "large integer literal parameterized")
	}
	if selectStarRe.MatchString(rewritten) {
		warnings = append(warnings, "SELECT * flagged: prefer explicit columns")
	}
	return rewritten, warnings
}

// cacheable reports whether sql is safe to result-cache: only SELECTs
// without a non-deterministic function call qualify.
func cacheable(sql string) bool {
	trimmed := strings.TrimSpace(strings.ToLower(sql))
	if !strings.HasPrefix(trimmed, "select") {
		return false
	}
	return !nonDeterminRe.MatchString(sql)
}

// fingerprint hashes sql and params the way the result-cache key spec
// requires: md5(sql) + md5(params).
func fingerprint(sql string, params []interface{}) string {
	sqlSum := md5.Sum([]byte(sql))
	paramsJSON, _ := json.Marshal(params)
	paramsSum := md5.Sum(paramsJSON)
	return hex.EncodeToString(sqlSum[:]) + ":" + hex.EncodeToString(paramsSum[:])
}

// PlanFor returns the cached plan for sql if present, or explains it on a
// replica and caches the result.
func (o *Optimizer) PlanFor(ctx context.Context, sql string) (*Plan, error) {
	sig := Normalize(sql)
	if cached, ok := o.planCache.Get(sig); ok {
		return cached.(*Plan), nil
	}

	explainSQL := "EXPLAIN (ANALYZE, BUFFERS, FORMAT JSON) " + sql
	res, err := o.pool.Query(ctx, explainSQL, nil, dbpool.QueryOptions{Operation: "read", UseReplica: true})
	if err != nil {
		return nil, err
	}

	raw, _ := json.Marshal(res.Rows)
	plan := &Plan{Signature: sig, RawJSON: string(raw)}
	o.recordIndexUsage(plan.RawJSON)
	o.planCache.Set(sig, plan, 0)
	return plan, nil
}

// recordIndexUsage does a best-effort scan of the raw EXPLAIN JSON for
// "Index Name" occurrences, incrementing each index's usage counter.
func (o *Optimizer) recordIndexUsage(rawJSON string) {
	re := regexp.MustCompile(`"Index Name"\s*:\s*"([^"]+)"`)
	matches := re.FindAllStringSubmatch(rawJSON, -1)
	if len(matches) == 0 {
		return
	}
	o.indexMu.Lock()
	defer o.indexMu.Unlock()
	for _, m := range matches {
		o.indexHit[m[1]]++
	}
}

// IndexUsage returns a snapshot of per-index usage counts.
func (o *Optimizer) IndexUsage() map[string]int64 {
	o.indexMu.Lock()
	defer o.indexMu.Unlock()
	out := make(map[string]int64, len(o.indexHit))
	for k, v := range o.indexHit {
		out[k] = v
	}
	return out
}

// Prepare registers sql under name for later lookup by PreparedSQL.
func (o *Optimizer) Prepare(name, sql string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prepared[name] = Normalize(sql)
}

// PreparedSQL looks up a previously registered statement by name.
func (o *Optimizer) PreparedSQL(name string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	sql, ok := o.prepared[name]
	return sql, ok
}

// Query executes sql with result caching when eligible, via the
// plan-cache/result-cache pipeline described in the specification.
func (o *Optimizer) Query(ctx context.Context, sql string, params []interface{}, opts dbpool.QueryOptions) (*dbpool.Result, error) {
	rewritten, _ := Rewrite(sql)

	if cacheable(rewritten) {
		key := fingerprint(rewritten, params)
		if cached, ok := o.resultCache.Get(key); ok {
			return cached.(*dbpool.Result), nil
		}
		res, err := o.pool.Query(ctx, rewritten, params, opts)
		if err != nil {
			return nil, err
		}
		o.resultCache.Set(key, res, 0)
		return res, nil
	}

	return o.pool.Query(ctx, rewritten, params, opts)
}

// QueryInto runs Query and scans the returned rows into dest, a pointer
// to a slice of structs tagged with "db", the same tag convention sqlx
// uses for StructScan.
func (o *Optimizer) QueryInto(ctx context.Context, sql string, params []interface{}, opts dbpool.QueryOptions, dest interface{}) error {
	res, err := o.Query(ctx, sql, params, opts)
	if err != nil {
		return err
	}
	return ScanRows(res.Rows, dest)
}
