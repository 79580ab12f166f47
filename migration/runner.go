// Package migration implements the migration runner: dependency-aware
// ordering, an advisory lock serializing concurrent runs, checksum
// validation against already-executed migrations, and rollback-on-failure.
//
// File naming and version-number parsing follow pressly/goose's own
// `NNN_name` convention (goose.NumericComponent); the runner's actual
// pending-set computation, dependency DAG and rollback orchestration are
// bespoke since goose's own Up/Down runner has no notion of a dependency
// list per migration or of aborting on checksum mismatch.
package migration

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pressly/goose/v3"

	"encore.app/pkg/apperrors"
)

// nameRe matches the `NNN_name.{schema|script}` naming convention.
var nameRe = regexp.MustCompile(`^(\d+)_([^.]+)\.(schema|script)$`)

// Direction selects which half of a migration to run.
type Direction int

const (
	Up Direction = iota
	Down
)

// Migration is one declared migration file.
type Migration struct {
	Version      int64
	Name         string
	Kind         string // "schema" or "script"
	UpSQL        string
	DownSQL      string
	Dependencies []int64
	Metadata     map[string]string
}

func (m *Migration) checksum() string {
	sum := sha256.Sum256([]byte(m.UpSQL + "\x00" + m.DownSQL))
	return hex.EncodeToString(sum[:])
}

// ParseFilename validates and extracts the version/name/kind from a
// migration filename, delegating numeric parsing to goose's own helper.
func ParseFilename(filename string) (version int64, name string, kind string, err error) {
	match := nameRe.FindStringSubmatch(filename)
	if match == nil {
		return 0, "", "", apperrors.New(apperrors.KindValidation, "migration filename does not match NNN_name.{schema|script}")
	}
	// goose.NumericComponent only accepts .sql/.go names, so it is given the
	// version and name under a .sql extension.
	v, verr := goose.NumericComponent(match[1] + "_" + match[2] + ".sql")
	if verr != nil {
		return 0, "", "", apperrors.Wrap(apperrors.KindValidation, "migration version is not numeric", verr)
	}
	return v, match[2], match[3], nil
}

// appliedRecord is one row of the executed-migrations history.
type appliedRecord struct {
	Version      int64
	Checksum     string
	ExecMS       int64
	Dependencies []int64
	Metadata     map[string]string
	ExecutedAt   time.Time
}

// advisoryLockID is the well-known integer identifying this runner's
// advisory lock, arbitrary but fixed so concurrent runners serialize.
const advisoryLockID = 847_291

// Runner executes migrations against a single Postgres database.
type Runner struct {
	db      *pgxpool.Pool
	table   string // bookkeeping table name
	history map[int64]appliedRecord
}

// New constructs a Runner. EnsureSchema must be called once before use.
func New(db *pgxpool.Pool) *Runner {
	return &Runner{db: db, table: "schema_migration_history", history: make(map[int64]appliedRecord)}
}

// EnsureSchema creates the bookkeeping table if absent.
func (r *Runner) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version BIGINT PRIMARY KEY,
			checksum TEXT NOT NULL,
			exec_ms BIGINT NOT NULL,
			dependencies TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '',
			executed_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, r.table))
	return err
}

// Validate checks version numerics, name uniqueness, dependency existence
// and acyclicity across the declared set, per the specification's
// validation pass.
func Validate(migrations []*Migration) error {
	seen := make(map[int64]*Migration, len(migrations))
	names := make(map[string]struct{}, len(migrations))
	for _, m := range migrations {
		if m.Version <= 0 {
			return apperrors.New(apperrors.KindValidation, fmt.Sprintf("migration %s has non-positive version", m.Name))
		}
		if _, dup := names[m.Name]; dup {
			return apperrors.New(apperrors.KindValidation, fmt.Sprintf("duplicate migration name %q", m.Name))
		}
		names[m.Name] = struct{}{}
		seen[m.Version] = m
	}
	for _, m := range migrations {
		for _, dep := range m.Dependencies {
			if _, ok := seen[dep]; !ok {
				return apperrors.New(apperrors.KindValidation, fmt.Sprintf("migration %d depends on unknown version %d", m.Version, dep))
			}
		}
	}
	return detectCycle(seen)
}

func detectCycle(byVersion map[int64]*Migration) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[int64]int, len(byVersion))
	var visit func(v int64) error
	visit = func(v int64) error {
		color[v] = gray
		for _, dep := range byVersion[v].Dependencies {
			switch color[dep] {
			case gray:
				return apperrors.New(apperrors.KindValidation, "dependency cycle detected in migration DAG")
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		color[v] = black
		return nil
	}
	for v := range byVersion {
		if color[v] == white {
			if err := visit(v); err != nil {
				return err
			}
		}
	}
	return nil
}

// pending computes declared minus executed, respecting dependency order:
// a migration only becomes eligible once every dependency has run.
func pending(migrations []*Migration, executed map[int64]appliedRecord) []*Migration {
	byVersion := make(map[int64]*Migration, len(migrations))
	for _, m := range migrations {
		byVersion[m.Version] = m
	}

	var result []*Migration
	done := make(map[int64]bool, len(executed))
	for v := range executed {
		done[v] = true
	}

	remaining := make([]*Migration, 0, len(migrations))
	for _, m := range migrations {
		if !done[m.Version] {
			remaining = append(remaining, m)
		}
	}
	sort.Slice(remaining, func(i, j int) bool { return remaining[i].Version < remaining[j].Version })

	for len(remaining) > 0 {
		progressed := false
		var next []*Migration
		for _, m := range remaining {
			ready := true
			for _, dep := range m.Dependencies {
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				result = append(result, m)
				done[m.Version] = true
				progressed = true
			} else {
				next = append(next, m)
			}
		}
		if !progressed {
			break // remaining migrations have an unsatisfiable dependency; caller's Validate should have caught this
		}
		remaining = next
	}
	return result
}

// Options tunes one Run call.
type Options struct {
	Direction         Direction
	Target            int64 // for Down, stop once this version is reached (exclusive)
	Force             bool  // skip checksum mismatch abort
	RollbackOnFailure bool
}

// Run executes every pending migration (or, for Down, every migration back
// to Target) under the advisory lock.
func (r *Runner) Run(ctx context.Context, migrations []*Migration, opts Options) error {
	if err := Validate(migrations); err != nil {
		return err
	}

	conn, err := r.db.Acquire(ctx)
	if err != nil {
		return apperrors.Wrap(apperrors.KindUnavailable, "failed to acquire connection for advisory lock", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", advisoryLockID); err != nil {
		return apperrors.Wrap(apperrors.KindUnavailable, "failed to acquire migration advisory lock", err)
	}
	defer conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", advisoryLockID)

	if err := r.loadHistory(ctx); err != nil {
		return err
	}

	if opts.Direction == Down {
		return r.runDown(ctx, migrations, opts)
	}
	return r.runUp(ctx, migrations, opts)
}

func (r *Runner) runUp(ctx context.Context, migrations []*Migration, opts Options) error {
	if !opts.Force {
		for _, m := range migrations {
			if existing, ok := r.history[m.Version]; ok && existing.Checksum != m.checksum() {
				return apperrors.New(apperrors.KindConflict, fmt.Sprintf("checksum mismatch for migration %d", m.Version))
			}
		}
	}
	toRun := pending(migrations, r.history)

	var executedThisRun []*Migration
	for _, m := range toRun {
		start := time.Now()
		if _, err := r.db.Exec(ctx, m.UpSQL); err != nil {
			if opts.RollbackOnFailure {
				r.rollbackRun(ctx, executedThisRun)
			}
			return apperrors.Wrap(apperrors.KindFatal, fmt.Sprintf("migration %d failed", m.Version), err)
		}
		execMS := time.Since(start).Milliseconds()

		if err := r.recordApplied(ctx, m, execMS); err != nil {
			return err
		}
		executedThisRun = append(executedThisRun, m)
	}
	return nil
}

func (r *Runner) rollbackRun(ctx context.Context, executed []*Migration) {
	for i := len(executed) - 1; i >= 0; i-- {
		m := executed[i]
		r.db.Exec(ctx, m.DownSQL)
		r.db.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE version = $1", r.table), m.Version)
		delete(r.history, m.Version)
	}
}

func (r *Runner) runDown(ctx context.Context, migrations []*Migration, opts Options) error {
	byVersion := make(map[int64]*Migration, len(migrations))
	for _, m := range migrations {
		byVersion[m.Version] = m
	}

	var executedVersions []int64
	for v := range r.history {
		if v > opts.Target {
			executedVersions = append(executedVersions, v)
		}
	}
	sort.Slice(executedVersions, func(i, j int) bool { return executedVersions[i] > executedVersions[j] })

	for _, v := range executedVersions {
		m, ok := byVersion[v]
		if !ok {
			return apperrors.New(apperrors.KindFatal, fmt.Sprintf("executed migration %d missing from declared set", v))
		}
		if _, err := r.db.Exec(ctx, m.DownSQL); err != nil {
			return apperrors.Wrap(apperrors.KindFatal, fmt.Sprintf("rollback of migration %d failed", v), err)
		}
		if _, err := r.db.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE version = $1", r.table), v); err != nil {
			return err
		}
		delete(r.history, v)
	}
	return nil
}

func (r *Runner) recordApplied(ctx context.Context, m *Migration, execMS int64) error {
	deps := make([]string, len(m.Dependencies))
	for i, d := range m.Dependencies {
		deps[i] = strconv.FormatInt(d, 10)
	}
	meta := make([]string, 0, len(m.Metadata))
	for k, v := range m.Metadata {
		meta = append(meta, k+"="+v)
	}
	_, err := r.db.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (version, checksum, exec_ms, dependencies, metadata) VALUES ($1,$2,$3,$4,$5)
		 ON CONFLICT (version) DO UPDATE SET checksum = $2, exec_ms = $3, dependencies = $4, metadata = $5`, r.table),
		m.Version, m.checksum(), execMS, strings.Join(deps, ","), strings.Join(meta, ","))
	if err != nil {
		return err
	}
	r.history[m.Version] = appliedRecord{Version: m.Version, Checksum: m.checksum(), ExecMS: execMS, ExecutedAt: time.Now()}
	return nil
}

func (r *Runner) loadHistory(ctx context.Context) error {
	rows, err := r.db.Query(ctx, fmt.Sprintf("SELECT version, checksum, exec_ms FROM %s", r.table))
	if err != nil {
		return err
	}
	defer rows.Close()
	r.history = make(map[int64]appliedRecord)
	for rows.Next() {
		var rec appliedRecord
		if err := rows.Scan(&rec.Version, &rec.Checksum, &rec.ExecMS); err != nil {
			return err
		}
		r.history[rec.Version] = rec
	}
	return rows.Err()
}
