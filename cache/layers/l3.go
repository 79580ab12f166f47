package layers

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"encore.app/pkg/apperrors"
)

// L3 persists cache entries to a Postgres table, used as the slowest,
// most durable tier — populated on L2 miss and consulted before falling
// through to the origin fetcher. The teacher doesn't have an L3 of its
// own; this is modeled on the same pgxpool usage encore's sqldb driver
// carries transitively in the teacher's go.mod, and on how kubernaut and
// ipiton both use pgxpool directly for their own persistence layers.
type L3 struct {
	pool      *pgxpool.Pool
	tableName string
}

// NewL3 wraps an existing pgxpool.Pool. Callers are expected to have
// already run the migration that creates tableName (see migration/ for
// the runner that applies cache_entries.sql-style migrations).
func NewL3(pool *pgxpool.Pool, tableName string) *L3 {
	if tableName == "" {
		tableName = "cache_entries"
	}
	return &L3{pool: pool, tableName: tableName}
}

func (l *L3) Name() string { return "l3" }

func (l *L3) Get(ctx context.Context, key string) (*Entry, bool, error) {
	var (
		data      []byte
		cachedAt  time.Time
		expiresAt time.Time
	)
	query := `SELECT value, cached_at, expires_at FROM ` + l.tableName + `
		WHERE key = $1 AND expires_at > now()`
	err := l.pool.QueryRow(ctx, query, key).Scan(&data, &cachedAt, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, apperrors.Wrap(apperrors.KindUnavailable, "l3 get failed", err)
	}

	var value interface{}
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, false, apperrors.Wrap(apperrors.KindFatal, "l3 entry corrupt", err)
	}
	return &Entry{Value: value, CachedAt: cachedAt, ExpiresAt: expiresAt, Source: "l3"}, true, nil
}

func (l *L3) Set(ctx context.Context, key string, value interface{}, ttl time.Duration, _ ...string) error {
	data, err := json.Marshal(value)
	if err != nil {
		return apperrors.Wrap(apperrors.KindValidation, "l3 value not serializable", err)
	}
	now := time.Now()
	query := `INSERT INTO ` + l.tableName + ` (key, value, cached_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET value = $2, cached_at = $3, expires_at = $4`
	if _, err := l.pool.Exec(ctx, query, key, data, now, now.Add(ttl)); err != nil {
		return apperrors.Wrap(apperrors.KindUnavailable, "l3 set failed", err)
	}
	return nil
}

func (l *L3) Delete(ctx context.Context, key string) error {
	query := `DELETE FROM ` + l.tableName + ` WHERE key = $1`
	if _, err := l.pool.Exec(ctx, query, key); err != nil {
		return apperrors.Wrap(apperrors.KindUnavailable, "l3 delete failed", err)
	}
	return nil
}

func (l *L3) DeletePattern(ctx context.Context, pattern string) (int, error) {
	likePattern := toSQLLike(pattern)
	query := `DELETE FROM ` + l.tableName + ` WHERE key LIKE $1`
	tag, err := l.pool.Exec(ctx, query, likePattern)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.KindUnavailable, "l3 pattern delete failed", err)
	}
	return int(tag.RowsAffected()), nil
}

// InvalidateByTag is a no-op: the persisted tier keeps no tag index, since
// its rows are already addressable by pattern delete and tagging every row
// would duplicate what cache/lru and L2 already do for the faster tiers.
func (l *L3) InvalidateByTag(_ context.Context, _ string) (int, error) {
	return 0, nil
}

func (l *L3) Size(ctx context.Context) (int, error) {
	var n int
	query := `SELECT count(*) FROM ` + l.tableName + ` WHERE expires_at > now()`
	if err := l.pool.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, apperrors.Wrap(apperrors.KindUnavailable, "l3 size query failed", err)
	}
	return n, nil
}

// toSQLLike converts the glob subset used elsewhere ('*' wildcard) into a
// SQL LIKE pattern, escaping any literal '%' or '_' first.
func toSQLLike(pattern string) string {
	out := make([]byte, 0, len(pattern))
	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '%', '_':
			out = append(out, '\\', pattern[i])
		case '*':
			out = append(out, '%')
		default:
			out = append(out, pattern[i])
		}
	}
	return string(out)
}
