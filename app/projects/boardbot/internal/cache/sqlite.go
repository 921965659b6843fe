package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/grand-thief-cash/chaos/app/infra/go/application/components/logging"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/codec"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/errs"
)

const (
	createTableSQL = `CREATE TABLE IF NOT EXISTS cache (
	key TEXT PRIMARY KEY,
	value BLOB NOT NULL,
	expires_at INTEGER
)`
	sweepSQL  = `DELETE FROM cache WHERE expires_at IS NOT NULL AND expires_at <= ?`
	selectSQL = `SELECT value FROM cache WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)`
	upsertSQL = `INSERT OR REPLACE INTO cache (key, value, expires_at) VALUES (?, ?, ?)`
	deleteSQL = `DELETE FROM cache WHERE key = ?`
)

var expectedColumns = []string{"key", "value", "expires_at"}

// SQLiteCache stores entries in one local table. Every read sweeps expired rows first.
type SQLiteCache struct {
	db   *sql.DB
	path string
	now  func() time.Time

	repairMu sync.Mutex
}

// OpenSQLite opens (or creates) the cache database at path and makes sure the table has the
// expected shape.
func OpenSQLite(ctx context.Context, path string) (*SQLiteCache, error) {
	if path == "" {
		return nil, fmt.Errorf("open sqlite cache: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("open sqlite cache: create dir: %w", err)
	}
	dsn := "file:" + path + "?mode=rwc&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}
	db.SetMaxOpenConns(1)
	c := &SQLiteCache{db: db, path: path, now: time.Now}
	if err := c.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func (c *SQLiteCache) Close() error { return c.db.Close() }

func (c *SQLiteCache) nowMs() int64 { return c.now().UnixMilli() }

func (c *SQLiteCache) expiresAt(ttl time.Duration) sql.NullInt64 {
	if ttl <= 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: c.now().Add(ttl).UnixMilli(), Valid: true}
}

// ensureSchema creates the table, or drops and recreates it when its columns differ.
func (c *SQLiteCache) ensureSchema(ctx context.Context) error {
	c.repairMu.Lock()
	defer c.repairMu.Unlock()

	rows, err := c.db.QueryContext(ctx, `PRAGMA table_info(cache)`)
	if err != nil {
		return errs.Fatal("cache.schema", err)
	}
	var cols []string
	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notnull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			rows.Close()
			return errs.Fatal("cache.schema", err)
		}
		cols = append(cols, strings.ToLower(name))
	}
	rows.Close()

	if len(cols) > 0 && !sameColumns(cols, expectedColumns) {
		logging.Warn(ctx, "sqlite cache schema is stale; recreating table",
			zap.String("path", c.path), zap.Strings("columns", cols))
		if _, err := c.db.ExecContext(ctx, `DROP TABLE cache`); err != nil {
			return errs.Fatal("cache.schema", err)
		}
	}
	if _, err := c.db.ExecContext(ctx, createTableSQL); err != nil {
		return errs.Fatal("cache.schema", err)
	}
	return nil
}

func sameColumns(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func isSchemaError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "no such table") || strings.Contains(msg, "no such column") ||
		strings.Contains(msg, "has no column")
}

// withRepair runs op once, and again after recreating the table if op hit a schema error.
func (c *SQLiteCache) withRepair(ctx context.Context, op func() error) error {
	err := op()
	if !isSchemaError(err) {
		return err
	}
	if rerr := c.ensureSchema(ctx); rerr != nil {
		return rerr
	}
	return op()
}

func (c *SQLiteCache) GetRaw(ctx context.Context, key string) ([]byte, bool) {
	var raw []byte
	err := c.withRepair(ctx, func() error {
		now := c.nowMs()
		if _, err := c.db.ExecContext(ctx, sweepSQL, now); err != nil {
			return err
		}
		return c.db.QueryRowContext(ctx, selectSQL, key, now).Scan(&raw)
	})
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			logging.Warn(ctx, "sqlite cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	return raw, true
}

func (c *SQLiteCache) Get(ctx context.Context, key string, dst any) bool {
	raw, ok := c.GetRaw(ctx, key)
	if !ok {
		return false
	}
	return decodeInto(raw, dst)
}

func (c *SQLiteCache) Has(ctx context.Context, key string) bool {
	_, ok := c.GetRaw(ctx, key)
	return ok
}

func (c *SQLiteCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := codec.Marshal(value)
	if err != nil {
		return errs.Wrap(errs.ErrInvalid, "cache.set", err)
	}
	return c.SetRaw(ctx, key, raw, ttl)
}

func (c *SQLiteCache) SetRaw(ctx context.Context, key string, raw []byte, ttl time.Duration) error {
	err := c.withRepair(ctx, func() error {
		_, err := c.db.ExecContext(ctx, upsertSQL, key, raw, c.expiresAt(ttl))
		return err
	})
	return errs.Wrap(errs.ErrTransient, "cache.set", err)
}

func (c *SQLiteCache) Delete(ctx context.Context, key string) error {
	err := c.withRepair(ctx, func() error {
		_, err := c.db.ExecContext(ctx, deleteSQL, key)
		return err
	})
	return errs.Wrap(errs.ErrTransient, "cache.delete", err)
}

func (c *SQLiteCache) Clear(ctx context.Context) error {
	err := c.withRepair(ctx, func() error {
		_, err := c.db.ExecContext(ctx, `DELETE FROM cache`)
		return err
	})
	return errs.Wrap(errs.ErrTransient, "cache.clear", err)
}

// Mutate holds a write lock on the database (BEGIN IMMEDIATE) for the read-modify-write so other
// processes sharing the file see it as one step.
func (c *SQLiteCache) Mutate(ctx context.Context, key string, ttl time.Duration, fn MutateFunc) error {
	err := c.withRepair(ctx, func() error { return c.mutateOnce(ctx, key, ttl, fn) })
	return errs.Wrap(errs.ErrTransient, "cache.mutate", err)
}

func (c *SQLiteCache) mutateOnce(ctx context.Context, key string, ttl time.Duration, fn MutateFunc) (err error) {
	conn, err := c.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	if _, err = conn.ExecContext(ctx, `BEGIN IMMEDIATE`); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_, _ = conn.ExecContext(context.WithoutCancel(ctx), `ROLLBACK`)
		}
	}()

	now := c.nowMs()
	if _, err = conn.ExecContext(ctx, sweepSQL, now); err != nil {
		return err
	}
	var raw []byte
	exists := true
	if err = conn.QueryRowContext(ctx, selectSQL, key, now).Scan(&raw); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		exists, raw, err = false, nil, nil
	}
	next, err := fn(raw, exists)
	if err != nil {
		return err
	}
	if next == nil {
		_, err = conn.ExecContext(ctx, deleteSQL, key)
	} else {
		_, err = conn.ExecContext(ctx, upsertSQL, key, next, c.expiresAt(ttl))
	}
	if err != nil {
		return err
	}
	_, err = conn.ExecContext(ctx, `COMMIT`)
	return err
}
