package cache

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/errs"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/snowflake"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func newSQLite(t *testing.T) (*SQLiteCache, *fakeClock) {
	t.Helper()
	c, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "cache", "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	clk := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c.now = clk.Now
	return c, clk
}

func newRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCache(client, "boardbot"), mr
}

func TestSQLiteGetAtExpiryIsAbsent(t *testing.T) {
	ctx := context.Background()
	c, clk := newSQLite(t)

	require.NoError(t, c.Set(ctx, "k", map[string]any{"a": 1}, 10*time.Second))
	clk.Advance(10*time.Second - time.Millisecond)
	assert.True(t, c.Has(ctx, "k"))

	clk.Advance(time.Millisecond)
	assert.False(t, c.Has(ctx, "k"), "expires_at == now must read as absent")

	var n int
	require.NoError(t, c.db.QueryRow(`SELECT COUNT(*) FROM cache`).Scan(&n))
	assert.Equal(t, 0, n, "read sweeps expired rows")
}

func TestSQLiteZeroTTLNeverExpires(t *testing.T) {
	ctx := context.Background()
	c, clk := newSQLite(t)

	require.NoError(t, c.Set(ctx, "forever", "v", 0))
	clk.Advance(365 * 24 * time.Hour)
	var got string
	require.True(t, c.Get(ctx, "forever", &got))
	assert.Equal(t, "v", got)
}

func TestSQLiteReplaceDeleteClear(t *testing.T) {
	ctx := context.Background()
	c, _ := newSQLite(t)

	require.NoError(t, c.Set(ctx, "a", 1, 0))
	require.NoError(t, c.Set(ctx, "a", 2, 0))
	var v int
	require.True(t, c.Get(ctx, "a", &v))
	assert.Equal(t, 2, v)

	require.NoError(t, c.Delete(ctx, "a"))
	require.NoError(t, c.Delete(ctx, "a"))
	assert.False(t, c.Has(ctx, "a"))

	require.NoError(t, c.Set(ctx, "b", 1, 0))
	require.NoError(t, c.Set(ctx, "c", 1, 0))
	require.NoError(t, c.Clear(ctx))
	assert.False(t, c.Has(ctx, "b"))
	assert.False(t, c.Has(ctx, "c"))
}

func TestSQLiteDecodeErrorIsAbsent(t *testing.T) {
	ctx := context.Background()
	c, _ := newSQLite(t)

	require.NoError(t, c.SetRaw(ctx, "bad", []byte(`{not json`), 0))
	var dst map[string]any
	assert.False(t, c.Get(ctx, "bad", &dst))
}

func TestSQLiteEncodesIDsAsShortCodes(t *testing.T) {
	ctx := context.Background()
	c, _ := newSQLite(t)

	require.NoError(t, c.Set(ctx, "ids", map[string]any{"id": snowflake.ID(42)}, 0))
	raw, ok := c.GetRaw(ctx, "ids")
	require.True(t, ok)
	assert.JSONEq(t, `{"id":"`+snowflake.Encode(42)+`"}`, string(raw))
}

func TestSQLiteRecreatesStaleSchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	db, err := sql.Open("sqlite", "file:"+path+"?mode=rwc")
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE cache (key TEXT PRIMARY KEY, val TEXT)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	c, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	assert.True(t, c.Has(ctx, "k"))
}

func TestSQLiteRepairsDroppedTable(t *testing.T) {
	ctx := context.Background()
	c, _ := newSQLite(t)

	_, err := c.db.Exec(`DROP TABLE cache`)
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, "k", "v", 0))
	assert.True(t, c.Has(ctx, "k"))
}

func TestSQLiteMutateIsAtomic(t *testing.T) {
	ctx := context.Background()
	c, _ := newSQLite(t)
	runConcurrentIncrements(t, c, 20)

	var n int
	require.True(t, c.Get(ctx, "counter", &n))
	assert.Equal(t, 20, n)
}

func TestMutateNilDeletesAndErrorsPropagate(t *testing.T) {
	ctx := context.Background()
	sq, _ := newSQLite(t)
	rc, _ := newRedis(t)

	for name, c := range map[string]Cache{"sqlite": sq, "redis": rc} {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, c.Set(ctx, "m", 1, 0))
			require.NoError(t, c.Mutate(ctx, "m", 0, func(raw []byte, exists bool) ([]byte, error) {
				assert.True(t, exists)
				return nil, nil
			}))
			assert.False(t, c.Has(ctx, "m"))

			boom := errs.Conflict("test", "boom")
			err := c.Mutate(ctx, "m", 0, func([]byte, bool) ([]byte, error) { return nil, boom })
			assert.True(t, errors.Is(err, errs.ErrConflict))
		})
	}
}

func TestRedisTTLAndNoExpiry(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedis(t)

	require.NoError(t, c.Set(ctx, "short", "v", 3*time.Minute))
	require.NoError(t, c.Set(ctx, "forever", "v", 0))
	assert.True(t, mr.Exists("boardbot:short"))
	assert.Equal(t, 3*time.Minute, mr.TTL("boardbot:short"))
	assert.Equal(t, time.Duration(0), mr.TTL("boardbot:forever"))

	mr.FastForward(3 * time.Minute)
	assert.False(t, c.Has(ctx, "short"))
	assert.True(t, c.Has(ctx, "forever"))
}

func TestRedisClearOnlyTouchesNamespace(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedis(t)

	require.NoError(t, c.Set(ctx, "a", 1, 0))
	require.NoError(t, c.Set(ctx, "b", 1, 0))
	require.NoError(t, mr.Set("other:a", "1"))

	require.NoError(t, c.Clear(ctx))
	assert.False(t, c.Has(ctx, "a"))
	assert.False(t, c.Has(ctx, "b"))
	assert.True(t, mr.Exists("other:a"))
}

func TestRedisFailuresReadAsAbsent(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedis(t)
	require.NoError(t, c.Set(ctx, "k", "v", 0))

	mr.Close()
	var v string
	assert.False(t, c.Get(ctx, "k", &v))
	err := c.Set(ctx, "k", "v2", 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrTransient))
}

func TestRedisMutateIsAtomic(t *testing.T) {
	ctx := context.Background()
	c, _ := newRedis(t)
	runConcurrentIncrements(t, c, 10)

	var n int
	require.True(t, c.Get(ctx, "counter", &n))
	assert.Equal(t, 10, n)
}

func runConcurrentIncrements(t *testing.T, c Cache, workers int) {
	t.Helper()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := c.Mutate(ctx, "counter", time.Hour, func(raw []byte, exists bool) ([]byte, error) {
				n := 0
				if exists {
					n, _ = strconv.Atoi(string(raw))
				}
				return []byte(strconv.Itoa(n + 1)), nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}
