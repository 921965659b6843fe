package dispatch

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/cache"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/snowflake"
)

var stagingPattern = regexp.MustCompile(`^\d+_\d{6}-[0-9a-f]{10}(-fileonly)?\.json$`)

func sqliteCache(t *testing.T) cache.Cache {
	t.Helper()
	c, err := cache.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func redisCache(t *testing.T) (cache.Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewRedisCache(client, "boardbot"), mr
}

func stagedFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out
}

type recorder struct {
	mu  sync.Mutex
	got []Received
}

func (r *recorder) handle(_ context.Context, env Received) error {
	r.mu.Lock()
	r.got = append(r.got, env)
	r.mu.Unlock()
	return nil
}

func (r *recorder) all() []Received {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Received(nil), r.got...)
}

func TestEnvelopeEncodesIDsAsShortCodes(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	q := NewFileQueue(dir, sqliteCache(t))

	key := q.Put(ctx, "card_updated", map[string]any{"id": snowflake.ID(42)})
	require.NotEmpty(t, key)

	files := stagedFiles(t, dir)
	require.Len(t, files, 1)
	assert.Regexp(t, stagingPattern, files[0])
	assert.Equal(t, key, keyFromStagingName(files[0]))

	raw, err := os.ReadFile(filepath.Join(dir, files[0]))
	require.NoError(t, err)
	var env struct {
		Event string         `json:"event"`
		Data  map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, "card_updated", env.Event)
	id, ok := env.Data["id"].(string)
	require.True(t, ok, "id must be a string, got %T", env.Data["id"])
	assert.Len(t, id, 11)
	assert.Equal(t, snowflake.Encode(42), id)
}

func TestKeyFormat(t *testing.T) {
	now := time.Unix(1735689600, 123456000)
	stem := newStem(now)
	assert.Regexp(t, `^1735689600_123456-[0-9a-f]{10}$`, stem)
	assert.Equal(t, "broadcast-"+stem, cacheKeyFor(stem))
	assert.Equal(t, stem+"-fileonly.json", stagingName(stem, true))
}

func TestDistributedCacheStoresBodyBeforePointer(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	c, mr := redisCache(t)
	q := NewFileQueue(dir, c)

	key := q.Put(ctx, "card_deleted", map[string]any{"ok": true})
	require.NotEmpty(t, key)
	assert.True(t, mr.Exists("boardbot:"+key))
	assert.Equal(t, EnvelopeTTL, mr.TTL("boardbot:"+key))

	files := stagedFiles(t, dir)
	require.Len(t, files, 1)
	raw, err := os.ReadFile(filepath.Join(dir, files[0]))
	require.NoError(t, err)
	assert.JSONEq(t, `{"cache_key":"`+key+`"}`, string(raw))
}

func TestFileOnlyBypassesCache(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	c, mr := redisCache(t)
	q := NewFileQueue(dir, c)

	key := q.PutEnvelope(ctx, Envelope{Event: "export", Data: map[string]any{"n": 1}, FileOnly: true})
	require.NotEmpty(t, key)
	assert.False(t, mr.Exists("boardbot:"+key))

	files := stagedFiles(t, dir)
	require.Len(t, files, 1)
	assert.Contains(t, files[0], "-fileonly.json")
}

func TestEncodeFailureIsDroppedSilently(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	q := NewFileQueue(dir, sqliteCache(t))

	key := q.Put(ctx, "bad", map[string]any{"ch": make(chan int)})
	assert.Empty(t, key)
	assert.Empty(t, stagedFiles(t, dir))
}

func TestSubscriberRoutesAndRemovesStagedFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	c, _ := redisCache(t)
	q := NewFileQueue(dir, c)
	s := NewFileSubscriber(dir, c)
	rec := &recorder{}
	s.Handle("card_updated", rec.handle)

	k1 := q.Put(ctx, "card_updated", map[string]any{"n": 1})
	k2 := q.Put(ctx, "card_updated", map[string]any{"n": 2})

	assert.Equal(t, 2, s.Poll(ctx))
	got := rec.all()
	require.Len(t, got, 2)
	assert.Equal(t, k1, got[0].Key)
	assert.Equal(t, k2, got[1].Key)
	var data map[string]int
	require.NoError(t, got[1].Decode(&data))
	assert.Equal(t, 2, data["n"])
	assert.Empty(t, stagedFiles(t, dir))
}

func TestSubscriberDropsExpiredEnvelope(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	c, mr := redisCache(t)
	q := NewFileQueue(dir, c)
	s := NewFileSubscriber(dir, c)
	rec := &recorder{}
	s.Handle("card_updated", rec.handle)

	q.Put(ctx, "card_updated", map[string]any{"n": 1})
	mr.FastForward(EnvelopeTTL)

	assert.Equal(t, 1, s.Poll(ctx))
	assert.Empty(t, rec.all())
	assert.Empty(t, stagedFiles(t, dir))
}

func TestSubscriberDedupesByKey(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	c := sqliteCache(t)
	q := NewFileQueue(dir, c)
	s := NewFileSubscriber(dir, c)
	rec := &recorder{}
	s.Handle("card_updated", rec.handle)

	key := q.Put(ctx, "card_updated", map[string]any{"n": 1})
	files := stagedFiles(t, dir)
	require.Len(t, files, 1)
	raw, err := os.ReadFile(filepath.Join(dir, files[0]))
	require.NoError(t, err)

	s.Poll(ctx)
	s.Consume(ctx, key, raw)
	assert.Len(t, rec.all(), 1)
}

func TestSubscriberIgnoresUnroutedAndInvalid(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	c := sqliteCache(t)
	s := NewFileSubscriber(dir, c)
	rec := &recorder{}
	s.Handle("known", rec.handle)

	s.Consume(ctx, "broadcast-x", []byte(`{"event":"unknown","data":{}}`))
	s.Consume(ctx, "broadcast-y", []byte(`not json`))
	assert.Empty(t, rec.all())
}

func TestSubscriberLoopDeliversAfterStart(t *testing.T) {
	dir := t.TempDir()
	c := sqliteCache(t)
	q := NewFileQueue(dir, c)
	s := NewFileSubscriber(dir, c)
	rec := &recorder{}
	s.Handle("tick", rec.handle)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	q.Put(context.Background(), "tick", nil)
	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, 2*time.Second, 10*time.Millisecond)
}

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	w.msgs = append(w.msgs, msgs...)
	w.mu.Unlock()
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type chanReader struct {
	ch        chan kafka.Message
	committed chan kafka.Message
}

func (r *chanReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	case m := <-r.ch:
		return m, nil
	}
}

func (r *chanReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		r.committed <- m
	}
	return nil
}

func (r *chanReader) Close() error { return nil }

func TestKafkaPointerRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	c, _ := redisCache(t)
	w := &fakeWriter{}
	q := NewKafkaQueue(dir, "boardbot", c, w)

	key := q.Put(ctx, "board:card:deleted", map[string]any{"n": 1})
	require.NotEmpty(t, key)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "boardbot.board_card_deleted", w.msgs[0].Topic)
	assert.JSONEq(t, `{"cache_key":"`+key+`"}`, string(w.msgs[0].Value))
	assert.Empty(t, stagedFiles(t, dir))

	reader := &chanReader{ch: make(chan kafka.Message, 1), committed: make(chan kafka.Message, 1)}
	var topics []string
	s := NewFileSubscriber(dir, c).WithKafkaReaders("boardbot", func(topic string) MessageReader {
		topics = append(topics, topic)
		return reader
	})
	rec := &recorder{}
	s.Handle("board:card:deleted", rec.handle)
	require.NoError(t, s.Start(ctx))
	defer s.Stop(ctx)
	assert.Equal(t, []string{"boardbot.board_card_deleted"}, topics)

	reader.ch <- w.msgs[0]
	select {
	case <-reader.committed:
	case <-time.After(2 * time.Second):
		t.Fatal("message not committed")
	}
	got := rec.all()
	require.Len(t, got, 1)
	assert.Equal(t, key, got[0].Key)
}
