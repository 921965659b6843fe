package publisher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/cache"
	bizConsts "github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/consts"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/dispatch"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/snowflake"
)

type pipeline struct {
	dir  string
	pub  *Publisher
	sub  *dispatch.Subscriber
	hub  *Hub
	seen <-chan Frame
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	dir := t.TempDir()
	c, err := cache.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	hub := NewHub()
	sub := dispatch.NewFileSubscriber(dir, c)
	sub.Handle(bizConsts.EVENT_SOCKET_PUBLISH, hub.HandleEnvelope)
	frames, cancel := hub.Subscribe("")
	t.Cleanup(cancel)
	return &pipeline{
		dir:  dir,
		pub:  NewWithQueue(dispatch.NewFileQueue(dir, c)),
		sub:  sub,
		hub:  hub,
		seen: frames,
	}
}

func drain(ch <-chan Frame) []Frame {
	var out []Frame
	for {
		select {
		case f := <-ch:
			out = append(out, f)
		case <-time.After(50 * time.Millisecond):
			return out
		}
	}
}

func TestPublishFanOutSeed(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)

	key := p.pub.Put(ctx, map[string]any{"card_uid": "AaBbCcDdEeF"}, PublishModel{
		Topic:    TopicBoard,
		TopicID:  "ZzYyXxWwVvU",
		Event:    "board:card:deleted:AaBbCcDdEeF",
		DataKeys: Keys(),
	})
	require.NotEmpty(t, key)

	entries, err := os.ReadDir(p.dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "one envelope persisted")

	p.sub.Poll(ctx)
	frames := drain(p.seen)
	require.Len(t, frames, 1)
	assert.Equal(t, Frame{
		Topic:   TopicBoard,
		TopicID: "ZzYyXxWwVvU",
		Event:   "board:card:deleted:AaBbCcDdEeF",
		Data:    map[string]any{},
	}, frames[0])
	assert.Equal(t, "board.ZzYyXxWwVvU", frames[0].Channel())
}

func TestConsumingEnvelopeTwiceDeliversOnce(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)

	p.pub.Put(ctx, map[string]any{"a": 1},
		PublishModel{Topic: TopicBoard, TopicID: "P", Event: "e1", DataKeys: AllKeys()},
		PublishModel{Topic: TopicDashboard, TopicID: "U", Event: "e2", DataKeys: Key("a")},
	)
	entries, err := os.ReadDir(p.dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	name := entries[0].Name()
	raw, err := os.ReadFile(filepath.Join(p.dir, name))
	require.NoError(t, err)

	p.sub.Poll(ctx)
	p.sub.Consume(ctx, bizConsts.CACHE_PREFIX_BROADCAST+name[:len(name)-len(".json")], raw)

	frames := drain(p.seen)
	assert.Len(t, frames, 2, "one frame per publish model")
}

func TestProjectionPicksExactlyDataKeysPlusCustom(t *testing.T) {
	data := map[string]any{"a": 1, "b": 2, "c": 3}
	cases := []struct {
		name string
		keys DataKeys
		want map[string]any
	}{
		{"list", Keys("a", "c"), map[string]any{"a": 1, "c": 3, "x": "y"}},
		{"single", Key("b"), map[string]any{"b": 2, "x": "y"}},
		{"all", AllKeys(), map[string]any{"a": 1, "b": 2, "c": 3, "x": "y"}},
		{"empty", Keys(), map[string]any{"x": "y"}},
		{"missing key", Keys("zz"), map[string]any{"x": "y"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := Project(data, PublishModel{Topic: TopicBoard, TopicID: "1", Event: "e", DataKeys: tc.keys,
				CustomData: map[string]any{"x": "y"}})
			assert.Equal(t, tc.want, f.Data)
		})
	}
}

func TestFramesOfOneChannelArriveInPutOrder(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)
	ch, cancel := p.hub.Subscribe(ChannelOf(TopicBoard, "P"))
	defer cancel()

	for i := 0; i < 5; i++ {
		p.pub.Put(ctx, map[string]any{"i": i}, PublishModel{Topic: TopicBoard, TopicID: "P", Event: "tick", DataKeys: AllKeys()})
	}
	p.sub.Poll(ctx)
	frames := drain(ch)
	require.Len(t, frames, 5)
	for i, f := range frames {
		assert.EqualValues(t, i, mustInt(t, f.Data["i"]))
	}
}

func TestPutEncodesIDs(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)
	p.pub.Put(ctx, map[string]any{"card_uid": snowflake.ID(7)},
		PublishModel{Topic: TopicBoard, TopicID: "P", Event: "e", DataKeys: AllKeys()})
	p.sub.Poll(ctx)
	frames := drain(p.seen)
	require.Len(t, frames, 1)
	assert.Equal(t, snowflake.Encode(7), frames[0].Data["card_uid"])
}

func TestUnknownTopicIsDropped(t *testing.T) {
	p := newPipeline(t)
	key := p.pub.Put(context.Background(), map[string]any{}, PublishModel{Topic: "nope", TopicID: "1", Event: "e"})
	assert.Empty(t, key)
}

func mustInt(t *testing.T, v any) int64 {
	t.Helper()
	switch n := v.(type) {
	case interface{ Int64() (int64, error) }:
		i, err := n.Int64()
		require.NoError(t, err)
		return i
	case float64:
		return int64(n)
	}
	t.Fatalf("not a number: %T", v)
	return 0
}
