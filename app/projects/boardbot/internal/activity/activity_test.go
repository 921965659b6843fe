package activity

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/broker"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/errs"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/model"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/snowflake"
)

type memActivities struct {
	mu       sync.Mutex
	domain   []model.ActivityRow
	pointers []*model.UserActivity
	fail     error
}

func (m *memActivities) CreatePair(_ context.Context, domain model.ActivityRow, pointer *model.UserActivity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.domain = append(m.domain, domain)
	if pointer != nil {
		pointer.ReferActivityTable = domain.TableName()
		pointer.ReferActivityID = domain.ActivityID()
		m.pointers = append(m.pointers, pointer)
	}
	return nil
}

type memRecords struct {
	rows  map[string]map[snowflake.ID]map[string]any
	calls int
}

func (m *memRecords) Lookup(_ context.Context, kind string, id snowflake.ID) (map[string]any, error) {
	row, ok := m.rows[kind][id]
	if !ok {
		return nil, errs.NotFound("record.lookup", "%s %s", kind, id)
	}
	return row, nil
}

func (m *memRecords) LookupMany(_ context.Context, kind string, ids []snowflake.ID) (map[snowflake.ID]map[string]any, error) {
	m.calls++
	out := map[snowflake.ID]map[string]any{}
	for _, id := range ids {
		if row, ok := m.rows[kind][id]; ok {
			out[id] = row
		}
	}
	return out, nil
}

func (m *memRecords) Parent(context.Context, string, snowflake.ID) (snowflake.ID, error) {
	return 0, nil
}

func (m *memRecords) Persist(context.Context, any) error { return nil }

const (
	alice   = snowflake.ID(1001)
	bob     = snowflake.ID(1002)
	project = snowflake.ID(2001)
	card    = snowflake.ID(3001)
)

func records() *memRecords {
	return &memRecords{rows: map[string]map[snowflake.ID]map[string]any{
		"user": {
			alice: {"id": alice, "firstname": "Alice", "username": "alice"},
			bob:   {"id": bob, "firstname": "Bob", "username": "bob"},
		},
		"card": {
			card: {"id": card, "title": "Fix login", "project_id": project},
		},
	}}
}

func newRecorder(t *testing.T) (*Recorder, *memActivities, *memRecords) {
	t.Helper()
	acts, recs := &memActivities{}, records()
	r, err := NewWith(acts, recs, broker.NewLocal())
	require.NoError(t, err)
	return r, acts, recs
}

func TestDiffKeepsOnlyChangedFields(t *testing.T) {
	before, after := Diff(
		map[string]any{"title": "a", "status": "open", "owner": alice, "gone": 1},
		map[string]any{"title": "b", "status": "open", "owner": alice, "added": true},
	)
	assert.Equal(t, map[string]any{"title": "a", "gone": 1}, before)
	assert.Equal(t, map[string]any{"title": "b", "added": true}, after)

	before, after = Diff(map[string]any{"n": 1}, map[string]any{"n": 1})
	assert.Empty(t, before)
	assert.Empty(t, after)
}

func TestWriteProjectActivityWithPointer(t *testing.T) {
	r, acts, _ := newRecorder(t)
	row, err := r.Write(context.Background(), Entry{
		Scope:        ScopeProject,
		ActivityType: "card.updated",
		RecorderType: model.RecorderUser,
		RecorderID:   alice,
		ProjectID:    project,
		Before:       map[string]any{"title": "Fix", "column": snowflake.ID(7)},
		After:        map[string]any{"title": "Fix login", "column": snowflake.ID(7)},
		Refs:         map[string]Ref{"card": {Kind: "card", ID: card}},
	})
	require.NoError(t, err)

	pa, ok := row.(*model.ProjectActivity)
	require.True(t, ok)
	assert.Equal(t, project, pa.ProjectID)
	h := pa.History
	assert.Equal(t, map[string]any{"title": "Fix"}, h["before"])
	assert.Equal(t, map[string]any{"title": "Fix login"}, h["after"])

	snap := h["card"].(map[string]any)
	assert.Equal(t, "card", snap["kind"])
	assert.Equal(t, card.String(), snap["uid"])
	assert.Equal(t, project.String(), snap["project_id"])
	assert.NotContains(t, snap, "id")

	require.Len(t, acts.pointers, 1)
	p := acts.pointers[0]
	require.NotNil(t, p.UserID)
	assert.Equal(t, alice, *p.UserID)
	assert.Equal(t, "project_activity", p.ReferActivityTable)
	assert.Empty(t, p.History)
}

func TestWriteUserScopeHasNoPointer(t *testing.T) {
	r, acts, _ := newRecorder(t)
	row, err := r.Write(context.Background(), Entry{
		Scope:        ScopeUser,
		ActivityType: "user.avatar_changed",
		RecorderType: model.RecorderUser,
		RecorderID:   alice,
		UserID:       alice,
		Extra:        map[string]any{"source": "upload"},
	})
	require.NoError(t, err)
	ua := row.(*model.UserActivity)
	require.NotNil(t, ua.UserID)
	assert.Equal(t, alice, *ua.UserID)
	assert.Equal(t, "upload", ua.History["source"])
	assert.NotContains(t, ua.History, "before")
	assert.Empty(t, acts.pointers)
	assert.Len(t, acts.domain, 1)
}

func TestMentionablesBecomeSnapshots(t *testing.T) {
	r, _, recs := newRecorder(t)
	missing := snowflake.ID(9999)
	row, err := r.Write(context.Background(), Entry{
		Scope:         ScopeProjectWiki,
		ActivityType:  "wiki.edited",
		RecorderType:  model.RecorderBot,
		RecorderID:    snowflake.ID(55),
		ProjectID:     project,
		ProjectWikiID: snowflake.ID(66),
		Extra: map[string]any{
			"content": map[string]any{
				"text": "ping @alice @bob",
				"mentionables": []any{
					map[string]any{"kind": "user", "uid": alice},
					map[string]any{"kind": "user", "uid": bob.String()},
					map[string]any{"kind": "user", "uid": missing},
					"free text",
				},
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, recs.calls, "one batch lookup per kind")

	content := row.(*model.ProjectWikiActivity).History["content"].(map[string]any)
	list := content["mentionables"].([]any)
	require.Len(t, list, 4)
	assert.Equal(t, "Alice", list[0].(map[string]any)["firstname"])
	assert.Equal(t, alice.String(), list[0].(map[string]any)["uid"])
	assert.Equal(t, "bob", list[1].(map[string]any)["username"])
	assert.Equal(t, map[string]any{"kind": "user", "uid": missing.String()}, list[2])
	assert.Equal(t, "free text", list[3])
}

func TestInvalidEntriesAreRejected(t *testing.T) {
	r, acts, _ := newRecorder(t)
	cases := map[string]Entry{
		"no type":       {Scope: ScopeProject, RecorderType: model.RecorderUser, RecorderID: alice, ProjectID: project},
		"bad recorder":  {Scope: ScopeProject, ActivityType: "x", RecorderType: "robot", RecorderID: alice, ProjectID: project},
		"no project":    {Scope: ScopeProject, ActivityType: "x", RecorderType: model.RecorderUser, RecorderID: alice},
		"wiki no wiki":  {Scope: ScopeProjectWiki, ActivityType: "x", RecorderType: model.RecorderUser, RecorderID: alice, ProjectID: project},
		"unknown scope": {Scope: "card", ActivityType: "x", RecorderType: model.RecorderUser, RecorderID: alice},
	}
	for name, e := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := r.Write(context.Background(), e)
			assert.ErrorIs(t, err, errs.ErrInvalid)
			assert.ErrorIs(t, r.Record(context.Background(), e), errs.ErrInvalid)
		})
	}
	assert.Empty(t, acts.domain)
}

func TestMissingRefFailsTheWrite(t *testing.T) {
	r, acts, _ := newRecorder(t)
	_, err := r.Write(context.Background(), Entry{
		Scope:        ScopeProject,
		ActivityType: "card.deleted",
		RecorderType: model.RecorderUser,
		RecorderID:   alice,
		ProjectID:    project,
		Refs:         map[string]Ref{"card": {Kind: "card", ID: 42}},
	})
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.Empty(t, acts.domain)
}

func TestRecordRunsThroughBroker(t *testing.T) {
	r, acts, _ := newRecorder(t)
	err := r.Record(context.Background(), Entry{
		Scope:        ScopeProject,
		ActivityType: "card.moved",
		RecorderType: model.RecorderBot,
		RecorderID:   snowflake.ID(55),
		ProjectID:    project,
		Before:       map[string]any{"column": snowflake.ID(7)},
		After:        map[string]any{"column": snowflake.ID(8)},
	})
	require.NoError(t, err)
	require.Len(t, acts.domain, 1)
	h := acts.domain[0].(*model.ProjectActivity).History
	assert.Equal(t, map[string]any{"column": snowflake.ID(7).String()}, h["before"])
	assert.Equal(t, map[string]any{"column": snowflake.ID(8).String()}, h["after"])
	require.Len(t, acts.pointers, 1)
	assert.Nil(t, acts.pointers[0].UserID, "bot recorders own no user pointer")
	assert.Equal(t, snowflake.ID(55), acts.pointers[0].RecorderID)
}

func TestRecorderRegistersTaskOnce(t *testing.T) {
	b := broker.NewLocal()
	_, err := NewWith(&memActivities{}, records(), b)
	require.NoError(t, err)
	_, err = NewWith(&memActivities{}, records(), b)
	require.NoError(t, err)
}
