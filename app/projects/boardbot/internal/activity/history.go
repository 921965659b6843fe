package activity

import (
	"bytes"
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/grand-thief-cash/chaos/app/infra/go/application/components/logging"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/codec"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/dao"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/snowflake"
)

const mentionablesKey = "mentionables"

// Diff returns the before and after values of the fields that changed. Fields only present on
// one side appear only on that side.
func Diff(before, after map[string]any) (map[string]any, map[string]any) {
	b := map[string]any{}
	a := map[string]any{}
	for k, v := range before {
		av, ok := after[k]
		if ok && sameValue(v, av) {
			continue
		}
		b[k] = v
		if ok {
			a[k] = av
		}
	}
	for k, v := range after {
		if _, ok := before[k]; !ok {
			a[k] = v
		}
	}
	return b, a
}

func sameValue(x, y any) bool {
	bx, err1 := codec.Marshal(x)
	by, err2 := codec.Marshal(y)
	return err1 == nil && err2 == nil && bytes.Equal(bx, by)
}

// snapshot renders a record oracle row the way history stores it.
func snapshot(kind string, row map[string]any) map[string]any {
	out := map[string]any{"kind": kind}
	for k, v := range row {
		if k == "id" {
			k = "uid"
		}
		out[k] = v
	}
	return normalizeMap(out)
}

func normalizeMap(m map[string]any) map[string]any {
	if n, ok := codec.Normalize(m).(map[string]any); ok {
		return n
	}
	return map[string]any{}
}

// mentionResolver replaces {"kind", "uid"} items of every "mentionables" list with snapshots.
type mentionResolver struct {
	records dao.RecordDao
	wanted  map[string]map[snowflake.ID]struct{}
	snaps   map[string]map[snowflake.ID]map[string]any
}

func newMentionResolver(records dao.RecordDao) *mentionResolver {
	return &mentionResolver{
		records: records,
		wanted:  map[string]map[snowflake.ID]struct{}{},
		snaps:   map[string]map[snowflake.ID]map[string]any{},
	}
}

func (m *mentionResolver) collect(v any) {
	switch x := v.(type) {
	case map[string]any:
		for k, val := range x {
			if k == mentionablesKey {
				for _, item := range asList(val) {
					if kind, id, ok := mentionRef(item); ok {
						if m.wanted[kind] == nil {
							m.wanted[kind] = map[snowflake.ID]struct{}{}
						}
						m.wanted[kind][id] = struct{}{}
					}
				}
				continue
			}
			m.collect(val)
		}
	case []any:
		for _, val := range x {
			m.collect(val)
		}
	}
}

func (m *mentionResolver) load(ctx context.Context) error {
	kinds := make([]string, 0, len(m.wanted))
	for k := range m.wanted {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		ids := make([]snowflake.ID, 0, len(m.wanted[kind]))
		for id := range m.wanted[kind] {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		rows, err := m.records.LookupMany(ctx, kind, ids)
		if err != nil {
			return err
		}
		m.snaps[kind] = map[snowflake.ID]map[string]any{}
		for id, row := range rows {
			m.snaps[kind][id] = snapshot(kind, row)
		}
		if len(rows) < len(ids) {
			logging.Debug(ctx, "mentioned records missing", zap.String("kind", kind), zap.Int("want", len(ids)), zap.Int("got", len(rows)))
		}
	}
	return nil
}

func (m *mentionResolver) apply(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			if k == mentionablesKey {
				out[k] = m.resolveList(val)
				continue
			}
			out[k] = m.apply(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = m.apply(val)
		}
		return out
	}
	return v
}

func (m *mentionResolver) resolveList(v any) []any {
	items := asList(v)
	out := make([]any, 0, len(items))
	for _, item := range items {
		kind, id, ok := mentionRef(item)
		if !ok {
			out = append(out, item)
			continue
		}
		if snap, found := m.snaps[kind][id]; found {
			out = append(out, snap)
			continue
		}
		out = append(out, map[string]any{"kind": kind, "uid": id.String()})
	}
	return out
}

func asList(v any) []any {
	if l, ok := v.([]any); ok {
		return l
	}
	return nil
}

// mentionRef reads {"kind": "user", "uid": "<short code>"} after normalisation.
func mentionRef(item any) (string, snowflake.ID, bool) {
	m, ok := item.(map[string]any)
	if !ok {
		return "", 0, false
	}
	kind, _ := m["kind"].(string)
	if _, known := dao.DescriptorOf(kind); !known {
		return "", 0, false
	}
	code, _ := m["uid"].(string)
	id, err := snowflake.Decode(code)
	if err != nil || id.IsZero() {
		return "", 0, false
	}
	return kind, id, true
}
