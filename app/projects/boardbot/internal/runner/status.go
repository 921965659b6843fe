package runner

import (
	"context"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/grand-thief-cash/chaos/app/infra/go/application/components/logging"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/cache"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/codec"
	bizConsts "github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/consts"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/model"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/snowflake"
)

const statusTTL = 24 * time.Hour

// statusTree is project -> target type -> target -> active bot ids. A bot appears once per
// running run, so two concurrent runs of the same bot on one target keep it listed until both end.
type statusTree map[string]map[model.ScopeType]map[string][]snowflake.ID

// StatusMap tracks which bots are running per target. The whole tree lives under one cache key
// and every change is a read-modify-write through cache.Mutate.
type StatusMap struct {
	cache cache.Cache
	ttl   time.Duration
}

func NewStatusMap(c cache.Cache) *StatusMap {
	return &StatusMap{cache: c, ttl: statusTTL}
}

func (m *StatusMap) Add(ctx context.Context, project snowflake.ID, tt model.ScopeType, target, bot snowflake.ID) error {
	return m.mutate(ctx, func(t statusTree) {
		byType, ok := t[project.String()]
		if !ok {
			byType = map[model.ScopeType]map[string][]snowflake.ID{}
			t[project.String()] = byType
		}
		byTarget, ok := byType[tt]
		if !ok {
			byTarget = map[string][]snowflake.ID{}
			byType[tt] = byTarget
		}
		byTarget[target.String()] = append(byTarget[target.String()], bot)
	})
}

// Remove drops one occurrence of bot and prunes empty branches.
func (m *StatusMap) Remove(ctx context.Context, project snowflake.ID, tt model.ScopeType, target, bot snowflake.ID) error {
	return m.mutate(ctx, func(t statusTree) {
		byType := t[project.String()]
		if byType == nil {
			return
		}
		byTarget := byType[tt]
		if byTarget == nil {
			return
		}
		bots := byTarget[target.String()]
		if i := slices.Index(bots, bot); i >= 0 {
			bots = slices.Delete(bots, i, i+1)
		}
		if len(bots) == 0 {
			delete(byTarget, target.String())
		} else {
			byTarget[target.String()] = bots
		}
		if len(byTarget) == 0 {
			delete(byType, tt)
		}
		if len(byType) == 0 {
			delete(t, project.String())
		}
	})
}

// Bots returns the distinct bots running on one target.
func (m *StatusMap) Bots(ctx context.Context, project snowflake.ID, tt model.ScopeType, target snowflake.ID) []snowflake.ID {
	t := m.load(ctx)
	bots := slices.Clone(t[project.String()][tt][target.String()])
	slices.Sort(bots)
	return slices.Compact(bots)
}

// Project returns target type -> target short code -> distinct running bots for one project.
func (m *StatusMap) Project(ctx context.Context, project snowflake.ID) map[model.ScopeType]map[string][]snowflake.ID {
	byType := m.load(ctx)[project.String()]
	out := make(map[model.ScopeType]map[string][]snowflake.ID, len(byType))
	for tt, byTarget := range byType {
		out[tt] = make(map[string][]snowflake.ID, len(byTarget))
		for target, bots := range byTarget {
			bots = slices.Clone(bots)
			slices.Sort(bots)
			out[tt][target] = slices.Compact(bots)
		}
	}
	return out
}

func (m *StatusMap) load(ctx context.Context) statusTree {
	t := statusTree{}
	if !m.cache.Get(ctx, bizConsts.CACHE_KEY_BOT_STATUS_MAP, &t) {
		return statusTree{}
	}
	return t
}

func (m *StatusMap) mutate(ctx context.Context, fn func(statusTree)) error {
	return m.cache.Mutate(ctx, bizConsts.CACHE_KEY_BOT_STATUS_MAP, m.ttl, func(raw []byte, exists bool) ([]byte, error) {
		t := statusTree{}
		if exists {
			if err := codec.Unmarshal(raw, &t); err != nil {
				logging.Warn(ctx, "bot status map unreadable; starting over", zap.Error(err))
				t = statusTree{}
			}
		}
		fn(t)
		if len(t) == 0 {
			return nil, nil
		}
		return codec.Marshal(t)
	})
}
