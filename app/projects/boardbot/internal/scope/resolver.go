// Package scope selects the bots subscribed to a condition on a project, column or card.
package scope

import (
	"context"

	"go.uber.org/zap"

	"github.com/grand-thief-cash/chaos/app/infra/go/application/components/logging"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/consts"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/core"
	bizConsts "github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/consts"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/dao"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/errs"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/model"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/snowflake"
)

// Target carries the ids known at trigger time; zero means not supplied.
type Target struct {
	ProjectID       snowflake.ID `json:"project_uid"`
	ProjectColumnID snowflake.ID `json:"project_column_uid,omitempty"`
	CardID          snowflake.ID `json:"card_uid,omitempty"`
}

// Match is one bot to invoke and the scope record that selected it.
type Match struct {
	Bot   *model.Bot
	Scope *model.BotScope
}

type Resolver struct {
	*core.BaseComponent
	Scopes dao.BotScopeDao `infra:"dep:bot_scope_dao"`
	Bots   dao.BotDao      `infra:"dep:bot_dao"`
}

func NewResolver() *Resolver {
	return &Resolver{BaseComponent: core.NewBaseComponent(bizConsts.COMP_SCOPE_RESOLVER, consts.COMPONENT_LOGGING)}
}

// NewWithDaos returns a started resolver.
func NewWithDaos(scopes dao.BotScopeDao, bots dao.BotDao) *Resolver {
	r := &Resolver{BaseComponent: core.NewBaseComponent(bizConsts.COMP_SCOPE_RESOLVER), Scopes: scopes, Bots: bots}
	r.SetActive(true)
	return r
}

// Resolve returns the subscribers of one scope type only. A card-scoped lookup that finds nothing
// falls through; a supplied column id, and after it a supplied project id, decide the result.
func (r *Resolver) Resolve(ctx context.Context, cond model.Condition, t Target) (model.ScopeType, []Match, error) {
	if !cond.Valid() {
		return "", nil, errs.Invalid("scope.resolve", "unknown condition %q", cond)
	}
	if !t.CardID.IsZero() {
		matches, err := r.lookup(ctx, cond, model.ScopeCard, t.CardID)
		if err != nil {
			return "", nil, err
		}
		if len(matches) > 0 {
			return model.ScopeCard, matches, nil
		}
	}
	if !t.ProjectColumnID.IsZero() {
		matches, err := r.lookup(ctx, cond, model.ScopeProjectColumn, t.ProjectColumnID)
		return model.ScopeProjectColumn, matches, err
	}
	if !t.ProjectID.IsZero() {
		matches, err := r.lookup(ctx, cond, model.ScopeProject, t.ProjectID)
		return model.ScopeProject, matches, err
	}
	if t.CardID.IsZero() {
		return "", nil, errs.Invalid("scope.resolve", "no scope id supplied for %s", cond)
	}
	return model.ScopeCard, nil, nil
}

func (r *Resolver) lookup(ctx context.Context, cond model.Condition, st model.ScopeType, id snowflake.ID) ([]Match, error) {
	if !cond.AdmissibleFor(st) {
		return nil, nil
	}
	scopes, err := r.Scopes.ListByTarget(ctx, st, id, cond)
	if err != nil {
		return nil, err
	}
	if len(scopes) == 0 {
		return nil, nil
	}
	ids := make([]snowflake.ID, 0, len(scopes))
	for _, s := range scopes {
		ids = append(ids, s.BotID)
	}
	bots, err := r.Bots.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]Match, 0, len(scopes))
	for _, s := range scopes {
		b, ok := bots[s.BotID]
		if !ok {
			logging.Debug(ctx, "bot scope references a missing bot",
				zap.String("bot_uid", s.BotID.String()), zap.String("scope_type", string(st)))
			continue
		}
		out = append(out, Match{Bot: b, Scope: s})
	}
	return out, nil
}
