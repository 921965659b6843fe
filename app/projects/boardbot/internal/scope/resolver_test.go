package scope

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/errs"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/model"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/snowflake"
)

type stubScopes struct {
	rows  []*model.BotScope
	calls []model.ScopeType
}

func (s *stubScopes) ListByTarget(_ context.Context, st model.ScopeType, id snowflake.ID, c model.Condition) ([]*model.BotScope, error) {
	s.calls = append(s.calls, st)
	var out []*model.BotScope
	for _, r := range s.rows {
		if r.ScopeType == st && r.ScopeID == id && r.Conditions.Contains(string(c)) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *stubScopes) Create(_ context.Context, row *model.BotScope) error {
	if err := row.Validate(); err != nil {
		return err
	}
	s.rows = append(s.rows, row)
	return nil
}

type stubBots map[snowflake.ID]*model.Bot

func (b stubBots) Get(_ context.Context, id snowflake.ID) (*model.Bot, error) {
	if bot, ok := b[id]; ok {
		return bot, nil
	}
	return nil, errs.NotFound("bot.get", "bot %s", id)
}

func (b stubBots) GetMany(_ context.Context, ids []snowflake.ID) (map[snowflake.ID]*model.Bot, error) {
	out := map[snowflake.ID]*model.Bot{}
	for _, id := range ids {
		if bot, ok := b[id]; ok {
			out[id] = bot
		}
	}
	return out, nil
}

const (
	project = snowflake.ID(100)
	column  = snowflake.ID(200)
	card    = snowflake.ID(300)
)

func scopeRow(bot snowflake.ID, st model.ScopeType, id snowflake.ID, conds ...model.Condition) *model.BotScope {
	s := &model.BotScope{BotID: bot, ScopeType: st, ScopeID: id}
	for _, c := range conds {
		s.Conditions = append(s.Conditions, string(c))
	}
	return s
}

func fixture() (*stubScopes, stubBots) {
	bots := stubBots{
		1: {Base: model.Base{ID: 1}, Name: "card-bot"},
		2: {Base: model.Base{ID: 2}, Name: "column-bot"},
		3: {Base: model.Base{ID: 3}, Name: "project-bot"},
	}
	scopes := &stubScopes{rows: []*model.BotScope{
		scopeRow(1, model.ScopeCard, card, model.CardCommentAdded),
		scopeRow(2, model.ScopeProjectColumn, column, model.CardMoved),
		scopeRow(3, model.ScopeProject, project, model.CardMoved, model.CardCommentAdded, model.ProjectUpdated),
		scopeRow(9, model.ScopeProject, project, model.ProjectUpdated),
	}}
	return scopes, bots
}

func botNames(ms []Match) []string {
	var out []string
	for _, m := range ms {
		out = append(out, m.Bot.Name)
	}
	return out
}

func TestCardScopeWinsWhenItMatches(t *testing.T) {
	scopes, bots := fixture()
	r := NewWithDaos(scopes, bots)

	st, ms, err := r.Resolve(context.Background(), model.CardCommentAdded, Target{ProjectID: project, ProjectColumnID: column, CardID: card})
	require.NoError(t, err)
	assert.Equal(t, model.ScopeCard, st)
	assert.Equal(t, []string{"card-bot"}, botNames(ms))
}

func TestFallsThroughToColumnWhenCardHasNoSubscribers(t *testing.T) {
	scopes, bots := fixture()
	r := NewWithDaos(scopes, bots)

	st, ms, err := r.Resolve(context.Background(), model.CardMoved, Target{ProjectID: project, ProjectColumnID: column, CardID: card})
	require.NoError(t, err)
	assert.Equal(t, model.ScopeProjectColumn, st)
	assert.Equal(t, []string{"column-bot"}, botNames(ms))
	assert.NotContains(t, scopes.calls, model.ScopeCard, "card scope does not admit card_moved")
}

func TestSuppliedColumnDecidesEvenWhenEmpty(t *testing.T) {
	scopes, bots := fixture()
	r := NewWithDaos(scopes, bots)

	st, ms, err := r.Resolve(context.Background(), model.CardCommentAdded, Target{ProjectID: project, ProjectColumnID: column})
	require.NoError(t, err)
	assert.Equal(t, model.ScopeProjectColumn, st)
	assert.Empty(t, ms, "never mixes scope types")
}

func TestProjectScopeSkipsMissingBots(t *testing.T) {
	scopes, bots := fixture()
	r := NewWithDaos(scopes, bots)

	st, ms, err := r.Resolve(context.Background(), model.ProjectUpdated, Target{ProjectID: project})
	require.NoError(t, err)
	assert.Equal(t, model.ScopeProject, st)
	assert.Equal(t, []string{"project-bot"}, botNames(ms))
}

func TestUnknownConditionIsInvalid(t *testing.T) {
	scopes, bots := fixture()
	r := NewWithDaos(scopes, bots)

	_, _, err := r.Resolve(context.Background(), model.Condition("card_exploded"), Target{ProjectID: project})
	assert.ErrorIs(t, err, errs.ErrInvalid)

	_, _, err = r.Resolve(context.Background(), model.ProjectUpdated, Target{})
	assert.ErrorIs(t, err, errs.ErrInvalid)
}
