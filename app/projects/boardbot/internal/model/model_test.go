package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/errs"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/snowflake"
)

func TestAdmissibleConditions(t *testing.T) {
	assert.True(t, ProjectUpdated.AdmissibleFor(ScopeProject))
	assert.False(t, ProjectUpdated.AdmissibleFor(ScopeCard))
	assert.True(t, CardCreated.AdmissibleFor(ScopeProjectColumn))
	assert.False(t, CardCommentAdded.AdmissibleFor(ScopeProjectColumn))
	assert.True(t, CardCommentAdded.AdmissibleFor(ScopeCard))
	assert.True(t, CardCheckitemDeleted.AdmissibleFor(ScopeCard))
	assert.False(t, CardCreated.AdmissibleFor(ScopeCard))

	assert.Equal(t, []ScopeType{ScopeProjectColumn, ScopeProject}, CardMoved.ScopeTypes())
	assert.Equal(t, []ScopeType{ScopeCard}, CardChecklistChecked.ScopeTypes())
	assert.False(t, Condition("nope").Valid())
}

func TestEveryConditionHasAScope(t *testing.T) {
	for _, c := range AllConditions() {
		assert.NotEmpty(t, c.ScopeTypes(), c)
	}
}

func TestUnsubscriptionMatches(t *testing.T) {
	card, project := snowflake.ID(10), snowflake.ID(20)
	models := []ScopeModel{{Table: "card", ID: card}, {Table: "project", ID: project}}

	all := UserNotificationUnsubscription{Channel: ChannelEmail, NotificationType: NotificationMentionedInComment, Scope: UnsubscribeAll}
	assert.True(t, all.Matches(ChannelEmail, NotificationMentionedInComment, nil))
	assert.False(t, all.Matches(ChannelSocket, NotificationMentionedInComment, models))
	assert.False(t, all.Matches(ChannelEmail, NotificationMentionedInCard, models))

	specific := UserNotificationUnsubscription{Channel: ChannelSocket, NotificationType: NotificationMentionedInComment,
		Scope: UnsubscribeSpecific, SpecificTable: "card", SpecificID: card}
	assert.True(t, specific.Matches(ChannelSocket, NotificationMentionedInComment, models))
	assert.False(t, specific.Matches(ChannelSocket, NotificationMentionedInComment, models[1:]))
}

func TestJSONColumns(t *testing.T) {
	m := JSONMap{"id": snowflake.ID(42), "ok": true}
	v, err := m.Value()
	require.NoError(t, err)
	assert.Contains(t, v, snowflake.Encode(42))

	var back JSONMap
	require.NoError(t, back.Scan([]byte(v.(string))))
	assert.Equal(t, snowflake.Encode(42), back["id"])
	assert.Equal(t, true, back["ok"])

	var empty JSONMap
	require.NoError(t, empty.Scan(nil))
	assert.Equal(t, JSONMap{}, empty)

	var list StringList
	require.NoError(t, list.Scan(`["card_created","card_moved"]`))
	assert.True(t, list.Contains("card_moved"))
	assert.Error(t, list.Scan(12))
}

func TestBotScopeValidate(t *testing.T) {
	cases := []struct {
		name  string
		scope BotScope
		ok    bool
	}{
		{"project admits project events", BotScope{ScopeType: ScopeProject, Conditions: StringList{string(ProjectUpdated)}}, true},
		{"card admits comments", BotScope{ScopeType: ScopeCard, Conditions: StringList{string(CardCommentAdded), string(CardCheckitemDeleted)}}, true},
		{"empty conditions", BotScope{ScopeType: ScopeCard}, true},
		{"unknown scope type", BotScope{ScopeType: "board", Conditions: StringList{string(CardCreated)}}, false},
		{"card event on project scope", BotScope{ScopeType: ScopeProject, Conditions: StringList{string(CardCommentAdded)}}, false},
		{"comment on column scope", BotScope{ScopeType: ScopeProjectColumn, Conditions: StringList{string(CardCreated), string(CardCommentAdded)}}, false},
		{"unknown condition", BotScope{ScopeType: ScopeCard, Conditions: StringList{"nope"}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.scope.Validate()
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, errs.ErrInvalid)
		})
	}
}

func TestBotScheduleValidate(t *testing.T) {
	at := func(h int) *time.Time {
		v := time.Date(2025, 1, 1, h, 0, 0, 0, time.UTC)
		return &v
	}
	sched := func(rt RunningType, start, end *time.Time) BotSchedule {
		return BotSchedule{TargetType: ScopeCard, RunningType: rt, Interval: "*/5 * * * *", StartAt: start, EndAt: end}
	}
	cases := []struct {
		name string
		s    BotSchedule
		ok   bool
	}{
		{"infinite", sched(RunningInfinite, nil, nil), true},
		{"duration", sched(RunningDuration, at(1), at(2)), true},
		{"onetime", sched(RunningOnetime, at(1), nil), true},
		{"reserved", sched(RunningReserved, at(1), nil), true},
		{"infinite with start", sched(RunningInfinite, at(1), nil), false},
		{"infinite with end", sched(RunningInfinite, nil, at(2)), false},
		{"duration without end", sched(RunningDuration, at(1), nil), false},
		{"duration without start", sched(RunningDuration, nil, at(2)), false},
		{"duration empty window", sched(RunningDuration, at(1), at(1)), false},
		{"duration reversed window", sched(RunningDuration, at(2), at(1)), false},
		{"onetime without start", sched(RunningOnetime, nil, nil), false},
		{"unknown running type", sched("forever", nil, nil), false},
		{"unknown target", BotSchedule{TargetType: "board", RunningType: RunningInfinite, Interval: "* * * * *"}, false},
		{"missing interval", BotSchedule{TargetType: ScopeCard, RunningType: RunningInfinite}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.s.Validate()
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, errs.ErrInvalid)
		})
	}
}

func TestBotScheduleInitialStatus(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	future, past := now.Add(time.Minute), now.Add(-time.Minute)

	assert.Equal(t, SchedulePending, (&BotSchedule{StartAt: &future}).InitialStatus(now))
	assert.Equal(t, ScheduleStarted, (&BotSchedule{StartAt: &past}).InitialStatus(now))
	assert.Equal(t, ScheduleStarted, (&BotSchedule{StartAt: &now}).InitialStatus(now))
	assert.Equal(t, ScheduleStarted, (&BotSchedule{}).InitialStatus(now))
}
