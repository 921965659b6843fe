package dao

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/errs"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/model"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/snowflake"
)

type sqlLog struct {
	mu   sync.Mutex
	stmt []string
}

func (l *sqlLog) last(t *testing.T) string {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	require.NotEmpty(t, l.stmt, "no statement captured")
	return l.stmt[len(l.stmt)-1]
}

// dryRunDB renders SQL without a server; statements are captured after each callback chain.
func dryRunDB(t *testing.T) (*gorm.DB, *sqlLog) {
	t.Helper()
	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       "boardbot:boardbot@tcp(127.0.0.1:3306)/boardbot?parseTime=true",
		SkipInitializeWithVersion: true,
	}), &gorm.Config{DryRun: true, DisableAutomaticPing: true, SkipDefaultTransaction: true})
	require.NoError(t, err)

	log := &sqlLog{}
	capture := func(tx *gorm.DB) {
		log.mu.Lock()
		log.stmt = append(log.stmt, tx.Statement.SQL.String())
		log.mu.Unlock()
	}
	require.NoError(t, db.Callback().Query().After("gorm:query").Register("test:capture_query", capture))
	require.NoError(t, db.Callback().Update().After("gorm:update").Register("test:capture_update", capture))
	require.NoError(t, db.Callback().Create().After("gorm:create").Register("test:capture_create", capture))
	return db, log
}

func TestScheduleTransitionIsConditionalUpdate(t *testing.T) {
	db, log := dryRunDB(t)
	d := NewBotScheduleDaoWithDB(db)

	_, err := d.Transition(context.Background(), snowflake.ID(5), model.SchedulePending, model.ScheduleStarted)
	require.NoError(t, err)
	sql := log.last(t)
	assert.Contains(t, sql, "UPDATE `bot_schedule` SET `status`=?")
	assert.Contains(t, sql, "id = ? AND status = ?")
	assert.Contains(t, sql, "`bot_schedule`.`deleted_at` IS NULL")
}

func TestScheduleListStartedQuotesInterval(t *testing.T) {
	db, log := dryRunDB(t)
	d := NewBotScheduleDaoWithDB(db)

	_, err := d.ListStarted(context.Background(), "*/5 * * * *")
	require.NoError(t, err)
	sql := log.last(t)
	assert.Contains(t, sql, "`interval` = ?")
	assert.Contains(t, sql, "running_type <> ?")

	_, err = d.ListDuePending(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Contains(t, log.last(t), "start_at <= ?")
}

func TestSoftDeletedRowsHiddenUnlessRequested(t *testing.T) {
	db, log := dryRunDB(t)
	d := NewBotDaoWithDB(db)

	_, _ = d.Get(context.Background(), snowflake.ID(1))
	assert.Contains(t, log.last(t), "`bot`.`deleted_at` IS NULL")

	_, _ = d.Get(WithDeleted(context.Background()), snowflake.ID(1))
	assert.NotContains(t, log.last(t), "deleted_at")
}

func TestRecordOracleUsesDescriptors(t *testing.T) {
	db, log := dryRunDB(t)
	d := NewRecordDaoWithDB(db)
	ctx := context.Background()

	_, _ = d.Lookup(ctx, "card", snowflake.ID(3))
	sql := log.last(t)
	assert.Contains(t, sql, "FROM `card`")
	assert.Contains(t, sql, "SELECT `id`,`title`,`project_id`,`project_column_id` FROM `card`")
	assert.Contains(t, sql, "deleted_at IS NULL")

	_, _ = d.Lookup(WithDeleted(ctx), "user", snowflake.ID(3))
	assert.NotContains(t, log.last(t), "deleted_at")

	_, err := d.Lookup(ctx, "spaceship", snowflake.ID(3))
	assert.ErrorIs(t, err, errs.ErrInvalid)

	_, err = d.Parent(ctx, "project", snowflake.ID(3))
	assert.ErrorIs(t, err, errs.ErrInvalid)
}

func TestScopeListFiltersConditions(t *testing.T) {
	db, log := dryRunDB(t)
	d := NewBotScopeDaoWithDB(db)

	rows, err := d.ListByTarget(context.Background(), model.ScopeCard, snowflake.ID(9), model.CardCommentAdded)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Contains(t, log.last(t), "scope_type = ? AND scope_id = ?")
}

func TestTypedIDs(t *testing.T) {
	row := typedIDs(map[string]any{"id": int64(7), "project_id": int64(8), "title": "x", "count": int64(3)})
	assert.Equal(t, snowflake.ID(7), row["id"])
	assert.Equal(t, snowflake.ID(8), row["project_id"])
	assert.Equal(t, int64(3), row["count"])
}

func TestClassify(t *testing.T) {
	assert.NoError(t, classify("op", nil))
	assert.ErrorIs(t, classify("op", gorm.ErrRecordNotFound), errs.ErrNotFound)
	assert.ErrorIs(t, classify("op", gorm.ErrDuplicatedKey), errs.ErrConflict)
	assert.ErrorIs(t, classify("op", errors.New("connection reset")), errs.ErrTransient)
	assert.ErrorIs(t, classify("op", context.Canceled), context.Canceled)
}

func TestScheduleCreateValidatesAndSetsInitialStatus(t *testing.T) {
	db, log := dryRunDB(t)
	d := NewBotScheduleDaoWithDB(db)
	ctx := context.Background()

	start, end := time.Now().Add(time.Hour), time.Now().Add(2*time.Hour)
	bad := &model.BotSchedule{TargetType: model.ScopeCard, RunningType: model.RunningDuration, Interval: "*/5 * * * *", StartAt: &end, EndAt: &start}
	assert.ErrorIs(t, d.Create(ctx, bad), errs.ErrInvalid)
	assert.Empty(t, log.stmt)

	future := &model.BotSchedule{TargetType: model.ScopeCard, RunningType: model.RunningDuration, Interval: "*/5 * * * *", StartAt: &start, EndAt: &end}
	require.NoError(t, d.Create(ctx, future))
	assert.Equal(t, model.SchedulePending, future.Status)
	assert.Contains(t, log.last(t), "INSERT INTO `bot_schedule`")

	now := &model.BotSchedule{TargetType: model.ScopeCard, RunningType: model.RunningInfinite, Interval: "*/5 * * * *"}
	require.NoError(t, d.Create(ctx, now))
	assert.Equal(t, model.ScheduleStarted, now.Status)
}

func TestScopeCreateRejectsInadmissibleConditions(t *testing.T) {
	db, log := dryRunDB(t)
	d := NewBotScopeDaoWithDB(db)
	ctx := context.Background()

	bad := &model.BotScope{ScopeType: model.ScopeProject, ScopeID: snowflake.ID(1), Conditions: model.StringList{string(model.CardCommentAdded)}}
	assert.ErrorIs(t, d.Create(ctx, bad), errs.ErrInvalid)
	assert.Empty(t, log.stmt)

	ok := &model.BotScope{ScopeType: model.ScopeCard, ScopeID: snowflake.ID(1), Conditions: model.StringList{string(model.CardCommentAdded)}}
	require.NoError(t, d.Create(ctx, ok))
	assert.Contains(t, log.last(t), "INSERT INTO `bot_scope`")
}
