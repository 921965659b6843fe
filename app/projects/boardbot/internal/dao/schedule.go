package dao

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/grand-thief-cash/chaos/app/infra/go/application/components/gormdb"
	bizConsts "github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/consts"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/model"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/snowflake"
)

type BotScheduleDao interface {
	// Create validates s and stores it with its initial status.
	Create(ctx context.Context, s *model.BotSchedule) error
	// ListDuePending returns pending schedules with start_at <= now.
	ListDuePending(ctx context.Context, now time.Time) ([]*model.BotSchedule, error)
	// ListStarted returns started schedules with the given interval whose running type is not onetime.
	ListStarted(ctx context.Context, interval string) ([]*model.BotSchedule, error)
	// Intervals returns the distinct intervals of started schedules.
	Intervals(ctx context.Context) ([]string, error)
	// Transition moves a schedule from one status to another with a single conditional update.
	// It reports false when the schedule was not in from.
	Transition(ctx context.Context, id snowflake.ID, from, to model.ScheduleStatus) (bool, error)
	TouchLastRun(ctx context.Context, id snowflake.ID, at time.Time) error
}

type BotScheduleDaoImpl struct {
	gormDao
	GormComp *gormdb.GormComponent `infra:"dep:gorm"`
}

func NewBotScheduleDao(dsName string) *BotScheduleDaoImpl {
	return &BotScheduleDaoImpl{gormDao: newGormDao(bizConsts.COMP_DAO_SCHEDULE, dsName)}
}

func NewBotScheduleDaoWithDB(db *gorm.DB) *BotScheduleDaoImpl {
	return &BotScheduleDaoImpl{gormDao: withDB(bizConsts.COMP_DAO_SCHEDULE, db)}
}

func (d *BotScheduleDaoImpl) Start(ctx context.Context) error { return d.open(ctx, d.GormComp) }

func (d *BotScheduleDaoImpl) Create(ctx context.Context, s *model.BotSchedule) error {
	if err := s.Validate(); err != nil {
		return err
	}
	s.Status = s.InitialStatus(time.Now())
	return classify("bot_schedule.create", d.write(ctx).Create(s).Error)
}

func (d *BotScheduleDaoImpl) ListDuePending(ctx context.Context, now time.Time) ([]*model.BotSchedule, error) {
	var rows []*model.BotSchedule
	err := d.read(ctx).
		Where("status = ? AND start_at IS NOT NULL AND start_at <= ?", model.SchedulePending, now).
		Order("start_at ASC, id ASC").
		Find(&rows).Error
	return rows, classify("bot_schedule.list_due", err)
}

func (d *BotScheduleDaoImpl) ListStarted(ctx context.Context, interval string) ([]*model.BotSchedule, error) {
	var rows []*model.BotSchedule
	err := d.read(ctx).
		Where("status = ? AND running_type <> ?", model.ScheduleStarted, model.RunningOnetime).
		Where(clause.Eq{Column: clause.Column{Name: "interval"}, Value: interval}).
		Order("id ASC").
		Find(&rows).Error
	return rows, classify("bot_schedule.list_started", err)
}

func (d *BotScheduleDaoImpl) Intervals(ctx context.Context) ([]string, error) {
	var out []string
	err := d.read(ctx).Model(&model.BotSchedule{}).
		Where("status = ? AND running_type <> ?", model.ScheduleStarted, model.RunningOnetime).
		Distinct().
		Pluck("interval", &out).Error
	return out, classify("bot_schedule.intervals", err)
}

func (d *BotScheduleDaoImpl) Transition(ctx context.Context, id snowflake.ID, from, to model.ScheduleStatus) (bool, error) {
	res := d.write(ctx).Model(&model.BotSchedule{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return false, classify("bot_schedule.transition", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (d *BotScheduleDaoImpl) TouchLastRun(ctx context.Context, id snowflake.ID, at time.Time) error {
	return classify("bot_schedule.touch", d.write(ctx).Model(&model.BotSchedule{}).
		Where("id = ?", id).
		Update("last_run_at", at).Error)
}
