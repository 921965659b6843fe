package dao

import (
	"context"

	"gorm.io/gorm"

	"github.com/grand-thief-cash/chaos/app/infra/go/application/components/gormdb"
	bizConsts "github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/consts"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/model"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/snowflake"
)

type BotDao interface {
	Get(ctx context.Context, id snowflake.ID) (*model.Bot, error)
	GetMany(ctx context.Context, ids []snowflake.ID) (map[snowflake.ID]*model.Bot, error)
}

type BotDaoImpl struct {
	gormDao
	GormComp *gormdb.GormComponent `infra:"dep:gorm"`
}

func NewBotDao(dsName string) *BotDaoImpl {
	return &BotDaoImpl{gormDao: newGormDao(bizConsts.COMP_DAO_BOT, dsName)}
}

func NewBotDaoWithDB(db *gorm.DB) *BotDaoImpl {
	return &BotDaoImpl{gormDao: withDB(bizConsts.COMP_DAO_BOT, db)}
}

func (d *BotDaoImpl) Start(ctx context.Context) error { return d.open(ctx, d.GormComp) }

func (d *BotDaoImpl) Get(ctx context.Context, id snowflake.ID) (*model.Bot, error) {
	var b model.Bot
	if err := d.read(ctx).Where("id = ?", id).Take(&b).Error; err != nil {
		return nil, classify("bot.get", err)
	}
	return &b, nil
}

func (d *BotDaoImpl) GetMany(ctx context.Context, ids []snowflake.ID) (map[snowflake.ID]*model.Bot, error) {
	out := make(map[snowflake.ID]*model.Bot, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var bots []*model.Bot
	if err := d.read(ctx).Where("id IN ?", ids).Find(&bots).Error; err != nil {
		return nil, classify("bot.get_many", err)
	}
	for _, b := range bots {
		out[b.ID] = b
	}
	return out, nil
}

type BotScopeDao interface {
	Create(ctx context.Context, s *model.BotScope) error
	// ListByTarget returns scopes on (scopeType, scopeID) whose conditions include condition.
	ListByTarget(ctx context.Context, scopeType model.ScopeType, scopeID snowflake.ID, condition model.Condition) ([]*model.BotScope, error)
}

type BotScopeDaoImpl struct {
	gormDao
	GormComp *gormdb.GormComponent `infra:"dep:gorm"`
}

func NewBotScopeDao(dsName string) *BotScopeDaoImpl {
	return &BotScopeDaoImpl{gormDao: newGormDao(bizConsts.COMP_DAO_SCOPE, dsName)}
}

func NewBotScopeDaoWithDB(db *gorm.DB) *BotScopeDaoImpl {
	return &BotScopeDaoImpl{gormDao: withDB(bizConsts.COMP_DAO_SCOPE, db)}
}

func (d *BotScopeDaoImpl) Start(ctx context.Context) error { return d.open(ctx, d.GormComp) }

func (d *BotScopeDaoImpl) Create(ctx context.Context, s *model.BotScope) error {
	if err := s.Validate(); err != nil {
		return err
	}
	return classify("bot_scope.create", d.write(ctx).Create(s).Error)
}

func (d *BotScopeDaoImpl) ListByTarget(ctx context.Context, scopeType model.ScopeType, scopeID snowflake.ID, condition model.Condition) ([]*model.BotScope, error) {
	var rows []*model.BotScope
	err := d.read(ctx).
		Where("scope_type = ? AND scope_id = ?", scopeType, scopeID).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, classify("bot_scope.list", err)
	}
	// conditions is a JSON column; filtering here keeps the query portable across mysql and postgres
	out := rows[:0]
	for _, r := range rows {
		if r.Conditions.Contains(string(condition)) {
			out = append(out, r)
		}
	}
	return out, nil
}

type BotLogDao interface {
	Create(ctx context.Context, l *model.BotLog) error
	Finish(ctx context.Context, id snowflake.ID, status model.BotLogStatus, message string, records model.JSONList) error
}

type BotLogDaoImpl struct {
	gormDao
	GormComp *gormdb.GormComponent `infra:"dep:gorm"`
}

func NewBotLogDao(dsName string) *BotLogDaoImpl {
	return &BotLogDaoImpl{gormDao: newGormDao(bizConsts.COMP_DAO_BOT_LOG, dsName)}
}

func NewBotLogDaoWithDB(db *gorm.DB) *BotLogDaoImpl {
	return &BotLogDaoImpl{gormDao: withDB(bizConsts.COMP_DAO_BOT_LOG, db)}
}

func (d *BotLogDaoImpl) Start(ctx context.Context) error { return d.open(ctx, d.GormComp) }

func (d *BotLogDaoImpl) Create(ctx context.Context, l *model.BotLog) error {
	return classify("bot_log.create", d.write(ctx).Create(l).Error)
}

func (d *BotLogDaoImpl) Finish(ctx context.Context, id snowflake.ID, status model.BotLogStatus, message string, records model.JSONList) error {
	res := d.write(ctx).Model(&model.BotLog{}).Where("id = ?", id).Updates(map[string]any{
		"status":  status,
		"message": message,
		"records": records,
	})
	if res.Error != nil {
		return classify("bot_log.finish", res.Error)
	}
	if res.RowsAffected == 0 {
		return classify("bot_log.finish", gorm.ErrRecordNotFound)
	}
	return nil
}
