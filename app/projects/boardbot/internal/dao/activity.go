package dao

import (
	"context"

	"gorm.io/gorm"

	"github.com/grand-thief-cash/chaos/app/infra/go/application/components/gormdb"
	bizConsts "github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/consts"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/model"
)

type ActivityDao interface {
	// CreatePair writes the domain row and the user pointer row in one transaction. pointer may be
	// nil when the domain row already is a UserActivity.
	CreatePair(ctx context.Context, domain model.ActivityRow, pointer *model.UserActivity) error
}

type ActivityDaoImpl struct {
	gormDao
	GormComp *gormdb.GormComponent `infra:"dep:gorm"`
}

func NewActivityDao(dsName string) *ActivityDaoImpl {
	return &ActivityDaoImpl{gormDao: newGormDao(bizConsts.COMP_DAO_ACTIVITY, dsName)}
}

func NewActivityDaoWithDB(db *gorm.DB) *ActivityDaoImpl {
	return &ActivityDaoImpl{gormDao: withDB(bizConsts.COMP_DAO_ACTIVITY, db)}
}

func (d *ActivityDaoImpl) Start(ctx context.Context) error { return d.open(ctx, d.GormComp) }

func (d *ActivityDaoImpl) CreatePair(ctx context.Context, domain model.ActivityRow, pointer *model.UserActivity) error {
	err := d.write(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(domain).Error; err != nil {
			return err
		}
		if pointer == nil {
			return nil
		}
		pointer.ReferActivityTable = domain.TableName()
		pointer.ReferActivityID = domain.ActivityID()
		return tx.Create(pointer).Error
	})
	return classify("activity.create", err)
}
