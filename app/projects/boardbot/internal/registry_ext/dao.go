package registry_ext

import (
	"github.com/grand-thief-cash/chaos/app/infra/go/application/config"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/core"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/registry"
	bizConsts "github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/consts"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/dao"
)

type daoBuilder struct {
	name  string
	build func(dsName string) core.Component
}

func init() {
	daos := []daoBuilder{
		{bizConsts.COMP_DAO_RECORD, func(ds string) core.Component { return dao.NewRecordDao(ds) }},
		{bizConsts.COMP_DAO_BOT, func(ds string) core.Component { return dao.NewBotDao(ds) }},
		{bizConsts.COMP_DAO_SCOPE, func(ds string) core.Component { return dao.NewBotScopeDao(ds) }},
		{bizConsts.COMP_DAO_SCHEDULE, func(ds string) core.Component { return dao.NewBotScheduleDao(ds) }},
		{bizConsts.COMP_DAO_BOT_LOG, func(ds string) core.Component { return dao.NewBotLogDao(ds) }},
		{bizConsts.COMP_DAO_ACTIVITY, func(ds string) core.Component { return dao.NewActivityDao(ds) }},
		{bizConsts.COMP_DAO_NOTIFICATION, func(ds string) core.Component { return dao.NewNotificationDao(ds) }},
	}
	for _, d := range daos {
		d := d
		// every dao reads the same datasource from the gorm component
		registry.Register(d.name, func(cfg *config.AppConfig, c *core.Container) (bool, core.Component, error) {
			biz, err := bizCfg(cfg)
			if err != nil {
				return true, nil, err
			}
			return true, d.build(biz.DataSource), nil
		})
	}
}
