package registry_ext

import (
	"github.com/grand-thief-cash/chaos/app/infra/go/application/config"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/core"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/registry"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/activity"
	bizConsts "github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/consts"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/notification"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/runner"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/scheduler"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/scope"
)

func init() {
	registry.RegisterAuto(func(cfg *config.AppConfig, c *core.Container) (bool, core.Component, error) {
		return true, scope.NewResolver(), nil
	})
	registry.RegisterAuto(func(cfg *config.AppConfig, c *core.Container) (bool, core.Component, error) {
		return true, runner.NewTrigger(), nil
	})
	registry.RegisterAuto(func(cfg *config.AppConfig, c *core.Container) (bool, core.Component, error) {
		return true, scheduler.NewEngine(), nil
	})
	registry.RegisterAuto(func(cfg *config.AppConfig, c *core.Container) (bool, core.Component, error) {
		return true, activity.NewRecorder(), nil
	})
	registry.RegisterAuto(func(cfg *config.AppConfig, c *core.Container) (bool, core.Component, error) {
		return true, notification.NewRouter(), nil
	})

	registry.Register(bizConsts.COMP_BOT_RUNNER, func(cfg *config.AppConfig, c *core.Container) (bool, core.Component, error) {
		biz, err := bizCfg(cfg)
		if err != nil {
			return true, nil, err
		}
		return true, runner.NewRunner(biz.Bot), nil
	})

	// only the main worker ticks schedules on its own; other workers rely on the tick endpoint
	registry.Register(bizConsts.COMP_SCHEDULE_CLOCK, func(cfg *config.AppConfig, c *core.Container) (bool, core.Component, error) {
		biz, err := bizCfg(cfg)
		if err != nil {
			return true, nil, err
		}
		return true, scheduler.NewClock(biz.IsMainWorker()), nil
	})

	registry.Register(bizConsts.COMP_EMAIL_SENDER, func(cfg *config.AppConfig, c *core.Container) (bool, core.Component, error) {
		biz, err := bizCfg(cfg)
		if err != nil {
			return true, nil, err
		}
		return true, notification.NewEmailSender(biz.MailerClient), nil
	})
}
