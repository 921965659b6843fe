package registry_ext

import (
	"github.com/grand-thief-cash/chaos/app/infra/go/application/config"
	appconsts "github.com/grand-thief-cash/chaos/app/infra/go/application/consts"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/core"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/registry"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/api"
	bizConsts "github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/consts"
)

func init() {
	// http_server mounts the controllers' routes, so it has to start after them.
	registry.ExtendRuntimeDependencies(appconsts.COMPONENT_HTTP_SERVER,
		bizConsts.COMP_CTRL_BOT, bizConsts.COMP_CTRL_SCHEDULE, bizConsts.COMP_CTRL_SOCKET)

	registry.RegisterAuto(func(cfg *config.AppConfig, c *core.Container) (bool, core.Component, error) {
		return true, api.NewBotController(), nil
	})
	registry.RegisterAuto(func(cfg *config.AppConfig, c *core.Container) (bool, core.Component, error) {
		return true, api.NewScheduleController(), nil
	})
	registry.RegisterAuto(func(cfg *config.AppConfig, c *core.Container) (bool, core.Component, error) {
		return true, api.NewSocketController(), nil
	})
}
