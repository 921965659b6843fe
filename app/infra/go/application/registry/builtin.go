package registry

import (
	"fmt"

	"github.com/grand-thief-cash/chaos/app/infra/go/application/components/gormdb"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/components/http_client"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/components/http_server"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/components/logging"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/components/prometheus"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/components/redis"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/components/telemetry"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/config"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/consts"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/core"
)

type factory interface {
	Create(cfg interface{}) (core.Component, error)
}

// builtin registers a framework component that is skipped when its config section is absent or disabled.
func builtin(name string, section func(cfg *config.AppConfig) (any, bool), newFactory func(c *core.Container) factory) {
	Register(name, func(cfg *config.AppConfig, c *core.Container) (bool, core.Component, error) {
		sc, enabled := section(cfg)
		if !enabled {
			return false, nil, nil
		}
		comp, err := newFactory(c).Create(sc)
		if err != nil {
			return true, nil, err
		}
		return true, comp, nil
	})
}

func init() {
	builtin(consts.COMPONENT_LOGGING, func(cfg *config.AppConfig) (any, bool) {
		return cfg.Logging, cfg.Logging != nil && cfg.Logging.Enabled
	}, func(*core.Container) factory { return logging.NewFactory() })

	builtin(consts.COMPONENT_PROMETHEUS, func(cfg *config.AppConfig) (any, bool) {
		return cfg.Prometheus, cfg.Prometheus != nil && cfg.Prometheus.Enabled
	}, func(*core.Container) factory { return prometheus.NewFactory() })

	builtin(consts.COMPONENT_REDIS, func(cfg *config.AppConfig) (any, bool) {
		return cfg.Redis, cfg.Redis != nil && cfg.Redis.Enabled
	}, func(*core.Container) factory { return redis.NewFactory() })

	builtin(consts.COMPONENT_GORM, func(cfg *config.AppConfig) (any, bool) {
		return cfg.Gorm, cfg.Gorm != nil && cfg.Gorm.Enabled
	}, func(*core.Container) factory { return gormdb.NewFactory() })

	builtin(consts.COMPONENT_HTTP_CLIENTS, func(cfg *config.AppConfig) (any, bool) {
		return cfg.HTTPClients, cfg.HTTPClients != nil && cfg.HTTPClients.Enabled
	}, func(*core.Container) factory { return http_client.NewFactory() })

	builtin(consts.COMPONENT_HTTP_SERVER, func(cfg *config.AppConfig) (any, bool) {
		if cfg.HTTPServer == nil || !cfg.HTTPServer.Enabled {
			return nil, false
		}
		if cfg.APPInfo != nil {
			cfg.HTTPServer.ServiceName = cfg.APPInfo.APPName
		}
		return cfg.HTTPServer, true
	}, func(c *core.Container) factory { return http_server.NewFactory(c) })

	// telemetry has no factory; the service name falls back to the app name
	Register(consts.COMPONENT_TELEMETRY, func(cfg *config.AppConfig, c *core.Container) (bool, core.Component, error) {
		if cfg.Telemetry == nil || !cfg.Telemetry.Enabled {
			return false, nil, nil
		}
		if cfg.Telemetry.ServiceName == "" && cfg.APPInfo != nil {
			cfg.Telemetry.ServiceName = cfg.APPInfo.APPName
		}
		if cfg.Telemetry.ServiceName == "" {
			return false, nil, fmt.Errorf("telemetry.service_name empty and app_info.app_name not provided")
		}
		return true, telemetry.NewTelemetryComponent(cfg.Telemetry), nil
	})
}
