// config/schema.go
package config

import (
	"github.com/grand-thief-cash/chaos/app/infra/go/application/components/gormdb"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/components/http_client"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/components/http_server"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/components/logging"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/components/prometheus"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/components/redis"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/components/telemetry"
)

// AppConfig 应用程序配置结构；biz_config 由项目自定义结构体解码。
type AppConfig struct {
	APPInfo     *APPInfo                       `yaml:"app_info" json:"app_info"`
	Logging     *logging.LoggingConfig         `yaml:"logging" json:"logging"`
	Redis       *redis.Config                  `yaml:"redis" json:"redis"`
	Prometheus  *prometheus.Config             `yaml:"prometheus" json:"prometheus"`
	Telemetry   *telemetry.Config              `yaml:"telemetry" json:"telemetry"`
	HTTPServer  *http_server.HTTPServerConfig  `yaml:"http_server" json:"http_server"`
	HTTPClients *http_client.HTTPClientsConfig `yaml:"http_clients" json:"http_clients"`
	Gorm        *gormdb.Config                 `yaml:"gorm" json:"gorm"`
	BizConfig   any                            `yaml:"biz_config" json:"biz_config"`
}

type APPInfo struct {
	APPName string `yaml:"app_name" json:"app_name"`
	ENV     string `yaml:"env" json:"env"`
}
