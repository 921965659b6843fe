package registry_ext

import (
	"github.com/grand-thief-cash/chaos/app/infra/go/application/config"
	bizConfig "github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/config"
)

// bizCfg extracts the biz section; the config manager has already validated it.
func bizCfg(cfg *config.AppConfig) (*bizConfig.BizConfig, error) {
	return bizConfig.From(cfg.BizConfig)
}
