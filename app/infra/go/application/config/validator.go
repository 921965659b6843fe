// config/validator.go
package config

import (
	"fmt"

	"github.com/grand-thief-cash/chaos/app/infra/go/application/consts"
)

type Validator struct{}

func NewValidator() *Validator { return &Validator{} }

// ValidateAppConfig checks framework sections and, when it implements Validate() error, the biz section.
func (v *Validator) ValidateAppConfig(config *AppConfig) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if config.APPInfo != nil {
		if err := v.validateEnv(config.APPInfo.ENV); err != nil {
			return err
		}
	}
	if biz, ok := config.BizConfig.(interface{ Validate() error }); ok {
		if err := biz.Validate(); err != nil {
			return fmt.Errorf("biz_config invalid: %w", err)
		}
	}
	return nil
}

func (v *Validator) validateConfigFilePath(path string) error {
	if path == "" {
		return fmt.Errorf("config file path cannot be empty")
	}
	if len(path) > 255 {
		return fmt.Errorf("config file path is too long")
	}
	if !fileExists(path) {
		return fmt.Errorf("config file does not exist: %s", path)
	}
	return nil
}

func (v *Validator) validateEnv(env string) error {
	switch env {
	case "", consts.ENV_DEVELOPMENT, consts.ENV_PRODUCTION, consts.ENV_TEST:
		return nil
	}
	return fmt.Errorf("running environment is not valid: %s", env)
}
