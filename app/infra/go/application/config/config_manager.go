package config

type ConfigManager struct {
	configLoader *Loader
	validator    *Validator
	appConfig    *AppConfig
}

func NewConfigManager(env string, configPath string) *ConfigManager {
	return &ConfigManager{
		configLoader: NewLoader(env, configPath),
		validator:    NewValidator(),
	}
}

// NewConfigManagerWithBiz 便捷构造: 直接提供业务配置指针
func NewConfigManagerWithBiz(env, configPath string, biz any) *ConfigManager {
	cm := NewConfigManager(env, configPath)
	cm.SetBizConfig(biz)
	return cm
}

func (cf *ConfigManager) SetBizConfig(b any) {
	if cf != nil && cf.configLoader != nil {
		cf.configLoader.SetBizConfig(b)
	}
}

func (cf *ConfigManager) BizConfig() any {
	if cf == nil || cf.appConfig == nil {
		return nil
	}
	return cf.appConfig.BizConfig
}

func (cf *ConfigManager) GetConfig() *AppConfig { return cf.appConfig }

func (cf *ConfigManager) LoadConfig() error {
	if err := cf.validator.validateConfigFilePath(cf.configLoader.configPath); err != nil {
		return err
	}
	cfg, err := cf.configLoader.LoadConfig()
	if err != nil {
		return err
	}
	if err := cf.validator.ValidateAppConfig(cfg); err != nil {
		return err
	}
	cf.appConfig = cfg
	return nil
}
