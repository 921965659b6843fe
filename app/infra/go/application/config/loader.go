// config/loader.go
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"

	"github.com/grand-thief-cash/chaos/app/infra/go/application/consts"
)

// Loader 配置加载器。优先级: 环境变量 > 配置文件 > env-default 标签。
type Loader struct {
	env        string
	configPath string
	bizConfig  any
}

func NewLoader(env string, configPath string) *Loader {
	if env == "" {
		env = consts.ENV_DEVELOPMENT
	}
	if configPath == "" {
		configPath = consts.DEFAULT_CONFIG_PATH
	}
	return &Loader{env: env, configPath: configPath}
}

// SetBizConfig 注入业务配置结构指针 (例如 &BizConfig{})，须在 LoadConfig 之前调用。
func (l *Loader) SetBizConfig(b any) {
	if b == nil {
		return
	}
	if reflect.TypeOf(b).Kind() != reflect.Ptr {
		panic("SetBizConfig expects a pointer, e.g. &MyBizConfig{}")
	}
	l.bizConfig = b
}

func (l *Loader) LoadConfig() (*AppConfig, error) {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(l.configPath))
	var cfg AppConfig
	if err := unmarshalByExt(ext, data, &cfg); err != nil {
		return nil, err
	}
	if cfg.APPInfo == nil {
		cfg.APPInfo = &APPInfo{}
	}
	if cfg.APPInfo.ENV == "" {
		cfg.APPInfo.ENV = l.env
	}

	// biz_config 先被解析成 map，这里二次解码到业务指针以保留默认值。
	if l.bizConfig != nil {
		if cfg.BizConfig != nil {
			if err := redecode(ext, cfg.BizConfig, l.bizConfig); err != nil {
				return nil, fmt.Errorf("decode biz_config failed: %w", err)
			}
		}
		if err := cleanenv.ReadEnv(l.bizConfig); err != nil {
			return nil, fmt.Errorf("apply biz_config env overrides: %w", err)
		}
		cfg.BizConfig = l.bizConfig
	}
	return &cfg, nil
}

func unmarshalByExt(ext string, data []byte, out any) error {
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}
	return nil
}

func redecode(ext string, raw any, target any) error {
	var (
		b   []byte
		err error
	)
	if ext == ".json" {
		b, err = json.Marshal(raw)
	} else {
		b, err = yaml.Marshal(raw)
	}
	if err != nil {
		return fmt.Errorf("re-marshal biz_config failed: %w", err)
	}
	return unmarshalByExt(ext, b, target)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
