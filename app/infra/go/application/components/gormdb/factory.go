package gormdb

import (
	"fmt"
	"strings"

	"github.com/grand-thief-cash/chaos/app/infra/go/application/core"
)

type Factory struct{}

func NewFactory() *Factory { return &Factory{} }

func (f *Factory) Create(cfg interface{}) (core.Component, error) {
	gormCfg, ok := cfg.(*Config)
	if !ok {
		return nil, fmt.Errorf("invalid config type for gorm component (need *gormdb.Config)")
	}
	if gormCfg == nil || !gormCfg.Enabled {
		return nil, fmt.Errorf("gorm component disabled")
	}
	if len(gormCfg.DataSources) == 0 {
		return nil, fmt.Errorf("gorm component has no data_sources")
	}
	for name, ds := range gormCfg.DataSources {
		if ds == nil {
			return nil, fmt.Errorf("datasource %s config is nil", name)
		}
		ds.Driver = strings.ToLower(strings.TrimSpace(ds.Driver))
		if ds.Driver == "" {
			ds.Driver = DriverMySQL
		}
		if ds.Driver != DriverMySQL && ds.Driver != DriverPostgres {
			return nil, fmt.Errorf("datasource %s: unsupported driver %q", name, ds.Driver)
		}
	}
	return NewGormComponent(gormCfg), nil
}
