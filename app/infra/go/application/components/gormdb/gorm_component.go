package gormdb

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/grand-thief-cash/chaos/app/infra/go/application/components/logging"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/consts"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/core"
)

var (
	modelsMu sync.Mutex
	models   []any
)

// RegisterModels adds models migrated on start for data sources with auto_migrate=true.
// Call from init() of the package defining the models.
func RegisterModels(m ...any) {
	modelsMu.Lock()
	models = append(models, m...)
	modelsMu.Unlock()
}

func registeredModels() []any {
	modelsMu.Lock()
	defer modelsMu.Unlock()
	return append([]any(nil), models...)
}

// GormComponent manages one *gorm.DB per datasource.
type GormComponent struct {
	*core.BaseComponent
	cfg   *Config
	dbs   map[string]*gorm.DB
	mutex sync.RWMutex
}

func NewGormComponent(cfg *Config) *GormComponent {
	return &GormComponent{
		BaseComponent: core.NewBaseComponent(consts.COMPONENT_GORM, consts.COMPONENT_LOGGING),
		cfg:           cfg,
		dbs:           make(map[string]*gorm.DB),
	}
}

func (c *GormComponent) Start(ctx context.Context) error {
	if err := c.BaseComponent.Start(ctx); err != nil {
		return err
	}
	if c.cfg == nil || !c.cfg.Enabled {
		return fmt.Errorf("gorm component disabled or nil config")
	}
	for name, ds := range c.cfg.DataSources {
		gormDB, err := c.open(ctx, name, ds)
		if err != nil {
			c.closeAll(ctx)
			return err
		}
		c.mutex.Lock()
		c.dbs[name] = gormDB
		c.mutex.Unlock()
		logging.Infof(ctx, "[gorm] datasource %s (%s) initialized", name, ds.Driver)
	}
	logging.Infof(ctx, "[gorm] started. data sources=%v", c.listNames())
	return nil
}

func (c *GormComponent) open(ctx context.Context, name string, ds *DataSourceConfig) (*gorm.DB, error) {
	dial, err := dialector(ds)
	if err != nil {
		return nil, fmt.Errorf("build dsn for %s failed: %w", name, err)
	}
	gormDB, err := gorm.Open(dial, &gorm.Config{
		Logger:                                   newGormLogger(c.cfg),
		SkipDefaultTransaction:                   ds.SkipDefaultTransaction,
		PrepareStmt:                              ds.PrepareStmt,
		DisableForeignKeyConstraintWhenMigrating: true,
		NowFunc:                                  func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm db %s failed: %w", name, err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("get underlying sql.DB for %s failed: %w", name, err)
	}
	sqlDB.SetMaxOpenConns(orDefault(ds.MaxOpenConns, 50))
	sqlDB.SetMaxIdleConns(orDefault(ds.MaxIdleConns, 10))
	if ds.ConnMaxLife > 0 {
		sqlDB.SetConnMaxLifetime(ds.ConnMaxLife)
	} else {
		sqlDB.SetConnMaxLifetime(60 * time.Minute)
	}
	if ds.ConnMaxIdle > 0 {
		sqlDB.SetConnMaxIdleTime(ds.ConnMaxIdle)
	}
	if ds.PingOnStart {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := sqlDB.PingContext(pingCtx); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("ping gorm db %s failed: %w", name, err)
		}
	}
	if ds.AutoMigrate {
		if ms := registeredModels(); len(ms) > 0 {
			if err := gormDB.WithContext(ctx).AutoMigrate(ms...); err != nil {
				_ = sqlDB.Close()
				return nil, fmt.Errorf("auto migrate %s failed: %w", name, err)
			}
		}
	}
	return gormDB, nil
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func (c *GormComponent) Stop(ctx context.Context) error {
	defer func() { _ = c.BaseComponent.Stop(ctx) }()
	c.closeAll(ctx)
	return nil
}

func (c *GormComponent) closeAll(ctx context.Context) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for name, gdb := range c.dbs {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
		delete(c.dbs, name)
		logging.Infof(ctx, "[gorm] datasource %s closed", name)
	}
}

func (c *GormComponent) HealthCheck() error {
	if err := c.BaseComponent.HealthCheck(); err != nil {
		return err
	}
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	for name, gdb := range c.dbs {
		sqlDB, err := gdb.DB()
		if err != nil {
			return fmt.Errorf("datasource %s get sql.DB failed: %w", name, err)
		}
		if err := sqlDB.Ping(); err != nil {
			return fmt.Errorf("datasource %s ping failed: %w", name, err)
		}
	}
	return nil
}

func (c *GormComponent) GetDB(name string) (*gorm.DB, error) {
	c.mutex.RLock()
	db, ok := c.dbs[name]
	c.mutex.RUnlock()
	if !ok {
		return nil, fmt.Errorf("gorm datasource %s not found", name)
	}
	return db, nil
}

func (c *GormComponent) listNames() []string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	names := make([]string, 0, len(c.dbs))
	for k := range c.dbs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
