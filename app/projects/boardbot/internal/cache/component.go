package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/grand-thief-cash/chaos/app/infra/go/application/components/logging"
	redisComp "github.com/grand-thief-cash/chaos/app/infra/go/application/components/redis"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/consts"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/core"
	bizConfig "github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/config"
	bizConsts "github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/consts"
)

// Component owns the configured backend and forwards the Cache contract to it.
type Component struct {
	*core.BaseComponent
	Redis *redisComp.RedisComponent `infra:"dep:redis?"`

	cfg     *bizConfig.BizConfig
	backend Cache
}

func NewComponent(cfg *bizConfig.BizConfig) *Component {
	return &Component{
		BaseComponent: core.NewBaseComponent(bizConsts.COMP_CACHE, consts.COMPONENT_LOGGING),
		cfg:           cfg,
	}
}

// NewWithBackend wraps an already opened backend; used by tests.
func NewWithBackend(backend Cache) *Component {
	return &Component{BaseComponent: core.NewBaseComponent(bizConsts.COMP_CACHE), backend: backend}
}

func (c *Component) Start(ctx context.Context) error {
	if c.IsActive() {
		return nil
	}
	if c.backend == nil {
		backend, err := c.open(ctx)
		if err != nil {
			return err
		}
		c.backend = backend
	}
	return c.BaseComponent.Start(ctx)
}

func (c *Component) open(ctx context.Context) (Cache, error) {
	switch c.cfg.Cache.Type {
	case bizConsts.CACHE_REDIS:
		if c.cfg.Cache.URL != "" {
			opts, err := redis.ParseURL(c.cfg.Cache.URL)
			if err != nil {
				return nil, fmt.Errorf("parse cache url: %w", err)
			}
			client := redis.NewClient(opts)
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := client.Ping(pingCtx).Err(); err != nil {
				_ = client.Close()
				return nil, fmt.Errorf("cache redis ping failed: %w", err)
			}
			rc := NewRedisCache(client, c.cfg.Cache.Namespace)
			rc.ownClient = true
			logging.Info(ctx, "cache backend redis (cache_url)", zap.String("addr", opts.Addr))
			return rc, nil
		}
		if c.Redis == nil || c.Redis.Client() == nil {
			return nil, fmt.Errorf("cache.type=redis requires cache.url or the redis component")
		}
		logging.Info(ctx, "cache backend redis (component)")
		return NewRedisCache(c.Redis.Client(), c.cfg.Cache.Namespace), nil
	default:
		sc, err := OpenSQLite(ctx, c.cfg.CacheDBPath())
		if err != nil {
			return nil, err
		}
		logging.Info(ctx, "cache backend sqlite", zap.String("path", c.cfg.CacheDBPath()))
		return sc, nil
	}
}

func (c *Component) Stop(ctx context.Context) error {
	defer c.BaseComponent.Stop(ctx)
	if c.backend != nil {
		return c.backend.Close()
	}
	return nil
}

func (c *Component) HealthCheck() error {
	if err := c.BaseComponent.HealthCheck(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.backend.SetRaw(ctx, "healthz", []byte(`1`), time.Minute)
}

// Embedded reports whether envelopes should be staged as files instead of cache entries.
func (c *Component) Embedded() bool {
	_, ok := c.backend.(*SQLiteCache)
	return ok
}

func (c *Component) Backend() Cache { return c.backend }

func (c *Component) Get(ctx context.Context, key string, dst any) bool {
	return c.backend.Get(ctx, key, dst)
}

func (c *Component) GetRaw(ctx context.Context, key string) ([]byte, bool) {
	return c.backend.GetRaw(ctx, key)
}

func (c *Component) Has(ctx context.Context, key string) bool { return c.backend.Has(ctx, key) }

func (c *Component) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return c.backend.Set(ctx, key, value, ttl)
}

func (c *Component) SetRaw(ctx context.Context, key string, raw []byte, ttl time.Duration) error {
	return c.backend.SetRaw(ctx, key, raw, ttl)
}

func (c *Component) Delete(ctx context.Context, key string) error {
	return c.backend.Delete(ctx, key)
}

func (c *Component) Clear(ctx context.Context) error { return c.backend.Clear(ctx) }

func (c *Component) Mutate(ctx context.Context, key string, ttl time.Duration, fn MutateFunc) error {
	return c.backend.Mutate(ctx, key, ttl, fn)
}

func (c *Component) Close() error { return nil }
