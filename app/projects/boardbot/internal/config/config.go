package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/consts"
)

// BizConfig is the biz_config section. Environment variables override YAML; env-default applies to
// fields left empty by both.
type BizConfig struct {
	DataDir      string          `yaml:"data_dir" env:"DATA_DIR" env-default:"./data"`
	Worker       string          `yaml:"worker" env:"WORKER" env-default:"main"`
	Broadcast    BroadcastConfig `yaml:"broadcast"`
	Cache        CacheConfig     `yaml:"cache"`
	Broker       BrokerConfig    `yaml:"broker"`
	Bot          BotConfig       `yaml:"bot"`
	Auth         AuthConfig      `yaml:"auth"`
	DataSource   string          `yaml:"datasource" env:"DATASOURCE" env-default:"boardbot"`
	MailerClient string          `yaml:"mailer_client" env:"MAILER_CLIENT"`
}

type BroadcastConfig struct {
	Type          string        `yaml:"type" env:"BROADCAST_TYPE" env-default:"in-memory"`
	URLs          string        `yaml:"urls" env:"BROADCAST_URLS"`
	PollInterval  time.Duration `yaml:"poll_interval" env:"BROADCAST_POLL_INTERVAL" env-default:"100ms"`
	TopicPrefix   string        `yaml:"topic_prefix" env:"BROADCAST_TOPIC_PREFIX"`
	ConsumerGroup string        `yaml:"consumer_group" env:"BROADCAST_CONSUMER_GROUP" env-default:"boardbot"`
}

type CacheConfig struct {
	Type      string `yaml:"type" env:"CACHE_TYPE" env-default:"in-memory"`
	URL       string `yaml:"url" env:"CACHE_URL"`
	Namespace string `yaml:"namespace" env:"CACHE_NAMESPACE" env-default:"boardbot"`
}

type BrokerConfig struct {
	Mode             string `yaml:"mode" env:"BROKER_MODE" env-default:"remote"`
	Queue            string `yaml:"queue" env:"BROKER_QUEUE" env-default:"memory"`
	QueueName        string `yaml:"queue_name" env:"BROKER_QUEUE_NAME" env-default:"boardbot:tasks"`
	WorkerPoolSize   int    `yaml:"worker_pool_size" env:"BROKER_WORKER_POOL_SIZE" env-default:"8"`
	AsyncConcurrency int64  `yaml:"async_concurrency" env:"BROKER_ASYNC_CONCURRENCY" env-default:"32"`
	QueueSize        int    `yaml:"queue_size" env:"BROKER_QUEUE_SIZE" env-default:"1024"`
}

type BotConfig struct {
	AIRequestTimeout int    `yaml:"ai_request_timeout" env:"AI_REQUEST_TIMEOUT" env-default:"120"`
	AIRequestTrials  int    `yaml:"ai_request_trials" env:"AI_REQUEST_TRIALS" env-default:"5"`
	DefaultFlowPath  string `yaml:"default_flow_path" env:"BOT_DEFAULT_FLOW_PATH" env-default:"./flows/default.json"`
	FlowClient       string `yaml:"flow_client" env:"BOT_FLOW_CLIENT" env-default:"flows"`
}

// AuthConfig is carried for collaborators issuing tokens; the engine only reads it.
type AuthConfig struct {
	JWTATExpiration int `yaml:"jwt_at_expiration" env:"JWT_AT_EXPIRATION" env-default:"10800"`
	JWTRTExpiration int `yaml:"jwt_rt_expiration" env:"JWT_RT_EXPIRATION" env-default:"30"`
}

func (c *BizConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("biz config is nil")
	}
	switch c.Broadcast.Type {
	case consts.BROADCAST_IN_MEMORY:
	case consts.BROADCAST_KAFKA:
		if len(c.Broadcast.Brokers()) == 0 {
			return fmt.Errorf("broadcast.urls required when broadcast.type=kafka")
		}
	default:
		return fmt.Errorf("unknown broadcast.type %q", c.Broadcast.Type)
	}
	switch c.Cache.Type {
	case consts.CACHE_IN_MEMORY, consts.CACHE_REDIS:
	default:
		return fmt.Errorf("unknown cache.type %q", c.Cache.Type)
	}
	switch c.Broker.Mode {
	case consts.BROKER_LOCAL, consts.BROKER_REMOTE:
	default:
		return fmt.Errorf("unknown broker.mode %q", c.Broker.Mode)
	}
	switch c.Broker.Queue {
	case consts.QUEUE_MEMORY, consts.QUEUE_REDIS:
	default:
		return fmt.Errorf("unknown broker.queue %q", c.Broker.Queue)
	}
	if c.Broker.WorkerPoolSize <= 0 {
		return fmt.Errorf("broker.worker_pool_size must be > 0")
	}
	if c.Bot.AIRequestTimeout <= 0 {
		return fmt.Errorf("bot.ai_request_timeout must be > 0")
	}
	if c.Bot.AIRequestTrials <= 0 {
		return fmt.Errorf("bot.ai_request_trials must be > 0")
	}
	return nil
}

func (c *BizConfig) IsMainWorker() bool { return c.Worker == consts.WORKER_MAIN }

func (c *BizConfig) BroadcastDir() string { return filepath.Join(c.DataDir, "broadcast") }

func (c *BizConfig) CacheDBPath() string { return filepath.Join(c.DataDir, "cache", "cache.db") }

func (c *BizConfig) SchemaPath() string { return filepath.Join(c.DataDir, "schemas", "webhook.json") }

func (b BroadcastConfig) Brokers() []string {
	var out []string
	for _, u := range strings.Split(b.URLs, ",") {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}

func (b BotConfig) RequestTimeout() time.Duration {
	return time.Duration(b.AIRequestTimeout) * time.Second
}

// Default returns a config with every default applied; used by tests and as the loader seed.
func Default() *BizConfig {
	return &BizConfig{
		DataDir: "./data",
		Worker:  consts.WORKER_MAIN,
		Broadcast: BroadcastConfig{
			Type:          consts.BROADCAST_IN_MEMORY,
			PollInterval:  100 * time.Millisecond,
			ConsumerGroup: "boardbot",
		},
		Cache:  CacheConfig{Type: consts.CACHE_IN_MEMORY, Namespace: "boardbot"},
		Broker: BrokerConfig{Mode: consts.BROKER_REMOTE, Queue: consts.QUEUE_MEMORY, QueueName: "boardbot:tasks", WorkerPoolSize: 8, AsyncConcurrency: 32, QueueSize: 1024},
		Bot: BotConfig{
			AIRequestTimeout: 120,
			AIRequestTrials:  5,
			DefaultFlowPath:  "./flows/default.json",
			FlowClient:       "flows",
		},
		Auth:       AuthConfig{JWTATExpiration: 10800, JWTRTExpiration: 30},
		DataSource: "boardbot",
	}
}

// From extracts the biz section from the framework config value.
func From(v any) (*BizConfig, error) {
	c, ok := v.(*BizConfig)
	if !ok || c == nil {
		return nil, fmt.Errorf("biz_config missing or not *config.BizConfig (got %T)", v)
	}
	return c, nil
}
