package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appConfig "github.com/grand-thief-cash/chaos/app/infra/go/application/config"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/consts"
)

func load(t *testing.T, path string) *BizConfig {
	t.Helper()
	l := appConfig.NewLoader("test", path)
	biz := Default()
	l.SetBizConfig(biz)
	cfg, err := l.LoadConfig()
	require.NoError(t, err)
	got, err := From(cfg.BizConfig)
	require.NoError(t, err)
	return got
}

func TestShippedConfigLoads(t *testing.T) {
	c := load(t, filepath.Join("..", "..", "config", "config.yaml"))
	require.NoError(t, c.Validate())
	assert.True(t, c.IsMainWorker())
	assert.Equal(t, "mailer", c.MailerClient)
	assert.Equal(t, "flows", c.Bot.FlowClient)
	assert.Equal(t, 100*time.Millisecond, c.Broadcast.PollInterval)
}

func TestEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("biz_config:\n  worker: main\n  broker:\n    mode: remote\n"), 0o644))
	t.Setenv("WORKER", "worker-2")
	t.Setenv("BROKER_MODE", "local")
	t.Setenv("BROADCAST_URLS", "k1:9092, k2:9092")

	c := load(t, path)
	assert.False(t, c.IsMainWorker())
	assert.Equal(t, consts.BROKER_LOCAL, c.Broker.Mode)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Broadcast.Brokers())
	assert.Equal(t, 5, c.Bot.AIRequestTrials)
}

func TestValidateRejectsBadSettings(t *testing.T) {
	cases := map[string]func(c *BizConfig){
		"broadcast type":   func(c *BizConfig) { c.Broadcast.Type = "carrier-pigeon" },
		"kafka no urls":    func(c *BizConfig) { c.Broadcast.Type = consts.BROADCAST_KAFKA },
		"cache type":       func(c *BizConfig) { c.Cache.Type = "memcached" },
		"broker mode":      func(c *BizConfig) { c.Broker.Mode = "eager" },
		"broker queue":     func(c *BizConfig) { c.Broker.Queue = "sqs" },
		"worker pool":      func(c *BizConfig) { c.Broker.WorkerPoolSize = 0 },
		"request timeout":  func(c *BizConfig) { c.Bot.AIRequestTimeout = 0 },
		"request attempts": func(c *BizConfig) { c.Bot.AIRequestTrials = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := Default()
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestDerivedPaths(t *testing.T) {
	c := Default()
	c.DataDir = "/var/lib/boardbot"
	assert.Equal(t, "/var/lib/boardbot/schemas/webhook.json", c.SchemaPath())
	assert.Equal(t, "/var/lib/boardbot/broadcast", c.BroadcastDir())
	assert.Equal(t, 120*time.Second, c.Bot.RequestTimeout())
	_, err := From(struct{}{})
	assert.Error(t, err)
}
