package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 0, cfg.Server.Port)
	assert.Equal(t, "fs", cfg.Claim.Backend)
	assert.Equal(t, 20*time.Minute, cfg.Claim.LockStaleness())
	assert.Equal(t, filepath.Join("harvest_data", "reviews"), cfg.Storage.ReviewDir)
	assert.Equal(t, filepath.Join("harvest_data", "locks"), cfg.Storage.LockDir)
	assert.Equal(t, filepath.Join("harvest_data", "markers"), cfg.Storage.MarkerDir)
	assert.Equal(t, 10000, cfg.Harvest.ItemCap)
	assert.Equal(t, "http", cfg.Harvest.SessionMode)
	assert.Equal(t, "memory", cfg.Queue.Provider)
	assert.Equal(t, "none", cfg.Publisher.Provider)
	assert.Equal(t, "none", cfg.Archive.Provider)
	assert.Equal(t, "log", cfg.Telemetry.Exporter)

	client := cfg.Harvest.ClientConfig()
	require.NoError(t, client.Validate())
	assert.Equal(t, 50, client.PageSize)
	assert.Equal(t, 5, client.MaxRetries)
	assert.Equal(t, 540*time.Second, client.RateLimitCap)
	assert.Equal(t, 3*time.Second, client.TransportBackoff)
	assert.Equal(t, 5*time.Second, client.ServerBackoff)
	assert.Equal(t, 2*time.Second, client.Pacing.Min)
	assert.Equal(t, 4*time.Second, client.Pacing.Max)
	assert.InDelta(t, 0.8, client.Pacing.ExtraChance, 1e-9)
	assert.InDelta(t, 0.1, client.Pacing.LongChance, 1e-9)

	disp := cfg.DispatcherConfig(1)
	assert.Equal(t, 20*time.Second, disp.Wait)
	assert.Equal(t, 25*time.Second, disp.UnitDelayMin)
	assert.Equal(t, 35*time.Second, disp.UnitDelayMax)
	assert.Equal(t, 30*time.Second, disp.DrainRecheck)
	assert.Equal(t, 10*time.Second, disp.ErrorPause)
	assert.Equal(t, 10000, disp.ItemCap)
	assert.Equal(t, 1, disp.MaxUnits)
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
logging:
  development: true
  level: debug
storage:
  base_dir: /srv/harvest
  lock_dir: /mnt/shared/locks
claim:
  backend: redis
  redis_addr: localhost:6379
  lock_staleness_seconds: 600
harvest:
  page_size: 20
  item_cap: 500
  session_mode: chromedp
queue:
  provider: redis
  redis_addr: localhost:6379
dispatcher:
  unit_delay_min_seconds: 1
  unit_delay_max_seconds: 2
publisher:
  provider: kafka
  brokers: kafka-1:9092,kafka-2:9092
  topic: outcomes
archive:
  provider: gcs
  bucket: review-archive
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/mnt/shared/locks", cfg.Storage.LockDir)
	assert.Equal(t, filepath.Join("/srv/harvest", "reviews"), cfg.Storage.ReviewDir)
	assert.Equal(t, "redis", cfg.Claim.Backend)
	assert.Equal(t, 10*time.Minute, cfg.Claim.LockStaleness())
	assert.Equal(t, 20, cfg.Harvest.ClientConfig().PageSize)
	assert.Equal(t, 500, cfg.Harvest.ItemCap)
	assert.Equal(t, "chromedp", cfg.Harvest.SessionMode)
	assert.Equal(t, "kafka-1:9092,kafka-2:9092", cfg.Publisher.Brokers)
	assert.Equal(t, "review-archive", cfg.Archive.Bucket)
	assert.Equal(t, time.Second, cfg.DispatcherConfig(0).UnitDelayMin)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HARVESTER_HARVEST_ITEM_CAP", "42")
	t.Setenv("HARVESTER_LEDGER_DSN", "postgres://localhost/harvest")
	t.Setenv("HARVESTER_QUEUE_PROVIDER", "redis")
	t.Setenv("HARVESTER_QUEUE_REDIS_ADDR", "redis:6379")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.Harvest.ItemCap)
	assert.Equal(t, "postgres://localhost/harvest", cfg.Ledger.DSN)
	assert.Equal(t, "redis:6379", cfg.Queue.RedisAddr)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base, err := Load("")
	require.NoError(t, err)

	cases := map[string]func(*Config){
		"negative port":         func(c *Config) { c.Server.Port = -1 },
		"no base dir":           func(c *Config) { c.Storage.BaseDir = " " },
		"unknown claim backend": func(c *Config) { c.Claim.Backend = "etcd" },
		"redis claim no addr":   func(c *Config) { c.Claim.Backend = "redis" },
		"zero staleness":        func(c *Config) { c.Claim.LockStalenessSeconds = 0 },
		"zero page size":        func(c *Config) { c.Harvest.PageSize = 0 },
		"zero retries":          func(c *Config) { c.Harvest.MaxRetries = 0 },
		"zero timeout":          func(c *Config) { c.Harvest.RequestTimeoutSeconds = 0 },
		"inverted page delay":   func(c *Config) { c.Harvest.PageDelayMinMs = 5000 },
		"unknown session mode":  func(c *Config) { c.Harvest.SessionMode = "selenium" },
		"unknown queue":         func(c *Config) { c.Queue.Provider = "sqs" },
		"redis queue no addr":   func(c *Config) { c.Queue.Provider = "redis" },
		"zero visibility":       func(c *Config) { c.Queue.VisibilityTimeoutSeconds = 0 },
		"inverted unit delay":   func(c *Config) { c.Dispatcher.UnitDelayMinSeconds = 60 },
		"pubsub no project":     func(c *Config) { c.Publisher.Provider = "pubsub" },
		"kafka no brokers":      func(c *Config) { c.Publisher.Provider = "kafka" },
		"unknown publisher":     func(c *Config) { c.Publisher.Provider = "sns" },
		"local archive no dir":  func(c *Config) { c.Archive.Provider = "local" },
		"gcs archive no bucket": func(c *Config) { c.Archive.Provider = "gcs" },
		"unknown archive":       func(c *Config) { c.Archive.Provider = "s3" },
		"unknown exporter":      func(c *Config) { c.Telemetry.Exporter = "jaeger" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
