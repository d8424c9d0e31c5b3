// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/review-harvester/internal/dispatcher"
	"github.com/JakeFAU/review-harvester/internal/fetcher/review"
	"github.com/JakeFAU/review-harvester/internal/logging"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    logging.Config   `mapstructure:"logging"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Claim      ClaimConfig      `mapstructure:"claim"`
	Harvest    HarvestConfig    `mapstructure:"harvest"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Publisher  PublisherConfig  `mapstructure:"publisher"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// ServerConfig controls the status server. Port 0 disables it.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// StorageConfig sets the shared filesystem layout.
type StorageConfig struct {
	BaseDir   string `mapstructure:"base_dir"`
	ReviewDir string `mapstructure:"review_dir"`
	LockDir   string `mapstructure:"lock_dir"`
	MarkerDir string `mapstructure:"marker_dir"`
	ChunkSize int    `mapstructure:"chunk_size"`
}

// ClaimConfig selects the claim backend.
type ClaimConfig struct {
	Backend              string `mapstructure:"backend"`
	LockStalenessSeconds int    `mapstructure:"lock_staleness_seconds"`
	RedisAddr            string `mapstructure:"redis_addr"`
	RedisPrefix          string `mapstructure:"redis_prefix"`
}

// HarvestConfig configures the upstream review client.
type HarvestConfig struct {
	Endpoint              string  `mapstructure:"endpoint"`
	Origin                string  `mapstructure:"origin"`
	BusinessType          string  `mapstructure:"business_type"`
	UserAgent             string  `mapstructure:"user_agent"`
	AcceptLanguage        string  `mapstructure:"accept_language"`
	PageSize              int     `mapstructure:"page_size"`
	MaxRetries            int     `mapstructure:"max_retries"`
	RateLimitCapSeconds   int     `mapstructure:"rate_limit_cap_seconds"`
	RequestTimeoutSeconds int     `mapstructure:"request_timeout_seconds"`
	TransportBackoffSecs  int     `mapstructure:"transport_backoff_seconds"`
	ServerBackoffSecs     int     `mapstructure:"server_backoff_seconds"`
	PageDelayMinMs        int     `mapstructure:"page_delay_min_ms"`
	PageDelayMaxMs        int     `mapstructure:"page_delay_max_ms"`
	ExtraDelayChance      float64 `mapstructure:"extra_delay_chance"`
	LongDelayChance       float64 `mapstructure:"long_delay_chance"`
	ItemCap               int     `mapstructure:"item_cap"`
	MaxRequestsPerSecond  float64 `mapstructure:"max_requests_per_second"`
	SessionMode           string  `mapstructure:"session_mode"`
	NavTimeoutSeconds     int     `mapstructure:"nav_timeout_seconds"`
}

// QueueConfig selects and tunes the work queue.
type QueueConfig struct {
	Provider                 string `mapstructure:"provider"`
	RedisAddr                string `mapstructure:"redis_addr"`
	RedisPrefix              string `mapstructure:"redis_prefix"`
	VisibilityTimeoutSeconds int    `mapstructure:"visibility_timeout_seconds"`
	WaitSeconds              int    `mapstructure:"wait_seconds"`
}

// DispatcherConfig controls the poll loop pacing.
type DispatcherConfig struct {
	UnitDelayMinSeconds int `mapstructure:"unit_delay_min_seconds"`
	UnitDelayMaxSeconds int `mapstructure:"unit_delay_max_seconds"`
	DrainRecheckSeconds int `mapstructure:"drain_recheck_seconds"`
	ErrorPauseSeconds   int `mapstructure:"error_pause_seconds"`
}

// PublisherConfig selects where outcome events are published.
type PublisherConfig struct {
	Provider  string `mapstructure:"provider"`
	Topic     string `mapstructure:"topic"`
	ProjectID string `mapstructure:"project_id"`
	Brokers   string `mapstructure:"brokers"`
}

// LedgerConfig controls the optional Postgres outcome ledger. An empty DSN disables it.
type LedgerConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// ArchiveConfig selects where finished logs are copied.
type ArchiveConfig struct {
	Provider string `mapstructure:"provider"`
	BaseDir  string `mapstructure:"base_dir"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
}

// TelemetryConfig toggles tracing. Exporter "log" writes ended spans through
// the logger; "none" samples spans without exporting them.
type TelemetryConfig struct {
	TracingEnabled bool   `mapstructure:"tracing_enabled"`
	ServiceName    string `mapstructure:"service_name"`
	Exporter       string `mapstructure:"exporter"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Storage.resolveDirs()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	defaults := review.DefaultConfig()

	v.SetDefault("server.port", 0)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("storage.base_dir", "harvest_data")
	v.SetDefault("storage.chunk_size", 1024)
	v.SetDefault("claim.backend", "fs")
	v.SetDefault("claim.lock_staleness_seconds", 1200)
	v.SetDefault("claim.redis_prefix", "harvester:")
	v.SetDefault("harvest.endpoint", defaults.Endpoint)
	v.SetDefault("harvest.origin", defaults.Origin)
	v.SetDefault("harvest.business_type", defaults.BusinessType)
	v.SetDefault("harvest.user_agent", defaults.UserAgent)
	v.SetDefault("harvest.accept_language", defaults.AcceptLanguage)
	v.SetDefault("harvest.page_size", defaults.PageSize)
	v.SetDefault("harvest.max_retries", defaults.MaxRetries)
	v.SetDefault("harvest.rate_limit_cap_seconds", 540)
	v.SetDefault("harvest.request_timeout_seconds", 10)
	v.SetDefault("harvest.transport_backoff_seconds", 3)
	v.SetDefault("harvest.server_backoff_seconds", 5)
	v.SetDefault("harvest.page_delay_min_ms", 2000)
	v.SetDefault("harvest.page_delay_max_ms", 4000)
	v.SetDefault("harvest.extra_delay_chance", defaults.Pacing.ExtraChance)
	v.SetDefault("harvest.long_delay_chance", defaults.Pacing.LongChance)
	v.SetDefault("harvest.item_cap", 10000)
	v.SetDefault("harvest.max_requests_per_second", 0)
	v.SetDefault("harvest.session_mode", "http")
	v.SetDefault("harvest.nav_timeout_seconds", 45)
	v.SetDefault("queue.provider", "memory")
	v.SetDefault("queue.redis_prefix", "harvester:queue:")
	v.SetDefault("queue.visibility_timeout_seconds", 3600)
	v.SetDefault("queue.wait_seconds", 20)
	v.SetDefault("dispatcher.unit_delay_min_seconds", 25)
	v.SetDefault("dispatcher.unit_delay_max_seconds", 35)
	v.SetDefault("dispatcher.drain_recheck_seconds", 30)
	v.SetDefault("dispatcher.error_pause_seconds", 10)
	v.SetDefault("publisher.provider", "none")
	v.SetDefault("publisher.topic", "unit-outcomes")
	v.SetDefault("ledger.table", "unit_outcomes")
	v.SetDefault("ledger.max_conns", 4)
	v.SetDefault("archive.provider", "none")
	v.SetDefault("archive.prefix", "archive")
	v.SetDefault("telemetry.tracing_enabled", false)
	v.SetDefault("telemetry.service_name", "review-harvester")
	v.SetDefault("telemetry.exporter", "log")

	// Registered so AutomaticEnv can override them.
	for _, key := range []string{
		"storage.review_dir", "storage.lock_dir", "storage.marker_dir",
		"claim.redis_addr", "queue.redis_addr",
		"publisher.project_id", "publisher.brokers",
		"ledger.dsn", "archive.base_dir", "archive.bucket",
	} {
		v.SetDefault(key, "")
	}
}

// resolveDirs places unset directories under BaseDir.
func (s *StorageConfig) resolveDirs() {
	if s.ReviewDir == "" {
		s.ReviewDir = filepath.Join(s.BaseDir, "reviews")
	}
	if s.LockDir == "" {
		s.LockDir = filepath.Join(s.BaseDir, "locks")
	}
	if s.MarkerDir == "" {
		s.MarkerDir = filepath.Join(s.BaseDir, "markers")
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port < 0 {
		return fmt.Errorf("server.port must be >= 0")
	}
	if strings.TrimSpace(c.Storage.BaseDir) == "" {
		return fmt.Errorf("storage.base_dir is required")
	}
	switch c.Claim.Backend {
	case "fs":
	case "redis":
		if c.Claim.RedisAddr == "" {
			return fmt.Errorf("claim.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("claim.backend must be fs or redis, got %q", c.Claim.Backend)
	}
	if c.Claim.LockStalenessSeconds <= 0 {
		return fmt.Errorf("claim.lock_staleness_seconds must be > 0")
	}
	if c.Harvest.PageSize <= 0 {
		return fmt.Errorf("harvest.page_size must be > 0")
	}
	if c.Harvest.MaxRetries <= 0 {
		return fmt.Errorf("harvest.max_retries must be > 0")
	}
	if c.Harvest.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("harvest.request_timeout_seconds must be > 0")
	}
	if c.Harvest.PageDelayMaxMs < c.Harvest.PageDelayMinMs {
		return fmt.Errorf("harvest.page_delay_max_ms must be >= page_delay_min_ms")
	}
	if c.Harvest.SessionMode != "http" && c.Harvest.SessionMode != "chromedp" {
		return fmt.Errorf("harvest.session_mode must be http or chromedp, got %q", c.Harvest.SessionMode)
	}
	switch c.Queue.Provider {
	case "none", "memory":
	case "redis":
		if c.Queue.RedisAddr == "" {
			return fmt.Errorf("queue.redis_addr is required for the redis provider")
		}
	default:
		return fmt.Errorf("queue.provider must be none, memory or redis, got %q", c.Queue.Provider)
	}
	if c.Queue.VisibilityTimeoutSeconds <= 0 {
		return fmt.Errorf("queue.visibility_timeout_seconds must be > 0")
	}
	if c.Dispatcher.UnitDelayMaxSeconds < c.Dispatcher.UnitDelayMinSeconds {
		return fmt.Errorf("dispatcher.unit_delay_max_seconds must be >= unit_delay_min_seconds")
	}
	switch c.Publisher.Provider {
	case "none", "memory":
	case "pubsub":
		if c.Publisher.ProjectID == "" || c.Publisher.Topic == "" {
			return fmt.Errorf("publisher.project_id and publisher.topic are required for pubsub")
		}
	case "kafka":
		if c.Publisher.Brokers == "" || c.Publisher.Topic == "" {
			return fmt.Errorf("publisher.brokers and publisher.topic are required for kafka")
		}
	default:
		return fmt.Errorf("publisher.provider must be none, memory, pubsub or kafka, got %q", c.Publisher.Provider)
	}
	switch c.Archive.Provider {
	case "none", "memory":
	case "local":
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir is required for the local provider")
		}
	case "gcs":
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket is required for the gcs provider")
		}
	default:
		return fmt.Errorf("archive.provider must be none, memory, local or gcs, got %q", c.Archive.Provider)
	}
	if c.Telemetry.Exporter != "none" && c.Telemetry.Exporter != "log" {
		return fmt.Errorf("telemetry.exporter must be none or log, got %q", c.Telemetry.Exporter)
	}
	return nil
}

// LockStaleness is the age after which a lock may be taken over.
func (c ClaimConfig) LockStaleness() time.Duration {
	return time.Duration(c.LockStalenessSeconds) * time.Second
}

// ClientConfig converts the harvest section into the review client config.
// The ranges of the pacing extras keep their production values.
func (h HarvestConfig) ClientConfig() review.Config {
	cfg := review.DefaultConfig()
	cfg.Endpoint = h.Endpoint
	cfg.Origin = h.Origin
	cfg.BusinessType = h.BusinessType
	cfg.UserAgent = h.UserAgent
	cfg.AcceptLanguage = h.AcceptLanguage
	cfg.PageSize = h.PageSize
	cfg.MaxRetries = h.MaxRetries
	cfg.RateLimitCap = seconds(h.RateLimitCapSeconds)
	cfg.RequestTimeout = seconds(h.RequestTimeoutSeconds)
	cfg.TransportBackoff = seconds(h.TransportBackoffSecs)
	cfg.ServerBackoff = seconds(h.ServerBackoffSecs)
	cfg.MaxRequestsPerSecond = h.MaxRequestsPerSecond
	cfg.Pacing.Min = time.Duration(h.PageDelayMinMs) * time.Millisecond
	cfg.Pacing.Max = time.Duration(h.PageDelayMaxMs) * time.Millisecond
	cfg.Pacing.ExtraChance = h.ExtraDelayChance
	cfg.Pacing.LongChance = h.LongDelayChance
	return cfg
}

// DispatcherConfig converts the queue and dispatcher sections into the loop config.
func (c Config) DispatcherConfig(maxUnits int) dispatcher.Config {
	return dispatcher.Config{
		ItemCap:      c.Harvest.ItemCap,
		Wait:         seconds(c.Queue.WaitSeconds),
		UnitDelayMin: seconds(c.Dispatcher.UnitDelayMinSeconds),
		UnitDelayMax: seconds(c.Dispatcher.UnitDelayMaxSeconds),
		DrainRecheck: seconds(c.Dispatcher.DrainRecheckSeconds),
		ErrorPause:   seconds(c.Dispatcher.ErrorPauseSeconds),
		MaxUnits:     maxUnits,
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
