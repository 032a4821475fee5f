// Package config loads and validates crawl pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	DB         DBConfig         `mapstructure:"db"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Purge      PurgeConfig      `mapstructure:"purge"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Storage    StorageConfig    `mapstructure:"storage"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// DispatcherConfig governs the claim scheduler and the worker socket.
type DispatcherConfig struct {
	Port                     int    `mapstructure:"port"`
	CooldownSeconds          int    `mapstructure:"cooldown_seconds"`
	MaxRetries               int    `mapstructure:"max_retries"`
	InflightTTLSeconds       int    `mapstructure:"inflight_ttl_seconds"`
	SweepIntervalSeconds     int    `mapstructure:"sweep_interval_seconds"`
	LogScanIntervalSeconds   int    `mapstructure:"log_scan_interval_seconds"`
	LogScanPath              string `mapstructure:"log_scan_path"`
	ABCPriorityExtension     string `mapstructure:"abc_priority_extension"`
	HostTimeoutBlockStreak   int    `mapstructure:"host_timeout_block_streak"`
	HostTimeoutReenableHours int    `mapstructure:"host_timeout_reenable_hours"`
}

// Cooldown returns the per-host access cooldown as a duration.
func (d DispatcherConfig) Cooldown() time.Duration {
	return time.Duration(d.CooldownSeconds) * time.Second
}

// InflightTTL returns the claim liveness deadline as a duration.
func (d DispatcherConfig) InflightTTL() time.Duration {
	return time.Duration(d.InflightTTLSeconds) * time.Second
}

// SweepInterval returns the liveness sweep cadence as a duration.
func (d DispatcherConfig) SweepInterval() time.Duration {
	return time.Duration(d.SweepIntervalSeconds) * time.Second
}

// LogScanInterval returns the log scanner cadence as a duration.
func (d DispatcherConfig) LogScanInterval() time.Duration {
	return time.Duration(d.LogScanIntervalSeconds) * time.Second
}

// HostTimeoutReenable returns how long a timeout-disabled host stays blocked.
func (d DispatcherConfig) HostTimeoutReenable() time.Duration {
	return time.Duration(d.HostTimeoutReenableHours) * time.Hour
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
	MinConns int    `mapstructure:"min_conns"`
}

// FetchConfig configures the fetch worker's HTTP behavior.
type FetchConfig struct {
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	UserAgent      string  `mapstructure:"user_agent"`
	IgnoreRobots   bool    `mapstructure:"ignore_robots"`
	PerHostRPS     float64 `mapstructure:"per_host_rps"`
	MaxBodyBytes   int64   `mapstructure:"max_body_bytes"`
}

// Timeout returns the per-request fetch deadline as a duration.
func (f FetchConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutSeconds) * time.Second
}

// WorkerConfig governs how workers talk to the dispatcher.
type WorkerConfig struct {
	DispatcherAddr    string `mapstructure:"dispatcher_addr"`
	IdleMinMs         int    `mapstructure:"idle_min_ms"`
	IdleMaxMs         int    `mapstructure:"idle_max_ms"`
	BackoffMaxSeconds int    `mapstructure:"backoff_max_seconds"`
}

// BackoffMax returns the reconnect backoff ceiling as a duration.
func (w WorkerConfig) BackoffMax() time.Duration {
	return time.Duration(w.BackoffMaxSeconds) * time.Second
}

// PurgeConfig sets the purger cadence and batch sizes.
type PurgeConfig struct {
	IntervalSeconds int `mapstructure:"interval_seconds"`
	DeleteBatch     int `mapstructure:"delete_batch"`
	EraseBatch      int `mapstructure:"erase_batch"`
}

// Interval returns the purge cycle cadence as a duration.
func (p PurgeConfig) Interval() time.Duration {
	return time.Duration(p.IntervalSeconds) * time.Second
}

// SupervisorConfig controls the supervisor HTTP API and process registry.
type SupervisorConfig struct {
	Port   int    `mapstructure:"port"`
	RunDir string `mapstructure:"run_dir"`
}

// StorageConfig selects the archive backend for erased documents. A GCS
// bucket wins over a local directory; with neither set, documents are erased
// without a copy.
type StorageConfig struct {
	GCSBucket   string `mapstructure:"gcs_bucket"`
	LocalDir    string `mapstructure:"local_dir"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// AuthConfig defines supervisor API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TUNECRAWLER")
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

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("dispatcher.port", 8888)
	v.SetDefault("dispatcher.cooldown_seconds", 30)
	v.SetDefault("dispatcher.max_retries", 3)
	v.SetDefault("dispatcher.inflight_ttl_seconds", 120)
	v.SetDefault("dispatcher.sweep_interval_seconds", 20)
	v.SetDefault("dispatcher.log_scan_interval_seconds", 60)
	v.SetDefault("dispatcher.log_scan_path", "")
	v.SetDefault("dispatcher.abc_priority_extension", ".abc")
	v.SetDefault("dispatcher.host_timeout_block_streak", 3)
	v.SetDefault("dispatcher.host_timeout_reenable_hours", 24)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("fetch.timeout_seconds", 30)
	v.SetDefault("fetch.user_agent", "tunecrawler/1.0")
	v.SetDefault("fetch.ignore_robots", false)
	v.SetDefault("fetch.per_host_rps", 1.0)
	v.SetDefault("fetch.max_body_bytes", 10*1024*1024)
	v.SetDefault("worker.dispatcher_addr", "127.0.0.1:8888")
	v.SetDefault("worker.idle_min_ms", 500)
	v.SetDefault("worker.idle_max_ms", 2000)
	v.SetDefault("worker.backoff_max_seconds", 30)
	v.SetDefault("purge.interval_seconds", 60)
	v.SetDefault("purge.delete_batch", 500)
	v.SetDefault("purge.erase_batch", 200)
	v.SetDefault("supervisor.port", 8080)
	v.SetDefault("supervisor.run_dir", "run")
	v.SetDefault("storage.prefix", "documents")
	v.SetDefault("storage.content_type", "text/plain; charset=utf-8")
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Dispatcher.Port <= 0 {
		return fmt.Errorf("dispatcher.port must be > 0")
	}
	if c.Dispatcher.CooldownSeconds < 0 {
		return fmt.Errorf("dispatcher.cooldown_seconds must be >= 0")
	}
	if c.Dispatcher.MaxRetries <= 0 {
		return fmt.Errorf("dispatcher.max_retries must be > 0")
	}
	if c.Dispatcher.InflightTTLSeconds <= 0 {
		return fmt.Errorf("dispatcher.inflight_ttl_seconds must be > 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Worker.IdleMinMs <= 0 || c.Worker.IdleMaxMs < c.Worker.IdleMinMs {
		return fmt.Errorf("worker.idle_min_ms/idle_max_ms must form a positive range")
	}
	if c.Purge.DeleteBatch <= 0 || c.Purge.EraseBatch <= 0 {
		return fmt.Errorf("purge batch sizes must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}
