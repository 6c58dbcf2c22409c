// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Blueprints BlueprintsConfig `mapstructure:"blueprints"`
	Stealth    StealthConfig    `mapstructure:"stealth"`
	Gate       GateConfig       `mapstructure:"gate"`
	Browser    BrowserConfig    `mapstructure:"browser"`
	Vision     VisionConfig     `mapstructure:"vision"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Providers  ProvidersConfig  `mapstructure:"providers"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Storage    StorageConfig    `mapstructure:"storage"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// QueueConfig selects and tunes the mission queue backend.
type QueueConfig struct {
	// Backend is "memory" or "redis".
	Backend          string `mapstructure:"backend"`
	Capacity         int    `mapstructure:"capacity"`
	ResultTTLSeconds int    `mapstructure:"result_ttl_seconds"`
}

// RedisConfig is shared by the redis queue and status backends.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// BlueprintsConfig selects the blueprint store backend.
type BlueprintsConfig struct {
	// Backend is "memory" or "postgres".
	Backend  string `mapstructure:"backend"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	SeedFile string `mapstructure:"seed_file"`
}

// StealthConfig governs the identity pool.
type StealthConfig struct {
	ProxyURLs        []string `mapstructure:"proxy_urls"`
	StickyTTLSeconds int      `mapstructure:"sticky_ttl_seconds"`
}

// GateConfig controls the startup trust gate.
type GateConfig struct {
	Enabled            bool    `mapstructure:"enabled"`
	ScoreURL           string  `mapstructure:"score_url"`
	TargetScore        float64 `mapstructure:"target_score"`
	SettleDelaySeconds int     `mapstructure:"settle_delay_seconds"`
	TimeoutSeconds     int     `mapstructure:"timeout_seconds"`
}

// BrowserConfig tunes the headless browser fleet.
type BrowserConfig struct {
	MaxSessions       int  `mapstructure:"max_sessions"`
	NavTimeoutSeconds int  `mapstructure:"nav_timeout_seconds"`
	Headful           bool `mapstructure:"headful"`
}

// VisionConfig points at the vision oracle service.
type VisionConfig struct {
	BaseURL             string  `mapstructure:"base_url"`
	RPCTimeoutSeconds   int     `mapstructure:"rpc_timeout_seconds"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
}

// WorkerConfig sizes and tunes the worker pool.
type WorkerConfig struct {
	Count              int    `mapstructure:"count"`
	DequeueWaitSeconds int    `mapstructure:"dequeue_wait_seconds"`
	MaxAttempts        int    `mapstructure:"max_attempts"`
	VisionFallback     bool   `mapstructure:"vision_fallback"`
	ResultTopic        string `mapstructure:"result_topic"`
}

// ProvidersConfig governs per-provider pacing.
type ProvidersConfig struct {
	QPS float64 `mapstructure:"qps"`
}

// DispatchConfig tunes the producer-side facade.
type DispatchConfig struct {
	AwaitTimeoutSeconds int `mapstructure:"await_timeout_seconds"`
}

// TelemetryConfig sizes the event hub.
type TelemetryConfig struct {
	BufferSize     int `mapstructure:"buffer_size"`
	MaxBatchEvents int `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int `mapstructure:"max_batch_wait_ms"`
}

// StorageConfig sets the artifact destination.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for downstream result notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CHIMERA")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.capacity", 256)
	v.SetDefault("queue.result_ttl_seconds", 600)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("blueprints.backend", "memory")
	v.SetDefault("stealth.sticky_ttl_seconds", 600)
	v.SetDefault("gate.enabled", true)
	v.SetDefault("gate.score_url", "https://fingerprint-score.example.com/")
	v.SetDefault("gate.target_score", 100)
	v.SetDefault("gate.settle_delay_seconds", 8)
	v.SetDefault("gate.timeout_seconds", 90)
	v.SetDefault("browser.max_sessions", 4)
	v.SetDefault("browser.nav_timeout_seconds", 45)
	v.SetDefault("vision.rpc_timeout_seconds", 15)
	v.SetDefault("vision.confidence_threshold", 0.75)
	v.SetDefault("worker.count", 2)
	v.SetDefault("worker.dequeue_wait_seconds", 5)
	v.SetDefault("worker.max_attempts", 3)
	v.SetDefault("worker.vision_fallback", true)
	v.SetDefault("worker.result_topic", "mission-results")
	v.SetDefault("providers.qps", 0.5)
	v.SetDefault("dispatch.await_timeout_seconds", 120)
	v.SetDefault("telemetry.buffer_size", 4096)
	v.SetDefault("telemetry.max_batch_events", 500)
	v.SetDefault("telemetry.max_batch_wait_ms", 250)
	v.SetDefault("storage.prefix", "screenshots")
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Queue.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("queue.backend must be memory or redis, got %q", c.Queue.Backend)
	}
	if c.Queue.Backend == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr must be set when queue.backend is redis")
	}
	switch c.Blueprints.Backend {
	case "memory", "postgres":
	default:
		return fmt.Errorf("blueprints.backend must be memory or postgres, got %q", c.Blueprints.Backend)
	}
	if c.Blueprints.Backend == "postgres" && c.Blueprints.DSN == "" {
		return fmt.Errorf("blueprints.dsn must be set when blueprints.backend is postgres")
	}
	if c.Gate.Enabled && c.Gate.ScoreURL == "" {
		return fmt.Errorf("gate.score_url must be set when the gate is enabled")
	}
	if c.Vision.BaseURL == "" {
		return fmt.Errorf("vision.base_url is required")
	}
	if c.Vision.ConfidenceThreshold <= 0 || c.Vision.ConfidenceThreshold > 1 {
		return fmt.Errorf("vision.confidence_threshold must be in (0, 1]")
	}
	if c.Worker.Count <= 0 {
		return fmt.Errorf("worker.count must be > 0")
	}
	if c.Worker.MaxAttempts <= 0 {
		return fmt.Errorf("worker.max_attempts must be > 0")
	}
	return nil
}

// Duration helpers so callers never multiply seconds by time.Second inline.

func (c Config) ResultTTL() time.Duration {
	return time.Duration(c.Queue.ResultTTLSeconds) * time.Second
}

func (c Config) StickyTTL() time.Duration {
	return time.Duration(c.Stealth.StickyTTLSeconds) * time.Second
}

func (c Config) GateSettleDelay() time.Duration {
	return time.Duration(c.Gate.SettleDelaySeconds) * time.Second
}

func (c Config) GateTimeout() time.Duration {
	return time.Duration(c.Gate.TimeoutSeconds) * time.Second
}

func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Browser.NavTimeoutSeconds) * time.Second
}

func (c Config) VisionRPCTimeout() time.Duration {
	return time.Duration(c.Vision.RPCTimeoutSeconds) * time.Second
}

func (c Config) DequeueWait() time.Duration {
	return time.Duration(c.Worker.DequeueWaitSeconds) * time.Second
}

func (c Config) AwaitTimeout() time.Duration {
	return time.Duration(c.Dispatch.AwaitTimeoutSeconds) * time.Second
}

func (c Config) ServerTimeout() time.Duration {
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}

func (c Config) MaxBatchWait() time.Duration {
	return time.Duration(c.Telemetry.MaxBatchWaitMs) * time.Millisecond
}
