// Package config loads service configuration from a YAML file, a .env
// file and the process environment, in that order of precedence.
package config

import (
	"fmt"
	"time"

	"github.com/skillsenselab/scribeflow/internal/analysis"
	"github.com/skillsenselab/scribeflow/internal/analysis/ollama"
	"github.com/skillsenselab/scribeflow/internal/events"
	"github.com/skillsenselab/scribeflow/internal/logger"
	"github.com/skillsenselab/scribeflow/internal/orchestrator"
	"github.com/skillsenselab/scribeflow/internal/quota"
	"github.com/skillsenselab/scribeflow/internal/storage/s3"
	"github.com/skillsenselab/scribeflow/internal/transcription"
	"github.com/skillsenselab/scribeflow/internal/transcription/cloudflare"
	"github.com/skillsenselab/scribeflow/internal/transcription/fasterwhisper"
	"github.com/skillsenselab/scribeflow/internal/transcription/whisper"
)

// Backend selectors for the pluggable layers.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendKafka  = "kafka"
	BackendLocal  = "local"
	BackendS3     = "s3"
)

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// ApplyDefaults applies default values to server configuration.
func (c *ServerConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 15 * time.Second
	}
}

// Addr returns the host:port listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// BreakerConfig configures the shared per-provider circuit breakers.
type BreakerConfig struct {
	MaxFailures int           `yaml:"max_failures" mapstructure:"max_failures"`
	Cooldown    time.Duration `yaml:"cooldown" mapstructure:"cooldown"`
	MaxCooldown time.Duration `yaml:"max_cooldown" mapstructure:"max_cooldown"`
}

// RedisConfig configures the Redis connection for the quota counters.
type RedisConfig struct {
	Addr      string `yaml:"addr" mapstructure:"addr"`
	Password  string `yaml:"password" mapstructure:"password"`
	DB        int    `yaml:"db" mapstructure:"db"`
	KeyPrefix string `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// ApplyDefaults applies default values to Redis configuration.
func (c *RedisConfig) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "scribeflow:quota"
	}
}

// QuotaConfig configures admission quotas and their counter store.
type QuotaConfig struct {
	Backend  string         `yaml:"backend" mapstructure:"backend"`
	Defaults quota.Defaults `yaml:"defaults" mapstructure:"defaults"`
	Redis    RedisConfig    `yaml:"redis" mapstructure:"redis"`
}

// StorageConfig configures the blob storage backend.
type StorageConfig struct {
	Backend  string    `yaml:"backend" mapstructure:"backend"`
	BasePath string    `yaml:"base_path" mapstructure:"base_path"`
	S3       s3.Config `yaml:"s3" mapstructure:"s3"`
}

// ApplyDefaults applies default values to storage configuration.
func (c *StorageConfig) ApplyDefaults() {
	if c.Backend == "" {
		c.Backend = BackendLocal
	}
	if c.BasePath == "" {
		c.BasePath = "./data/blobs"
	}
}

// EventsConfig configures the stage trigger bus.
type EventsConfig struct {
	Backend string             `yaml:"backend" mapstructure:"backend"`
	Buffer  int                `yaml:"buffer" mapstructure:"buffer"`
	Kafka   events.KafkaConfig `yaml:"kafka" mapstructure:"kafka"`
}

// ProvidersConfig configures the transcription and analysis backends.
type ProvidersConfig struct {
	Router        transcription.RouterConfig `yaml:"router" mapstructure:"router"`
	Whisper       whisper.Config             `yaml:"whisper" mapstructure:"whisper"`
	Cloudflare    cloudflare.Config          `yaml:"cloudflare" mapstructure:"cloudflare"`
	FasterWhisper fasterwhisper.Config       `yaml:"fasterwhisper" mapstructure:"fasterwhisper"`
	Ollama        ollama.Config              `yaml:"ollama" mapstructure:"ollama"`
}

// ApplyDefaults applies default values to provider configuration.
func (c *ProvidersConfig) ApplyDefaults() {
	if c.Router.Default == "" {
		c.Router.Default = whisper.ProviderName
	}
	if c.Router.Specialized == "" {
		c.Router.Specialized = cloudflare.ProviderName
	}
	if c.Router.LongForm == "" {
		c.Router.LongForm = fasterwhisper.ProviderName
	}
	c.Router.ApplyDefaults()
}

// Config is the full service configuration.
type Config struct {
	Name        string `yaml:"name" mapstructure:"name"`
	Environment string `yaml:"environment" mapstructure:"environment"`
	Version     string `yaml:"version" mapstructure:"version"`
	Debug       bool   `yaml:"debug" mapstructure:"debug"`

	Logging      logger.Config             `yaml:"logging" mapstructure:"logging"`
	Server       ServerConfig              `yaml:"server" mapstructure:"server"`
	Orchestrator orchestrator.Config       `yaml:"orchestrator" mapstructure:"orchestrator"`
	Breaker      BreakerConfig             `yaml:"breaker" mapstructure:"breaker"`
	Quota        QuotaConfig               `yaml:"quota" mapstructure:"quota"`
	RateLimit    quota.SlidingWindowConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	Providers    ProvidersConfig           `yaml:"providers" mapstructure:"providers"`
	Analysis     analysis.EngineConfig     `yaml:"analysis" mapstructure:"analysis"`
	Storage      StorageConfig             `yaml:"storage" mapstructure:"storage"`
	Events       EventsConfig              `yaml:"events" mapstructure:"events"`
}

// ApplyDefaults applies default values across all sections.
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "scribeflow"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.Environment == "development" {
		c.Debug = true
	}
	c.Logging.ApplyDefaults()
	c.Server.ApplyDefaults()
	c.Orchestrator.ApplyDefaults()
	if c.Breaker.MaxFailures <= 0 {
		c.Breaker.MaxFailures = 5
	}
	if c.Breaker.Cooldown <= 0 {
		c.Breaker.Cooldown = 30 * time.Second
	}
	if c.Breaker.MaxCooldown <= 0 {
		c.Breaker.MaxCooldown = 10 * time.Minute
	}
	if c.Quota.Backend == "" {
		c.Quota.Backend = BackendMemory
	}
	c.Quota.Defaults.ApplyDefaults()
	c.Quota.Redis.ApplyDefaults()
	if c.RateLimit.Requests <= 0 {
		c.RateLimit.Requests = 30
	}
	if c.RateLimit.Window <= 0 {
		c.RateLimit.Window = time.Minute
	}
	c.Providers.ApplyDefaults()
	c.Analysis.ApplyDefaults()
	c.Storage.ApplyDefaults()
	if c.Events.Backend == "" {
		c.Events.Backend = BackendMemory
	}
	if c.Events.Buffer <= 0 {
		c.Events.Buffer = 256
	}
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	switch c.Environment {
	case "development", "staging", "production":
	default:
		return fmt.Errorf("environment must be one of [development, staging, production] (got: %s)", c.Environment)
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	switch c.Quota.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Quota.Redis.Addr == "" {
			return fmt.Errorf("quota.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("quota.backend must be %q or %q (got: %s)", BackendMemory, BackendRedis, c.Quota.Backend)
	}
	switch c.Storage.Backend {
	case BackendLocal:
	case BackendS3:
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("storage.backend must be %q or %q (got: %s)", BackendLocal, BackendS3, c.Storage.Backend)
	}
	switch c.Events.Backend {
	case BackendMemory:
	case BackendKafka:
		if len(c.Events.Kafka.Brokers) == 0 {
			return fmt.Errorf("events.kafka.brokers is required for the kafka backend")
		}
	default:
		return fmt.Errorf("events.backend must be %q or %q (got: %s)", BackendMemory, BackendKafka, c.Events.Backend)
	}
	return nil
}
