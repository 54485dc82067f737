package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()

	if cfg.Name != "scribeflow" {
		t.Errorf("name = %q", cfg.Name)
	}
	if cfg.Environment != "development" || !cfg.Debug {
		t.Errorf("environment = %q debug = %v", cfg.Environment, cfg.Debug)
	}
	if cfg.Breaker.MaxFailures != 5 || cfg.Breaker.Cooldown != 30*time.Second || cfg.Breaker.MaxCooldown != 10*time.Minute {
		t.Errorf("breaker defaults = %+v", cfg.Breaker)
	}
	if cfg.Orchestrator.TranscribeConcurrency != 5 {
		t.Errorf("transcribe concurrency = %d", cfg.Orchestrator.TranscribeConcurrency)
	}
	if cfg.RateLimit.Requests != 30 || cfg.RateLimit.Window != time.Minute {
		t.Errorf("rate limit defaults = %+v", cfg.RateLimit)
	}
	if cfg.Providers.Router.Default != "whisper" || cfg.Providers.Router.LongForm != "fasterwhisper" {
		t.Errorf("router defaults = %+v", cfg.Providers.Router)
	}
	if cfg.Providers.Router.LongFormBytes != 100<<20 {
		t.Errorf("long form threshold = %d", cfg.Providers.Router.LongFormBytes)
	}
	if cfg.Quota.Backend != BackendMemory || cfg.Storage.Backend != BackendLocal || cfg.Events.Backend != BackendMemory {
		t.Errorf("backend defaults = %q/%q/%q", cfg.Quota.Backend, cfg.Storage.Backend, cfg.Events.Backend)
	}
}

func TestValidateBackends(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"redis without addr is fine after defaults", func(c *Config) {
			c.Quota.Backend = BackendRedis
		}, ""},
		{"unknown quota backend", func(c *Config) {
			c.Quota.Backend = "etcd"
		}, "quota.backend"},
		{"s3 requires bucket", func(c *Config) {
			c.Storage.Backend = BackendS3
		}, "storage.s3.bucket"},
		{"kafka requires brokers", func(c *Config) {
			c.Events.Backend = BackendKafka
		}, "events.kafka.brokers"},
		{"bad environment", func(c *Config) {
			c.Environment = "qa"
		}, "environment"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			cfg.ApplyDefaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yml")
	yaml := `
name: scribeflow
environment: production
server:
  port: 9090
quota:
  backend: redis
  redis:
    addr: redis.internal:6379
providers:
  router:
    specialized_languages: ["ja", "ko"]
`
	if err := os.WriteFile(configFile, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("SCRIBEFLOW_SERVER_PORT", "9191")

	var cfg Config
	if err := Load(&cfg, WithConfigFile(configFile)); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Environment != "production" {
		t.Errorf("environment = %q", cfg.Environment)
	}
	if cfg.Server.Port != 9191 {
		t.Errorf("port = %d, want env override 9191", cfg.Server.Port)
	}
	if cfg.Quota.Backend != BackendRedis || cfg.Quota.Redis.Addr != "redis.internal:6379" {
		t.Errorf("quota = %+v", cfg.Quota)
	}
	if len(cfg.Providers.Router.SpecializedLanguages) != 2 {
		t.Errorf("specialized languages = %v", cfg.Providers.Router.SpecializedLanguages)
	}
	// Untouched sections still get defaults.
	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("read timeout = %s", cfg.Server.ReadTimeout)
	}
}

func TestLoadMissingFilesUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(cwd) })

	var cfg Config
	if err := Load(&cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Name != "scribeflow" || cfg.Server.Port != 8080 {
		t.Errorf("defaults not applied: name=%q port=%d", cfg.Name, cfg.Server.Port)
	}
}
