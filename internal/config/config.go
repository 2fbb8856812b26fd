package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	PoolSize int    `yaml:"pool_size"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type AIConfig struct {
	OpenAIKey     string        `yaml:"openai_key"`
	BaseURL       string        `yaml:"base_url"` // OpenAI-compatible endpoint
	DefaultModel  string        `yaml:"default_model"`
	FallbackModel string        `yaml:"fallback_model"`
	MaxTokens     int           `yaml:"max_tokens"`
	Timeout       time.Duration `yaml:"timeout"`
	// Proxy routes all LLM HTTP traffic through one egress to avoid
	// leaking the host IP next to per-account Telegram proxies.
	Proxy string `yaml:"proxy"`
}

type FleetConfig struct {
	MaxWorkers         int           `yaml:"max_workers"`
	StartSpacing       time.Duration `yaml:"start_spacing"`
	DistributeInterval time.Duration `yaml:"distribute_interval"`
	HealthInterval     time.Duration `yaml:"health_interval"`
	SyncInterval       time.Duration `yaml:"sync_interval"`
	TargetsPerBatch    int           `yaml:"targets_per_batch"`
}

type VaultConfig struct {
	EncryptionKey string `yaml:"encryption_key"` // 16/24/32 bytes
}

type ResultsConfig struct {
	Dir string `yaml:"dir"` // per-campaign target-result files
}

type OpsConfig struct {
	Port int `yaml:"port"`
}

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	AI       AIConfig       `yaml:"ai"`
	Fleet    FleetConfig    `yaml:"fleet"`
	Vault    VaultConfig    `yaml:"vault"`
	Results  ResultsConfig  `yaml:"results"`
	Ops      OpsConfig      `yaml:"ops"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	// defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.PoolSize <= 0 {
		cfg.Database.PoolSize = 10
	}
	if cfg.AI.DefaultModel == "" {
		cfg.AI.DefaultModel = "gpt-4o-mini"
	}
	if cfg.AI.MaxTokens <= 0 {
		cfg.AI.MaxTokens = 300
	}
	if cfg.AI.Timeout <= 0 {
		cfg.AI.Timeout = 30 * time.Second
	}
	if cfg.Fleet.MaxWorkers <= 0 {
		cfg.Fleet.MaxWorkers = 100
	}
	if cfg.Fleet.StartSpacing <= 0 {
		cfg.Fleet.StartSpacing = 500 * time.Millisecond
	}
	if cfg.Fleet.DistributeInterval <= 0 {
		cfg.Fleet.DistributeInterval = 30 * time.Second
	}
	if cfg.Fleet.HealthInterval <= 0 {
		cfg.Fleet.HealthInterval = 60 * time.Second
	}
	if cfg.Fleet.SyncInterval <= 0 {
		cfg.Fleet.SyncInterval = 5 * time.Minute
	}
	if cfg.Fleet.TargetsPerBatch <= 0 {
		cfg.Fleet.TargetsPerBatch = 100
	}
	if cfg.Results.Dir == "" {
		cfg.Results.Dir = "data/targets"
	}
	if cfg.Ops.Port == 0 {
		cfg.Ops.Port = 8080
	}

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	if cfg.AI.OpenAIKey == "" {
		return nil, errors.New("ai.openai_key is required")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}
