package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Reasoner ReasonerConfig `yaml:"reasoner" mapstructure:"reasoner"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Profile  ProfileConfig  `yaml:"profile" mapstructure:"profile"`
	Ingest   IngestConfig   `yaml:"ingest" mapstructure:"ingest"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the durable session/knowledge store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// CacheConfig configures the reasoner response cache.
type CacheConfig struct {
	Path     string `yaml:"path" mapstructure:"path"`
	InMemory bool   `yaml:"in_memory" mapstructure:"in_memory"`
}

// ReasonerConfig holds Anthropic API settings for the reasoning capability.
type ReasonerConfig struct {
	Key            string  `yaml:"key" mapstructure:"key"`
	Model          string  `yaml:"model" mapstructure:"model"`
	FallbackModel  string  `yaml:"fallback_model" mapstructure:"fallback_model"`
	MaxTokens      int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	RequestsPerSec float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	Burst          int     `yaml:"burst" mapstructure:"burst"`
}

// PipelineConfig configures routing and review behavior.
type PipelineConfig struct {
	KnowledgeBaseID     string  `yaml:"knowledge_base_id" mapstructure:"knowledge_base_id"`
	MaxReviewRetries    int     `yaml:"max_review_retries" mapstructure:"max_review_retries"`
	AnchorAutoThreshold float64 `yaml:"anchor_auto_threshold" mapstructure:"anchor_auto_threshold"`
	RelationThreshold   float64 `yaml:"relation_threshold" mapstructure:"relation_threshold"`
}

// ProfileConfig configures deterministic file profiling.
type ProfileConfig struct {
	SampleRows       int     `yaml:"sample_rows" mapstructure:"sample_rows"`
	SampleValues     int     `yaml:"sample_values" mapstructure:"sample_values"`
	AnchorMinUnique  float64 `yaml:"anchor_min_unique" mapstructure:"anchor_min_unique"`
	ConfirmThreshold float64 `yaml:"confirm_threshold" mapstructure:"confirm_threshold"`
}

// IngestConfig configures batch ingestion.
type IngestConfig struct {
	MaxConcurrentFiles int `yaml:"max_concurrent_files" mapstructure:"max_concurrent_files"`
}

// ServerConfig configures the webhook server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("KNOWLEDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "knowledge.db")
	v.SetDefault("cache.path", ".knowledge-cache")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("reasoner.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("reasoner.fallback_model", "claude-haiku-4-5-20251001")
	v.SetDefault("reasoner.max_tokens", 2048)
	v.SetDefault("reasoner.requests_per_sec", 2.0)
	v.SetDefault("reasoner.burst", 4)
	v.SetDefault("pipeline.knowledge_base_id", "default")
	v.SetDefault("pipeline.max_review_retries", 3)
	v.SetDefault("pipeline.anchor_auto_threshold", 0.85)
	v.SetDefault("pipeline.relation_threshold", 0.5)
	v.SetDefault("profile.sample_rows", 200)
	v.SetDefault("profile.sample_values", 5)
	v.SetDefault("profile.anchor_min_unique", 0.95)
	v.SetDefault("profile.confirm_threshold", 0.6)
	v.SetDefault("ingest.max_concurrent_files", 4)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
