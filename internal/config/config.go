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
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Vocab     VocabConfig     `yaml:"vocab" mapstructure:"vocab"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the local sqlite database holding source product
// records, cached extractions, and finished records.
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// VocabConfig locates the canonical vocabulary file.
type VocabConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// AnthropicConfig holds extraction capability settings.
type AnthropicConfig struct {
	Key               string  `yaml:"key" mapstructure:"key"`
	Model             string  `yaml:"model" mapstructure:"model"`
	MaxTokens         int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// PipelineConfig holds the thresholds and budgets for matching,
// reconciliation, and extraction retries. Passed explicitly into each stage
// so components stay testable with different settings.
type PipelineConfig struct {
	FuzzyThreshold        float64 `yaml:"fuzzy_threshold" mapstructure:"fuzzy_threshold"`
	AcceptanceThreshold   float64 `yaml:"acceptance_threshold" mapstructure:"acceptance_threshold"`
	AmountTolerance       float64 `yaml:"amount_tolerance" mapstructure:"amount_tolerance"`
	SingleSourceCap       float64 `yaml:"single_source_cap" mapstructure:"single_source_cap"`
	RetryAttempts         int     `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryInitialBackoffMS int     `yaml:"retry_initial_backoff_ms" mapstructure:"retry_initial_backoff_ms"`
	MaxConcurrentProducts int     `yaml:"max_concurrent_products" mapstructure:"max_concurrent_products"`
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
	v.SetEnvPrefix("LABELPARSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.path", "labelparse.db")
	v.SetDefault("vocab.path", "vocab.yaml")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("anthropic.timeout_secs", 60)
	v.SetDefault("anthropic.requests_per_second", 2.0)
	v.SetDefault("pipeline.fuzzy_threshold", 0.85)
	v.SetDefault("pipeline.acceptance_threshold", 0.6)
	v.SetDefault("pipeline.amount_tolerance", 0.05)
	v.SetDefault("pipeline.single_source_cap", 0.9)
	v.SetDefault("pipeline.retry_attempts", 3)
	v.SetDefault("pipeline.retry_initial_backoff_ms", 500)
	v.SetDefault("pipeline.max_concurrent_products", 4)

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
