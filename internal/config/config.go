// Package config loads engine configuration from an optional YAML file and
// the environment, validates it, and initializes the global logger.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvConfigPath names the environment variable holding the YAML config
// file path. Unset means defaults plus environment overrides.
const EnvConfigPath = "PICKLIST_CONFIG"

// envPrefix namespaces environment overrides: PICKLIST_LLM_PROVIDER maps
// to llm_provider, and so on.
const envPrefix = "PICKLIST_"

// LogConfig controls logger construction.
type LogConfig struct {
	// Level is the minimum level: debug, info, warn, error.
	Level string `koanf:"log_level" validate:"omitempty,oneof=debug info warn error"`

	// Format selects json or console output.
	Format string `koanf:"log_format" validate:"omitempty,oneof=json console"`
}

// LLMConfig configures the LLM client and its middleware chain.
type LLMConfig struct {
	// Provider selects the backend: anthropic, openai, or google.
	Provider string `koanf:"llm_provider" validate:"required,oneof=anthropic openai google"`

	// APIKey authenticates with the provider. Usually set via
	// PICKLIST_LLM_API_KEY rather than the config file.
	APIKey string `koanf:"llm_api_key" validate:"required"`

	// Model overrides the provider's default model.
	Model string `koanf:"llm_model"`

	// RequestTimeout bounds each provider request.
	RequestTimeout time.Duration `koanf:"llm_request_timeout" validate:"gt=0"`

	// MaxRetries caps retry attempts per request.
	MaxRetries int `koanf:"llm_max_retries" validate:"gte=0,lte=10"`

	// RetryBaseDelay seeds the exponential backoff.
	RetryBaseDelay time.Duration `koanf:"llm_retry_base_delay" validate:"gt=0"`

	// RetryMaxDelay caps a single backoff wait.
	RetryMaxDelay time.Duration `koanf:"llm_retry_max_delay" validate:"gt=0"`

	// RequestsPerSecond is the sustained rate limit toward the provider.
	RequestsPerSecond float64 `koanf:"llm_requests_per_second" validate:"gt=0"`

	// RateBurst allows short spikes above the sustained rate.
	RateBurst int `koanf:"llm_rate_burst" validate:"gte=1"`
}

// RankingConfig tunes the ranking engine.
type RankingConfig struct {
	// MaxConcurrency bounds in-flight ranking batches.
	MaxConcurrency int `koanf:"ranking_max_concurrency" validate:"gte=1,lte=16"`

	// TokenBudget caps the prompt size of one batch.
	TokenBudget int `koanf:"ranking_token_budget" validate:"gte=500"`

	// ReferenceCount sets how many reference teams anchor each batch.
	ReferenceCount int `koanf:"ranking_reference_count" validate:"gte=2,lte=8"`

	// ResponseMaxTokens caps the generated reply length per batch.
	ResponseMaxTokens int `koanf:"ranking_response_max_tokens" validate:"gte=256"`

	// Temperature is the sampling temperature for ranking requests.
	// Zero keeps rankings as deterministic as the provider allows.
	Temperature float64 `koanf:"ranking_temperature" validate:"gte=0,lte=2"`
}

// Config is the full engine configuration.
type Config struct {
	Log     LogConfig     `koanf:",squash"`
	LLM     LLMConfig     `koanf:",squash"`
	Ranking RankingConfig `koanf:",squash"`

	// DatasetPath locates the scouting dataset snapshot file.
	DatasetPath string `koanf:"dataset_path" validate:"required"`

	// MetricsAddr, when set, serves Prometheus metrics on this address.
	MetricsAddr string `koanf:"metrics_addr"`
}

// defaults returns the baseline configuration before file and environment
// layers apply.
func defaults() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		LLM: LLMConfig{
			Provider:          "anthropic",
			RequestTimeout:    60 * time.Second,
			MaxRetries:        3,
			RetryBaseDelay:    500 * time.Millisecond,
			RetryMaxDelay:     30 * time.Second,
			RequestsPerSecond: 2,
			RateBurst:         4,
		},
		Ranking: RankingConfig{
			MaxConcurrency:    3,
			TokenBudget:       3000,
			ReferenceCount:    3,
			ResponseMaxTokens: 2000,
			Temperature:       0,
		},
	}
}

// Load layers defaults, the optional YAML file named by PICKLIST_CONFIG,
// and PICKLIST_-prefixed environment variables, then validates the result.
func Load() (*Config, error) {
	cfg := defaults()

	k := koanf.New(".")

	if path := os.Getenv(EnvConfigPath); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, eris.Wrapf(err, "config: read %s", path)
		}
	}

	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, eris.Wrap(err, "config: read environment")
	}

	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf", FlatPaths: true}); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, eris.Wrap(err, "config: validate")
	}
	return &cfg, nil
}

// InitLogger builds a zap logger from the log configuration and installs
// it as the process-global logger.
func InitLogger(cfg LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, eris.Wrap(err, "config: parse log level")
		}
		zapCfg.Level.SetLevel(level)
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}
