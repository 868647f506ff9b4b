package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

// setRequiredEnv satisfies the required fields so tests can probe one
// layer at a time. t.Setenv restores the previous values on cleanup.
func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv(EnvConfigPath, "")
	t.Setenv("PICKLIST_LLM_API_KEY", "test-key")
	t.Setenv("PICKLIST_DATASET_PATH", "/data/snapshot.json")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "test-key", cfg.LLM.APIKey)
	assert.Equal(t, 60*time.Second, cfg.LLM.RequestTimeout)
	assert.Equal(t, 3, cfg.LLM.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.LLM.RetryBaseDelay)
	assert.Equal(t, 30*time.Second, cfg.LLM.RetryMaxDelay)
	assert.Equal(t, 2.0, cfg.LLM.RequestsPerSecond)
	assert.Equal(t, 4, cfg.LLM.RateBurst)
	assert.Equal(t, 3, cfg.Ranking.MaxConcurrency)
	assert.Equal(t, 3000, cfg.Ranking.TokenBudget)
	assert.Equal(t, 3, cfg.Ranking.ReferenceCount)
	assert.Equal(t, 2000, cfg.Ranking.ResponseMaxTokens)
	assert.Equal(t, "/data/snapshot.json", cfg.DatasetPath)
	assert.Empty(t, cfg.MetricsAddr)
}

func TestLoadEnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PICKLIST_LLM_PROVIDER", "openai")
	t.Setenv("PICKLIST_LLM_REQUEST_TIMEOUT", "90s")
	t.Setenv("PICKLIST_RANKING_TOKEN_BUDGET", "5000")
	t.Setenv("PICKLIST_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, 90*time.Second, cfg.LLM.RequestTimeout)
	assert.Equal(t, 5000, cfg.Ranking.TokenBudget)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadFileLayer(t *testing.T) {
	setRequiredEnv(t)

	path := filepath.Join(t.TempDir(), "picklist.yaml")
	contents := "llm_model: claude-sonnet-4\nranking_max_concurrency: 5\nmetrics_addr: :9090\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	t.Setenv(EnvConfigPath, path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "claude-sonnet-4", cfg.LLM.Model)
	assert.Equal(t, 5, cfg.Ranking.MaxConcurrency)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
}

func TestLoadEnvBeatsFile(t *testing.T) {
	setRequiredEnv(t)

	path := filepath.Join(t.TempDir(), "picklist.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm_provider: google\n"), 0o600))
	t.Setenv(EnvConfigPath, path)
	t.Setenv("PICKLIST_LLM_PROVIDER", "openai")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.LLM.Provider)
}

func TestLoadMissingFile(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv(EnvConfigPath, filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := Load()
	assert.ErrorContains(t, err, "config: read")
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"missing api key", "PICKLIST_LLM_API_KEY", ""},
		{"unknown provider", "PICKLIST_LLM_PROVIDER", "cohere"},
		{"concurrency too high", "PICKLIST_RANKING_MAX_CONCURRENCY", "64"},
		{"budget too small", "PICKLIST_RANKING_TOKEN_BUDGET", "100"},
		{"bad log level", "PICKLIST_LOG_LEVEL", "verbose"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			assert.ErrorContains(t, err, "config: validate")
		})
	}
}

func TestInitLogger(t *testing.T) {
	t.Run("console at debug", func(t *testing.T) {
		logger, err := InitLogger(LogConfig{Level: "debug", Format: "console"})
		require.NoError(t, err)
		assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("json defaults to info", func(t *testing.T) {
		logger, err := InitLogger(LogConfig{Format: "json"})
		require.NoError(t, err)
		assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
		assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
	})

	t.Run("bad level", func(t *testing.T) {
		_, err := InitLogger(LogConfig{Level: "loud"})
		assert.ErrorContains(t, err, "parse log level")
	})
}
