package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/execdesk/execdesk/internal/common/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeoutDuration())

	assert.Empty(t, cfg.NATS.URL)
	assert.Equal(t, 10000, cfg.Bus.HistoryCapacity)
	assert.Equal(t, 50, cfg.Bus.MaxHistoryLength)
	assert.Empty(t, cfg.Tasks.StorePath)

	assert.Equal(t, 0.4, cfg.Delegation.Threshold)
	assert.Equal(t, 3, cfg.Delegation.MaxDepth)

	assert.Equal(t, 1000, cfg.Knowledge.ChunkSize)
	assert.Equal(t, 200, cfg.Knowledge.ChunkOverlap)
	assert.True(t, cfg.Knowledge.CacheEnabled)

	assert.Greater(t, cfg.LLM.WorkerPoolSize, 0)
	assert.Equal(t, 120*time.Second, cfg.LLM.RequestTimeoutDuration())

	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("EXECDESK_SERVER_PORT", "9090")
	t.Setenv("EXECDESK_DELEGATION_THRESHOLD", "0.6")
	t.Setenv("EXECDESK_MAX_DELEGATION_DEPTH", "5")
	t.Setenv("EXECDESK_WORKER_POOL_SIZE", "2")
	t.Setenv("EXECDESK_LLM_REQUEST_TIMEOUT_SECONDS", "15")
	t.Setenv("EXECDESK_LOGGING_LEVEL", "debug")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 0.6, cfg.Delegation.Threshold)
	assert.Equal(t, 5, cfg.Delegation.MaxDepth)
	assert.Equal(t, 2, cfg.LLM.WorkerPoolSize)
	assert.Equal(t, 15*time.Second, cfg.LLM.RequestTimeoutDuration())
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidationRejectsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"zero port", "EXECDESK_SERVER_PORT", "0"},
		{"port out of range", "EXECDESK_SERVER_PORT", "70000"},
		{"threshold above one", "EXECDESK_DELEGATION_THRESHOLD", "1.5"},
		{"overlap not below chunk size", "EXECDESK_CHUNK_OVERLAP", "1000"},
		{"bad log level", "EXECDESK_LOGGING_LEVEL", "verbose"},
		{"no workers", "EXECDESK_WORKER_POOL_SIZE", "0"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			_, err := config.Load()
			assert.Error(t, err)
		})
	}
}

func TestAPIKeysComeFromEnvironmentOnly(t *testing.T) {
	t.Setenv("EXECDESK_LLM_API_KEY", "")
	t.Setenv("EXECDESK_EMBEDDING_API_KEY", "")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.LLM.APIKey())
	assert.Empty(t, cfg.Knowledge.EmbeddingAPIKey())

	t.Setenv("EXECDESK_LLM_API_KEY", "sk-test-llm")
	t.Setenv("EXECDESK_EMBEDDING_API_KEY", "sk-test-embed")

	assert.Equal(t, "sk-test-llm", cfg.LLM.APIKey())
	assert.Equal(t, "sk-test-embed", cfg.Knowledge.EmbeddingAPIKey())
}
