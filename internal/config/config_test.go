package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "foundry.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMinimalConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "version: \"1.0\"\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "default", cfg.Instance)
	assert.Equal(t, ":8400", cfg.Server.ListenAddr)
	assert.Equal(t, "redis", cfg.Checkpoint.Backend)
	assert.Equal(t, 10, *cfg.Pipeline.MaxIterations)
	assert.Equal(t, 5, *cfg.Pipeline.LoopMinIterations)
	assert.Equal(t, 3, *cfg.Pipeline.LoopRepeatThreshold)
	assert.Equal(t, 10, *cfg.Pipeline.LoopWindow)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.InDelta(t, 0.7, float64(*cfg.LLM.Temperature), 0.001)
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
version: "1.0"
instance: staging
server:
  listen_addr: ":9000"
checkpoint:
  backend: redis
  redis_url: redis://localhost:6380/1
pipeline:
  max_iterations: 4
  loop_min_iterations: 2
  loop_repeat_threshold: 2
  loop_window: 6
llm:
  model: gpt-4o
  temperature: 0.2
  advisor_enabled: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Instance)
	assert.Equal(t, ":9000", cfg.Server.ListenAddr)
	assert.Equal(t, 4, *cfg.Pipeline.MaxIterations)
	assert.True(t, cfg.LLM.AdvisorEnabled)

	url, err := cfg.RedisURL()
	require.NoError(t, err)
	assert.Equal(t, "redis://localhost:6380/1", url)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "wrong version",
			yaml:    "version: \"2.0\"\n",
			wantErr: "unsupported version",
		},
		{
			name:    "unknown backend",
			yaml:    "version: \"1.0\"\ncheckpoint:\n  backend: sqlite\n",
			wantErr: "unknown checkpoint backend",
		},
		{
			name:    "memory backend without opt-in",
			yaml:    "version: \"1.0\"\ncheckpoint:\n  backend: memory\n",
			wantErr: "allow_volatile",
		},
		{
			name:    "zero max iterations",
			yaml:    "version: \"1.0\"\npipeline:\n  max_iterations: 0\n",
			wantErr: "max_iterations",
		},
		{
			name:    "window smaller than threshold",
			yaml:    "version: \"1.0\"\npipeline:\n  loop_window: 2\n",
			wantErr: "loop_window",
		},
		{
			name:    "temperature out of range",
			yaml:    "version: \"1.0\"\nllm:\n  temperature: 3.5\n",
			wantErr: "temperature",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMemoryBackendWithOptIn(t *testing.T) {
	path := writeConfig(t, "version: \"1.0\"\ncheckpoint:\n  backend: memory\n  allow_volatile: true\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Checkpoint.Backend)

	url, err := cfg.RedisURL()
	require.NoError(t, err)
	assert.Equal(t, "", url, "memory backend needs no redis")
}

func TestRedisURLEnvOverride(t *testing.T) {
	t.Setenv("FOUNDRY_REDIS_URL", "redis://override:6379")

	cfg := Default()
	url, err := cfg.RedisURL()
	require.NoError(t, err)
	assert.Equal(t, "redis://override:6379", url)
}

func TestRedisURLRequiredForRedisBackend(t *testing.T) {
	t.Setenv("FOUNDRY_REDIS_URL", "")

	cfg := Default()
	_, err := cfg.RedisURL()
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	assert.Error(t, err)
}
