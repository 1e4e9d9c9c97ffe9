package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/pseudostream/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "pseudostream.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func TestLoadConfig_FileValues(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
chunk_size: 800
adaptive_chunking_enabled: true
adaptive_target_latency_ms: 250
adaptive_smoothing_alpha: 0.5
process_pool_enabled: true
process_pool_max_workers: 3
process_pool_target: parse_only
logging:
  level: debug
  format: json
telemetry:
  prometheus: true
`)

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 800, cfg.ChunkSize)
	assert.True(t, cfg.Adaptive.Enabled)
	assert.InDelta(t, 250.0, cfg.Adaptive.TargetLatencyMS, 1e-9)
	assert.InDelta(t, 0.5, cfg.Adaptive.SmoothingAlpha, 1e-9)
	assert.True(t, cfg.Pool.Enabled)
	assert.Equal(t, 3, cfg.Pool.MaxWorkers)
	assert.Equal(t, config.TargetParseOnly, cfg.Pool.Target)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, config.LogFormatJSON, cfg.Logging.Format)
	assert.True(t, cfg.Telemetry.Prometheus)
	assert.Empty(t, cfg.Problems)

	// Untouched keys keep defaults.
	assert.Equal(t, config.DefaultAdaptiveMinChunkSize, cfg.Adaptive.MinChunkSize)
	assert.Equal(t, config.DefaultPoolRetryLimit, cfg.Pool.RetryLimit)
	assert.True(t, cfg.Pool.RetryOnTimeout)
}

func TestLoadConfig_MalformedFile_ReturnsError(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "chunk_size: [1, 2\n")

	_, err := config.LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoadConfig_Lenient_FallsBackPerField(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
adaptive_min_chunk_size: 900
adaptive_max_chunk_size: 100
adaptive_cooldown_chunks: 5
`)

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	require.Len(t, cfg.Problems, 1)
	require.ErrorIs(t, cfg.Problems[0], config.ErrInvalidChunkBounds)
	assert.Equal(t, config.DefaultAdaptiveMinChunkSize, cfg.Adaptive.MinChunkSize)
	assert.Equal(t, config.DefaultAdaptiveMaxChunkSize, cfg.Adaptive.MaxChunkSize)
	assert.Equal(t, 5, cfg.Adaptive.CooldownChunks)
}

func TestLoadConfig_Strict_FailsOnInvalidValue(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
strict_config: true
adaptive_smoothing_alpha: 0
`)

	_, err := config.LoadConfig(path)
	require.ErrorIs(t, err, config.ErrInvalidSmoothingAlpha)
}

func TestLoadConfigWithOverrides_StrictFlag(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "process_pool_retry_limit: -1\n")
	strict := true

	_, err := config.LoadConfigWithOverrides(path, config.Overrides{Strict: &strict})
	require.ErrorIs(t, err, config.ErrInvalidRetryLimit)
}

// Uses t.Setenv, so no t.Parallel.
func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "chunk_size: 800\n")

	t.Setenv("PSEUDOSTREAM_CHUNK_SIZE", "1200")
	t.Setenv("PSEUDOSTREAM_PROCESS_POOL_START_METHOD", "exec")
	t.Setenv("PSEUDOSTREAM_LOGGING_LEVEL", "warn")

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 1200, cfg.ChunkSize)
	assert.Equal(t, config.StartMethodExec, cfg.Pool.StartMethod)
	assert.Equal(t, "warn", cfg.Logging.Level)
}
