package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = ".pseudostream"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for pseudostream settings.
const envPrefix = "PSEUDOSTREAM"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// LoadConfig loads configuration from file, env vars, and defaults.
// If configPath is non-empty, it is used as the explicit config file path.
// Otherwise, the config file is searched in CWD and $HOME.
// Missing config file is not an error; defaults are used.
func LoadConfig(configPath string) (*Config, error) {
	return LoadConfigWithOverrides(configPath, Overrides{})
}

// LoadConfigWithOverrides is LoadConfig with command-line overrides applied
// on top of the file and environment layers, before validation.
//
// With strict_config set, any invalid value fails the load. Otherwise each
// invalid field falls back to its default and the violation is kept in
// Config.Problems.
func LoadConfigWithOverrides(configPath string, overrides Overrides) (*Config, error) {
	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	cfg.Apply(overrides)

	if cfg.StrictConfig {
		validateErr := cfg.Validate()
		if validateErr != nil {
			return nil, fmt.Errorf("validate config: %w", validateErr)
		}

		return &cfg, nil
	}

	cfg.Repair()

	return &cfg, nil
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("chunk_size", DefaultChunkSize)
	viperCfg.SetDefault("abort_on_error", DefaultAbortOnError)
	viperCfg.SetDefault("strict_config", DefaultStrictConfig)
	viperCfg.SetDefault("parse_cache_bytes", DefaultParseCacheBytes)

	viperCfg.SetDefault("adaptive_chunking_enabled", DefaultAdaptiveEnabled)
	viperCfg.SetDefault("adaptive_target_latency_ms", DefaultAdaptiveTargetLatencyMS)
	viperCfg.SetDefault("adaptive_min_chunk_size", DefaultAdaptiveMinChunkSize)
	viperCfg.SetDefault("adaptive_max_chunk_size", DefaultAdaptiveMaxChunkSize)
	viperCfg.SetDefault("adaptive_hysteresis_pct", DefaultAdaptiveHysteresisPct)
	viperCfg.SetDefault("adaptive_cooldown_chunks", DefaultAdaptiveCooldownChunks)
	viperCfg.SetDefault("adaptive_smoothing_alpha", DefaultAdaptiveSmoothingAlpha)
	viperCfg.SetDefault("adaptive_step_pct", DefaultAdaptiveStepPct)
	viperCfg.SetDefault("adaptive_initial_chunk_size", DefaultAdaptiveInitialChunkSize)
	viperCfg.SetDefault("adaptive_tokens_per_second", DefaultAdaptiveTokensPerSecond)

	viperCfg.SetDefault("process_pool_enabled", DefaultPoolEnabled)
	viperCfg.SetDefault("process_pool_max_workers", DefaultPoolMaxWorkers)
	viperCfg.SetDefault("process_pool_target", DefaultPoolTarget)
	viperCfg.SetDefault("process_pool_task_timeout_ms", DefaultPoolTaskTimeoutMS)
	viperCfg.SetDefault("process_pool_job_max_chars", DefaultPoolJobMaxChars)
	viperCfg.SetDefault("process_pool_start_method", DefaultPoolStartMethod)
	viperCfg.SetDefault("process_pool_retry_on_timeout", DefaultPoolRetryOnTimeout)
	viperCfg.SetDefault("process_pool_retry_limit", DefaultPoolRetryLimit)

	viperCfg.SetDefault("logging.level", DefaultLogLevel)
	viperCfg.SetDefault("logging.format", DefaultLogFormat)

	viperCfg.SetDefault("telemetry.otlp_endpoint", DefaultOTLPEndpoint)
	viperCfg.SetDefault("telemetry.otlp_headers", DefaultOTLPHeaders)
	viperCfg.SetDefault("telemetry.otlp_insecure", DefaultOTLPInsecure)
	viperCfg.SetDefault("telemetry.prometheus", DefaultPrometheus)
	viperCfg.SetDefault("telemetry.diagnostics_addr", DefaultDiagnosticsAddr)
}
