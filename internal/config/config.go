// Package config resolves the layered runtime configuration (defaults, file,
// environment) into an immutable snapshot for the streaming core.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config is the resolved configuration snapshot.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	ChunkSize    int  `mapstructure:"chunk_size"     yaml:"chunk_size"`
	AbortOnError bool `mapstructure:"abort_on_error" yaml:"abort_on_error"`
	StrictConfig bool `mapstructure:"strict_config"  yaml:"strict_config"`

	// ParseCacheBytes bounds the parse result cache. Zero disables it.
	ParseCacheBytes int64 `mapstructure:"parse_cache_bytes" yaml:"parse_cache_bytes"`

	Adaptive  AdaptiveConfig  `mapstructure:",squash" yaml:",inline"`
	Pool      PoolConfig      `mapstructure:",squash" yaml:",inline"`
	Logging   LoggingConfig   `mapstructure:"logging"   yaml:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// Problems lists validation errors whose fields were replaced by
	// defaults. Only populated in lenient mode.
	Problems []error `mapstructure:"-" yaml:"-"`
}

// AdaptiveConfig holds the chunk-size controller knobs.
type AdaptiveConfig struct {
	Enabled          bool    `mapstructure:"adaptive_chunking_enabled"   yaml:"adaptive_chunking_enabled"`
	TargetLatencyMS  float64 `mapstructure:"adaptive_target_latency_ms"  yaml:"adaptive_target_latency_ms"`
	MinChunkSize     int     `mapstructure:"adaptive_min_chunk_size"     yaml:"adaptive_min_chunk_size"`
	MaxChunkSize     int     `mapstructure:"adaptive_max_chunk_size"     yaml:"adaptive_max_chunk_size"`
	HysteresisPct    float64 `mapstructure:"adaptive_hysteresis_pct"     yaml:"adaptive_hysteresis_pct"`
	CooldownChunks   int     `mapstructure:"adaptive_cooldown_chunks"    yaml:"adaptive_cooldown_chunks"`
	SmoothingAlpha   float64 `mapstructure:"adaptive_smoothing_alpha"    yaml:"adaptive_smoothing_alpha"`
	StepPct          float64 `mapstructure:"adaptive_step_pct"           yaml:"adaptive_step_pct"`
	InitialChunkSize int     `mapstructure:"adaptive_initial_chunk_size" yaml:"adaptive_initial_chunk_size"`
	TokensPerSecond  float64 `mapstructure:"adaptive_tokens_per_second"  yaml:"adaptive_tokens_per_second"`
}

// PoolConfig holds the offload worker pool knobs.
type PoolConfig struct {
	Enabled        bool   `mapstructure:"process_pool_enabled"          yaml:"process_pool_enabled"`
	MaxWorkers     int    `mapstructure:"process_pool_max_workers"      yaml:"process_pool_max_workers"`
	Target         string `mapstructure:"process_pool_target"           yaml:"process_pool_target"`
	TaskTimeoutMS  int    `mapstructure:"process_pool_task_timeout_ms"  yaml:"process_pool_task_timeout_ms"`
	JobMaxChars    int    `mapstructure:"process_pool_job_max_chars"    yaml:"process_pool_job_max_chars"`
	StartMethod    string `mapstructure:"process_pool_start_method"     yaml:"process_pool_start_method"`
	RetryOnTimeout bool   `mapstructure:"process_pool_retry_on_timeout" yaml:"process_pool_retry_on_timeout"`
	RetryLimit     int    `mapstructure:"process_pool_retry_limit"      yaml:"process_pool_retry_limit"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// TelemetryConfig holds exporter settings. Everything is off by default.
type TelemetryConfig struct {
	OTLPEndpoint    string `mapstructure:"otlp_endpoint"    yaml:"otlp_endpoint"`
	OTLPHeaders     string `mapstructure:"otlp_headers"     yaml:"otlp_headers"`
	OTLPInsecure    bool   `mapstructure:"otlp_insecure"    yaml:"otlp_insecure"`
	Prometheus      bool   `mapstructure:"prometheus"       yaml:"prometheus"`
	DiagnosticsAddr string `mapstructure:"diagnostics_addr" yaml:"diagnostics_addr"`
}

// Default returns the configuration with every option at its default.
func Default() Config {
	return Config{
		ChunkSize:    DefaultChunkSize,
		AbortOnError: DefaultAbortOnError,
		StrictConfig: DefaultStrictConfig,

		ParseCacheBytes: DefaultParseCacheBytes,
		Adaptive: AdaptiveConfig{
			Enabled:          DefaultAdaptiveEnabled,
			TargetLatencyMS:  DefaultAdaptiveTargetLatencyMS,
			MinChunkSize:     DefaultAdaptiveMinChunkSize,
			MaxChunkSize:     DefaultAdaptiveMaxChunkSize,
			HysteresisPct:    DefaultAdaptiveHysteresisPct,
			CooldownChunks:   DefaultAdaptiveCooldownChunks,
			SmoothingAlpha:   DefaultAdaptiveSmoothingAlpha,
			StepPct:          DefaultAdaptiveStepPct,
			InitialChunkSize: DefaultAdaptiveInitialChunkSize,
			TokensPerSecond:  DefaultAdaptiveTokensPerSecond,
		},
		Pool: PoolConfig{
			Enabled:        DefaultPoolEnabled,
			MaxWorkers:     DefaultPoolMaxWorkers,
			Target:         DefaultPoolTarget,
			TaskTimeoutMS:  DefaultPoolTaskTimeoutMS,
			JobMaxChars:    DefaultPoolJobMaxChars,
			StartMethod:    DefaultPoolStartMethod,
			RetryOnTimeout: DefaultPoolRetryOnTimeout,
			RetryLimit:     DefaultPoolRetryLimit,
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint:    DefaultOTLPEndpoint,
			OTLPHeaders:     DefaultOTLPHeaders,
			OTLPInsecure:    DefaultOTLPInsecure,
			Prometheus:      DefaultPrometheus,
			DiagnosticsAddr: DefaultDiagnosticsAddr,
		},
	}
}

// InitialChunkSize returns the controller's starting size: the adaptive
// initial size when set, the fixed baseline otherwise.
func (c *Config) InitialChunkSize() int {
	if c.Adaptive.InitialChunkSize > 0 {
		return c.Adaptive.InitialChunkSize
	}

	return c.ChunkSize
}

// TaskTimeout returns the per-task offload timeout.
func (c *Config) TaskTimeout() time.Duration {
	return time.Duration(c.Pool.TaskTimeoutMS) * time.Millisecond
}

// StartMethod returns the worker start method with the empty value resolved.
func (c *Config) StartMethod() string {
	if c.Pool.StartMethod == "" {
		return StartMethodInProcess
	}

	return c.Pool.StartMethod
}

// OffloadParse reports whether parse jobs go to the worker pool.
func (c *Config) OffloadParse() bool {
	return c.Pool.Enabled && c.Pool.Target != TargetValidateOnly
}

// OffloadValidate reports whether validate jobs go to the worker pool.
func (c *Config) OffloadValidate() bool {
	return c.Pool.Enabled && c.Pool.Target != TargetParseOnly
}

// Sentinel errors for configuration validation.
var (
	// ErrConfiguration is the parent of every validation error.
	ErrConfiguration = errors.New("configuration error")

	ErrInvalidChunkSize        = fmt.Errorf("%w: chunk_size must be positive", ErrConfiguration)
	ErrInvalidChunkBounds      = fmt.Errorf("%w: adaptive chunk bounds must satisfy 0 < min <= max", ErrConfiguration)
	ErrInvalidTargetLatency    = fmt.Errorf("%w: adaptive_target_latency_ms must be positive", ErrConfiguration)
	ErrInvalidHysteresis       = fmt.Errorf("%w: adaptive_hysteresis_pct must be in [0, 1)", ErrConfiguration)
	ErrInvalidCooldown         = fmt.Errorf("%w: adaptive_cooldown_chunks must be non-negative", ErrConfiguration)
	ErrInvalidSmoothingAlpha   = fmt.Errorf("%w: adaptive_smoothing_alpha must be in (0, 1]", ErrConfiguration)
	ErrInvalidStepPct          = fmt.Errorf("%w: adaptive_step_pct must be in (0, 1)", ErrConfiguration)
	ErrInvalidInitialChunkSize = fmt.Errorf("%w: adaptive_initial_chunk_size must be within [min, max]", ErrConfiguration)
	ErrInvalidTokensPerSecond  = fmt.Errorf("%w: adaptive_tokens_per_second must be non-negative", ErrConfiguration)
	ErrInvalidMaxWorkers       = fmt.Errorf("%w: process_pool_max_workers must be non-negative", ErrConfiguration)
	ErrInvalidPoolTarget       = fmt.Errorf("%w: process_pool_target must be parse_validate, parse_only or validate_only", ErrConfiguration)
	ErrInvalidTaskTimeout      = fmt.Errorf("%w: process_pool_task_timeout_ms must be positive", ErrConfiguration)
	ErrInvalidJobMaxChars      = fmt.Errorf("%w: process_pool_job_max_chars must be positive", ErrConfiguration)
	ErrInvalidStartMethod      = fmt.Errorf("%w: process_pool_start_method must be inprocess or exec", ErrConfiguration)
	ErrInvalidRetryLimit       = fmt.Errorf("%w: process_pool_retry_limit must be non-negative", ErrConfiguration)
	ErrInvalidLogFormat        = fmt.Errorf("%w: logging.format must be text or json", ErrConfiguration)
	ErrInvalidParseCacheBytes  = fmt.Errorf("%w: parse_cache_bytes must be non-negative", ErrConfiguration)
)

// rule is one validation check paired with the repair applied in lenient mode.
type rule struct {
	check  func(c *Config) error
	repair func(c *Config)
}

// rules are evaluated in order; the chunk-bounds repair runs before the
// initial-size check so a repaired range is what the initial size is held to.
var rules = []rule{
	{
		check: func(c *Config) error {
			if c.ChunkSize <= 0 {
				return fmt.Errorf("%w: %d", ErrInvalidChunkSize, c.ChunkSize)
			}

			return nil
		},
		repair: func(c *Config) { c.ChunkSize = DefaultChunkSize },
	},
	{
		check: func(c *Config) error {
			a := c.Adaptive
			if a.MinChunkSize <= 0 || a.MinChunkSize > a.MaxChunkSize {
				return fmt.Errorf("%w: min=%d max=%d", ErrInvalidChunkBounds, a.MinChunkSize, a.MaxChunkSize)
			}

			return nil
		},
		repair: func(c *Config) {
			c.Adaptive.MinChunkSize = DefaultAdaptiveMinChunkSize
			c.Adaptive.MaxChunkSize = DefaultAdaptiveMaxChunkSize
		},
	},
	{
		check: func(c *Config) error {
			if c.Adaptive.TargetLatencyMS <= 0 {
				return fmt.Errorf("%w: %g", ErrInvalidTargetLatency, c.Adaptive.TargetLatencyMS)
			}

			return nil
		},
		repair: func(c *Config) { c.Adaptive.TargetLatencyMS = DefaultAdaptiveTargetLatencyMS },
	},
	{
		check: func(c *Config) error {
			if c.Adaptive.HysteresisPct < 0 || c.Adaptive.HysteresisPct >= 1 {
				return fmt.Errorf("%w: %g", ErrInvalidHysteresis, c.Adaptive.HysteresisPct)
			}

			return nil
		},
		repair: func(c *Config) { c.Adaptive.HysteresisPct = DefaultAdaptiveHysteresisPct },
	},
	{
		check: func(c *Config) error {
			if c.Adaptive.CooldownChunks < 0 {
				return fmt.Errorf("%w: %d", ErrInvalidCooldown, c.Adaptive.CooldownChunks)
			}

			return nil
		},
		repair: func(c *Config) { c.Adaptive.CooldownChunks = DefaultAdaptiveCooldownChunks },
	},
	{
		check: func(c *Config) error {
			if c.Adaptive.SmoothingAlpha <= 0 || c.Adaptive.SmoothingAlpha > 1 {
				return fmt.Errorf("%w: %g", ErrInvalidSmoothingAlpha, c.Adaptive.SmoothingAlpha)
			}

			return nil
		},
		repair: func(c *Config) { c.Adaptive.SmoothingAlpha = DefaultAdaptiveSmoothingAlpha },
	},
	{
		check: func(c *Config) error {
			if c.Adaptive.StepPct <= 0 || c.Adaptive.StepPct >= 1 {
				return fmt.Errorf("%w: %g", ErrInvalidStepPct, c.Adaptive.StepPct)
			}

			return nil
		},
		repair: func(c *Config) { c.Adaptive.StepPct = DefaultAdaptiveStepPct },
	},
	{
		check: func(c *Config) error {
			a := c.Adaptive
			if a.InitialChunkSize < 0 ||
				(a.InitialChunkSize > 0 && (a.InitialChunkSize < a.MinChunkSize || a.InitialChunkSize > a.MaxChunkSize)) {
				return fmt.Errorf("%w: %d not in [%d, %d]",
					ErrInvalidInitialChunkSize, a.InitialChunkSize, a.MinChunkSize, a.MaxChunkSize)
			}

			return nil
		},
		repair: func(c *Config) { c.Adaptive.InitialChunkSize = DefaultAdaptiveInitialChunkSize },
	},
	{
		check: func(c *Config) error {
			if c.Adaptive.TokensPerSecond < 0 {
				return fmt.Errorf("%w: %g", ErrInvalidTokensPerSecond, c.Adaptive.TokensPerSecond)
			}

			return nil
		},
		repair: func(c *Config) { c.Adaptive.TokensPerSecond = DefaultAdaptiveTokensPerSecond },
	},
	{
		check: func(c *Config) error {
			if c.Pool.MaxWorkers < 0 {
				return fmt.Errorf("%w: %d", ErrInvalidMaxWorkers, c.Pool.MaxWorkers)
			}

			return nil
		},
		repair: func(c *Config) { c.Pool.MaxWorkers = DefaultPoolMaxWorkers },
	},
	{
		check: func(c *Config) error {
			switch c.Pool.Target {
			case TargetParseValidate, TargetParseOnly, TargetValidateOnly:
				return nil
			default:
				return fmt.Errorf("%w: %q", ErrInvalidPoolTarget, c.Pool.Target)
			}
		},
		repair: func(c *Config) { c.Pool.Target = DefaultPoolTarget },
	},
	{
		check: func(c *Config) error {
			if c.Pool.TaskTimeoutMS <= 0 {
				return fmt.Errorf("%w: %d", ErrInvalidTaskTimeout, c.Pool.TaskTimeoutMS)
			}

			return nil
		},
		repair: func(c *Config) { c.Pool.TaskTimeoutMS = DefaultPoolTaskTimeoutMS },
	},
	{
		check: func(c *Config) error {
			if c.Pool.JobMaxChars <= 0 {
				return fmt.Errorf("%w: %d", ErrInvalidJobMaxChars, c.Pool.JobMaxChars)
			}

			return nil
		},
		repair: func(c *Config) { c.Pool.JobMaxChars = DefaultPoolJobMaxChars },
	},
	{
		check: func(c *Config) error {
			switch c.Pool.StartMethod {
			case "", StartMethodInProcess, StartMethodExec:
				return nil
			default:
				return fmt.Errorf("%w: %q", ErrInvalidStartMethod, c.Pool.StartMethod)
			}
		},
		repair: func(c *Config) { c.Pool.StartMethod = DefaultPoolStartMethod },
	},
	{
		check: func(c *Config) error {
			if c.Pool.RetryLimit < 0 {
				return fmt.Errorf("%w: %d", ErrInvalidRetryLimit, c.Pool.RetryLimit)
			}

			return nil
		},
		repair: func(c *Config) { c.Pool.RetryLimit = DefaultPoolRetryLimit },
	},
	{
		check: func(c *Config) error {
			switch c.Logging.Format {
			case LogFormatText, LogFormatJSON:
				return nil
			default:
				return fmt.Errorf("%w: %q", ErrInvalidLogFormat, c.Logging.Format)
			}
		},
		repair: func(c *Config) { c.Logging.Format = DefaultLogFormat },
	},
	{
		check: func(c *Config) error {
			if c.ParseCacheBytes < 0 {
				return fmt.Errorf("%w: %d", ErrInvalidParseCacheBytes, c.ParseCacheBytes)
			}

			return nil
		},
		repair: func(c *Config) { c.ParseCacheBytes = DefaultParseCacheBytes },
	},
}

// Validate checks Config invariants and returns every violation joined.
func (c *Config) Validate() error {
	var errs []error

	for _, r := range rules {
		err := r.check(c)
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Repair replaces every invalid field with its default, records the
// violations in c.Problems and returns them.
func (c *Config) Repair() []error {
	var problems []error

	for _, r := range rules {
		err := r.check(c)
		if err != nil {
			problems = append(problems, err)
			r.repair(c)
		}
	}

	c.Problems = problems

	return problems
}
