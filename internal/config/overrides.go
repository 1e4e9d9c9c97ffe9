package config

// Overrides carries command-line values layered over file and environment.
// Nil pointers and zero values leave the loaded setting untouched.
type Overrides struct {
	Adaptive    *bool
	Offload     *bool
	Strict      *bool
	Workers     int
	StartMethod string
	Target      string
	LogLevel    string
}

// applyPositive sets *dst = value when value is positive.
// Zero values are skipped so the loaded setting survives.
func applyPositive[T ~int | ~float64](dst *T, value T) {
	if value > 0 {
		*dst = value
	}
}

// applyNonEmpty sets *dst = value when value is non-empty.
func applyNonEmpty(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

// applyBool sets *dst = *value when the flag was given.
// Boolean overrides are pointers because false is a meaningful override.
func applyBool(dst, value *bool) {
	if value != nil {
		*dst = *value
	}
}

// Apply merges overrides into the config.
func (c *Config) Apply(o Overrides) {
	applyBool(&c.Adaptive.Enabled, o.Adaptive)
	applyBool(&c.Pool.Enabled, o.Offload)
	applyBool(&c.StrictConfig, o.Strict)
	applyPositive(&c.Pool.MaxWorkers, o.Workers)
	applyNonEmpty(&c.Pool.StartMethod, o.StartMethod)
	applyNonEmpty(&c.Pool.Target, o.Target)
	applyNonEmpty(&c.Logging.Level, o.LogLevel)
}
