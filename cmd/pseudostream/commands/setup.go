// Package commands implements CLI command handlers for pseudostream.
package commands

import (
	"fmt"

	"github.com/Sumatoshi-tech/pseudostream/internal/config"
	"github.com/Sumatoshi-tech/pseudostream/internal/observability"
	"github.com/Sumatoshi-tech/pseudostream/pkg/version"
)

// observabilityConfig maps the logging and telemetry sections of the
// resolved configuration onto observability settings for the given mode.
func observabilityConfig(cfg *config.Config, mode observability.AppMode) (observability.Config, error) {
	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = version.Version
	obsCfg.Mode = mode
	obsCfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	obsCfg.OTLPHeaders = observability.ParseOTLPHeaders(cfg.Telemetry.OTLPHeaders)
	obsCfg.OTLPInsecure = cfg.Telemetry.OTLPInsecure
	obsCfg.Prometheus = cfg.Telemetry.Prometheus
	obsCfg.LogJSON = cfg.Logging.Format == config.LogFormatJSON

	level, err := observability.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return obsCfg, fmt.Errorf("logging.level: %w", err)
	}

	obsCfg.LogLevel = level

	return obsCfg, nil
}
