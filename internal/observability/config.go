package observability

import (
	"strings"

	"github.com/EF-corp/AgroBotTg/internal/config"
)

// Config is the slice of application configuration the logger, tracer and
// metrics providers read.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	obs := cfg.Observability
	out := Config{
		ServiceName:          strings.TrimSpace(cfg.AppName),
		Environment:          strings.TrimSpace(cfg.Environment),
		Version:              strings.TrimSpace(cfg.AppVersion),
		LogLevel:             obs.LogLevel,
		LogFormat:            obs.LogFormat,
		OtelEnabled:          obs.TracingEnabled,
		OtelExporterEndpoint: strings.TrimSpace(cfg.OTLPEndpoint),
		OtelExporterProtocol: obs.ExportProtocol,
		OtelSamplingRatio:    obs.SamplingRatio,
	}
	if out.ServiceName == "" {
		out.ServiceName = "agrobot"
	}
	if out.LogLevel == "" {
		out.LogLevel = "info"
	}
	// no exporter endpoint means nothing to ship spans to
	if out.OtelExporterEndpoint == "" {
		out.OtelEnabled = false
	}
	if out.OtelSamplingRatio < 0 || out.OtelSamplingRatio > 1 {
		out.OtelSamplingRatio = 1
	}
	return out
}

// Debug turns on stack traces in request logs.
func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	switch strings.ToLower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}
