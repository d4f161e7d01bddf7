package observability

import (
	"os"
	"strconv"
	"strings"

	"github.com/smallbiznis/royaltyledger/internal/config"
)

// Config holds observability configuration derived from environment variables.
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

// LoadConfig derives the observability settings. An ingest invocation is a
// single root trace, so every run is sampled unless OTEL_SAMPLING_RATIO
// says otherwise.
func LoadConfig(cfg config.Config) Config {
	c := Config{
		ServiceName:          strings.TrimSpace(cfg.AppName),
		Environment:          strings.TrimSpace(cfg.Environment),
		Version:              strings.TrimSpace(cfg.AppVersion),
		LogLevel:             lowerEnv("LOG_LEVEL", "info"),
		LogFormat:            lowerEnv("LOG_FORMAT", "json"),
		OtelEnabled:          lowerEnv("OTEL_ENABLED", "false") == "true",
		OtelExporterEndpoint: strings.TrimSpace(cfg.OTLPEndpoint),
		OtelExporterProtocol: lowerEnv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"),
		OtelSamplingRatio:    1,
	}
	if c.ServiceName == "" {
		c.ServiceName = "royaltyledger"
	}
	if v := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); v != "" {
		c.OtelExporterEndpoint = v
	}
	if v, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv("OTEL_SAMPLING_RATIO")), 64); err == nil && v >= 0 && v <= 1 {
		c.OtelSamplingRatio = v
	}
	return c
}

func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	switch strings.ToLower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

func lowerEnv(key, def string) string {
	if v := strings.ToLower(strings.TrimSpace(os.Getenv(key))); v != "" {
		return v
	}
	return def
}
