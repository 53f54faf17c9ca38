package config

import (
	"fmt"
	"os"
	"strings"
)

// OpenTelemetryConfig contains OTLP/HTTP export configuration
type OpenTelemetryConfig struct {
	Enabled            bool              `yaml:"enabled" env:"OTEL_ENABLED" env-default:"false"`
	ServiceName        string            `yaml:"serviceName" env:"OTEL_SERVICE_NAME" env-default:"victron-ble"`
	ServiceVersion     string            `yaml:"serviceVersion" env:"OTEL_SERVICE_VERSION" env-default:"1.0.0"`
	Environment        string            `yaml:"environment" env:"OTEL_ENVIRONMENT" env-default:"production"`
	Endpoint           string            `yaml:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Insecure           bool              `yaml:"insecure" env:"OTEL_EXPORTER_OTLP_INSECURE" env-default:"false"`
	Headers            map[string]string `yaml:"headers"`
	ResourceAttributes map[string]string `yaml:"resourceAttributes"`

	TracesEnabled        bool    `yaml:"tracesEnabled" env:"OTEL_TRACES_ENABLED" env-default:"true"`
	TracesSamplingRatio  float64 `yaml:"tracesSamplingRatio" env:"OTEL_TRACES_SAMPLING_RATIO" env-default:"1.0"`
	MetricsEnabled       bool    `yaml:"metricsEnabled" env:"OTEL_METRICS_ENABLED" env-default:"true"`
	MetricsIntervalMs    int     `yaml:"metricsIntervalMillis" env:"OTEL_METRICS_INTERVAL" env-default:"30000"`
	EnableRuntimeMetrics bool    `yaml:"enableRuntimeMetrics" env:"OTEL_ENABLE_RUNTIME_METRICS" env-default:"true"`
}

// ResolvedEndpoint returns the configured endpoint, falling back to the
// standard OTLP environment variable.
func (c *OpenTelemetryConfig) ResolvedEndpoint() string {
	if c.Endpoint != "" {
		return c.Endpoint
	}
	return os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
}

// ResolvedHeaders returns the configured headers, falling back to
// OTEL_EXPORTER_OTLP_HEADERS (key1=value1,key2=value2).
func (c *OpenTelemetryConfig) ResolvedHeaders() map[string]string {
	if len(c.Headers) > 0 {
		return c.Headers
	}
	return parseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
}

func parseHeaders(s string) map[string]string {
	if s == "" {
		return nil
	}
	headers := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return headers
}

// ValidateOpenTelemetry validates OpenTelemetry configuration if enabled
func ValidateOpenTelemetry(cfg *OpenTelemetryConfig) error {
	if !cfg.Enabled {
		return nil
	}

	if cfg.ServiceName == "" {
		return fmt.Errorf("opentelemetry service name is required when OpenTelemetry is enabled")
	}
	if cfg.ResolvedEndpoint() == "" {
		return fmt.Errorf("opentelemetry endpoint is required when OpenTelemetry is enabled")
	}
	if cfg.TracesSamplingRatio < 0 || cfg.TracesSamplingRatio > 1 {
		return fmt.Errorf("opentelemetry traces sampling ratio must be between 0 and 1, got: %f", cfg.TracesSamplingRatio)
	}
	if cfg.MetricsEnabled && cfg.MetricsIntervalMs < 1000 {
		return fmt.Errorf("opentelemetry metrics interval must be at least 1000ms (1 second)")
	}

	return nil
}

// ProfilingConfig contains Pyroscope profiling configuration
type ProfilingConfig struct {
	Enabled           bool              `yaml:"enabled" env:"PYROSCOPE_ENABLED" env-default:"false"`
	ApplicationName   string            `yaml:"applicationName" env:"PYROSCOPE_APPLICATION_NAME" env-default:"victron-ble"`
	ServerAddress     string            `yaml:"serverAddress" env:"PYROSCOPE_SERVER_ADDRESS"`
	BasicAuthUser     string            `yaml:"basicAuthUser" env:"PYROSCOPE_BASIC_AUTH_USER"`
	BasicAuthPassword string            `yaml:"basicAuthPassword" env:"PYROSCOPE_BASIC_AUTH_PASSWORD"`
	TenantID          string            `yaml:"tenantID" env:"PYROSCOPE_TENANT_ID"`
	Tags              map[string]string `yaml:"tags"`
	ProfileTypes      []string          `yaml:"profileTypes" env:"PYROSCOPE_PROFILE_TYPES" env-default:"cpu,alloc_space,inuse_space"`
}

// KnownProfileTypes lists the accepted profileTypes entries
var KnownProfileTypes = map[string]bool{
	"cpu":           true,
	"alloc_objects": true,
	"alloc_space":   true,
	"inuse_objects": true,
	"inuse_space":   true,
	"goroutines":    true,
	"mutex":         true,
	"block":         true,
}

// ValidateProfiling validates profiling configuration if enabled
func ValidateProfiling(cfg *ProfilingConfig) error {
	if !cfg.Enabled {
		return nil
	}

	if cfg.ApplicationName == "" {
		return fmt.Errorf("profiling application name is required when profiling is enabled")
	}
	if cfg.ServerAddress == "" {
		return fmt.Errorf("profiling server address is required when profiling is enabled")
	}
	if len(cfg.ProfileTypes) == 0 {
		return fmt.Errorf("at least one profile type must be enabled")
	}
	for _, pt := range cfg.ProfileTypes {
		if !KnownProfileTypes[strings.ToLower(pt)] {
			return fmt.Errorf("unknown profile type %q", pt)
		}
	}

	return nil
}
