package telemetry

import (
	"fmt"
	"time"
)

// Config contains the telemetry configuration for stackzilla.
type Config struct {
	// ServiceName identifies the process in traces and metrics.
	ServiceName string `mapstructure:"service_name"`

	// ServiceVersion is the build version.
	ServiceVersion string `mapstructure:"service_version"`

	// Environment is a free form deployment label.
	Environment string `mapstructure:"environment"`

	Logging LoggingConfig `mapstructure:"log"`
	Tracing TracingConfig `mapstructure:"tracing"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is one of trace, debug, info, warn, error, fatal.
	Level string `mapstructure:"level"`

	// Format is console or json.
	Format string `mapstructure:"format"`

	// Output is stdout, stderr or a file path.
	Output string `mapstructure:"output"`

	// EnableCaller adds file:line to every entry.
	EnableCaller bool `mapstructure:"caller"`

	// TimeFormat is rfc3339, unix or unixms.
	TimeFormat string `mapstructure:"time_format"`

	// NoColor disables colors in console output.
	NoColor bool `mapstructure:"no_color"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Exporter is otlp, stdout or none.
	Exporter string `mapstructure:"exporter"`

	// Endpoint is the OTLP collector address.
	Endpoint string `mapstructure:"endpoint"`

	// SamplingRate is between 0 and 1.
	SamplingRate float64 `mapstructure:"sampling_rate"`

	MaxExportBatchSize int           `mapstructure:"max_export_batch_size"`
	ExportTimeout      time.Duration `mapstructure:"export_timeout"`

	// Headers are sent with every OTLP export.
	Headers map[string]string `mapstructure:"headers"`

	// Insecure disables TLS for the OTLP connection.
	Insecure bool `mapstructure:"insecure"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// ListenAddress serves the metrics endpoint when non-empty.
	ListenAddress string `mapstructure:"listen_address"`

	// Path is the HTTP path of the endpoint.
	Path string `mapstructure:"path"`

	// Namespace prefixes every metric name.
	Namespace string `mapstructure:"namespace"`

	Buckets []float64 `mapstructure:"buckets"`
}

// DefaultConfig returns the configuration used by the CLI when nothing is
// overridden: console logs on stderr, tracing off, metrics collected but
// not served.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "stackzilla",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stderr",
			TimeFormat: "rfc3339",
		},
		Tracing: TracingConfig{
			Enabled:            false,
			Exporter:           "none",
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
			Headers:            make(map[string]string),
			Insecure:           true,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "stackzilla",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", c.Logging.Format)
	}

	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "otlp", "stdout", "none":
		default:
			return fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter)
		}
		if c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "" {
			return fmt.Errorf("tracing endpoint is required for the otlp exporter")
		}
	}

	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0 and 1, got: %f", c.Tracing.SamplingRate)
	}

	return nil
}
