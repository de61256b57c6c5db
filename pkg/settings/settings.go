// Package settings loads the CLI configuration from defaults, an optional
// zilla.yaml file, ZILLA_* environment variables and command line flags,
// in increasing order of precedence.
package settings

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/stackzilla/stackzilla/pkg/telemetry"
)

// EnvPrefix prefixes every environment variable, e.g. ZILLA_DATABASE_PATH.
const EnvPrefix = "ZILLA"

// ConfigName is the file looked up in the working directory when no
// config file is given.
const ConfigName = "zilla"

// Settings is the complete CLI configuration.
type Settings struct {
	Database DatabaseSettings `mapstructure:"database"`
	Apply    ApplySettings    `mapstructure:"apply"`

	// Telemetry holds the log, tracing and metrics sections.
	Telemetry telemetry.Config `mapstructure:",squash"`
}

// DatabaseSettings locates the state database.
type DatabaseSettings struct {
	Path string `mapstructure:"path"`
}

// ApplySettings tunes blueprint apply.
type ApplySettings struct {
	// Parallelism bounds the units applied at once within a phase.
	Parallelism int `mapstructure:"parallelism"`

	// Policies are .rego/.json files or directories evaluated before apply.
	Policies []string `mapstructure:"policies"`

	// Protected resource paths may never be deleted or recreated.
	Protected []string `mapstructure:"protected"`

	// StarlarkTimeout bounds the execution of each .star module.
	StarlarkTimeout time.Duration `mapstructure:"starlark_timeout"`
}

// flagKeys maps command line flags to the settings they override.
var flagKeys = map[string]string{
	"database":       "database.path",
	"log-level":      "log.level",
	"log-format":     "log.format",
	"parallelism":    "apply.parallelism",
	"policy":         "apply.policies",
	"protect":        "apply.protected",
	"trace-exporter": "tracing.exporter",
	"metrics-listen": "metrics.listen_address",
}

// Defaults returns the settings used when nothing is configured.
func Defaults() *Settings {
	return &Settings{
		Database: DatabaseSettings{Path: "stackzilla.db"},
		Apply: ApplySettings{
			Parallelism:     4,
			StarlarkTimeout: 30 * time.Second,
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}

func setDefaults(v *viper.Viper) {
	d := Defaults()

	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("apply.parallelism", d.Apply.Parallelism)
	v.SetDefault("apply.policies", []string{})
	v.SetDefault("apply.protected", []string{})
	v.SetDefault("apply.starlark_timeout", d.Apply.StarlarkTimeout)

	t := d.Telemetry
	v.SetDefault("service_name", t.ServiceName)
	v.SetDefault("service_version", t.ServiceVersion)
	v.SetDefault("environment", t.Environment)

	v.SetDefault("log.level", t.Logging.Level)
	v.SetDefault("log.format", t.Logging.Format)
	v.SetDefault("log.output", t.Logging.Output)
	v.SetDefault("log.caller", t.Logging.EnableCaller)
	v.SetDefault("log.time_format", t.Logging.TimeFormat)
	v.SetDefault("log.no_color", t.Logging.NoColor)

	v.SetDefault("tracing.enabled", t.Tracing.Enabled)
	v.SetDefault("tracing.exporter", t.Tracing.Exporter)
	v.SetDefault("tracing.endpoint", t.Tracing.Endpoint)
	v.SetDefault("tracing.sampling_rate", t.Tracing.SamplingRate)
	v.SetDefault("tracing.max_export_batch_size", t.Tracing.MaxExportBatchSize)
	v.SetDefault("tracing.export_timeout", t.Tracing.ExportTimeout)
	v.SetDefault("tracing.headers", t.Tracing.Headers)
	v.SetDefault("tracing.insecure", t.Tracing.Insecure)

	v.SetDefault("metrics.enabled", t.Metrics.Enabled)
	v.SetDefault("metrics.listen_address", t.Metrics.ListenAddress)
	v.SetDefault("metrics.path", t.Metrics.Path)
	v.SetDefault("metrics.namespace", t.Metrics.Namespace)
	v.SetDefault("metrics.buckets", t.Metrics.Buckets)
}

// Load reads the settings. configFile may be empty, in which case
// zilla.yaml is used if present in the working directory. Flags that were
// set on the command line override every other source.
func Load(configFile string, flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the settings.
func (s *Settings) Validate() error {
	if s.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if s.Apply.Parallelism < 1 {
		return fmt.Errorf("apply parallelism must be at least 1, got %d", s.Apply.Parallelism)
	}
	if s.Apply.StarlarkTimeout <= 0 {
		return fmt.Errorf("starlark timeout must be positive, got %s", s.Apply.StarlarkTimeout)
	}
	return s.Telemetry.Validate()
}
