package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/openfroyo/endstate/pkg/engine"
	"github.com/openfroyo/endstate/pkg/fsutil"
	"github.com/openfroyo/endstate/pkg/telemetry"
)

// ExecutionConfig configures the install worker pool.
type ExecutionConfig struct {
	Throttle       int           `mapstructure:"throttle" validate:"gte=0"`
	InstallTimeout time.Duration `mapstructure:"install_timeout" validate:"gte=0"`
}

// SafetyConfig extends the built-in sequential denylist.
type SafetyConfig struct {
	ExtraPatterns []string `mapstructure:"extra_patterns"`
}

// RestoreConfig controls configuration restore during apply.
type RestoreConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// IndexConfig configures the SQLite run index.
type IndexConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// VerifyConfig configures verify checks.
type VerifyConfig struct {
	CommandTimeout time.Duration `mapstructure:"command_timeout" validate:"gte=0"`
}

// Config represents the application configuration.
type Config struct {
	Manifest  string           `mapstructure:"manifest"`
	Driver    string           `mapstructure:"driver" validate:"omitempty,oneof=winget apt brew fake"`
	StateDir  string           `mapstructure:"state_dir" validate:"required"`
	Execution ExecutionConfig  `mapstructure:"execution"`
	Safety    SafetyConfig     `mapstructure:"safety"`
	Restore   RestoreConfig    `mapstructure:"restore"`
	Index     IndexConfig      `mapstructure:"index"`
	Verify    VerifyConfig     `mapstructure:"verify"`
	Telemetry telemetry.Config `mapstructure:"telemetry"`
}

// NewViper returns a viper instance with defaults, environment bindings and
// config search paths set. A non-empty configFile replaces the search paths.
//
// Config file locations (in order of precedence):
//   - configFile, when given
//   - $XDG_CONFIG_HOME/endstate/config.yaml
//
// Environment variables are prefixed with ENDSTATE_ (e.g., ENDSTATE_DRIVER).
// LOG_LEVEL is honoured as an alias for ENDSTATE_TELEMETRY_LOGGING_LEVEL.
func NewViper(configFile string) *viper.Viper {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(ConfigDir())
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("telemetry.logging.level", EnvPrefix+"_TELEMETRY_LOGGING_LEVEL", "LOG_LEVEL")

	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("manifest", DefaultManifest)
	v.SetDefault("driver", "")
	v.SetDefault("state_dir", DefaultStateDir())

	v.SetDefault("execution.throttle", DefaultThrottle)
	v.SetDefault("execution.install_timeout", DefaultInstallTimeout)
	v.SetDefault("safety.extra_patterns", []string{})
	v.SetDefault("restore.enabled", false)
	v.SetDefault("index.enabled", true)
	v.SetDefault("index.path", DefaultIndexPath())
	v.SetDefault("verify.command_timeout", DefaultVerifyCommandTimeout)

	t := telemetry.DefaultConfig()
	v.SetDefault("telemetry.service_name", t.ServiceName)
	v.SetDefault("telemetry.service_version", t.ServiceVersion)
	v.SetDefault("telemetry.logging.level", t.Logging.Level)
	v.SetDefault("telemetry.logging.format", t.Logging.Format)
	v.SetDefault("telemetry.logging.output", t.Logging.Output)
	v.SetDefault("telemetry.logging.enable_caller", t.Logging.EnableCaller)
	v.SetDefault("telemetry.logging.time_format", t.Logging.TimeFormat)
	v.SetDefault("telemetry.tracing.enabled", t.Tracing.Enabled)
	v.SetDefault("telemetry.tracing.exporter", t.Tracing.Exporter)
	v.SetDefault("telemetry.tracing.endpoint", t.Tracing.Endpoint)
	v.SetDefault("telemetry.tracing.sampling_rate", t.Tracing.SamplingRate)
	v.SetDefault("telemetry.tracing.max_export_batch_size", t.Tracing.MaxExportBatchSize)
	v.SetDefault("telemetry.tracing.export_timeout", t.Tracing.ExportTimeout)
	v.SetDefault("telemetry.tracing.insecure", t.Tracing.Insecure)
	v.SetDefault("telemetry.metrics.enabled", t.Metrics.Enabled)
	v.SetDefault("telemetry.metrics.namespace", t.Metrics.Namespace)
	v.SetDefault("telemetry.metrics.textfile_path", t.Metrics.TextfilePath)
	v.SetDefault("telemetry.metrics.histogram_buckets", t.Metrics.DefaultHistogramBuckets)
	v.SetDefault("telemetry.events.enabled", t.Events.Enabled)
	v.SetDefault("telemetry.events.buffer_size", t.Events.BufferSize)
}

// Load reads the config file, if any, applies environment overrides and
// validates the result. A missing config file is not an error.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Telemetry.Tracing.Headers == nil {
		cfg.Telemetry.Tracing.Headers = make(map[string]string)
	}

	cfg.Manifest = fsutil.ExpandPath(cfg.Manifest)
	cfg.StateDir = fsutil.ExpandPath(cfg.StateDir)
	cfg.Index.Path = fsutil.ExpandPath(cfg.Index.Path)
	cfg.Telemetry.Metrics.TextfilePath = fsutil.ExpandPath(cfg.Telemetry.Metrics.TextfilePath)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints, the extra deny patterns and the
// telemetry settings.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.Denylist(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry config: %w", err)
	}
	return nil
}

// Denylist returns the built-in denylist extended with Safety.ExtraPatterns.
func (c *Config) Denylist() (engine.Denylist, error) {
	return engine.DefaultDenylist().With(c.Safety.ExtraPatterns...)
}

// ConfigDir returns the endstate configuration directory.
func ConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// DefaultStateDir returns the default directory for run state files.
func DefaultStateDir() string {
	return filepath.Join(xdg.DataHome, AppName, "state")
}

// DefaultIndexPath returns the default SQLite run index path.
func DefaultIndexPath() string {
	return filepath.Join(xdg.DataHome, AppName, DefaultIndexFile)
}
