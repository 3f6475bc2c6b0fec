// Package config loads the settings of oaiharvest from defaults, an optional
// YAML file, OAIHARVEST_* environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/clarin-eric/oai-harvest-manager-sub001/logger"
	"github.com/clarin-eric/oai-harvest-manager-sub001/oai"
	"github.com/clarin-eric/oai-harvest-manager-sub001/overview"
	"github.com/clarin-eric/oai-harvest-manager-sub001/runner"
	"github.com/clarin-eric/oai-harvest-manager-sub001/scenario"
)

// EnvPrefix is the prefix of environment variables, e.g.
// OAIHARVEST_HARVEST_WORKERS.
const EnvPrefix = "oaiharvest"

// Config holds all settings.
type Config struct {
	Overview  OverviewConfig `mapstructure:"overview"`
	Endpoints string         `mapstructure:"endpoints"`
	Harvest   HarvestConfig  `mapstructure:"harvest"`
	Output    OutputConfig   `mapstructure:"output"`
	Metrics   MetricsConfig  `mapstructure:"metrics"`
	Log       logger.Config  `mapstructure:"log"`
}

// OverviewConfig locates the overview file.
type OverviewConfig struct {
	Path    string `mapstructure:"path"`
	Backups int    `mapstructure:"backups"`
}

// HarvestConfig controls scheduling and the protocol engine.
type HarvestConfig struct {
	// Mode and RefreshFrom override the overview settings when set.
	Mode           string        `mapstructure:"mode"`
	RefreshFrom    string        `mapstructure:"refresh_from"`
	Workers        int           `mapstructure:"workers"`
	Policy         string        `mapstructure:"policy"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	MaxRequests    int           `mapstructure:"max_requests"`
	Rate           float64       `mapstructure:"rate"`
	Burst          int           `mapstructure:"burst"`
	Formats        []string      `mapstructure:"formats"`
	Window         string        `mapstructure:"window"`
	Set            string        `mapstructure:"set"`
}

// OutputConfig selects where records go. An empty Dir discards them.
type OutputConfig struct {
	Dir string `mapstructure:"dir"`
}

// MetricsConfig names the node-exporter textfile written after a run.
type MetricsConfig struct {
	File string `mapstructure:"file"`
}

// SetDefaults registers the defaults of every key, which also makes every
// key visible to AutomaticEnv.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("overview.path", "overview.xml")
	v.SetDefault("overview.backups", overview.DefaultBackups)
	v.SetDefault("endpoints", "")
	v.SetDefault("harvest.mode", "")
	v.SetDefault("harvest.refresh_from", "")
	v.SetDefault("harvest.workers", 8)
	v.SetDefault("harvest.policy", string(runner.PolicyBlock))
	v.SetDefault("harvest.timeout", oai.DefaultTimeout)
	v.SetDefault("harvest.max_attempts", oai.DefaultMaxAttempts)
	v.SetDefault("harvest.initial_backoff", oai.DefaultInitialBackoff)
	v.SetDefault("harvest.max_backoff", oai.DefaultMaxBackoff)
	v.SetDefault("harvest.max_requests", oai.DefaultMaxRequests)
	v.SetDefault("harvest.rate", 0.0)
	v.SetDefault("harvest.burst", 1)
	v.SetDefault("harvest.formats", []string{"namespace:http://www.clarin.eu/cmd/", "prefix:cmdi"})
	v.SetDefault("harvest.window", oai.WindowNone)
	v.SetDefault("harvest.set", "")
	v.SetDefault("output.dir", "")
	v.SetDefault("metrics.file", "")
	v.SetDefault("log.level", logger.DefaultLevel)
	v.SetDefault("log.format", logger.DefaultFormat)
	v.SetDefault("log.output_paths", []string{"stderr"})
}

// NewViper returns a viper instance reading the environment, with defaults.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads file, if given, and decodes and validates the settings.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: %v", overview.ErrConfig, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", overview.ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports all invalid settings at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	check(strings.TrimSpace(c.Overview.Path) != "", "overview.path is empty")
	check(c.Overview.Backups >= 0, "overview.backups must not be negative")
	check(c.Harvest.Workers >= 1, "harvest.workers must be at least 1")
	check(c.Harvest.MaxAttempts >= 1, "harvest.max_attempts must be at least 1")
	check(c.Harvest.Timeout > 0, "harvest.timeout must be positive")
	check(c.Harvest.MaxRequests >= 0, "harvest.max_requests must not be negative")
	check(c.Harvest.Rate >= 0, "harvest.rate must not be negative")
	check(len(c.Harvest.Formats) > 0, "harvest.formats is empty")
	if _, err := c.Mode(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.RefreshDate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := runner.ParsePolicy(c.Harvest.Policy); err != nil {
		errs = append(errs, err)
	}
	if _, err := oai.ParseWindow(c.Harvest.Window); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Selectors(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", overview.ErrConfig, errors.Join(errs...))
	}
	return nil
}

// Mode returns the mode override; empty means the overview decides.
func (c *Config) Mode() (overview.Mode, error) {
	if strings.TrimSpace(c.Harvest.Mode) == "" {
		return "", nil
	}
	return overview.ParseMode(c.Harvest.Mode)
}

// RefreshDate parses the refresh date override, a zero time if unset.
func (c *Config) RefreshDate() (time.Time, error) {
	s := strings.TrimSpace(c.Harvest.RefreshFrom)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{oai.DateLayout, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("harvest.refresh_from: invalid date %q", s)
}

// Selectors parses the format selectors.
func (c *Config) Selectors() ([]scenario.FormatSelector, error) {
	return scenario.ParseSelectors(c.Harvest.Formats)
}
