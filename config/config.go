// Package config loads the tunables of a fiber runtime from defaults, a YAML file and
// FIBER_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Sentinel validation errors.
var (
	ErrInvalidFrameBudget = errors.New("frame budget must be positive")
	ErrInvalidTimeout     = errors.New("priority timeout must be positive")
	ErrInvalidLaneTimeout = errors.New("lane timeout must be positive")
	ErrInvalidPassRetries = errors.New("max pass retries must be positive")
	ErrInvalidLogLevel    = errors.New("unknown log level")
	ErrInvalidLogFormat   = errors.New("unknown log format")
)

// Default configuration values.
const (
	DefaultFrameBudget      = 5 * time.Millisecond
	DefaultImmediateTimeout = -1 * time.Millisecond
	DefaultUserBlocking     = 250 * time.Millisecond
	DefaultNormalTimeout    = 5 * time.Second
	DefaultLowTimeout       = 10 * time.Second
	DefaultIdleTimeout      = (1<<30 - 1) * time.Millisecond

	DefaultMaxPassRetries = 3

	DefaultSyncLaneTimeout       = 250 * time.Millisecond
	DefaultContinuousLaneTimeout = 250 * time.Millisecond
	DefaultDefaultLaneTimeout    = 5 * time.Second

	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
)

const envPrefix = "FIBER"

// Config holds every tunable of a runtime.
type Config struct {
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	WorkLoop  WorkLoopConfig  `mapstructure:"work_loop"`
	Lanes     LanesConfig     `mapstructure:"lanes"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// SchedulerConfig holds the time slicing and the task timeouts of the scheduler.
type SchedulerConfig struct {
	FrameBudget time.Duration  `mapstructure:"frame_budget"`
	Timeouts    TimeoutsConfig `mapstructure:"timeouts"`
}

// TimeoutsConfig is how long a task of each priority may wait before it runs regardless of the
// frame budget.
type TimeoutsConfig struct {
	Immediate    time.Duration `mapstructure:"immediate"`
	UserBlocking time.Duration `mapstructure:"user_blocking"`
	Normal       time.Duration `mapstructure:"normal"`
	Low          time.Duration `mapstructure:"low"`
	Idle         time.Duration `mapstructure:"idle"`
}

type WorkLoopConfig struct {
	MaxPassRetries int `mapstructure:"max_pass_retries"`
}

// LanesConfig holds the starvation deadlines of pending lanes, counted from the update.
type LanesConfig struct {
	SyncTimeout       time.Duration `mapstructure:"sync_timeout"`
	ContinuousTimeout time.Duration `mapstructure:"continuous_timeout"`
	DefaultTimeout    time.Duration `mapstructure:"default_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(err)
	}
	return &cfg
}

// Load reads the configuration from configPath, or from fiber.yaml in the usual places when
// configPath is empty. A missing file is not an error in the latter case.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("fiber")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("scheduler.frame_budget", DefaultFrameBudget)
	v.SetDefault("scheduler.timeouts.immediate", DefaultImmediateTimeout)
	v.SetDefault("scheduler.timeouts.user_blocking", DefaultUserBlocking)
	v.SetDefault("scheduler.timeouts.normal", DefaultNormalTimeout)
	v.SetDefault("scheduler.timeouts.low", DefaultLowTimeout)
	v.SetDefault("scheduler.timeouts.idle", DefaultIdleTimeout)

	v.SetDefault("work_loop.max_pass_retries", DefaultMaxPassRetries)

	v.SetDefault("lanes.sync_timeout", DefaultSyncLaneTimeout)
	v.SetDefault("lanes.continuous_timeout", DefaultContinuousLaneTimeout)
	v.SetDefault("lanes.default_timeout", DefaultDefaultLaneTimeout)

	v.SetDefault("logging.level", DefaultLogLevel)
	v.SetDefault("logging.format", DefaultLogFormat)
}

// Validate checks every value Load could not have rejected on its own.
func (c *Config) Validate() error {
	if c.Scheduler.FrameBudget <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidFrameBudget, c.Scheduler.FrameBudget)
	}

	// immediate tasks are overdue as soon as they are scheduled, any value goes
	timeouts := map[string]time.Duration{
		"user_blocking": c.Scheduler.Timeouts.UserBlocking,
		"normal":        c.Scheduler.Timeouts.Normal,
		"low":           c.Scheduler.Timeouts.Low,
		"idle":          c.Scheduler.Timeouts.Idle,
	}
	for name, d := range timeouts {
		if d <= 0 {
			return fmt.Errorf("%w: %s = %s", ErrInvalidTimeout, name, d)
		}
	}

	lanes := map[string]time.Duration{
		"sync_timeout":       c.Lanes.SyncTimeout,
		"continuous_timeout": c.Lanes.ContinuousTimeout,
		"default_timeout":    c.Lanes.DefaultTimeout,
	}
	for name, d := range lanes {
		if d <= 0 {
			return fmt.Errorf("%w: %s = %s", ErrInvalidLaneTimeout, name, d)
		}
	}

	if c.WorkLoop.MaxPassRetries <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPassRetries, c.WorkLoop.MaxPassRetries)
	}

	if _, err := c.Logging.level(); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, c.Logging.Format)
	}

	return nil
}

func (c LoggingConfig) level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Level)
	}
	return level, nil
}

// NewLogger builds a slog logger writing to w with the configured level and format.
func (c LoggingConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := c.level()
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// YAML renders the configuration as a file Load would read back, durations included.
func (c *Config) YAML() ([]byte, error) {
	doc := map[string]any{
		"scheduler": map[string]any{
			"frame_budget": c.Scheduler.FrameBudget.String(),
			"timeouts": map[string]any{
				"immediate":     c.Scheduler.Timeouts.Immediate.String(),
				"user_blocking": c.Scheduler.Timeouts.UserBlocking.String(),
				"normal":        c.Scheduler.Timeouts.Normal.String(),
				"low":           c.Scheduler.Timeouts.Low.String(),
				"idle":          c.Scheduler.Timeouts.Idle.String(),
			},
		},
		"work_loop": map[string]any{
			"max_pass_retries": c.WorkLoop.MaxPassRetries,
		},
		"lanes": map[string]any{
			"sync_timeout":       c.Lanes.SyncTimeout.String(),
			"continuous_timeout": c.Lanes.ContinuousTimeout.String(),
			"default_timeout":    c.Lanes.DefaultTimeout.String(),
		},
		"logging": map[string]any{
			"level":  c.Logging.Level,
			"format": c.Logging.Format,
		},
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return out, nil
}
