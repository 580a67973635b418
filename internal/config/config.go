package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// AppName names the config directory and environment prefix.
const AppName = "rulesched"

// Config represents the complete rulesched configuration
type Config struct {
	Workers   WorkersConfig   `mapstructure:"workers" yaml:"workers"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	Debug     DebugConfig     `mapstructure:"debug" yaml:"debug"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
}

// WorkersConfig sizes the worker pool
type WorkersConfig struct {
	// Max is the upper bound on concurrently running worker goroutines
	Max int `mapstructure:"max" yaml:"max"`
	// Min is the number of idle workers kept alive past the idle timeout
	Min int `mapstructure:"min" yaml:"min"`
	// IdleTimeoutMs is how long an idle worker waits for work before exiting
	IdleTimeoutMs int `mapstructure:"idle_timeout_ms" yaml:"idle_timeout_ms"`
}

// SchedulerConfig controls engine polling intervals and shutdown
type SchedulerConfig struct {
	// WatchdogIntervalMs is how often blocked thread jobs have their monitors polled
	WatchdogIntervalMs int `mapstructure:"watchdog_interval_ms" yaml:"watchdog_interval_ms"`
	// JoinPollIntervalMs bounds each wait slice inside Join
	JoinPollIntervalMs int `mapstructure:"join_poll_interval_ms" yaml:"join_poll_interval_ms"`
	// ShutdownWaitAttempts is how many times shutdown waits for running jobs to exit
	ShutdownWaitAttempts int `mapstructure:"shutdown_wait_attempts" yaml:"shutdown_wait_attempts"`
	// ShutdownWaitMs is the length of each shutdown wait
	ShutdownWaitMs int `mapstructure:"shutdown_wait_ms" yaml:"shutdown_wait_ms"`
}

// DebugConfig toggles engine tracing. It can be changed while running.
type DebugConfig struct {
	Jobs             bool `mapstructure:"jobs" yaml:"jobs"`
	BeginEnd         bool `mapstructure:"begin_end" yaml:"begin_end"`
	Yielding         bool `mapstructure:"yielding" yaml:"yielding"`
	YieldingDetailed bool `mapstructure:"yielding_detailed" yaml:"yielding_detailed"`
	// ErrorOnDeadlock reports every detected deadlock as an internal fault
	ErrorOnDeadlock bool `mapstructure:"error_on_deadlock" yaml:"error_on_deadlock"`
	Locks           bool `mapstructure:"locks" yaml:"locks"`
	Shutdown        bool `mapstructure:"shutdown" yaml:"shutdown"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether engine.log is written (default: true)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Level sets the minimum log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level" yaml:"level"`
	// Dir is the directory holding engine.log. Empty means stderr.
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Workers: WorkersConfig{
			Max:           max(4, runtime.GOMAXPROCS(0)),
			Min:           1,
			IdleTimeoutMs: 60000,
		},
		Scheduler: SchedulerConfig{
			WatchdogIntervalMs:   250,
			JoinPollIntervalMs:   100,
			ShutdownWaitAttempts: 3,
			ShutdownWaitMs:       100,
		},
		Logging: LoggingConfig{
			Enabled: true,
			Level:   "info",
			Dir:     "",
		},
	}
}

// IdleTimeout returns the worker idle timeout as a time.Duration
func (c *WorkersConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutMs) * time.Millisecond
}

// WatchdogInterval returns the watchdog poll interval as a time.Duration
func (c *SchedulerConfig) WatchdogInterval() time.Duration {
	return time.Duration(c.WatchdogIntervalMs) * time.Millisecond
}

// JoinPollInterval returns the join wait slice as a time.Duration
func (c *SchedulerConfig) JoinPollInterval() time.Duration {
	return time.Duration(c.JoinPollIntervalMs) * time.Millisecond
}

// ShutdownWait returns the length of one shutdown wait as a time.Duration
func (c *SchedulerConfig) ShutdownWait() time.Duration {
	return time.Duration(c.ShutdownWaitMs) * time.Millisecond
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Worker pool defaults
	viper.SetDefault("workers.max", defaults.Workers.Max)
	viper.SetDefault("workers.min", defaults.Workers.Min)
	viper.SetDefault("workers.idle_timeout_ms", defaults.Workers.IdleTimeoutMs)

	// Scheduler defaults
	viper.SetDefault("scheduler.watchdog_interval_ms", defaults.Scheduler.WatchdogIntervalMs)
	viper.SetDefault("scheduler.join_poll_interval_ms", defaults.Scheduler.JoinPollIntervalMs)
	viper.SetDefault("scheduler.shutdown_wait_attempts", defaults.Scheduler.ShutdownWaitAttempts)
	viper.SetDefault("scheduler.shutdown_wait_ms", defaults.Scheduler.ShutdownWaitMs)

	// Debug defaults
	viper.SetDefault("debug.jobs", defaults.Debug.Jobs)
	viper.SetDefault("debug.begin_end", defaults.Debug.BeginEnd)
	viper.SetDefault("debug.yielding", defaults.Debug.Yielding)
	viper.SetDefault("debug.yielding_detailed", defaults.Debug.YieldingDetailed)
	viper.SetDefault("debug.error_on_deadlock", defaults.Debug.ErrorOnDeadlock)
	viper.SetDefault("debug.locks", defaults.Debug.Locks)
	viper.SetDefault("debug.shutdown", defaults.Debug.Shutdown)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
}

// Load reads the configuration from viper into a Config struct
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration, falling back to defaults if it
// cannot be loaded
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// WatchDebug invokes fn with the new debug flags every time the config file
// is written. Invalid edits are ignored. viper must already have a config
// file in use.
func WatchDebug(fn func(DebugConfig)) {
	viper.OnConfigChange(debugChangeHandler(fn))
	viper.WatchConfig()
}

func debugChangeHandler(fn func(DebugConfig)) func(fsnotify.Event) {
	return func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := Load()
		if err != nil {
			return
		}
		fn(cfg.Debug)
	}
}

// ConfigDir returns the configuration directory path
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, AppName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "." + AppName
	}
	return filepath.Join(home, ".config", AppName)
}

// ConfigFile returns the default config file path
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
