// Package config handles configuration loading and management for Subplot.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for Subplot.
type Config struct {
	Agent      AgentConfig      `mapstructure:"agent"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Executor   ExecutorConfig   `mapstructure:"executor"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Watch      WatchConfig      `mapstructure:"watch"`
}

// AgentConfig describes how agent processes are invoked.
type AgentConfig struct {
	// Command is the agent binary invoked once per subtask.
	Command string `mapstructure:"command"`
	// Args are arguments passed on every invocation.
	Args []string `mapstructure:"args"`
	// Profiles maps a subtask category to an invocation profile.
	Profiles map[string]ProfileConfig `mapstructure:"profiles"`
}

// ProfileConfig is the per-category agent invocation override.
type ProfileConfig struct {
	Args  []string `mapstructure:"args"`
	Model string   `mapstructure:"model"`
}

// SchedulerConfig holds scheduling tunables.
type SchedulerConfig struct {
	// MaxPasses bounds scheduling passes per plan.
	MaxPasses int `mapstructure:"max_passes"`
	// WaveSettleDelay is the pause between scheduling passes.
	WaveSettleDelay time.Duration `mapstructure:"wave_settle_delay"`
	// MaxParallel caps subtasks launched per pass within one plan.
	MaxParallel int `mapstructure:"max_parallel"`
}

// ExecutorConfig holds process execution limits.
type ExecutorConfig struct {
	// HardCeiling is the wall-clock limit for a normal subtask.
	HardCeiling time.Duration `mapstructure:"hard_ceiling"`
	// HardCeilingComplex is the limit for high-complexity subtasks.
	HardCeilingComplex time.Duration `mapstructure:"hard_ceiling_complex"`
	// InactivityWindow terminates a silent process after this long.
	InactivityWindow time.Duration `mapstructure:"inactivity_window"`
	// TerminationGrace is the SIGTERM-to-SIGKILL delay.
	TerminationGrace time.Duration `mapstructure:"termination_grace"`
	// MaxSessions caps concurrent agent processes across all plans.
	MaxSessions int `mapstructure:"max_sessions"`
}

// CheckpointConfig holds snapshot settings.
type CheckpointConfig struct {
	// Interval is the periodic snapshot interval.
	Interval time.Duration `mapstructure:"interval"`
	// DBPath overrides the state database location.
	DBPath string `mapstructure:"db_path"`
}

// WatchConfig holds the plan submission watcher settings.
type WatchConfig struct {
	// Dir is the drop directory scanned for new plan files.
	Dir string `mapstructure:"dir"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (SUBPLOT_*)
// 2. Project config (.subplot.yaml in current directory or parent)
// 3. User config (~/.config/subplot/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	// Load project config if present
	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	// Environment variable overrides
	v.AutomaticEnv()
	v.BindEnv("agent.command", "SUBPLOT_AGENT_COMMAND")
	v.BindEnv("checkpoint.db_path", "SUBPLOT_DB_PATH")
	v.BindEnv("watch.dir", "SUBPLOT_WATCH_DIR")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return cfg, nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	// Agent defaults
	v.SetDefault("agent.command", "claude")
	v.SetDefault("agent.args", []string{"--print"})

	// Scheduler defaults
	v.SetDefault("scheduler.max_passes", 10)
	v.SetDefault("scheduler.wave_settle_delay", "100ms")
	v.SetDefault("scheduler.max_parallel", 0)

	// Executor defaults
	v.SetDefault("executor.hard_ceiling", "16m")
	v.SetDefault("executor.hard_ceiling_complex", "30m")
	v.SetDefault("executor.inactivity_window", "5m")
	v.SetDefault("executor.termination_grace", "5s")
	v.SetDefault("executor.max_sessions", 100)

	// Checkpoint defaults
	v.SetDefault("checkpoint.interval", "30s")
	v.SetDefault("checkpoint.db_path", "")

	// Watch defaults
	v.SetDefault("watch.dir", "")
}

// getUserConfigDir returns the XDG config directory for Subplot.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "subplot")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "subplot")
	}
	return filepath.Join(home, ".config", "subplot")
}

// findProjectConfig searches for .subplot.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".subplot.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Command: "claude",
			Args:    []string{"--print"},
		},
		Scheduler: SchedulerConfig{
			MaxPasses:       10,
			WaveSettleDelay: 100 * time.Millisecond,
		},
		Executor: ExecutorConfig{
			HardCeiling:        16 * time.Minute,
			HardCeilingComplex: 30 * time.Minute,
			InactivityWindow:   5 * time.Minute,
			TerminationGrace:   5 * time.Second,
			MaxSessions:        100,
		},
		Checkpoint: CheckpointConfig{
			Interval: 30 * time.Second,
		},
	}
}
