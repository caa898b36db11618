// Package config loads hotload's settings from a config file, HOTLOAD_*
// environment variables and built-in defaults, in that order of precedence
// below command-line flags.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// AppName is the application name.
	AppName = "hotload"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "hotload"
	// EnvPrefix prefixes environment overrides, e.g. HOTLOAD_TIMEOUT.
	EnvPrefix = "HOTLOAD"
)

// Global is a value injected into every script's global scope.
type Global struct {
	Name  string `mapstructure:"name"`
	Value any    `mapstructure:"value"`
}

// WatchConfig controls the watch command.
type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

// Config holds everything needed to build a loader.
type Config struct {
	LogLevel         string        `mapstructure:"log_level"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxImportDepth   int           `mapstructure:"max_import_depth"`
	MaxCallStackSize int           `mapstructure:"max_call_stack_size"`
	// Mounts are "virtual:host[:mode]" entries for the fs host module.
	Mounts     []string    `mapstructure:"mounts"`
	KV         bool        `mapstructure:"kv"`
	AllowHosts []string    `mapstructure:"allow_hosts"`
	Globals    []Global    `mapstructure:"globals"`
	Watch      WatchConfig `mapstructure:"watch"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		LogLevel:       "info",
		MaxImportDepth: 64,
		Mounts:         []string{},
		AllowHosts:     []string{},
		Globals:        []Global{},
		Watch: WatchConfig{
			Debounce: 200 * time.Millisecond,
		},
	}
}

// ConfigDir returns $XDG_CONFIG_HOME/hotload, falling back to
// ~/.config/hotload.
//
//nolint:revive // ConfigDir reads better than Dir at call sites
func ConfigDir() (string, error) {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, AppName), nil
}

// Load reads the configuration. With a non-empty path that file is used
// and must exist. Otherwise hotload.{yaml,toml,json} is looked up in the
// working directory and then in ConfigDir; finding none is not an error.
// The second return value is the file that was read, or "".
func Load(ctx context.Context, path string) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()

	defaults := Default()
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("timeout", defaults.Timeout)
	v.SetDefault("max_import_depth", defaults.MaxImportDepth)
	v.SetDefault("max_call_stack_size", defaults.MaxCallStackSize)
	v.SetDefault("mounts", defaults.Mounts)
	v.SetDefault("kv", defaults.KV)
	v.SetDefault("allow_hosts", defaults.AllowHosts)
	v.SetDefault("globals", defaults.Globals)
	v.SetDefault("watch.debounce", defaults.Watch.Debounce)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(ConfigFileName)
		v.AddConfigPath(".")
		if dir, err := ConfigDir(); err == nil {
			v.AddConfigPath(dir)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, "", fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return &cfg, v.ConfigFileUsed(), nil
}

// Validate reports settings no loader could be built from.
func (c *Config) Validate() error {
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative: %s", c.Timeout)
	}
	if c.MaxImportDepth < 1 {
		return fmt.Errorf("max_import_depth must be at least 1: %d", c.MaxImportDepth)
	}
	if c.MaxCallStackSize < 0 {
		return fmt.Errorf("max_call_stack_size must not be negative: %d", c.MaxCallStackSize)
	}
	if c.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative: %s", c.Watch.Debounce)
	}
	for i, g := range c.Globals {
		if g.Name == "" {
			return fmt.Errorf("globals[%d]: name is required", i)
		}
	}
	return nil
}
