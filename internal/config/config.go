// Package config loads Razor's runtime configuration from a YAML file,
// environment variables, and defaults, validating the result. It mirrors
// the viper+validator configuration style used elsewhere in the retrieved
// example pack (dittofs' pkg/config), scaled down to Razor's four
// documented options (spec.md §6) plus ambient logging/metrics knobs.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// LoggingConfig controls pkg/logging.Init.
type LoggingConfig struct {
	Level       string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Development bool   `mapstructure:"development"`
}

// MetricsConfig controls pkg/metrics.Serve.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port" validate:"omitempty,min=1,max=65535"`
}

// Config is Razor's full runtime configuration surface.
type Config struct {
	Port          uint16 `mapstructure:"port" validate:"required"`
	Role          string `mapstructure:"role" validate:"required,oneof=daemon slave"`
	DaemonAddress string `mapstructure:"daemon_endpoint" validate:"required_if=Role slave"`
	LogNetworking bool   `mapstructure:"log_networking"`

	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

func defaults() *Config {
	return &Config{
		Port:    11223,
		Role:    "slave",
		Logging: LoggingConfig{Level: "info"},
		Metrics: MetricsConfig{Enabled: false, Port: 9090},
	}
}

// Load reads configuration from defaults, the YAML file at path (if it
// exists), and environment variables prefixed RAZOR_, in that order of
// increasing priority, then validates the result. A missing file at path is
// not an error.
//
// role, when non-empty, overrides whatever role the file/env/defaults would
// otherwise produce: the CLI subcommand invoked (daemon or slave) always
// knows its own role unambiguously, so that takes priority over config
// content rather than fighting with it.
func Load(path, role string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RAZOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config: reading %s: %w", path, err)
			}
		}
	}

	if role != "" {
		v.Set("role", role)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decoding: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := defaults()
	v.SetDefault("port", d.Port)
	v.SetDefault("role", d.Role)
	v.SetDefault("daemon_endpoint", d.DaemonAddress)
	v.SetDefault("log_networking", d.LogNetworking)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.development", d.Logging.Development)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.port", d.Metrics.Port)
}

// MustLoad calls Load and panics with a friendly message on failure. It is
// meant for the CLI entrypoint; nothing there recovers the panic, so a bad
// configuration ends the process with that message.
func MustLoad(path, role string) *Config {
	cfg, err := Load(path, role)
	if err != nil {
		panic(fmt.Sprintf("razor: failed to load configuration: %v", err))
	}
	return cfg
}
