// Package config loads agent settings from defaults, an optional config file
// and DAVI_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment key, e.g. DAVI_API_URL.
const EnvPrefix = "DAVI"

// Config holds the agent configuration.
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Server   ServerConfig   `mapstructure:"server"`
	Hardware HardwareConfig `mapstructure:"hardware"`
	Log      LogConfig      `mapstructure:"log"`
}

// APIConfig configures the submission client.
type APIConfig struct {
	URL        string        `mapstructure:"url"`         // base endpoint receiving submissions
	SearchPath string        `mapstructure:"search_path"` // resolved against URL
	Timeout    time.Duration `mapstructure:"timeout"`     // 0 disables the client timeout
}

// ServerConfig configures the websocket/HTTP server.
type ServerConfig struct {
	Port   int    `mapstructure:"port"`
	Secret string `mapstructure:"secret"` // optional secret for consumer websocket sessions
	MDNS   bool   `mapstructure:"mdns"`
}

// HardwareConfig selects the hardware collaborators.
type HardwareConfig struct {
	Remote bool   `mapstructure:"remote"` // accept smartphones on /ws?mode=device
	LibNFC bool   `mapstructure:"libnfc"` // poll a USB reader through libnfc
	Device string `mapstructure:"device"` // libnfc connection string, empty for auto-detect
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// New returns a viper instance with defaults and environment binding applied.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("api.url", "")
	v.SetDefault("api.search_path", "search")
	v.SetDefault("api.timeout", 30*time.Second)
	v.SetDefault("server.port", 18080)
	v.SetDefault("server.secret", "")
	v.SetDefault("server.mdns", true)
	v.SetDefault("hardware.remote", true)
	v.SetDefault("hardware.libnfc", false)
	v.SetDefault("hardware.device", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)
	return v
}

// Load reads configPath (when not empty) on top of the defaults and environment.
func Load(configPath string) (*Config, error) {
	v := New()
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", configPath, err)
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings the pipeline cannot run without.
func (c *Config) Validate() error {
	if c.API.URL == "" {
		return errors.New("api.url is required (set " + EnvPrefix + "_API_URL)")
	}
	u, err := url.Parse(c.API.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api.url must be an absolute http(s) URL: %q", c.API.URL)
	}
	if c.API.Timeout < 0 {
		return fmt.Errorf("api.timeout must not be negative: %s", c.API.Timeout)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if !c.Hardware.Remote && !c.Hardware.LibNFC {
		return errors.New("at least one of hardware.remote or hardware.libnfc must be enabled")
	}
	return nil
}
