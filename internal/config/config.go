// Package config loads the YAML service configuration.
package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config is the top level configuration carrier.
type Config struct {
	App    AppConfig    `toml:"app"`
	Server ServerConfig `toml:"server"`
	Store  StoreConfig  `toml:"store"`
	Broker BrokerConfig `toml:"broker"`
	Risk   RiskConfig   `toml:"risk"`
	Notify NotifyConfig `toml:"notify"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
}

type ServerConfig struct {
	HTTPAddr string `toml:"http_addr"`
}

type StoreConfig struct {
	Path string `toml:"path"`
}

type BrokerConfig struct {
	DefaultAdapter string `toml:"default_adapter"`
}

// RiskConfig controls the background enforcement loop. EnforceUsers lists
// the user ids the loop sweeps; an empty list disables the loop.
type RiskConfig struct {
	EnforceInterval string   `toml:"enforce_interval"`
	EnforceUsers    []string `toml:"enforce_users"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

const (
	defaultAppEnv          = "dev"
	defaultAppLogLevel     = "info"
	defaultAppLogPath      = "/data/logs/fandesk.log"
	defaultHTTPAddr        = ":9980"
	defaultStorePath       = "/data/db/fandesk.db"
	defaultBrokerAdapter   = "paper_trading"
	defaultEnforceInterval = "1m"
)

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults()
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.App.Env) == "" {
		c.App.Env = defaultAppEnv
	}
	if strings.TrimSpace(c.App.LogLevel) == "" {
		c.App.LogLevel = defaultAppLogLevel
	}
	if strings.TrimSpace(c.App.LogPath) == "" {
		c.App.LogPath = defaultAppLogPath
	}
	if strings.TrimSpace(c.Server.HTTPAddr) == "" {
		c.Server.HTTPAddr = defaultHTTPAddr
	}
	if strings.TrimSpace(c.Store.Path) == "" {
		c.Store.Path = defaultStorePath
	}
	if strings.TrimSpace(c.Broker.DefaultAdapter) == "" {
		c.Broker.DefaultAdapter = defaultBrokerAdapter
	}
	if strings.TrimSpace(c.Risk.EnforceInterval) == "" {
		c.Risk.EnforceInterval = defaultEnforceInterval
	}
}

func validate(c *Config) error {
	switch c.App.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("app.log_level must be one of debug/info/warn/error, got %q", c.App.LogLevel)
	}
	if c.Notify.Telegram.Enabled {
		if strings.TrimSpace(c.Notify.Telegram.BotToken) == "" {
			return fmt.Errorf("notify.telegram.bot_token required when telegram is enabled")
		}
		if strings.TrimSpace(c.Notify.Telegram.ChatID) == "" {
			return fmt.Errorf("notify.telegram.chat_id required when telegram is enabled")
		}
	}
	return nil
}
