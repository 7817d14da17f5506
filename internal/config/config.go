package config

import (
	"fmt"
	"time"

	"github.com/loykin/pm2ctl/internal/logger"
	"github.com/loykin/pm2ctl/internal/store"
	"github.com/spf13/viper"
)

// Defaults for the execution layer. A missing config file yields these
// values unchanged.
const (
	DefaultPM2Bin         = "pm2"
	DefaultCommandTimeout = 5 * time.Second
	DefaultLogTimeout     = 2 * time.Second
	DefaultMaxRetries     = 3
	DefaultRetryBackoff   = 100 * time.Millisecond
	DefaultBackoffCap     = 2 * time.Second
	DefaultOnlineWait     = 2 * time.Second
	DefaultMaxLogLines    = 1000
	DefaultConfigDir      = "pm2ctl-apps"
	DefaultListen         = ":8087"
)

// ServerConfig configures the embedded HTTP API.
type ServerConfig struct {
	Enabled  bool   `toml:"enabled" mapstructure:"enabled"`
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

// ClickHouseConfig configures the optional operation-history sink.
type ClickHouseConfig struct {
	Addr     string `toml:"addr" mapstructure:"addr"`
	Database string `toml:"database" mapstructure:"database"`
	Username string `toml:"username" mapstructure:"username"`
	Password string `toml:"password" mapstructure:"password"`
	Table    string `toml:"table" mapstructure:"table"`
}

type HistoryConfig struct {
	ClickHouse *ClickHouseConfig `toml:"clickhouse" mapstructure:"clickhouse"`
}

// Config is the top-level TOML structure.
type Config struct {
	PM2Bin          string        `toml:"pm2_bin" mapstructure:"pm2_bin"`
	CommandTimeout  time.Duration `toml:"command_timeout" mapstructure:"command_timeout"`
	LogTimeout      time.Duration `toml:"log_timeout" mapstructure:"log_timeout"`
	MaxRetries      int           `toml:"max_retries" mapstructure:"max_retries"`
	RetryBackoff    time.Duration `toml:"retry_backoff" mapstructure:"retry_backoff"`
	RetryBackoffCap time.Duration `toml:"retry_backoff_cap" mapstructure:"retry_backoff_cap"`
	ConfigDir       string        `toml:"config_dir" mapstructure:"config_dir"`
	OnlineWait      time.Duration `toml:"online_wait" mapstructure:"online_wait"`
	MaxLogLines     int           `toml:"max_log_lines" mapstructure:"max_log_lines"`

	Server  ServerConfig   `toml:"server" mapstructure:"server"`
	Log     logger.Config  `toml:"log" mapstructure:"log"`
	Store   *store.Config  `toml:"store" mapstructure:"store"`
	History *HistoryConfig `toml:"history" mapstructure:"history"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		PM2Bin:          DefaultPM2Bin,
		CommandTimeout:  DefaultCommandTimeout,
		LogTimeout:      DefaultLogTimeout,
		MaxRetries:      DefaultMaxRetries,
		RetryBackoff:    DefaultRetryBackoff,
		RetryBackoffCap: DefaultBackoffCap,
		ConfigDir:       DefaultConfigDir,
		OnlineWait:      DefaultOnlineWait,
		MaxLogLines:     DefaultMaxLogLines,
		Server:          ServerConfig{Listen: DefaultListen},
	}
}

// Load parses a TOML config file. Unset keys fall back to defaults.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	setDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("pm2_bin", DefaultPM2Bin)
	v.SetDefault("command_timeout", DefaultCommandTimeout)
	v.SetDefault("log_timeout", DefaultLogTimeout)
	v.SetDefault("max_retries", DefaultMaxRetries)
	v.SetDefault("retry_backoff", DefaultRetryBackoff)
	v.SetDefault("retry_backoff_cap", DefaultBackoffCap)
	v.SetDefault("config_dir", DefaultConfigDir)
	v.SetDefault("online_wait", DefaultOnlineWait)
	v.SetDefault("max_log_lines", DefaultMaxLogLines)
	v.SetDefault("server.listen", DefaultListen)
}

// Validate rejects values the execution layer cannot run with.
func (c Config) Validate() error {
	if c.PM2Bin == "" {
		return fmt.Errorf("pm2_bin must not be empty")
	}
	if c.CommandTimeout <= 0 {
		return fmt.Errorf("command_timeout must be positive, got %v", c.CommandTimeout)
	}
	if c.LogTimeout <= 0 {
		return fmt.Errorf("log_timeout must be positive, got %v", c.LogTimeout)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1, got %d", c.MaxRetries)
	}
	if c.RetryBackoff < 0 || c.RetryBackoffCap < 0 {
		return fmt.Errorf("retry backoff values must not be negative")
	}
	if c.MaxLogLines < 1 {
		return fmt.Errorf("max_log_lines must be at least 1, got %d", c.MaxLogLines)
	}
	if c.ConfigDir == "" {
		return fmt.Errorf("config_dir must not be empty")
	}
	if c.Store != nil && c.Store.Type == "" {
		return fmt.Errorf("store.type must be set when [store] is present")
	}
	if c.History != nil && c.History.ClickHouse != nil && c.History.ClickHouse.Addr == "" {
		return fmt.Errorf("history.clickhouse.addr must be set when configured")
	}
	return nil
}
