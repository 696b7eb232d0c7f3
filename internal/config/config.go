// Package config loads the ghosttown server and client settings from flags, environment
// variables and an optional config file.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load, e.g. GHOSTTOWN_ADDR.
const EnvPrefix = "GHOSTTOWN"

// Config holds the settings of a ghosttown process.
type Config struct {
	Addr        string `mapstructure:"addr"`
	Path        string `mapstructure:"path"`
	MetricsAddr string `mapstructure:"metrics-addr"`
	Stdio       bool   `mapstructure:"stdio"`

	Lenient       bool          `mapstructure:"lenient"`
	TopLevelTools bool          `mapstructure:"top-level-tools"`
	SessionTTL    time.Duration `mapstructure:"session-ttl"`
	MaxBodySize   int64         `mapstructure:"max-body-size"`
	Expose        []string      `mapstructure:"expose"`

	// Zero RPS disables the corresponding limit.
	GlobalRPS   float64 `mapstructure:"global-rps"`
	GlobalBurst int     `mapstructure:"global-burst"`
	ToolRPS     float64 `mapstructure:"tool-rps"`
	ToolBurst   int     `mapstructure:"tool-burst"`

	URL       string        `mapstructure:"url"`
	Streaming bool          `mapstructure:"streaming"`
	Timeout   time.Duration `mapstructure:"timeout"`

	LogLevel  string `mapstructure:"log-level"`
	LogFormat string `mapstructure:"log-format"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Addr:        "127.0.0.1:8080",
		Path:        "/jsonrpc",
		SessionTTL:  30 * time.Minute,
		MaxBodySize: 4 << 20,
		URL:         "http://127.0.0.1:8080/jsonrpc",
		Streaming:   true,
		Timeout:     30 * time.Second,
		LogLevel:    "info",
		LogFormat:   "text",
	}
}

// Load builds a Config from, in increasing priority: defaults, the config file (if
// configFile is not empty), GHOSTTOWN_* environment variables and the flags that were set
// explicitly. flags may be nil.
func Load(flags *pflag.FlagSet, configFile string) (Config, error) {
	v := viper.New()

	def := Default()
	v.SetDefault("addr", def.Addr)
	v.SetDefault("path", def.Path)
	v.SetDefault("metrics-addr", def.MetricsAddr)
	v.SetDefault("stdio", def.Stdio)
	v.SetDefault("lenient", def.Lenient)
	v.SetDefault("top-level-tools", def.TopLevelTools)
	v.SetDefault("session-ttl", def.SessionTTL)
	v.SetDefault("max-body-size", def.MaxBodySize)
	v.SetDefault("expose", def.Expose)
	v.SetDefault("global-rps", def.GlobalRPS)
	v.SetDefault("global-burst", def.GlobalBurst)
	v.SetDefault("tool-rps", def.ToolRPS)
	v.SetDefault("tool-burst", def.ToolBurst)
	v.SetDefault("url", def.URL)
	v.SetDefault("streaming", def.Streaming)
	v.SetDefault("timeout", def.Timeout)
	v.SetDefault("log-level", def.LogLevel)
	v.SetDefault("log-format", def.LogFormat)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("failed to bind flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate reports every problem of the configuration at once.
func (c Config) Validate() error {
	var result *multierror.Error

	if !c.Stdio && c.Addr == "" {
		result = multierror.Append(result, errors.New("addr is required unless stdio is set"))
	}
	if !strings.HasPrefix(c.Path, "/") {
		result = multierror.Append(result, fmt.Errorf("path %q must start with /", c.Path))
	}
	if c.SessionTTL <= 0 {
		result = multierror.Append(result, fmt.Errorf("session-ttl must be positive, got %s", c.SessionTTL))
	}
	if c.MaxBodySize <= 0 {
		result = multierror.Append(result, fmt.Errorf("max-body-size must be positive, got %d", c.MaxBodySize))
	}
	if c.GlobalRPS < 0 || c.ToolRPS < 0 {
		result = multierror.Append(result, errors.New("rate limits must not be negative"))
	}
	if c.Timeout < 0 {
		result = multierror.Append(result, fmt.Errorf("timeout must not be negative, got %s", c.Timeout))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		result = multierror.Append(result, err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		result = multierror.Append(result, fmt.Errorf("log-format must be text or json, got %q", c.LogFormat))
	}

	return result.ErrorOrNil()
}

// NewLogger returns a logger writing to w at the configured level and format.
func (c Config) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log-level %q: %w", s, err)
	}
	return level, nil
}
