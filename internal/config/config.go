// Package config defines all configuration for the futures tool server.
// Config is loaded from the environment (optionally seeded from a YAML file)
// with credentials overridable via BINANCE_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Exchange endpoints by environment.
const (
	ProdRESTBase    = "https://fapi.binance.com"
	ProdWSBase      = "wss://fstream.binance.com"
	TestnetRESTBase = "https://testnet.binancefuture.com"
	TestnetWSBase   = "wss://stream.binancefuture.com"
)

// Config is the top-level configuration.
type Config struct {
	Exchange ExchangeConfig `mapstructure:"exchange"`
	Server   ServerConfig   `mapstructure:"server"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ExchangeConfig holds credentials and request tuning for the exchange API.
// Testnet flips both the REST and WS base URLs.
type ExchangeConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	APISecret  string        `mapstructure:"api_secret"`
	Testnet    bool          `mapstructure:"testnet"`
	RecvWindow int           `mapstructure:"recv_window"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// RESTBase returns the REST base URL for the configured environment.
func (e ExchangeConfig) RESTBase() string {
	if e.Testnet {
		return TestnetRESTBase
	}
	return ProdRESTBase
}

// WSBase returns the WebSocket base URL for the configured environment.
func (e ExchangeConfig) WSBase() string {
	if e.Testnet {
		return TestnetWSBase
	}
	return ProdWSBase
}

// ServerConfig controls the HTTP tool surface.
type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// JobsConfig tunes the background order orchestrators.
type JobsConfig struct {
	BracketPollInterval time.Duration `mapstructure:"bracket_poll_interval"`
	BracketMaxMonitor   time.Duration `mapstructure:"bracket_max_monitor"`
	TTLMaxSeconds       int           `mapstructure:"ttl_max_seconds"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from the environment, optionally seeded from a YAML file
// when path is non-empty. Credentials use env vars: BINANCE_API_KEY,
// BINANCE_API_SECRET, BINANCE_TESTNET.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("exchange.recv_window", 5000)
	v.SetDefault("exchange.timeout", 10*time.Second)
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("jobs.bracket_poll_interval", 2*time.Second)
	v.SetDefault("jobs.bracket_max_monitor", time.Hour)
	v.SetDefault("jobs.ttl_max_seconds", 600)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if key := os.Getenv("BINANCE_API_KEY"); key != "" {
		cfg.Exchange.APIKey = key
	}
	if secret := os.Getenv("BINANCE_API_SECRET"); secret != "" {
		cfg.Exchange.APISecret = secret
	}
	if tn := os.Getenv("BINANCE_TESTNET"); tn == "true" || tn == "1" {
		cfg.Exchange.Testnet = true
	}
	if rw := os.Getenv("BINANCE_RECV_WINDOW"); rw != "" {
		var n int
		if _, err := fmt.Sscanf(rw, "%d", &n); err == nil && n > 0 {
			cfg.Exchange.RecvWindow = n
		}
	}
	if addr := os.Getenv("AGENT_LISTEN_ADDR"); addr != "" {
		cfg.Server.ListenAddr = addr
	}
	if lvl := os.Getenv("AGENT_LOG_LEVEL"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	if format := os.Getenv("AGENT_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Exchange.APIKey == "" {
		return fmt.Errorf("exchange.api_key is required (set BINANCE_API_KEY)")
	}
	if c.Exchange.APISecret == "" {
		return fmt.Errorf("exchange.api_secret is required (set BINANCE_API_SECRET)")
	}
	if c.Exchange.RecvWindow <= 0 || c.Exchange.RecvWindow > 60000 {
		return fmt.Errorf("exchange.recv_window must be in (0, 60000]")
	}
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if c.Jobs.BracketPollInterval <= 0 {
		return fmt.Errorf("jobs.bracket_poll_interval must be > 0")
	}
	if c.Jobs.TTLMaxSeconds <= 0 {
		return fmt.Errorf("jobs.ttl_max_seconds must be > 0")
	}
	return nil
}
