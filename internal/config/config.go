package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	API             APIConfig         `yaml:"api"`
	Poll            PollConfig        `yaml:"poll"`
	Token           TokenConfig       `yaml:"token"`
	Events          EventsConfig      `yaml:"events"`
	Database        DatabaseConfig    `yaml:"database"`
	Log             LogConfig         `yaml:"log"`
	Healthcheck     HealthcheckConfig `yaml:"healthcheck"`
	EventBus        EventBusConfig    `yaml:"eventbus"`
	ShutdownTimeout Duration          `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// APIConfig contains Miele cloud API connection settings
type APIConfig struct {
	BaseURL      string   `yaml:"base_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Username     string   `yaml:"username"`
	Password     string   `yaml:"password"`
	Locale       string   `yaml:"locale"`  // Language for localized program/status names
	Timeout      Duration `yaml:"timeout"` // HTTP timeout for API requests
	RateLimitRPS float64  `yaml:"rate_limit_rps"`
}

// PollConfig contains polling intervals
type PollConfig struct {
	Interval        Duration `yaml:"interval"`         // Device list/state poll interval
	ActionsInterval Duration `yaml:"actions_interval"` // Permitted-actions poll interval
}

// TokenConfig contains token lifecycle settings
type TokenConfig struct {
	CheckInterval Duration `yaml:"check_interval"` // How often to check for expiry
	ExpiryHorizon Duration `yaml:"expiry_horizon"` // Refresh when expiry is this close

	// Retry settings for transient login/refresh failures
	MinRetryBackoff Duration `yaml:"min_retry_backoff"` // Minimum backoff between attempts (default: 30s)
	MaxRetryBackoff Duration `yaml:"max_retry_backoff"` // Maximum backoff between attempts (default: 10m)
	RetryMultiplier float64  `yaml:"retry_multiplier"`  // Backoff multiplier (default: 2.0)
	MaxAttempts     int      `yaml:"max_attempts"`      // Max attempts, 0 = infinite (default: 0)
}

// EventsConfig contains SSE stream settings
type EventsConfig struct {
	Enabled bool `yaml:"enabled"`

	// Reconnect settings
	MinRetryBackoff Duration `yaml:"min_retry_backoff"` // Minimum backoff between reconnects (default: 1s)
	MaxRetryBackoff Duration `yaml:"max_retry_backoff"` // Maximum backoff between reconnects (default: 2m)
	RetryMultiplier float64  `yaml:"retry_multiplier"`  // Backoff multiplier (default: 2.0)
	MaxReconnects   int      `yaml:"max_reconnects"`    // Max reconnect attempts, 0 = infinite (default: 0)
	PingTimeout     Duration `yaml:"ping_timeout"`      // Reconnect when no ping arrives within this window
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	UseJSON bool   `yaml:"json"`
	Colors  bool   `yaml:"colors"`
}

// GetLevel returns the log level with default
func (c *LogConfig) GetLevel() string {
	if c.Level == "" {
		return "info"
	}
	return c.Level
}

// HealthcheckConfig contains health check server settings
type HealthcheckConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 4)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 4
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	if cfg.API.Username == "" || cfg.API.Password == "" {
		return nil, fmt.Errorf("api.username and api.password are required")
	}
	if cfg.API.ClientID == "" || cfg.API.ClientSecret == "" {
		return nil, fmt.Errorf("api.client_id and api.client_secret are required")
	}

	// API defaults
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = "https://api.mcs3.miele.com/"
	}
	if cfg.API.Locale == "" {
		cfg.API.Locale = "en"
	}
	if cfg.API.Timeout == 0 {
		cfg.API.Timeout = Duration(60 * time.Second)
	}
	if cfg.API.RateLimitRPS == 0 {
		cfg.API.RateLimitRPS = 2.0
	}

	// Poll defaults
	if cfg.Poll.Interval == 0 {
		cfg.Poll.Interval = Duration(5 * time.Minute)
	}
	if cfg.Poll.ActionsInterval == 0 {
		cfg.Poll.ActionsInterval = cfg.Poll.Interval
	}

	// Token defaults
	if cfg.Token.CheckInterval == 0 {
		cfg.Token.CheckInterval = Duration(12 * time.Hour)
	}
	if cfg.Token.ExpiryHorizon == 0 {
		cfg.Token.ExpiryHorizon = Duration(24 * time.Hour)
	}
	if cfg.Token.MinRetryBackoff == 0 {
		cfg.Token.MinRetryBackoff = Duration(30 * time.Second)
	}
	if cfg.Token.MaxRetryBackoff == 0 {
		cfg.Token.MaxRetryBackoff = Duration(10 * time.Minute)
	}
	if cfg.Token.RetryMultiplier == 0 {
		cfg.Token.RetryMultiplier = 2.0
	}
	// MaxAttempts defaults to 0 (infinite), no need to set

	// Events defaults
	if cfg.Events.MinRetryBackoff == 0 {
		cfg.Events.MinRetryBackoff = Duration(1 * time.Second)
	}
	if cfg.Events.MaxRetryBackoff == 0 {
		cfg.Events.MaxRetryBackoff = Duration(2 * time.Minute)
	}
	if cfg.Events.RetryMultiplier == 0 {
		cfg.Events.RetryMultiplier = 2.0
	}
	if cfg.Events.PingTimeout == 0 {
		cfg.Events.PingTimeout = Duration(90 * time.Second)
	}

	// Database defaults
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./mieled.sqlite"
	}

	// Healthcheck defaults
	if cfg.Healthcheck.Port == 0 {
		cfg.Healthcheck.Port = 9090
	}
	if cfg.Healthcheck.Host == "" {
		cfg.Healthcheck.Host = "0.0.0.0"
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}

	return &cfg, nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}

// ExpandEnvString expands a single string with environment variables
func ExpandEnvString(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return expandEnvVars(s)
	}
	return s
}
