// Package config handles configuration management with validation.
//
// Configuration is environment-first: every option can be set through an
// environment variable. An optional YAML file provides defaults; environment
// variables win over file values. `${VAR}` references inside the file are
// expanded before parsing.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SizingStrategy names
const (
	StrategyCapitalProportional = "capital_proportional"
	StrategyFixedRatio          = "fixed_ratio"
	StrategyRiskBased           = "risk_based"
)

// Environment names
const (
	EnvProd    = "prod"
	EnvSandbox = "sandbox"
)

// Default broker endpoints per environment
const (
	prodBaseURL    = "https://api.dhan.co"
	prodStreamURL  = "wss://api-feed.dhan.co"
	sandboxBaseURL = "https://sandbox.dhan.co"
	sandboxStream  = "wss://sandbox-feed.dhan.co"
)

// AccountConfig holds credentials for one brokerage account.
type AccountConfig struct {
	ClientID    string `yaml:"client_id"`
	AccessToken Secret `yaml:"access_token"`
}

// SizingConfig holds position sizing parameters.
type SizingConfig struct {
	Strategy       string  `yaml:"strategy"`
	CopyRatio      float64 `yaml:"copy_ratio"`
	MaxPositionPct float64 `yaml:"max_position_pct"`
	FundsTTL       int     `yaml:"funds_ttl_seconds"`
}

// DispatchConfig holds rate limit, retry, and circuit breaker tuning.
type DispatchConfig struct {
	RateLimitPerSecond float64 `yaml:"rate_limit_per_second"`
	RetryAttempts      int     `yaml:"retry_attempts"`
	RetryBaseMS        int     `yaml:"retry_base_ms"`
	RetryMultiplier    float64 `yaml:"retry_backoff_multiplier"`
	MaxBackoffMS       int     `yaml:"max_backoff_ms"`
	CircuitThreshold   int     `yaml:"circuit_threshold"`
	CircuitTimeoutSec  int     `yaml:"circuit_timeout_seconds"`
	CircuitProbes      int     `yaml:"circuit_probe_successes"`
	RequestTimeoutSec  int     `yaml:"request_timeout_seconds"`
}

// StreamConfig holds stream resilience tuning.
type StreamConfig struct {
	HeartbeatTimeoutSec  int `yaml:"heartbeat_timeout_seconds"`
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`
	ReconnectBaseMS      int `yaml:"reconnect_base_ms"`
	ReconnectMaxMS       int `yaml:"reconnect_max_ms"`
	EventQueueSize       int `yaml:"event_queue_size"`
}

// SystemConfig holds process-level settings.
type SystemConfig struct {
	Environment       string   `yaml:"environment"`
	BaseURL           string   `yaml:"base_url"`
	StreamURL         string   `yaml:"stream_url"`
	StorePath         string   `yaml:"store_path"`
	EnableCopyTrading bool     `yaml:"enable_copy_trading"`
	CopySegments      []string `yaml:"copy_segments"`
	LogLevel          string   `yaml:"log_level"`
	MetricsPort       int      `yaml:"metrics_port"`
}

// Config is the complete configuration.
type Config struct {
	Leader   AccountConfig  `yaml:"leader"`
	Follower AccountConfig  `yaml:"follower"`
	Sizing   SizingConfig   `yaml:"sizing"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Stream   StreamConfig   `yaml:"stream"`
	System   SystemConfig   `yaml:"system"`
}

// ValidationError reports one invalid configuration field.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// Defaults returns a Config populated with production defaults.
func Defaults() *Config {
	return &Config{
		Sizing: SizingConfig{
			Strategy:       StrategyCapitalProportional,
			MaxPositionPct: 10.0,
			FundsTTL:       30,
		},
		Dispatch: DispatchConfig{
			RateLimitPerSecond: 10,
			RetryAttempts:      3,
			RetryBaseMS:        1000,
			RetryMultiplier:    2.0,
			MaxBackoffMS:       30000,
			CircuitThreshold:   5,
			CircuitTimeoutSec:  60,
			CircuitProbes:      2,
			RequestTimeoutSec:  10,
		},
		Stream: StreamConfig{
			HeartbeatTimeoutSec:  60,
			MaxReconnectAttempts: 10,
			ReconnectBaseMS:      1000,
			ReconnectMaxMS:       60000,
			EventQueueSize:       1024,
		},
		System: SystemConfig{
			Environment:       EnvProd,
			StorePath:         "./copytrader.db",
			EnableCopyTrading: true,
			LogLevel:          "INFO",
			MetricsPort:       9090,
		},
	}
}

// Load builds the configuration from an optional YAML file plus the
// environment. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		expanded := expandEnvVars(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyEnvironmentURLs()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{(\w+)\}`)

// expandEnvVars replaces ${VAR} references with their environment values.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}

// applyEnv overrides file/default values from environment variables.
func (c *Config) applyEnv() {
	setString(&c.Leader.ClientID, "LEADER_CLIENT_ID")
	setSecret(&c.Leader.AccessToken, "LEADER_ACCESS_TOKEN")
	setString(&c.Follower.ClientID, "FOLLOWER_CLIENT_ID")
	setSecret(&c.Follower.AccessToken, "FOLLOWER_ACCESS_TOKEN")

	setString(&c.Sizing.Strategy, "SIZING_STRATEGY")
	setFloat(&c.Sizing.CopyRatio, "COPY_RATIO")
	setFloat(&c.Sizing.MaxPositionPct, "MAX_POSITION_SIZE_PCT")
	setInt(&c.Sizing.FundsTTL, "FUNDS_TTL_SECONDS")

	setFloat(&c.Dispatch.RateLimitPerSecond, "RATE_LIMIT_PER_SECOND")
	setInt(&c.Dispatch.RetryAttempts, "RETRY_ATTEMPTS")
	setInt(&c.Dispatch.RetryBaseMS, "RETRY_BASE_MS")
	setFloat(&c.Dispatch.RetryMultiplier, "RETRY_BACKOFF_MULTIPLIER")
	setInt(&c.Dispatch.MaxBackoffMS, "MAX_BACKOFF_MS")
	setInt(&c.Dispatch.CircuitThreshold, "CIRCUIT_THRESHOLD")
	setInt(&c.Dispatch.CircuitTimeoutSec, "CIRCUIT_TIMEOUT_SECONDS")
	setInt(&c.Dispatch.CircuitProbes, "CIRCUIT_PROBE_SUCCESSES")
	setInt(&c.Dispatch.RequestTimeoutSec, "REQUEST_TIMEOUT_SECONDS")

	setInt(&c.Stream.HeartbeatTimeoutSec, "HEARTBEAT_TIMEOUT_SECONDS")
	setInt(&c.Stream.MaxReconnectAttempts, "MAX_RECONNECT_ATTEMPTS")
	setInt(&c.Stream.ReconnectBaseMS, "RECONNECT_BASE_MS")
	setInt(&c.Stream.ReconnectMaxMS, "RECONNECT_MAX_MS")
	setInt(&c.Stream.EventQueueSize, "EVENT_QUEUE_SIZE")

	setString(&c.System.Environment, "BROKER_ENV")
	setString(&c.System.BaseURL, "BROKER_API_BASE_URL")
	setString(&c.System.StreamURL, "BROKER_WS_URL")
	setString(&c.System.StorePath, "STORE_PATH")
	setBool(&c.System.EnableCopyTrading, "ENABLE_COPY_TRADING")
	setList(&c.System.CopySegments, "COPY_SEGMENTS")
	setString(&c.System.LogLevel, "LOG_LEVEL")
	setInt(&c.System.MetricsPort, "METRICS_PORT")
}

// applyEnvironmentURLs fills base/stream URLs from the selected environment
// when no explicit override was given.
func (c *Config) applyEnvironmentURLs() {
	if c.System.BaseURL == "" {
		if c.System.Environment == EnvSandbox {
			c.System.BaseURL = sandboxBaseURL
		} else {
			c.System.BaseURL = prodBaseURL
		}
	}
	if c.System.StreamURL == "" {
		if c.System.Environment == EnvSandbox {
			c.System.StreamURL = sandboxStream
		} else {
			c.System.StreamURL = prodStreamURL
		}
	}
}

// Validate performs comprehensive validation of the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Leader.ClientID == "" {
		errs = append(errs, ValidationError{"leader.client_id", "", "required"}.Error())
	}
	if c.Leader.AccessToken == "" {
		errs = append(errs, ValidationError{"leader.access_token", "", "required"}.Error())
	}
	if c.Follower.ClientID == "" {
		errs = append(errs, ValidationError{"follower.client_id", "", "required"}.Error())
	}
	if c.Follower.AccessToken == "" {
		errs = append(errs, ValidationError{"follower.access_token", "", "required"}.Error())
	}
	if c.Leader.ClientID != "" && c.Leader.ClientID == c.Follower.ClientID {
		errs = append(errs, ValidationError{"follower.client_id", c.Follower.ClientID, "leader and follower must be distinct accounts"}.Error())
	}

	switch c.Sizing.Strategy {
	case StrategyCapitalProportional, StrategyFixedRatio, StrategyRiskBased:
	default:
		errs = append(errs, ValidationError{"sizing.strategy", c.Sizing.Strategy, "must be one of capital_proportional, fixed_ratio, risk_based"}.Error())
	}
	if c.Sizing.CopyRatio < 0 {
		errs = append(errs, ValidationError{"sizing.copy_ratio", c.Sizing.CopyRatio, "must be >= 0"}.Error())
	}
	if c.Sizing.MaxPositionPct <= 0 || c.Sizing.MaxPositionPct > 100 {
		errs = append(errs, ValidationError{"sizing.max_position_pct", c.Sizing.MaxPositionPct, "must be in (0, 100]"}.Error())
	}
	if c.Sizing.FundsTTL < 1 {
		errs = append(errs, ValidationError{"sizing.funds_ttl_seconds", c.Sizing.FundsTTL, "must be >= 1"}.Error())
	}

	if c.Dispatch.RateLimitPerSecond <= 0 {
		errs = append(errs, ValidationError{"dispatch.rate_limit_per_second", c.Dispatch.RateLimitPerSecond, "must be > 0"}.Error())
	}
	if c.Dispatch.RetryAttempts < 1 || c.Dispatch.RetryAttempts > 10 {
		errs = append(errs, ValidationError{"dispatch.retry_attempts", c.Dispatch.RetryAttempts, "must be in [1, 10]"}.Error())
	}
	if c.Dispatch.RetryMultiplier < 1 {
		errs = append(errs, ValidationError{"dispatch.retry_backoff_multiplier", c.Dispatch.RetryMultiplier, "must be >= 1"}.Error())
	}
	if c.Dispatch.CircuitThreshold < 1 {
		errs = append(errs, ValidationError{"dispatch.circuit_threshold", c.Dispatch.CircuitThreshold, "must be >= 1"}.Error())
	}
	if c.Dispatch.CircuitProbes < 1 {
		errs = append(errs, ValidationError{"dispatch.circuit_probe_successes", c.Dispatch.CircuitProbes, "must be >= 1"}.Error())
	}
	if c.Dispatch.RequestTimeoutSec < 1 {
		errs = append(errs, ValidationError{"dispatch.request_timeout_seconds", c.Dispatch.RequestTimeoutSec, "must be >= 1"}.Error())
	}

	if c.Stream.HeartbeatTimeoutSec < 1 {
		errs = append(errs, ValidationError{"stream.heartbeat_timeout_seconds", c.Stream.HeartbeatTimeoutSec, "must be >= 1"}.Error())
	}
	if c.Stream.MaxReconnectAttempts < 1 {
		errs = append(errs, ValidationError{"stream.max_reconnect_attempts", c.Stream.MaxReconnectAttempts, "must be >= 1"}.Error())
	}
	if c.Stream.EventQueueSize < 1 {
		errs = append(errs, ValidationError{"stream.event_queue_size", c.Stream.EventQueueSize, "must be >= 1"}.Error())
	}

	if c.System.Environment != EnvProd && c.System.Environment != EnvSandbox {
		errs = append(errs, ValidationError{"system.environment", c.System.Environment, "must be prod or sandbox"}.Error())
	}
	switch strings.ToUpper(c.System.LogLevel) {
	case "DEBUG", "INFO", "WARN", "WARNING", "ERROR", "FATAL":
	default:
		errs = append(errs, ValidationError{"system.log_level", c.System.LogLevel, "must be DEBUG, INFO, WARN, ERROR, or FATAL"}.Error())
	}
	if c.System.StorePath == "" {
		errs = append(errs, ValidationError{"system.store_path", "", "required"}.Error())
	}
	if c.System.MetricsPort < 0 || c.System.MetricsPort > 65535 {
		errs = append(errs, ValidationError{"system.metrics_port", c.System.MetricsPort, "must be a valid port"}.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}

// RequestTimeout returns the outbound broker call deadline.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Dispatch.RequestTimeoutSec) * time.Second
}

// HeartbeatTimeout returns the stream heartbeat deadline.
func (c *Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.Stream.HeartbeatTimeoutSec) * time.Second
}

// FundsTTL returns the funds snapshot time-to-live.
func (c *Config) FundsTTL() time.Duration {
	return time.Duration(c.Sizing.FundsTTL) * time.Second
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setSecret(dst *Secret, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = Secret(v)
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setList(dst *[]string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		switch strings.ToLower(v) {
		case "true", "1", "yes", "on":
			*dst = true
		case "false", "0", "no", "off":
			*dst = false
		}
	}
}
