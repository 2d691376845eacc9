// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the address verifier.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultPort           = 25
	defaultConnectTimeout = 10 * time.Second
	defaultPaceDelay      = time.Second
	defaultHeloName       = "localhost"
	defaultRedisKey       = "mailprobe:disposable"
)

// Config holds the complete application configuration.
type Config struct {
	Probe       ProbeConfig       `yaml:"probe"`
	Checks      ChecksConfig      `yaml:"checks"`
	Disposable  DisposableConfig  `yaml:"disposable"`
	Proxy       ProxyConfig       `yaml:"proxy"`
	Suppression SuppressionConfig `yaml:"suppression"`
	API         APIConfig         `yaml:"api"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ProbeConfig holds the SMTP probe settings.
type ProbeConfig struct {
	From            string        `yaml:"from" validate:"omitempty,email"`
	HeloName        string        `yaml:"helo_name" validate:"required,hostname_rfc1123"`
	Port            int           `yaml:"port" validate:"min=1,max=65535"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout" validate:"gt=0"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gte=0"`
	Paced           bool          `yaml:"paced"`
	PaceDelay       time.Duration `yaml:"pace_delay" validate:"gte=0"`
	StrictHandshake bool          `yaml:"strict_handshake"`
	Concurrency     int           `yaml:"concurrency" validate:"min=1,max=256"`
}

// ChecksConfig selects the optional verification stages.
type ChecksConfig struct {
	Syntax     bool `yaml:"syntax"`
	Disposable bool `yaml:"disposable"`
	AcceptAll  bool `yaml:"accept_all"`
}

// DisposableConfig names the extra disposable-domain sources. The embedded
// list is always used.
type DisposableConfig struct {
	File          string `yaml:"file"`
	RedisAddr     string `yaml:"redis_addr" validate:"omitempty,hostname_port"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db" validate:"gte=0"`
	RedisKey      string `yaml:"redis_key" validate:"required_with=RedisAddr"`
}

// ProxyConfig holds the optional SOCKS5 proxy for outbound probes.
type ProxyConfig struct {
	Address  string `yaml:"address" validate:"omitempty,hostname_port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// SuppressionConfig holds the AWS SES suppression-list settings.
type SuppressionConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Region          string `yaml:"region" validate:"required_if=Enabled true"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// APIConfig holds the HTTP API settings.
type APIConfig struct {
	Listen string `yaml:"listen" validate:"required"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `yaml:"level" validate:"oneof=debug info warn error"`
	Transcript bool   `yaml:"transcript"`
}

// LoadDotEnv loads variables from the given .env files, or ".env" when none
// are named, without overriding variables already set. Missing files are
// not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()

	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// RedisConfigured returns true if a Redis disposable-domain source is set.
func (c *Config) RedisConfigured() bool {
	return c.Disposable.RedisAddr != ""
}

// ProxyConfigured returns true if outbound probes go through SOCKS5.
func (c *Config) ProxyConfigured() bool {
	return c.Proxy.Address != ""
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Probe.HeloName = defaultHeloName
	c.Probe.Port = defaultPort
	c.Probe.ConnectTimeout = defaultConnectTimeout
	c.Probe.Paced = true
	c.Probe.PaceDelay = defaultPaceDelay
	c.Probe.Concurrency = 1
	c.Checks = ChecksConfig{Syntax: true, Disposable: true, AcceptAll: true}
	c.Disposable.RedisKey = defaultRedisKey
	c.API.Listen = ":8080"
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values, and
// values that fail to parse are ignored.
func (c *Config) applyEnvVars() {
	setString(&c.Probe.From, "PROBE_FROM")
	setString(&c.Probe.HeloName, "PROBE_HELO_NAME")
	setInt(&c.Probe.Port, "PROBE_PORT")
	setDuration(&c.Probe.ConnectTimeout, "PROBE_CONNECT_TIMEOUT")
	setDuration(&c.Probe.ReadTimeout, "PROBE_READ_TIMEOUT")
	setBool(&c.Probe.Paced, "PROBE_PACED")
	setDuration(&c.Probe.PaceDelay, "PROBE_PACE_DELAY")
	setBool(&c.Probe.StrictHandshake, "PROBE_STRICT_HANDSHAKE")
	setInt(&c.Probe.Concurrency, "PROBE_CONCURRENCY")

	setBool(&c.Checks.Syntax, "CHECK_SYNTAX")
	setBool(&c.Checks.Disposable, "CHECK_DISPOSABLE")
	setBool(&c.Checks.AcceptAll, "CHECK_ACCEPT_ALL")

	setString(&c.Disposable.File, "DISPOSABLE_FILE")
	setString(&c.Disposable.RedisAddr, "DISPOSABLE_REDIS_ADDR")
	setString(&c.Disposable.RedisPassword, "DISPOSABLE_REDIS_PASSWORD")
	setInt(&c.Disposable.RedisDB, "DISPOSABLE_REDIS_DB")
	setString(&c.Disposable.RedisKey, "DISPOSABLE_REDIS_KEY")

	setString(&c.Proxy.Address, "PROXY_ADDRESS")
	setString(&c.Proxy.Username, "PROXY_USERNAME")
	setString(&c.Proxy.Password, "PROXY_PASSWORD")

	setBool(&c.Suppression.Enabled, "SES_SUPPRESSION")
	setString(&c.Suppression.Region, "SES_REGION")
	setString(&c.Suppression.AccessKeyID, "SES_ACCESS_KEY_ID")
	setString(&c.Suppression.SecretAccessKey, "SES_SECRET_ACCESS_KEY")

	setString(&c.API.Listen, "API_LISTEN")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	setBool(&c.Logging.Transcript, "LOG_TRANSCRIPT")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
