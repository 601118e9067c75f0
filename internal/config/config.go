// ABOUTME: Configuration loading and parsing for coven-relay
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Model providers.
const (
	ProviderOpenAI = "openai"
	ProviderEcho   = "echo"
)

// Defaults applied to omitted fields.
const (
	DefaultHTTPAddr     = "127.0.0.1:8080"
	DefaultDatabasePath = "coven-relay.db"
	DefaultMetricsPath  = "/metrics"
	DefaultModelBaseURL = "https://api.groq.com/openai/v1"
	DefaultModelName    = "llama-3.3-70b-versatile"
	DefaultMaxTokens    = 500
	DefaultModelTimeout = 60 * time.Second
	DefaultSMTPPort     = 587
	DefaultMailDomain   = "localhost"
)

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Config represents the complete coven-relay configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
	Model     ModelConfig     `yaml:"model" toml:"model"`
	Session   SessionConfig   `yaml:"session" toml:"session"`
	Mail      MailConfig      `yaml:"mail" toml:"mail"`
	Dedupe    DedupeConfig    `yaml:"dedupe" toml:"dedupe"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"` // ":memory:" keeps the ledger in process
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// ModelConfig selects and configures the language model backend
type ModelConfig struct {
	Provider  string        `yaml:"provider" toml:"provider"`
	BaseURL   string        `yaml:"base_url" toml:"base_url"`
	APIKey    string        `yaml:"api_key" toml:"api_key"`
	Name      string        `yaml:"name" toml:"name"`
	MaxTokens int           `yaml:"max_tokens" toml:"max_tokens"`
	Timeout   time.Duration `yaml:"-" toml:"-"`

	TimeoutRaw string `yaml:"timeout" toml:"timeout"`
}

// SessionConfig holds per-session conversation settings. Empty prompt and
// greeting fall back to the built-in texts.
type SessionConfig struct {
	SystemPrompt string `yaml:"system_prompt" toml:"system_prompt"`
	Greeting     string `yaml:"greeting" toml:"greeting"`
	QueueSize    int    `yaml:"queue_size" toml:"queue_size"`
}

// MailConfig holds outbound mail configuration
type MailConfig struct {
	From     string     `yaml:"from" toml:"from"`
	FromName string     `yaml:"from_name" toml:"from_name"`
	Domain   string     `yaml:"domain" toml:"domain"`
	SMTP     SMTPConfig `yaml:"smtp" toml:"smtp"`

	// SimulateReplyAfter fakes a reply to every sent email after the delay.
	SimulateReplyAfter    time.Duration `yaml:"-" toml:"-"`
	SimulateReplyAfterRaw string        `yaml:"simulate_reply_after" toml:"simulate_reply_after"`
	SimulatedReply        string        `yaml:"simulated_reply" toml:"simulated_reply"`
}

// SMTPConfig holds SMTP relay settings. An empty host logs mail instead of sending it.
type SMTPConfig struct {
	Host     string `yaml:"host" toml:"host"`
	Port     int    `yaml:"port" toml:"port"`
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password" toml:"password"`
}

// DedupeConfig holds inbound Message-ID dedupe settings
type DedupeConfig struct {
	TTL     time.Duration `yaml:"-" toml:"-"`
	TTLRaw  string        `yaml:"ttl" toml:"ttl"`
	MaxSize int           `yaml:"max_size" toml:"max_size"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(string(data), strings.EqualFold(filepath.Ext(path), ".toml"))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes configuration content. It runs the same expansion, duration
// parsing, defaulting and validation as Load.
func Parse(content string, isTOML bool) (*Config, error) {
	expanded := expandEnvVars(content)

	var cfg Config
	if isTOML {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" && !c.Tailscale.Enabled {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Database.Path == "" {
		c.Database.Path = DefaultDatabasePath
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Model.Provider == "" {
		c.Model.Provider = ProviderOpenAI
	}
	if c.Model.BaseURL == "" {
		c.Model.BaseURL = DefaultModelBaseURL
	}
	if c.Model.Name == "" {
		c.Model.Name = DefaultModelName
	}
	if c.Model.MaxTokens == 0 {
		c.Model.MaxTokens = DefaultMaxTokens
	}
	if c.Model.Timeout == 0 {
		c.Model.Timeout = DefaultModelTimeout
	}
	if c.Mail.Domain == "" {
		c.Mail.Domain = DefaultMailDomain
	}
	if c.Mail.From == "" {
		c.Mail.From = "assistant@" + c.Mail.Domain
	}
	if c.Mail.SMTP.Host != "" && c.Mail.SMTP.Port == 0 {
		c.Mail.SMTP.Port = DefaultSMTPPort
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be one of debug, info, warn, error", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	switch c.Model.Provider {
	case ProviderOpenAI:
		if c.Model.APIKey == "" {
			return fmt.Errorf("model.api_key is required for provider %q", ProviderOpenAI)
		}
	case ProviderEcho:
	default:
		return fmt.Errorf("model.provider %q must be %s or %s", c.Model.Provider, ProviderOpenAI, ProviderEcho)
	}

	if c.Model.MaxTokens < 0 {
		return fmt.Errorf("model.max_tokens must not be negative")
	}

	if c.Session.QueueSize < 0 {
		return fmt.Errorf("session.queue_size must not be negative")
	}

	if c.Mail.SMTP.Port < 0 || c.Mail.SMTP.Port > 65535 {
		return fmt.Errorf("mail.smtp.port %d is out of range", c.Mail.SMTP.Port)
	}

	if c.Mail.SimulateReplyAfter < 0 {
		return fmt.Errorf("mail.simulate_reply_after must not be negative")
	}

	if c.Dedupe.MaxSize < 0 {
		return fmt.Errorf("dedupe.max_size must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"model.timeout", cfg.Model.TimeoutRaw, &cfg.Model.Timeout},
		{"mail.simulate_reply_after", cfg.Mail.SimulateReplyAfterRaw, &cfg.Mail.SimulateReplyAfter},
		{"dedupe.ttl", cfg.Dedupe.TTLRaw, &cfg.Dedupe.TTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
