// Package config loads the kseo configuration from YAML with KSEO_*
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full kseo configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Keyring   KeyringConfig   `yaml:"keyring"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Auth      AuthConfig      `yaml:"auth"`
}

type ServerConfig struct {
	Listen          string        `yaml:"listen"`
	LogLevel        string        `yaml:"log_level"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AuditRetention  time.Duration `yaml:"audit_retention"`
}

type DatabaseConfig struct {
	Path          string `yaml:"path"`
	BusyTimeoutMs int    `yaml:"busy_timeout_ms"`
}

type RateLimitConfig struct {
	DefaultPerMinute int            `yaml:"default_per_minute"`
	Routes           map[string]int `yaml:"routes"`
	// Store is "memory" (atomic, per instance) or "sqlite" (shared, not atomic).
	Store string `yaml:"store"`
}

type KeyringConfig struct {
	Active          string `yaml:"active"`
	Keys            string `yaml:"keys"` // "id:base64,id2:base64"
	Cipher          string `yaml:"cipher"`
	RequireExplicit bool   `yaml:"require_explicit"`
	HostSecret      string `yaml:"host_secret"`
	HostSalt        string `yaml:"host_salt"`
}

type AlertsConfig struct {
	Email   EmailConfig   `yaml:"email"`
	Webhook WebhookConfig `yaml:"webhook"`
}

type EmailConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Addr     string   `yaml:"addr"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"` // may be an enc: envelope
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

type WebhookConfig struct {
	URL          string `yaml:"url"`
	Secret       string `yaml:"secret"` // may be an enc: envelope
	AllowPrivate bool   `yaml:"allow_private"`
}

type JobsConfig struct {
	Enabled      bool          `yaml:"enabled"`
	SitemapURL   string        `yaml:"sitemap_url"`
	MaxURLs      int           `yaml:"max_urls"`
	Budget       time.Duration `yaml:"budget"`
	ResumeDelay  time.Duration `yaml:"resume_delay"`
	Interval     time.Duration `yaml:"interval"`
	AllowPrivate bool          `yaml:"allow_private"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"` // may be an enc: envelope
}

// Default returns the built-in configuration.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = ":8090"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.MaxBodyBytes <= 0 {
		c.Server.MaxBodyBytes = 1 << 20
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Server.AuditRetention <= 0 {
		c.Server.AuditRetention = 90 * 24 * time.Hour
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/kseo.db"
	}
	if c.RateLimit.DefaultPerMinute <= 0 {
		c.RateLimit.DefaultPerMinute = 60
	}
	if c.RateLimit.Store == "" {
		c.RateLimit.Store = "memory"
	}
	if c.Keyring.Cipher == "" {
		c.Keyring.Cipher = "xc1"
	}
	if c.Jobs.MaxURLs <= 0 {
		c.Jobs.MaxURLs = 10
	}
	if c.Jobs.Budget <= 0 {
		c.Jobs.Budget = 20 * time.Second
	}
	if c.Jobs.ResumeDelay <= 0 {
		c.Jobs.ResumeDelay = 5 * time.Minute
	}
	if c.Jobs.Interval <= 0 {
		c.Jobs.Interval = 7 * 24 * time.Hour
	}
}

// LoadFile reads path, applies defaults and environment overrides, and
// validates the result. An empty path skips the file.
func LoadFile(path string) (*Config, error) {
	c := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := c.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	c.applyDefaults()
	return c, c.Validate()
}

// ApplyEnv overrides fields from KSEO_* variables.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	str("KSEO_LISTEN", &c.Server.Listen)
	str("KSEO_LOG_LEVEL", &c.Server.LogLevel)
	str("KSEO_DB", &c.Database.Path)
	str("KSEO_JWT_SECRET", &c.Auth.JWTSecret)
	str("KSEO_KEYRING", &c.Keyring.Keys)
	str("KSEO_ACTIVE_KEY", &c.Keyring.Active)
	str("KSEO_HOST_SECRET", &c.Keyring.HostSecret)
	str("KSEO_HOST_SALT", &c.Keyring.HostSalt)
	str("KSEO_WEBHOOK_URL", &c.Alerts.Webhook.URL)
	str("KSEO_WEBHOOK_SECRET", &c.Alerts.Webhook.Secret)
	str("KSEO_SMTP_PASSWORD", &c.Alerts.Email.Password)
	str("KSEO_SITEMAP_URL", &c.Jobs.SitemapURL)

	if v := getenv("KSEO_RATE_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: KSEO_RATE_LIMIT: %w", err)
		}
		c.RateLimit.DefaultPerMinute = n
	}
	if v := getenv("KSEO_REQUIRE_EXPLICIT_KEY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: KSEO_REQUIRE_EXPLICIT_KEY: %w", err)
		}
		c.Keyring.RequireExplicit = b
	}
	return nil
}

// Validate checks values that have no usable default.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Server.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: server.log_level %q (use debug, info, warn or error)", c.Server.LogLevel)
	}
	switch c.RateLimit.Store {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("config: ratelimit.store %q (use memory or sqlite)", c.RateLimit.Store)
	}
	for route, n := range c.RateLimit.Routes {
		if n <= 0 {
			return fmt.Errorf("config: ratelimit.routes[%q] must be > 0", route)
		}
	}
	switch c.Keyring.Cipher {
	case "xc1", "ag1":
	default:
		return fmt.Errorf("config: keyring.cipher %q (use xc1 or ag1)", c.Keyring.Cipher)
	}
	if c.Keyring.Keys == "" && c.Keyring.RequireExplicit {
		return fmt.Errorf("config: keyring.keys is required when require_explicit is set")
	}
	if c.Alerts.Email.Enabled {
		e := c.Alerts.Email
		if e.Addr == "" || e.From == "" || len(e.To) == 0 {
			return fmt.Errorf("config: alerts.email needs addr, from and to")
		}
	}
	if c.Jobs.Enabled && c.Jobs.SitemapURL == "" {
		return fmt.Errorf("config: jobs.sitemap_url is required when jobs are enabled")
	}
	return nil
}

// Secret values prefixed with EncPrefix hold a keyring envelope.
const EncPrefix = "enc:"

// Opener decrypts an envelope, returning "" on failure.
type Opener interface {
	Open(envelope string) string
}

// RevealSecrets decrypts every enc: value in place. A value that fails to
// decrypt becomes empty, which disables the feature that needed it.
func (c *Config) RevealSecrets(o Opener) {
	for _, p := range []*string{&c.Auth.JWTSecret, &c.Alerts.Webhook.Secret, &c.Alerts.Email.Password} {
		if strings.HasPrefix(*p, EncPrefix) {
			*p = o.Open(strings.TrimPrefix(*p, EncPrefix))
		}
	}
}
