// Package config loads the layered application configuration.
//
// Precedence, highest first: runtime overrides, environment (including a
// .env file), config file, defaults.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config is the complete application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Health    HealthConfig    `mapstructure:"health" yaml:"health"`
	Debug     DebugConfig     `mapstructure:"debug" yaml:"debug"`
	Bot       BotConfig       `mapstructure:"bot" yaml:"bot"`
	CI        CIConfig        `mapstructure:"ci" yaml:"ci"`
	Catalog   CatalogConfig   `mapstructure:"catalog" yaml:"catalog"`
	Search    SearchConfig    `mapstructure:"search" yaml:"search"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	Refs      RefsConfig      `mapstructure:"refs" yaml:"refs"`
	Webhook   WebhookConfig   `mapstructure:"webhook" yaml:"webhook"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// Default: localhost
	Host string `mapstructure:"host" yaml:"host"`
	// Default: 8080
	Port int `mapstructure:"port" yaml:"port"`
	// Default: 30s
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	// Default: 30s
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	// Default: 120s
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	// Default: 10s
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	// Default: info
	Level string `mapstructure:"level" yaml:"level"`
	// Profile is STRUCTURED or CONSOLE.
	// Default: STRUCTURED
	Profile string `mapstructure:"profile" yaml:"profile"`
}

// HealthConfig toggles the health endpoints.
type HealthConfig struct {
	// Default: true
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// DebugConfig toggles debug helpers.
type DebugConfig struct {
	Enabled      bool `mapstructure:"enabled" yaml:"enabled"`
	PprofEnabled bool `mapstructure:"pprof_enabled" yaml:"pprof_enabled"`
}

// BotConfig configures the chat side.
type BotConfig struct {
	// Token is the Telegram bot token.
	Token string `mapstructure:"token" yaml:"token"`
	// Timezone interprets schedule input.
	// Default: Asia/Ho_Chi_Minh
	Timezone string `mapstructure:"timezone" yaml:"timezone"`
	// FeedbackChatID receives /feedback messages. Zero only logs them.
	FeedbackChatID int64 `mapstructure:"feedback_chat_id" yaml:"feedback_chat_id"`
	// PollTimeout is the long-poll timeout in seconds.
	// Default: 60
	PollTimeout int `mapstructure:"poll_timeout" yaml:"poll_timeout"`
	Debug       bool `mapstructure:"debug" yaml:"debug"`
}

// CredentialConfig is one CI credential set.
type CredentialConfig struct {
	User  string `mapstructure:"user" yaml:"user"`
	Token string `mapstructure:"token" yaml:"token"`
}

// CIConfig configures the CI server client.
type CIConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	// User and Token are the credential set of DefaultRole unless
	// Credentials defines that role.
	User  string `mapstructure:"user" yaml:"user"`
	Token string `mapstructure:"token" yaml:"token"`
	// RateLimit is requests per second; zero disables limiting.
	// Default: 10
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	// Default: 30s
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	// Default: VERSION
	ParameterName string `mapstructure:"parameter_name" yaml:"parameter_name"`
	// Default: dev
	DefaultRole string                      `mapstructure:"default_role" yaml:"default_role"`
	Credentials map[string]CredentialConfig `mapstructure:"credentials" yaml:"credentials"`
}

// CredentialSets returns role -> credentials, folding User/Token into
// DefaultRole when that role has no explicit entry.
func (c CIConfig) CredentialSets() map[string]CredentialConfig {
	out := make(map[string]CredentialConfig, len(c.Credentials)+1)
	for role, cred := range c.Credentials {
		out[strings.ToLower(role)] = cred
	}
	role := strings.ToLower(c.DefaultRole)
	if _, ok := out[role]; !ok && c.User != "" {
		out[role] = CredentialConfig{User: c.User, Token: c.Token}
	}
	return out
}

// CatalogConfig configures browsing.
type CatalogConfig struct {
	// Root is the folder listed by /deploy; empty is the CI root.
	Root string `mapstructure:"root" yaml:"root"`
	// SearchRoots are the folders /projects searches; empty means Root.
	SearchRoots []string `mapstructure:"search_roots" yaml:"search_roots"`
	// Default: 8
	MaxDepth int `mapstructure:"max_depth" yaml:"max_depth"`
	// Default: 10
	PageSize int `mapstructure:"page_size" yaml:"page_size"`
	// Parameterized are job path globs that take a build parameter.
	Parameterized []string `mapstructure:"parameterized" yaml:"parameterized"`
}

// SearchConfig configures the search engine.
type SearchConfig struct {
	// Default: 8
	Workers int `mapstructure:"workers" yaml:"workers"`
	// Default: 4
	Permits int64 `mapstructure:"permits" yaml:"permits"`
	// Default: 60s
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// Default: 128
	CacheSize int `mapstructure:"cache_size" yaml:"cache_size"`
	// Default: 10m
	CacheTTL time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
}

// SchedulerConfig configures the scheduled deploy poller.
type SchedulerConfig struct {
	// Default: 60s
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	// DefaultDelay is what "df" schedules relative to now.
	// Default: 30m
	DefaultDelay time.Duration `mapstructure:"default_delay" yaml:"default_delay"`
}

// StoreConfig configures persistence.
type StoreConfig struct {
	// Path is the SQLite file. Empty uses the application data dir.
	Path string `mapstructure:"path" yaml:"path"`
	// URL selects libsql or postgres and wins over Path.
	URL       string `mapstructure:"url" yaml:"url"`
	AuthToken string `mapstructure:"auth_token" yaml:"auth_token"`
	// Default: 100000
	MaxJobID int64 `mapstructure:"max_job_id" yaml:"max_job_id"`
}

// RefsConfig configures keyboard short references.
type RefsConfig struct {
	// Default: 24h
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl"`
	// Default: 10m
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
}

// WebhookConfig configures the build notification endpoint.
type WebhookConfig struct {
	// Default: true
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Secret must match the token query parameter. Empty disables the check.
	Secret string `mapstructure:"secret" yaml:"secret"`
	// WatchTTL bounds how long a triggered build is watched.
	// Default: 24h
	WatchTTL time.Duration `mapstructure:"watch_ttl" yaml:"watch_ttl"`
}

// Validate checks the settings required to run the bot.
func (c *Config) Validate() error {
	var missing []string
	if c.Bot.Token == "" {
		missing = append(missing, "bot.token")
	}
	if c.CI.BaseURL == "" {
		missing = append(missing, "ci.base_url")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	if _, err := time.LoadLocation(c.Bot.Timezone); err != nil {
		return fmt.Errorf("bot.timezone: %w", err)
	}
	return nil
}

// Location returns the schedule time zone, falling back to local time.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Bot.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Masked returns a copy with secrets replaced.
func (c Config) Masked() Config {
	c.Bot.Token = mask(c.Bot.Token)
	c.CI.Token = mask(c.CI.Token)
	c.Store.AuthToken = mask(c.Store.AuthToken)
	c.Webhook.Secret = mask(c.Webhook.Secret)
	if u, err := url.Parse(c.Store.URL); err == nil && c.Store.URL != "" {
		c.Store.URL = u.Redacted()
	}
	if len(c.CI.Credentials) > 0 {
		creds := make(map[string]CredentialConfig, len(c.CI.Credentials))
		for role, cred := range c.CI.Credentials {
			cred.Token = mask(cred.Token)
			creds[role] = cred
		}
		c.CI.Credentials = creds
	}
	return c
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}
