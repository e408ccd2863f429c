package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root process configuration: everything that needs a
// restart to change. Operational tuning (delays, caps, retry bounds) lives
// in the settings table instead and hot-reloads.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Server    ServerConfig    `yaml:"server"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Notify    NotifyConfig    `yaml:"notify"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// FetchConfig configures the outbound listing client.
type FetchConfig struct {
	UserAgent           string `yaml:"user_agent"`
	TimeoutSeconds      int    `yaml:"timeout_seconds"`
	RequestsPerMinute   int    `yaml:"requests_per_minute"`
	ImageTimeoutSeconds int    `yaml:"image_timeout_seconds"`
}

// Timeout returns the listing fetch timeout.
func (f FetchConfig) Timeout() time.Duration {
	if f.TimeoutSeconds <= 0 {
		return 20 * time.Second
	}
	return time.Duration(f.TimeoutSeconds) * time.Second
}

// ImageTimeout returns the image fetch timeout.
func (f FetchConfig) ImageTimeout() time.Duration {
	if f.ImageTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(f.ImageTimeoutSeconds) * time.Second
}

// SchedulerConfig configures runner reconciliation.
type SchedulerConfig struct {
	ReconcileInterval string `yaml:"reconcile_interval"`
}

// ParseReconcileInterval returns the reconcile interval as time.Duration.
func (s SchedulerConfig) ParseReconcileInterval() time.Duration {
	d, err := time.ParseDuration(s.ReconcileInterval)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// NotifyConfig configures notification channels.
type NotifyConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Discord  DiscordConfig  `yaml:"discord"`
	Webhook  WebhookConfig  `yaml:"webhook"`
}

// TelegramConfig for the Telegram bot channel.
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
}

// DiscordConfig for Discord webhook notifications.
type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig for generic webhook notifications.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./marktradar.db"},
		Server:   ServerConfig{Port: 8080},
		Fetch: FetchConfig{
			UserAgent:           "marktradar/1.0 (+https://github.com/jwirth/marktradar)",
			TimeoutSeconds:      20,
			RequestsPerMinute:   20,
			ImageTimeoutSeconds: 10,
		},
		Scheduler: SchedulerConfig{ReconcileInterval: "30s"},
		Notify:    NotifyConfig{},
	}
}

// Load reads configuration from a YAML file and applies env var overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides overrides config values with environment variables.
// Credentials in particular are expected to arrive this way in container
// deployments.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MARKTRADAR_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("MARKTRADAR_USER_AGENT"); v != "" {
		cfg.Fetch.UserAgent = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Notify.Telegram.BotToken = v
		cfg.Notify.Telegram.Enabled = true
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Notify.Discord.WebhookURL = v
		cfg.Notify.Discord.Enabled = true
	}
	if v := os.Getenv("NOTIFY_WEBHOOK_URL"); v != "" {
		cfg.Notify.Webhook.URL = v
		cfg.Notify.Webhook.Enabled = true
	}
	if v := os.Getenv("NOTIFY_WEBHOOK_SECRET"); v != "" {
		cfg.Notify.Webhook.Secret = v
	}
}
