// Package config provides configuration management for the application.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration.
type Config struct {
	GitHub   GitHubConfig   `mapstructure:"github"`
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Log      LogConfig      `mapstructure:"log"`
}

// GitHubConfig holds GitHub API configuration.
type GitHubConfig struct {
	Token string `mapstructure:"token"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// SyncConfig holds sweep and worker configuration.
type SyncConfig struct {
	Interval    time.Duration `mapstructure:"interval"`     // Periodic sweep interval
	Workers     int           `mapstructure:"workers"`      // Worker pool size
	QueueSize   int           `mapstructure:"queue_size"`   // Pending job buffer
	MaxAttempts int           `mapstructure:"max_attempts"` // Per-job retry ceiling
	PageLimit   int           `mapstructure:"page_limit"`   // Max records fetched per resource kind
}

// WebhookConfig holds inbound webhook configuration.
type WebhookConfig struct {
	PublicURL string `mapstructure:"public_url"` // Externally reachable receiver URL
}

// AnalysisConfig holds text-generation collaborator configuration.
type AnalysisConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// Load reads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.path", "./data/reposync.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("sync.interval", 30*time.Minute)
	v.SetDefault("sync.workers", 5)
	v.SetDefault("sync.queue_size", 256)
	v.SetDefault("sync.max_attempts", 3)
	v.SetDefault("sync.page_limit", 100)
	v.SetDefault("analysis.model", "llama-3.3-70b-versatile")

	// Keys without a meaningful default still need registering, or
	// environment overrides are invisible to Unmarshal.
	v.SetDefault("github.token", "")
	v.SetDefault("webhook.public_url", "")
	v.SetDefault("analysis.endpoint", "")
	v.SetDefault("analysis.api_key", "")
	v.SetDefault("log.file", "")

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Read environment variables
	v.SetEnvPrefix("REPOSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks if all required configuration fields are set.
func (c *Config) Validate() error {
	if c.GitHub.Token == "" {
		return fmt.Errorf("github token is required")
	}
	if c.Sync.Workers < 1 {
		return fmt.Errorf("sync.workers must be at least 1")
	}
	if c.Sync.MaxAttempts < 1 {
		return fmt.Errorf("sync.max_attempts must be at least 1")
	}
	return nil
}

// ServerAddress returns the full server address.
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
