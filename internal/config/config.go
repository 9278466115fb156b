// Package config provides centralized configuration management for qaboard.
//
// Configuration is read from environment variables (optionally loaded from a
// .env file in the working directory). The DevRev personal access token is
// the only hard requirement: without it the sync engine cannot authenticate
// and startup fails.
package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration parameters for the application.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	DevRev   DevRevConfig
	Slack    SlackConfig
	Log      LogConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int
}

// DatabaseConfig holds local store settings.
type DatabaseConfig struct {
	Path string
}

// DevRevConfig holds remote work-source API settings.
type DevRevConfig struct {
	BaseURL string
	Token   string
}

// SlackConfig holds the conversation-thread lookup settings.
// An empty token disables thread lookup; it is not an error.
type SlackConfig struct {
	Token string
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string
	// File enables rotating file output when non-empty.
	File string
}

// Load reads configuration from the environment.
//
// A .env file in the working directory is loaded first if present; real
// environment variables take precedence over values from the file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.BindEnv("server.port", "PORT")
	v.BindEnv("database.path", "DATABASE_PATH")
	v.BindEnv("devrev.base_url", "DEVREV_API_URL")
	v.BindEnv("devrev.token", "DEVREV_PAT_TOKEN")
	v.BindEnv("slack.token", "SLACK_BOT_TOKEN")
	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("log.file", "LOG_FILE")

	v.SetDefault("server.port", 5000)
	v.SetDefault("database.path", "./data/qa_dashboard.db")
	v.SetDefault("devrev.base_url", "https://api.devrev.ai")
	v.SetDefault("log.level", "info")

	cfg := &Config{
		Server: ServerConfig{
			Port: v.GetInt("server.port"),
		},
		Database: DatabaseConfig{
			Path: v.GetString("database.path"),
		},
		DevRev: DevRevConfig{
			BaseURL: strings.TrimRight(v.GetString("devrev.base_url"), "/"),
			Token:   strings.TrimSpace(v.GetString("devrev.token")),
		},
		Slack: SlackConfig{
			Token: v.GetString("slack.token"),
		},
		Log: LogConfig{
			Level: v.GetString("log.level"),
			File:  v.GetString("log.file"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures required configuration values are present.
func (c *Config) Validate() error {
	var missing []string

	if c.DevRev.Token == "" {
		missing = append(missing, "DEVREV_PAT_TOKEN")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missing)
	}
	return nil
}
