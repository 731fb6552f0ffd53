// Package config loads application configuration and run request files.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration
type Config struct {
	Agent         AgentConfig         `toml:"agent"`
	Notifications NotificationsConfig `toml:"notifications"`
	Web           WebConfig           `toml:"web"`
}

// AgentConfig holds settings for the external coding agent
type AgentConfig struct {
	Binary           string `toml:"binary"`
	Model            string `toml:"model"`
	FullAuto         bool   `toml:"full_auto"`
	SkipGitRepoCheck bool   `toml:"skip_git_repo_check"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// WebConfig holds settings for the observable HTTP surface
type WebConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Binary:           "codex",
			FullAuto:         true,
			SkipGitRepoCheck: true,
		},
		Notifications: NotificationsConfig{
			Desktop: true,
		},
		Web: WebConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "review-orchestrator", "config.toml")
}
