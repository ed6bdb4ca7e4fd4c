// Package config loads engine configuration from config.yaml with
// environment overrides.
package config

import (
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	OpenAI    OpenAIConfig    `koanf:"openai"`
	Assistant AssistantConfig `koanf:"assistant"`
	Storage   StorageConfig   `koanf:"storage"`
	Run       RunConfig       `koanf:"run"`
	Site      SiteConfig      `koanf:"site"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

type OpenAIConfig struct {
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"` // Custom API endpoint
}

// AssistantConfig describes the assistant provisioned at boot.
type AssistantConfig struct {
	Name            string `koanf:"name"`
	Description     string `koanf:"description"`
	Instructions    string `koanf:"instructions"`
	Model           string `koanf:"model"`
	CodeInterpreter bool   `koanf:"code_interpreter"`
	// MaxMessageTokens caps the size of one user message; 0 disables the check.
	MaxMessageTokens int `koanf:"max_message_tokens"`
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // sqlite, memory
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type RunConfig struct {
	PollInterval time.Duration `koanf:"poll_interval"`
}

// SiteConfig is surfaced to the model through the get_site_info function.
type SiteConfig struct {
	Name        string `koanf:"name"`
	Description string `koanf:"description"`
	URL         string `koanf:"url"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

func Load() (*Config, error) {
	k := koanf.New(".")

	// Try to load from config.yaml file first
	if err := k.Load(file.Provider("config.yaml"), yaml.Parser()); err != nil {
		// File not found is OK, we'll use env vars
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	// Load environment variables (can override file config)
	if err := k.Load(env.Provider("ASSISTANT_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "ASSISTANT_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	// Default values
	if !k.Exists("server.port") {
		k.Set("server.port", 8080)
	}
	if !k.Exists("assistant.name") {
		k.Set("assistant.name", "Site Assistant")
	}
	if !k.Exists("assistant.model") {
		k.Set("assistant.model", "gpt-4o")
	}
	if !k.Exists("storage.type") {
		k.Set("storage.type", "sqlite")
	}
	if !k.Exists("storage.sqlite.path") {
		k.Set("storage.sqlite.path", "assistant.db")
	}
	if !k.Exists("run.poll_interval") {
		k.Set("run.poll_interval", "500ms")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.OpenAI.APIKey = substituteEnvVars(cfg.OpenAI.APIKey)

	return &cfg, nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
