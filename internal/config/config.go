// Package config loads the daemon configuration from a JSON file or
// FREEDA_-prefixed environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is the top-level freeda configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Data      DataConfig      `json:"data"`
	Mistral   MistralConfig   `json:"mistral"`
	Knowledge KnowledgeConfig `json:"knowledge"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	AutoClose AutoCloseConfig `json:"auto_close"`
	Analytics AnalyticsConfig `json:"analytics"`
	LogBuffer int             `json:"log_buffer"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	AdminKey       string   `json:"admin_key"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

// DataConfig holds storage paths.
type DataConfig struct {
	Dir string `json:"dir"`
}

// MistralConfig holds LLM settings. An empty APIKey disables the model;
// canned replies and neutral analytics still work.
type MistralConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url,omitempty"`
	Model   string `json:"model,omitempty"`
}

// KnowledgeConfig configures the reply knowledge base.
type KnowledgeConfig struct {
	Enabled bool     `json:"enabled"`
	Dir     string   `json:"dir,omitempty"`  // local JSON documents
	URLs    []string `json:"urls,omitempty"` // help pages to scrape at startup
}

// RateLimitConfig holds the public API limits. Zero disables a limit.
type RateLimitConfig struct {
	TicketsPerHour    int `json:"tickets_per_hour"`
	MessagesPerMinute int `json:"messages_per_minute"`
}

// AutoCloseConfig closes tickets idle for longer than IdleHours.
type AutoCloseConfig struct {
	Enabled   bool   `json:"enabled"`
	IdleHours int    `json:"idle_hours,omitempty"`
	Schedule  string `json:"schedule,omitempty"` // cron expression
}

// AnalyticsConfig toggles automatic ticket analysis.
type AnalyticsConfig struct {
	Enabled bool `json:"enabled"`
}

// Load reads configuration from a JSON file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv builds a config from environment variables with FREEDA_ prefix.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:     getenv("FREEDA_HOST", "0.0.0.0"),
			Port:     getenvInt("FREEDA_PORT", 8000),
			AdminKey: os.Getenv("FREEDA_ADMIN_KEY"),
		},
		Data: DataConfig{
			Dir: getenv("FREEDA_DATA_DIR", "/data"),
		},
		Mistral: MistralConfig{
			APIKey:  os.Getenv("FREEDA_MISTRAL_API_KEY"),
			BaseURL: os.Getenv("FREEDA_MISTRAL_API_URL"),
			Model:   os.Getenv("FREEDA_MISTRAL_MODEL"),
		},
		RateLimit: RateLimitConfig{
			TicketsPerHour:    getenvInt("FREEDA_TICKETS_PER_HOUR", 5),
			MessagesPerMinute: getenvInt("FREEDA_MESSAGES_PER_MINUTE", 20),
		},
		Analytics: AnalyticsConfig{
			Enabled: getenvBool("FREEDA_ENABLE_ANALYTICS", true),
		},
	}

	if origins := os.Getenv("FREEDA_ALLOWED_ORIGINS"); origins != "" {
		cfg.Server.AllowedOrigins = splitList(origins)
	}
	if getenvBool("FREEDA_ENABLE_KNOWLEDGE", false) {
		cfg.Knowledge.Enabled = true
		cfg.Knowledge.Dir = os.Getenv("FREEDA_KNOWLEDGE_DIR")
		if urls := os.Getenv("FREEDA_KNOWLEDGE_URLS"); urls != "" {
			cfg.Knowledge.URLs = splitList(urls)
		}
	}
	if getenvBool("FREEDA_ENABLE_AUTO_CLOSE", false) {
		cfg.AutoClose.Enabled = true
		cfg.AutoClose.IdleHours = getenvInt("FREEDA_AUTO_CLOSE_IDLE_HOURS", 72)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"http://localhost:5173", "http://localhost:3000"}
	}
	if c.Mistral.BaseURL == "" {
		c.Mistral.BaseURL = "https://api.mistral.ai/v1"
	}
	if c.Mistral.Model == "" {
		c.Mistral.Model = "mistral-small-latest"
	}
	if c.AutoClose.IdleHours == 0 {
		c.AutoClose.IdleHours = 72
	}
	if c.AutoClose.Schedule == "" {
		c.AutoClose.Schedule = "@every 1h"
	}
	if c.LogBuffer == 0 {
		c.LogBuffer = 1000
	}
}

// Validate checks for required fields.
func (c *Config) Validate() error {
	var errs []string

	if c.Data.Dir == "" {
		errs = append(errs, "data.dir is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
	}
	if c.Server.AdminKey == "" {
		errs = append(errs, "server.admin_key is required")
	}
	if c.RateLimit.TicketsPerHour < 0 {
		errs = append(errs, "rate_limit.tickets_per_hour must not be negative")
	}
	if c.RateLimit.MessagesPerMinute < 0 {
		errs = append(errs, "rate_limit.messages_per_minute must not be negative")
	}
	if c.Knowledge.Enabled && c.Knowledge.Dir == "" && len(c.Knowledge.URLs) == 0 {
		errs = append(errs, "knowledge is enabled but has no dir or urls")
	}
	if c.AutoClose.Enabled && c.AutoClose.IdleHours < 1 {
		errs = append(errs, "auto_close.idle_hours must be at least 1")
	}
	if c.LogBuffer < 0 {
		errs = append(errs, "log_buffer must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return strings.EqualFold(v, "true") || v == "1"
	}
	return fallback
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	return result
}
