package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

const (
	envTelegramBotToken  = "TELEGRAM_BOT_TOKEN"
	envTelegramAllowFrom = "TELEGRAM_ALLOW_FROM"
	envScrapeAPIKey      = "SCRAPE_API_KEY"
)

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	Agents    AgentsConfig    `json:"agents"`
	Channels  ChannelsConfig  `json:"channels"`
	Providers ProvidersConfig `json:"providers"`
	Dedup     DedupConfig     `json:"dedup,omitempty"`
	Resolver  ResolverConfig  `json:"resolver,omitempty"`
	Delivery  DeliveryConfig  `json:"delivery,omitempty"`
	RateLimit RateLimitConfig `json:"ratelimit,omitempty"`
	Storage   StorageConfig   `json:"storage,omitempty"`
	Scrape    ScrapeConfig    `json:"scrape,omitempty"`
	Charts    ChartsConfig    `json:"charts,omitempty"`
	Gateway   GatewayConfig   `json:"gateway"`
	Logging   LoggingConfig   `json:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
}

// AgentsConfig contains collaborator-chain defaults.
type AgentsConfig struct {
	Defaults AgentDefaults `json:"defaults"`
}

// AgentDefaults describes default model settings for the response pipeline.
type AgentDefaults struct {
	Provider       string  `json:"provider"`
	Model          string  `json:"model"`
	MaxTokens      int     `json:"max_tokens"`
	Temperature    float64 `json:"temperature"`
	MemoryMax      int     `json:"memory_max_exchanges"`
	MemoryTTLHours int     `json:"memory_ttl_hours"`
}

// ProvidersConfig stores per-provider connection settings.
type ProvidersConfig struct {
	OpenAI OpenAIProviderConfig `json:"openai"`
}

// OpenAIProviderConfig configures the OpenAI-backed provider clients.
type OpenAIProviderConfig struct {
	APIKeyEnv             string `json:"api_key_env"`
	BaseURL               string `json:"base_url"`
	Organization          string `json:"organization"`
	Project               string `json:"project"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

// ChannelsConfig stores transport adapter settings.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

// TelegramConfig configures Telegram channel integration.
type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allow_from"`
}

// DedupConfig bounds the redelivery-suppression caches.
type DedupConfig struct {
	MessageMaxSize    int `json:"message_max_size"`
	CommandMaxSize    int `json:"command_max_size"`
	ResolutionMaxSize int `json:"resolution_max_size"`
}

// ResolverConfig tunes the wait for platform-created threads.
type ResolverConfig struct {
	PollIntervalMS int `json:"poll_interval_ms"`
	PollTimeoutMS  int `json:"poll_timeout_ms"`
}

// PollInterval returns the configured poll interval or its default.
func (r ResolverConfig) PollInterval() time.Duration {
	if r.PollIntervalMS <= 0 {
		return 200 * time.Millisecond
	}
	return time.Duration(r.PollIntervalMS) * time.Millisecond
}

// PollTimeout returns the configured poll deadline or its default.
func (r ResolverConfig) PollTimeout() time.Duration {
	if r.PollTimeoutMS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(r.PollTimeoutMS) * time.Millisecond
}

// DeliveryConfig tunes chunking and the first-chunk retry loop.
type DeliveryConfig struct {
	MessageLimit  int `json:"message_limit"`
	RetryAttempts int `json:"retry_attempts"`
	RetryBaseMS   int `json:"retry_base_ms"`
	SplitHeadroom int `json:"split_headroom"`
}

// RateLimitConfig bounds per-user request frequency.
type RateLimitConfig struct {
	CooldownSeconds int `json:"cooldown_seconds"`
	MaxPerMinute    int `json:"max_per_minute"`
	MaxUsersTracked int `json:"max_users_tracked"`
}

// StorageConfig configures the exchange store.
type StorageConfig struct {
	Path string `json:"path"`
}

// ScrapeConfig configures the URL-to-text provider chain.
type ScrapeConfig struct {
	PrimaryURL     string `json:"primary_url"`
	FallbackURL    string `json:"fallback_url"`
	APIKey         string `json:"api_key"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	MaxContentLen  int    `json:"max_content_len"`
}

// ChartsConfig configures tabular-data chart rendering.
type ChartsConfig struct {
	Enabled   bool   `json:"enabled"`
	RenderURL string `json:"render_url"`
}

// GatewayConfig configures HTTP gateway bind settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// LoadConfig resolves config.json, unmarshals it, and applies environment overrides.
func LoadConfig() (*Config, error) {
	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides injects selected env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if token := strings.TrimSpace(os.Getenv(envTelegramBotToken)); token != "" {
		cfg.Channels.Telegram.Token = token
	}

	if rawAllowFrom := strings.TrimSpace(os.Getenv(envTelegramAllowFrom)); rawAllowFrom != "" {
		cfg.Channels.Telegram.AllowFrom = parseCSV(rawAllowFrom)
	}

	if key := strings.TrimSpace(os.Getenv(envScrapeAPIKey)); key != "" {
		cfg.Scrape.APIKey = key
	}
}

// parseCSV splits comma-separated values and returns a trimmed compact slice.
func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	return slices.Clip(clean)
}

// findConfigPath resolves the active config file location.
//
// Precedence is BRIEFBOT_CONFIG first, then cwd-local fallback paths.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv("BRIEFBOT_CONFIG")); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("BRIEFBOT_CONFIG does not point to a file: %s", value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("config.json not found (checked %s and %s)", candidates[0], candidates[1])
}
