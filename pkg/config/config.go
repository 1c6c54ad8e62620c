package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

const (
	envConfigPath        = "ACTORBRIDGE_CONFIG"
	envWorkers           = "ACTORBRIDGE_WORKERS"
	envTelegramBotToken  = "TELEGRAM_BOT_TOKEN"
	envTelegramAllowFrom = "TELEGRAM_ALLOW_FROM"
)

const (
	DefaultActorName           = "wallet"
	DefaultDrainTimeoutSeconds = 10
	DefaultGatewayHost         = "0.0.0.0"
	DefaultGatewayPort         = 18790
	DefaultWebSocketPath       = "/ws"
)

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	Runtime  RuntimeConfig  `json:"runtime"`
	Channels ChannelsConfig `json:"channels"`
	Gateway  GatewayConfig  `json:"gateway"`
	Logging  LoggingConfig  `json:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
}

// RuntimeConfig sizes the actor runtime.
type RuntimeConfig struct {
	// Workers is the number of worker goroutines per actor. One worker keeps
	// per-actor processing strictly FIFO.
	Workers int `json:"workers"`
	// QueueCapacity bounds each actor mailbox; zero means unbounded.
	QueueCapacity       int                    `json:"queue_capacity"`
	DrainTimeoutSeconds int                    `json:"drain_timeout_seconds"`
	DefaultActor        string                 `json:"default_actor"`
	Actors              map[string]ActorConfig `json:"actors,omitempty"`
}

// ActorConfig selects a built-in processor for one named actor.
//
// Kind is one of "echo", "answer" (fixed Text), "delegate" (ask Target) or
// "router" (Routes maps command names to target actors). An empty Kind means
// "echo".
type ActorConfig struct {
	Kind   string            `json:"kind"`
	Text   string            `json:"text,omitempty"`
	Target string            `json:"target,omitempty"`
	Routes map[string]string `json:"routes,omitempty"`
}

// ChannelsConfig stores boundary adapter settings.
type ChannelsConfig struct {
	WebSocket WebSocketConfig `json:"websocket"`
	Telegram  TelegramConfig  `json:"telegram"`
}

// WebSocketConfig configures the WebSocket bridge mounted on the gateway.
type WebSocketConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// TelegramConfig configures Telegram channel integration.
type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	Actor     string   `json:"actor,omitempty"`
	AllowFrom []string `json:"allow_from"`
}

// GatewayConfig configures HTTP gateway bind settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Default returns the configuration used when no config file is present.
func Default() *Config {
	return &Config{
		Runtime: RuntimeConfig{
			Workers:             1,
			DrainTimeoutSeconds: DefaultDrainTimeoutSeconds,
			DefaultActor:        DefaultActorName,
		},
		Channels: ChannelsConfig{
			WebSocket: WebSocketConfig{Enabled: true, Path: DefaultWebSocketPath},
		},
		Gateway: GatewayConfig{Host: DefaultGatewayHost, Port: DefaultGatewayPort},
	}
}

// LoadConfig resolves config.json, unmarshals it on top of Default, and
// applies environment overrides. A missing file yields the defaults.
func LoadConfig() (*Config, error) {
	cfg := Default()

	configPath, err := findConfigPath()
	switch {
	case errors.Is(err, fs.ErrNotExist):
		applyEnvOverrides(cfg)
		return cfg, nil
	case err != nil:
		return nil, err
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := json.Unmarshal(content, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config file: %w", err)
	}

	return cfg, nil
}

// Validate checks values that cannot be corrected with a default.
func (c *Config) Validate() error {
	if c.Runtime.Workers < 0 {
		return fmt.Errorf("runtime.workers must not be negative, got %d", c.Runtime.Workers)
	}
	if c.Runtime.QueueCapacity < 0 {
		return fmt.Errorf("runtime.queue_capacity must not be negative, got %d", c.Runtime.QueueCapacity)
	}

	for name, actorCfg := range c.Runtime.Actors {
		switch strings.ToLower(strings.TrimSpace(actorCfg.Kind)) {
		case "", "echo", "answer":
		case "delegate":
			if strings.TrimSpace(actorCfg.Target) == "" {
				return fmt.Errorf("runtime.actors.%s.target is required for delegate actors", name)
			}
		case "router":
			if len(actorCfg.Routes) == 0 {
				return fmt.Errorf("runtime.actors.%s.routes is required for router actors", name)
			}
		default:
			return fmt.Errorf("runtime.actors.%s.kind %q is not supported", name, actorCfg.Kind)
		}
	}

	return nil
}

// applyEnvOverrides injects selected env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if raw := strings.TrimSpace(os.Getenv(envWorkers)); raw != "" {
		if workers, err := strconv.Atoi(raw); err == nil && workers > 0 {
			cfg.Runtime.Workers = workers
		}
	}

	if token := strings.TrimSpace(os.Getenv(envTelegramBotToken)); token != "" {
		cfg.Channels.Telegram.Token = token
	}

	if rawAllowFrom := strings.TrimSpace(os.Getenv(envTelegramAllowFrom)); rawAllowFrom != "" {
		cfg.Channels.Telegram.AllowFrom = parseCSV(rawAllowFrom)
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
// Precedence is ACTORBRIDGE_CONFIG first, then cwd-local fallback paths. An
// explicit path that does not exist is an error; missing fallbacks are
// reported as fs.ErrNotExist.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
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

	return "", fmt.Errorf("config.json not found (checked %s and %s): %w", candidates[0], candidates[1], fs.ErrNotExist)
}
