// Package config provides configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/vinayprograms/agentrun/internal/faults"
	"github.com/vinayprograms/agentrun/internal/logging"
)

// DefaultFile is looked up in the working directory when no path is given.
const DefaultFile = "agentrun.toml"

// Config represents the runner configuration.
type Config struct {
	Runner    RunnerConfig       `toml:"runner"`
	LLM       LLMConfig          `toml:"llm"`      // Default gateway settings
	Profiles  map[string]Profile `toml:"profiles"` // Per-model gateway overrides, keyed by model name
	Telemetry TelemetryConfig    `toml:"telemetry"`
	Storage   StorageConfig      `toml:"storage"` // Audit store
	Events    EventsConfig       `toml:"events"`  // Audit event fan-out
	Server    ServerConfig       `toml:"server"`
	Log       LogConfig          `toml:"log"`
}

// RunnerConfig controls the executor.
type RunnerConfig struct {
	MaxIterations   int    `toml:"max_iterations"`   // Model/tool loop cap per step (default 5)
	ToolConcurrency int    `toml:"tool_concurrency"` // Parallel dispatch bound, 0 = CPU-derived default
	DefaultModel    string `toml:"default_model"`    // Model for steps that name none
}

// LLMConfig contains gateway settings.
type LLMConfig struct {
	Provider    string  `toml:"provider"` // openai, anthropic or mock; inferred from the model when empty
	Model       string  `toml:"model"`
	APIKeyEnv   string  `toml:"api_key_env"`
	BaseURL     string  `toml:"base_url"` // Custom API endpoint (OpenRouter, LiteLLM, Ollama, LMStudio)
	MaxTokens   int     `toml:"max_tokens"`
	Temperature float64 `toml:"temperature"`
}

// Profile overrides gateway settings for one model.
type Profile struct {
	Provider  string `toml:"provider"`
	APIKeyEnv string `toml:"api_key_env"`
	BaseURL   string `toml:"base_url"`
	MaxTokens int    `toml:"max_tokens"`
}

// TelemetryConfig contains telemetry settings.
type TelemetryConfig struct {
	Enabled  bool              `toml:"enabled"`
	Endpoint string            `toml:"endpoint"` // OTLP endpoint (e.g., localhost:4317)
	Protocol string            `toml:"protocol"` // grpc, http or noop
	Insecure bool              `toml:"insecure"` // Disable TLS (default false)
	Headers  map[string]string `toml:"headers"`  // Auth headers (e.g., DD-API-KEY, x-honeycomb-team)
}

// StorageConfig selects the audit store.
type StorageConfig struct {
	Backend string `toml:"backend"` // memory, file or sqlite
	Path    string `toml:"path"`    // Directory (file) or database file (sqlite)
}

// EventsConfig enables NATS publication of audit records.
type EventsConfig struct {
	NATSURL       string `toml:"nats_url"`
	SubjectPrefix string `toml:"subject_prefix"`
}

// ServerConfig contains HTTP API settings.
type ServerConfig struct {
	Addr         string `toml:"addr"`
	WorkspaceDir string `toml:"workspace_dir"` // Workspace files loaded at startup
	Watch        bool   `toml:"watch"`         // Reload workspace files on change
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level string `toml:"level"`
}

// New creates a new config with defaults.
func New() *Config {
	return &Config{
		Runner: RunnerConfig{
			MaxIterations: 5,
			DefaultModel:  "gpt-4",
		},
		LLM: LLMConfig{
			MaxTokens: 4096,
		},
		Telemetry: TelemetryConfig{
			Protocol: "noop",
		},
		Storage: StorageConfig{
			Backend: "memory",
		},
		Events: EventsConfig{
			SubjectPrefix: "agentrun.audit",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadFile loads configuration from a TOML file over the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, &faults.ConfigurationError{Reason: "failed to parse config", Err: err}
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, faults.Configf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads path, or agentrun.toml in the current directory when path is
// empty. A missing default file yields the defaults.
func Load(path string) (*Config, error) {
	if path != "" {
		return LoadFile(path)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	def := filepath.Join(cwd, DefaultFile)
	if _, err := os.Stat(def); errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}
	return LoadFile(def)
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	var errs []string
	if c.Runner.MaxIterations < 1 {
		errs = append(errs, "runner.max_iterations must be at least 1")
	}
	if c.Runner.ToolConcurrency < 0 {
		errs = append(errs, "runner.tool_concurrency must not be negative")
	}
	switch c.Storage.Backend {
	case "memory", "file", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("storage.backend %q is not one of memory, file, sqlite", c.Storage.Backend))
	}
	if c.Storage.Backend != "memory" && c.Storage.Path == "" {
		errs = append(errs, fmt.Sprintf("storage.path is required for the %s backend", c.Storage.Backend))
	}
	switch c.Telemetry.Protocol {
	case "", "grpc", "http", "noop":
	default:
		errs = append(errs, fmt.Sprintf("telemetry.protocol %q is not one of grpc, http, noop", c.Telemetry.Protocol))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, "log.level: "+err.Error())
	}
	if len(errs) > 0 {
		return faults.Configf("config errors:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

// Gateway describes how to reach the provider for one model.
type Gateway struct {
	Provider    string
	APIKey      string
	BaseURL     string
	MaxTokens   int
	Temperature float64
}

// GatewayFor resolves gateway settings for model: a matching profile
// overrides the [llm] defaults.
func (c *Config) GatewayFor(model string) Gateway {
	g := Gateway{
		Provider:    c.LLM.Provider,
		BaseURL:     c.LLM.BaseURL,
		MaxTokens:   c.LLM.MaxTokens,
		Temperature: c.LLM.Temperature,
	}
	keyEnv := c.LLM.APIKeyEnv
	if p, ok := c.Profiles[model]; ok {
		if p.Provider != "" {
			g.Provider = p.Provider
		}
		if p.BaseURL != "" {
			g.BaseURL = p.BaseURL
		}
		if p.MaxTokens != 0 {
			g.MaxTokens = p.MaxTokens
		}
		if p.APIKeyEnv != "" {
			keyEnv = p.APIKeyEnv
		}
	}
	if keyEnv == "" {
		keyEnv = DefaultAPIKeyEnv(g.Provider)
	}
	if keyEnv != "" {
		g.APIKey = os.Getenv(keyEnv)
	}
	return g
}

// DefaultAPIKeyEnv returns the default environment variable name for a provider.
func DefaultAPIKeyEnv(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai", "":
		return "OPENAI_API_KEY"
	default:
		return ""
	}
}
