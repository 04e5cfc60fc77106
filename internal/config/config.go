// Package config loads and validates the agent configuration from
// .itsm/config.json, with environment variable overrides for credentials
// and endpoints.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds all ITSM agent configuration.
type Config struct {
	// ServiceNow instance connection
	Snow SnowConfig `json:"snow"`

	// Historical record retrieval
	Retrieval RetrievalConfig `json:"retrieval"`

	// Embedding engine
	Embedding EmbeddingConfig `json:"embedding"`

	// HTTP transport
	Server ServerConfig `json:"server"`

	// Conversation sessions
	Session SessionConfig `json:"session"`

	// Optional YAML file overriding the built-in ticket field schemas.
	SchemaPath string `json:"schema_path"`

	// Logging (consumed by the logging package, kept here so Save writes
	// a complete file)
	Logging LoggingConfig `json:"logging"`
}

// SnowConfig configures the ServiceNow REST adapter.
type SnowConfig struct {
	InstanceURL string `json:"instance_url"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	Timeout     string `json:"timeout"`
}

// RetrievalConfig configures similarity search over ticket history.
type RetrievalConfig struct {
	DatabasePath string `json:"database_path"`
	TopK         int    `json:"top_k"`
	CacheTTL     string `json:"cache_ttl"`
}

// EmbeddingConfig configures the embedding engine backend.
type EmbeddingConfig struct {
	Provider       string `json:"provider"` // "ollama" or "genai"
	OllamaEndpoint string `json:"ollama_endpoint"`
	OllamaModel    string `json:"ollama_model"`
	GenAIAPIKey    string `json:"genai_api_key"`
	GenAIModel     string `json:"genai_model"`
}

// ServerConfig configures the HTTP transport.
type ServerConfig struct {
	Addr string `json:"addr"`

	// Interval between idle-session sweeps. Empty disables the janitor.
	SessionSweepInterval string `json:"session_sweep_interval"`

	// Sessions idle longer than this are reset by the janitor.
	SessionTTL string `json:"session_ttl"`
}

// SessionConfig configures per-session conversation state.
type SessionConfig struct {
	// HistoryLimit bounds the conversation ring buffer per session.
	HistoryLimit int `json:"history_limit"`
}

// LoggingConfig mirrors the logging package's file-based configuration.
type LoggingConfig struct {
	DebugMode  bool            `json:"debug_mode"`
	Categories map[string]bool `json:"categories"`
	Level      string          `json:"level"`
	JSONFormat bool            `json:"json_format"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Snow: SnowConfig{
			Timeout: "30s",
		},
		Retrieval: RetrievalConfig{
			DatabasePath: filepath.Join(".itsm", "history.db"),
			TopK:         3,
			CacheTTL:     "5m",
		},
		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "embeddinggemma",
			GenAIModel:     "gemini-embedding-001",
		},
		Server: ServerConfig{
			Addr:                 ":5019",
			SessionSweepInterval: "10m",
			SessionTTL:           "2h",
		},
		Session: SessionConfig{
			HistoryLimit: 50,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Path returns the canonical config path under a workspace.
func Path(workspace string) string {
	return filepath.Join(workspace, ".itsm", "config.json")
}

// Load loads configuration from a JSON file. Missing file returns defaults;
// environment variables override file values either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save writes the configuration to a JSON file, creating the directory.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if url := os.Getenv("SNOW_INSTANCE_URL"); url != "" {
		c.Snow.InstanceURL = url
	}
	if user := os.Getenv("SNOW_USER"); user != "" {
		c.Snow.Username = user
	}
	if pass := os.Getenv("SNOW_PASS"); pass != "" {
		c.Snow.Password = pass
	}

	if path := os.Getenv("ITSM_DB"); path != "" {
		c.Retrieval.DatabasePath = path
	}

	if endpoint := os.Getenv("OLLAMA_ENDPOINT"); endpoint != "" {
		c.Embedding.OllamaEndpoint = endpoint
		if c.Embedding.Provider == "" {
			c.Embedding.Provider = "ollama"
		}
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Embedding.GenAIAPIKey = key
		c.Embedding.Provider = "genai"
	}

	if addr := os.Getenv("ITSM_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
}

// Validate checks for configuration the agent cannot run without.
func (c *Config) Validate() error {
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Session.HistoryLimit <= 0 {
		return fmt.Errorf("session.history_limit must be positive, got %d", c.Session.HistoryLimit)
	}
	switch c.Embedding.Provider {
	case "ollama", "genai", "":
	default:
		return fmt.Errorf("unsupported embedding provider: %q", c.Embedding.Provider)
	}
	return nil
}

// SnowTimeout returns the ServiceNow request timeout as a duration.
func (c *Config) SnowTimeout() time.Duration {
	return c.Snow.HTTPTimeout()
}

// HTTPTimeout returns the request timeout as a duration.
func (sc SnowConfig) HTTPTimeout() time.Duration {
	d, err := time.ParseDuration(sc.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// RetrievalCacheTTL returns the retrieval cache TTL as a duration.
func (c *Config) RetrievalCacheTTL() time.Duration {
	d, err := time.ParseDuration(c.Retrieval.CacheTTL)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// SessionSweepInterval returns the janitor sweep interval, or zero when the
// janitor is disabled.
func (c *Config) SessionSweepInterval() time.Duration {
	if c.Server.SessionSweepInterval == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Server.SessionSweepInterval)
	if err != nil {
		return 0
	}
	return d
}

// SessionTTL returns the idle-session lifetime used by the janitor.
func (c *Config) SessionTTL() time.Duration {
	d, err := time.ParseDuration(c.Server.SessionTTL)
	if err != nil {
		return 2 * time.Hour
	}
	return d
}
