// Package config loads and validates the Loom configuration file.
package config

import (
	"fmt"
	"time"
)

// Config is the main configuration structure for Loom.
type Config struct {
	Engine    EngineConfig    `yaml:"engine"`
	Database  DatabaseConfig  `yaml:"database"`
	Providers ProvidersConfig `yaml:"providers"`
	Agents    AgentsConfig    `yaml:"agents"`
	Memory    MemoryConfig    `yaml:"memory"`
	Registry  RegistryConfig  `yaml:"registry"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// EngineConfig tunes the execution loop.
type EngineConfig struct {
	// MaxTurns caps reasoning iterations per run. Callers may override
	// per run.
	MaxTurns int `yaml:"max_turns"`

	// ToolTimeout bounds a single tool execution.
	ToolTimeout time.Duration `yaml:"tool_timeout"`

	// SummaryTemperature is used for history summarization calls.
	SummaryTemperature float64 `yaml:"summary_temperature"`
}

// DatabaseConfig selects and configures the trace store backend.
type DatabaseConfig struct {
	// Driver is one of: sqlite (pure Go), sqlite3 (CGO), postgres.
	Driver string `yaml:"driver"`

	// DSN is the driver-specific connection string. For sqlite drivers this
	// is a file path or ":memory:".
	DSN string `yaml:"dsn"`

	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// ProvidersConfig configures the model adapters.
type ProvidersConfig struct {
	// Default selects the adapter used when a model id carries no
	// provider hint.
	Default string `yaml:"default"`

	Anthropic  ProviderConfig `yaml:"anthropic"`
	OpenAI     ProviderConfig `yaml:"openai"`
	Azure      ProviderConfig `yaml:"azure"`
	OpenRouter ProviderConfig `yaml:"openrouter"`
	Gemini     ProviderConfig `yaml:"gemini"`
	Bedrock    ProviderConfig `yaml:"bedrock"`
	Ollama     ProviderConfig `yaml:"ollama"`
}

// ProviderConfig holds per-provider connection settings. Adapters ignore
// fields they don't need.
type ProviderConfig struct {
	Enabled      bool   `yaml:"enabled"`
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`

	// Region applies to bedrock.
	Region string `yaml:"region"`

	// APIVersion applies to azure.
	APIVersion string `yaml:"api_version"`
}

// AgentsConfig configures the file-backed agent repository.
type AgentsConfig struct {
	// Dir holds one YAML definition per agent.
	Dir string `yaml:"dir"`

	// Watch enables hot-reload of definitions on file change.
	Watch bool `yaml:"watch"`
}

// MemoryConfig configures the structured memory store.
type MemoryConfig struct {
	// Dir holds one JSON memory document per agent.
	Dir string `yaml:"dir"`
}

// RegistryConfig configures the model registry.
type RegistryConfig struct {
	// RefreshSchedule is a cron expression for periodic catalog refresh.
	// Empty disables the scheduler.
	RefreshSchedule string `yaml:"refresh_schedule"`

	// HealthCheckTimeout bounds a single provider health check.
	HealthCheckTimeout time.Duration `yaml:"health_check_timeout"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Environment  string  `yaml:"environment"`
	Insecure     bool    `yaml:"insecure"`
}

// MetricsConfig configures the Prometheus listener.
type MetricsConfig struct {
	// Addr is the listen address for /metrics, e.g. ":9090". Empty disables
	// the listener.
	Addr string `yaml:"addr"`
}

// Load reads and parses the configuration file, resolving $include
// directives and environment variable references.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a configuration with all defaults applied, suitable for
// running without a config file.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Engine.MaxTurns == 0 {
		cfg.Engine.MaxTurns = 10
	}
	if cfg.Engine.ToolTimeout == 0 {
		cfg.Engine.ToolTimeout = 30 * time.Second
	}
	if cfg.Engine.SummaryTemperature == 0 {
		cfg.Engine.SummaryTemperature = 0.2
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "loom.db"
	}
	if cfg.Database.MaxConnections == 0 {
		cfg.Database.MaxConnections = 25
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.Providers.Default == "" {
		cfg.Providers.Default = "anthropic"
	}
	if cfg.Agents.Dir == "" {
		cfg.Agents.Dir = "agents"
	}
	if cfg.Memory.Dir == "" {
		cfg.Memory.Dir = "memory"
	}
	if cfg.Registry.HealthCheckTimeout == 0 {
		cfg.Registry.HealthCheckTimeout = 10 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = 1.0
	}
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "sqlite3", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Engine.MaxTurns < 1 {
		return fmt.Errorf("engine.max_turns must be at least 1, got %d", c.Engine.MaxTurns)
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("tracing.sampling_rate must be in [0,1], got %v", c.Tracing.SamplingRate)
	}
	return nil
}
