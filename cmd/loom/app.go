package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/haasonsaas/loom/internal/agent"
	"github.com/haasonsaas/loom/internal/agent/providers"
	"github.com/haasonsaas/loom/internal/agents"
	"github.com/haasonsaas/loom/internal/config"
	"github.com/haasonsaas/loom/internal/memory"
	modelregistry "github.com/haasonsaas/loom/internal/models"
	"github.com/haasonsaas/loom/internal/observability"
	"github.com/haasonsaas/loom/internal/tools"
	"github.com/haasonsaas/loom/internal/tools/builtin"
	"github.com/haasonsaas/loom/internal/trace"
)

// =============================================================================
// Shared Assembly
// =============================================================================

// loadConfig loads the configuration file, falling back to built-in defaults
// when the default config file does not exist. An explicitly named file must
// load.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) && path == defaultConfigName {
		slog.Debug("no config file found, using defaults", "path", path)
		return config.Default(), nil
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// appMetrics returns the process-wide metrics handle. Prometheus collectors
// register with the default registry exactly once.
var (
	metricsOnce sync.Once
	metrics     *observability.Metrics
)

func appMetrics() *observability.Metrics {
	metricsOnce.Do(func() {
		metrics = observability.NewMetrics()
	})
	return metrics
}

// storeDSN maps the config's driver selection onto a trace.Open DSN.
func storeDSN(cfg *config.Config) string {
	dsn := cfg.Database.DSN
	if cfg.Database.Driver == "sqlite3" && !strings.HasPrefix(dsn, "sqlite3:") {
		return "sqlite3:" + dsn
	}
	return dsn
}

// openStore opens the trace store named by the config.
func openStore(cfg *config.Config) (trace.Store, error) {
	store, err := trace.Open(storeDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("open trace store: %w", err)
	}
	return store, nil
}

// openAgents opens the file-backed agent repository.
func openAgents(cfg *config.Config) (agents.Repository, error) {
	repo, err := agents.NewDirRepository(cfg.Agents.Dir, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("open agent repository: %w", err)
	}
	return repo, nil
}

// newToolRegistry builds the tool registry with every builtin registered.
func newToolRegistry(cfg *config.Config, logger *observability.Logger) (*tools.Registry, error) {
	reg := tools.NewRegistry(tools.RegistryOptions{
		Timeout: cfg.Engine.ToolTimeout,
		Logger:  logger,
		Metrics: appMetrics(),
	})
	for _, tool := range builtin.All() {
		if err := reg.Register(tool); err != nil {
			return nil, fmt.Errorf("register tool %s: %w", tool.Name(), err)
		}
	}
	return reg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// buildProviders constructs every provider the config enables. A provider
// with an API key available (config or environment) counts as enabled, so a
// bare `loom run` works with nothing but ANTHROPIC_API_KEY exported.
func buildProviders(cfg *config.Config) ([]agent.Provider, error) {
	var out []agent.Provider

	if c := cfg.Providers.Anthropic; c.Enabled || firstNonEmpty(c.APIKey, os.Getenv("ANTHROPIC_API_KEY")) != "" {
		p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       firstNonEmpty(c.APIKey, os.Getenv("ANTHROPIC_API_KEY")),
			BaseURL:      c.BaseURL,
			DefaultModel: c.DefaultModel,
		})
		if err != nil {
			return nil, fmt.Errorf("anthropic: %w", err)
		}
		out = append(out, p)
	}

	if c := cfg.Providers.OpenAI; c.Enabled || firstNonEmpty(c.APIKey, os.Getenv("OPENAI_API_KEY")) != "" {
		p, err := providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:       firstNonEmpty(c.APIKey, os.Getenv("OPENAI_API_KEY")),
			BaseURL:      c.BaseURL,
			DefaultModel: c.DefaultModel,
		})
		if err != nil {
			return nil, fmt.Errorf("openai: %w", err)
		}
		out = append(out, p)
	}

	if c := cfg.Providers.Azure; c.Enabled || firstNonEmpty(c.APIKey, os.Getenv("AZURE_OPENAI_API_KEY")) != "" {
		p, err := providers.NewAzureOpenAIProvider(providers.AzureOpenAIConfig{
			Endpoint:     firstNonEmpty(c.BaseURL, os.Getenv("AZURE_OPENAI_ENDPOINT")),
			APIKey:       firstNonEmpty(c.APIKey, os.Getenv("AZURE_OPENAI_API_KEY")),
			APIVersion:   c.APIVersion,
			DefaultModel: c.DefaultModel,
		})
		if err != nil {
			return nil, fmt.Errorf("azure: %w", err)
		}
		out = append(out, p)
	}

	if c := cfg.Providers.OpenRouter; c.Enabled || firstNonEmpty(c.APIKey, os.Getenv("OPENROUTER_API_KEY")) != "" {
		p, err := providers.NewOpenRouterProvider(providers.OpenRouterConfig{
			APIKey:       firstNonEmpty(c.APIKey, os.Getenv("OPENROUTER_API_KEY")),
			BaseURL:      c.BaseURL,
			DefaultModel: c.DefaultModel,
		})
		if err != nil {
			return nil, fmt.Errorf("openrouter: %w", err)
		}
		out = append(out, p)
	}

	if c := cfg.Providers.Gemini; c.Enabled || firstNonEmpty(c.APIKey, os.Getenv("GEMINI_API_KEY"), os.Getenv("GOOGLE_API_KEY")) != "" {
		p, err := providers.NewGeminiProvider(providers.GeminiConfig{
			APIKey:       firstNonEmpty(c.APIKey, os.Getenv("GEMINI_API_KEY"), os.Getenv("GOOGLE_API_KEY")),
			DefaultModel: c.DefaultModel,
		})
		if err != nil {
			return nil, fmt.Errorf("gemini: %w", err)
		}
		out = append(out, p)
	}

	// Bedrock authenticates through the AWS credential chain rather than an
	// API key, so it is never inferred from the environment.
	if c := cfg.Providers.Bedrock; c.Enabled {
		p, err := providers.NewBedrockProvider(providers.BedrockConfig{
			Region:       c.Region,
			DefaultModel: c.DefaultModel,
		})
		if err != nil {
			return nil, fmt.Errorf("bedrock: %w", err)
		}
		out = append(out, p)
	}

	if c := cfg.Providers.Ollama; c.Enabled || firstNonEmpty(c.BaseURL, os.Getenv("OLLAMA_HOST")) != "" {
		out = append(out, providers.NewOllamaProvider(providers.OllamaConfig{
			BaseURL:      firstNonEmpty(c.BaseURL, os.Getenv("OLLAMA_HOST")),
			DefaultModel: c.DefaultModel,
		}))
	}

	return out, nil
}

// newCatalog builds the model registry with every provider registered as a
// discovery source.
func newCatalog(provs []agent.Provider) *modelregistry.Registry {
	catalog := modelregistry.NewRegistry(slog.Default())
	for _, p := range provs {
		catalog.RegisterProvider(p)
	}
	return catalog
}

// =============================================================================
// Engine Runtime
// =============================================================================

// runtime bundles everything the run and chat commands need. Close releases
// resources in reverse construction order.
type runtime struct {
	cfg     *config.Config
	logger  *observability.Logger
	store   trace.Store
	agents  agents.Repository
	catalog *modelregistry.Registry
	engine  *agent.Engine

	closers []func() error
}

// newRuntime assembles the full engine stack from the config.
func newRuntime(ctx context.Context, configPath string) (*runtime, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})
	tracer, tracerShutdown := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "loom",
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		EnableInsecure: cfg.Tracing.Insecure,
	})

	rt := &runtime{cfg: cfg, logger: logger}
	rt.closers = append(rt.closers, func() error { return tracerShutdown(context.Background()) })

	provs, err := buildProviders(cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}
	if len(provs) == 0 {
		rt.Close()
		return nil, fmt.Errorf("no providers configured: set an API key (e.g. ANTHROPIC_API_KEY) or enable one in %s", configPath)
	}

	store, err := openStore(cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.store = store
	rt.closers = append(rt.closers, store.Close)

	repo, err := openAgents(cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.agents = repo
	rt.closers = append(rt.closers, repo.Close)

	toolReg, err := newToolRegistry(cfg, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}

	memories, err := memory.NewFileStore(cfg.Memory.Dir)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("open memory store: %w", err)
	}

	catalog := newCatalog(provs)
	rt.catalog = catalog
	rt.closers = append(rt.closers, catalog.Close)
	if err := catalog.SeedPricing(ctx, store); err != nil {
		logger.Warn(ctx, "failed to seed model pricing", "error", err)
	}

	engine, err := agent.NewEngine(agent.EngineOptions{
		Agents:             repo,
		Providers:          provs,
		Tools:              toolReg,
		Store:              store,
		Catalog:            catalog,
		Memory:             memories,
		Logger:             logger,
		Metrics:            appMetrics(),
		Tracer:             tracer,
		MaxTurns:           cfg.Engine.MaxTurns,
		SummaryTemperature: cfg.Engine.SummaryTemperature,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.engine = engine

	return rt, nil
}

// Close releases runtime resources. Failures are logged, not returned: the
// command's own result should not be masked by teardown.
func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			slog.Warn("close failed", "error", err)
		}
	}
	r.closers = nil
}
