package providers

import (
	"context"
	"errors"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/loom/internal/agent"
	"github.com/haasonsaas/loom/pkg/models"
)

// openRouterBaseURL is OpenRouter's OpenAI-compatible endpoint.
const openRouterBaseURL = "https://openrouter.ai/api/v1"

// OpenRouterProvider implements agent.Provider for OpenRouter, a unified
// gateway over many upstream providers. The API is OpenAI-compatible, so
// streaming and conversion are shared with the OpenAI provider; model IDs
// use the provider/model-name form ("anthropic/claude-3.5-sonnet").
type OpenRouterProvider struct {
	client       *openai.Client
	base         BaseProvider
	defaultModel string
}

// OpenRouterConfig holds configuration for the OpenRouter provider.
type OpenRouterConfig struct {
	// APIKey is the OpenRouter API key (required).
	APIKey string

	// BaseURL overrides the OpenRouter endpoint, for proxies and tests.
	BaseURL string

	// DefaultModel is used when a request names no model.
	// Default: "openai/gpt-4o".
	DefaultModel string

	// MaxRetries is the maximum retry attempts for transient failures (default: 3).
	MaxRetries int

	// RetryDelay is the base delay between retries (default: 1s).
	RetryDelay time.Duration
}

// NewOpenRouterProvider creates a new OpenRouter provider instance.
func NewOpenRouterProvider(cfg OpenRouterConfig) (*OpenRouterProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openrouter: API key is required")
	}

	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "openai/gpt-4o"
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = openRouterBaseURL
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	return &OpenRouterProvider{
		client:       openai.NewClientWithConfig(clientConfig),
		base:         NewBaseProvider("openrouter", cfg.MaxRetries, cfg.RetryDelay),
		defaultModel: cfg.DefaultModel,
	}, nil
}

// Name returns the provider identifier.
func (p *OpenRouterProvider) Name() string {
	return "openrouter"
}

// Capabilities reports pass-through capabilities. Feature support varies by
// routed model; these flags reflect what the gateway itself can carry.
func (p *OpenRouterProvider) Capabilities() agent.Capabilities {
	return agent.Capabilities{
		ContextWindow:     128000,
		SupportsTools:     true,
		SupportsStreaming: true,
		SupportsVision:    true,
	}
}

// Models returns a curated slice of popular OpenRouter models. The gateway
// serves hundreds; this covers the commonly routed ones.
func (p *OpenRouterProvider) Models(ctx context.Context) ([]models.ModelInfo, error) {
	catalog := []models.ModelInfo{
		{ID: "openai/gpt-4o", Name: "GPT-4o", ContextWindow: 128000, SupportsVision: true},
		{ID: "openai/gpt-4o-mini", Name: "GPT-4o mini", ContextWindow: 128000, SupportsVision: true},
		{ID: "anthropic/claude-3.5-sonnet", Name: "Claude 3.5 Sonnet", ContextWindow: 200000, SupportsVision: true},
		{ID: "anthropic/claude-3-haiku", Name: "Claude 3 Haiku", ContextWindow: 200000, SupportsVision: true},
		{ID: "google/gemini-flash-1.5", Name: "Gemini 1.5 Flash", ContextWindow: 1000000, SupportsVision: true},
		{ID: "meta-llama/llama-3.1-70b-instruct", Name: "Llama 3.1 70B", ContextWindow: 131072},
		{ID: "mistralai/mixtral-8x7b-instruct", Name: "Mixtral 8x7B", ContextWindow: 32768},
	}
	for i := range catalog {
		catalog[i].Provider = "openrouter"
		catalog[i].SupportsTools = true
		catalog[i].SupportsStreaming = true
	}
	return catalog, nil
}

// HealthCheck verifies the gateway is reachable and the key valid.
func (p *OpenRouterProvider) HealthCheck(ctx context.Context) error {
	if _, err := p.client.ListModels(ctx); err != nil {
		return wrapOpenAIError("openrouter", "", err)
	}
	return nil
}

// Generate performs a blocking completion by draining the stream.
func (p *OpenRouterProvider) Generate(ctx context.Context, req *agent.Request) (*agent.Response, error) {
	chunks, err := p.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return collectStream(chunks)
}

// Stream sends a completion request through the gateway.
func (p *OpenRouterProvider) Stream(ctx context.Context, req *agent.Request) (<-chan *agent.Chunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages, err := convertToOpenAIMessages(req.Messages, req.System)
	if err != nil {
		return nil, NewProviderError("openrouter", model, err)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:         model,
		Messages:      messages,
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}

	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		chatReq.Temperature = float32(*req.Temperature)
	}
	if req.TopP != nil {
		chatReq.TopP = float32(*req.TopP)
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertToOpenAITools(req.Tools)
	}

	var stream *openai.ChatCompletionStream
	err = p.base.Retry(ctx, isRetryableOpenAIError, func() error {
		var streamErr error
		stream, streamErr = p.client.CreateChatCompletionStream(ctx, chatReq)
		return streamErr
	})
	if err != nil {
		return nil, wrapOpenAIError("openrouter", model, err)
	}

	chunks := make(chan *agent.Chunk)
	go processOpenAIStream(ctx, stream, chunks, func(err error) error {
		return wrapOpenAIError("openrouter", model, err)
	})

	return chunks, nil
}
