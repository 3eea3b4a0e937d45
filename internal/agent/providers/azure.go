package providers

import (
	"context"
	"errors"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/loom/internal/agent"
	"github.com/haasonsaas/loom/pkg/models"
)

// AzureOpenAIProvider implements agent.Provider for Azure OpenAI Service.
//
// Azure differs from direct OpenAI in URL structure and auth: requests go to
// the resource endpoint with a required api-version, and the model field
// names an Azure deployment rather than an OpenAI model. The wire protocol
// is otherwise identical, so streaming and conversion are shared with the
// OpenAI provider.
type AzureOpenAIProvider struct {
	client       *openai.Client
	base         BaseProvider
	endpoint     string
	apiVersion   string
	defaultModel string
}

// AzureOpenAIConfig holds configuration for the Azure OpenAI provider.
type AzureOpenAIConfig struct {
	// Endpoint is the Azure OpenAI resource endpoint (required).
	// Format: https://{resource-name}.openai.azure.com
	Endpoint string

	// APIKey is the Azure OpenAI API key (required).
	APIKey string

	// APIVersion is the API version to use (default: 2024-02-15-preview).
	APIVersion string

	// DefaultModel is the deployment name used when a request names none.
	DefaultModel string

	// MaxRetries is the maximum retry attempts for transient failures (default: 3).
	MaxRetries int

	// RetryDelay is the base delay between retries (default: 1s).
	RetryDelay time.Duration
}

// NewAzureOpenAIProvider creates a new Azure OpenAI provider instance.
func NewAzureOpenAIProvider(cfg AzureOpenAIConfig) (*AzureOpenAIProvider, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("azure: endpoint is required")
	}

	if cfg.APIKey == "" {
		return nil, errors.New("azure: API key is required")
	}

	if cfg.APIVersion == "" {
		cfg.APIVersion = "2024-02-15-preview"
	}

	clientConfig := openai.DefaultAzureConfig(cfg.APIKey, cfg.Endpoint)
	clientConfig.APIVersion = cfg.APIVersion

	return &AzureOpenAIProvider{
		client:       openai.NewClientWithConfig(clientConfig),
		base:         NewBaseProvider("azure", cfg.MaxRetries, cfg.RetryDelay),
		endpoint:     cfg.Endpoint,
		apiVersion:   cfg.APIVersion,
		defaultModel: cfg.DefaultModel,
	}, nil
}

// Name returns the provider identifier.
func (p *AzureOpenAIProvider) Name() string {
	return "azure"
}

// Capabilities reports Azure OpenAI capabilities.
func (p *AzureOpenAIProvider) Capabilities() agent.Capabilities {
	return agent.Capabilities{
		ContextWindow:     128000,
		SupportsTools:     true,
		SupportsStreaming: true,
		SupportsVision:    true,
	}
}

// Models returns common deployment patterns. Azure deployments are
// custom-named per resource, so discovery cannot be exhaustive.
func (p *AzureOpenAIProvider) Models(ctx context.Context) ([]models.ModelInfo, error) {
	catalog := []models.ModelInfo{
		{ID: "gpt-4o", Name: "GPT-4o (Azure)", ContextWindow: 128000, MaxOutputTokens: 16384, SupportsVision: true},
		{ID: "gpt-4-turbo", Name: "GPT-4 Turbo (Azure)", ContextWindow: 128000, MaxOutputTokens: 4096, SupportsVision: true},
		{ID: "gpt-4", Name: "GPT-4 (Azure)", ContextWindow: 8192, MaxOutputTokens: 4096},
		{ID: "gpt-35-turbo", Name: "GPT-3.5 Turbo (Azure)", ContextWindow: 16385, MaxOutputTokens: 4096},
	}
	for i := range catalog {
		catalog[i].Provider = "azure"
		catalog[i].SupportsTools = true
		catalog[i].SupportsStreaming = true
	}
	return catalog, nil
}

// HealthCheck verifies the deployment endpoint and credentials.
func (p *AzureOpenAIProvider) HealthCheck(ctx context.Context) error {
	if _, err := p.client.ListModels(ctx); err != nil {
		return wrapOpenAIError("azure", "", err)
	}
	return nil
}

// Generate performs a blocking completion by draining the stream.
func (p *AzureOpenAIProvider) Generate(ctx context.Context, req *agent.Request) (*agent.Response, error) {
	chunks, err := p.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return collectStream(chunks)
}

// Stream sends a completion request to an Azure deployment.
func (p *AzureOpenAIProvider) Stream(ctx context.Context, req *agent.Request) (<-chan *agent.Chunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	if model == "" {
		return nil, NewProviderError("azure", "", errors.New("model/deployment name is required"))
	}

	messages, err := convertToOpenAIMessages(req.Messages, req.System)
	if err != nil {
		return nil, NewProviderError("azure", model, err)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:         model, // deployment name on Azure
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
		return nil, wrapOpenAIError("azure", model, err)
	}

	chunks := make(chan *agent.Chunk)
	go processOpenAIStream(ctx, stream, chunks, func(err error) error {
		return wrapOpenAIError("azure", model, err)
	})

	return chunks, nil
}
