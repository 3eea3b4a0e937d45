package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/loom/internal/agent"
	"github.com/haasonsaas/loom/internal/tokens"
	"github.com/haasonsaas/loom/pkg/models"
)

// OpenAIProvider implements agent.Provider for OpenAI's chat completion API.
//
// Unlike Anthropic, OpenAI streams tool calls incrementally: the ID and
// function name arrive first, then argument fragments across many chunks,
// with finish_reason "tool_calls" marking completion. The adapter accumulates
// fragments per tool-call index and emits complete calls in index order.
type OpenAIProvider struct {
	client *openai.Client

	base BaseProvider

	apiKey       string
	defaultModel string
}

// OpenAIConfig configures an OpenAIProvider.
type OpenAIConfig struct {
	// APIKey authenticates against the OpenAI API (required).
	APIKey string

	// BaseURL overrides the API base URL, for proxies and tests.
	BaseURL string

	// DefaultModel is used when a request names no model. Default: "gpt-4o".
	DefaultModel string

	// MaxRetries sets stream-setup retry attempts. Default: 3.
	MaxRetries int

	// RetryDelay is the base delay for linear backoff. Default: 1s.
	RetryDelay time.Duration
}

// NewOpenAIProvider validates the config and builds the client.
func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "gpt-4o"
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if strings.TrimSpace(config.BaseURL) != "" {
		clientConfig.BaseURL = strings.TrimRight(config.BaseURL, "/")
	}

	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(clientConfig),
		base:         NewBaseProvider("openai", config.MaxRetries, config.RetryDelay),
		apiKey:       config.APIKey,
		defaultModel: config.DefaultModel,
	}, nil
}

// Name returns the provider identifier used in model references.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Capabilities reports GPT model capabilities.
func (p *OpenAIProvider) Capabilities() agent.Capabilities {
	return agent.Capabilities{
		ContextWindow:     128000,
		SupportsTools:     true,
		SupportsStreaming: true,
		SupportsVision:    true,
	}
}

// Models returns the GPT catalog with context windows and list pricing (USD
// per million tokens).
func (p *OpenAIProvider) Models(ctx context.Context) ([]models.ModelInfo, error) {
	catalog := []models.ModelInfo{
		{
			ID:              "gpt-4o",
			Name:            "GPT-4o",
			ContextWindow:   128000,
			MaxOutputTokens: 16384,
			InputPrice:      2.50,
			OutputPrice:     10.00,
			SupportsVision:  true,
		},
		{
			ID:              "gpt-4o-mini",
			Name:            "GPT-4o mini",
			ContextWindow:   128000,
			MaxOutputTokens: 16384,
			InputPrice:      0.15,
			OutputPrice:     0.60,
			SupportsVision:  true,
		},
		{
			ID:              "gpt-4-turbo",
			Name:            "GPT-4 Turbo",
			ContextWindow:   128000,
			MaxOutputTokens: 4096,
			InputPrice:      10.00,
			OutputPrice:     30.00,
			SupportsVision:  true,
		},
		{
			ID:              "gpt-3.5-turbo",
			Name:            "GPT-3.5 Turbo",
			ContextWindow:   16385,
			MaxOutputTokens: 4096,
			InputPrice:      0.50,
			OutputPrice:     1.50,
		},
	}
	for i := range catalog {
		catalog[i].Provider = "openai"
		catalog[i].SupportsTools = true
		catalog[i].SupportsStreaming = true
	}
	return catalog, nil
}

// HealthCheck verifies credentials by listing models.
func (p *OpenAIProvider) HealthCheck(ctx context.Context) error {
	if _, err := p.client.ListModels(ctx); err != nil {
		return wrapOpenAIError("openai", "", err)
	}
	return nil
}

// Generate performs a blocking completion by draining the stream.
func (p *OpenAIProvider) Generate(ctx context.Context, req *agent.Request) (*agent.Response, error) {
	chunks, err := p.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return collectStream(chunks)
}

// Stream sends a completion request and returns a channel of chunks. Stream
// setup happens before returning, with linear-backoff retries for transient
// failures; setup errors are returned directly rather than in-band.
func (p *OpenAIProvider) Stream(ctx context.Context, req *agent.Request) (<-chan *agent.Chunk, error) {
	chatReq, err := p.buildRequest(req)
	if err != nil {
		return nil, err
	}

	var stream *openai.ChatCompletionStream
	err = p.base.Retry(ctx, p.isRetryableError, func() error {
		var streamErr error
		stream, streamErr = p.client.CreateChatCompletionStream(ctx, chatReq)
		return streamErr
	})
	if err != nil {
		return nil, wrapOpenAIError("openai", chatReq.Model, err)
	}

	chunks := make(chan *agent.Chunk)
	go processOpenAIStream(ctx, stream, chunks, func(err error) error {
		return wrapOpenAIError("openai", chatReq.Model, err)
	})

	return chunks, nil
}

func (p *OpenAIProvider) buildRequest(req *agent.Request) (openai.ChatCompletionRequest, error) {
	messages, err := convertToOpenAIMessages(req.Messages, req.System)
	if err != nil {
		return openai.ChatCompletionRequest{}, fmt.Errorf("openai: failed to convert messages: %w", err)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    p.getModel(req.Model),
		Messages: messages,
		Stream:   true,
		// Usage on the final stream chunk, so Done can carry real counts.
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

	return chatReq, nil
}

func (p *OpenAIProvider) getModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

// CountTokens counts request tokens with tiktoken under the target model's
// encoding. Tool schemas are approximated by their serialized size.
func (p *OpenAIProvider) CountTokens(req *agent.Request) int {
	model := p.getModel(req.Model)
	total := tokens.Count(model, req.System)
	total += tokens.CountMessages(model, req.Messages)
	for _, tool := range req.Tools {
		total += tokens.Count(model, tool.Name)
		total += tokens.Count(model, tool.Description)
		total += tokens.Count(model, string(tool.Schema))
	}
	return total
}

func (p *OpenAIProvider) isRetryableError(err error) bool {
	return isRetryableOpenAIError(err)
}

// processOpenAIStream consumes a go-openai stream and converts it into
// chunks. Shared by the OpenAI, Azure, and OpenRouter providers, which all
// speak the same wire protocol.
func processOpenAIStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *agent.Chunk, wrap func(error) error) {
	defer close(chunks)
	defer stream.Close()

	// Tool calls accumulate per index; OpenAI interleaves fragments for
	// parallel calls.
	toolCalls := make(map[int]*models.ToolCall)
	toolArgs := make(map[int]*strings.Builder)

	var inputTokens int
	var outputTokens int

	flush := func() {
		indices := make([]int, 0, len(toolCalls))
		for idx := range toolCalls {
			indices = append(indices, idx)
		}
		sort.Ints(indices)

		for _, idx := range indices {
			tc := toolCalls[idx]
			if tc.ID == "" && tc.Name == "" {
				continue
			}
			tc.Params = sanitizeParams(toolArgs[idx].String())
			chunks <- &agent.Chunk{ToolCall: tc}
		}
		toolCalls = make(map[int]*models.ToolCall)
		toolArgs = make(map[int]*strings.Builder)
	}

	for {
		select {
		case <-ctx.Done():
			chunks <- &agent.Chunk{Error: ctx.Err(), Done: true}
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				// Normal completion: emit pending tool calls, then Done.
				flush()
				chunks <- &agent.Chunk{
					Done:         true,
					InputTokens:  inputTokens,
					OutputTokens: outputTokens,
				}
				return
			}
			chunks <- &agent.Chunk{Error: wrap(err), Done: true}
			return
		}

		// The usage chunk arrives last with no choices.
		if response.Usage != nil {
			inputTokens = response.Usage.PromptTokens
			outputTokens = response.Usage.CompletionTokens
		}

		if len(response.Choices) == 0 {
			continue
		}

		delta := response.Choices[0].Delta

		if delta.Content != "" {
			chunks <- &agent.Chunk{Text: delta.Content}
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}

			if toolCalls[index] == nil {
				toolCalls[index] = &models.ToolCall{}
				toolArgs[index] = &strings.Builder{}
			}

			if tc.ID != "" {
				toolCalls[index].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[index].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolArgs[index].WriteString(tc.Function.Arguments)
			}
		}

		if response.Choices[0].FinishReason == openai.FinishReasonToolCalls {
			flush()
		}
	}
}

// convertToOpenAIMessages converts conversation messages to OpenAI's format.
// The system prompt is injected as the leading message; tool observations
// map directly to tool-role messages linked by tool_call_id.
func convertToOpenAIMessages(messages []models.Message, system string) ([]openai.ChatCompletionMessage, error) {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)

	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleTool:
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
			})

		case models.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			if len(msg.ToolCalls) > 0 {
				oaiMsg.ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
				for i, tc := range msg.ToolCalls {
					oaiMsg.ToolCalls[i] = openai.ToolCall{
						ID:   tc.ID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      tc.Name,
							Arguments: string(tc.Params),
						},
					}
				}
			}
			result = append(result, oaiMsg)

		default:
			result = append(result, openai.ChatCompletionMessage{
				Role:    string(msg.Role),
				Content: msg.Content,
			})
		}
	}

	return result, nil
}

// convertToOpenAITools converts tool definitions to OpenAI's function
// format. A tool with an unparseable schema degrades to an empty object
// schema rather than failing the whole request.
func convertToOpenAITools(tools []agent.ToolDefinition) []openai.Tool {
	result := make([]openai.Tool, len(tools))

	for i, tool := range tools {
		var schemaMap map[string]any
		if err := json.Unmarshal(tool.Schema, &schemaMap); err != nil {
			schemaMap = map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			}
		}

		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schemaMap,
			},
		}
	}

	return result
}

// isRetryableOpenAIError classifies go-openai errors for retry purposes.
func isRetryableOpenAIError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429:
			return true
		case apiErr.HTTPStatusCode >= 500:
			return true
		default:
			return false
		}
	}

	errMsg := err.Error()

	if strings.Contains(errMsg, "rate limit") || strings.Contains(errMsg, "429") {
		return true
	}
	if strings.Contains(errMsg, "500") || strings.Contains(errMsg, "502") ||
		strings.Contains(errMsg, "503") || strings.Contains(errMsg, "504") {
		return true
	}
	if strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline exceeded") {
		return true
	}
	if strings.Contains(errMsg, "connection reset") || strings.Contains(errMsg, "connection refused") {
		return true
	}

	return false
}

// wrapOpenAIError converts go-openai errors into ProviderError, preserving
// the status code, error type, and message. Shared by the OpenAI-compatible
// providers.
func wrapOpenAIError(providerName, model string, err error) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		providerErr := &ProviderError{
			Provider: providerName,
			Model:    model,
			Cause:    err,
			Reason:   ReasonUnknown,
		}
		providerErr = providerErr.WithStatus(apiErr.HTTPStatusCode)
		if apiErr.Type != "" {
			providerErr = providerErr.WithCode(apiErr.Type)
		}
		if code, ok := apiErr.Code.(string); ok && code != "" {
			providerErr = providerErr.WithCode(code)
		}
		if apiErr.Message != "" {
			providerErr = providerErr.WithMessage(apiErr.Message)
		}
		return providerErr
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		providerErr := NewProviderError(providerName, model, err)
		return providerErr.WithStatus(reqErr.HTTPStatusCode)
	}

	return NewProviderError(providerName, model, err)
}
