package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"math"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/haasonsaas/loom/internal/agent"
	"github.com/haasonsaas/loom/internal/agent/toolconv"
	"github.com/haasonsaas/loom/pkg/models"
)

// GeminiProvider implements agent.Provider for Google's Gemini API using the
// Gen AI SDK.
//
// Gemini delivers function calls whole (no argument fragments), but provides
// no call IDs, so the adapter mints them. Streaming uses the SDK's Go 1.23
// iterator; because the SDK defers the connection until iteration starts,
// retry wraps the first iteration and stops as soon as any chunk has been
// emitted.
type GeminiProvider struct {
	client *genai.Client

	base BaseProvider

	apiKey       string
	retryDelay   time.Duration
	defaultModel string
}

// GeminiConfig holds configuration for the Gemini provider.
type GeminiConfig struct {
	// APIKey is the Google AI API key (required).
	// Obtain from: https://aistudio.google.com/apikey
	APIKey string

	// MaxRetries sets stream-setup retry attempts. Default: 3.
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff. Default: 1s.
	RetryDelay time.Duration

	// DefaultModel is used when a request names no model.
	// Default: "gemini-2.0-flash".
	DefaultModel string
}

// NewGeminiProvider validates the config and builds the SDK client.
func NewGeminiProvider(config GeminiConfig) (*GeminiProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("gemini: API key is required")
	}

	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}

	if config.DefaultModel == "" {
		config.DefaultModel = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to create client: %w", err)
	}

	return &GeminiProvider{
		client:       client,
		base:         NewBaseProvider("gemini", config.MaxRetries, config.RetryDelay),
		apiKey:       config.APIKey,
		retryDelay:   config.RetryDelay,
		defaultModel: config.DefaultModel,
	}, nil
}

// Name returns the provider identifier.
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// Capabilities reports Gemini model capabilities.
func (p *GeminiProvider) Capabilities() agent.Capabilities {
	return agent.Capabilities{
		ContextWindow:     1000000,
		SupportsTools:     true,
		SupportsStreaming: true,
		SupportsVision:    true,
	}
}

// Models returns the Gemini catalog with context windows and list pricing
// (USD per million tokens, standard tier).
func (p *GeminiProvider) Models(ctx context.Context) ([]models.ModelInfo, error) {
	catalog := []models.ModelInfo{
		{
			ID:            "gemini-2.0-flash",
			Name:          "Gemini 2.0 Flash",
			ContextWindow: 1000000,
			InputPrice:    0.10,
			OutputPrice:   0.40,
		},
		{
			ID:            "gemini-2.0-flash-lite",
			Name:          "Gemini 2.0 Flash Lite",
			ContextWindow: 1000000,
			InputPrice:    0.075,
			OutputPrice:   0.30,
		},
		{
			ID:            "gemini-1.5-pro",
			Name:          "Gemini 1.5 Pro",
			ContextWindow: 2000000,
			InputPrice:    1.25,
			OutputPrice:   5.00,
		},
		{
			ID:            "gemini-1.5-flash",
			Name:          "Gemini 1.5 Flash",
			ContextWindow: 1000000,
			InputPrice:    0.075,
			OutputPrice:   0.30,
		},
	}
	for i := range catalog {
		catalog[i].Provider = "gemini"
		catalog[i].SupportsTools = true
		catalog[i].SupportsStreaming = true
		catalog[i].SupportsVision = true
	}
	return catalog, nil
}

// HealthCheck verifies the client is configured. The Gen AI SDK offers no
// cheap unauthenticated ping, so credential problems surface on first use.
func (p *GeminiProvider) HealthCheck(ctx context.Context) error {
	if p.client == nil || p.apiKey == "" {
		return errors.New("gemini: API key is required")
	}
	return nil
}

// Generate performs a blocking completion by draining the stream.
func (p *GeminiProvider) Generate(ctx context.Context, req *agent.Request) (*agent.Response, error) {
	chunks, err := p.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return collectStream(chunks)
}

// Stream sends a completion request and returns a channel of chunks. Setup
// errors, stream errors, and cancellation are delivered as Error chunks.
func (p *GeminiProvider) Stream(ctx context.Context, req *agent.Request) (<-chan *agent.Chunk, error) {
	chunks := make(chan *agent.Chunk)

	go func() {
		defer close(chunks)

		model := p.getModel(req.Model)
		contents, err := p.convertMessages(req.Messages)
		if err != nil {
			chunks <- &agent.Chunk{Error: p.wrapError(err, model)}
			return
		}

		config := p.buildConfig(req)

		// Once any chunk is out, a retry would replay already-delivered
		// content, so retries stop at first emission.
		var usage models.Usage
		emitted := false

		err = p.base.RetryWithBackoff(ctx, func(err error) bool {
			return !emitted && p.isRetryableError(err)
		}, func() error {
			streamIter := p.client.Models.GenerateContentStream(ctx, model, contents, config)
			streamUsage, streamErr := p.processStreamResponse(ctx, streamIter, chunks, &emitted)
			if streamErr != nil {
				return p.wrapError(streamErr, model)
			}
			usage = streamUsage
			return nil
		}, func(attempt int) time.Duration {
			return p.retryDelay * time.Duration(math.Pow(2, float64(attempt-1)))
		})

		if err != nil {
			if ctx.Err() != nil {
				chunks <- &agent.Chunk{Error: ctx.Err()}
				return
			}
			if p.isRetryableError(err) {
				chunks <- &agent.Chunk{Error: fmt.Errorf("gemini: max retries exceeded: %w", err)}
				return
			}
			chunks <- &agent.Chunk{Error: err}
			return
		}

		chunks <- &agent.Chunk{
			Done:         true,
			InputTokens:  usage.InputTokens,
			OutputTokens: usage.OutputTokens,
		}
	}()

	return chunks, nil
}

// processStreamResponse consumes the response iterator, emitting text and
// tool-call chunks and collecting usage metadata from the final responses.
func (p *GeminiProvider) processStreamResponse(ctx context.Context, streamIter iter.Seq2[*genai.GenerateContentResponse, error], chunks chan<- *agent.Chunk, emitted *bool) (models.Usage, error) {
	var usage models.Usage

	for resp, err := range streamIter {
		select {
		case <-ctx.Done():
			return usage, ctx.Err()
		default:
		}

		if err != nil {
			return usage, err
		}

		if resp == nil {
			continue
		}

		if resp.UsageMetadata != nil {
			if resp.UsageMetadata.PromptTokenCount > 0 {
				usage.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
			}
			if resp.UsageMetadata.CandidatesTokenCount > 0 {
				usage.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
			}
		}

		for _, candidate := range resp.Candidates {
			if candidate == nil || candidate.Content == nil {
				continue
			}

			for _, part := range candidate.Content.Parts {
				if part == nil {
					continue
				}

				if part.Text != "" {
					*emitted = true
					chunks <- &agent.Chunk{
						Text: part.Text,
					}
				}

				if part.FunctionCall != nil {
					argsJSON, jsonErr := json.Marshal(part.FunctionCall.Args)
					if jsonErr != nil {
						argsJSON = []byte("{}")
					}

					*emitted = true
					chunks <- &agent.Chunk{
						ToolCall: &models.ToolCall{
							ID:     generateToolCallID(part.FunctionCall.Name),
							Name:   part.FunctionCall.Name,
							Params: sanitizeParams(string(argsJSON)),
						},
					}
				}
			}
		}
	}

	return usage, nil
}

// convertMessages converts conversation messages to Gemini's content format.
// System messages are skipped (delivered via SystemInstruction); assistant
// tool calls become FunctionCall parts; tool observations become
// FunctionResponse parts on the user side.
func (p *GeminiProvider) convertMessages(messages []models.Message) ([]*genai.Content, error) {
	var result []*genai.Content

	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		content := &genai.Content{}

		switch msg.Role {
		case models.RoleAssistant:
			content.Role = genai.RoleModel
		default:
			// Tool observations come from the user side in Gemini.
			content.Role = genai.RoleUser
		}

		if msg.Role == models.RoleTool {
			// Gemini matches function responses by name, not ID.
			var response map[string]any
			if err := json.Unmarshal([]byte(msg.Content), &response); err != nil {
				response = map[string]any{
					"result": msg.Content,
				}
			}

			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					Name:     getToolNameFromID(msg.ToolCallID, messages),
					Response: response,
				},
			})
		} else if msg.Content != "" {
			content.Parts = append(content.Parts, &genai.Part{
				Text: msg.Content,
			})
		}

		for _, tc := range msg.ToolCalls {
			var args map[string]any
			if err := json.Unmarshal(tc.Params, &args); err != nil {
				args = make(map[string]any)
			}

			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{
					Name: tc.Name,
					Args: args,
				},
			})
		}

		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}

	return result, nil
}

// buildConfig assembles generation settings: system instruction, sampling
// overrides, output cap, and tools.
func (p *GeminiProvider) buildConfig(req *agent.Request) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}

	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{
				{Text: req.System},
			},
		}
	}

	if req.MaxTokens > 0 {
		maxTokens := min(req.MaxTokens, math.MaxInt32)
		// #nosec G115 -- bounded by min above
		config.MaxOutputTokens = int32(maxTokens)
	}

	if req.Temperature != nil {
		temp := float32(*req.Temperature)
		config.Temperature = &temp
	}
	if req.TopP != nil {
		topP := float32(*req.TopP)
		config.TopP = &topP
	}

	if len(req.Tools) > 0 {
		config.Tools = toolconv.ToGeminiTools(req.Tools)
	}

	return config
}

func (p *GeminiProvider) getModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func (p *GeminiProvider) isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if providerErr, ok := GetProviderError(err); ok {
		return providerErr.Reason.IsRetryable()
	}

	errMsg := strings.ToLower(err.Error())

	if strings.Contains(errMsg, "rate limit") ||
		strings.Contains(errMsg, "429") ||
		strings.Contains(errMsg, "too many requests") ||
		strings.Contains(errMsg, "resource exhausted") ||
		strings.Contains(errMsg, "quota") {
		return true
	}

	if strings.Contains(errMsg, "500") ||
		strings.Contains(errMsg, "502") ||
		strings.Contains(errMsg, "503") ||
		strings.Contains(errMsg, "504") ||
		strings.Contains(errMsg, "internal server error") ||
		strings.Contains(errMsg, "bad gateway") ||
		strings.Contains(errMsg, "service unavailable") ||
		strings.Contains(errMsg, "gateway timeout") {
		return true
	}

	if strings.Contains(errMsg, "timeout") ||
		strings.Contains(errMsg, "deadline exceeded") {
		return true
	}

	if strings.Contains(errMsg, "connection reset") ||
		strings.Contains(errMsg, "connection refused") ||
		strings.Contains(errMsg, "no such host") {
		return true
	}

	return false
}

// wrapError converts SDK errors into ProviderError. The Gen AI SDK surfaces
// status codes in error text, so classification parses them out.
func (p *GeminiProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}

	providerErr := NewProviderError("gemini", model, err)

	errMsg := strings.ToLower(err.Error())

	if strings.Contains(errMsg, "401") || strings.Contains(errMsg, "unauthenticated") {
		providerErr = providerErr.WithStatus(http.StatusUnauthorized)
	} else if strings.Contains(errMsg, "403") || strings.Contains(errMsg, "permission denied") {
		providerErr = providerErr.WithStatus(http.StatusForbidden)
	} else if strings.Contains(errMsg, "404") || strings.Contains(errMsg, "not found") {
		providerErr = providerErr.WithStatus(http.StatusNotFound)
	} else if strings.Contains(errMsg, "429") || strings.Contains(errMsg, "resource exhausted") {
		providerErr = providerErr.WithStatus(http.StatusTooManyRequests)
	} else if strings.Contains(errMsg, "500") {
		providerErr = providerErr.WithStatus(http.StatusInternalServerError)
	} else if strings.Contains(errMsg, "503") {
		providerErr = providerErr.WithStatus(http.StatusServiceUnavailable)
	}

	return providerErr
}

// CountTokens estimates request size using ~4 characters per token.
func (p *GeminiProvider) CountTokens(req *agent.Request) int {
	total := 0

	total += len(req.System) / 4

	for _, msg := range req.Messages {
		total += len(msg.Content) / 4
		total += len(msg.Role) / 4

		for _, tc := range msg.ToolCalls {
			total += len(tc.Name) / 4
			total += len(tc.Params) / 4
		}
	}

	for _, tool := range req.Tools {
		total += len(tool.Name) / 4
		total += len(tool.Description) / 4
		total += len(tool.Schema) / 4
	}

	return total
}

// generateToolCallID mints an ID for a Gemini function call, which arrives
// without one.
func generateToolCallID(name string) string {
	return fmt.Sprintf("call_%s_%d", name, time.Now().UnixNano())
}

// getToolNameFromID recovers the function name for a tool observation by
// scanning earlier assistant tool calls, falling back to the ID format
// "call_<name>_<timestamp>".
func getToolNameFromID(toolCallID string, messages []models.Message) string {
	for _, msg := range messages {
		for _, tc := range msg.ToolCalls {
			if tc.ID == toolCallID {
				return tc.Name
			}
		}
	}
	parts := strings.Split(toolCallID, "_")
	if len(parts) >= 2 {
		return parts[1]
	}
	return ""
}
