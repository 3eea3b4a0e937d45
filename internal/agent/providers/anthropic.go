// Package providers implements the model adapters behind the agent.Provider
// interface: Anthropic, OpenAI, Azure OpenAI, OpenRouter, Google Gemini, AWS
// Bedrock, and Ollama.
//
// Each adapter owns the full complexity of its wire protocol: streaming
// (SSE, NDJSON, or SDK event streams), retry with backoff during connection
// setup, tool-call argument accumulation, and error classification into
// ProviderError. The engine above sees only uniform Chunk values; partial
// tool-call argument deltas never escape this package, and an emitted
// ToolCall always carries complete, parseable JSON params.
package providers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/haasonsaas/loom/internal/agent"
	"github.com/haasonsaas/loom/pkg/models"
)

// AnthropicProvider implements agent.Provider for Anthropic's Claude API.
//
// The adapter converts between the engine's message format and Anthropic's
// content-block format, consumes the SDK's SSE event stream, retries
// transient failures with exponential backoff while establishing the stream,
// and accumulates partial tool-input JSON across delta events so tool calls
// are only emitted once complete.
//
// Safe for concurrent use; each Stream call runs an independent goroutine.
type AnthropicProvider struct {
	client anthropic.Client

	apiKey string

	// maxRetries bounds stream-setup attempts for retryable failures.
	maxRetries int

	// retryDelay is the base backoff; actual delay is retryDelay * 2^attempt.
	retryDelay time.Duration

	// defaultModel is used when Request.Model is empty.
	defaultModel string
}

// AnthropicConfig configures an AnthropicProvider. Only APIKey is required.
type AnthropicConfig struct {
	// APIKey authenticates against the Anthropic API (required).
	APIKey string

	// BaseURL overrides the API base URL. Useful for proxies and tests.
	BaseURL string

	// MaxRetries sets stream-setup retry attempts. Default: 3.
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff. Default: 1s.
	RetryDelay time.Duration

	// DefaultModel is used when a request names no model.
	// Default: "claude-sonnet-4-20250514".
	DefaultModel string
}

// NewAnthropicProvider validates the config, applies defaults, and builds
// the SDK client.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}

	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}

	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}

	if config.DefaultModel == "" {
		config.DefaultModel = "claude-sonnet-4-20250514"
	}

	// Retry policy lives in this adapter, not the SDK.
	options := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(0),
	}
	if strings.TrimSpace(config.BaseURL) != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}
	client := anthropic.NewClient(options...)

	return &AnthropicProvider{
		client:       client,
		apiKey:       config.APIKey,
		maxRetries:   config.MaxRetries,
		retryDelay:   config.RetryDelay,
		defaultModel: config.DefaultModel,
	}, nil
}

// Name returns the provider identifier used in model references.
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Capabilities reports Claude model capabilities.
func (p *AnthropicProvider) Capabilities() agent.Capabilities {
	return agent.Capabilities{
		ContextWindow:     200000,
		SupportsTools:     true,
		SupportsStreaming: true,
		SupportsVision:    true,
	}
}

// Models returns the Claude catalog with context windows and list pricing
// (USD per million tokens). Prices seed cost calculation and can be
// overridden in the trace store.
func (p *AnthropicProvider) Models(ctx context.Context) ([]models.ModelInfo, error) {
	catalog := []models.ModelInfo{
		{
			ID:              "claude-sonnet-4-20250514",
			Name:            "Claude Sonnet 4",
			ContextWindow:   200000,
			MaxOutputTokens: 64000,
			InputPrice:      3.00,
			OutputPrice:     15.00,
		},
		{
			ID:              "claude-opus-4-20250514",
			Name:            "Claude Opus 4",
			ContextWindow:   200000,
			MaxOutputTokens: 32000,
			InputPrice:      15.00,
			OutputPrice:     75.00,
		},
		{
			ID:              "claude-3-5-sonnet-20241022",
			Name:            "Claude 3.5 Sonnet",
			ContextWindow:   200000,
			MaxOutputTokens: 8192,
			InputPrice:      3.00,
			OutputPrice:     15.00,
		},
		{
			ID:              "claude-3-5-haiku-20241022",
			Name:            "Claude 3.5 Haiku",
			ContextWindow:   200000,
			MaxOutputTokens: 8192,
			InputPrice:      0.80,
			OutputPrice:     4.00,
		},
		{
			ID:              "claude-3-haiku-20240307",
			Name:            "Claude 3 Haiku",
			ContextWindow:   200000,
			MaxOutputTokens: 4096,
			InputPrice:      0.25,
			OutputPrice:     1.25,
		},
	}
	for i := range catalog {
		catalog[i].Provider = "anthropic"
		catalog[i].SupportsTools = true
		catalog[i].SupportsStreaming = true
		catalog[i].SupportsVision = true
	}
	return catalog, nil
}

// HealthCheck verifies credentials by listing a single model.
func (p *AnthropicProvider) HealthCheck(ctx context.Context) error {
	if p.apiKey == "" {
		return errors.New("anthropic: API key is required")
	}
	if _, err := p.client.Models.List(ctx, anthropic.ModelListParams{Limit: anthropic.Int(1)}); err != nil {
		return p.wrapError(err, "")
	}
	return nil
}

// Generate performs a blocking completion by draining the stream.
func (p *AnthropicProvider) Generate(ctx context.Context, req *agent.Request) (*agent.Response, error) {
	chunks, err := p.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return collectStream(chunks)
}

// Stream sends a completion request and returns a channel of chunks.
//
// The channel is returned immediately; stream setup, including retries with
// exponential backoff for transient failures, happens in a goroutine.
// Setup failures, stream errors, and context cancellation are all delivered
// as Error chunks, after which the channel closes.
func (p *AnthropicProvider) Stream(ctx context.Context, req *agent.Request) (<-chan *agent.Chunk, error) {
	chunks := make(chan *agent.Chunk)

	go func() {
		defer close(chunks)

		var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
		var err error

		for attempt := 0; attempt <= p.maxRetries; attempt++ {
			stream, err = p.createStream(ctx, req)
			if err == nil {
				break
			}

			wrappedErr := p.wrapError(err, p.getModel(req.Model))
			if !p.isRetryableError(wrappedErr) {
				chunks <- &agent.Chunk{Error: wrappedErr}
				return
			}

			// Exponential backoff: 1s, 2s, 4s, ... with a 1s base delay.
			if attempt < p.maxRetries {
				backoff := p.retryDelay * time.Duration(math.Pow(2, float64(attempt)))
				select {
				case <-ctx.Done():
					chunks <- &agent.Chunk{Error: ctx.Err()}
					return
				case <-time.After(backoff):
					continue
				}
			}
		}

		if err != nil {
			chunks <- &agent.Chunk{Error: fmt.Errorf("anthropic: max retries exceeded: %w", p.wrapError(err, p.getModel(req.Model)))}
			return
		}

		p.processStream(stream, chunks, p.getModel(req.Model))
	}()

	return chunks, nil
}

// createStream converts the request and opens the SDK's SSE stream.
func (p *AnthropicProvider) createStream(ctx context.Context, req *agent.Request) (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
	messages, err := p.convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: failed to convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.getModel(req.Model)),
		Messages:  messages,
		MaxTokens: int64(p.getMaxTokens(req.MaxTokens)),
	}

	// System prompt is separate from messages in the Anthropic API.
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{
				Type: "text",
				Text: req.System,
			},
		}
	}

	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = anthropic.Float(*req.TopP)
	}

	if len(req.Tools) > 0 {
		tools, err := p.convertTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: failed to convert tools: %w", err)
		}
		params.Tools = tools
	}

	return p.client.Messages.NewStreaming(ctx, params), nil
}

// maxEmptyStreamEvents is the maximum number of consecutive empty events
// before treating the stream as malformed. Protects against streams that
// flood with empty events and would otherwise spin the consumer.
const maxEmptyStreamEvents = 300

// processStream consumes SSE events and converts them into chunks.
//
// Tool calls arrive across several events: content_block_start carries the
// ID and name, input_json_delta events carry argument fragments, and
// content_block_stop finalizes the call. The accumulated arguments pass
// through sanitizeParams so a truncated or garbled stream still yields
// parseable params.
func (p *AnthropicProvider) processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *agent.Chunk, model string) {
	var currentToolCall *models.ToolCall
	var currentToolInput strings.Builder
	emptyEventCount := 0

	var inputTokens int
	var outputTokens int

	for stream.Next() {
		event := stream.Current()
		eventProcessed := false

		switch event.Type {
		case "message_start":
			// Input tokens arrive on message_start.
			messageStart := event.AsMessageStart()
			if messageStart.Message.Usage.InputTokens > 0 {
				inputTokens = int(messageStart.Message.Usage.InputTokens)
			}
			eventProcessed = true

		case "content_block_start":
			contentBlockStart := event.AsContentBlockStart()
			contentBlock := contentBlockStart.ContentBlock

			if contentBlock.Type == "tool_use" {
				toolUse := contentBlock.AsToolUse()
				currentToolCall = &models.ToolCall{
					ID:   toolUse.ID,
					Name: toolUse.Name,
				}
				currentToolInput.Reset()
				eventProcessed = true
			}

		case "content_block_delta":
			contentBlockDelta := event.AsContentBlockDelta()
			delta := contentBlockDelta.Delta

			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					chunks <- &agent.Chunk{
						Text: delta.Text,
					}
					eventProcessed = true
				}

			case "input_json_delta":
				// Accumulate argument fragments until the block closes.
				if delta.PartialJSON != "" {
					currentToolInput.WriteString(delta.PartialJSON)
					eventProcessed = true
				}
			}

		case "content_block_stop":
			if currentToolCall != nil {
				currentToolCall.Params = sanitizeParams(currentToolInput.String())
				chunks <- &agent.Chunk{
					ToolCall: currentToolCall,
				}
				currentToolCall = nil
				eventProcessed = true
			}

		case "message_delta":
			// Final output token count arrives on message_delta.
			messageDelta := event.AsMessageDelta()
			if messageDelta.Usage.OutputTokens > 0 {
				outputTokens = int(messageDelta.Usage.OutputTokens)
			}
			eventProcessed = true

		case "message_stop":
			chunks <- &agent.Chunk{
				Done:         true,
				InputTokens:  inputTokens,
				OutputTokens: outputTokens,
			}
			return

		case "error":
			chunks <- &agent.Chunk{
				Error: p.wrapError(errors.New("anthropic stream error"), model),
			}
			return
		}

		if eventProcessed {
			emptyEventCount = 0
		} else {
			emptyEventCount++
			if emptyEventCount >= maxEmptyStreamEvents {
				chunks <- &agent.Chunk{
					Error: p.wrapError(
						fmt.Errorf("stream appears malformed: received %d consecutive empty events", emptyEventCount),
						model,
					),
				}
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		chunks <- &agent.Chunk{
			Error: p.wrapError(err, model),
		}
	}
}

// convertMessages converts conversation messages to Anthropic's
// content-block format. System messages are skipped (delivered via
// params.System); tool observations become tool_result blocks; assistant
// tool calls become tool_use blocks.
func (p *AnthropicProvider) convertMessages(messages []models.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam

	for i := 0; i < len(messages); i++ {
		msg := messages[i]

		if msg.Role == models.RoleSystem {
			continue
		}

		// Anthropic expects all tool results for a turn inside a single
		// user message, so a run of consecutive tool messages collapses
		// into one message with multiple tool_result blocks.
		if msg.Role == models.RoleTool {
			var content []anthropic.ContentBlockParamUnion
			for ; i < len(messages) && messages[i].Role == models.RoleTool; i++ {
				content = append(content, anthropic.NewToolResultBlock(
					messages[i].ToolCallID,
					messages[i].Content,
					false,
				))
			}
			i--
			result = append(result, anthropic.NewUserMessage(content...))
			continue
		}

		var content []anthropic.ContentBlockParamUnion

		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}

		for _, toolCall := range msg.ToolCalls {
			var input map[string]interface{}
			if err := json.Unmarshal(toolCall.Params, &input); err != nil {
				return nil, fmt.Errorf("invalid tool call input: %w", err)
			}

			content = append(content, anthropic.NewToolUseBlock(
				toolCall.ID,
				input,
				toolCall.Name,
			))
		}

		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}

	return result, nil
}

// convertTools converts tool definitions to Anthropic's tool schema.
func (p *AnthropicProvider) convertTools(tools []agent.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam

	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Schema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}

		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name)
		}
		toolParam.OfTool.Description = anthropic.String(tool.Description)

		result = append(result, toolParam)
	}

	return result, nil
}

// getModel returns the requested model or the provider default.
func (p *AnthropicProvider) getModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

// getMaxTokens returns the requested output cap, defaulting to 4096. The
// Anthropic API requires an explicit max_tokens.
func (p *AnthropicProvider) getMaxTokens(maxTokens int) int {
	if maxTokens <= 0 {
		return 4096
	}
	return maxTokens
}

// isRetryableError classifies failures into retryable (rate limits, server
// errors, timeouts, connection problems) and permanent (auth, validation).
func (p *AnthropicProvider) isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if providerErr, ok := GetProviderError(err); ok {
		return providerErr.Reason.IsRetryable()
	}

	errMsg := err.Error()

	if strings.Contains(errMsg, "rate_limit") ||
		strings.Contains(errMsg, "429") ||
		strings.Contains(errMsg, "too many requests") {
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

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

// wrapError converts SDK errors into ProviderError, pulling the status code,
// error type, and request ID out of the API error body when present.
func (p *AnthropicProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		providerErr := &ProviderError{
			Provider: "anthropic",
			Model:    model,
			Cause:    err,
			Reason:   ReasonUnknown,
		}
		providerErr = providerErr.WithStatus(apiErr.StatusCode)

		message := ""
		code := ""
		requestID := apiErr.RequestID

		raw := apiErr.RawJSON()
		if raw != "" {
			var payload anthropicErrorPayload
			if json.Unmarshal([]byte(raw), &payload) == nil {
				if payload.Error.Message != "" {
					message = payload.Error.Message
				}
				if payload.Error.Type != "" {
					code = payload.Error.Type
				}
				if payload.RequestID != "" {
					requestID = payload.RequestID
				}
			}
		}

		if message != "" {
			providerErr = providerErr.WithMessage(message)
		} else if providerErr.Message == "" {
			providerErr.Message = "anthropic request failed"
		}
		if code != "" {
			providerErr = providerErr.WithCode(code)
		}
		if requestID != "" {
			providerErr = providerErr.WithRequestID(requestID)
		}
		return providerErr
	}

	return NewProviderError("anthropic", model, err)
}

// CountTokens estimates request size using ~4 characters per token. Rough,
// but close enough for context-window checks; precise counts come back in
// stream usage.
func (p *AnthropicProvider) CountTokens(req *agent.Request) int {
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

// ParseSSEStream is a low-level Server-Sent Events parser, useful when
// debugging raw streams or proxying them without the SDK. The handler is
// called once per complete event with the event type and joined data lines.
func ParseSSEStream(reader io.Reader, handler func(eventType, data string) error) error {
	scanner := bufio.NewScanner(reader)
	var eventType string
	var dataLines []string

	for scanner.Scan() {
		line := scanner.Text()

		// A blank line terminates the pending event.
		if line == "" {
			if eventType != "" || len(dataLines) > 0 {
				data := strings.Join(dataLines, "\n")
				if err := handler(eventType, data); err != nil {
					return err
				}
				eventType = ""
				dataLines = nil
			}
			continue
		}

		if strings.HasPrefix(line, "event:") {
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			dataLines = append(dataLines, data)
		}
		// Comments (":"), id:, and retry: lines are ignored.
	}

	return scanner.Err()
}
