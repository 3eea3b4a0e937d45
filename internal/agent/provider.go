package agent

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/loom/pkg/models"
)

// Provider is the uniform contract every model adapter implements. The engine
// talks to providers exclusively through this interface; provider-specific
// wire formats, retry policies, and streaming protocols stay behind it.
type Provider interface {
	// Generate performs a blocking completion and returns the full response.
	Generate(ctx context.Context, req *Request) (*Response, error)

	// Stream performs a streaming completion. The returned channel delivers
	// incremental chunks and is closed after a terminal chunk (Done or Error).
	// Implementations may report setup failures either as a non-nil error or
	// as an Error chunk on the channel; callers must handle both.
	Stream(ctx context.Context, req *Request) (<-chan *Chunk, error)

	// HealthCheck verifies the provider is reachable and credentialed.
	HealthCheck(ctx context.Context) error

	// Capabilities reports what this provider's models can do.
	Capabilities() Capabilities

	// Name returns the provider identifier used in model references
	// ("anthropic", "openai", ...).
	Name() string

	// Models lists the models this provider serves, including any the
	// provider discovers dynamically.
	Models(ctx context.Context) ([]models.ModelInfo, error)
}

// Request is a provider-agnostic completion request. Adapters translate it
// into their native wire format.
type Request struct {
	// Model is the provider-native model identifier.
	Model string `json:"model"`

	// System is the system prompt, kept separate from Messages because
	// providers disagree on how system text is delivered.
	System string `json:"system,omitempty"`

	// Messages is the conversation buffer in chronological order.
	Messages []models.Message `json:"messages"`

	// Tools lists the tool definitions exposed for this request.
	Tools []ToolDefinition `json:"tools,omitempty"`

	// MaxTokens caps the generated output. Zero means provider default.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature overrides the sampling temperature when non-nil.
	Temperature *float64 `json:"temperature,omitempty"`

	// TopP overrides nucleus sampling when non-nil.
	TopP *float64 `json:"top_p,omitempty"`
}

// ToolDefinition describes a tool in provider-neutral form. Schema is a JSON
// Schema document for the tool's parameters.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Schema      json.RawMessage `json:"schema"`
}

// Response is the result of a blocking completion.
type Response struct {
	// Content is the assistant text, concatenated across the response.
	Content string `json:"content"`

	// ToolCalls holds any tool invocations the model requested. Params on
	// each call is always complete, parseable JSON.
	ToolCalls []models.ToolCall `json:"tool_calls,omitempty"`

	// Usage is the token consumption the provider reported, zero when the
	// provider reported none.
	Usage models.Usage `json:"usage"`
}

// Chunk is one increment of a streaming completion. Exactly one of Text,
// ToolCall, Done, or Error is meaningful per chunk.
type Chunk struct {
	// Text is a fragment of assistant output.
	Text string `json:"text,omitempty"`

	// ToolCall is a fully accumulated tool invocation. Adapters buffer
	// partial argument deltas internally and emit the call only once its
	// arguments are complete; Params is always valid JSON.
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`

	// Done marks the end of a successful stream. Token counts ride on the
	// Done chunk when the provider reported them.
	Done bool `json:"done,omitempty"`

	// Error marks the end of a failed stream.
	Error error `json:"-"`

	// InputTokens and OutputTokens carry provider-reported usage. They may
	// arrive on intermediate chunks as well as on Done; consumers should
	// keep the latest non-zero values.
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// Capabilities describes what a provider supports. The engine uses the
// context window for history sizing and the feature flags for routing
// decisions.
type Capabilities struct {
	// ContextWindow is the maximum combined prompt and completion size in
	// tokens for the provider's default model.
	ContextWindow int `json:"context_window"`

	SupportsTools     bool `json:"supports_tools"`
	SupportsStreaming bool `json:"supports_streaming"`
	SupportsVision    bool `json:"supports_vision"`
}
