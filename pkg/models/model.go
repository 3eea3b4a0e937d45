package models

import "time"

// ModelInfo describes one model in the registry catalog: identity, limits,
// capabilities, and optional pricing. Refreshed from provider catalogs and
// health checks; cached until an explicit refresh invalidates it.
type ModelInfo struct {
	// ID is the model identifier used in API calls.
	ID string `json:"id"`

	// Provider is the owning adapter name (anthropic, openai, ...).
	Provider string `json:"provider"`

	// Name is a human-readable display name.
	Name string `json:"name,omitempty"`

	// ContextWindow is the maximum context size in tokens.
	ContextWindow int `json:"context_window,omitempty"`

	// MaxOutputTokens is the maximum output size, when known.
	MaxOutputTokens int `json:"max_output_tokens,omitempty"`

	// InputPrice / OutputPrice are USD per million tokens. Zero means the
	// price is unknown, not free; cost calculation treats it as absent.
	InputPrice  float64 `json:"input_price,omitempty"`
	OutputPrice float64 `json:"output_price,omitempty"`

	// Capability flags.
	SupportsTools     bool `json:"supports_tools,omitempty"`
	SupportsStreaming bool `json:"supports_streaming,omitempty"`
	SupportsVision    bool `json:"supports_vision,omitempty"`

	// LastUsed is updated when a run resolves this model.
	LastUsed time.Time `json:"last_used,omitempty"`

	// TokensPerSecond is a measured output speed, when sampled.
	TokensPerSecond float64 `json:"tokens_per_second,omitempty"`
}

// HasPricing reports whether both token prices are known.
func (m ModelInfo) HasPricing() bool {
	return m.InputPrice > 0 && m.OutputPrice > 0
}
