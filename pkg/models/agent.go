package models

import "time"

// Agent is a declarative agent definition: prompt, model, and the tools it is
// permitted to call. The execution engine treats an Agent as immutable input
// for the duration of one run.
type Agent struct {
	// ID uniquely identifies the agent.
	ID string `json:"id" yaml:"id"`

	// Name is a human-readable name.
	Name string `json:"name" yaml:"name"`

	// Description explains what the agent is for.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// SystemPrompt is the current prompt text sent as system context.
	SystemPrompt string `json:"system_prompt" yaml:"system_prompt"`

	// PromptVersions is the append-only history of prompt revisions. The
	// last entry matches SystemPrompt.
	PromptVersions []PromptVersion `json:"prompt_versions,omitempty" yaml:"prompt_versions,omitempty"`

	// Model is the default model identifier. Callers may override per run.
	Model string `json:"model" yaml:"model"`

	// Tools is the allowlist of tool names this agent may invoke. Enforced on
	// every dispatch, not just at configuration time.
	Tools []string `json:"tools,omitempty" yaml:"tools,omitempty"`

	// Tags are free-form labels for querying.
	Tags []string `json:"tags,omitempty" yaml:"tags,omitempty"`

	// Generation holds sampling settings passed to the model.
	Generation GenerationSettings `json:"generation,omitempty" yaml:"generation,omitempty"`

	// MessageWindow caps the conversation buffer length before windowing
	// compresses older history. Zero disables compression.
	MessageWindow int `json:"message_window,omitempty" yaml:"message_window,omitempty"`

	// StructuredMemory enables the persisted per-agent memory document.
	StructuredMemory bool `json:"structured_memory,omitempty" yaml:"structured_memory,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

// PromptVersion is one revision of an agent's system prompt.
type PromptVersion struct {
	Version   int       `json:"version" yaml:"version"`
	Prompt    string    `json:"prompt" yaml:"prompt"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// GenerationSettings are per-agent sampling defaults. Pointer fields
// distinguish "unset" from an explicit zero.
type GenerationSettings struct {
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	TopP        *float64 `json:"top_p,omitempty" yaml:"top_p,omitempty"`
}

// AllowsTool reports whether name is in the agent's allowlist.
func (a *Agent) AllowsTool(name string) bool {
	for _, t := range a.Tools {
		if t == name {
			return true
		}
	}
	return false
}

// CurrentPromptVersion returns the highest recorded prompt version, or zero
// when no history exists.
func (a *Agent) CurrentPromptVersion() int {
	v := 0
	for _, pv := range a.PromptVersions {
		if pv.Version > v {
			v = pv.Version
		}
	}
	return v
}
