// Package tools holds the tool registry and dispatcher. Tools are registered
// by name; the dispatcher validates parameters against each tool's JSON
// schema before invoking it, independent of the allowlist check the engine
// performs. A failing tool produces a structured outcome, never a Go error,
// so the model sees failures as ordinary observations.
package tools

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/loom/pkg/models"
)

// Tool is the interface external capabilities implement.
//
// Example implementation:
//
//	type Echo struct{}
//
//	func (Echo) Name() string        { return "echo" }
//	func (Echo) Description() string { return "Returns the input text" }
//
//	func (Echo) Schema() json.RawMessage {
//	    return json.RawMessage(`{
//	        "type": "object",
//	        "properties": {
//	            "text": {"type": "string", "description": "Text to return"}
//	        },
//	        "required": ["text"]
//	    }`)
//	}
//
//	func (Echo) Execute(ctx context.Context, params json.RawMessage) (*models.ToolOutcome, error) {
//	    var input struct {
//	        Text string `json:"text"`
//	    }
//	    if err := json.Unmarshal(params, &input); err != nil {
//	        return nil, err
//	    }
//	    return &models.ToolOutcome{Success: true, Output: input.Text}, nil
//	}
type Tool interface {
	// Name returns the tool name used for model function calling.
	// Must be a valid function name (alphanumeric, underscores).
	Name() string

	// Description tells the model what the tool does and when to use it.
	Description() string

	// Schema returns the JSON Schema for the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool. The params have already passed schema
	// validation. A returned error is folded into a failure outcome by the
	// dispatcher.
	Execute(ctx context.Context, params json.RawMessage) (*models.ToolOutcome, error)
}
