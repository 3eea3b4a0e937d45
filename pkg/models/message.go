// Package models provides domain types for the Loom agent execution engine.
package models

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry in the rolling conversation buffer passed to a model
// adapter. Messages are transient: they are rebuilt from persisted Turns, not
// stored directly.
type Message struct {
	// Role is the message author.
	Role Role `json:"role"`

	// Content is the message text. For tool messages this is the tool's
	// output; for assistant messages it may be empty when the model only
	// requested tool calls.
	Content string `json:"content"`

	// ToolCalls holds the calls requested by an assistant message.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a tool-role message back to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// CreatedAt is when the message entered the buffer.
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	// ID uniquely identifies this call within the conversation.
	ID string `json:"id"`

	// Name is the tool to invoke.
	Name string `json:"name"`

	// Params is the raw JSON arguments. Adapters guarantee this is complete,
	// parseable JSON (empty object when the provider produced garbage).
	Params json.RawMessage `json:"params,omitempty"`
}

// SystemMessage builds a system-role message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content, CreatedAt: time.Now()}
}

// UserMessage builds a user-role message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content, CreatedAt: time.Now()}
}

// ToolMessage builds a tool-role observation message for the given call.
func ToolMessage(callID, content string) Message {
	return Message{Role: RoleTool, ToolCallID: callID, Content: content, CreatedAt: time.Now()}
}
