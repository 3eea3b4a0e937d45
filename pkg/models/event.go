package models

import (
	"encoding/json"
	"time"
)

// Event is the unified streaming event delivered to session sinks. A single
// Type discriminator selects which payload pointer is set; unknown fields are
// ignored by consumers so the shape can grow without breaking them.
type Event struct {
	// Type identifies the kind of event.
	Type EventType `json:"type"`

	// Time is when the event was emitted.
	Time time.Time `json:"time"`

	// RunID identifies the owning run. Set on every event once known.
	RunID string `json:"run_id,omitempty"`

	// Exactly one payload is non-nil for a given Type.
	Content    *ContentEvent    `json:"content,omitempty"`
	ToolCall   *ToolCallEvent   `json:"tool_call,omitempty"`
	ToolResult *ToolResultEvent `json:"tool_result,omitempty"`
	Done       *DoneEvent       `json:"done,omitempty"`
	Error      *ErrorEvent      `json:"error,omitempty"`
}

// EventType identifies the kind of streaming event.
type EventType string

const (
	// EventRunCreated is emitted first, carrying the run id so callers can
	// begin polling before the loop produces content.
	EventRunCreated EventType = "run_created"

	// EventContent carries an incremental text delta.
	EventContent EventType = "content"

	// EventToolCall announces a fully resolved tool invocation.
	EventToolCall EventType = "tool_call"

	// EventToolResult forwards a tool observation opportunistically.
	EventToolResult EventType = "tool_result"

	// EventDone terminates a successful stream with final usage.
	EventDone EventType = "done"

	// EventError terminates a failed stream.
	EventError EventType = "error"
)

// ContentEvent is an incremental text delta.
type ContentEvent struct {
	Text string `json:"text"`
}

// ToolCallEvent announces one tool invocation with complete parameters.
type ToolCallEvent struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// ToolResultEvent forwards the outcome of a tool invocation.
type ToolResultEvent struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
}

// DoneEvent carries the final usage counters for the run.
type DoneEvent struct {
	Usage Usage `json:"usage"`
}

// ErrorEvent carries a terminal failure message.
type ErrorEvent struct {
	Message string `json:"message"`
}

// NewRunCreatedEvent builds the initial run_created event.
func NewRunCreatedEvent(runID string) Event {
	return Event{Type: EventRunCreated, Time: time.Now(), RunID: runID}
}

// NewContentEvent builds a content delta event.
func NewContentEvent(runID, text string) Event {
	return Event{Type: EventContent, Time: time.Now(), RunID: runID, Content: &ContentEvent{Text: text}}
}

// NewToolCallEvent builds a tool_call event.
func NewToolCallEvent(runID string, call ToolCall) Event {
	return Event{
		Type:     EventToolCall,
		Time:     time.Now(),
		RunID:    runID,
		ToolCall: &ToolCallEvent{ID: call.ID, Name: call.Name, Parameters: call.Params},
	}
}

// NewToolResultEvent builds a tool_result event.
func NewToolResultEvent(runID, callID, name string, outcome ToolOutcome) Event {
	return Event{
		Type:  EventToolResult,
		Time:  time.Now(),
		RunID: runID,
		ToolResult: &ToolResultEvent{
			ID:      callID,
			Name:    name,
			Success: outcome.Success,
			Output:  outcome.Output,
		},
	}
}

// NewDoneEvent builds the terminal done event.
func NewDoneEvent(runID string, usage Usage) Event {
	return Event{Type: EventDone, Time: time.Now(), RunID: runID, Done: &DoneEvent{Usage: usage}}
}

// NewErrorEvent builds the terminal error event.
func NewErrorEvent(runID, message string) Event {
	return Event{Type: EventError, Time: time.Now(), RunID: runID, Error: &ErrorEvent{Message: message}}
}
