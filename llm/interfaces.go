// Package llm defines the provider-agnostic contract the engine
// requires of a language model. The engine never references a concrete
// provider; implementations live in subpackages.
package llm

import (
	"context"
	"encoding/json"
)

// Message roles follow the chat-completion convention.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry in a conversation history. Histories are
// append-only within a healing episode.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	ToolCallID string     `json:"toolCallId,omitempty"`
}

// ToolCall is a model-initiated tool invocation.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Tool describes a callable exposed to the model. MaxUses of zero means
// unbounded; once exceeded, the caller stops offering the tool.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
	MaxUses     int             `json:"-"`
}

// Built-in tool names. submit proposes a configuration conforming to
// the supplied schema; abort declares the task non-recoverable.
const (
	ToolSubmit = "submit"
	ToolAbort  = "abort"
)

// abortParameters is the fixed schema of the abort tool.
var abortParameters = json.RawMessage(`{
	"type": "object",
	"properties": {
		"reason": {"type": "string", "description": "Why the task cannot be completed"}
	},
	"required": ["reason"]
}`)

// BuiltinTools returns the submit/abort pair for a proposal schema.
func BuiltinTools(submitSchema json.RawMessage) []Tool {
	return []Tool{
		{
			Name:        ToolSubmit,
			Description: "Submit the proposed configuration. Arguments must conform to the schema.",
			Parameters:  submitSchema,
		},
		{
			Name:        ToolAbort,
			Description: "Declare the task non-recoverable and stop. Provide a reason.",
			Parameters:  abortParameters,
		},
	}
}

// ObjectResult is the outcome of a structured-output call. With tools,
// Call holds the invocation the model chose; without tools, Object
// holds a schema-constrained JSON object. Messages is the full history
// including the assistant turn.
type ObjectResult struct {
	Call     *ToolCall
	Object   json.RawMessage
	Messages []Message
}

// Client is the engine-facing model contract.
type Client interface {
	// GenerateText runs a plain completion and returns the response
	// text plus the extended history.
	GenerateText(ctx context.Context, messages []Message, temperature float64) (string, []Message, error)

	// GenerateObject runs a schema-constrained completion. When tools
	// are supplied the model must answer with exactly one tool call.
	GenerateObject(ctx context.Context, messages []Message, schema json.RawMessage, temperature float64, tools []Tool) (*ObjectResult, error)
}
