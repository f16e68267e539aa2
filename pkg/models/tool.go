package models

import "encoding/json"

// ToolCallParameters is the runtime representation of a pending tool call
// awaiting dispatch.
type ToolCallParameters struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// ToolDescriptor is the static shape a tool publishes about itself.
// Names must be unique within a single registry.
type ToolDescriptor struct {
	Name                 string          `json:"name"`
	Description          string          `json:"description"`
	InputSchema          json.RawMessage `json:"input_schema"`
	ReadOnly             bool            `json:"read_only"`
	RequiresConfirmation bool            `json:"requires_confirmation"`
}

// ToolResult is the uniform shape every tool execution produces, whether
// the tool itself ran or was replaced by a synthetic result (denial,
// interrupt, schema error, unknown-tool).
type ToolResult struct {
	// LLMContent is either a plain string or a slice of ContentBlock; the
	// dispatcher decides which based on whether a tool returned rich
	// content. Exactly one of LLMText/LLMBlocks is populated.
	LLMText   string         `json:"llm_text,omitempty"`
	LLMBlocks []ContentBlock `json:"llm_blocks,omitempty"`

	// UserDisplayContent is a short human-oriented rendering, separate from
	// what the model sees, following the teacher's llmContent/userDisplay
	// split so a verbose tool output doesn't have to double as UI text.
	UserDisplayContent string `json:"user_display_content"`

	IsError bool `json:"is_error"`
}

// ConfirmationKind categorizes the class of mutating action a confirmation
// ticket is gating.
type ConfirmationKind string

const (
	ConfirmationEdit ConfirmationKind = "edit"
	ConfirmationBash ConfirmationKind = "bash"
	ConfirmationMCP  ConfirmationKind = "mcp"
)

// ConfirmationResolution is the user's answer to a ConfirmationTicket.
type ConfirmationResolution struct {
	Approved    bool   `json:"approved"`
	Alternative string `json:"alternative,omitempty"`
}

// ConfirmationTicket is created when a mutating tool's policy requires user
// approval before it runs. It resolves exactly once, identified by the
// tool-call id it gates.
type ConfirmationTicket struct {
	ToolCallID string                   `json:"tool_call_id"`
	Kind       ConfirmationKind         `json:"kind"`
	Message    string                   `json:"message"`
	Resolution *ConfirmationResolution  `json:"resolution,omitempty"`
}
