// Package models provides the core data types shared across the agent
// runtime: the dialogue (Message, Turn), the event stream, tool shapes, and
// session/confirmation records.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageKind discriminates the tagged-variant Message shape. Every message
// carries exactly one kind, and the fields relevant to that kind.
type MessageKind string

const (
	KindUserText     MessageKind = "user_text"
	KindAssistantText MessageKind = "assistant_text"
	KindThinking     MessageKind = "thinking"
	KindToolCall     MessageKind = "tool_call"
	KindToolResult   MessageKind = "tool_result"
)

// ContentBlockKind discriminates a ContentBlock.
type ContentBlockKind string

const (
	BlockText  ContentBlockKind = "text"
	BlockImage ContentBlockKind = "image"
)

// ContentBlock is a tagged union of either a text block or a base64 image.
type ContentBlock struct {
	Kind     ContentBlockKind `json:"kind"`
	Text     string           `json:"text,omitempty"`
	Image    string           `json:"image,omitempty"` // base64
	MimeType string           `json:"mime_type,omitempty"`
}

// TextBlock builds a text ContentBlock.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Kind: BlockText, Text: text}
}

// ImageBlock builds an image ContentBlock from base64 data.
func ImageBlock(base64Data, mimeType string) ContentBlock {
	return ContentBlock{Kind: BlockImage, Image: base64Data, MimeType: mimeType}
}

// ImageRef is a reference to image attachment data on a UserText message.
type ImageRef struct {
	Data     string `json:"data"` // base64
	MimeType string `json:"mime_type"`
}

// Message is the unit of the dialogue: a tagged variant over the five kinds
// the core understands. Only the fields relevant to Kind are populated; the
// rest are zero. Handling a Message must exhaustively switch on Kind.
type Message struct {
	Kind MessageKind `json:"kind"`

	// UserText / AssistantText / Thinking
	Text   string     `json:"text,omitempty"`
	Images []ImageRef `json:"images,omitempty"`

	// Thinking only
	Signature string `json:"signature,omitempty"`

	// ToolCall only
	ToolCallID   string          `json:"tool_call_id,omitempty"`
	ToolName     string          `json:"tool_name,omitempty"`
	ToolInput    json.RawMessage `json:"tool_input,omitempty"`

	// ToolResult only. Output is either a plain string or content blocks;
	// exactly one of OutputText/OutputBlocks is set.
	OutputText   string         `json:"output_text,omitempty"`
	OutputBlocks []ContentBlock `json:"output_blocks,omitempty"`
	IsError      bool           `json:"is_error,omitempty"`

	// Metadata carries out-of-band markers, e.g. the context manager's
	// synthetic-summary flag. Not interpreted by State itself.
	Metadata map[string]any `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// NewUserText builds a UserText message.
func NewUserText(text string, images []ImageRef) Message {
	return Message{Kind: KindUserText, Text: text, Images: images, CreatedAt: now()}
}

// NewAssistantText builds an AssistantText message.
func NewAssistantText(text string) Message {
	return Message{Kind: KindAssistantText, Text: text, CreatedAt: now()}
}

// NewThinking builds a Thinking message.
func NewThinking(signature, text string) Message {
	return Message{Kind: KindThinking, Signature: signature, Text: text, CreatedAt: now()}
}

// NewToolCall builds a ToolCall message.
func NewToolCall(id, name string, input json.RawMessage) Message {
	return Message{Kind: KindToolCall, ToolCallID: id, ToolName: name, ToolInput: input, CreatedAt: now()}
}

// NewToolResultText builds a ToolResult message with plain-text output.
func NewToolResultText(toolCallID, output string, isError bool) Message {
	return Message{Kind: KindToolResult, ToolCallID: toolCallID, OutputText: output, IsError: isError, CreatedAt: now()}
}

// NewToolResultBlocks builds a ToolResult message with content-block output.
func NewToolResultBlocks(toolCallID string, blocks []ContentBlock, isError bool) Message {
	return Message{Kind: KindToolResult, ToolCallID: toolCallID, OutputBlocks: blocks, IsError: isError, CreatedAt: now()}
}

var now = time.Now

// CharLen is a cheap character-count proxy for token estimation, used by
// the context manager's budget accounting.
func (m Message) CharLen() int {
	n := len(m.Text) + len(m.Signature) + len(m.ToolName) + len(m.ToolInput) + len(m.OutputText)
	for _, b := range m.OutputBlocks {
		n += len(b.Text) + len(b.Image)
	}
	return n
}

// String gives a short human-readable summary, used in logs.
func (m Message) String() string {
	switch m.Kind {
	case KindUserText:
		return fmt.Sprintf("UserText(%q)", truncate(m.Text, 40))
	case KindAssistantText:
		return fmt.Sprintf("AssistantText(%q)", truncate(m.Text, 40))
	case KindThinking:
		return fmt.Sprintf("Thinking(%q)", truncate(m.Text, 40))
	case KindToolCall:
		return fmt.Sprintf("ToolCall(%s:%s)", m.ToolName, m.ToolCallID)
	case KindToolResult:
		return fmt.Sprintf("ToolResult(%s,err=%v)", m.ToolCallID, m.IsError)
	default:
		return "Message(unknown)"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
