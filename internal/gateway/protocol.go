// Package gateway implements the Session Manager: the per-connection
// lifecycle that owns the mapping between a WebSocket and a ChatSession,
// per SPEC_FULL.md §4.5.
//
// Grounded on the teacher's internal/gateway/ws_control_plane.go (per-
// connection session with a read loop and a buffered write loop, JWT/query
// bearer-token authentication) and server.go (HTTP server wiring an
// upgrade handler into a mux), condensed from the teacher's gRPC-tunneled
// request/response frame protocol to SPEC_FULL.md's flatter
// {type, content} frame, and from the teacher's broadcast.go (mutex-
// protected membership maps) to a by-user/by-session/by-all connection
// registry instead of agent-peer broadcast groups.
package gateway

import (
	"encoding/json"
	"time"
)

// Inbound frame types, per SPEC_FULL.md §6.
const (
	InboundInitAgent               = "init_agent"
	InboundUserMessage             = "user_message"
	InboundCancel                  = "cancel"
	InboundToolConfirmationReply   = "tool_confirmation_response"
	InboundClear                   = "clear"
	InboundCompact                 = "compact"
)

// InboundFrame is one decoded inbound WebSocket text frame: JSON
// {type, content}.
type InboundFrame struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}

// InitAgentContent is the payload of an init_agent frame.
type InitAgentContent struct {
	SessionID string `json:"session_id,omitempty"`
	DeviceID  string `json:"device_id,omitempty"`
}

// UserMessageContent is the payload of a user_message frame.
type UserMessageContent struct {
	Text        string   `json:"text"`
	Attachments []string `json:"attachments,omitempty"`
}

// ToolConfirmationReplyContent is the payload of a
// tool_confirmation_response frame.
type ToolConfirmationReplyContent struct {
	ToolCallID  string `json:"tool_call_id"`
	Approved    bool   `json:"approved"`
	Alternative string `json:"alternative,omitempty"`
}

// CompactContent is the payload of a compact frame. Async opts a session
// into the internal/jobs queue instead of blocking the connection on the
// compaction run, per SPEC_FULL.md §4.4.
type CompactContent struct {
	Async bool `json:"async,omitempty"`
}

// OutboundFrame is one outbound WebSocket text frame: the event taxonomy
// from SPEC_FULL.md §3, reused verbatim on the wire as
// {type, content, timestamp}.
type OutboundFrame struct {
	Type      string         `json:"type"`
	Content   map[string]any `json:"content,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
