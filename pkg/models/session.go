package models

import "time"

// SessionStatus is the lifecycle state of a SessionRecord.
type SessionStatus string

const (
	SessionActive  SessionStatus = "active"
	SessionPaused  SessionStatus = "paused"
	SessionDeleted SessionStatus = "deleted"
)

// SessionRecord is the durable row describing one conversation session.
// It is created on first connection, updated on every completed turn, and
// soft-deleted (never purged by the core itself).
type SessionRecord struct {
	ID            string        `json:"id"` // UUID
	WorkspaceDir  string        `json:"workspace_dir"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	LastMessageAt time.Time     `json:"last_message_at"`
	Name          string        `json:"name,omitempty"`
	DeviceID      string        `json:"device_id,omitempty"`
	Status        SessionStatus `json:"status"`
}

// TokenUsage is the small opaque record the ModelClient abstraction
// surfaces from a provider response, per SPEC_FULL §9 (keep provider
// responses opaque behind ModelClient).
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Metadata is the persisted metadata.json shape for a session.
type Metadata struct {
	Version      string         `json:"version"`
	SessionID    string         `json:"session_id"`
	WorkspaceDir string         `json:"workspace_dir"`
	LastMessageAt time.Time     `json:"last_message_at"`
	TokenUsage   TokenUsage     `json:"token_usage"`
	Settings     map[string]any `json:"settings,omitempty"`
}

// CurrentStatePointer is the top-level current_state.json shape used to
// resume the "latest session".
type CurrentStatePointer struct {
	CurrentSessionID string    `json:"current_session_id"`
	WorkspacePath    string    `json:"workspace_path"`
	LastUpdated      time.Time `json:"last_updated"`
}
