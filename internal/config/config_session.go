package config

// SessionConfig controls how the session layer scopes and bounds a
// Controller run, see internal/sessions.Store and internal/agent.Controller.
type SessionConfig struct {
	DefaultAgentID string `yaml:"default_agent_id"`

	// MaxTurns caps iterations per Controller run, overriding
	// agent.DefaultControllerConfig when non-zero.
	MaxTurns int `yaml:"max_turns"`

	Scoping SessionScopeConfig `yaml:"scoping"`
}

// SessionScopeConfig controls how DM-style sessions are keyed across
// secondary transports (e.g. internal/channels/telegram.Bridge, which keys
// sessions by chat id regardless of this setting today).
type SessionScopeConfig struct {
	// DMScope controls how DM sessions are scoped:
	// - "main": all DMs share one session (default)
	// - "per-peer": separate session per peer
	// - "per-channel-peer": separate session per channel+peer combination
	DMScope string `yaml:"dm_scope"`
}
