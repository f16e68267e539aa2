package config

import "time"

// ToolsConfig bounds tool execution and configures the sandbox backend, see
// internal/tools.Dispatcher and internal/sandbox.
type ToolsConfig struct {
	Sandbox   SandboxConfig       `yaml:"sandbox"`
	Execution ToolExecutionConfig `yaml:"execution"`
	Approval  ApprovalConfig      `yaml:"approval"`
}

// ToolExecutionConfig maps onto agent.ControllerConfig's run bounds.
type ToolExecutionConfig struct {
	MaxIterations int           `yaml:"max_iterations"`
	Timeout       time.Duration `yaml:"timeout"`
}

// ApprovalConfig controls how mutating tool calls are gated before running,
// consumed by the tools.ConfirmFunc wired into agent.ControllerConfig.
// Allowlist/Denylist entries name a models.ConfirmationKind ("edit", "bash",
// "mcp") rather than a tool name, since that is all a ConfirmationTicket
// carries.
type ApprovalConfig struct {
	// Allowlist contains confirmation kinds that never require approval.
	Allowlist []string `yaml:"allowlist"`

	// Denylist contains confirmation kinds that are always denied.
	Denylist []string `yaml:"denylist"`

	// DefaultDecision when no rule matches: "allowed", "denied", or "pending".
	// "pending" falls through to an interactive prompt.
	DefaultDecision string `yaml:"default_decision"`
}

// SandboxConfig selects and sizes the microVM backend a sandboxed tool call
// runs in, matching internal/sandbox.FirecrackerConfig's real fields.
type SandboxConfig struct {
	Enabled bool `yaml:"enabled"`

	KernelPath string `yaml:"kernel_path"`
	RootFSPath string `yaml:"rootfs_path"`
	SocketPath string `yaml:"socket_path"`

	VCPUs     int64 `yaml:"vcpus"`
	MemSizeMB int64 `yaml:"mem_size_mb"`
	VsockCID  uint32 `yaml:"vsock_cid"`

	DefaultTimeout time.Duration `yaml:"default_timeout"`
}
