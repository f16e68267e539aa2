package config

import "time"

// GatewayConfig configures internal/gateway.Manager's per-connection limits
// and background idle sweep.
type GatewayConfig struct {
	Broadcast GatewayBroadcastConfig `yaml:"broadcast"`

	MaxTurns        int    `yaml:"max_turns"`
	MaxOutputTokens int    `yaml:"max_output_tokens"`
	TokenBudget     int    `yaml:"token_budget"`
	SystemPrompt    string `yaml:"system_prompt"`

	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// GatewayBroadcastConfig controls Manager.BroadcastAll's dispatch strategy.
type GatewayBroadcastConfig struct {
	// Strategy is "parallel" or "sequential" (default).
	Strategy string `yaml:"strategy"`
}

// Parallel reports whether the configured strategy is "parallel".
func (c GatewayBroadcastConfig) Parallel() bool {
	return c.Strategy == "parallel"
}
