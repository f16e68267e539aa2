package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for an agentplane process, loaded from
// a YAML file (with JSON5 $include support, see loader.go) and validated
// before use by cmd/agent.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Session  SessionConfig  `yaml:"session"`

	Workspace     WorkspaceConfig     `yaml:"workspace"`
	Identity      IdentityConfig      `yaml:"identity"`
	User          UserConfig          `yaml:"user"`
	Channels      ChannelsConfig      `yaml:"channels"`
	LLM           LLMConfig           `yaml:"llm"`
	Tools         ToolsConfig         `yaml:"tools"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// Load reads, parses, expands environment variables in, and validates the
// configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: expected single document")
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyDatabaseDefaults(&cfg.Database)
	applyAuthDefaults(&cfg.Auth)
	applyGatewayDefaults(&cfg.Gateway)
	applySessionDefaults(&cfg.Session)
	applyWorkspaceDefaults(&cfg.Workspace)
	applyToolsDefaults(&cfg.Tools)
	applyLLMDefaults(&cfg.LLM)
	applyLoggingDefaults(&cfg.Logging)
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.HTTPPort == 0 {
		cfg.HTTPPort = 8080
	}
	if cfg.MetricsPort == 0 {
		cfg.MetricsPort = 9090
	}
}

func applyDatabaseDefaults(cfg *DatabaseConfig) {
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 25
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
}

func applyAuthDefaults(cfg *AuthConfig) {
	if cfg.TokenExpiry == 0 {
		cfg.TokenExpiry = 24 * time.Hour
	}
}

func applyGatewayDefaults(cfg *GatewayConfig) {
	if cfg.Broadcast.Strategy == "" {
		cfg.Broadcast.Strategy = "sequential"
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = time.Hour
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 5 * time.Minute
	}
}

func applySessionDefaults(cfg *SessionConfig) {
	if cfg.Scoping.DMScope == "" {
		cfg.Scoping.DMScope = "main"
	}
	if cfg.MaxTurns == 0 {
		cfg.MaxTurns = 10
	}
}

func applyWorkspaceDefaults(cfg *WorkspaceConfig) {
	if cfg.Root == "" {
		cfg.Root = "."
	}
}

func applyToolsDefaults(cfg *ToolsConfig) {
	if cfg.Execution.MaxIterations == 0 {
		cfg.Execution.MaxIterations = 10
	}
	if cfg.Execution.Timeout == 0 {
		cfg.Execution.Timeout = 2 * time.Minute
	}
	if cfg.Approval.DefaultDecision == "" {
		cfg.Approval.DefaultDecision = "pending"
	}
	if cfg.Sandbox.VCPUs == 0 {
		cfg.Sandbox.VCPUs = 1
	}
	if cfg.Sandbox.MemSizeMB == 0 {
		cfg.Sandbox.MemSizeMB = 512
	}
}

func applyLLMDefaults(cfg *LLMConfig) {
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = "anthropic"
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
}

// applyEnvOverrides lets a handful of well-known environment variables
// override file-based config, for the common case of secrets injected by
// the deployment environment rather than committed to the config file.
func applyEnvOverrides(cfg *Config) {
	if value := strings.TrimSpace(os.Getenv("AGENTPLANE_HOST")); value != "" {
		cfg.Server.Host = value
	}
	if value := strings.TrimSpace(os.Getenv("AGENTPLANE_HTTP_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.HTTPPort = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("AGENTPLANE_METRICS_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.MetricsPort = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("DATABASE_URL")); value != "" {
		cfg.Database.URL = value
	}
	if value := strings.TrimSpace(os.Getenv("JWT_SECRET")); value != "" {
		cfg.Auth.JWTSecret = value
	}
	if value := strings.TrimSpace(os.Getenv("AGENTPLANE_TOKEN_EXPIRY")); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			cfg.Auth.TokenExpiry = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")); value != "" {
		cfg.Channels.Telegram.BotToken = value
	}
	for provider, envVar := range map[string]string{
		"anthropic": "ANTHROPIC_API_KEY",
		"openai":    "OPENAI_API_KEY",
		"gemini":    "GEMINI_API_KEY",
	} {
		value := strings.TrimSpace(os.Getenv(envVar))
		if value == "" {
			continue
		}
		if cfg.LLM.Providers == nil {
			cfg.LLM.Providers = map[string]LLMProviderConfig{}
		}
		p := cfg.LLM.Providers[provider]
		p.APIKey = value
		cfg.LLM.Providers[provider] = p
	}
}

// ConfigValidationError reports one or more configuration problems found by
// validateConfig.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	var issues []string

	if !validDMScope(cfg.Session.Scoping.DMScope) {
		issues = append(issues, "session.scoping.dm_scope must be \"main\", \"per-peer\", or \"per-channel-peer\"")
	}
	if cfg.LLM.DefaultProvider == "" {
		issues = append(issues, "llm.default_provider is required")
	} else if _, ok := cfg.LLM.Providers[cfg.LLM.DefaultProvider]; !ok {
		issues = append(issues, fmt.Sprintf("llm.default_provider %q has no matching entry under llm.providers", cfg.LLM.DefaultProvider))
	}
	if cfg.Auth.JWTSecret == "" {
		issues = append(issues, "auth.jwt_secret is required")
	}
	if !validApprovalDecision(cfg.Tools.Approval.DefaultDecision) {
		issues = append(issues, "tools.approval.default_decision must be \"allowed\", \"denied\", or \"pending\"")
	}
	if !validChannelPolicy(cfg.Channels.Telegram.DM.Policy) {
		issues = append(issues, "channels.telegram.dm.policy must be \"open\", \"allowlist\", or \"disabled\"")
	}
	if !validChannelPolicy(cfg.Channels.Telegram.Group.Policy) {
		issues = append(issues, "channels.telegram.group.policy must be \"open\", \"allowlist\", or \"disabled\"")
	}
	if cfg.Workspace.MaxChars < 0 {
		issues = append(issues, "workspace.max_chars must not be negative")
	}

	issues = append(issues, pluginValidationIssues(cfg)...)

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}

func validDMScope(scope string) bool {
	switch scope {
	case "", "main", "per-peer", "per-channel-peer":
		return true
	default:
		return false
	}
}

func validApprovalDecision(decision string) bool {
	switch decision {
	case "", "allowed", "denied", "pending":
		return true
	default:
		return false
	}
}

func validChannelPolicy(policy string) bool {
	switch policy {
	case "", "open", "allowlist", "disabled":
		return true
	default:
		return false
	}
}
