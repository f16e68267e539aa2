package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/wireloop/agentplane/internal/agent"
	"github.com/wireloop/agentplane/internal/config"
	agentcontext "github.com/wireloop/agentplane/internal/context"
	"github.com/wireloop/agentplane/internal/providers/anthropic"
	"github.com/wireloop/agentplane/internal/providers/bedrock"
	"github.com/wireloop/agentplane/internal/providers/gemini"
	"github.com/wireloop/agentplane/internal/providers/openai"
	"github.com/wireloop/agentplane/internal/sessions"
	"github.com/wireloop/agentplane/internal/toolkit/exec"
	"github.com/wireloop/agentplane/internal/toolkit/files"
	"github.com/wireloop/agentplane/internal/tools"
)

// runtime wires the shared dependencies every subcommand needs out of a
// loaded Config: the model client, tool registry, session store and a
// logger, following the teacher's runServe's construction order (config ->
// logger -> store -> providers -> registry).
type runtime struct {
	cfg      *config.Config
	model    agent.ModelClient
	registry *tools.Registry
	store    sessions.Store
	logger   *slog.Logger
}

func newRuntime(cfg *config.Config) (*runtime, error) {
	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	store, err := newSessionStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}

	model, err := newModelClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("model client: %w", err)
	}

	registry := tools.NewRegistry()
	if err := registerTools(registry, cfg); err != nil {
		return nil, fmt.Errorf("tool registry: %w", err)
	}

	return &runtime{cfg: cfg, model: model, registry: registry, store: store, logger: logger}, nil
}

// newLogger builds the process-wide slog.Logger from LoggingConfig,
// following the teacher's debug-flag override in runServe.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func newSessionStore(cfg *config.Config) (sessions.Store, error) {
	if cfg.Database.URL == "" {
		dataDir := cfg.Workspace.Root
		if dataDir == "" {
			dataDir = "."
		}
		return sessions.NewFileStore(dataDir)
	}
	ctx := context.Background()
	return newDurableStore(ctx, cfg)
}

func newModelClient(cfg *config.Config) (agent.ModelClient, error) {
	providerName := cfg.LLM.DefaultProvider
	pcfg, ok := cfg.LLM.Providers[providerName]
	if !ok {
		return nil, fmt.Errorf("no llm.providers entry for default provider %q", providerName)
	}

	switch providerName {
	case "anthropic":
		return anthropic.New(anthropic.Config{
			APIKey:       pcfg.APIKey,
			Model:        pcfg.DefaultModel,
			MaxRetries:   pcfg.MaxRetries,
			BetaFeatures: pcfg.BetaFeatures,
		}), nil
	case "openai":
		return openai.New(openai.Config{
			APIKey:  pcfg.APIKey,
			Model:   pcfg.DefaultModel,
			BaseURL: pcfg.BaseURL,
		}), nil
	case "gemini":
		return gemini.New(context.Background(), gemini.Config{
			APIKey: pcfg.APIKey,
			Model:  pcfg.DefaultModel,
		})
	case "bedrock":
		return bedrock.New(context.Background(), bedrock.Config{
			Region: cfg.LLM.Bedrock.Region,
			Model:  cfg.LLM.Bedrock.Model,
		})
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", providerName)
	}
}

// registerTools registers the illustrative toolkit tools scoped to the
// configured workspace root, per SPEC_FULL.md §3's files/exec toolkit.
func registerTools(reg *tools.Registry, cfg *config.Config) error {
	workspace := cfg.Workspace.Root
	if workspace == "" {
		workspace = "."
	}

	filesCfg := files.Config{Workspace: workspace, MaxReadBytes: cfg.Workspace.MaxChars}
	if err := reg.Register(files.NewReadTool(filesCfg)); err != nil {
		return err
	}
	if err := reg.Register(files.NewWriteTool(filesCfg)); err != nil {
		return err
	}
	if err := reg.Register(files.NewListDirTool(filesCfg)); err != nil {
		return err
	}
	if err := reg.Register(exec.New(exec.Config{
		Workspace:      workspace,
		DefaultTimeout: cfg.Tools.Execution.Timeout,
	})); err != nil {
		return err
	}
	return nil
}

// controllerConfig builds an agent.ControllerConfig from the Gateway
// section, the same fields gateway.Manager.controllerConfig reads, so a
// locally run agent behaves like one started over the WebSocket gateway.
func controllerConfig(cfg *config.Config, confirm tools.ConfirmFunc) agent.ControllerConfig {
	ctl := agent.DefaultControllerConfig()
	if cfg.Gateway.MaxTurns > 0 {
		ctl.MaxTurns = cfg.Gateway.MaxTurns
	}
	if cfg.Gateway.MaxOutputTokens > 0 {
		ctl.MaxOutputTokens = cfg.Gateway.MaxOutputTokens
	}
	if cfg.Gateway.TokenBudget > 0 {
		ctl.TokenBudget = cfg.Gateway.TokenBudget
	}
	ctl.SystemPrompt = cfg.Gateway.SystemPrompt
	ctl.ConfirmFunc = confirm
	return ctl
}

func newContextManager() agentcontext.Manager {
	return agentcontext.NewDropOldestManager(agentcontext.CharTokenCounter{})
}
