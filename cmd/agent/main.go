// Package main provides the CLI entry point for agentplane.
//
// agentplane drives a model through the Agent Controller's turn loop,
// dispatching tool calls against the Tool Registry and fanning every
// event out over the Event Stream to the WebSocket gateway, the Telegram
// bridge, and the CLI's own renderer.
//
// # Basic Usage
//
// Run a single task:
//
//	agent run --task "summarize this repo"
//
// Start an interactive REPL:
//
//	agent chat
//
// Start the WebSocket gateway:
//
//	agent serve --config agentplane.yaml
//
// # Environment Variables
//
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY, GEMINI_API_KEY: provider credentials
//   - DATABASE_URL: session store DSN
//   - JWT_SECRET: gateway bearer-token signing secret
//   - TELEGRAM_BOT_TOKEN: telegram bridge bot token
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(exitCodeFor(err))
	}
}

// buildRootCmd assembles the command tree, separated from main() for
// testability.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "agent",
		Short: "agentplane - model-driven agent execution platform",
		Long: `agentplane drives a model through a turn loop of generate/dispatch-tools/
repeat, streaming every step to any number of subscribers (terminal, WebSocket
gateway, Telegram).`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&rootConfigPath, "config", "c", defaultConfigPath,
		"Path to YAML configuration file")

	rootCmd.AddCommand(
		buildRunCmd(),
		buildChatCmd(),
		buildServeCmd(),
		buildSessionsCmd(),
	)

	return rootCmd
}

// rootConfigPath holds the --config flag's value, shared across subcommands
// the way the teacher's profileName is shared via a package var.
var rootConfigPath string

const defaultConfigPath = "agentplane.yaml"

// exitCode is the process-exit taxonomy: 0 success, 1 general failure,
// 2 budget/turn-limit exceeded without a hard error.
type exitCode int

const (
	exitSuccess exitCode = 0
	exitFailure exitCode = 1
	exitBudget  exitCode = 2
)

// budgetExceededError signals AgentOutput.BudgetExceeded without being a
// "real" error: the run produced output, it just didn't finish in-budget.
type budgetExceededError struct{ text string }

func (e *budgetExceededError) Error() string { return e.text }

func exitCodeFor(err error) int {
	if _, ok := err.(*budgetExceededError); ok {
		return int(exitBudget)
	}
	return int(exitFailure)
}
