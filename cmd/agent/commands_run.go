package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/wireloop/agentplane/internal/agent"
	"github.com/wireloop/agentplane/internal/config"
	"github.com/wireloop/agentplane/internal/events"
	"github.com/wireloop/agentplane/pkg/models"
)

// buildRunCmd creates the "run" command: a single Controller.Run invocation
// over a fresh or resumed session, exiting 0 on success, 2 if the turn
// budget was exhausted, 1 on any other error.
func buildRunCmd() *cobra.Command {
	var (
		task      string
		taskFile  string
		sessionID string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single task to completion",
		Long: `Run drives the Agent Controller through one instruction, streaming every
event to the terminal, and exits once the model reports the task complete
or the turn budget is exhausted.`,
		Example: `  agent run --task "summarize README.md"
  agent run --file task.txt --session my-session`,
		RunE: func(cmd *cobra.Command, args []string) error {
			instruction, err := resolveTask(task, taskFile)
			if err != nil {
				return err
			}
			return runOnce(cmd.Context(), cmd, instruction, sessionID)
		},
	}

	cmd.Flags().StringVar(&task, "task", "", "Instruction to run")
	cmd.Flags().StringVar(&taskFile, "file", "", "Read the instruction from a file instead of --task")
	cmd.Flags().StringVar(&sessionID, "session", "", "Resume this session id instead of starting a new one")
	return cmd
}

func resolveTask(task, taskFile string) (string, error) {
	if taskFile != "" {
		data, err := os.ReadFile(taskFile)
		if err != nil {
			return "", fmt.Errorf("reading --file: %w", err)
		}
		return string(data), nil
	}
	if task == "" {
		return "", fmt.Errorf("one of --task or --file is required")
	}
	return task, nil
}

func runOnce(ctx context.Context, cmd *cobra.Command, instruction, sessionID string) error {
	cfg, err := loadConfig(rootConfigPath)
	if err != nil {
		return err
	}
	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	rec, err := rt.store.GetOrCreate(ctx, sessionWorkspace(cfg, sessionID))
	if err != nil {
		return fmt.Errorf("resolving session: %w", err)
	}

	stream := events.New(events.DefaultConfig())
	handle := stream.Subscribe(func(e models.Event) { renderEvent(out, e) })
	defer stream.Unsubscribe(handle)

	confirm := newPolicyConfirm(cfg.Tools.Approval, cmd.InOrStdin(), out)
	ctl := agent.NewController(rec.ID, rt.model, rt.registry, newContextManager(), stream, controllerConfig(cfg, confirm))

	if turns, _, err := rt.store.LoadState(ctx, rec.ID); err == nil {
		ctl.Restore(turns)
	}

	output, err := ctl.Run(ctx, instruction, nil)
	if err != nil {
		return err
	}

	if saveErr := rt.store.SaveState(ctx, rec.ID, ctl.Snapshot(), models.Metadata{}); saveErr != nil {
		rt.logger.Warn("failed to persist session state", "session_id", rec.ID, "error", saveErr)
	}

	fmt.Fprintln(out)
	if output.BudgetExceeded {
		return &budgetExceededError{text: output.Text}
	}
	return nil
}

// sessionWorkspace maps a session id (or lack of one) onto the workspace
// directory GetOrCreate keys on, following the gateway's per-session
// workspace-dir layout (workspace.root/<session-id>).
func sessionWorkspace(cfg *config.Config, sessionID string) string {
	root := cfg.Workspace.Root
	if root == "" {
		root = "."
	}
	if sessionID == "" {
		return root
	}
	return filepath.Join(root, sessionID)
}
