package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wireloop/agentplane/internal/sessions"
)

// buildSessionsCmd creates the "sessions" command group for inspecting
// persisted SessionRecords, grounded on the teacher's commands_sessions.go
// command-group shape (trimmed to this module's CRUD-only Store, with no
// branch/fork concept to carry over).
func buildSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect persisted sessions",
	}
	cmd.AddCommand(buildSessionsListCmd(), buildSessionsShowCmd())
	return cmd
}

func buildSessionsListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List known sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootConfigPath)
			if err != nil {
				return err
			}
			rt, err := newRuntime(cfg)
			if err != nil {
				return err
			}
			recs, err := rt.store.List(cmd.Context(), sessions.ListOptions{Limit: limit})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, rec := range recs {
				fmt.Fprintf(out, "%s\t%s\t%s\n", rec.ID, rec.Status, rec.WorkspaceDir)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Max number of sessions to list")
	return cmd
}

func buildSessionsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [session-id]",
		Short: "Show a session's conversation history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootConfigPath)
			if err != nil {
				return err
			}
			rt, err := newRuntime(cfg)
			if err != nil {
				return err
			}
			turns, _, err := rt.store.LoadState(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, turn := range turns {
				fmt.Fprintf(out, "[%s]\n", turn.Role)
				for _, msg := range turn.Messages {
					fmt.Fprintf(out, "  %s: %s\n", msg.Kind, msg.Text)
				}
			}
			return nil
		},
	}
	return cmd
}
