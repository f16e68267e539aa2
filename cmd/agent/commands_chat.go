package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wireloop/agentplane/internal/agent"
	"github.com/wireloop/agentplane/internal/events"
	"github.com/wireloop/agentplane/pkg/models"
)

// buildChatCmd creates the "chat" command: an interactive REPL wrapping one
// long-lived Controller, with /exit, /clear, /compact and /help
// meta-commands.
func buildChatCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Long: `Chat starts a REPL over one Controller, saving session state on every
turn and on exit. Lines starting with "/" are meta-commands rather than
instructions; see /help.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), cmd, sessionID)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Resume this session id instead of starting a new one")
	return cmd
}

const chatHelp = `Commands:
  /exit     end the session
  /clear    discard conversation history and start fresh
  /compact  summarize history to free up context budget
  /help     show this message`

func runChat(ctx context.Context, cmd *cobra.Command, sessionID string) error {
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

	fmt.Fprintf(out, "session %s, type /help for commands\n", rec.ID)
	reader := bufio.NewReader(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "> ")
		line, readErr := reader.ReadString('\n')
		line = strings.TrimSpace(line)

		if line != "" {
			if handled, stop := handleChatCommand(ctx, out, ctl, line); handled {
				if stop {
					break
				}
				if readErr == io.EOF {
					break
				}
				continue
			}

			if _, runErr := ctl.Run(ctx, line, nil); runErr != nil {
				fmt.Fprintf(out, "[error] %v\n", runErr)
			}
			if saveErr := rt.store.SaveState(ctx, rec.ID, ctl.Snapshot(), models.Metadata{}); saveErr != nil {
				rt.logger.Warn("failed to persist session state", "session_id", rec.ID, "error", saveErr)
			}
		}

		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return readErr
		}
	}

	return rt.store.SaveState(ctx, rec.ID, ctl.Snapshot(), models.Metadata{})
}

// handleChatCommand interprets a "/"-prefixed line. handled reports
// whether line was a meta-command at all; stop reports whether the REPL
// loop should end.
func handleChatCommand(ctx context.Context, out io.Writer, ctl *agent.Controller, line string) (handled, stop bool) {
	if !strings.HasPrefix(line, "/") {
		return false, false
	}
	switch line {
	case "/exit":
		return true, true
	case "/help":
		fmt.Fprintln(out, chatHelp)
	case "/clear":
		ctl.Clear()
		fmt.Fprintln(out, "history cleared")
	case "/compact":
		report, err := ctl.Compact(ctx)
		if err != nil {
			fmt.Fprintf(out, "[error] compact: %v\n", err)
			break
		}
		fmt.Fprintf(out, "compacted: %d -> %d tokens (saved %d)\n", report.OriginalTokens, report.NewTokens, report.TokensSaved)
	default:
		fmt.Fprintf(out, "unknown command %q, try /help\n", line)
	}
	return true, false
}
