package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/wireloop/agentplane/internal/config"
	"github.com/wireloop/agentplane/internal/tools"
	"github.com/wireloop/agentplane/pkg/models"
)

// newPolicyConfirm builds a tools.ConfirmFunc that checks a ticket's kind
// against cfg's allow/deny lists before falling back to an interactive
// y/n/alternative prompt over in/out, per SPEC_FULL.md §4.3's confirmation
// pass.
func newPolicyConfirm(cfg config.ApprovalConfig, in io.Reader, out io.Writer) tools.ConfirmFunc {
	reader := bufio.NewReader(in)
	return func(ctx context.Context, ticket models.ConfirmationTicket) (models.ConfirmationResolution, error) {
		kind := string(ticket.Kind)
		if containsKind(cfg.Denylist, kind) {
			return models.ConfirmationResolution{Approved: false}, nil
		}
		if containsKind(cfg.Allowlist, kind) {
			return models.ConfirmationResolution{Approved: true}, nil
		}
		switch cfg.DefaultDecision {
		case "allowed":
			return models.ConfirmationResolution{Approved: true}, nil
		case "denied":
			return models.ConfirmationResolution{Approved: false}, nil
		}
		return promptConfirm(reader, out, ticket)
	}
}

func containsKind(list []string, kind string) bool {
	for _, k := range list {
		if k == kind {
			return true
		}
	}
	return false
}

func promptConfirm(reader *bufio.Reader, out io.Writer, ticket models.ConfirmationTicket) (models.ConfirmationResolution, error) {
	fmt.Fprintf(out, "\n[confirm %s] %s\nApprove? [y/N] ", ticket.Kind, ticket.Message)
	line, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return models.ConfirmationResolution{}, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return models.ConfirmationResolution{Approved: answer == "y" || answer == "yes"}, nil
}
