// Package context implements the Context Manager: token-budgeted
// truncation/summarization of the dialogue before each model call.
//
// Two strategies are provided, both satisfying the same Manager contract,
// grounded in the teacher's two parallel truncation code paths
// (SPEC_FULL.md §9 Open Question 2 resolves this by keeping both):
//   - SummarizingManager (internal/agent/context/summarize.go + packer.go):
//     LLM-summarizes the oldest complete turns via an injected
//     SummaryProvider. This is the default.
//   - DropOldestManager (internal/context/truncation.go): drops oldest
//     non-protected turns outright. Used when no SummaryProvider is
//     configured.
package context

import (
	"context"

	"github.com/wireloop/agentplane/pkg/models"
)

// SummaryMetadataKey marks a Message as a synthetic summary produced by a
// Manager rather than part of the authentic transcript.
const SummaryMetadataKey = "agentplane_summary"

// TokenCounter estimates the token cost of a turn sequence. Deterministic
// for a given input, per the ContextManager contract.
type TokenCounter interface {
	Count(turns []models.Turn) int
}

// CharTokenCounter is a cheap token-count proxy used when no provider
// tokenizer is wired in: ~4 characters per token, grounded in the
// teacher's packer.go character-budget heuristic.
type CharTokenCounter struct{}

func (CharTokenCounter) Count(turns []models.Turn) int {
	chars := 0
	for _, t := range turns {
		chars += t.CharLen()
	}
	return (chars + 3) / 4
}

// Manager is the Context Manager contract from SPEC_FULL.md §4.2.
type Manager interface {
	// CountTokens delegates to the injected TokenCounter.
	CountTokens(turns []models.Turn) int

	// TruncateIfNeeded returns turns unchanged if CountTokens <= budget,
	// otherwise returns the result of Truncate.
	TruncateIfNeeded(ctx context.Context, turns []models.Turn, budget int) ([]models.Turn, error)

	// Truncate unconditionally compacts turns to fit budget.
	Truncate(ctx context.Context, turns []models.Turn, budget int) ([]models.Turn, error)
}

// split identifies the protected head (first user turn) and protected tail
// (the most recent user turn and everything after it) per SPEC_FULL.md
// §4.2 steps 1-2. It returns the index of the first turn in the tail.
func splitProtected(turns []models.Turn) (headIdx int, tailStart int) {
	if len(turns) == 0 {
		return 0, 0
	}
	headIdx = 0
	tailStart = len(turns)
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == models.TurnUser {
			tailStart = i
			break
		}
	}
	if tailStart <= headIdx {
		tailStart = headIdx + 1
	}
	return headIdx, tailStart
}

func isSummaryTurn(t models.Turn) bool {
	if len(t.Messages) != 1 {
		return false
	}
	m := t.Messages[0]
	if m.Metadata == nil {
		return false
	}
	v, ok := m.Metadata[SummaryMetadataKey]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

func newSummaryTurn(text string) models.Turn {
	msg := models.NewAssistantText(text)
	msg.Metadata = map[string]any{SummaryMetadataKey: true}
	return models.Turn{Role: models.TurnAssistant, Messages: []models.Message{msg}}
}
