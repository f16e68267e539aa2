package context

import (
	"context"

	"github.com/wireloop/agentplane/pkg/models"
)

// SummaryProvider turns a contiguous run of turns into a short summary
// text. Grounded in the teacher's internal/agent/context/summarize.go
// Summarizer, generalized to the Turn-based dialogue model.
type SummaryProvider interface {
	Summarize(ctx context.Context, turns []models.Turn) (string, error)
}

// SummarizingManager is the default Context Manager strategy: it
// iteratively folds the oldest complete turns into a single synthetic
// AssistantText summary message using an injected SummaryProvider, per
// SPEC_FULL.md §4.2 steps 3-5.
type SummarizingManager struct {
	Counter   TokenCounter
	Summarizer SummaryProvider

	// MaxSummaryChars caps the synthetic summary text as a last-resort
	// compaction step (spec step 5, "drop oldest summarized blocks").
	MaxSummaryChars int
}

// NewSummarizingManager builds a SummarizingManager. A nil counter
// defaults to CharTokenCounter; summarizer must be non-nil (callers should
// use NewDropOldestManager instead when no summarizer is available, per
// SPEC_FULL.md §9).
func NewSummarizingManager(counter TokenCounter, summarizer SummaryProvider) *SummarizingManager {
	if counter == nil {
		counter = CharTokenCounter{}
	}
	return &SummarizingManager{Counter: counter, Summarizer: summarizer, MaxSummaryChars: 4000}
}

func (m *SummarizingManager) CountTokens(turns []models.Turn) int {
	return m.Counter.Count(turns)
}

func (m *SummarizingManager) TruncateIfNeeded(ctx context.Context, turns []models.Turn, budget int) ([]models.Turn, error) {
	if m.CountTokens(turns) <= budget {
		return turns, nil
	}
	return m.Truncate(ctx, turns, budget)
}

// Truncate folds oldest user/assistant turn pairs (never splitting a
// ToolCall/ToolResult pair, since those stay within one assistant turn)
// into a running synthetic summary turn until the budget is met or there
// is nothing left to fold, then, if still over budget, shortens the
// summary text itself (step 5). Idempotent: a second call against output
// that is already at or under budget is a no-op pass-through.
func (m *SummarizingManager) Truncate(ctx context.Context, turns []models.Turn, budget int) ([]models.Turn, error) {
	if len(turns) == 0 {
		return turns, nil
	}
	headIdx, tailStart := splitProtected(turns)
	head := turns[headIdx : headIdx+1]
	middle := append([]models.Turn{}, turns[headIdx+1:tailStart]...)
	tail := turns[tailStart:]

	var summaryText string
	if len(middle) > 0 && isSummaryTurn(middle[0]) {
		summaryText = middle[0].Messages[0].Text
		middle = middle[1:]
	}

	for m.Summarizer != nil && len(middle) >= 2 {
		candidate := assembleCandidate(head, summaryText, middle, tail)
		if m.CountTokens(candidate) <= budget {
			break
		}
		pair := middle[:2]
		addition, err := m.Summarizer.Summarize(ctx, pair)
		if err != nil {
			// A failing summarizer must not abort the turn loop; fall
			// back to dropping the pair outright instead of looping
			// forever on an unsummarizable chunk.
			middle = middle[2:]
			continue
		}
		summaryText = mergeSummary(summaryText, addition)
		middle = middle[2:]
	}

	result := assembleCandidate(head, summaryText, middle, tail)

	if m.CountTokens(result) > budget && len(summaryText) > 0 {
		// Step 5: summarization alone still exceeds budget; shorten the
		// synthetic summary itself rather than touch protected turns.
		for len(summaryText) > 0 && m.CountTokens(result) > budget {
			cut := len(summaryText) / 2
			if cut == 0 {
				summaryText = ""
			} else {
				summaryText = summaryText[:cut]
			}
			result = assembleCandidate(head, summaryText, middle, tail)
		}
	}

	return result, nil
}

func mergeSummary(existing, addition string) string {
	if existing == "" {
		return addition
	}
	return existing + "\n" + addition
}

func assembleCandidate(head []models.Turn, summaryText string, middle, tail []models.Turn) []models.Turn {
	out := make([]models.Turn, 0, len(head)+1+len(middle)+len(tail))
	out = append(out, head...)
	if summaryText != "" {
		out = append(out, newSummaryTurn(summaryText))
	}
	out = append(out, middle...)
	out = append(out, tail...)
	return out
}
