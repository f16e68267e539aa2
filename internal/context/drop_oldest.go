package context

import (
	"context"

	"github.com/wireloop/agentplane/pkg/models"
)

// DropOldestManager truncates by discarding the oldest non-protected turns
// outright, grounded in the teacher's internal/context/truncation.go
// truncateOldest/truncateMiddle. It is the fallback strategy named in
// SPEC_FULL.md §9 when no SummaryProvider is configured.
type DropOldestManager struct {
	Counter TokenCounter
}

// NewDropOldestManager builds a DropOldestManager; a nil counter defaults
// to CharTokenCounter.
func NewDropOldestManager(counter TokenCounter) *DropOldestManager {
	if counter == nil {
		counter = CharTokenCounter{}
	}
	return &DropOldestManager{Counter: counter}
}

func (m *DropOldestManager) CountTokens(turns []models.Turn) int {
	return m.Counter.Count(turns)
}

func (m *DropOldestManager) TruncateIfNeeded(ctx context.Context, turns []models.Turn, budget int) ([]models.Turn, error) {
	if m.CountTokens(turns) <= budget {
		return turns, nil
	}
	return m.Truncate(ctx, turns, budget)
}

// Truncate drops oldest turns from the middle region (between the
// protected head and protected tail) two at a time — a user turn and its
// paired assistant turn — so alternation is never broken and no
// ToolCall/ToolResult pair is ever split across the cut, per
// SPEC_FULL.md §4.2 step 4. It stops once the budget is met or the middle
// is exhausted, and is idempotent: a second call on its own output is a
// no-op because there is nothing left to drop that wouldn't violate the
// protected regions.
func (m *DropOldestManager) Truncate(ctx context.Context, turns []models.Turn, budget int) ([]models.Turn, error) {
	if len(turns) == 0 {
		return turns, nil
	}
	headIdx, tailStart := splitProtected(turns)
	head := turns[headIdx : headIdx+1]
	middle := append([]models.Turn{}, turns[headIdx+1:tailStart]...)
	tail := turns[tailStart:]

	for len(middle) >= 2 {
		candidate := buildResult(head, middle, tail)
		if m.CountTokens(candidate) <= budget {
			break
		}
		// Drop the oldest user/assistant pair together.
		middle = middle[2:]
	}
	if len(middle) == 1 {
		// An orphaned single turn (shouldn't occur given strict
		// alternation, but guard against it) is dropped rather than left
		// half-summarized.
		if m.CountTokens(buildResult(head, nil, tail)) <= budget {
			middle = nil
		}
	}

	return buildResult(head, middle, tail), nil
}

func buildResult(head, middle, tail []models.Turn) []models.Turn {
	out := make([]models.Turn, 0, len(head)+len(middle)+len(tail))
	out = append(out, head...)
	out = append(out, middle...)
	out = append(out, tail...)
	return out
}
