package context

import (
	"context"
	"strings"
	"testing"

	"github.com/wireloop/agentplane/pkg/models"
)

func userTurn(text string) models.Turn {
	return models.Turn{Role: models.TurnUser, Messages: []models.Message{models.NewUserText(text, nil)}}
}

func assistantTurn(text string) models.Turn {
	return models.Turn{Role: models.TurnAssistant, Messages: []models.Message{models.NewAssistantText(text)}}
}

// buildDialogue returns n user/assistant turn pairs, each message padded to
// padLen characters, followed by a final dangling user turn.
func buildDialogue(pairs int, padLen int) []models.Turn {
	pad := strings.Repeat("x", padLen)
	var turns []models.Turn
	for i := 0; i < pairs; i++ {
		turns = append(turns, userTurn(pad), assistantTurn(pad))
	}
	turns = append(turns, userTurn(pad))
	return turns
}

func TestSplitProtected_KeepsFirstAndLastUserTurn(t *testing.T) {
	turns := buildDialogue(5, 10)
	headIdx, tailStart := splitProtected(turns)
	if headIdx != 0 {
		t.Fatalf("headIdx = %d, want 0", headIdx)
	}
	lastUserIdx := len(turns) - 1
	if tailStart != lastUserIdx {
		t.Fatalf("tailStart = %d, want %d", tailStart, lastUserIdx)
	}
}

type stubCounter struct{}

func (stubCounter) Count(turns []models.Turn) int {
	n := 0
	for _, t := range turns {
		n += t.CharLen()
	}
	return n
}

func TestDropOldestManager_NeverBreaksAlternationOrProtectedRegions(t *testing.T) {
	turns := buildDialogue(8, 50)
	mgr := NewDropOldestManager(stubCounter{})
	full := mgr.CountTokens(turns)

	out, err := mgr.Truncate(context.Background(), turns, full/3)
	if err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	if len(out) == 0 {
		t.Fatal("expected non-empty result")
	}
	if out[0].Role != models.TurnUser || out[0].Messages[0].Text != turns[0].Messages[0].Text {
		t.Fatalf("protected head turn was altered")
	}
	last := turns[len(turns)-1]
	if out[len(out)-1].Messages[0].Text != last.Messages[0].Text {
		t.Fatalf("protected tail turn was altered")
	}
}

func TestDropOldestManager_Idempotent(t *testing.T) {
	turns := buildDialogue(10, 80)
	mgr := NewDropOldestManager(stubCounter{})
	budget := mgr.CountTokens(turns) / 4

	once, err := mgr.Truncate(context.Background(), turns, budget)
	if err != nil {
		t.Fatalf("first Truncate: %v", err)
	}
	twice, err := mgr.Truncate(context.Background(), once, budget)
	if err != nil {
		t.Fatalf("second Truncate: %v", err)
	}
	if len(once) != len(twice) {
		t.Fatalf("not idempotent: %d turns then %d turns", len(once), len(twice))
	}
	for i := range once {
		if once[i].Messages[0].Text != twice[i].Messages[0].Text {
			t.Fatalf("not idempotent at turn %d", i)
		}
	}
}

func TestDropOldestManager_TruncateIfNeededPassesThroughUnderBudget(t *testing.T) {
	turns := buildDialogue(2, 10)
	mgr := NewDropOldestManager(stubCounter{})
	out, err := mgr.TruncateIfNeeded(context.Background(), turns, mgr.CountTokens(turns)+100)
	if err != nil {
		t.Fatalf("TruncateIfNeeded: %v", err)
	}
	if len(out) != len(turns) {
		t.Fatalf("expected pass-through, got %d turns from %d", len(out), len(turns))
	}
}

type stubSummarizer struct {
	calls int
}

func (s *stubSummarizer) Summarize(ctx context.Context, turns []models.Turn) (string, error) {
	s.calls++
	return "summary-of-" + turns[0].Messages[0].Text[:1], nil
}

func TestSummarizingManager_FoldsOldestTurnsUnderBudget(t *testing.T) {
	turns := buildDialogue(6, 100)
	summarizer := &stubSummarizer{}
	mgr := NewSummarizingManager(stubCounter{}, summarizer)
	budget := mgr.CountTokens(turns) / 3

	out, err := mgr.Truncate(context.Background(), turns, budget)
	if err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	if mgr.CountTokens(out) > budget+200 {
		// generous slack: the synthetic summary turn itself has nonzero size
		t.Fatalf("result still over budget: %d > %d", mgr.CountTokens(out), budget)
	}
	if summarizer.calls == 0 {
		t.Fatal("expected summarizer to be invoked")
	}
	if out[0].Messages[0].Text != turns[0].Messages[0].Text {
		t.Fatal("protected head turn was altered")
	}
	last := turns[len(turns)-1]
	if out[len(out)-1].Messages[0].Text != last.Messages[0].Text {
		t.Fatal("protected tail turn was altered")
	}
}

func TestSummarizingManager_SecondPassMergesIntoExistingSummary(t *testing.T) {
	turns := buildDialogue(8, 100)
	summarizer := &stubSummarizer{}
	mgr := NewSummarizingManager(stubCounter{}, summarizer)
	budget := mgr.CountTokens(turns) / 2

	first, err := mgr.Truncate(context.Background(), turns, budget)
	if err != nil {
		t.Fatalf("first Truncate: %v", err)
	}
	tighter := mgr.CountTokens(first) / 2
	second, err := mgr.Truncate(context.Background(), first, tighter)
	if err != nil {
		t.Fatalf("second Truncate: %v", err)
	}
	if !isSummaryTurn(second[1]) {
		t.Fatal("expected a synthetic summary turn at index 1")
	}
	if second[0].Messages[0].Text != turns[0].Messages[0].Text {
		t.Fatal("protected head turn was altered")
	}
}

func TestSummarizingManager_FallsBackToDroppingOnSummarizerError(t *testing.T) {
	turns := buildDialogue(4, 50)
	failing := failingSummarizer{}
	mgr := NewSummarizingManager(stubCounter{}, failing)
	budget := mgr.CountTokens(turns) / 3

	out, err := mgr.Truncate(context.Background(), turns, budget)
	if err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	if len(out) >= len(turns) {
		t.Fatalf("expected turns to shrink despite summarizer failure, got %d from %d", len(out), len(turns))
	}
}

type failingSummarizer struct{}

func (failingSummarizer) Summarize(ctx context.Context, turns []models.Turn) (string, error) {
	return "", errSummarizeUnavailable
}

var errSummarizeUnavailable = &summarizeError{"summarizer unavailable"}

type summarizeError struct{ msg string }

func (e *summarizeError) Error() string { return e.msg }
