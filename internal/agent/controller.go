// Package agent implements the Agent Controller: the per-session turn loop
// that drives model <-> tool interaction, enforces token budgets, handles
// interruption, and coordinates user confirmation, per SPEC_FULL.md §4.4.
//
// Grounded on the teacher's internal/agent/loop.go AgenticLoop state
// machine (Init -> Stream -> ExecuteTools -> Continue -> Complete), adapted
// from the teacher's flat multi-channel Message/branch model to the
// tagged-variant Turn/Message model, and wired to the new internal/tools
// Dispatcher and internal/context Manager instead of the teacher's
// in-package tool registry and compaction logic.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	agentcontext "github.com/wireloop/agentplane/internal/context"
	"github.com/wireloop/agentplane/internal/events"
	"github.com/wireloop/agentplane/internal/tools"
	"github.com/wireloop/agentplane/pkg/models"
)

// InterruptMessage is the literal tool-result content used for tool calls
// skipped because of an in-flight cancellation, per spec.md §4.4/§4 step 4.
const InterruptMessage = "[Request interrupted by user for tool use]"

// ModelClient is the abstract boundary to a concrete LLM provider. The core
// never depends on a provider's wire format; it only sees a Turn back.
type ModelClient interface {
	// Generate runs one model call over the given history, system prompt,
	// and available tools, and returns the resulting assistant Turn. An
	// empty-content Turn is valid and means "no output" (the Controller
	// treats it as task completion, not an error).
	Generate(ctx context.Context, history []models.Turn, systemPrompt string, toolDescriptors []models.ToolDescriptor, maxOutputTokens int) (models.Turn, error)
}

// AgentOutput is the result of one run() invocation.
type AgentOutput struct {
	Text          string
	Interrupted   bool
	BudgetExceeded bool
}

// CompactReport is returned by compact().
type CompactReport struct {
	OriginalTokens int
	NewTokens      int
	TokensSaved    int
}

// ControllerConfig configures a Controller.
type ControllerConfig struct {
	// MaxTurns is the hard ceiling on loop iterations per run() call.
	MaxTurns int

	// MaxOutputTokens bounds each model call's response.
	MaxOutputTokens int

	// TokenBudget is the context window budget the Context Manager
	// truncates against before every model call.
	TokenBudget int

	SystemPrompt string

	// ConfirmFunc resolves ConfirmationTickets for mutating tool calls.
	ConfirmFunc tools.ConfirmFunc

	// Logger receives orphan-tool-result warnings and similar non-fatal
	// notices. Defaults to slog.Default() when nil.
	Logger *slog.Logger
}

// DefaultControllerConfig returns sane defaults, grounded in the teacher's
// DefaultLoopConfig (10 iterations, 4096 output tokens).
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		MaxTurns:        10,
		MaxOutputTokens: 4096,
		TokenBudget:     100_000,
	}
}

// Controller drives a single session's turn loop.
type Controller struct {
	model    ModelClient
	registry *tools.Registry
	ctxMgr   agentcontext.Manager
	stream   *events.Stream
	cfg      ControllerConfig

	mu        sync.Mutex
	state     []models.Turn
	sessionID string

	interrupted atomic.Bool
}

// NewController builds a Controller. ctxMgr selects the truncation
// strategy (SummarizingManager or DropOldestManager, per SPEC_FULL.md §9).
func NewController(sessionID string, model ModelClient, registry *tools.Registry, ctxMgr agentcontext.Manager, stream *events.Stream, cfg ControllerConfig) *Controller {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultControllerConfig().MaxTurns
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = DefaultControllerConfig().MaxOutputTokens
	}
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = DefaultControllerConfig().TokenBudget
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Controller{
		model:     model,
		registry:  registry,
		ctxMgr:    ctxMgr,
		stream:    stream,
		cfg:       cfg,
		sessionID: sessionID,
	}
}

// Cancel sets the interruption flag. Idempotent; observable by the current
// model call and by in-flight tool executions on their next context check.
func (c *Controller) Cancel() {
	c.interrupted.Store(true)
}

// Clear resets State, keeping the session id and workspace.
func (c *Controller) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = nil
	c.interrupted.Store(false)
}

// Compact forces a truncation pass over the current State and reports the
// token delta.
func (c *Controller) Compact(ctx context.Context) (CompactReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	before := c.ctxMgr.CountTokens(c.state)
	truncated, err := c.ctxMgr.Truncate(ctx, c.state, c.cfg.TokenBudget)
	if err != nil {
		return CompactReport{}, err
	}
	c.state = truncated
	after := c.ctxMgr.CountTokens(c.state)
	return CompactReport{OriginalTokens: before, NewTokens: after, TokensSaved: before - after}, nil
}

// Run attaches the user turn to State and runs the loop to a terminal
// state, per the algorithm in SPEC_FULL.md §4.4.
func (c *Controller) Run(ctx context.Context, instruction string, images []models.ImageRef) (AgentOutput, error) {
	c.mu.Lock()
	c.interrupted.Store(false)
	c.state = append(c.state, models.Turn{
		Role:     models.TurnUser,
		Messages: []models.Message{models.NewUserText(instruction, images)},
	})
	c.mu.Unlock()

	remaining := c.cfg.MaxTurns
	for remaining > 0 {
		remaining--

		if err := c.truncateIfNeeded(ctx); err != nil {
			return AgentOutput{}, fmt.Errorf("truncating context: %w", err)
		}

		if c.interrupted.Load() {
			return c.closeInterrupted(), nil
		}

		c.publish(models.EventAgentThinking, nil)

		assistant, err := c.generate(ctx)
		if err != nil {
			c.publish(models.EventError, map[string]any{"error": err.Error()})
			return AgentOutput{}, err
		}

		if len(assistant.Messages) == 0 {
			assistant.Messages = []models.Message{models.NewAssistantText("Task complete")}
		}

		c.mu.Lock()
		c.state = append(c.state, assistant)
		c.mu.Unlock()

		hasText := false
		for _, m := range assistant.Messages {
			if m.Kind == models.KindAssistantText {
				hasText = true
				c.publish(models.EventAgentResponse, map[string]any{"text": m.Text})
			}
		}

		pending := assistant.PendingToolCalls()
		if len(pending) == 0 {
			if !hasText {
				c.publish(models.EventAgentResponse, map[string]any{"text": "Task completed"})
			}
			return AgentOutput{Text: assistant.LastAssistantText()}, nil
		}

		if c.interrupted.Load() {
			return c.closeInterruptedWithPending(pending), nil
		}

		c.runToolBatch(ctx, pending)
	}

	c.publish(models.EventAgentResponse, map[string]any{"text": "Agent did not complete after max turns"})
	return AgentOutput{Text: "Agent did not complete after max turns", BudgetExceeded: true}, nil
}

func (c *Controller) truncateIfNeeded(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	truncated, err := c.ctxMgr.TruncateIfNeeded(ctx, c.state, c.cfg.TokenBudget)
	if err != nil {
		return err
	}
	c.state = truncated
	return nil
}

func (c *Controller) generate(ctx context.Context) (models.Turn, error) {
	c.mu.Lock()
	snapshot := append([]models.Turn{}, c.state...)
	c.mu.Unlock()
	return c.model.Generate(ctx, snapshot, c.cfg.SystemPrompt, c.registry.Descriptors(), c.cfg.MaxOutputTokens)
}

// runToolBatch dispatches pending tool calls and appends each ToolResult to
// the most recent (assistant) Turn in submission order, not completion
// order, per spec.md §4.4.
func (c *Controller) runToolBatch(ctx context.Context, pending []models.Message) {
	dispatcher := tools.NewDispatcher(c.registry, tools.DefaultDispatcherConfig())

	for _, call := range pending {
		c.publish(models.EventToolCall, map[string]any{"tool_call_id": call.ToolCallID, "tool_name": call.ToolName})
	}

	results := dispatcher.Dispatch(ctx, pending, c.cfg.ConfirmFunc)

	c.mu.Lock()
	last := &c.state[len(c.state)-1]
	for _, res := range results {
		c.appendToolResult(last, res)
	}
	c.mu.Unlock()

	for _, res := range results {
		c.publish(models.EventToolResult, map[string]any{
			"tool_call_id": res.ToolCallID,
			"is_error":     res.IsError,
			"output":       res.OutputText,
		})
	}
}

// appendToolResult appends res to turn if it resolves one of turn's
// currently pending ToolCalls, per spec.md §7's OrphanToolResult case.
// A result with no matching pending call (already resolved, or for a call
// that was never part of this turn) is dropped with a warning rather than
// appended or treated as fatal: State must never block on a result it
// can't attribute. Caller holds c.mu.
func (c *Controller) appendToolResult(turn *models.Turn, res models.Message) {
	matched := false
	for _, call := range turn.PendingToolCalls() {
		if call.ToolCallID == res.ToolCallID {
			matched = true
			break
		}
	}
	if !matched {
		c.cfg.Logger.Warn("dropping orphan tool result: no matching pending tool call",
			"session_id", c.sessionID, "tool_call_id", res.ToolCallID)
		return
	}
	turn.Messages = append(turn.Messages, res)
}

// closeInterrupted appends a fake assistant interruption turn and returns
// the interrupted output, per spec.md §4.4 ("if interrupted:
// appendFakeAssistant('interrupted'); return interrupted").
func (c *Controller) closeInterrupted() AgentOutput {
	c.mu.Lock()
	c.state = append(c.state, models.Turn{
		Role:     models.TurnAssistant,
		Messages: []models.Message{models.NewAssistantText(InterruptMessage)},
	})
	c.mu.Unlock()
	c.publish(models.EventAgentResponseInterrupted, map[string]any{"text": InterruptMessage})
	return AgentOutput{Interrupted: true, Text: InterruptMessage}
}

// closeInterruptedWithPending resolves every pending tool call to the
// literal interrupt message, closes the assistant turn, and returns.
func (c *Controller) closeInterruptedWithPending(pending []models.Message) AgentOutput {
	c.mu.Lock()
	last := &c.state[len(c.state)-1]
	for _, call := range pending {
		last.Messages = append(last.Messages, models.NewToolResultText(call.ToolCallID, InterruptMessage, true))
	}
	c.state = append(c.state, models.Turn{
		Role:     models.TurnAssistant,
		Messages: []models.Message{models.NewAssistantText(InterruptMessage)},
	})
	c.mu.Unlock()
	c.publish(models.EventAgentResponseInterrupted, map[string]any{"text": InterruptMessage})
	return AgentOutput{Interrupted: true, Text: InterruptMessage}
}

func (c *Controller) publish(typ models.EventType, content map[string]any) {
	if c.stream == nil {
		return
	}
	c.stream.Publish(models.NewEvent(typ, c.sessionID, content))
}

// Snapshot returns a copy of the current State, for persistence or
// inspection.
func (c *Controller) Snapshot() []models.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Turn{}, c.state...)
}

// Restore replaces State wholesale, used when resuming a session from
// durable storage.
func (c *Controller) Restore(turns []models.Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = append([]models.Turn{}, turns...)
}
