package tools

import (
	"context"
	"sync"
	"time"

	"github.com/wireloop/agentplane/pkg/models"
)

// ConfirmFunc presents a ConfirmationTicket to the user (or an automated
// policy) and returns their resolution. It is invoked serially, in call
// order, during the confirmation pass — never concurrently, since
// confirmation is inherently an interactive, ordered conversation.
type ConfirmFunc func(ctx context.Context, ticket models.ConfirmationTicket) (models.ConfirmationResolution, error)

// DispatcherConfig tunes the scheduling pass.
type DispatcherConfig struct {
	// ReadOnlyConcurrency caps how many read-only tool calls run at once.
	// Mutating calls always run strictly serially regardless of this value.
	ReadOnlyConcurrency int

	// PerCallTimeout bounds a single tool's Execute call.
	PerCallTimeout time.Duration
}

// DefaultDispatcherConfig mirrors the teacher's ToolExecConfig/ExecutorConfig
// defaults (internal/agent/tool_exec.go, internal/agent/executor.go), widened
// slightly for the read-only pool since read-only tools are cheaper to run
// in parallel than the teacher's uniform 4/5-way cap.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{ReadOnlyConcurrency: 8, PerCallTimeout: 30 * time.Second}
}

// Dispatcher runs a batch of pending ToolCall messages through the
// confirmation -> scheduling -> execution -> cancellation pipeline from
// SPEC_FULL.md §4.3, grounded in the teacher's tool_exec.go
// ExecuteConcurrently/ExecuteSequentially split (which this unifies into one
// read-only/mutating partition) and executor.go's semaphore pattern.
type Dispatcher struct {
	registry *Registry
	cfg      DispatcherConfig
}

// NewDispatcher builds a Dispatcher over registry. A zero cfg is replaced
// with DefaultDispatcherConfig.
func NewDispatcher(registry *Registry, cfg DispatcherConfig) *Dispatcher {
	if cfg.ReadOnlyConcurrency <= 0 {
		cfg.ReadOnlyConcurrency = DefaultDispatcherConfig().ReadOnlyConcurrency
	}
	if cfg.PerCallTimeout <= 0 {
		cfg.PerCallTimeout = DefaultDispatcherConfig().PerCallTimeout
	}
	return &Dispatcher{registry: registry, cfg: cfg}
}

// pendingCall tracks one ToolCall message through the pipeline.
type pendingCall struct {
	index  int
	call   models.Message // Kind == KindToolCall
	result models.Message // filled in as the pipeline progresses
	done   bool            // result is final; skip remaining passes
}

// Dispatch runs calls (each a KindToolCall message) through the full
// pipeline and returns one KindToolResult message per call, in the same
// order as calls. confirm may be nil if no tool in the batch ever requires
// confirmation; a nil confirm with a confirmation-requiring call is treated
// as a denial.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []models.Message, confirm ConfirmFunc) []models.Message {
	if len(calls) == 0 {
		return nil
	}
	pending := make([]*pendingCall, len(calls))
	for i, c := range calls {
		pending[i] = &pendingCall{index: i, call: c}
	}

	d.validationPass(pending)
	d.confirmationPass(ctx, pending, confirm)
	d.executionPass(ctx, pending)

	results := make([]models.Message, len(pending))
	for i, p := range pending {
		results[i] = p.result
	}
	return results
}

// validationPass resolves calls to unknown tools or calls whose input fails
// schema validation immediately, without ever reaching confirmation or
// execution.
func (d *Dispatcher) validationPass(pending []*pendingCall) {
	for _, p := range pending {
		if p.done {
			continue
		}
		if err := d.registry.Validate(p.call.ToolName, p.call.ToolInput); err != nil {
			p.result = models.NewToolResultText(p.call.ToolCallID, err.Error(), true)
			p.done = true
		}
	}
}

// confirmationPass walks pending calls in order, asking confirm for any
// call whose tool reports ShouldConfirm. A denial resolves the call to an
// error ToolResult whose text incorporates the user's Alternative (their
// reason, or a suggested different course of action) when they gave one,
// and skips execution. Approval never touches ToolInput: Alternative is
// prose from the confirmation prompt, not a replacement JSON payload.
func (d *Dispatcher) confirmationPass(ctx context.Context, pending []*pendingCall, confirm ConfirmFunc) {
	for _, p := range pending {
		if p.done {
			continue
		}
		tool, ok := d.registry.Get(p.call.ToolName)
		if !ok {
			p.result = models.NewToolResultText(p.call.ToolCallID, (&UnknownToolError{Name: p.call.ToolName}).Error(), true)
			p.done = true
			continue
		}
		needsConfirm, kind, message := tool.ShouldConfirm(p.call.ToolInput)
		if !needsConfirm {
			continue
		}
		if confirm == nil {
			p.result = models.NewToolResultText(p.call.ToolCallID, "confirmation required but no confirmation channel is available", true)
			p.done = true
			continue
		}
		ticket := models.ConfirmationTicket{ToolCallID: p.call.ToolCallID, Kind: kind, Message: message}
		resolution, err := confirm(ctx, ticket)
		if err != nil {
			p.result = models.NewToolResultText(p.call.ToolCallID, "confirmation failed: "+err.Error(), true)
			p.done = true
			continue
		}
		if !resolution.Approved {
			p.result = models.NewToolResultText(p.call.ToolCallID, denialText(resolution.Alternative), true)
			p.done = true
			continue
		}
	}
}

// denialText builds the llmContent for a denied tool call, folding in the
// user's alternative instruction (if any) so the model sees what to do
// instead rather than just that it was refused.
func denialText(alternative string) string {
	if alternative == "" {
		return "tool call denied by user"
	}
	return "tool call denied by user; instead do the following: " + alternative
}

// executionPass partitions the remaining calls into read-only (run
// concurrently, bounded by ReadOnlyConcurrency) and mutating (run strictly
// serially, in original order). The read-only group is run to completion
// before the first mutating call starts: a mutating call may depend on
// state a read-only call in the same batch just observed, so completion of
// every read-only call must strictly precede the start of the first
// mutating call. A context cancellation observed before a call starts
// resolves it to a canceled result without ever invoking Execute.
func (d *Dispatcher) executionPass(ctx context.Context, pending []*pendingCall) {
	var readOnly, mutating []*pendingCall
	for _, p := range pending {
		if p.done {
			continue
		}
		tool, ok := d.registry.Get(p.call.ToolName)
		if !ok {
			p.result = models.NewToolResultText(p.call.ToolCallID, (&UnknownToolError{Name: p.call.ToolName}).Error(), true)
			p.done = true
			continue
		}
		if tool.Descriptor().ReadOnly {
			readOnly = append(readOnly, p)
		} else {
			mutating = append(mutating, p)
		}
	}

	d.runConcurrent(ctx, readOnly)
	d.runSerial(ctx, mutating)
}

func (d *Dispatcher) runConcurrent(ctx context.Context, calls []*pendingCall) {
	if len(calls) == 0 {
		return
	}
	sem := make(chan struct{}, d.cfg.ReadOnlyConcurrency)
	var wg sync.WaitGroup
	for _, p := range calls {
		wg.Add(1)
		go func(p *pendingCall) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				p.result = cancelResult(p.call.ToolCallID)
				return
			}
			d.runOne(ctx, p)
		}(p)
	}
	wg.Wait()
}

func (d *Dispatcher) runSerial(ctx context.Context, calls []*pendingCall) {
	for _, p := range calls {
		if ctx.Err() != nil {
			p.result = cancelResult(p.call.ToolCallID)
			continue
		}
		d.runOne(ctx, p)
	}
}

func (d *Dispatcher) runOne(ctx context.Context, p *pendingCall) {
	tool, ok := d.registry.Get(p.call.ToolName)
	if !ok {
		p.result = models.NewToolResultText(p.call.ToolCallID, (&UnknownToolError{Name: p.call.ToolName}).Error(), true)
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, d.cfg.PerCallTimeout)
	defer cancel()

	result, err := d.safeExecute(callCtx, tool, p.call.ToolInput)
	if err != nil {
		p.result = models.NewToolResultText(p.call.ToolCallID, err.Error(), true)
		return
	}
	if len(result.LLMBlocks) > 0 {
		p.result = models.NewToolResultBlocks(p.call.ToolCallID, result.LLMBlocks, result.IsError)
	} else {
		p.result = models.NewToolResultText(p.call.ToolCallID, result.LLMText, result.IsError)
	}
}

// safeExecute isolates a panicking tool from the rest of the batch,
// following the teacher's executor.go panic-recovery around tool calls.
func (d *Dispatcher) safeExecute(ctx context.Context, tool Tool, input []byte) (result models.ToolResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = models.ToolResult{}
			err = &panicError{value: r}
		}
	}()
	return tool.Execute(ctx, input)
}

type panicError struct{ value any }

func (e *panicError) Error() string {
	return "tool execution panicked"
}

func cancelResult(toolCallID string) models.Message {
	return models.NewToolResultText(toolCallID, "tool call canceled", true)
}
