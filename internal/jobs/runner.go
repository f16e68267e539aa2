package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/wireloop/agentplane/internal/agent"
)

// Compactor is the subset of agent.Controller a Runner needs. Satisfied by
// *agent.Controller.
type Compactor interface {
	Compact(ctx context.Context) (agent.CompactReport, error)
}

// Runner drives async Controller.Compact invocations against a Store,
// per SPEC_FULL.md §4.4's async compaction path.
type Runner struct {
	store Store
}

// NewRunner builds a Runner backed by store.
func NewRunner(store Store) *Runner {
	return &Runner{store: store}
}

// Enqueue creates a queued Job and starts it in a background goroutine,
// returning immediately with the Job's id. The goroutine is independent of
// ctx's cancellation; use Store.Cancel to stop it early.
func (r *Runner) Enqueue(ctx context.Context, sessionID string, ctrl Compactor) (*Job, error) {
	job := &Job{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Status:    StatusQueued,
		CreatedAt: time.Now(),
	}
	if err := r.store.Create(ctx, job); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	if ms, ok := r.store.(*MemoryStore); ok {
		ms.SetCancelFunc(job.ID, cancel)
	}

	go r.run(runCtx, cancel, job.ID, ctrl)

	return job, nil
}

func (r *Runner) run(ctx context.Context, cancel context.CancelFunc, jobID string, ctrl Compactor) {
	defer cancel()

	running, err := r.store.Get(ctx, jobID)
	if err != nil || running == nil {
		return
	}
	running.Status = StatusRunning
	running.StartedAt = time.Now()
	_ = r.store.Update(ctx, running)

	report, err := ctrl.Compact(ctx)

	finished, getErr := r.store.Get(ctx, jobID)
	if getErr != nil || finished == nil {
		return
	}
	finished.FinishedAt = time.Now()
	if err != nil {
		finished.Status = StatusFailed
		finished.Error = err.Error()
	} else {
		finished.Status = StatusSucceeded
		finished.Report = &report
	}
	_ = r.store.Update(ctx, finished)
}
