// Package sessions implements the Conversation State persistence contract
// from SPEC_FULL.md §4.2: a Store interface durable SessionRecords and their
// Turn history satisfy, plus an in-memory and a filesystem implementation.
// The postgres/sqlite backends in SPEC_FULL.md §3 live under
// internal/store/{postgres,sqlite} and satisfy this same interface.
//
// Grounded on the teacher's internal/sessions/store.go Store interface
// shape (CRUD + GetOrCreate + history), adapted from the teacher's flat
// models.Session/models.Message to the durable models.SessionRecord plus
// tagged-variant models.Turn state this module uses instead.
package sessions

import (
	"context"
	"time"

	"github.com/wireloop/agentplane/pkg/models"
)

// Store is the interface for session persistence: SessionRecord CRUD plus
// the Turn-slice conversation state each record owns.
type Store interface {
	Create(ctx context.Context, rec *models.SessionRecord) error
	Get(ctx context.Context, id string) (*models.SessionRecord, error)
	Update(ctx context.Context, rec *models.SessionRecord) error
	Delete(ctx context.Context, id string) error

	GetOrCreate(ctx context.Context, workspaceDir string) (*models.SessionRecord, error)
	List(ctx context.Context, opts ListOptions) ([]*models.SessionRecord, error)

	// SaveState persists the full Turn history and metadata for a session.
	SaveState(ctx context.Context, sessionID string, turns []models.Turn, meta models.Metadata) error
	// LoadState returns the persisted Turn history and metadata, or
	// ErrSessionNotFound if the session has never been saved.
	LoadState(ctx context.Context, sessionID string) ([]models.Turn, models.Metadata, error)

	// SaveCurrentPointer records the most recently active session for a
	// workspace, so a client reconnecting without a session id resumes it.
	SaveCurrentPointer(ctx context.Context, ptr models.CurrentStatePointer) error
	LoadCurrentPointer(ctx context.Context, workspaceDir string) (models.CurrentStatePointer, error)
}

// ListOptions configures session listing.
type ListOptions struct {
	Status models.SessionStatus
	Limit  int
	Offset int
}

// ErrSessionNotFound is returned by Get/LoadState when the session id is
// unknown to the store.
type ErrSessionNotFound struct{ ID string }

func (e *ErrSessionNotFound) Error() string {
	return "session not found: " + e.ID
}

func touchTimestamps(rec *models.SessionRecord, now time.Time) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
}
