package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wireloop/agentplane/pkg/models"
)

// MemoryStore is an in-memory Store for testing and local runs. Grounded on
// the teacher's MemoryStore deep-clone-on-read/write discipline, which
// prevents callers from mutating stored state through a returned pointer.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.SessionRecord
	byWS     map[string]string
	turns    map[string][]models.Turn
	meta     map[string]models.Metadata
	current  map[string]models.CurrentStatePointer
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*models.SessionRecord),
		byWS:     make(map[string]string),
		turns:    make(map[string][]models.Turn),
		meta:     make(map[string]models.Metadata),
		current:  make(map[string]models.CurrentStatePointer),
	}
}

func cloneRecord(rec *models.SessionRecord) *models.SessionRecord {
	if rec == nil {
		return nil
	}
	clone := *rec
	return &clone
}

func cloneTurns(turns []models.Turn) []models.Turn {
	out := make([]models.Turn, len(turns))
	copy(out, turns)
	return out
}

func (m *MemoryStore) Create(ctx context.Context, rec *models.SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now()
	touchTimestamps(rec, now)
	if rec.Status == "" {
		rec.Status = models.SessionActive
	}
	clone := cloneRecord(rec)
	m.sessions[clone.ID] = clone
	if clone.WorkspaceDir != "" {
		m.byWS[clone.WorkspaceDir] = clone.ID
	}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*models.SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[id]
	if !ok {
		return nil, &ErrSessionNotFound{ID: id}
	}
	return cloneRecord(rec), nil
}

func (m *MemoryStore) Update(ctx context.Context, rec *models.SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.sessions[rec.ID]
	if !ok {
		return &ErrSessionNotFound{ID: rec.ID}
	}
	clone := cloneRecord(rec)
	clone.CreatedAt = existing.CreatedAt
	clone.UpdatedAt = time.Now()
	m.sessions[clone.ID] = clone
	if clone.WorkspaceDir != "" {
		m.byWS[clone.WorkspaceDir] = clone.ID
	}
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[id]
	if !ok {
		return &ErrSessionNotFound{ID: id}
	}
	delete(m.sessions, id)
	delete(m.turns, id)
	delete(m.meta, id)
	if rec.WorkspaceDir != "" && m.byWS[rec.WorkspaceDir] == id {
		delete(m.byWS, rec.WorkspaceDir)
	}
	return nil
}

func (m *MemoryStore) GetOrCreate(ctx context.Context, workspaceDir string) (*models.SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byWS[workspaceDir]; ok {
		if rec, ok := m.sessions[id]; ok {
			return cloneRecord(rec), nil
		}
	}

	now := time.Now()
	rec := &models.SessionRecord{
		ID:           uuid.NewString(),
		WorkspaceDir: workspaceDir,
		CreatedAt:    now,
		UpdatedAt:    now,
		Status:       models.SessionActive,
	}
	m.sessions[rec.ID] = rec
	m.byWS[workspaceDir] = rec.ID
	return cloneRecord(rec), nil
}

func (m *MemoryStore) List(ctx context.Context, opts ListOptions) ([]*models.SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.SessionRecord
	for _, rec := range m.sessions {
		if opts.Status != "" && rec.Status != opts.Status {
			continue
		}
		out = append(out, cloneRecord(rec))
	}

	start := opts.Offset
	if start < 0 {
		start = 0
	}
	end := len(out)
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}
	if start > len(out) {
		return []*models.SessionRecord{}, nil
	}
	return out[start:end], nil
}

func (m *MemoryStore) SaveState(ctx context.Context, sessionID string, turns []models.Turn, meta models.Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return &ErrSessionNotFound{ID: sessionID}
	}
	m.turns[sessionID] = cloneTurns(turns)
	m.meta[sessionID] = meta
	return nil
}

func (m *MemoryStore) LoadState(ctx context.Context, sessionID string) ([]models.Turn, models.Metadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return nil, models.Metadata{}, &ErrSessionNotFound{ID: sessionID}
	}
	return cloneTurns(m.turns[sessionID]), m.meta[sessionID], nil
}

func (m *MemoryStore) SaveCurrentPointer(ctx context.Context, ptr models.CurrentStatePointer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current[ptr.WorkspacePath] = ptr
	return nil
}

func (m *MemoryStore) LoadCurrentPointer(ctx context.Context, workspaceDir string) (models.CurrentStatePointer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ptr, ok := m.current[workspaceDir]
	if !ok {
		return models.CurrentStatePointer{}, &ErrSessionNotFound{ID: workspaceDir}
	}
	return ptr, nil
}
