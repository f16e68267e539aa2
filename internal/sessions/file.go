package sessions

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wireloop/agentplane/pkg/models"
)

// FileStore persists each session under <dataDir>/<sessionID>/, as
// state.json (Turn history) and metadata.json (models.Metadata), plus a
// top-level current_state.json pointer, per SPEC_FULL.md §4.2.
//
// Grounded on the teacher's internal/pairing/store.go atomic write
// discipline: every write goes to a ".tmp" sibling first, then an
// os.Rename swaps it into place, so a crash mid-write never leaves a
// truncated file behind.
type FileStore struct {
	mu      sync.Mutex
	dataDir string
	records map[string]*models.SessionRecord
}

// NewFileStore returns a FileStore rooted at dataDir, creating it if
// necessary.
func NewFileStore(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, err
	}
	return &FileStore{dataDir: dataDir, records: make(map[string]*models.SessionRecord)}, nil
}

func (f *FileStore) sessionDir(id string) string {
	return filepath.Join(f.dataDir, id)
}

func (f *FileStore) recordPath(id string) string {
	return filepath.Join(f.sessionDir(id), "session.json")
}

func (f *FileStore) statePath(id string) string {
	return filepath.Join(f.sessionDir(id), "state.json")
}

func (f *FileStore) metadataPath(id string) string {
	return filepath.Join(f.sessionDir(id), "metadata.json")
}

func (f *FileStore) currentPointerPath() string {
	return filepath.Join(f.dataDir, "current_state.json")
}

func writeJSONAtomic(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (f *FileStore) Create(ctx context.Context, rec *models.SessionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	touchTimestamps(rec, time.Now())
	if rec.Status == "" {
		rec.Status = models.SessionActive
	}
	if err := writeJSONAtomic(f.recordPath(rec.ID), rec); err != nil {
		return err
	}
	f.records[rec.ID] = cloneRecord(rec)
	return nil
}

func (f *FileStore) Get(ctx context.Context, id string) (*models.SessionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var rec models.SessionRecord
	if err := readJSON(f.recordPath(id), &rec); err != nil {
		if os.IsNotExist(err) {
			return nil, &ErrSessionNotFound{ID: id}
		}
		return nil, err
	}
	return &rec, nil
}

func (f *FileStore) Update(ctx context.Context, rec *models.SessionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := os.Stat(f.recordPath(rec.ID)); err != nil {
		if os.IsNotExist(err) {
			return &ErrSessionNotFound{ID: rec.ID}
		}
		return err
	}
	rec.UpdatedAt = time.Now()
	return writeJSONAtomic(f.recordPath(rec.ID), rec)
}

func (f *FileStore) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := os.Stat(f.sessionDir(id)); err != nil {
		if os.IsNotExist(err) {
			return &ErrSessionNotFound{ID: id}
		}
		return err
	}
	delete(f.records, id)
	return os.RemoveAll(f.sessionDir(id))
}

func (f *FileStore) GetOrCreate(ctx context.Context, workspaceDir string) (*models.SessionRecord, error) {
	f.mu.Lock()
	entries, _ := os.ReadDir(f.dataDir)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		var rec models.SessionRecord
		if err := readJSON(f.recordPath(e.Name()), &rec); err == nil && rec.WorkspaceDir == workspaceDir {
			f.mu.Unlock()
			return &rec, nil
		}
	}
	f.mu.Unlock()

	rec := &models.SessionRecord{WorkspaceDir: workspaceDir}
	if err := f.Create(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (f *FileStore) List(ctx context.Context, opts ListOptions) ([]*models.SessionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.dataDir)
	if err != nil {
		return nil, err
	}
	var out []*models.SessionRecord
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		var rec models.SessionRecord
		if err := readJSON(f.recordPath(e.Name()), &rec); err != nil {
			continue
		}
		if opts.Status != "" && rec.Status != opts.Status {
			continue
		}
		clone := rec
		out = append(out, &clone)
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

// persistedState is the on-disk shape of state.json.
type persistedState struct {
	Version int          `json:"version"`
	Turns   []models.Turn `json:"turns"`
}

func (f *FileStore) SaveState(ctx context.Context, sessionID string, turns []models.Turn, meta models.Metadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := os.Stat(f.recordPath(sessionID)); err != nil {
		if os.IsNotExist(err) {
			return &ErrSessionNotFound{ID: sessionID}
		}
		return err
	}
	if err := writeJSONAtomic(f.statePath(sessionID), persistedState{Version: 1, Turns: turns}); err != nil {
		return err
	}
	return writeJSONAtomic(f.metadataPath(sessionID), meta)
}

func (f *FileStore) LoadState(ctx context.Context, sessionID string) ([]models.Turn, models.Metadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := os.Stat(f.recordPath(sessionID)); err != nil {
		if os.IsNotExist(err) {
			return nil, models.Metadata{}, &ErrSessionNotFound{ID: sessionID}
		}
		return nil, models.Metadata{}, err
	}

	var state persistedState
	if err := readJSON(f.statePath(sessionID), &state); err != nil {
		if !os.IsNotExist(err) {
			return nil, models.Metadata{}, err
		}
	}
	var meta models.Metadata
	if err := readJSON(f.metadataPath(sessionID), &meta); err != nil && !os.IsNotExist(err) {
		return nil, models.Metadata{}, err
	}
	return state.Turns, meta, nil
}

func (f *FileStore) SaveCurrentPointer(ctx context.Context, ptr models.CurrentStatePointer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return writeJSONAtomic(f.currentPointerPath(), ptr)
}

func (f *FileStore) LoadCurrentPointer(ctx context.Context, workspaceDir string) (models.CurrentStatePointer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ptr models.CurrentStatePointer
	if err := readJSON(f.currentPointerPath(), &ptr); err != nil {
		if os.IsNotExist(err) {
			return models.CurrentStatePointer{}, &ErrSessionNotFound{ID: workspaceDir}
		}
		return models.CurrentStatePointer{}, err
	}
	return ptr, nil
}
