package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/wireloop/agentplane/internal/sessions"
	"github.com/wireloop/agentplane/pkg/models"
)

// newTestStore wires a Store against a sqlmock connection, expecting every
// prepared statement issued by prepare(), mirroring the teacher's
// setupMockDB helper in internal/sessions/cockroach_test.go.
func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	mock.ExpectPrepare("INSERT INTO sessions")
	mock.ExpectPrepare("SELECT id, workspace_dir, name, device_id, status, created_at, updated_at, last_message_at.*FROM sessions WHERE id")
	mock.ExpectPrepare("UPDATE sessions")
	mock.ExpectPrepare("DELETE FROM sessions")
	mock.ExpectPrepare("SELECT id, workspace_dir, name, device_id, status, created_at, updated_at, last_message_at.*FROM sessions WHERE")
	mock.ExpectPrepare("INSERT INTO session_state")
	mock.ExpectPrepare("SELECT turns, metadata FROM session_state")
	mock.ExpectPrepare("INSERT INTO current_pointer")
	mock.ExpectPrepare("SELECT session_id, last_updated FROM current_pointer")

	s := &Store{db: db}
	if err := s.prepare(); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return s, mock
}

func TestStore_CreateExecutesInsert(t *testing.T) {
	s, mock := newTestStore(t)
	rec := &models.SessionRecord{ID: "sess-1", WorkspaceDir: "/tmp/ws", Status: models.SessionActive}

	mock.ExpectExec("INSERT INTO sessions").
		WithArgs("sess-1", "/tmp/ws", "", "", "active", sqlmock.AnyArg(), sqlmock.AnyArg(), nil).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := s.Create(context.Background(), rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStore_GetReturnsNotFoundOnNoRows(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectQuery("SELECT id, workspace_dir").WithArgs("ghost").WillReturnError(sql.ErrNoRows)

	_, err := s.Get(context.Background(), "ghost")
	if _, ok := err.(*sessions.ErrSessionNotFound); !ok {
		t.Fatalf("expected *sessions.ErrSessionNotFound, got %T: %v", err, err)
	}
}

func TestStore_GetScansRow(t *testing.T) {
	s, mock := newTestStore(t)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "workspace_dir", "name", "device_id", "status", "created_at", "updated_at", "last_message_at"}).
		AddRow("sess-1", "/tmp/ws", "my session", "", "active", now, now, nil)
	mock.ExpectQuery("SELECT id, workspace_dir").WithArgs("sess-1").WillReturnRows(rows)

	rec, err := s.Get(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Name != "my session" || rec.Status != models.SessionActive {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestStore_DeleteNoRowsReturnsNotFound(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectExec("DELETE FROM sessions").WithArgs("ghost").WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Delete(context.Background(), "ghost")
	if _, ok := err.(*sessions.ErrSessionNotFound); !ok {
		t.Fatalf("expected *sessions.ErrSessionNotFound, got %T: %v", err, err)
	}
}

func TestStore_SaveStateMarshalsTurnsAndMetadata(t *testing.T) {
	s, mock := newTestStore(t)
	turns := []models.Turn{{Role: models.TurnUser, Messages: []models.Message{models.NewUserText("hi", nil)}}}
	meta := models.Metadata{Version: "1", SessionID: "sess-1"}

	wantTurns, _ := json.Marshal(turns)
	wantMeta, _ := json.Marshal(meta)
	mock.ExpectExec("INSERT INTO session_state").
		WithArgs("sess-1", wantTurns, wantMeta).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := s.SaveState(context.Background(), "sess-1", turns, meta); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
}

func TestStore_LoadStateUnmarshalsRow(t *testing.T) {
	s, mock := newTestStore(t)
	turns := []models.Turn{{Role: models.TurnUser, Messages: []models.Message{models.NewUserText("hi", nil)}}}
	meta := models.Metadata{Version: "1", SessionID: "sess-1"}
	turnsJSON, _ := json.Marshal(turns)
	metaJSON, _ := json.Marshal(meta)

	rows := sqlmock.NewRows([]string{"turns", "metadata"}).AddRow(turnsJSON, metaJSON)
	mock.ExpectQuery("SELECT turns, metadata").WithArgs("sess-1").WillReturnRows(rows)

	gotTurns, gotMeta, err := s.LoadState(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if len(gotTurns) != 1 || gotTurns[0].Messages[0].Text != "hi" {
		t.Fatalf("unexpected turns: %+v", gotTurns)
	}
	if gotMeta.SessionID != "sess-1" {
		t.Fatalf("unexpected meta: %+v", gotMeta)
	}
}
