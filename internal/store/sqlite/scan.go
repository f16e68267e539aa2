package sqlite

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/wireloop/agentplane/pkg/models"
)

func newID() string {
	return uuid.NewString()
}

// scanSessionRow reads one sessions row, accepting either *sql.Row or
// *sql.Rows via their shared Scan signature. Timestamps are stored as
// RFC3339Nano text (SQLite has no native time type).
func scanSessionRow(scan func(dest ...any) error) (*models.SessionRecord, error) {
	var (
		rec                        models.SessionRecord
		name, deviceID             sql.NullString
		createdAt, updatedAt       string
		lastMessageAt              sql.NullString
	)
	if err := scan(&rec.ID, &rec.WorkspaceDir, &name, &deviceID, &rec.Status, &createdAt, &updatedAt, &lastMessageAt); err != nil {
		return nil, err
	}
	rec.Name = name.String
	rec.DeviceID = deviceID.String
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	if lastMessageAt.Valid {
		rec.LastMessageAt, _ = time.Parse(time.RFC3339Nano, lastMessageAt.String)
	}
	return &rec, nil
}
