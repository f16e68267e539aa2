package postgres

import (
	"database/sql"

	"github.com/google/uuid"

	"github.com/wireloop/agentplane/pkg/models"
)

func newID() string {
	return uuid.NewString()
}

// scanSessionRow reads one sessions row via scan, the row-or-rows Scan
// method (both *sql.Row and *sql.Rows satisfy this shape).
func scanSessionRow(scan func(dest ...any) error) (*models.SessionRecord, error) {
	var (
		rec           models.SessionRecord
		name          sql.NullString
		deviceID      sql.NullString
		lastMessageAt sql.NullTime
	)
	if err := scan(&rec.ID, &rec.WorkspaceDir, &name, &deviceID, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt, &lastMessageAt); err != nil {
		return nil, err
	}
	rec.Name = name.String
	rec.DeviceID = deviceID.String
	if lastMessageAt.Valid {
		rec.LastMessageAt = lastMessageAt.Time
	}
	return &rec, nil
}
