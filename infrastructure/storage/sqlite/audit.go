package sqlite

import (
	"context"
	"fmt"
	"time"
)

// AuditEntry records one confirmed mutating execution against the target
// database.
type AuditEntry struct {
	ID        int64
	SessionID int64
	Tool      string
	Statement string
	Status    string
	Detail    string
	CreatedAt time.Time
}

// AppendAudit records a confirmed mutating execution.
func (s *Store) AppendAudit(ctx context.Context, entry AuditEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (session_id, tool, statement, status, detail)
		 VALUES (?, ?, ?, ?, ?)`,
		entry.SessionID, entry.Tool, entry.Statement, entry.Status, entry.Detail)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

// ListAudit returns audit entries for a session, newest first.
func (s *Store) ListAudit(ctx context.Context, sessionID int64, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, tool, statement, status, detail, created_at
		 FROM audit_log WHERE session_id = ? ORDER BY id DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Tool, &e.Statement, &e.Status, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
