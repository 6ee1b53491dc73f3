package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/Vysion-Technology/MountAbu-DigitalToken-Backend/internal/domain/model"
)

type AuditLogRepo struct {
	db *DB
}

func NewAuditLogRepo(db *DB) *AuditLogRepo {
	return &AuditLogRepo{db: db}
}

func (r *AuditLogRepo) InsertTx(ctx context.Context, tx *sql.Tx, entry *model.AuditLogEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO blacklist_audit_logs (
			id, user_id, action, performed_by, description, old_values, new_values, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, entry.ID, entry.UserID, entry.Action, entry.PerformedBy,
		entry.Description, []byte(entry.OldValues), []byte(entry.NewValues), entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func (r *AuditLogRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]model.AuditLogEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, action, performed_by, description, old_values, new_values, created_at
		FROM blacklist_audit_logs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}
	defer rows.Close()

	var entries []model.AuditLogEntry
	for rows.Next() {
		var e model.AuditLogEntry
		var oldVals, newVals []byte
		if err := rows.Scan(
			&e.ID, &e.UserID, &e.Action, &e.PerformedBy,
			&e.Description, &oldVals, &newVals, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		e.OldValues = oldVals
		e.NewValues = newVals
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
