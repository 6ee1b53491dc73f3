package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/Vysion-Technology/MountAbu-DigitalToken-Backend/internal/domain/model"
)

type RejectionRepo struct {
	db *DB
}

func NewRejectionRepo(db *DB) *RejectionRepo {
	return &RejectionRepo{db: db}
}

func (r *RejectionRepo) InsertTx(ctx context.Context, tx *sql.Tx, rec *model.RejectionRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO application_rejections (
			id, user_id, application_id,
			rejected_by, rejected_by_role, rejection_reason, rejection_category, authority_comments,
			consecutive_count, triggered_blacklist, rejected_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, rec.ID, rec.UserID, rec.ApplicationID,
		rec.RejectedBy, rec.RejectedByRole, rec.Reason, rec.Category, rec.Comments,
		rec.ConsecutiveCount, rec.TriggeredBlacklist, rec.RejectedAt,
	)
	if err != nil {
		return fmt.Errorf("insert rejection record: %w", err)
	}
	return nil
}

func (r *RejectionRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]model.RejectionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, application_id,
			   rejected_by, rejected_by_role, rejection_reason, rejection_category, authority_comments,
			   consecutive_count, triggered_blacklist, rejected_at
		FROM application_rejections
		WHERE user_id = $1
		ORDER BY rejected_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query rejection records: %w", err)
	}
	defer rows.Close()

	var records []model.RejectionRecord
	for rows.Next() {
		var rec model.RejectionRecord
		if err := rows.Scan(
			&rec.ID, &rec.UserID, &rec.ApplicationID,
			&rec.RejectedBy, &rec.RejectedByRole, &rec.Reason, &rec.Category, &rec.Comments,
			&rec.ConsecutiveCount, &rec.TriggeredBlacklist, &rec.RejectedAt,
		); err != nil {
			return nil, fmt.Errorf("scan rejection record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
