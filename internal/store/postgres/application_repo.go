package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/Vysion-Technology/MountAbu-DigitalToken-Backend/internal/domain/model"
	"github.com/Vysion-Technology/MountAbu-DigitalToken-Backend/internal/store"
)

type ApplicationRepo struct {
	db *DB
}

func NewApplicationRepo(db *DB) *ApplicationRepo {
	return &ApplicationRepo{db: db}
}

func (r *ApplicationRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.Application, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var a model.Application
	var currentRole sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT id, application_number, applicant_id, status, current_authority_role,
			   property_address, approved_at, approved_by,
			   rejected_at, rejection_reason, rejection_category,
			   last_action_at, created_at, updated_at
		FROM applications
		WHERE id = $1
	`, id).Scan(
		&a.ID, &a.ApplicationNumber, &a.ApplicantID, &a.Status, &currentRole,
		&a.PropertyAddress, &a.ApprovedAt, &a.ApprovedBy,
		&a.RejectedAt, &a.RejectionReason, &a.RejectionCategory,
		&a.LastActionAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("find application: %w", err)
	}
	if currentRole.Valid {
		role := model.AuthorityRole(currentRole.String)
		a.CurrentAuthorityRole = &role
	}
	return &a, nil
}

func (r *ApplicationRepo) UpdateTx(ctx context.Context, tx *sql.Tx, app *model.Application) error {
	var currentRole *string
	if app.CurrentAuthorityRole != nil {
		role := string(*app.CurrentAuthorityRole)
		currentRole = &role
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE applications SET
			status = $2,
			current_authority_role = $3,
			approved_at = $4,
			approved_by = $5,
			rejected_at = $6,
			rejection_reason = $7,
			rejection_category = $8,
			last_action_at = $9,
			updated_at = now()
		WHERE id = $1
	`, app.ID, app.Status, currentRole,
		app.ApprovedAt, app.ApprovedBy,
		app.RejectedAt, app.RejectionReason, app.RejectionCategory,
		app.LastActionAt,
	)
	if err != nil {
		return fmt.Errorf("update application: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update application rows: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *ApplicationRepo) InsertTimelineTx(ctx context.Context, tx *sql.Tx, entry *model.TimelineEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO application_timeline (
			id, application_id, status, action, actor_id, actor_name, actor_role, comments
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, entry.ID, entry.ApplicationID, entry.Status, entry.Action,
		entry.ActorID, entry.ActorName, entry.ActorRole, entry.Comments,
	)
	if err != nil {
		return fmt.Errorf("insert timeline entry: %w", err)
	}
	return nil
}
