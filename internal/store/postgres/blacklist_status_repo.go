package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/Vysion-Technology/MountAbu-DigitalToken-Backend/internal/domain/model"
	"github.com/Vysion-Technology/MountAbu-DigitalToken-Backend/internal/store"
)

type BlacklistStatusRepo struct {
	db *DB
}

func NewBlacklistStatusRepo(db *DB) *BlacklistStatusRepo {
	return &BlacklistStatusRepo{db: db}
}

const blacklistStatusColumns = `
	id, user_id, is_blacklisted,
	consecutive_rejections, total_rejections, total_approvals,
	blacklisted_at, blacklist_reason, blacklist_category, blacklisted_by,
	last_rejection_at, last_rejection_application_id,
	whitelisted_at, whitelisted_by, whitelist_reason,
	warning_issued, warning_issued_at,
	created_at, updated_at`

func scanBlacklistStatus(row interface{ Scan(...any) error }) (*model.BlacklistStatus, error) {
	var s model.BlacklistStatus
	var category sql.NullString
	err := row.Scan(
		&s.ID, &s.UserID, &s.IsBlacklisted,
		&s.ConsecutiveRejections, &s.TotalRejections, &s.TotalApprovals,
		&s.BlacklistedAt, &s.BlacklistReason, &category, &s.BlacklistedBy,
		&s.LastRejectionAt, &s.LastRejectionApplicationID,
		&s.WhitelistedAt, &s.WhitelistedBy, &s.WhitelistReason,
		&s.WarningIssued, &s.WarningIssuedAt,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if category.Valid {
		s.BlacklistCategory = model.BlacklistCategory(category.String)
	}
	return &s, nil
}

func (r *BlacklistStatusRepo) Get(ctx context.Context, userID uuid.UUID) (*model.BlacklistStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx,
		`SELECT `+blacklistStatusColumns+` FROM user_blacklist_status WHERE user_id = $1`, userID)
	s, err := scanBlacklistStatus(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get blacklist status: %w", err)
	}
	return s, nil
}

// GetOrCreateForUpdateTx inserts the row with zeroed counters if it is
// missing, then locks and returns it. The guarded insert makes the lazy
// creation safe under concurrent first-rejections for a new applicant.
func (r *BlacklistStatusRepo) GetOrCreateForUpdateTx(ctx context.Context, tx *sql.Tx, userID uuid.UUID) (*model.BlacklistStatus, error) {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO user_blacklist_status (id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING
	`, uuid.New(), userID); err != nil {
		return nil, fmt.Errorf("ensure blacklist status: %w", err)
	}
	return r.GetForUpdateTx(ctx, tx, userID)
}

func (r *BlacklistStatusRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, userID uuid.UUID) (*model.BlacklistStatus, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+blacklistStatusColumns+` FROM user_blacklist_status WHERE user_id = $1 FOR UPDATE`, userID)
	s, err := scanBlacklistStatus(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("lock blacklist status: %w", err)
	}
	return s, nil
}

func (r *BlacklistStatusRepo) UpdateTx(ctx context.Context, tx *sql.Tx, status *model.BlacklistStatus) error {
	var category *string
	if status.BlacklistCategory != "" {
		c := string(status.BlacklistCategory)
		category = &c
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE user_blacklist_status SET
			is_blacklisted = $2,
			consecutive_rejections = $3,
			total_rejections = $4,
			total_approvals = $5,
			blacklisted_at = $6,
			blacklist_reason = $7,
			blacklist_category = $8,
			blacklisted_by = $9,
			last_rejection_at = $10,
			last_rejection_application_id = $11,
			whitelisted_at = $12,
			whitelisted_by = $13,
			whitelist_reason = $14,
			warning_issued = $15,
			warning_issued_at = $16,
			updated_at = now()
		WHERE user_id = $1
	`,
		status.UserID,
		status.IsBlacklisted,
		status.ConsecutiveRejections,
		status.TotalRejections,
		status.TotalApprovals,
		status.BlacklistedAt,
		status.BlacklistReason,
		category,
		status.BlacklistedBy,
		status.LastRejectionAt,
		status.LastRejectionApplicationID,
		status.WhitelistedAt,
		status.WhitelistedBy,
		status.WhitelistReason,
		status.WarningIssued,
		status.WarningIssuedAt,
	)
	if err != nil {
		return fmt.Errorf("update blacklist status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update blacklist status rows: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
