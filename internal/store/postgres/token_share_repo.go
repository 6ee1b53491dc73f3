package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/Vysion-Technology/MountAbu-DigitalToken-Backend/internal/domain/model"
	"github.com/Vysion-Technology/MountAbu-DigitalToken-Backend/internal/store"
)

type TokenShareRepo struct {
	db *DB
}

func NewTokenShareRepo(db *DB) *TokenShareRepo {
	return &TokenShareRepo{db: db}
}

func (r *TokenShareRepo) Insert(ctx context.Context, share *model.TokenShare) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	if share.ID == uuid.Nil {
		share.ID = uuid.New()
	}
	var limit []byte
	if share.MaterialLimit != nil {
		var err error
		limit, err = json.Marshal(share.MaterialLimit)
		if err != nil {
			return fmt.Errorf("encode material limit: %w", err)
		}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO token_shares (
			id, token_id, shared_by,
			driver_name, driver_mobile, vehicle_number,
			share_code, share_link, material_limit, valid_until, status, sms_sent
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, share.ID, share.TokenID, share.SharedBy,
		share.DriverName, share.DriverMobile, share.VehicleNumber,
		share.ShareCode, share.ShareLink, limit, share.ValidUntil, share.Status, share.SMSSent,
	)
	if err != nil {
		return fmt.Errorf("insert token share: %w", err)
	}
	return nil
}

// ListActiveByTokenTx returns ACTIVE, unexpired shares for the token
// inside the scan transaction, so the share-binding check sees a state
// consistent with the locked token row.
func (r *TokenShareRepo) ListActiveByTokenTx(ctx context.Context, tx *sql.Tx, tokenID uuid.UUID) ([]model.TokenShare, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, token_id, shared_by,
			   driver_name, driver_mobile, vehicle_number,
			   share_code, share_link, material_limit, valid_until, status, used_at, sms_sent,
			   created_at, updated_at
		FROM token_shares
		WHERE token_id = $1 AND status = $2 AND valid_until > now()
	`, tokenID, model.TokenShareStatusActive)
	if err != nil {
		return nil, fmt.Errorf("query token shares: %w", err)
	}
	defer rows.Close()

	var shares []model.TokenShare
	for rows.Next() {
		var s model.TokenShare
		var limit []byte
		if err := rows.Scan(
			&s.ID, &s.TokenID, &s.SharedBy,
			&s.DriverName, &s.DriverMobile, &s.VehicleNumber,
			&s.ShareCode, &s.ShareLink, &limit, &s.ValidUntil, &s.Status, &s.UsedAt, &s.SMSSent,
			&s.CreatedAt, &s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan token share: %w", err)
		}
		if len(limit) > 0 {
			var ml model.MaterialLimit
			if err := json.Unmarshal(limit, &ml); err != nil {
				return nil, fmt.Errorf("decode material limit: %w", err)
			}
			s.MaterialLimit = &ml
		}
		shares = append(shares, s)
	}
	return shares, rows.Err()
}

func (r *TokenShareRepo) MarkUsedTx(ctx context.Context, tx *sql.Tx, id uuid.UUID) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE token_shares SET status = $2, used_at = now(), updated_at = now()
		WHERE id = $1
	`, id, model.TokenShareStatusUsed)
	if err != nil {
		return fmt.Errorf("mark share used: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark share used rows: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
