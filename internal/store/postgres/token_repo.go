package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Vysion-Technology/MountAbu-DigitalToken-Backend/internal/domain/model"
	"github.com/Vysion-Technology/MountAbu-DigitalToken-Backend/internal/store"
)

// pqUniqueViolation is the Postgres error code for unique constraint
// violations, used to surface token number collisions loudly.
const pqUniqueViolation = "23505"

type TokenRepo struct {
	db *DB
}

func NewTokenRepo(db *DB) *TokenRepo {
	return &TokenRepo{db: db}
}

const tokenColumns = `
	id, token_number, application_id, phase_number, phase_name,
	materials, status, valid_from, valid_until, qr_code_data,
	usage_count, last_used_at, generated_by,
	cancelled_at, cancelled_by, cancellation_reason,
	created_at, updated_at`

func scanToken(row interface{ Scan(...any) error }) (*model.Token, error) {
	var t model.Token
	var materials []byte
	err := row.Scan(
		&t.ID, &t.TokenNumber, &t.ApplicationID, &t.PhaseNumber, &t.PhaseName,
		&materials, &t.Status, &t.ValidFrom, &t.ValidUntil, &t.QRCodeData,
		&t.UsageCount, &t.LastUsedAt, &t.GeneratedBy,
		&t.CancelledAt, &t.CancelledBy, &t.CancellationReason,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(materials, &t.Materials); err != nil {
		return nil, fmt.Errorf("decode materials: %w", err)
	}
	return &t, nil
}

func (r *TokenRepo) InsertTx(ctx context.Context, tx *sql.Tx, t *model.Token) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	materials, err := json.Marshal(t.Materials)
	if err != nil {
		return fmt.Errorf("encode materials: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO tokens (
			id, token_number, application_id, phase_number, phase_name,
			materials, status, valid_from, valid_until, qr_code_data, generated_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, t.ID, t.TokenNumber, t.ApplicationID, t.PhaseNumber, t.PhaseName,
		materials, t.Status, t.ValidFrom, t.ValidUntil, t.QRCodeData, t.GeneratedBy,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == pqUniqueViolation {
			return fmt.Errorf("token %s: %w", t.TokenNumber, store.ErrDuplicateToken)
		}
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

func (r *TokenRepo) FindByNumber(ctx context.Context, tokenNumber string) (*model.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM tokens WHERE token_number = $1`, tokenNumber)
	t, err := scanToken(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("find token by number: %w", err)
	}
	return t, nil
}

// FindByNumberForUpdateTx locks the token row so concurrent scans against
// the same token serialize on it.
func (r *TokenRepo) FindByNumberForUpdateTx(ctx context.Context, tx *sql.Tx, tokenNumber string) (*model.Token, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM tokens WHERE token_number = $1 FOR UPDATE`, tokenNumber)
	t, err := scanToken(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("lock token: %w", err)
	}
	return t, nil
}

func (r *TokenRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM tokens WHERE id = $1`, id)
	t, err := scanToken(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("find token by id: %w", err)
	}
	return t, nil
}

func (r *TokenRepo) ListByApplication(ctx context.Context, applicationID uuid.UUID) ([]model.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+tokenColumns+` FROM tokens WHERE application_id = $1 ORDER BY phase_number`, applicationID)
	if err != nil {
		return nil, fmt.Errorf("query tokens: %w", err)
	}
	defer rows.Close()

	var tokens []model.Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		tokens = append(tokens, *t)
	}
	return tokens, rows.Err()
}

func (r *TokenRepo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id uuid.UUID, status model.TokenStatus) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE tokens SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update token status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update token status rows: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *TokenRepo) RecordUsageTx(ctx context.Context, tx *sql.Tx, id uuid.UUID) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE tokens SET usage_count = usage_count + 1, last_used_at = now(), updated_at = now()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("record token usage: %w", err)
	}
	return nil
}

func (r *TokenRepo) MarkCancelledTx(ctx context.Context, tx *sql.Tx, id uuid.UUID, cancelledBy uuid.UUID, reason string) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE tokens SET
			status = $2,
			cancelled_at = now(),
			cancelled_by = $3,
			cancellation_reason = $4,
			updated_at = now()
		WHERE id = $1 AND status IN ($5, $6)
	`, id, model.TokenStatusCancelled, cancelledBy, reason,
		model.TokenStatusPending, model.TokenStatusActive)
	if err != nil {
		return fmt.Errorf("cancel token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("cancel token rows: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ExpireOverdue flips ACTIVE tokens past their validity window to
// EXPIRED. Scans already reject by date regardless of stored status, so
// this sweep only keeps the stored state honest for listings.
func (r *TokenRepo) ExpireOverdue(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE tokens SET status = $1, updated_at = now()
		WHERE status = $2 AND valid_until < now()
	`, model.TokenStatusExpired, model.TokenStatusActive)
	if err != nil {
		return 0, fmt.Errorf("expire tokens: %w", err)
	}
	return res.RowsAffected()
}
