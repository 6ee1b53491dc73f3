package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Vysion-Technology/MountAbu-DigitalToken-Backend/internal/domain/model"
)

// Sentinel errors shared across store implementations.
var (
	// ErrNotFound means the referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateToken means a token number collided with an existing
	// row. Issuance must fail loudly on collision, never overwrite.
	ErrDuplicateToken = errors.New("duplicate token number")
)

// TxBeginner abstracts the ability to begin a database transaction.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// BlacklistStatusRepository provides access to per-applicant blacklist
// state. The ForUpdate variants take a row lock so the read-modify-write
// in the engine serializes against concurrent calls for the same user.
type BlacklistStatusRepository interface {
	// Get returns the status row, or ErrNotFound if none exists.
	Get(ctx context.Context, userID uuid.UUID) (*model.BlacklistStatus, error)

	// GetOrCreateForUpdateTx lazily creates the status row with zeroed
	// counters, then returns it locked FOR UPDATE. The insert uses
	// ON CONFLICT DO NOTHING so concurrent first-rejections for a brand
	// new applicant cannot race.
	GetOrCreateForUpdateTx(ctx context.Context, tx *sql.Tx, userID uuid.UUID) (*model.BlacklistStatus, error)

	// GetForUpdateTx returns the status row locked FOR UPDATE, or
	// ErrNotFound if none exists.
	GetForUpdateTx(ctx context.Context, tx *sql.Tx, userID uuid.UUID) (*model.BlacklistStatus, error)

	// UpdateTx persists the mutable fields of the status row.
	UpdateTx(ctx context.Context, tx *sql.Tx, status *model.BlacklistStatus) error
}

// RejectionRepository appends immutable rejection records.
type RejectionRepository interface {
	InsertTx(ctx context.Context, tx *sql.Tx, rec *model.RejectionRecord) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]model.RejectionRecord, error)
}

// AuditLogRepository appends immutable audit entries for blacklist and
// whitelist transitions.
type AuditLogRepository interface {
	InsertTx(ctx context.Context, tx *sql.Tx, entry *model.AuditLogEntry) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]model.AuditLogEntry, error)
}

// TokenRepository provides access to transport tokens. FindByNumber
// ForUpdateTx is the lock point that serializes concurrent scans against
// the same token.
type TokenRepository interface {
	InsertTx(ctx context.Context, tx *sql.Tx, t *model.Token) error
	FindByNumber(ctx context.Context, tokenNumber string) (*model.Token, error)
	FindByNumberForUpdateTx(ctx context.Context, tx *sql.Tx, tokenNumber string) (*model.Token, error)
	FindByID(ctx context.Context, id uuid.UUID) (*model.Token, error)
	ListByApplication(ctx context.Context, applicationID uuid.UUID) ([]model.Token, error)

	// UpdateStatusTx flips the token status. Callers are responsible for
	// honoring the one-directional state machine.
	UpdateStatusTx(ctx context.Context, tx *sql.Tx, id uuid.UUID, status model.TokenStatus) error

	// RecordUsageTx increments usage_count and stamps last_used_at.
	RecordUsageTx(ctx context.Context, tx *sql.Tx, id uuid.UUID) error

	// MarkCancelledTx stamps the cancellation fields alongside the
	// status flip.
	MarkCancelledTx(ctx context.Context, tx *sql.Tx, id uuid.UUID, cancelledBy uuid.UUID, reason string) error

	// ExpireOverdue marks ACTIVE tokens past their validity window as
	// EXPIRED and returns how many rows changed.
	ExpireOverdue(ctx context.Context) (int64, error)
}

// VehicleEntryRepository appends checkpoint scans and derives consumed
// quantities from the ledger. Sums are computed in SQL over NUMERIC so
// no binary floating point touches the balances.
type VehicleEntryRepository interface {
	InsertTx(ctx context.Context, tx *sql.Tx, entry *model.VehicleEntry) error

	// SumByMaterialTx returns consumed quantity per material type for
	// the token, inside the scan transaction.
	SumByMaterialTx(ctx context.Context, tx *sql.Tx, tokenID uuid.UUID) (map[string]decimal.Decimal, error)

	ListByToken(ctx context.Context, tokenID uuid.UUID, limit int) ([]model.VehicleEntry, error)
}

// TokenShareRepository persists driver delegations.
type TokenShareRepository interface {
	Insert(ctx context.Context, share *model.TokenShare) error
	ListActiveByTokenTx(ctx context.Context, tx *sql.Tx, tokenID uuid.UUID) ([]model.TokenShare, error)
	MarkUsedTx(ctx context.Context, tx *sql.Tx, id uuid.UUID) error
}

// ApplicationRepository provides the workflow's view of applications.
type ApplicationRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*model.Application, error)
	UpdateTx(ctx context.Context, tx *sql.Tx, app *model.Application) error
	InsertTimelineTx(ctx context.Context, tx *sql.Tx, entry *model.TimelineEntry) error
}

// UserRepository resolves users for audit naming and notification
// delivery.
type UserRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*model.User, error)
}
