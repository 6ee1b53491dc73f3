package model

import (
	"time"

	"github.com/google/uuid"
)

// TokenStatus is the lifecycle state of a transport token. Transitions
// are one-directional: PENDING → ACTIVE → one of the terminal states.
type TokenStatus string

const (
	TokenStatusPending   TokenStatus = "PENDING"
	TokenStatusActive    TokenStatus = "ACTIVE"
	TokenStatusExhausted TokenStatus = "EXHAUSTED"
	TokenStatusExpired   TokenStatus = "EXPIRED"
	TokenStatusCancelled TokenStatus = "CANCELLED"
)

// Terminal reports whether s is a terminal state. No transition leaves a
// terminal state.
func (s TokenStatus) Terminal() bool {
	switch s {
	case TokenStatusExhausted, TokenStatusExpired, TokenStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether the status machine allows s → next.
func (s TokenStatus) CanTransitionTo(next TokenStatus) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case TokenStatusPending:
		return next == TokenStatusActive || next == TokenStatusCancelled || next == TokenStatusExpired
	case TokenStatusActive:
		return next.Terminal()
	}
	return false
}

// Token is a material-transport permit tied to one application phase.
// The materials quota list is immutable after issuance; remaining balance
// is always derived from the vehicle entry ledger.
type Token struct {
	ID            uuid.UUID `db:"id"`
	TokenNumber   string    `db:"token_number"`
	ApplicationID uuid.UUID `db:"application_id"`

	PhaseNumber int    `db:"phase_number"`
	PhaseName   string `db:"phase_name"`

	Materials []MaterialQuota `db:"materials"`

	Status TokenStatus `db:"status"`

	ValidFrom  time.Time `db:"valid_from"`
	ValidUntil time.Time `db:"valid_until"`

	QRCodeData string `db:"qr_code_data"`

	UsageCount int        `db:"usage_count"`
	LastUsedAt *time.Time `db:"last_used_at"`

	GeneratedBy uuid.UUID `db:"generated_by"`

	CancelledAt        *time.Time `db:"cancelled_at"`
	CancelledBy        *uuid.UUID `db:"cancelled_by"`
	CancellationReason *string    `db:"cancellation_reason"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// WithinValidity reports whether now falls inside the token's validity
// window. Checked independently of the stored status so a stale ACTIVE
// token past its window is still rejected by date.
func (t *Token) WithinValidity(now time.Time) bool {
	return !now.Before(t.ValidFrom) && !now.After(t.ValidUntil)
}
