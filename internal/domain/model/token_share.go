package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TokenShareStatus is the lifecycle state of a driver delegation.
type TokenShareStatus string

const (
	TokenShareStatusActive    TokenShareStatus = "ACTIVE"
	TokenShareStatusUsed      TokenShareStatus = "USED"
	TokenShareStatusExpired   TokenShareStatus = "EXPIRED"
	TokenShareStatusCancelled TokenShareStatus = "CANCELLED"
)

// MaterialLimit optionally caps a single share to one material and a
// maximum per-scan quantity.
type MaterialLimit struct {
	MaterialType string          `json:"material_type"`
	MaxQuantity  decimal.Decimal `json:"max_quantity"`
}

// TokenShare is a time-boxed delegation allowing a named driver and
// vehicle to present a token at a checkpoint.
type TokenShare struct {
	ID      uuid.UUID `db:"id"`
	TokenID uuid.UUID `db:"token_id"`

	SharedBy uuid.UUID `db:"shared_by"`

	DriverName    string `db:"driver_name"`
	DriverMobile  string `db:"driver_mobile"`
	VehicleNumber string `db:"vehicle_number"`

	ShareCode string `db:"share_code"`
	ShareLink string `db:"share_link"`

	MaterialLimit *MaterialLimit `db:"material_limit"`

	ValidUntil time.Time `db:"valid_until"`

	Status TokenShareStatus `db:"status"`
	UsedAt *time.Time       `db:"used_at"`

	SMSSent bool `db:"sms_sent"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Usable reports whether the share can authorize a scan at the given time.
func (s *TokenShare) Usable(now time.Time) bool {
	return s.Status == TokenShareStatusActive && now.Before(s.ValidUntil)
}
