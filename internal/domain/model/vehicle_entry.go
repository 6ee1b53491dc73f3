package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Coordinates is an optional GPS fix attached to a checkpoint scan.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// VehicleEntry is one checkpoint scan recorded against a token. Entries
// are append-only: the ledger is the source of truth for consumed
// quantity per material, and is never mutated or deleted.
type VehicleEntry struct {
	ID           uuid.UUID  `db:"id"`
	TokenID      uuid.UUID  `db:"token_id"`
	TokenShareID *uuid.UUID `db:"token_share_id"`

	VehicleNumber string  `db:"vehicle_number"`
	DriverName    *string `db:"driver_name"`
	DriverMobile  *string `db:"driver_mobile"`

	MaterialType string          `db:"material_type"`
	MaterialName string          `db:"material_name"`
	Quantity     decimal.Decimal `db:"quantity"`
	Unit         string          `db:"unit"`

	NakaLocation    string       `db:"naka_location"`
	NakaCoordinates *Coordinates `db:"naka_coordinates"`

	VerifiedBy uuid.UUID `db:"verified_by"`

	CreatedAt time.Time `db:"created_at"`
}
