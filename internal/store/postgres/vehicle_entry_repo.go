package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Vysion-Technology/MountAbu-DigitalToken-Backend/internal/domain/model"
)

type VehicleEntryRepo struct {
	db *DB
}

func NewVehicleEntryRepo(db *DB) *VehicleEntryRepo {
	return &VehicleEntryRepo{db: db}
}

func (r *VehicleEntryRepo) InsertTx(ctx context.Context, tx *sql.Tx, entry *model.VehicleEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	var coords []byte
	if entry.NakaCoordinates != nil {
		var err error
		coords, err = json.Marshal(entry.NakaCoordinates)
		if err != nil {
			return fmt.Errorf("encode coordinates: %w", err)
		}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO vehicle_entries (
			id, token_id, token_share_id,
			vehicle_number, driver_name, driver_mobile,
			material_type, material_name, quantity, unit,
			naka_location, naka_coordinates, verified_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10, $11, $12, $13)
	`, entry.ID, entry.TokenID, entry.TokenShareID,
		entry.VehicleNumber, entry.DriverName, entry.DriverMobile,
		entry.MaterialType, entry.MaterialName, entry.Quantity.String(), entry.Unit,
		entry.NakaLocation, coords, entry.VerifiedBy,
	)
	if err != nil {
		return fmt.Errorf("insert vehicle entry: %w", err)
	}
	return nil
}

// SumByMaterialTx derives consumed quantity per material from the ledger
// inside the scan transaction. Sums run in SQL over NUMERIC so no binary
// floating point touches the balances.
func (r *VehicleEntryRepo) SumByMaterialTx(ctx context.Context, tx *sql.Tx, tokenID uuid.UUID) (map[string]decimal.Decimal, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT material_type, COALESCE(SUM(quantity), 0)::text
		FROM vehicle_entries
		WHERE token_id = $1
		GROUP BY material_type
	`, tokenID)
	if err != nil {
		return nil, fmt.Errorf("sum vehicle entries: %w", err)
	}
	defer rows.Close()

	sums := make(map[string]decimal.Decimal)
	for rows.Next() {
		var materialType, amount string
		if err := rows.Scan(&materialType, &amount); err != nil {
			return nil, fmt.Errorf("scan consumed sum: %w", err)
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("parse consumed sum %q: %w", amount, err)
		}
		sums[materialType] = d
	}
	return sums, rows.Err()
}

func (r *VehicleEntryRepo) ListByToken(ctx context.Context, tokenID uuid.UUID, limit int) ([]model.VehicleEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, token_id, token_share_id,
			   vehicle_number, driver_name, driver_mobile,
			   material_type, material_name, quantity::text, unit,
			   naka_location, naka_coordinates, verified_by, created_at
		FROM vehicle_entries
		WHERE token_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, tokenID, limit)
	if err != nil {
		return nil, fmt.Errorf("query vehicle entries: %w", err)
	}
	defer rows.Close()

	var entries []model.VehicleEntry
	for rows.Next() {
		var e model.VehicleEntry
		var quantity string
		var coords []byte
		if err := rows.Scan(
			&e.ID, &e.TokenID, &e.TokenShareID,
			&e.VehicleNumber, &e.DriverName, &e.DriverMobile,
			&e.MaterialType, &e.MaterialName, &quantity, &e.Unit,
			&e.NakaLocation, &coords, &e.VerifiedBy, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan vehicle entry: %w", err)
		}
		d, err := decimal.NewFromString(quantity)
		if err != nil {
			return nil, fmt.Errorf("parse quantity %q: %w", quantity, err)
		}
		e.Quantity = d
		if len(coords) > 0 {
			var c model.Coordinates
			if err := json.Unmarshal(coords, &c); err != nil {
				return nil, fmt.Errorf("decode coordinates: %w", err)
			}
			e.NakaCoordinates = &c
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
