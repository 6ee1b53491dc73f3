package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MaterialQuota is one line of a token's material allowance. The approved
// quantity is fixed at issuance; consumption is derived from the vehicle
// entry ledger, never stored here.
type MaterialQuota struct {
	MaterialType     string          `json:"material_type"`
	MaterialName     string          `json:"material_name"`
	ApprovedQuantity decimal.Decimal `json:"approved_quantity"`
	Unit             string          `json:"unit"`
}

// ValidateQuotas checks a quota list for issuance: non-empty, positive
// quantities, and no duplicate material types.
func ValidateQuotas(quotas []MaterialQuota) error {
	if len(quotas) == 0 {
		return fmt.Errorf("quota list is empty")
	}
	seen := make(map[string]bool, len(quotas))
	for _, q := range quotas {
		if q.MaterialType == "" {
			return fmt.Errorf("material type is empty")
		}
		if seen[q.MaterialType] {
			return fmt.Errorf("duplicate material type %q", q.MaterialType)
		}
		seen[q.MaterialType] = true
		if !q.ApprovedQuantity.IsPositive() {
			return fmt.Errorf("material %s: approved quantity must be positive, got %s",
				q.MaterialType, q.ApprovedQuantity)
		}
		if q.Unit == "" {
			return fmt.Errorf("material %s: unit is empty", q.MaterialType)
		}
	}
	return nil
}

// DefaultQuotas is the standard single-phase allowance applied when an
// approval carries no explicit material schedule.
func DefaultQuotas() []MaterialQuota {
	return []MaterialQuota{
		{MaterialType: "CEMENT", MaterialName: "Cement", ApprovedQuantity: decimal.NewFromInt(100), Unit: "bags"},
		{MaterialType: "SAND", MaterialName: "Sand", ApprovedQuantity: decimal.NewFromInt(10), Unit: "truckloads"},
	}
}

// FindQuota returns the quota entry for materialType, or false if the
// list carries no such material.
func FindQuota(quotas []MaterialQuota, materialType string) (MaterialQuota, bool) {
	for _, q := range quotas {
		if q.MaterialType == materialType {
			return q, true
		}
	}
	return MaterialQuota{}, false
}
