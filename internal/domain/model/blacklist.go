package model

import (
	"time"

	"github.com/google/uuid"
)

// BlacklistCategory classifies how a blacklist came to be.
type BlacklistCategory string

const (
	BlacklistCategoryAutoConsecutive BlacklistCategory = "AUTO_CONSECUTIVE"
	BlacklistCategoryManual          BlacklistCategory = "MANUAL"
	BlacklistCategoryFraud           BlacklistCategory = "FRAUD"
)

// BlacklistStatus tracks an applicant's rejection history and blacklist
// state. One row per applicant, created lazily on the first rejection or
// manual action.
type BlacklistStatus struct {
	ID     uuid.UUID `db:"id"`
	UserID uuid.UUID `db:"user_id"`

	IsBlacklisted bool `db:"is_blacklisted"`

	ConsecutiveRejections int `db:"consecutive_rejections"`
	TotalRejections       int `db:"total_rejections"`
	TotalApprovals        int `db:"total_approvals"`

	BlacklistedAt     *time.Time        `db:"blacklisted_at"`
	BlacklistReason   *string           `db:"blacklist_reason"`
	BlacklistCategory BlacklistCategory `db:"blacklist_category"`
	BlacklistedBy     *uuid.UUID        `db:"blacklisted_by"`

	LastRejectionAt            *time.Time `db:"last_rejection_at"`
	LastRejectionApplicationID *uuid.UUID `db:"last_rejection_application_id"`

	WhitelistedAt   *time.Time `db:"whitelisted_at"`
	WhitelistedBy   *uuid.UUID `db:"whitelisted_by"`
	WhitelistReason *string    `db:"whitelist_reason"`

	WarningIssued   bool       `db:"warning_issued"`
	WarningIssuedAt *time.Time `db:"warning_issued_at"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}
