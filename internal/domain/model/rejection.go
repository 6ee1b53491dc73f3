package model

import (
	"time"

	"github.com/google/uuid"
)

// RejectionRecord is an immutable row recording a single application
// rejection. ConsecutiveCount is a snapshot taken at write time, not a
// live reference to the applicant's counter.
type RejectionRecord struct {
	ID            uuid.UUID `db:"id"`
	UserID        uuid.UUID `db:"user_id"`
	ApplicationID uuid.UUID `db:"application_id"`

	RejectedBy     uuid.UUID `db:"rejected_by"`
	RejectedByRole string    `db:"rejected_by_role"`
	Reason         string    `db:"rejection_reason"`
	Category       string    `db:"rejection_category"`
	Comments       *string   `db:"authority_comments"`

	ConsecutiveCount   int  `db:"consecutive_count"`
	TriggeredBlacklist bool `db:"triggered_blacklist"`

	RejectedAt time.Time `db:"rejected_at"`
}
