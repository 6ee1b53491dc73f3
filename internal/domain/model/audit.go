package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditAction identifies the kind of blacklist state transition recorded.
type AuditAction string

const (
	AuditActionAutoBlacklist   AuditAction = "AUTO_BLACKLIST"
	AuditActionManualBlacklist AuditAction = "MANUAL_BLACKLIST"
	AuditActionWhitelist       AuditAction = "WHITELIST"
)

// AuditLogEntry records a blacklist or whitelist transition with before
// and after snapshots. Entries are append-only and never mutated.
type AuditLogEntry struct {
	ID          uuid.UUID       `db:"id"`
	UserID      uuid.UUID       `db:"user_id"`
	Action      AuditAction     `db:"action"`
	PerformedBy *uuid.UUID      `db:"performed_by"`
	Description string          `db:"description"`
	OldValues   json.RawMessage `db:"old_values"`
	NewValues   json.RawMessage `db:"new_values"`
	CreatedAt   time.Time       `db:"created_at"`
}
