package model

import (
	"time"

	"github.com/google/uuid"
)

// ApplicationStatus is the workflow position of a construction permit
// application. The routing between authority roles is a plain
// status-to-role mapping, not part of the blacklist or token machinery.
type ApplicationStatus string

const (
	ApplicationStatusSubmitted         ApplicationStatus = "SUBMITTED"
	ApplicationStatusSDMReview         ApplicationStatus = "SDM_REVIEW"
	ApplicationStatusCMSReview         ApplicationStatus = "CMS_REVIEW"
	ApplicationStatusLandVerification  ApplicationStatus = "LAND_VERIFICATION"
	ApplicationStatusLegalVerification ApplicationStatus = "LEGAL_VERIFICATION"
	ApplicationStatusATPVerification   ApplicationStatus = "ATP_VERIFICATION"
	ApplicationStatusJENInspection     ApplicationStatus = "JEN_INSPECTION"
	ApplicationStatusPendingEstimate   ApplicationStatus = "PENDING_ESTIMATE"
	ApplicationStatusApproved          ApplicationStatus = "APPROVED"
	ApplicationStatusRejected          ApplicationStatus = "REJECTED"
	ApplicationStatusTokensIssued      ApplicationStatus = "TOKENS_ISSUED"
	ApplicationStatusCompleted         ApplicationStatus = "COMPLETED"
	ApplicationStatusCancelled         ApplicationStatus = "CANCELLED"
)

// ReviewingRole maps a workflow status to the authority role expected to
// act on it. Returns false for statuses with no pending authority.
func (s ApplicationStatus) ReviewingRole() (AuthorityRole, bool) {
	switch s {
	case ApplicationStatusSubmitted, ApplicationStatusSDMReview:
		return RoleSDM, true
	case ApplicationStatusCMSReview:
		return RoleCMSUIT, true
	case ApplicationStatusLandVerification:
		return RoleLand, true
	case ApplicationStatusLegalVerification:
		return RoleLegal, true
	case ApplicationStatusATPVerification:
		return RoleATP, true
	case ApplicationStatusJENInspection:
		return RoleJEN, true
	}
	return "", false
}

// Application is the permit application the workflow routes between
// authorities. Only the fields the core consumes are modeled here.
type Application struct {
	ID                uuid.UUID         `db:"id"`
	ApplicationNumber string            `db:"application_number"`
	ApplicantID       uuid.UUID         `db:"applicant_id"`
	Status            ApplicationStatus `db:"status"`

	CurrentAuthorityRole *AuthorityRole `db:"current_authority_role"`

	PropertyAddress string `db:"property_address"`

	ApprovedAt *time.Time `db:"approved_at"`
	ApprovedBy *uuid.UUID `db:"approved_by"`

	RejectedAt        *time.Time `db:"rejected_at"`
	RejectionReason   *string    `db:"rejection_reason"`
	RejectionCategory *string    `db:"rejection_category"`

	LastActionAt *time.Time `db:"last_action_at"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// TimelineEntry is an append-only record of one workflow action taken on
// an application.
type TimelineEntry struct {
	ID            uuid.UUID `db:"id"`
	ApplicationID uuid.UUID `db:"application_id"`
	Status        string    `db:"status"`
	Action        string    `db:"action"`
	ActorID       uuid.UUID `db:"actor_id"`
	ActorName     string    `db:"actor_name"`
	ActorRole     string    `db:"actor_role"`
	Comments      *string   `db:"comments"`
	CreatedAt     time.Time `db:"created_at"`
}
