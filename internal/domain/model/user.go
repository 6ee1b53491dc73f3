package model

import (
	"time"

	"github.com/google/uuid"
)

// UserType distinguishes citizens from officials.
type UserType string

const (
	UserTypeApplicant UserType = "APPLICANT"
	UserTypeAuthority UserType = "AUTHORITY"
)

// AuthorityRole is the role-scoped power held by an official.
type AuthorityRole string

const (
	RoleSDM    AuthorityRole = "SDM"
	RoleCMSUIT AuthorityRole = "CMS_UIT"
	RoleCMSULB AuthorityRole = "CMS_ULB"
	RoleJEN    AuthorityRole = "JEN"
	RoleLand   AuthorityRole = "LAND"
	RoleLegal  AuthorityRole = "LEGAL"
	RoleATP    AuthorityRole = "ATP"
	RoleNaka   AuthorityRole = "NAKA"
)

// CanApprove reports whether the role may approve or reject applications.
func (r AuthorityRole) CanApprove() bool {
	switch r {
	case RoleSDM, RoleCMSUIT, RoleCMSULB:
		return true
	}
	return false
}

// Principal is the authenticated caller supplied by the session layer.
// The core trusts it without re-validating credentials.
type Principal struct {
	ID       uuid.UUID
	Role     AuthorityRole
	UserType UserType
}

// User carries the subset of account data the core needs: identity for
// audit fields and the mobile number for notifications.
type User struct {
	ID        uuid.UUID     `db:"id"`
	Name      string        `db:"name"`
	Mobile    string        `db:"mobile"`
	UserType  UserType      `db:"user_type"`
	Role      AuthorityRole `db:"role"`
	CreatedAt time.Time     `db:"created_at"`
}
