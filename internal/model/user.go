package model

import (
	"strings"
	"time"

	"github.com/visionboard/usermanagement/util/sqlutil"
)

// AccountStatus is the lifecycle state of a local user account.
type AccountStatus string

// Valid account statuses.
const (
	AccountStatusPending         AccountStatus = "PENDING"
	AccountStatusActive          AccountStatus = "ACTIVE"
	AccountStatusSuspended       AccountStatus = "SUSPENDED"
	AccountStatusPendingDeletion AccountStatus = "PENDING_DELETION"
	AccountStatusDeleted         AccountStatus = "DELETED"
)

// IsValid returns whether the status is one of the known values.
func (s AccountStatus) IsValid() bool {
	switch s {
	case AccountStatusPending,
		AccountStatusActive,
		AccountStatusSuspended,
		AccountStatusPendingDeletion,
		AccountStatusDeleted:
		return true
	}
	return false
}

// Profile defaults applied at registration.
const (
	DefaultTimezone = "UTC"
	DefaultLanguage = "en"
)

// User is the local mirror of an identity provider account. ID is the
// provider's user identifier and never changes once assigned. The local
// store holds no credential material.
type User struct {
	ID                  string        `db:"user_id" json:"user_id"`
	Email               string        `db:"email" json:"email"`
	AccountStatus       AccountStatus `db:"account_status" json:"account_status"`
	EmailVerified       bool          `db:"email_verified" json:"email_verified"`
	FailedLoginAttempts int           `db:"failed_login_attempts" json:"failed_login_attempts"`
	LockedUntil         *time.Time    `db:"locked_until" json:"locked_until,omitempty"`
	CreatedAt           time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time     `db:"updated_at" json:"updated_at"`
	LastLoginAt         *time.Time    `db:"last_login_at" json:"last_login_at,omitempty"`
	DeletedAt           *time.Time    `db:"deleted_at" json:"deleted_at,omitempty"`

	Profile *UserProfile `db:"-" json:"profile,omitempty"`
}

// IsDeleted reports whether the user has been soft-deleted.
func (u *User) IsDeleted() bool {
	return u.DeletedAt != nil
}

// UserProfile holds the extended attributes of exactly one User.
type UserProfile struct {
	ID          string          `db:"profile_id" json:"profile_id"`
	UserID      string          `db:"user_id" json:"user_id"`
	FirstName   string          `db:"first_name" json:"first_name"`
	LastName    string          `db:"last_name" json:"last_name"`
	DisplayName *string         `db:"display_name" json:"display_name,omitempty"`
	Timezone    string          `db:"timezone" json:"timezone"`
	Language    string          `db:"language" json:"language"`
	Preferences sqlutil.JSONMap `db:"preferences" json:"preferences,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// NormalizeEmail returns the canonical stored form of an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NewUser builds a freshly registered user and its profile. Accounts created
// through the identity provider are usable immediately, so the status is
// ACTIVE even though the email is not verified yet.
//
// Timestamps are truncated to the microsecond, the resolution of the SQL store.
func NewUser(externalID, profileID, email, firstName, lastName string, now time.Time) *User {
	now = now.UTC().Truncate(time.Microsecond)
	return &User{
		ID:            externalID,
		Email:         NormalizeEmail(email),
		AccountStatus: AccountStatusActive,
		EmailVerified: false,
		CreatedAt:     now,
		UpdatedAt:     now,
		Profile: &UserProfile{
			ID:        profileID,
			UserID:    externalID,
			FirstName: firstName,
			LastName:  lastName,
			Timezone:  DefaultTimezone,
			Language:  DefaultLanguage,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}

// Caller is the authenticated identity behind a request, taken from a
// verified access token.
type Caller struct {
	Subject string
	Email   string
}
