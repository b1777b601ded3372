package database

import (
	"context"
	"errors"
	"time"

	"github.com/visionboard/usermanagement/internal/model"
)

// DefaultTimeout is the default length of time to wait
// for a database operation to complete.
const DefaultTimeout = time.Second * 3

// Store errors.
var (
	// ErrNotFound means no non-deleted record matched.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateEmail means another non-deleted user already has the
	// email, compared case-insensitively.
	ErrDuplicateEmail = errors.New("duplicate email")

	// ErrDuplicateUser means a user with the same external identifier
	// already exists.
	ErrDuplicateUser = errors.New("duplicate user id")

	// ErrMissingProfile means a user was written without its profile.
	ErrMissingProfile = errors.New("user has no profile")

	// ErrInvalidStatus means a user was written with an unknown account
	// status.
	ErrInvalidStatus = errors.New("invalid account status")
)

// checkNewUser rejects users that cannot be stored.
func checkNewUser(user *model.User) error {
	if user.Profile == nil {
		return ErrMissingProfile
	}
	if !user.AccountStatus.IsValid() {
		return ErrInvalidStatus
	}
	return nil
}

// Database handles all interactions with the data backend.
type Database interface {
	UserDB

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
	Close() error
}

// UserDB handles interactions with the local user store.
type UserDB interface {
	// CreateUser persists the user and its profile in a single transaction.
	CreateUser(ctx context.Context, user *model.User) error

	// GetUserByID returns the non-deleted user with its profile.
	GetUserByID(ctx context.Context, id string) (*model.User, error)

	// ExistsByEmail reports whether a non-deleted user has the email,
	// ignoring case.
	ExistsByEmail(ctx context.Context, email string) (bool, error)

	// SoftDeleteUser marks the user deleted and frees its email.
	SoftDeleteUser(ctx context.Context, id string) error
}
