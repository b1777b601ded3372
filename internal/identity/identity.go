package identity

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// Provider errors. Every failure returned by a Provider wraps one of these.
var (
	// ErrConflict means the provider already has an account for the
	// username or email.
	ErrConflict = errors.New("account already exists at identity provider")

	// ErrRejected means the provider refused the request as invalid or
	// unauthorized.
	ErrRejected = errors.New("identity provider rejected request")

	// ErrUnavailable means the provider could not be reached or failed
	// internally. The outcome of a write is unknown.
	ErrUnavailable = errors.New("identity provider unavailable")

	// ErrNotFound means no account has the given identifier.
	ErrNotFound = errors.New("account not found at identity provider")
)

// NewAccount is the data needed to create a provider account. The email is
// used as both username and email.
type NewAccount struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// Account is the provider's representation of a user account.
type Account struct {
	ID               string              `json:"id"`
	Username         string              `json:"username"`
	Email            string              `json:"email"`
	FirstName        string              `json:"firstName"`
	LastName         string              `json:"lastName"`
	Enabled          bool                `json:"enabled"`
	EmailVerified    bool                `json:"emailVerified"`
	CreatedTimestamp int64               `json:"createdTimestamp,omitempty"`
	Attributes       map[string][]string `json:"attributes,omitempty"`
}

// Provider is the external identity/credential service.
type Provider interface {
	// CreateAccount creates an enabled account with a permanent password
	// and returns the provider's identifier for it. Callers must not retry
	// blindly after ErrUnavailable: the account may have been created.
	CreateAccount(ctx context.Context, account NewAccount) (string, error)

	// FindByID returns the account with the given identifier.
	FindByID(ctx context.Context, id string) (*Account, error)

	// ExistsByEmail reports whether an account has the email. Provider
	// errors are reported as false.
	ExistsByEmail(ctx context.Context, email string) bool

	// DeleteAccount removes the account. Deleting an unknown account
	// succeeds.
	DeleteAccount(ctx context.Context, id string) error
}

// Error carries the details of a failed provider call. Details are meant
// for logs and are never shown to API clients.
type Error struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %v (%d): %s", e.Op, e.Err, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
