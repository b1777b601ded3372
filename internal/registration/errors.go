package registration

import "fmt"

// Kind classifies a registration failure.
type Kind int

// Failure kinds.
const (
	KindEmailAlreadyExists Kind = iota + 1
	KindUserNotFound
	KindIdentityProvider
	KindPersistence
	KindCompensationFailed
)

func (k Kind) String() string {
	switch k {
	case KindEmailAlreadyExists:
		return "email already exists"
	case KindUserNotFound:
		return "user not found"
	case KindIdentityProvider:
		return "identity provider error"
	case KindPersistence:
		return "persistence error"
	case KindCompensationFailed:
		return "compensation failed"
	}
	return "unknown"
}

// Sentinels for use with errors.Is.
var (
	ErrEmailAlreadyExists = &Error{Kind: KindEmailAlreadyExists}
	ErrUserNotFound       = &Error{Kind: KindUserNotFound}
	ErrIdentityProvider   = &Error{Kind: KindIdentityProvider}
	ErrPersistence        = &Error{Kind: KindPersistence}
	ErrCompensationFailed = &Error{Kind: KindCompensationFailed}
)

// Error is returned by every Service operation. Err holds the underlying
// cause, which is for logs only.
type Error struct {
	Kind Kind
	Err  error
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}
