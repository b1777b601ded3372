package mock

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/visionboard/usermanagement/internal/identity"
)

func createUUID() string {
	id, _ := uuid.NewV4()
	return id.String()
}

// IdentityProvider is an in-memory identity.Provider. Errors set on the
// exported fields are returned instead of performing the call.
type IdentityProvider struct {
	CreateErr error
	FindErr   error
	DeleteErr error

	// CreateThenFail creates the account and then returns CreateErr, as when
	// a request times out after the provider committed it.
	CreateThenFail bool

	// AllowDuplicateEmails turns off the provider's own email check, leaving
	// uniqueness to the local store.
	AllowDuplicateEmails bool

	mu       sync.Mutex
	accounts map[string]*identity.Account

	CreateCalls int
	FindCalls   int
	ExistsCalls int
	DeleteCalls int
}

var _ identity.Provider = (*IdentityProvider)(nil)

// NewIdentityProvider creates an empty provider.
func NewIdentityProvider() *IdentityProvider {
	return &IdentityProvider{
		accounts: make(map[string]*identity.Account),
	}
}

// CreateAccount stores the account under a new UUID. Emails are unique
// ignoring case.
func (p *IdentityProvider) CreateAccount(ctx context.Context, account identity.NewAccount) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.CreateCalls++
	if p.CreateErr != nil && !p.CreateThenFail {
		return "", p.CreateErr
	}
	if !p.AllowDuplicateEmails {
		for _, existing := range p.accounts {
			if strings.EqualFold(existing.Email, account.Email) {
				return "", &identity.Error{Op: "create account", StatusCode: 409, Err: identity.ErrConflict}
			}
		}
	}

	id := createUUID()
	p.accounts[id] = &identity.Account{
		ID:               id,
		Username:         account.Email,
		Email:            account.Email,
		FirstName:        account.FirstName,
		LastName:         account.LastName,
		Enabled:          true,
		CreatedTimestamp: time.Now().UnixMilli(),
		Attributes:       map[string][]string{"source": {"backend-api"}},
	}
	if p.CreateErr != nil {
		return "", p.CreateErr
	}
	return id, nil
}

// FindByID returns a copy of the stored account.
func (p *IdentityProvider) FindByID(ctx context.Context, id string) (*identity.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.FindCalls++
	if p.FindErr != nil {
		return nil, p.FindErr
	}
	account, ok := p.accounts[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	found := *account
	return &found, nil
}

// ExistsByEmail reports whether an account has the email, ignoring case.
func (p *IdentityProvider) ExistsByEmail(ctx context.Context, email string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.ExistsCalls++
	for _, account := range p.accounts {
		if strings.EqualFold(account.Email, email) {
			return true
		}
	}
	return false
}

// DeleteAccount removes the account if present.
func (p *IdentityProvider) DeleteAccount(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.DeleteCalls++
	if p.DeleteErr != nil {
		return p.DeleteErr
	}
	delete(p.accounts, id)
	return nil
}

// Len returns the number of stored accounts.
func (p *IdentityProvider) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.accounts)
}
