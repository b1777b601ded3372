package mock

import (
	"context"
	"sync"

	"github.com/visionboard/usermanagement/internal/database"
	"github.com/visionboard/usermanagement/internal/model"
)

// UserDB wraps a real database.UserDB, counting writes and returning the
// configured errors in place of the wrapped calls.
type UserDB struct {
	database.UserDB

	CreateErr error
	GetErr    error
	ExistsErr error

	mu          sync.Mutex
	CreateCalls int
	GetCalls    int
	ExistsCalls int
}

var _ database.UserDB = (*UserDB)(nil)

// NewUserDB wraps db.
func NewUserDB(db database.UserDB) *UserDB {
	return &UserDB{UserDB: db}
}

// CreateUser implements database.UserDB.
func (db *UserDB) CreateUser(ctx context.Context, user *model.User) error {
	db.mu.Lock()
	db.CreateCalls++
	err := db.CreateErr
	db.mu.Unlock()

	if err != nil {
		return err
	}
	return db.UserDB.CreateUser(ctx, user)
}

// GetUserByID implements database.UserDB.
func (db *UserDB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	db.mu.Lock()
	db.GetCalls++
	err := db.GetErr
	db.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return db.UserDB.GetUserByID(ctx, id)
}

// ExistsByEmail implements database.UserDB.
func (db *UserDB) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	db.mu.Lock()
	db.ExistsCalls++
	err := db.ExistsErr
	db.mu.Unlock()

	if err != nil {
		return false, err
	}
	return db.UserDB.ExistsByEmail(ctx, email)
}

// Writes returns the number of CreateUser calls.
func (db *UserDB) Writes() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.CreateCalls
}
