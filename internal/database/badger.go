package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v3"
	"github.com/pkg/errors"
	"github.com/visionboard/usermanagement/internal/config"
	"github.com/visionboard/usermanagement/internal/model"
)

// BadgerDB holds a connection to an embedded Badger backend. It backs local
// development and tests; production deployments use PostgreSQL.
type BadgerDB struct {
	InMemory bool
	DB       *badger.DB
}

const (
	prefixUser  = "user"
	prefixEmail = "email"
)

func makeUserKey(id string) []byte {
	return makeKey(prefixUser, id)
}

// makeEmailKey indexes live users by lowercased email.
func makeEmailKey(email string) []byte {
	return makeKey(prefixEmail, model.NormalizeEmail(email))
}

func makeKey(prefix, id string) []byte {
	return []byte(fmt.Sprintf("%s_%s", prefix, id))
}

// InitializeBadgerDB opens the Badger store described by cfg. An in-memory
// store is used when cfg.InMemory is set (useful in tests, for example).
func InitializeBadgerDB(cfg *config.DatabaseConfig) (*BadgerDB, error) {
	path := cfg.Dir
	if cfg.InMemory {
		path = ""
	}
	opts := badger.DefaultOptions(path).
		WithInMemory(cfg.InMemory).
		WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "error opening badger")
	}
	return &BadgerDB{DB: db, InMemory: cfg.InMemory}, nil
}

// Ping fails once the store has been closed.
func (db *BadgerDB) Ping(ctx context.Context) error {
	if db.DB.IsClosed() {
		return errors.New("badger is closed")
	}
	return nil
}

// Close handles closing all connections to the database.
func (db *BadgerDB) Close() error {
	return db.DB.Close()
}

// Reset drops all data in the database.
func (db *BadgerDB) Reset() error {
	return db.DB.DropAll()
}

// CreateUser stores the user (profile embedded) and claims its email in the
// same transaction.
func (db *BadgerDB) CreateUser(ctx context.Context, user *model.User) error {
	if err := checkNewUser(user); err != nil {
		return err
	}

	userKey := makeUserKey(user.ID)
	emailKey := makeEmailKey(user.Email)
	err := db.DB.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(userKey); err == nil {
			return ErrDuplicateUser
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		if !user.IsDeleted() {
			if _, err := txn.Get(emailKey); err == nil {
				return ErrDuplicateEmail
			} else if err != badger.ErrKeyNotFound {
				return err
			}
		}

		b, err := json.Marshal(user)
		if err != nil {
			return err
		}
		if err := txn.Set(userKey, b); err != nil {
			return err
		}
		if user.IsDeleted() {
			return nil
		}
		return txn.Set(emailKey, []byte(user.ID))
	})
	if errors.Is(err, badger.ErrConflict) {
		// A concurrent registration claimed the email first.
		return ErrDuplicateEmail
	}
	return mapBadgerError(err)
}

// GetUserByID retrieves a non-deleted user with its profile.
func (db *BadgerDB) GetUserByID(ctx context.Context, id string) (user *model.User, err error) {
	key := makeUserKey(id)
	err = db.DB.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}

		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &user)
		})
	})
	if err != nil {
		return nil, mapBadgerError(err)
	}
	if user.IsDeleted() {
		return nil, ErrNotFound
	}
	return user, nil
}

// ExistsByEmail reports whether a non-deleted user has the email, ignoring case.
func (db *BadgerDB) ExistsByEmail(ctx context.Context, email string) (exists bool, err error) {
	key := makeEmailKey(email)
	err = db.DB.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		switch err {
		case nil:
			exists = true
			return nil
		case badger.ErrKeyNotFound:
			return nil
		default:
			return err
		}
	})
	if err != nil {
		return false, errors.Wrap(err, "error checking email")
	}
	return exists, nil
}

// SoftDeleteUser marks the user as deleted and releases its email.
func (db *BadgerDB) SoftDeleteUser(ctx context.Context, id string) error {
	key := makeUserKey(id)
	err := db.DB.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}

		var user model.User
		if err := item.Value(func(v []byte) error {
			return json.Unmarshal(v, &user)
		}); err != nil {
			return err
		}
		if user.IsDeleted() {
			return ErrNotFound
		}

		now := time.Now().UTC()
		user.AccountStatus = model.AccountStatusDeleted
		user.DeletedAt = &now
		user.UpdatedAt = now

		b, err := json.Marshal(&user)
		if err != nil {
			return err
		}
		if err := txn.Set(key, b); err != nil {
			return err
		}
		return txn.Delete(makeEmailKey(user.Email))
	})
	return mapBadgerError(err)
}

func mapBadgerError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return ErrNotFound
	case errors.Is(err, badger.ErrConflict):
		return errors.Wrap(err, "badger: concurrent update")
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrDuplicateEmail), errors.Is(err, ErrDuplicateUser):
		return err
	}
	return errors.Wrap(err, "badger")
}
