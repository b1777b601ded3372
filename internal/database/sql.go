package database

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // The PostgreSQL driver
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/visionboard/usermanagement/internal/config"
	"github.com/visionboard/usermanagement/internal/model"
)

const (
	pgUniqueViolation = "23505"

	constraintUsersPkey      = "users_pkey"
	constraintUsersEmail     = "users_email_lower_key"
	constraintProfilesUserID = "user_profiles_user_id_key"
	constraintProfilesPkey   = "user_profiles_pkey"
)

// SQLDatabase is a database for communicating with a PostgreSQL server.
type SQLDatabase struct {
	DB *sqlx.DB
}

// userEntity is a users row joined with its user_profiles row.
type userEntity struct {
	model.User
	UserProfile model.UserProfile `db:"profile"`
}

// ToModel converts the entity type to the model type.
func (entity *userEntity) ToModel() *model.User {
	user := entity.User
	profile := entity.UserProfile
	user.Profile = &profile
	return &user
}

// InitializePostgresDB connects to the PostgreSQL database described by cfg.
func InitializePostgresDB(ctx context.Context, cfg *config.DatabaseConfig) (*SQLDatabase, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, "error connecting to DB")
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	return &SQLDatabase{DB: db}, nil
}

// Ping verifies a connection to the database is still alive.
func (db *SQLDatabase) Ping(ctx context.Context) error {
	return db.DB.PingContext(ctx)
}

// Close handles closing all connections to the database.
func (db *SQLDatabase) Close() error {
	return db.DB.Close()
}

// CreateUser inserts the user and its profile in one transaction.
func (db *SQLDatabase) CreateUser(ctx context.Context, user *model.User) (err error) {
	if err := checkNewUser(user); err != nil {
		return err
	}

	tx, err := db.DB.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "error starting transaction")
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO users (
			user_id,
			email,
			account_status,
			email_verified,
			failed_login_attempts,
			locked_until,
			created_at,
			updated_at,
			last_login_at,
			deleted_at
		) VALUES (
			:user_id,
			:email,
			:account_status,
			:email_verified,
			:failed_login_attempts,
			:locked_until,
			:created_at,
			:updated_at,
			:last_login_at,
			:deleted_at
		)`, user)
	if err != nil {
		return mapError(err)
	}

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO user_profiles (
			profile_id,
			user_id,
			first_name,
			last_name,
			display_name,
			timezone,
			language,
			preferences,
			created_at,
			updated_at
		) VALUES (
			:profile_id,
			:user_id,
			:first_name,
			:last_name,
			:display_name,
			:timezone,
			:language,
			:preferences,
			:created_at,
			:updated_at
		)`, user.Profile)
	if err != nil {
		return mapError(err)
	}

	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "error committing transaction")
	}
	return nil
}

// GetUserByID retrieves a non-deleted user joined with its profile.
func (db *SQLDatabase) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	// Provider identifiers are UUIDs; anything else cannot match a row.
	if _, err := uuid.FromString(id); err != nil {
		return nil, ErrNotFound
	}

	query := db.DB.Rebind(`
		SELECT
			u.user_id,
			u.email,
			u.account_status,
			u.email_verified,
			u.failed_login_attempts,
			u.locked_until,
			u.created_at,
			u.updated_at,
			u.last_login_at,
			u.deleted_at,
			p.profile_id AS "profile.profile_id",
			p.user_id AS "profile.user_id",
			p.first_name AS "profile.first_name",
			p.last_name AS "profile.last_name",
			p.display_name AS "profile.display_name",
			p.timezone AS "profile.timezone",
			p.language AS "profile.language",
			p.preferences AS "profile.preferences",
			p.created_at AS "profile.created_at",
			p.updated_at AS "profile.updated_at"
		FROM
			users u
			JOIN user_profiles p ON p.user_id = u.user_id
		WHERE
			u.user_id = ? AND u.deleted_at IS NULL`)

	var entity userEntity
	err := db.DB.GetContext(ctx, &entity, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "error loading user")
	}
	return entity.ToModel(), nil
}

// ExistsByEmail reports whether a non-deleted user has the email, ignoring case.
func (db *SQLDatabase) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	query := db.DB.Rebind(`
		SELECT EXISTS (
			SELECT 1 FROM users WHERE lower(email) = lower(?) AND deleted_at IS NULL
		)`)

	var exists bool
	if err := db.DB.GetContext(ctx, &exists, query, strings.TrimSpace(email)); err != nil {
		return false, errors.Wrap(err, "error checking email")
	}
	return exists, nil
}

// SoftDeleteUser marks the user as deleted.
func (db *SQLDatabase) SoftDeleteUser(ctx context.Context, id string) error {
	if _, err := uuid.FromString(id); err != nil {
		return ErrNotFound
	}

	query := db.DB.Rebind(`
		UPDATE
			users
		SET
			account_status = ?,
			deleted_at = ?,
			updated_at = ?
		WHERE
			user_id = ? AND deleted_at IS NULL`)

	now := time.Now().UTC()
	res, err := db.DB.ExecContext(ctx, query, model.AccountStatusDeleted, now, now, id)
	if err != nil {
		return errors.Wrap(err, "error deleting user")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "error deleting user")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// mapError converts unique violations into store errors.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		switch pgErr.ConstraintName {
		case constraintUsersEmail:
			return errors.Wrap(ErrDuplicateEmail, pgErr.Message)
		case constraintUsersPkey, constraintProfilesUserID, constraintProfilesPkey:
			return errors.Wrap(ErrDuplicateUser, pgErr.Message)
		}
	}
	return errors.Wrap(err, "error writing user")
}
