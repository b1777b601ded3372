// Package registration creates accounts at the identity provider and mirrors
// them in the local user store.
//
// Registration is not atomic across the two systems. The provider account is
// created first; if the local write then fails, the service deletes the
// provider account again (unless compensation is disabled) and reports the
// local failure. If that delete also fails the error kind is
// KindCompensationFailed and the orphaned account id is logged.
package registration

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	"github.com/visionboard/usermanagement/internal/config"
	"github.com/visionboard/usermanagement/internal/database"
	"github.com/visionboard/usermanagement/internal/identity"
	"github.com/visionboard/usermanagement/internal/logging"
	"github.com/visionboard/usermanagement/internal/model"
)

// compensationTimeout bounds the provider delete issued after a failed local
// write. It runs detached from the request context.
const compensationTimeout = 10 * time.Second

// Service implements user registration and the profile read path.
type Service struct {
	db         database.UserDB
	provider   identity.Provider
	logger     *slog.Logger
	compensate bool

	now func() time.Time
}

// NewService creates a registration service.
func NewService(db database.UserDB, provider identity.Provider, cfg *config.RegistrationConfig, logger *slog.Logger) *Service {
	return &Service{
		db:         db,
		provider:   provider,
		logger:     logger,
		compensate: cfg.Compensate,
		now:        time.Now,
	}
}

// RegisterUser creates the provider account and the local user with its
// profile. The request must already be validated.
//
// The local uniqueness check always runs before the provider is called, so
// a known email never reaches the provider. Nothing is retried.
func (s *Service) RegisterUser(ctx context.Context, req *model.RegistrationRequest) (*model.RegistrationResult, error) {
	email := model.NormalizeEmail(req.Email)
	logger := s.logger.With(logging.Email("email", email))

	exists, err := s.existsByEmail(ctx, email)
	if err != nil {
		logger.ErrorContext(ctx, "error checking email uniqueness", "error", err)
		return nil, newError(KindPersistence, err)
	}
	if exists {
		logger.InfoContext(ctx, "registration rejected: email already registered")
		return nil, newError(KindEmailAlreadyExists, nil)
	}

	externalID, err := s.provider.CreateAccount(ctx, identity.NewAccount{
		Email:     email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		logger.ErrorContext(ctx, "error creating identity provider account", "error", err)
		if errors.Is(err, identity.ErrUnavailable) {
			s.probeOrphan(ctx, logger, email)
		}
		return nil, newError(KindIdentityProvider, err)
	}

	profileID, err := uuid.NewV4()
	if err != nil {
		return nil, s.rollback(ctx, logger, externalID, errors.Wrap(err, "error generating profile id"))
	}

	user := model.NewUser(externalID, profileID.String(), email, req.FirstName, req.LastName, s.now())
	if err := s.createUser(ctx, user); err != nil {
		return nil, s.rollback(ctx, logger, externalID, err)
	}

	logger.InfoContext(ctx, "user registered", "user_id", user.ID)
	return &model.RegistrationResult{
		UserID:    user.ID,
		Email:     user.Email,
		FirstName: user.Profile.FirstName,
		LastName:  user.Profile.LastName,
		CreatedAt: user.CreatedAt,
	}, nil
}

// GetUserProfile returns the non-deleted user, joined with its profile, that
// belongs to the authenticated caller.
func (s *Service) GetUserProfile(ctx context.Context, caller model.Caller) (*model.User, error) {
	if caller.Subject == "" {
		return nil, newError(KindUserNotFound, errors.New("caller has no subject"))
	}

	dbctx, cancel := context.WithTimeout(ctx, database.DefaultTimeout)
	defer cancel()

	user, err := s.db.GetUserByID(dbctx, caller.Subject)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			s.logger.InfoContext(ctx, "profile not found", "user_id", caller.Subject)
			return nil, newError(KindUserNotFound, err)
		}
		s.logger.ErrorContext(ctx, "error loading profile", "user_id", caller.Subject, "error", err)
		return nil, newError(KindPersistence, err)
	}
	return user, nil
}

func (s *Service) existsByEmail(ctx context.Context, email string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, database.DefaultTimeout)
	defer cancel()
	return s.db.ExistsByEmail(ctx, email)
}

func (s *Service) createUser(ctx context.Context, user *model.User) error {
	ctx, cancel := context.WithTimeout(ctx, database.DefaultTimeout)
	defer cancel()
	return s.db.CreateUser(ctx, user)
}

// rollback handles a local failure that happened after the provider account
// was created. A lost uniqueness race is reported as EmailAlreadyExists.
func (s *Service) rollback(ctx context.Context, logger *slog.Logger, externalID string, cause error) error {
	kind := KindPersistence
	if errors.Is(cause, database.ErrDuplicateEmail) {
		kind = KindEmailAlreadyExists
		logger.WarnContext(ctx, "lost registration race on email", "user_id", externalID)
	} else {
		logger.ErrorContext(ctx, "error persisting user", "user_id", externalID, "error", cause)
	}

	if !s.compensate {
		logger.WarnContext(ctx, "identity provider account left without local user", "user_id", externalID)
		return newError(kind, cause)
	}

	delctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	if err := s.provider.DeleteAccount(delctx, externalID); err != nil {
		logger.ErrorContext(ctx, "error deleting orphaned identity provider account",
			"user_id", externalID, "error", err)
		return newError(KindCompensationFailed, errors.Wrapf(cause, "delete of account %s failed (%v)", externalID, err))
	}

	logger.InfoContext(ctx, "deleted identity provider account after local failure", "user_id", externalID)
	return newError(kind, cause)
}

// probeOrphan checks whether a create call with an unknown outcome actually
// went through. It only logs: the account cannot be linked without its id.
func (s *Service) probeOrphan(ctx context.Context, logger *slog.Logger, email string) {
	probectx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	if s.provider.ExistsByEmail(probectx, email) {
		logger.WarnContext(ctx, "identity provider account may exist without local user")
	}
}
