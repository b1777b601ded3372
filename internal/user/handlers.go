package user

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/visionboard/usermanagement/internal/auth"
	"github.com/visionboard/usermanagement/internal/httputil"
	"github.com/visionboard/usermanagement/internal/logging"
	"github.com/visionboard/usermanagement/internal/model"
	"github.com/visionboard/usermanagement/internal/registration"
	"github.com/visionboard/usermanagement/internal/validation"
)

const maxRequestSize = 64 << 10

// Service is the registration and profile logic behind the handlers.
type Service interface {
	RegisterUser(ctx context.Context, req *model.RegistrationRequest) (*model.RegistrationResult, error)
	GetUserProfile(ctx context.Context, caller model.Caller) (*model.User, error)
}

// SetupRoutes initializes user routes under /users and /api/users.
func SetupRoutes(r *mux.Router, svc Service, authenticated mux.MiddlewareFunc, logger *slog.Logger) {
	register := &registerHandler{svc: svc, validator: validation.New(), logger: logger}
	profile := authenticated(&profileHandler{svc: svc, logger: logger})

	for _, prefix := range []string{"/users", "/api/users"} {
		r.Handle(prefix+"/register", register).Methods(http.MethodPost)
		r.Handle(prefix+"/me", profile).Methods(http.MethodGet)
	}
}

type registerHandler struct {
	svc       Service
	validator *validation.Validator
	logger    *slog.Logger
}

func (h *registerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req model.RegistrationRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestSize))
	if err := dec.Decode(&req); err != nil {
		h.logger.InfoContext(r.Context(), "malformed registration request", "error", err)
		httputil.WriteError(w, http.StatusBadRequest, model.ErrorCodeValidation, model.InvalidRequestMessage)
		return
	}

	if fieldErrors := h.validator.ValidateRegistration(&req); len(fieldErrors) > 0 {
		h.logger.InfoContext(r.Context(), "invalid registration request", "fields", len(fieldErrors))
		httputil.WriteError(w, http.StatusBadRequest, model.ErrorCodeValidation, model.InvalidRequestMessage, fieldErrors...)
		return
	}

	h.logger.InfoContext(r.Context(), "registration request received", logging.Email("email", req.Email))

	res, err := h.svc.RegisterUser(r.Context(), &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, model.NewRegistrationResponse(res))
}

type profileHandler struct {
	svc    Service
	logger *slog.Logger
}

func (h *profileHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.CallerFromContext(r.Context())
	if !ok {
		h.logger.ErrorContext(r.Context(), "profile request without caller")
		httputil.WriteError(w, http.StatusUnauthorized, model.ErrorCodeUnauthorized, "Authentication required")
		return
	}

	h.logger.InfoContext(r.Context(), "profile request received", "user_id", caller.Subject)

	user, err := h.svc.GetUserProfile(r.Context(), caller)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, model.NewProfileResponse(user))
}

// writeServiceError maps registration failures to responses. Causes were
// already logged by the service and are not exposed.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registration.ErrEmailAlreadyExists):
		httputil.WriteError(w, http.StatusConflict, model.ErrorCodeEmailAlreadyExists, model.EmailAlreadyExistsMessage)
	case errors.Is(err, registration.ErrUserNotFound):
		httputil.WriteError(w, http.StatusNotFound, model.ErrorCodeUserNotFound, model.UserNotFoundMessage)
	default:
		httputil.WriteInternalError(w)
	}
}
