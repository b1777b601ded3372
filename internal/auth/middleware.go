package auth

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"github.com/visionboard/usermanagement/internal/httputil"
	"github.com/visionboard/usermanagement/internal/model"
)

// Middleware errors
var (
	ErrMissingKeyID   = errors.New("token has no key id")
	ErrMissingSubject = errors.New("token has no subject")
)

// leeway absorbs clock skew between this service and the provider.
const leeway = 30 * time.Second

type callerKey string

var callerContextKey callerKey = "caller"

// accessTokenClaims are the claims read from provider access tokens.
type accessTokenClaims struct {
	jwt.RegisteredClaims
	Email             string `json:"email"`
	PreferredUsername string `json:"preferred_username"`
}

// Middleware verifies provider-issued bearer tokens.
type Middleware struct {
	keys   KeyGetter
	issuer string
	logger *slog.Logger
}

// NewMiddleware creates a middleware accepting RS256 tokens from issuer that
// are signed by one of the keys in keys.
func NewMiddleware(keys KeyGetter, issuer string, logger *slog.Logger) *Middleware {
	return &Middleware{
		keys:   keys,
		issuer: issuer,
		logger: logger,
	}
}

// BearerAuthenticated protects endpoints based off a user's Bearer auth
// token. The verified caller is attached to the request context.
func (m *Middleware) BearerAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		caller, err := m.decodeAndVerifyAuthHeader(r.Context(), authHeader)
		if err != nil {
			m.logger.InfoContext(r.Context(), "rejected bearer token", "path", r.URL.Path, "error", err)
			if errors.Is(err, ErrEmptyHeader) {
				w.Header().Set("WWW-Authenticate", "Bearer")
			} else {
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			}
			httputil.WriteError(w, http.StatusUnauthorized, model.ErrorCodeUnauthorized, "Authentication required")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

// WithCaller returns a copy of ctx carrying caller.
func WithCaller(ctx context.Context, caller model.Caller) context.Context {
	return context.WithValue(ctx, callerContextKey, caller)
}

// CallerFromContext returns the caller attached by BearerAuthenticated.
func CallerFromContext(ctx context.Context) (model.Caller, bool) {
	caller, ok := ctx.Value(callerContextKey).(model.Caller)
	return caller, ok
}

func (m *Middleware) decodeAndVerifyAuthHeader(ctx context.Context, authHeader string) (model.Caller, error) {
	bearer, err := ParseBearerAuthorizationHeader(authHeader)
	if err != nil {
		return model.Caller{}, err
	}

	var claims accessTokenClaims
	_, err = jwt.ParseWithClaims(bearer, &claims, func(token *jwt.Token) (interface{}, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, ErrMissingKeyID
		}
		return m.keys.Key(ctx, kid)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(leeway),
	)
	if err != nil {
		return model.Caller{}, err
	}

	if claims.Subject == "" {
		return model.Caller{}, ErrMissingSubject
	}

	email := claims.Email
	if email == "" {
		email = claims.PreferredUsername
	}
	return model.Caller{
		Subject: claims.Subject,
		Email:   model.NormalizeEmail(email),
	}, nil
}
