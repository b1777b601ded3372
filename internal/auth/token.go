package auth

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/visionboard/usermanagement/internal/config"
	"github.com/visionboard/usermanagement/internal/httputil"
	"github.com/visionboard/usermanagement/internal/logging"
)

// Token request parameters forwarded to the provider.
const (
	paramGrantType    = "grant_type"
	paramUsername     = "username"
	paramPassword     = "password"
	paramClientID     = "client_id"
	paramClientSecret = "client_secret"
	paramScope        = "scope"
)

const (
	maxTokenRequestSize  = 64 << 10
	maxTokenResponseSize = 1 << 20
)

// tokenErrorResponse is the only error clients of the token proxy see.
type tokenErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

var invalidGrant = tokenErrorResponse{
	Error:            "invalid_grant",
	ErrorDescription: "Invalid user credentials",
}

// SetupRoutes initializes auth routes.
func SetupRoutes(r *mux.Router, cfg *config.IdentityConfig, logger *slog.Logger) {
	r.Handle("/auth/token", NewTokenProxy(cfg, logger)).Methods(http.MethodPost)
}

// TokenProxy forwards resource owner password requests to the provider's
// token endpoint and relays successful responses unchanged.
type TokenProxy struct {
	tokenURL string
	clientID string
	client   *http.Client
	logger   *slog.Logger
}

// NewTokenProxy creates a proxy for the realm described by cfg. Requests
// without a client_id use the configured web client.
func NewTokenProxy(cfg *config.IdentityConfig, logger *slog.Logger) *TokenProxy {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TokenProxy{
		tokenURL: cfg.TokenURL(),
		clientID: cfg.Web.ClientID,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

func (p *TokenProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxTokenRequestSize)
	if err := r.ParseForm(); err != nil {
		p.logger.InfoContext(r.Context(), "invalid token request", "error", err)
		p.reject(w)
		return
	}

	username := r.PostForm.Get(paramUsername)
	p.logger.InfoContext(r.Context(), "token request received", logging.Email("username", username))

	form := url.Values{}
	form.Set(paramGrantType, r.PostForm.Get(paramGrantType))
	form.Set(paramUsername, username)
	form.Set(paramPassword, r.PostForm.Get(paramPassword))

	clientID := r.PostForm.Get(paramClientID)
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		id, secret, err := ParseBasicAuthorizationHeader(authHeader)
		if err != nil {
			p.logger.InfoContext(r.Context(), "invalid client authentication", "error", err)
			p.reject(w)
			return
		}
		clientID = id
		if secret != "" {
			form.Set(paramClientSecret, secret)
		}
	}
	if clientID == "" {
		clientID = p.clientID
	}
	form.Set(paramClientID, clientID)

	if scope, ok := r.PostForm[paramScope]; ok {
		form.Set(paramScope, strings.Join(scope, " "))
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, p.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		p.logger.ErrorContext(r.Context(), "error building token request", "error", err)
		p.reject(w)
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.ErrorContext(r.Context(), "error during token request", logging.Email("username", username), "error", err)
		p.reject(w)
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseSize))
	if err != nil {
		p.logger.ErrorContext(r.Context(), "error reading token response", logging.Email("username", username), "error", err)
		p.reject(w)
		return
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 || !json.Valid(body) {
		p.logger.InfoContext(r.Context(), "token request failed",
			logging.Email("username", username), "status", resp.StatusCode, "body", string(body))
		p.reject(w)
		return
	}

	p.logger.InfoContext(r.Context(), "token issued", logging.Email("username", username))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(resp.StatusCode)
	w.Write(body)
}

func (p *TokenProxy) reject(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteJSON(w, http.StatusUnauthorized, &invalidGrant)
}
