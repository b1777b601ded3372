package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/pkg/errors"
	"github.com/visionboard/usermanagement/internal/config"
	"github.com/visionboard/usermanagement/internal/logging"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// accountSource tags accounts created through this service.
const accountSource = "backend-api"

// maxErrorBody caps how much of a provider error body is kept for logs.
const maxErrorBody = 4 << 10

type credential struct {
	Type      string `json:"type"`
	Value     string `json:"value"`
	Temporary bool   `json:"temporary"`
}

type userRepresentation struct {
	Username      string              `json:"username"`
	Email         string              `json:"email"`
	FirstName     string              `json:"firstName"`
	LastName      string              `json:"lastName"`
	Enabled       bool                `json:"enabled"`
	EmailVerified bool                `json:"emailVerified"`
	Attributes    map[string][]string `json:"attributes,omitempty"`
	Credentials   []credential        `json:"credentials,omitempty"`
}

// Keycloak talks to the Keycloak admin REST API of a single realm. Calls are
// authenticated with a service account token obtained through the OAuth 2.0
// client credentials grant.
type Keycloak struct {
	adminURL string
	client   *http.Client
	logger   *slog.Logger
}

var _ Provider = (*Keycloak)(nil)

// NewKeycloak creates a client for the realm described by cfg.
func NewKeycloak(cfg *config.IdentityConfig, logger *slog.Logger) *Keycloak {
	cc := &clientcredentials.Config{
		ClientID:     cfg.Admin.ClientID,
		ClientSecret: cfg.Admin.ClientSecret,
		TokenURL:     cfg.TokenURL(),
		AuthStyle:    oauth2.AuthStyleInParams,
	}

	base := &http.Client{Timeout: cfg.Timeout}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	client := cc.Client(ctx)
	client.Timeout = cfg.Timeout

	return &Keycloak{
		adminURL: cfg.AdminURL(),
		client:   client,
		logger:   logger,
	}
}

// CreateAccount creates the user with a permanent password credential. The
// new identifier is taken from the Location header of the response.
func (kc *Keycloak) CreateAccount(ctx context.Context, account NewAccount) (string, error) {
	const op = "create account"

	kc.logger.InfoContext(ctx, "creating identity provider account", logging.Email("email", account.Email))

	user := userRepresentation{
		Username:      account.Email,
		Email:         account.Email,
		FirstName:     account.FirstName,
		LastName:      account.LastName,
		Enabled:       true,
		EmailVerified: false,
		Attributes:    map[string][]string{"source": {accountSource}},
		Credentials: []credential{
			{Type: "password", Value: account.Password, Temporary: false},
		},
	}

	resp, body, err := kc.do(ctx, http.MethodPost, kc.adminURL+"/users", user)
	if err != nil {
		return "", kc.fail(ctx, op, 0, "", err)
	}
	if resp.StatusCode != http.StatusCreated {
		return "", kc.fail(ctx, op, resp.StatusCode, string(body), nil)
	}

	location := resp.Header.Get("Location")
	id := path.Base(strings.TrimRight(location, "/"))
	if location == "" || id == "." || id == "/" {
		return "", kc.fail(ctx, op, resp.StatusCode, "missing Location header", ErrUnavailable)
	}

	kc.logger.InfoContext(ctx, "created identity provider account", "user_id", id)
	return id, nil
}

// FindByID returns the account with the given identifier.
func (kc *Keycloak) FindByID(ctx context.Context, id string) (*Account, error) {
	const op = "find account"

	resp, body, err := kc.do(ctx, http.MethodGet, kc.adminURL+"/users/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, kc.fail(ctx, op, 0, "", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, kc.fail(ctx, op, resp.StatusCode, string(body), nil)
	}

	var account Account
	if err := json.Unmarshal(body, &account); err != nil {
		return nil, kc.fail(ctx, op, resp.StatusCode, "invalid account body", ErrUnavailable)
	}
	return &account, nil
}

// ExistsByEmail searches for an exact email match. Any failure is logged and
// reported as "not found".
func (kc *Keycloak) ExistsByEmail(ctx context.Context, email string) bool {
	query := url.Values{}
	query.Set("email", email)
	query.Set("exact", "true")

	resp, body, err := kc.do(ctx, http.MethodGet, kc.adminURL+"/users?"+query.Encode(), nil)
	if err != nil {
		kc.logger.ErrorContext(ctx, "error checking account existence", logging.Email("email", email), "error", err)
		return false
	}
	if resp.StatusCode != http.StatusOK {
		kc.logger.ErrorContext(ctx, "error checking account existence",
			logging.Email("email", email), "status", resp.StatusCode, "body", string(body))
		return false
	}

	var accounts []Account
	if err := json.Unmarshal(body, &accounts); err != nil {
		kc.logger.ErrorContext(ctx, "error decoding account search", logging.Email("email", email), "error", err)
		return false
	}
	return len(accounts) > 0
}

// DeleteAccount removes the account; a missing account is not an error.
func (kc *Keycloak) DeleteAccount(ctx context.Context, id string) error {
	const op = "delete account"

	resp, body, err := kc.do(ctx, http.MethodDelete, kc.adminURL+"/users/"+url.PathEscape(id), nil)
	if err != nil {
		return kc.fail(ctx, op, 0, "", err)
	}
	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK, http.StatusNotFound:
		return nil
	}
	return kc.fail(ctx, op, resp.StatusCode, string(body), nil)
}

func (kc *Keycloak) do(ctx context.Context, method, uri string, payload interface{}) (*http.Response, []byte, error) {
	var reqBody io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, nil, err
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, uri, reqBody)
	if err != nil {
		return nil, nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := kc.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody*16))
	if err != nil {
		return nil, nil, errors.Wrap(err, "error reading response body")
	}
	return resp, body, nil
}

// fail builds and logs the provider error for a call. A non-nil cause
// without status is a transport failure, so the outcome is unknown.
func (kc *Keycloak) fail(ctx context.Context, op string, status int, body string, cause error) error {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}

	var sentinel error
	switch {
	case status == 0:
		sentinel = ErrUnavailable
		if cause != nil {
			body = cause.Error()
		}
	case cause != nil:
		sentinel = cause
	case status == http.StatusConflict:
		sentinel = ErrConflict
	case status == http.StatusNotFound:
		sentinel = ErrNotFound
	case status >= 500:
		sentinel = ErrUnavailable
	default:
		sentinel = ErrRejected
	}

	err := &Error{Op: op, StatusCode: status, Body: body, Err: sentinel}
	kc.logger.ErrorContext(ctx, "identity provider call failed",
		"op", op, "status", status, "error", sentinel, "body", body)
	return err
}
