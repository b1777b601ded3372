package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/visionboard/usermanagement/internal/config"
	"github.com/visionboard/usermanagement/internal/logging"
)

const (
	testRealm      = "visionboard"
	testToken      = "admin-access-token"
	testAccountID  = "2b0b5bb4-8c8e-4b55-9a7e-0f1f8b7bd2a1"
	testAdminPath  = "/admin/realms/" + testRealm
	testTokenPath  = "/realms/" + testRealm + "/protocol/openid-connect/token"
	testClientID   = "backend"
	testClientSecr = "secret"
)

type keycloakTestSuite struct {
	suite.Suite
	srv        *httptest.Server
	kc         *Keycloak
	tokenCalls int32

	// Handlers swapped in by individual tests.
	createUser http.HandlerFunc
	getUser    http.HandlerFunc
	searchUser http.HandlerFunc
	deleteUser http.HandlerFunc
}

func (suite *keycloakTestSuite) SetupTest() {
	r := mux.NewRouter()
	r.HandleFunc(testTokenPath, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&suite.tokenCalls, 1)
		if err := r.ParseForm(); err != nil ||
			r.PostForm.Get("grant_type") != "client_credentials" ||
			r.PostForm.Get("client_id") != testClientID ||
			r.PostForm.Get("client_secret") != testClientSecr {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"` + testToken + `","token_type":"bearer","expires_in":300}`))
	}).Methods(http.MethodPost)

	authorized := func(h *http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer "+testToken {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			(*h)(w, r)
		}
	}
	r.HandleFunc(testAdminPath+"/users", authorized(&suite.createUser)).Methods(http.MethodPost)
	r.HandleFunc(testAdminPath+"/users", authorized(&suite.searchUser)).Methods(http.MethodGet)
	r.HandleFunc(testAdminPath+"/users/{id}", authorized(&suite.getUser)).Methods(http.MethodGet)
	r.HandleFunc(testAdminPath+"/users/{id}", authorized(&suite.deleteUser)).Methods(http.MethodDelete)

	suite.srv = httptest.NewServer(r)
	suite.tokenCalls = 0

	cfg := &config.IdentityConfig{
		URL:     suite.srv.URL,
		Realm:   testRealm,
		Timeout: 5 * time.Second,
	}
	cfg.Admin.ClientID = testClientID
	cfg.Admin.ClientSecret = testClientSecr
	suite.kc = NewKeycloak(cfg, logging.Discard())
}

func (suite *keycloakTestSuite) TearDownTest() {
	suite.srv.Close()
}

func TestKeycloakTestSuite(t *testing.T) {
	suite.Run(t, new(keycloakTestSuite))
}

func (suite *keycloakTestSuite) TestCreateAccount() {
	t := suite.T()

	var got userRepresentation
	suite.createUser = func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Location", suite.srv.URL+testAdminPath+"/users/"+testAccountID)
		w.WriteHeader(http.StatusCreated)
	}

	id, err := suite.kc.CreateAccount(context.Background(), NewAccount{
		Email:     "test@example.com",
		Password:  "SecureP@ss123",
		FirstName: "Test",
		LastName:  "User",
	})
	require.NoError(t, err)
	assert.Equal(t, testAccountID, id)

	assert.Equal(t, "test@example.com", got.Username)
	assert.Equal(t, "test@example.com", got.Email)
	assert.Equal(t, "Test", got.FirstName)
	assert.Equal(t, "User", got.LastName)
	assert.True(t, got.Enabled)
	assert.False(t, got.EmailVerified)
	assert.Equal(t, []string{"backend-api"}, got.Attributes["source"])
	require.Len(t, got.Credentials, 1)
	assert.Equal(t, "password", got.Credentials[0].Type)
	assert.Equal(t, "SecureP@ss123", got.Credentials[0].Value)
	assert.False(t, got.Credentials[0].Temporary)
}

func (suite *keycloakTestSuite) TestCreateAccountErrors() {
	t := suite.T()

	tt := []struct {
		name   string
		status int
		want   error
	}{
		{name: "conflict", status: http.StatusConflict, want: ErrConflict},
		{name: "bad request", status: http.StatusBadRequest, want: ErrRejected},
		{name: "forbidden", status: http.StatusForbidden, want: ErrRejected},
		{name: "server error", status: http.StatusInternalServerError, want: ErrUnavailable},
		{name: "created without location", status: http.StatusCreated, want: ErrUnavailable},
	}

	for _, test := range tt {
		t.Run(test.name, func(t *testing.T) {
			suite.createUser = func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(test.status)
				if test.status != http.StatusCreated {
					w.Write([]byte(`{"errorMessage":"User exists with same username"}`))
				}
			}

			_, err := suite.kc.CreateAccount(context.Background(), NewAccount{Email: "test@example.com"})
			require.ErrorIs(t, err, test.want)

			var providerErr *Error
			require.True(t, errors.As(err, &providerErr))
			assert.Equal(t, test.status, providerErr.StatusCode)
		})
	}
}

func (suite *keycloakTestSuite) TestCreateAccountUnreachable() {
	t := suite.T()
	suite.srv.Close()

	_, err := suite.kc.CreateAccount(context.Background(), NewAccount{Email: "test@example.com"})
	require.ErrorIs(t, err, ErrUnavailable)
}

func (suite *keycloakTestSuite) TestTokenIsReused() {
	t := suite.T()

	suite.createUser = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/users/"+testAccountID)
		w.WriteHeader(http.StatusCreated)
	}

	for i := 0; i < 3; i++ {
		_, err := suite.kc.CreateAccount(context.Background(), NewAccount{Email: "test@example.com"})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&suite.tokenCalls))
}

func (suite *keycloakTestSuite) TestFindByID() {
	t := suite.T()

	suite.getUser = func(w http.ResponseWriter, r *http.Request) {
		if mux.Vars(r)["id"] != testAccountID {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(Account{
			ID:        testAccountID,
			Username:  "test@example.com",
			Email:     "test@example.com",
			FirstName: "Test",
			LastName:  "User",
			Enabled:   true,
		})
	}

	account, err := suite.kc.FindByID(context.Background(), testAccountID)
	require.NoError(t, err)
	assert.Equal(t, testAccountID, account.ID)
	assert.Equal(t, "test@example.com", account.Email)
	assert.True(t, account.Enabled)

	_, err = suite.kc.FindByID(context.Background(), "unknown")
	require.ErrorIs(t, err, ErrNotFound)
}

func (suite *keycloakTestSuite) TestExistsByEmail() {
	t := suite.T()

	suite.searchUser = func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		require.Equal(t, "true", query.Get("exact"))
		if query.Get("email") == "test@example.com" {
			w.Write([]byte(`[{"id":"` + testAccountID + `","email":"test@example.com"}]`))
			return
		}
		w.Write([]byte(`[]`))
	}

	assert.True(t, suite.kc.ExistsByEmail(context.Background(), "test@example.com"))
	assert.False(t, suite.kc.ExistsByEmail(context.Background(), "other@example.com"))

	// Provider failures read as "not found".
	suite.searchUser = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}
	assert.False(t, suite.kc.ExistsByEmail(context.Background(), "test@example.com"))
}

func (suite *keycloakTestSuite) TestDeleteAccount() {
	t := suite.T()

	var deleted []string
	suite.deleteUser = func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		switch id {
		case testAccountID:
			deleted = append(deleted, id)
			w.WriteHeader(http.StatusNoContent)
		case "gone":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}

	require.NoError(t, suite.kc.DeleteAccount(context.Background(), testAccountID))
	assert.Equal(t, []string{testAccountID}, deleted)

	require.NoError(t, suite.kc.DeleteAccount(context.Background(), "gone"))

	err := suite.kc.DeleteAccount(context.Background(), "broken")
	require.ErrorIs(t, err, ErrUnavailable)
}

func (suite *keycloakTestSuite) TestLogsRedactEmail() {
	t := suite.T()

	var buf bytes.Buffer
	suite.kc.logger = logging.NewWithWriter(&buf, &config.LogConfig{Level: "debug", Format: "json"})

	suite.createUser = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", suite.srv.URL+testAdminPath+"/users/"+testAccountID)
		w.WriteHeader(http.StatusCreated)
	}
	suite.searchUser = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}

	_, err := suite.kc.CreateAccount(context.Background(), NewAccount{
		Email:     "jane.doe@example.com",
		Password:  "SecureP@ss123",
		FirstName: "Jane",
		LastName:  "Doe",
	})
	require.NoError(t, err)
	assert.False(t, suite.kc.ExistsByEmail(context.Background(), "jane.doe@example.com"))

	assert.NotContains(t, buf.String(), "jane.doe@example.com")
	assert.NotContains(t, buf.String(), "SecureP@ss123")
	assert.Contains(t, buf.String(), "j***@example.com")
	assert.Contains(t, buf.String(), testAccountID)
}
