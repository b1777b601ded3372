package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/visionboard/usermanagement/internal/config"
	"github.com/visionboard/usermanagement/internal/logging"
)

const testRealm = "visionboard"

// testProvider serves a realm JWKS and signs tokens with its keys.
type testProvider struct {
	t       *testing.T
	srv     *httptest.Server
	fetches int32

	mu   sync.Mutex
	keys map[string]*rsa.PrivateKey
	down bool
}

func newTestProvider(t *testing.T) *testProvider {
	p := &testProvider{t: t, keys: make(map[string]*rsa.PrivateKey)}
	p.addKey("key-1")

	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/realms/"+testRealm+"/protocol/openid-connect/certs" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		atomic.AddInt32(&p.fetches, 1)

		p.mu.Lock()
		defer p.mu.Unlock()
		if p.down {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		var set struct {
			Keys []interface{} `json:"keys"`
		}
		for kid, key := range p.keys {
			set.Keys = append(set.Keys, &jose.JSONWebKey{
				Key:       &key.PublicKey,
				KeyID:     kid,
				Algorithm: "RS256",
				Use:       "sig",
			})
		}
		// Keys for other purposes and unparsable keys are ignored.
		set.Keys = append(set.Keys,
			map[string]string{"kid": "enc", "kty": "RSA", "use": "enc", "n": "AQAB", "e": "AQAB"},
			map[string]string{"kid": "ec", "kty": "EC"},
			map[string]string{"kid": "bad", "kty": "RSA", "use": "sig", "n": "!!", "e": "AQAB"},
		)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *testProvider) addKey(kid string) *rsa.PrivateKey {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(p.t, err)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys[kid] = key
	return key
}

func (p *testProvider) setDown(down bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.down = down
}

func (p *testProvider) config() *config.IdentityConfig {
	return &config.IdentityConfig{
		URL:          p.srv.URL,
		Realm:        testRealm,
		Timeout:      5 * time.Second,
		JWKSCacheTTL: time.Minute,
	}
}

func (p *testProvider) issuer() string {
	return p.config().Issuer()
}

// sign issues a token signed by the key with the given id.
func (p *testProvider) sign(kid string, claims jwt.Claims) string {
	p.mu.Lock()
	key := p.keys[kid]
	p.mu.Unlock()
	require.NotNil(p.t, key, "no key %s", kid)

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	require.NoError(p.t, err)
	return signed
}

func (p *testProvider) keySet() *KeySet {
	ks, err := NewKeySet(p.config(), logging.Discard())
	require.NoError(p.t, err)
	p.t.Cleanup(ks.Close)
	return ks
}

func TestKeySet(t *testing.T) {
	p := newTestProvider(t)
	ks := p.keySet()

	key, err := ks.Key(context.Background(), "key-1")
	require.NoError(t, err)
	assert.Equal(t, p.keys["key-1"].PublicKey.N, key.N)
	assert.Equal(t, p.keys["key-1"].PublicKey.E, key.E)

	// Served from cache.
	_, err = ks.Key(context.Background(), "key-1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&p.fetches))

	for _, kid := range []string{"enc", "ec", "bad", "missing"} {
		_, err = ks.Key(context.Background(), kid)
		require.ErrorIs(t, err, ErrUnknownKey, kid)
	}
	// Unknown ids right after a fetch do not hit the provider again.
	assert.Equal(t, int32(1), atomic.LoadInt32(&p.fetches))
}

func TestKeySetRotation(t *testing.T) {
	p := newTestProvider(t)
	ks := p.keySet()

	_, err := ks.Key(context.Background(), "key-1")
	require.NoError(t, err)

	p.addKey("key-2")
	keys, err := ks.Refresh(context.Background())
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	key, err := ks.Key(context.Background(), "key-2")
	require.NoError(t, err)
	assert.Equal(t, p.keys["key-2"].PublicKey.N, key.N)
}

func TestKeySetConcurrentRefresh(t *testing.T) {
	p := newTestProvider(t)
	ks := p.keySet()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ks.Key(context.Background(), "key-1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Requests that raced the first fetch share it; later ones hit the cache.
	assert.LessOrEqual(t, atomic.LoadInt32(&p.fetches), int32(3))
}

func TestKeySetProviderDown(t *testing.T) {
	p := newTestProvider(t)
	p.setDown(true)
	ks := p.keySet()

	_, err := ks.Key(context.Background(), "key-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownKey)

	p.setDown(false)
	_, err = ks.Key(context.Background(), "key-1")
	require.NoError(t, err)
}

func TestSigningKey(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tt := []struct {
		name string
		jwk  jose.JSONWebKey
		want bool
	}{
		{name: "Signing key", jwk: jose.JSONWebKey{Key: &rsaKey.PublicKey, KeyID: "a", Use: "sig"}, want: true},
		{name: "No use", jwk: jose.JSONWebKey{Key: &rsaKey.PublicKey, KeyID: "a"}, want: true},
		{name: "Encryption key", jwk: jose.JSONWebKey{Key: &rsaKey.PublicKey, KeyID: "a", Use: "enc"}},
		{name: "No key id", jwk: jose.JSONWebKey{Key: &rsaKey.PublicKey, Use: "sig"}},
		{name: "EC key", jwk: jose.JSONWebKey{Key: &ecKey.PublicKey, KeyID: "a", Use: "sig"}},
		{name: "Private key", jwk: jose.JSONWebKey{Key: rsaKey, KeyID: "a", Use: "sig"}},
		{name: "Empty key", jwk: jose.JSONWebKey{Key: &rsa.PublicKey{}, KeyID: "a", Use: "sig"}},
	}

	for _, test := range tt {
		t.Run(test.name, func(t *testing.T) {
			key, ok := signingKey(&test.jwk)
			require.Equal(t, test.want, ok)
			if test.want {
				assert.Equal(t, rsaKey.PublicKey.N, key.N)
				assert.Equal(t, rsaKey.PublicKey.E, key.E)
			}
		})
	}
}

func TestKeySetParsesProviderDocument(t *testing.T) {
	// Shape of a realm certs response, including the encryption key the
	// provider publishes next to the signing key.
	const doc = `{"keys":[
		{"kid":"sig-1","kty":"RSA","alg":"RS256","use":"sig",
		 "n":"sXchDaQebHnPiGvyDOAT4saGEUetSyo9MKLOoWFsueri23bOdgWp4Dy1WlUzewbgBHod5pcM9H95GQRV3JDXboIRROSBigeC5yjU1hGzHHyXss8UDprecbAYxknTcQkhslANGRUZmdTOQ5qTRsLAt6BTYuyvVRdhS8exSZEy_c4gs_7svlJJQ4H9_NxsiIoLwAEk7-Q3UXERGYw_75IDrGA84-lA_-Ct4eTlXHBIY2EaV7t7LjJaynVJCpkv4LKjTTAumiGUIuQhrNhZLuF_RJLqHpM2kgWFLU7-VTdL1VbC2tejvcI2BlMkEpk1BzBZI0KQB0GaDWFLN-aEAw3vRw",
		 "e":"AQAB"},
		{"kid":"enc-1","kty":"RSA","alg":"RSA-OAEP","use":"enc","n":"AQAB","e":"AQAB"}
	]}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(doc))
	}))
	defer srv.Close()

	ks, err := NewKeySet(&config.IdentityConfig{URL: srv.URL, Realm: testRealm}, logging.Discard())
	require.NoError(t, err)
	defer ks.Close()

	keys, err := ks.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, keys, 1)
	require.Contains(t, keys, "sig-1")
	assert.Equal(t, 65537, keys["sig-1"].E)
	assert.Equal(t, 2048, keys["sig-1"].N.BitLen())
}
