package auth

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	jose "github.com/go-jose/go-jose/v4"
	"github.com/pkg/errors"
	"github.com/visionboard/usermanagement/internal/config"
	"golang.org/x/sync/singleflight"
)

// ErrUnknownKey means the provider does not publish a key with the
// requested id.
var ErrUnknownKey = errors.New("unknown signing key")

// minRefreshInterval limits how often an unknown key id can force a fetch.
const minRefreshInterval = 10 * time.Second

// maxKeySetSize caps the size of a JWKS document.
const maxKeySetSize = 1 << 20

// KeyGetter returns the public key used to verify tokens signed with kid.
type KeyGetter interface {
	Key(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// jsonWebKeySet keeps its members raw so that one key go-jose cannot parse
// does not discard the rest of the set.
type jsonWebKeySet struct {
	Keys []json.RawMessage `json:"keys"`
}

// KeySet fetches the provider's signing keys from its JWKS endpoint and
// caches them by key id.
type KeySet struct {
	certsURL string
	client   *http.Client
	ttl      time.Duration
	logger   *slog.Logger

	cache *ristretto.Cache[string, *rsa.PublicKey]
	group singleflight.Group

	mu          sync.Mutex
	lastRefresh time.Time
	latest      map[string]*rsa.PublicKey
}

var _ KeyGetter = (*KeySet)(nil)

// NewKeySet creates a KeySet for the realm described by cfg. Keys are
// fetched lazily.
func NewKeySet(cfg *config.IdentityConfig, logger *slog.Logger) (*KeySet, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, *rsa.PublicKey]{
		NumCounters: 1000,
		MaxCost:     100,
		BufferItems: 64,
	})
	if err != nil {
		return nil, errors.Wrap(err, "error creating key cache")
	}

	ttl := cfg.JWKSCacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &KeySet{
		certsURL: cfg.CertsURL(),
		client:   &http.Client{Timeout: timeout},
		ttl:      ttl,
		logger:   logger,
		cache:    cache,
	}, nil
}

// Close releases the key cache.
func (ks *KeySet) Close() {
	ks.cache.Close()
}

// Key returns the cached key for kid, fetching the key set when the key is
// missing or expired.
func (ks *KeySet) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if key, ok := ks.cache.Get(kid); ok {
		return key, nil
	}

	if keys, ok := ks.recent(); ok {
		if key, ok := keys[kid]; ok {
			return key, nil
		}
		return nil, ErrUnknownKey
	}

	keys, err := ks.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	key, ok := keys[kid]
	if !ok {
		return nil, ErrUnknownKey
	}
	return key, nil
}

// Refresh downloads the key set and replaces the cached keys. Concurrent
// calls share a single request.
func (ks *KeySet) Refresh(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	ch := ks.group.DoChan("jwks", func() (interface{}, error) {
		// Detached so that one cancelled caller does not fail the others.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ks.client.Timeout+time.Second)
		defer cancel()
		return ks.fetch(fetchCtx)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(map[string]*rsa.PublicKey), nil
	}
}

// recent returns the last fetched keys if they are too fresh to refetch.
func (ks *KeySet) recent() (map[string]*rsa.PublicKey, bool) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if ks.latest == nil || time.Since(ks.lastRefresh) >= minRefreshInterval {
		return nil, false
	}
	return ks.latest, true
}

func (ks *KeySet) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ks.certsURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := ks.client.Do(req)
	if err != nil {
		ks.logger.ErrorContext(ctx, "error fetching signing keys", "url", ks.certsURL, "error", err)
		return nil, errors.Wrap(err, "error fetching signing keys")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		ks.logger.ErrorContext(ctx, "error fetching signing keys", "url", ks.certsURL, "status", resp.StatusCode)
		return nil, errors.Errorf("error fetching signing keys: status %d", resp.StatusCode)
	}

	var set jsonWebKeySet
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxKeySetSize)).Decode(&set); err != nil {
		return nil, errors.Wrap(err, "error decoding signing keys")
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, raw := range set.Keys {
		var jwk jose.JSONWebKey
		if err := jwk.UnmarshalJSON(raw); err != nil {
			ks.logger.WarnContext(ctx, "skipping invalid signing key", "error", err)
			continue
		}
		key, ok := signingKey(&jwk)
		if !ok {
			continue
		}
		keys[jwk.KeyID] = key
		ks.cache.SetWithTTL(jwk.KeyID, key, 1, ks.ttl)
	}
	ks.cache.Wait()

	ks.mu.Lock()
	ks.lastRefresh = time.Now()
	ks.latest = keys
	ks.mu.Unlock()

	ks.logger.DebugContext(ctx, "refreshed signing keys", "count", len(keys))
	return keys, nil
}

// signingKey returns the RSA verification key published in jwk. Encryption
// keys, other key types and keys without an id are not usable.
func signingKey(jwk *jose.JSONWebKey) (*rsa.PublicKey, bool) {
	if jwk.KeyID == "" || (jwk.Use != "" && jwk.Use != "sig") || !jwk.Valid() {
		return nil, false
	}
	key, ok := jwk.Key.(*rsa.PublicKey)
	return key, ok
}
