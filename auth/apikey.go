package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultAPIKeyHeader carries operator keys.
const DefaultAPIKeyHeader = "X-API-Key"

type keyEntry struct {
	id        string
	principal string
	roles     []string
	expiresAt time.Time
}

// KeyRing holds operator API keys by their SHA-256 digest. Plaintext keys
// are never retained.
type KeyRing struct {
	mu   sync.RWMutex
	keys map[string]keyEntry
}

// NewKeyRing returns an empty KeyRing.
func NewKeyRing() *KeyRing {
	return &KeyRing{keys: make(map[string]keyEntry)}
}

// Add registers key for principal. A zero expiresAt never expires.
func (r *KeyRing) Add(key, principal string, expiresAt time.Time, roles ...string) {
	digest := digestKey(key)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[digest] = keyEntry{
		id:        digest[:12],
		principal: principal,
		roles:     roles,
		expiresAt: expiresAt,
	}
}

// Revoke removes key. It reports whether the key was registered.
func (r *KeyRing) Revoke(key string) bool {
	digest := digestKey(key)
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.keys[digest]
	delete(r.keys, digest)
	return ok
}

// Len returns the number of registered keys.
func (r *KeyRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.keys)
}

func (r *KeyRing) lookup(key string) (keyEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.keys[digestKey(key)]
	return e, ok
}

func digestKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// APIKeyAuthenticator identifies operators by a key in a request header.
type APIKeyAuthenticator struct {
	header string
	ring   *KeyRing
	now    func() time.Time
}

// NewAPIKeyAuthenticator reads keys from header, DefaultAPIKeyHeader when
// empty, and checks them against ring.
func NewAPIKeyAuthenticator(header string, ring *KeyRing) *APIKeyAuthenticator {
	if header == "" {
		header = DefaultAPIKeyHeader
	}
	return &APIKeyAuthenticator{header: header, ring: ring, now: time.Now}
}

// Authenticate resolves the key in the configured header.
func (a *APIKeyAuthenticator) Authenticate(_ context.Context, h http.Header) (*Identity, error) {
	key := strings.TrimSpace(h.Get(a.header))
	if key == "" {
		return nil, ErrNoCredentials
	}

	e, ok := a.ring.lookup(key)
	if !ok {
		return nil, ErrInvalidCredentials
	}
	id := &Identity{
		Principal: e.principal,
		Roles:     e.roles,
		Method:    MethodAPIKey,
		ExpiresAt: e.expiresAt,
		Claims:    map[string]any{"key_id": e.id},
	}
	if id.ExpiredAt(a.now()) {
		return nil, ErrTokenExpired
	}
	return id, nil
}

var _ Authenticator = (*APIKeyAuthenticator)(nil)
