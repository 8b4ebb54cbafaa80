// Package auth authenticates back-office operators by API key.
//
// Keys are never stored in plain text: storage holds the hex HMAC-SHA256 of
// the key under a server-side pepper.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// ErrUnauthorized is returned for missing, unknown or revoked keys.
var ErrUnauthorized = errors.New("unauthorized")

// APIKeyInfo holds the identity and permission data for an API key.
type APIKeyInfo struct {
	ID        string
	KeyHash   string
	Name      string
	Scopes    []string
	Active    bool
	CreatedAt time.Time
}

// Repository stores API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
	Upsert(ctx context.Context, key *APIKeyInfo) error
}

// Hasher derives storage hashes from plain-text keys.
type Hasher struct {
	pepper []byte
}

// NewHasher returns a Hasher keyed by pepper.
func NewHasher(pepper []byte) Hasher {
	return Hasher{pepper: pepper}
}

func (h Hasher) sum(key string) []byte {
	mac := hmac.New(sha256.New, h.pepper)
	mac.Write([]byte(key))
	return mac.Sum(nil)
}

// Hash returns the hex-encoded HMAC-SHA256 of key.
func (h Hasher) Hash(key string) string {
	return hex.EncodeToString(h.sum(key))
}

// NewKey builds a key record for plain-text key.
func (h Hasher) NewKey(name, key string, scopes []string, now time.Time) *APIKeyInfo {
	return &APIKeyInfo{
		ID:        uuid.NewString(),
		KeyHash:   h.Hash(key),
		Name:      name,
		Scopes:    scopes,
		Active:    true,
		CreatedAt: now,
	}
}

// Authenticator resolves plain-text keys to their identities.
type Authenticator struct {
	keys   Repository
	hasher Hasher
}

// NewAuthenticator creates an Authenticator over keys.
func NewAuthenticator(keys Repository, pepper []byte) *Authenticator {
	return &Authenticator{keys: keys, hasher: NewHasher(pepper)}
}

// Authenticate returns the identity owning key. Any lookup failure, including
// infrastructure errors, is reported as ErrUnauthorized wrapping the cause.
func (a *Authenticator) Authenticate(ctx context.Context, key string) (*APIKeyInfo, error) {
	if key == "" {
		return nil, ErrUnauthorized
	}
	sum := a.hasher.sum(key)

	info, err := a.keys.FindByHash(ctx, hex.EncodeToString(sum))
	if err != nil {
		return nil, errors.Wrap(ErrUnauthorized, err.Error())
	}
	if !info.Active {
		return nil, ErrUnauthorized
	}

	// The repository matched on the hex string; compare the raw bytes in
	// constant time as well.
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil || subtle.ConstantTimeCompare(sum, stored) != 1 {
		return nil, ErrUnauthorized
	}
	return info, nil
}

type ctxKey struct{}

// WithKey stores the authenticated key in ctx.
func WithKey(ctx context.Context, info *APIKeyInfo) context.Context {
	return context.WithValue(ctx, ctxKey{}, info)
}

// FromContext returns the authenticated key stored by WithKey.
func FromContext(ctx context.Context) (*APIKeyInfo, bool) {
	info, ok := ctx.Value(ctxKey{}).(*APIKeyInfo)
	return info, ok
}
