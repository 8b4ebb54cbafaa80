package memory

import (
	"context"
	"slices"

	"github.com/xenking/backoffice/internal/domain/auth"
	"github.com/xenking/backoffice/internal/domain/errs"
)

var _ auth.Repository = (*APIKeyRepository)(nil)

// APIKeyRepository stores API keys in a Store, keyed by hash.
type APIKeyRepository struct {
	s *Store
}

func (r *APIKeyRepository) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	k, ok := r.s.apiKeys[hash]
	if !ok {
		return nil, errs.NotFound("api key", "")
	}
	k.Scopes = slices.Clone(k.Scopes)
	return &k, nil
}

func (r *APIKeyRepository) Upsert(_ context.Context, key *auth.APIKeyInfo) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	k := *key
	k.Scopes = slices.Clone(key.Scopes)
	r.s.apiKeys[key.KeyHash] = k
	return nil
}
