// Package secretstore implements the Secret Store (C1, spec §6.4):
// opaque named-secret retrieval with a caller-side TTL cache in front of a
// pluggable backing Provider.
package secretstore

import (
	"context"
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// ErrNotFound is returned when name has no value in the backing provider.
var ErrNotFound = errors.New("secretstore: not found")

// Provider is the backing source a Store reads through on a cache miss.
type Provider interface {
	FetchSecret(ctx context.Context, name string) ([]byte, error)
}

// Store is core.SecretStore with a TTL cache in front, grounded on
// hashicorp/golang-lru/v2's expirable cache (present in cklxx-elephant.ai
// and jaakkos-stringwork).
type Store struct {
	cache    *lru.LRU[string, []byte]
	provider Provider
}

// New builds a Store with the given cache size and TTL.
func New(provider Provider, size int, ttl time.Duration) *Store {
	return &Store{
		cache:    lru.NewLRU[string, []byte](size, nil, ttl),
		provider: provider,
	}
}

// SecretGet implements core.SecretStore.
func (s *Store) SecretGet(ctx context.Context, name string) ([]byte, bool, error) {
	if v, ok := s.cache.Get(name); ok {
		return v, true, nil
	}
	v, err := s.provider.FetchSecret(ctx, name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	s.cache.Add(name, v)
	return v, true, nil
}
