package store

import (
	"sync"

	"github.com/talentwire/go-auth-client/token"
)

// InMemoryRepo is a thread-safe in-memory implementation of the Repo
// interface. Tokens do not survive process restart; use FileRepo for that.
type InMemoryRepo struct {
	mu   sync.RWMutex
	pair token.Pair
}

// NewInMemoryRepo creates a new in-memory token store.
func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{}
}

func (r *InMemoryRepo) AccessToken() (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pair.AccessToken, nil
}

func (r *InMemoryRepo) RefreshToken() (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pair.RefreshToken, nil
}

func (r *InMemoryRepo) SetPair(pair token.Pair) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pair = pair
	return nil
}

func (r *InMemoryRepo) SetAccessToken(access string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pair.AccessToken = access
	return nil
}

func (r *InMemoryRepo) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pair = token.Pair{}
	return nil
}
