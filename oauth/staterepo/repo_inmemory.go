package staterepo

import (
	"errors"
	"sync"
	"time"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// DefaultTTL bounds how long an initiated flow stays consumable. A user
// who walks away mid-consent should not leave a live CSRF nonce behind.
const DefaultTTL = 10 * time.Minute

// InMemoryRepo is a thread-safe single-flow implementation of Repo.
type InMemoryRepo struct {
	mu   sync.RWMutex
	flow *FlowState
	ttl  time.Duration
}

// NewInMemoryRepo creates an in-memory flow state store with DefaultTTL.
func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{ttl: DefaultTTL}
}

// Save stores the flow, replacing any previous one.
func (r *InMemoryRepo) Save(flow *FlowState) error {
	if flow == nil {
		return errors.New("flow cannot be nil")
	}
	if flow.State == "" {
		return errors.New("flow state cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *flow
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = NowTimeFunc()
	}
	r.flow = &copied
	return nil
}

// Consume atomically returns the current flow and clears it. Returns
// (nil, nil) when there is none or it has expired.
func (r *InMemoryRepo) Consume() (*FlowState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	flow := r.flow
	r.flow = nil
	if flow == nil || r.expired(flow) {
		return nil, nil
	}
	return flow, nil
}

// Current returns the current flow without consuming it, or (nil, nil).
func (r *InMemoryRepo) Current() (*FlowState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.flow == nil || r.expired(r.flow) {
		return nil, nil
	}
	copied := *r.flow
	return &copied, nil
}

// Clear removes any stored flow.
func (r *InMemoryRepo) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flow = nil
	return nil
}

func (r *InMemoryRepo) expired(flow *FlowState) bool {
	return NowTimeFunc().Sub(flow.CreatedAt) > r.ttl
}
