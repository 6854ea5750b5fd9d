package billing

import (
	"context"
	"sync"
)

// MemoryStore is an in-process CreditStore for local development and tests.
type MemoryStore struct {
	mu       sync.Mutex
	balances map[string]int64
}

var _ CreditStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{balances: make(map[string]int64)}
}

// Grant adds units to a user's balance, creating the user if needed.
func (s *MemoryStore) Grant(userID string, units int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] += units
}

func (s *MemoryStore) CanAfford(_ context.Context, userID string, units int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[userID] >= units, nil
}

func (s *MemoryStore) Debit(_ context.Context, userID string, units int64) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	balance := s.balances[userID]
	if balance < units {
		return nil, ErrInsufficientFunds
	}
	balance -= units
	s.balances[userID] = balance
	return &Profile{UserID: userID, Credits: balance}, nil
}
