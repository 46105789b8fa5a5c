package ledger

import (
	"context"
	"sync"
)

// MemoryStore keeps balances in memory. Used for development and tests;
// production runs the Postgres store.
type MemoryStore struct {
	signupBonus int64

	mu       sync.RWMutex
	balances map[string]int64
	flags    map[string]string
}

// NewMemoryStore returns an empty store that seeds new accounts with
// the given signup bonus.
func NewMemoryStore(signupBonus int64) *MemoryStore {
	return &MemoryStore{
		signupBonus: signupBonus,
		balances:    make(map[string]int64),
		flags:       make(map[string]string),
	}
}

func (s *MemoryStore) EnsureAccount(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.balances[userID]; !ok {
		s.balances[userID] = s.signupBonus
	}
	return nil
}

func (s *MemoryStore) Balance(_ context.Context, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[userID], nil
}

func (s *MemoryStore) ApplyDebit(_ context.Context, userID string, amount int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.balances[userID]
	if !ok || b < amount {
		return 0, ErrInsufficientFunds
	}
	b -= amount
	s.balances[userID] = b
	return b, nil
}

func (s *MemoryStore) ApplyCredit(_ context.Context, userID string, amount int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.balances[userID] + amount
	s.balances[userID] = b
	return b, nil
}

func (s *MemoryStore) FlagForReview(_ context.Context, userID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags[userID] = reason
	return nil
}

// Flagged reports whether a user carries a reconciliation flag.
func (s *MemoryStore) Flagged(userID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reason, ok := s.flags[userID]
	return reason, ok
}
