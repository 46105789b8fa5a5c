package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrInsufficientFunds rejects a debit that would drive a balance
// negative. Balances are never clamped.
var ErrInsufficientFunds = errors.New("insufficient funds")

// Store persists balances. A mutation must be durable before the call
// returns success.
type Store interface {
	EnsureAccount(ctx context.Context, userID string) error
	Balance(ctx context.Context, userID string) (int64, error)
	ApplyDebit(ctx context.Context, userID string, amount int64) (int64, error)
	ApplyCredit(ctx context.Context, userID string, amount int64) (int64, error)
	FlagForReview(ctx context.Context, userID, reason string) error
}

// Ledger is the single source of truth for money movement. Mutations
// for one user are serialized; different users never contend.
type Ledger struct {
	store  Store
	onFlag func(userID, reason string)

	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

// New creates a ledger over the given store.
func New(store Store) *Ledger {
	return &Ledger{
		store: store,
		locks: make(map[string]*userLock),
	}
}

// OnFlag registers a hook invoked whenever a user is flagged for manual
// reconciliation, in addition to the store-side flag.
func (l *Ledger) OnFlag(fn func(userID, reason string)) {
	l.onFlag = fn
}

func (l *Ledger) acquire(userID string) *userLock {
	l.mu.Lock()
	ul := l.locks[userID]
	if ul == nil {
		ul = &userLock{}
		l.locks[userID] = ul
	}
	ul.refs++
	l.mu.Unlock()
	ul.mu.Lock()
	return ul
}

func (l *Ledger) release(userID string, ul *userLock) {
	ul.mu.Unlock()
	l.mu.Lock()
	ul.refs--
	if ul.refs == 0 {
		delete(l.locks, userID)
	}
	l.mu.Unlock()
}

// EnsureAccount creates the user's account on first sight, applying the
// store's signup bonus. Idempotent.
func (l *Ledger) EnsureAccount(ctx context.Context, userID string) error {
	ul := l.acquire(userID)
	defer l.release(userID, ul)
	return l.store.EnsureAccount(ctx, userID)
}

// Balance returns the user's current balance.
func (l *Ledger) Balance(ctx context.Context, userID string) (int64, error) {
	return l.store.Balance(ctx, userID)
}

// Debit removes amount from the user's balance and returns the new
// balance. Returns ErrInsufficientFunds when the balance would go
// negative.
func (l *Ledger) Debit(ctx context.Context, userID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("debit amount must be positive, got %d", amount)
	}
	ul := l.acquire(userID)
	defer l.release(userID, ul)

	balance, err := l.store.ApplyDebit(ctx, userID, amount)
	if err != nil {
		return 0, err
	}
	log.Debug().Str("user_id", userID).Int64("amount", amount).Int64("balance", balance).Msg("debit applied")
	return balance, nil
}

// Credit adds amount to the user's balance and returns the new balance.
func (l *Ledger) Credit(ctx context.Context, userID string, amount int64) (int64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("credit amount must not be negative, got %d", amount)
	}
	ul := l.acquire(userID)
	defer l.release(userID, ul)

	balance, err := l.store.ApplyCredit(ctx, userID, amount)
	if err != nil {
		return 0, err
	}
	log.Debug().Str("user_id", userID).Int64("amount", amount).Int64("balance", balance).Msg("credit applied")
	return balance, nil
}

// FlagForReview marks a user's state for manual reconciliation. Used
// when a rollback fails and the true balance cannot be derived safely.
func (l *Ledger) FlagForReview(ctx context.Context, userID, reason string) {
	log.Error().Str("user_id", userID).Str("reason", reason).Msg("user flagged for manual reconciliation")
	if err := l.store.FlagForReview(ctx, userID, reason); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("failed to persist reconciliation flag")
	}
	if l.onFlag != nil {
		l.onFlag(userID, reason)
	}
}
