package wager

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/novacasino/crash-engine/internal/ledger"
	"github.com/novacasino/crash-engine/internal/round"
)

// RoundInfo exposes the round clock's authoritative phase snapshot.
type RoundInfo interface {
	Snapshot() round.Snapshot
}

// AuditLog receives settlement events for downstream audit. A nil log
// is valid and skipped.
type AuditLog interface {
	WagerPlaced(w *Wager, balance int64)
	WagerCashedOut(w *Wager, payout int64)
	WagerLost(w *Wager)
}

// Registry tracks all wagers placed against the current round and is
// the serialization point for settlement. Locks are scoped per user,
// so contention across different users never serializes; the crash
// transition and a cash-out for the same wager are mutually exclusive
// through the same per-user lock, first arrival wins.
type Registry struct {
	ledger  *ledger.Ledger
	rounds  RoundInfo
	clock   clockwork.Clock
	audit   AuditLog
	onCount func(roundID uint64, open int)

	mu           sync.Mutex
	wagers       map[string]*Wager
	locks        map[string]*userLock
	lastResolved uint64
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

// NewRegistry creates a registry over the given ledger and round clock.
func NewRegistry(led *ledger.Ledger, rounds RoundInfo, clk clockwork.Clock) *Registry {
	return &Registry{
		ledger: led,
		rounds: rounds,
		clock:  clk,
		wagers: make(map[string]*Wager),
		locks:  make(map[string]*userLock),
	}
}

// SetAudit wires an optional audit log.
func (r *Registry) SetAudit(a AuditLog) {
	r.audit = a
}

// OnOpenCount registers a listener for the active-wager count of the
// current round, invoked after every place and settlement.
func (r *Registry) OnOpenCount(fn func(roundID uint64, open int)) {
	r.onCount = fn
}

func (r *Registry) acquire(userID string) *userLock {
	r.mu.Lock()
	ul := r.locks[userID]
	if ul == nil {
		ul = &userLock{}
		r.locks[userID] = ul
	}
	ul.refs++
	r.mu.Unlock()
	ul.mu.Lock()
	return ul
}

func (r *Registry) release(userID string, ul *userLock) {
	ul.mu.Unlock()
	r.mu.Lock()
	ul.refs--
	if ul.refs == 0 {
		delete(r.locks, userID)
	}
	r.mu.Unlock()
}

// Place records a wager against the currently waiting round. The ledger
// debit and the record are one unit: a failed debit records nothing,
// and a record that can no longer bind to the round refunds the stake.
func (r *Registry) Place(ctx context.Context, userID string, amount int64) (*Wager, int64, error) {
	if amount <= 0 {
		return nil, 0, ErrInvalidAmount
	}

	ul := r.acquire(userID)
	defer r.release(userID, ul)

	snap := r.rounds.Snapshot()
	if snap.Phase != round.PhaseWaiting {
		return nil, 0, ErrRoundNotAcceptingBets
	}

	r.mu.Lock()
	existing := r.wagers[userID]
	r.mu.Unlock()
	if existing != nil && existing.RoundID == snap.RoundID {
		return nil, 0, ErrWagerAlreadyOpen
	}

	balance, err := r.ledger.Debit(ctx, userID, amount)
	if err != nil {
		return nil, 0, err
	}

	w := &Wager{
		UserID:   userID,
		RoundID:  snap.RoundID,
		Amount:   amount,
		Status:   StatusOpen,
		PlacedAt: r.clock.Now(),
	}

	r.mu.Lock()
	if snap.RoundID <= r.lastResolved {
		// The round settled while the debit was in flight. Refund; if
		// even the refund fails, flag the user instead of guessing.
		r.mu.Unlock()
		if _, rerr := r.ledger.Credit(ctx, userID, amount); rerr != nil {
			r.ledger.FlagForReview(ctx, userID, "refund failed after late wager placement")
			return nil, 0, fmt.Errorf("refund after late placement: %w", rerr)
		}
		return nil, 0, ErrRoundNotAcceptingBets
	}
	r.wagers[userID] = w
	open := r.openCountLocked(snap.RoundID)
	r.mu.Unlock()

	r.notifyCount(snap.RoundID, open)
	if r.audit != nil {
		r.audit.WagerPlaced(w, balance)
	}
	log.Info().
		Str("user_id", userID).
		Uint64("round_id", snap.RoundID).
		Int64("amount", amount).
		Msg("wager placed")
	return w, balance, nil
}

// CashOut settles the user's open wager at the round's current
// multiplier, read from the authoritative clock at the instant of
// acceptance, never from the client. Runs under the per-user lock that
// also guards loss resolution, so a wager settles exactly once.
func (r *Registry) CashOut(ctx context.Context, userID string) (*Settlement, error) {
	ul := r.acquire(userID)
	defer r.release(userID, ul)

	r.mu.Lock()
	w := r.wagers[userID]
	r.mu.Unlock()
	if w == nil || w.Status != StatusOpen {
		return nil, ErrNoOpenWager
	}

	snap := r.rounds.Snapshot()
	if snap.Phase != round.PhaseRunning || snap.RoundID != w.RoundID {
		return nil, ErrRoundNotRunning
	}

	mult := snap.Multiplier
	payout := int64(math.Floor(float64(w.Amount) * mult))

	balance, err := r.ledger.Credit(ctx, userID, payout)
	if err != nil {
		// The wager stays open and resolves normally at round end; no
		// partial mutation is left behind.
		return nil, fmt.Errorf("credit payout: %w", err)
	}

	w.Status = StatusCashedOut
	w.CashOutMultiplier = mult
	w.SettledAt = r.clock.Now()

	r.mu.Lock()
	open := r.openCountLocked(w.RoundID)
	r.mu.Unlock()
	r.notifyCount(w.RoundID, open)
	if r.audit != nil {
		r.audit.WagerCashedOut(w, payout)
	}
	log.Info().
		Str("user_id", userID).
		Uint64("round_id", w.RoundID).
		Float64("multiplier", mult).
		Int64("payout", payout).
		Msg("wager cashed out")

	return &Settlement{
		UserID:     userID,
		RoundID:    w.RoundID,
		Amount:     w.Amount,
		Multiplier: mult,
		Payout:     payout,
		Profit:     payout - w.Amount,
		Balance:    balance,
	}, nil
}

// ResolveRoundLosses transitions every still-open wager of the round to
// lost. Invoked once per round by the clock after the phase flip to
// crashed; stakes were debited at placement, so there is no ledger
// effect.
func (r *Registry) ResolveRoundLosses(roundID uint64) int {
	r.mu.Lock()
	if roundID > r.lastResolved {
		r.lastResolved = roundID
	}
	var users []string
	for id, w := range r.wagers {
		if w.RoundID == roundID {
			users = append(users, id)
		}
	}
	r.mu.Unlock()

	lost := 0
	for _, id := range users {
		ul := r.acquire(id)
		r.mu.Lock()
		w := r.wagers[id]
		r.mu.Unlock()
		if w != nil && w.RoundID == roundID && w.Status == StatusOpen {
			w.Status = StatusLost
			w.SettledAt = r.clock.Now()
			lost++
			if r.audit != nil {
				r.audit.WagerLost(w)
			}
		}
		r.release(id, ul)
	}

	r.notifyCount(roundID, 0)
	log.Info().Uint64("round_id", roundID).Int("lost", lost).Msg("round losses resolved")
	return lost
}

// ActiveWagerCount returns the number of open wagers for the round.
func (r *Registry) ActiveWagerCount(roundID uint64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.openCountLocked(roundID)
}

// Lookup returns a copy of the user's most recent wager, if any.
func (r *Registry) Lookup(userID string) (Wager, bool) {
	r.mu.Lock()
	w := r.wagers[userID]
	r.mu.Unlock()
	if w == nil {
		return Wager{}, false
	}
	ul := r.acquire(userID)
	cp := *w
	r.release(userID, ul)
	return cp, true
}

func (r *Registry) openCountLocked(roundID uint64) int {
	n := 0
	for _, w := range r.wagers {
		if w.RoundID == roundID && w.Status == StatusOpen {
			n++
		}
	}
	return n
}

func (r *Registry) notifyCount(roundID uint64, open int) {
	if r.onCount != nil {
		r.onCount(roundID, open)
	}
}
