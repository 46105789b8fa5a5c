package round

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Sink receives round events in emission order. The Clock calls it from
// a single goroutine, so implementations see no reordering.
type Sink interface {
	RoundWaiting(roundID uint64, countdown int)
	RoundStarted(roundID uint64)
	RoundTick(roundID uint64, multiplier float64)
	RoundCrashed(roundID uint64, crashPoint float64)
	RoundHistory(values []float64)
}

// Settler resolves every still-open wager of a round to lost. The Clock
// invokes it exactly once per round, after the phase flip to crashed is
// visible through Snapshot.
type Settler interface {
	ResolveRoundLosses(roundID uint64) int
}

// Config holds the round schedule and curve parameters.
type Config struct {
	BetWindow    time.Duration
	Cooldown     time.Duration
	TickInterval time.Duration
	GrowthRate   float64
	HouseEdge    float64
	MaxCrash     float64
	HistorySize  int
}

// DefaultConfig returns the production round schedule: 5s betting
// window, 3s cool-down, 10 ticks/sec.
func DefaultConfig() Config {
	return Config{
		BetWindow:    5 * time.Second,
		Cooldown:     3 * time.Second,
		TickInterval: 100 * time.Millisecond,
		GrowthRate:   0.35,
		HouseEdge:    0.04,
		MaxCrash:     1000.0,
		HistorySize:  20,
	}
}

// Clock drives the round state machine on its own periodic loop. It is
// the single writer of round phase; wager and ledger state are never
// touched here, settlement is delegated to the Settler.
type Clock struct {
	cfg     Config
	clock   clockwork.Clock
	source  CrashSource
	sink    Sink
	settler Settler

	mu            sync.Mutex
	seq           uint64
	round         *Round
	multiplier    float64
	deadline      time.Time
	lastCountdown int
	history       *History
}

// NewClock creates the clock and commits the first round immediately,
// so a crash point exists before any wager can reference it. SetSettler
// must be called before Run.
func NewClock(cfg Config, clk clockwork.Clock, source CrashSource, sink Sink) *Clock {
	c := &Clock{
		cfg:     cfg,
		clock:   clk,
		source:  source,
		sink:    sink,
		history: NewHistory(cfg.HistorySize),
	}
	c.mu.Lock()
	c.startWaitingLocked(clk.Now())
	c.mu.Unlock()
	return c
}

// SetSettler wires the wager registry in. Separate from NewClock because
// the registry needs the clock for phase reads.
func (c *Clock) SetSettler(s Settler) {
	c.mu.Lock()
	c.settler = s
	c.mu.Unlock()
}

// Run loops until the context is cancelled, advancing the state machine
// on every tick. Request handling never blocks this loop.
func (c *Clock) Run(ctx context.Context) error {
	log.Info().
		Dur("bet_window", c.cfg.BetWindow).
		Dur("cooldown", c.cfg.Cooldown).
		Dur("tick_interval", c.cfg.TickInterval).
		Msg("round clock started")

	ticker := c.clock.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("round clock shutting down")
			return nil
		case now := <-ticker.Chan():
			c.advance(now)
		}
	}
}

// Snapshot returns the authoritative phase, round id and current
// multiplier. The crash point is included only once the round has
// crashed.
func (c *Clock) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		RoundID:    c.round.ID,
		Phase:      c.round.Phase,
		Multiplier: c.multiplier,
		StartedAt:  c.round.StartedAt,
		History:    c.history.Values(),
	}
	if c.round.Phase == PhaseWaiting {
		s.Countdown = c.lastCountdown
	}
	if c.round.Phase == PhaseCrashed {
		s.CrashPoint = c.round.CrashPoint
	}
	return s
}

// advance moves the state machine to now. Called from the Run loop only;
// tests drive it directly with synthetic times.
func (c *Clock) advance(now time.Time) {
	c.mu.Lock()
	r := c.round

	switch r.Phase {
	case PhaseWaiting:
		if now.Before(c.deadline) {
			cd := int(math.Ceil(c.deadline.Sub(now).Seconds()))
			if cd == c.lastCountdown {
				c.mu.Unlock()
				return
			}
			c.lastCountdown = cd
			id := r.ID
			c.mu.Unlock()
			c.sink.RoundWaiting(id, cd)
			return
		}
		r.Phase = PhaseRunning
		r.StartedAt = now
		c.multiplier = 1.0
		id := r.ID
		c.mu.Unlock()
		log.Info().Uint64("round_id", id).Msg("round started")
		c.sink.RoundStarted(id)

	case PhaseRunning:
		m := MultiplierAt(now.Sub(r.StartedAt), c.cfg.GrowthRate)
		if m >= r.CrashPoint {
			r.Phase = PhaseCrashed
			r.CrashedAt = now
			c.multiplier = r.CrashPoint
			c.deadline = now.Add(c.cfg.Cooldown)
			c.history.Push(r.CrashPoint)
			id, cp := r.ID, r.CrashPoint
			hist := c.history.Values()
			settler := c.settler
			c.mu.Unlock()
			// Phase flip is published before settlement: any cash-out
			// arriving from here on reads PhaseCrashed and is rejected.
			log.Info().Uint64("round_id", id).Float64("crash_point", cp).Msg("round crashed")
			c.sink.RoundCrashed(id, cp)
			if settler != nil {
				settler.ResolveRoundLosses(id)
			} else {
				log.Warn().Uint64("round_id", id).Msg("no settler wired, open wagers unresolved")
			}
			c.sink.RoundHistory(hist)
			return
		}
		c.multiplier = m
		id := r.ID
		c.mu.Unlock()
		c.sink.RoundTick(id, m)

	case PhaseCrashed:
		if now.Before(c.deadline) {
			c.mu.Unlock()
			return
		}
		c.startWaitingLocked(now)
		id := c.round.ID
		cd := c.lastCountdown
		c.mu.Unlock()
		c.sink.RoundWaiting(id, cd)
	}
}

// startWaitingLocked creates the next round. The crash point is drawn
// here, once, and is immutable from this moment on. Caller holds c.mu.
func (c *Clock) startWaitingLocked(now time.Time) {
	c.seq++
	c.round = &Round{
		ID:         c.seq,
		Phase:      PhaseWaiting,
		CrashPoint: c.source.Draw(),
		CreatedAt:  now,
	}
	c.multiplier = 1.0
	c.deadline = now.Add(c.cfg.BetWindow)
	c.lastCountdown = int(math.Ceil(c.cfg.BetWindow.Seconds()))
	log.Debug().Uint64("round_id", c.seq).Msg("round created, betting window open")
}
