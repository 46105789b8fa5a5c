package round

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

type fixedSource struct {
	value float64
	draws int
}

func (s *fixedSource) Draw() float64 {
	s.draws++
	return s.value
}

type sinkEvent struct {
	kind       string
	roundID    uint64
	multiplier float64
	countdown  int
}

type recordSink struct {
	events []sinkEvent
}

func (s *recordSink) RoundWaiting(id uint64, cd int) {
	s.events = append(s.events, sinkEvent{kind: "waiting", roundID: id, countdown: cd})
}

func (s *recordSink) RoundStarted(id uint64) {
	s.events = append(s.events, sinkEvent{kind: "started", roundID: id})
}

func (s *recordSink) RoundTick(id uint64, m float64) {
	s.events = append(s.events, sinkEvent{kind: "tick", roundID: id, multiplier: m})
}

func (s *recordSink) RoundCrashed(id uint64, cp float64) {
	s.events = append(s.events, sinkEvent{kind: "crashed", roundID: id, multiplier: cp})
}

func (s *recordSink) RoundHistory(values []float64) {
	s.events = append(s.events, sinkEvent{kind: "history", countdown: len(values)})
}

type recordSettler struct {
	calls []uint64
}

func (s *recordSettler) ResolveRoundLosses(id uint64) int {
	s.calls = append(s.calls, id)
	return 0
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BetWindow = 5 * time.Second
	cfg.Cooldown = 3 * time.Second
	return cfg
}

func newTestClock(crashAt float64) (*Clock, *fixedSource, *recordSink, *recordSettler, time.Time) {
	fc := clockwork.NewFakeClock()
	src := &fixedSource{value: crashAt}
	sink := &recordSink{}
	settler := &recordSettler{}
	c := NewClock(testConfig(), fc, src, sink)
	c.SetSettler(settler)
	return c, src, sink, settler, fc.Now()
}

// drive advances the clock in tick-interval steps up to t0+until.
func drive(c *Clock, t0 time.Time, until time.Duration) {
	for d := c.cfg.TickInterval; d <= until; d += c.cfg.TickInterval {
		c.advance(t0.Add(d))
	}
}

func TestClock_CommitsCrashPointAtCreation(t *testing.T) {
	_, src, _, _, _ := newTestClock(2.0)
	if src.draws != 1 {
		t.Fatalf("crash point drawn %d times at creation, want exactly 1", src.draws)
	}
}

func TestClock_HidesCrashPointUntilCrashed(t *testing.T) {
	c, _, _, _, t0 := newTestClock(2.0)

	if snap := c.Snapshot(); snap.CrashPoint != 0 {
		t.Fatalf("crash point %v exposed during waiting", snap.CrashPoint)
	}
	drive(c, t0, 5*time.Second+500*time.Millisecond)
	snap := c.Snapshot()
	if snap.Phase != PhaseRunning {
		t.Fatalf("phase %v, want running", snap.Phase)
	}
	if snap.CrashPoint != 0 {
		t.Fatalf("crash point %v exposed during running", snap.CrashPoint)
	}

	// Crash lands around t0+7s (ln(2)/0.35 ~ 1.98s into the climb); stop
	// inside the cool-down so the crashed snapshot is observable.
	drive(c, t0.Add(5*time.Second+500*time.Millisecond), 4*time.Second)
	snap = c.Snapshot()
	if snap.Phase != PhaseCrashed {
		t.Fatalf("phase %v, want crashed", snap.Phase)
	}
	if snap.CrashPoint != 2.0 {
		t.Fatalf("crash point %v after crash, want 2.00", snap.CrashPoint)
	}
}

func TestClock_PhaseSequence(t *testing.T) {
	c, _, sink, settler, t0 := newTestClock(2.0)

	// Betting window, climb past 2.00 (ln(2)/0.35 ~ 1.98s), cool-down.
	drive(c, t0, 12*time.Second)

	var kinds []string
	for _, ev := range sink.events {
		kinds = append(kinds, ev.kind)
	}

	idx := map[string]int{}
	for i, k := range kinds {
		if _, seen := idx[k]; !seen {
			idx[k] = i
		}
	}
	for _, k := range []string{"waiting", "started", "tick", "crashed", "history"} {
		if _, ok := idx[k]; !ok {
			t.Fatalf("missing %q event in %v", k, kinds)
		}
	}
	if !(idx["waiting"] < idx["started"] && idx["started"] < idx["tick"] && idx["tick"] < idx["crashed"] && idx["crashed"] < idx["history"]) {
		t.Fatalf("events out of order: %v", kinds)
	}

	if len(settler.calls) != 1 || settler.calls[0] != 1 {
		t.Fatalf("settler calls %v, want exactly one for round 1", settler.calls)
	}

	// Cool-down elapsed: round 2 is waiting with a fresh crash point.
	snap := c.Snapshot()
	if snap.RoundID != 2 {
		t.Fatalf("round id %d after cool-down, want 2", snap.RoundID)
	}
	if snap.Phase != PhaseWaiting {
		t.Fatalf("phase %v after cool-down, want waiting", snap.Phase)
	}
}

func TestClock_TicksNeverReachCrashPoint(t *testing.T) {
	c, _, sink, _, t0 := newTestClock(2.0)
	drive(c, t0, 12*time.Second)

	for _, ev := range sink.events {
		if ev.kind == "tick" && ev.multiplier >= 2.0 {
			t.Fatalf("running tick %v at or above crash point", ev.multiplier)
		}
	}
}

func TestClock_InstantCrash(t *testing.T) {
	// Crash point 1.00: the round crashes on the first running tick.
	c, _, sink, settler, t0 := newTestClock(1.0)
	drive(c, t0, 9*time.Second)

	for _, ev := range sink.events {
		if ev.kind == "tick" {
			t.Fatalf("instant-crash round emitted a running tick %v", ev.multiplier)
		}
	}
	if len(settler.calls) != 1 {
		t.Fatalf("settler calls %v, want 1", settler.calls)
	}
	if c.Snapshot().RoundID != 2 {
		t.Fatalf("round id %d, want next round open", c.Snapshot().RoundID)
	}
}

func TestClock_HistoryAccumulates(t *testing.T) {
	c, _, _, _, t0 := newTestClock(1.0)
	// Each cycle: 5s window + instant crash + 3s cool-down.
	drive(c, t0, 30*time.Second)

	snap := c.Snapshot()
	if len(snap.History) < 2 {
		t.Fatalf("history %v after several rounds, want >= 2 entries", snap.History)
	}
	for _, v := range snap.History {
		if v != 1.0 {
			t.Fatalf("unexpected history value %v", v)
		}
	}
}
