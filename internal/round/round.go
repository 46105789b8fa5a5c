package round

import "time"

// Phase is the authoritative round phase. There is exactly one source of
// truth for it (the Clock); everything else holds cached copies.
type Phase int

const (
	// PhaseWaiting is the betting window. New wagers are accepted.
	PhaseWaiting Phase = iota
	// PhaseRunning is the multiplier climb. Only cash-outs are accepted.
	PhaseRunning
	// PhaseCrashed is the cool-down after the crash. Nothing is accepted.
	PhaseCrashed
)

func (p Phase) String() string {
	switch p {
	case PhaseWaiting:
		return "waiting"
	case PhaseRunning:
		return "running"
	case PhaseCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// Round is one cycle of waiting, multiplier growth and crash. The crash
// point is drawn once at creation and never mutated afterward.
type Round struct {
	ID         uint64
	Phase      Phase
	CrashPoint float64
	CreatedAt  time.Time
	StartedAt  time.Time
	CrashedAt  time.Time
}

// Snapshot is a point-in-time copy of the clock state handed out to the
// registry and the hub. CrashPoint stays zero until the round has
// actually crashed; no caller can read it earlier.
type Snapshot struct {
	RoundID    uint64
	Phase      Phase
	Multiplier float64
	Countdown  int
	StartedAt  time.Time
	CrashPoint float64
	History    []float64
}
