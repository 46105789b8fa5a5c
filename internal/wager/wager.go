package wager

import "time"

// Status is a wager's settlement state. It transitions exactly once,
// from open to either cashed_out or lost, and never back.
type Status string

const (
	StatusOpen      Status = "open"
	StatusCashedOut Status = "cashed_out"
	StatusLost      Status = "lost"
)

// Wager is one user's stake bound to one specific round. At most one
// wager exists per (user, round).
type Wager struct {
	UserID            string
	RoundID           uint64
	Amount            int64
	Status            Status
	CashOutMultiplier float64
	PlacedAt          time.Time
	SettledAt         time.Time
}

// Settlement is the outcome of a successful cash-out.
type Settlement struct {
	UserID     string
	RoundID    uint64
	Amount     int64
	Multiplier float64
	Payout     int64
	Profit     int64
	Balance    int64
}
