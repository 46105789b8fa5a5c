package hub

import (
	"encoding/json"
	"fmt"
)

// EventType names an outbound stream event.
type EventType string

const (
	EventRoundWaiting EventType = "round.waiting"
	EventRoundStarted EventType = "round.started"
	EventRoundTick    EventType = "round.tick"
	EventRoundCrashed EventType = "round.crashed"
	EventRoundHistory EventType = "round.history"
	EventWagerCount   EventType = "wager.count"
	// EventRoundState is sent once per session, on connect, so clients
	// resync after a reconnect instead of trusting stale local flags.
	EventRoundState EventType = "round.state"
)

// Event is the wire envelope for all server-to-client events.
type Event struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

type WaitingPayload struct {
	Countdown int `json:"countdown"`
}

type StartedPayload struct{}

type TickPayload struct {
	Multiplier float64 `json:"multiplier"`
}

type CrashedPayload struct {
	CrashPoint float64 `json:"crashPoint"`
}

type HistoryPayload struct {
	Values []float64 `json:"values"`
}

type WagerCountPayload struct {
	ActiveWagerCount int `json:"activeWagerCount"`
}

// StatePayload is the full cached round state, for connect-time resync.
type StatePayload struct {
	RoundID          uint64    `json:"roundId"`
	Phase            string    `json:"phase"`
	Multiplier       float64   `json:"multiplier"`
	Countdown        int       `json:"countdown"`
	History          []float64 `json:"history"`
	ActiveWagerCount int       `json:"activeWagerCount"`
}

func newEvent(t EventType, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Event{Type: t, Data: data}, nil
}
