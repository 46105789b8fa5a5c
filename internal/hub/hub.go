package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ErrNotRunning rejects a registration after the hub has shut down.
var ErrNotRunning = errors.New("session hub not running")

// Config holds websocket connection tuning.
type Config struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	BroadcastBuffer int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConfig returns the default websocket configuration.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      256,
		BroadcastBuffer: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// Hub manages connected client sessions and fans round-clock events out
// to all of them in emission order. Fan-out is best effort: a slow
// consumer is dropped rather than ever blocking the tick loop. The hub
// also keeps a cached copy of the round state for connect-time resync;
// the round clock stays the only source of truth.
//
// All session-set mutations happen on the Run goroutine. Registration,
// unregistration and broadcasts are serialized through its channels, so
// a send channel is closed exactly once and never raced with a send.
type Hub struct {
	config   Config
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[*Session]bool

	registerCh   chan *Session
	unregisterCh chan *Session
	broadcastCh  chan []byte
	done         chan struct{}

	stateMu sync.Mutex
	state   StatePayload
}

// New creates a hub. Run must be started before events flow.
func New(config Config) *Hub {
	return &Hub{
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		sessions:     make(map[*Session]bool),
		registerCh:   make(chan *Session),
		unregisterCh: make(chan *Session),
		broadcastCh:  make(chan []byte, config.BroadcastBuffer),
		done:         make(chan struct{}),
	}
}

// Run processes registrations and broadcast messages until the context
// is cancelled. It is the sole owner of the session set.
func (h *Hub) Run(ctx context.Context) {
	log.Info().Msg("session hub started")
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("session hub shutting down")
			h.closeAll()
			return
		case s := <-h.registerCh:
			h.addSession(s)
		case s := <-h.unregisterCh:
			h.removeSession(s)
		case message := <-h.broadcastCh:
			h.fanOut(message)
		}
	}
}

// Register upgrades an HTTP request to a websocket session bound to the
// authenticated user. The session joins the broadcast pool on the Run
// goroutine, which queues the round.state snapshot in the same step, so
// the snapshot is always the first event and no broadcast falls between
// snapshot and join.
func (h *Hub) Register(w http.ResponseWriter, r *http.Request, userID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("upgrade connection: %w", err)
	}

	s := &Session{
		ID:          uuid.New().String(),
		UserID:      userID,
		conn:        conn,
		send:        make(chan []byte, h.config.SendBuffer),
		hub:         h,
		ConnectedAt: time.Now(),
		lastPing:    time.Now(),
	}

	select {
	case h.registerCh <- s:
	case <-h.done:
		conn.Close()
		return ErrNotRunning
	}

	go s.writePump()
	go s.readPump()
	return nil
}

// SessionCount returns the number of connected sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Round clock sink. Each method updates the cached state, then queues
// the event for fan-out; both happen in the clock's emission order.

func (h *Hub) RoundWaiting(roundID uint64, countdown int) {
	h.stateMu.Lock()
	h.state.RoundID = roundID
	h.state.Phase = "waiting"
	h.state.Countdown = countdown
	h.state.Multiplier = 1.0
	h.stateMu.Unlock()
	h.publish(EventRoundWaiting, WaitingPayload{Countdown: countdown})
}

func (h *Hub) RoundStarted(roundID uint64) {
	h.stateMu.Lock()
	h.state.RoundID = roundID
	h.state.Phase = "running"
	h.state.Countdown = 0
	h.state.Multiplier = 1.0
	h.stateMu.Unlock()
	h.publish(EventRoundStarted, StartedPayload{})
}

func (h *Hub) RoundTick(roundID uint64, multiplier float64) {
	h.stateMu.Lock()
	h.state.RoundID = roundID
	h.state.Multiplier = multiplier
	h.stateMu.Unlock()
	h.publish(EventRoundTick, TickPayload{Multiplier: multiplier})
}

func (h *Hub) RoundCrashed(roundID uint64, crashPoint float64) {
	h.stateMu.Lock()
	h.state.RoundID = roundID
	h.state.Phase = "crashed"
	h.state.Multiplier = crashPoint
	h.stateMu.Unlock()
	h.publish(EventRoundCrashed, CrashedPayload{CrashPoint: crashPoint})
}

func (h *Hub) RoundHistory(values []float64) {
	h.stateMu.Lock()
	h.state.History = values
	h.stateMu.Unlock()
	h.publish(EventRoundHistory, HistoryPayload{Values: values})
}

// WagerCount implements the registry's open-count listener.
func (h *Hub) WagerCount(roundID uint64, open int) {
	h.stateMu.Lock()
	h.state.ActiveWagerCount = open
	h.stateMu.Unlock()
	h.publish(EventWagerCount, WagerCountPayload{ActiveWagerCount: open})
}

func (h *Hub) publish(t EventType, payload any) {
	ev, err := newEvent(t, payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(t)).Msg("failed to build event")
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(t)).Msg("failed to marshal event")
		return
	}
	select {
	case h.broadcastCh <- data:
	default:
		log.Warn().Str("event_type", string(t)).Msg("broadcast channel full, dropping event")
	}
}

// unregister hands a session back to the Run goroutine, which does the
// actual teardown. Safe to call more than once and after shutdown.
func (h *Hub) unregister(s *Session) {
	select {
	case h.unregisterCh <- s:
	case <-h.done:
	}
}

func (h *Hub) snapshotEvent() []byte {
	h.stateMu.Lock()
	state := h.state
	h.stateMu.Unlock()
	ev, err := newEvent(EventRoundState, state)
	if err != nil {
		log.Error().Err(err).Msg("failed to build state snapshot")
		return nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal state snapshot")
		return nil
	}
	return data
}

// addSession runs on the Run goroutine. The snapshot goes into the send
// buffer before the session can see any broadcast.
func (h *Hub) addSession(s *Session) {
	if snapshot := h.snapshotEvent(); snapshot != nil {
		s.send <- snapshot
	}
	h.stateMu.Lock()
	s.LastSeenRoundID = h.state.RoundID
	h.stateMu.Unlock()

	h.mu.Lock()
	h.sessions[s] = true
	total := len(h.sessions)
	h.mu.Unlock()

	log.Info().
		Str("session_id", s.ID).
		Str("user_id", s.UserID).
		Int("total_sessions", total).
		Msg("session registered")
}

// removeSession runs on the Run goroutine, the only closer of send.
func (h *Hub) removeSession(s *Session) {
	h.mu.Lock()
	if _, ok := h.sessions[s]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, s)
	total := len(h.sessions)
	h.mu.Unlock()

	close(s.send)
	s.conn.Close()
	log.Info().
		Str("session_id", s.ID).
		Str("user_id", s.UserID).
		Int("total_sessions", total).
		Msg("session unregistered")
}

func (h *Hub) fanOut(message []byte) {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	var drops []*Session
	for _, s := range targets {
		select {
		case s.send <- message:
		default:
			// Slow or dead consumer: drop it, never block the loop.
			log.Warn().
				Str("session_id", s.ID).
				Str("user_id", s.UserID).
				Msg("session send buffer full, closing session")
			drops = append(drops, s)
		}
	}
	for _, s := range drops {
		h.removeSession(s)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
		delete(h.sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		close(s.send)
		s.conn.Close()
	}
}
