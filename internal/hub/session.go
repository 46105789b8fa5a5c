package hub

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Session is one connected client. It references the authenticated
// userID but never owns wager or ledger state; dropping a session has
// no effect on its wagers.
type Session struct {
	ID     string
	UserID string
	// LastSeenRoundID is the round the connect-time snapshot carried;
	// clients compare it against later events to detect staleness.
	LastSeenRoundID uint64
	ConnectedAt     time.Time

	conn     *websocket.Conn
	send     chan []byte
	hub      *Hub
	lastPing time.Time
}

// writePump delivers queued events to the client and keeps the
// connection alive with pings.
func (s *Session) writePump() {
	ticker := time.NewTicker(s.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
		s.hub.unregister(s)
	}()

	for {
		select {
		case message, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(s.hub.config.WriteTimeout))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("session_id", s.ID).Msg("write failed, dropping session")
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(s.hub.config.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("session_id", s.ID).Msg("ping failed, dropping session")
				return
			}
			s.lastPing = time.Now()
		}
	}
}

// readPump drains inbound frames. Place-bet and cash-out travel over
// HTTP, so client frames carry nothing the engine acts on.
func (s *Session) readPump() {
	defer func() {
		s.hub.unregister(s)
		s.conn.Close()
	}()

	s.conn.SetReadLimit(s.hub.config.MaxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(s.hub.config.ReadTimeout))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(s.hub.config.ReadTimeout))
		s.lastPing = time.Now()
		return nil
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Str("session_id", s.ID).Msg("unexpected close")
			}
			return
		}
		log.Debug().
			Str("session_id", s.ID).
			Str("user_id", s.UserID).
			RawJSON("message", message).
			Msg("ignoring client frame")
		s.conn.SetReadDeadline(time.Now().Add(s.hub.config.ReadTimeout))
	}
}
