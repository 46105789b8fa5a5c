package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/novacasino/crash-engine/internal/wager"
)

// Config holds JetStream connection and stream settings.
type Config struct {
	URL             string
	StreamName      string
	SubjectPrefix   string
	MaxReconnects   int
	ReconnectWait   time.Duration
	MaxAge          time.Duration
	MaxMsgs         int64
	Replicas        int
	DuplicateWindow time.Duration
	MaxPendingAsync int
	DrainTimeout    time.Duration
}

// DefaultConfig returns the default audit stream configuration.
func DefaultConfig() Config {
	return Config{
		URL:             nats.DefaultURL,
		StreamName:      "CRASH_EVENTS",
		SubjectPrefix:   "crash",
		MaxReconnects:   -1,
		ReconnectWait:   2 * time.Second,
		MaxAge:          7 * 24 * time.Hour,
		MaxMsgs:         -1,
		Replicas:        1,
		DuplicateWindow: 2 * time.Hour,
		MaxPendingAsync: 256,
		DrainTimeout:    5 * time.Second,
	}
}

// Publisher emits settlement and round outcomes onto a JetStream audit
// stream. Publishing is fire and forget: the game loop must never stall
// on the audit trail, so failures are logged and dropped. A nil
// Publisher is valid; every method no-ops.
type Publisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config Config
}

// NewPublisher connects to NATS and ensures the audit stream exists.
func NewPublisher(cfg Config) (*Publisher, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc,
		jetstream.WithPublishAsyncMaxPending(cfg.MaxPendingAsync),
		jetstream.WithPublishAsyncErrHandler(func(_ jetstream.JetStream, m *nats.Msg, err error) {
			log.Error().Err(err).Str("subject", m.Subject).Msg("audit event publish failed")
		}),
	)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	p := &Publisher{nc: nc, js: js, config: cfg}

	if err := p.ensureStream(context.Background()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	return p, nil
}

func (p *Publisher) ensureStream(ctx context.Context) error {
	sc := jetstream.StreamConfig{
		Name:        p.config.StreamName,
		Description: "Crash round and wager audit trail",
		Subjects:    []string{fmt.Sprintf("%s.>", p.config.SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      p.config.MaxAge,
		MaxMsgs:     p.config.MaxMsgs,
		Storage:     jetstream.FileStorage,
		Replicas:    p.config.Replicas,
		Duplicates:  p.config.DuplicateWindow,
	}

	if _, err := p.js.Stream(ctx, p.config.StreamName); err != nil {
		if _, err = p.js.CreateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		log.Info().Str("stream", p.config.StreamName).Msg("created JetStream stream")
	}
	return nil
}

// RoundCrashed records the final outcome of a round.
func (p *Publisher) RoundCrashed(roundID uint64, crashPoint float64) {
	if p == nil {
		return
	}
	p.publishAsync("rounds.crashed", map[string]any{
		"roundId":    roundID,
		"crashPoint": crashPoint,
	})
}

// WagerPlaced implements the registry's audit log.
func (p *Publisher) WagerPlaced(w *wager.Wager, balance int64) {
	if p == nil {
		return
	}
	p.publishAsync("wagers.placed", map[string]any{
		"userId":  w.UserID,
		"roundId": w.RoundID,
		"amount":  w.Amount,
		"balance": balance,
	})
}

// WagerCashedOut implements the registry's audit log.
func (p *Publisher) WagerCashedOut(w *wager.Wager, payout int64) {
	if p == nil {
		return
	}
	p.publishAsync("wagers.cashed_out", map[string]any{
		"userId":     w.UserID,
		"roundId":    w.RoundID,
		"amount":     w.Amount,
		"multiplier": w.CashOutMultiplier,
		"payout":     payout,
	})
}

// WagerLost implements the registry's audit log.
func (p *Publisher) WagerLost(w *wager.Wager) {
	if p == nil {
		return
	}
	p.publishAsync("wagers.lost", map[string]any{
		"userId":  w.UserID,
		"roundId": w.RoundID,
		"amount":  w.Amount,
	})
}

// ReconciliationFlagged records a user whose balance needs manual
// review.
func (p *Publisher) ReconciliationFlagged(userID, reason string) {
	if p == nil {
		return
	}
	p.publishAsync("reconciliation.flagged", map[string]any{
		"userId": userID,
		"reason": reason,
	})
}

// Close waits for in-flight publishes to drain, then closes the
// connection.
func (p *Publisher) Close() error {
	if p == nil || p.nc == nil {
		return nil
	}
	select {
	case <-p.js.PublishAsyncComplete():
	case <-time.After(p.config.DrainTimeout):
		log.Warn().Int("pending", p.js.PublishAsyncPending()).Msg("timed out draining audit publishes")
	}
	p.nc.Close()
	return nil
}

// publishAsync queues the event on JetStream's async publisher, which
// bounds in-flight messages to MaxPendingAsync. When NATS is down and
// the window is full the event is dropped, never the game loop stalled.
func (p *Publisher) publishAsync(eventType string, payload map[string]any) {
	eventID := uuid.New().String()
	subject := fmt.Sprintf("%s.%s", p.config.SubjectPrefix, eventType)

	env := map[string]any{
		"eventId":   eventID,
		"eventType": eventType,
		"timestamp": time.Now().UTC(),
		"payload":   payload,
	}
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("marshal audit event")
		return
	}

	if p.js.PublishAsyncPending() >= p.config.MaxPendingAsync {
		log.Warn().Str("subject", subject).Msg("audit publish window full, dropping event")
		return
	}

	_, err = p.js.PublishMsgAsync(&nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"Event-Type": []string{eventType},
			"Event-ID":   []string{eventID},
		},
	},
		jetstream.WithMsgID(eventID),
		jetstream.WithExpectStream(p.config.StreamName),
	)
	if err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("publish audit event")
		return
	}
	log.Debug().Str("subject", subject).Str("event_id", eventID).Msg("audit event queued")
}
