package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/novacasino/crash-engine/internal/audit"
	"github.com/novacasino/crash-engine/internal/gateway"
	"github.com/novacasino/crash-engine/internal/hub"
	"github.com/novacasino/crash-engine/internal/ledger"
	"github.com/novacasino/crash-engine/internal/round"
	"github.com/novacasino/crash-engine/internal/wager"
)

type Services struct {
	Ledger   *ledger.Ledger
	Clock    *round.Clock
	Registry *wager.Registry
	Hub      *hub.Hub
	Gateway  *gateway.Gateway
	Audit    *audit.Publisher

	pool *pgxpool.Pool
}

// setupServices wires the dependency chain: store, ledger, round clock,
// wager registry, session hub, audit publisher and the client gateway.
func setupServices(ctx context.Context, config *Config) (*Services, error) {
	s := &Services{}

	store, err := s.setupStore(ctx, config)
	if err != nil {
		return nil, err
	}
	s.Ledger = ledger.New(store)

	s.Hub = hub.New(hub.DefaultConfig())

	s.Audit = setupAudit(config)

	roundCfg := config.roundConfig()
	source := round.NewGenerator(roundCfg.HouseEdge, roundCfg.MaxCrash)
	s.Clock = round.NewClock(roundCfg, clockwork.NewRealClock(), source, &auditedSink{
		Sink:  s.Hub,
		audit: s.Audit,
	})

	s.Registry = wager.NewRegistry(s.Ledger, s.Clock, clockwork.NewRealClock())
	s.Registry.SetAudit(s.Audit)
	s.Registry.OnOpenCount(s.Hub.WagerCount)
	s.Clock.SetSettler(s.Registry)
	s.Ledger.OnFlag(s.Audit.ReconciliationFlagged)

	s.Gateway = gateway.New(s.Registry, s.Ledger, s.Hub, setupResolver(config))

	return s, nil
}

func (s *Services) setupStore(ctx context.Context, config *Config) (ledger.Store, error) {
	if config.DatabaseURL == "" {
		log.Warn().Msg("no DATABASE_URL set, using in-memory ledger store")
		return ledger.NewMemoryStore(config.Ledger.SignupBonus), nil
	}

	pool, err := pgxpool.New(ctx, config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s.pool = pool

	store := ledger.NewPostgresStore(pool, config.Ledger.SignupBonus)
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	log.Info().Msg("using postgres ledger store")
	return store, nil
}

// setupAudit connects the JetStream audit trail. The engine runs without
// it; a nil publisher no-ops every method.
func setupAudit(config *Config) *audit.Publisher {
	cfg := audit.DefaultConfig()
	if config.NATSURL != "" {
		cfg.URL = config.NATSURL
	} else {
		cfg.URL = nats.DefaultURL
	}

	pub, err := audit.NewPublisher(cfg)
	if err != nil {
		log.Warn().Err(err).Str("url", cfg.URL).Msg("audit stream unavailable, continuing without audit trail")
		return nil
	}
	log.Info().Str("url", cfg.URL).Msg("audit stream connected")
	return pub
}

func setupResolver(config *Config) gateway.TokenResolver {
	if config.IdentityURL != "" {
		return gateway.NewIdentityClient(config.IdentityURL)
	}
	log.Warn().Msg("no IDENTITY_URL set, tokens are treated as user ids")
	return passthroughResolver{}
}

// passthroughResolver is the local development fallback: the token is
// the user id. Never run this against real money.
type passthroughResolver struct{}

func (passthroughResolver) Resolve(_ context.Context, token string) (string, error) {
	if token == "" {
		return "", gateway.ErrAuthInvalid
	}
	return token, nil
}

// auditedSink forwards round events to the session hub and mirrors the
// crash outcome onto the audit trail.
type auditedSink struct {
	round.Sink
	audit *audit.Publisher
}

func (s *auditedSink) RoundCrashed(roundID uint64, crashPoint float64) {
	s.Sink.RoundCrashed(roundID, crashPoint)
	s.audit.RoundCrashed(roundID, crashPoint)
}

// Close releases external resources.
func (s *Services) Close() {
	if s.Audit != nil {
		s.Audit.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
}
