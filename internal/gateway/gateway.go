package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/novacasino/crash-engine/internal/hub"
	"github.com/novacasino/crash-engine/internal/ledger"
	"github.com/novacasino/crash-engine/internal/wager"
)

// Gateway is the request/stream boundary exposed to clients. It
// translates wire messages into registry calls, always using the
// authenticated userID, never a client-supplied identity.
type Gateway struct {
	registry *wager.Registry
	ledger   *ledger.Ledger
	sessions *hub.Hub
	resolver TokenResolver
}

// New creates the gateway.
func New(registry *wager.Registry, led *ledger.Ledger, sessions *hub.Hub, resolver TokenResolver) *Gateway {
	return &Gateway{
		registry: registry,
		ledger:   led,
		sessions: sessions,
		resolver: resolver,
	}
}

// RegisterRoutes registers the HTTP and websocket routes.
func (g *Gateway) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/bet", g.handleBet)
	mux.HandleFunc("/cashout", g.handleCashOut)
	mux.HandleFunc("/ws", g.handleWS)
}

type betRequest struct {
	AuthToken string `json:"authToken"`
	Amount    int64  `json:"amount"`
}

type cashOutRequest struct {
	AuthToken string `json:"authToken"`
}

func (g *Gateway) handleBet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed")
		return
	}
	var req betRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request")
		return
	}

	userID, err := g.authorize(r.Context(), req.AuthToken)
	if err != nil {
		g.writeAuthError(w, err)
		return
	}

	_, balance, err := g.registry.Place(r.Context(), userID, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, wager.ErrInvalidAmount):
			writeError(w, http.StatusBadRequest, "bad_request")
		case errors.Is(err, ledger.ErrInsufficientFunds):
			writeError(w, http.StatusBadRequest, "insufficient_funds")
		case errors.Is(err, wager.ErrRoundNotAcceptingBets):
			writeError(w, http.StatusConflict, "round_not_accepting_bets")
		case errors.Is(err, wager.ErrWagerAlreadyOpen):
			writeError(w, http.StatusConflict, "wager_already_open")
		default:
			log.Error().Err(err).Str("user_id", userID).Msg("place wager failed")
			writeError(w, http.StatusInternalServerError, "internal_error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"balance": balance})
}

func (g *Gateway) handleCashOut(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed")
		return
	}
	var req cashOutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request")
		return
	}

	userID, err := g.authorize(r.Context(), req.AuthToken)
	if err != nil {
		g.writeAuthError(w, err)
		return
	}

	settlement, err := g.registry.CashOut(r.Context(), userID)
	if err != nil {
		switch {
		case errors.Is(err, wager.ErrNoOpenWager):
			writeError(w, http.StatusConflict, "no_open_wager")
		case errors.Is(err, wager.ErrRoundNotRunning):
			writeError(w, http.StatusConflict, "round_not_running")
		default:
			log.Error().Err(err).Str("user_id", userID).Msg("cash-out failed")
			writeError(w, http.StatusInternalServerError, "internal_error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{
		"profit":  settlement.Profit,
		"balance": settlement.Balance,
	})
}

func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	userID, err := g.authorize(r.Context(), token)
	if err != nil {
		g.writeAuthError(w, err)
		return
	}

	if err := g.sessions.Register(w, r, userID); err != nil {
		// Upgrade failures have already written their own response.
		log.Error().Err(err).Str("user_id", userID).Msg("websocket registration failed")
	}
}

// authorize resolves the token and makes sure the user's ledger account
// exists, applying the signup bonus on first sight.
func (g *Gateway) authorize(ctx context.Context, token string) (string, error) {
	userID, err := g.resolver.Resolve(ctx, token)
	if err != nil {
		return "", err
	}
	if err := g.ledger.EnsureAccount(ctx, userID); err != nil {
		return "", err
	}
	return userID, nil
}

func (g *Gateway) writeAuthError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrAuthInvalid) {
		writeError(w, http.StatusUnauthorized, "auth_invalid")
		return
	}
	log.Error().Err(err).Msg("token resolution failed")
	writeError(w, http.StatusInternalServerError, "internal_error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
