// Package api exposes the shard over HTTP: session auth, zone reads, and
// the command surface. Handlers translate between JSON and the sim; no game
// rules live here.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/runevale/server/internal/auth"
	"github.com/runevale/server/internal/config"
	"github.com/runevale/server/internal/gates"
	"github.com/runevale/server/internal/ledger"
	"github.com/runevale/server/internal/sim"
	"github.com/runevale/server/internal/world"
)

type ctxKey int

const walletKey ctxKey = 0

// Server is the HTTP front of the shard.
type Server struct {
	cfg      *config.Config
	log      *zap.Logger
	sessions *auth.Store
	engine   *sim.Engine
	keeper   *gates.Keeper

	httpSrv *http.Server
}

func NewServer(cfg *config.Config, log *zap.Logger, sessions *auth.Store, engine *sim.Engine, keeper *gates.Keeper) *Server {
	s := &Server{
		cfg:      cfg,
		log:      log,
		sessions: sessions,
		engine:   engine,
		keeper:   keeper,
	}
	s.httpSrv = &http.Server{
		Addr:         cfg.HTTP.BindAddress,
		Handler:      s.routes(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	v1 := r.PathPrefix("/v1").Subrouter()

	v1.HandleFunc("/auth/challenge", s.handleChallenge).Methods(http.MethodGet, http.MethodPost)
	v1.HandleFunc("/auth/verify", s.handleVerify).Methods(http.MethodPost)
	v1.HandleFunc("/state", s.handleState).Methods(http.MethodGet)

	authed := v1.NewRoute().Subrouter()
	authed.Use(s.requireSession)
	authed.HandleFunc("/zones/{zoneId}", s.handleZone).Methods(http.MethodGet)
	authed.HandleFunc("/events/{zoneId}", s.handleEvents).Methods(http.MethodGet)
	authed.HandleFunc("/spawn", s.handleSpawn).Methods(http.MethodPost)
	authed.HandleFunc("/command", s.handleCommand).Methods(http.MethodPost)
	authed.HandleFunc("/transition/{zoneId}/portal/{portalId}", s.handleTransition).Methods(http.MethodPost)
	authed.HandleFunc("/interact", s.handleInteract).Methods(http.MethodPost)
	authed.HandleFunc("/items/use", s.handleUseItem).Methods(http.MethodPost)
	authed.HandleFunc("/shop/buy", s.handleBuy).Methods(http.MethodPost)
	authed.HandleFunc("/equipment/repair", s.handleRepair).Methods(http.MethodPost)
	authed.HandleFunc("/gates/open", s.handleOpenGate).Methods(http.MethodPost)
	authed.HandleFunc("/party/create", s.handlePartyCreate).Methods(http.MethodPost)
	authed.HandleFunc("/party/join", s.handlePartyJoin).Methods(http.MethodPost)
	authed.HandleFunc("/party/leave", s.handlePartyLeave).Methods(http.MethodPost)

	return handlers.RecoveryHandler(handlers.RecoveryLogger(&recoveryLogger{log: s.log}))(
		handlers.CombinedLoggingHandler(os.Stdout, r))
}

// Start begins serving. Blocks until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.log.Info("http listening", zap.String("addr", s.cfg.HTTP.BindAddress))
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

type recoveryLogger struct{ log *zap.Logger }

func (r *recoveryLogger) Println(v ...interface{}) {
	r.log.Error("handler panic", zap.Any("detail", v))
}

// requireSession resolves the bearer token to a wallet and stashes it in the
// request context.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		const prefix = "Bearer "
		h := r.Header.Get("Authorization")
		if len(h) <= len(prefix) || h[:len(prefix)] != prefix {
			writeError(w, http.StatusUnauthorized, "missing bearer token", nil)
			return
		}
		wallet, err := s.sessions.Resolve(h[len(prefix):])
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid session", err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), walletKey, wallet)))
	})
}

func walletFrom(r *http.Request) string {
	wallet, _ := r.Context().Value(walletKey).(string)
	return wallet
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	body := errorBody{Error: msg}
	if err != nil {
		body.Reason = err.Error()
	}
	writeJSON(w, status, body)
}

// fail maps a domain error to an HTTP status and writes it.
func fail(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), "request failed", err)
}

func statusFor(err error) int {
	var lerr *ledger.Error
	switch {
	case errors.Is(err, world.ErrZoneNotFound),
		errors.Is(err, world.ErrEntityNotFound),
		errors.Is(err, sim.ErrTargetNotFound):
		return http.StatusNotFound
	case errors.Is(err, sim.ErrNotYourCharacter):
		return http.StatusForbidden
	case errors.Is(err, world.ErrInboxFull),
		errors.Is(err, ledger.ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, ledger.ErrSerializerClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, ledger.ErrInsufficientGold):
		return http.StatusPaymentRequired
	case errors.Is(err, sim.ErrCharacterExists),
		errors.Is(err, sim.ErrQuestActive),
		errors.Is(err, sim.ErrAlreadyKnown),
		errors.Is(err, gates.ErrGateOpened),
		errors.Is(err, world.ErrAlreadyInParty):
		return http.StatusConflict
	case errors.As(err, &lerr):
		if lerr.Code == ledger.CodeUnavailable {
			return http.StatusBadGateway
		}
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
