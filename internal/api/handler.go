package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/punchamoorthee/tcr/internal/auth"
	"github.com/punchamoorthee/tcr/internal/domain"
	"github.com/punchamoorthee/tcr/internal/events"
	"github.com/punchamoorthee/tcr/internal/idempotency"
	"github.com/punchamoorthee/tcr/internal/runtime"
)

// Node is the state machine the handlers drive. *runtime.Runtime implements it.
type Node interface {
	Apply(ctx context.Context, caller domain.AccountID, call runtime.Call) (*runtime.Receipt, error)
	Height() domain.Height
	Params() domain.Params
	Account(ctx context.Context, id domain.AccountID) (domain.AccountBalance, error)
	Allowance(ctx context.Context, owner, spender domain.AccountID) (domain.Balance, error)
	TotalIssuance(ctx context.Context) (domain.Balance, error)
	Listing(ctx context.Context, hash domain.Hash) (domain.Listing, error)
	Listings(ctx context.Context) ([]domain.Listing, error)
	Challenge(ctx context.Context, id domain.ChallengeID) (domain.Challenge, error)
	Vote(ctx context.Context, id domain.ChallengeID, voter domain.AccountID) (domain.Vote, bool, error)
	Votes(ctx context.Context, id domain.ChallengeID) ([]domain.Vote, error)
}

type Handler struct {
	node   Node
	tokens *auth.TokenService
	idem   idempotency.Store
	broker *events.Broker
	logger *slog.Logger
}

func NewHandler(node Node, tokens *auth.TokenService, idem idempotency.Store, broker *events.Broker, logger *slog.Logger) *Handler {
	if idem == nil {
		idem = idempotency.NewMemoryStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{node: node, tokens: tokens, idem: idem, broker: broker, logger: logger}
}

// Router wires every endpoint. Mutations require a bearer token whose
// subject becomes the caller of the transition.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(instrument)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/chain", h.GetChainHandler).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{id}", h.GetAccountHandler).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{id}/allowances/{spender}", h.GetAllowanceHandler).Methods(http.MethodGet)
	v1.HandleFunc("/listings", h.ListListingsHandler).Methods(http.MethodGet)
	v1.HandleFunc("/listings/{hash}", h.GetListingHandler).Methods(http.MethodGet)
	v1.HandleFunc("/challenges/{id}", h.GetChallengeHandler).Methods(http.MethodGet)
	v1.HandleFunc("/challenges/{id}/votes", h.ListVotesHandler).Methods(http.MethodGet)
	v1.HandleFunc("/challenges/{id}/votes/{voter}", h.GetVoteHandler).Methods(http.MethodGet)
	if h.broker != nil {
		v1.HandleFunc("/events", h.StreamEventsHandler).Methods(http.MethodGet)
	}

	calls := v1.Methods(http.MethodPost).Subrouter()
	calls.Use(h.authenticate)
	calls.HandleFunc("/transfers", h.CreateTransferHandler)
	calls.HandleFunc("/approvals", h.CreateApprovalHandler)
	calls.HandleFunc("/transfers/delegated", h.CreateDelegatedTransferHandler)
	calls.HandleFunc("/listings", h.ProposeHandler)
	calls.HandleFunc("/listings/{hash}/challenge", h.ChallengeHandler)
	calls.HandleFunc("/listings/{hash}/status", h.UpdateStatusHandler)
	calls.HandleFunc("/listings/{hash}/exit", h.ExitHandler)
	calls.HandleFunc("/challenges/{id}/votes", h.VoteHandler)
	calls.HandleFunc("/challenges/{id}/resolve", h.ResolveHandler)
	calls.HandleFunc("/challenges/{id}/claim", h.ClaimRewardHandler)

	return r
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]any{"status": "ok", "height": h.node.Height()})
}

// statusFor maps state machine errors to HTTP status codes.
func statusFor(err error) (int, string) {
	switch {
	case domain.IsNotFound(err):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, domain.ErrInvalidCaller):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, domain.ErrReservedAccount):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, domain.ErrDepositTooLow),
		errors.Is(err, domain.ErrInsufficientSpendable),
		errors.Is(err, domain.ErrInsufficientAllowance),
		errors.Is(err, domain.ErrZeroWeight),
		errors.Is(err, domain.ErrInvalidChoice),
		errors.Is(err, domain.ErrDataTooLong):
		return http.StatusUnprocessableEntity, err.Error()
	case domain.IsPrecondition(err):
		return http.StatusConflict, err.Error()
	case errors.Is(err, domain.ErrNotInitialized):
		return http.StatusServiceUnavailable, err.Error()
	default:
		return http.StatusInternalServerError, "Internal Server Error"
	}
}

func (h *Handler) respondWithDomainError(w http.ResponseWriter, r *http.Request, err error) {
	code, msg := statusFor(err)
	if code == http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	respondWithError(w, code, msg)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

func respondWithRaw(w http.ResponseWriter, code int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(body)
}
