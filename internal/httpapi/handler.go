// Package httpapi exposes the sponsorship REST API.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/ThePsalmsLabs/oneseed-sponsorship/internal/batch"
	"github.com/ThePsalmsLabs/oneseed-sponsorship/internal/errors"
	"github.com/ThePsalmsLabs/oneseed-sponsorship/internal/logging"
	"github.com/ThePsalmsLabs/oneseed-sponsorship/internal/metrics"
	"github.com/ThePsalmsLabs/oneseed-sponsorship/internal/sponsorship"
	"github.com/ThePsalmsLabs/oneseed-sponsorship/internal/submit"
	"github.com/ThePsalmsLabs/oneseed-sponsorship/internal/usage"
)

// AccountReader fetches account snapshots for policy eligibility.
type AccountReader interface {
	AccountState(ctx context.Context, address string) (sponsorship.AccountState, error)
}

// Handler bundles the REST endpoints.
type Handler struct {
	orchestrator *submit.Orchestrator
	resolver     *sponsorship.Resolver
	usage        *usage.Manager
	composer     *batch.Composer
	accounts     AccountReader
	logger       *logging.Logger
}

// Config holds handler dependencies.
type Config struct {
	Orchestrator *submit.Orchestrator
	Resolver     *sponsorship.Resolver
	Usage        *usage.Manager
	Composer     *batch.Composer
	Accounts     AccountReader
	Logger       *logging.Logger
}

// NewHandler creates the API handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.New("httpapi")
	}
	composer := cfg.Composer
	if composer == nil {
		composer = batch.NewComposer(nil)
	}
	return &Handler{
		orchestrator: cfg.Orchestrator,
		resolver:     cfg.Resolver,
		usage:        cfg.Usage,
		composer:     composer,
		accounts:     cfg.Accounts,
		logger:       logger,
	}
}

// Register mounts the API routes on the router.
func (h *Handler) Register(r *mux.Router) {
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/submit", h.handleSubmit).Methods(http.MethodPost)
	api.HandleFunc("/quote", h.handleQuote).Methods(http.MethodPost)
	api.HandleFunc("/policies", h.handlePolicies).Methods(http.MethodGet)
	api.HandleFunc("/policies/resolve", h.handleResolve).Methods(http.MethodGet)
	api.HandleFunc("/usage/{account}", h.handleUsage).Methods(http.MethodGet)

	r.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
}

// submitRequest is the body of POST /api/v1/submit.
type submitRequest struct {
	Account    string                   `json:"account"`
	Operations []batch.OperationRequest `json:"operations"`
	TotalCost  int64                    `json:"total_cost"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var payload submitRequest
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, errors.BadRequest(err.Error()))
		return
	}
	if payload.Account == "" {
		writeError(w, errors.BadRequest("account is required"))
		return
	}
	if payload.TotalCost < 0 {
		writeError(w, errors.BadRequest("total_cost must not be negative"))
		return
	}

	composed, err := h.composer.Compose(payload.Operations)
	if err != nil {
		writeError(w, errors.BadRequest(err.Error()))
		return
	}

	account, err := h.accounts.AccountState(r.Context(), payload.Account)
	if err != nil {
		h.logger.Error(r.Context(), "account state lookup failed", map[string]interface{}{
			"account": payload.Account,
			"error":   err.Error(),
		})
		writeError(w, errors.Internal("account state unavailable", err))
		return
	}

	result, err := h.orchestrator.Submit(r.Context(), &submit.Request{
		Account:       account,
		OperationKind: operationKind(payload.Operations),
		Batch:         composed,
		TotalCost:     payload.TotalCost,
	})
	if err != nil {
		writeError(w, errors.AsServiceError(err))
		return
	}

	status := http.StatusOK
	if result.Status == submit.StatusFailed {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, result)
}

// quoteRequest is the body of POST /api/v1/quote.
type quoteRequest struct {
	Account   string `json:"account"`
	Operation string `json:"operation"`
	TotalCost int64  `json:"total_cost"`
}

// quoteResponse previews the policy resolution and cost split without
// submitting or reserving anything.
type quoteResponse struct {
	Policy    *sponsorship.Policy `json:"policy,omitempty"`
	Cost      sponsorship.Split   `json:"cost"`
	Remaining int64               `json:"remaining_cap"`
}

func (h *Handler) handleQuote(w http.ResponseWriter, r *http.Request) {
	var payload quoteRequest
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, errors.BadRequest(err.Error()))
		return
	}
	if payload.Account == "" || payload.Operation == "" {
		writeError(w, errors.BadRequest("account and operation are required"))
		return
	}
	if payload.TotalCost < 0 {
		writeError(w, errors.BadRequest("total_cost must not be negative"))
		return
	}

	account, err := h.accounts.AccountState(r.Context(), payload.Account)
	if err != nil {
		writeError(w, errors.Internal("account state unavailable", err))
		return
	}

	policy, err := h.resolver.Resolve(r.Context(), payload.Operation, account)
	if err != nil {
		writeError(w, errors.Internal("policy resolution failed", err))
		return
	}

	resp := quoteResponse{Policy: policy, Remaining: sponsorship.UnboundedCap}
	if policy != nil {
		remaining, err := h.usage.Remaining(r.Context(), policy, account.Address)
		if err != nil {
			writeError(w, errors.Internal("usage lookup failed", err))
			return
		}
		resp.Remaining = remaining
		resp.Cost, err = sponsorship.SplitCost(policy, payload.TotalCost, remaining)
		if err != nil {
			writeError(w, errors.BadRequest(err.Error()))
			return
		}
	} else {
		resp.Cost = sponsorship.Split{PayerAmount: payload.TotalCost}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handlePolicies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"policies": h.resolver.Catalog().Policies(),
	})
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	operation := r.URL.Query().Get("operation")
	address := r.URL.Query().Get("account")
	if operation == "" || address == "" {
		writeError(w, errors.BadRequest("operation and account query parameters are required"))
		return
	}

	account, err := h.accounts.AccountState(r.Context(), address)
	if err != nil {
		writeError(w, errors.Internal("account state unavailable", err))
		return
	}

	policy, err := h.resolver.Resolve(r.Context(), operation, account)
	if err != nil {
		writeError(w, errors.Internal("policy resolution failed", err))
		return
	}
	if policy == nil {
		writeError(w, errors.NotFound("no policy applies"))
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

func (h *Handler) handleUsage(w http.ResponseWriter, r *http.Request) {
	account := mux.Vars(r)["account"]

	out := make(map[string]map[string]int64)
	for _, p := range h.resolver.Catalog().Policies() {
		windows, err := h.usage.AccountUsage(r.Context(), p, account)
		if err != nil {
			writeError(w, errors.Internal("usage lookup failed", err))
			return
		}
		if len(windows) > 0 {
			out[p.ID] = windows
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account": account,
		"usage":   out,
	})
}

// operationKind derives the policy-matching kind from the composed
// operations: a single operation keeps its own kind, a multi-operation
// request is a batch.
func operationKind(ops []batch.OperationRequest) string {
	if len(ops) == 1 || strings.HasPrefix(ops[0].Kind, sponsorship.OpBatchPrefix) {
		return ops[0].Kind
	}
	return sponsorship.OpBatchPrefix + ops[0].Kind
}

func decodeJSON(body io.Reader, v interface{}) error {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err *errors.ServiceError) {
	writeJSON(w, err.Status, map[string]interface{}{"error": err})
}
