// Package httpapi exposes the savings service over a JSON REST API.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/R3E-Network/savings_layer/internal/app/idempotency"
	"github.com/R3E-Network/savings_layer/internal/app/metrics"
	"github.com/R3E-Network/savings_layer/internal/app/services/savings"
	"github.com/R3E-Network/savings_layer/internal/app/storage"
	"github.com/R3E-Network/savings_layer/internal/derive"
	"github.com/R3E-Network/savings_layer/internal/ledger"
	"github.com/R3E-Network/savings_layer/internal/middleware"
	"github.com/R3E-Network/savings_layer/pkg/logger"
	"github.com/gorilla/mux"
)

// DefaultActivityLimit caps activity listings when no limit is given.
const DefaultActivityLimit = 50

// PublicPaths are served without authentication.
var PublicPaths = []string{"/healthz", "/metrics"}

// Options configures the middleware chain around the API routes. Nil fields
// disable the corresponding layer.
type Options struct {
	Auth        *middleware.AuthMiddleware
	RateLimiter *middleware.RateLimiter
	Idempotency idempotency.Cache
	CORS        *middleware.CORSMiddleware
	Tracing     *middleware.TracingMiddleware
	// Health reports readiness of backing stores for /healthz.
	Health func(context.Context) error
	Logger *logger.Logger
}

// handler bundles HTTP endpoints for the savings service.
type handler struct {
	svc     *savings.Service
	deriver derive.Deriver
	health  func(context.Context) error
	log     *logger.Logger
}

// NewHandler returns the routed API wrapped in the configured middleware.
func NewHandler(svc *savings.Service, opts Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{svc: svc, deriver: derive.Default, health: opts.Health, log: log}

	r := mux.NewRouter()
	r.Use(metrics.InstrumentHandler)
	if opts.Auth != nil {
		r.Use(opts.Auth.Handler)
	}
	if opts.RateLimiter != nil {
		r.Use(opts.RateLimiter.Handler)
	}
	if opts.Idempotency != nil {
		r.Use(idempotency.Middleware(opts.Idempotency, callerScope, log))
	}
	h.routes(r)

	var out http.Handler = r
	if opts.CORS != nil {
		out = opts.CORS.Handler(out)
	}
	if opts.Tracing != nil {
		out = opts.Tracing.Handler(out)
	}
	return out
}

func callerScope(r *http.Request) string {
	return middleware.CallerFrom(r.Context())
}

func (h *handler) routes(r *mux.Router) {
	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/derive", h.deriveAddress).Methods(http.MethodGet)

	r.HandleFunc("/users", h.initializeUser).Methods(http.MethodPost)
	r.HandleFunc("/users/{owner}", h.getAccount).Methods(http.MethodGet)
	r.HandleFunc("/users/{owner}/savings-rate", h.updateSavingsRate).Methods(http.MethodPut)
	r.HandleFunc("/users/{owner}/deposit", h.deposit).Methods(http.MethodPost)
	r.HandleFunc("/users/{owner}/withdraw", h.withdraw).Methods(http.MethodPost)
	r.HandleFunc("/users/{owner}/transfers", h.processTransfer).Methods(http.MethodPost)
	r.HandleFunc("/users/{owner}/deactivate", h.deactivate).Methods(http.MethodPost)
	r.HandleFunc("/users/{owner}/reactivate", h.reactivate).Methods(http.MethodPost)
	r.HandleFunc("/users/{owner}/activity", h.activity).Methods(http.MethodGet)

	r.HandleFunc("/users/{owner}/allocations/init", h.initializeAllocations).Methods(http.MethodPost)
	r.HandleFunc("/users/{owner}/allocations", h.getAllocations).Methods(http.MethodGet)
	r.HandleFunc("/users/{owner}/allocations", h.createAllocation).Methods(http.MethodPost)
	r.HandleFunc("/users/{owner}/allocations/{index}", h.updateAllocation).Methods(http.MethodPatch)
	r.HandleFunc("/users/{owner}/allocations/{index}", h.removeAllocation).Methods(http.MethodDelete)
	r.HandleFunc("/users/{owner}/allocations/{index}/withdraw", h.withdrawFromAllocation).Methods(http.MethodPost)

	r.HandleFunc("/treasury", h.initializeTreasury).Methods(http.MethodPost)
	r.HandleFunc("/treasury", h.getTreasury).Methods(http.MethodGet)
	r.HandleFunc("/treasury/withdraw", h.withdrawTreasury).Methods(http.MethodPost)
	r.HandleFunc("/treasury/paused", h.setPaused).Methods(http.MethodPut)
	r.HandleFunc("/treasury/tvl-cap", h.setTvlCap).Methods(http.MethodPut)
}

type rateRequest struct {
	SavingsRate int `json:"savings_rate"`
}

type amountRequest struct {
	Amount uint64 `json:"amount"`
}

type allocationRequest struct {
	Name       string `json:"name"`
	Percentage int    `json:"percentage"`
}

type allocationPatch struct {
	Name       *string `json:"name"`
	Percentage *int    `json:"percentage"`
}

type pausedRequest struct {
	Paused bool `json:"paused"`
}

type tvlCapRequest struct {
	TvlCap uint64 `json:"tvl_cap"`
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			h.log.WithError(err).Warn("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) deriveAddress(w http.ResponseWriter, r *http.Request) {
	ns := r.URL.Query().Get("namespace")
	owner := r.URL.Query().Get("owner")
	if !derive.IsKnownNamespace(ns) {
		writeErrorCode(w, http.StatusBadRequest, "InvalidNamespace", "unknown namespace "+strconv.Quote(ns))
		return
	}
	id, err := h.deriver.Derive(ns, owner)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"namespace":   ns,
		"owner":       owner,
		"address":     id.String(),
		"script_hash": id.Hash.StringLE(),
		"bump":        id.Bump,
	})
}

func (h *handler) initializeUser(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if !h.decode(w, r, &req) {
		return
	}
	rate, ok := toUint8(req.SavingsRate)
	if !ok {
		h.fail(w, r, ledger.ErrInvalidSavingsRate)
		return
	}
	res, err := h.svc.InitializeUser(r.Context(), caller(r), rate)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newAccountResponse(res))
}

func (h *handler) getAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := h.svc.GetAccount(r.Context(), owner(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAccountView(acct))
}

func (h *handler) updateSavingsRate(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if !h.decode(w, r, &req) {
		return
	}
	rate, ok := toUint8(req.SavingsRate)
	if !ok {
		h.fail(w, r, ledger.ErrInvalidSavingsRate)
		return
	}
	h.account(w, r)(h.svc.UpdateSavingsRate(r.Context(), caller(r), owner(r), rate))
}

func (h *handler) deposit(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.account(w, r)(h.svc.Deposit(r.Context(), caller(r), owner(r), req.Amount))
}

func (h *handler) withdraw(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.account(w, r)(h.svc.Withdraw(r.Context(), caller(r), owner(r), req.Amount))
}

func (h *handler) processTransfer(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.account(w, r)(h.svc.ProcessTransfer(r.Context(), caller(r), owner(r), req.Amount))
}

func (h *handler) deactivate(w http.ResponseWriter, r *http.Request) {
	h.account(w, r)(h.svc.Deactivate(r.Context(), caller(r), owner(r)))
}

func (h *handler) reactivate(w http.ResponseWriter, r *http.Request) {
	h.account(w, r)(h.svc.Reactivate(r.Context(), caller(r), owner(r)))
}

// account returns a writer for account results so handlers can pass the
// service call's return values straight through.
func (h *handler) account(w http.ResponseWriter, r *http.Request) func(savings.AccountResult, error) {
	return func(res savings.AccountResult, err error) {
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newAccountResponse(res))
	}
}

func (h *handler) activity(w http.ResponseWriter, r *http.Request) {
	limit := DefaultActivityLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeErrorCode(w, http.StatusBadRequest, "InvalidRequest", "limit must be a positive integer")
			return
		}
		limit = n
	}
	acts, err := h.svc.Activity(r.Context(), owner(r), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newActivityViews(acts))
}

func (h *handler) initializeAllocations(w http.ResponseWriter, r *http.Request) {
	if owner(r) != caller(r) {
		h.fail(w, r, ledger.ErrUnauthorized)
		return
	}
	res, err := h.svc.InitializeAllocationConfig(r.Context(), caller(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newAllocationResponse(res))
}

func (h *handler) getAllocations(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.svc.GetAllocations(r.Context(), owner(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAllocationsView(cfg))
}

func (h *handler) createAllocation(w http.ResponseWriter, r *http.Request) {
	var req allocationRequest
	if !h.decode(w, r, &req) {
		return
	}
	pct, ok := toUint8(req.Percentage)
	if !ok {
		h.fail(w, r, ledger.ErrInvalidAllocationPercentage)
		return
	}
	res, err := h.svc.CreateAllocation(r.Context(), caller(r), owner(r), req.Name, pct)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newAllocationResponse(res))
}

func (h *handler) updateAllocation(w http.ResponseWriter, r *http.Request) {
	index, ok := h.index(w, r)
	if !ok {
		return
	}
	var req allocationPatch
	if !h.decode(w, r, &req) {
		return
	}
	upd := ledger.AllocationUpdate{Name: req.Name}
	if req.Percentage != nil {
		pct, ok := toUint8(*req.Percentage)
		if !ok {
			h.fail(w, r, ledger.ErrInvalidAllocationPercentage)
			return
		}
		upd.Percentage = &pct
	}
	h.allocations(w, r)(h.svc.UpdateAllocation(r.Context(), caller(r), owner(r), index, upd))
}

func (h *handler) removeAllocation(w http.ResponseWriter, r *http.Request) {
	index, ok := h.index(w, r)
	if !ok {
		return
	}
	h.allocations(w, r)(h.svc.RemoveAllocation(r.Context(), caller(r), owner(r), index))
}

func (h *handler) withdrawFromAllocation(w http.ResponseWriter, r *http.Request) {
	index, ok := h.index(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.allocations(w, r)(h.svc.WithdrawFromAllocation(r.Context(), caller(r), owner(r), index, req.Amount))
}

func (h *handler) allocations(w http.ResponseWriter, r *http.Request) func(savings.AllocationResult, error) {
	return func(res savings.AllocationResult, err error) {
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newAllocationResponse(res))
	}
}

func (h *handler) index(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, "InvalidRequest", "allocation index must be an integer")
		return 0, false
	}
	return index, true
}

func (h *handler) initializeTreasury(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.InitializeTreasury(r.Context(), caller(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newTreasuryResponse(res))
}

func (h *handler) getTreasury(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.GetTreasury(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTreasuryView(t))
}

func (h *handler) withdrawTreasury(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.treasury(w, r)(h.svc.WithdrawTreasury(r.Context(), caller(r), req.Amount))
}

func (h *handler) setPaused(w http.ResponseWriter, r *http.Request) {
	var req pausedRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.treasury(w, r)(h.svc.SetPaused(r.Context(), caller(r), req.Paused))
}

func (h *handler) setTvlCap(w http.ResponseWriter, r *http.Request) {
	var req tvlCapRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.treasury(w, r)(h.svc.SetTvlCap(r.Context(), caller(r), req.TvlCap))
}

func (h *handler) treasury(w http.ResponseWriter, r *http.Request) func(savings.TreasuryResult, error) {
	return func(res savings.TreasuryResult, err error) {
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newTreasuryResponse(res))
	}
}

func caller(r *http.Request) string {
	return middleware.CallerFrom(r.Context())
}

func owner(r *http.Request) string {
	return mux.Vars(r)["owner"]
}

func toUint8(v int) (uint8, bool) {
	if v < 0 || v > 255 {
		return 0, false
	}
	return uint8(v), true
}

func (h *handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := decodeJSON(r.Body, dst); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		return false
	}
	return true
}

// fail maps err onto a status and the stable error code.
func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.log.WithError(err).WithField("path", r.URL.Path).
			WithField("caller", caller(r)).
			WithField("role", middleware.RoleFrom(r.Context())).
			WithField("trace_id", middleware.TraceIDFrom(r.Context())).Error("request failed")
		if code == "Internal" {
			msg = "internal error"
		}
	}
	writeErrorCode(w, status, code, msg)
}

func statusFor(err error) (int, string) {
	switch ledger.KindOf(err) {
	case ledger.KindValidation:
		return http.StatusBadRequest, ledger.CodeOf(err)
	case ledger.KindAuthorization:
		return http.StatusForbidden, ledger.CodeOf(err)
	case ledger.KindState:
		return http.StatusConflict, ledger.CodeOf(err)
	case ledger.KindCapacity:
		return http.StatusUnprocessableEntity, ledger.CodeOf(err)
	case ledger.KindFatal:
		return http.StatusInternalServerError, ledger.CodeOf(err)
	}
	switch {
	case errors.Is(err, savings.ErrTreasuryNotInitialized):
		return http.StatusNotFound, "TreasuryNotInitialized"
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "NotFound"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "Unavailable"
	}
	return http.StatusInternalServerError, "Internal"
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}
