/*
handlers.go - HTTP API handlers for the tenant ledger

PURPOSE:
  Exposes billing.Service via REST. Handles HTTP request/response, JSON
  serialization and validation, and delegates to the service.

ENDPOINTS:
  Leases:
    POST   /api/leases                      Register lease (opens receivable)
    GET    /api/leases?month=YYYY-MM        List leases (active in month)
    GET    /api/leases/{id}                 Get lease
    POST   /api/leases/{id}/no-show         Reverse every accrual of the lease

  Tenants:
    POST   /api/tenants/{id}/accruals       Post accrual(s)
    POST   /api/tenants/{id}/payments       Allocate a payment
    GET    /api/tenants/{id}/obligations    Derived obligations (?asOf=)
    GET    /api/tenants/{id}/aging          Aging buckets (?asOf=)
    GET    /api/tenants/{id}/statement      Running-balance statement (?from=&to=)

  Transactions:
    GET    /api/transactions                Query (?tenantId=&source=&from=&to=)
    GET    /api/transactions/{id}           Get with derived status
    POST   /api/transactions/{id}/reverse   Reverse

  Bookkeeping:
    POST   /api/expenses                    Record an expense
    POST   /api/journal-entries             Manual journal entry
    GET    /api/accounts                    Chart of accounts

  Reports:
    GET    /api/reports/trial-balance       ?asOf=&basis=accrual|cash
    GET    /api/reports/income-statement    ?from=&to=&basis=
    GET    /api/reports/cash-flow           ?from=&to=

ERROR HANDLING:
  Errors are returned as JSON {error, code, details} with status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (already accrued, duplicate, already reversed)
  - 503: Tenant lock timeout (retryable)
  - 500: Internal errors

SECURITY NOTE:
  No authentication. X-User is recorded as created_by when present.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/tenant-ledger/billing"
	"github.com/warp/tenant-ledger/ledger"
	"github.com/warp/tenant-ledger/logger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *billing.Service
	Logger  *zap.Logger
	// Now defaults asOf/to query parameters.
	Now func() time.Time
	// Health is checked by /healthz, keyed by component name.
	Health map[string]Pinger

	validate *validator.Validate
}

// NewHandler creates a handler over svc.
func NewHandler(svc *billing.Service, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	v := validator.New()
	// Use JSON tag names for field names in errors
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		Service:  svc,
		Logger:   log,
		Now:      time.Now,
		Health:   map[string]Pinger{},
		validate: v,
	}
}

// =============================================================================
// LEASE ENDPOINTS
// =============================================================================

// CreateLease registers a lease.
// POST /api/leases
func (h *Handler) CreateLease(w http.ResponseWriter, r *http.Request) {
	var req CreateLeaseRequest
	if !h.decode(w, r, &req) {
		return
	}
	lease, err := h.Service.RegisterLease(r.Context(), req.toLease())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, lease)
}

// GetLease returns one lease.
// GET /api/leases/{id}
func (h *Handler) GetLease(w http.ResponseWriter, r *http.Request) {
	lease, err := h.Service.GetLease(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lease)
}

// ListLeases returns every lease, or those active in ?month=.
// GET /api/leases
func (h *Handler) ListLeases(w http.ResponseWriter, r *http.Request) {
	var (
		leases []billing.Lease
		err    error
	)
	if m := r.URL.Query().Get("month"); m != "" {
		month, perr := ledger.ParseMonth(m)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "Invalid month (use YYYY-MM)", ledger.Code(perr), perr)
			return
		}
		leases, err = h.Service.ActiveLeases(r.Context(), month)
	} else {
		leases, err = h.Service.Leases.ListLeases(r.Context())
	}
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if leases == nil {
		leases = []billing.Lease{}
	}
	writeJSON(w, http.StatusOK, leases)
}

// NoShow reverses every accrual of the lease.
// POST /api/leases/{id}/no-show
func (h *Handler) NoShow(w http.ResponseWriter, r *http.Request) {
	var req NoShowRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	reversals, err := h.Service.HandleNoShow(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ReversalsResponse{Reversals: reversals})
}

// =============================================================================
// TENANT ENDPOINTS
// =============================================================================

// Accrue posts the tenant's accrual for a month, one lease's accrual, or
// every missing month through the given one.
// POST /api/tenants/{id}/accruals
func (h *Handler) Accrue(w http.ResponseWriter, r *http.Request) {
	var req AccrueRequest
	if !h.decode(w, r, &req) {
		return
	}
	month, err := ledger.ParseMonth(req.Month)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid month (use YYYY-MM)", ledger.Code(err), err)
		return
	}
	ctx := r.Context()
	tenant := ledger.TenantID(chi.URLParam(r, "id"))

	var posted []ledger.Transaction
	switch {
	case req.Through:
		posted, err = h.Service.AccrueThrough(ctx, tenant, month)
	case req.LeaseID != "":
		var lease billing.Lease
		if lease, err = h.Service.GetLease(ctx, req.LeaseID); err == nil && lease.TenantID != tenant {
			err = fmt.Errorf("%w: lease %s does not belong to tenant %s", ledger.ErrInvalidLease, req.LeaseID, tenant)
		}
		if err == nil {
			var tx ledger.Transaction
			if tx, err = h.Service.PostLeaseAccrual(ctx, req.LeaseID, month); err == nil {
				posted = []ledger.Transaction{tx}
			}
		}
	default:
		var tx ledger.Transaction
		if tx, err = h.Service.PostAccrual(ctx, tenant, month); err == nil {
			posted = []ledger.Transaction{tx}
		}
	}
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if posted == nil {
		posted = []ledger.Transaction{}
	}
	writeJSON(w, http.StatusCreated, AccrueResponse{Posted: posted})
}

// Pay allocates a tenant payment.
// POST /api/tenants/{id}/payments
func (h *Handler) Pay(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	tenant := chi.URLParam(r, "id")
	slices, err := h.Service.AllocatePayment(r.Context(), req.toPayment(tenant))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	resp := PaymentResponse{TenantID: tenant, Amount: req.Amount, Slices: slices}
	for _, s := range slices {
		resp.Allocated = resp.Allocated.Add(s.TotalDebit)
	}
	writeJSON(w, http.StatusCreated, resp)
}

// GetObligations returns the derived monthly obligations.
// GET /api/tenants/{id}/obligations?asOf=YYYY-MM-DD
func (h *Handler) GetObligations(w http.ResponseWriter, r *http.Request) {
	asOf, ok := h.dayParam(w, r, "asOf", h.Now())
	if !ok {
		return
	}
	obligations, err := h.Service.GetObligations(r.Context(), ledger.TenantID(chi.URLParam(r, "id")), asOf)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if obligations == nil {
		obligations = []billing.MonthlyObligation{}
	}
	writeJSON(w, http.StatusOK, obligations)
}

// GetAging returns the tenant's aging buckets.
// GET /api/tenants/{id}/aging?asOf=YYYY-MM-DD
func (h *Handler) GetAging(w http.ResponseWriter, r *http.Request) {
	asOf, ok := h.dayParam(w, r, "asOf", h.Now())
	if !ok {
		return
	}
	aging, err := h.Service.GetAging(r.Context(), ledger.TenantID(chi.URLParam(r, "id")), asOf)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, aging)
}

// GetStatement returns the tenant's running-balance statement.
// GET /api/tenants/{id}/statement?from=&to=
func (h *Handler) GetStatement(w http.ResponseWriter, r *http.Request) {
	from, ok := h.dayParam(w, r, "from", time.Time{})
	if !ok {
		return
	}
	to, ok := h.dayParam(w, r, "to", h.Now())
	if !ok {
		return
	}
	st, err := h.Service.GetStatement(r.Context(), ledger.TenantID(chi.URLParam(r, "id")), from, to)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// =============================================================================
// TRANSACTION ENDPOINTS
// =============================================================================

// ListTransactions queries the log.
// GET /api/transactions?tenantId=&leaseId=&source=&month=&from=&to=
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := ledger.Query{
		TenantID: ledger.TenantID(q.Get("tenantId")),
		LeaseID:  q.Get("leaseId"),
	}
	for _, s := range q["source"] {
		src := ledger.Source(s)
		if !src.IsValid() {
			writeError(w, http.StatusBadRequest, "Invalid source", "INVALID_REQUEST", nil)
			return
		}
		query.Sources = append(query.Sources, src)
	}
	if m := q.Get("month"); m != "" {
		month, err := ledger.ParseMonth(m)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid month (use YYYY-MM)", ledger.Code(err), err)
			return
		}
		query.Month = month
	}
	var ok bool
	if query.From, ok = h.dayParam(w, r, "from", time.Time{}); !ok {
		return
	}
	if query.To, ok = h.dayParam(w, r, "to", time.Time{}); !ok {
		return
	}

	txs, err := h.Service.Ledger.Find(r.Context(), query)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if txs == nil {
		txs = []ledger.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

// GetTransaction returns one transaction with its derived status.
// GET /api/transactions/{id}
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.Service.GetTransaction(r.Context(), ledger.TransactionID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// ReverseTransaction posts the mirror of a transaction.
// POST /api/transactions/{id}/reverse
func (h *Handler) ReverseTransaction(w http.ResponseWriter, r *http.Request) {
	var req ReverseRequest
	if !h.decode(w, r, &req) {
		return
	}
	rev, err := h.Service.ReverseTransaction(r.Context(), ledger.TransactionID(chi.URLParam(r, "id")), req.Reason)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rev)
}

// =============================================================================
// BOOKKEEPING ENDPOINTS
// =============================================================================

// RecordExpense posts an expense payment.
// POST /api/expenses
func (h *Handler) RecordExpense(w http.ResponseWriter, r *http.Request) {
	var req ExpenseRequest
	if !h.decode(w, r, &req) {
		return
	}
	tx, err := h.Service.RecordExpense(r.Context(), req.toExpense(r.Header.Get("X-User")))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// PostJournalEntry posts a manual entry.
// POST /api/journal-entries
func (h *Handler) PostJournalEntry(w http.ResponseWriter, r *http.Request) {
	var req ManualEntryRequest
	if !h.decode(w, r, &req) {
		return
	}
	tx, err := h.Service.PostManual(r.Context(), req.toEntry(r.Header.Get("X-User")))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// ListAccounts returns the chart of accounts, tenant sub-ledgers included.
// GET /api/accounts
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Service.Accounts())
}

// =============================================================================
// REPORT ENDPOINTS
// =============================================================================

// GetTrialBalance returns the trial balance.
// GET /api/reports/trial-balance?asOf=&basis=
func (h *Handler) GetTrialBalance(w http.ResponseWriter, r *http.Request) {
	asOf, ok := h.dayParam(w, r, "asOf", h.Now())
	if !ok {
		return
	}
	basis, ok := basisParam(w, r)
	if !ok {
		return
	}
	tb, err := h.Service.GetTrialBalance(r.Context(), asOf, basis)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tb)
}

// GetIncomeStatement returns income and expenses over a range.
// GET /api/reports/income-statement?from=&to=&basis=
func (h *Handler) GetIncomeStatement(w http.ResponseWriter, r *http.Request) {
	from, to, ok := h.rangeParams(w, r)
	if !ok {
		return
	}
	basis, ok := basisParam(w, r)
	if !ok {
		return
	}
	is, err := h.Service.GetIncomeStatement(r.Context(), from, to, basis)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, is)
}

// GetCashFlow returns cash in and out by month.
// GET /api/reports/cash-flow?from=&to=
func (h *Handler) GetCashFlow(w http.ResponseWriter, r *http.Request) {
	from, to, ok := h.rangeParams(w, r)
	if !ok {
		return
	}
	cf, err := h.Service.GetCashFlow(r.Context(), from, to)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cf)
}

// Healthz pings every registered dependency.
// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := map[string]string{}
	code := http.StatusOK
	for name, p := range h.Health {
		if err := p.Ping(ctx); err != nil {
			status[name] = err.Error()
			code = http.StatusServiceUnavailable
			continue
		}
		status[name] = "ok"
	}
	writeJSON(w, code, status)
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads a JSON body into dst and validates it. On failure it writes
// the 400 response and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			writeError(w, http.StatusBadRequest, "Request validation failed", "VALIDATION_FAILED", err)
			return false
		}
		resp := ErrorResponse{Error: "Request validation failed", Code: "VALIDATION_FAILED"}
		for _, fe := range verrs {
			resp.Fields = append(resp.Fields, FieldError{Field: fe.Field(), Message: validationMessage(fe)})
		}
		writeJSON(w, http.StatusBadRequest, resp)
		return false
	}
	return true
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "max":
		return "Must be at most " + fe.Param() + " characters"
	case "min":
		return "Must have at least " + fe.Param() + " items"
	case "oneof":
		return "Must be one of: " + fe.Param()
	case "datetime":
		return "Must match the layout " + fe.Param()
	default:
		return "Failed on " + fe.Tag()
	}
}

// dayParam parses a YYYY-MM-DD query parameter, def when absent.
func (h *Handler) dayParam(w http.ResponseWriter, r *http.Request, key string, def time.Time) (time.Time, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, true
	}
	t, err := time.Parse(dayLayout, raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid %s (use YYYY-MM-DD)", key), "INVALID_REQUEST", err)
		return time.Time{}, false
	}
	return t, true
}

// rangeParams parses from/to; from defaults to the start of to's month.
func (h *Handler) rangeParams(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	to, ok := h.dayParam(w, r, "to", h.Now())
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	from, ok := h.dayParam(w, r, "from", ledger.MonthOf(to).Start())
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "to is before from", "INVALID_REQUEST", nil)
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

func basisParam(w http.ResponseWriter, r *http.Request) (billing.Basis, bool) {
	basis, err := billing.ParseBasis(r.URL.Query().Get("basis"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid basis (use accrual or cash)", ledger.Code(err), err)
		return "", false
	}
	return basis, true
}

// writeServiceError maps a service error to its status code.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := ledger.Code(err)
	switch {
	case ledger.IsValidation(err):
		writeError(w, http.StatusBadRequest, "Request rejected", code, err)
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", code, err)
	case ledger.IsConflict(err):
		writeError(w, http.StatusConflict, "Conflict", code, err)
	case ledger.IsRetryable(err):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "Tenant is busy, retry", code, err)
	default:
		logger.FromContext(r.Context()).Error("request failed", zap.Error(err), zap.String("code", code))
		writeError(w, http.StatusInternalServerError, "Internal error", code, nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message, code string, err error) {
	resp := ErrorResponse{Error: message, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
