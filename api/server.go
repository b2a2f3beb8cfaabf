/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:    Unique ID per request for tracing
  2. RealIP:       Client address from X-Forwarded-For
  3. Logger:       zap request log with a request-scoped logger in context
  4. Recovery:     Panic recovery (500 instead of crash)
  5. CORS:         Cross-origin requests, only when origins are configured
  6. RequestSize:  Body size cap

ROUTE GROUPS:
  /api/leases/*         Lease registration and no-shows
  /api/tenants/*        Accruals, payments, obligations, aging, statements
  /api/transactions/*   Log queries and reversals
  /api/expenses         Expense recording
  /api/journal-entries  Manual journal entries
  /api/accounts         Chart of accounts
  /api/reports/*        Trial balance, income statement, cash flow
  /api/scenarios/*      Demo scenarios
  /healthz              Dependency health

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/warp/tenant-ledger/logger"
)

// RouterOptions tunes the middleware stack.
type RouterOptions struct {
	CORSAllowOrigins []string
	MaxBodySize      int64
	Logger           *zap.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	log := opts.Logger
	if log == nil {
		log = h.Logger
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.Middleware(log))
	r.Use(logger.Recovery(log))
	if len(opts.CORSAllowOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.CORSAllowOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User", "X-Request-Id"},
			ExposedHeaders:   []string{"Retry-After"},
			AllowCredentials: true,
		}))
	}
	if opts.MaxBodySize > 0 {
		r.Use(middleware.RequestSize(opts.MaxBodySize))
	}

	r.Get("/healthz", h.Healthz)

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Lease routes
		r.Route("/leases", func(r chi.Router) {
			r.Get("/", h.ListLeases)
			r.Post("/", h.CreateLease)
			r.Get("/{id}", h.GetLease)
			r.Post("/{id}/no-show", h.NoShow)
		})

		// Tenant routes
		r.Route("/tenants/{id}", func(r chi.Router) {
			r.Post("/accruals", h.Accrue)
			r.Post("/payments", h.Pay)
			r.Get("/obligations", h.GetObligations)
			r.Get("/aging", h.GetAging)
			r.Get("/statement", h.GetStatement)
		})

		// Transaction routes
		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", h.ListTransactions)
			r.Get("/{id}", h.GetTransaction)
			r.Post("/{id}/reverse", h.ReverseTransaction)
		})

		r.Post("/expenses", h.RecordExpense)
		r.Post("/journal-entries", h.PostJournalEntry)
		r.Get("/accounts", h.ListAccounts)

		// Report routes
		r.Route("/reports", func(r chi.Router) {
			r.Get("/trial-balance", h.GetTrialBalance)
			r.Get("/income-statement", h.GetIncomeStatement)
			r.Get("/cash-flow", h.GetCashFlow)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Route not found", "NOT_FOUND", nil)
	})

	return r
}
