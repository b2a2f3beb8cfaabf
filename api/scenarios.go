/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the ledger with realistic
	data for demos and for exercising the reports. Each scenario registers
	leases, posts accruals, and allocates payments through billing.Service,
	so every entry passes the same validation as a real request.

AVAILABLE SCENARIOS:

	mid-month-move-in: Prorated first month, partial payment
	prepayment:        Payment larger than the debt, surplus prepays ahead
	no-show:           Lease accrued, then reversed as a no-show
	overdue:           Six months accrued, one payment, aging buckets filled
	operating-costs:   Expenses and an owner contribution for the reports

HOW SCENARIOS WORK:
 1. Register leases (opens the tenant receivable sub-accounts)
 2. Post accruals for the covered months
 3. Allocate payments and record expenses
 4. Optionally reverse entries

USAGE VIA API:

	POST /api/scenarios/load
	{"scenarioId": "overdue"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description and loader

NOTE:

	The ledger is append-only, so scenarios are never reset. Loading the
	same scenario twice fails with 409 on its first accrual. Each scenario
	uses its own tenant IDs so different scenarios do not collide.

SEE ALSO:
  - handlers.go: route wiring
  - billing/service.go: the operations each loader calls
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/tenant-ledger/accounts"
	"github.com/warp/tenant-ledger/billing"
	"github.com/warp/tenant-ledger/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ScenarioDTO
	load func(ctx context.Context, svc *billing.Service) error
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "mid-month-move-in",
			Name:        "Mid-Month Move-In",
			Description: "Lease starting on the 15th: prorated first month, partial payment",
		},
		load: loadMidMonthMoveIn,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "prepayment",
			Name:        "Prepayment",
			Description: "Tenant pays three months up front; surplus settles future months",
		},
		load: loadPrepayment,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "no-show",
			Name:        "No-Show",
			Description: "Two months accrued, then every accrual reversed as a no-show",
		},
		load: loadNoShow,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "overdue",
			Name:        "Overdue Tenant",
			Description: "Six months accrued with a single payment; aging spreads across buckets",
		},
		load: loadOverdue,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "operating-costs",
			Name:        "Operating Costs",
			Description: "Rent income plus expenses and an owner contribution for the income statement",
		},
		load: loadOperatingCosts,
	},
}

// Scenarios lists the available demo data sets.
func Scenarios() []ScenarioDTO {
	out := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		out[i] = s.ScenarioDTO
	}
	return out
}

// LoadScenario posts the named scenario through svc.
func LoadScenario(ctx context.Context, svc *billing.Service, id string) error {
	for _, s := range scenarios {
		if s.ID == id {
			return s.load(ctx, svc)
		}
	}
	return fmt.Errorf("%w: scenario %q", ledger.ErrNotFound, id)
}

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Scenarios())
}

// LoadScenario loads a predefined scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := LoadScenario(r.Context(), h.Service, req.ScenarioID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.Logger.Info("scenario loaded", zap.String("scenario", req.ScenarioID))
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func loadMidMonthMoveIn(ctx context.Context, svc *billing.Service) error {
	lease := billing.Lease{
		ID:            "L-ada-2025",
		TenantID:      "T-ada",
		ResidenceID:   "R-north",
		RoomRate:      money("3100"),
		AdminFee:      money("150"),
		DepositAmount: money("500"),
		LeaseStart:    day("2025-03-15"),
		LeaseEnd:      day("2025-08-31"),
	}
	if _, err := svc.RegisterLease(ctx, lease); err != nil {
		return err
	}
	if _, err := svc.AccrueThrough(ctx, lease.TenantID, ledger.MustParseMonth("2025-05")); err != nil {
		return err
	}
	_, err := svc.AllocatePayment(ctx, billing.PaymentRequest{
		TenantID:  lease.TenantID,
		Amount:    money("2000"),
		Date:      day("2025-04-02"),
		Method:    accounts.PaymentBankTransfer,
		Reference: "BT-ADA-0402",
		PaymentID: "demo-ada-1",
	})
	return err
}

func loadPrepayment(ctx context.Context, svc *billing.Service) error {
	lease := billing.Lease{
		ID:          "L-ben-2025",
		TenantID:    "T-ben",
		ResidenceID: "R-north",
		RoomRate:    money("1200"),
		LeaseStart:  day("2025-01-01"),
		LeaseEnd:    day("2025-06-30"),
	}
	if _, err := svc.RegisterLease(ctx, lease); err != nil {
		return err
	}
	if _, err := svc.PostAccrual(ctx, lease.TenantID, ledger.MustParseMonth("2025-01")); err != nil {
		return err
	}
	_, err := svc.AllocatePayment(ctx, billing.PaymentRequest{
		TenantID:  lease.TenantID,
		Amount:    money("3600"),
		Date:      day("2025-01-03"),
		Method:    accounts.PaymentMobileMoney,
		Reference: "MM-BEN-0103",
		PaymentID: "demo-ben-1",
	})
	return err
}

func loadNoShow(ctx context.Context, svc *billing.Service) error {
	lease := billing.Lease{
		ID:            "L-cyd-2025",
		TenantID:      "T-cyd",
		ResidenceID:   "R-south",
		RoomRate:      money("950"),
		AdminFee:      money("75"),
		DepositAmount: money("300"),
		LeaseStart:    day("2025-09-01"),
		LeaseEnd:      day("2026-06-30"),
	}
	if _, err := svc.RegisterLease(ctx, lease); err != nil {
		return err
	}
	if _, err := svc.AccrueThrough(ctx, lease.TenantID, ledger.MustParseMonth("2025-10")); err != nil {
		return err
	}
	_, err := svc.HandleNoShow(ctx, lease.ID, "tenant never collected keys")
	return err
}

func loadOverdue(ctx context.Context, svc *billing.Service) error {
	lease := billing.Lease{
		ID:          "L-dee-2025",
		TenantID:    "T-dee",
		ResidenceID: "R-south",
		RoomRate:    money("900"),
		AdminFee:    money("50"),
		LeaseStart:  day("2025-01-01"),
		LeaseEnd:    day("2025-12-31"),
	}
	if _, err := svc.RegisterLease(ctx, lease); err != nil {
		return err
	}
	if _, err := svc.AccrueThrough(ctx, lease.TenantID, ledger.MustParseMonth("2025-06")); err != nil {
		return err
	}
	_, err := svc.AllocatePayment(ctx, billing.PaymentRequest{
		TenantID:  lease.TenantID,
		Amount:    money("500"),
		Date:      day("2025-02-10"),
		Method:    accounts.PaymentCash,
		Reference: "RCPT-0042",
		PaymentID: "demo-dee-1",
	})
	return err
}

func loadOperatingCosts(ctx context.Context, svc *billing.Service) error {
	lease := billing.Lease{
		ID:          "L-eli-2025",
		TenantID:    "T-eli",
		ResidenceID: "R-east",
		RoomRate:    money("1500"),
		AdminFee:    money("100"),
		LeaseStart:  day("2025-02-01"),
		LeaseEnd:    day("2026-01-31"),
	}
	if _, err := svc.RegisterLease(ctx, lease); err != nil {
		return err
	}
	if _, err := svc.AccrueThrough(ctx, lease.TenantID, ledger.MustParseMonth("2025-03")); err != nil {
		return err
	}
	if _, err := svc.AllocatePayment(ctx, billing.PaymentRequest{
		TenantID:  lease.TenantID,
		Amount:    money("3200"),
		Date:      day("2025-03-01"),
		Method:    accounts.PaymentCard,
		PaymentID: "demo-eli-1",
	}); err != nil {
		return err
	}

	if _, err := svc.PostManual(ctx, billing.ManualEntry{
		Date:        day("2025-02-01"),
		Description: "Owner capital contribution",
		Lines: []billing.ManualLine{
			{AccountCode: accounts.CodeBank, Debit: money("10000")},
			{AccountCode: accounts.CodeEquity, Credit: money("10000")},
		},
		IdempotencyKey: "demo:operating-costs:capital",
		CreatedBy:      "demo",
	}); err != nil {
		return err
	}

	expenses := []billing.ExpenseRequest{
		{Category: "utilities", Amount: money("420.55"), Date: day("2025-02-28"), Method: accounts.PaymentBankTransfer, Reference: "ELEC-FEB"},
		{Category: "cleaning", Amount: money("180"), Date: day("2025-03-05"), Method: accounts.PaymentCash},
		{Category: "maintenance", Amount: money("95.40"), Date: day("2025-03-12"), Method: accounts.PaymentCard, Description: "Boiler valve"},
	}
	for i, e := range expenses {
		e.IdempotencyKey = fmt.Sprintf("demo:operating-costs:expense:%d", i)
		e.CreatedBy = "demo"
		if _, err := svc.RecordExpense(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func money(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(s string) time.Time {
	t, err := time.Parse(dayLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}
