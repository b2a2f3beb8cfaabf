/*
dto.go - Request and response bodies of the ledger API

NAMING CONVENTION:
  - *Request: Request body types from clients, validated with
    go-playground/validator struct tags before reaching the service
  - *Response: Wrappers around domain values

Domain values that already carry JSON tags (ledger.Transaction,
billing.MonthlyObligation, billing.TrialBalance, ...) are returned as they
are. Amounts are decimals and may be sent as JSON strings or numbers.

DATES:
  Days are "YYYY-MM-DD", months are "YYYY-MM".

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/tenant-ledger/accounts"
	"github.com/warp/tenant-ledger/billing"
	"github.com/warp/tenant-ledger/ledger"
)

const dayLayout = time.DateOnly

// =============================================================================
// LEASES
// =============================================================================

// CreateLeaseRequest registers a lease and opens the tenant's receivable.
type CreateLeaseRequest struct {
	ID            string          `json:"id" validate:"required,max=64"`
	TenantID      string          `json:"tenantId" validate:"required,max=64"`
	ResidenceID   string          `json:"residenceId" validate:"max=64"`
	RoomRate      decimal.Decimal `json:"roomRate"`
	AdminFee      decimal.Decimal `json:"adminFee"`
	DepositAmount decimal.Decimal `json:"depositAmount"`
	LeaseStart    string          `json:"leaseStart" validate:"required,datetime=2006-01-02"`
	LeaseEnd      string          `json:"leaseEnd" validate:"required,datetime=2006-01-02"`
}

func (r CreateLeaseRequest) toLease() billing.Lease {
	start, _ := time.Parse(dayLayout, r.LeaseStart)
	end, _ := time.Parse(dayLayout, r.LeaseEnd)
	return billing.Lease{
		ID:            r.ID,
		TenantID:      ledger.TenantID(r.TenantID),
		ResidenceID:   r.ResidenceID,
		RoomRate:      r.RoomRate,
		AdminFee:      r.AdminFee,
		DepositAmount: r.DepositAmount,
		LeaseStart:    start,
		LeaseEnd:      end,
	}
}

// NoShowRequest reverses every accrual of a lease.
type NoShowRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// =============================================================================
// ACCRUALS / PAYMENTS / REVERSALS
// =============================================================================

// AccrueRequest posts one month, or with Through every missing month up to it.
type AccrueRequest struct {
	Month   string `json:"month" validate:"required,datetime=2006-01"`
	LeaseID string `json:"leaseId" validate:"max=64"`
	Through bool   `json:"through"`
}

// AccrueResponse lists the accruals posted by the call.
type AccrueResponse struct {
	Posted []ledger.Transaction `json:"posted"`
}

// PaymentRequest is a tenant payment to allocate.
type PaymentRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Date      string          `json:"date" validate:"required,datetime=2006-01-02"`
	Method    string          `json:"method" validate:"required,oneof=cash bank_transfer card mobile_money"`
	Reference string          `json:"reference" validate:"max=128"`
	PaymentID string          `json:"paymentId" validate:"max=64"`
}

func (r PaymentRequest) toPayment(tenant string) billing.PaymentRequest {
	date, _ := time.Parse(dayLayout, r.Date)
	return billing.PaymentRequest{
		TenantID:  ledger.TenantID(tenant),
		Amount:    r.Amount,
		Date:      date,
		Method:    accounts.PaymentMethod(r.Method),
		Reference: r.Reference,
		PaymentID: r.PaymentID,
	}
}

// PaymentResponse is the set of slices one payment was split into.
type PaymentResponse struct {
	TenantID  string               `json:"tenantId"`
	Amount    decimal.Decimal      `json:"amount"`
	Slices    []ledger.Transaction `json:"slices"`
	Allocated decimal.Decimal      `json:"allocated"`
}

// ReverseRequest reverses one transaction.
type ReverseRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// ReversalsResponse lists reversals posted by one call.
type ReversalsResponse struct {
	Reversals []ledger.Transaction `json:"reversals"`
}

// =============================================================================
// EXPENSES / MANUAL ENTRIES
// =============================================================================

// ExpenseRequest records money paid out.
type ExpenseRequest struct {
	Category       string          `json:"category" validate:"required,max=64"`
	Amount         decimal.Decimal `json:"amount"`
	Date           string          `json:"date" validate:"required,datetime=2006-01-02"`
	Method         string          `json:"method" validate:"required,oneof=cash bank_transfer card mobile_money"`
	Description    string          `json:"description" validate:"max=500"`
	Reference      string          `json:"reference" validate:"max=128"`
	IdempotencyKey string          `json:"idempotencyKey" validate:"max=128"`
}

func (r ExpenseRequest) toExpense(createdBy string) billing.ExpenseRequest {
	date, _ := time.Parse(dayLayout, r.Date)
	return billing.ExpenseRequest{
		Category:       r.Category,
		Amount:         r.Amount,
		Date:           date,
		Method:         accounts.PaymentMethod(r.Method),
		Description:    r.Description,
		Reference:      r.Reference,
		IdempotencyKey: r.IdempotencyKey,
		CreatedBy:      createdBy,
	}
}

// ManualEntryRequest is a journal entry typed in by an accountant.
type ManualEntryRequest struct {
	Date           string              `json:"date" validate:"required,datetime=2006-01-02"`
	Description    string              `json:"description" validate:"required,max=500"`
	Reference      string              `json:"reference" validate:"max=128"`
	IdempotencyKey string              `json:"idempotencyKey" validate:"max=128"`
	Lines          []ManualLineRequest `json:"lines" validate:"required,min=2,dive"`
}

type ManualLineRequest struct {
	AccountCode string          `json:"accountCode" validate:"required,max=64"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Description string          `json:"description" validate:"max=500"`
}

func (r ManualEntryRequest) toEntry(createdBy string) billing.ManualEntry {
	date, _ := time.Parse(dayLayout, r.Date)
	lines := make([]billing.ManualLine, len(r.Lines))
	for i, l := range r.Lines {
		lines[i] = billing.ManualLine{
			AccountCode: ledger.AccountCode(l.AccountCode),
			Debit:       l.Debit,
			Credit:      l.Credit,
			Description: l.Description,
		}
	}
	return billing.ManualEntry{
		Date:           date,
		Description:    r.Description,
		Reference:      r.Reference,
		Lines:          lines,
		IdempotencyKey: r.IdempotencyKey,
		CreatedBy:      createdBy,
	}
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo data set.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenarioId" validate:"required"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string       `json:"error"`
	Code    string       `json:"code"`
	Details string       `json:"details,omitempty"`
	Fields  []FieldError `json:"fields,omitempty"`
}

// FieldError is one failed validation rule.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}
