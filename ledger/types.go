/*
Package ledger provides the double-entry core of the tenant ledger.

PURPOSE:
  This package contains the storage-agnostic types and the append-only
  Ledger used for every money movement: rent accruals, payment slices,
  expenses, manual entries, and reversals. Nothing in it knows about leases
  or allocation rules; those live in billing/.

KEY CONCEPTS IN THIS FILE (types.go):
  - Line: one leg of a transaction (exactly one of debit/credit non-zero)
  - Transaction: an immutable, balanced set of lines
  - Metadata: allocation context (tenant, accrual month, month settled, ...)
  - Source: who produced the transaction (accrual, payment, reversal, ...)

DESIGN PRINCIPLES:
  1. Immutability: Transactions are never modified, only reversed
  2. Precision: Money is decimal.Decimal with at most 2 decimal places
  3. Balance: NewTransaction refuses to build an unbalanced transaction
  4. Auditability: Every transaction has source, reference, and idempotency key

USAGE:
  tx, err := ledger.NewTransaction(ledger.Transaction{
      ID:     "tx-1",
      Date:   time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
      Source: ledger.SourceManual,
      Entries: []ledger.Line{
          ledger.Debit("1000", "Cash", ledger.AccountAsset, decimal.NewFromInt(50)),
          ledger.Credit("3000", "Owner Equity", ledger.AccountEquity, decimal.NewFromInt(50)),
      },
  })

SEE ALSO:
  - ledger.go: Posting and reading transactions
  - store.go: Persistence interface
  - period.go: Month / Period
*/
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TransactionID string
type TenantID string
type AccountCode string

// =============================================================================
// ACCOUNT TYPE
// =============================================================================

type AccountType string

const (
	AccountAsset     AccountType = "asset"
	AccountLiability AccountType = "liability"
	AccountIncome    AccountType = "income"
	AccountExpense   AccountType = "expense"
	AccountEquity    AccountType = "equity"
)

func (t AccountType) IsValid() bool {
	switch t {
	case AccountAsset, AccountLiability, AccountIncome, AccountExpense, AccountEquity:
		return true
	}
	return false
}

// DebitNormal reports whether the account's balance grows with debits.
func (t AccountType) DebitNormal() bool {
	return t == AccountAsset || t == AccountExpense
}

// =============================================================================
// SOURCE / STATUS / COMPONENT
// =============================================================================

// Source identifies what produced a transaction.
type Source string

const (
	SourceAccrual        Source = "accrual"
	SourcePayment        Source = "payment"
	SourceReversal       Source = "reversal"
	SourceManual         Source = "manual"
	SourceExpensePayment Source = "expense_payment"
)

func (s Source) IsValid() bool {
	switch s {
	case SourceAccrual, SourcePayment, SourceReversal, SourceManual, SourceExpensePayment:
		return true
	}
	return false
}

// IsCash reports whether the source moves cash (cash-basis reporting).
func (s Source) IsCash() bool {
	return s == SourcePayment || s == SourceExpensePayment
}

// Status is always StatusPosted in storage. "Void" is derived: a
// transaction is void when a reversal references it.
type Status string

const (
	StatusPosted Status = "posted"
	StatusVoid   Status = "void"
)

// Component is the charge type a receivable line belongs to.
type Component string

const (
	ComponentRent       Component = "rent"
	ComponentAdminFee   Component = "admin_fee"
	ComponentDeposit    Component = "deposit"
	ComponentPrepayment Component = "prepayment"
	ComponentCredit     Component = "credit"
	ComponentExpense    Component = "expense"
)

// DefaultComponentOrder is the order charges within a month are paid off.
var DefaultComponentOrder = []Component{ComponentRent, ComponentAdminFee, ComponentDeposit}

// =============================================================================
// LINE - One leg of a transaction
// =============================================================================

// Line is one leg of a transaction. Exactly one of Debit and Credit is
// non-zero, both are non-negative, and neither has more than 2 decimals.
type Line struct {
	AccountCode AccountCode     `json:"accountCode"`
	AccountName string          `json:"accountName"`
	AccountType AccountType     `json:"accountType"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Component   Component       `json:"component,omitempty"`
	Description string          `json:"description,omitempty"`
}

// Debit builds a debit line.
func Debit(code AccountCode, name string, typ AccountType, amount decimal.Decimal) Line {
	return Line{AccountCode: code, AccountName: name, AccountType: typ, Debit: amount, Credit: decimal.Zero}
}

// Credit builds a credit line.
func Credit(code AccountCode, name string, typ AccountType, amount decimal.Decimal) Line {
	return Line{AccountCode: code, AccountName: name, AccountType: typ, Debit: decimal.Zero, Credit: amount}
}

// WithComponent tags the line with a charge component.
func (l Line) WithComponent(c Component) Line {
	l.Component = c
	return l
}

// Net is debit minus credit.
func (l Line) Net() decimal.Decimal {
	return l.Debit.Sub(l.Credit)
}

// Amount is the non-zero side of the line.
func (l Line) Amount() decimal.Decimal {
	if l.Debit.IsPositive() {
		return l.Debit
	}
	return l.Credit
}

func (l Line) IsDebit() bool { return l.Debit.IsPositive() }

func (l Line) validate() error {
	if l.AccountCode == "" {
		return fmt.Errorf("%w: missing account code", ErrInvalidLine)
	}
	if !l.AccountType.IsValid() {
		return fmt.Errorf("%w: account %s has invalid type %q", ErrInvalidLine, l.AccountCode, l.AccountType)
	}
	if l.Debit.IsNegative() || l.Credit.IsNegative() {
		return fmt.Errorf("%w: negative amount on %s", ErrInvalidLine, l.AccountCode)
	}
	if l.Debit.IsZero() == l.Credit.IsZero() {
		return fmt.Errorf("%w: %s must be exactly one of debit or credit", ErrInvalidLine, l.AccountCode)
	}
	if !IsCents(l.Debit) || !IsCents(l.Credit) {
		return fmt.Errorf("%w: %s has more than 2 decimal places", ErrInvalidLine, l.AccountCode)
	}
	return nil
}

// swapped returns the line with debit and credit exchanged.
func (l Line) swapped() Line {
	l.Debit, l.Credit = l.Credit, l.Debit
	return l
}

// =============================================================================
// METADATA - Allocation context
// =============================================================================

// Metadata carries the context the Deriver needs to attribute a line to an
// obligation. Period is the month an accrual recognizes; MonthSettled is the
// month a payment slice pays off.
type Metadata struct {
	TenantID              TenantID      `json:"tenantId,omitempty"`
	LeaseID               string        `json:"leaseId,omitempty"`
	Period                Month         `json:"period,omitempty"`
	MonthSettled          Month         `json:"monthSettled,omitempty"`
	PaymentType           string        `json:"paymentType,omitempty"`
	AllocationType        string        `json:"allocationType,omitempty"`
	OriginalTransactionID TransactionID `json:"originalTransactionId,omitempty"`
	ReversedSource        Source        `json:"reversedSource,omitempty"`
	Reason                string        `json:"reason,omitempty"`
	Category              string        `json:"category,omitempty"`
}

// Allocation types for payment slices.
const (
	AllocationRegular    = "regular"
	AllocationPrepayment = "prepayment"
	AllocationCredit     = "credit"
)

// =============================================================================
// TRANSACTION - Immutable balanced entry
// =============================================================================

// Transaction is an immutable balanced set of lines.
type Transaction struct {
	ID             TransactionID   `json:"id"`
	Date           time.Time       `json:"date"`
	Description    string          `json:"description"`
	Reference      string          `json:"reference,omitempty"`
	Source         Source          `json:"source"`
	SourceID       string          `json:"sourceId,omitempty"`
	Status         Status          `json:"status"`
	Entries        []Line          `json:"entries"`
	TotalDebit     decimal.Decimal `json:"totalDebit"`
	TotalCredit    decimal.Decimal `json:"totalCredit"`
	Metadata       Metadata        `json:"metadata"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
	CreatedBy      string          `json:"createdBy,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// Tolerance is the maximum |debit - credit| a transaction may carry.
var Tolerance = decimal.New(1, -2)

// NewTransaction computes totals and validates t. It is the only way a
// Transaction should be built for posting.
func NewTransaction(t Transaction) (Transaction, error) {
	t.TotalDebit, t.TotalCredit = decimal.Zero, decimal.Zero
	for _, l := range t.Entries {
		t.TotalDebit = t.TotalDebit.Add(l.Debit)
		t.TotalCredit = t.TotalCredit.Add(l.Credit)
	}
	if t.Status == "" {
		t.Status = StatusPosted
	}
	if err := t.Validate(); err != nil {
		return Transaction{}, err
	}
	return t, nil
}

// Validate checks structure and balance. It recomputes totals from lines
// so a tampered TotalDebit/TotalCredit cannot mask an unbalanced entry.
func (t Transaction) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: missing transaction id", ErrInvalidLine)
	}
	if !t.Source.IsValid() {
		return fmt.Errorf("%w: invalid source %q", ErrInvalidLine, t.Source)
	}
	if len(t.Entries) < 2 {
		return fmt.Errorf("%w: a transaction needs at least two lines", ErrInvalidLine)
	}
	debit, credit := decimal.Zero, decimal.Zero
	for _, l := range t.Entries {
		if err := l.validate(); err != nil {
			return err
		}
		debit = debit.Add(l.Debit)
		credit = credit.Add(l.Credit)
	}
	if !debit.Equal(t.TotalDebit) || !credit.Equal(t.TotalCredit) {
		return fmt.Errorf("%w: totals do not match lines", ErrInvalidLine)
	}
	if debit.Sub(credit).Abs().GreaterThan(Tolerance) {
		return &UnbalancedError{TotalDebit: debit, TotalCredit: credit}
	}
	return nil
}

// IsReversal reports whether t undoes another transaction.
func (t Transaction) IsReversal() bool {
	return t.Source == SourceReversal
}

// EffectiveSource is the source a reversal undoes, or t.Source otherwise.
// Reports use it to net a reversal against the postings it cancels.
func (t Transaction) EffectiveSource() Source {
	if t.IsReversal() && t.Metadata.ReversedSource != "" {
		return t.Metadata.ReversedSource
	}
	return t.Source
}

// LinesFor returns the lines posted to code.
func (t Transaction) LinesFor(code AccountCode) []Line {
	var lines []Line
	for _, l := range t.Entries {
		if l.AccountCode == code {
			lines = append(lines, l)
		}
	}
	return lines
}

// Mirror returns the reversing transaction for t: every line with debit and
// credit swapped, Source = reversal, and metadata pointing back at t. The
// accrual month and month settled are carried over so the reversal nets
// against the same obligation.
func (t Transaction) Mirror(id TransactionID, date time.Time, reason string) (Transaction, error) {
	entries := make([]Line, len(t.Entries))
	for i, l := range t.Entries {
		entries[i] = l.swapped()
	}
	md := t.Metadata
	md.OriginalTransactionID = t.ID
	md.ReversedSource = t.Source
	md.Reason = reason
	return NewTransaction(Transaction{
		ID:             id,
		Date:           date,
		Description:    "Reversal of " + string(t.ID) + ": " + t.Description,
		Reference:      t.Reference,
		Source:         SourceReversal,
		SourceID:       string(t.ID),
		Entries:        entries,
		Metadata:       md,
		IdempotencyKey: ReversalKey(t.ID),
	})
}

// ReversalKey is the idempotency key of the reversal of id. There can only
// ever be one.
func ReversalKey(id TransactionID) string {
	return "reversal:" + string(id)
}

// =============================================================================
// MONEY HELPERS
// =============================================================================

var hundred = decimal.NewFromInt(100)

// IsCents reports whether d has at most 2 decimal places.
func IsCents(d decimal.Decimal) bool {
	return d.Mul(hundred).Equal(d.Mul(hundred).Truncate(0))
}

// RoundCents rounds half away from zero to 2 decimals.
func RoundCents(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

