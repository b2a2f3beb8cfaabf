package accounts

import (
	"fmt"

	"github.com/warp/tenant-ledger/ledger"
)

// Base codes of the default chart.
const (
	CodeCash             ledger.AccountCode = "1000"
	CodeBank             ledger.AccountCode = "1010"
	CodeMobileMoney      ledger.AccountCode = "1020"
	CodeReceivable       ledger.AccountCode = "1100"
	CodeDepositLiability ledger.AccountCode = "2000"
	CodeTenantCredit     ledger.AccountCode = "2100"
	CodeEquity           ledger.AccountCode = "3000"
	CodeRentalIncome     ledger.AccountCode = "4000"
	CodeAdminIncome      ledger.AccountCode = "4010"
	CodeUtilities        ledger.AccountCode = "5000"
	CodeMaintenance      ledger.AccountCode = "5010"
	CodeCleaning         ledger.AccountCode = "5020"
	CodeSalaries         ledger.AccountCode = "5030"
	CodeOtherExpense     ledger.AccountCode = "5090"
)

// DefaultAccounts returns the chart of accounts for a student residence.
func DefaultAccounts() []Account {
	return []Account{
		{Code: CodeCash, Name: "Cash on Hand", Type: ledger.AccountAsset, Description: "Cash received at the residence office"},
		{Code: CodeBank, Name: "Bank Account", Type: ledger.AccountAsset, Description: "Operating bank account"},
		{Code: CodeMobileMoney, Name: "Mobile Money Wallet", Type: ledger.AccountAsset},
		{Code: CodeReceivable, Name: "Accounts Receivable - Tenants", Type: ledger.AccountAsset, Description: "Parent of per-tenant receivables"},
		{Code: CodeDepositLiability, Name: "Tenant Deposits Held", Type: ledger.AccountLiability, Description: "Refundable deposits"},
		{Code: CodeTenantCredit, Name: "Tenant Credit Balances", Type: ledger.AccountLiability, Description: "Overpayments owed back to tenants"},
		{Code: CodeEquity, Name: "Owner's Equity", Type: ledger.AccountEquity},
		{Code: CodeRentalIncome, Name: "Rental Income", Type: ledger.AccountIncome},
		{Code: CodeAdminIncome, Name: "Admin Fee Income", Type: ledger.AccountIncome},
		{Code: CodeUtilities, Name: "Utilities", Type: ledger.AccountExpense},
		{Code: CodeMaintenance, Name: "Repairs & Maintenance", Type: ledger.AccountExpense},
		{Code: CodeCleaning, Name: "Cleaning", Type: ledger.AccountExpense},
		{Code: CodeSalaries, Name: "Staff Salaries", Type: ledger.AccountExpense},
		{Code: CodeOtherExpense, Name: "Other Expenses", Type: ledger.AccountExpense},
	}
}

var defaultRoles = map[Role]ledger.AccountCode{
	RoleCash:             CodeCash,
	RoleBank:             CodeBank,
	RoleMobileMoney:      CodeMobileMoney,
	RoleReceivable:       CodeReceivable,
	RoleDepositLiability: CodeDepositLiability,
	RoleTenantCredit:     CodeTenantCredit,
	RoleEquity:           CodeEquity,
	RoleRentalIncome:     CodeRentalIncome,
	RoleAdminIncome:      CodeAdminIncome,
}

var defaultExpenseCategories = map[string]ledger.AccountCode{
	"utilities":   CodeUtilities,
	"maintenance": CodeMaintenance,
	"cleaning":    CodeCleaning,
	"salaries":    CodeSalaries,
	"other":       CodeOtherExpense,
}

// =============================================================================
// PAYMENT METHODS
// =============================================================================

// PaymentMethod is how a payment was received. It selects the asset
// account the payment is debited to.
type PaymentMethod string

const (
	PaymentCash         PaymentMethod = "cash"
	PaymentBankTransfer PaymentMethod = "bank_transfer"
	PaymentCard         PaymentMethod = "card"
	PaymentMobileMoney  PaymentMethod = "mobile_money"
)

func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentCash, PaymentBankTransfer, PaymentCard, PaymentMobileMoney:
		return true
	}
	return false
}

// CashAccountFor returns the asset account a payment by method settles into.
func CashAccountFor(method PaymentMethod) (Ref, error) {
	switch method {
	case PaymentCash:
		return Ref{Role: RoleCash}, nil
	case PaymentBankTransfer, PaymentCard:
		return Ref{Role: RoleBank}, nil
	case PaymentMobileMoney:
		return Ref{Role: RoleMobileMoney}, nil
	default:
		return Ref{}, fmt.Errorf("%w: %q", ledger.ErrInvalidPaymentMethod, method)
	}
}

// IsCashAccount reports whether code is (or rolls up to) a cash/bank account.
func IsCashAccount(code ledger.AccountCode) bool {
	switch ledger.ParentCode(code) {
	case CodeCash, CodeBank, CodeMobileMoney:
		return true
	}
	return false
}
