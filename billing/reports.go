/*
reports.go - Ledger-wide derived views

PURPOSE:
  Trial balance, income statement, cash flow and tenant statements, all
  computed by replaying transactions. Like obligations.go, nothing here is
  cached or stored.

BASIS:
  accrual: every transaction counts.
  cash:    only transactions that move cash (payment, expense_payment) and
           reversals of them. Reversals are classified by the source they
           undo (Transaction.EffectiveSource).

TRIAL BALANCE:
  Lines are grouped by parent account code, so 1100-T1 and 1100-T2 roll up
  into one "1100 Accounts Receivable" row. The report is BALANCED when
  |Σdebit - Σcredit| <= ledger.Tolerance.
*/
package billing

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/tenant-ledger/accounts"
	"github.com/warp/tenant-ledger/ledger"
)

// Basis selects which transactions a report counts.
type Basis string

const (
	BasisAccrual Basis = "accrual"
	BasisCash    Basis = "cash"
)

// ParseBasis maps "" to accrual and rejects unknown values.
func ParseBasis(s string) (Basis, error) {
	switch Basis(s) {
	case "", BasisAccrual:
		return BasisAccrual, nil
	case BasisCash:
		return BasisCash, nil
	}
	return "", fmt.Errorf("%w: unknown basis %q", ledger.ErrInvalidLine, s)
}

func (b Basis) includes(tx ledger.Transaction) bool {
	if b == BasisCash {
		return tx.EffectiveSource().IsCash()
	}
	return true
}

const (
	StatusBalanced   = "BALANCED"
	StatusUnbalanced = "UNBALANCED"
)

// =============================================================================
// TRIAL BALANCE
// =============================================================================

// AccountBalance is one trial balance row.
type AccountBalance struct {
	Code          ledger.AccountCode `json:"code"`
	Name          string             `json:"name"`
	Type          ledger.AccountType `json:"type"`
	TotalDebit    decimal.Decimal    `json:"totalDebit"`
	TotalCredit   decimal.Decimal    `json:"totalCredit"`
	DebitBalance  decimal.Decimal    `json:"debitBalance"`
	CreditBalance decimal.Decimal    `json:"creditBalance"`
}

// Net is debit minus credit.
func (b AccountBalance) Net() decimal.Decimal {
	return b.TotalDebit.Sub(b.TotalCredit)
}

type TrialBalance struct {
	AsOf          time.Time        `json:"asOf"`
	Basis         Basis            `json:"basis"`
	Accounts      []AccountBalance `json:"accounts"`
	TotalDebit    decimal.Decimal  `json:"totalDebit"`
	TotalCredit   decimal.Decimal  `json:"totalCredit"`
	Difference    decimal.Decimal  `json:"difference"`
	Status        string           `json:"status"`
	AccountsCount int              `json:"accountsCount"`
}

func (t TrialBalance) IsBalanced() bool {
	return t.Status == StatusBalanced
}

// Account returns the row for code, if present.
func (t TrialBalance) Account(code ledger.AccountCode) (AccountBalance, bool) {
	for _, a := range t.Accounts {
		if a.Code == code {
			return a, true
		}
	}
	return AccountBalance{}, false
}

// Reporter builds ledger-wide reports.
type Reporter struct {
	Ledger      *ledger.Ledger
	Chart       *accounts.Chart
	Receivables *Receivables
}

// TrialBalance sums every account as of asOf, tenant sub-ledgers rolled up
// into their parent.
func (r *Reporter) TrialBalance(ctx context.Context, asOf time.Time, basis Basis) (TrialBalance, error) {
	txs, err := r.Ledger.Find(ctx, ledger.Query{To: asOf})
	if err != nil {
		return TrialBalance{}, err
	}

	rows := make(map[ledger.AccountCode]*AccountBalance)
	for _, tx := range txs {
		if !basis.includes(tx) {
			continue
		}
		for _, line := range tx.Entries {
			code := ledger.ParentCode(line.AccountCode)
			row := rows[code]
			if row == nil {
				row = r.newRow(code, line)
				rows[code] = row
			}
			row.TotalDebit = row.TotalDebit.Add(line.Debit)
			row.TotalCredit = row.TotalCredit.Add(line.Credit)
		}
	}

	tb := TrialBalance{AsOf: asOf, Basis: basis, TotalDebit: decimal.Zero, TotalCredit: decimal.Zero}
	for _, row := range rows {
		if net := row.Net(); net.IsPositive() {
			row.DebitBalance = net
		} else {
			row.CreditBalance = net.Neg()
		}
		tb.Accounts = append(tb.Accounts, *row)
		tb.TotalDebit = tb.TotalDebit.Add(row.TotalDebit)
		tb.TotalCredit = tb.TotalCredit.Add(row.TotalCredit)
	}
	sort.Slice(tb.Accounts, func(i, j int) bool { return tb.Accounts[i].Code < tb.Accounts[j].Code })

	tb.AccountsCount = len(tb.Accounts)
	tb.Difference = tb.TotalDebit.Sub(tb.TotalCredit)
	tb.Status = StatusBalanced
	if tb.Difference.Abs().GreaterThan(ledger.Tolerance) {
		tb.Status = StatusUnbalanced
	}
	return tb, nil
}

func (r *Reporter) newRow(code ledger.AccountCode, line ledger.Line) *AccountBalance {
	row := &AccountBalance{
		Code: code, Name: line.AccountName, Type: line.AccountType,
		TotalDebit: decimal.Zero, TotalCredit: decimal.Zero,
		DebitBalance: decimal.Zero, CreditBalance: decimal.Zero,
	}
	if a, ok := r.Chart.Lookup(code); ok {
		row.Name, row.Type = a.Name, a.Type
	}
	return row
}

// =============================================================================
// INCOME STATEMENT
// =============================================================================

// StatementRow is one income or expense account on the income statement.
type StatementRow struct {
	Code   ledger.AccountCode `json:"code"`
	Name   string             `json:"name"`
	Amount decimal.Decimal    `json:"amount"`
}

type IncomeStatement struct {
	From         time.Time       `json:"from"`
	To           time.Time       `json:"to"`
	Basis        Basis           `json:"basis"`
	Income       []StatementRow  `json:"income"`
	Expenses     []StatementRow  `json:"expenses"`
	TotalIncome  decimal.Decimal `json:"totalIncome"`
	TotalExpense decimal.Decimal `json:"totalExpense"`
	NetIncome    decimal.Decimal `json:"netIncome"`
}

// IncomeStatement reports income and expense over [from, to].
//
// On cash basis income is recognized when a tenant pays: payment slices for
// rent and admin fee count toward Rental Income and Admin Fee Income.
// Deposits and credit balances are liabilities and never count as income.
func (r *Reporter) IncomeStatement(ctx context.Context, from, to time.Time, basis Basis) (IncomeStatement, error) {
	txs, err := r.Ledger.Find(ctx, ledger.Query{From: from, To: to})
	if err != nil {
		return IncomeStatement{}, err
	}

	income := make(map[ledger.AccountCode]decimal.Decimal)
	expense := make(map[ledger.AccountCode]decimal.Decimal)
	for _, tx := range txs {
		if !basis.includes(tx) {
			continue
		}
		for _, line := range tx.Entries {
			switch line.AccountType {
			case ledger.AccountIncome:
				code := ledger.ParentCode(line.AccountCode)
				income[code] = income[code].Sub(line.Net())
			case ledger.AccountExpense:
				code := ledger.ParentCode(line.AccountCode)
				expense[code] = expense[code].Add(line.Net())
			}
		}
		if basis == BasisCash && tx.EffectiveSource() == ledger.SourcePayment {
			r.cashIncome(tx, income)
		}
	}

	is := IncomeStatement{From: from, To: to, Basis: basis}
	is.Income, is.TotalIncome = r.statementRows(income)
	is.Expenses, is.TotalExpense = r.statementRows(expense)
	is.NetIncome = is.TotalIncome.Sub(is.TotalExpense)
	return is, nil
}

// cashIncome attributes a payment slice (or its reversal) to the income
// account its component accrues to.
func (r *Reporter) cashIncome(tx ledger.Transaction, income map[ledger.AccountCode]decimal.Decimal) {
	for _, line := range tx.Entries {
		if ledger.ParentCode(line.AccountCode) != accounts.CodeReceivable {
			continue
		}
		var code ledger.AccountCode
		switch line.Component {
		case ledger.ComponentRent:
			code = accounts.CodeRentalIncome
		case ledger.ComponentAdminFee:
			code = accounts.CodeAdminIncome
		default:
			continue
		}
		income[code] = income[code].Sub(line.Net())
	}
}

func (r *Reporter) statementRows(amounts map[ledger.AccountCode]decimal.Decimal) ([]StatementRow, decimal.Decimal) {
	rows := make([]StatementRow, 0, len(amounts))
	total := decimal.Zero
	for code, amt := range amounts {
		name := string(code)
		if a, ok := r.Chart.Lookup(code); ok {
			name = a.Name
		}
		rows = append(rows, StatementRow{Code: code, Name: name, Amount: amt})
		total = total.Add(amt)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Code < rows[j].Code })
	return rows, total
}

// =============================================================================
// CASH FLOW
// =============================================================================

// CashFlowMonth is money in and out of cash accounts during one month.
type CashFlowMonth struct {
	Month   ledger.Month    `json:"month"`
	Inflow  decimal.Decimal `json:"inflow"`
	Outflow decimal.Decimal `json:"outflow"`
	Net     decimal.Decimal `json:"net"`
}

type CashFlow struct {
	From         time.Time       `json:"from"`
	To           time.Time       `json:"to"`
	Months       []CashFlowMonth `json:"months"`
	TotalInflow  decimal.Decimal `json:"totalInflow"`
	TotalOutflow decimal.Decimal `json:"totalOutflow"`
	Net          decimal.Decimal `json:"net"`
}

// CashFlow groups debits (inflow) and credits (outflow) on cash, bank and
// mobile money accounts by calendar month over [from, to].
func (r *Reporter) CashFlow(ctx context.Context, from, to time.Time) (CashFlow, error) {
	txs, err := r.Ledger.Find(ctx, ledger.Query{From: from, To: to})
	if err != nil {
		return CashFlow{}, err
	}

	byMonth := make(map[ledger.Month]*CashFlowMonth)
	for _, tx := range txs {
		for _, line := range tx.Entries {
			if !accounts.IsCashAccount(line.AccountCode) {
				continue
			}
			m := ledger.MonthOf(tx.Date)
			cm := byMonth[m]
			if cm == nil {
				cm = &CashFlowMonth{Month: m, Inflow: decimal.Zero, Outflow: decimal.Zero}
				byMonth[m] = cm
			}
			cm.Inflow = cm.Inflow.Add(line.Debit)
			cm.Outflow = cm.Outflow.Add(line.Credit)
		}
	}

	cf := CashFlow{From: from, To: to, TotalInflow: decimal.Zero, TotalOutflow: decimal.Zero}
	for _, cm := range byMonth {
		cm.Net = cm.Inflow.Sub(cm.Outflow)
		cf.Months = append(cf.Months, *cm)
		cf.TotalInflow = cf.TotalInflow.Add(cm.Inflow)
		cf.TotalOutflow = cf.TotalOutflow.Add(cm.Outflow)
	}
	sort.Slice(cf.Months, func(i, j int) bool { return cf.Months[i].Month.Before(cf.Months[j].Month) })
	cf.Net = cf.TotalInflow.Sub(cf.TotalOutflow)
	return cf, nil
}

// =============================================================================
// TENANT STATEMENT
// =============================================================================

// StatementEntry is one receivable movement with the balance after it.
type StatementEntry struct {
	Date          time.Time            `json:"date"`
	TransactionID ledger.TransactionID `json:"transactionId"`
	Source        ledger.Source        `json:"source"`
	Description   string               `json:"description"`
	Month         ledger.Month         `json:"month"`
	Debit         decimal.Decimal      `json:"debit"`
	Credit        decimal.Decimal      `json:"credit"`
	Balance       decimal.Decimal      `json:"balance"`
}

type Statement struct {
	TenantID       ledger.TenantID  `json:"tenantId"`
	From           time.Time        `json:"from"`
	To             time.Time        `json:"to"`
	OpeningBalance decimal.Decimal  `json:"openingBalance"`
	Entries        []StatementEntry `json:"entries"`
	ClosingBalance decimal.Decimal  `json:"closingBalance"`
	// Credit is the tenant's unapplied credit balance at To.
	Credit decimal.Decimal `json:"credit"`
}

// Statement lists the tenant receivable's movements over [from, to] with
// a running balance. A zero from starts at the beginning of the log.
func (r *Reporter) Statement(ctx context.Context, tenant ledger.TenantID, from, to time.Time) (Statement, error) {
	receivable, err := resolveReceivable(ctx, r.Receivables, r.Chart, tenant)
	if err != nil {
		return Statement{}, err
	}
	st := Statement{TenantID: tenant, From: from, To: to, OpeningBalance: decimal.Zero, Credit: decimal.Zero}
	if !from.IsZero() {
		st.OpeningBalance, err = r.Ledger.Balance(ctx, receivable.Code, ledger.Day(from).AddDate(0, 0, -1))
		if err != nil {
			return Statement{}, err
		}
	}

	txs, err := r.Ledger.Find(ctx, ledger.Query{AccountCode: receivable.Code, From: from, To: to})
	if err != nil {
		return Statement{}, err
	}
	balance := st.OpeningBalance
	for _, tx := range txs {
		for _, line := range tx.LinesFor(receivable.Code) {
			balance = balance.Add(line.Net())
			month := tx.Metadata.Period
			if month.IsZero() {
				month = tx.Metadata.MonthSettled
			}
			desc := line.Description
			if desc == "" {
				desc = tx.Description
			}
			st.Entries = append(st.Entries, StatementEntry{
				Date: tx.Date, TransactionID: tx.ID, Source: tx.Source, Description: desc,
				Month: month, Debit: line.Debit, Credit: line.Credit, Balance: balance,
			})
		}
	}
	st.ClosingBalance = balance

	credit, err := r.Chart.Resolve(accounts.TenantCredit(tenant))
	if err != nil {
		return Statement{}, err
	}
	creditNet, err := r.Ledger.Balance(ctx, credit.Code, to)
	if err != nil {
		return Statement{}, err
	}
	st.Credit = creditNet.Neg()
	return st, nil
}
