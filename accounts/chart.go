// Package accounts resolves semantic account identities (a tenant's
// receivable, an income category, the bank account a payment method settles
// into) to the stable codes written on ledger lines.
//
// Tenant sub-ledgers are synthesized as "{baseCode}-{ownerID}" and roll up
// under baseCode for reporting. Callers never build those strings: they ask
// the Chart to Resolve a Ref.
package accounts

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/warp/tenant-ledger/ledger"
)

// ErrTypeConflict is returned when a code is registered twice with different
// types. An account keeps one type for its lifetime.
var ErrTypeConflict = errors.New("account type conflict")

// Account is one entry in the chart of accounts.
type Account struct {
	Code        ledger.AccountCode `json:"code"`
	Name        string             `json:"name"`
	Type        ledger.AccountType `json:"type"`
	ParentCode  ledger.AccountCode `json:"parentCode,omitempty"`
	Description string             `json:"description,omitempty"`
}

// Role is a semantic account identity.
type Role string

const (
	RoleCash             Role = "cash"
	RoleBank             Role = "bank"
	RoleMobileMoney      Role = "mobile_money"
	RoleReceivable       Role = "receivable"
	RoleDepositLiability Role = "deposit_liability"
	RoleTenantCredit     Role = "tenant_credit"
	RoleEquity           Role = "equity"
	RoleRentalIncome     Role = "rental_income"
	RoleAdminIncome      Role = "admin_income"
	RoleExpense          Role = "expense"
)

// Ref names an account by role and, for per-owner roles, the owner (tenant
// id or expense category).
type Ref struct {
	Role    Role
	OwnerID string
}

func (r Ref) String() string {
	if r.OwnerID == "" {
		return string(r.Role)
	}
	return string(r.Role) + ":" + r.OwnerID
}

// TenantReceivable is the receivable sub-ledger of a tenant.
func TenantReceivable(tenant ledger.TenantID) Ref {
	return Ref{Role: RoleReceivable, OwnerID: string(tenant)}
}

// TenantCredit is the credit-balance (overpayment) sub-ledger of a tenant.
func TenantCredit(tenant ledger.TenantID) Ref {
	return Ref{Role: RoleTenantCredit, OwnerID: string(tenant)}
}

// ExpenseCategory is the expense account for category.
func ExpenseCategory(category string) Ref {
	return Ref{Role: RoleExpense, OwnerID: category}
}

// Chart is the Chart-of-Accounts Resolver. It is safe for concurrent use.
type Chart struct {
	mu       sync.RWMutex
	byCode   map[ledger.AccountCode]Account
	roles    map[Role]ledger.AccountCode
	expenses map[string]ledger.AccountCode
	opened   map[ledger.AccountCode]bool
}

// NewChart returns a chart seeded with DefaultAccounts.
func NewChart() *Chart {
	c := &Chart{
		byCode:   make(map[ledger.AccountCode]Account),
		roles:    make(map[Role]ledger.AccountCode),
		expenses: make(map[string]ledger.AccountCode),
		opened:   make(map[ledger.AccountCode]bool),
	}
	for _, a := range DefaultAccounts() {
		// Defaults are consistent; Register cannot fail for them.
		_ = c.Register(a)
	}
	for role, code := range defaultRoles {
		c.roles[role] = code
	}
	for cat, code := range defaultExpenseCategories {
		c.expenses[cat] = code
	}
	return c
}

// Register adds an account. Re-registering a code with the same type is a
// no-op; a different type is rejected with ErrTypeConflict.
func (c *Chart) Register(a Account) error {
	if a.Code == "" || !a.Type.IsValid() {
		return fmt.Errorf("%w: %q (%s)", ledger.ErrUnknownAccount, a.Code, a.Type)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.byCode[a.Code]; ok {
		if existing.Type != a.Type {
			return fmt.Errorf("%w: %s is %s, not %s", ErrTypeConflict, a.Code, existing.Type, a.Type)
		}
		return nil
	}
	c.byCode[a.Code] = a
	return nil
}

// RegisterExpenseCategory maps category to an existing expense account.
func (c *Chart) RegisterExpenseCategory(category string, code ledger.AccountCode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.byCode[code]
	if !ok || a.Type != ledger.AccountExpense {
		return fmt.Errorf("%w: %s is not an expense account", ledger.ErrUnknownAccount, code)
	}
	c.expenses[category] = code
	return nil
}

// =============================================================================
// SUB-LEDGERS
// =============================================================================

// OpenReceivable opens the receivable sub-ledger of tenant. Idempotent.
func (c *Chart) OpenReceivable(tenant ledger.TenantID) (Account, error) {
	return c.openSubAccount(TenantReceivable(tenant))
}

// HasReceivable reports whether tenant's receivable has been opened.
func (c *Chart) HasReceivable(tenant ledger.TenantID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.opened[subCode(c.roles[RoleReceivable], string(tenant))]
}

func (c *Chart) openSubAccount(ref Ref) (Account, error) {
	if ref.OwnerID == "" {
		return Account{}, fmt.Errorf("%w: %s needs an owner", ledger.ErrUnknownAccount, ref.Role)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	parent, ok := c.parentLocked(ref.Role)
	if !ok {
		return Account{}, fmt.Errorf("%w: no base account for role %s", ledger.ErrUnknownAccount, ref.Role)
	}
	code := subCode(parent.Code, ref.OwnerID)
	c.opened[code] = true
	return subAccount(parent, ref.OwnerID), nil
}

func (c *Chart) parentLocked(role Role) (Account, bool) {
	code, ok := c.roles[role]
	if !ok {
		return Account{}, false
	}
	a, ok := c.byCode[code]
	return a, ok
}

func subCode(base ledger.AccountCode, owner string) ledger.AccountCode {
	return ledger.AccountCode(string(base) + "-" + owner)
}

func subAccount(parent Account, owner string) Account {
	return Account{
		Code:       subCode(parent.Code, owner),
		Name:       parent.Name + " - " + owner,
		Type:       parent.Type,
		ParentCode: parent.Code,
	}
}

// =============================================================================
// RESOLUTION
// =============================================================================

// Resolve maps ref to its account.
//
// A tenant receivable must have been opened (ErrNoReceivableAccount
// otherwise); a tenant credit sub-ledger is opened on first use.
func (c *Chart) Resolve(ref Ref) (Account, error) {
	switch ref.Role {
	case RoleReceivable:
		if ref.OwnerID == "" {
			return Account{}, fmt.Errorf("%w: receivable needs a tenant", ledger.ErrNoReceivableAccount)
		}
		if !c.HasReceivable(ledger.TenantID(ref.OwnerID)) {
			return Account{}, fmt.Errorf("%w: %s", ledger.ErrNoReceivableAccount, ref.OwnerID)
		}
		c.mu.RLock()
		defer c.mu.RUnlock()
		parent, _ := c.parentLocked(RoleReceivable)
		return subAccount(parent, ref.OwnerID), nil

	case RoleTenantCredit:
		return c.openSubAccount(ref)

	case RoleExpense:
		c.mu.RLock()
		defer c.mu.RUnlock()
		code, ok := c.expenses[ref.OwnerID]
		if !ok {
			return Account{}, fmt.Errorf("%w: expense category %q", ledger.ErrUnknownAccount, ref.OwnerID)
		}
		return c.byCode[code], nil

	default:
		c.mu.RLock()
		defer c.mu.RUnlock()
		a, ok := c.parentLocked(ref.Role)
		if !ok {
			return Account{}, fmt.Errorf("%w: role %s", ledger.ErrUnknownAccount, ref.Role)
		}
		return a, nil
	}
}

// Lookup returns the account for code, including opened sub-ledgers.
func (c *Chart) Lookup(code ledger.AccountCode) (Account, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if a, ok := c.byCode[code]; ok {
		return a, true
	}
	if !c.opened[code] {
		return Account{}, false
	}
	parentCode := ledger.ParentCode(code)
	parent, ok := c.byCode[parentCode]
	if !ok {
		return Account{}, false
	}
	return subAccount(parent, string(code[len(parentCode)+1:])), true
}

// All returns the top-level accounts ordered by code.
func (c *Chart) All() []Account {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Account, 0, len(c.byCode))
	for _, a := range c.byCode {
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Code < result[j].Code })
	return result
}

// ByType returns all top-level accounts of the given type.
func (c *Chart) ByType(t ledger.AccountType) []Account {
	var result []Account
	for _, a := range c.All() {
		if a.Type == t {
			result = append(result, a)
		}
	}
	return result
}

// =============================================================================
// LINE BUILDERS
// =============================================================================

// Debit resolves ref and builds a debit line.
func (c *Chart) Debit(ref Ref, amount decimal.Decimal) (ledger.Line, error) {
	a, err := c.Resolve(ref)
	if err != nil {
		return ledger.Line{}, err
	}
	return ledger.Debit(a.Code, a.Name, a.Type, amount), nil
}

// Credit resolves ref and builds a credit line.
func (c *Chart) Credit(ref Ref, amount decimal.Decimal) (ledger.Line, error) {
	a, err := c.Resolve(ref)
	if err != nil {
		return ledger.Line{}, err
	}
	return ledger.Credit(a.Code, a.Name, a.Type, amount), nil
}
