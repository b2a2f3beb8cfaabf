// Package store provides an in-memory ledger.Store.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/tenant-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	transactions []ledger.Transaction // ordered by Date, then insertion
	byID         map[ledger.TransactionID]int
	byTenant     map[ledger.TenantID][]ledger.TransactionID
	idempotency  map[string]bool
	reversals    map[ledger.TransactionID]ledger.TransactionID
}

func NewMemory() *Memory {
	return &Memory{
		byID:        make(map[ledger.TransactionID]int),
		byTenant:    make(map[ledger.TenantID][]ledger.TransactionID),
		idempotency: make(map[string]bool),
		reversals:   make(map[ledger.TransactionID]ledger.TransactionID),
	}
}

// Append adds a single transaction. Append-only.
func (m *Memory) Append(_ context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked([]ledger.Transaction{tx}); err != nil {
		return err
	}
	m.appendLocked(tx)
	return nil
}

// AppendBatch adds multiple transactions atomically.
func (m *Memory) AppendBatch(_ context.Context, txs []ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check every constraint first (atomic check)
	if err := m.checkLocked(txs); err != nil {
		return err
	}

	// Append all (atomic write)
	for _, tx := range txs {
		m.appendLocked(tx)
	}
	return nil
}

// checkLocked enforces the same unique constraints as the SQL schema:
// primary key, idempotency key, and one reversal per original.
func (m *Memory) checkLocked(txs []ledger.Transaction) error {
	keys := make(map[string]bool)
	ids := make(map[ledger.TransactionID]bool)
	originals := make(map[ledger.TransactionID]bool)
	for _, tx := range txs {
		if _, ok := m.byID[tx.ID]; ok || ids[tx.ID] {
			return ledger.ErrDuplicateIdempotencyKey
		}
		ids[tx.ID] = true
		if k := tx.IdempotencyKey; k != "" {
			if m.idempotency[k] || keys[k] {
				return ledger.ErrDuplicateIdempotencyKey
			}
			keys[k] = true
		}
		if orig := tx.Metadata.OriginalTransactionID; orig != "" && tx.IsReversal() {
			if _, ok := m.reversals[orig]; ok || originals[orig] {
				return ledger.ErrDuplicateIdempotencyKey
			}
			originals[orig] = true
		}
	}
	return nil
}

func (m *Memory) appendLocked(tx ledger.Transaction) {
	// Binary search for insertion point after every tx on the same or earlier date
	i := sort.Search(len(m.transactions), func(i int) bool {
		return m.transactions[i].Date.After(tx.Date)
	})

	m.transactions = append(m.transactions, ledger.Transaction{})
	copy(m.transactions[i+1:], m.transactions[i:])
	m.transactions[i] = tx
	for j := i; j < len(m.transactions); j++ {
		m.byID[m.transactions[j].ID] = j
	}

	if tx.Metadata.TenantID != "" {
		m.byTenant[tx.Metadata.TenantID] = append(m.byTenant[tx.Metadata.TenantID], tx.ID)
	}
	if tx.IdempotencyKey != "" {
		m.idempotency[tx.IdempotencyKey] = true
	}
	if tx.IsReversal() && tx.Metadata.OriginalTransactionID != "" {
		m.reversals[tx.Metadata.OriginalTransactionID] = tx.ID
	}
}

func (m *Memory) Get(_ context.Context, id ledger.TransactionID) (ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.byID[id]
	if !ok {
		return ledger.Transaction{}, ledger.ErrNotFound
	}
	return clone(m.transactions[i]), nil
}

func (m *Memory) Find(_ context.Context, q ledger.Query) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Transaction
	switch {
	case q.OriginalTransactionID != "":
		if id, ok := m.reversals[q.OriginalTransactionID]; ok {
			if tx := m.transactions[m.byID[id]]; q.Matches(tx) {
				result = append(result, clone(tx))
			}
		}
	case q.TenantID != "":
		idx := make([]int, 0, len(m.byTenant[q.TenantID]))
		for _, id := range m.byTenant[q.TenantID] {
			idx = append(idx, m.byID[id])
		}
		sort.Ints(idx)
		for _, i := range idx {
			if tx := m.transactions[i]; q.Matches(tx) {
				result = append(result, clone(tx))
			}
		}
	default:
		for _, tx := range m.transactions {
			if q.Matches(tx) {
				result = append(result, clone(tx))
			}
		}
	}
	return result, nil
}

func (m *Memory) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idempotencyKey], nil
}

// Len returns the number of stored transactions.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.transactions)
}

func clone(tx ledger.Transaction) ledger.Transaction {
	tx.Entries = append([]ledger.Line(nil), tx.Entries...)
	return tx
}
