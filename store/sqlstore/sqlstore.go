/*
Package sqlstore provides a SQL-backed implementation of the ledger and lease
storage interfaces, on SQLite (default) or PostgreSQL.

INTERFACES IMPLEMENTED:
  ledger.Store:       Transaction persistence (append-only)
  billing.LeaseStore: Lease registry

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on transactions or transaction_lines
  - No DELETE statements on transactions or transaction_lines
  - Corrections via reversal transactions only

KEY TABLES:
  transactions:      One row per transaction, metadata denormalized into
                     indexed columns (tenant_id, period, month_settled, ...)
  transaction_lines: One row per debit/credit leg, with parent_code so tenant
                     sub-ledgers roll up without string matching
  leases:            Lease registry (reference data, upserted)

INDEXES:
  - idx_transactions_idempotency:  UNIQUE idempotency key
  - idx_transactions_reversal:     UNIQUE original_transaction_id, so a
                                   transaction can be reversed at most once
  - idx_transactions_tenant_period / _tenant_settled: Deriver hot path
  - idx_lines_account / idx_lines_parent: trial balance and statements

ATOMICITY:
  AppendBatch writes every transaction and every line inside one SQL
  transaction. Any failure rolls the whole batch back.

USAGE:
  store, err := sqlstore.Open("sqlite", "./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := billing.NewService(billing.Options{Store: store, Leases: store})

MIGRATION:
  Schema is auto-migrated on open. Statements are written in the subset of
  SQL both SQLite and PostgreSQL accept.

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/tenant-ledger/billing"
	"github.com/warp/tenant-ledger/ledger"
)

// Dialect selects placeholder style and driver name.
type Dialect string

const (
	SQLite   Dialect = "sqlite3"
	Postgres Dialect = "postgres"
)

// Fixed-width UTC layout so stored timestamps sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements ledger.Store and billing.LeaseStore.
type Store struct {
	db      *sql.DB
	dialect Dialect
	mu      sync.RWMutex
}

// Open opens driver ("sqlite", "sqlite3" or "postgres") at dsn.
func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case "sqlite", "sqlite3", "":
		return NewSQLite(dsn)
	case "postgres", "postgresql":
		return NewPostgres(dsn)
	}
	return nil, fmt.Errorf("unsupported database driver %q", driver)
}

// NewSQLite opens a SQLite database at path. Use ":memory:" for an
// in-memory database.
func NewSQLite(path string) (*Store, error) {
	db, err := sql.Open(string(SQLite), path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: SQLite has a single writer, and ":memory:" is per connection.
	db.SetMaxOpenConns(1)
	return NewWithDB(db, SQLite)
}

// NewPostgres connects to PostgreSQL with a lib/pq DSN.
func NewPostgres(dsn string) (*Store, error) {
	db, err := sql.Open(string(Postgres), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return NewWithDB(db, Postgres)
}

// NewWithDB wraps an open *sql.DB and migrates the schema.
func NewWithDB(db *sql.DB, dialect Dialect) (*Store, error) {
	s := &Store{db: db, dialect: dialect}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SetMaxOpenConns bounds the Postgres connection pool. SQLite keeps its
// single connection.
func (s *Store) SetMaxOpenConns(n int) {
	if s.dialect == Postgres && n > 0 {
		s.db.SetMaxOpenConns(n)
	}
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate(ctx context.Context) error {
	seq := "seq INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.dialect == Postgres {
		seq = "seq BIGSERIAL PRIMARY KEY"
	}
	schema := `
	-- Transactions (append-only ledger); seq keeps insertion order
	CREATE TABLE IF NOT EXISTS transactions (
		` + seq + `,
		id TEXT NOT NULL UNIQUE,
		tx_day TEXT NOT NULL,
		tx_time TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		reference TEXT,
		source TEXT NOT NULL,
		source_id TEXT,
		total_debit TEXT NOT NULL,
		total_credit TEXT NOT NULL,
		tenant_id TEXT,
		lease_id TEXT,
		period TEXT,
		month_settled TEXT,
		original_transaction_id TEXT,
		idempotency_key TEXT,
		metadata_json TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_idempotency
		ON transactions(idempotency_key) WHERE idempotency_key IS NOT NULL;

	-- CRITICAL: a transaction can be reversed at most once
	CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_reversal
		ON transactions(original_transaction_id) WHERE original_transaction_id IS NOT NULL;

	-- Obligations per tenant and month (hot path)
	CREATE INDEX IF NOT EXISTS idx_transactions_tenant_period
		ON transactions(tenant_id, period);
	CREATE INDEX IF NOT EXISTS idx_transactions_tenant_settled
		ON transactions(tenant_id, month_settled);

	CREATE INDEX IF NOT EXISTS idx_transactions_day
		ON transactions(tx_day);
	CREATE INDEX IF NOT EXISTS idx_transactions_lease
		ON transactions(lease_id) WHERE lease_id IS NOT NULL;

	-- Lines (debit/credit legs)
	CREATE TABLE IF NOT EXISTS transaction_lines (
		transaction_id TEXT NOT NULL REFERENCES transactions(id),
		line_no INTEGER NOT NULL,
		account_code TEXT NOT NULL,
		parent_code TEXT NOT NULL,
		account_name TEXT NOT NULL DEFAULT '',
		account_type TEXT NOT NULL,
		debit TEXT NOT NULL,
		credit TEXT NOT NULL,
		component TEXT,
		description TEXT,
		PRIMARY KEY (transaction_id, line_no)
	);

	CREATE INDEX IF NOT EXISTS idx_lines_account
		ON transaction_lines(account_code);
	CREATE INDEX IF NOT EXISTS idx_lines_parent
		ON transaction_lines(parent_code);

	-- Leases (reference data)
	CREATE TABLE IF NOT EXISTS leases (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		residence_id TEXT,
		room_rate TEXT NOT NULL,
		admin_fee TEXT NOT NULL,
		deposit_amount TEXT NOT NULL,
		lease_start TEXT NOT NULL,
		lease_end TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_leases_tenant
		ON leases(tenant_id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// =============================================================================
// TRANSACTION STORE (ledger.Store interface)
// =============================================================================

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Append adds a transaction and its lines in one SQL transaction.
func (s *Store) Append(ctx context.Context, tx ledger.Transaction) error {
	return s.AppendBatch(ctx, []ledger.Transaction{tx})
}

// AppendBatch adds multiple transactions atomically.
func (s *Store) AppendBatch(ctx context.Context, txs []ledger.Transaction) error {
	// Check for duplicate idempotency keys within the batch first
	keys := make(map[string]bool, len(txs))
	for _, tx := range txs {
		if tx.IdempotencyKey == "" {
			continue
		}
		if keys[tx.IdempotencyKey] {
			return ledger.ErrDuplicateIdempotencyKey
		}
		keys[tx.IdempotencyKey] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, tx := range txs {
		if err := s.appendTx(ctx, sqlTx, tx); err != nil {
			return err
		}
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) appendTx(ctx context.Context, db execer, tx ledger.Transaction) error {
	metadataJSON, err := json.Marshal(tx.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	createdAt := tx.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = db.ExecContext(ctx, s.rebind(`
		INSERT INTO transactions
		(id, tx_day, tx_time, description, reference, source, source_id, total_debit, total_credit,
		 tenant_id, lease_id, period, month_settled, original_transaction_id, idempotency_key,
		 metadata_json, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		string(tx.ID),
		ledger.Day(tx.Date).Format(time.DateOnly),
		tx.Date.UTC().Format(timeLayout),
		tx.Description,
		nullString(tx.Reference),
		string(tx.Source),
		nullString(tx.SourceID),
		tx.TotalDebit.String(),
		tx.TotalCredit.String(),
		nullString(string(tx.Metadata.TenantID)),
		nullString(tx.Metadata.LeaseID),
		nullString(tx.Metadata.Period.String()),
		nullString(tx.Metadata.MonthSettled.String()),
		nullString(string(tx.Metadata.OriginalTransactionID)),
		nullString(tx.IdempotencyKey),
		string(metadataJSON),
		nullString(tx.CreatedBy),
		createdAt.UTC().Format(timeLayout),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append transaction %s: %w", tx.ID, err)
	}

	for i, line := range tx.Entries {
		_, err := db.ExecContext(ctx, s.rebind(`
			INSERT INTO transaction_lines
			(transaction_id, line_no, account_code, parent_code, account_name, account_type,
			 debit, credit, component, description)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`),
			string(tx.ID), i,
			string(line.AccountCode),
			string(ledger.ParentCode(line.AccountCode)),
			line.AccountName,
			string(line.AccountType),
			line.Debit.String(),
			line.Credit.String(),
			nullString(string(line.Component)),
			nullString(line.Description),
		)
		if err != nil {
			return fmt.Errorf("failed to append line %d of %s: %w", i, tx.ID, err)
		}
	}
	return nil
}

// Get returns a transaction by id.
func (s *Store) Get(ctx context.Context, id ledger.TransactionID) (ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txs, err := s.queryTransactions(ctx, "t.id = ?", []any{string(id)})
	if err != nil {
		return ledger.Transaction{}, err
	}
	if len(txs) == 0 {
		return ledger.Transaction{}, fmt.Errorf("transaction %s: %w", id, ledger.ErrNotFound)
	}
	return txs[0], nil
}

// Find returns transactions matching q ordered by date, then insertion.
func (s *Store) Find(ctx context.Context, q ledger.Query) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if q.TenantID != "" {
		where = append(where, "t.tenant_id = ?")
		args = append(args, string(q.TenantID))
	}
	if q.LeaseID != "" {
		where = append(where, "t.lease_id = ?")
		args = append(args, q.LeaseID)
	}
	if q.OriginalTransactionID != "" {
		where = append(where, "t.original_transaction_id = ?")
		args = append(args, string(q.OriginalTransactionID))
	}
	if !q.Month.IsZero() {
		where = append(where, "(t.period = ? OR t.month_settled = ?)")
		args = append(args, q.Month.String(), q.Month.String())
	}
	if len(q.Sources) > 0 {
		marks := make([]string, len(q.Sources))
		for i, src := range q.Sources {
			marks[i] = "?"
			args = append(args, string(src))
		}
		where = append(where, "t.source IN ("+strings.Join(marks, ", ")+")")
	}
	if !q.From.IsZero() {
		where = append(where, "t.tx_day >= ?")
		args = append(args, ledger.Day(q.From).Format(time.DateOnly))
	}
	if !q.To.IsZero() {
		where = append(where, "t.tx_day <= ?")
		args = append(args, ledger.Day(q.To).Format(time.DateOnly))
	}
	if q.AccountCode != "" {
		column := "account_code"
		if q.IncludeSubAccounts {
			column = "parent_code"
		}
		where = append(where, "EXISTS (SELECT 1 FROM transaction_lines x WHERE x.transaction_id = t.id AND (x.account_code = ? OR x."+column+" = ?))")
		args = append(args, string(q.AccountCode), string(q.AccountCode))
	}

	txs, err := s.queryTransactions(ctx, strings.Join(where, " AND "), args)
	if err != nil {
		return nil, err
	}
	// Final predicate keeps semantics identical to the memory store.
	result := txs[:0]
	for _, tx := range txs {
		if q.Matches(tx) {
			result = append(result, tx)
		}
	}
	return result, nil
}

// Exists checks if an idempotency key exists.
func (s *Store) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		s.rebind("SELECT COUNT(*) FROM transactions WHERE idempotency_key = ?"),
		idempotencyKey,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check idempotency key: %w", err)
	}
	return count > 0, nil
}

// queryTransactions loads transactions (with lines) matching where.
func (s *Store) queryTransactions(ctx context.Context, where string, args []any) ([]ledger.Transaction, error) {
	query := `
		SELECT t.id, t.tx_time, t.description, t.reference, t.source, t.source_id,
		       t.total_debit, t.total_credit, t.idempotency_key, t.metadata_json,
		       t.created_by, t.created_at,
		       l.account_code, l.account_name, l.account_type, l.debit, l.credit,
		       l.component, l.description
		FROM transactions t
		JOIN transaction_lines l ON l.transaction_id = t.id`
	if where != "" {
		query += "\n\t\tWHERE " + where
	}
	query += "\n\t\tORDER BY t.tx_time ASC, t.seq ASC, l.line_no ASC"

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []ledger.Transaction
	for rows.Next() {
		tx, line, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		if n := len(transactions); n > 0 && transactions[n-1].ID == tx.ID {
			transactions[n-1].Entries = append(transactions[n-1].Entries, line)
			continue
		}
		tx.Entries = []ledger.Line{line}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

func scanRow(rows *sql.Rows) (ledger.Transaction, ledger.Line, error) {
	var (
		tx             ledger.Transaction
		line           ledger.Line
		txTime         string
		reference      sql.NullString
		sourceID       sql.NullString
		totalDebit     string
		totalCredit    string
		idempotencyKey sql.NullString
		metadataJSON   sql.NullString
		createdBy      sql.NullString
		createdAt      string
		debit          string
		credit         string
		component      sql.NullString
		lineDesc       sql.NullString
	)
	err := rows.Scan(
		&tx.ID, &txTime, &tx.Description, &reference, &tx.Source, &sourceID,
		&totalDebit, &totalCredit, &idempotencyKey, &metadataJSON,
		&createdBy, &createdAt,
		&line.AccountCode, &line.AccountName, &line.AccountType, &debit, &credit,
		&component, &lineDesc,
	)
	if err != nil {
		return tx, line, fmt.Errorf("failed to scan transaction: %w", err)
	}

	if tx.Date, err = time.Parse(timeLayout, txTime); err != nil {
		return tx, line, fmt.Errorf("transaction %s: bad date %q: %w", tx.ID, txTime, err)
	}
	if tx.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return tx, line, fmt.Errorf("transaction %s: bad created_at %q: %w", tx.ID, createdAt, err)
	}
	tx.Reference = reference.String
	tx.SourceID = sourceID.String
	tx.IdempotencyKey = idempotencyKey.String
	tx.CreatedBy = createdBy.String
	tx.Status = ledger.StatusPosted
	if tx.TotalDebit, err = decimal.NewFromString(totalDebit); err != nil {
		return tx, line, fmt.Errorf("transaction %s: %w", tx.ID, err)
	}
	if tx.TotalCredit, err = decimal.NewFromString(totalCredit); err != nil {
		return tx, line, fmt.Errorf("transaction %s: %w", tx.ID, err)
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &tx.Metadata); err != nil {
			return tx, line, fmt.Errorf("transaction %s: bad metadata: %w", tx.ID, err)
		}
	}

	if line.Debit, err = decimal.NewFromString(debit); err != nil {
		return tx, line, fmt.Errorf("transaction %s: %w", tx.ID, err)
	}
	if line.Credit, err = decimal.NewFromString(credit); err != nil {
		return tx, line, fmt.Errorf("transaction %s: %w", tx.ID, err)
	}
	line.Component = ledger.Component(component.String)
	line.Description = lineDesc.String
	return tx, line, nil
}

// =============================================================================
// LEASE STORE (billing.LeaseStore interface)
// =============================================================================

// SaveLease inserts or replaces a lease.
func (s *Store) SaveLease(ctx context.Context, lease billing.Lease) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO leases
		(id, tenant_id, residence_id, room_rate, admin_fee, deposit_amount, lease_start, lease_end, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			residence_id = excluded.residence_id,
			room_rate = excluded.room_rate,
			admin_fee = excluded.admin_fee,
			deposit_amount = excluded.deposit_amount,
			lease_start = excluded.lease_start,
			lease_end = excluded.lease_end,
			updated_at = excluded.updated_at
	`),
		lease.ID,
		string(lease.TenantID),
		nullString(lease.ResidenceID),
		lease.RoomRate.String(),
		lease.AdminFee.String(),
		lease.DepositAmount.String(),
		lease.LeaseStart.UTC().Format(timeLayout),
		lease.LeaseEnd.UTC().Format(timeLayout),
		time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to save lease %s: %w", lease.ID, err)
	}
	return nil
}

func (s *Store) GetLease(ctx context.Context, id string) (billing.Lease, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	leases, err := s.queryLeases(ctx, "WHERE id = ?", id)
	if err != nil {
		return billing.Lease{}, err
	}
	if len(leases) == 0 {
		return billing.Lease{}, fmt.Errorf("lease %s: %w", id, ledger.ErrNotFound)
	}
	return leases[0], nil
}

func (s *Store) LeasesByTenant(ctx context.Context, tenant ledger.TenantID) ([]billing.Lease, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryLeases(ctx, "WHERE tenant_id = ?", string(tenant))
}

func (s *Store) ListLeases(ctx context.Context) ([]billing.Lease, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryLeases(ctx, "")
}

func (s *Store) queryLeases(ctx context.Context, where string, args ...any) ([]billing.Lease, error) {
	query := `SELECT id, tenant_id, residence_id, room_rate, admin_fee, deposit_amount, lease_start, lease_end
		FROM leases ` + where
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query leases: %w", err)
	}
	defer rows.Close()

	var leases []billing.Lease
	for rows.Next() {
		var (
			l                  billing.Lease
			residence          sql.NullString
			rate, fee, deposit string
			start, end         string
		)
		if err = rows.Scan(&l.ID, &l.TenantID, &residence, &rate, &fee, &deposit, &start, &end); err != nil {
			return nil, fmt.Errorf("failed to scan lease: %w", err)
		}
		l.ResidenceID = residence.String
		if l.RoomRate, err = decimal.NewFromString(rate); err != nil {
			return nil, fmt.Errorf("lease %s: bad room_rate %q: %w", l.ID, rate, err)
		}
		if l.AdminFee, err = decimal.NewFromString(fee); err != nil {
			return nil, fmt.Errorf("lease %s: bad admin_fee %q: %w", l.ID, fee, err)
		}
		if l.DepositAmount, err = decimal.NewFromString(deposit); err != nil {
			return nil, fmt.Errorf("lease %s: bad deposit_amount %q: %w", l.ID, deposit, err)
		}
		if l.LeaseStart, err = time.Parse(timeLayout, start); err != nil {
			return nil, fmt.Errorf("lease %s: bad lease_start %q: %w", l.ID, start, err)
		}
		if l.LeaseEnd, err = time.Parse(timeLayout, end); err != nil {
			return nil, fmt.Errorf("lease %s: bad lease_end %q: %w", l.ID, end, err)
		}
		leases = append(leases, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	billing.SortLeases(leases)
	return leases, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// rebind rewrites ? placeholders to $1, $2, ... for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
