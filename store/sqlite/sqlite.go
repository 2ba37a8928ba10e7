/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements pto.TxStore and pto.RunLockStore using SQLite. In production,
  the same patterns apply to PostgreSQL - only minor SQL dialect
  differences.

KEY TABLES:
  pto_policies:          Accrual policy definitions
  employees:             Employee records
  pto_current_balances:  Balance cache with version counter (one row per
                         employee and category)
  pto_ledger:            Immutable balance-change ledger
  employee_time_off:     Time-off requests
  run_locks:             Durable batch-run leases

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statements touch pto_ledger. Corrections arrive as
  new entries. The balance cache is only ever written together with a
  ledger insert, inside one database transaction (applyChange).

CONCURRENCY:
  Balance writes are conditional UPDATEs on the version column; zero rows
  affected means another writer got there first and the caller sees
  pto.ErrConcurrentModification. Request transitions are conditional on
  the stored status the same way.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/pto.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - pto/store.go: Interface definitions
  - store/memory: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fieldserve/pto-engine/pto"
)

// Store implements pto.TxStore and pto.RunLockStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS pto_policies (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		name TEXT NOT NULL,
		accrual_period TEXT NOT NULL,
		vacation_hours_per_period TEXT NOT NULL,
		sick_hours_per_period TEXT NOT NULL,
		max_vacation_hours TEXT,
		max_sick_hours TEXT,
		carryover_limit TEXT,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_policies_company
		ON pto_policies(company_id, is_active);

	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		name TEXT NOT NULL,
		email TEXT,
		hire_date TEXT,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_employees_company
		ON employees(company_id, is_active);

	-- Balance cache. Derived from pto_ledger; version is the
	-- optimistic-concurrency counter.
	CREATE TABLE IF NOT EXISTS pto_current_balances (
		employee_id TEXT NOT NULL,
		company_id TEXT NOT NULL,
		category_code TEXT NOT NULL,
		current_balance TEXT NOT NULL,
		last_transaction_date TEXT NOT NULL,
		accrual_count INTEGER NOT NULL DEFAULT 0,
		usage_count INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (employee_id, category_code)
	);
	CREATE INDEX IF NOT EXISTS idx_balances_company
		ON pto_current_balances(company_id);

	-- Append-only ledger. seq gives a total creation order for replay.
	CREATE TABLE IF NOT EXISTS pto_ledger (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		employee_id TEXT NOT NULL,
		company_id TEXT NOT NULL,
		policy_id TEXT,
		entry_type TEXT NOT NULL,
		category_code TEXT NOT NULL,
		hours TEXT NOT NULL,
		effective_date TEXT NOT NULL,
		balance_after TEXT NOT NULL,
		related_request_id TEXT,
		description TEXT,
		notes TEXT,
		processed_by TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_ledger_employee_category
		ON pto_ledger(employee_id, category_code, seq);
	CREATE INDEX IF NOT EXISTS idx_ledger_company
		ON pto_ledger(company_id, seq);
	CREATE INDEX IF NOT EXISTS idx_ledger_request
		ON pto_ledger(related_request_id) WHERE related_request_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS employee_time_off (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		company_id TEXT NOT NULL,
		accrual_type TEXT NOT NULL,
		starts_at TEXT NOT NULL,
		ends_at TEXT NOT NULL,
		hours_requested TEXT NOT NULL,
		hours_approved TEXT,
		status TEXT NOT NULL,
		note TEXT,
		denial_reason TEXT,
		approved_by TEXT,
		approved_at TEXT,
		denied_by TEXT,
		denied_at TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_time_off_company_status
		ON employee_time_off(company_id, status);
	CREATE INDEX IF NOT EXISTS idx_time_off_employee
		ON employee_time_off(employee_id);

	CREATE TABLE IF NOT EXISTS run_locks (
		scope TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		expires_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is the subset of *sql.DB and *sql.Tx the queries need, so every
// method can run either directly or inside WithTx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// POLICIES
// =============================================================================

func (s *Store) SavePolicy(ctx context.Context, p pto.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return savePolicy(ctx, s.db, p)
}

func savePolicy(ctx context.Context, db dbtx, p pto.Policy) error {
	query := `
		INSERT INTO pto_policies
		(id, company_id, name, accrual_period, vacation_hours_per_period,
		 sick_hours_per_period, max_vacation_hours, max_sick_hours,
		 carryover_limit, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			accrual_period = excluded.accrual_period,
			vacation_hours_per_period = excluded.vacation_hours_per_period,
			sick_hours_per_period = excluded.sick_hours_per_period,
			max_vacation_hours = excluded.max_vacation_hours,
			max_sick_hours = excluded.max_sick_hours,
			carryover_limit = excluded.carryover_limit,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`
	_, err := db.ExecContext(ctx, query,
		p.ID, p.CompanyID, p.Name, p.AccrualPeriod,
		p.VacationHoursPerPeriod.String(), p.SickHoursPerPeriod.String(),
		nullDecimal(p.MaxVacationHours), nullDecimal(p.MaxSickHours),
		nullDecimal(p.CarryoverLimit), boolInt(p.IsActive),
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save policy: %w", err)
	}
	return nil
}

const policyColumns = `id, company_id, name, accrual_period, vacation_hours_per_period,
	sick_hours_per_period, max_vacation_hours, max_sick_hours, carryover_limit,
	is_active, created_at, updated_at`

func (s *Store) GetPolicy(ctx context.Context, id string) (*pto.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getPolicy(ctx, s.db, id)
}

func getPolicy(ctx context.Context, db dbtx, id string) (*pto.Policy, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+policyColumns+` FROM pto_policies WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query policy: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	p, err := scanPolicy(rows)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListPolicies(ctx context.Context, companyID string) ([]pto.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listPolicies(ctx, s.db, companyID, false)
}

func (s *Store) ListActivePolicies(ctx context.Context, companyID string) ([]pto.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listPolicies(ctx, s.db, companyID, true)
}

func listPolicies(ctx context.Context, db dbtx, companyID string, activeOnly bool) ([]pto.Policy, error) {
	query := `SELECT ` + policyColumns + ` FROM pto_policies WHERE 1=1`
	var args []any
	if companyID != "" {
		query += ` AND company_id = ?`
		args = append(args, companyID)
	}
	if activeOnly {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY created_at DESC, id ASC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query policies: %w", err)
	}
	defer rows.Close()

	var policies []pto.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

func (s *Store) ActivePolicyForCompany(ctx context.Context, companyID string) (*pto.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return activePolicyForCompany(ctx, s.db, companyID)
}

func activePolicyForCompany(ctx context.Context, db dbtx, companyID string) (*pto.Policy, error) {
	active, err := listPolicies(ctx, db, companyID, true)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, nil
	}
	return &active[0], nil
}

func scanPolicy(rows *sql.Rows) (pto.Policy, error) {
	var (
		p                    pto.Policy
		vacPerPeriod         string
		sickPerPeriod        string
		maxVac, maxSick      sql.NullString
		carryover            sql.NullString
		isActive             int
		createdAt, updatedAt string
	)
	err := rows.Scan(&p.ID, &p.CompanyID, &p.Name, &p.AccrualPeriod,
		&vacPerPeriod, &sickPerPeriod, &maxVac, &maxSick, &carryover,
		&isActive, &createdAt, &updatedAt)
	if err != nil {
		return p, fmt.Errorf("failed to scan policy: %w", err)
	}

	p.VacationHoursPerPeriod = mustDecimal(vacPerPeriod)
	p.SickHoursPerPeriod = mustDecimal(sickPerPeriod)
	p.MaxVacationHours = decimalPtr(maxVac)
	p.MaxSickHours = decimalPtr(maxSick)
	p.CarryoverLimit = decimalPtr(carryover)
	p.IsActive = isActive != 0
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}

// =============================================================================
// EMPLOYEES
// =============================================================================

func (s *Store) SaveEmployee(ctx context.Context, e pto.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveEmployee(ctx, s.db, e)
}

func saveEmployee(ctx context.Context, db dbtx, e pto.Employee) error {
	query := `
		INSERT INTO employees (id, company_id, name, email, hire_date, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			company_id = excluded.company_id,
			name = excluded.name,
			email = excluded.email,
			hire_date = excluded.hire_date,
			is_active = excluded.is_active
	`
	_, err := db.ExecContext(ctx, query,
		e.ID, e.CompanyID, e.Name, nullString(e.Email),
		formatTime(e.HireDate), boolInt(e.IsActive), formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save employee: %w", err)
	}
	return nil
}

func (s *Store) GetEmployee(ctx context.Context, id string) (*pto.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getEmployee(ctx, s.db, id)
}

func getEmployee(ctx context.Context, db dbtx, id string) (*pto.Employee, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, company_id, name, email, hire_date, is_active, created_at
		 FROM employees WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query employee: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	e, err := scanEmployee(rows)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) ListActiveEmployees(ctx context.Context, companyID string) ([]pto.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listActiveEmployees(ctx, s.db, companyID)
}

func listActiveEmployees(ctx context.Context, db dbtx, companyID string) ([]pto.Employee, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, company_id, name, email, hire_date, is_active, created_at
		 FROM employees WHERE company_id = ? AND is_active = 1 ORDER BY id ASC`,
		companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query employees: %w", err)
	}
	defer rows.Close()

	var employees []pto.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		employees = append(employees, e)
	}
	return employees, rows.Err()
}

func scanEmployee(rows *sql.Rows) (pto.Employee, error) {
	var (
		e                   pto.Employee
		email               sql.NullString
		hireDate, createdAt string
		isActive            int
	)
	err := rows.Scan(&e.ID, &e.CompanyID, &e.Name, &email, &hireDate, &isActive, &createdAt)
	if err != nil {
		return e, fmt.Errorf("failed to scan employee: %w", err)
	}
	e.Email = email.String
	e.HireDate = parseTime(hireDate)
	e.IsActive = isActive != 0
	e.CreatedAt = parseTime(createdAt)
	return e, nil
}

// =============================================================================
// BALANCES + LEDGER
// =============================================================================

const balanceColumns = `employee_id, company_id, category_code, current_balance,
	last_transaction_date, accrual_count, usage_count, version, updated_at`

func (s *Store) GetBalance(ctx context.Context, employeeID string, category pto.CategoryCode) (*pto.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getBalance(ctx, s.db, employeeID, category)
}

func getBalance(ctx context.Context, db dbtx, employeeID string, category pto.CategoryCode) (*pto.Balance, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+balanceColumns+` FROM pto_current_balances
		 WHERE employee_id = ? AND category_code = ?`, employeeID, category)
	if err != nil {
		return nil, fmt.Errorf("failed to query balance: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	b, err := scanBalance(rows)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Store) ListBalances(ctx context.Context, employeeID string) ([]pto.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryBalances(ctx, s.db,
		`SELECT `+balanceColumns+` FROM pto_current_balances
		 WHERE employee_id = ? ORDER BY category_code ASC`, employeeID)
}

func (s *Store) ListCompanyBalances(ctx context.Context, companyID string) ([]pto.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryBalances(ctx, s.db,
		`SELECT `+balanceColumns+` FROM pto_current_balances
		 WHERE company_id = ? ORDER BY employee_id ASC, category_code ASC`, companyID)
}

func queryBalances(ctx context.Context, db dbtx, query string, args ...any) ([]pto.Balance, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}
	defer rows.Close()

	var balances []pto.Balance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

func scanBalance(rows *sql.Rows) (pto.Balance, error) {
	var (
		b                   pto.Balance
		currentBalance      string
		lastTx, updatedAt   string
	)
	err := rows.Scan(&b.EmployeeID, &b.CompanyID, &b.Category, &currentBalance,
		&lastTx, &b.AccrualCount, &b.UsageCount, &b.Version, &updatedAt)
	if err != nil {
		return b, fmt.Errorf("failed to scan balance: %w", err)
	}
	b.CurrentBalance = mustDecimal(currentBalance)
	b.LastTransactionDate = parseTime(lastTx)
	b.UpdatedAt = parseTime(updatedAt)
	return b, nil
}

func (s *Store) ApplyBalanceChange(ctx context.Context, change pto.BalanceChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := applyChange(ctx, sqlTx, change); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// applyChange performs the balance write and ledger append together. It is
// always called with db already inside a database transaction.
func applyChange(ctx context.Context, db dbtx, change pto.BalanceChange) error {
	if err := change.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()

	if change.ExpectedVersion == 0 {
		// The row must not exist yet; a unique-constraint failure means a
		// concurrent writer inserted it first.
		_, err := db.ExecContext(ctx, `
			INSERT INTO pto_current_balances
			(employee_id, company_id, category_code, current_balance,
			 last_transaction_date, accrual_count, usage_count, version, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?)`,
			change.EmployeeID, change.CompanyID, change.Category,
			change.NewBalance.String(), formatTime(change.TransactionAt),
			boolInt(change.CountAccrual), boolInt(change.CountUsage),
			formatTime(now),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return pto.ErrConcurrentModification
			}
			return fmt.Errorf("failed to insert balance: %w", err)
		}
	} else {
		res, err := db.ExecContext(ctx, `
			UPDATE pto_current_balances SET
				current_balance = ?,
				last_transaction_date = ?,
				accrual_count = accrual_count + ?,
				usage_count = usage_count + ?,
				version = version + 1,
				updated_at = ?
			WHERE employee_id = ? AND category_code = ? AND version = ?`,
			change.NewBalance.String(), formatTime(change.TransactionAt),
			boolInt(change.CountAccrual), boolInt(change.CountUsage),
			formatTime(now),
			change.EmployeeID, change.Category, change.ExpectedVersion,
		)
		if err != nil {
			return fmt.Errorf("failed to update balance: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		if affected == 0 {
			return pto.ErrConcurrentModification
		}
	}

	e := change.Entry
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO pto_ledger
		(id, employee_id, company_id, policy_id, entry_type, category_code,
		 hours, effective_date, balance_after, related_request_id,
		 description, notes, processed_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.EmployeeID, e.CompanyID, nullString(e.PolicyID),
		e.Type, e.Category, e.Hours.String(), formatTime(e.EffectiveDate),
		e.BalanceAfter.String(), nullString(e.RelatedRequestID),
		nullString(e.Description), nullString(e.Notes),
		nullString(e.ProcessedBy), formatTime(createdAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

const ledgerColumns = `id, employee_id, company_id, policy_id, entry_type,
	category_code, hours, effective_date, balance_after, related_request_id,
	description, notes, processed_by, created_at`

func (s *Store) Entries(ctx context.Context, employeeID string, category pto.CategoryCode) ([]pto.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryEntries(ctx, s.db,
		`SELECT `+ledgerColumns+` FROM pto_ledger
		 WHERE employee_id = ? AND category_code = ? ORDER BY seq ASC`,
		employeeID, category)
}

func (s *Store) EmployeeHistory(ctx context.Context, employeeID string) ([]pto.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryEntries(ctx, s.db,
		`SELECT `+ledgerColumns+` FROM pto_ledger
		 WHERE employee_id = ? ORDER BY seq ASC`, employeeID)
}

func (s *Store) CompanyEntries(ctx context.Context, companyID string) ([]pto.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryEntries(ctx, s.db,
		`SELECT `+ledgerColumns+` FROM pto_ledger
		 WHERE company_id = ? ORDER BY seq ASC`, companyID)
}

func queryEntries(ctx context.Context, db dbtx, query string, args ...any) ([]pto.LedgerEntry, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var entries []pto.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (pto.LedgerEntry, error) {
	var (
		e                        pto.LedgerEntry
		policyID, relatedRequest sql.NullString
		description, notes       sql.NullString
		processedBy              sql.NullString
		hours, balanceAfter      string
		effectiveDate, createdAt string
	)
	err := rows.Scan(&e.ID, &e.EmployeeID, &e.CompanyID, &policyID, &e.Type,
		&e.Category, &hours, &effectiveDate, &balanceAfter, &relatedRequest,
		&description, &notes, &processedBy, &createdAt)
	if err != nil {
		return e, fmt.Errorf("failed to scan ledger entry: %w", err)
	}
	e.PolicyID = policyID.String
	e.Hours = mustDecimal(hours)
	e.EffectiveDate = parseTime(effectiveDate)
	e.BalanceAfter = mustDecimal(balanceAfter)
	e.RelatedRequestID = relatedRequest.String
	e.Description = description.String
	e.Notes = notes.String
	e.ProcessedBy = processedBy.String
	e.CreatedAt = parseTime(createdAt)
	return e, nil
}

// =============================================================================
// REQUESTS
// =============================================================================

func (s *Store) SaveRequest(ctx context.Context, r pto.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveRequest(ctx, s.db, r)
}

func saveRequest(ctx context.Context, db dbtx, r pto.Request) error {
	query := `
		INSERT INTO employee_time_off
		(id, employee_id, company_id, accrual_type, starts_at, ends_at,
		 hours_requested, hours_approved, status, note, denial_reason,
		 approved_by, approved_at, denied_by, denied_at, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		r.ID, r.EmployeeID, r.CompanyID, r.AccrualType,
		formatTime(r.StartsAt), formatTime(r.EndsAt),
		r.HoursRequested.String(), nullDecimal(r.HoursApproved),
		r.Status, nullString(r.Note), nullString(r.DenialReason),
		nullString(r.ApprovedBy), nullTime(r.ApprovedAt),
		nullString(r.DeniedBy), nullTime(r.DeniedAt),
		nullString(r.CreatedBy), formatTime(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save request: %w", err)
	}
	return nil
}

const requestColumns = `id, employee_id, company_id, accrual_type, starts_at,
	ends_at, hours_requested, hours_approved, status, note, denial_reason,
	approved_by, approved_at, denied_by, denied_at, created_by, created_at`

func (s *Store) GetRequest(ctx context.Context, id string) (*pto.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getRequest(ctx, s.db, id)
}

func getRequest(ctx context.Context, db dbtx, id string) (*pto.Request, error) {
	requests, err := queryRequests(ctx, db,
		`SELECT `+requestColumns+` FROM employee_time_off WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(requests) == 0 {
		return nil, nil
	}
	return &requests[0], nil
}

func (s *Store) ListRequests(ctx context.Context, f pto.RequestFilter) ([]pto.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listRequests(ctx, s.db, f)
}

func listRequests(ctx context.Context, db dbtx, f pto.RequestFilter) ([]pto.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM employee_time_off WHERE 1=1`
	var args []any
	if f.CompanyID != "" {
		query += ` AND company_id = ?`
		args = append(args, f.CompanyID)
	}
	if f.EmployeeID != "" {
		query += ` AND employee_id = ?`
		args = append(args, f.EmployeeID)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	query += ` ORDER BY created_at DESC, id ASC`
	return queryRequests(ctx, db, query, args...)
}

func queryRequests(ctx context.Context, db dbtx, query string, args ...any) ([]pto.Request, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	var requests []pto.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

func scanRequest(rows *sql.Rows) (pto.Request, error) {
	var (
		r                     pto.Request
		startsAt, endsAt      string
		hoursRequested        string
		hoursApproved         sql.NullString
		note, denialReason    sql.NullString
		approvedBy, deniedBy  sql.NullString
		approvedAt, deniedAt  sql.NullString
		createdBy             sql.NullString
		createdAt             string
	)
	err := rows.Scan(&r.ID, &r.EmployeeID, &r.CompanyID, &r.AccrualType,
		&startsAt, &endsAt, &hoursRequested, &hoursApproved, &r.Status,
		&note, &denialReason, &approvedBy, &approvedAt, &deniedBy, &deniedAt,
		&createdBy, &createdAt)
	if err != nil {
		return r, fmt.Errorf("failed to scan request: %w", err)
	}
	r.StartsAt = parseTime(startsAt)
	r.EndsAt = parseTime(endsAt)
	r.HoursRequested = mustDecimal(hoursRequested)
	r.HoursApproved = decimalPtr(hoursApproved)
	r.Note = note.String
	r.DenialReason = denialReason.String
	r.ApprovedBy = approvedBy.String
	r.ApprovedAt = timePtr(approvedAt)
	r.DeniedBy = deniedBy.String
	r.DeniedAt = timePtr(deniedAt)
	r.CreatedBy = createdBy.String
	r.CreatedAt = parseTime(createdAt)
	return r, nil
}

func (s *Store) TransitionRequest(ctx context.Context, updated pto.Request, expect pto.RequestStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return transitionRequest(ctx, s.db, updated, expect)
}

func transitionRequest(ctx context.Context, db dbtx, updated pto.Request, expect pto.RequestStatus) error {
	res, err := db.ExecContext(ctx, `
		UPDATE employee_time_off SET
			status = ?,
			hours_approved = ?,
			denial_reason = ?,
			approved_by = ?,
			approved_at = ?,
			denied_by = ?,
			denied_at = ?
		WHERE id = ? AND status = ?`,
		updated.Status, nullDecimal(updated.HoursApproved),
		nullString(updated.DenialReason), nullString(updated.ApprovedBy),
		nullTime(updated.ApprovedAt), nullString(updated.DeniedBy),
		nullTime(updated.DeniedAt),
		updated.ID, expect,
	)
	if err != nil {
		return fmt.Errorf("failed to transition request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		existing, err := getRequest(ctx, db, updated.ID)
		if err != nil {
			return err
		}
		if existing == nil {
			return pto.ErrRequestNotFound
		}
		return pto.ErrConcurrentModification
	}
	return nil
}

// =============================================================================
// RUN LOCKS
// =============================================================================

func (s *Store) AcquireRunLock(ctx context.Context, scope, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO run_locks (scope, owner, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(scope) DO UPDATE SET
			owner = excluded.owner,
			expires_at = excluded.expires_at
		WHERE run_locks.expires_at <= ? OR run_locks.owner = excluded.owner`,
		scope, owner, formatTime(now.Add(ttl)), formatTime(now),
	)
	if err != nil {
		return false, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected > 0, nil
}

func (s *Store) ReleaseRunLock(ctx context.Context, scope, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM run_locks WHERE scope = ? AND owner = ?`, scope, owner)
	if err != nil {
		return fmt.Errorf("failed to release run lock: %w", err)
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store pto.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore routes every call through the open *sql.Tx.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) SavePolicy(ctx context.Context, p pto.Policy) error {
	return savePolicy(ctx, ts.tx, p)
}

func (ts *txStore) GetPolicy(ctx context.Context, id string) (*pto.Policy, error) {
	return getPolicy(ctx, ts.tx, id)
}

func (ts *txStore) ListPolicies(ctx context.Context, companyID string) ([]pto.Policy, error) {
	return listPolicies(ctx, ts.tx, companyID, false)
}

func (ts *txStore) ListActivePolicies(ctx context.Context, companyID string) ([]pto.Policy, error) {
	return listPolicies(ctx, ts.tx, companyID, true)
}

func (ts *txStore) ActivePolicyForCompany(ctx context.Context, companyID string) (*pto.Policy, error) {
	return activePolicyForCompany(ctx, ts.tx, companyID)
}

func (ts *txStore) SaveEmployee(ctx context.Context, e pto.Employee) error {
	return saveEmployee(ctx, ts.tx, e)
}

func (ts *txStore) GetEmployee(ctx context.Context, id string) (*pto.Employee, error) {
	return getEmployee(ctx, ts.tx, id)
}

func (ts *txStore) ListActiveEmployees(ctx context.Context, companyID string) ([]pto.Employee, error) {
	return listActiveEmployees(ctx, ts.tx, companyID)
}

func (ts *txStore) GetBalance(ctx context.Context, employeeID string, category pto.CategoryCode) (*pto.Balance, error) {
	return getBalance(ctx, ts.tx, employeeID, category)
}

func (ts *txStore) ListBalances(ctx context.Context, employeeID string) ([]pto.Balance, error) {
	return queryBalances(ctx, ts.tx,
		`SELECT `+balanceColumns+` FROM pto_current_balances
		 WHERE employee_id = ? ORDER BY category_code ASC`, employeeID)
}

func (ts *txStore) ListCompanyBalances(ctx context.Context, companyID string) ([]pto.Balance, error) {
	return queryBalances(ctx, ts.tx,
		`SELECT `+balanceColumns+` FROM pto_current_balances
		 WHERE company_id = ? ORDER BY employee_id ASC, category_code ASC`, companyID)
}

func (ts *txStore) Entries(ctx context.Context, employeeID string, category pto.CategoryCode) ([]pto.LedgerEntry, error) {
	return queryEntries(ctx, ts.tx,
		`SELECT `+ledgerColumns+` FROM pto_ledger
		 WHERE employee_id = ? AND category_code = ? ORDER BY seq ASC`,
		employeeID, category)
}

func (ts *txStore) EmployeeHistory(ctx context.Context, employeeID string) ([]pto.LedgerEntry, error) {
	return queryEntries(ctx, ts.tx,
		`SELECT `+ledgerColumns+` FROM pto_ledger
		 WHERE employee_id = ? ORDER BY seq ASC`, employeeID)
}

func (ts *txStore) CompanyEntries(ctx context.Context, companyID string) ([]pto.LedgerEntry, error) {
	return queryEntries(ctx, ts.tx,
		`SELECT `+ledgerColumns+` FROM pto_ledger
		 WHERE company_id = ? ORDER BY seq ASC`, companyID)
}

func (ts *txStore) ApplyBalanceChange(ctx context.Context, change pto.BalanceChange) error {
	return applyChange(ctx, ts.tx, change)
}

func (ts *txStore) SaveRequest(ctx context.Context, r pto.Request) error {
	return saveRequest(ctx, ts.tx, r)
}

func (ts *txStore) GetRequest(ctx context.Context, id string) (*pto.Request, error) {
	return getRequest(ctx, ts.tx, id)
}

func (ts *txStore) ListRequests(ctx context.Context, f pto.RequestFilter) ([]pto.Request, error) {
	return listRequests(ctx, ts.tx, f)
}

func (ts *txStore) TransitionRequest(ctx context.Context, updated pto.Request, expect pto.RequestStatus) error {
	return transitionRequest(ctx, ts.tx, updated, expect)
}

// =============================================================================
// HELPERS
// =============================================================================

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func timePtr(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func decimalPtr(s sql.NullString) *decimal.Decimal {
	if !s.Valid {
		return nil
	}
	d := mustDecimal(s.String)
	return &d
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
