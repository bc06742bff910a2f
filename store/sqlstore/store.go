/*
Package sqlstore is the database/sql implementation of every store the
engine needs.

PURPOSE:
  One Store backs the cost breakdown processor, the wallet balance engine,
  the cycle credit ledger and the accumulation builder. It also holds the
  reference data (plans, payers, clinics, members, global procedures) the
  server reads through the eligibility and reimbursement interfaces.

DRIVERS:
  sqlite3: schema is created on New. Used by tests (":memory:") and local
           development.
  mysql:   schema comes from the embedded migrations (see migrate.go). New
           only pings the database.

APPEND-ONLY TABLES:
  cost_breakdowns, reimbursement_requests, reimbursement_request_cost_breakdowns
  and credit_transactions are never updated. Corrections are new rows:
  a repriced procedure gets a new cost breakdown, a refund is a negated
  reimbursement request, a credit add back is a counter entry.

ORDERING:
  SaveReimbursementRequests inserts every request first so the link rows
  can reference the assigned ids. The whole batch runs in one transaction.

CONCURRENCY:
  sync.RWMutex serializes writers. SQLite allows one writer anyway; on
  MySQL the row locks would be enough, but the mutex keeps both drivers on
  the same code path.

USAGE:
  store, err := sqlstore.New("sqlite3", ":memory:")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - migrate.go: golang-migrate wiring for MySQL
  - costbreakdown.Store, reimbursement.Store, credits.Store,
    accumulation.MappingStore: the interfaces implemented here
*/
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
)

const (
	DriverSQLite = "sqlite3"
	DriverMySQL  = "mysql"
)

// Store implements all storage interfaces on database/sql.
type Store struct {
	db     *sql.DB
	driver string
	mu     sync.RWMutex
}

// New opens dsn with driver. For sqlite3 the schema is created; use
// ":memory:" for an in-memory database.
func New(driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite:
		dsn += "?_foreign_keys=on&_journal_mode=WAL"
	case DriverMySQL:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db, driver: driver}
	if driver == DriverSQLite {
		// every :memory: connection is its own database
		db.SetMaxOpenConns(1)
		if err := store.createSchema(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
		return store, nil
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	_, err := s.db.Exec(sqliteSchema)
	return err
}

const sqliteSchema = `
	-- Reference data
	CREATE TABLE IF NOT EXISTS payers (
		id INTEGER PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS employer_health_plans (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		benefits_payer_id INTEGER REFERENCES payers(id),
		group_id TEXT NOT NULL DEFAULT '',
		rx_integrated BOOLEAN NOT NULL DEFAULT TRUE,
		is_hdhp BOOLEAN NOT NULL DEFAULT FALSE,
		hra_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		start_date TEXT,
		end_date TEXT,
		config_json TEXT NOT NULL DEFAULT '{}'
	);

	CREATE TABLE IF NOT EXISTS member_health_plans (
		id INTEGER PRIMARY KEY,
		member_id INTEGER NOT NULL,
		employer_health_plan_id INTEGER NOT NULL REFERENCES employer_health_plans(id),
		subscriber_insurance_id TEXT NOT NULL,
		patient_first_name TEXT NOT NULL DEFAULT '',
		patient_last_name TEXT NOT NULL DEFAULT '',
		patient_date_of_birth TEXT,
		patient_sex TEXT NOT NULL DEFAULT 'U',
		patient_relationship TEXT NOT NULL DEFAULT 'cardholder',
		plan_type TEXT NOT NULL,
		plan_start_at TEXT NOT NULL,
		plan_end_at TEXT,
		is_subscriber BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE INDEX IF NOT EXISTS idx_member_health_plans_member
		ON member_health_plans(member_id, plan_start_at);
	CREATE INDEX IF NOT EXISTS idx_member_health_plans_subscriber
		ON member_health_plans(subscriber_insurance_id, employer_health_plan_id);

	CREATE TABLE IF NOT EXISTS ytd_spend (
		member_health_plan_id INTEGER PRIMARY KEY REFERENCES member_health_plans(id),
		individual_deductible_spent INTEGER NOT NULL DEFAULT 0,
		individual_oop_spent INTEGER NOT NULL DEFAULT 0,
		family_deductible_spent INTEGER NOT NULL DEFAULT 0,
		family_oop_spent INTEGER NOT NULL DEFAULT 0,
		hra_remaining INTEGER
	);

	CREATE TABLE IF NOT EXISTS clinics (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS members (
		id INTEGER PRIMARY KEY,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS global_procedures (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		cost_credit INTEGER NOT NULL DEFAULT 0
	);

	-- Wallets
	CREATE TABLE IF NOT EXISTS wallets (
		id INTEGER PRIMARY KEY,
		member_id INTEGER NOT NULL,
		category_id INTEGER NOT NULL,
		benefit_type TEXT NOT NULL,
		deductible_accumulation_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		benefit_limit INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS treatment_procedures (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uuid TEXT NOT NULL UNIQUE,
		member_id INTEGER NOT NULL,
		wallet_id INTEGER NOT NULL REFERENCES wallets(id),
		clinic_id INTEGER,
		global_procedure_id TEXT NOT NULL DEFAULT '',
		procedure_name TEXT NOT NULL DEFAULT '',
		category_id INTEGER NOT NULL,
		status TEXT NOT NULL,
		procedure_type TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT,
		cost INTEGER NOT NULL,
		cost_breakdown_id INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_treatment_procedures_member_date
		ON treatment_procedures(member_id, start_date);

	-- Append-only
	CREATE TABLE IF NOT EXISTS cost_breakdowns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		wallet_id INTEGER NOT NULL,
		member_id INTEGER NOT NULL,
		treatment_procedure_uuid TEXT,
		reimbursement_request_id INTEGER,
		rte_transaction_id INTEGER,
		total_member_responsibility INTEGER NOT NULL,
		total_employer_responsibility INTEGER NOT NULL,
		beginning_wallet_balance INTEGER NOT NULL,
		ending_wallet_balance INTEGER NOT NULL,
		cost_breakdown_type TEXT NOT NULL,
		amount_type TEXT NOT NULL,
		deductible INTEGER NOT NULL DEFAULT 0,
		deductible_remaining INTEGER NOT NULL DEFAULT 0,
		family_deductible_remaining INTEGER NOT NULL DEFAULT 0,
		coinsurance INTEGER NOT NULL DEFAULT 0,
		copay INTEGER NOT NULL DEFAULT 0,
		overage_amount INTEGER NOT NULL DEFAULT 0,
		oop_applied INTEGER NOT NULL DEFAULT 0,
		oop_remaining INTEGER NOT NULL DEFAULT 0,
		family_oop_remaining INTEGER NOT NULL DEFAULT 0,
		hra_applied INTEGER NOT NULL DEFAULT 0,
		deductible_override INTEGER,
		oop_override INTEGER,
		calc_config TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_cost_breakdowns_procedure
		ON cost_breakdowns(treatment_procedure_uuid, id DESC);

	CREATE TABLE IF NOT EXISTS reimbursement_requests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		wallet_id INTEGER NOT NULL REFERENCES wallets(id),
		category_id INTEGER NOT NULL,
		label TEXT NOT NULL DEFAULT '',
		service_provider TEXT NOT NULL DEFAULT '',
		person_receiving_service TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		amount INTEGER NOT NULL,
		state TEXT NOT NULL,
		reimbursement_type TEXT NOT NULL,
		procedure_type TEXT NOT NULL DEFAULT 'MEDICAL',
		cost_sharing_category TEXT NOT NULL DEFAULT '',
		service_start_date TEXT NOT NULL,
		service_end_date TEXT,
		procedure_uuid TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reimbursement_requests_wallet
		ON reimbursement_requests(wallet_id, category_id, state);

	CREATE TABLE IF NOT EXISTS reimbursement_request_cost_breakdowns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		reimbursement_request_id INTEGER NOT NULL REFERENCES reimbursement_requests(id),
		cost_breakdown_id INTEGER NOT NULL REFERENCES cost_breakdowns(id),
		treatment_procedure_uuid TEXT,
		claim_type TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rr_cost_breakdowns_cb
		ON reimbursement_request_cost_breakdowns(cost_breakdown_id);
	CREATE INDEX IF NOT EXISTS idx_rr_cost_breakdowns_rr
		ON reimbursement_request_cost_breakdowns(reimbursement_request_id);

	CREATE TABLE IF NOT EXISTS credit_transactions (
		id TEXT PRIMARY KEY,
		wallet_id INTEGER NOT NULL,
		delta INTEGER NOT NULL,
		tx_type TEXT NOT NULL,
		reimbursement_request_id INTEGER,
		global_procedure_id TEXT NOT NULL DEFAULT '',
		procedure_uuid TEXT,
		idempotency_key TEXT UNIQUE,
		notes TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_credit_transactions_wallet
		ON credit_transactions(wallet_id, created_at);

	-- Accumulation
	CREATE TABLE IF NOT EXISTS accumulation_treatment_mappings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		treatment_procedure_uuid TEXT,
		reimbursement_request_id INTEGER,
		cost_breakdown_id INTEGER NOT NULL,
		payer_id INTEGER NOT NULL,
		record_type TEXT NOT NULL,
		status TEXT NOT NULL,
		accumulation_unique_id TEXT,
		accumulation_transaction_id TEXT,
		deductible_override INTEGER,
		oop_override INTEGER,
		hra_override INTEGER,
		is_refund BOOLEAN NOT NULL DEFAULT FALSE,
		response_code TEXT NOT NULL DEFAULT '',
		response_reason TEXT NOT NULL DEFAULT '',
		completed_at TEXT,
		file_name TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_mappings_payer_status
		ON accumulation_treatment_mappings(payer_id, status);
	CREATE INDEX IF NOT EXISTS idx_mappings_unique_id
		ON accumulation_treatment_mappings(accumulation_unique_id);
	CREATE INDEX IF NOT EXISTS idx_mappings_cost_breakdown
		ON accumulation_treatment_mappings(cost_breakdown_id);
`

// =============================================================================
// TRANSACTIONS
// =============================================================================

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// withTx runs fn in a database transaction. The caller holds s.mu.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// =============================================================================
// HELPERS
// =============================================================================

// timeLayout is fixed width so stored times compare as strings.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func formatDate(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func parseNullTime(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	return parseTime(s.String)
}

func parseNullTimePtr(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// isUniqueConstraintError recognizes duplicate key errors from both drivers.
func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}
