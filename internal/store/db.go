package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	money "github.com/rezonia/vat-compliance/internal/decimal"
)

// Open opens (or creates) a SQLite database at dsn and ensures all tables
// exist. Pass ":memory:" for an in-memory database.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// One connection serializes writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return db, nil
}

func createTables(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS invoices (
			id TEXT PRIMARY KEY,
			upload_id TEXT NOT NULL,
			company_id TEXT NOT NULL,
			number TEXT NOT NULL DEFAULT '',
			invoice_date TEXT,
			net_amount TEXT NOT NULL,
			vat_rate TEXT NOT NULL,
			vat_amount TEXT NOT NULL,
			supplier_country TEXT NOT NULL,
			customer_country TEXT NOT NULL,
			customer_vat_id TEXT NOT NULL DEFAULT '',
			customer_type TEXT NOT NULL,
			product_type TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_invoices_upload ON invoices(upload_id)`,
		`CREATE INDEX IF NOT EXISTS idx_invoices_company_date ON invoices(company_id, invoice_date)`,

		`CREATE TABLE IF NOT EXISTS findings (
			id TEXT PRIMARY KEY,
			invoice_id TEXT NOT NULL,
			upload_id TEXT NOT NULL,
			company_id TEXT NOT NULL,
			type TEXT NOT NULL,
			severity TEXT NOT NULL,
			penalty_risk TEXT NOT NULL,
			auto_fixable INTEGER NOT NULL,
			status TEXT NOT NULL,
			message TEXT NOT NULL,
			detected_at TEXT NOT NULL,
			resolved_at TEXT,
			UNIQUE (invoice_id, type),
			FOREIGN KEY (invoice_id) REFERENCES invoices(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_findings_upload ON findings(upload_id)`,
		`CREATE INDEX IF NOT EXISTS idx_findings_company_status ON findings(company_id, status)`,

		`CREATE TABLE IF NOT EXISTS fix_records (
			id TEXT PRIMARY KEY,
			finding_id TEXT NOT NULL,
			invoice_id TEXT NOT NULL,
			company_id TEXT NOT NULL,
			strategy TEXT NOT NULL,
			before_json TEXT NOT NULL,
			after_json TEXT NOT NULL,
			changes_json TEXT NOT NULL,
			penalty_avoided TEXT NOT NULL,
			also_resolved_json TEXT NOT NULL DEFAULT '[]',
			actor_id TEXT NOT NULL,
			undoable INTEGER NOT NULL,
			undone INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			undone_at TEXT,
			FOREIGN KEY (finding_id) REFERENCES findings(id),
			FOREIGN KEY (invoice_id) REFERENCES invoices(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fix_records_invoice ON fix_records(invoice_id)`,

		`CREATE TABLE IF NOT EXISTS savings_ledger (
			company_id TEXT NOT NULL,
			period TEXT NOT NULL,
			fixed_count INTEGER NOT NULL,
			penalty_avoided TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (company_id, period)
		)`,

		`CREATE TABLE IF NOT EXISTS submissions (
			id TEXT PRIMARY KEY,
			company_id TEXT NOT NULL,
			country TEXT NOT NULL,
			period TEXT NOT NULL,
			tax_id TEXT NOT NULL,
			payload_hash TEXT NOT NULL,
			status TEXT NOT NULL,
			authority_ref TEXT NOT NULL DEFAULT '',
			errors_json TEXT NOT NULL DEFAULT '[]',
			attempts INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_lookup ON submissions(country, period, tax_id, payload_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_ref ON submissions(country, authority_ref)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}

	return nil
}

// Store groups the repositories over one database
type Store struct {
	DB          *sql.DB
	Invoices    *InvoiceRepo
	Findings    *FindingRepo
	Fixes       *FixRepo
	Ledger      *LedgerRepo
	Submissions *SubmissionRepo
}

// New wires every repository to db
func New(db *sql.DB) *Store {
	return &Store{
		DB:          db,
		Invoices:    NewInvoiceRepo(db),
		Findings:    NewFindingRepo(db),
		Fixes:       NewFixRepo(db),
		Ledger:      NewLedgerRepo(db),
		Submissions: NewSubmissionRepo(db),
	}
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

// Close closes the database
func (s *Store) Close() error {
	return s.DB.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatNullTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := money.FromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return d, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
