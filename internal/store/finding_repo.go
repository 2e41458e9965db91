package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	money "github.com/rezonia/vat-compliance/internal/decimal"
	"github.com/rezonia/vat-compliance/internal/model"
)

type FindingRepo struct {
	db *sql.DB
}

func NewFindingRepo(db *sql.DB) *FindingRepo {
	return &FindingRepo{db: db}
}

const findingColumns = `id, invoice_id, upload_id, company_id, type, severity, penalty_risk,
	auto_fixable, status, message, detected_at, resolved_at`

// FindingFilter narrows List; empty fields are ignored
type FindingFilter struct {
	UploadID  string
	InvoiceID string
	CompanyID string
	Status    model.FindingStatus
}

// InsertNew stores findings, skipping any (invoice, type) pair that already
// exists. It returns only the findings that were actually inserted.
func (r *FindingRepo) InsertNew(ctx context.Context, findings []model.Finding) ([]model.Finding, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO findings (`+findingColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return nil, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	var inserted []model.Finding
	for _, f := range findings {
		res, err := stmt.ExecContext(ctx,
			f.ID, f.InvoiceID, f.UploadID, f.CompanyID, string(f.Type), string(f.Severity),
			f.PenaltyRisk.String(), boolToInt(f.AutoFixable), string(f.Status), f.Message,
			formatTime(f.DetectedAt), formatNullTime(f.ResolvedAt),
		)
		if err != nil {
			return nil, fmt.Errorf("insert finding %s: %w", f.ID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted = append(inserted, f)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

// Get returns one finding or a *model.NotFoundError
func (r *FindingRepo) Get(ctx context.Context, id string) (*model.Finding, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+findingColumns+" FROM findings WHERE id = ?", id)
	f, err := scanFinding(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NewNotFoundError("finding", id)
	}
	return f, err
}

// List returns findings matching filter ordered by detection time
func (r *FindingRepo) List(ctx context.Context, filter FindingFilter) ([]model.Finding, error) {
	var (
		where []string
		args  []any
	)
	if filter.UploadID != "" {
		where = append(where, "upload_id = ?")
		args = append(args, filter.UploadID)
	}
	if filter.InvoiceID != "" {
		where = append(where, "invoice_id = ?")
		args = append(args, filter.InvoiceID)
	}
	if filter.CompanyID != "" {
		where = append(where, "company_id = ?")
		args = append(args, filter.CompanyID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := "SELECT " + findingColumns + " FROM findings"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY detected_at, id"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Finding
	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

// Resolve moves an open finding to resolved. It reports false when the
// finding was not open.
func (r *FindingRepo) Resolve(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE findings SET status = ?, resolved_at = ? WHERE id = ? AND status = ?",
		string(model.FindingResolved), formatTime(at), id, string(model.FindingOpen))
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// Reopen moves a resolved finding back to open
func (r *FindingRepo) Reopen(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE findings SET status = ?, resolved_at = NULL WHERE id = ? AND status = ?",
		string(model.FindingOpen), id, string(model.FindingResolved))
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// CountOpenForInvoice returns the open findings left on one invoice
func (r *FindingRepo) CountOpenForInvoice(ctx context.Context, invoiceID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM findings WHERE invoice_id = ? AND status = ?",
		invoiceID, string(model.FindingOpen)).Scan(&n)
	return n, err
}

// OpenRisk summarizes the open findings of a company: how many there are and
// their summed penalty risk.
func (r *FindingRepo) OpenRisk(ctx context.Context, companyID string) (open int, penalty decimal.Decimal, err error) {
	// amounts are TEXT decimals, so they are summed here rather than in SQL
	rows, err := r.db.QueryContext(ctx,
		"SELECT penalty_risk FROM findings WHERE company_id = ? AND status = ?",
		companyID, string(model.FindingOpen))
	if err != nil {
		return 0, decimal.Zero, err
	}
	defer rows.Close()

	var risks []decimal.Decimal
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return 0, decimal.Zero, err
		}
		d, err := parseDecimal(s)
		if err != nil {
			return 0, decimal.Zero, err
		}
		risks = append(risks, d)
	}
	if err := rows.Err(); err != nil {
		return 0, decimal.Zero, err
	}
	return len(risks), money.Sum(risks), nil
}

// OpenForInvoice returns the open findings of one invoice
func (r *FindingRepo) OpenForInvoice(ctx context.Context, invoiceID string) ([]model.Finding, error) {
	return r.List(ctx, FindingFilter{InvoiceID: invoiceID, Status: model.FindingOpen})
}

func scanFinding(row rowScanner) (*model.Finding, error) {
	var (
		f                     model.Finding
		typ, severity, status string
		penalty, detectedAt   string
		autoFixable           int
		resolvedAt            sql.NullString
	)
	if err := row.Scan(
		&f.ID, &f.InvoiceID, &f.UploadID, &f.CompanyID, &typ, &severity, &penalty,
		&autoFixable, &status, &f.Message, &detectedAt, &resolvedAt,
	); err != nil {
		return nil, err
	}

	risk, err := parseDecimal(penalty)
	if err != nil {
		return nil, fmt.Errorf("finding %s: %w", f.ID, err)
	}
	f.PenaltyRisk = risk
	f.Type = model.FindingType(typ)
	f.Severity = model.Severity(severity)
	f.Status = model.FindingStatus(status)
	f.AutoFixable = autoFixable == 1
	f.DetectedAt = parseTime(detectedAt)
	f.ResolvedAt = parseNullTime(resolvedAt)
	return &f, nil
}
