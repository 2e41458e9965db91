package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rezonia/vat-compliance/internal/model"
)

type InvoiceRepo struct {
	db *sql.DB
}

func NewInvoiceRepo(db *sql.DB) *InvoiceRepo {
	return &InvoiceRepo{db: db}
}

const invoiceColumns = `id, upload_id, company_id, number, invoice_date, net_amount, vat_rate, vat_amount,
	supplier_country, customer_country, customer_vat_id, customer_type, product_type,
	description, status, created_at, updated_at`

// BulkInsert stores new invoices. Invoice IDs are immutable, so rows that
// already exist are left untouched.
func (r *InvoiceRepo) BulkInsert(ctx context.Context, invoices []model.Invoice) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO invoices (`+invoiceColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
	)
	if err != nil {
		return 0, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for i := range invoices {
		inv := &invoices[i]
		var date any
		if inv.HasDate() {
			date = inv.Date.Format("2006-01-02")
		}
		res, err := stmt.ExecContext(ctx,
			inv.ID, inv.UploadID, inv.CompanyID, inv.Number, date,
			inv.NetAmount.String(), inv.VATRate.String(), inv.VATAmount.String(),
			inv.SupplierCountry, inv.CustomerCountry, inv.CustomerVATID,
			string(inv.CustomerType), string(inv.ProductType), inv.Description,
			string(inv.Status), formatTime(inv.CreatedAt), formatTime(inv.UpdatedAt),
		)
		if err != nil {
			return inserted, fmt.Errorf("insert %s: %w", inv.ID, err)
		}
		ra, _ := res.RowsAffected()
		inserted += int(ra)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

// Get returns one invoice or a *model.NotFoundError
func (r *InvoiceRepo) Get(ctx context.Context, id string) (*model.Invoice, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+invoiceColumns+" FROM invoices WHERE id = ?", id)
	inv, err := scanInvoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NewNotFoundError("invoice", id)
	}
	return inv, err
}

// ListByUpload returns the invoices of one upload
func (r *InvoiceRepo) ListByUpload(ctx context.Context, uploadID string) ([]model.Invoice, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+invoiceColumns+" FROM invoices WHERE upload_id = ? ORDER BY id", uploadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInvoices(rows)
}

// ListForPeriod returns dated invoices of a company with from <= date < to
func (r *InvoiceRepo) ListForPeriod(ctx context.Context, companyID string, from, to time.Time) ([]model.Invoice, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+invoiceColumns+` FROM invoices
		WHERE company_id = ? AND invoice_date >= ? AND invoice_date < ?
		ORDER BY invoice_date, id`,
		companyID, from.Format("2006-01-02"), to.Format("2006-01-02"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInvoices(rows)
}

// CountByCompany returns how many invoices a company has
func (r *InvoiceRepo) CountByCompany(ctx context.Context, companyID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM invoices WHERE company_id = ?", companyID).Scan(&n)
	return n, err
}

// UpdateAmounts writes next only if the stored amounts still equal expected.
// It reports false when the invoice changed in the meantime.
func (r *InvoiceRepo) UpdateAmounts(ctx context.Context, id string, expected, next model.Amounts, at time.Time) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var net, rate, amount string
	err = tx.QueryRowContext(ctx, "SELECT net_amount, vat_rate, vat_amount FROM invoices WHERE id = ?", id).
		Scan(&net, &rate, &amount)
	if errors.Is(err, sql.ErrNoRows) {
		return false, model.NewNotFoundError("invoice", id)
	}
	if err != nil {
		return false, err
	}

	current, err := parseAmounts(net, rate, amount)
	if err != nil {
		return false, err
	}
	if !current.Equal(expected) {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE invoices SET net_amount = ?, vat_rate = ?, vat_amount = ?, updated_at = ? WHERE id = ?",
		next.NetAmount.String(), next.VATRate.String(), next.VATAmount.String(), formatTime(at), id,
	); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// SetStatus updates the lifecycle status
func (r *InvoiceRepo) SetStatus(ctx context.Context, id string, status model.InvoiceStatus, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE invoices SET status = ?, updated_at = ? WHERE id = ?", string(status), formatTime(at), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.NewNotFoundError("invoice", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row rowScanner) (*model.Invoice, error) {
	var (
		inv                 model.Invoice
		date                sql.NullString
		net, rate, amount   string
		customerType        string
		productType, status string
		createdAt           string
		updatedAt           string
	)
	if err := row.Scan(
		&inv.ID, &inv.UploadID, &inv.CompanyID, &inv.Number, &date,
		&net, &rate, &amount,
		&inv.SupplierCountry, &inv.CustomerCountry, &inv.CustomerVATID,
		&customerType, &productType, &inv.Description, &status, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	amounts, err := parseAmounts(net, rate, amount)
	if err != nil {
		return nil, fmt.Errorf("invoice %s: %w", inv.ID, err)
	}
	inv.ApplyAmounts(amounts)

	if date.Valid && date.String != "" {
		if d, err := time.Parse("2006-01-02", date.String); err == nil {
			inv.Date = d
		}
	}
	inv.CustomerType = model.CustomerType(customerType)
	inv.ProductType = model.ProductType(productType)
	inv.Status = model.InvoiceStatus(status)
	inv.CreatedAt = parseTime(createdAt)
	inv.UpdatedAt = parseTime(updatedAt)
	return &inv, nil
}

func scanInvoices(rows *sql.Rows) ([]model.Invoice, error) {
	var out []model.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inv)
	}
	return out, rows.Err()
}

func parseAmounts(net, rate, amount string) (model.Amounts, error) {
	var (
		a   model.Amounts
		err error
	)
	if a.NetAmount, err = parseDecimal(net); err != nil {
		return a, err
	}
	if a.VATRate, err = parseDecimal(rate); err != nil {
		return a, err
	}
	if a.VATAmount, err = parseDecimal(amount); err != nil {
		return a, err
	}
	return a, nil
}
