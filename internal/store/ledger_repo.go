package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rezonia/vat-compliance/internal/model"
)

type LedgerRepo struct {
	db *sql.DB
}

func NewLedgerRepo(db *sql.DB) *LedgerRepo {
	return &LedgerRepo{db: db}
}

// Add applies a delta to the (company, period) row, creating it when absent
func (r *LedgerRepo) Add(ctx context.Context, companyID, period string, count int, avoided decimal.Decimal, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var (
		fixed   int
		current string
	)
	err = tx.QueryRowContext(ctx,
		"SELECT fixed_count, penalty_avoided FROM savings_ledger WHERE company_id = ? AND period = ?",
		companyID, period).Scan(&fixed, &current)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx,
			"INSERT INTO savings_ledger (company_id, period, fixed_count, penalty_avoided, updated_at) VALUES (?,?,?,?,?)",
			companyID, period, count, avoided.String(), formatTime(at))
	case err != nil:
		return err
	default:
		total, perr := parseDecimal(current)
		if perr != nil {
			return perr
		}
		_, err = tx.ExecContext(ctx,
			"UPDATE savings_ledger SET fixed_count = ?, penalty_avoided = ?, updated_at = ? WHERE company_id = ? AND period = ?",
			fixed+count, total.Add(avoided).String(), formatTime(at), companyID, period)
	}
	if err != nil {
		return fmt.Errorf("write ledger %s/%s: %w", companyID, period, err)
	}

	return tx.Commit()
}

// List returns the ledger rows of a company, newest period first. ROIPercent is
// left zero; it depends on plan cost and is filled by the caller.
func (r *LedgerRepo) List(ctx context.Context, companyID string) ([]model.SavingsLedgerEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT company_id, period, fixed_count, penalty_avoided, updated_at
		FROM savings_ledger WHERE company_id = ? ORDER BY period DESC`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SavingsLedgerEntry
	for rows.Next() {
		var (
			e                  model.SavingsLedgerEntry
			avoided, updatedAt string
		)
		if err := rows.Scan(&e.CompanyID, &e.Period, &e.FixedCount, &avoided, &updatedAt); err != nil {
			return nil, err
		}
		if e.PenaltyAvoided, err = parseDecimal(avoided); err != nil {
			return nil, err
		}
		e.UpdatedAt = parseTime(updatedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}
