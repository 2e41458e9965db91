package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rezonia/vat-compliance/internal/model"
)

type FixRepo struct {
	db *sql.DB
}

func NewFixRepo(db *sql.DB) *FixRepo {
	return &FixRepo{db: db}
}

const fixColumns = `id, finding_id, invoice_id, company_id, strategy, before_json, after_json,
	changes_json, penalty_avoided, also_resolved_json, actor_id, undoable, undone, created_at, undone_at`

// Insert appends a fix record
func (r *FixRepo) Insert(ctx context.Context, rec *model.FixRecord) error {
	before, err := json.Marshal(rec.Before)
	if err != nil {
		return fmt.Errorf("marshal before: %w", err)
	}
	after, err := json.Marshal(rec.After)
	if err != nil {
		return fmt.Errorf("marshal after: %w", err)
	}
	changes, err := json.Marshal(rec.Changes)
	if err != nil {
		return fmt.Errorf("marshal changes: %w", err)
	}
	also := []string{}
	if len(rec.AlsoResolved) > 0 {
		also = rec.AlsoResolved
	}
	alsoResolved, err := json.Marshal(also)
	if err != nil {
		return fmt.Errorf("marshal also resolved: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO fix_records (`+fixColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.ID, rec.FindingID, rec.InvoiceID, rec.CompanyID, string(rec.Strategy),
		string(before), string(after), string(changes), rec.PenaltyAvoided.String(), string(alsoResolved), rec.ActorID,
		boolToInt(rec.Undoable), boolToInt(rec.Undone), formatTime(rec.CreatedAt), formatNullTime(rec.UndoneAt),
	)
	if err != nil {
		return fmt.Errorf("insert fix record %s: %w", rec.ID, err)
	}
	return nil
}

// Get returns one fix record or a *model.NotFoundError
func (r *FixRepo) Get(ctx context.Context, id string) (*model.FixRecord, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+fixColumns+" FROM fix_records WHERE id = ?", id)
	rec, err := scanFixRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NewNotFoundError("fix", id)
	}
	return rec, err
}

// ListByInvoice returns the fix history of an invoice, oldest first
func (r *FixRepo) ListByInvoice(ctx context.Context, invoiceID string) ([]model.FixRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+fixColumns+" FROM fix_records WHERE invoice_id = ? ORDER BY created_at, id", invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.FixRecord
	for rows.Next() {
		rec, err := scanFixRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// Supersede clears the undoable flag on every live record of an invoice
// except keepID, so only the newest snapshot can be restored.
func (r *FixRepo) Supersede(ctx context.Context, invoiceID, keepID string) (int, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE fix_records SET undoable = 0 WHERE invoice_id = ? AND id <> ? AND undone = 0 AND undoable = 1",
		invoiceID, keepID)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// MarkUndone flags an undoable record as undone. It reports false when the
// record was already undone or had been superseded.
func (r *FixRepo) MarkUndone(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE fix_records SET undone = 1, undoable = 0, undone_at = ? WHERE id = ? AND undone = 0 AND undoable = 1",
		formatTime(at), id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func scanFixRecord(row rowScanner) (*model.FixRecord, error) {
	var (
		rec                    model.FixRecord
		strategy               string
		before, after, changes string
		alsoResolved           string
		penalty, createdAt     string
		undoable, undone       int
		undoneAt               sql.NullString
	)
	if err := row.Scan(
		&rec.ID, &rec.FindingID, &rec.InvoiceID, &rec.CompanyID, &strategy,
		&before, &after, &changes, &penalty, &alsoResolved, &rec.ActorID,
		&undoable, &undone, &createdAt, &undoneAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(before), &rec.Before); err != nil {
		return nil, fmt.Errorf("fix record %s before: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(after), &rec.After); err != nil {
		return nil, fmt.Errorf("fix record %s after: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(changes), &rec.Changes); err != nil {
		return nil, fmt.Errorf("fix record %s changes: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(alsoResolved), &rec.AlsoResolved); err != nil {
		return nil, fmt.Errorf("fix record %s also resolved: %w", rec.ID, err)
	}
	if len(rec.AlsoResolved) == 0 {
		rec.AlsoResolved = nil
	}
	avoided, err := parseDecimal(penalty)
	if err != nil {
		return nil, fmt.Errorf("fix record %s: %w", rec.ID, err)
	}

	rec.PenaltyAvoided = avoided
	rec.Strategy = model.StrategyName(strategy)
	rec.Undoable = undoable == 1
	rec.Undone = undone == 1
	rec.CreatedAt = parseTime(createdAt)
	rec.UndoneAt = parseNullTime(undoneAt)
	return &rec, nil
}
