package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rezonia/vat-compliance/internal/model"
)

type SubmissionRepo struct {
	db *sql.DB
}

func NewSubmissionRepo(db *sql.DB) *SubmissionRepo {
	return &SubmissionRepo{db: db}
}

const submissionColumns = `id, company_id, country, period, tax_id, payload_hash, status,
	authority_ref, errors_json, attempts, created_at, updated_at`

// Insert stores a new submission
func (r *SubmissionRepo) Insert(ctx context.Context, s *model.Submission) error {
	errs, err := marshalErrors(s.Errors)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO submissions (`+submissionColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.CompanyID, s.Country, s.Period, s.TaxID, s.PayloadHash, string(s.Status),
		s.AuthorityRef, errs, s.Attempts, formatTime(s.CreatedAt), formatTime(s.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert submission %s: %w", s.ID, err)
	}
	return nil
}

// Update writes the mutable fields of a submission
func (r *SubmissionRepo) Update(ctx context.Context, s *model.Submission) error {
	errs, err := marshalErrors(s.Errors)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE submissions SET status = ?, authority_ref = ?, errors_json = ?, attempts = ?, updated_at = ?
		WHERE id = ?`,
		string(s.Status), s.AuthorityRef, errs, s.Attempts, formatTime(s.UpdatedAt), s.ID,
	)
	if err != nil {
		return fmt.Errorf("update submission %s: %w", s.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.NewNotFoundError("submission", s.ID)
	}
	return nil
}

// Get returns one submission or a *model.NotFoundError
func (r *SubmissionRepo) Get(ctx context.Context, id string) (*model.Submission, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+submissionColumns+" FROM submissions WHERE id = ?", id)
	s, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NewNotFoundError("submission", id)
	}
	return s, err
}

// FindByAuthorityRef looks a submission up by the reference the authority assigned
func (r *SubmissionRepo) FindByAuthorityRef(ctx context.Context, country, ref string) (*model.Submission, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+submissionColumns+" FROM submissions WHERE country = ? AND authority_ref = ? ORDER BY created_at DESC LIMIT 1",
		country, ref)
	s, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NewNotFoundError("submission", ref)
	}
	return s, err
}

// Latest returns the most recent submission with the same identity and
// payload hash, or nil when there is none.
func (r *SubmissionRepo) Latest(ctx context.Context, country, period, taxID, payloadHash string) (*model.Submission, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+submissionColumns+` FROM submissions
		WHERE country = ? AND period = ? AND tax_id = ? AND payload_hash = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`,
		country, period, taxID, payloadHash)
	s, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// ListByCompany returns every submission of a company, newest first
func (r *SubmissionRepo) ListByCompany(ctx context.Context, companyID string) ([]model.Submission, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+submissionColumns+" FROM submissions WHERE company_id = ? ORDER BY created_at DESC", companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func marshalErrors(errs []string) (string, error) {
	if errs == nil {
		errs = []string{}
	}
	b, err := json.Marshal(errs)
	if err != nil {
		return "", fmt.Errorf("marshal errors: %w", err)
	}
	return string(b), nil
}

func scanSubmission(row rowScanner) (*model.Submission, error) {
	var (
		s                    model.Submission
		status, errs         string
		createdAt, updatedAt string
	)
	if err := row.Scan(
		&s.ID, &s.CompanyID, &s.Country, &s.Period, &s.TaxID, &s.PayloadHash, &status,
		&s.AuthorityRef, &errs, &s.Attempts, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(errs), &s.Errors); err != nil {
		return nil, fmt.Errorf("submission %s errors: %w", s.ID, err)
	}
	if len(s.Errors) == 0 {
		s.Errors = nil
	}
	s.Status = model.SubmissionStatus(status)
	s.CreatedAt = parseTime(createdAt)
	s.UpdatedAt = parseTime(updatedAt)
	return &s, nil
}
