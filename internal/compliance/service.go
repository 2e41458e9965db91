// Package compliance is the application surface of the VAT core: ingestion,
// detection, remediation, health and filing behind one service.
package compliance

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rezonia/vat-compliance/internal/detector"
	"github.com/rezonia/vat-compliance/internal/filing"
	"github.com/rezonia/vat-compliance/internal/ingest"
	"github.com/rezonia/vat-compliance/internal/logger"
	"github.com/rezonia/vat-compliance/internal/model"
	"github.com/rezonia/vat-compliance/internal/remediation"
	"github.com/rezonia/vat-compliance/internal/store"
)

// Service composes the store, the detector, the remediation orchestrator and
// the filing gateway
type Service struct {
	store    *store.Store
	detector *detector.Detector
	fixes    *remediation.Service
	gateway  *filing.Gateway
	log      zerolog.Logger
	now      func() time.Time
}

// Option configures the service
type Option func(*Service)

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) {
		s.log = l
	}
}

// WithClock overrides the time source used for ingestion timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New creates the service
func New(st *store.Store, det *detector.Detector, fixes *remediation.Service, gw *filing.Gateway, opts ...Option) *Service {
	s := &Service{
		store:    st,
		detector: det,
		fixes:    fixes,
		gateway:  gw,
		log:      logger.WithComponent("compliance"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IngestResult reports an upload
type IngestResult struct {
	UploadID   string                          `json:"upload_id"`
	Rows       int                             `json:"rows"`
	Imported   int                             `json:"imported"`
	Duplicates int                             `json:"duplicates"`
	Errors     []*model.InvoiceValidationError `json:"errors,omitempty"`
}

// DetectionResult reports a detection run over one upload
type DetectionResult struct {
	UploadID    string                `json:"upload_id"`
	Invoices    int                   `json:"invoices"`
	NewFindings int                   `json:"new_findings"`
	Findings    []model.Finding       `json:"findings"`
	Health      []*remediation.Health `json:"health"`
}

// FixResult is a fix record together with the recomputed health of its company
type FixResult struct {
	Fix    *model.FixRecord    `json:"fix"`
	Health *remediation.Health `json:"health,omitempty"`
}

// Ingest reads a CSV upload and stores its valid rows. An empty uploadID gets
// a generated one. Invoices whose ID already exists are counted as duplicates
// and left untouched.
func (s *Service) Ingest(ctx context.Context, uploadID string, r io.Reader) (*IngestResult, error) {
	if uploadID == "" {
		uploadID = uuid.NewString()
	}

	parsed, err := ingest.ReadCSV(r, uploadID, s.now())
	if err != nil {
		return nil, err
	}

	inserted, err := s.store.Invoices.BulkInsert(ctx, parsed.Invoices)
	if err != nil {
		return nil, fmt.Errorf("store upload %s: %w", uploadID, err)
	}

	res := &IngestResult{
		UploadID:   uploadID,
		Rows:       parsed.Rows,
		Imported:   inserted,
		Duplicates: len(parsed.Invoices) - inserted,
		Errors:     parsed.Errors,
	}

	s.log.Info().
		Str("upload_id", uploadID).
		Int("rows", res.Rows).
		Int("imported", res.Imported).
		Int("duplicates", res.Duplicates).
		Int("rejected", len(res.Errors)).
		Msg("Upload ingested")

	return res, nil
}

// DetectErrors runs the detector over every invoice of an upload and stores
// the findings. Running it again only adds findings for (invoice, type) pairs
// that were not reported before.
func (s *Service) DetectErrors(ctx context.Context, uploadID string) (*DetectionResult, error) {
	invoices, err := s.store.Invoices.ListByUpload(ctx, uploadID)
	if err != nil {
		return nil, fmt.Errorf("load upload %s: %w", uploadID, err)
	}
	if len(invoices) == 0 {
		return nil, model.NewNotFoundError("upload", uploadID)
	}

	detected := s.detector.DetectAll(ctx, invoices)
	added, err := s.store.Findings.InsertNew(ctx, detected)
	if err != nil {
		return nil, fmt.Errorf("store findings: %w", err)
	}

	companies := make(map[string]struct{})
	for i := range invoices {
		inv := &invoices[i]
		companies[inv.CompanyID] = struct{}{}
		if err := s.classify(ctx, inv); err != nil {
			return nil, err
		}
	}

	findings, err := s.store.Findings.List(ctx, store.FindingFilter{UploadID: uploadID})
	if err != nil {
		return nil, err
	}

	res := &DetectionResult{
		UploadID:    uploadID,
		Invoices:    len(invoices),
		NewFindings: len(added),
		Findings:    findings,
	}

	ids := make([]string, 0, len(companies))
	for id := range companies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		h, err := s.fixes.HealthScore(ctx, id)
		if err != nil {
			return nil, err
		}
		res.Health = append(res.Health, h)
	}

	s.log.Info().
		Str("upload_id", uploadID).
		Int("invoices", res.Invoices).
		Int("new_findings", res.NewFindings).
		Msg("Detection finished")

	return res, nil
}

// classify moves an invoice to error while it has open findings. A pending
// invoice without findings becomes valid; fixed invoices stay fixed.
func (s *Service) classify(ctx context.Context, inv *model.Invoice) error {
	open, err := s.store.Findings.CountOpenForInvoice(ctx, inv.ID)
	if err != nil {
		return err
	}

	next := inv.Status
	switch {
	case open > 0:
		next = model.InvoiceStatusError
	case inv.Status == model.InvoiceStatusPending:
		next = model.InvoiceStatusValid
	}
	if next == inv.Status {
		return nil
	}
	if err := s.store.Invoices.SetStatus(ctx, inv.ID, next, s.now().UTC()); err != nil {
		return fmt.Errorf("set status of %s: %w", inv.ID, err)
	}
	inv.Status = next
	return nil
}

// PreviewFix computes the correction for a finding without applying it
func (s *Service) PreviewFix(ctx context.Context, findingID string) (*model.Diff, error) {
	return s.fixes.Preview(ctx, findingID)
}

// ExecuteFix applies the correction for a finding
func (s *Service) ExecuteFix(ctx context.Context, findingID, actorID string, approved bool) (*FixResult, error) {
	rec, err := s.fixes.Execute(ctx, findingID, actorID, execOptions(approved)...)
	if err != nil {
		return nil, err
	}
	return s.withHealth(ctx, rec), nil
}

// BulkFix applies corrections for many findings; failures do not stop the batch
func (s *Service) BulkFix(ctx context.Context, findingIDs []string, actorID string, approved bool) *remediation.BulkResult {
	return s.fixes.BulkExecute(ctx, findingIDs, actorID, execOptions(approved)...)
}

// UndoFix reverses an applied fix
func (s *Service) UndoFix(ctx context.Context, fixID, actorID string) (*FixResult, error) {
	rec, err := s.fixes.Undo(ctx, fixID, actorID)
	if err != nil {
		return nil, err
	}
	return s.withHealth(ctx, rec), nil
}

func (s *Service) withHealth(ctx context.Context, rec *model.FixRecord) *FixResult {
	res := &FixResult{Fix: rec}
	h, err := s.fixes.HealthScore(ctx, rec.CompanyID)
	if err != nil {
		s.log.Warn().Err(err).Str("company_id", rec.CompanyID).Msg("Health score unavailable")
		return res
	}
	res.Health = h
	return res
}

func execOptions(approved bool) []remediation.ExecOption {
	if approved {
		return []remediation.ExecOption{remediation.WithApproval()}
	}
	return nil
}

// HealthScore returns the current health of a company
func (s *Service) HealthScore(ctx context.Context, companyID string) (*remediation.Health, error) {
	return s.fixes.HealthScore(ctx, companyID)
}

// Ledger returns the savings ledger of a company, optionally for one period (YYYY-MM)
func (s *Service) Ledger(ctx context.Context, companyID, period string) ([]model.SavingsLedgerEntry, error) {
	entries, err := s.fixes.Ledger(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if period == "" {
		return entries, nil
	}

	filtered := entries[:0]
	for _, e := range entries {
		if e.Period == period {
			filtered = append(filtered, e)
		}
	}
	return filtered, nil
}

// Invoice returns one invoice
func (s *Service) Invoice(ctx context.Context, id string) (*model.Invoice, error) {
	return s.store.Invoices.Get(ctx, id)
}

// Findings lists findings matching filter
func (s *Service) Findings(ctx context.Context, filter store.FindingFilter) ([]model.Finding, error) {
	return s.store.Findings.List(ctx, filter)
}

// FixHistory lists the fix records of an invoice, oldest first
func (s *Service) FixHistory(ctx context.Context, invoiceID string) ([]model.FixRecord, error) {
	if _, err := s.store.Invoices.Get(ctx, invoiceID); err != nil {
		return nil, err
	}
	return s.store.Fixes.ListByInvoice(ctx, invoiceID)
}

// SubmitReturn aggregates a company's period and files it with the authority of country
func (s *Service) SubmitReturn(ctx context.Context, companyID, country, period, taxID string) (*model.Submission, error) {
	return s.gateway.Submit(ctx, filing.SubmitRequest{
		CompanyID: companyID,
		Country:   country,
		Period:    period,
		TaxID:     taxID,
	})
}

// PrepareReturn renders a return without sending it
func (s *Service) PrepareReturn(ctx context.Context, companyID, country, period, taxID string) (*model.VATReturn, *filing.Payload, error) {
	return s.gateway.Prepare(ctx, filing.SubmitRequest{
		CompanyID: companyID,
		Country:   country,
		Period:    period,
		TaxID:     taxID,
	})
}

// CheckSubmissionStatus polls the authority for a pending submission
func (s *Service) CheckSubmissionStatus(ctx context.Context, country, submissionID string) (*model.Submission, error) {
	return s.gateway.CheckStatus(ctx, country, submissionID)
}

// Submissions lists the filings of a company, newest first
func (s *Service) Submissions(ctx context.Context, companyID string) ([]model.Submission, error) {
	return s.store.Submissions.ListByCompany(ctx, companyID)
}

// Countries lists the authorities the gateway can file with
func (s *Service) Countries() []string {
	return s.gateway.Countries()
}

// Ping checks the store
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
