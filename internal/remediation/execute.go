package remediation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	money "github.com/rezonia/vat-compliance/internal/decimal"
	"github.com/rezonia/vat-compliance/internal/metrics"
	"github.com/rezonia/vat-compliance/internal/model"
	"github.com/rezonia/vat-compliance/internal/strategy"
)

// Preview computes the diff a fix would apply without changing anything
func (s *Service) Preview(ctx context.Context, findingID string) (*model.Diff, error) {
	finding, strat, err := s.resolveFinding(ctx, findingID)
	if err != nil {
		return nil, err
	}

	inv, err := s.invoices.Get(ctx, finding.InvoiceID)
	if err != nil {
		return nil, err
	}

	return strat.Compute(inv, finding)
}

// Execute applies the fix for one finding on behalf of actorID.
//
// The invoice is re-read right before the write and updated with a
// compare-and-swap, so a concurrent change surfaces as a *model.ConflictError
// instead of being overwritten.
func (s *Service) Execute(ctx context.Context, findingID, actorID string, opts ...ExecOption) (*model.FixRecord, error) {
	var o execOptions
	for _, opt := range opts {
		opt(&o)
	}

	finding, err := s.findings.Get(ctx, findingID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(finding.InvoiceID)
	defer unlock()

	rec, err := s.execute(ctx, findingID, actorID, o)
	if err != nil {
		var incomplete *model.IncompleteFixError
		if errors.As(err, &incomplete) {
			s.log.Error().Err(err).Str("fix_id", incomplete.FixID).Str("finding_id", findingID).Msg("Fix applied but follow-up failed")
		}
		metrics.FixesApplied.WithLabelValues(strategyLabel(rec), model.Kind(err)).Inc()
		return nil, err
	}

	metrics.FixesApplied.WithLabelValues(string(rec.Strategy), "applied").Inc()
	metrics.PenaltyAvoided.Add(rec.PenaltyAvoided.InexactFloat64())

	s.log.Info().
		Str("fix_id", rec.ID).
		Str("finding_id", rec.FindingID).
		Str("invoice_id", rec.InvoiceID).
		Str("strategy", string(rec.Strategy)).
		Str("actor", actorID).
		Str("penalty_avoided", rec.PenaltyAvoided.StringFixed(2)).
		Msg("Fix applied")

	return rec, nil
}

func (s *Service) execute(ctx context.Context, findingID, actorID string, o execOptions) (*model.FixRecord, error) {
	// read again under the invoice lock
	finding, strat, err := s.resolveFinding(ctx, findingID)
	if err != nil {
		return nil, err
	}

	inv, err := s.invoices.Get(ctx, finding.InvoiceID)
	if err != nil {
		return nil, err
	}

	diff, err := strat.Compute(inv, finding)
	if err != nil {
		return nil, fmt.Errorf("compute %s for finding %s: %w", strat.Name(), finding.ID, err)
	}
	if len(diff.Changes) == 0 {
		return s.closeSatisfied(ctx, inv, finding, diff, actorID)
	}
	if diff.RequiresApproval && !o.approved {
		return nil, model.NewApprovalRequiredError(finding.ID, diff.Strategy)
	}

	at := s.timestamp()

	swapped, err := s.invoices.UpdateAmounts(ctx, inv.ID, diff.Before, diff.After, at)
	if err != nil {
		return nil, fmt.Errorf("update invoice %s: %w", inv.ID, err)
	}
	if !swapped {
		return nil, model.NewConflictError("invoice", inv.ID, "changed since it was read")
	}

	resolved, err := s.findings.Resolve(ctx, finding.ID, at)
	if err != nil || !resolved {
		s.restoreInvoice(ctx, inv.ID, diff.After, diff.Before)
		if err != nil {
			return nil, fmt.Errorf("resolve finding %s: %w", finding.ID, err)
		}
		return nil, model.NewConflictError("finding", finding.ID, "resolved concurrently")
	}

	also, err := s.resolveSatisfied(ctx, inv, diff.After, finding.ID, at)
	if err != nil {
		s.reopenFindings(ctx, []string{finding.ID})
		s.restoreInvoice(ctx, inv.ID, diff.After, diff.Before)
		return nil, err
	}
	touched := append([]string{finding.ID}, also...)

	rec := &model.FixRecord{
		ID:             uuid.NewString(),
		FindingID:      finding.ID,
		InvoiceID:      inv.ID,
		CompanyID:      inv.CompanyID,
		Strategy:       diff.Strategy,
		Before:         diff.Before,
		After:          diff.After,
		Changes:        diff.Changes,
		PenaltyAvoided: diff.PenaltyAvoided,
		AlsoResolved:   also,
		ActorID:        actorID,
		Undoable:       true,
		CreatedAt:      at,
	}
	if err := s.fixes.Insert(ctx, rec); err != nil {
		s.reopenFindings(ctx, touched)
		s.restoreInvoice(ctx, inv.ID, diff.After, diff.Before)
		return nil, fmt.Errorf("record fix for finding %s: %w", finding.ID, err)
	}

	if err := s.addSavings(ctx, rec, at); err != nil {
		if _, markErr := s.fixes.MarkUndone(ctx, rec.ID, s.timestamp()); markErr != nil {
			s.log.Error().Err(markErr).Str("fix_id", rec.ID).Msg("Failed to void fix record after ledger failure")
		}
		s.reopenFindings(ctx, touched)
		s.restoreInvoice(ctx, inv.ID, diff.After, diff.Before)
		return nil, fmt.Errorf("book savings for finding %s: %w", finding.ID, err)
	}

	// The fix has landed. Later failures leave it in place but are still reported.
	n, err := s.fixes.Supersede(ctx, inv.ID, rec.ID)
	if err != nil {
		return rec, model.NewIncompleteFixError(rec.ID, "supersede earlier fixes", err)
	}
	if n > 0 {
		s.log.Debug().Str("invoice_id", inv.ID).Int("superseded", n).Msg("Earlier fixes are no longer undoable")
	}

	if err := s.refreshInvoiceStatus(ctx, inv.ID); err != nil {
		return rec, model.NewIncompleteFixError(rec.ID, "invoice status", err)
	}
	s.refreshHealth(ctx, rec.CompanyID)

	return rec, nil
}

// closeSatisfied resolves a finding whose invoice already carries the values
// its strategy would write. The record documents the resolution but has no
// changes to undo and avoids no further penalty.
func (s *Service) closeSatisfied(ctx context.Context, inv *model.Invoice, finding *model.Finding, diff *model.Diff, actorID string) (*model.FixRecord, error) {
	at := s.timestamp()

	resolved, err := s.findings.Resolve(ctx, finding.ID, at)
	if err != nil {
		return nil, fmt.Errorf("resolve finding %s: %w", finding.ID, err)
	}
	if !resolved {
		return nil, model.NewConflictError("finding", finding.ID, "resolved concurrently")
	}

	also, err := s.resolveSatisfied(ctx, inv, diff.After, finding.ID, at)
	if err != nil {
		s.reopenFindings(ctx, []string{finding.ID})
		return nil, err
	}

	rec := &model.FixRecord{
		ID:             uuid.NewString(),
		FindingID:      finding.ID,
		InvoiceID:      inv.ID,
		CompanyID:      inv.CompanyID,
		Strategy:       diff.Strategy,
		Before:         diff.Before,
		After:          diff.After,
		Changes:        []string{},
		PenaltyAvoided: money.Zero,
		AlsoResolved:   also,
		ActorID:        actorID,
		CreatedAt:      at,
	}
	if err := s.fixes.Insert(ctx, rec); err != nil {
		s.reopenFindings(ctx, append([]string{finding.ID}, also...))
		return nil, fmt.Errorf("record resolution of finding %s: %w", finding.ID, err)
	}

	if err := s.refreshInvoiceStatus(ctx, inv.ID); err != nil {
		return rec, model.NewIncompleteFixError(rec.ID, "invoice status", err)
	}
	s.refreshHealth(ctx, rec.CompanyID)

	return rec, nil
}

// resolveSatisfied resolves the other open findings of the invoice whose own
// strategy has nothing left to change once after is applied. Findings without
// a strategy stay open for manual review.
func (s *Service) resolveSatisfied(ctx context.Context, inv *model.Invoice, after model.Amounts, fixedID string, at time.Time) ([]string, error) {
	open, err := s.findings.OpenForInvoice(ctx, inv.ID)
	if err != nil {
		return nil, fmt.Errorf("list open findings of invoice %s: %w", inv.ID, err)
	}

	corrected := *inv
	corrected.ApplyAmounts(after)

	var resolved []string
	for i := range open {
		f := &open[i]
		if f.ID == fixedID {
			continue
		}
		strat, err := s.strategies.Resolve(f.Type)
		if err != nil {
			continue
		}
		diff, err := strat.Compute(&corrected, f)
		if err != nil || len(diff.Changes) > 0 {
			continue
		}

		ok, err := s.findings.Resolve(ctx, f.ID, at)
		if err != nil {
			s.reopenFindings(ctx, resolved)
			return nil, fmt.Errorf("resolve satisfied finding %s: %w", f.ID, err)
		}
		if ok {
			resolved = append(resolved, f.ID)
		}
	}
	return resolved, nil
}

// Undo restores the invoice snapshot of a fix and reopens its findings.
// Undoing twice, undoing a fix superseded by a later one, or undoing a
// resolution that changed nothing is a *model.ConflictError.
func (s *Service) Undo(ctx context.Context, fixID, actorID string) (*model.FixRecord, error) {
	rec, err := s.fixes.Get(ctx, fixID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(rec.InvoiceID)
	defer unlock()

	rec, err = s.undo(ctx, fixID)
	if err != nil {
		metrics.FixesApplied.WithLabelValues(strategyLabel(rec), "undo_"+model.Kind(err)).Inc()
		return nil, err
	}

	metrics.FixesApplied.WithLabelValues(string(rec.Strategy), "undone").Inc()
	s.log.Info().
		Str("fix_id", rec.ID).
		Str("invoice_id", rec.InvoiceID).
		Str("actor", actorID).
		Msg("Fix undone")

	return rec, nil
}

func (s *Service) undo(ctx context.Context, fixID string) (*model.FixRecord, error) {
	rec, err := s.fixes.Get(ctx, fixID)
	if err != nil {
		return nil, err
	}
	if rec.Undone {
		return rec, model.NewConflictError("fix", rec.ID, "already undone")
	}
	if len(rec.Changes) == 0 {
		return rec, model.NewConflictError("fix", rec.ID, "nothing to undo")
	}
	if !rec.Undoable {
		return rec, model.NewConflictError("fix", rec.ID, "superseded by a later fix")
	}

	at := s.timestamp()

	swapped, err := s.invoices.UpdateAmounts(ctx, rec.InvoiceID, rec.After, rec.Before, at)
	if err != nil {
		return rec, fmt.Errorf("restore invoice %s: %w", rec.InvoiceID, err)
	}
	if !swapped {
		return rec, model.NewConflictError("invoice", rec.InvoiceID, "changed since the fix was applied")
	}

	var reopened []string
	for _, id := range append([]string{rec.FindingID}, rec.AlsoResolved...) {
		ok, err := s.findings.Reopen(ctx, id)
		if err != nil {
			s.resolveAgain(ctx, reopened, rec.CreatedAt)
			s.restoreInvoice(ctx, rec.InvoiceID, rec.Before, rec.After)
			return rec, fmt.Errorf("reopen finding %s: %w", id, err)
		}
		if !ok {
			s.log.Warn().Str("finding_id", id).Msg("Finding was not resolved when undoing")
			continue
		}
		reopened = append(reopened, id)
	}

	marked, err := s.fixes.MarkUndone(ctx, rec.ID, at)
	if err != nil || !marked {
		s.resolveAgain(ctx, reopened, rec.CreatedAt)
		s.restoreInvoice(ctx, rec.InvoiceID, rec.Before, rec.After)
		if err != nil {
			return rec, fmt.Errorf("mark fix %s undone: %w", rec.ID, err)
		}
		return rec, model.NewConflictError("fix", rec.ID, "undone concurrently")
	}

	rec.Undone = true
	rec.Undoable = false
	rec.UndoneAt = &at

	// the ledger keeps what was avoided at the time; it is never decremented
	if err := s.setInvoiceStatus(ctx, rec.InvoiceID, model.InvoiceStatusError); err != nil {
		return rec, model.NewIncompleteFixError(rec.ID, "invoice status after undo", err)
	}
	s.refreshHealth(ctx, rec.CompanyID)

	return rec, nil
}

// resolveFinding loads an open finding and its strategy
func (s *Service) resolveFinding(ctx context.Context, findingID string) (*model.Finding, strategy.Strategy, error) {
	finding, err := s.findings.Get(ctx, findingID)
	if err != nil {
		return nil, nil, err
	}
	if !finding.IsOpen() {
		return nil, nil, model.NewConflictError("finding", finding.ID, "already resolved")
	}

	strat, err := s.strategies.Resolve(finding.Type)
	if err != nil {
		return nil, nil, err
	}
	return finding, strat, nil
}

func (s *Service) restoreInvoice(ctx context.Context, invoiceID string, from, to model.Amounts) {
	ok, err := s.invoices.UpdateAmounts(ctx, invoiceID, from, to, s.timestamp())
	if err != nil || !ok {
		s.log.Error().
			Err(err).
			Str("invoice_id", invoiceID).
			Bool("swapped", ok).
			Msg("Failed to restore invoice after aborted fix")
	}
}

func (s *Service) reopenFindings(ctx context.Context, findingIDs []string) {
	for _, id := range findingIDs {
		if _, err := s.findings.Reopen(ctx, id); err != nil {
			s.log.Error().Err(err).Str("finding_id", id).Msg("Failed to reopen finding after aborted fix")
		}
	}
}

func (s *Service) resolveAgain(ctx context.Context, findingIDs []string, at time.Time) {
	for _, id := range findingIDs {
		if _, err := s.findings.Resolve(ctx, id, at); err != nil {
			s.log.Error().Err(err).Str("finding_id", id).Msg("Failed to resolve finding after aborted undo")
		}
	}
}

// addSavings books a fix into the ledger of its period. Writers of the same
// company and period are serialized.
func (s *Service) addSavings(ctx context.Context, rec *model.FixRecord, at time.Time) error {
	period := model.LedgerPeriod(at)
	unlock := s.locks.Lock("ledger:" + rec.CompanyID + ":" + period)
	defer unlock()

	return s.ledger.Add(ctx, rec.CompanyID, period, 1, rec.PenaltyAvoided, at)
}

// refreshInvoiceStatus marks the invoice fixed once no open finding is left
func (s *Service) refreshInvoiceStatus(ctx context.Context, invoiceID string) error {
	open, err := s.findings.CountOpenForInvoice(ctx, invoiceID)
	if err != nil {
		return fmt.Errorf("count open findings of invoice %s: %w", invoiceID, err)
	}

	status := model.InvoiceStatusFixed
	if open > 0 {
		status = model.InvoiceStatusError
	}
	return s.setInvoiceStatus(ctx, invoiceID, status)
}

func (s *Service) setInvoiceStatus(ctx context.Context, invoiceID string, status model.InvoiceStatus) error {
	if err := s.invoices.SetStatus(ctx, invoiceID, status, s.timestamp()); err != nil {
		return fmt.Errorf("set status of invoice %s: %w", invoiceID, err)
	}
	return nil
}

func (s *Service) refreshHealth(ctx context.Context, companyID string) {
	if _, err := s.HealthScore(ctx, companyID); err != nil {
		s.log.Warn().Err(err).Str("company_id", companyID).Msg("Failed to recompute health score")
	}
}

func strategyLabel(rec *model.FixRecord) string {
	if rec == nil {
		return "unknown"
	}
	return string(rec.Strategy)
}
