// Package detector evaluates invoices against the VAT rule catalog.
//
// The detector never writes anything. It returns findings and leaves their
// persistence to the caller.
package detector

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rezonia/vat-compliance/internal/decimal"
	"github.com/rezonia/vat-compliance/internal/logger"
	"github.com/rezonia/vat-compliance/internal/metrics"
	"github.com/rezonia/vat-compliance/internal/model"
	"github.com/rezonia/vat-compliance/internal/rules"
)

// FixabilityChecker tells the detector which finding types can be auto-fixed
type FixabilityChecker interface {
	CanAutoFix(t model.FindingType) bool
}

// Detector runs the deterministic rules and, when enhanced, the heuristic pass
type Detector struct {
	catalog  *rules.Catalog
	policy   rules.Policy
	fixable  FixabilityChecker
	enhanced bool
	patterns []Pattern
	advisor  Advisor
	log      zerolog.Logger
	now      func() time.Time
}

// Option configures the detector
type Option func(*Detector)

// WithEnhanced turns the heuristic pass on or off
func WithEnhanced(enabled bool) Option {
	return func(d *Detector) {
		d.enhanced = enabled
	}
}

// WithAdvisor adds a model-backed reviewer to the heuristic pass
func WithAdvisor(a Advisor) Option {
	return func(d *Detector) {
		d.advisor = a
	}
}

// WithPatterns replaces the lexical patterns of the heuristic pass
func WithPatterns(patterns []Pattern) Option {
	return func(d *Detector) {
		d.patterns = patterns
	}
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(d *Detector) {
		d.log = l
	}
}

// WithClock overrides the detection timestamp source
func WithClock(now func() time.Time) Option {
	return func(d *Detector) {
		d.now = now
	}
}

// New creates a detector
func New(catalog *rules.Catalog, policy rules.Policy, fixable FixabilityChecker, opts ...Option) *Detector {
	d := &Detector{
		catalog:  catalog,
		policy:   policy,
		fixable:  fixable,
		patterns: DefaultPatterns(),
		log:      logger.WithComponent("detector"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect evaluates every rule against inv. Rules are independent, so several
// findings can be returned for one invoice.
func (d *Detector) Detect(ctx context.Context, inv *model.Invoice) []model.Finding {
	var findings []model.Finding

	if f, ok := d.checkMissingVATID(inv); ok {
		findings = append(findings, f)
	}
	if f, ok := d.checkRate(inv); ok {
		findings = append(findings, f)
	}
	if f, ok := d.checkReverseCharge(inv); ok {
		findings = append(findings, f)
	}
	if f, ok := d.checkMissingDate(inv); ok {
		findings = append(findings, f)
	}
	if f, ok := d.checkCalculation(inv); ok {
		findings = append(findings, f)
	}

	if d.enhanced {
		if f, ok := d.runHeuristics(ctx, inv); ok {
			findings = append(findings, f)
		}
	}

	for _, f := range findings {
		metrics.FindingsDetected.WithLabelValues(string(f.Type), string(f.Severity)).Inc()
	}

	d.log.Debug().
		Str("invoice_id", inv.ID).
		Int("findings", len(findings)).
		Msg("Invoice evaluated")

	return findings
}

// DetectAll evaluates a batch of invoices
func (d *Detector) DetectAll(ctx context.Context, invoices []model.Invoice) []model.Finding {
	var all []model.Finding
	for i := range invoices {
		all = append(all, d.Detect(ctx, &invoices[i])...)
	}
	return all
}

func (d *Detector) checkMissingVATID(inv *model.Invoice) (model.Finding, bool) {
	if !inv.IsBusinessCustomer() || inv.CustomerVATID != "" {
		return model.Finding{}, false
	}
	return d.newFinding(inv, model.FindingMissingVATID,
		"business customer without VAT identification number"), true
}

func (d *Detector) checkRate(inv *model.Invoice) (model.Finding, bool) {
	if d.qualifiesForReverseCharge(inv) {
		// zero is correct here; a positive rate is reported as cross-border-b2b
		return model.Finding{}, false
	}

	rates, ok := d.catalog.Lookup(inv.CustomerCountry)
	if !ok {
		d.log.Debug().
			Str("invoice_id", inv.ID).
			Str("country", inv.CustomerCountry).
			Msg("No rate table for country, skipping rate check")
		return model.Finding{}, false
	}

	if rates.Permits(inv.ProductType, inv.VATRate) {
		return model.Finding{}, false
	}

	msg := fmt.Sprintf("VAT rate %s%% is not permitted for %s in %s", inv.VATRate.String(), inv.ProductType, rates.Country)
	if correct, ok := rates.StandardRate(inv.ProductType); ok {
		msg += fmt.Sprintf(" (expected %s%%)", correct.String())
	}
	return d.newFinding(inv, model.FindingWrongRate, msg), true
}

func (d *Detector) checkReverseCharge(inv *model.Invoice) (model.Finding, bool) {
	if !d.qualifiesForReverseCharge(inv) || inv.VATRate.IsZero() {
		return model.Finding{}, false
	}
	return d.newFinding(inv, model.FindingCrossBorderB2B,
		fmt.Sprintf("cross-border B2B supply %s → %s charged at %s%%; reverse charge applies",
			inv.SupplierCountry, inv.CustomerCountry, inv.VATRate.String())), true
}

func (d *Detector) checkMissingDate(inv *model.Invoice) (model.Finding, bool) {
	if inv.HasDate() {
		return model.Finding{}, false
	}
	return d.newFinding(inv, model.FindingMissingInvoiceDate, "invoice date is missing"), true
}

func (d *Detector) checkCalculation(inv *model.Invoice) (model.Finding, bool) {
	expected := decimal.ExpectedVAT(inv.NetAmount, inv.VATRate)
	if decimal.WithinTolerance(inv.VATAmount, expected, decimal.CalculationTolerance) {
		return model.Finding{}, false
	}
	return d.newFinding(inv, model.FindingCalculationMismatch,
		fmt.Sprintf("declared VAT %s differs from %s × %s%% = %s",
			inv.VATAmount.StringFixed(2), inv.NetAmount.StringFixed(2), inv.VATRate.String(), expected.StringFixed(2))), true
}

func (d *Detector) qualifiesForReverseCharge(inv *model.Invoice) bool {
	return inv.IsBusinessCustomer() &&
		inv.CustomerVATID != "" &&
		inv.SupplierCountry != "" &&
		inv.SupplierCountry != inv.CustomerCountry &&
		d.catalog.IsEUMember(inv.SupplierCountry) &&
		d.catalog.IsEUMember(inv.CustomerCountry)
}

func (d *Detector) newFinding(inv *model.Invoice, t model.FindingType, msg string) model.Finding {
	rule := d.policy.RuleFor(t)
	return model.Finding{
		ID:          uuid.NewString(),
		InvoiceID:   inv.ID,
		UploadID:    inv.UploadID,
		CompanyID:   inv.CompanyID,
		Type:        t,
		Severity:    rule.Severity,
		PenaltyRisk: rule.PenaltyRisk,
		AutoFixable: d.fixable != nil && d.fixable.CanAutoFix(t),
		Status:      model.FindingOpen,
		Message:     msg,
		DetectedAt:  d.now().UTC(),
	}
}
