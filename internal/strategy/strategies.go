package strategy

import (
	"fmt"

	"github.com/rezonia/vat-compliance/internal/decimal"
	"github.com/rezonia/vat-compliance/internal/model"
	"github.com/rezonia/vat-compliance/internal/rules"
)

// RecalculateVAT replaces a non-permitted rate with the country's correct rate
type RecalculateVAT struct {
	catalog *rules.Catalog
}

// NewRecalculateVAT creates the wrong-rate strategy
func NewRecalculateVAT(catalog *rules.Catalog) *RecalculateVAT {
	return &RecalculateVAT{catalog: catalog}
}

// Name returns the strategy name
func (s *RecalculateVAT) Name() model.StrategyName {
	return model.StrategyRecalculateVAT
}

// Compute looks up the correct rate and recomputes the VAT amount
func (s *RecalculateVAT) Compute(inv *model.Invoice, finding *model.Finding) (*model.Diff, error) {
	rate, ok := s.catalog.CorrectRate(inv.CustomerCountry, inv.ProductType)
	if !ok {
		return nil, fmt.Errorf("no %s rate known for country %q", inv.ProductType, inv.CustomerCountry)
	}

	after := model.Amounts{
		NetAmount: inv.NetAmount,
		VATRate:   rate,
		VATAmount: decimal.CalculateVAT(inv.NetAmount, rate),
	}

	return buildDiff(s.Name(), inv, finding, after, false), nil
}

// ApplyReverseCharge zeroes VAT on cross-border B2B supplies
type ApplyReverseCharge struct{}

// NewApplyReverseCharge creates the reverse-charge strategy
func NewApplyReverseCharge() *ApplyReverseCharge {
	return &ApplyReverseCharge{}
}

// Name returns the strategy name
func (s *ApplyReverseCharge) Name() model.StrategyName {
	return model.StrategyApplyReverseCharge
}

// Compute sets rate and amount to zero. The result always needs approval
// because it moves the tax liability to the customer.
func (s *ApplyReverseCharge) Compute(inv *model.Invoice, finding *model.Finding) (*model.Diff, error) {
	after := model.Amounts{
		NetAmount: inv.NetAmount,
		VATRate:   decimal.Zero,
		VATAmount: decimal.Zero,
	}

	diff := buildDiff(s.Name(), inv, finding, after, true)
	if len(diff.Changes) > 0 {
		diff.Changes = append(diff.Changes,
			fmt.Sprintf("Reverse charge: VAT liability shifts to customer %s (%s)", inv.CustomerVATID, inv.CustomerCountry))
	}
	return diff, nil
}

// RecalculateAmounts recomputes VAT from the declared rate and net amount
type RecalculateAmounts struct{}

// NewRecalculateAmounts creates the calculation-mismatch strategy
func NewRecalculateAmounts() *RecalculateAmounts {
	return &RecalculateAmounts{}
}

// Name returns the strategy name
func (s *RecalculateAmounts) Name() model.StrategyName {
	return model.StrategyRecalculateAmounts
}

// Compute trusts rate and net amount and fixes the VAT amount
func (s *RecalculateAmounts) Compute(inv *model.Invoice, finding *model.Finding) (*model.Diff, error) {
	after := model.Amounts{
		NetAmount: inv.NetAmount,
		VATRate:   inv.VATRate,
		VATAmount: decimal.CalculateVAT(inv.NetAmount, inv.VATRate),
	}

	return buildDiff(s.Name(), inv, finding, after, false), nil
}

func buildDiff(name model.StrategyName, inv *model.Invoice, finding *model.Finding, after model.Amounts, approval bool) *model.Diff {
	before := inv.Amounts()

	changes := []string{}
	if !before.NetAmount.Equal(after.NetAmount) {
		changes = append(changes, fmt.Sprintf("Net amount: %s → %s", before.NetAmount.StringFixed(2), after.NetAmount.StringFixed(2)))
	}
	if !before.VATRate.Equal(after.VATRate) {
		changes = append(changes, fmt.Sprintf("VAT rate: %s%% → %s%%", before.VATRate.String(), after.VATRate.String()))
	}
	if !before.VATAmount.Equal(after.VATAmount) {
		changes = append(changes, fmt.Sprintf("VAT amount: %s → %s", before.VATAmount.StringFixed(2), after.VATAmount.StringFixed(2)))
	}

	return &model.Diff{
		Strategy:         name,
		Before:           before,
		After:            after,
		Changes:          changes,
		PenaltyAvoided:   finding.PenaltyRisk,
		RequiresApproval: approval,
	}
}
