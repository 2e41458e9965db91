package rules

import (
	"github.com/shopspring/decimal"

	money "github.com/rezonia/vat-compliance/internal/decimal"
	"github.com/rezonia/vat-compliance/internal/model"
)

// Rule describes the fixed severity and penalty estimate of a finding type
type Rule struct {
	Severity    model.Severity
	PenaltyRisk decimal.Decimal
}

// Policy holds empirically chosen constants. Historical penalty statistics and
// health scores are only comparable while these stay at their defaults.
type Policy struct {
	Rules map[model.FindingType]Rule

	// Health score = round(AccuracyWeight*accuracy + RiskWeight*risk)
	AccuracyWeight decimal.Decimal
	RiskWeight     decimal.Decimal
	// RiskDivisor converts outstanding penalty risk into score points
	RiskDivisor decimal.Decimal

	// MonthlyPlanCost is the cost basis of the savings ledger ROI
	MonthlyPlanCost decimal.Decimal
}

// DefaultPolicy returns the built-in constants
func DefaultPolicy() Policy {
	return Policy{
		Rules: map[model.FindingType]Rule{
			model.FindingWrongRate:           {Severity: model.SeverityCritical, PenaltyRisk: money.FromInt(500)},
			model.FindingMissingVATID:        {Severity: model.SeverityHigh, PenaltyRisk: money.FromInt(250)},
			model.FindingMissingInvoiceDate:  {Severity: model.SeverityMedium, PenaltyRisk: money.FromInt(100)},
			model.FindingCalculationMismatch: {Severity: model.SeverityHigh, PenaltyRisk: money.FromInt(150)},
			model.FindingCrossBorderB2B:      {Severity: model.SeverityHigh, PenaltyRisk: money.FromInt(1000)},
			model.FindingSuspiciousPattern:   {Severity: model.SeverityMedium, PenaltyRisk: money.FromInt(50)},
		},
		AccuracyWeight:  money.MustFromString("0.6"),
		RiskWeight:      money.MustFromString("0.4"),
		RiskDivisor:     money.FromInt(100),
		MonthlyPlanCost: money.FromInt(99),
	}
}

// RuleFor returns the severity and penalty of t; unknown types are low with no penalty
func (p Policy) RuleFor(t model.FindingType) Rule {
	if r, ok := p.Rules[t]; ok {
		return r
	}
	return Rule{Severity: model.SeverityLow, PenaltyRisk: decimal.Zero}
}

// PenaltyFor returns the fixed penalty risk of t
func (p Policy) PenaltyFor(t model.FindingType) decimal.Decimal {
	return p.RuleFor(t).PenaltyRisk
}
