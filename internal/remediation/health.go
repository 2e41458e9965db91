package remediation

import (
	"context"

	"github.com/shopspring/decimal"

	money "github.com/rezonia/vat-compliance/internal/decimal"
	"github.com/rezonia/vat-compliance/internal/metrics"
	"github.com/rezonia/vat-compliance/internal/model"
)

var hundred = decimal.NewFromInt(100)

// Health is the compliance health of a company
type Health struct {
	CompanyID          string          `json:"company_id"`
	Score              int             `json:"score"`
	Accuracy           decimal.Decimal `json:"accuracy"`
	Risk               decimal.Decimal `json:"risk"`
	Invoices           int             `json:"invoices"`
	UnresolvedFindings int             `json:"unresolved_findings"`
	OpenPenaltyRisk    decimal.Decimal `json:"open_penalty_risk"`
}

// HealthScore computes round(w_a*accuracy + w_r*risk), always within [0, 100].
// accuracy is 100*(1 - openFindings/invoices), 100 without invoices and floored
// at zero when findings outnumber invoices; risk drops one point per
// RiskDivisor of outstanding penalty.
func (s *Service) HealthScore(ctx context.Context, companyID string) (*Health, error) {
	total, err := s.invoices.CountByCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}
	unresolved, penalty, err := s.findings.OpenRisk(ctx, companyID)
	if err != nil {
		return nil, err
	}

	h := &Health{
		CompanyID:          companyID,
		Invoices:           total,
		UnresolvedFindings: unresolved,
		OpenPenaltyRisk:    penalty,
		Accuracy:           hundred,
	}

	if total > 0 {
		share := decimal.NewFromInt(int64(unresolved)).Div(decimal.NewFromInt(int64(total)))
		h.Accuracy = clamp(hundred.Mul(decimal.NewFromInt(1).Sub(share)))
	}

	divisor := s.policy.RiskDivisor
	if divisor.IsZero() {
		divisor = hundred
	}
	h.Risk = clamp(hundred.Sub(penalty.Div(divisor)))

	score := s.policy.AccuracyWeight.Mul(h.Accuracy).Add(s.policy.RiskWeight.Mul(h.Risk))
	h.Score = int(clamp(score.Round(0)).IntPart())
	h.Accuracy = h.Accuracy.Round(2)
	h.Risk = h.Risk.Round(2)

	metrics.HealthScore.WithLabelValues(companyID).Set(float64(h.Score))
	return h, nil
}

// Ledger returns the savings ledger of a company with ROI against the plan cost
func (s *Service) Ledger(ctx context.Context, companyID string) ([]model.SavingsLedgerEntry, error) {
	entries, err := s.ledger.List(ctx, companyID)
	if err != nil {
		return nil, err
	}

	cost := s.policy.MonthlyPlanCost
	for i := range entries {
		if money.IsPositive(cost) {
			entries[i].ROIPercent = money.Percent(entries[i].PenaltyAvoided.Sub(cost), cost)
		}
	}
	return entries, nil
}

func clamp(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	if d.GreaterThan(hundred) {
		return hundred
	}
	return d
}
