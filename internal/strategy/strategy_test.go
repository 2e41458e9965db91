package strategy_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/vat-compliance/internal/model"
	"github.com/rezonia/vat-compliance/internal/rules"
	"github.com/rezonia/vat-compliance/internal/strategy"
)

func newRegistry(t *testing.T) *strategy.Registry {
	t.Helper()
	r, err := strategy.NewRegistry(rules.DefaultCatalog())
	require.NoError(t, err)
	return r
}

func germanInvoice() *model.Invoice {
	return &model.Invoice{
		ID:              "INV-1",
		NetAmount:       decimal.NewFromInt(1000),
		VATRate:         decimal.NewFromInt(21),
		VATAmount:       decimal.NewFromInt(190),
		SupplierCountry: "DE",
		CustomerCountry: "DE",
		CustomerType:    model.CustomerConsumer,
		ProductType:     model.ProductGoods,
	}
}

func finding(t model.FindingType, penalty int64) *model.Finding {
	return &model.Finding{
		ID:          "F-1",
		InvoiceID:   "INV-1",
		Type:        t,
		PenaltyRisk: decimal.NewFromInt(penalty),
		Status:      model.FindingOpen,
	}
}

func TestRegistry_Resolve(t *testing.T) {
	r := newRegistry(t)

	tests := []struct {
		findingType model.FindingType
		expected    model.StrategyName
	}{
		{model.FindingWrongRate, model.StrategyRecalculateVAT},
		{model.FindingCrossBorderB2B, model.StrategyApplyReverseCharge},
		{model.FindingCalculationMismatch, model.StrategyRecalculateAmounts},
	}

	for _, tt := range tests {
		t.Run(string(tt.findingType), func(t *testing.T) {
			s, err := r.Resolve(tt.findingType)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, s.Name())
			assert.True(t, r.CanAutoFix(tt.findingType))
		})
	}
}

func TestRegistry_ResolveManual(t *testing.T) {
	r := newRegistry(t)

	for _, ft := range []model.FindingType{model.FindingMissingVATID, model.FindingMissingInvoiceDate, model.FindingSuspiciousPattern, "bogus"} {
		_, err := r.Resolve(ft)
		require.Error(t, err)

		var noStrategy *model.NoStrategyError
		require.ErrorAs(t, err, &noStrategy)
		assert.Equal(t, ft, noStrategy.Type)
		assert.False(t, r.CanAutoFix(ft))
	}

	assert.Equal(t, []model.FindingType{
		model.FindingMissingVATID,
		model.FindingMissingInvoiceDate,
		model.FindingSuspiciousPattern,
	}, r.ManualTypes())
}

func TestNewRegistryWith_DetectsGaps(t *testing.T) {
	_, err := strategy.NewRegistryWith(
		map[model.FindingType]strategy.Strategy{
			model.FindingWrongRate: strategy.NewRecalculateVAT(rules.DefaultCatalog()),
		},
		[]model.FindingType{model.FindingMissingVATID},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is not mapped")
}

func TestNewRegistryWith_RejectsDoubleMapping(t *testing.T) {
	_, err := strategy.NewRegistryWith(
		map[model.FindingType]strategy.Strategy{
			model.FindingMissingVATID: strategy.NewRecalculateAmounts(),
		},
		[]model.FindingType{model.FindingMissingVATID},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "both bound and manual")
}

func TestRecalculateVAT_GermanExample(t *testing.T) {
	s := strategy.NewRecalculateVAT(rules.DefaultCatalog())

	diff, err := s.Compute(germanInvoice(), finding(model.FindingWrongRate, 500))
	require.NoError(t, err)

	assert.Equal(t, model.StrategyRecalculateVAT, diff.Strategy)
	assert.True(t, diff.Before.VATRate.Equal(decimal.NewFromInt(21)))
	assert.True(t, diff.After.VATRate.Equal(decimal.NewFromInt(19)))
	assert.Equal(t, "190.00", diff.After.VATAmount.StringFixed(2))
	assert.True(t, diff.PenaltyAvoided.Equal(decimal.NewFromInt(500)))
	assert.False(t, diff.RequiresApproval)
	assert.Equal(t, []string{"VAT rate: 21% → 19%"}, diff.Changes)
}

func TestRecalculateVAT_UnknownCountry(t *testing.T) {
	s := strategy.NewRecalculateVAT(rules.DefaultCatalog())
	inv := germanInvoice()
	inv.CustomerCountry = "US"

	_, err := s.Compute(inv, finding(model.FindingWrongRate, 500))
	require.Error(t, err)

	var noStrategy *model.NoStrategyError
	assert.NotErrorAs(t, err, &noStrategy)
}

func TestApplyReverseCharge(t *testing.T) {
	inv := germanInvoice()
	inv.CustomerCountry = "FR"
	inv.CustomerVATID = "FR12345678901"
	inv.VATRate = decimal.NewFromInt(19)

	diff, err := strategy.NewApplyReverseCharge().Compute(inv, finding(model.FindingCrossBorderB2B, 1000))
	require.NoError(t, err)

	assert.True(t, diff.RequiresApproval)
	assert.True(t, diff.After.VATRate.IsZero())
	assert.True(t, diff.After.VATAmount.IsZero())
	assert.True(t, diff.After.NetAmount.Equal(inv.NetAmount))
	require.Len(t, diff.Changes, 3)
	assert.Contains(t, diff.Changes[2], "FR12345678901")
}

func TestRecalculateAmounts(t *testing.T) {
	inv := germanInvoice()
	inv.VATRate = decimal.NewFromInt(19)
	inv.VATAmount = decimal.RequireFromString("180.50")

	diff, err := strategy.NewRecalculateAmounts().Compute(inv, finding(model.FindingCalculationMismatch, 150))
	require.NoError(t, err)

	assert.True(t, diff.After.VATRate.Equal(decimal.NewFromInt(19)))
	assert.Equal(t, "190.00", diff.After.VATAmount.StringFixed(2))
	assert.Equal(t, []string{"VAT amount: 180.50 → 190.00"}, diff.Changes)
	assert.True(t, diff.PenaltyAvoided.Equal(decimal.NewFromInt(150)))
}
