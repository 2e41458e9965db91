package rules_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/vat-compliance/internal/model"
	"github.com/rezonia/vat-compliance/internal/rules"
)

func TestDefaultCatalog_Germany(t *testing.T) {
	catalog := rules.DefaultCatalog()

	de, ok := catalog.Lookup("de")
	require.True(t, ok)
	assert.True(t, de.EUMember)
	assert.True(t, de.Permits(model.ProductGoods, decimal.NewFromInt(19)))
	assert.True(t, de.Permits(model.ProductGoods, decimal.NewFromInt(7)))
	assert.False(t, de.Permits(model.ProductGoods, decimal.NewFromInt(21)))
	assert.False(t, de.Permits(model.ProductDigital, decimal.NewFromInt(7)))

	rate, ok := catalog.CorrectRate("DE", model.ProductGoods)
	require.True(t, ok)
	assert.True(t, rate.Equal(decimal.NewFromInt(19)))
}

func TestDefaultCatalog_FractionalRates(t *testing.T) {
	catalog := rules.DefaultCatalog()

	fr, ok := catalog.Lookup("FR")
	require.True(t, ok)
	assert.True(t, fr.Permits(model.ProductGoods, decimal.RequireFromString("5.50")))
	assert.True(t, fr.Permits(model.ProductGoods, decimal.RequireFromString("2.1")))
}

func TestCatalog_UnknownCountry(t *testing.T) {
	catalog := rules.DefaultCatalog()

	_, ok := catalog.Lookup("US")
	assert.False(t, ok)
	assert.False(t, catalog.IsEUMember("US"))
	assert.False(t, catalog.IsEUMember("GB"))

	_, ok = catalog.CorrectRate("US", model.ProductGoods)
	assert.False(t, ok)
}

func TestCatalog_Countries(t *testing.T) {
	catalog := rules.NewCatalog(
		rules.CountryRates{Country: "nl"},
		rules.CountryRates{Country: "AT"},
	)
	assert.Equal(t, []string{"AT", "NL"}, catalog.Countries())
}

func TestDefaultPolicy_CoversEveryFindingType(t *testing.T) {
	policy := rules.DefaultPolicy()

	for _, ft := range model.AllFindingTypes() {
		_, ok := policy.Rules[ft]
		assert.True(t, ok, "missing rule for %s", ft)
	}

	assert.Equal(t, model.SeverityCritical, policy.RuleFor(model.FindingWrongRate).Severity)
	assert.True(t, policy.PenaltyFor(model.FindingWrongRate).Equal(decimal.NewFromInt(500)))
	assert.True(t, policy.PenaltyFor(model.FindingType("unknown")).IsZero())
}
