package decimal_test

import (
	"testing"

	dec "github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/vat-compliance/internal/decimal"
)

func TestFromInt(t *testing.T) {
	d := decimal.FromInt(1000)
	assert.True(t, d.Equal(dec.NewFromInt(1000)))
}

func TestFromString(t *testing.T) {
	d, err := decimal.FromString("123456.78")
	require.NoError(t, err)
	assert.True(t, d.Equal(dec.RequireFromString("123456.78")))

	_, err = decimal.FromString("not-a-number")
	require.Error(t, err)
}

func TestMustFromString(t *testing.T) {
	d := decimal.MustFromString("999.99")
	assert.True(t, d.Equal(dec.RequireFromString("999.99")))

	assert.Panics(t, func() {
		decimal.MustFromString("invalid")
	})
}

func TestCalculateVAT(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		rate     string
		expected string
	}{
		{"german standard", "1000", "19", "190.00"},
		{"french reduced", "99.99", "5.5", "5.50"},
		{"round half up", "0.50", "21", "0.11"},
		{"zero rate", "1000", "0", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vat := decimal.CalculateVAT(dec.RequireFromString(tt.amount), dec.RequireFromString(tt.rate))
			assert.True(t, vat.Equal(dec.RequireFromString(tt.expected)),
				"Expected %s, got %s", tt.expected, vat.String())
		})
	}
}

func TestWithinTolerance(t *testing.T) {
	expected := dec.RequireFromString("190")

	assert.True(t, decimal.WithinTolerance(dec.RequireFromString("190.01"), expected, decimal.CalculationTolerance))
	assert.True(t, decimal.WithinTolerance(dec.RequireFromString("189.99"), expected, decimal.CalculationTolerance))
	assert.False(t, decimal.WithinTolerance(dec.RequireFromString("190.011"), expected, decimal.CalculationTolerance))
}

func TestPercent(t *testing.T) {
	assert.True(t, decimal.Percent(dec.NewFromInt(50), dec.NewFromInt(200)).Equal(dec.NewFromInt(25)))
	assert.True(t, decimal.Percent(dec.NewFromInt(50), dec.Zero).IsZero())
}

func TestSum(t *testing.T) {
	values := []dec.Decimal{
		dec.NewFromInt(100),
		dec.RequireFromString("0.25"),
		dec.NewFromInt(50),
	}
	assert.True(t, decimal.Sum(values).Equal(dec.RequireFromString("150.25")))
	assert.True(t, decimal.Sum(nil).IsZero())
}

func TestIsPositive(t *testing.T) {
	assert.True(t, decimal.IsPositive(dec.NewFromInt(1)))
	assert.False(t, decimal.IsPositive(dec.Zero))
	assert.True(t, decimal.IsNonNegative(dec.Zero))
	assert.False(t, decimal.IsNonNegative(dec.NewFromInt(-1)))
}
