package filing

import (
	"github.com/shopspring/decimal"
)

// wholeEuros renders a tax base truncated to whole units; zero renders empty
func wholeEuros(d decimal.Decimal) string {
	if d.IsZero() {
		return ""
	}
	return d.Truncate(0).String()
}

// cents renders an amount with two decimals; zero renders empty
func cents(d decimal.Decimal) string {
	if d.IsZero() {
		return ""
	}
	return d.StringFixed(2)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
