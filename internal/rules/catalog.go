// Package rules holds the country VAT rate catalog and the policy constants
// used by detection, remediation and health scoring.
//
// Both are plain values built once at startup and passed to the components
// that need them. Nothing in this package keeps global mutable state.
package rules

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	money "github.com/rezonia/vat-compliance/internal/decimal"
	"github.com/rezonia/vat-compliance/internal/model"
)

// CountryRates lists the permitted rates of one country per product type.
// The first rate of each list is the one a correction applies.
type CountryRates struct {
	Country  string
	Name     string
	EUMember bool
	Rates    map[model.ProductType][]decimal.Decimal
}

// StandardRate returns the rate a correction applies for productType
func (c CountryRates) StandardRate(productType model.ProductType) (decimal.Decimal, bool) {
	rates := c.Rates[productType]
	if len(rates) == 0 {
		return decimal.Zero, false
	}
	return rates[0], true
}

// Permits reports whether rate is a member of the permitted set for productType
func (c CountryRates) Permits(productType model.ProductType, rate decimal.Decimal) bool {
	for _, r := range c.Rates[productType] {
		if r.Equal(rate) {
			return true
		}
	}
	return false
}

// Catalog is the rate table keyed by ISO 3166-1 alpha-2 code
type Catalog struct {
	countries map[string]CountryRates
}

// NewCatalog builds a catalog from country entries
func NewCatalog(entries ...CountryRates) *Catalog {
	c := &Catalog{countries: make(map[string]CountryRates, len(entries))}
	for _, e := range entries {
		e.Country = strings.ToUpper(e.Country)
		c.countries[e.Country] = e
	}
	return c
}

// Lookup returns the rates of a country
func (c *Catalog) Lookup(country string) (CountryRates, bool) {
	rates, ok := c.countries[strings.ToUpper(country)]
	return rates, ok
}

// IsEUMember reports EU membership; unknown countries are non-members
func (c *Catalog) IsEUMember(country string) bool {
	rates, ok := c.Lookup(country)
	return ok && rates.EUMember
}

// CorrectRate returns the rate a correction applies for country and product type
func (c *Catalog) CorrectRate(country string, productType model.ProductType) (decimal.Decimal, bool) {
	rates, ok := c.Lookup(country)
	if !ok {
		return decimal.Zero, false
	}
	return rates.StandardRate(productType)
}

// Countries returns the catalog's country codes sorted
func (c *Catalog) Countries() []string {
	codes := make([]string, 0, len(c.countries))
	for code := range c.countries {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

func pct(values ...string) []decimal.Decimal {
	out := make([]decimal.Decimal, 0, len(values))
	for _, v := range values {
		out = append(out, money.MustFromString(v))
	}
	return out
}

func country(code, name string, eu bool, goods, services, digital []decimal.Decimal) CountryRates {
	return CountryRates{
		Country:  code,
		Name:     name,
		EUMember: eu,
		Rates: map[model.ProductType][]decimal.Decimal{
			model.ProductGoods:    goods,
			model.ProductServices: services,
			model.ProductDigital:  digital,
		},
	}
}

// DefaultCatalog returns the built-in rate table
func DefaultCatalog() *Catalog {
	return NewCatalog(
		country("AT", "Austria", true, pct("20", "13", "10"), pct("20", "13", "10"), pct("20")),
		country("BE", "Belgium", true, pct("21", "12", "6"), pct("21", "12", "6"), pct("21")),
		country("DE", "Germany", true, pct("19", "7"), pct("19", "7"), pct("19")),
		country("DK", "Denmark", true, pct("25"), pct("25"), pct("25")),
		country("ES", "Spain", true, pct("21", "10", "4"), pct("21", "10"), pct("21")),
		country("FR", "France", true, pct("20", "10", "5.5", "2.1"), pct("20", "10"), pct("20")),
		country("IE", "Ireland", true, pct("23", "13.5", "9"), pct("23", "13.5", "9"), pct("23")),
		country("IT", "Italy", true, pct("22", "10", "5", "4"), pct("22", "10"), pct("22")),
		country("NL", "Netherlands", true, pct("21", "9"), pct("21", "9"), pct("21")),
		country("PL", "Poland", true, pct("23", "8", "5"), pct("23", "8"), pct("23")),
		country("PT", "Portugal", true, pct("23", "13", "6"), pct("23", "13", "6"), pct("23")),
		country("SE", "Sweden", true, pct("25", "12", "6"), pct("25", "12", "6"), pct("25")),
		country("GB", "United Kingdom", false, pct("20", "5", "0"), pct("20", "5", "0"), pct("20")),
	)
}
