package filing

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rezonia/vat-compliance/internal/model"
	"github.com/rezonia/vat-compliance/internal/rules"
)

// Aggregate builds the period return of one company for country from its
// sales invoices. Only invoices issued from country are counted.
//
// Domestic sales are split into standard and reduced bands by the catalog.
// Sales to other EU member states are listed per destination; zero-rated B2B
// supplies among them also count as intra-EU supplies.
func Aggregate(catalog *rules.Catalog, companyID, country, taxID string, period Period, invoices []model.Invoice) *model.VATReturn {
	country = strings.ToUpper(country)
	ret := &model.VATReturn{
		Country:         country,
		Period:          period.String(),
		TaxID:           taxID,
		CompanyID:       companyID,
		PeriodStart:     period.Start,
		PeriodEnd:       period.LastDay(),
		SalesNet:        decimal.Zero,
		SalesVAT:        decimal.Zero,
		StandardNet:     decimal.Zero,
		ReducedNet:      decimal.Zero,
		ReducedVAT:      decimal.Zero,
		IntraEUNet:      decimal.Zero,
		AcquisitionsVAT: decimal.Zero,
		DeductibleVAT:   decimal.Zero,
		PurchasesNet:    decimal.Zero,
	}

	home, _ := catalog.Lookup(country)
	states := map[string]*model.MemberStateSupply{}

	for i := range invoices {
		inv := &invoices[i]
		if !strings.EqualFold(inv.SupplierCountry, country) {
			continue
		}

		ret.InvoiceCount++
		ret.SalesNet = ret.SalesNet.Add(inv.NetAmount)
		ret.SalesVAT = ret.SalesVAT.Add(inv.VATAmount)

		dest := strings.ToUpper(inv.CustomerCountry)
		if dest == country {
			standard, ok := home.StandardRate(inv.ProductType)
			switch {
			case inv.VATRate.IsZero():
			case ok && inv.VATRate.Equal(standard):
				ret.StandardNet = ret.StandardNet.Add(inv.NetAmount)
			default:
				ret.ReducedNet = ret.ReducedNet.Add(inv.NetAmount)
				ret.ReducedVAT = ret.ReducedVAT.Add(inv.VATAmount)
			}
			continue
		}

		if !catalog.IsEUMember(dest) || !catalog.IsEUMember(country) {
			continue
		}

		ms, ok := states[dest]
		if !ok {
			ms = &model.MemberStateSupply{Country: dest, NetAmount: decimal.Zero, VATAmount: decimal.Zero}
			states[dest] = ms
		}
		ms.NetAmount = ms.NetAmount.Add(inv.NetAmount)
		ms.VATAmount = ms.VATAmount.Add(inv.VATAmount)

		if inv.IsBusinessCustomer() && inv.VATRate.IsZero() {
			ret.IntraEUNet = ret.IntraEUNet.Add(inv.NetAmount)
		}
	}

	for _, ms := range states {
		ret.MemberStates = append(ret.MemberStates, *ms)
	}
	sort.Slice(ret.MemberStates, func(i, j int) bool {
		return ret.MemberStates[i].Country < ret.MemberStates[j].Country
	})

	return ret
}
