package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/rezonia/vat-compliance/internal/model"
	"github.com/rezonia/vat-compliance/internal/rules"
)

var ratesCmd = &cobra.Command{
	Use:   "rates [country...]",
	Short: "List the VAT rate catalog",
	Long: `List permitted VAT rates per country and product type.
The first rate of each list is the one corrections apply.

Examples:
  vat-compliance rates
  vat-compliance rates DE FR -f table`,
	// rates reads no configuration
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE:              runRates,
}

func init() {
	rootCmd.AddCommand(ratesCmd)
}

type rateRow struct {
	Country  string            `json:"country"`
	Name     string            `json:"name"`
	EUMember bool              `json:"eu_member"`
	Goods    []decimal.Decimal `json:"goods"`
	Services []decimal.Decimal `json:"services"`
	Digital  []decimal.Decimal `json:"digital"`
}

func runRates(cmd *cobra.Command, args []string) error {
	catalog := rules.DefaultCatalog()

	codes := catalog.Countries()
	if len(args) > 0 {
		codes = args
	}

	rows := make([]rateRow, 0, len(codes))
	for _, code := range codes {
		c, ok := catalog.Lookup(code)
		if !ok {
			return fmt.Errorf("no rates for country %q", code)
		}
		rows = append(rows, rateRow{
			Country:  c.Country,
			Name:     c.Name,
			EUMember: c.EUMember,
			Goods:    c.Rates[model.ProductGoods],
			Services: c.Rates[model.ProductServices],
			Digital:  c.Rates[model.ProductDigital],
		})
	}

	return printResult(rows, func(w *tabwriter.Writer) {
		fmt.Fprintf(w, "COUNTRY\tNAME\tEU\tGOODS\tSERVICES\tDIGITAL\n")
		for _, r := range rows {
			fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\t%s\n", r.Country, r.Name, r.EUMember, join(r.Goods), join(r.Services), join(r.Digital))
		}
	})
}

func join(rates []decimal.Decimal) string {
	parts := make([]string, len(rates))
	for i, r := range rates {
		parts[i] = r.String() + "%"
	}
	return strings.Join(parts, ", ")
}
