package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var ledgerPeriod string

var healthCmd = &cobra.Command{
	Use:   "health <company-id>",
	Short: "Show the compliance health score of a company",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeStore, err := openService()
		if err != nil {
			return err
		}
		defer closeStore()

		h, err := svc.HealthScore(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printResult(h, func(w *tabwriter.Writer) {
			fmt.Fprintf(w, "Company:\t%s\n", h.CompanyID)
			fmt.Fprintf(w, "Score:\t%d/100\n", h.Score)
			fmt.Fprintf(w, "Accuracy:\t%s\n", h.Accuracy.StringFixed(2))
			fmt.Fprintf(w, "Risk:\t%s\n", h.Risk.StringFixed(2))
			fmt.Fprintf(w, "Invoices:\t%d\n", h.Invoices)
			fmt.Fprintf(w, "Open findings:\t%d\n", h.UnresolvedFindings)
			fmt.Fprintf(w, "Open penalty risk:\t%s\n", h.OpenPenaltyRisk.StringFixed(2))
		})
	},
}

var ledgerCmd = &cobra.Command{
	Use:   "ledger <company-id>",
	Short: "Show the savings ledger of a company",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeStore, err := openService()
		if err != nil {
			return err
		}
		defer closeStore()

		entries, err := svc.Ledger(cmd.Context(), args[0], ledgerPeriod)
		if err != nil {
			return err
		}
		return printResult(entries, func(w *tabwriter.Writer) {
			fmt.Fprintf(w, "PERIOD\tFIXED\tPENALTY AVOIDED\tROI %%\n")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", e.Period, e.FixedCount, e.PenaltyAvoided.StringFixed(2), e.ROIPercent.StringFixed(2))
			}
		})
	},
}

func init() {
	rootCmd.AddCommand(healthCmd, ledgerCmd)

	ledgerCmd.Flags().StringVar(&ledgerPeriod, "period", "", "Only this period (YYYY-MM)")
}
