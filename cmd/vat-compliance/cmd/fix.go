package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rezonia/vat-compliance/internal/compliance"
	"github.com/rezonia/vat-compliance/internal/model"
)

var (
	actorID string
	approve bool
)

var fixCmd = &cobra.Command{
	Use:   "fix",
	Short: "Preview, apply, bulk apply and undo fixes",
	Long: `Work with corrections for detected findings.

Reverse charge corrections change the tax liability of an invoice and need
--approve to be applied.

Examples:
  vat-compliance fix preview <finding-id>
  vat-compliance fix apply <finding-id> --actor alice
  vat-compliance fix bulk <finding-id>... --actor alice --approve
  vat-compliance fix undo <fix-id> --actor alice
  vat-compliance fix history <invoice-id>`,
}

var fixPreviewCmd = &cobra.Command{
	Use:   "preview <finding-id>",
	Short: "Show the correction for a finding without applying it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeStore, err := openService()
		if err != nil {
			return err
		}
		defer closeStore()

		diff, err := svc.PreviewFix(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printResult(diff, func(w *tabwriter.Writer) {
			fmt.Fprintf(w, "FIELD\tBEFORE\tAFTER\n")
			fmt.Fprintf(w, "net_amount\t%s\t%s\n", diff.Before.NetAmount, diff.After.NetAmount)
			fmt.Fprintf(w, "vat_rate\t%s\t%s\n", diff.Before.VATRate, diff.After.VATRate)
			fmt.Fprintf(w, "vat_amount\t%s\t%s\n", diff.Before.VATAmount.StringFixed(2), diff.After.VATAmount.StringFixed(2))
			fmt.Fprintf(w, "\nStrategy: %s\tPenalty avoided: %s\tApproval: %t\n",
				diff.Strategy, diff.PenaltyAvoided.StringFixed(2), diff.RequiresApproval)
		})
	},
}

var fixApplyCmd = &cobra.Command{
	Use:   "apply <finding-id>",
	Short: "Apply the correction for a finding",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeStore, err := openService()
		if err != nil {
			return err
		}
		defer closeStore()

		res, err := svc.ExecuteFix(cmd.Context(), args[0], actorID, approve)
		if err != nil {
			return err
		}
		return printResult(res, fixTable(res))
	},
}

var fixBulkCmd = &cobra.Command{
	Use:   "bulk <finding-id>...",
	Short: "Apply corrections for several findings; failures do not stop the batch",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeStore, err := openService()
		if err != nil {
			return err
		}
		defer closeStore()

		res := svc.BulkFix(cmd.Context(), args, actorID, approve)
		if err := printResult(res, func(w *tabwriter.Writer) {
			fmt.Fprintf(w, "FINDING\tRESULT\tFIX\tPENALTY AVOIDED\tERROR\n")
			for _, o := range res.Outcomes {
				result := "ok"
				if !o.Success {
					result = o.ErrorKind
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", o.FindingID, result, o.FixID, o.PenaltyAvoided.StringFixed(2), o.Error)
			}
			fmt.Fprintf(w, "\nSucceeded: %d\tFailed: %d\tSavings: %s\t\t\n", res.Succeeded, res.Failed, res.TotalSavings.StringFixed(2))
		}); err != nil {
			return err
		}
		if res.Succeeded == 0 && res.Failed > 0 {
			return fmt.Errorf("all %d fixes failed", res.Failed)
		}
		return nil
	},
}

var fixUndoCmd = &cobra.Command{
	Use:   "undo <fix-id>",
	Short: "Undo an applied fix",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeStore, err := openService()
		if err != nil {
			return err
		}
		defer closeStore()

		res, err := svc.UndoFix(cmd.Context(), args[0], actorID)
		if err != nil {
			return err
		}
		return printResult(res, fixTable(res))
	},
}

var fixHistoryCmd = &cobra.Command{
	Use:   "history <invoice-id>",
	Short: "List the fixes applied to an invoice",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeStore, err := openService()
		if err != nil {
			return err
		}
		defer closeStore()

		fixes, err := svc.FixHistory(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printResult(fixes, func(w *tabwriter.Writer) {
			fmt.Fprintf(w, "FIX\tSTRATEGY\tACTOR\tCREATED\tSTATE\n")
			for _, f := range fixes {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", f.ID, f.Strategy, f.ActorID, f.CreatedAt.Format("2006-01-02 15:04"), fixState(f))
			}
		})
	},
}

func init() {
	rootCmd.AddCommand(fixCmd)
	fixCmd.AddCommand(fixPreviewCmd, fixApplyCmd, fixBulkCmd, fixUndoCmd, fixHistoryCmd)

	fixCmd.PersistentFlags().StringVar(&actorID, "actor", "cli", "Actor recorded on the fix")
	fixApplyCmd.Flags().BoolVar(&approve, "approve", false, "Confirm corrections that need approval")
	fixBulkCmd.Flags().BoolVar(&approve, "approve", false, "Confirm corrections that need approval")
}

func fixTable(res *compliance.FixResult) func(w *tabwriter.Writer) {
	return func(w *tabwriter.Writer) {
		f := res.Fix
		fmt.Fprintf(w, "Fix:\t%s\n", f.ID)
		fmt.Fprintf(w, "Invoice:\t%s\n", f.InvoiceID)
		fmt.Fprintf(w, "Strategy:\t%s\n", f.Strategy)
		fmt.Fprintf(w, "Changes:\t%s\n", strings.Join(f.Changes, "; "))
		fmt.Fprintf(w, "Penalty avoided:\t%s\n", f.PenaltyAvoided.StringFixed(2))
		if len(f.AlsoResolved) > 0 {
			fmt.Fprintf(w, "Also resolved:\t%s\n", strings.Join(f.AlsoResolved, ", "))
		}
		fmt.Fprintf(w, "State:\t%s\n", fixState(*f))
		if res.Health != nil {
			fmt.Fprintf(w, "Health:\t%d/100\n", res.Health.Score)
		}
	}
}

func fixState(f model.FixRecord) string {
	switch {
	case f.Undone:
		return "undone"
	case len(f.Changes) == 0:
		return "already correct"
	case !f.Undoable:
		return "superseded"
	default:
		return "applied"
	}
}
