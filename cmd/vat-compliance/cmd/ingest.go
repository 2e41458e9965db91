package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rezonia/vat-compliance/internal/compliance"
)

var (
	uploadID    string
	detectAfter bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file.csv>",
	Short: "Import a CSV upload of sales invoices",
	Long: `Import a CSV file of sales invoices.

Required columns: id, company_id, net_amount, vat_rate, vat_amount,
supplier_country, customer_country, customer_type, product_type.
Optional columns: number, date (YYYY-MM-DD), customer_vat_id, description.

Invalid rows are reported and skipped; invoice IDs that already exist are
counted as duplicates.

Examples:
  vat-compliance ingest march.csv --upload-id UP-2026-03
  vat-compliance ingest march.csv --detect -f table`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

var detectCmd = &cobra.Command{
	Use:   "detect <upload-id>",
	Short: "Detect VAT errors in an upload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeStore, err := openService()
		if err != nil {
			return err
		}
		defer closeStore()

		res, err := svc.DetectErrors(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printResult(res, detectionTable(res))
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd, detectCmd)

	ingestCmd.Flags().StringVar(&uploadID, "upload-id", "", "Upload ID (default: generated)")
	ingestCmd.Flags().BoolVar(&detectAfter, "detect", false, "Run detection after the import")
}

func runIngest(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", args[0], err)
	}
	defer f.Close()

	svc, closeStore, err := openService()
	if err != nil {
		return err
	}
	defer closeStore()

	ctx := cmd.Context()
	res, err := svc.Ingest(ctx, uploadID, f)
	if err != nil {
		return err
	}
	printVerbose("Imported %d of %d rows into upload %s\n", res.Imported, res.Rows, res.UploadID)

	if !detectAfter {
		return printResult(res, func(w *tabwriter.Writer) {
			fmt.Fprintf(w, "UPLOAD\tROWS\tIMPORTED\tDUPLICATES\tREJECTED\n")
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n", res.UploadID, res.Rows, res.Imported, res.Duplicates, len(res.Errors))
			for _, e := range res.Errors {
				fmt.Fprintf(w, "  row %d\t%s\t%s\t\t\n", e.Row, e.Field, e.Message)
			}
		})
	}

	det, err := svc.DetectErrors(ctx, res.UploadID)
	if err != nil {
		return err
	}
	return printResult(struct {
		Ingest    *compliance.IngestResult    `json:"ingest"`
		Detection *compliance.DetectionResult `json:"detection"`
	}{res, det}, detectionTable(det))
}

func detectionTable(res *compliance.DetectionResult) func(w *tabwriter.Writer) {
	return func(w *tabwriter.Writer) {
		fmt.Fprintf(w, "FINDING\tINVOICE\tTYPE\tSEVERITY\tPENALTY\tFIXABLE\tSTATUS\n")
		for _, f := range res.Findings {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\t%s\n",
				f.ID, f.InvoiceID, f.Type, f.Severity, f.PenaltyRisk.StringFixed(2), f.AutoFixable, f.Status)
		}
		for _, h := range res.Health {
			fmt.Fprintf(w, "\nHealth %s: %d/100\t\t\t\t\t\t\n", h.CompanyID, h.Score)
		}
	}
}
