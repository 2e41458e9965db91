package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rezonia/vat-compliance/internal/model"
)

var (
	fileCompany string
	fileCountry string
	filePeriod  string
	fileTaxID   string
	dryRun      bool
)

var fileCmd = &cobra.Command{
	Use:   "file",
	Short: "Submit VAT returns to tax authorities",
	Long: `Aggregate a company's invoices for a period and file the return.

Periods are monthly (2026-03) or quarterly (2026-Q1). Transport failures and
server errors are retried three times; rejections are final.

Examples:
  vat-compliance file submit --company ACME --country DE --period 2026-03 --tax-id DE123456789
  vat-compliance file submit --company ACME --country GB --period 2026-Q1 --tax-id 123456789 --dry-run
  vat-compliance file status DE <submission-id>
  vat-compliance file list ACME`,
}

var fileSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a period return",
	Args:  cobra.NoArgs,
	RunE:  runFileSubmit,
}

var fileStatusCmd = &cobra.Command{
	Use:   "status <country> <submission-id>",
	Short: "Poll the authority for a pending submission",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeStore, err := openService()
		if err != nil {
			return err
		}
		defer closeStore()

		sub, err := svc.CheckSubmissionStatus(cmd.Context(), args[0], args[1])
		if sub != nil {
			if perr := printResult(sub, submissionTable(sub)); perr != nil {
				return perr
			}
		}
		return err
	},
}

var fileListCmd = &cobra.Command{
	Use:   "list <company-id>",
	Short: "List the submissions of a company",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeStore, err := openService()
		if err != nil {
			return err
		}
		defer closeStore()

		subs, err := svc.Submissions(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printResult(subs, func(w *tabwriter.Writer) {
			fmt.Fprintf(w, "ID\tCOUNTRY\tPERIOD\tSTATUS\tREF\tATTEMPTS\tUPDATED\n")
			for _, s := range subs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
					s.ID, s.Country, s.Period, s.Status, s.AuthorityRef, s.Attempts, s.UpdatedAt.Format("2006-01-02 15:04"))
			}
		})
	},
}

func init() {
	rootCmd.AddCommand(fileCmd)
	fileCmd.AddCommand(fileSubmitCmd, fileStatusCmd, fileListCmd)

	fileSubmitCmd.Flags().StringVar(&fileCompany, "company", "", "Company ID")
	fileSubmitCmd.Flags().StringVar(&fileCountry, "country", "", "Authority country (DE, FR, GB)")
	fileSubmitCmd.Flags().StringVar(&filePeriod, "period", "", "Period (YYYY-MM or YYYY-Qn)")
	fileSubmitCmd.Flags().StringVar(&fileTaxID, "tax-id", "", "Tax ID registered with the authority")
	fileSubmitCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the payload instead of sending it")
	for _, name := range []string{"company", "country", "period", "tax-id"} {
		_ = fileSubmitCmd.MarkFlagRequired(name)
	}
}

func runFileSubmit(cmd *cobra.Command, args []string) error {
	svc, closeStore, err := openService()
	if err != nil {
		return err
	}
	defer closeStore()

	country := strings.ToUpper(fileCountry)

	if dryRun {
		ret, payload, err := svc.PrepareReturn(cmd.Context(), fileCompany, country, filePeriod, fileTaxID)
		if err != nil {
			return err
		}
		printVerbose("%d invoices, sales net %s, VAT %s\n", ret.InvoiceCount, ret.SalesNet.StringFixed(2), ret.SalesVAT.StringFixed(2))
		_, err = os.Stdout.Write(append(payload.Body, '\n'))
		return err
	}

	sub, err := svc.SubmitReturn(cmd.Context(), fileCompany, country, filePeriod, fileTaxID)
	if sub != nil {
		if perr := printResult(sub, submissionTable(sub)); perr != nil {
			return perr
		}
	}
	return err
}

func submissionTable(s *model.Submission) func(w *tabwriter.Writer) {
	return func(w *tabwriter.Writer) {
		fmt.Fprintf(w, "Submission:\t%s\n", s.ID)
		fmt.Fprintf(w, "Authority:\t%s\n", s.Country)
		fmt.Fprintf(w, "Period:\t%s\n", s.Period)
		fmt.Fprintf(w, "Status:\t%s\n", s.Status)
		fmt.Fprintf(w, "Reference:\t%s\n", s.AuthorityRef)
		fmt.Fprintf(w, "Attempts:\t%d\n", s.Attempts)
		for _, e := range s.Errors {
			fmt.Fprintf(w, "Error:\t%s\n", e)
		}
	}
}
