// Package vatcheck provides a public API for checking sales invoices against
// EU and UK VAT rules without running the service.
//
// A Checker works on a throwaway in-memory store: it imports a CSV upload,
// runs detection and previews a correction for every fixable finding.
//
// Example usage:
//
//	checker, err := vatcheck.NewChecker(vatcheck.DefaultOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	report, err := checker.CheckCSV(ctx, file)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(len(report.Findings), "findings")
package vatcheck

import (
	"github.com/rezonia/vat-compliance/internal/model"
	"github.com/rezonia/vat-compliance/internal/remediation"
)

// Re-export core types for public API
type (
	Invoice      = model.Invoice
	Finding      = model.Finding
	FindingType  = model.FindingType
	Severity     = model.Severity
	Diff         = model.Diff
	Amounts      = model.Amounts
	Health       = remediation.Health
	ProductType  = model.ProductType
	CustomerType = model.CustomerType
)

// Re-export finding types
const (
	FindingWrongRate           = model.FindingWrongRate
	FindingMissingVATID        = model.FindingMissingVATID
	FindingMissingInvoiceDate  = model.FindingMissingInvoiceDate
	FindingCalculationMismatch = model.FindingCalculationMismatch
	FindingCrossBorderB2B      = model.FindingCrossBorderB2B
	FindingSuspiciousPattern   = model.FindingSuspiciousPattern
)

// Re-export error types
type (
	InvoiceValidationError = model.InvoiceValidationError
	NotFoundError          = model.NotFoundError
	NoStrategyError        = model.NoStrategyError
)
