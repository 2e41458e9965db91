package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// FindingType tags a detected compliance issue. The set is closed.
type FindingType string

const (
	FindingWrongRate           FindingType = "wrong-rate"
	FindingMissingVATID        FindingType = "missing-vat-id"
	FindingMissingInvoiceDate  FindingType = "missing-invoice-date"
	FindingCalculationMismatch FindingType = "calculation-mismatch"
	FindingCrossBorderB2B      FindingType = "cross-border-b2b"
	FindingSuspiciousPattern   FindingType = "suspicious-pattern"
)

// AllFindingTypes lists every finding type in a stable order
func AllFindingTypes() []FindingType {
	return []FindingType{
		FindingWrongRate,
		FindingMissingVATID,
		FindingMissingInvoiceDate,
		FindingCalculationMismatch,
		FindingCrossBorderB2B,
		FindingSuspiciousPattern,
	}
}

// Valid reports whether t is a member of the closed enumeration
func (t FindingType) Valid() bool {
	for _, known := range AllFindingTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// Severity ranks findings
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// FindingStatus is open until a fix resolves it
type FindingStatus string

const (
	FindingOpen     FindingStatus = "open"
	FindingResolved FindingStatus = "resolved"
)

// Finding is a compliance issue detected on one invoice
type Finding struct {
	ID          string          `json:"id"`
	InvoiceID   string          `json:"invoice_id"`
	UploadID    string          `json:"upload_id"`
	CompanyID   string          `json:"company_id"`
	Type        FindingType     `json:"type"`
	Severity    Severity        `json:"severity"`
	PenaltyRisk decimal.Decimal `json:"penalty_risk"`
	AutoFixable bool            `json:"auto_fixable"`
	Status      FindingStatus   `json:"status"`
	Message     string          `json:"message"`
	DetectedAt  time.Time       `json:"detected_at"`
	ResolvedAt  *time.Time      `json:"resolved_at,omitempty"`
}

// IsOpen reports whether the finding still needs attention
func (f *Finding) IsOpen() bool {
	return f.Status == FindingOpen
}
