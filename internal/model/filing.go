package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SubmissionStatus tracks a filing through the authority's state machine
type SubmissionStatus string

const (
	SubmissionSubmitted SubmissionStatus = "submitted"
	SubmissionAccepted  SubmissionStatus = "accepted"
	SubmissionRejected  SubmissionStatus = "rejected"
	SubmissionPending   SubmissionStatus = "pending"
	// SubmissionFailed marks a submission whose retries were exhausted without an authority answer
	SubmissionFailed SubmissionStatus = "failed"
)

// IsTerminal reports whether no further transition is possible
func (s SubmissionStatus) IsTerminal() bool {
	switch s {
	case SubmissionAccepted, SubmissionRejected, SubmissionFailed:
		return true
	}
	return false
}

// IsTerminalFailure reports whether a new submission may replace this one
func (s SubmissionStatus) IsTerminalFailure() bool {
	return s == SubmissionRejected || s == SubmissionFailed
}

// CanTransition reports whether from -> to is allowed
func (s SubmissionStatus) CanTransition(to SubmissionStatus) bool {
	switch s {
	case SubmissionSubmitted:
		return to != SubmissionSubmitted
	case SubmissionPending:
		return to == SubmissionAccepted || to == SubmissionRejected || to == SubmissionPending
	}
	return false
}

// MemberStateSupply is the per-destination breakdown used by OSS-style returns
type MemberStateSupply struct {
	Country   string          `json:"country"`
	NetAmount decimal.Decimal `json:"net_amount"`
	VATAmount decimal.Decimal `json:"vat_amount"`
}

// VATReturn is the period aggregate sent to an authority.
// StandardNet and ReducedNet split domestic sales by rate band.
type VATReturn struct {
	Country         string              `json:"country"`
	Period          string              `json:"period"`
	TaxID           string              `json:"tax_id"`
	CompanyID       string              `json:"company_id"`
	PeriodStart     time.Time           `json:"period_start"`
	PeriodEnd       time.Time           `json:"period_end"`
	SalesNet        decimal.Decimal     `json:"sales_net"`
	SalesVAT        decimal.Decimal     `json:"sales_vat"`
	StandardNet     decimal.Decimal     `json:"standard_net"`
	ReducedNet      decimal.Decimal     `json:"reduced_net"`
	ReducedVAT      decimal.Decimal     `json:"reduced_vat"`
	IntraEUNet      decimal.Decimal     `json:"intra_eu_net"`
	AcquisitionsVAT decimal.Decimal     `json:"acquisitions_vat"`
	DeductibleVAT   decimal.Decimal     `json:"deductible_vat"`
	PurchasesNet    decimal.Decimal     `json:"purchases_net"`
	MemberStates    []MemberStateSupply `json:"member_states,omitempty"`
	InvoiceCount    int                 `json:"invoice_count"`
}

// NetVATDue is output VAT plus acquisitions minus deductible input VAT
func (r *VATReturn) NetVATDue() decimal.Decimal {
	return r.SalesVAT.Add(r.AcquisitionsVAT).Sub(r.DeductibleVAT)
}

// FilingResult is the normalized authority response
type FilingResult struct {
	Status       SubmissionStatus `json:"status"`
	AuthorityRef string           `json:"authority_ref,omitempty"`
	Errors       []string         `json:"errors,omitempty"`
	Attempts     int              `json:"attempts"`
	StatusCode   int              `json:"status_code,omitempty"`
	ReceivedAt   time.Time        `json:"received_at"`
}

// Submission records an outbound filing; one per logical submission
type Submission struct {
	ID           string           `json:"id"`
	CompanyID    string           `json:"company_id"`
	Country      string           `json:"country"`
	Period       string           `json:"period"`
	TaxID        string           `json:"tax_id"`
	PayloadHash  string           `json:"payload_hash"`
	Status       SubmissionStatus `json:"status"`
	AuthorityRef string           `json:"authority_ref,omitempty"`
	Errors       []string         `json:"errors,omitempty"`
	Attempts     int              `json:"attempts"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}
