package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// StrategyName identifies a fix strategy
type StrategyName string

const (
	StrategyRecalculateVAT     StrategyName = "recalculate-vat"
	StrategyApplyReverseCharge StrategyName = "apply-reverse-charge"
	StrategyRecalculateAmounts StrategyName = "recalculate-amounts"
)

// Diff is a computed correction; nothing is applied until the orchestrator commits it
type Diff struct {
	Strategy         StrategyName    `json:"strategy"`
	Before           Amounts         `json:"before"`
	After            Amounts         `json:"after"`
	Changes          []string        `json:"changes"`
	PenaltyAvoided   decimal.Decimal `json:"penalty_avoided"`
	RequiresApproval bool            `json:"requires_approval"`
}

// FixRecord is the append-only audit entry for an applied correction.
// AlsoResolved lists other findings of the invoice that the fix satisfied.
type FixRecord struct {
	ID             string          `json:"id"`
	FindingID      string          `json:"finding_id"`
	InvoiceID      string          `json:"invoice_id"`
	CompanyID      string          `json:"company_id"`
	Strategy       StrategyName    `json:"strategy"`
	Before         Amounts         `json:"before"`
	After          Amounts         `json:"after"`
	Changes        []string        `json:"changes"`
	PenaltyAvoided decimal.Decimal `json:"penalty_avoided"`
	AlsoResolved   []string        `json:"also_resolved,omitempty"`
	ActorID        string          `json:"actor_id"`
	Undoable       bool            `json:"undoable"`
	Undone         bool            `json:"undone"`
	CreatedAt      time.Time       `json:"created_at"`
	UndoneAt       *time.Time      `json:"undone_at,omitempty"`
}

// SavingsLedgerEntry accumulates fix outcomes per company and period (YYYY-MM)
type SavingsLedgerEntry struct {
	CompanyID      string          `json:"company_id"`
	Period         string          `json:"period"`
	FixedCount     int             `json:"fixed_count"`
	PenaltyAvoided decimal.Decimal `json:"penalty_avoided"`
	ROIPercent     decimal.Decimal `json:"roi_percent"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// LedgerPeriod formats the ledger period key for t
func LedgerPeriod(t time.Time) string {
	return t.UTC().Format("2006-01")
}
