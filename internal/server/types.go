package server

import (
	"github.com/rezonia/vat-compliance/internal/model"
)

// FindingQuery filters the findings listing
type FindingQuery struct {
	UploadID  string `form:"upload_id"`
	InvoiceID string `form:"invoice_id"`
	CompanyID string `form:"company_id"`
	Status    string `form:"status" binding:"omitempty,oneof=open resolved"`
}

// FixRequest applies one fix. Approve confirms strategies that need sign-off.
type FixRequest struct {
	ActorID string `json:"actor_id" binding:"required"`
	Approve bool   `json:"approve"`
}

// BulkFixRequest applies fixes for several findings
type BulkFixRequest struct {
	FindingIDs []string `json:"finding_ids" binding:"required,min=1,max=500,dive,required"`
	ActorID    string   `json:"actor_id" binding:"required"`
	Approve    bool     `json:"approve"`
}

// UndoRequest reverses a fix
type UndoRequest struct {
	ActorID string `json:"actor_id" binding:"required"`
}

// SubmitRequest files a period return
type SubmitRequest struct {
	CompanyID string `json:"company_id" binding:"required"`
	Country   string `json:"country" binding:"required,len=2"`
	Period    string `json:"period" binding:"required"`
	TaxID     string `json:"tax_id" binding:"required"`
}

// FindingsResponse is the response for the findings listing
type FindingsResponse struct {
	Findings []model.Finding `json:"findings"`
	Count    int             `json:"count"`
}

// SubmissionResponse carries a submission and, when filing failed, the reason
type SubmissionResponse struct {
	Submission *model.Submission `json:"submission"`
	Error      string            `json:"error,omitempty"`
	Kind       string            `json:"kind,omitempty"`
}

// ErrorResponse is the standard error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Details string `json:"details,omitempty"`
}
