package model

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds reported to callers. Bulk outcomes and the HTTP layer key off these.
const (
	KindNotFound         = "not_found"
	KindNoStrategy       = "no_strategy"
	KindValidation       = "validation"
	KindTransient        = "transient"
	KindConflict         = "conflict"
	KindApprovalRequired = "approval_required"
	KindInternal         = "internal"
)

// NotFoundError represents a missing invoice, finding, fix record or submission
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

// NewNotFoundError creates a new not-found error
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{
		Entity: entity,
		ID:     id,
	}
}

// NoStrategyError means the finding type can only be fixed manually
type NoStrategyError struct {
	Type FindingType
}

func (e *NoStrategyError) Error() string {
	return fmt.Sprintf("no fix strategy registered for finding type %q: manual review required", e.Type)
}

// NewNoStrategyError creates a new no-strategy error
func NewNoStrategyError(t FindingType) *NoStrategyError {
	return &NoStrategyError{Type: t}
}

// ConflictError blocks an action because of the current state of an entity
type ConflictError struct {
	Entity string
	ID     string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s %q: %s", e.Entity, e.ID, e.Reason)
}

// NewConflictError creates a new conflict error
func NewConflictError(entity, id, reason string) *ConflictError {
	return &ConflictError{
		Entity: entity,
		ID:     id,
		Reason: reason,
	}
}

// ApprovalRequiredError is returned when a diff changes tax liability and the caller did not confirm it
type ApprovalRequiredError struct {
	FindingID string
	Strategy  StrategyName
}

func (e *ApprovalRequiredError) Error() string {
	return fmt.Sprintf("fix %s for finding %q requires explicit approval", e.Strategy, e.FindingID)
}

// NewApprovalRequiredError creates a new approval error
func NewApprovalRequiredError(findingID string, strategy StrategyName) *ApprovalRequiredError {
	return &ApprovalRequiredError{
		FindingID: findingID,
		Strategy:  strategy,
	}
}

// FilingValidationError is a terminal rejection by a tax authority
type FilingValidationError struct {
	Country    string
	StatusCode int
	Details    []string
}

func (e *FilingValidationError) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("[%s] filing rejected (status=%d): %s", e.Country, e.StatusCode, strings.Join(e.Details, "; "))
	}
	return fmt.Sprintf("[%s] filing rejected (status=%d)", e.Country, e.StatusCode)
}

// NewFilingValidationError creates a new filing validation error
func NewFilingValidationError(country string, statusCode int, details []string) *FilingValidationError {
	return &FilingValidationError{
		Country:    country,
		StatusCode: statusCode,
		Details:    details,
	}
}

// TransientError is a network or 5xx failure that survived every retry
type TransientError struct {
	Country    string
	Attempts   int
	StatusCode int
	Cause      error
}

func (e *TransientError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] filing failed after %d attempts (%v)", e.Country, e.Attempts, e.Cause)
	}
	return fmt.Sprintf("[%s] filing failed after %d attempts (status=%d)", e.Country, e.Attempts, e.StatusCode)
}

func (e *TransientError) Unwrap() error {
	return e.Cause
}

// NewTransientError creates a new transient error
func NewTransientError(country string, attempts, statusCode int, cause error) *TransientError {
	return &TransientError{
		Country:    country,
		Attempts:   attempts,
		StatusCode: statusCode,
		Cause:      cause,
	}
}

// IncompleteFixError reports a fix or undo whose invoice change landed but whose
// bookkeeping did not finish. FixID names the record to reconcile.
type IncompleteFixError struct {
	FixID string
	Step  string
	Err   error
}

func (e *IncompleteFixError) Error() string {
	return fmt.Sprintf("fix %q incomplete: %s: %v", e.FixID, e.Step, e.Err)
}

func (e *IncompleteFixError) Unwrap() error {
	return e.Err
}

// NewIncompleteFixError creates a new incomplete-fix error
func NewIncompleteFixError(fixID, step string, err error) *IncompleteFixError {
	return &IncompleteFixError{
		FixID: fixID,
		Step:  step,
		Err:   err,
	}
}

// InvoiceValidationError represents an upload row that failed structural validation
type InvoiceValidationError struct {
	Row     int
	Field   string
	Value   interface{}
	Message string
}

func (e *InvoiceValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("row %d: validation failed on %s: %s (value=%v)", e.Row, e.Field, e.Message, e.Value)
	}
	return fmt.Sprintf("row %d: validation failed on %s: %s", e.Row, e.Field, e.Message)
}

// NewInvoiceValidationError creates a new invoice validation error
func NewInvoiceValidationError(row int, field string, value interface{}, message string) *InvoiceValidationError {
	return &InvoiceValidationError{
		Row:     row,
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// Kind classifies err into one of the Kind constants
func Kind(err error) string {
	var (
		notFound   *NotFoundError
		noStrategy *NoStrategyError
		conflict   *ConflictError
		approval   *ApprovalRequiredError
		filing     *FilingValidationError
		invoice    *InvoiceValidationError
		transient  *TransientError
	)

	switch {
	case err == nil:
		return ""
	case errors.As(err, &notFound):
		return KindNotFound
	case errors.As(err, &noStrategy):
		return KindNoStrategy
	case errors.As(err, &conflict):
		return KindConflict
	case errors.As(err, &approval):
		return KindApprovalRequired
	case errors.As(err, &filing), errors.As(err, &invoice):
		return KindValidation
	case errors.As(err, &transient):
		return KindTransient
	default:
		return KindInternal
	}
}
