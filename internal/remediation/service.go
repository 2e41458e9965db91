// Package remediation applies, audits and reverses fixes for detected findings.
//
// Every mutation follows the same order: the invoice is changed first, then the
// finding and any other finding the change satisfies are resolved, and only
// then are the fix record and the savings ledger written. A failure up to the
// ledger is compensated so that no record claims a fix that did not land. A
// later failure is returned as a *model.IncompleteFixError.
package remediation

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/rezonia/vat-compliance/internal/logger"
	"github.com/rezonia/vat-compliance/internal/model"
	"github.com/rezonia/vat-compliance/internal/rules"
	"github.com/rezonia/vat-compliance/internal/strategy"
)

// InvoiceStore is the invoice persistence the service needs
type InvoiceStore interface {
	Get(ctx context.Context, id string) (*model.Invoice, error)
	UpdateAmounts(ctx context.Context, id string, expected, next model.Amounts, at time.Time) (bool, error)
	SetStatus(ctx context.Context, id string, status model.InvoiceStatus, at time.Time) error
	CountByCompany(ctx context.Context, companyID string) (int, error)
}

// FindingStore is the finding persistence the service needs
type FindingStore interface {
	Get(ctx context.Context, id string) (*model.Finding, error)
	Resolve(ctx context.Context, id string, at time.Time) (bool, error)
	Reopen(ctx context.Context, id string) (bool, error)
	CountOpenForInvoice(ctx context.Context, invoiceID string) (int, error)
	OpenForInvoice(ctx context.Context, invoiceID string) ([]model.Finding, error)
	OpenRisk(ctx context.Context, companyID string) (int, decimal.Decimal, error)
}

// FixStore is the fix record persistence the service needs
type FixStore interface {
	Insert(ctx context.Context, rec *model.FixRecord) error
	Get(ctx context.Context, id string) (*model.FixRecord, error)
	Supersede(ctx context.Context, invoiceID, keepID string) (int, error)
	MarkUndone(ctx context.Context, id string, at time.Time) (bool, error)
}

// LedgerStore accumulates savings per company and period
type LedgerStore interface {
	Add(ctx context.Context, companyID, period string, count int, avoided decimal.Decimal, at time.Time) error
	List(ctx context.Context, companyID string) ([]model.SavingsLedgerEntry, error)
}

// StrategyResolver maps a finding type to its fix strategy
type StrategyResolver interface {
	Resolve(t model.FindingType) (strategy.Strategy, error)
}

// Service is the remediation orchestrator
type Service struct {
	invoices    InvoiceStore
	findings    FindingStore
	fixes       FixStore
	ledger      LedgerStore
	strategies  StrategyResolver
	policy      rules.Policy
	concurrency int
	locks       *keyedMutex
	log         zerolog.Logger
	now         func() time.Time
}

// Option configures the service
type Option func(*Service)

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) {
		s.log = l
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithConcurrency lets BulkExecute work on up to n findings at once.
// Values below 2 keep bulk execution sequential.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		s.concurrency = n
	}
}

// New creates the orchestrator
func New(invoices InvoiceStore, findings FindingStore, fixes FixStore, ledger LedgerStore,
	strategies StrategyResolver, policy rules.Policy, opts ...Option) *Service {
	s := &Service{
		invoices:    invoices,
		findings:    findings,
		fixes:       fixes,
		ledger:      ledger,
		strategies:  strategies,
		policy:      policy,
		concurrency: 1,
		locks:       newKeyedMutex(),
		log:         logger.WithComponent("remediation"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ExecOption adjusts a single execution
type ExecOption func(*execOptions)

type execOptions struct {
	approved bool
}

// WithApproval confirms strategies that need an explicit human sign-off
func WithApproval() ExecOption {
	return func(o *execOptions) {
		o.approved = true
	}
}

func (s *Service) timestamp() time.Time {
	return s.now().UTC()
}
