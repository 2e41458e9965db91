package filing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rezonia/vat-compliance/internal/logger"
	"github.com/rezonia/vat-compliance/internal/metrics"
	"github.com/rezonia/vat-compliance/internal/model"
	"github.com/rezonia/vat-compliance/internal/rules"
)

// InvoiceLister loads the invoices of a filing period
type InvoiceLister interface {
	ListForPeriod(ctx context.Context, companyID string, from, to time.Time) ([]model.Invoice, error)
}

// SubmissionStore persists submissions
type SubmissionStore interface {
	Insert(ctx context.Context, s *model.Submission) error
	Update(ctx context.Context, s *model.Submission) error
	Get(ctx context.Context, id string) (*model.Submission, error)
	Latest(ctx context.Context, country, period, taxID, payloadHash string) (*model.Submission, error)
}

// SubmitRequest names one logical submission
type SubmitRequest struct {
	CompanyID string
	Country   string
	Period    string
	TaxID     string
}

// Gateway routes returns to the right authority and owns the submission lifecycle
type Gateway struct {
	registry    *Registry
	catalog     *rules.Catalog
	invoices    InvoiceLister
	submissions SubmissionStore
	log         zerolog.Logger
	now         func() time.Time

	// guards the lookup-then-insert of a submission
	mu sync.Mutex
}

// GatewayOption configures the gateway
type GatewayOption func(*Gateway)

// WithGatewayLogger sets the logger
func WithGatewayLogger(l zerolog.Logger) GatewayOption {
	return func(g *Gateway) {
		g.log = l
	}
}

// WithGatewayClock overrides the time source
func WithGatewayClock(now func() time.Time) GatewayOption {
	return func(g *Gateway) {
		g.now = now
	}
}

// NewGateway creates a gateway
func NewGateway(registry *Registry, catalog *rules.Catalog, invoices InvoiceLister, submissions SubmissionStore, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		registry:    registry,
		catalog:     catalog,
		invoices:    invoices,
		submissions: submissions,
		log:         logger.WithComponent("filing"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Countries lists the countries with a registered adapter
func (g *Gateway) Countries() []string {
	return g.registry.Countries()
}

// Prepare aggregates the period return and renders its payload without sending it
func (g *Gateway) Prepare(ctx context.Context, req SubmitRequest) (*model.VATReturn, *Payload, error) {
	adapter, err := g.registry.Get(req.Country)
	if err != nil {
		return nil, nil, err
	}

	period, err := ParsePeriod(req.Period)
	if err != nil {
		return nil, nil, model.NewInvoiceValidationError(0, "period", req.Period, err.Error())
	}

	invoices, err := g.invoices.ListForPeriod(ctx, req.CompanyID, period.Start, period.End)
	if err != nil {
		return nil, nil, fmt.Errorf("load invoices for %s: %w", period, err)
	}

	ret := Aggregate(g.catalog, req.CompanyID, adapter.Country(), req.TaxID, period, invoices)
	payload, err := adapter.GeneratePayload(ret)
	if err != nil {
		return nil, nil, fmt.Errorf("generate %s payload: %w", adapter.Country(), err)
	}
	return ret, payload, nil
}

// Submit files the period return.
//
// An identical payload that was already submitted and has not failed returns
// the existing submission without calling the authority again. Retries inside
// one call reuse the same submission. On rejection or exhausted retries the
// stored submission is returned together with the error.
func (g *Gateway) Submit(ctx context.Context, req SubmitRequest) (*model.Submission, error) {
	adapter, err := g.registry.Get(req.Country)
	if err != nil {
		return nil, err
	}

	ret, payload, err := g.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	sub, created, err := g.claim(ctx, adapter.Country(), ret, payloadHash(payload))
	if err != nil {
		return nil, err
	}
	if !created {
		g.log.Info().
			Str("submission_id", sub.ID).
			Str("status", string(sub.Status)).
			Msg("Identical return already submitted, reusing submission")
		return sub, nil
	}

	res, sendErr := adapter.Submit(ctx, ret)
	sub.UpdatedAt = g.now().UTC()

	if sendErr != nil {
		sub.Status = model.SubmissionFailed
		sub.Errors = []string{sendErr.Error()}
		var te *model.TransientError
		if errors.As(sendErr, &te) {
			sub.Attempts = te.Attempts
		}
		g.save(ctx, sub)
		g.log.Error().Err(sendErr).Str("submission_id", sub.ID).Msg("Filing failed")
		return sub, sendErr
	}

	sub.Attempts = res.Attempts
	sub.AuthorityRef = res.AuthorityRef
	sub.Errors = res.Errors
	if res.Status != sub.Status && sub.Status.CanTransition(res.Status) {
		sub.Status = res.Status
	}
	g.save(ctx, sub)

	g.log.Info().
		Str("submission_id", sub.ID).
		Str("country", sub.Country).
		Str("period", sub.Period).
		Str("status", string(sub.Status)).
		Int("attempts", sub.Attempts).
		Msg("Return filed")

	if sub.Status == model.SubmissionRejected {
		return sub, model.NewFilingValidationError(sub.Country, res.StatusCode, sub.Errors)
	}
	return sub, nil
}

// CheckStatus refreshes a non-terminal submission from the authority
func (g *Gateway) CheckStatus(ctx context.Context, country, submissionID string) (*model.Submission, error) {
	sub, err := g.submissions.Get(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(sub.Country, country) {
		return nil, model.NewNotFoundError("submission", submissionID)
	}
	if sub.Status.IsTerminal() {
		return sub, nil
	}

	adapter, err := g.registry.Get(sub.Country)
	if err != nil {
		return nil, err
	}

	res, err := adapter.CheckStatus(ctx, StatusRef{
		AuthorityRef: sub.AuthorityRef,
		TaxID:        sub.TaxID,
		Period:       sub.Period,
	})
	if err != nil {
		return sub, err
	}

	if res.Status == sub.Status {
		return sub, nil
	}
	if !sub.Status.CanTransition(res.Status) {
		g.log.Warn().
			Str("submission_id", sub.ID).
			Str("from", string(sub.Status)).
			Str("to", string(res.Status)).
			Msg("Ignoring illegal status transition from authority")
		return sub, nil
	}

	sub.Status = res.Status
	if res.AuthorityRef != "" {
		sub.AuthorityRef = res.AuthorityRef
	}
	if len(res.Errors) > 0 {
		sub.Errors = res.Errors
	}
	sub.UpdatedAt = g.now().UTC()
	if err := g.submissions.Update(ctx, sub); err != nil {
		return nil, fmt.Errorf("update submission %s: %w", sub.ID, err)
	}
	metrics.Submissions.WithLabelValues(sub.Country, string(sub.Status)).Inc()
	return sub, nil
}

// claim returns the live submission for this payload, or inserts a new one
func (g *Gateway) claim(ctx context.Context, country string, ret *model.VATReturn, hash string) (*model.Submission, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	existing, err := g.submissions.Latest(ctx, country, ret.Period, ret.TaxID, hash)
	if err != nil {
		return nil, false, fmt.Errorf("lookup submission: %w", err)
	}
	if existing != nil && !existing.Status.IsTerminalFailure() {
		return existing, false, nil
	}

	at := g.now().UTC()
	sub := &model.Submission{
		ID:          uuid.NewString(),
		CompanyID:   ret.CompanyID,
		Country:     country,
		Period:      ret.Period,
		TaxID:       ret.TaxID,
		PayloadHash: hash,
		Status:      model.SubmissionSubmitted,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
	if err := g.submissions.Insert(ctx, sub); err != nil {
		return nil, false, fmt.Errorf("create submission: %w", err)
	}
	return sub, true, nil
}

func (g *Gateway) save(ctx context.Context, sub *model.Submission) {
	// the authority call already happened, so a cancelled request must not
	// lose its outcome
	if err := g.submissions.Update(context.WithoutCancel(ctx), sub); err != nil {
		g.log.Error().Err(err).Str("submission_id", sub.ID).Msg("Failed to store submission outcome")
	}
	metrics.Submissions.WithLabelValues(sub.Country, string(sub.Status)).Inc()
}

func payloadHash(p *Payload) string {
	sum := sha256.Sum256(p.Body)
	return hex.EncodeToString(sum[:])
}
