package vatcheck

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/rezonia/vat-compliance/internal/compliance"
	"github.com/rezonia/vat-compliance/internal/config"
	"github.com/rezonia/vat-compliance/internal/model"
	"github.com/rezonia/vat-compliance/internal/store"
)

// Options configures a Checker
type Options struct {
	// Enhanced turns on the heuristic free-text pass
	Enhanced bool

	// LLM advisor for the heuristic pass; ignored unless Enhanced is set
	LLMAPIKey  string
	LLMBaseURL string
	LLMModel   string
}

// DefaultOptions returns deterministic detection only
func DefaultOptions() Options {
	return Options{}
}

// Report is the outcome of checking one upload
type Report struct {
	Invoices    []Invoice                 `json:"invoices"`
	Findings    []Finding                 `json:"findings"`
	Suggestions map[string]*Diff          `json:"suggestions"`
	Rejected    []*InvoiceValidationError `json:"rejected,omitempty"`
	Health      []*Health                 `json:"health"`
}

// Checker checks invoice uploads
type Checker struct {
	options Options
}

// NewChecker creates a checker
func NewChecker(opts Options) (*Checker, error) {
	if opts.LLMAPIKey != "" && !opts.Enhanced {
		return nil, fmt.Errorf("an LLM advisor needs Enhanced detection")
	}
	return &Checker{options: opts}, nil
}

// CheckCSV imports a CSV upload into a scratch store and reports its findings
// together with a suggested correction for every auto-fixable one
func (c *Checker) CheckCSV(ctx context.Context, r io.Reader) (*Report, error) {
	db, err := store.Open(":memory:")
	if err != nil {
		return nil, err
	}
	st := store.New(db)
	defer st.Close()

	svc, err := compliance.Build(c.config(), st)
	if err != nil {
		return nil, err
	}

	ingested, err := svc.Ingest(ctx, "", r)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Suggestions: map[string]*Diff{},
		Rejected:    ingested.Errors,
	}
	if ingested.Imported == 0 {
		return report, nil
	}

	detected, err := svc.DetectErrors(ctx, ingested.UploadID)
	if err != nil {
		return nil, err
	}
	report.Findings = detected.Findings
	report.Health = detected.Health

	for _, f := range detected.Findings {
		if !f.AutoFixable {
			continue
		}
		diff, err := svc.PreviewFix(ctx, f.ID)
		var conflict *model.ConflictError
		if errors.As(err, &conflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("preview %s: %w", f.ID, err)
		}
		report.Suggestions[f.ID] = diff
	}

	invoices, err := st.Invoices.ListByUpload(ctx, ingested.UploadID)
	if err != nil {
		return nil, err
	}
	sort.Slice(invoices, func(i, j int) bool { return invoices[i].ID < invoices[j].ID })
	report.Invoices = invoices

	return report, nil
}

func (c *Checker) config() *config.Config {
	return &config.Config{
		DBPath:            ":memory:",
		BulkConcurrency:   1,
		EnhancedDetection: c.options.Enhanced,
		LLMAPIKey:         c.options.LLMAPIKey,
		LLMBaseURL:        c.options.LLMBaseURL,
		LLMModel:          c.options.LLMModel,
	}
}
