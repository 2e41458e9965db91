package detector

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rezonia/vat-compliance/internal/metrics"
	"github.com/rezonia/vat-compliance/internal/model"
)

const advisorTimeout = 20 * time.Second

// Advisor reviews free text and returns advisory reasons
type Advisor interface {
	Review(ctx context.Context, inv *model.Invoice) ([]string, error)
}

// Pattern is a named lexical rule over invoice free text
type Pattern struct {
	Name string
	Re   *regexp.Regexp
}

// DefaultPatterns returns the built-in lexical rules
func DefaultPatterns() []Pattern {
	return []Pattern{
		{Name: "cash settlement", Re: regexp.MustCompile(`(?i)\b(paid|payment|settled|settlement)\s+(in\s+)?cash\b|\bcash\s+(payment|settlement|only)\b`)},
		{Name: "cash settlement (de)", Re: regexp.MustCompile(`(?i)\bbar\s*(bezahlt|zahlung)\b|\bbarzahlung\b`)},
		{Name: "off the books", Re: regexp.MustCompile(`(?i)\boff[\s-]the[\s-]books\b|\bunder\s+the\s+table\b`)},
		{Name: "without invoice", Re: regexp.MustCompile(`(?i)\bohne\s+rechnung\b|\bsans\s+facture\b|\bwithout\s+(an\s+)?invoice\b`)},
	}
}

// runHeuristics never fails the detection: errors and panics are logged and dropped
func (d *Detector) runHeuristics(ctx context.Context, inv *model.Invoice) (finding model.Finding, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			metrics.HeuristicFailures.WithLabelValues("panic").Inc()
			d.log.Error().
				Str("invoice_id", inv.ID).
				Interface("panic", r).
				Msg("Heuristic pass panicked, ignoring")
			finding, ok = model.Finding{}, false
		}
	}()

	reasons := d.matchPatterns(inv.Description)

	if d.advisor != nil {
		reviewCtx, cancel := context.WithTimeout(ctx, advisorTimeout)
		advice, err := d.advisor.Review(reviewCtx, inv)
		cancel()
		if err != nil {
			metrics.HeuristicFailures.WithLabelValues("llm").Inc()
			d.log.Warn().
				Err(err).
				Str("invoice_id", inv.ID).
				Msg("Advisory review failed, continuing without it")
		}
		reasons = append(reasons, advice...)
	}

	if len(reasons) == 0 {
		return model.Finding{}, false
	}

	return d.newFinding(inv, model.FindingSuspiciousPattern,
		fmt.Sprintf("advisory: %s", strings.Join(reasons, "; "))), true
}

func (d *Detector) matchPatterns(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var reasons []string
	for _, p := range d.patterns {
		if p.Re.MatchString(text) {
			reasons = append(reasons, p.Name)
		}
	}
	return reasons
}
