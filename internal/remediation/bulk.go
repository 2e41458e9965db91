package remediation

import (
	"context"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/rezonia/vat-compliance/internal/model"
)

// BulkOutcome is the per-finding result of a bulk run
type BulkOutcome struct {
	FindingID      string          `json:"finding_id"`
	Success        bool            `json:"success"`
	FixID          string          `json:"fix_id,omitempty"`
	PenaltyAvoided decimal.Decimal `json:"penalty_avoided"`
	ErrorKind      string          `json:"error_kind,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// BulkResult summarizes a bulk run. TotalSavings only counts successes.
type BulkResult struct {
	Outcomes     []BulkOutcome   `json:"outcomes"`
	Succeeded    int             `json:"succeeded"`
	Failed       int             `json:"failed"`
	TotalSavings decimal.Decimal `json:"total_savings"`
}

// BulkExecute applies fixes for every finding independently. One failure
// never aborts the others; outcomes keep the order of findingIDs.
func (s *Service) BulkExecute(ctx context.Context, findingIDs []string, actorID string, opts ...ExecOption) *BulkResult {
	outcomes := make([]BulkOutcome, len(findingIDs))

	run := func(i int) {
		outcomes[i] = s.executeOne(ctx, findingIDs[i], actorID, opts)
	}

	if s.concurrency > 1 && len(findingIDs) > 1 {
		var g errgroup.Group
		g.SetLimit(s.concurrency)
		for i := range findingIDs {
			g.Go(func() error {
				run(i)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i := range findingIDs {
			run(i)
		}
	}

	result := &BulkResult{Outcomes: outcomes, TotalSavings: decimal.Zero}
	for _, o := range outcomes {
		if o.Success {
			result.Succeeded++
			result.TotalSavings = result.TotalSavings.Add(o.PenaltyAvoided)
		} else {
			result.Failed++
		}
	}

	s.log.Info().
		Int("requested", len(findingIDs)).
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Str("total_savings", result.TotalSavings.StringFixed(2)).
		Msg("Bulk fix finished")

	return result
}

func (s *Service) executeOne(ctx context.Context, findingID, actorID string, opts []ExecOption) BulkOutcome {
	out := BulkOutcome{FindingID: findingID, PenaltyAvoided: decimal.Zero}

	if err := ctx.Err(); err != nil {
		out.ErrorKind = model.KindInternal
		out.Error = err.Error()
		return out
	}

	rec, err := s.Execute(ctx, findingID, actorID, opts...)
	if err != nil {
		out.ErrorKind = model.Kind(err)
		out.Error = err.Error()
		return out
	}

	out.Success = true
	out.FixID = rec.ID
	out.PenaltyAvoided = rec.PenaltyAvoided
	return out
}
