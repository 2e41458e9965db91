package strategy

import (
	"fmt"

	"github.com/rezonia/vat-compliance/internal/model"
	"github.com/rezonia/vat-compliance/internal/rules"
)

// Strategy computes a deterministic correction for one finding type
type Strategy interface {
	// Name identifies the strategy in fix records
	Name() model.StrategyName

	// Compute returns the before/after diff without touching any state
	Compute(inv *model.Invoice, finding *model.Finding) (*model.Diff, error)
}

// Registry maps every finding type either to a strategy or to manual handling
type Registry struct {
	strategies map[model.FindingType]Strategy
	manual     map[model.FindingType]bool
}

// NewRegistry creates the registry with the built-in strategies
func NewRegistry(catalog *rules.Catalog) (*Registry, error) {
	return NewRegistryWith(
		map[model.FindingType]Strategy{
			model.FindingWrongRate:           NewRecalculateVAT(catalog),
			model.FindingCrossBorderB2B:      NewApplyReverseCharge(),
			model.FindingCalculationMismatch: NewRecalculateAmounts(),
		},
		[]model.FindingType{
			model.FindingMissingVATID,
			model.FindingMissingInvoiceDate,
			model.FindingSuspiciousPattern,
		},
	)
}

// NewRegistryWith builds a registry from explicit bindings. Every finding type
// must appear exactly once, either bound or listed as manual.
func NewRegistryWith(bindings map[model.FindingType]Strategy, manual []model.FindingType) (*Registry, error) {
	r := &Registry{
		strategies: make(map[model.FindingType]Strategy, len(bindings)),
		manual:     make(map[model.FindingType]bool, len(manual)),
	}

	for t, s := range bindings {
		if !t.Valid() {
			return nil, fmt.Errorf("strategy registry: unknown finding type %q", t)
		}
		if s == nil {
			return nil, fmt.Errorf("strategy registry: nil strategy for %q", t)
		}
		r.strategies[t] = s
	}

	for _, t := range manual {
		if !t.Valid() {
			return nil, fmt.Errorf("strategy registry: unknown finding type %q", t)
		}
		if _, bound := r.strategies[t]; bound {
			return nil, fmt.Errorf("strategy registry: %q is both bound and manual", t)
		}
		r.manual[t] = true
	}

	for _, t := range model.AllFindingTypes() {
		if _, bound := r.strategies[t]; !bound && !r.manual[t] {
			return nil, fmt.Errorf("strategy registry: finding type %q is not mapped", t)
		}
	}

	return r, nil
}

// Resolve returns the strategy for t or a *model.NoStrategyError
func (r *Registry) Resolve(t model.FindingType) (Strategy, error) {
	if s, ok := r.strategies[t]; ok {
		return s, nil
	}
	return nil, model.NewNoStrategyError(t)
}

// CanAutoFix reports whether t has a registered strategy
func (r *Registry) CanAutoFix(t model.FindingType) bool {
	_, ok := r.strategies[t]
	return ok
}

// ManualTypes returns finding types that require manual review
func (r *Registry) ManualTypes() []model.FindingType {
	out := make([]model.FindingType, 0, len(r.manual))
	for _, t := range model.AllFindingTypes() {
		if r.manual[t] {
			out = append(out, t)
		}
	}
	return out
}
