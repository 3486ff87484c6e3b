package billing

import "github.com/pairlingo/entitlements/internal/domain/entitlement"

// PlanRef is the plan/period pair a product or price identifier
// resolves to.
type PlanRef struct {
	Plan   entitlement.Plan
	Period entitlement.Period
}

// ProductTable is the static product/price identifier lookup for one
// provider, loaded from configuration.
type ProductTable map[string]PlanRef

// Resolve maps an identifier to its plan/period. An unresolvable
// identifier yields the unknown sentinel rather than an error: the event
// must still be claimed and acknowledged.
func (t ProductTable) Resolve(id string) PlanRef {
	if ref, ok := t[id]; ok {
		return ref
	}
	return PlanRef{Plan: entitlement.PlanUnknown, Period: entitlement.PeriodUnknown}
}
