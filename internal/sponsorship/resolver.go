package sponsorship

import (
	"context"
	"fmt"
)

// OneTimeReader reports whether an account has permanently consumed a
// one-time policy. Implemented by the usage manager.
type OneTimeReader interface {
	OneTimeConsumed(ctx context.Context, account, policyID string) (bool, error)
}

// Resolver picks at most one applicable policy for an operation.
type Resolver struct {
	catalog *Catalog
	oneTime OneTimeReader
}

// NewResolver creates a resolver over the catalog. oneTime may be nil, in
// which case one-time consumption is not tracked (tests only).
func NewResolver(catalog *Catalog, oneTime OneTimeReader) *Resolver {
	return &Resolver{catalog: catalog, oneTime: oneTime}
}

// Resolve returns the highest-precedence policy whose operation set covers
// operationKind and whose eligibility the account satisfies, or nil when no
// policy applies. A nil result is not an error: the payer simply bears the
// full cost.
//
// Resolution is deterministic: the catalog is fixed and policies are
// evaluated in ascending rank order, first match wins, no combination.
func (r *Resolver) Resolve(ctx context.Context, operationKind string, account AccountState) (*Policy, error) {
	for _, p := range r.catalog.ordered {
		if !p.AppliesTo(operationKind) {
			continue
		}
		if !p.Eligible(account) {
			continue
		}
		if p.OneTime && r.oneTime != nil {
			consumed, err := r.oneTime.OneTimeConsumed(ctx, account.Address, p.ID)
			if err != nil {
				return nil, fmt.Errorf("check one-time consumption for %s: %w", p.ID, err)
			}
			if consumed {
				// Never re-selected once consumed, regardless of
				// continued eligibility.
				continue
			}
		}
		return p, nil
	}
	return nil, nil
}

// Catalog returns the resolver's underlying catalog.
func (r *Resolver) Catalog() *Catalog { return r.catalog }
