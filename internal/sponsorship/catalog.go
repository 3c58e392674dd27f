package sponsorship

import (
	"fmt"
	"sort"
)

// Catalog is the immutable, named table of sponsorship policies. It is
// built once at startup; changing policies requires a redeploy.
type Catalog struct {
	byID    map[string]*Policy
	ordered []*Policy // sorted by ascending rank
}

// NewCatalog builds a catalog from the given policies, validating every
// entry. The input slice is copied; the catalog never mutates afterwards.
func NewCatalog(policies []Policy) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]*Policy, len(policies))}
	ranks := make(map[int]string, len(policies))

	for i := range policies {
		p := policies[i]
		if p.ID == "" {
			return nil, fmt.Errorf("policy at index %d: missing id", i)
		}
		if p.PayerShare < 0 || p.SponsorShare < 0 || p.PayerShare+p.SponsorShare != 100 {
			return nil, fmt.Errorf("policy %s: %w", p.ID, ErrInvalidShares)
		}
		if len(p.Operations) == 0 {
			return nil, fmt.Errorf("policy %s: %w", p.ID, ErrNoOperations)
		}
		if _, exists := c.byID[p.ID]; exists {
			return nil, fmt.Errorf("policy %s: %w", p.ID, ErrDuplicatePolicy)
		}
		if other, exists := ranks[p.Rank]; exists {
			return nil, fmt.Errorf("policy %s: rank %d already held by %s: %w", p.ID, p.Rank, other, ErrDuplicatePolicy)
		}
		ranks[p.Rank] = p.ID

		cp := p
		c.byID[p.ID] = &cp
		c.ordered = append(c.ordered, &cp)
	}

	sort.Slice(c.ordered, func(i, j int) bool {
		return c.ordered[i].Rank < c.ordered[j].Rank
	})
	return c, nil
}

// Get returns the policy with the given ID.
func (c *Catalog) Get(id string) (*Policy, bool) {
	p, ok := c.byID[id]
	return p, ok
}

// Policies returns the policies in precedence order.
func (c *Catalog) Policies() []*Policy {
	out := make([]*Policy, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// Len returns the number of policies in the catalog.
func (c *Catalog) Len() int { return len(c.ordered) }

// Default eligibility thresholds, in the chain's smallest cost unit.
const (
	DefaultPremiumBalanceThreshold   = 1000
	DefaultPremiumStakingThreshold   = 500
	DefaultLoyaltyBalanceThreshold   = 100
	DefaultLoyaltyMinDaysActive      = 30
	DefaultEmergencyBalanceThreshold = 1000
)

// Default policy IDs.
const (
	PolicyPremium    = "premium"
	PolicyLoyalty    = "loyalty"
	PolicyEmergency  = "emergency-withdrawal"
	PolicyBatch      = "batch"
	PolicyRecurring  = "recurring"
	PolicyWithdrawal = "withdrawal"
	PolicyFirstTime  = "first-time-setup"
)

// DefaultPolicies returns the built-in policy table in precedence order.
func DefaultPolicies() []Policy {
	return []Policy{
		{
			ID:           PolicyPremium,
			Rank:         1,
			Operations:   []string{OpWildcard},
			PayerShare:   0,
			SponsorShare: 100,
			MinBalance:   DefaultPremiumBalanceThreshold,
			MinStaking:   DefaultPremiumStakingThreshold,
			Caps:         Caps{Monthly: 50000},
		},
		{
			ID:            PolicyLoyalty,
			Rank:          2,
			Operations:    []string{OpRecurringSave, OpRecurringConvert, OpWithdraw},
			PayerShare:    25,
			SponsorShare:  75,
			MinBalance:    DefaultLoyaltyBalanceThreshold,
			MinDaysActive: DefaultLoyaltyMinDaysActive,
			Caps:          Caps{Daily: 1000, Monthly: 20000},
		},
		{
			ID:           PolicyEmergency,
			Rank:         3,
			Operations:   []string{OpWithdraw},
			PayerShare:   0,
			SponsorShare: 100,
			MinBalance:   DefaultEmergencyBalanceThreshold,
			Caps:         Caps{Lifetime: 5000},
		},
		{
			ID:           PolicyBatch,
			Rank:         4,
			Operations:   []string{OpBatchPrefix + "*"},
			PayerShare:   50,
			SponsorShare: 50,
			Caps:         Caps{Daily: 2000},
		},
		{
			ID:           PolicyRecurring,
			Rank:         5,
			Operations:   []string{OpRecurringSave, OpRecurringConvert},
			PayerShare:   50,
			SponsorShare: 50,
			Caps:         Caps{Daily: 500, Monthly: 10000},
		},
		{
			ID:           PolicyWithdrawal,
			Rank:         6,
			Operations:   []string{OpWithdraw},
			PayerShare:   75,
			SponsorShare: 25,
			Caps:         Caps{Daily: 300},
		},
		{
			ID:           PolicyFirstTime,
			Rank:         7,
			Operations:   []string{OpInitialSetup},
			PayerShare:   0,
			SponsorShare: 100,
			OneTime:      true,
			Caps:         Caps{Lifetime: 1000},
		},
	}
}

// DefaultCatalog builds the catalog from the built-in policy table.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultPolicies())
	if err != nil {
		// The built-in table is validated by tests; a failure here is a
		// programming error.
		panic(err)
	}
	return c
}
