// Package sponsorship provides the gas sponsorship policy engine.
//
// This is NOT a service but core infrastructure used by the submission
// pipeline for cost accounting. A static catalog of policies is built once
// at startup; the resolver picks at most one policy for an operation given
// the account's state, and the calculator splits the execution cost between
// payer and sponsor under that policy.
package sponsorship

import (
	"errors"
	"strings"
	"time"
)

// Operation kinds understood by the policy engine. The batch encoder owns
// the full request validation; the resolver only matches on the kind tag.
const (
	OpSave             = "save"
	OpWithdraw         = "withdraw"
	OpConvert          = "convert"
	OpRecurringSave    = "recurring-save"
	OpRecurringConvert = "recurring-convert"
	OpInitialSetup     = "initial-setup"

	// OpBatchPrefix marks kinds that represent pre-aggregated batch
	// operations, e.g. "batch-save".
	OpBatchPrefix = "batch-"

	// OpWildcard matches every operation kind.
	OpWildcard = "*"
)

// Cap period identifiers. Lifetime caps never reset; daily and monthly
// caps reset at their period boundary.
const (
	PeriodLifetime = "lifetime"
	PeriodDaily    = "daily"
	PeriodMonthly  = "monthly"
)

// Default reset periods for periodic caps.
const (
	DefaultDailyResetPeriod   = 24 * time.Hour
	DefaultMonthlyResetPeriod = 30 * 24 * time.Hour
)

var (
	// ErrInvalidShares is returned when payer and sponsor shares do not sum to 100.
	ErrInvalidShares = errors.New("payer and sponsor shares must sum to 100")

	// ErrDuplicatePolicy is returned when two catalog policies share an ID or rank.
	ErrDuplicatePolicy = errors.New("duplicate policy id or rank")

	// ErrNoOperations is returned when a policy has an empty eligible-operation set.
	ErrNoOperations = errors.New("policy has no eligible operations")

	// ErrNegativeCost is returned for negative total costs.
	ErrNegativeCost = errors.New("total cost must not be negative")
)

// Caps bounds the sponsorable amount for an account under a policy.
// A zero value means the cap is absent (unbounded).
type Caps struct {
	Lifetime int64 `yaml:"lifetime" json:"lifetime,omitempty"`
	Daily    int64 `yaml:"daily" json:"daily,omitempty"`
	Monthly  int64 `yaml:"monthly" json:"monthly,omitempty"`
}

// Policy describes one sponsorship policy.
type Policy struct {
	// ID names the policy in the catalog.
	ID string `yaml:"id" json:"id"`

	// Rank is the fixed precedence position; lower ranks are evaluated
	// first and the first eligible policy wins.
	Rank int `yaml:"rank" json:"rank"`

	// Operations lists eligible operation kinds. "*" matches everything,
	// a trailing "batch-*" entry matches batch-prefixed kinds.
	Operations []string `yaml:"operations" json:"operations"`

	// PayerShare and SponsorShare are integer percentages of the total
	// cost and must sum to 100.
	PayerShare   int `yaml:"payer_share" json:"payer_share"`
	SponsorShare int `yaml:"sponsor_share" json:"sponsor_share"`

	// Eligibility. MinBalance and MinStaking are alternatives: when both
	// are set, satisfying either one is enough. MinDaysActive is an
	// additional requirement when set.
	MinBalance    int64 `yaml:"min_balance" json:"min_balance,omitempty"`
	MinStaking    int64 `yaml:"min_staking" json:"min_staking,omitempty"`
	MinDaysActive int   `yaml:"min_days_active" json:"min_days_active,omitempty"`

	// OneTime policies are consumed permanently by the first successful
	// submission and never resolve again for that account.
	OneTime bool `yaml:"one_time" json:"one_time,omitempty"`

	// ResetPeriodSeconds overrides the daily cap's reset period. Zero
	// selects the default (24h).
	ResetPeriodSeconds int64 `yaml:"reset_period_seconds" json:"reset_period_seconds,omitempty"`

	Caps Caps `yaml:"caps" json:"caps"`
}

// AppliesTo reports whether the policy's operation set covers kind.
func (p *Policy) AppliesTo(kind string) bool {
	for _, op := range p.Operations {
		switch {
		case op == OpWildcard:
			return true
		case strings.HasSuffix(op, "*"):
			if strings.HasPrefix(kind, strings.TrimSuffix(op, "*")) {
				return true
			}
		case op == kind:
			return true
		}
	}
	return false
}

// Eligible reports whether the account satisfies the policy's requirements.
// One-time consumption is checked separately by the resolver.
func (p *Policy) Eligible(account AccountState) bool {
	if p.MinBalance > 0 || p.MinStaking > 0 {
		balanceOK := p.MinBalance > 0 && account.Balance >= p.MinBalance
		stakingOK := p.MinStaking > 0 && account.Staking >= p.MinStaking
		if !balanceOK && !stakingOK {
			return false
		}
	}
	if p.MinDaysActive > 0 && account.DaysActive < p.MinDaysActive {
		return false
	}
	return true
}

// ResetPeriod returns the reset period for the policy's daily cap.
func (p *Policy) ResetPeriod() time.Duration {
	if p.ResetPeriodSeconds > 0 {
		return time.Duration(p.ResetPeriodSeconds) * time.Second
	}
	return DefaultDailyResetPeriod
}

// AccountState is a read-only snapshot of the account supplied by the
// external account reader. Usage counters live in the usage package.
type AccountState struct {
	Address    string `json:"address"`
	Balance    int64  `json:"balance"`
	Staking    int64  `json:"staking"`
	DaysActive int    `json:"days_active"`
}

// Split is the payer/sponsor division of a total execution cost.
type Split struct {
	PayerAmount   int64 `json:"payer_amount"`
	SponsorAmount int64 `json:"sponsor_amount"`
}
