package sponsorship

// UnboundedCap marks a remaining cap that imposes no limit.
const UnboundedCap int64 = -1

// SplitCost divides totalCost between payer and sponsor under the policy.
//
// Integer arithmetic only: payer = floor(totalCost * payerShare / 100) and
// the sponsor absorbs the rounding remainder, so PayerAmount+SponsorAmount
// always equals totalCost exactly.
//
// remainingCap is the amount the sponsor may still cover for the account in
// the current period (UnboundedCap for no limit). When the computed sponsor
// amount exceeds it, the sponsor amount is clamped to the cap and the
// shortfall moves to the payer.
func SplitCost(policy *Policy, totalCost int64, remainingCap int64) (Split, error) {
	if totalCost < 0 {
		return Split{}, ErrNegativeCost
	}
	if policy == nil {
		return Split{PayerAmount: totalCost}, nil
	}

	var split Split
	switch {
	case policy.PayerShare == 0:
		split = Split{PayerAmount: 0, SponsorAmount: totalCost}
	case policy.SponsorShare == 0:
		split = Split{PayerAmount: totalCost, SponsorAmount: 0}
	default:
		payer := totalCost * int64(policy.PayerShare) / 100
		split = Split{PayerAmount: payer, SponsorAmount: totalCost - payer}
	}

	if remainingCap != UnboundedCap && split.SponsorAmount > remainingCap {
		shortfall := split.SponsorAmount - remainingCap
		split.SponsorAmount = remainingCap
		split.PayerAmount += shortfall
	}
	return split, nil
}
