package sponsorship

import (
	"errors"
	"testing"
)

func TestDefaultCatalogValid(t *testing.T) {
	c := DefaultCatalog()
	if c.Len() != 7 {
		t.Fatalf("expected 7 built-in policies, got %d", c.Len())
	}

	for _, p := range c.Policies() {
		if p.PayerShare+p.SponsorShare != 100 {
			t.Errorf("policy %s: shares sum to %d", p.ID, p.PayerShare+p.SponsorShare)
		}
		if len(p.Operations) == 0 {
			t.Errorf("policy %s: no operations", p.ID)
		}
	}
}

func TestCatalogPrecedenceOrder(t *testing.T) {
	c := DefaultCatalog()
	want := []string{
		PolicyPremium,
		PolicyLoyalty,
		PolicyEmergency,
		PolicyBatch,
		PolicyRecurring,
		PolicyWithdrawal,
		PolicyFirstTime,
	}
	got := c.Policies()
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, got[i].ID)
		}
	}
}

func TestNewCatalogRejectsBadShares(t *testing.T) {
	_, err := NewCatalog([]Policy{{
		ID:           "broken",
		Rank:         1,
		Operations:   []string{OpWildcard},
		PayerShare:   30,
		SponsorShare: 60,
	}})
	if !errors.Is(err, ErrInvalidShares) {
		t.Fatalf("expected ErrInvalidShares, got %v", err)
	}
}

func TestNewCatalogRejectsDuplicates(t *testing.T) {
	base := Policy{Operations: []string{OpWildcard}, PayerShare: 50, SponsorShare: 50}

	dupID := base
	dupID.ID = "a"
	dupID.Rank = 1
	other := base
	other.ID = "a"
	other.Rank = 2
	if _, err := NewCatalog([]Policy{dupID, other}); !errors.Is(err, ErrDuplicatePolicy) {
		t.Fatalf("expected ErrDuplicatePolicy for duplicate id, got %v", err)
	}

	other.ID = "b"
	other.Rank = 1
	if _, err := NewCatalog([]Policy{dupID, other}); !errors.Is(err, ErrDuplicatePolicy) {
		t.Fatalf("expected ErrDuplicatePolicy for duplicate rank, got %v", err)
	}
}

func TestPolicyAppliesTo(t *testing.T) {
	wildcard := Policy{Operations: []string{OpWildcard}}
	if !wildcard.AppliesTo("anything-at-all") {
		t.Fatal("wildcard should match any kind")
	}

	batch := Policy{Operations: []string{OpBatchPrefix + "*"}}
	if !batch.AppliesTo("batch-save") {
		t.Fatal("batch prefix should match batch-save")
	}
	if batch.AppliesTo("save") {
		t.Fatal("batch prefix should not match save")
	}

	exact := Policy{Operations: []string{OpWithdraw}}
	if !exact.AppliesTo(OpWithdraw) || exact.AppliesTo(OpSave) {
		t.Fatal("exact matching broken")
	}
}

func TestPolicyEligibilityEitherBalanceOrStaking(t *testing.T) {
	p := Policy{MinBalance: 1000, MinStaking: 500}

	if !p.Eligible(AccountState{Balance: 1500}) {
		t.Fatal("balance alone should satisfy eligibility")
	}
	if !p.Eligible(AccountState{Staking: 600}) {
		t.Fatal("staking alone should satisfy eligibility")
	}
	if p.Eligible(AccountState{Balance: 999, Staking: 499}) {
		t.Fatal("neither threshold met, should be ineligible")
	}
}

func TestPolicyEligibilityDaysActive(t *testing.T) {
	p := Policy{MinBalance: 100, MinDaysActive: 30}

	if p.Eligible(AccountState{Balance: 200, DaysActive: 10}) {
		t.Fatal("days-active requirement should be conjunctive")
	}
	if !p.Eligible(AccountState{Balance: 200, DaysActive: 31}) {
		t.Fatal("both requirements met, should be eligible")
	}
}
