package usage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ThePsalmsLabs/oneseed-sponsorship/internal/sponsorship"
)

func dailyCapPolicy(cap int64) *sponsorship.Policy {
	return &sponsorship.Policy{
		ID:           "capped",
		Operations:   []string{sponsorship.OpWildcard},
		PayerShare:   0,
		SponsorShare: 100,
		Caps:         sponsorship.Caps{Daily: cap},
	}
}

func TestReserveSplitNoPolicy(t *testing.T) {
	m := NewManager(NewMemoryStore(), nil)

	split, res, err := m.ReserveSplit(context.Background(), nil, "acct1", 100)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if res != nil {
		t.Fatal("no policy should not create a reservation")
	}
	if split.PayerAmount != 100 || split.SponsorAmount != 0 {
		t.Fatalf("unexpected split: %+v", split)
	}
}

func TestReserveCommitConsumesCap(t *testing.T) {
	m := NewManager(NewMemoryStore(), nil)
	p := dailyCapPolicy(100)

	split, res, err := m.ReserveSplit(context.Background(), p, "acct1", 60)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if split.SponsorAmount != 60 || res == nil {
		t.Fatalf("expected full sponsorship and a reservation: %+v %v", split, res)
	}

	if err := m.Commit(context.Background(), res.ID); err != nil {
		t.Fatalf("commit: %v", err)
	}

	remaining, err := m.Remaining(context.Background(), p, "acct1")
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if remaining != 40 {
		t.Fatalf("expected 40 remaining after commit, got %d", remaining)
	}

	// The next split clamps to the remaining cap.
	split, res, err = m.ReserveSplit(context.Background(), p, "acct1", 60)
	if err != nil {
		t.Fatalf("second reserve: %v", err)
	}
	if split.SponsorAmount != 40 || split.PayerAmount != 20 {
		t.Fatalf("expected clamped 20/40 split, got %+v", split)
	}
	if res == nil || res.Amount != 40 {
		t.Fatalf("reservation should hold the clamped amount: %v", res)
	}
}

func TestReleaseReturnsBudget(t *testing.T) {
	m := NewManager(NewMemoryStore(), nil)
	p := dailyCapPolicy(100)

	_, res, err := m.ReserveSplit(context.Background(), p, "acct1", 100)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	m.Release(res.ID)

	remaining, err := m.Remaining(context.Background(), p, "acct1")
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if remaining != 100 {
		t.Fatalf("released reservation should restore the full cap, got %d", remaining)
	}
}

func TestPendingReservationsBlockConcurrentOversubscription(t *testing.T) {
	m := NewManager(NewMemoryStore(), nil)
	p := dailyCapPolicy(100)

	// 10 goroutines race for a 100-unit cap, 60 units each. At most one
	// can be fully sponsored; the pending reservation must make every
	// later split clamp.
	var wg sync.WaitGroup
	var mu sync.Mutex
	var totalSponsored int64

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			split, _, err := m.ReserveSplit(context.Background(), p, "acct1", 60)
			if err != nil {
				t.Errorf("reserve: %v", err)
				return
			}
			mu.Lock()
			totalSponsored += split.SponsorAmount
			mu.Unlock()
		}()
	}
	wg.Wait()

	if totalSponsored > 100 {
		t.Fatalf("reservations oversubscribed the cap: %d > 100", totalSponsored)
	}
}

func TestCommitMarksOneTimeConsumed(t *testing.T) {
	m := NewManager(NewMemoryStore(), nil)
	p := &sponsorship.Policy{
		ID:           "setup",
		Operations:   []string{sponsorship.OpInitialSetup},
		PayerShare:   0,
		SponsorShare: 100,
		OneTime:      true,
		Caps:         sponsorship.Caps{Lifetime: 1000},
	}

	_, res, err := m.ReserveSplit(context.Background(), p, "acct1", 10)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := m.Commit(context.Background(), res.ID); err != nil {
		t.Fatalf("commit: %v", err)
	}

	consumed, err := m.OneTimeConsumed(context.Background(), "acct1", "setup")
	if err != nil {
		t.Fatalf("one-time read: %v", err)
	}
	if !consumed {
		t.Fatal("commit should permanently consume one-time policies")
	}
}

func TestReleaseDoesNotConsumeOneTime(t *testing.T) {
	m := NewManager(NewMemoryStore(), nil)
	p := &sponsorship.Policy{
		ID:           "setup",
		Operations:   []string{sponsorship.OpInitialSetup},
		PayerShare:   0,
		SponsorShare: 100,
		OneTime:      true,
		Caps:         sponsorship.Caps{Lifetime: 1000},
	}

	_, res, err := m.ReserveSplit(context.Background(), p, "acct1", 10)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	m.Release(res.ID)

	consumed, err := m.OneTimeConsumed(context.Background(), "acct1", "setup")
	if err != nil {
		t.Fatalf("one-time read: %v", err)
	}
	if consumed {
		t.Fatal("a failed submission must not consume the one-time policy")
	}
}

func TestUsageResetsAtPeriodRollover(t *testing.T) {
	store := NewMemoryStore()
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return current }

	m := NewManager(store, nil).withClock(func() time.Time { return current })
	p := dailyCapPolicy(100)

	_, res, err := m.ReserveSplit(context.Background(), p, "acct1", 100)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := m.Commit(context.Background(), res.ID); err != nil {
		t.Fatalf("commit: %v", err)
	}

	remaining, err := m.Remaining(context.Background(), p, "acct1")
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("cap should be exhausted, got %d", remaining)
	}

	// Next day: the period key changes, the counter starts fresh.
	current = current.Add(24 * time.Hour)

	remaining, err = m.Remaining(context.Background(), p, "acct1")
	if err != nil {
		t.Fatalf("remaining after rollover: %v", err)
	}
	if remaining != 100 {
		t.Fatalf("cap should reset at period rollover, got %d", remaining)
	}
}

func TestRemainingUnboundedWithoutCaps(t *testing.T) {
	m := NewManager(NewMemoryStore(), nil)
	p := &sponsorship.Policy{
		ID:           "uncapped",
		Operations:   []string{sponsorship.OpWildcard},
		PayerShare:   50,
		SponsorShare: 50,
	}

	remaining, err := m.Remaining(context.Background(), p, "acct1")
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if remaining != sponsorship.UnboundedCap {
		t.Fatalf("expected unbounded, got %d", remaining)
	}
}
