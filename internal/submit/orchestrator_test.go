package submit

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ThePsalmsLabs/oneseed-sponsorship/internal/batch"
	"github.com/ThePsalmsLabs/oneseed-sponsorship/internal/chain"
	"github.com/ThePsalmsLabs/oneseed-sponsorship/internal/sponsorship"
	"github.com/ThePsalmsLabs/oneseed-sponsorship/internal/usage"
)

type fakeChannel struct {
	name  string
	err   error
	calls int
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Submit(ctx context.Context, b *batch.AtomicBatch) (*chain.Receipt, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	outcomes := make([]chain.OperationOutcome, b.Len())
	for i := range outcomes {
		outcomes[i] = chain.OperationOutcome{Index: i, Success: true}
	}
	return &chain.Receipt{TxHash: "0x" + f.name, Channel: f.name, Operations: outcomes}, nil
}

func testBatch(t *testing.T) *batch.AtomicBatch {
	t.Helper()
	c := batch.NewComposer(nil)
	b, err := c.Compose([]batch.OperationRequest{{
		Kind:   batch.KindSave,
		Target: "0xvault",
		Params: map[string]string{"amount": "100", "token": "USDC"},
	}})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	return b
}

func premiumAccount() sponsorship.AccountState {
	return sponsorship.AccountState{Address: "acct-1", Balance: 5000, DaysActive: 90}
}

func newOrchestrator(t *testing.T, sponsored, direct chain.Channel) (*Orchestrator, *usage.Manager) {
	t.Helper()
	mgr := usage.NewManager(usage.NewMemoryStore(), nil)
	o, err := New(Config{
		Resolver:  sponsorship.NewResolver(sponsorship.DefaultCatalog(), mgr),
		Usage:     mgr,
		Sponsored: sponsored,
		Direct:    direct,
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return o, mgr
}

func TestSubmitSponsoredSuccess(t *testing.T) {
	sponsored := &fakeChannel{name: chain.ChannelSponsored}
	direct := &fakeChannel{name: chain.ChannelDirect}
	o, _ := newOrchestrator(t, sponsored, direct)

	res, err := o.Submit(context.Background(), &Request{
		Account:       premiumAccount(),
		OperationKind: sponsorship.OpSave,
		Batch:         testBatch(t),
		TotalCost:     100,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Status != StatusSuccess || res.Channel != chain.ChannelSponsored {
		t.Fatalf("got status %q channel %q, want SUCCESS on sponsored", res.Status, res.Channel)
	}
	if res.Policy != sponsorship.PolicyPremium {
		t.Fatalf("resolved policy %q, want %q", res.Policy, sponsorship.PolicyPremium)
	}
	if res.Cost.PayerAmount != 0 || res.Cost.SponsorAmount != 100 {
		t.Fatalf("premium split %+v, want 0/100", res.Cost)
	}
	if direct.calls != 0 {
		t.Fatalf("direct channel called %d times on sponsored success", direct.calls)
	}
	if res.SponsoredCause != "" || res.DirectCause != "" {
		t.Fatalf("success result carries failure causes: %+v", res)
	}
}

func TestSubmitFallbackSwallowsSponsoredError(t *testing.T) {
	sponsored := &fakeChannel{name: chain.ChannelSponsored, err: chain.ErrChannelRejected}
	direct := &fakeChannel{name: chain.ChannelDirect}
	o, mgr := newOrchestrator(t, sponsored, direct)

	acct := premiumAccount()
	res, err := o.Submit(context.Background(), &Request{
		Account:       acct,
		OperationKind: sponsorship.OpSave,
		Batch:         testBatch(t),
		TotalCost:     100,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Status != StatusSuccess {
		t.Fatalf("got status %q, want SUCCESS after fallback", res.Status)
	}
	if res.Channel != chain.ChannelDirect {
		t.Fatalf("got channel %q, want direct", res.Channel)
	}
	if res.SponsoredCause != "" {
		t.Fatalf("direct success must swallow sponsored cause, got %q", res.SponsoredCause)
	}
	if res.Cost.PayerAmount != 100 || res.Cost.SponsorAmount != 0 {
		t.Fatalf("fallback split %+v, want payer bears full cost", res.Cost)
	}

	// The released reservation must not count as committed usage.
	p, _ := sponsorship.DefaultCatalog().Get(sponsorship.PolicyPremium)
	remaining, err := mgr.Remaining(context.Background(), p, acct.Address)
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if remaining != p.Caps.Monthly {
		t.Fatalf("remaining cap %d after fallback, want untouched %d", remaining, p.Caps.Monthly)
	}
}

func TestSubmitBothChannelsFail(t *testing.T) {
	sponsoredErr := errors.New("sponsor budget exhausted")
	directErr := errors.New("insufficient funds")
	sponsored := &fakeChannel{name: chain.ChannelSponsored, err: sponsoredErr}
	direct := &fakeChannel{name: chain.ChannelDirect, err: directErr}
	o, _ := newOrchestrator(t, sponsored, direct)

	res, err := o.Submit(context.Background(), &Request{
		Account:       premiumAccount(),
		OperationKind: sponsorship.OpSave,
		Batch:         testBatch(t),
		TotalCost:     100,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Status != StatusFailed {
		t.Fatalf("got status %q, want FAILED", res.Status)
	}
	if !strings.Contains(res.SponsoredCause, "sponsor budget exhausted") {
		t.Fatalf("sponsored cause %q missing original error", res.SponsoredCause)
	}
	if !strings.Contains(res.DirectCause, "insufficient funds") {
		t.Fatalf("direct cause %q missing original error", res.DirectCause)
	}
	if res.Cost.SponsorAmount != 0 || res.Cost.PayerAmount != 100 {
		t.Fatalf("failed result cost %+v, want full payer attribution", res.Cost)
	}
}

func TestSubmitNoSponsorConfigured(t *testing.T) {
	direct := &fakeChannel{name: chain.ChannelDirect}
	o, _ := newOrchestrator(t, nil, direct)

	res, err := o.Submit(context.Background(), &Request{
		Account:       premiumAccount(),
		OperationKind: sponsorship.OpSave,
		Batch:         testBatch(t),
		TotalCost:     100,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Status != StatusSuccess || res.Channel != chain.ChannelDirect {
		t.Fatalf("got %q/%q, want direct success", res.Status, res.Channel)
	}
	if direct.calls != 1 {
		t.Fatalf("direct channel called %d times, want 1", direct.calls)
	}
}

func TestSubmitNoPolicyGoesDirect(t *testing.T) {
	sponsored := &fakeChannel{name: chain.ChannelSponsored}
	direct := &fakeChannel{name: chain.ChannelDirect}
	o, _ := newOrchestrator(t, sponsored, direct)

	// Thin account: no policy matches a plain save, so no sponsorship.
	res, err := o.Submit(context.Background(), &Request{
		Account:       sponsorship.AccountState{Address: "acct-2", Balance: 10, DaysActive: 1},
		OperationKind: sponsorship.OpSave,
		Batch:         testBatch(t),
		TotalCost:     40,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Policy != "" {
		t.Fatalf("resolved policy %q, want none", res.Policy)
	}
	if res.Channel != chain.ChannelDirect {
		t.Fatalf("got channel %q, want direct", res.Channel)
	}
	if sponsored.calls != 0 {
		t.Fatalf("sponsored channel called %d times without a policy", sponsored.calls)
	}
	if res.Cost.PayerAmount != 40 {
		t.Fatalf("unsponsored cost %+v, want full payer", res.Cost)
	}
}

func TestSubmitCommitsUsageOnSponsoredSuccess(t *testing.T) {
	sponsored := &fakeChannel{name: chain.ChannelSponsored}
	direct := &fakeChannel{name: chain.ChannelDirect}
	o, mgr := newOrchestrator(t, sponsored, direct)

	acct := premiumAccount()
	if _, err := o.Submit(context.Background(), &Request{
		Account:       acct,
		OperationKind: sponsorship.OpSave,
		Batch:         testBatch(t),
		TotalCost:     100,
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	p, _ := sponsorship.DefaultCatalog().Get(sponsorship.PolicyPremium)
	remaining, err := mgr.Remaining(context.Background(), p, acct.Address)
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if remaining != p.Caps.Monthly-100 {
		t.Fatalf("remaining cap %d, want %d after committed usage", remaining, p.Caps.Monthly-100)
	}
}

func TestSubmitOneTimeConsumedOnlyOnSuccess(t *testing.T) {
	// Restrict the catalog to the one-time first-save policy so a failed
	// sponsored attempt cannot resolve to anything else on retry.
	var firstTime sponsorship.Policy
	for _, p := range sponsorship.DefaultPolicies() {
		if p.ID == sponsorship.PolicyFirstTime {
			firstTime = p
		}
	}
	catalog, err := sponsorship.NewCatalog([]sponsorship.Policy{firstTime})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}

	mgr := usage.NewManager(usage.NewMemoryStore(), nil)
	sponsored := &fakeChannel{name: chain.ChannelSponsored, err: errors.New("relay down")}
	direct := &fakeChannel{name: chain.ChannelDirect}
	o, err := New(Config{
		Resolver:  sponsorship.NewResolver(catalog, mgr),
		Usage:     mgr,
		Sponsored: sponsored,
		Direct:    direct,
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}

	acct := sponsorship.AccountState{Address: "acct-new", Balance: 5, DaysActive: 0}
	req := func() *Request {
		return &Request{
			Account:       acct,
			OperationKind: sponsorship.OpInitialSetup,
			Batch:         testBatch(t),
			TotalCost:     50,
		}
	}

	// Sponsored attempt fails: the one-time policy must survive for retry.
	if _, err := o.Submit(context.Background(), req()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	consumed, err := mgr.OneTimeConsumed(context.Background(), acct.Address, sponsorship.PolicyFirstTime)
	if err != nil {
		t.Fatalf("one-time lookup: %v", err)
	}
	if consumed {
		t.Fatal("one-time policy consumed by a failed sponsored attempt")
	}

	// Retry with a healthy relay: now it commits and is consumed.
	sponsored.err = nil
	res, err := o.Submit(context.Background(), req())
	if err != nil {
		t.Fatalf("retry submit: %v", err)
	}
	if res.Channel != chain.ChannelSponsored {
		t.Fatalf("retry channel %q, want sponsored", res.Channel)
	}
	consumed, err = mgr.OneTimeConsumed(context.Background(), acct.Address, sponsorship.PolicyFirstTime)
	if err != nil {
		t.Fatalf("one-time lookup: %v", err)
	}
	if !consumed {
		t.Fatal("one-time policy not consumed after sponsored success")
	}

	// A third attempt resolves no policy at all.
	res, err = o.Submit(context.Background(), req())
	if err != nil {
		t.Fatalf("third submit: %v", err)
	}
	if res.Policy != "" {
		t.Fatalf("consumed one-time policy resolved again: %q", res.Policy)
	}
}

func TestSubmitValidation(t *testing.T) {
	direct := &fakeChannel{name: chain.ChannelDirect}
	o, _ := newOrchestrator(t, nil, direct)

	if _, err := o.Submit(context.Background(), nil); !errors.Is(err, ErrNilBatch) {
		t.Fatalf("nil request: got %v, want ErrNilBatch", err)
	}
	if _, err := o.Submit(context.Background(), &Request{Account: premiumAccount()}); !errors.Is(err, ErrNilBatch) {
		t.Fatalf("nil batch: got %v, want ErrNilBatch", err)
	}
	if _, err := o.Submit(context.Background(), &Request{
		Account:       premiumAccount(),
		OperationKind: sponsorship.OpSave,
		Batch:         testBatch(t),
		TotalCost:     -5,
	}); !errors.Is(err, sponsorship.ErrNegativeCost) {
		t.Fatalf("negative cost: got %v, want ErrNegativeCost", err)
	}
	if direct.calls != 0 {
		t.Fatalf("direct channel called %d times by invalid requests", direct.calls)
	}
}

func TestSubmitCanceledBeforeFirstAttempt(t *testing.T) {
	sponsored := &fakeChannel{name: chain.ChannelSponsored}
	direct := &fakeChannel{name: chain.ChannelDirect}
	o, mgr := newOrchestrator(t, sponsored, direct)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	acct := premiumAccount()
	_, err := o.Submit(ctx, &Request{
		Account:       acct,
		OperationKind: sponsorship.OpSave,
		Batch:         testBatch(t),
		TotalCost:     100,
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if sponsored.calls != 0 || direct.calls != 0 {
		t.Fatalf("channels called after cancellation: sponsored=%d direct=%d", sponsored.calls, direct.calls)
	}

	// The reservation taken before the cancellation check must be released.
	p, _ := sponsorship.DefaultCatalog().Get(sponsorship.PolicyPremium)
	remaining, rerr := mgr.Remaining(context.Background(), p, acct.Address)
	if rerr != nil {
		t.Fatalf("remaining: %v", rerr)
	}
	if remaining != p.Caps.Monthly {
		t.Fatalf("remaining cap %d after cancel, want untouched %d", remaining, p.Caps.Monthly)
	}
}

func TestSubmitInFlightSurvivesCallerCancel(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	slow := &slowChannel{name: chain.ChannelDirect, started: started, release: release}
	o, _ := newOrchestrator(t, nil, slow)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan *Result, 1)
	go func() {
		res, err := o.Submit(ctx, &Request{
			Account:       premiumAccount(),
			OperationKind: sponsorship.OpSave,
			Batch:         testBatch(t),
			TotalCost:     100,
		})
		if err != nil {
			t.Errorf("submit: %v", err)
		}
		done <- res
	}()

	<-started
	cancel()
	close(release)

	select {
	case res := <-done:
		if res == nil || res.Status != StatusSuccess {
			t.Fatalf("in-flight submission did not resolve: %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("submission did not complete")
	}
}

type slowChannel struct {
	name    string
	started chan struct{}
	release chan struct{}
}

func (s *slowChannel) Name() string { return s.name }

func (s *slowChannel) Submit(ctx context.Context, b *batch.AtomicBatch) (*chain.Receipt, error) {
	close(s.started)
	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &chain.Receipt{TxHash: "0xslow", Channel: s.name}, nil
}
