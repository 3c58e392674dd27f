package submit

import (
	"context"
	"fmt"
	"time"

	"github.com/ThePsalmsLabs/oneseed-sponsorship/internal/chain"
	"github.com/ThePsalmsLabs/oneseed-sponsorship/internal/logging"
	"github.com/ThePsalmsLabs/oneseed-sponsorship/internal/metrics"
	"github.com/ThePsalmsLabs/oneseed-sponsorship/internal/sponsorship"
	"github.com/ThePsalmsLabs/oneseed-sponsorship/internal/usage"
)

// Orchestrator drives batch submissions through the sponsored channel with
// direct-channel fallback, and keeps cap accounting consistent with the
// outcome.
type Orchestrator struct {
	resolver  *sponsorship.Resolver
	usage     *usage.Manager
	sponsored chain.Channel // nil when no sponsor path is configured
	direct    chain.Channel
	logger    *logging.Logger
}

// Config holds orchestrator dependencies.
type Config struct {
	Resolver  *sponsorship.Resolver
	Usage     *usage.Manager
	Sponsored chain.Channel
	Direct    chain.Channel
	Logger    *logging.Logger
}

// New creates an orchestrator. The direct channel is mandatory; the
// sponsored channel is optional.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("resolver required")
	}
	if cfg.Usage == nil {
		return nil, fmt.Errorf("usage manager required")
	}
	if cfg.Direct == nil {
		return nil, fmt.Errorf("direct channel required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.New("submit")
	}
	return &Orchestrator{
		resolver:  cfg.Resolver,
		usage:     cfg.Usage,
		sponsored: cfg.Sponsored,
		direct:    cfg.Direct,
		logger:    logger,
	}, nil
}

// Submit runs one batch through the state machine and returns the unified
// result. The returned error is reserved for local failures (bad request,
// accounting store unavailable); channel failures are reported inside the
// Result.
//
// Cancellation is honored only before the first network attempt. Once a
// channel call is in flight its side effect may already be irreversible,
// so the submission always resolves and reports.
func (o *Orchestrator) Submit(ctx context.Context, req *Request) (*Result, error) {
	if req == nil || req.Batch == nil || req.Batch.Len() == 0 {
		return nil, ErrNilBatch
	}
	if req.TotalCost < 0 {
		return nil, sponsorship.ErrNegativeCost
	}

	policy, err := o.resolver.Resolve(ctx, req.OperationKind, req.Account)
	if err != nil {
		return nil, fmt.Errorf("resolve policy: %w", err)
	}

	split, reservation, err := o.usage.ReserveSplit(ctx, policy, req.Account.Address, req.TotalCost)
	if err != nil {
		return nil, fmt.Errorf("reserve sponsorship: %w", err)
	}

	// Last safe cancellation point: nothing has gone to the network yet.
	if err := ctx.Err(); err != nil {
		o.releaseReservation(reservation)
		return nil, err
	}

	// Channel calls run on a detached context so an in-flight submission
	// resolves even if the caller goes away.
	callCtx := context.WithoutCancel(ctx)

	policyID := ""
	if policy != nil {
		policyID = policy.ID
	}

	state := StateInit
	var sponsoredCause error

	if o.sponsored != nil && reservation != nil {
		state = StateTrySponsored
		o.logTransition(ctx, req, state, nil)

		start := time.Now()
		receipt, err := o.sponsored.Submit(callCtx, req.Batch)
		if err == nil {
			metrics.RecordSubmission(chain.ChannelSponsored, "success", time.Since(start))
			o.commitReservation(ctx, reservation, policyID, split.SponsorAmount)
			return o.successResult(receipt, policyID, split), nil
		}
		metrics.RecordSubmission(chain.ChannelSponsored, "failure", time.Since(start))
		metrics.RecordFallback()

		// Sponsored failure of any kind — transport error, rejection,
		// exhausted sponsor budget, timeout — falls back to direct.
		sponsoredCause = err
		state = StateFallbackDirect
		o.logTransition(ctx, req, state, err)

		// The sponsor pays nothing on the direct path; return the held
		// budget and charge the payer everything.
		o.releaseReservation(reservation)
		reservation = nil
		split = sponsorship.Split{PayerAmount: req.TotalCost}
	} else {
		// No sponsor path configured, or nothing to sponsor: the payer
		// bears the full cost through the direct channel.
		o.releaseReservation(reservation)
		reservation = nil
	}

	state = StateTryDirect
	o.logTransition(ctx, req, state, nil)

	start := time.Now()
	receipt, directErr := o.direct.Submit(callCtx, req.Batch)
	if directErr == nil {
		metrics.RecordSubmission(chain.ChannelDirect, "success", time.Since(start))
		// A direct success swallows the sponsored failure: the caller
		// sees one clean SUCCESS.
		return o.successResult(receipt, policyID, split), nil
	}
	metrics.RecordSubmission(chain.ChannelDirect, "failure", time.Since(start))

	state = StateFailed
	o.logTransition(ctx, req, state, directErr)

	result := &Result{
		Status:      StatusFailed,
		Policy:      policyID,
		Cost:        sponsorship.Split{PayerAmount: req.TotalCost},
		DirectCause: directErr.Error(),
	}
	if sponsoredCause != nil {
		result.SponsoredCause = sponsoredCause.Error()
	}
	return result, nil
}

func (o *Orchestrator) successResult(receipt *chain.Receipt, policyID string, split sponsorship.Split) *Result {
	return &Result{
		Status:     StatusSuccess,
		Channel:    receipt.Channel,
		TxHash:     receipt.TxHash,
		Policy:     policyID,
		Cost:       split,
		Operations: receipt.Operations,
	}
}

func (o *Orchestrator) commitReservation(ctx context.Context, r *usage.Reservation, policyID string, sponsorAmount int64) {
	if r == nil {
		return
	}
	if err := o.usage.Commit(ctx, r.ID); err != nil {
		// The submission already succeeded; log the accounting failure
		// rather than failing the operation.
		o.logger.Warn(ctx, "failed to commit sponsorship reservation", map[string]interface{}{
			"reservation": r.ID,
			"error":       err.Error(),
		})
		return
	}
	metrics.RecordSponsoredAmount(policyID, sponsorAmount)
}

func (o *Orchestrator) releaseReservation(r *usage.Reservation) {
	if r != nil {
		o.usage.Release(r.ID)
	}
}

func (o *Orchestrator) logTransition(ctx context.Context, req *Request, state State, cause error) {
	fields := map[string]interface{}{
		"batch":   req.Batch.ID,
		"account": req.Account.Address,
		"state":   string(state),
	}
	if cause != nil {
		fields["cause"] = cause.Error()
	}
	o.logger.Info(ctx, "submission state transition", fields)
}
