// Package submit orchestrates atomic batch submission: sponsor-backed
// channel first, direct channel as fallback, one unified result.
package submit

import (
	"errors"

	"github.com/ThePsalmsLabs/oneseed-sponsorship/internal/batch"
	"github.com/ThePsalmsLabs/oneseed-sponsorship/internal/chain"
	"github.com/ThePsalmsLabs/oneseed-sponsorship/internal/sponsorship"
)

// Submission states. The orchestrator is an explicit state machine so the
// fallback rules stay independently testable:
//
//	INIT -> TRY_SPONSORED -> {SUCCESS, FALLBACK_DIRECT} -> TRY_DIRECT -> {SUCCESS, FAILED}
type State string

const (
	StateInit           State = "INIT"
	StateTrySponsored   State = "TRY_SPONSORED"
	StateFallbackDirect State = "FALLBACK_DIRECT"
	StateTryDirect      State = "TRY_DIRECT"
	StateSuccess        State = "SUCCESS"
	StateFailed         State = "FAILED"
)

// Result statuses.
const (
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

var (
	// ErrNilBatch is returned when submitting without a batch.
	ErrNilBatch = errors.New("batch required")
)

// Request is one submission: the account's state snapshot, the operation
// kind used for policy accounting, the composed batch and its estimated
// total execution cost.
type Request struct {
	Account       sponsorship.AccountState `json:"account"`
	OperationKind string                   `json:"operation_kind"`
	Batch         *batch.AtomicBatch       `json:"batch"`
	TotalCost     int64                    `json:"total_cost"`
}

// Result is the unified outcome of one submission.
type Result struct {
	Status     string                   `json:"status"`
	Channel    string                   `json:"channel,omitempty"`
	TxHash     string                   `json:"tx_hash,omitempty"`
	Policy     string                   `json:"policy,omitempty"`
	Cost       sponsorship.Split        `json:"cost"`
	Operations []chain.OperationOutcome `json:"operations,omitempty"`

	// SponsoredCause and DirectCause are populated only on FAILED, when
	// both channels were attempted and both failed. A direct-channel
	// success swallows the earlier sponsored failure.
	SponsoredCause string `json:"sponsored_cause,omitempty"`
	DirectCause    string `json:"direct_cause,omitempty"`
}
