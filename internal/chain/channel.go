package chain

import (
	"context"
	"errors"

	"github.com/ThePsalmsLabs/oneseed-sponsorship/internal/batch"
)

// Channel names as reported in submission results.
const (
	ChannelSponsored = "sponsored"
	ChannelDirect    = "direct"
)

// ErrChannelRejected is returned when the endpoint accepted the call but
// declined to execute the batch (sponsor budget exhausted, invalid batch,
// policy refusal on the relay side).
var ErrChannelRejected = errors.New("channel rejected batch")

// OperationOutcome is the per-operation result inside a receipt.
type OperationOutcome struct {
	Index   int    `json:"index"`
	Success bool   `json:"success"`
	Detail  string `json:"detail,omitempty"`
}

// Receipt is the definitive result of one batch submission through a
// channel. The channel either applies the whole batch or none of it.
type Receipt struct {
	TxHash     string             `json:"tx_hash"`
	Channel    string             `json:"channel"`
	Operations []OperationOutcome `json:"operations"`
}

// Channel accepts an atomic batch and returns a definitive success or
// failure. Implementations must never partially apply a batch.
type Channel interface {
	// Name identifies the channel in results and logs.
	Name() string

	// Submit sends the batch and blocks until the channel resolves it.
	Submit(ctx context.Context, b *batch.AtomicBatch) (*Receipt, error)
}
