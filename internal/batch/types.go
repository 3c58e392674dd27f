// Package batch turns logical operation requests into executable call
// descriptors and aggregates them into atomic submission units.
//
// Everything here is local: a batch that fails to encode never reaches a
// network boundary, and a partially encodable batch is never constructed.
package batch

import (
	"errors"
	"time"
)

var (
	// ErrInvalidOperationKind is returned for an unrecognized request kind.
	ErrInvalidOperationKind = errors.New("invalid operation kind")

	// ErrMissingParameter is returned when a required parameter is absent.
	ErrMissingParameter = errors.New("missing required parameter")

	// ErrMalformedParameter is returned when a parameter is present but
	// not well-formed for its kind.
	ErrMalformedParameter = errors.New("malformed parameter")

	// ErrEmptyBatch is returned when composing zero requests.
	ErrEmptyBatch = errors.New("batch must contain at least one operation")
)

// OperationRequest is one logical operation as the caller describes it.
type OperationRequest struct {
	// Kind tags the operation, e.g. "save", "withdraw", "recurring-save".
	Kind string `json:"kind"`

	// Target is the contract the operation addresses.
	Target string `json:"target"`

	// Params carries the kind-specific parameters.
	Params map[string]string `json:"params"`

	// Value is the native amount attached to the call, if any.
	Value int64 `json:"value,omitempty"`
}

// CallDescriptor is the executable form of one operation: target, encoded
// payload, and attached value.
type CallDescriptor struct {
	Target string `json:"target"`
	Data   string `json:"data"` // hex-encoded call payload
	Value  int64  `json:"value"`
}

// AtomicBatch is an ordered, non-empty list of call descriptors submitted
// as one unit. It exists only if every member operation encoded
// successfully, and is discarded after submission.
type AtomicBatch struct {
	ID        string           `json:"id"`
	Calls     []CallDescriptor `json:"calls"`
	CreatedAt time.Time        `json:"created_at"`
}

// Len returns the number of calls in the batch.
func (b *AtomicBatch) Len() int { return len(b.Calls) }
