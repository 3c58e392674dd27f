package batch

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Composer aggregates operation requests into atomic batches.
type Composer struct {
	encoder *Encoder
}

// NewComposer creates a composer over the encoder.
func NewComposer(encoder *Encoder) *Composer {
	if encoder == nil {
		encoder = NewEncoder()
	}
	return &Composer{encoder: encoder}
}

// Compose encodes every request, preserving input order, and returns the
// assembled batch. If any single request fails to encode, composition fails
// as a whole: no partial batch is ever returned. The underlying channel
// applies a batch as one unit, so validating everything client-side avoids
// ambiguous partial on-chain states and wasted round trips.
func (c *Composer) Compose(requests []OperationRequest) (*AtomicBatch, error) {
	if len(requests) == 0 {
		return nil, ErrEmptyBatch
	}

	calls := make([]CallDescriptor, 0, len(requests))
	for i, req := range requests {
		call, err := c.encoder.Encode(req)
		if err != nil {
			return nil, fmt.Errorf("operation %d (%s): %w", i, req.Kind, err)
		}
		calls = append(calls, call)
	}

	return &AtomicBatch{
		ID:        uuid.NewString(),
		Calls:     calls,
		CreatedAt: time.Now().UTC(),
	}, nil
}
