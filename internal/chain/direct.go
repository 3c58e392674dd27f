package chain

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/ThePsalmsLabs/oneseed-sponsorship/internal/batch"
)

// DirectChannel submits batches through the owner-signed endpoint: the
// account pays the full execution cost itself. Used standalone when no
// sponsor path is configured, and as the fallback after a sponsored
// failure.
type DirectChannel struct {
	client  *Client
	account string
	limiter *rate.Limiter
}

// DirectConfig holds direct-channel configuration.
type DirectConfig struct {
	// Account is the submitting owner account reference passed to the
	// signing endpoint.
	Account string

	RequestsPerSecond float64
	Burst             int
}

// NewDirectChannel creates the direct-signing channel.
func NewDirectChannel(client *Client, cfg DirectConfig) *DirectChannel {
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return &DirectChannel{
		client:  client,
		account: cfg.Account,
		limiter: limiter,
	}
}

// Name implements Channel.
func (c *DirectChannel) Name() string { return ChannelDirect }

// directEnvelope is the wire form of a direct submission. The same logical
// batch is re-encoded for owner signing rather than sponsor countersigning.
type directEnvelope struct {
	BatchID string                 `json:"batchId"`
	Account string                 `json:"account"`
	Calls   []batch.CallDescriptor `json:"calls"`
}

// Submit implements Channel.
func (c *DirectChannel) Submit(ctx context.Context, b *batch.AtomicBatch) (*Receipt, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("direct channel rate limit: %w", err)
		}
	}

	envelope := directEnvelope{
		BatchID: b.ID,
		Account: c.account,
		Calls:   b.Calls,
	}

	raw, err := c.client.Call(ctx, "oneseed_submitBatch", []interface{}{envelope})
	if err != nil {
		return nil, fmt.Errorf("direct submission: %w", err)
	}
	return parseReceipt(raw, ChannelDirect, b.Len())
}

var _ Channel = (*DirectChannel)(nil)
