package chain

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/ThePsalmsLabs/oneseed-sponsorship/internal/sponsorship"
)

// AccountReader fetches the on-chain account snapshot used for policy
// eligibility.
type AccountReader struct {
	client *Client
}

// NewAccountReader creates an account reader over the RPC client.
func NewAccountReader(client *Client) *AccountReader {
	return &AccountReader{client: client}
}

// AccountState queries the account's balance, staking position and age.
// Unknown accounts come back as a zero snapshot, not an error: a fresh
// wallet is a legitimate first-time-setup candidate.
func (r *AccountReader) AccountState(ctx context.Context, address string) (sponsorship.AccountState, error) {
	state := sponsorship.AccountState{Address: address}
	if address == "" {
		return state, fmt.Errorf("address required")
	}

	result, err := r.client.Call(ctx, "oneseed_getAccountState", []interface{}{address})
	if err != nil {
		return state, fmt.Errorf("query account state: %w", err)
	}

	parsed := gjson.ParseBytes(result)
	if !parsed.Exists() || parsed.Type == gjson.Null {
		return state, nil
	}

	state.Balance = parsed.Get("balance").Int()
	state.Staking = parsed.Get("staking").Int()
	state.DaysActive = int(parsed.Get("daysActive").Int())
	return state, nil
}
