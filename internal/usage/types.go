// Package usage tracks sponsorship cap consumption per account, policy and
// period, and the permanent consumption of one-time policies.
//
// Counter flow mirrors the fee reservation model used elsewhere in the
// platform: the submission pipeline reserves sponsor budget before going to
// the network, commits the reservation on success and releases it on
// failure. Reservations are held in process memory; committed usage lives
// in the configured store.
package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThePsalmsLabs/oneseed-sponsorship/internal/sponsorship"
)

var (
	// ErrReservationNotFound is returned for unknown or expired reservation IDs.
	ErrReservationNotFound = errors.New("reservation not found")

	// ErrInvalidAmount is returned for non-positive reservation amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
)

// Reservation status values.
const (
	ReservationPending  = "pending"
	ReservationConsumed = "consumed"
	ReservationReleased = "released"
)

// Store persists committed usage counters and one-time consumption flags.
// Implementations must make AddUsage atomic per counter key.
type Store interface {
	// Usage returns the committed usage for the counter key.
	Usage(ctx context.Context, account, policyID, periodKey string) (int64, error)

	// AddUsage atomically adds amount to the counter key. ttl bounds the
	// counter's lifetime for periodic keys; zero means the counter never
	// expires (lifetime caps).
	AddUsage(ctx context.Context, account, policyID, periodKey string, amount int64, ttl time.Duration) error

	// OneTimeConsumed reports whether the account has permanently
	// consumed the one-time policy.
	OneTimeConsumed(ctx context.Context, account, policyID string) (bool, error)

	// ConsumeOneTime permanently records the account's consumption of a
	// one-time policy.
	ConsumeOneTime(ctx context.Context, account, policyID string) error

	// Prune removes counters whose period expired before the cutoff.
	// Stores with native expiry may treat this as a no-op.
	Prune(ctx context.Context, cutoff time.Time) error
}

// capWindow is one cap bucket a reservation counts against.
type capWindow struct {
	period    string // lifetime, daily, monthly
	periodKey string
	cap       int64
	ttl       time.Duration
}

// Reservation holds sponsor budget for an in-flight submission.
type Reservation struct {
	ID        string    `json:"id"`
	Account   string    `json:"account"`
	PolicyID  string    `json:"policy_id"`
	Amount    int64     `json:"amount"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`

	oneTime bool
	windows []capWindow
}

// periodKeyAt derives the counter key for a periodic cap: the integer index
// of the current window. Counters reset exactly at window rollover because
// the next window uses a fresh key.
func periodKeyAt(period string, now time.Time, reset time.Duration) (string, time.Duration) {
	seconds := int64(reset / time.Second)
	if seconds <= 0 {
		seconds = int64(sponsorship.DefaultDailyResetPeriod / time.Second)
	}
	index := now.Unix() / seconds
	remaining := time.Duration(seconds-(now.Unix()-index*seconds)) * time.Second
	return fmt.Sprintf("%s:%d", period, index), remaining
}

// windowsFor expands the policy's caps into the windows active at now.
func windowsFor(p *sponsorship.Policy, now time.Time) []capWindow {
	var windows []capWindow
	if p.Caps.Lifetime > 0 {
		windows = append(windows, capWindow{
			period:    sponsorship.PeriodLifetime,
			periodKey: sponsorship.PeriodLifetime,
			cap:       p.Caps.Lifetime,
		})
	}
	if p.Caps.Daily > 0 {
		key, ttl := periodKeyAt(sponsorship.PeriodDaily, now, p.ResetPeriod())
		windows = append(windows, capWindow{
			period:    sponsorship.PeriodDaily,
			periodKey: key,
			cap:       p.Caps.Daily,
			ttl:       ttl,
		})
	}
	if p.Caps.Monthly > 0 {
		key, ttl := periodKeyAt(sponsorship.PeriodMonthly, now, sponsorship.DefaultMonthlyResetPeriod)
		windows = append(windows, capWindow{
			period:    sponsorship.PeriodMonthly,
			periodKey: key,
			cap:       p.Caps.Monthly,
			ttl:       ttl,
		})
	}
	return windows
}
