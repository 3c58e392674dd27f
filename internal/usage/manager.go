package usage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/ThePsalmsLabs/oneseed-sponsorship/internal/logging"
	"github.com/ThePsalmsLabs/oneseed-sponsorship/internal/metrics"
	"github.com/ThePsalmsLabs/oneseed-sponsorship/internal/sponsorship"
)

// DefaultReservationTTL bounds how long a pending reservation may hold
// sponsor budget before the janitor reclaims it.
const DefaultReservationTTL = 10 * time.Minute

// Manager coordinates cap accounting. The check-remaining / reserve step is
// atomic per (account, policy, period) key: all reservations go through the
// manager mutex, so two concurrent submissions for the same account can
// never both be granted budget that only fits one.
type Manager struct {
	mu           sync.Mutex
	store        Store
	logger       *logging.Logger
	reservations map[string]*Reservation
	ttl          time.Duration
	cron         *cron.Cron
	now          func() time.Time
}

// NewManager creates a usage manager over the store.
func NewManager(store Store, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.New("usage")
	}
	return &Manager{
		store:        store,
		logger:       logger,
		reservations: make(map[string]*Reservation),
		ttl:          DefaultReservationTTL,
		now:          time.Now,
	}
}

// WithReservationTTL overrides the pending-reservation lifetime.
func (m *Manager) WithReservationTTL(ttl time.Duration) *Manager {
	if ttl > 0 {
		m.ttl = ttl
	}
	return m
}

// withClock overrides the clock for tests.
func (m *Manager) withClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// OneTimeConsumed implements sponsorship.OneTimeReader.
func (m *Manager) OneTimeConsumed(ctx context.Context, account, policyID string) (bool, error) {
	return m.store.OneTimeConsumed(ctx, account, policyID)
}

// Remaining returns the amount the sponsor may still cover for the account
// under the policy in the current period, net of pending reservations.
// Policies without caps return sponsorship.UnboundedCap.
func (m *Manager) Remaining(ctx context.Context, p *sponsorship.Policy, account string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remainingLocked(ctx, p, account)
}

func (m *Manager) remainingLocked(ctx context.Context, p *sponsorship.Policy, account string) (int64, error) {
	windows := windowsFor(p, m.now())
	if len(windows) == 0 {
		return sponsorship.UnboundedCap, nil
	}

	remaining := sponsorship.UnboundedCap
	for _, w := range windows {
		used, err := m.store.Usage(ctx, account, p.ID, w.periodKey)
		if err != nil {
			return 0, fmt.Errorf("read usage %s/%s/%s: %w", account, p.ID, w.periodKey, err)
		}
		used += m.pendingLocked(account, p.ID, w.periodKey)

		left := w.cap - used
		if left < 0 {
			left = 0
		}
		if remaining == sponsorship.UnboundedCap || left < remaining {
			remaining = left
		}
	}
	return remaining, nil
}

// pendingLocked sums pending reservations counting against the counter key.
func (m *Manager) pendingLocked(account, policyID, periodKey string) int64 {
	var total int64
	for _, r := range m.reservations {
		if r.Account != account || r.PolicyID != policyID {
			continue
		}
		for _, w := range r.windows {
			if w.periodKey == periodKey {
				total += r.Amount
				break
			}
		}
	}
	return total
}

// ReserveSplit computes the payer/sponsor split for the policy under the
// account's remaining cap and reserves the sponsor amount, all under one
// lock. A nil policy yields a full-payer split and no reservation. A zero
// sponsor amount also yields no reservation.
func (m *Manager) ReserveSplit(ctx context.Context, p *sponsorship.Policy, account string, totalCost int64) (sponsorship.Split, *Reservation, error) {
	if p == nil {
		split, err := sponsorship.SplitCost(nil, totalCost, sponsorship.UnboundedCap)
		return split, nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	remaining, err := m.remainingLocked(ctx, p, account)
	if err != nil {
		return sponsorship.Split{}, nil, err
	}

	split, err := sponsorship.SplitCost(p, totalCost, remaining)
	if err != nil {
		return sponsorship.Split{}, nil, err
	}
	if remaining != sponsorship.UnboundedCap {
		unclamped, _ := sponsorship.SplitCost(p, totalCost, sponsorship.UnboundedCap)
		if split.SponsorAmount < unclamped.SponsorAmount {
			metrics.RecordCapClamp(p.ID)
		}
	}
	if split.SponsorAmount == 0 {
		return split, nil, nil
	}

	r := &Reservation{
		ID:        uuid.NewString(),
		Account:   account,
		PolicyID:  p.ID,
		Amount:    split.SponsorAmount,
		Status:    ReservationPending,
		CreatedAt: m.now(),
		oneTime:   p.OneTime,
		windows:   windowsFor(p, m.now()),
	}
	m.reservations[r.ID] = r
	return split, r, nil
}

// Commit consumes a reservation after a successful sponsored submission:
// the reserved amount becomes committed usage in every cap window, and
// one-time policies are permanently marked consumed for the account.
func (m *Manager) Commit(ctx context.Context, reservationID string) error {
	m.mu.Lock()
	r, ok := m.reservations[reservationID]
	if ok {
		delete(m.reservations, reservationID)
	}
	m.mu.Unlock()
	if !ok {
		return ErrReservationNotFound
	}

	for _, w := range r.windows {
		if err := m.store.AddUsage(ctx, r.Account, r.PolicyID, w.periodKey, r.Amount, w.ttl); err != nil {
			return fmt.Errorf("commit usage %s/%s/%s: %w", r.Account, r.PolicyID, w.periodKey, err)
		}
	}
	if r.oneTime {
		if err := m.store.ConsumeOneTime(ctx, r.Account, r.PolicyID); err != nil {
			return fmt.Errorf("consume one-time policy %s: %w", r.PolicyID, err)
		}
	}
	r.Status = ReservationConsumed
	return nil
}

// Release drops a reservation without committing usage.
func (m *Manager) Release(reservationID string) {
	if reservationID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.reservations[reservationID]; ok {
		r.Status = ReservationReleased
		delete(m.reservations, reservationID)
	}
}

// AccountUsage reports the committed usage for the account under the policy
// in each currently active cap window.
func (m *Manager) AccountUsage(ctx context.Context, p *sponsorship.Policy, account string) (map[string]int64, error) {
	out := make(map[string]int64)
	for _, w := range windowsFor(p, m.now()) {
		used, err := m.store.Usage(ctx, account, p.ID, w.periodKey)
		if err != nil {
			return nil, fmt.Errorf("read usage %s/%s/%s: %w", account, p.ID, w.periodKey, err)
		}
		out[w.period] = used
	}
	return out, nil
}

// StartJanitor schedules background cleanup: expired pending reservations
// are released every minute and stale period counters pruned daily.
func (m *Manager) StartJanitor() error {
	if m.cron != nil {
		return nil
	}
	c := cron.New()

	if _, err := c.AddFunc("* * * * *", m.expireReservations); err != nil {
		return fmt.Errorf("schedule reservation expiry: %w", err)
	}
	if _, err := c.AddFunc("30 3 * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := m.store.Prune(ctx, m.now().Add(-sponsorship.DefaultMonthlyResetPeriod)); err != nil {
			m.logger.Warn(ctx, "usage prune failed", map[string]interface{}{"error": err.Error()})
		}
	}); err != nil {
		return fmt.Errorf("schedule usage prune: %w", err)
	}

	c.Start()
	m.cron = c
	return nil
}

// StopJanitor stops background cleanup.
func (m *Manager) StopJanitor() {
	if m.cron != nil {
		m.cron.Stop()
		m.cron = nil
	}
}

func (m *Manager) expireReservations() {
	cutoff := m.now().Add(-m.ttl)

	m.mu.Lock()
	var expired []string
	for id, r := range m.reservations {
		if r.CreatedAt.Before(cutoff) {
			expired = append(expired, id)
			delete(m.reservations, id)
		}
	}
	m.mu.Unlock()

	if len(expired) > 0 {
		m.logger.Warn(context.Background(), "released expired reservations", map[string]interface{}{
			"count": len(expired),
		})
	}
}
