package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore is a Store implementation backed by PostgreSQL. Schema is
// managed by the migrations under migrations/.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store using the provided database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Usage returns the committed usage for the counter key.
func (s *PostgresStore) Usage(ctx context.Context, account, policyID, periodKey string) (int64, error) {
	var amount int64
	err := s.db.QueryRowContext(ctx, `
		SELECT amount FROM sponsorship_usage
		WHERE account = $1 AND policy_id = $2 AND period_key = $3
		  AND (expires_at IS NULL OR expires_at > NOW())
	`, account, policyID, periodKey).Scan(&amount)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("select usage: %w", err)
	}
	return amount, nil
}

// AddUsage atomically adds amount to the counter key via an upsert; the
// increment happens inside one statement so concurrent writers cannot lose
// updates.
func (s *PostgresStore) AddUsage(ctx context.Context, account, policyID, periodKey string, amount int64, ttl time.Duration) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	var expires sql.NullTime
	if ttl > 0 {
		expires = sql.NullTime{Time: time.Now().UTC().Add(ttl), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sponsorship_usage (account, policy_id, period_key, amount, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account, policy_id, period_key)
		DO UPDATE SET amount = sponsorship_usage.amount + EXCLUDED.amount
	`, account, policyID, periodKey, amount, expires)
	if err != nil {
		return fmt.Errorf("upsert usage: %w", err)
	}
	return nil
}

// OneTimeConsumed reports whether the account has consumed the policy.
func (s *PostgresStore) OneTimeConsumed(ctx context.Context, account, policyID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM sponsorship_onetime
			WHERE account = $1 AND policy_id = $2
		)
	`, account, policyID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("select one-time: %w", err)
	}
	return exists, nil
}

// ConsumeOneTime permanently records the consumption.
func (s *PostgresStore) ConsumeOneTime(ctx context.Context, account, policyID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sponsorship_onetime (account, policy_id, consumed_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (account, policy_id) DO NOTHING
	`, account, policyID)
	if err != nil {
		return fmt.Errorf("insert one-time: %w", err)
	}
	return nil
}

// Prune removes counters whose period expired before the cutoff.
func (s *PostgresStore) Prune(ctx context.Context, cutoff time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM sponsorship_usage
		WHERE expires_at IS NOT NULL AND expires_at < $1
	`, cutoff.UTC())
	if err != nil {
		return fmt.Errorf("prune usage: %w", err)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
