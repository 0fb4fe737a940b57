package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const rateLimitWindow = 24 * time.Hour

// RateLimitDecision is the outcome of one check-and-increment.
type RateLimitDecision struct {
	Allowed    bool
	RetryAfter int // seconds until the window resets, set on rejection
}

// RateLimitRepository keeps durable per-(phone, endpoint) daily counters.
type RateLimitRepository struct {
	db *sql.DB
}

func NewRateLimitRepository(db *sql.DB) *RateLimitRepository {
	return &RateLimitRepository{db: db}
}

// CheckAndIncrement atomically admits or rejects one request. The counter
// read, window reset and increment happen in a single transaction so two
// concurrent requests cannot both be admitted past the limit.
func (r *RateLimitRepository) CheckAndIncrement(ctx context.Context, phone, endpoint string, limit int, now time.Time) (RateLimitDecision, error) {
	var decision RateLimitDecision
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		var count int
		var windowResetAt int64
		err := tx.QueryRowContext(ctx,
			`SELECT count, window_reset_at FROM rate_limit_counters WHERE phone = ? AND endpoint = ?`,
			phone, endpoint,
		).Scan(&count, &windowResetAt)

		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO rate_limit_counters (phone, endpoint, count, window_reset_at) VALUES (?, ?, 1, ?)`,
				phone, endpoint, toMillis(now.Add(rateLimitWindow)),
			); err != nil {
				return fmt.Errorf("insert counter: %w", err)
			}
			decision = RateLimitDecision{Allowed: true}
			return nil
		case err != nil:
			return fmt.Errorf("load counter: %w", err)
		}

		resetAt := fromMillis(windowResetAt)
		if !now.Before(resetAt) {
			// Expired window: restart it with this request as the first.
			if _, err := tx.ExecContext(ctx,
				`UPDATE rate_limit_counters SET count = 1, window_reset_at = ? WHERE phone = ? AND endpoint = ?`,
				toMillis(now.Add(rateLimitWindow)), phone, endpoint,
			); err != nil {
				return fmt.Errorf("reset counter: %w", err)
			}
			decision = RateLimitDecision{Allowed: true}
			return nil
		}

		if count >= limit {
			retryAfter := int(resetAt.Sub(now).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			decision = RateLimitDecision{Allowed: false, RetryAfter: retryAfter}
			return nil
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE rate_limit_counters SET count = count + 1 WHERE phone = ? AND endpoint = ?`,
			phone, endpoint,
		); err != nil {
			return fmt.Errorf("increment counter: %w", err)
		}
		decision = RateLimitDecision{Allowed: true}
		return nil
	})
	if err != nil {
		return RateLimitDecision{}, err
	}
	return decision, nil
}

// Sweep deletes counters whose window expired before the cutoff. Purely a
// storage-growth bound; expired windows are reset transparently on access.
func (r *RateLimitRepository) Sweep(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM rate_limit_counters WHERE window_reset_at < ?`,
		toMillis(olderThan),
	)
	if err != nil {
		return 0, fmt.Errorf("sweep counters: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep counters: %w", err)
	}
	return deleted, nil
}
