package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/sedefspa/loyalty-service/pkg/models"
)

// CouponRepository owns write access to tokens, wallets and redemptions.
type CouponRepository struct {
	db *sql.DB
}

func NewCouponRepository(db *sql.DB) *CouponRepository {
	return &CouponRepository{db: db}
}

// InsertToken persists a freshly issued token. A primary-key collision is
// reported as ErrTokenExists so the caller can regenerate.
func (r *CouponRepository) InsertToken(ctx context.Context, t models.CouponToken) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO coupon_tokens (token, phone, issued_at, expires_at, status) VALUES (?, ?, ?, ?, ?)`,
		t.Token, t.Phone, toMillis(t.IssuedAt), toMillis(t.ExpiresAt), t.Status,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrTokenExists
		}
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

func scanToken(row interface{ Scan(...any) error }) (models.CouponToken, error) {
	var t models.CouponToken
	var issuedAt, expiresAt int64
	var consumedAt sql.NullInt64
	err := row.Scan(&t.Token, &t.Phone, &issuedAt, &expiresAt, &consumedAt, &t.Status)
	if err != nil {
		return models.CouponToken{}, err
	}
	t.IssuedAt = fromMillis(issuedAt)
	t.ExpiresAt = fromMillis(expiresAt)
	if consumedAt.Valid {
		at := fromMillis(consumedAt.Int64)
		t.ConsumedAt = &at
	}
	return t, nil
}

const tokenColumns = `token, phone, issued_at, expires_at, consumed_at, status`

func (r *CouponRepository) GetToken(ctx context.Context, token string) (models.CouponToken, error) {
	t, err := scanToken(r.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM coupon_tokens WHERE token = ?`, token,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.CouponToken{}, ErrTokenNotFound
		}
		return models.CouponToken{}, fmt.Errorf("get token: %w", err)
	}
	return t, nil
}

// ConsumeToken transitions one issued token to consumed and credits the
// owning wallet by 1, in a single transaction. A token past its expiry is
// flipped to expired instead and reported as ErrTokenExpired. The
// status-guarded UPDATE makes consumption at-most-once: a concurrent second
// attempt observes the terminal status, never a double credit.
func (r *CouponRepository) ConsumeToken(ctx context.Context, phone, token string, now time.Time) (models.CouponToken, int, error) {
	var consumed models.CouponToken
	var balance int
	var expiredFlip bool
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		current, err := scanToken(tx.QueryRowContext(ctx,
			`SELECT `+tokenColumns+` FROM coupon_tokens WHERE token = ?`, token,
		))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrTokenNotFound
			}
			return fmt.Errorf("load token: %w", err)
		}

		// Tokens are tied to one customer; a phone mismatch is treated the
		// same as an unknown token so the response leaks nothing about
		// other customers' tokens.
		if current.Phone != phone {
			return ErrTokenNotFound
		}

		switch current.Status {
		case models.TokenStatusConsumed:
			return ErrTokenAlreadyConsumed
		case models.TokenStatusExpired:
			return ErrTokenExpired
		}

		if now.After(current.ExpiresAt) {
			// Lazy expiry. The flip must commit, so it is reported through
			// expiredFlip rather than an error return, which would roll the
			// transaction back.
			if _, err := tx.ExecContext(ctx,
				`UPDATE coupon_tokens SET status = ? WHERE token = ? AND status = ?`,
				models.TokenStatusExpired, token, models.TokenStatusIssued,
			); err != nil {
				return fmt.Errorf("expire token: %w", err)
			}
			expiredFlip = true
			return nil
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE coupon_tokens SET status = ?, consumed_at = ? WHERE token = ? AND status = ?`,
			models.TokenStatusConsumed, toMillis(now), token, models.TokenStatusIssued,
		)
		if err != nil {
			return fmt.Errorf("consume token: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("consume token: %w", err)
		}
		if affected == 0 {
			return ErrTokenAlreadyConsumed
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO coupon_wallets (phone, balance, updated_at) VALUES (?, 1, ?)
			 ON CONFLICT(phone) DO UPDATE SET balance = balance + 1, updated_at = excluded.updated_at`,
			current.Phone, toMillis(now),
		); err != nil {
			return fmt.Errorf("credit wallet: %w", err)
		}

		if err := tx.QueryRowContext(ctx,
			`SELECT balance FROM coupon_wallets WHERE phone = ?`, current.Phone,
		).Scan(&balance); err != nil {
			return fmt.Errorf("load wallet balance: %w", err)
		}

		at := now.UTC()
		current.Status = models.TokenStatusConsumed
		current.ConsumedAt = &at
		consumed = current
		return nil
	})
	if err != nil {
		return models.CouponToken{}, 0, err
	}
	if expiredFlip {
		return models.CouponToken{}, 0, ErrTokenExpired
	}
	return consumed, balance, nil
}

// RedeemTier debits the wallet by exactly the tier's coupon cost and records
// the redemption, in a single transaction.
func (r *CouponRepository) RedeemTier(ctx context.Context, phone string, tier models.RewardTier, now time.Time) (models.CouponRedemption, int, error) {
	redemption := models.CouponRedemption{
		ID:              uuid.NewString(),
		Phone:           phone,
		TierID:          tier.ID,
		CouponsConsumed: tier.CouponsRequired,
		RedeemedAt:      now.UTC(),
	}
	var balance int
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`SELECT balance FROM coupon_wallets WHERE phone = ?`, phone,
		).Scan(&balance)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrInsufficientBalance
		}
		if err != nil {
			return fmt.Errorf("load wallet balance: %w", err)
		}
		if balance < tier.CouponsRequired {
			return ErrInsufficientBalance
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE coupon_wallets SET balance = balance - ?, updated_at = ? WHERE phone = ?`,
			tier.CouponsRequired, toMillis(now), phone,
		); err != nil {
			return fmt.Errorf("debit wallet: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO coupon_redemptions (id, phone, tier_id, coupons_consumed, redeemed_at) VALUES (?, ?, ?, ?, ?)`,
			redemption.ID, redemption.Phone, redemption.TierID,
			redemption.CouponsConsumed, toMillis(redemption.RedeemedAt),
		); err != nil {
			return fmt.Errorf("insert redemption: %w", err)
		}

		balance -= tier.CouponsRequired
		return nil
	})
	if err != nil {
		return models.CouponRedemption{}, 0, err
	}
	return redemption, balance, nil
}

// GetWallet returns the wallet for phone, or a zero-balance wallet if the
// customer has never consumed a coupon.
func (r *CouponRepository) GetWallet(ctx context.Context, phone string) (models.CouponWallet, error) {
	var w models.CouponWallet
	var updatedAt int64
	err := r.db.QueryRowContext(ctx,
		`SELECT phone, balance, updated_at FROM coupon_wallets WHERE phone = ?`, phone,
	).Scan(&w.Phone, &w.Balance, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CouponWallet{Phone: phone}, nil
	}
	if err != nil {
		return models.CouponWallet{}, fmt.Errorf("get wallet: %w", err)
	}
	w.UpdatedAt = fromMillis(updatedAt)
	return w, nil
}

// CountIssuedSince counts tokens issued to phone at or after the cutoff,
// regardless of their current status.
func (r *CouponRepository) CountIssuedSince(ctx context.Context, phone string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM coupon_tokens WHERE phone = ? AND issued_at >= ?`,
		phone, toMillis(since),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count issued tokens: %w", err)
	}
	return count, nil
}

// ListExpiredIssued returns issued tokens whose expiry has passed.
func (r *CouponRepository) ListExpiredIssued(ctx context.Context, now time.Time, limit int) ([]models.CouponToken, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+tokenColumns+` FROM coupon_tokens WHERE status = ? AND expires_at < ? ORDER BY expires_at LIMIT ?`,
		models.TokenStatusIssued, toMillis(now), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list expired tokens: %w", err)
	}
	defer rows.Close()

	var tokens []models.CouponToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired tokens: %w", err)
	}
	return tokens, nil
}

// MarkExpired flips one issued token to expired. Returns false when the
// token already reached a terminal state.
func (r *CouponRepository) MarkExpired(ctx context.Context, token string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE coupon_tokens SET status = ? WHERE token = ? AND status = ?`,
		models.TokenStatusExpired, token, models.TokenStatusIssued,
	)
	if err != nil {
		return false, fmt.Errorf("mark token expired: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark token expired: %w", err)
	}
	return affected > 0, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
