package database

import (
	"context"
	"database/sql"
	"fmt"
)

// Default policy values seeded on first start; editable through the admin
// policy endpoints afterwards.
const (
	defaultTokenExpirationHours = 72
	defaultMaxCouponsPerDay     = 10
	defaultRedemptionThreshold  = 10
)

func runMigrations(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS coupon_tokens (
			token TEXT PRIMARY KEY,
			phone TEXT NOT NULL,
			issued_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL,
			consumed_at INTEGER,
			status TEXT NOT NULL CHECK (status IN ('issued', 'consumed', 'expired'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_coupon_tokens_phone ON coupon_tokens(phone)`,
		`CREATE INDEX IF NOT EXISTS idx_coupon_tokens_status_expires ON coupon_tokens(status, expires_at)`,
		`CREATE TABLE IF NOT EXISTS coupon_wallets (
			phone TEXT PRIMARY KEY,
			balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS reward_tiers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			name_tr TEXT NOT NULL,
			coupons_required INTEGER NOT NULL CHECK (coupons_required >= 1),
			description TEXT NOT NULL DEFAULT '',
			description_tr TEXT NOT NULL DEFAULT '',
			is_active INTEGER NOT NULL DEFAULT 1,
			sort_order INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS coupon_redemptions (
			id TEXT PRIMARY KEY,
			phone TEXT NOT NULL,
			tier_id TEXT NOT NULL REFERENCES reward_tiers(id),
			coupons_consumed INTEGER NOT NULL CHECK (coupons_consumed >= 1),
			redeemed_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS coupon_events (
			id TEXT PRIMARY KEY,
			phone TEXT NOT NULL,
			event TEXT NOT NULL,
			token TEXT NOT NULL DEFAULT '',
			details TEXT NOT NULL DEFAULT '{}',
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_coupon_events_created ON coupon_events(created_at DESC, id DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_coupon_events_phone ON coupon_events(phone)`,
		`CREATE TABLE IF NOT EXISTS rate_limit_counters (
			phone TEXT NOT NULL,
			endpoint TEXT NOT NULL,
			count INTEGER NOT NULL DEFAULT 0,
			window_reset_at INTEGER NOT NULL,
			PRIMARY KEY (phone, endpoint)
		)`,
		`CREATE TABLE IF NOT EXISTS policy_settings (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			token_expiration_hours INTEGER NOT NULL,
			max_coupons_per_day INTEGER NOT NULL,
			default_redemption_threshold INTEGER NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO policy_settings (id, token_expiration_hours, max_coupons_per_day, default_redemption_threshold)
		 VALUES (1, ?, ?, ?)`,
		defaultTokenExpirationHours, defaultMaxCouponsPerDay, defaultRedemptionThreshold,
	); err != nil {
		return fmt.Errorf("seed policy settings: %w", err)
	}

	// At least one reward tier must exist at all times; seed the default.
	if _, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO reward_tiers (id, name, name_tr, coupons_required, description, description_tr, is_active, sort_order)
		 VALUES ('default-tier', 'Free Massage', 'Ücretsiz Masaj', ?, 'One complimentary massage session', 'Bir ücretsiz masaj seansı', 1, 0)`,
		defaultRedemptionThreshold,
	); err != nil {
		return fmt.Errorf("seed default tier: %w", err)
	}

	return nil
}
