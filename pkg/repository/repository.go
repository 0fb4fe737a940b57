// Package repository persists coupon, wallet, policy, rate-limit and audit
// state in SQLite. All multi-statement mutations run inside one explicit
// transaction.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	ErrTokenNotFound        = errors.New("token not found")
	ErrTokenExists          = errors.New("token already exists")
	ErrTokenExpired         = errors.New("token expired")
	ErrTokenAlreadyConsumed = errors.New("token already consumed")
	ErrInsufficientBalance  = errors.New("insufficient wallet balance")
	ErrTierNotFound         = errors.New("reward tier not found")
	ErrTierInactive         = errors.New("reward tier is inactive")
	ErrLastTierViolation    = errors.New("cannot remove the last active reward tier")
	ErrInvalidPolicyValue   = errors.New("policy value out of range")
)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on any error or panic exit path.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
