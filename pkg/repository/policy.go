package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/sedefspa/loyalty-service/pkg/models"
)

// Server-side bounds for policy settings, enforced regardless of client
// input.
const (
	minRedemptionThreshold = 1
	maxRedemptionThreshold = 100
	minTokenTTLHours       = 1
	maxTokenTTLHours       = 168
	minCouponsPerDay       = 1
	maxCouponsPerDayLimit  = 50
)

// PolicyRepository owns the settings singleton and the reward tier set.
type PolicyRepository struct {
	db *sql.DB
}

func NewPolicyRepository(db *sql.DB) *PolicyRepository {
	return &PolicyRepository{db: db}
}

func (r *PolicyRepository) GetSettings(ctx context.Context) (models.PolicySettings, error) {
	var s models.PolicySettings
	err := r.db.QueryRowContext(ctx,
		`SELECT token_expiration_hours, max_coupons_per_day, default_redemption_threshold FROM policy_settings WHERE id = 1`,
	).Scan(&s.TokenExpirationHours, &s.MaxCouponsPerDay, &s.DefaultRedemptionThreshold)
	if err != nil {
		return models.PolicySettings{}, fmt.Errorf("load policy settings: %w", err)
	}
	return s, nil
}

// UpdateSettings applies a partial settings update after validating every
// provided value against its allowed range.
func (r *PolicyRepository) UpdateSettings(ctx context.Context, req models.UpdateSettingsRequest) (models.PolicySettings, error) {
	if req.DefaultRedemptionThreshold != nil {
		if v := *req.DefaultRedemptionThreshold; v < minRedemptionThreshold || v > maxRedemptionThreshold {
			return models.PolicySettings{}, fmt.Errorf("%w: default_redemption_threshold %d not in [%d, %d]",
				ErrInvalidPolicyValue, v, minRedemptionThreshold, maxRedemptionThreshold)
		}
	}
	if req.TokenExpirationHours != nil {
		if v := *req.TokenExpirationHours; v < minTokenTTLHours || v > maxTokenTTLHours {
			return models.PolicySettings{}, fmt.Errorf("%w: token_expiration_hours %d not in [%d, %d]",
				ErrInvalidPolicyValue, v, minTokenTTLHours, maxTokenTTLHours)
		}
	}
	if req.MaxCouponsPerDay != nil {
		if v := *req.MaxCouponsPerDay; v < minCouponsPerDay || v > maxCouponsPerDayLimit {
			return models.PolicySettings{}, fmt.Errorf("%w: max_coupons_per_day %d not in [%d, %d]",
				ErrInvalidPolicyValue, v, minCouponsPerDay, maxCouponsPerDayLimit)
		}
	}

	var updated models.PolicySettings
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		var sets []string
		var args []any
		if req.TokenExpirationHours != nil {
			sets = append(sets, "token_expiration_hours = ?")
			args = append(args, *req.TokenExpirationHours)
		}
		if req.MaxCouponsPerDay != nil {
			sets = append(sets, "max_coupons_per_day = ?")
			args = append(args, *req.MaxCouponsPerDay)
		}
		if req.DefaultRedemptionThreshold != nil {
			sets = append(sets, "default_redemption_threshold = ?")
			args = append(args, *req.DefaultRedemptionThreshold)
		}
		if len(sets) > 0 {
			if _, err := tx.ExecContext(ctx,
				`UPDATE policy_settings SET `+strings.Join(sets, ", ")+` WHERE id = 1`,
				args...,
			); err != nil {
				return fmt.Errorf("update policy settings: %w", err)
			}
		}
		return tx.QueryRowContext(ctx,
			`SELECT token_expiration_hours, max_coupons_per_day, default_redemption_threshold FROM policy_settings WHERE id = 1`,
		).Scan(&updated.TokenExpirationHours, &updated.MaxCouponsPerDay, &updated.DefaultRedemptionThreshold)
	})
	if err != nil {
		return models.PolicySettings{}, err
	}
	return updated, nil
}

const tierColumns = `id, name, name_tr, coupons_required, description, description_tr, is_active, sort_order`

func scanTier(row interface{ Scan(...any) error }) (models.RewardTier, error) {
	var t models.RewardTier
	err := row.Scan(&t.ID, &t.Name, &t.NameTr, &t.CouponsRequired,
		&t.Description, &t.DescriptionTr, &t.IsActive, &t.SortOrder)
	return t, err
}

// ListTiers returns all tiers sorted by sort order, then coupons required.
func (r *PolicyRepository) ListTiers(ctx context.Context) ([]models.RewardTier, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+tierColumns+` FROM reward_tiers ORDER BY sort_order, coupons_required`,
	)
	if err != nil {
		return nil, fmt.Errorf("list tiers: %w", err)
	}
	defer rows.Close()

	var tiers []models.RewardTier
	for rows.Next() {
		t, err := scanTier(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tier: %w", err)
		}
		tiers = append(tiers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tiers: %w", err)
	}
	return tiers, nil
}

func (r *PolicyRepository) GetTier(ctx context.Context, id string) (models.RewardTier, error) {
	t, err := scanTier(r.db.QueryRowContext(ctx,
		`SELECT `+tierColumns+` FROM reward_tiers WHERE id = ?`, id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.RewardTier{}, ErrTierNotFound
		}
		return models.RewardTier{}, fmt.Errorf("get tier: %w", err)
	}
	return t, nil
}

func (r *PolicyRepository) CreateTier(ctx context.Context, req models.CreateTierRequest) (models.RewardTier, error) {
	if req.CouponsRequired < 1 {
		return models.RewardTier{}, fmt.Errorf("%w: coupons_required must be at least 1", ErrInvalidPolicyValue)
	}
	tier := models.RewardTier{
		ID:              uuid.NewString(),
		Name:            req.Name,
		NameTr:          req.NameTr,
		CouponsRequired: req.CouponsRequired,
		Description:     req.Description,
		DescriptionTr:   req.DescriptionTr,
		IsActive:        true,
		SortOrder:       req.SortOrder,
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO reward_tiers (`+tierColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tier.ID, tier.Name, tier.NameTr, tier.CouponsRequired,
		tier.Description, tier.DescriptionTr, tier.IsActive, tier.SortOrder,
	)
	if err != nil {
		return models.RewardTier{}, fmt.Errorf("create tier: %w", err)
	}
	return tier, nil
}

// UpdateTier applies a partial tier update. Deactivating the last active
// tier is rejected the same way deleting it is.
func (r *PolicyRepository) UpdateTier(ctx context.Context, id string, req models.UpdateTierRequest) (models.RewardTier, error) {
	if req.CouponsRequired != nil && *req.CouponsRequired < 1 {
		return models.RewardTier{}, fmt.Errorf("%w: coupons_required must be at least 1", ErrInvalidPolicyValue)
	}

	var updated models.RewardTier
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		current, err := scanTier(tx.QueryRowContext(ctx,
			`SELECT `+tierColumns+` FROM reward_tiers WHERE id = ?`, id,
		))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrTierNotFound
			}
			return fmt.Errorf("get tier: %w", err)
		}

		if req.IsActive != nil && !*req.IsActive && current.IsActive {
			remaining, err := countActiveTiersExcluding(ctx, tx, id)
			if err != nil {
				return err
			}
			if remaining == 0 {
				return ErrLastTierViolation
			}
		}

		var sets []string
		var args []any
		apply := func(column string, value any) {
			sets = append(sets, column+" = ?")
			args = append(args, value)
		}
		if req.Name != nil {
			apply("name", *req.Name)
		}
		if req.NameTr != nil {
			apply("name_tr", *req.NameTr)
		}
		if req.CouponsRequired != nil {
			apply("coupons_required", *req.CouponsRequired)
		}
		if req.Description != nil {
			apply("description", *req.Description)
		}
		if req.DescriptionTr != nil {
			apply("description_tr", *req.DescriptionTr)
		}
		if req.IsActive != nil {
			apply("is_active", *req.IsActive)
		}
		if req.SortOrder != nil {
			apply("sort_order", *req.SortOrder)
		}
		if len(sets) > 0 {
			args = append(args, id)
			if _, err := tx.ExecContext(ctx,
				`UPDATE reward_tiers SET `+strings.Join(sets, ", ")+` WHERE id = ?`,
				args...,
			); err != nil {
				return fmt.Errorf("update tier: %w", err)
			}
		}

		updated, err = scanTier(tx.QueryRowContext(ctx,
			`SELECT `+tierColumns+` FROM reward_tiers WHERE id = ?`, id,
		))
		if err != nil {
			return fmt.Errorf("reload tier: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.RewardTier{}, err
	}
	return updated, nil
}

// DeleteTier removes a tier unless doing so would leave zero active tiers.
func (r *PolicyRepository) DeleteTier(ctx context.Context, id string) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		current, err := scanTier(tx.QueryRowContext(ctx,
			`SELECT `+tierColumns+` FROM reward_tiers WHERE id = ?`, id,
		))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrTierNotFound
			}
			return fmt.Errorf("get tier: %w", err)
		}

		if current.IsActive {
			remaining, err := countActiveTiersExcluding(ctx, tx, id)
			if err != nil {
				return err
			}
			if remaining == 0 {
				return ErrLastTierViolation
			}
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM reward_tiers WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete tier: %w", err)
		}
		return nil
	})
}

func countActiveTiersExcluding(ctx context.Context, tx *sql.Tx, id string) (int, error) {
	var count int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reward_tiers WHERE is_active = 1 AND id != ?`, id,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active tiers: %w", err)
	}
	return count, nil
}
