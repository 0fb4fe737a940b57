// Package coupon implements the coupon lifecycle: token issuance,
// consumption into wallet balances, tier eligibility and redemption.
package coupon

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sedefspa/loyalty-service/pkg/models"
	"github.com/sedefspa/loyalty-service/pkg/phone"
	"github.com/sedefspa/loyalty-service/pkg/repository"
	"github.com/sedefspa/loyalty-service/pkg/token"
)

// ErrRateLimited is returned when the per-day issuance cap is exhausted.
var ErrRateLimited = errors.New("rate limited")

// RateLimitedError carries the cooldown in seconds. errors.Is matches it
// against ErrRateLimited.
type RateLimitedError struct {
	RetryAfter int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %d seconds", e.RetryAfter)
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

const (
	maxGenerateAttempts = 5
	expireSweepBatch    = 500
	issueWindow         = 24 * time.Hour
)

// Orchestrator composes the stores into the coupon state machine. It owns
// every token, wallet and redemption transition.
type Orchestrator struct {
	coupons    *repository.CouponRepository
	policy     *repository.PolicyRepository
	events     *repository.EventRepository
	normalizer *phone.Normalizer
	now        func() time.Time
}

func New(coupons *repository.CouponRepository, policy *repository.PolicyRepository, events *repository.EventRepository, normalizer *phone.Normalizer) *Orchestrator {
	return &Orchestrator{
		coupons:    coupons,
		policy:     policy,
		events:     events,
		normalizer: normalizer,
		now:        time.Now,
	}
}

// WithClock overrides the time source. Used by tests.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// NormalizePhone exposes phone canonicalization for callers that need the
// normalized form before invoking an operation (e.g. the rate-limit gate).
func (o *Orchestrator) NormalizePhone(raw string) (string, error) {
	return o.normalizer.Normalize(raw)
}

// Issue generates a new single-use token for the customer. The per-day cap
// is re-checked here even though the HTTP gate enforces it, so a bypassed
// gate still cannot exceed policy.
func (o *Orchestrator) Issue(ctx context.Context, rawPhone string) (models.CouponToken, error) {
	p, err := o.normalizer.Normalize(rawPhone)
	if err != nil {
		return models.CouponToken{}, err
	}
	settings, err := o.policy.GetSettings(ctx)
	if err != nil {
		return models.CouponToken{}, err
	}

	now := o.now().UTC()
	count, err := o.coupons.CountIssuedSince(ctx, p, now.Add(-issueWindow))
	if err != nil {
		return models.CouponToken{}, err
	}
	if count >= settings.MaxCouponsPerDay {
		retryAfter := int(issueWindow.Seconds())
		if _, err := o.events.Append(ctx, models.CouponEvent{
			Phone: p,
			Event: models.EventRateLimited,
			Details: models.EventDetails{
				Phone:      p,
				Reason:     "daily issuance cap reached",
				RetryAfter: retryAfter,
			},
		}); err != nil {
			return models.CouponToken{}, err
		}
		return models.CouponToken{}, &RateLimitedError{RetryAfter: retryAfter}
	}

	var issued models.CouponToken
	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		tok, err := token.Generate()
		if err != nil {
			return models.CouponToken{}, fmt.Errorf("generate token: %w", err)
		}
		candidate := models.CouponToken{
			Token:     tok,
			Phone:     p,
			IssuedAt:  now,
			ExpiresAt: now.Add(time.Duration(settings.TokenExpirationHours) * time.Hour),
			Status:    models.TokenStatusIssued,
		}
		err = o.coupons.InsertToken(ctx, candidate)
		if errors.Is(err, repository.ErrTokenExists) {
			logrus.WithField("attempt", attempt).Warn("Issue: token collision, regenerating")
			continue
		}
		if err != nil {
			return models.CouponToken{}, err
		}
		issued = candidate
		break
	}
	if issued.Token == "" {
		return models.CouponToken{}, fmt.Errorf("exhausted %d token generation attempts", maxGenerateAttempts)
	}

	if _, err := o.events.Append(ctx, models.CouponEvent{
		Phone: p,
		Event: models.EventIssued,
		Token: issued.Token,
		Details: models.EventDetails{
			Phone: p,
			Token: issued.Token,
		},
	}); err != nil {
		return models.CouponToken{}, err
	}
	return issued, nil
}

// Consume transitions an issued token to consumed and credits the wallet
// tied to the token's phone by exactly 1. The token must belong to the
// given phone; a mismatch reads as an unknown token.
func (o *Orchestrator) Consume(ctx context.Context, rawPhone, rawToken string) (models.CouponToken, int, error) {
	p, err := o.normalizer.Normalize(rawPhone)
	if err != nil {
		return models.CouponToken{}, 0, err
	}
	tok := strings.ToUpper(strings.TrimSpace(rawToken))
	if !token.Valid(tok) {
		return models.CouponToken{}, 0, repository.ErrTokenNotFound
	}

	consumed, balance, err := o.coupons.ConsumeToken(ctx, p, tok, o.now().UTC())
	if errors.Is(err, repository.ErrTokenExpired) {
		// The lazy flip to expired is a lifecycle transition of its own.
		if _, appendErr := o.events.Append(ctx, models.CouponEvent{
			Phone:   p,
			Event:   models.EventExpired,
			Token:   tok,
			Details: models.EventDetails{Phone: p, Token: tok},
		}); appendErr != nil {
			logrus.WithError(appendErr).Error("Consume: failed to record expired event")
		}
		return models.CouponToken{}, 0, err
	}
	if err != nil {
		return models.CouponToken{}, 0, err
	}

	if _, err := o.events.Append(ctx, models.CouponEvent{
		Phone: consumed.Phone,
		Event: models.EventConsumed,
		Token: consumed.Token,
		Details: models.EventDetails{
			Phone:   consumed.Phone,
			Token:   consumed.Token,
			Balance: &balance,
		},
	}); err != nil {
		return models.CouponToken{}, 0, err
	}
	return consumed, balance, nil
}

// EvaluateEligibility returns the best active tier the wallet balance
// satisfies, or nil. Best means the largest coupons-required value still
// covered by the balance, never the first match by insertion order.
func (o *Orchestrator) EvaluateEligibility(ctx context.Context, rawPhone string) (*models.RewardTier, int, error) {
	p, err := o.normalizer.Normalize(rawPhone)
	if err != nil {
		return nil, 0, err
	}
	wallet, err := o.coupons.GetWallet(ctx, p)
	if err != nil {
		return nil, 0, err
	}
	tier, err := o.bestTierFor(ctx, wallet.Balance)
	if err != nil {
		return nil, 0, err
	}
	return tier, wallet.Balance, nil
}

func (o *Orchestrator) bestTierFor(ctx context.Context, balance int) (*models.RewardTier, error) {
	tiers, err := o.policy.ListTiers(ctx)
	if err != nil {
		return nil, err
	}
	var best *models.RewardTier
	for i := range tiers {
		t := tiers[i]
		if !t.IsActive || t.CouponsRequired > balance {
			continue
		}
		if best == nil || t.CouponsRequired > best.CouponsRequired {
			best = &tiers[i]
		}
	}
	return best, nil
}

// Redeem exchanges exactly the tier's coupon cost from the wallet for one
// redemption record.
func (o *Orchestrator) Redeem(ctx context.Context, rawPhone, tierID string) (models.CouponRedemption, models.RewardTier, error) {
	p, err := o.normalizer.Normalize(rawPhone)
	if err != nil {
		return models.CouponRedemption{}, models.RewardTier{}, err
	}
	tier, err := o.policy.GetTier(ctx, tierID)
	if err != nil {
		return models.CouponRedemption{}, models.RewardTier{}, err
	}
	if !tier.IsActive {
		return models.CouponRedemption{}, models.RewardTier{}, repository.ErrTierInactive
	}
	return o.redeemTier(ctx, p, tier)
}

func (o *Orchestrator) redeemTier(ctx context.Context, p string, tier models.RewardTier) (models.CouponRedemption, models.RewardTier, error) {
	redemption, balance, err := o.coupons.RedeemTier(ctx, p, tier, o.now().UTC())
	if err != nil {
		return models.CouponRedemption{}, models.RewardTier{}, err
	}
	if _, err := o.events.Append(ctx, models.CouponEvent{
		Phone: p,
		Event: models.EventRedeemed,
		Details: models.EventDetails{
			Phone:           p,
			TierID:          tier.ID,
			TierName:        tier.Name,
			CouponsConsumed: tier.CouponsRequired,
			Balance:         &balance,
		},
	}); err != nil {
		return models.CouponRedemption{}, models.RewardTier{}, err
	}
	return redemption, tier, nil
}

// ClaimResult is the outcome of a claim: the consumed token plus the
// redemption, when the new balance satisfied a tier.
type ClaimResult struct {
	Token    models.CouponToken
	Redeemed bool
	Tier     *models.RewardTier
	Balance  int
}

// Claim consumes the token into the wallet and redeems the best eligible
// active tier, if the resulting balance satisfies one.
func (o *Orchestrator) Claim(ctx context.Context, rawPhone, rawToken string) (ClaimResult, error) {
	consumed, balance, err := o.Consume(ctx, rawPhone, rawToken)
	if err != nil {
		return ClaimResult{}, err
	}

	if _, err := o.events.Append(ctx, models.CouponEvent{
		Phone: consumed.Phone,
		Event: models.EventRedemptionAttempt,
		Token: consumed.Token,
		Details: models.EventDetails{
			Phone:   consumed.Phone,
			Token:   consumed.Token,
			Balance: &balance,
		},
	}); err != nil {
		return ClaimResult{}, err
	}

	tier, err := o.bestTierFor(ctx, balance)
	if err != nil {
		return ClaimResult{}, err
	}
	if tier == nil {
		return ClaimResult{Token: consumed, Balance: balance}, nil
	}

	_, redeemed, err := o.redeemTier(ctx, consumed.Phone, *tier)
	if err != nil {
		return ClaimResult{}, err
	}
	return ClaimResult{
		Token:    consumed,
		Redeemed: true,
		Tier:     &redeemed,
		Balance:  balance - redeemed.CouponsRequired,
	}, nil
}

// ExpireSweep flips stale issued tokens to expired. Advisory maintenance:
// Consume already self-expires lazily, the sweep keeps reporting views from
// accumulating stale rows.
func (o *Orchestrator) ExpireSweep(ctx context.Context) (int, error) {
	now := o.now().UTC()
	tokens, err := o.coupons.ListExpiredIssued(ctx, now, expireSweepBatch)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, t := range tokens {
		flipped, err := o.coupons.MarkExpired(ctx, t.Token)
		if err != nil {
			return expired, err
		}
		if !flipped {
			continue
		}
		if _, err := o.events.Append(ctx, models.CouponEvent{
			Phone:   t.Phone,
			Event:   models.EventExpired,
			Token:   t.Token,
			Details: models.EventDetails{Phone: t.Phone, Token: t.Token},
		}); err != nil {
			return expired, err
		}
		expired++
	}
	return expired, nil
}
