package coupon

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sedefspa/loyalty-service/pkg/database"
	"github.com/sedefspa/loyalty-service/pkg/models"
	"github.com/sedefspa/loyalty-service/pkg/phone"
	"github.com/sedefspa/loyalty-service/pkg/repository"
)

type fixture struct {
	orchestrator *Orchestrator
	policy       *repository.PolicyRepository
	events       *repository.EventRepository
	coupons      *repository.CouponRepository
	now          time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	f := &fixture{
		policy:  repository.NewPolicyRepository(db),
		events:  repository.NewEventRepository(db),
		coupons: repository.NewCouponRepository(db),
		now:     time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC),
	}
	f.orchestrator = New(f.coupons, f.policy, f.events, phone.NewNormalizer("90", 10)).
		WithClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func TestIssueThenConsume(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	issued, err := f.orchestrator.Issue(ctx, "05551234567")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if issued.Phone != "+905551234567" {
		t.Errorf("phone = %q, want normalized", issued.Phone)
	}
	if issued.Status != models.TokenStatusIssued {
		t.Errorf("status = %q, want issued", issued.Status)
	}
	if got, want := issued.ExpiresAt, issued.IssuedAt.Add(72*time.Hour); !got.Equal(want) {
		t.Errorf("expires_at = %v, want %v", got, want)
	}

	consumed, balance, err := f.orchestrator.Consume(ctx, "+90 555 123 45 67", issued.Token)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if consumed.Status != models.TokenStatusConsumed {
		t.Errorf("status = %q, want consumed", consumed.Status)
	}
	if balance != 1 {
		t.Errorf("balance = %d, want 1", balance)
	}
}

func TestConsumeSameTokenTwice(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	issued, err := f.orchestrator.Issue(ctx, "05551234567")
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := f.orchestrator.Consume(ctx, "05551234567", issued.Token); err != nil {
		t.Fatalf("first consume: %v", err)
	}

	_, _, err = f.orchestrator.Consume(ctx, "05551234567", issued.Token)
	if !errors.Is(err, repository.ErrTokenAlreadyConsumed) {
		t.Fatalf("second consume err = %v, want ErrTokenAlreadyConsumed", err)
	}

	wallet, err := f.coupons.GetWallet(ctx, "+905551234567")
	if err != nil {
		t.Fatal(err)
	}
	if wallet.Balance != 1 {
		t.Errorf("balance = %d, want 1", wallet.Balance)
	}
}

func TestConsumeExpiredToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	issued, err := f.orchestrator.Issue(ctx, "05551234567")
	if err != nil {
		t.Fatal(err)
	}

	f.advance(73 * time.Hour)
	_, _, err = f.orchestrator.Consume(ctx, "05551234567", issued.Token)
	if !errors.Is(err, repository.ErrTokenExpired) {
		t.Fatalf("consume err = %v, want ErrTokenExpired", err)
	}

	expired, err := f.events.ByType(ctx, models.EventExpired, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(expired) != 1 {
		t.Errorf("expired events = %d, want 1", len(expired))
	}

	// The flip persisted, so the sweep finds nothing and the one
	// transition stays a single audit entry.
	token, err := f.coupons.GetToken(ctx, issued.Token)
	if err != nil {
		t.Fatal(err)
	}
	if token.Status != models.TokenStatusExpired {
		t.Errorf("status = %q, want expired", token.Status)
	}
	swept, err := f.orchestrator.ExpireSweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if swept != 0 {
		t.Errorf("sweep after lazy expiry flipped %d tokens, want 0", swept)
	}
	expired, err = f.events.ByType(ctx, models.EventExpired, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(expired) != 1 {
		t.Errorf("expired events after sweep = %d, want 1", len(expired))
	}
}

func TestConsumeOtherCustomersToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	issued, err := f.orchestrator.Issue(ctx, "05551234567")
	if err != nil {
		t.Fatal(err)
	}

	_, _, err = f.orchestrator.Consume(ctx, "05559876543", issued.Token)
	if !errors.Is(err, repository.ErrTokenNotFound) {
		t.Fatalf("err = %v, want ErrTokenNotFound", err)
	}

	wallet, err := f.coupons.GetWallet(ctx, "+905551234567")
	if err != nil {
		t.Fatal(err)
	}
	if wallet.Balance != 0 {
		t.Errorf("owner balance = %d, want 0", wallet.Balance)
	}

	// The rightful owner can still consume it.
	if _, _, err := f.orchestrator.Consume(ctx, "05551234567", issued.Token); err != nil {
		t.Fatalf("owner consume: %v", err)
	}
}

func TestConsumeMalformedToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, _, err := f.orchestrator.Consume(context.Background(), "05551234567", "not-a-token")
	if !errors.Is(err, repository.ErrTokenNotFound) {
		t.Fatalf("err = %v, want ErrTokenNotFound", err)
	}
}

func TestIssueInvalidPhone(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.orchestrator.Issue(context.Background(), "")
	if !errors.Is(err, phone.ErrInvalidPhone) {
		t.Fatalf("err = %v, want ErrInvalidPhone", err)
	}
}

func TestIssueDailyCapRecheck(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	// Seeded policy allows 10 issuances per day.
	for i := 0; i < 10; i++ {
		if _, err := f.orchestrator.Issue(ctx, "05551234567"); err != nil {
			t.Fatalf("issue %d: %v", i+1, err)
		}
	}

	_, err := f.orchestrator.Issue(ctx, "05551234567")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("11th issue err = %v, want ErrRateLimited", err)
	}
	var rl *RateLimitedError
	if !errors.As(err, &rl) || rl.RetryAfter <= 0 {
		t.Fatalf("err = %v, want RateLimitedError with positive RetryAfter", err)
	}

	// A different customer is unaffected.
	if _, err := f.orchestrator.Issue(ctx, "05559876543"); err != nil {
		t.Fatalf("other phone issue: %v", err)
	}
}

func TestEvaluateEligibilityPicksBestTier(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	for _, tier := range []models.CreateTierRequest{
		{Name: "Scrub", NameTr: "Kese", CouponsRequired: 1},
		{Name: "Massage", NameTr: "Masaj", CouponsRequired: 3},
		{Name: "Full Day", NameTr: "Tam Gün", CouponsRequired: 5},
	} {
		if _, err := f.policy.CreateTier(ctx, tier); err != nil {
			t.Fatal(err)
		}
	}

	for i := 0; i < 4; i++ {
		issued, err := f.orchestrator.Issue(ctx, "05551234567")
		if err != nil {
			t.Fatal(err)
		}
		if _, _, err := f.orchestrator.Consume(ctx, "05551234567", issued.Token); err != nil {
			t.Fatal(err)
		}
	}

	tier, balance, err := f.orchestrator.EvaluateEligibility(ctx, "05551234567")
	if err != nil {
		t.Fatal(err)
	}
	if balance != 4 {
		t.Errorf("balance = %d, want 4", balance)
	}
	if tier == nil {
		t.Fatal("no eligible tier, want Massage")
	}
	if tier.CouponsRequired != 3 {
		t.Errorf("best tier requires %d, want 3 (highest satisfiable)", tier.CouponsRequired)
	}
}

func TestRedeemErrors(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.orchestrator.Redeem(ctx, "05551234567", "missing")
	if !errors.Is(err, repository.ErrTierNotFound) {
		t.Fatalf("err = %v, want ErrTierNotFound", err)
	}

	inactive, err := f.policy.CreateTier(ctx, models.CreateTierRequest{
		Name: "Retired", NameTr: "Emekli", CouponsRequired: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	off := false
	if _, err := f.policy.UpdateTier(ctx, inactive.ID, models.UpdateTierRequest{IsActive: &off}); err != nil {
		t.Fatal(err)
	}
	_, _, err = f.orchestrator.Redeem(ctx, "05551234567", inactive.ID)
	if !errors.Is(err, repository.ErrTierInactive) {
		t.Fatalf("err = %v, want ErrTierInactive", err)
	}

	_, _, err = f.orchestrator.Redeem(ctx, "05551234567", "default-tier")
	if !errors.Is(err, repository.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
}

func TestClaimEndToEnd(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	tier, err := f.policy.CreateTier(ctx, models.CreateTierRequest{
		Name: "Scrub", NameTr: "Kese", CouponsRequired: 1,
	})
	if err != nil {
		t.Fatal(err)
	}

	issued, err := f.orchestrator.Issue(ctx, "05551234567")
	if err != nil {
		t.Fatal(err)
	}

	result, err := f.orchestrator.Claim(ctx, "05551234567", issued.Token)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !result.Redeemed {
		t.Fatal("claim did not redeem with balance satisfying a 1-coupon tier")
	}
	if result.Tier == nil || result.Tier.ID != tier.ID {
		t.Errorf("redeemed tier = %+v, want %q", result.Tier, tier.ID)
	}
	if result.Balance != 0 {
		t.Errorf("balance = %d, want 0", result.Balance)
	}

	// One lifecycle event per transition, masked at rest.
	counts, err := f.events.CountsByType(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, event := range []string{
		models.EventIssued,
		models.EventConsumed,
		models.EventRedemptionAttempt,
		models.EventRedeemed,
	} {
		if counts[event] != 1 {
			t.Errorf("%s events = %d, want 1", event, counts[event])
		}
	}

	stored, err := f.events.Recent(ctx, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 4 {
		t.Fatalf("stored events = %d, want 4", len(stored))
	}
	for _, e := range stored {
		if e.Phone != "*********4567" {
			t.Errorf("%s event phone = %q, want masked", e.Event, e.Phone)
		}
		if e.Token != "" && len(e.Token) == 12 && e.Token == issued.Token {
			t.Errorf("%s event stored unmasked token", e.Event)
		}
	}
}

func TestClaimWithoutEligibleTier(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	// Only the seeded tier exists and it requires 10 coupons.
	issued, err := f.orchestrator.Issue(ctx, "05551234567")
	if err != nil {
		t.Fatal(err)
	}
	result, err := f.orchestrator.Claim(ctx, "05551234567", issued.Token)
	if err != nil {
		t.Fatal(err)
	}
	if result.Redeemed {
		t.Fatal("claim redeemed with balance 1 against a 10-coupon tier")
	}
	if result.Balance != 1 {
		t.Errorf("balance = %d, want 1", result.Balance)
	}
}

func TestExpireSweep(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	first, err := f.orchestrator.Issue(ctx, "05551234567")
	if err != nil {
		t.Fatal(err)
	}
	f.advance(time.Minute)
	if _, err := f.orchestrator.Issue(ctx, "05559876543"); err != nil {
		t.Fatal(err)
	}

	f.advance(73 * time.Hour)
	expired, err := f.orchestrator.ExpireSweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if expired != 2 {
		t.Fatalf("expired = %d, want 2", expired)
	}

	token, err := f.coupons.GetToken(ctx, first.Token)
	if err != nil {
		t.Fatal(err)
	}
	if token.Status != models.TokenStatusExpired {
		t.Errorf("status = %q, want expired", token.Status)
	}

	// Idempotent: a second sweep finds nothing.
	expired, err = f.orchestrator.ExpireSweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if expired != 0 {
		t.Errorf("second sweep expired = %d, want 0", expired)
	}
}
