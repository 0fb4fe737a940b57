package repository

import (
	"context"
	"testing"
	"time"

	"github.com/sedefspa/loyalty-service/pkg/models"
)

func TestAppendMasksAtRestButNotInReturn(t *testing.T) {
	t.Parallel()

	repo := NewEventRepository(openTestDB(t))
	ctx := context.Background()

	appended, err := repo.Append(ctx, models.CouponEvent{
		Phone: "+905551234567",
		Event: models.EventConsumed,
		Token: "ABC123DEF456",
		Details: models.EventDetails{
			Phone: "+905551234567",
			Token: "ABC123DEF456",
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	// Caller keeps the original values for same-request correlation.
	if appended.Phone != "+905551234567" || appended.Token != "ABC123DEF456" {
		t.Errorf("Append return masked: phone=%q token=%q", appended.Phone, appended.Token)
	}
	if appended.ID == "" {
		t.Error("Append did not assign an id")
	}

	stored, err := repo.Recent(ctx, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 {
		t.Fatalf("len(stored) = %d, want 1", len(stored))
	}
	if stored[0].Phone != "*********4567" {
		t.Errorf("stored phone = %q, want masked", stored[0].Phone)
	}
	if stored[0].Token != "ABC1****F456" {
		t.Errorf("stored token = %q, want masked", stored[0].Token)
	}
	if stored[0].Details.Phone != "*********4567" {
		t.Errorf("stored details.phone = %q, want masked", stored[0].Details.Phone)
	}
	if stored[0].Details.Token != "ABC1****F456" {
		t.Errorf("stored details.token = %q, want masked", stored[0].Details.Token)
	}
}

func TestQueriesFilterAndOrder(t *testing.T) {
	t.Parallel()

	repo := NewEventRepository(openTestDB(t))
	ctx := context.Background()
	base := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

	for i, event := range []string{models.EventIssued, models.EventConsumed, models.EventRedeemed} {
		if _, err := repo.Append(ctx, models.CouponEvent{
			Phone:     "+905551234567",
			Event:     event,
			Token:     "ABC123DEF456",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := repo.Append(ctx, models.CouponEvent{
		Phone:     "+905559876543",
		Event:     models.EventIssued,
		CreatedAt: base.Add(time.Hour),
	}); err != nil {
		t.Fatal(err)
	}

	recent, err := repo.Recent(ctx, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 4 {
		t.Fatalf("len(recent) = %d, want 4", len(recent))
	}
	for i := 1; i < len(recent); i++ {
		if recent[i].CreatedAt.After(recent[i-1].CreatedAt) {
			t.Fatal("events not ordered by created_at descending")
		}
	}

	byPhone, err := repo.ByPhone(ctx, "+905551234567", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(byPhone) != 3 {
		t.Fatalf("len(byPhone) = %d, want 3", len(byPhone))
	}

	byToken, err := repo.ByToken(ctx, "ABC123DEF456", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(byToken) != 3 {
		t.Fatalf("len(byToken) = %d, want 3", len(byToken))
	}

	byType, err := repo.ByType(ctx, models.EventIssued, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(byType) != 2 {
		t.Fatalf("len(byType) = %d, want 2", len(byType))
	}

	counts, err := repo.CountsByType(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts[models.EventIssued] != 2 || counts[models.EventConsumed] != 1 || counts[models.EventRedeemed] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestRecentPagination(t *testing.T) {
	t.Parallel()

	repo := NewEventRepository(openTestDB(t))
	ctx := context.Background()
	base := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		if _, err := repo.Append(ctx, models.CouponEvent{
			Phone:     "+905551234567",
			Event:     models.EventIssued,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatal(err)
		}
	}

	first, err := repo.Recent(ctx, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	second, err := repo.Recent(ctx, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("page sizes = %d, %d, want 2, 2", len(first), len(second))
	}
	if first[0].ID == second[0].ID {
		t.Error("pages overlap")
	}
}
