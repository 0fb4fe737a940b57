package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sedefspa/loyalty-service/pkg/masking"
	"github.com/sedefspa/loyalty-service/pkg/models"
)

// EventRepository is the append-only audit trail. Rows are never updated or
// deleted; phone and token fields are masked before they reach storage.
type EventRepository struct {
	db *sql.DB
}

func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

func maskDetails(d models.EventDetails) models.EventDetails {
	d.Phone = masking.MaskPhone(d.Phone)
	d.Token = masking.MaskToken(d.Token)
	return d
}

// Append writes one masked audit record. The returned event keeps the
// caller's original unmasked values for same-request correlation; only the
// durable copy is masked.
func (r *EventRepository) Append(ctx context.Context, event models.CouponEvent) (models.CouponEvent, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	detailsJSON, err := json.Marshal(maskDetails(event.Details))
	if err != nil {
		return models.CouponEvent{}, fmt.Errorf("marshal event details: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO coupon_events (id, phone, event, token, details, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		event.ID,
		masking.MaskPhone(event.Phone),
		event.Event,
		masking.MaskToken(event.Token),
		string(detailsJSON),
		toMillis(event.CreatedAt),
	)
	if err != nil {
		return models.CouponEvent{}, fmt.Errorf("append event: %w", err)
	}
	return event, nil
}

const eventColumns = `id, phone, event, token, details, created_at`

func scanEvents(rows *sql.Rows) ([]models.CouponEvent, error) {
	var events []models.CouponEvent
	for rows.Next() {
		var e models.CouponEvent
		var details string
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.Phone, &e.Event, &e.Token, &details, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
			return nil, fmt.Errorf("unmarshal event details: %w", err)
		}
		e.CreatedAt = fromMillis(createdAt)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func (r *EventRepository) query(ctx context.Context, where string, limit, offset int, args ...any) ([]models.CouponEvent, error) {
	q := `SELECT ` + eventColumns + ` FROM coupon_events`
	if where != "" {
		q += ` WHERE ` + where
	}
	q += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ByPhone returns events for one phone number. Phones are masked at rest,
// so the lookup matches on the masked form of the given phone.
func (r *EventRepository) ByPhone(ctx context.Context, phone string, limit, offset int) ([]models.CouponEvent, error) {
	return r.query(ctx, `phone = ?`, limit, offset, masking.MaskPhone(phone))
}

// ByToken matches on the masked form of the given token.
func (r *EventRepository) ByToken(ctx context.Context, token string, limit, offset int) ([]models.CouponEvent, error) {
	return r.query(ctx, `token = ?`, limit, offset, masking.MaskToken(token))
}

func (r *EventRepository) ByType(ctx context.Context, eventType string, limit, offset int) ([]models.CouponEvent, error) {
	return r.query(ctx, `event = ?`, limit, offset, eventType)
}

func (r *EventRepository) Recent(ctx context.Context, limit, offset int) ([]models.CouponEvent, error) {
	return r.query(ctx, "", limit, offset)
}

// CountsByType returns the number of stored events per event type.
func (r *EventRepository) CountsByType(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT event, COUNT(*) FROM coupon_events GROUP BY event`,
	)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var event string
		var count int
		if err := rows.Scan(&event, &count); err != nil {
			return nil, fmt.Errorf("scan event count: %w", err)
		}
		counts[event] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event counts: %w", err)
	}
	return counts, nil
}
