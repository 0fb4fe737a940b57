package models

import (
	"time"
)

// Token lifecycle states. Consumed and expired are terminal.
const (
	TokenStatusIssued   = "issued"
	TokenStatusConsumed = "consumed"
	TokenStatusExpired  = "expired"
)

// Audit event types.
const (
	EventIssued            = "issued"
	EventConsumed          = "consumed"
	EventRedemptionAttempt = "redemption_attempted"
	EventRedeemed          = "redeemed"
	EventExpired           = "expired"
	EventRateLimited       = "rate_limited"
	EventPolicyUpdated     = "policy_updated"
)

// Rate-limited endpoint classes.
const (
	EndpointConsume = "consume"
	EndpointClaim   = "claim"
)

type CouponToken struct {
	Token      string     `json:"token"`
	Phone      string     `json:"phone"`
	IssuedAt   time.Time  `json:"issued_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
	Status     string     `json:"status"`
}

type CouponWallet struct {
	Phone     string    `json:"phone"`
	Balance   int       `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

type RewardTier struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	NameTr          string `json:"name_tr"`
	CouponsRequired int    `json:"coupons_required"`
	Description     string `json:"description"`
	DescriptionTr   string `json:"description_tr"`
	IsActive        bool   `json:"is_active"`
	SortOrder       int    `json:"sort_order"`
}

type CouponRedemption struct {
	ID              string    `json:"id"`
	Phone           string    `json:"phone"`
	TierID          string    `json:"tier_id"`
	CouponsConsumed int       `json:"coupons_consumed"`
	RedeemedAt      time.Time `json:"redeemed_at"`
}

// EventDetails is the typed payload stored with each audit event. Only the
// fields relevant to the event type are set; Phone and Token are masked
// before the record reaches storage.
type EventDetails struct {
	Phone           string `json:"phone,omitempty"`
	Token           string `json:"token,omitempty"`
	TierID          string `json:"tier_id,omitempty"`
	TierName        string `json:"tier_name,omitempty"`
	Balance         *int   `json:"balance,omitempty"`
	CouponsConsumed int    `json:"coupons_consumed,omitempty"`
	Endpoint        string `json:"endpoint,omitempty"`
	RetryAfter      int    `json:"retry_after,omitempty"`
	Setting         string `json:"setting,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

type CouponEvent struct {
	ID        string       `json:"id"`
	Phone     string       `json:"phone"`
	Event     string       `json:"event"`
	Token     string       `json:"token,omitempty"`
	Details   EventDetails `json:"details"`
	CreatedAt time.Time    `json:"created_at"`
}

type RateLimitCounter struct {
	Phone         string    `json:"phone"`
	Endpoint      string    `json:"endpoint"`
	Count         int       `json:"count"`
	WindowResetAt time.Time `json:"window_reset_at"`
}

type PolicySettings struct {
	TokenExpirationHours       int `json:"token_expiration_hours"`
	MaxCouponsPerDay           int `json:"max_coupons_per_day"`
	DefaultRedemptionThreshold int `json:"default_redemption_threshold"`
}

type ConsumeCouponRequest struct {
	Phone string `json:"phone" binding:"required"`
}

type ClaimCouponRequest struct {
	Phone string `json:"phone" binding:"required"`
	Token string `json:"token" binding:"required"`
}

type AdminLoginRequest struct {
	Key string `json:"key" binding:"required"`
}

// UpdateSettingsRequest carries a partial settings update; nil fields are
// left unchanged.
type UpdateSettingsRequest struct {
	TokenExpirationHours       *int `json:"token_expiration_hours"`
	MaxCouponsPerDay           *int `json:"max_coupons_per_day"`
	DefaultRedemptionThreshold *int `json:"default_redemption_threshold"`
}

type CreateTierRequest struct {
	Name            string `json:"name" binding:"required"`
	NameTr          string `json:"name_tr" binding:"required"`
	CouponsRequired int    `json:"coupons_required" binding:"required,min=1"`
	Description     string `json:"description"`
	DescriptionTr   string `json:"description_tr"`
	SortOrder       int    `json:"sort_order"`
}

// UpdateTierRequest carries a partial tier update; nil fields are left
// unchanged.
type UpdateTierRequest struct {
	Name            *string `json:"name"`
	NameTr          *string `json:"name_tr"`
	CouponsRequired *int    `json:"coupons_required"`
	Description     *string `json:"description"`
	DescriptionTr   *string `json:"description_tr"`
	IsActive        *bool   `json:"is_active"`
	SortOrder       *int    `json:"sort_order"`
}

type ConsumeCouponResponse struct {
	Token     string    `json:"token"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ClaimCouponResponse struct {
	Redeemed bool        `json:"redeemed"`
	Tier     *RewardTier `json:"tier,omitempty"`
	Balance  int         `json:"balance"`
}

type PolicyResponse struct {
	Settings PolicySettings `json:"settings"`
	Tiers    []RewardTier   `json:"tiers"`
}
