package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/sedefspa/loyalty-service/pkg/models"
	"github.com/sedefspa/loyalty-service/pkg/repository"
)

// AdminHandler serves the policy and audit endpoints behind the admin
// session middleware. Every policy mutation appends one audit event.
type AdminHandler struct {
	policy *repository.PolicyRepository
	events *repository.EventRepository
}

func NewAdminHandler(policy *repository.PolicyRepository, events *repository.EventRepository) *AdminHandler {
	return &AdminHandler{policy: policy, events: events}
}

func (h *AdminHandler) recordPolicyChange(c *gin.Context, details models.EventDetails) {
	if _, err := h.events.Append(c.Request.Context(), models.CouponEvent{
		Event:   models.EventPolicyUpdated,
		Details: details,
	}); err != nil {
		logrus.WithError(err).Error("Failed to record policy_updated event")
	}
}

// GetPolicy returns the settings singleton and all reward tiers.
func (h *AdminHandler) GetPolicy(c *gin.Context) {
	log := logrus.WithField("handler", "GetPolicy")
	settings, err := h.policy.GetSettings(c.Request.Context())
	if err != nil {
		respondError(c, log, err)
		return
	}
	tiers, err := h.policy.ListTiers(c.Request.Context())
	if err != nil {
		respondError(c, log, err)
		return
	}
	if tiers == nil {
		tiers = make([]models.RewardTier, 0)
	}
	c.JSON(http.StatusOK, models.PolicyResponse{Settings: settings, Tiers: tiers})
}

// UpdateSettings applies a partial, range-validated settings update.
func (h *AdminHandler) UpdateSettings(c *gin.Context) {
	var req models.UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.WithField("error", err).Warn("UpdateSettings: Invalid request body")
		respondCode(c, http.StatusBadRequest, CodeInvalidRequest)
		return
	}

	var changed []string
	if req.TokenExpirationHours != nil {
		changed = append(changed, "token_expiration_hours")
	}
	if req.MaxCouponsPerDay != nil {
		changed = append(changed, "max_coupons_per_day")
	}
	if req.DefaultRedemptionThreshold != nil {
		changed = append(changed, "default_redemption_threshold")
	}
	// A body with no fields updates nothing; rejecting it keeps the audit
	// log free of empty policy_updated entries.
	if len(changed) == 0 {
		logrus.Warn("UpdateSettings: No settings provided")
		respondCode(c, http.StatusBadRequest, CodeInvalidRequest)
		return
	}

	settings, err := h.policy.UpdateSettings(c.Request.Context(), req)
	if err != nil {
		respondError(c, logrus.WithField("changed", changed), err)
		return
	}

	h.recordPolicyChange(c, models.EventDetails{Setting: strings.Join(changed, ",")})
	logrus.WithField("changed", changed).Info("Policy settings updated")
	c.JSON(http.StatusOK, settings)
}

func (h *AdminHandler) CreateTier(c *gin.Context) {
	var req models.CreateTierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.WithField("error", err).Warn("CreateTier: Invalid request body")
		respondCode(c, http.StatusBadRequest, CodeInvalidRequest)
		return
	}

	tier, err := h.policy.CreateTier(c.Request.Context(), req)
	if err != nil {
		respondError(c, logrus.WithField("tier_name", req.Name), err)
		return
	}

	h.recordPolicyChange(c, models.EventDetails{
		Setting:  "tier_created",
		TierID:   tier.ID,
		TierName: tier.Name,
	})
	c.JSON(http.StatusCreated, tier)
}

func (h *AdminHandler) UpdateTier(c *gin.Context) {
	id := c.Param("id")
	var req models.UpdateTierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.WithField("error", err).Warn("UpdateTier: Invalid request body")
		respondCode(c, http.StatusBadRequest, CodeInvalidRequest)
		return
	}

	tier, err := h.policy.UpdateTier(c.Request.Context(), id, req)
	if err != nil {
		respondError(c, logrus.WithField("tier_id", id), err)
		return
	}

	h.recordPolicyChange(c, models.EventDetails{
		Setting:  "tier_updated",
		TierID:   tier.ID,
		TierName: tier.Name,
	})
	c.JSON(http.StatusOK, tier)
}

func (h *AdminHandler) DeleteTier(c *gin.Context) {
	id := c.Param("id")
	if err := h.policy.DeleteTier(c.Request.Context(), id); err != nil {
		respondError(c, logrus.WithField("tier_id", id), err)
		return
	}

	h.recordPolicyChange(c, models.EventDetails{
		Setting: "tier_deleted",
		TierID:  id,
	})
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

// ListEvents exposes the audit trail to admin tooling. Filters: type,
// phone, token; counts=true returns per-type totals instead of rows.
func (h *AdminHandler) ListEvents(c *gin.Context) {
	ctx := c.Request.Context()
	log := logrus.WithField("handler", "ListEvents")

	if c.Query("counts") == "true" {
		counts, err := h.events.CountsByType(ctx)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"counts": counts})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= 500 {
			limit = v
		}
	}
	offset := 0
	if raw := c.Query("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			offset = v
		}
	}

	var (
		events []models.CouponEvent
		err    error
	)
	switch {
	case c.Query("phone") != "":
		events, err = h.events.ByPhone(ctx, c.Query("phone"), limit, offset)
	case c.Query("token") != "":
		events, err = h.events.ByToken(ctx, c.Query("token"), limit, offset)
	case c.Query("type") != "":
		events, err = h.events.ByType(ctx, c.Query("type"), limit, offset)
	default:
		events, err = h.events.Recent(ctx, limit, offset)
	}
	if err != nil {
		respondError(c, log, err)
		return
	}
	if events == nil {
		events = make([]models.CouponEvent, 0)
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
