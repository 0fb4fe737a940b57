package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/sedefspa/loyalty-service/pkg/coupon"
	"github.com/sedefspa/loyalty-service/pkg/masking"
	"github.com/sedefspa/loyalty-service/pkg/models"
	"github.com/sedefspa/loyalty-service/pkg/repository"
)

// CouponHandler serves the public consume and claim endpoints. Both pass
// the rate-limit gate before the orchestrator runs; the gate lives here
// because the subject is the normalized phone from the request body.
type CouponHandler struct {
	orchestrator *coupon.Orchestrator
	limits       *repository.RateLimitRepository
	events       *repository.EventRepository
	consumeLimit int
	claimLimit   int
}

func NewCouponHandler(orchestrator *coupon.Orchestrator, limits *repository.RateLimitRepository, events *repository.EventRepository, consumeLimit, claimLimit int) *CouponHandler {
	return &CouponHandler{
		orchestrator: orchestrator,
		limits:       limits,
		events:       events,
		consumeLimit: consumeLimit,
		claimLimit:   claimLimit,
	}
}

// gate admits or rejects the request against the per-day endpoint cap and
// records a rate_limited audit event on rejection. Returns false when the
// response has already been written.
func (h *CouponHandler) gate(c *gin.Context, log *logrus.Entry, phone, endpoint string, limit int) bool {
	decision, err := h.limits.CheckAndIncrement(c.Request.Context(), phone, endpoint, limit, time.Now())
	if err != nil {
		respondError(c, log, err)
		return false
	}
	if decision.Allowed {
		return true
	}

	if _, err := h.events.Append(c.Request.Context(), models.CouponEvent{
		Phone: phone,
		Event: models.EventRateLimited,
		Details: models.EventDetails{
			Phone:      phone,
			Endpoint:   endpoint,
			RetryAfter: decision.RetryAfter,
		},
	}); err != nil {
		log.WithError(err).Error("Failed to record rate_limited event")
	}

	log.WithField("retry_after", decision.RetryAfter).Warn("Request rate limited")
	respondRateLimited(c, decision.RetryAfter)
	return false
}

// ConsumeCoupon spends one unit of the customer's daily allowance and
// issues a fresh single-use redemption token.
func (h *CouponHandler) ConsumeCoupon(c *gin.Context) {
	var req models.ConsumeCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.WithField("error", err).Warn("ConsumeCoupon: Invalid request body")
		respondCode(c, http.StatusBadRequest, CodeInvalidRequest)
		return
	}

	phone, err := h.orchestrator.NormalizePhone(req.Phone)
	if err != nil {
		logrus.Warn("ConsumeCoupon: Invalid phone number")
		respondCode(c, http.StatusBadRequest, CodeInvalidPhone)
		return
	}

	log := logrus.WithFields(logrus.Fields{
		"phone":    masking.MaskPhone(phone),
		"endpoint": models.EndpointConsume,
	})

	if !h.gate(c, log, phone, models.EndpointConsume, h.consumeLimit) {
		return
	}

	issued, err := h.orchestrator.Issue(c.Request.Context(), phone)
	if err != nil {
		respondError(c, log, err)
		return
	}

	log.WithField("token", masking.MaskToken(issued.Token)).Info("Coupon token issued")
	c.JSON(http.StatusOK, models.ConsumeCouponResponse{
		Token:     issued.Token,
		Status:    issued.Status,
		ExpiresAt: issued.ExpiresAt,
	})
}

// ClaimCoupon consumes a previously issued token into the wallet and
// redeems the best active tier the new balance satisfies.
func (h *CouponHandler) ClaimCoupon(c *gin.Context) {
	var req models.ClaimCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.WithField("error", err).Warn("ClaimCoupon: Invalid request body")
		respondCode(c, http.StatusBadRequest, CodeInvalidRequest)
		return
	}

	phone, err := h.orchestrator.NormalizePhone(req.Phone)
	if err != nil {
		logrus.Warn("ClaimCoupon: Invalid phone number")
		respondCode(c, http.StatusBadRequest, CodeInvalidPhone)
		return
	}

	log := logrus.WithFields(logrus.Fields{
		"phone":    masking.MaskPhone(phone),
		"token":    masking.MaskToken(req.Token),
		"endpoint": models.EndpointClaim,
	})

	if !h.gate(c, log, phone, models.EndpointClaim, h.claimLimit) {
		return
	}

	result, err := h.orchestrator.Claim(c.Request.Context(), phone, req.Token)
	if err != nil {
		respondError(c, log, err)
		return
	}

	log.WithFields(logrus.Fields{
		"redeemed": result.Redeemed,
		"balance":  result.Balance,
	}).Info("Coupon token claimed")
	c.JSON(http.StatusOK, models.ClaimCouponResponse{
		Redeemed: result.Redeemed,
		Tier:     result.Tier,
		Balance:  result.Balance,
	})
}
