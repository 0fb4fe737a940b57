package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/sedefspa/loyalty-service/pkg/coupon"
	"github.com/sedefspa/loyalty-service/pkg/phone"
	"github.com/sedefspa/loyalty-service/pkg/repository"
)

// Stable machine-readable error codes surfaced to clients.
const (
	CodeInvalidRequest      = "invalid_request"
	CodeInvalidPhone        = "invalid_phone"
	CodeInvalidPolicyValue  = "invalid_policy_value"
	CodeRateLimited         = "rate_limited"
	CodeTokenNotFound       = "token_not_found"
	CodeTokenExpired        = "token_expired"
	CodeTokenConsumed       = "token_already_consumed"
	CodeTierNotFound        = "tier_not_found"
	CodeTierInactive        = "tier_inactive"
	CodeInsufficientBalance = "insufficient_balance"
	CodeLastTierViolation   = "last_tier_violation"
	CodeUnauthorized        = "unauthorized"
	CodeInternalError       = "internal_error"
)

type localizedMessage struct {
	en string
	tr string
}

var messages = map[string]localizedMessage{
	CodeInvalidRequest:      {"Invalid request body", "Geçersiz istek gövdesi"},
	CodeInvalidPhone:        {"Invalid phone number", "Geçersiz telefon numarası"},
	CodeInvalidPolicyValue:  {"Policy value out of range", "Politika değeri aralık dışında"},
	CodeRateLimited:         {"Too many attempts, try again later", "Çok fazla deneme, daha sonra tekrar deneyin"},
	CodeTokenNotFound:       {"Coupon code not found", "Kupon kodu bulunamadı"},
	CodeTokenExpired:        {"Coupon code has expired", "Kupon kodunun süresi dolmuş"},
	CodeTokenConsumed:       {"Coupon code already used", "Kupon kodu zaten kullanılmış"},
	CodeTierNotFound:        {"Reward not found", "Ödül bulunamadı"},
	CodeTierInactive:        {"Reward is not available", "Ödül şu anda kullanılamıyor"},
	CodeInsufficientBalance: {"Not enough coupons for this reward", "Bu ödül için yeterli kupon yok"},
	CodeLastTierViolation:   {"At least one active reward must remain", "En az bir aktif ödül kalmalıdır"},
	CodeUnauthorized:        {"Admin session required", "Yönetici oturumu gerekli"},
	CodeInternalError:       {"Something went wrong", "Bir şeyler ters gitti"},
}

type errorBody struct {
	Error      string `json:"error"`
	MessageTr  string `json:"message_tr"`
	Code       string `json:"code"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

func respondCode(c *gin.Context, status int, code string) {
	msg := messages[code]
	c.JSON(status, errorBody{Error: msg.en, MessageTr: msg.tr, Code: code})
}

func respondRateLimited(c *gin.Context, retryAfter int) {
	msg := messages[CodeRateLimited]
	c.Header("Retry-After", strconv.Itoa(retryAfter))
	c.JSON(http.StatusTooManyRequests, errorBody{
		Error:      msg.en,
		MessageTr:  msg.tr,
		Code:       CodeRateLimited,
		RetryAfter: retryAfter,
	})
}

// respondError maps the error taxonomy onto HTTP statuses and stable codes.
// Unexpected errors are logged with full context and surfaced as a generic
// 500 without internal detail.
func respondError(c *gin.Context, log *logrus.Entry, err error) {
	var rl *coupon.RateLimitedError
	switch {
	case errors.Is(err, phone.ErrInvalidPhone):
		respondCode(c, http.StatusBadRequest, CodeInvalidPhone)
	case errors.Is(err, repository.ErrInvalidPolicyValue):
		respondCode(c, http.StatusBadRequest, CodeInvalidPolicyValue)
	case errors.As(err, &rl):
		respondRateLimited(c, rl.RetryAfter)
	case errors.Is(err, repository.ErrTokenNotFound):
		respondCode(c, http.StatusNotFound, CodeTokenNotFound)
	case errors.Is(err, repository.ErrTokenExpired):
		respondCode(c, http.StatusConflict, CodeTokenExpired)
	case errors.Is(err, repository.ErrTokenAlreadyConsumed):
		respondCode(c, http.StatusConflict, CodeTokenConsumed)
	case errors.Is(err, repository.ErrTierNotFound):
		respondCode(c, http.StatusNotFound, CodeTierNotFound)
	case errors.Is(err, repository.ErrTierInactive):
		respondCode(c, http.StatusConflict, CodeTierInactive)
	case errors.Is(err, repository.ErrInsufficientBalance):
		respondCode(c, http.StatusConflict, CodeInsufficientBalance)
	case errors.Is(err, repository.ErrLastTierViolation):
		respondCode(c, http.StatusConflict, CodeLastTierViolation)
	default:
		log.WithError(err).Error("Unexpected storage failure")
		respondCode(c, http.StatusInternalServerError, CodeInternalError)
	}
}
