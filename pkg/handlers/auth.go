package handlers

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/sedefspa/loyalty-service/pkg/models"
)

const adminSessionTTL = 12 * time.Hour

// AuthHandler issues and verifies admin session tokens.
type AuthHandler struct {
	adminKey  []byte
	jwtSecret []byte
}

func NewAuthHandler(adminKey, jwtSecret string) *AuthHandler {
	return &AuthHandler{adminKey: []byte(adminKey), jwtSecret: []byte(jwtSecret)}
}

// Login exchanges the configured admin key for a short-lived session token.
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.AdminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondCode(c, http.StatusBadRequest, CodeInvalidRequest)
		return
	}

	if subtle.ConstantTimeCompare([]byte(req.Key), h.adminKey) != 1 {
		logrus.Warn("Login: invalid admin key")
		respondCode(c, http.StatusUnauthorized, CodeUnauthorized)
		return
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   "admin",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(adminSessionTTL)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.jwtSecret)
	if err != nil {
		logrus.WithError(err).Error("Login: failed to sign session token")
		respondCode(c, http.StatusInternalServerError, CodeInternalError)
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": signed})
}

// Middleware rejects requests without a valid admin session token.
func (h *AuthHandler) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			respondCode(c, http.StatusUnauthorized, CodeUnauthorized)
			c.Abort()
			return
		}

		parsed, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return h.jwtSecret, nil
		})
		if err != nil || !parsed.Valid {
			respondCode(c, http.StatusUnauthorized, CodeUnauthorized)
			c.Abort()
			return
		}

		c.Next()
	}
}
