package handler

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const serviceClaimsKey = "service_claims"

// ServiceClaims are the JWT claims carried by a service token. The control
// plane is consumed service-to-service; the dashboard backend exchanges the
// shared admin key for a short-lived token and attaches it to every call.
type ServiceClaims struct {
	jwt.RegisteredClaims
	Service string `json:"service"`
}

// TokenIssuer issues and verifies service tokens with an HMAC-SHA256 key.
type TokenIssuer struct {
	key    []byte
	issuer string
	ttl    time.Duration
}

// NewTokenIssuer creates a TokenIssuer. A zero ttl defaults to 8 hours.
func NewTokenIssuer(key []byte, issuerURL string, ttl time.Duration) *TokenIssuer {
	if ttl == 0 {
		ttl = 8 * time.Hour
	}
	return &TokenIssuer{key: key, issuer: issuerURL, ttl: ttl}
}

// Issue creates a signed service token for the named caller.
func (t *TokenIssuer) Issue(service string) (string, error) {
	now := time.Now().UTC()
	claims := ServiceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   service,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			ID:        uuid.New().String(),
		},
		Service: service,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.key)
	if err != nil {
		return "", fmt.Errorf("sign service token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a service token, returning its claims.
func (t *TokenIssuer) Verify(tokenStr string) (*ServiceClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&ServiceClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return t.key, nil
		},
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("verify service token: %w", err)
	}
	claims, ok := token.Claims.(*ServiceClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid service token claims")
	}
	if claims.Service == "" {
		return nil, fmt.Errorf("not a service token")
	}
	return claims, nil
}

// AuthHandler exchanges the admin key for service tokens.
type AuthHandler struct {
	adminKeyHash []byte // bcrypt hash of the shared admin key
	tokens       *TokenIssuer
	logger       *zap.Logger
}

// NewAuthHandler creates an AuthHandler. adminKeyHash is the bcrypt hash of
// the admin key; the plaintext key is never held in memory by the server.
func NewAuthHandler(adminKeyHash []byte, tokens *TokenIssuer, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{adminKeyHash: adminKeyHash, tokens: tokens, logger: logger}
}

// Register mounts the auth routes on the given router group.
func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	auth := rg.Group("/auth")
	{
		auth.POST("/token", h.IssueToken)
	}
}

type tokenRequest struct {
	Service  string `json:"service"   binding:"required"`
	AdminKey string `json:"admin_key" binding:"required"`
}

// IssueToken handles POST /auth/token — exchanges the admin key for a
// short-lived service token.
func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := bcrypt.CompareHashAndPassword(h.adminKeyHash, []byte(req.AdminKey)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid admin key"})
		return
	}

	tok, err := h.tokens.Issue(req.Service)
	if err != nil {
		h.logger.Error("issue service token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": tok})
}

// RequireServiceToken returns a middleware that rejects requests without a
// valid Bearer service token.
func RequireServiceToken(tokens *TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := tokens.Verify(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(serviceClaimsKey, claims)
		c.Next()
	}
}

// ServiceClaimsFromCtx returns the verified claims set by RequireServiceToken,
// or nil when the request was not authenticated.
func ServiceClaimsFromCtx(c *gin.Context) *ServiceClaims {
	v, ok := c.Get(serviceClaimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*ServiceClaims)
	return claims
}
