package api

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"github.com/cellemitter/emitter/pkg/logger"
)

// ErrUnauthorized is returned when a mutating call lacks a valid token
var ErrUnauthorized = errors.New("unauthorized")

const tokenIssuer = "emitter"

// AuthMiddleware checks HS256 bearer tokens
type AuthMiddleware struct {
	jwtSecret []byte
	logger    *logger.Logger
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(jwtSecret string, log *logger.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		jwtSecret: []byte(jwtSecret),
		logger:    log.Named("auth"),
	}
}

// Authorize validates an Authorization header value of the form
// "Bearer <token>"
func (a *AuthMiddleware) Authorize(header string) error {
	tokenString, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || tokenString == "" {
		return fmt.Errorf("%w: bearer token required", ErrUnauthorized)
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.jwtSecret, nil
	})
	if err != nil {
		a.logger.Debug("JWT validation failed", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !token.Valid {
		return fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}
	return nil
}

// GenerateJWT issues a token for subject that expires after ttl
func (a *AuthMiddleware) GenerateJWT(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    tokenIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.jwtSecret)
}

// ginLogger logs every request
func ginLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Debug("API request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}
