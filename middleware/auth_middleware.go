package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/zerotrust-labs/agent-gate/utils"
	"go.uber.org/zap"
)

// TokenValidator defines the interface for validating bearer tokens
type TokenValidator interface {
	// ValidateToken validates a JWT token and returns claims
	ValidateToken(ctx context.Context, token string) (*Claims, error)
}

// AuthMiddleware provides authentication middleware functionality
type AuthMiddleware struct {
	validator TokenValidator
	logger    *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(validator TokenValidator, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		validator: validator,
		logger:    logger,
	}
}

// RequireAuth is a middleware that requires a valid JWT bearer token.
// The authenticated subject lands in the request context as Claims.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		token := extractToken(r)
		if token == "" {
			m.logger.Warn("missing bearer token",
				zap.String("request_id", requestID))
			_ = utils.WriteUnauthorized(w, "Missing or invalid authorization")
			return
		}

		claims, err := m.validator.ValidateToken(ctx, token)
		if err != nil {
			m.logger.Warn("token validation failed",
				zap.String("request_id", requestID),
				zap.Error(err))
			_ = utils.WriteUnauthorized(w, "Invalid or expired token")
			return
		}

		ctx = WithClaims(ctx, claims)

		m.logger.Debug("authentication successful",
			zap.String("request_id", requestID),
			zap.String("sub", claims.Sub))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractToken pulls the token from the Authorization header
func extractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// HMACValidator validates HS256-signed tokens against a shared secret
type HMACValidator struct {
	secret []byte
	issuer string
}

// NewHMACValidator creates an HMACValidator. The issuer is enforced
// when non-empty.
func NewHMACValidator(secret, issuer string) *HMACValidator {
	return &HMACValidator{secret: []byte(secret), issuer: issuer}
}

// ValidateToken parses and verifies the token, rejecting any signing
// method other than HS256
func (v *HMACValidator) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	if len(v.secret) == 0 {
		return nil, errors.New("no signing secret configured")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	reg, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if reg.Subject == "" {
		return nil, errors.New("token has no subject")
	}

	claims := &Claims{
		Sub: reg.Subject,
		Iss: reg.Issuer,
	}
	if reg.ExpiresAt != nil {
		claims.Exp = reg.ExpiresAt.Unix()
	}
	if reg.IssuedAt != nil {
		claims.Iat = reg.IssuedAt.Unix()
	}
	return claims, nil
}
