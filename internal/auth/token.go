// Package auth issues and verifies bearer tokens and hashes passwords.
package auth

import (
	"errors"
	"fmt"
	"time"

	"techstore/internal/apperr"
	"techstore/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the JWT payload.
type Claims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// TokenManager signs and verifies HS256 tokens.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// NewTokenManager creates a TokenManager. ttl must be positive.
func NewTokenManager(secret string, ttl time.Duration) (*TokenManager, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("invalid token ttl: %s", ttl)
	}
	return &TokenManager{
		secret: []byte(secret),
		ttl:    ttl,
		issuer: "techstore",
		now:    time.Now,
	}, nil
}

// Issue signs a token for user and returns it with its expiry.
func (m *TokenManager) Issue(user *models.User) (string, time.Time, error) {
	now := m.now()
	expiresAt := now.Add(m.ttl)

	claims := &Claims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    m.issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse verifies tokenString and returns its claims. Every failure is an
// ErrUnauthorized.
func (m *TokenManager) Parse(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, apperr.Unauthorized("access token required")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperr.Unauthorized("token expired")
		}
		return nil, apperr.Unauthorized("invalid token")
	}
	if !token.Valid || claims.UserID == "" {
		return nil, apperr.Unauthorized("invalid token")
	}
	return claims, nil
}

// HasRole reports whether role is one of allowed.
func HasRole(role string, allowed ...string) bool {
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}
