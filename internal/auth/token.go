package auth

import (
	"fmt"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/config"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenManager signs and verifies HS256 access tokens. User and admin tokens
// use separate secrets and audiences, so neither can stand in for the other.
type TokenManager struct {
	userSecret  []byte
	userTTL     time.Duration
	adminSecret []byte
	adminTTL    time.Duration
	now         func() time.Time
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(cfg config.AuthConfig) *TokenManager {
	return &TokenManager{
		userSecret:  []byte(cfg.UserJWTSecret),
		userTTL:     cfg.UserTokenExpiry,
		adminSecret: []byte(cfg.AdminJWTSecret),
		adminTTL:    cfg.AdminTokenExpiry,
		now:         time.Now,
	}
}

// IssueUserToken signs a token for user scoped to its role.
func (tm *TokenManager) IssueUserToken(user *models.User) (string, error) {
	return tm.sign(tm.userSecret, models.AudienceUser, user.ID, user.Role, tm.userTTL)
}

// IssueAdminToken signs a token for admin.
func (tm *TokenManager) IssueAdminToken(admin *models.Admin) (string, error) {
	return tm.sign(tm.adminSecret, models.AudienceAdmin, admin.ID, admin.Role, tm.adminTTL)
}

// ValidateUserToken verifies a user token and returns its claims
func (tm *TokenManager) ValidateUserToken(token string) (*models.TokenClaims, error) {
	return tm.validate(token, tm.userSecret, models.AudienceUser)
}

// ValidateAdminToken verifies an admin token and returns its claims
func (tm *TokenManager) ValidateAdminToken(token string) (*models.TokenClaims, error) {
	return tm.validate(token, tm.adminSecret, models.AudienceAdmin)
}

func (tm *TokenManager) sign(secret []byte, audience, subject, role string, ttl time.Duration) (string, error) {
	now := tm.now()
	claims := &models.TokenClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Audience:  jwt.ClaimStrings{audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", audience, err)
	}
	return signed, nil
}

func (tm *TokenManager) validate(token string, secret []byte, audience string) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}

	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(tm.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUnauthorized, err)
	}
	if !parsed.Valid || claims.Subject == "" || claims.ID == "" {
		return nil, models.ErrUnauthorized
	}

	return claims, nil
}

// ExpiresAt returns the token expiry, or the zero time when absent.
func ExpiresAt(claims *models.TokenClaims) time.Time {
	if claims == nil || claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
