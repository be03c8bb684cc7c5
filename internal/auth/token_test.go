package auth

import (
	"testing"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/config"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTokenManager() *TokenManager {
	return NewTokenManager(config.AuthConfig{
		UserJWTSecret:    "user-secret-for-tests-0123456789",
		UserTokenExpiry:  time.Hour,
		AdminJWTSecret:   "admin-secret-for-tests-012345678",
		AdminTokenExpiry: time.Hour,
	})
}

func TestTokenManager_UserRoundTrip(t *testing.T) {
	tm := newTestTokenManager()
	user := &models.User{ID: "user-1", Role: models.RoleCustomer}

	token, err := tm.IssueUserToken(user)
	require.NoError(t, err)

	claims, err := tm.ValidateUserToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, models.RoleCustomer, claims.Role)
	assert.NotEmpty(t, claims.ID)
	assert.Equal(t, jwt.ClaimStrings{models.AudienceUser}, claims.Audience)
	assert.WithinDuration(t, time.Now().Add(time.Hour), ExpiresAt(claims), 5*time.Second)
}

func TestTokenManager_UniqueJTI(t *testing.T) {
	tm := newTestTokenManager()
	user := &models.User{ID: "user-1", Role: models.RoleClient}

	a, err := tm.IssueUserToken(user)
	require.NoError(t, err)
	b, err := tm.IssueUserToken(user)
	require.NoError(t, err)

	ca, err := tm.ValidateUserToken(a)
	require.NoError(t, err)
	cb, err := tm.ValidateUserToken(b)
	require.NoError(t, err)
	assert.NotEqual(t, ca.ID, cb.ID)
}

func TestTokenManager_TenantsAreSeparate(t *testing.T) {
	tm := newTestTokenManager()

	userToken, err := tm.IssueUserToken(&models.User{ID: "u", Role: models.RoleCustomer})
	require.NoError(t, err)
	adminToken, err := tm.IssueAdminToken(&models.Admin{ID: "a", Role: models.AdminRoleAdmin})
	require.NoError(t, err)

	_, err = tm.ValidateAdminToken(userToken)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
	_, err = tm.ValidateUserToken(adminToken)
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	claims, err := tm.ValidateAdminToken(adminToken)
	require.NoError(t, err)
	assert.Equal(t, "a", claims.Subject)
}

func TestTokenManager_Expired(t *testing.T) {
	tm := newTestTokenManager()
	issued := time.Now().Add(-2 * time.Hour)
	tm.now = func() time.Time { return issued }
	token, err := tm.IssueUserToken(&models.User{ID: "u", Role: models.RoleCustomer})
	require.NoError(t, err)

	tm.now = time.Now
	_, err = tm.ValidateUserToken(token)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestTokenManager_RejectsOtherAlgorithms(t *testing.T) {
	tm := newTestTokenManager()
	claims := &models.TokenClaims{
		Role: models.RoleCustomer,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "jti",
			Subject:   "u",
			Audience:  jwt.ClaimStrings{models.AudienceUser},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = tm.ValidateUserToken(none)
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(tm.userSecret)
	require.NoError(t, err)
	_, err = tm.ValidateUserToken(hs512)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}
