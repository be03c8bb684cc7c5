package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/oauth"
	"github.com/BradenHooton/gatekeeper/internal/repositories"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type authFixture struct {
	users   *MockUserRepository
	devices *MockDeviceRepository
	revoker *MockTokenRevoker
	actions *MockSecurityActions
	totp    *MockTOTP
	avatars *MockAvatarImporter
	google  *MockVerifier
	apple   *MockVerifier
	timing  *MockResponsePadder
}

func newAuthFixture() *authFixture {
	return &authFixture{
		users:   &MockUserRepository{},
		devices: &MockDeviceRepository{},
		revoker: &MockTokenRevoker{},
		actions: &MockSecurityActions{},
		totp:    &MockTOTP{},
		avatars: &MockAvatarImporter{},
		google:  &MockVerifier{},
		apple:   &MockVerifier{},
		timing:  &MockResponsePadder{},
	}
}

func (f *authFixture) service(role string) *AuthService {
	svc := NewAuthService(role, AuthDependencies{
		Users:   f.users,
		Devices: f.devices,
		Revoker: f.revoker,
		Actions: f.actions,
		Tokens:  &MockTokenIssuer{},
		TOTP:    f.totp,
		Hasher:  testHasher,
		Avatars: f.avatars,
		Verifiers: map[string]oauth.Verifier{
			models.OAuthProviderGoogle: f.google,
			models.OAuthProviderApple:  f.apple,
		},
		Timing: f.timing,
	}, testLogger)
	svc.now = func() time.Time { return fixedNow }
	return svc
}

var testDevice = Device{ID: "device-1"}

// ============================================================================
// Register
// ============================================================================

func TestAuthService_Register_Success(t *testing.T) {
	f := newAuthFixture()
	var created *models.User
	f.users.CreateFunc = func(ctx context.Context, user *models.User) (*models.User, error) {
		created = user
		out := *user
		out.ID = "user-1"
		return &out, nil
	}

	err := f.service(models.RoleCustomer).Register(context.Background(), RegisterInput{
		Email:    "  New@Example.com ",
		Password: "Str0ngPassw0rd!",
		Phone:    "+15550100",
	})
	require.NoError(t, err)

	assert.Equal(t, "new@example.com", created.Email)
	assert.Equal(t, models.RoleCustomer, created.Role)
	assert.Nil(t, created.EmailVerifiedAt)
	assert.NotEqual(t, "Str0ngPassw0rd!", created.PasswordHash)
	require.NoError(t, testHasher.Compare(created.PasswordHash, "Str0ngPassw0rd!"))

	require.Len(t, f.actions.Issued, 1)
	assert.Equal(t, models.SecurityActionOTP, f.actions.Issued[0].Type)
	assert.Equal(t, "user-1", f.actions.Issued[0].User.ID)
}

func TestAuthService_Register_VerifiedEmailConflicts(t *testing.T) {
	f := newAuthFixture()
	f.users.GetByEmailFunc = func(ctx context.Context, email string) (*models.User, error) {
		return NewTestUser("user-1", email), nil
	}

	err := f.service(models.RoleCustomer).Register(context.Background(), RegisterInput{Email: "a@example.com", Password: "Str0ngPassw0rd!"})

	var conflict *models.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "email", conflict.Field)
	assert.Empty(t, f.actions.Issued)
}

func TestAuthService_Register_UnverifiedReissuesOTP(t *testing.T) {
	f := newAuthFixture()
	existing := unverifiedUser()
	f.users.GetByEmailFunc = func(ctx context.Context, email string) (*models.User, error) { return existing, nil }
	f.users.CreateFunc = func(ctx context.Context, user *models.User) (*models.User, error) {
		t.Fatal("must not create a second account")
		return nil, nil
	}

	err := f.service(models.RoleCustomer).Register(context.Background(), RegisterInput{Email: existing.Email, Password: "Str0ngPassw0rd!"})
	require.NoError(t, err)
	require.Len(t, f.actions.Issued, 1)
	assert.Same(t, existing, f.actions.Issued[0].User)
}

func TestAuthService_Register_OtherTenantConflicts(t *testing.T) {
	f := newAuthFixture()
	f.users.GetByEmailFunc = func(ctx context.Context, email string) (*models.User, error) {
		u := unverifiedUser()
		u.Role = models.RoleClient
		return u, nil
	}

	err := f.service(models.RoleCustomer).Register(context.Background(), RegisterInput{Email: "new@example.com", Password: "Str0ngPassw0rd!"})
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestAuthService_Register_WeakPassword(t *testing.T) {
	f := newAuthFixture()
	err := f.service(models.RoleCustomer).Register(context.Background(), RegisterInput{Email: "a@example.com", Password: "short"})

	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "password", verr.Field)
}

func TestAuthService_Register_RaceOnCreateConflicts(t *testing.T) {
	f := newAuthFixture()
	f.users.CreateFunc = func(ctx context.Context, user *models.User) (*models.User, error) {
		return nil, models.ErrConflict
	}
	err := f.service(models.RoleClient).Register(context.Background(), RegisterInput{Email: "a@example.com", Password: "Str0ngPassw0rd!"})

	var conflict *models.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "email", conflict.Field)
}

// ============================================================================
// VerifyOTP / ResendOTP
// ============================================================================

func TestAuthService_VerifyOTP_Success(t *testing.T) {
	f := newAuthFixture()
	user := unverifiedUser()
	f.users.GetByEmailFunc = func(ctx context.Context, email string) (*models.User, error) { return user, nil }

	var patch models.UserPatch
	f.actions.ConsumeFunc = func(ctx context.Context, u *models.User, actionType models.SecurityActionType, secret string, effect repositories.ActionEffect) (*models.SecurityAction, error) {
		assert.Equal(t, models.SecurityActionOTP, actionType)
		assert.Equal(t, "12345", secret)
		var err error
		patch, err = effect(&models.SecurityAction{})
		require.NoError(t, err)
		return &models.SecurityAction{Status: models.SecurityActionUsed}, nil
	}
	var registered string
	f.devices.UpsertFunc = func(ctx context.Context, userID, deviceID string, fcm *string) (*models.UserDevice, error) {
		registered = deviceID
		return &models.UserDevice{}, nil
	}

	resp, err := f.service(models.RoleCustomer).VerifyOTP(context.Background(), user.Email, "12345", testDevice)
	require.NoError(t, err)
	assert.Equal(t, "user-token-user-1", resp.Token)
	assert.Equal(t, fixedNow, *patch.EmailVerifiedAt)
	assert.Equal(t, "device-1", registered)
}

func TestAuthService_VerifyOTP_WrongCode(t *testing.T) {
	f := newAuthFixture()
	f.users.GetByEmailFunc = func(ctx context.Context, email string) (*models.User, error) { return unverifiedUser(), nil }
	f.devices.UpsertFunc = func(context.Context, string, string, *string) (*models.UserDevice, error) {
		t.Fatal("device must not be registered")
		return nil, nil
	}

	_, err := f.service(models.RoleCustomer).VerifyOTP(context.Background(), "new@example.com", "00000", testDevice)
	assert.ErrorIs(t, err, models.ErrInvalidOrExpired)
}

func TestAuthService_VerifyOTP_UnknownEmailLooksLikeBadCode(t *testing.T) {
	f := newAuthFixture()
	_, err := f.service(models.RoleCustomer).VerifyOTP(context.Background(), "ghost@example.com", "12345", testDevice)
	assert.ErrorIs(t, err, models.ErrInvalidOrExpired)
}

func TestAuthService_ResendOTP(t *testing.T) {
	f := newAuthFixture()
	f.users.GetByEmailFunc = func(ctx context.Context, email string) (*models.User, error) { return unverifiedUser(), nil }

	require.NoError(t, f.service(models.RoleCustomer).ResendOTP(context.Background(), "new@example.com"))
	require.Len(t, f.actions.Issued, 1)

	_, err := f.service(models.RoleClient).VerifyOTP(context.Background(), "new@example.com", "12345", testDevice)
	assert.ErrorIs(t, err, models.ErrInvalidOrExpired, "other tenants cannot see the account")
}

// ============================================================================
// Login
// ============================================================================

func TestAuthService_Login(t *testing.T) {
	deactivated := fixedNow
	sealed := "sealed"

	tests := []struct {
		name      string
		user      func() *models.User
		password  string
		code      string
		wantErr   error
		wantField string
	}{
		{name: "success", user: func() *models.User { return NewTestUser("user-1", "a@example.com") }, password: "Str0ngPassw0rd!"},
		{name: "unknown email", user: nil, password: "Str0ngPassw0rd!", wantErr: models.ErrUnauthorized},
		{name: "wrong password", user: func() *models.User { return NewTestUser("user-1", "a@example.com") }, password: "nope", wantErr: models.ErrUnauthorized},
		{
			name: "unverified email",
			user: func() *models.User {
				u := NewTestUser("user-1", "a@example.com")
				u.EmailVerifiedAt = nil
				return u
			},
			password: "Str0ngPassw0rd!", wantErr: models.ErrBadRequest, wantField: "otp",
		},
		{
			name: "deactivated",
			user: func() *models.User {
				u := NewTestUser("user-1", "a@example.com")
				u.DeactivatedAt = &deactivated
				return u
			},
			password: "Str0ngPassw0rd!", wantErr: models.ErrAccountDisabled,
		},
		{
			name: "other tenant",
			user: func() *models.User {
				u := NewTestUser("user-1", "a@example.com")
				u.Role = models.RoleClient
				return u
			},
			password: "Str0ngPassw0rd!", wantErr: models.ErrUnauthorized,
		},
		{
			name: "2fa code missing",
			user: func() *models.User {
				u := NewTestUser("user-1", "a@example.com")
				u.TwoFactorEnabled, u.TwoFactorSecret = true, &sealed
				return u
			},
			password: "Str0ngPassw0rd!", wantErr: models.ErrTwoFactorRequired,
		},
		{
			name: "2fa code wrong",
			user: func() *models.User {
				u := NewTestUser("user-1", "a@example.com")
				u.TwoFactorEnabled, u.TwoFactorSecret = true, &sealed
				return u
			},
			password: "Str0ngPassw0rd!", code: "000000", wantErr: models.ErrBadRequest, wantField: "twoFaCode",
		},
		{
			name: "2fa code right",
			user: func() *models.User {
				u := NewTestUser("user-1", "a@example.com")
				u.TwoFactorEnabled, u.TwoFactorSecret = true, &sealed
				return u
			},
			password: "Str0ngPassw0rd!", code: "123456",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAuthFixture()
			if tt.user != nil {
				user := tt.user()
				f.users.GetByEmailFunc = func(ctx context.Context, email string) (*models.User, error) { return user, nil }
			}
			upserts := 0
			f.devices.UpsertFunc = func(ctx context.Context, userID, deviceID string, fcm *string) (*models.UserDevice, error) {
				upserts++
				return &models.UserDevice{}, nil
			}

			resp, err := f.service(models.RoleCustomer).Login(context.Background(), LoginInput{
				Email:     "a@example.com",
				Password:  tt.password,
				TwoFACode: tt.code,
				Device:    testDevice,
			})

			if tt.wantErr == nil {
				require.NoError(t, err)
				assert.Equal(t, "user-token-user-1", resp.Token)
				assert.Equal(t, 1, upserts)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Zero(t, upserts)
			if tt.wantField != "" {
				var verr *models.ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Equal(t, tt.wantField, verr.Field)
			}
		})
	}
}

func TestAuthService_Login_RequiresDevice(t *testing.T) {
	f := newAuthFixture()
	f.users.GetByEmailFunc = func(ctx context.Context, email string) (*models.User, error) {
		return NewTestUser("user-1", email), nil
	}
	_, err := f.service(models.RoleCustomer).Login(context.Background(), LoginInput{Email: "a@example.com", Password: "Str0ngPassw0rd!"})
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestAuthService_Login_LookupFailure(t *testing.T) {
	f := newAuthFixture()
	f.users.GetByEmailFunc = func(ctx context.Context, email string) (*models.User, error) {
		return nil, errors.New("connection refused")
	}
	_, err := f.service(models.RoleCustomer).Login(context.Background(), LoginInput{Email: "a@example.com", Password: "x", Device: testDevice})
	assert.ErrorIs(t, err, models.ErrInternalServer)
}

func TestAuthService_Login_PadsOnlyFailures(t *testing.T) {
	f := newAuthFixture()
	svc := f.service(models.RoleCustomer)

	_, err := svc.Login(context.Background(), LoginInput{Email: "ghost@example.com", Password: "x", Device: testDevice})
	require.ErrorIs(t, err, models.ErrUnauthorized)
	assert.Equal(t, 1, f.timing.Calls)

	f.users.GetByEmailFunc = func(ctx context.Context, email string) (*models.User, error) {
		return NewTestUser("user-1", email), nil
	}
	_, err = svc.Login(context.Background(), LoginInput{Email: "a@example.com", Password: "Str0ngPassw0rd!", Device: testDevice})
	require.NoError(t, err)
	assert.Equal(t, 1, f.timing.Calls)
}

// ============================================================================
// Password reset
// ============================================================================

func TestAuthService_RequestPasswordReset(t *testing.T) {
	f := newAuthFixture()
	require.NoError(t, f.service(models.RoleCustomer).RequestPasswordReset(context.Background(), "ghost@example.com"))
	assert.Empty(t, f.actions.Issued, "unknown emails are accepted silently")

	f.users.GetByEmailFunc = func(ctx context.Context, email string) (*models.User, error) {
		return NewTestUser("user-1", email), nil
	}
	require.NoError(t, f.service(models.RoleCustomer).RequestPasswordReset(context.Background(), "a@example.com"))
	require.Len(t, f.actions.Issued, 1)
	assert.Equal(t, models.SecurityActionPasswordReset, f.actions.Issued[0].Type)
	assert.Equal(t, 2, f.timing.Calls, "known and unknown emails take the same time")
}

func TestAuthService_ResetPassword(t *testing.T) {
	f := newAuthFixture()
	f.users.GetByEmailFunc = func(ctx context.Context, email string) (*models.User, error) {
		return NewTestUser("user-1", email), nil
	}
	var patch models.UserPatch
	f.actions.ConsumeFunc = func(ctx context.Context, u *models.User, actionType models.SecurityActionType, secret string, effect repositories.ActionEffect) (*models.SecurityAction, error) {
		if secret != "reset-token" {
			return nil, models.ErrInvalidOrExpired
		}
		assert.Equal(t, models.SecurityActionPasswordReset, actionType)
		patch, _ = effect(&models.SecurityAction{})
		return &models.SecurityAction{}, nil
	}
	svc := f.service(models.RoleCustomer)

	err := svc.ResetPassword(context.Background(), ResetPasswordInput{Email: "a@example.com", Token: "wrong", Password: "N3wPassw0rd!!"})
	assert.ErrorIs(t, err, models.ErrInvalidOrExpired)

	err = svc.ResetPassword(context.Background(), ResetPasswordInput{Email: "a@example.com", Token: "reset-token", Password: "N3wPassw0rd!!"})
	require.NoError(t, err)
	require.NotNil(t, patch.PasswordHash)
	assert.NoError(t, testHasher.Compare(*patch.PasswordHash, "N3wPassw0rd!!"))

	err = svc.ResetPassword(context.Background(), ResetPasswordInput{Email: "a@example.com", Token: "reset-token", Password: "weak"})
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

// ============================================================================
// Logout
// ============================================================================

func TestAuthService_Logout(t *testing.T) {
	f := newAuthFixture()
	expires := fixedNow.Add(time.Hour)
	var revokedJTI, revokedAudience string
	var revokedUntil time.Time
	f.revoker.RevokeTokenFunc = func(ctx context.Context, jti, subjectID, audience, reason string, expiresAt time.Time) error {
		revokedJTI, revokedAudience, revokedUntil = jti, audience, expiresAt
		return nil
	}
	var deletedDevice string
	f.devices.DeleteFunc = func(ctx context.Context, userID, deviceID string) error {
		deletedDevice = deviceID
		return nil
	}

	claims := &models.TokenClaims{RegisteredClaims: jwt.RegisteredClaims{ID: "jti-1", ExpiresAt: jwt.NewNumericDate(expires)}}
	err := f.service(models.RoleCustomer).Logout(context.Background(), NewTestUser("user-1", "a@example.com"), claims, "device-1")
	require.NoError(t, err)

	assert.Equal(t, "jti-1", revokedJTI)
	assert.Equal(t, models.AudienceUser, revokedAudience)
	assert.True(t, expires.Equal(revokedUntil))
	assert.Equal(t, "device-1", deletedDevice)
}

func TestAuthService_Logout_RevocationFailure(t *testing.T) {
	f := newAuthFixture()
	f.revoker.RevokeTokenFunc = func(context.Context, string, string, string, string, time.Time) error {
		return errors.New("db down")
	}
	claims := &models.TokenClaims{RegisteredClaims: jwt.RegisteredClaims{ID: "jti-1", ExpiresAt: jwt.NewNumericDate(fixedNow)}}
	err := f.service(models.RoleCustomer).Logout(context.Background(), NewTestUser("user-1", "a@example.com"), claims, "device-1")
	assert.ErrorIs(t, err, models.ErrInternalServer)
}

// ============================================================================
// OAuth
// ============================================================================

func googleIdentity() *oauth.Identity {
	return &oauth.Identity{
		Provider:   models.OAuthProviderGoogle,
		Subject:    "google-sub",
		Email:      "Jane@Example.com",
		FirstName:  "Jane",
		LastName:   "Doe",
		PictureURL: "https://lh3.googleusercontent.com/a/photo",
	}
}

func TestAuthService_OAuthLogin_CreatesVerifiedUserWithAvatar(t *testing.T) {
	f := newAuthFixture()
	f.google.VerifyFunc = func(ctx context.Context, token string) (*oauth.Identity, error) { return googleIdentity(), nil }
	var created *models.User
	f.users.CreateFunc = func(ctx context.Context, user *models.User) (*models.User, error) {
		created = user
		out := *user
		out.ID = "user-9"
		return &out, nil
	}

	resp, err := f.service(models.RoleCustomer).OAuthLogin(context.Background(), models.OAuthProviderGoogle, "id-token", testDevice)
	require.NoError(t, err)
	assert.Equal(t, "user-token-user-9", resp.Token)

	assert.Equal(t, "jane@example.com", created.Email)
	assert.Equal(t, "Jane Doe", *created.Name)
	assert.Equal(t, fixedNow, *created.EmailVerifiedAt)
	assert.Equal(t, "google-sub", *created.OAuthProviderID)
	assert.Equal(t, "avatar-1", *created.AvatarID)
	assert.NotEmpty(t, created.PasswordHash)
}

func TestAuthService_OAuthLogin_AvatarFailureDoesNotBlock(t *testing.T) {
	f := newAuthFixture()
	f.google.VerifyFunc = func(ctx context.Context, token string) (*oauth.Identity, error) { return googleIdentity(), nil }
	f.avatars.ImportRemoteFunc = func(ctx context.Context, url string) (*models.Attachment, error) {
		return nil, errors.New("404")
	}
	var created *models.User
	f.users.CreateFunc = func(ctx context.Context, user *models.User) (*models.User, error) {
		created = user
		return user, nil
	}

	_, err := f.service(models.RoleCustomer).OAuthLogin(context.Background(), models.OAuthProviderGoogle, "id-token", testDevice)
	require.NoError(t, err)
	assert.Nil(t, created.AvatarID)
}

func TestAuthService_OAuthLogin_LinksExistingEmail(t *testing.T) {
	f := newAuthFixture()
	existing := unverifiedUser()
	f.apple.VerifyFunc = func(ctx context.Context, token string) (*oauth.Identity, error) {
		return &oauth.Identity{Provider: models.OAuthProviderApple, Subject: "apple-sub", Email: existing.Email}, nil
	}
	f.users.GetByEmailFunc = func(ctx context.Context, email string) (*models.User, error) { return existing, nil }
	var linked []string
	f.users.LinkOAuthFunc = func(ctx context.Context, id, provider, providerID string) (*models.User, error) {
		linked = append(linked, id, provider, providerID)
		out := *existing
		out.EmailVerifiedAt = &fixedNow
		return &out, nil
	}
	f.users.CreateFunc = func(context.Context, *models.User) (*models.User, error) {
		t.Fatal("must not create")
		return nil, nil
	}

	_, err := f.service(models.RoleCustomer).OAuthLogin(context.Background(), models.OAuthProviderApple, "id-token", testDevice)
	require.NoError(t, err)
	assert.Equal(t, []string{"user-1", models.OAuthProviderApple, "apple-sub"}, linked)
}

func TestAuthService_OAuthLogin_KnownIdentity(t *testing.T) {
	f := newAuthFixture()
	f.google.VerifyFunc = func(ctx context.Context, token string) (*oauth.Identity, error) { return googleIdentity(), nil }
	f.users.GetByOAuthFunc = func(ctx context.Context, provider, providerID string) (*models.User, error) {
		return NewTestUser("user-1", "jane@example.com"), nil
	}
	f.avatars.ImportRemoteFunc = func(context.Context, string) (*models.Attachment, error) {
		t.Fatal("existing users keep their avatar")
		return nil, nil
	}

	resp, err := f.service(models.RoleCustomer).OAuthLogin(context.Background(), models.OAuthProviderGoogle, "id-token", testDevice)
	require.NoError(t, err)
	assert.Equal(t, "user-token-user-1", resp.Token)
}

func TestAuthService_OAuthLogin_Rejections(t *testing.T) {
	t.Run("invalid token", func(t *testing.T) {
		f := newAuthFixture()
		_, err := f.service(models.RoleCustomer).OAuthLogin(context.Background(), models.OAuthProviderGoogle, "bad", testDevice)
		assert.ErrorIs(t, err, models.ErrUnauthorized)
	})

	t.Run("unsupported provider", func(t *testing.T) {
		f := newAuthFixture()
		_, err := f.service(models.RoleCustomer).OAuthLogin(context.Background(), "github", "token", testDevice)
		assert.ErrorIs(t, err, models.ErrBadRequest)
	})

	t.Run("deactivated account", func(t *testing.T) {
		f := newAuthFixture()
		f.google.VerifyFunc = func(ctx context.Context, token string) (*oauth.Identity, error) { return googleIdentity(), nil }
		f.users.GetByOAuthFunc = func(ctx context.Context, provider, providerID string) (*models.User, error) {
			u := NewTestUser("user-1", "jane@example.com")
			u.DeactivatedAt = &fixedNow
			return u, nil
		}
		_, err := f.service(models.RoleCustomer).OAuthLogin(context.Background(), models.OAuthProviderGoogle, "token", testDevice)
		assert.ErrorIs(t, err, models.ErrAccountDisabled)
	})

	t.Run("email owned by other tenant", func(t *testing.T) {
		f := newAuthFixture()
		f.google.VerifyFunc = func(ctx context.Context, token string) (*oauth.Identity, error) { return googleIdentity(), nil }
		f.users.GetByEmailFunc = func(ctx context.Context, email string) (*models.User, error) {
			u := NewTestUser("user-1", email)
			u.Role = models.RoleClient
			return u, nil
		}
		_, err := f.service(models.RoleCustomer).OAuthLogin(context.Background(), models.OAuthProviderGoogle, "token", testDevice)
		assert.ErrorIs(t, err, models.ErrConflict)
	})

	t.Run("no email shared", func(t *testing.T) {
		f := newAuthFixture()
		f.apple.VerifyFunc = func(ctx context.Context, token string) (*oauth.Identity, error) {
			return &oauth.Identity{Provider: models.OAuthProviderApple, Subject: "apple-sub"}, nil
		}
		_, err := f.service(models.RoleCustomer).OAuthLogin(context.Background(), models.OAuthProviderApple, "token", testDevice)
		assert.ErrorIs(t, err, models.ErrBadRequest)
	})
}
