package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/oauth"
	"github.com/BradenHooton/gatekeeper/internal/repositories"
	pkgauth "github.com/BradenHooton/gatekeeper/pkg/auth"
	"github.com/BradenHooton/gatekeeper/pkg/logger"
	"github.com/google/uuid"
)

// UserRepository defines the interface for user data access
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByOAuth(ctx context.Context, provider, providerID string) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	SetTwoFactor(ctx context.Context, id string, secret *string, enabled bool) error
	SetNotificationEnabled(ctx context.Context, id string, enabled bool) error
	SetAvatar(ctx context.Context, id string, attachmentID *string) error
	LinkOAuth(ctx context.Context, id, provider, providerID string) (*models.User, error)
	SetDeactivated(ctx context.Context, id string, at *time.Time) (*models.User, error)
	SoftDelete(ctx context.Context, id string, at time.Time) error
}

// DeviceRepository defines the interface for device registration
type DeviceRepository interface {
	Upsert(ctx context.Context, userID, deviceID string, fcmToken *string) (*models.UserDevice, error)
	Delete(ctx context.Context, userID, deviceID string) error
	DeleteAll(ctx context.Context, userID string) error
}

// TokenRevoker records tokens that must no longer be accepted
type TokenRevoker interface {
	RevokeToken(ctx context.Context, jti, subjectID, audience, reason string, expiresAt time.Time) error
}

// SecurityActions issues and consumes single use secrets
type SecurityActions interface {
	Issue(ctx context.Context, req IssueRequest) (*models.SecurityAction, error)
	Consume(ctx context.Context, user *models.User, actionType models.SecurityActionType, secret string, effect repositories.ActionEffect) (*models.SecurityAction, error)
}

// UserTokenIssuer signs user tokens
type UserTokenIssuer interface {
	IssueUserToken(user *models.User) (string, error)
}

// TOTPValidator checks a 2FA code against a sealed secret
type TOTPValidator interface {
	Validate(sealed, code string) (bool, error)
}

// PasswordHasher hashes and compares passwords
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hashed, password string) error
}

// AvatarImporter copies a remote picture into the private bucket
type AvatarImporter interface {
	ImportRemote(ctx context.Context, url string) (*models.Attachment, error)
}

// ResponsePadder stretches failed credential checks to a common duration
type ResponsePadder interface {
	WaitFrom(ctx context.Context, start time.Time)
}

// Device identifies the client a principal signs in from.
type Device struct {
	ID       string
	FCMToken *string
}

type RegisterInput struct {
	Email    string
	Password string
	Phone    string
	Name     *string
}

type LoginInput struct {
	Email     string
	Password  string
	TwoFACode string
	Device    Device
}

type ResetPasswordInput struct {
	Email    string
	Token    string
	Password string
}

// AuthDependencies groups the collaborators of an AuthService.
type AuthDependencies struct {
	Users     UserRepository
	Devices   DeviceRepository
	Revoker   TokenRevoker
	Actions   SecurityActions
	Tokens    UserTokenIssuer
	TOTP      TOTPValidator
	Hasher    PasswordHasher
	Avatars   AvatarImporter
	Verifiers map[string]oauth.Verifier
	Timing    ResponsePadder
}

// AuthService handles authentication for one user tenant. Every lookup is
// scoped to the tenant role, so a customer account cannot sign in as a client.
type AuthService struct {
	role      string
	users     UserRepository
	devices   DeviceRepository
	revoker   TokenRevoker
	actions   SecurityActions
	tokens    UserTokenIssuer
	totp      TOTPValidator
	hasher    PasswordHasher
	avatars   AvatarImporter
	verifiers map[string]oauth.Verifier
	timing    ResponsePadder
	audit     *logger.AuditLogger
	logger    *slog.Logger
	now       func() time.Time
}

// NewAuthService creates a new AuthService for role
func NewAuthService(role string, deps AuthDependencies, log *slog.Logger) *AuthService {
	return &AuthService{
		role:      role,
		users:     deps.Users,
		devices:   deps.Devices,
		revoker:   deps.Revoker,
		actions:   deps.Actions,
		tokens:    deps.Tokens,
		totp:      deps.TOTP,
		hasher:    deps.Hasher,
		avatars:   deps.Avatars,
		verifiers: deps.Verifiers,
		timing:    deps.Timing,
		audit:     logger.NewAuditLogger(log),
		logger:    log.With(slog.String("tenant", role)),
		now:       time.Now,
	}
}

// Role returns the tenant this service serves.
func (s *AuthService) Role() string {
	return s.role
}

const deviceIDField = "X-Device-Id"

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// findUser returns the tenant's user for email, mapping accounts of other
// tenants to models.ErrNotFound.
func (s *AuthService) findUser(ctx context.Context, email string) (*models.User, error) {
	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, err
	}
	if user.Role != s.role {
		return nil, models.ErrNotFound
	}
	return user, nil
}

// Register creates an unverified account and sends an OTP. Registering an
// address that is still unverified re-sends the OTP instead.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) error {
	email := normalizeEmail(in.Email)

	existing, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		if existing.IsVerified() || existing.Role != s.role {
			s.audit.Failure(ctx, logger.EventRegister, existing.ID, "email_taken")
			return models.NewConflictError("email", "email is already registered")
		}
		s.logger.Info("re-sending otp to unverified registration", slog.String("user_id", existing.ID))
		_, err := s.actions.Issue(ctx, IssueRequest{User: existing, Type: models.SecurityActionOTP})
		return err
	case !errors.Is(err, models.ErrNotFound):
		return models.Infra("get user by email", err)
	}

	if err := pkgauth.ValidatePassword(in.Password); err != nil {
		return &models.ValidationError{Field: "password", Message: "password is too weak", Err: err}
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return models.Infra("hash password", err)
	}

	user, err := s.users.Create(ctx, &models.User{
		Name:         in.Name,
		Email:        email,
		PasswordHash: hash,
		Role:         s.role,
		Phone:        in.Phone,
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return models.NewConflictError("email", "email is already registered")
		}
		return models.Infra("create user", err)
	}

	s.audit.Success(ctx, logger.EventRegister, user.ID)
	s.logger.Info("user registered",
		slog.String("user_id", user.ID),
		slog.String("email", logger.SanitizedEmail(email)))

	_, err = s.actions.Issue(ctx, IssueRequest{User: user, Type: models.SecurityActionOTP})
	return err
}

// ResendOTP supersedes the pending OTP with a fresh one.
func (s *AuthService) ResendOTP(ctx context.Context, email string) error {
	user, err := s.findUser(ctx, email)
	if err != nil {
		return models.Infra("get user by email", err)
	}
	_, err = s.actions.Issue(ctx, IssueRequest{User: user, Type: models.SecurityActionOTP})
	return err
}

// VerifyOTP consumes the OTP, marks the email verified and signs the user in.
func (s *AuthService) VerifyOTP(ctx context.Context, email, code string, device Device) (*models.AuthResponse, error) {
	user, err := s.findUser(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrInvalidOrExpired
		}
		return nil, models.Infra("get user by email", err)
	}

	now := s.now()
	if _, err := s.actions.Consume(ctx, user, models.SecurityActionOTP, code, VerifyEmail(now)); err != nil {
		s.audit.Failure(ctx, logger.EventEmailVerified, user.ID, "invalid_otp")
		return nil, err
	}
	user.EmailVerifiedAt = &now
	s.audit.Success(ctx, logger.EventEmailVerified, user.ID)

	return s.signIn(ctx, user, device)
}

// Login authenticates with email and password, then the TOTP code when the
// account has 2FA enabled.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (resp *models.AuthResponse, err error) {
	start := time.Now()
	defer func() {
		if err != nil {
			s.pad(ctx, start)
		}
	}()

	user, err := s.findUser(ctx, in.Email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.audit.Failure(ctx, logger.EventLogin, "", "invalid_credentials")
			return nil, fmt.Errorf("%w: invalid credentials", models.ErrUnauthorized)
		}
		return nil, models.Infra("get user by email", err)
	}

	if err := s.hasher.Compare(user.PasswordHash, in.Password); err != nil {
		s.audit.Failure(ctx, logger.EventLogin, user.ID, "invalid_credentials")
		return nil, fmt.Errorf("%w: invalid credentials", models.ErrUnauthorized)
	}

	if !user.IsVerified() {
		s.audit.Failure(ctx, logger.EventLogin, user.ID, "email_not_verified")
		return nil, models.NewValidationError("otp", "email is not verified")
	}
	if user.DeactivatedAt != nil {
		s.audit.Failure(ctx, logger.EventLogin, user.ID, "deactivated")
		return nil, models.ErrAccountDisabled
	}

	if user.TwoFactorEnabled {
		if in.TwoFACode == "" {
			return nil, models.ErrTwoFactorRequired
		}
		if user.TwoFactorSecret == nil {
			return nil, models.Infra("two factor", errors.New("enabled without a secret"))
		}
		ok, err := s.totp.Validate(*user.TwoFactorSecret, in.TwoFACode)
		if err != nil {
			return nil, models.Infra("validate two factor code", err)
		}
		if !ok {
			s.audit.Failure(ctx, logger.EventLogin, user.ID, "invalid_2fa_code")
			return nil, models.NewValidationError("twoFaCode", "two factor authentication code is invalid")
		}
	}

	resp, err = s.signIn(ctx, user, in.Device)
	if err != nil {
		return nil, err
	}
	s.audit.Success(ctx, logger.EventLogin, user.ID)
	return resp, nil
}

func (s *AuthService) pad(ctx context.Context, start time.Time) {
	if s.timing != nil {
		s.timing.WaitFrom(ctx, start)
	}
}

// RequestPasswordReset issues a PASSWORD_RESET secret. Unknown addresses are
// accepted silently so the endpoint does not reveal which emails exist.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	defer s.pad(ctx, time.Now())

	user, err := s.findUser(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("password reset requested for unknown email",
				slog.String("email", logger.SanitizedEmail(email)))
			return nil
		}
		return models.Infra("get user by email", err)
	}
	_, err = s.actions.Issue(ctx, IssueRequest{User: user, Type: models.SecurityActionPasswordReset})
	return err
}

// ResetPassword consumes the reset token and stores the new password in the
// same transaction.
func (s *AuthService) ResetPassword(ctx context.Context, in ResetPasswordInput) error {
	if err := pkgauth.ValidatePassword(in.Password); err != nil {
		return &models.ValidationError{Field: "password", Message: "password is too weak", Err: err}
	}

	user, err := s.findUser(ctx, in.Email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrInvalidOrExpired
		}
		return models.Infra("get user by email", err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return models.Infra("hash password", err)
	}
	if _, err := s.actions.Consume(ctx, user, models.SecurityActionPasswordReset, in.Token, SetPassword(hash)); err != nil {
		s.audit.Failure(ctx, logger.EventPasswordReset, user.ID, "invalid_token")
		return err
	}

	s.audit.Success(ctx, logger.EventPasswordReset, user.ID)
	return nil
}

// Logout revokes the presented token and forgets the device.
func (s *AuthService) Logout(ctx context.Context, user *models.User, claims *models.TokenClaims, deviceID string) error {
	if claims != nil && claims.ID != "" {
		if err := s.revoker.RevokeToken(ctx, claims.ID, user.ID, models.AudienceUser, "logout", auth.ExpiresAt(claims)); err != nil {
			return models.Infra("revoke token", err)
		}
	}
	if deviceID != "" {
		if err := s.devices.Delete(ctx, user.ID, deviceID); err != nil {
			return models.Infra("delete device", err)
		}
	}
	s.audit.Success(ctx, logger.EventLogout, user.ID)
	return nil
}

// OAuthLogin verifies a provider id token and signs in the matching account,
// linking an existing account with the same email or creating a verified one.
func (s *AuthService) OAuthLogin(ctx context.Context, provider, token string, device Device) (*models.AuthResponse, error) {
	verifier, ok := s.verifiers[provider]
	if !ok || verifier == nil {
		return nil, models.NewValidationError("provider", "unsupported sign in provider")
	}

	identity, err := verifier.Verify(ctx, token)
	if err != nil {
		s.audit.Failure(ctx, logger.EventOAuthLogin, "", "invalid_token")
		if errors.Is(err, oauth.ErrInvalidToken) {
			return nil, fmt.Errorf("%w: %v", models.ErrUnauthorized, err)
		}
		return nil, models.Infra("verify "+provider+" token", err)
	}

	user, err := s.resolveOAuthUser(ctx, identity)
	if err != nil {
		return nil, err
	}
	if user.DeactivatedAt != nil {
		s.audit.Failure(ctx, logger.EventOAuthLogin, user.ID, "deactivated")
		return nil, models.ErrAccountDisabled
	}

	resp, err := s.signIn(ctx, user, device)
	if err != nil {
		return nil, err
	}
	s.audit.Success(ctx, logger.EventOAuthLogin, user.ID)
	return resp, nil
}

func (s *AuthService) resolveOAuthUser(ctx context.Context, id *oauth.Identity) (*models.User, error) {
	user, err := s.users.GetByOAuth(ctx, id.Provider, id.Subject)
	switch {
	case err == nil:
		if user.Role != s.role {
			return nil, models.NewConflictError("email", "account belongs to another application")
		}
		if !user.IsVerified() {
			return s.link(ctx, user, id)
		}
		return user, nil
	case !errors.Is(err, models.ErrNotFound):
		return nil, models.Infra("get user by oauth", err)
	}

	if id.Email == "" {
		return nil, models.NewValidationError("token", "provider did not share an email address")
	}

	user, err = s.users.GetByEmail(ctx, normalizeEmail(id.Email))
	switch {
	case err == nil:
		if user.Role != s.role {
			return nil, models.NewConflictError("email", "email is already registered")
		}
		return s.link(ctx, user, id)
	case !errors.Is(err, models.ErrNotFound):
		return nil, models.Infra("get user by email", err)
	}

	return s.createOAuthUser(ctx, id)
}

func (s *AuthService) link(ctx context.Context, user *models.User, id *oauth.Identity) (*models.User, error) {
	linked, err := s.users.LinkOAuth(ctx, user.ID, id.Provider, id.Subject)
	if err != nil {
		return nil, models.Infra("link oauth", err)
	}
	s.logger.Info("oauth identity linked",
		slog.String("user_id", user.ID), slog.String("provider", id.Provider))
	return linked, nil
}

func (s *AuthService) createOAuthUser(ctx context.Context, id *oauth.Identity) (*models.User, error) {
	// OAuth accounts never sign in with a password; store an unguessable one.
	hash, err := s.hasher.Hash(uuid.NewString())
	if err != nil {
		return nil, models.Infra("hash password", err)
	}

	now := s.now()
	user := &models.User{
		Email:           normalizeEmail(id.Email),
		PasswordHash:    hash,
		Role:            s.role,
		EmailVerifiedAt: &now,
		OAuthProvider:   &id.Provider,
		OAuthProviderID: &id.Subject,
	}
	if name := id.FullName(); name != "" {
		user.Name = &name
	}
	if id.PictureURL != "" && s.avatars != nil {
		// A missing avatar should not block sign in.
		avatar, err := s.avatars.ImportRemote(ctx, id.PictureURL)
		if err != nil {
			s.logger.Warn("failed to import oauth avatar",
				slog.String("provider", id.Provider), slog.Any("error", err))
		} else {
			user.AvatarID = &avatar.ID
		}
	}

	created, err := s.users.Create(ctx, user)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.NewConflictError("email", "email is already registered")
		}
		return nil, models.Infra("create user", err)
	}
	s.audit.Success(ctx, logger.EventRegister, created.ID)
	return created, nil
}

// signIn registers the device and issues a user token.
func (s *AuthService) signIn(ctx context.Context, user *models.User, device Device) (*models.AuthResponse, error) {
	if device.ID == "" {
		return nil, models.NewValidationError(deviceIDField, "device id is required")
	}
	if _, err := s.devices.Upsert(ctx, user.ID, device.ID, device.FCMToken); err != nil {
		return nil, models.Infra("register device", err)
	}

	token, err := s.tokens.IssueUserToken(user)
	if err != nil {
		return nil, models.Infra("issue token", err)
	}
	return &models.AuthResponse{Token: token}, nil
}
