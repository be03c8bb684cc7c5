package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/query"
	pkgauth "github.com/BradenHooton/gatekeeper/pkg/auth"
	"github.com/BradenHooton/gatekeeper/pkg/logger"
)

// TOTPEnroller creates and checks 2FA secrets
type TOTPEnroller interface {
	Enroll(accountName string) (*auth.TOTPEnrollment, error)
	Validate(sealed, code string) (bool, error)
}

// AttachmentSigner resolves an attachment into presigned URLs
type AttachmentSigner interface {
	Get(ctx context.Context, id string) (*models.SignedAttachment, error)
}

// NotificationStore records in-app notifications and scopes the listing to
// one user
type NotificationStore interface {
	Create(ctx context.Context, n *models.UserNotification) (*models.UserNotification, error)
	ForUser(userID string) query.Finder[*models.UserNotification]
}

// NotificationTypeSecurity marks notices about changes to account security.
const NotificationTypeSecurity = "SECURITY"

// NotificationListing lets clients filter by type and topic and sort by date.
var NotificationListing = query.Options{
	Filterable: query.FilterSpec{
		"type":      query.Allow(query.OpEq, query.OpIn),
		"topic":     query.Allow(query.OpEq, query.OpIn),
		"readAt":    query.Allow(query.OpExists, query.OpBetween),
		"createdAt": query.Allow(query.OpGte, query.OpLte, query.OpBetween),
	},
	Sortable:   []string{"createdAt", "readAt"},
	Searchable: []string{"title"},
}

// Profile is the signed in user with a presigned avatar.
type Profile struct {
	*models.User
	Avatar *models.SignedAttachment `json:"avatar"`
}

type ChangePasswordInput struct {
	CurrentPassword string
	NewPassword     string
}

// ProfileDependencies groups the collaborators of a ProfileService.
type ProfileDependencies struct {
	Users         UserRepository
	Devices       DeviceRepository
	Actions       SecurityActions
	Hasher        PasswordHasher
	TOTP          TOTPEnroller
	Attachments   AttachmentSigner
	Notifications NotificationStore
}

// ProfileService handles the signed in user's own account.
type ProfileService struct {
	users         UserRepository
	devices       DeviceRepository
	actions       SecurityActions
	hasher        PasswordHasher
	totp          TOTPEnroller
	attachments   AttachmentSigner
	notifications NotificationStore
	audit         *logger.AuditLogger
	logger        *slog.Logger
	now           func() time.Time
}

// NewProfileService creates a new ProfileService
func NewProfileService(deps ProfileDependencies, log *slog.Logger) *ProfileService {
	return &ProfileService{
		users:         deps.Users,
		devices:       deps.Devices,
		actions:       deps.Actions,
		hasher:        deps.Hasher,
		totp:          deps.TOTP,
		attachments:   deps.Attachments,
		notifications: deps.Notifications,
		audit:         logger.NewAuditLogger(log),
		logger:        log,
		now:           time.Now,
	}
}

// Get returns the user's profile. An avatar that cannot be signed is left
// out rather than failing the request.
func (s *ProfileService) Get(ctx context.Context, user *models.User) (*Profile, error) {
	profile := &Profile{User: user}
	if user.AvatarID == nil || s.attachments == nil {
		return profile, nil
	}

	avatar, err := s.attachments.Get(ctx, *user.AvatarID)
	if err != nil {
		s.logger.Warn("failed to sign avatar",
			slog.String("user_id", user.ID), slog.Any("error", err))
		return profile, nil
	}
	profile.Avatar = avatar
	return profile, nil
}

// ChangePassword requires the current password and rejects reusing it.
func (s *ProfileService) ChangePassword(ctx context.Context, user *models.User, in ChangePasswordInput) error {
	if err := s.hasher.Compare(user.PasswordHash, in.CurrentPassword); err != nil {
		s.audit.Failure(ctx, logger.EventPasswordChange, user.ID, "wrong_current_password")
		return models.NewValidationError("currentPassword", "current password is incorrect")
	}
	if in.CurrentPassword == in.NewPassword {
		return models.NewValidationError("newPassword", "new password must differ from the current one")
	}
	if err := pkgauth.ValidatePassword(in.NewPassword); err != nil {
		return &models.ValidationError{Field: "newPassword", Message: "password is too weak", Err: err}
	}

	hash, err := s.hasher.Hash(in.NewPassword)
	if err != nil {
		return models.Infra("hash password", err)
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return models.Infra("update password", err)
	}

	s.audit.Success(ctx, logger.EventPasswordChange, user.ID)
	s.notify(ctx, user, "password", "Your password was changed")
	return nil
}

// GenerateTwoFactor stores a new, not yet enabled TOTP secret and returns the
// enrolment material for the authenticator app.
func (s *ProfileService) GenerateTwoFactor(ctx context.Context, user *models.User) (*auth.TOTPEnrollment, error) {
	if user.TwoFactorEnabled {
		return nil, models.NewConflictError("twoFaCode", "two factor authentication is already enabled")
	}

	enrollment, err := s.totp.Enroll(user.Email)
	if err != nil {
		return nil, models.Infra("generate totp secret", err)
	}
	if err := s.users.SetTwoFactor(ctx, user.ID, &enrollment.Sealed, false); err != nil {
		return nil, models.Infra("store totp secret", err)
	}
	return enrollment, nil
}

// VerifyTwoFactor enables 2FA once the user proves the authenticator works.
func (s *ProfileService) VerifyTwoFactor(ctx context.Context, user *models.User, code string) error {
	if user.TwoFactorEnabled {
		return models.NewConflictError("twoFaCode", "two factor authentication is already enabled")
	}
	if user.TwoFactorSecret == nil {
		return models.NewValidationError("twoFaCode", "generate a two factor secret first")
	}

	ok, err := s.totp.Validate(*user.TwoFactorSecret, code)
	if err != nil {
		return models.Infra("validate totp code", err)
	}
	if !ok {
		s.audit.Failure(ctx, logger.EventTwoFactorEnabled, user.ID, "invalid_code")
		return models.NewValidationError("twoFaCode", "two factor authentication code is invalid")
	}

	if err := s.users.SetTwoFactor(ctx, user.ID, user.TwoFactorSecret, true); err != nil {
		return models.Infra("enable two factor", err)
	}
	s.audit.Success(ctx, logger.EventTwoFactorEnabled, user.ID)
	s.notify(ctx, user, "two_factor", "Two factor authentication was enabled")
	return nil
}

// DisableTwoFactor clears the secret and the enabled flag together.
func (s *ProfileService) DisableTwoFactor(ctx context.Context, user *models.User) error {
	if err := s.users.SetTwoFactor(ctx, user.ID, nil, false); err != nil {
		return models.Infra("disable two factor", err)
	}
	s.audit.Success(ctx, logger.EventTwoFactorDisabled, user.ID)
	s.notify(ctx, user, "two_factor", "Two factor authentication was disabled")
	return nil
}

func (s *ProfileService) SetNotifications(ctx context.Context, user *models.User, enabled bool) error {
	if err := s.users.SetNotificationEnabled(ctx, user.ID, enabled); err != nil {
		return models.Infra("set notifications", err)
	}
	return nil
}

// RequestEmailChange sends an OTP to newEmail. The address is only applied
// when that OTP is confirmed.
func (s *ProfileService) RequestEmailChange(ctx context.Context, user *models.User, newEmail string) error {
	newEmail = normalizeEmail(newEmail)
	if newEmail == normalizeEmail(user.Email) {
		return models.NewValidationError("email", "new email must differ from the current one")
	}

	switch _, err := s.users.GetByEmail(ctx, newEmail); {
	case err == nil:
		return models.NewConflictError("email", "email is already registered")
	case !errors.Is(err, models.ErrNotFound):
		return models.Infra("get user by email", err)
	}

	_, err := s.actions.Issue(ctx, IssueRequest{
		User:      user,
		Type:      models.SecurityActionChangeEmail,
		Recipient: newEmail,
		Payload:   models.ChangeEmailPayload{NewEmail: newEmail},
	})
	return err
}

// ConfirmEmailChange consumes the CHANGE_EMAIL OTP and moves the account to
// the stored address in the same transaction.
func (s *ProfileService) ConfirmEmailChange(ctx context.Context, user *models.User, code string) error {
	if _, err := s.actions.Consume(ctx, user, models.SecurityActionChangeEmail, code, ApplyEmailChange); err != nil {
		if errors.Is(err, models.ErrConflict) {
			return models.NewConflictError("email", "email is already registered")
		}
		s.audit.Failure(ctx, logger.EventEmailChanged, user.ID, "invalid_code")
		return err
	}
	s.audit.Success(ctx, logger.EventEmailChanged, user.ID)
	s.notify(ctx, user, "email", "Your email address was changed")
	return nil
}

// Delete soft deletes the account and forgets its devices.
func (s *ProfileService) Delete(ctx context.Context, user *models.User) error {
	if err := s.users.SoftDelete(ctx, user.ID, s.now()); err != nil {
		return models.Infra("delete user", err)
	}
	if err := s.devices.DeleteAll(ctx, user.ID); err != nil {
		s.logger.Warn("failed to delete devices of deleted user",
			slog.String("user_id", user.ID), slog.Any("error", err))
	}
	s.audit.Success(ctx, logger.EventAccountDeleted, user.ID)
	return nil
}

// Notifications lists the user's notifications, newest first unless the
// client asks otherwise.
func (s *ProfileService) Notifications(ctx context.Context, user *models.User, req query.Request) (*query.Page[*models.UserNotification], error) {
	if len(req.Sort) == 0 {
		req.Sort = []query.SortField{{Path: "createdAt", Direction: query.Desc}}
	}
	page, err := query.FindAndPaginate(ctx, s.notifications.ForUser(user.ID), nil, nil, NotificationListing, req)
	if err != nil {
		return nil, models.Infra("list notifications", err)
	}
	return page, nil
}

// notify leaves a security notice in the user's inbox. The change it reports
// has already happened, so a failure here is only logged.
func (s *ProfileService) notify(ctx context.Context, user *models.User, topic, title string) {
	if s.notifications == nil {
		return
	}
	_, err := s.notifications.Create(ctx, &models.UserNotification{
		UserID: user.ID,
		Title:  title,
		Type:   NotificationTypeSecurity,
		Topic:  &topic,
	})
	if err != nil {
		s.logger.Warn("failed to record security notification",
			slog.String("user_id", user.ID), slog.String("topic", topic), slog.Any("error", err))
	}
}
