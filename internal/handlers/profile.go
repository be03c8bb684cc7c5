package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/query"
	"github.com/BradenHooton/gatekeeper/internal/services"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
)

// ProfileServiceInterface defines what the profile endpoints need.
type ProfileServiceInterface interface {
	Get(ctx context.Context, user *models.User) (*services.Profile, error)
	ChangePassword(ctx context.Context, user *models.User, in services.ChangePasswordInput) error
	GenerateTwoFactor(ctx context.Context, user *models.User) (*auth.TOTPEnrollment, error)
	VerifyTwoFactor(ctx context.Context, user *models.User, code string) error
	DisableTwoFactor(ctx context.Context, user *models.User) error
	SetNotifications(ctx context.Context, user *models.User, enabled bool) error
	RequestEmailChange(ctx context.Context, user *models.User, newEmail string) error
	ConfirmEmailChange(ctx context.Context, user *models.User, code string) error
	Delete(ctx context.Context, user *models.User) error
	Notifications(ctx context.Context, user *models.User, req query.Request) (*query.Page[*models.UserNotification], error)
}

// ProfileHandler serves the signed in user's own account.
type ProfileHandler struct {
	service ProfileServiceInterface
	logger  *slog.Logger
}

func NewProfileHandler(service ProfileServiceInterface, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{service: service, logger: logger}
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,max=72"`
}

type TwoFactorCodeRequest struct {
	Code string `json:"twoFaCode" validate:"required,len=6,numeric"`
}

type NotificationSettingsRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type ChangeEmailRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

type ConfirmEmailChangeRequest struct {
	Code string `json:"code" validate:"required,len=5,numeric"`
}

// TwoFactorSetupResponse carries what an authenticator app needs. The sealed
// secret never leaves the server.
type TwoFactorSetupResponse struct {
	OTPAuthURL string `json:"otpauthUrl"`
	QRCode     string `json:"qrCode"`
}

// withUser resolves the authenticated user or answers 401.
func withUser(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	user := auth.UserFromContext(r.Context())
	if user == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return nil, false
	}
	return user, true
}

// Get handles GET /profile
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := withUser(w, r)
	if !ok {
		return
	}
	profile, err := h.service.Get(r.Context(), user)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, profile)
}

// ChangePassword handles PUT /profile/password
func (h *ProfileHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	user, ok := withUser(w, r)
	if !ok {
		return
	}
	var req ChangePasswordRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	err := h.service.ChangePassword(r.Context(), user, services.ChangePasswordInput{
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GenerateTwoFactor handles POST /profile/2fa/generate
func (h *ProfileHandler) GenerateTwoFactor(w http.ResponseWriter, r *http.Request) {
	user, ok := withUser(w, r)
	if !ok {
		return
	}
	enrollment, err := h.service.GenerateTwoFactor(r.Context(), user)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, TwoFactorSetupResponse{
		OTPAuthURL: enrollment.OTPAuthURL,
		QRCode:     enrollment.QRCode,
	})
}

// VerifyTwoFactor handles POST /profile/2fa/verify
func (h *ProfileHandler) VerifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	user, ok := withUser(w, r)
	if !ok {
		return
	}
	var req TwoFactorCodeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if err := h.service.VerifyTwoFactor(r.Context(), user, req.Code); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DisableTwoFactor handles DELETE /profile/2fa
func (h *ProfileHandler) DisableTwoFactor(w http.ResponseWriter, r *http.Request) {
	user, ok := withUser(w, r)
	if !ok {
		return
	}
	if err := h.service.DisableTwoFactor(r.Context(), user); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetNotifications handles PUT /profile/notifications
func (h *ProfileHandler) SetNotifications(w http.ResponseWriter, r *http.Request) {
	user, ok := withUser(w, r)
	if !ok {
		return
	}
	var req NotificationSettingsRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if err := h.service.SetNotifications(r.Context(), user, *req.Enabled); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RequestEmailChange handles POST /profile/email/change
func (h *ProfileHandler) RequestEmailChange(w http.ResponseWriter, r *http.Request) {
	user, ok := withUser(w, r)
	if !ok {
		return
	}
	var req ChangeEmailRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if err := h.service.RequestEmailChange(r.Context(), user, req.Email); err != nil {
		writeError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusAccepted, MessageResponse{Message: "confirmation code sent to the new address"})
}

// ConfirmEmailChange handles POST /profile/email/change/confirm
func (h *ProfileHandler) ConfirmEmailChange(w http.ResponseWriter, r *http.Request) {
	user, ok := withUser(w, r)
	if !ok {
		return
	}
	var req ConfirmEmailChangeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if err := h.service.ConfirmEmailChange(r.Context(), user, req.Code); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete handles DELETE /profile
func (h *ProfileHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user, ok := withUser(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), user); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Notifications handles GET /profile/notifications
func (h *ProfileHandler) Notifications(w http.ResponseWriter, r *http.Request) {
	user, ok := withUser(w, r)
	if !ok {
		return
	}
	req, ok := listingRequest(w, r)
	if !ok {
		return
	}
	page, err := h.service.Notifications(r.Context(), user, req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, page)
}
