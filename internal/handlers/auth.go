package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/services"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Register(ctx context.Context, in services.RegisterInput) error
	ResendOTP(ctx context.Context, email string) error
	VerifyOTP(ctx context.Context, email, code string, device services.Device) (*models.AuthResponse, error)
	Login(ctx context.Context, in services.LoginInput) (*models.AuthResponse, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, in services.ResetPasswordInput) error
	Logout(ctx context.Context, user *models.User, claims *models.TokenClaims, deviceID string) error
	OAuthLogin(ctx context.Context, provider, token string, device services.Device) (*models.AuthResponse, error)
}

// AuthHandler serves the auth endpoints of one tenant.
type AuthHandler struct {
	service AuthServiceInterface
	logger  *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{service: service, logger: logger}
}

// Request DTOs

type RegisterRequest struct {
	Email    string  `json:"email" validate:"required,email,max=254"`
	Password string  `json:"password" validate:"required,max=72"`
	Phone    string  `json:"phone" validate:"omitempty,e164"`
	Name     *string `json:"name" validate:"omitempty,min=1,max=120"`
}

type EmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type VerifyOTPRequest struct {
	Email    string  `json:"email" validate:"required,email"`
	Code     string  `json:"code" validate:"required,len=5,numeric"`
	FCMToken *string `json:"fcmToken" validate:"omitempty,max=4096"`
}

type LoginRequest struct {
	Email     string  `json:"email" validate:"required,email"`
	Password  string  `json:"password" validate:"required"`
	TwoFACode string  `json:"twoFaCode" validate:"omitempty,len=6,numeric"`
	FCMToken  *string `json:"fcmToken" validate:"omitempty,max=4096"`
}

type ResetPasswordRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Token    string `json:"token" validate:"required,len=64,hexadecimal"`
	Password string `json:"password" validate:"required,max=72"`
}

type OAuthRequest struct {
	Token    string  `json:"token" validate:"required"`
	FCMToken *string `json:"fcmToken" validate:"omitempty,max=4096"`
}

// MessageResponse is returned by endpoints that have nothing else to say.
type MessageResponse struct {
	Message string `json:"message"`
}

func device(r *http.Request, fcmToken *string) services.Device {
	return services.Device{ID: pkghttp.DeviceID(r), FCMToken: fcmToken}
}

// Register handles POST /register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	err := h.service.Register(r.Context(), services.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Phone:    req.Phone,
		Name:     req.Name,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusCreated, MessageResponse{Message: "verification code sent"})
}

// VerifyOTP handles POST /verify
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.service.VerifyOTP(r.Context(), req.Email, req.Code, device(r, req.FCMToken))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// ResendOTP handles POST /otp/resend
func (h *AuthHandler) ResendOTP(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if err := h.service.ResendOTP(r.Context(), req.Email); err != nil {
		writeError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusAccepted, MessageResponse{Message: "verification code sent"})
}

// Login handles POST /login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.service.Login(r.Context(), services.LoginInput{
		Email:     req.Email,
		Password:  req.Password,
		TwoFACode: req.TwoFACode,
		Device:    device(r, req.FCMToken),
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// RequestPasswordReset handles POST /password/reset/request. The answer is
// the same whether or not the email is registered.
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if err := h.service.RequestPasswordReset(r.Context(), req.Email); err != nil {
		writeError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusAccepted, MessageResponse{
		Message: "if the email is registered, a reset link has been sent",
	})
}

// ResetPassword handles POST /password/reset
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	err := h.service.ResetPassword(r.Context(), services.ResetPasswordInput{
		Email:    req.Email,
		Token:    req.Token,
		Password: req.Password,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "password updated"})
}

// Logout handles POST /logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	if user == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	err := h.service.Logout(r.Context(), user, auth.ClaimsFromContext(r.Context()), pkghttp.DeviceID(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// OAuth returns the handler for POST /oauth/{provider}.
func (h *AuthHandler) OAuth(provider string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req OAuthRequest
		if !decodeAndValidate(w, r, &req) {
			return
		}

		resp, err := h.service.OAuthLogin(r.Context(), provider, req.Token, device(r, req.FCMToken))
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		pkghttp.WriteJSON(w, http.StatusOK, resp)
	}
}
