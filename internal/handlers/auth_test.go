package handlers_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BradenHooton/gatekeeper/internal/handlers"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/services"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestUser() *models.User {
	return &models.User{ID: "user-1", Email: "jane@example.com", Role: models.RoleCustomer}
}

func TestRegister_Success(t *testing.T) {
	var got services.RegisterInput
	mock := &handlers.MockAuthService{
		RegisterFunc: func(ctx context.Context, in services.RegisterInput) error {
			got = in
			return nil
		},
	}

	handler := handlers.NewAuthHandler(mock, testLogger)
	req := handlers.NewTestRequest(t, "POST", "/register", handlers.RegisterRequest{
		Email:    "jane@example.com",
		Password: "Str0ngPassw0rd!",
		Phone:    "+14155550100",
	})
	w := httptest.NewRecorder()
	handler.Register(w, req)

	var resp handlers.MessageResponse
	handlers.AssertJSONResponse(t, w, http.StatusCreated, &resp)
	assert.NotEmpty(t, resp.Message)
	assert.Equal(t, "jane@example.com", got.Email)
	assert.Equal(t, "+14155550100", got.Phone)
}

func TestRegister_ValidationErrors(t *testing.T) {
	tests := []struct {
		name      string
		body      any
		wantField string
	}{
		{name: "missing email", body: map[string]string{"password": "Str0ngPassw0rd!"}, wantField: "email"},
		{name: "invalid email", body: map[string]string{"email": "nope", "password": "x"}, wantField: "email"},
		{name: "invalid phone", body: map[string]string{"email": "a@example.com", "password": "x", "phone": "555"}, wantField: "phone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &handlers.MockAuthService{
				RegisterFunc: func(context.Context, services.RegisterInput) error {
					t.Fatal("service must not be called")
					return nil
				},
			}
			w := httptest.NewRecorder()
			handlers.NewAuthHandler(mock, testLogger).Register(w, handlers.NewTestRequest(t, "POST", "/register", tt.body))

			resp := handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
			assert.Equal(t, tt.wantField, resp.Details["field"])
		})
	}
}

func TestRegister_RejectsUnknownFieldsAndGarbage(t *testing.T) {
	handler := handlers.NewAuthHandler(&handlers.MockAuthService{}, testLogger)

	w := httptest.NewRecorder()
	handler.Register(w, handlers.NewTestRequest(t, "POST", "/register", map[string]string{
		"email": "a@example.com", "password": "x", "role": "admin",
	}))
	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")

	w = httptest.NewRecorder()
	handler.Register(w, httptest.NewRequest("POST", "/register", strings.NewReader("{not json")))
	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
}

func TestRegister_Conflict(t *testing.T) {
	mock := &handlers.MockAuthService{
		RegisterFunc: func(context.Context, services.RegisterInput) error {
			return models.NewConflictError("email", "email is already registered")
		},
	}
	w := httptest.NewRecorder()
	handlers.NewAuthHandler(mock, testLogger).Register(w, handlers.NewTestRequest(t, "POST", "/register", handlers.RegisterRequest{
		Email: "jane@example.com", Password: "Str0ngPassw0rd!",
	}))

	resp := handlers.AssertErrorResponse(t, w, http.StatusConflict, "conflict")
	assert.Equal(t, "email", resp.Details["field"])
}

func TestVerifyOTP_PassesDevice(t *testing.T) {
	var gotDevice services.Device
	mock := &handlers.MockAuthService{
		VerifyOTPFunc: func(ctx context.Context, email, code string, device services.Device) (*models.AuthResponse, error) {
			assert.Equal(t, "48213", code)
			gotDevice = device
			return &models.AuthResponse{Token: "jwt"}, nil
		},
	}
	fcm := "fcm-token"
	req := handlers.NewTestRequest(t, "POST", "/verify", handlers.VerifyOTPRequest{Email: "jane@example.com", Code: "48213", FCMToken: &fcm})
	req.Header.Set(pkghttp.DeviceIDHeader, "device-1")

	w := httptest.NewRecorder()
	handlers.NewAuthHandler(mock, testLogger).VerifyOTP(w, req)

	var resp models.AuthResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "jwt", resp.Token)
	assert.Equal(t, "device-1", gotDevice.ID)
	require.NotNil(t, gotDevice.FCMToken)
	assert.Equal(t, "fcm-token", *gotDevice.FCMToken)
}

func TestVerifyOTP_Failures(t *testing.T) {
	handler := handlers.NewAuthHandler(&handlers.MockAuthService{}, testLogger)

	w := httptest.NewRecorder()
	handler.VerifyOTP(w, handlers.NewTestRequest(t, "POST", "/verify", handlers.VerifyOTPRequest{Email: "jane@example.com", Code: "12a45"}))
	resp := handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
	assert.Equal(t, "code", resp.Details["field"])

	w = httptest.NewRecorder()
	handler.VerifyOTP(w, handlers.NewTestRequest(t, "POST", "/verify", handlers.VerifyOTPRequest{Email: "jane@example.com", Code: "12345"}))
	handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "unauthorized")
}

func TestLogin_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "bad credentials", err: models.ErrUnauthorized, wantStatus: http.StatusUnauthorized, wantCode: "unauthorized"},
		{name: "two factor required", err: models.ErrTwoFactorRequired, wantStatus: http.StatusUnauthorized, wantCode: "two_factor_required"},
		{name: "deactivated", err: models.ErrAccountDisabled, wantStatus: http.StatusForbidden, wantCode: "forbidden"},
		{name: "infrastructure", err: errors.New("db down"), wantStatus: http.StatusInternalServerError, wantCode: "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &handlers.MockAuthService{
				LoginFunc: func(context.Context, services.LoginInput) (*models.AuthResponse, error) { return nil, tt.err },
			}
			w := httptest.NewRecorder()
			handlers.NewAuthHandler(mock, testLogger).Login(w, handlers.NewTestRequest(t, "POST", "/login", handlers.LoginRequest{
				Email: "jane@example.com", Password: "Str0ngPassw0rd!",
			}))

			resp := handlers.AssertErrorResponse(t, w, tt.wantStatus, tt.wantCode)
			assert.NotContains(t, resp.Message, "db down", "infrastructure detail must not leak")
		})
	}
}

func TestLogin_Success(t *testing.T) {
	mock := &handlers.MockAuthService{
		LoginFunc: func(ctx context.Context, in services.LoginInput) (*models.AuthResponse, error) {
			assert.Equal(t, "123456", in.TwoFACode)
			assert.Equal(t, "device-9", in.Device.ID)
			return &models.AuthResponse{Token: "jwt"}, nil
		},
	}
	req := handlers.NewTestRequest(t, "POST", "/login", handlers.LoginRequest{
		Email: "jane@example.com", Password: "Str0ngPassw0rd!", TwoFACode: "123456",
	})
	req.Header.Set(pkghttp.DeviceIDHeader, "device-9")

	w := httptest.NewRecorder()
	handlers.NewAuthHandler(mock, testLogger).Login(w, req)
	handlers.AssertJSONResponse(t, w, http.StatusOK, nil)
}

func TestRequestPasswordReset_AlwaysAccepted(t *testing.T) {
	w := httptest.NewRecorder()
	handlers.NewAuthHandler(&handlers.MockAuthService{}, testLogger).RequestPasswordReset(w,
		handlers.NewTestRequest(t, "POST", "/password/reset/request", handlers.EmailRequest{Email: "ghost@example.com"}))
	handlers.AssertJSONResponse(t, w, http.StatusAccepted, nil)
}

func TestResetPassword(t *testing.T) {
	token := strings.Repeat("ab", 32)
	var got services.ResetPasswordInput
	mock := &handlers.MockAuthService{
		ResetPasswordFunc: func(ctx context.Context, in services.ResetPasswordInput) error {
			got = in
			return nil
		},
	}
	handler := handlers.NewAuthHandler(mock, testLogger)

	w := httptest.NewRecorder()
	handler.ResetPassword(w, handlers.NewTestRequest(t, "POST", "/password/reset", handlers.ResetPasswordRequest{
		Email: "jane@example.com", Token: token, Password: "N3wPassw0rd!",
	}))
	handlers.AssertJSONResponse(t, w, http.StatusOK, nil)
	assert.Equal(t, token, got.Token)

	w = httptest.NewRecorder()
	handler.ResetPassword(w, handlers.NewTestRequest(t, "POST", "/password/reset", handlers.ResetPasswordRequest{
		Email: "jane@example.com", Token: "short", Password: "N3wPassw0rd!",
	}))
	resp := handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
	assert.Equal(t, "token", resp.Details["field"])
}

func TestLogout(t *testing.T) {
	var gotDevice string
	var gotClaims *models.TokenClaims
	mock := &handlers.MockAuthService{
		LogoutFunc: func(ctx context.Context, user *models.User, claims *models.TokenClaims, deviceID string) error {
			gotClaims, gotDevice = claims, deviceID
			return nil
		},
	}
	handler := handlers.NewAuthHandler(mock, testLogger)

	req := handlers.WithUserContext(httptest.NewRequest("POST", "/logout", nil), newTestUser())
	req.Header.Set(pkghttp.DeviceIDHeader, "device-1")
	w := httptest.NewRecorder()
	handler.Logout(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "device-1", gotDevice)
	require.NotNil(t, gotClaims)
	assert.Equal(t, "jti-user-1", gotClaims.ID)

	w = httptest.NewRecorder()
	handler.Logout(w, httptest.NewRequest("POST", "/logout", nil))
	handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "unauthorized")
}

func TestOAuth_ProviderIsBound(t *testing.T) {
	var gotProvider string
	mock := &handlers.MockAuthService{
		OAuthLoginFunc: func(ctx context.Context, provider, token string, device services.Device) (*models.AuthResponse, error) {
			gotProvider = provider
			assert.Equal(t, "id-token", token)
			return &models.AuthResponse{Token: "jwt"}, nil
		},
	}
	w := httptest.NewRecorder()
	handlers.NewAuthHandler(mock, testLogger).OAuth("apple")(w, handlers.NewTestRequest(t, "POST", "/oauth/apple", handlers.OAuthRequest{Token: "id-token"}))

	handlers.AssertJSONResponse(t, w, http.StatusOK, nil)
	assert.Equal(t, "apple", gotProvider)
}
