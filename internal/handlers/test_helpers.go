package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/query"
	"github.com/BradenHooton/gatekeeper/internal/services"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithUserContext attaches an authenticated user the way RequireUser does.
func WithUserContext(req *http.Request, user *models.User) *http.Request {
	claims := &models.TokenClaims{Role: user.Role}
	claims.Subject = user.ID
	claims.ID = "jti-" + user.ID
	return req.WithContext(auth.WithUser(req.Context(), user, claims))
}

// WithAdminContext attaches an authenticated admin the way RequireAdmin does.
func WithAdminContext(req *http.Request, admin *models.Admin) *http.Request {
	claims := &models.TokenClaims{Role: admin.Role}
	claims.Subject = admin.ID
	return req.WithContext(auth.WithAdmin(req.Context(), admin, claims))
}

// WithChiRouteContext adds chi URL parameters to request context for testing
func WithChiRouteContext(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target any) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"), "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response and
// returns it for further inspection of details.
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) pkghttp.ErrorResponse {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
	return resp
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	RegisterFunc             func(ctx context.Context, in services.RegisterInput) error
	ResendOTPFunc            func(ctx context.Context, email string) error
	VerifyOTPFunc            func(ctx context.Context, email, code string, device services.Device) (*models.AuthResponse, error)
	LoginFunc                func(ctx context.Context, in services.LoginInput) (*models.AuthResponse, error)
	RequestPasswordResetFunc func(ctx context.Context, email string) error
	ResetPasswordFunc        func(ctx context.Context, in services.ResetPasswordInput) error
	LogoutFunc               func(ctx context.Context, user *models.User, claims *models.TokenClaims, deviceID string) error
	OAuthLoginFunc           func(ctx context.Context, provider, token string, device services.Device) (*models.AuthResponse, error)
}

func (m *MockAuthService) Register(ctx context.Context, in services.RegisterInput) error {
	if m.RegisterFunc == nil {
		return nil
	}
	return m.RegisterFunc(ctx, in)
}

func (m *MockAuthService) ResendOTP(ctx context.Context, email string) error {
	if m.ResendOTPFunc == nil {
		return nil
	}
	return m.ResendOTPFunc(ctx, email)
}

func (m *MockAuthService) VerifyOTP(ctx context.Context, email, code string, device services.Device) (*models.AuthResponse, error) {
	if m.VerifyOTPFunc == nil {
		return nil, models.ErrInvalidOrExpired
	}
	return m.VerifyOTPFunc(ctx, email, code, device)
}

func (m *MockAuthService) Login(ctx context.Context, in services.LoginInput) (*models.AuthResponse, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.LoginFunc(ctx, in)
}

func (m *MockAuthService) RequestPasswordReset(ctx context.Context, email string) error {
	if m.RequestPasswordResetFunc == nil {
		return nil
	}
	return m.RequestPasswordResetFunc(ctx, email)
}

func (m *MockAuthService) ResetPassword(ctx context.Context, in services.ResetPasswordInput) error {
	if m.ResetPasswordFunc == nil {
		return nil
	}
	return m.ResetPasswordFunc(ctx, in)
}

func (m *MockAuthService) Logout(ctx context.Context, user *models.User, claims *models.TokenClaims, deviceID string) error {
	if m.LogoutFunc == nil {
		return nil
	}
	return m.LogoutFunc(ctx, user, claims, deviceID)
}

func (m *MockAuthService) OAuthLogin(ctx context.Context, provider, token string, device services.Device) (*models.AuthResponse, error) {
	if m.OAuthLoginFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.OAuthLoginFunc(ctx, provider, token, device)
}

// MockProfileService implements ProfileServiceInterface for testing
type MockProfileService struct {
	GetFunc                func(ctx context.Context, user *models.User) (*services.Profile, error)
	ChangePasswordFunc     func(ctx context.Context, user *models.User, in services.ChangePasswordInput) error
	GenerateTwoFactorFunc  func(ctx context.Context, user *models.User) (*auth.TOTPEnrollment, error)
	VerifyTwoFactorFunc    func(ctx context.Context, user *models.User, code string) error
	DisableTwoFactorFunc   func(ctx context.Context, user *models.User) error
	SetNotificationsFunc   func(ctx context.Context, user *models.User, enabled bool) error
	RequestEmailChangeFunc func(ctx context.Context, user *models.User, newEmail string) error
	ConfirmEmailChangeFunc func(ctx context.Context, user *models.User, code string) error
	DeleteFunc             func(ctx context.Context, user *models.User) error
	NotificationsFunc      func(ctx context.Context, user *models.User, req query.Request) (*query.Page[*models.UserNotification], error)
}

func (m *MockProfileService) Get(ctx context.Context, user *models.User) (*services.Profile, error) {
	if m.GetFunc == nil {
		return &services.Profile{User: user}, nil
	}
	return m.GetFunc(ctx, user)
}

func (m *MockProfileService) ChangePassword(ctx context.Context, user *models.User, in services.ChangePasswordInput) error {
	if m.ChangePasswordFunc == nil {
		return nil
	}
	return m.ChangePasswordFunc(ctx, user, in)
}

func (m *MockProfileService) GenerateTwoFactor(ctx context.Context, user *models.User) (*auth.TOTPEnrollment, error) {
	if m.GenerateTwoFactorFunc == nil {
		return nil, models.ErrConflict
	}
	return m.GenerateTwoFactorFunc(ctx, user)
}

func (m *MockProfileService) VerifyTwoFactor(ctx context.Context, user *models.User, code string) error {
	if m.VerifyTwoFactorFunc == nil {
		return nil
	}
	return m.VerifyTwoFactorFunc(ctx, user, code)
}

func (m *MockProfileService) DisableTwoFactor(ctx context.Context, user *models.User) error {
	if m.DisableTwoFactorFunc == nil {
		return nil
	}
	return m.DisableTwoFactorFunc(ctx, user)
}

func (m *MockProfileService) SetNotifications(ctx context.Context, user *models.User, enabled bool) error {
	if m.SetNotificationsFunc == nil {
		return nil
	}
	return m.SetNotificationsFunc(ctx, user, enabled)
}

func (m *MockProfileService) RequestEmailChange(ctx context.Context, user *models.User, newEmail string) error {
	if m.RequestEmailChangeFunc == nil {
		return nil
	}
	return m.RequestEmailChangeFunc(ctx, user, newEmail)
}

func (m *MockProfileService) ConfirmEmailChange(ctx context.Context, user *models.User, code string) error {
	if m.ConfirmEmailChangeFunc == nil {
		return nil
	}
	return m.ConfirmEmailChangeFunc(ctx, user, code)
}

func (m *MockProfileService) Delete(ctx context.Context, user *models.User) error {
	if m.DeleteFunc == nil {
		return nil
	}
	return m.DeleteFunc(ctx, user)
}

func (m *MockProfileService) Notifications(ctx context.Context, user *models.User, req query.Request) (*query.Page[*models.UserNotification], error) {
	if m.NotificationsFunc == nil {
		return &query.Page[*models.UserNotification]{Items: []*models.UserNotification{}}, nil
	}
	return m.NotificationsFunc(ctx, user, req)
}

// MockAttachmentService implements AttachmentServiceInterface for testing
type MockAttachmentService struct {
	UploadFunc func(ctx context.Context, up services.Upload) (*models.SignedAttachment, error)
	GetFunc    func(ctx context.Context, id string) (*models.SignedAttachment, error)
}

func (m *MockAttachmentService) Upload(ctx context.Context, up services.Upload) (*models.SignedAttachment, error) {
	if m.UploadFunc == nil {
		return nil, models.ErrInternalServer
	}
	return m.UploadFunc(ctx, up)
}

func (m *MockAttachmentService) Get(ctx context.Context, id string) (*models.SignedAttachment, error) {
	if m.GetFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.GetFunc(ctx, id)
}

// MockAdminService implements AdminServiceInterface for testing
type MockAdminService struct {
	LoginFunc           func(ctx context.Context, email, password string) (*models.AuthResponse, error)
	ListUsersFunc       func(ctx context.Context, req query.Request) (*query.Page[*models.User], error)
	DeactivateFunc      func(ctx context.Context, admin *models.Admin, userID string) (*models.User, error)
	ActivateFunc        func(ctx context.Context, admin *models.Admin, userID string) (*models.User, error)
	ListAttachmentsFunc func(ctx context.Context, req query.Request) (*query.Page[*models.SignedAttachment], error)
}

func (m *MockAdminService) Login(ctx context.Context, email, password string) (*models.AuthResponse, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.LoginFunc(ctx, email, password)
}

func (m *MockAdminService) ListUsers(ctx context.Context, req query.Request) (*query.Page[*models.User], error) {
	if m.ListUsersFunc == nil {
		return &query.Page[*models.User]{Items: []*models.User{}}, nil
	}
	return m.ListUsersFunc(ctx, req)
}

func (m *MockAdminService) Deactivate(ctx context.Context, admin *models.Admin, userID string) (*models.User, error) {
	if m.DeactivateFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.DeactivateFunc(ctx, admin, userID)
}

func (m *MockAdminService) Activate(ctx context.Context, admin *models.Admin, userID string) (*models.User, error) {
	if m.ActivateFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.ActivateFunc(ctx, admin, userID)
}

func (m *MockAdminService) ListAttachments(ctx context.Context, req query.Request) (*query.Page[*models.SignedAttachment], error) {
	if m.ListAttachmentsFunc == nil {
		return &query.Page[*models.SignedAttachment]{Items: []*models.SignedAttachment{}}, nil
	}
	return m.ListAttachmentsFunc(ctx, req)
}

// MockDatabaseHealth implements DatabaseHealth for testing
type MockDatabaseHealth struct {
	Err error
}

func (m *MockDatabaseHealth) HealthCheck(ctx context.Context) error { return m.Err }

func (m *MockDatabaseHealth) Stats() *pgxpool.Stat { return nil }
