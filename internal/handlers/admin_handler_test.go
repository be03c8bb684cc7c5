package handlers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/handlers"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdmin() *models.Admin {
	return &models.Admin{ID: "admin-1", Email: "ops@example.com", Role: models.AdminRoleAdmin}
}

func TestAdminLogin(t *testing.T) {
	mock := &handlers.MockAdminService{
		LoginFunc: func(ctx context.Context, email, password string) (*models.AuthResponse, error) {
			if password != "Adm1nPassw0rd!" {
				return nil, models.ErrUnauthorized
			}
			return &models.AuthResponse{Token: "admin-jwt"}, nil
		},
	}
	handler := handlers.NewAdminHandler(mock, testLogger)

	w := httptest.NewRecorder()
	handler.Login(w, handlers.NewTestRequest(t, "POST", "/admin/auth/login", handlers.AdminLoginRequest{Email: "ops@example.com", Password: "Adm1nPassw0rd!"}))
	var resp models.AuthResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "admin-jwt", resp.Token)

	w = httptest.NewRecorder()
	handler.Login(w, handlers.NewTestRequest(t, "POST", "/admin/auth/login", handlers.AdminLoginRequest{Email: "ops@example.com", Password: "guess"}))
	handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "unauthorized")
}

func TestAdminListUsers(t *testing.T) {
	var got query.Request
	mock := &handlers.MockAdminService{
		ListUsersFunc: func(ctx context.Context, req query.Request) (*query.Page[*models.User], error) {
			got = req
			return &query.Page[*models.User]{
				Items: []*models.User{{ID: "user-1", Email: "a@example.com", PasswordHash: "$2a$12$secret"}},
				Meta:  query.Meta{CurrentPage: 1, ItemsPerPage: 20, TotalItems: 1, TotalPages: 1},
			}, nil
		},
	}
	handler := handlers.NewAdminHandler(mock, testLogger)

	req := httptest.NewRequest("GET", "/admin/users?search=jane&filter%5Brole%5D=%24in%3Acustomer%2Cclient&sort%5Bemail%5D=DESC", nil)
	w := httptest.NewRecorder()
	handler.ListUsers(w, handlers.WithAdminContext(req, newTestAdmin()))

	var page query.Page[*models.User]
	handlers.AssertJSONResponse(t, w, http.StatusOK, &page)
	assert.Equal(t, "jane", got.Search)
	assert.Equal(t, "$in:customer,client", got.Filter["role"])
	assert.Equal(t, []query.SortField{{Path: "email", Direction: query.Desc}}, got.Sort)
	assert.NotContains(t, w.Body.String(), "secret")
	require.Len(t, page.Items, 1)
}

func TestAdminDeactivateAndActivate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var actor *models.Admin
	mock := &handlers.MockAdminService{
		DeactivateFunc: func(ctx context.Context, admin *models.Admin, userID string) (*models.User, error) {
			actor = admin
			return &models.User{ID: userID, DeactivatedAt: &now}, nil
		},
		ActivateFunc: func(ctx context.Context, admin *models.Admin, userID string) (*models.User, error) {
			return &models.User{ID: userID}, nil
		},
	}
	handler := handlers.NewAdminHandler(mock, testLogger)

	req := handlers.WithChiRouteContext(httptest.NewRequest("PUT", "/admin/users/user-1/deactivate", nil), map[string]string{"id": "user-1"})
	w := httptest.NewRecorder()
	handler.Deactivate(w, handlers.WithAdminContext(req, newTestAdmin()))

	var user models.User
	handlers.AssertJSONResponse(t, w, http.StatusOK, &user)
	assert.Equal(t, "user-1", user.ID)
	require.NotNil(t, user.DeactivatedAt)
	require.NotNil(t, actor)
	assert.Equal(t, "admin-1", actor.ID)

	req = handlers.WithChiRouteContext(httptest.NewRequest("PUT", "/admin/users/user-1/activate", nil), map[string]string{"id": "user-1"})
	w = httptest.NewRecorder()
	handler.Activate(w, handlers.WithAdminContext(req, newTestAdmin()))
	user = models.User{}
	handlers.AssertJSONResponse(t, w, http.StatusOK, &user)
	assert.Nil(t, user.DeactivatedAt)
}

func TestAdminDeactivate_Failures(t *testing.T) {
	handler := handlers.NewAdminHandler(&handlers.MockAdminService{}, testLogger)

	w := httptest.NewRecorder()
	handler.Deactivate(w, handlers.WithChiRouteContext(httptest.NewRequest("PUT", "/admin/users/x/deactivate", nil), map[string]string{"id": "x"}))
	handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "unauthorized")

	req := handlers.WithChiRouteContext(httptest.NewRequest("PUT", "/admin/users/ghost/deactivate", nil), map[string]string{"id": "ghost"})
	w = httptest.NewRecorder()
	handler.Deactivate(w, handlers.WithAdminContext(req, newTestAdmin()))
	handlers.AssertErrorResponse(t, w, http.StatusNotFound, "not_found")
}

func TestAdminListAttachments_BadFilter(t *testing.T) {
	mock := &handlers.MockAdminService{
		ListAttachmentsFunc: func(context.Context, query.Request) (*query.Page[*models.SignedAttachment], error) {
			return nil, &models.ValidationError{Field: "createdAt", Message: "unknown operator"}
		},
	}
	req := httptest.NewRequest("GET", "/admin/attachments?filter%5BcreatedAt%5D=%24btw%3A1", nil)
	w := httptest.NewRecorder()
	handlers.NewAdminHandler(mock, testLogger).ListAttachments(w, handlers.WithAdminContext(req, newTestAdmin()))

	resp := handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
	assert.Equal(t, "createdAt", resp.Details["field"])
}
