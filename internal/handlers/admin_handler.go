package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/query"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
	"github.com/go-chi/chi/v5"
)

// AdminServiceInterface defines the admin service contract.
type AdminServiceInterface interface {
	Login(ctx context.Context, email, password string) (*models.AuthResponse, error)
	ListUsers(ctx context.Context, req query.Request) (*query.Page[*models.User], error)
	Deactivate(ctx context.Context, admin *models.Admin, userID string) (*models.User, error)
	Activate(ctx context.Context, admin *models.Admin, userID string) (*models.User, error)
	ListAttachments(ctx context.Context, req query.Request) (*query.Page[*models.SignedAttachment], error)
}

// AdminHandler handles admin HTTP requests.
type AdminHandler struct {
	service AdminServiceInterface
	logger  *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(service AdminServiceInterface, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{service: service, logger: logger}
}

type AdminLoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Login handles POST /admin/auth/login
func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req AdminLoginRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	resp, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// ListUsers handles GET /admin/users
//
//	?page=1&itemsPerPage=20&search=jane&filter[role]=$in:customer,client&sort[createdAt]=desc
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	req, ok := listingRequest(w, r)
	if !ok {
		return
	}
	page, err := h.service.ListUsers(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, page)
}

// Deactivate handles PUT /admin/users/{id}/deactivate
func (h *AdminHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, h.service.Deactivate)
}

// Activate handles PUT /admin/users/{id}/activate
func (h *AdminHandler) Activate(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, h.service.Activate)
}

func (h *AdminHandler) setStatus(w http.ResponseWriter, r *http.Request, apply func(context.Context, *models.Admin, string) (*models.User, error)) {
	admin := auth.AdminFromContext(r.Context())
	if admin == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}
	user, err := apply(r.Context(), admin, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, user)
}

// ListAttachments handles GET /admin/attachments
func (h *AdminHandler) ListAttachments(w http.ResponseWriter, r *http.Request) {
	req, ok := listingRequest(w, r)
	if !ok {
		return
	}
	page, err := h.service.ListAttachments(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, page)
}
