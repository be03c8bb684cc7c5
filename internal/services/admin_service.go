package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/config"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/query"
	"github.com/BradenHooton/gatekeeper/pkg/logger"
)

// AdminRepository is the admin account store.
type AdminRepository interface {
	GetByEmail(ctx context.Context, email string) (*models.Admin, error)
	CreateIfMissing(ctx context.Context, admin *models.Admin) (bool, error)
}

// AdminUserRepository is the subset of user storage the admin endpoints need.
type AdminUserRepository interface {
	query.Finder[*models.User]
	SetDeactivated(ctx context.Context, id string, at *time.Time) (*models.User, error)
}

// AdminTokenIssuer signs admin tokens
type AdminTokenIssuer interface {
	IssueAdminToken(admin *models.Admin) (string, error)
}

// AttachmentLister pages through stored attachments
type AttachmentLister interface {
	List(ctx context.Context, req query.Request) (*query.Page[*models.SignedAttachment], error)
}

// UserListing is what admins may filter, sort and search users on.
var UserListing = query.Options{
	Filterable: query.FilterSpec{
		"role":            query.Allow(query.OpEq, query.OpIn),
		"email":           query.Allow(query.OpEq, query.OpLike, query.OpILike),
		"name":            query.Allow(query.OpEq, query.OpILike),
		"phone":           query.Allow(query.OpEq),
		"emailVerifiedAt": query.Allow(query.OpExists, query.OpBetween),
		"deactivatedAt":   query.Allow(query.OpExists, query.OpBetween),
		"createdAt":       query.Allow(query.OpGte, query.OpLte, query.OpBetween),
		"avatar": query.Nested{
			"createdAt": query.Allow(query.OpGte, query.OpLte),
		},
	},
	Sortable:   []string{"createdAt", "updatedAt", "name", "email", "avatar.createdAt"},
	Searchable: []string{"name", "email", "phone"},
}

// AdminService handles admin sign in and user management.
type AdminService struct {
	admins      AdminRepository
	users       AdminUserRepository
	attachments AttachmentLister
	tokens      AdminTokenIssuer
	hasher      PasswordHasher
	audit       *logger.AuditLogger
	logger      *slog.Logger
	now         func() time.Time
}

// NewAdminService creates a new AdminService.
func NewAdminService(
	admins AdminRepository,
	users AdminUserRepository,
	attachments AttachmentLister,
	tokens AdminTokenIssuer,
	hasher PasswordHasher,
	log *slog.Logger,
) *AdminService {
	return &AdminService{
		admins:      admins,
		users:       users,
		attachments: attachments,
		tokens:      tokens,
		hasher:      hasher,
		audit:       logger.NewAuditLogger(log),
		logger:      log,
		now:         time.Now,
	}
}

// Login authenticates an admin with email and password.
func (s *AdminService) Login(ctx context.Context, email, password string) (*models.AuthResponse, error) {
	admin, err := s.admins.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.audit.Failure(ctx, logger.EventAdminLogin, "", "invalid_credentials")
			return nil, fmt.Errorf("%w: invalid credentials", models.ErrUnauthorized)
		}
		return nil, models.Infra("get admin by email", err)
	}

	if err := s.hasher.Compare(admin.PasswordHash, password); err != nil {
		s.audit.Failure(ctx, logger.EventAdminLogin, admin.ID, "invalid_credentials")
		return nil, fmt.Errorf("%w: invalid credentials", models.ErrUnauthorized)
	}
	if admin.SuspendedAt != nil {
		s.audit.Failure(ctx, logger.EventAdminLogin, admin.ID, "suspended")
		return nil, models.ErrAccountDisabled
	}

	token, err := s.tokens.IssueAdminToken(admin)
	if err != nil {
		return nil, models.Infra("issue admin token", err)
	}
	s.audit.Success(ctx, logger.EventAdminLogin, admin.ID)
	return &models.AuthResponse{Token: token}, nil
}

// ListUsers pages through every tenant's users.
func (s *AdminService) ListUsers(ctx context.Context, req query.Request) (*query.Page[*models.User], error) {
	page, err := query.FindAndPaginate(ctx, s.users, nil, nil, UserListing, req)
	if err != nil {
		return nil, models.Infra("list users", err)
	}
	return page, nil
}

// Deactivate blocks the user from signing in and from using issued tokens.
func (s *AdminService) Deactivate(ctx context.Context, admin *models.Admin, userID string) (*models.User, error) {
	now := s.now()
	return s.setDeactivated(ctx, admin, userID, &now, logger.EventUserDeactivated)
}

func (s *AdminService) Activate(ctx context.Context, admin *models.Admin, userID string) (*models.User, error) {
	return s.setDeactivated(ctx, admin, userID, nil, logger.EventUserActivated)
}

func (s *AdminService) setDeactivated(ctx context.Context, admin *models.Admin, userID string, at *time.Time, event string) (*models.User, error) {
	user, err := s.users.SetDeactivated(ctx, userID, at)
	if err != nil {
		return nil, models.Infra("set user deactivated", err)
	}
	s.audit.Log(ctx, logger.AuditEvent{
		EventType: event,
		UserID:    userID,
		Role:      admin.Role,
		Success:   true,
		Metadata:  map[string]string{"admin_id": admin.ID},
	})
	return user, nil
}

func (s *AdminService) ListAttachments(ctx context.Context, req query.Request) (*query.Page[*models.SignedAttachment], error) {
	return s.attachments.List(ctx, req)
}

// Bootstrap creates the configured admin account when it does not exist yet.
// An empty configuration is a no-op.
func (s *AdminService) Bootstrap(ctx context.Context, cfg config.AdminBootstrapConfig) error {
	if cfg.Email == "" || cfg.Password == "" {
		return nil
	}

	hash, err := s.hasher.Hash(cfg.Password)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	created, err := s.admins.CreateIfMissing(ctx, &models.Admin{
		Name:         strings.TrimSpace(cfg.Name),
		Email:        normalizeEmail(cfg.Email),
		PasswordHash: hash,
		Role:         models.AdminRoleAdmin,
	})
	if err != nil {
		return fmt.Errorf("create admin: %w", err)
	}
	if created {
		s.logger.Info("bootstrap admin created", slog.String("email", logger.SanitizedEmail(cfg.Email)))
	}
	return nil
}
