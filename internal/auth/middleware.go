package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"

	"github.com/BradenHooton/gatekeeper/internal/models"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	claimsContextKey contextKey = "claims"
	userContextKey   contextKey = "user"
	adminContextKey  contextKey = "admin"
)

// TokenRevocationChecker defines the interface for checking if tokens are revoked
type TokenRevocationChecker interface {
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// RevocationConfig holds configuration for token revocation behavior
type RevocationConfig struct {
	FailClosed bool // deny access when the revocation lookup itself fails
}

// UserLoader fetches the live user behind a token.
type UserLoader interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// AdminLoader fetches the live admin behind a token.
type AdminLoader interface {
	GetByID(ctx context.Context, id string) (*models.Admin, error)
}

// Middleware authenticates bearer tokens for one tenant.
type Middleware struct {
	tokens      *TokenManager
	revocations TokenRevocationChecker
	revocation  RevocationConfig
	logger      *slog.Logger
}

func NewMiddleware(tokens *TokenManager, revocations TokenRevocationChecker, cfg RevocationConfig, logger *slog.Logger) *Middleware {
	return &Middleware{tokens: tokens, revocations: revocations, revocation: cfg, logger: logger}
}

// RequireUser accepts user tokens issued for one of roles, loads the user and
// rejects deleted or deactivated accounts.
func (m *Middleware) RequireUser(users UserLoader, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := m.authenticate(w, r, m.tokens.ValidateUserToken)
			if !ok {
				return
			}
			if !slices.Contains(roles, claims.Role) {
				pkghttp.WriteForbidden(w, "token is not valid for this audience")
				return
			}

			user, err := users.GetByID(r.Context(), claims.Subject)
			if err != nil {
				if errors.Is(err, models.ErrNotFound) {
					pkghttp.WriteDomainError(w, models.ErrAccountDeleted)
					return
				}
				m.logger.Error("failed to load principal", slog.String("user_id", claims.Subject), slog.Any("error", err))
				pkghttp.WriteInternalError(w, "internal server error")
				return
			}
			if user.DeactivatedAt != nil {
				pkghttp.WriteDomainError(w, models.ErrAccountDisabled)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			ctx = context.WithValue(ctx, userContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin accepts admin tokens and rejects suspended admins.
func (m *Middleware) RequireAdmin(admins AdminLoader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := m.authenticate(w, r, m.tokens.ValidateAdminToken)
			if !ok {
				return
			}

			admin, err := admins.GetByID(r.Context(), claims.Subject)
			if err != nil {
				if errors.Is(err, models.ErrNotFound) {
					pkghttp.WriteUnauthorized(w, "unauthorized")
					return
				}
				m.logger.Error("failed to load admin", slog.String("admin_id", claims.Subject), slog.Any("error", err))
				pkghttp.WriteInternalError(w, "internal server error")
				return
			}
			if admin.SuspendedAt != nil {
				pkghttp.WriteDomainError(w, models.ErrAccountDisabled)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			ctx = context.WithValue(ctx, adminContextKey, admin)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (m *Middleware) authenticate(w http.ResponseWriter, r *http.Request, validate func(string) (*models.TokenClaims, error)) (*models.TokenClaims, bool) {
	token, ok := pkghttp.BearerToken(r)
	if !ok {
		pkghttp.WriteUnauthorized(w, "missing or malformed authorization header")
		return nil, false
	}

	claims, err := validate(token)
	if err != nil {
		pkghttp.WriteUnauthorized(w, "invalid or expired token")
		return nil, false
	}

	if m.revocations != nil {
		revoked, err := m.revocations.IsTokenRevoked(r.Context(), claims.ID)
		if err != nil {
			m.logger.Warn("token revocation check failed", slog.String("jti", claims.ID), slog.Any("error", err))
			if m.revocation.FailClosed {
				pkghttp.WriteError(w, http.StatusServiceUnavailable, "service_unavailable", "unable to verify token status")
				return nil, false
			}
		}
		if revoked {
			pkghttp.WriteUnauthorized(w, "token has been revoked")
			return nil, false
		}
	}

	return claims, true
}

// RequireDeviceID rejects requests without the device id header.
func RequireDeviceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if pkghttp.DeviceID(r) == "" {
			pkghttp.WriteErrorWithDetails(w, http.StatusBadRequest, "bad_request",
				"device id header is required", map[string]string{"field": pkghttp.DeviceIDHeader})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClaimsFromContext returns the verified token claims.
func ClaimsFromContext(ctx context.Context) *models.TokenClaims {
	claims, _ := ctx.Value(claimsContextKey).(*models.TokenClaims)
	return claims
}

// UserFromContext returns the authenticated user.
func UserFromContext(ctx context.Context) *models.User {
	user, _ := ctx.Value(userContextKey).(*models.User)
	return user
}

// AdminFromContext returns the authenticated admin.
func AdminFromContext(ctx context.Context) *models.Admin {
	admin, _ := ctx.Value(adminContextKey).(*models.Admin)
	return admin
}

// WithUser stores user and claims the way RequireUser does.
func WithUser(ctx context.Context, user *models.User, claims *models.TokenClaims) context.Context {
	ctx = context.WithValue(ctx, claimsContextKey, claims)
	return context.WithValue(ctx, userContextKey, user)
}

// WithAdmin stores admin and claims the way RequireAdmin does.
func WithAdmin(ctx context.Context, admin *models.Admin, claims *models.TokenClaims) context.Context {
	ctx = context.WithValue(ctx, claimsContextKey, claims)
	return context.WithValue(ctx, adminContextKey, admin)
}
