package routes

import (
	"net/http"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/handlers"
	"github.com/BradenHooton/gatekeeper/internal/middleware"
	"github.com/go-chi/chi/v5"
)

const defaultUserRateLimit = 120

// Tenant groups the handlers served under /api/v1/{role}.
type Tenant struct {
	Role    string
	Auth    *handlers.AuthHandler
	Profile *handlers.ProfileHandler
}

// Dependencies holds everything the router mounts.
type Dependencies struct {
	Tenants     []Tenant
	Attachments *handlers.AttachmentHandler
	Admin       *handlers.AdminHandler
	Health      *handlers.HealthHandler

	Auth   *auth.Middleware
	Users  auth.UserLoader
	Admins auth.AdminLoader

	AuthRateLimit middleware.RateLimitConfig
	// UserRateLimit caps authenticated requests per principal per minute.
	UserRateLimit int

	Metrics     http.Handler
	MetricsPath string
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, d Dependencies) {
	if d.Health != nil {
		router.Get("/health", d.Health.Check)
	}
	if d.Metrics != nil && d.MetricsPath != "" {
		router.Handle(d.MetricsPath, d.Metrics)
	}

	if d.UserRateLimit <= 0 {
		d.UserRateLimit = defaultUserRateLimit
	}
	roles := make([]string, 0, len(d.Tenants))

	router.Route("/api/v1", func(r chi.Router) {
		for _, tenant := range d.Tenants {
			roles = append(roles, tenant.Role)
			r.Route("/"+tenant.Role, func(r chi.Router) {
				registerAuth(r, d, tenant)
				registerProfile(r, d, tenant)
			})
		}

		if d.Attachments != nil {
			r.Route("/attachments", func(r chi.Router) {
				r.Use(d.Auth.RequireUser(d.Users, roles...))
				r.Use(middleware.RateLimitByUser(d.UserRateLimit, d.AuthRateLimit.IPConfig))
				r.Post("/", d.Attachments.Upload)
				r.Get("/{id}", d.Attachments.Get)
			})
		}

		if d.Admin != nil {
			r.Route("/admin", func(r chi.Router) {
				r.With(middleware.RateLimitByIP(d.AuthRateLimit)).Post("/auth/login", d.Admin.Login)

				r.Group(func(r chi.Router) {
					r.Use(d.Auth.RequireAdmin(d.Admins))
					r.Use(middleware.RateLimitByUser(d.UserRateLimit, d.AuthRateLimit.IPConfig))
					r.Get("/users", d.Admin.ListUsers)
					r.Put("/users/{id}/deactivate", d.Admin.Deactivate)
					r.Put("/users/{id}/activate", d.Admin.Activate)
					r.Get("/attachments", d.Admin.ListAttachments)
				})
			})
		}
	})
}

func registerAuth(r chi.Router, d Dependencies, tenant Tenant) {
	if tenant.Auth == nil {
		return
	}
	h := tenant.Auth

	r.Route("/auth", func(r chi.Router) {
		// Public routes share one per-IP budget.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitByIP(d.AuthRateLimit))
			r.Post("/register", h.Register)
			r.Post("/otp/resend", h.ResendOTP)
			r.Post("/password/reset/request", h.RequestPasswordReset)
			r.Post("/password/reset", h.ResetPassword)

			// Sign-in routes register the calling device.
			r.Group(func(r chi.Router) {
				r.Use(auth.RequireDeviceID)
				r.Post("/verify", h.VerifyOTP)
				r.Post("/login", h.Login)
				r.Post("/oauth/google", h.OAuth("google"))
				r.Post("/oauth/apple", h.OAuth("apple"))
			})
		})

		r.With(d.Auth.RequireUser(d.Users, tenant.Role), auth.RequireDeviceID).Post("/logout", h.Logout)
	})
}

func registerProfile(r chi.Router, d Dependencies, tenant Tenant) {
	if tenant.Profile == nil {
		return
	}
	h := tenant.Profile

	r.Route("/profile", func(r chi.Router) {
		r.Use(d.Auth.RequireUser(d.Users, tenant.Role))
		r.Use(middleware.RateLimitByUser(d.UserRateLimit, d.AuthRateLimit.IPConfig))

		r.Get("/", h.Get)
		r.Delete("/", h.Delete)
		r.Put("/password", h.ChangePassword)
		r.Post("/2fa/generate", h.GenerateTwoFactor)
		r.Post("/2fa/verify", h.VerifyTwoFactor)
		r.Delete("/2fa", h.DisableTwoFactor)
		r.Put("/notifications", h.SetNotifications)
		r.Get("/notifications", h.Notifications)
		r.Post("/email/change", h.RequestEmailChange)
		r.Post("/email/change/confirm", h.ConfirmEmailChange)
	})
}
