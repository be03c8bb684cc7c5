package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/background"
	"github.com/BradenHooton/gatekeeper/internal/config"
	"github.com/BradenHooton/gatekeeper/internal/database"
	"github.com/BradenHooton/gatekeeper/internal/events"
	"github.com/BradenHooton/gatekeeper/internal/handlers"
	"github.com/BradenHooton/gatekeeper/internal/metrics"
	middlewareCustom "github.com/BradenHooton/gatekeeper/internal/middleware"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/oauth"
	"github.com/BradenHooton/gatekeeper/internal/queue"
	"github.com/BradenHooton/gatekeeper/internal/repositories"
	"github.com/BradenHooton/gatekeeper/internal/routes"
	"github.com/BradenHooton/gatekeeper/internal/services"
	"github.com/BradenHooton/gatekeeper/internal/storage"
	"github.com/BradenHooton/gatekeeper/migrations"
	pkgauth "github.com/BradenHooton/gatekeeper/pkg/auth"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
	pkglogger "github.com/BradenHooton/gatekeeper/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := pkglogger.New(os.Stdout, cfg.Server.LogLevel)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("server stopped gracefully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := database.NewConnection(ctx, &cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, db.Pool, migrations.FS, logger); err != nil {
			return err
		}
	}

	// Object storage
	store, err := storage.New(cfg.Storage, logger)
	if err != nil {
		return err
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return err
	}

	// Metrics are optional; nil interfaces keep the services quiet.
	var (
		promMetrics     *metrics.Metrics
		actionMetrics   services.ActionMetrics
		queueObserver   queue.Observer
		requestObserver middlewareCustom.RequestObserver
	)
	if cfg.Metrics.Enabled {
		promMetrics = metrics.New()
		actionMetrics, queueObserver, requestObserver = promMetrics, promMetrics, promMetrics
	}

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	adminRepo := repositories.NewAdminRepository(db)
	deviceRepo := repositories.NewDeviceRepository(db)
	actionRepo := repositories.NewSecurityActionRepository(db)
	revokeRepo := repositories.NewTokenRevocationRepository(db)
	attachmentRepo := repositories.NewAttachmentRepository(db)
	notificationRepo := repositories.NewNotificationRepository(db)

	// Security actions announce their secrets on the bus; the email service
	// turns them into queued jobs.
	bus := events.NewBus(logger)
	actions := services.NewSecurityActionService(actionRepo, bus, actionMetrics, cfg.Auth, logger)

	mailer, err := services.NewMailer(ctx, cfg.Email, logger)
	if err != nil {
		return err
	}
	emailService := services.NewEmailService(mailer, cfg.Email.FrontendURL, actions, logger)
	emailQueue := queue.New(queue.Config{
		Workers:     cfg.Queue.Workers,
		RatePerSec:  cfg.Queue.RatePerSec,
		MaxAttempts: cfg.Queue.MaxAttempts,
		Backoff:     cfg.Queue.Backoff,
		Buffer:      cfg.Queue.Buffer,
	}, emailService.Handle, logger)
	if queueObserver != nil {
		emailQueue.SetObserver(queueObserver)
	}
	emailService.Register(bus, emailQueue)

	// Credentials
	tokenManager := auth.NewTokenManager(cfg.Auth)
	totpManager, err := auth.NewTOTPManager([]byte(cfg.Auth.TOTPKey), cfg.Auth.TOTPIssuer)
	if err != nil {
		return err
	}
	hasher := pkgauth.NewPasswordHasher(cfg.Auth.BcryptCost)
	timing := auth.NewTimingDelay(auth.TimingConfig{Floor: cfg.Auth.TimingFloor, Jitter: cfg.Auth.TimingJitter})

	attachments := services.NewAttachmentService(attachmentRepo, store, oauth.NewPictureFetcher(nil), logger)
	verifiers := map[string]oauth.Verifier{
		"google": oauth.NewGoogle(cfg.OAuth.GoogleAudiences()),
		"apple":  oauth.NewApple(cfg.OAuth.AppleKeysURL, cfg.OAuth.AppleAudiences(), nil),
	}

	// One auth and profile stack per tenant
	var tenants []routes.Tenant
	for _, role := range []string{models.RoleCustomer, models.RoleClient} {
		authService := services.NewAuthService(role, services.AuthDependencies{
			Users:     userRepo,
			Devices:   deviceRepo,
			Revoker:   revokeRepo,
			Actions:   actions,
			Tokens:    tokenManager,
			TOTP:      totpManager,
			Hasher:    hasher,
			Avatars:   attachments,
			Verifiers: verifiers,
			Timing:    timing,
		}, logger)
		profileService := services.NewProfileService(services.ProfileDependencies{
			Users:         userRepo,
			Devices:       deviceRepo,
			Actions:       actions,
			Hasher:        hasher,
			TOTP:          totpManager,
			Attachments:   attachments,
			Notifications: notificationRepo,
		}, logger)

		tenants = append(tenants, routes.Tenant{
			Role:    role,
			Auth:    handlers.NewAuthHandler(authService, logger),
			Profile: handlers.NewProfileHandler(profileService, logger),
		})
	}

	adminService := services.NewAdminService(adminRepo, userRepo, attachments, tokenManager, hasher, logger)

	// Bootstrap the first admin if configured
	bootstrapCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := adminService.Bootstrap(bootstrapCtx, cfg.Admin); err != nil {
		logger.Error("failed to bootstrap admin", slog.Any("error", err))
	}
	cancel()

	// Setup router
	ipConfig := pkghttp.NewIPConfig(cfg.Server.TrustedProxies)
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.RequestLogger(logger))
	if requestObserver != nil {
		router.Use(middlewareCustom.Metrics(requestObserver))
	}
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(cfg.Server.RequestTimeout))

	deps := routes.Dependencies{
		Tenants:     tenants,
		Attachments: handlers.NewAttachmentHandler(attachments, cfg.Storage.MaxUploadSize, logger),
		Admin:       handlers.NewAdminHandler(adminService, logger),
		Health:      handlers.NewHealthHandler(db, logger),
		Auth: auth.NewMiddleware(tokenManager, revokeRepo, auth.RevocationConfig{
			FailClosed: cfg.Server.Env == "production",
		}, logger),
		Users:  userRepo,
		Admins: adminRepo,
		AuthRateLimit: middlewareCustom.RateLimitConfig{
			RequestsPerMinute: cfg.Server.AuthRateLimit,
			IPConfig:          ipConfig,
		},
	}
	if promMetrics != nil {
		deps.Metrics = promMetrics.Handler()
		deps.MetricsPath = cfg.Metrics.Path
	}
	routes.RegisterRoutes(router, deps)

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Background workers outlive the request context until shutdown.
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	emailQueue.Start(workerCtx)
	cleanupManager := background.NewCleanupManager(actions, revokeRepo, logger, cfg.Auth.CleanupInterval)
	go cleanupManager.Start(workerCtx)

	// Start server
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-serverErr:
	}

	// Graceful shutdown: stop taking requests, drain mail, stop cleanup.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		runErr = errors.Join(runErr, err)
	}
	if err := emailQueue.Shutdown(shutdownCtx); err != nil {
		logger.Error("email queue did not drain", slog.Any("error", err))
		runErr = errors.Join(runErr, err)
	}
	cleanupManager.Stop()
	workerCancel()

	return runErr
}
