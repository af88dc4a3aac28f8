package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kwhitfield/bastion/internal/auth"
	"github.com/kwhitfield/bastion/internal/background"
	"github.com/kwhitfield/bastion/internal/config"
	"github.com/kwhitfield/bastion/internal/database"
	"github.com/kwhitfield/bastion/internal/handlers"
	middlewareCustom "github.com/kwhitfield/bastion/internal/middleware"
	"github.com/kwhitfield/bastion/internal/models"
	"github.com/kwhitfield/bastion/internal/repositories"
	"github.com/kwhitfield/bastion/internal/routes"
	"github.com/kwhitfield/bastion/internal/services"
	pkgauth "github.com/kwhitfield/bastion/pkg/auth"
	pkghttp "github.com/kwhitfield/bastion/pkg/http"
	pkglogger "github.com/kwhitfield/bastion/pkg/logger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.Bool("lockout_enabled", cfg.Lockout.Enabled()))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	sessionRepo := repositories.NewSessionRepository(db, cfg.Auth.SessionExpiry)

	auditLogger := pkglogger.NewAuditLogger(logger)

	// Ticket manager with composite per-user signing keys
	ticketManager := auth.NewTicketManager(cfg.Auth.TicketSecret, cfg.Auth.TicketExpiry)
	ticketManager.SetUserRepo(userRepo)

	// Second-factor manager; optional, gated on the encryption key
	var totpManager *auth.TOTPManager
	if cfg.Auth.TOTPKey != "" {
		totpManager, err = auth.NewTOTPManager([]byte(cfg.Auth.TOTPKey), cfg.Auth.TOTPIssuer)
		if err != nil {
			logger.Error("failed to initialize TOTP manager", slog.Any("error", err))
			os.Exit(1)
		}
	}

	// Timing delay for failed verifications
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   200,
		RandomDelayMs: 100,
	})

	// Lockout tracker and login pipeline
	lockoutTracker := services.NewLockoutTracker(cfg.Lockout, logger)
	verifier := services.NewCredentialVerifier(userRepo, sessionRepo, ticketManager, totpManager, logger)
	loginService := services.NewLoginService(verifier, lockoutTracker, sessionRepo, userRepo, timingDelay, logger, auditLogger)

	if cfg.Notify.Enabled {
		notifier, nerr := services.NewSESBanNotifier(cfg.Notify.AWSRegion, cfg.Notify.FromAddress, userRepo, logger)
		if nerr != nil {
			logger.Error("failed to initialize ban notifier", slog.Any("error", nerr))
			os.Exit(1)
		}
		loginService.SetNotifier(notifier)
	}

	// Credential extraction chain
	extractionChain := auth.NewExtractionChain(auth.ExtractorConfig{
		TokenHeader:       cfg.Sources.TokenHeader,
		AuthScheme:        cfg.Sources.AuthScheme,
		OTPHeader:         cfg.Sources.OTPHeader,
		SessionCookie:     cfg.Sources.SessionCookie,
		CorrelationCookie: cfg.Sources.CorrelationCookie,
		TicketCookie:      cfg.Sources.TicketCookie,
	}, logger)

	cookieConfig := auth.CookieConfig{
		SessionName:     cfg.Sources.SessionCookie,
		CorrelationName: cfg.Sources.CorrelationCookie,
		TicketName:      cfg.Sources.TicketCookie,
		Secure:          cfg.Server.Env == "production",
		SameSite:        "lax",
	}

	// Initialize handlers
	var enroller handlers.SecondFactorEnroller
	if totpManager != nil {
		enroller = totpManager
	}
	authHandler := handlers.NewAuthHandler(loginService, ticketManager, enroller, userRepo, cookieConfig, cfg.Auth.TicketExpiry)

	// Bootstrap first admin user if configured
	bootCtx, bootCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureAdminUser(bootCtx, userRepo, logger); err != nil {
		logger.Error("failed to ensure admin user", slog.Any("error", err))
	}
	bootCancel()

	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	corsConfig := middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(corsConfig))
	router.Use(middlewareCustom.SecureLogger(logger, ipConfig))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// The gateway authenticates every request on a protected prefix before
	// routing sees it.
	router.Use(auth.Gateway(
		auth.GatewayConfig{ProtectedPrefixes: cfg.Sources.ProtectedPrefixes},
		extractionChain, loginService, sessionRepo, logger,
	))

	// Register routes
	routes.RegisterRoutes(router, authHandler)

	// Health check with database
	router.Get("/health/db", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up"}`))
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start cleanup task
	cleanupManager := background.NewCleanupManager(sessionRepo, lockoutTracker, logger, cfg.Auth.CleanupInterval)
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

// ensureAdminUser creates the first admin user if ADMIN_USERNAME and ADMIN_PASSWORD are set
func ensureAdminUser(ctx context.Context, userRepo *repositories.UserRepository, logger *slog.Logger) error {
	adminUsername := os.Getenv("ADMIN_USERNAME")
	adminPassword := os.Getenv("ADMIN_PASSWORD")

	if adminUsername == "" || adminPassword == "" {
		logger.Info("no ADMIN_USERNAME or ADMIN_PASSWORD set, skipping admin user creation")
		return nil
	}

	// Check if admin already exists
	_, err := userRepo.GetByUsername(ctx, adminUsername)
	if err == nil {
		logger.Info("admin user already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if admin exists: %w", err)
	}

	hashedPassword, err := pkgauth.HashPassword(adminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	tokenKey, err := pkgauth.GenerateTokenKey()
	if err != nil {
		return fmt.Errorf("failed to generate token key: %w", err)
	}

	admin := &models.User{
		Username:     adminUsername,
		Email:        os.Getenv("ADMIN_EMAIL"),
		PasswordHash: hashedPassword,
		DisplayName:  "Admin",
		TokenKey:     tokenKey,
		Role:         "admin",
		Status:       "active",
	}

	if _, err := userRepo.Create(ctx, admin); err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	logger.Info("admin user created successfully")
	return nil
}
