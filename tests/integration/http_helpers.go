package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kwhitfield/bastion/internal/auth"
	"github.com/kwhitfield/bastion/internal/config"
	"github.com/kwhitfield/bastion/internal/database"
	"github.com/kwhitfield/bastion/internal/handlers"
	middlewareCustom "github.com/kwhitfield/bastion/internal/middleware"
	"github.com/kwhitfield/bastion/internal/routes"
	"github.com/kwhitfield/bastion/internal/services"
	pkglogger "github.com/kwhitfield/bastion/pkg/logger"
)

// TestServer wraps httptest.Server with database and all dependencies
type TestServer struct {
	Server *httptest.Server
	DB     *database.DB
	Config *config.Config

	// Dependency references for inspection in tests
	LockoutTracker *services.LockoutTracker
	TicketManager  *auth.TicketManager
	LoginService   *services.LoginService
	logger         *slog.Logger
}

// NewTestServer initializes a complete HTTP server against a real database
func NewTestServer(db *database.DB) *TestServer {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg := &config.Config{
		Auth: config.AuthConfig{
			TicketSecret:  "test-secret-32-characters-long!!",
			TicketExpiry:  1 * time.Hour,
			SessionExpiry: 1 * time.Hour,
		},
		Lockout: config.LockoutConfig{
			MaxTry:      3,
			TrialWindow: 5 * time.Minute,
			BanTime:     5 * time.Minute,
		},
		Sources: config.CredentialSourceConfig{
			TokenHeader:       "X-Auth-Token",
			AuthScheme:        "Bastion",
			OTPHeader:         "X-Auth-OTP",
			SessionCookie:     "bastion_session",
			CorrelationCookie: "bastion_correlation",
			TicketCookie:      "bastion_ticket",
			ProtectedPrefixes: []string{"/api"},
		},
		Server: config.ServerConfig{
			Port: "0",
			Env:  "test",
		},
	}

	userRepo, sessionRepo := InitializeRepositories(db, cfg.Auth.SessionExpiry)

	auditLogger := pkglogger.NewAuditLogger(logger)

	ticketManager := auth.NewTicketManager(cfg.Auth.TicketSecret, cfg.Auth.TicketExpiry)
	ticketManager.SetUserRepo(userRepo)

	// No artificial delay in tests
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{})

	lockoutTracker := services.NewLockoutTracker(cfg.Lockout, logger)
	verifier := services.NewCredentialVerifier(userRepo, sessionRepo, ticketManager, nil, logger)
	loginService := services.NewLoginService(verifier, lockoutTracker, sessionRepo, userRepo, timingDelay, logger, auditLogger)

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
		SameSite:        "lax",
	}

	authHandler := handlers.NewAuthHandler(loginService, ticketManager, nil, userRepo, cookieConfig, cfg.Auth.TicketExpiry)

	router := chi.NewRouter()
	router.Use(chiMiddleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(chiMiddleware.Recoverer)
	router.Use(auth.Gateway(
		auth.GatewayConfig{ProtectedPrefixes: cfg.Sources.ProtectedPrefixes},
		extractionChain, loginService, sessionRepo, logger,
	))

	routes.RegisterRoutes(router, authHandler)

	// A protected endpoint behind the gateway, used to observe what identity
	// a request ends up with.
	router.Get("/api/me", authHandler.Whoami)

	server := httptest.NewServer(router)

	return &TestServer{
		Server:         server,
		DB:             db,
		Config:         cfg,
		LockoutTracker: lockoutTracker,
		TicketManager:  ticketManager,
		LoginService:   loginService,
		logger:         logger,
	}
}

// Close shuts down the test server
func (ts *TestServer) Close() {
	ts.Server.Close()
}

// URL joins a path onto the test server base URL
func (ts *TestServer) URL(path string) string {
	return ts.Server.URL + path
}

// PostJSON sends a JSON POST and returns the response
func (ts *TestServer) PostJSON(ctx context.Context, path string, body any, modify func(*http.Request)) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.URL(path), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if modify != nil {
		modify(req)
	}

	return http.DefaultClient.Do(req)
}

// Get sends a GET request, optionally decorated with credentials
func (ts *TestServer) Get(ctx context.Context, path string, modify func(*http.Request)) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL(path), nil)
	if err != nil {
		return nil, err
	}
	if modify != nil {
		modify(req)
	}

	return http.DefaultClient.Do(req)
}

// Login performs a JSON login and returns the decoded response plus cookies
func (ts *TestServer) Login(ctx context.Context, username, password string) (*handlers.LoginResponse, []*http.Cookie, *http.Response, error) {
	resp, err := ts.PostJSON(ctx, "/auth/login", handlers.LoginRequest{
		Username: username,
		Password: password,
	}, nil)
	if err != nil {
		return nil, nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, nil, resp, fmt.Errorf("login returned %d: %s", resp.StatusCode, body)
	}

	var loginResp handlers.LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return nil, nil, resp, fmt.Errorf("failed to decode login response: %w", err)
	}

	return &loginResp, resp.Cookies(), resp, nil
}

// DecodeJSON decodes a response body into v and closes the body
func DecodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(v)
}
