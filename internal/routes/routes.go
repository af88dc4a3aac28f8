package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kwhitfield/bastion/internal/handlers"
	"github.com/kwhitfield/bastion/internal/middleware"
)

// RegisterRoutes registers all application routes. Everything under the
// gateway's protected prefixes is authenticated ambiently; the explicit
// /auth endpoints below are where sessions begin and end.
func RegisterRoutes(router chi.Router, authHandler *handlers.AuthHandler) {
	rateLimitConfig := middleware.LoginRateLimit()

	// Public routes - no authentication required
	router.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/auth/login", authHandler.Login)
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Authenticated by the gateway; handlers check for a bound subject.
	router.Post("/auth/logout", authHandler.Logout)
	router.Get("/auth/whoami", authHandler.Whoami)
	router.Post("/auth/totp/enroll", authHandler.EnrollSecondFactor)
}
