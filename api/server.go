/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /health                    Liveness probe (unauthenticated)
  /api/auth/*                Registration and login
  /api/installments/*        Client submissions (client token)
  /api/rewards/*             Client rewards (client token)
  /api/admin/*               Review, dispatch, reporting (admin token)

AUTHENTICATION:
  Bearer tokens. The Authenticator middleware verifies the token and
  RequireRoles gates each group. Role checks run before any handler,
  so a client token on an admin route gets 403 without store access.

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Authenticator and RequireRoles
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/promomundial/verification-engine/engine"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handlers, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// Health checks
	r.Get("/health", h.handleHealth)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.handleHealth)

		// Auth routes (unauthenticated)
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", h.handleRegister)
			r.Post("/login", h.handleLogin)
			r.Post("/admin-login", h.handleAdminLogin)
		})

		// Client routes
		r.Group(func(r chi.Router) {
			r.Use(Authenticator(h.Tokens))
			r.Use(RequireRoles(engine.RoleClient))

			r.Route("/installments", func(r chi.Router) {
				r.Get("/", h.handleListMyInstallments)
				r.Post("/{number}", h.handleSubmitInstallment)
			})
			r.Route("/rewards", func(r chi.Router) {
				r.Get("/", h.handleListMyRewards)
				r.Post("/{number}/claim", h.handleClaimReward)
			})
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Use(Authenticator(h.Tokens))
			r.Use(RequireRoles(engine.AdminRoles...))

			r.Get("/installments", h.handleListInstallments)
			r.Post("/installments/{userID}/{number}/approve", h.handleApprove)
			r.Post("/installments/{userID}/{number}/reject", h.handleReject)

			r.Get("/clients", h.handleListClients)
			r.Get("/stats", h.handleStats)

			// The audit trail names every actor; only the owner reads it.
			r.With(RequireRoles(engine.RoleOwner)).Get("/audit", h.handleListAudit)

			r.Route("/rewards", func(r chi.Router) {
				r.Use(RequireRoles(engine.RoleOwner))
				r.Post("/{userID}/{number}/dispatch", h.handleDispatchReward)
				r.Post("/{userID}/{number}/deliver", h.handleDeliverReward)
			})
		})
	})

	return r
}
