package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/zerotrust-labs/agent-gate/app"
	"github.com/zerotrust-labs/agent-gate/handlers"
	"github.com/zerotrust-labs/agent-gate/middleware"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))
	r.Use(propagateRequestID)

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	decisionHandler := handlers.NewDecisionHandler(deps.Engine, deps.Executor, deps.Logger)
	auditHandler := handlers.NewAuditHandler(deps.Audit, deps.Logger)
	policyHandler := handlers.NewPolicyHandler(deps.Policies, deps, deps.Logger)
	healthHandler := handlers.NewHealthHandler(deps.Policies, deps.Audit, deps.Logger)

	// Health check endpoints
	r.Get("/healthz", healthHandler.HandleHealth)
	r.Get("/readyz", healthHandler.HandleReady)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(deps.AuthMiddleware.RequireAuth)

		r.Route("/actions", func(r chi.Router) {
			r.Post("/evaluate", decisionHandler.HandleEvaluate)
		})

		r.Route("/audit", func(r chi.Router) {
			r.Get("/recent", auditHandler.HandleRecent)
		})

		r.Route("/policies", func(r chi.Router) {
			r.Get("/", policyHandler.HandleShow)
			r.Post("/reload", policyHandler.HandleReload)
		})
	})

	return r
}

// propagateRequestID copies chi's request ID into the context key the
// handlers and auth middleware log under
func propagateRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := chimiddleware.GetReqID(ctx); id != "" {
			ctx = middleware.WithRequestID(ctx, id)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
