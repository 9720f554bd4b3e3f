package core

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"billingsync/internal/types"
)

// defaultRedactedHeaders lists header names whose values are masked in
// request logs.
var defaultRedactedHeaders = []string{
	"Authorization",
	"Cookie",
	"Stripe-Signature",
	"X-Whop-Signature-V2",
	"X-Whop-Signature",
	"Whop-Signature",
}

// MountRoutes registers the global middleware chain and every route.
func (s *Server) MountRoutes() {
	s.registerGlobalMiddleware()

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		Error(w, r, types.NewAppError(types.ErrCodeNotFoundRoute, "route not found", nil))
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		Error(w, r, types.NewAppError(types.ErrCodeMethodNotAllowed, "Method not allowed", nil))
	})

	s.router.Get("/health", s.HandleHealth)

	for _, registrar := range s.WebhookRoutes {
		registrar(s.router)
	}

	s.router.Route("/v1/admin", func(r chi.Router) {
		r.Use(s.AdminAuth)
		for _, registrar := range s.AdminRoutes {
			registrar(r)
		}
	})
}

// registerGlobalMiddleware applies middleware in order:
//  1. Recoverer       - outermost, catches every panic.
//  2. RealIP          - trusts X-Forwarded-For from the load balancer or Function URL.
//  3. RequestID       - propagates or generates the correlation id.
//  4. SecurityHeaders
//  5. RequestLogger   - one line per request, signature headers redacted.
func (s *Server) registerGlobalMiddleware() {
	s.router.Use(s.Recoverer)
	s.router.Use(middleware.RealIP)
	s.router.Use(RequestIDMiddleware)
	s.router.Use(SecurityHeadersMiddleware)
	s.router.Use(RequestLogger(s.Logger, defaultRedactedHeaders))
}

// CORSOrigins returns the configured allowed origins, defaulting to "*".
func (s *Server) CORSOrigins() []string {
	if s.Config != nil && len(s.Config.Security.CorsAllowedOrigins) > 0 {
		return s.Config.Security.CorsAllowedOrigins
	}
	return []string{"*"}
}
