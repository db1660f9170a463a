package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/kevin07696/harvest-settlement/internal/handlers/settlement"
	"github.com/kevin07696/harvest-settlement/internal/handlers/webhook"
	"github.com/kevin07696/harvest-settlement/internal/middleware"
	pkgmw "github.com/kevin07696/harvest-settlement/pkg/middleware"
	"github.com/kevin07696/harvest-settlement/pkg/observability"
	"github.com/kevin07696/harvest-settlement/pkg/resilience"
)

// RouterDeps are the handlers and middleware the HTTP API is assembled from
type RouterDeps struct {
	Settlement      *settlement.Handler
	Webhook         *webhook.Handler
	WebhookAuth     *middleware.WebhookSignatureAuth
	RateLimiter     *pkgmw.RateLimiter
	SecurityHeaders *middleware.SecurityHeaders
	Timeouts        *resilience.TimeoutConfig
}

// NewRouter creates the chi router with the operator API under /api/v1 and the
// network callback under /webhooks
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(observability.HTTPMetrics)
	r.Use(deps.SecurityHeaders.Middleware)
	r.Use(pkgmw.Timeout(deps.Timeouts))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(deps.RateLimiter.Middleware)
		deps.Settlement.Routes(r)
	})

	r.Route("/webhooks", func(r chi.Router) {
		r.Use(deps.WebhookAuth.Middleware)
		r.Post("/settlement-network", deps.Webhook.HandleSettlementCallback)
	})

	return r
}
