package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tokenscout/analytics-service/internal/domain"
)

type RouterDeps struct {
	Handler *Handler

	// Optional: nil disables rate limiting.
	Cache     domain.CacheRepository
	RateLimit RateLimitOptions

	// Optional: nil disables the explorer proxy mount.
	ExplorerProxy http.Handler
}

func NewRouter(d RouterDeps) http.Handler {
	if d.Handler == nil {
		panic("rest.NewRouter: nil handler")
	}

	r := chi.NewRouter()

	// Request ID + structured access log
	r.Use(RequestID)
	r.Use(HTTPLogger)

	// Panic recovery
	r.Use(middleware.Recoverer)

	// Cross-cutting
	r.Use(Metrics)
	if d.Cache != nil {
		r.Use(RateLimitMiddleware(d.Cache, d.RateLimit))
	}
	r.Use(SecurityHeaders)

	r.Route("/analytics", func(r chi.Router) {
		r.Post("/search", d.Handler.RecordSearch)
		r.Post("/click", d.Handler.RecordClick)
	})

	r.Route("/trending", func(r chi.Router) {
		r.Get("/", d.Handler.GetTrending)
		r.Post("/log", d.Handler.LogTrendingSearch)
		r.Get("/popularity", d.Handler.GetPopularity)
		r.Post("/popularity", d.Handler.UpdatePopularity)
	})

	r.Get("/recommendations/peers", d.Handler.GetPeerRecommendations)
	r.Get("/stats/network", d.Handler.NetworkStats)

	r.Get("/health", d.Handler.Health)
	r.Handle("/metrics", promhttp.Handler())

	if d.ExplorerProxy != nil {
		r.Mount("/explorer", d.ExplorerProxy)
	}

	return r
}
