package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	platformmetrics "trackhub/internal/platform/metrics"
	"trackhub/internal/platform/middleware"
	"trackhub/internal/tracking/models"
)

// RouterDeps are the pieces NewRouter mounts.
type RouterDeps struct {
	WebSocket   *WebSocket
	Internal    *Internal
	Auth        middleware.Authenticator
	Gatherer    prometheus.Gatherer
	HTTPMetrics *platformmetrics.HTTP
	Logger      *zap.Logger
}

// NewRouter wires the public websocket endpoint, health and metrics, and the
// service-only internal API.
func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(d.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.ClientMetadata)
	r.Use(middleware.Logger(d.Logger, d.HTTPMetrics))

	r.Get("/healthz", d.Internal.HandleHealth)
	if d.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}
	r.Method(http.MethodGet, "/ws", d.WebSocket)

	r.Route("/internal", func(r chi.Router) {
		r.Use(middleware.RequireAuth(d.Auth, d.Logger))
		r.Use(middleware.RequireRole(models.RoleService))
		d.Internal.Register(r)
	})
	return r
}
