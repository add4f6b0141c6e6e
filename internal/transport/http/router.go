package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	authmw "qgate/pkg/platform/middleware/auth"
	"qgate/pkg/platform/middleware/metadata"
	"qgate/pkg/platform/middleware/request"
	"qgate/pkg/platform/middleware/requesttime"
)

// NewRouter wires the ops surface. Mutating endpoints require an operator
// token with one of roles.
func NewRouter(h *Handler, validator authmw.JWTValidator, gatherer prometheus.Gatherer, logger *slog.Logger, roles ...string) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)

	r.Get("/healthz", h.HandleHealth)
	r.Get("/readyz", h.HandleReady)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(v1 chi.Router) {
		h.RegisterPublic(v1)
		v1.Group(func(ops chi.Router) {
			ops.Use(authmw.RequireOperator(validator, h.logger, roles...))
			h.RegisterOperator(ops)
		})
	})
	return r
}
