package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/searchsync/indexqueue/internal/api/handler"
	apimw "github.com/searchsync/indexqueue/internal/api/middleware"
	"github.com/searchsync/indexqueue/internal/queue"
	"github.com/searchsync/indexqueue/internal/service"
)

// EndpointPath is where the rendering endpoint is mounted.
const EndpointPath = "/index-queue/endpoint"

// RouterDeps groups what NewRouter wires into the HTTP surface.
type RouterDeps struct {
	Service  *service.IndexQueueService
	Queue    *queue.WorkQueue
	Gatherer prometheus.Gatherer
	// Endpoint serves indexing requests from dispatchers. Optional.
	Endpoint http.Handler
	// Ping checks the queue store for the readiness probe. Optional.
	Ping func(ctx context.Context) error
}

// NewRouter wires the chi router, attaches all middleware, and registers
// every route. It is the single source of truth for the HTTP surface area.
func NewRouter(deps RouterDeps, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestSize(1 << 20))
	r.Use(apimw.CorrelationID)
	r.Use(apimw.RequestLogger(logger))

	qh := handler.NewQueueHandler(deps.Service, logger)
	mh := handler.NewMetricsHandler(deps.Queue)
	hh := handler.NewHealthHandler(deps.Ping)

	r.Get("/health", hh.Health)
	r.Get("/ready", hh.Ready)
	r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))

	if deps.Endpoint != nil {
		r.Mount(EndpointPath, deps.Endpoint)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/configurations", qh.Configurations)

		r.Route("/sites/{site}/queue", func(r chi.Router) {
			r.Delete("/", qh.Clear)
			r.Post("/initialize", qh.Initialize)
			r.Get("/statistics", qh.Statistics)
			r.Get("/configurations", qh.ConfigurationStatistics)
			r.Get("/errors", qh.Errors)
			r.Post("/index", qh.Index)
		})

		r.Post("/queue/errors/reset", qh.ResetErrors)
		r.Get("/queue/items/{id}", qh.GetItem)

		r.Get("/metrics", mh.GetMetrics)
	})

	return r
}
