// Package api assembles the public HTTP surface: the route table, CORS, and
// the response headers every endpoint shares.
package api

import (
	"net/http"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/Kampouse/kvindexer/internal/daemon/interfaces"
	"github.com/Kampouse/kvindexer/internal/methods"
	"github.com/Kampouse/kvindexer/internal/throttle"
	"github.com/Kampouse/kvindexer/internal/watch"
)

// maxBodyBytes caps request bodies; only /v1/kv/batch accepts one.
const maxBodyBytes = 262_144

// corsMaxAgeSecs is how long browsers may cache a preflight response.
const corsMaxAgeSecs = 3600

// HandlerParams carries everything the route table needs. Store and
// WatchStore usually wrap the same supervisor; they are separate so each
// consumer states the narrow read surface it needs.
type HandlerParams struct {
	Logger     *logrus.Entry
	Daemon     interfaces.Daemon
	Store      methods.Store
	WatchStore watch.Store
	Heights    methods.HeightSource
	Hub        *watch.Hub
}

// NewHandler builds the public handler tree.
func NewHandler(params HandlerParams) http.Handler {
	logger := params.Logger
	limiter := throttle.NewLimiter()

	// durationMetric is a metric for measuring the latency of requests
	durationMetric := prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Namespace: params.Daemon.MetricsNamespace(), Subsystem: "api", Name: "request_duration_seconds",
		Help:       "HTTP request durations, sliding window = 10m",
		Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
	}, []string{"endpoint", "status"})
	params.Daemon.MetricsRegistry().MustRegister(durationMetric)

	r := chi.NewRouter()
	r.Use(requestLogger(logger))
	r.Use(requestMetrics(durationMetric))
	r.Use(securityHeaders)
	r.Use(indexerBlockHeader(params.Heights))
	r.Use(cacheControl)
	r.Use(limitBody(maxBodyBytes))

	r.Get("/health", methods.NewHealthHandler(logger, params.Store))
	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", methods.NewStatusHandler(params.Heights))
		r.Route("/kv", func(r chi.Router) {
			r.Get("/get", methods.NewGetHandler(logger, params.Store))
			r.Post("/batch", methods.NewBatchHandler(logger, params.Store))
			r.Get("/query", methods.NewQueryHandler(logger, params.Store))
			r.Get("/history", methods.NewHistoryHandler(logger, params.Store))
			r.Get("/timeline", methods.NewTimelineHandler(logger, params.Store))
			r.Get("/diff", methods.NewDiffHandler(logger, params.Store))
			r.Get("/writers", methods.NewWritersHandler(logger, params.Store))
			r.Get("/accounts", methods.NewAccountsHandler(logger, params.Store, limiter))
			r.Get("/contracts", methods.NewContractsHandler(logger, params.Store, limiter))
			r.Get("/edges", methods.NewEdgesHandler(logger, params.Store))
			r.Get("/edges/count", methods.NewEdgesCountHandler(logger, params.Store))
			r.Get("/watch", methods.NewWatchHandler(logger, params.WatchStore, params.Hub))
		})
	})

	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type", "Accept"},
		ExposedHeaders: []string{"X-Results-Truncated", "X-Indexer-Block"},
		MaxAge:         corsMaxAgeSecs,
	}).Handler(r)
}
