// Package httpd exposes the collection engine over HTTP: collection
// lifecycle, document CRUD, and search, with the shared middleware stack
// (request ids, Prometheus metrics, request timeouts).
package httpd

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prismsearch/prism/internal/collection"
	"github.com/prismsearch/prism/internal/querycache"
	"github.com/prismsearch/prism/pkg/config"
	"github.com/prismsearch/prism/pkg/health"
	"github.com/prismsearch/prism/pkg/logger"
	"github.com/prismsearch/prism/pkg/metrics"
	"github.com/prismsearch/prism/pkg/middleware"
)

// Server wires the HTTP API to a collection manager.
type Server struct {
	manager *collection.Manager
	cache   *querycache.Cache
	metrics *metrics.Metrics
	checker *health.Checker
	cfg     config.Config
	logger  *slog.Logger
}

// New creates a Server. cache may be nil when Redis is not configured.
func New(cfg config.Config, manager *collection.Manager, cache *querycache.Cache,
	m *metrics.Metrics, checker *health.Checker) *Server {
	return &Server{
		manager: manager,
		cache:   cache,
		metrics: m,
		checker: checker,
		cfg:     cfg,
		logger:  logger.Component("httpd"),
	}
}

// Handler builds the routed and middleware-wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /collections", s.handleCreateCollection)
	mux.HandleFunc("GET /collections", s.handleListCollections)
	mux.HandleFunc("GET /collections/{collection}", s.handleGetCollection)
	mux.HandleFunc("DELETE /collections/{collection}", s.handleDropCollection)
	mux.HandleFunc("POST /collections/{collection}/documents", s.handleAddDocument)
	mux.HandleFunc("GET /collections/{collection}/documents/search", s.handleSearch)
	mux.HandleFunc("GET /collections/{collection}/documents/{id}", s.handleGetDocument)
	mux.HandleFunc("DELETE /collections/{collection}/documents/{id}", s.handleDeleteDocument)
	mux.HandleFunc("GET /health", s.checker.Handler())

	var handler http.Handler = mux
	handler = middleware.Timeout(s.cfg.Server.RequestTimeout)(handler)
	handler = middleware.Metrics(s.metrics)(handler)
	handler = middleware.RequestID(handler)
	return handler
}

// HTTPServer assembles the http.Server for the API with the configured
// timeouts; the caller owns ListenAndServe and Shutdown.
func (s *Server) HTTPServer() *http.Server {
	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(s.cfg.Server.Port),
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}
	s.logger.Info("http server configured", "addr", srv.Addr)
	return srv
}

// updateShardGauges refreshes the per-shard document gauges after a write.
func (s *Server) updateShardGauges(coll *collection.Collection) {
	for i, count := range coll.ShardDocCounts() {
		s.metrics.ShardDocCount.
			WithLabelValues(coll.Name(), strconv.Itoa(i)).
			Set(float64(count))
	}
}

// observeSearch records search metrics for one request.
func (s *Server) observeSearch(collectionName string, started time.Time, result *collection.SearchResult, err error) {
	s.metrics.SearchLatency.WithLabelValues(collectionName).Observe(time.Since(started).Seconds())
	switch {
	case err != nil:
		s.metrics.SearchesTotal.WithLabelValues(collectionName, "error").Inc()
	case result.Found == 0:
		s.metrics.SearchesTotal.WithLabelValues(collectionName, "zero_result").Inc()
	default:
		s.metrics.SearchesTotal.WithLabelValues(collectionName, "hit").Inc()
		s.metrics.SearchHitsCount.Observe(float64(len(result.Hits)))
	}
}
