package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xela07ax/conformance-exporter/internal/console/handler"
)

// ExporterServer — HTTP-поверхность экспортера: скрейп, healthcheck, статус систем.
type ExporterServer struct {
	router   *chi.Mux
	logger   *zap.Logger
	gatherer prometheus.Gatherer

	statusHandler *handler.StatusHandler // /v1/systems
}

func NewExporterServer(gatherer prometheus.Gatherer, logger *zap.Logger, statusH *handler.StatusHandler) *ExporterServer {
	s := &ExporterServer{
		router:        chi.NewRouter(),
		logger:        logger.Named("http"),
		gatherer:      gatherer,
		statusHandler: statusH,
	}

	s.routes()
	return s
}

func (s *ExporterServer) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Prometheus скрейпит отдельный реестр, а не глобальный DefaultRegisterer
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{
		ErrorLog: zap.NewStdLog(s.logger),
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Get("/v1/systems", s.statusHandler.List)
}

// ServeHTTP позволяет использовать ExporterServer как стандартный http.Handler
func (s *ExporterServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
