package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"

	"github.com/casefront/outbound/internal/service/models/message"
	"github.com/casefront/outbound/internal/service/services/intakesvc"
	"github.com/casefront/outbound/internal/service/services/metricssvc"
	pipelinemetrics "github.com/casefront/outbound/internal/transport/http/pipeline_metrics"
	submitmessage "github.com/casefront/outbound/internal/transport/http/submit_message"
	"github.com/casefront/outbound/pkg/http/middleware/trace"
	"github.com/casefront/outbound/pkg/logger"
)

type intakeService interface {
	Submit(ctx context.Context, req intakesvc.SubmitRequest) (*message.OutboundMessage, error)
}

type metricsService interface {
	ComputeOverview(ctx context.Context, orgID int64, from, to time.Time) (*metricssvc.Overview, error)
}

type HTTPTransport struct {
	server  *http.Server
	router  *chi.Mux
	intake  intakeService
	metrics metricsService
}

func NewHTTPTransport(intake intakeService, metrics metricsService) *HTTPTransport {
	router := newRouter()
	server := newServer(router)
	return &HTTPTransport{
		server:  server,
		router:  router,
		intake:  intake,
		metrics: metrics,
	}
}

func (h *HTTPTransport) Run() error {
	return h.server.ListenAndServe()
}

func (h *HTTPTransport) Shutdown(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}

// RegisterRoutes registers the routes for the HTTPTransport.
func (h *HTTPTransport) RegisterRoutes() {
	h.router.Route("/api", func(r chi.Router) {
		r.Post("/messages", h.submitMessage)
		r.Get("/metrics/pipeline", h.pipelineMetrics)
	})
}

func (h *HTTPTransport) submitMessage(w http.ResponseWriter, r *http.Request) {
	submitmessage.Submit(w, r, h.intake)
}

func (h *HTTPTransport) pipelineMetrics(w http.ResponseWriter, r *http.Request) {
	pipelinemetrics.Overview(w, r, h.metrics)
}

func newRouter() *chi.Mux {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(trace.NewTraceMiddleware)
	router.Use(logger.NewLoggerMiddleware(slog.Default()))

	allowedOrigins := viper.GetStringSlice("server.http.cors.allowed_origins")
	allowedMethods := viper.GetStringSlice("server.http.cors.allowed_methods")
	allowedHeaders := viper.GetStringSlice("server.http.cors.allowed_headers")
	exposedHeaders := viper.GetStringSlice("server.http.cors.exposed_headers")
	allowCredentials := viper.GetBool("server.http.cors.allow_credentials")
	maxAge := viper.GetInt("server.http.cors.max_age")

	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   allowedMethods,
		AllowedHeaders:   allowedHeaders,
		ExposedHeaders:   exposedHeaders,
		AllowCredentials: allowCredentials,
		MaxAge:           maxAge,
	})

	router.Use(c.Handler)

	return router
}

func newServer(router http.Handler) *http.Server {
	return &http.Server{
		Addr:    "0.0.0.0:" + viper.GetString("server.http.port"),
		Handler: router,
	}
}
