package app

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/viper"

	"github.com/casefront/outbound/internal/consent"
	"github.com/casefront/outbound/internal/dal/postgres"
	"github.com/casefront/outbound/internal/dal/rabbitmq"
	"github.com/casefront/outbound/internal/dal/repositories/activity"
	attemptrepo "github.com/casefront/outbound/internal/dal/repositories/attempt/postgres"
	"github.com/casefront/outbound/internal/dal/repositories/audit"
	messagerepo "github.com/casefront/outbound/internal/dal/repositories/message/postgres"
	"github.com/casefront/outbound/internal/provider"
	"github.com/casefront/outbound/internal/provider/mailgate"
	"github.com/casefront/outbound/internal/provider/smsgate"
	"github.com/casefront/outbound/internal/ratelimit"
	"github.com/casefront/outbound/internal/service/models/message"
	"github.com/casefront/outbound/internal/service/services/intakesvc"
	"github.com/casefront/outbound/internal/service/services/metricssvc"
	"github.com/casefront/outbound/internal/telemetry"
	"github.com/casefront/outbound/internal/tenantcfg"
	httptransport "github.com/casefront/outbound/internal/transport/http"
	"github.com/casefront/outbound/internal/worker/delivery"
)

// App represents the application.
type App struct {
	transport      *httptransport.HTTPTransport
	worker         *delivery.Worker
	postgresClient *postgres.Client
	rabbitClient   *rabbitmq.Client
	stopTracing    func(context.Context) error
}

// MustNewApp creates a new application.
func MustNewApp() *App {
	stopTracing := telemetry.MustInitTracing()

	postgresClient := postgres.MustNewClient()
	rabbitClient := rabbitmq.MustNewClient()

	messageRepo := messagerepo.NewMessageRepository(postgresClient)
	attemptRepo := attemptrepo.NewAttemptRepository(postgresClient)
	auditRepo := audit.NewAuditRabbitMQRepository(rabbitClient)
	activityRepo := activity.NewActivityRabbitMQRepository(rabbitClient)

	tenants := tenantcfg.NewStore()
	limiter := ratelimit.NewLimiter(tenants)

	registry := provider.NewRegistry(
		smsgate.NewAdapter(smsgate.NewHTTPGateway(), tenants, limiter),
		mailgate.NewAdapter(mailgate.NewSMTPRelay(), tenants, limiter),
	)

	intakeSvc := intakesvc.MustNewIntakeService(
		intakesvc.WithMessageRepository(messageRepo),
		intakesvc.WithAuditRepository(auditRepo),
		intakesvc.WithConsentLookup(staticConsents()),
	)

	metricsSvc := metricssvc.MustNewMetricsService(
		metricssvc.WithMessageRepository(messageRepo),
		metricssvc.WithAttemptRepository(attemptRepo),
		metricssvc.WithTenantStore(tenants),
	)

	worker := delivery.NewWorker(
		messageRepo,
		attemptRepo,
		auditRepo,
		activityRepo,
		registry,
		telemetry.NewPipelineMetrics(),
	)

	transport := httptransport.NewHTTPTransport(intakeSvc, metricsSvc)
	transport.RegisterRoutes()

	return &App{
		transport:      transport,
		worker:         worker,
		postgresClient: postgresClient,
		rabbitClient:   rabbitClient,
		stopTracing:    stopTracing,
	}
}

// staticConsents builds the development consent lookup from config. The
// production deployment replaces this with the host application's consent
// service.
func staticConsents() consent.Lookup {
	grants := make(map[int64][]message.Channel)
	for dossier, channels := range viper.GetStringMapStringSlice("consents.granted") {
		id, err := strconv.ParseInt(dossier, 10, 64)
		if err != nil {
			continue
		}
		for _, ch := range channels {
			parsed, err := message.ParseChannel(ch)
			if err != nil {
				continue
			}
			grants[id] = append(grants[id], parsed)
		}
	}

	return &consent.StaticLookup{Grants: grants}
}

// Run starts the application.
// Tracks interrupt signal to gracefully shut down the application.
func (a *App) Run() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	workerCtx, cancelWorker := context.WithCancel(context.Background())
	go a.worker.Start(workerCtx)

	go func() {
		slog.Info("Starting HTTP server")
		if err := a.transport.Run(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	<-stop
	slog.Info("Shutdown signal received")

	cancelWorker()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.transport.Shutdown(ctx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped gracefully")
	}

	if err := a.rabbitClient.Close(); err != nil {
		slog.Error("RabbitMQ connection close error", "error", err)
	}

	if err := a.postgresClient.Close(); err != nil {
		slog.Error("Database connection close error", "error", err)
	} else {
		slog.Info("Database connection closed gracefully")
	}

	if err := a.stopTracing(ctx); err != nil {
		slog.Error("Tracer shutdown error", "error", err)
	}

	slog.Info("Application shutdown complete")
}
