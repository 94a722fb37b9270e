package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/joao-fontenele/insureflow/internal/config"
	"github.com/joao-fontenele/insureflow/internal/domain"
	"github.com/joao-fontenele/insureflow/internal/httpclient"
	"github.com/joao-fontenele/insureflow/internal/notifications"
	"github.com/joao-fontenele/insureflow/internal/telemetry"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "notifications", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("notifications", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	postgresURL, err := config.Required("POSTGRES_URL")
	if err != nil {
		logger.Error("missing configuration", "error", err)
		os.Exit(1)
	}

	relayURL := config.String("NOTIFY_RELAY_URL", "http://localhost:8090")

	bulkConcurrency, err := config.Int("NOTIFY_BULK_CONCURRENCY", notifications.DefaultBulkConcurrency)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	clientCfg, err := httpclient.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid http client configuration", "error", err)
		os.Exit(1)
	}
	httpClient := httpclient.New(clientCfg)
	defer httpClient.CloseIdleConnections()

	db, err := telemetry.OpenDB("postgres", postgresURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	providers := notifications.Registry{
		domain.ChannelEmail: notifications.NewEmailProvider(relayURL, config.String("NOTIFY_EMAIL_FROM", "no-reply@insureflow.local"), httpClient),
		domain.ChannelSMS:   notifications.NewSMSProvider(relayURL, config.String("NOTIFY_SMS_SIGN_NAME", "InsureFlow"), httpClient),
		domain.ChannelPush:  notifications.NewPushProvider(relayURL, httpClient),
		domain.ChannelInApp: notifications.InAppProvider{},
	}
	recipients := notifications.MailboxRecipients{Domain: config.String("NOTIFY_RECIPIENT_DOMAIN", "example.com")}

	service := notifications.NewService(
		notifications.NewNotificationRepository(db),
		providers,
		recipients,
		logger,
		notifications.WithBulkConcurrency(bulkConcurrency),
	)
	handler := notifications.NewHandler(service, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /notifications", telemetry.WithHTTPRoute(handler.HandleCreate))
	mux.HandleFunc("GET /notifications", telemetry.WithHTTPRoute(handler.HandleList))
	mux.HandleFunc("POST /notifications/send", telemetry.WithHTTPRoute(handler.HandleSend))
	mux.HandleFunc("POST /notifications/bulk", telemetry.WithHTTPRoute(handler.HandleBulk))
	mux.HandleFunc("GET /notifications/stats", telemetry.WithHTTPRoute(handler.HandleStats))
	mux.HandleFunc("GET /notifications/templates", telemetry.WithHTTPRoute(handler.HandleTemplates))
	mux.HandleFunc("GET /notifications/user/{userId}", telemetry.WithHTTPRoute(handler.HandleListByUser))
	mux.HandleFunc("GET /notifications/{id}", telemetry.WithHTTPRoute(handler.HandleGet))
	mux.HandleFunc("DELETE /notifications/{id}", telemetry.WithHTTPRoute(handler.HandleDelete))
	mux.HandleFunc("POST /notifications/{id}/resend", telemetry.WithHTTPRoute(handler.HandleResend))
	mux.HandleFunc("POST /notifications/{id}/dispatch", telemetry.WithHTTPRoute(handler.HandleDispatch))
	mux.Handle("GET /metrics", metricsHandler)

	port := config.String("PORT", "8084")

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      telemetry.InstrumentHandler(mux, "notifications"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("starting notifications service", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
