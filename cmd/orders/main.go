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
	"github.com/joao-fontenele/insureflow/internal/messaging"
	"github.com/joao-fontenele/insureflow/internal/orders"
	"github.com/joao-fontenele/insureflow/internal/plans"
	"github.com/joao-fontenele/insureflow/internal/telemetry"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "orders", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("orders", "0.1.0")
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

	plansServiceURL, err := config.Required("PLANS_SERVICE_URL")
	if err != nil {
		logger.Error("missing configuration", "error", err)
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

	events := domain.DiscardEvents
	if brokers := config.List("KAFKA_BROKERS"); len(brokers) > 0 {
		producer := messaging.NewProducer(brokers)
		defer func() { _ = producer.Close() }()
		events = producer
	} else {
		logger.Warn("KAFKA_BROKERS not set, order events are discarded")
	}

	repo := orders.NewOrderRepository(db)
	service := orders.NewService(repo, plans.NewClient(plansServiceURL, httpClient), events, logger)
	handler := orders.NewHandler(service, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /orders", telemetry.WithHTTPRoute(handler.HandleCreate))
	mux.HandleFunc("GET /orders", telemetry.WithHTTPRoute(handler.HandleList))
	mux.HandleFunc("GET /orders/my", telemetry.WithHTTPRoute(handler.HandleRecent))
	mux.HandleFunc("GET /orders/stats", telemetry.WithHTTPRoute(handler.HandleStats))
	mux.HandleFunc("GET /orders/all", telemetry.WithHTTPRoute(handler.HandleListAll))
	mux.HandleFunc("GET /orders/{id}", telemetry.WithHTTPRoute(handler.HandleGet))
	mux.HandleFunc("PUT /orders/{id}", telemetry.WithHTTPRoute(handler.HandleUpdate))
	mux.HandleFunc("DELETE /orders/{id}", telemetry.WithHTTPRoute(handler.HandleCancel))
	mux.HandleFunc("PUT /orders/{id}/status", telemetry.WithHTTPRoute(handler.HandleUpdateStatus))
	mux.Handle("GET /metrics", metricsHandler)

	port := config.String("PORT", "8081")

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      telemetry.InstrumentHandler(mux, "orders"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting orders service", "port", port)
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
