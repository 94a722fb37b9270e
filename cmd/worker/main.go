package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joao-fontenele/insureflow/internal/config"
	"github.com/joao-fontenele/insureflow/internal/httpclient"
	"github.com/joao-fontenele/insureflow/internal/messaging"
	"github.com/joao-fontenele/insureflow/internal/telemetry"
	"github.com/joao-fontenele/insureflow/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	shutdownTracer, err := telemetry.InitTracerProvider(context.Background(), "order-worker", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	brokers := config.List("KAFKA_BROKERS")
	if len(brokers) == 0 {
		logger.Error("KAFKA_BROKERS environment variable is required")
		os.Exit(1)
	}

	notificationsURL, err := config.Required("NOTIFICATIONS_SERVICE_URL")
	if err != nil {
		logger.Error("missing configuration", "error", err)
		os.Exit(1)
	}

	ordersURL, err := config.Required("ORDERS_SERVICE_URL")
	if err != nil {
		logger.Error("missing configuration", "error", err)
		os.Exit(1)
	}

	cfg := worker.Config{
		NotificationsURL: notificationsURL,
		OrdersURL:        ordersURL,
		PaymentPageURL:   config.String("PAYMENT_PAGE_URL", "http://localhost:8080/pay"),
	}

	clientCfg, err := httpclient.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid http client configuration", "error", err)
		os.Exit(1)
	}
	httpClient := httpclient.New(clientCfg)
	defer httpClient.CloseIdleConnections()

	consumer := messaging.NewConsumer(brokers, config.String("KAFKA_GROUP_ID", "order-worker"), worker.Topics)
	defer func() { _ = consumer.Close() }()

	handler := worker.NewHandler(cfg, httpClient, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		logger.Info("shutting down")
		cancel()
	}()

	logger.Info("starting order worker", "brokers", brokers, "topics", worker.Topics)

	if err := consumer.Consume(ctx, handler.Handle); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			logger.Info("consumer stopped")
			return
		}
		logger.Error("consumer error", "error", err)
		os.Exit(1)
	}
}
