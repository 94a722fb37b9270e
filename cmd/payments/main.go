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
	"github.com/joao-fontenele/insureflow/internal/payments"
	"github.com/joao-fontenele/insureflow/internal/telemetry"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "payments", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("payments", "0.1.0")
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

	webhookSecret, err := config.Required("WEBHOOK_SECRET")
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
		logger.Warn("KAFKA_BROKERS not set, payment events are discarded")
	}

	alipay := payments.NewAlipayGateway(
		config.String("ALIPAY_BASE_URL", "http://localhost:8090/alipay"),
		config.String("ALIPAY_APP_ID", "sandbox-app"),
		httpClient,
	)
	wechat := payments.NewWechatPayGateway(
		config.String("WECHAT_BASE_URL", "http://localhost:8090/wechat"),
		config.String("WECHAT_MCH_ID", "sandbox-mch"),
		httpClient,
	)

	// Card and wallet methods settle through the Alipay acquirer.
	gateways := payments.Registry{
		domain.PaymentMethodAlipay:    alipay,
		domain.PaymentMethodWechatPay: wechat,
		domain.PaymentMethodBankCard:  alipay,
		domain.PaymentMethodApplePay:  alipay,
		domain.PaymentMethodUnionPay:  alipay,
	}

	service := payments.NewService(payments.NewPaymentRepository(db), gateways, events, logger)
	handler := payments.NewHandler(service, payments.NewWebhookVerifier(webhookSecret), logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /payments", telemetry.WithHTTPRoute(handler.HandleCreate))
	mux.HandleFunc("GET /payments", telemetry.WithHTTPRoute(handler.HandleList))
	mux.HandleFunc("GET /payments/stats", telemetry.WithHTTPRoute(handler.HandleStats))
	mux.HandleFunc("GET /payments/user/{userId}", telemetry.WithHTTPRoute(handler.HandleListByUser))
	mux.HandleFunc("GET /payments/order/{orderId}", telemetry.WithHTTPRoute(handler.HandleListByOrder))
	mux.HandleFunc("POST /payments/webhook", telemetry.WithHTTPRoute(handler.HandleWebhook))
	mux.HandleFunc("GET /payments/{id}", telemetry.WithHTTPRoute(handler.HandleGet))
	mux.HandleFunc("POST /payments/{id}/process", telemetry.WithHTTPRoute(handler.HandleProcess))
	mux.HandleFunc("POST /payments/{id}/cancel", telemetry.WithHTTPRoute(handler.HandleCancel))
	mux.HandleFunc("POST /payments/{id}/refund", telemetry.WithHTTPRoute(handler.HandleRefund))
	mux.HandleFunc("POST /payments/{id}/sync", telemetry.WithHTTPRoute(handler.HandleSync))
	mux.Handle("GET /metrics", metricsHandler)

	port := config.String("PORT", "8083")

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      telemetry.InstrumentHandler(mux, "payments"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("starting payments service", "port", port)
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
