package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joao-fontenele/insureflow/internal/config"
	"github.com/joao-fontenele/insureflow/internal/httpclient"
	"github.com/joao-fontenele/insureflow/internal/sandbox"
	"github.com/joao-fontenele/insureflow/internal/telemetry"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "sandbox", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	minLatency, err := config.Duration("SANDBOX_MIN_LATENCY", 50*time.Millisecond)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	maxLatency, err := config.Duration("SANDBOX_MAX_LATENCY", 200*time.Millisecond)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	latency := sandbox.Latency{Min: minLatency, Max: maxLatency}

	var webhooks *sandbox.WebhookNotifier
	if webhookURL := config.String("SANDBOX_WEBHOOK_URL", ""); webhookURL != "" {
		secret, err := config.Required("WEBHOOK_SECRET")
		if err != nil {
			logger.Error("missing configuration", "error", err)
			os.Exit(1)
		}
		delay, err := config.Duration("SANDBOX_WEBHOOK_DELAY", 2*time.Second)
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

		webhooks = sandbox.NewWebhookNotifier(webhookURL, secret, delay, httpClient, logger)
	}

	deliveries := sandbox.NewDeliveryHandler(latency, logger)
	gateways := sandbox.NewGatewayHandler(latency, webhooks, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /email/send", telemetry.WithHTTPRoute(deliveries.HandleEmail))
	mux.HandleFunc("POST /sms/send", telemetry.WithHTTPRoute(deliveries.HandleSMS))
	mux.HandleFunc("POST /push/send", telemetry.WithHTTPRoute(deliveries.HandlePush))
	mux.HandleFunc("POST /alipay/gateway/trade/pay", telemetry.WithHTTPRoute(gateways.HandleAlipayPay))
	mux.HandleFunc("POST /alipay/gateway/trade/query", telemetry.WithHTTPRoute(gateways.HandleAlipayQuery))
	mux.HandleFunc("POST /alipay/gateway/trade/refund", telemetry.WithHTTPRoute(gateways.HandleAlipayRefund))
	mux.HandleFunc("POST /wechat/v3/pay/transactions", telemetry.WithHTTPRoute(gateways.HandleWechatPay))
	mux.HandleFunc("GET /wechat/v3/pay/transactions/id/{id}", telemetry.WithHTTPRoute(gateways.HandleWechatQueryByID))
	mux.HandleFunc("GET /wechat/v3/pay/transactions/out-trade-no/{outTradeNo}", telemetry.WithHTTPRoute(gateways.HandleWechatQueryByOutTradeNo))
	mux.HandleFunc("POST /wechat/v3/refund/domestic/refunds", telemetry.WithHTTPRoute(gateways.HandleWechatRefund))

	port := config.String("PORT", "8090")

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      telemetry.InstrumentHandler(mux, "sandbox"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting sandbox", "port", port, "webhooks", webhooks != nil)
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
