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
	"github.com/joao-fontenele/insureflow/internal/gateway"
	"github.com/joao-fontenele/insureflow/internal/httpclient"
	"github.com/joao-fontenele/insureflow/internal/telemetry"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "gateway", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	urls := make(map[string]string)
	for _, key := range []string{"ORDERS_SERVICE_URL", "PAYMENTS_SERVICE_URL", "NOTIFICATIONS_SERVICE_URL", "PLANS_SERVICE_URL"} {
		v, err := config.Required(key)
		if err != nil {
			logger.Error("missing configuration", "error", err)
			os.Exit(1)
		}
		urls[key] = v
	}

	adminToken := config.String("GATEWAY_ADMIN_TOKEN", "")
	if adminToken == "" {
		logger.Warn("GATEWAY_ADMIN_TOKEN not set, admin routes are unreachable through the gateway")
	}

	clientCfg, err := httpclient.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid http client configuration", "error", err)
		os.Exit(1)
	}
	httpClient := httpclient.New(clientCfg)
	defer httpClient.CloseIdleConnections()

	handler := gateway.NewHandler(gateway.Proxies{
		Orders:        gateway.NewServiceProxy(urls["ORDERS_SERVICE_URL"], httpClient),
		Payments:      gateway.NewServiceProxy(urls["PAYMENTS_SERVICE_URL"], httpClient),
		Notifications: gateway.NewServiceProxy(urls["NOTIFICATIONS_SERVICE_URL"], httpClient),
		Plans:         gateway.NewServiceProxy(urls["PLANS_SERVICE_URL"], httpClient),
	}, adminToken, logger)

	mux := http.NewServeMux()
	route := func(pattern string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, telemetry.WithHTTPRoute(h))
	}

	route("POST /orders", handler.HandleOrders)
	route("GET /orders", handler.HandleOrders)
	route("GET /orders/my", handler.HandleOrders)
	route("GET /orders/stats", handler.HandleOrders)
	route("GET /orders/all", handler.HandleOrders)
	route("GET /orders/{id}", handler.HandleOrders)
	route("PUT /orders/{id}", handler.HandleOrders)
	route("DELETE /orders/{id}", handler.HandleOrders)
	route("PUT /orders/{id}/status", handler.HandleOrders)

	route("POST /payments", handler.HandlePayments)
	route("GET /payments", handler.HandlePayments)
	route("GET /payments/stats", handler.HandlePayments)
	route("GET /payments/user/{userId}", handler.HandlePayments)
	route("GET /payments/order/{orderId}", handler.HandlePayments)
	route("POST /payments/webhook", handler.HandlePayments)
	route("GET /payments/{id}", handler.HandlePayments)
	route("POST /payments/{id}/process", handler.HandlePayments)
	route("POST /payments/{id}/cancel", handler.HandlePayments)
	route("POST /payments/{id}/refund", handler.HandlePayments)
	route("POST /payments/{id}/sync", handler.HandlePayments)

	route("POST /notifications", handler.HandleNotifications)
	route("GET /notifications", handler.HandleNotifications)
	route("POST /notifications/send", handler.HandleNotifications)
	route("POST /notifications/bulk", handler.HandleNotifications)
	route("GET /notifications/stats", handler.HandleNotifications)
	route("GET /notifications/templates", handler.HandleNotifications)
	route("GET /notifications/user/{userId}", handler.HandleNotifications)
	route("GET /notifications/{id}", handler.HandleNotifications)
	route("DELETE /notifications/{id}", handler.HandleNotifications)
	route("POST /notifications/{id}/resend", handler.HandleNotifications)
	route("POST /notifications/{id}/dispatch", handler.HandleNotifications)

	route("GET /plans", handler.HandlePlans)
	route("GET /plans/{id}", handler.HandlePlans)

	port := config.String("PORT", "8080")

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      telemetry.InstrumentHandler(mux, "gateway"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("starting gateway service", "port", port)
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
