package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/joao-fontenele/orderflow-fulfillment/internal/api"
	"github.com/joao-fontenele/orderflow-fulfillment/internal/config"
	"github.com/joao-fontenele/orderflow-fulfillment/internal/gateway"
	"github.com/joao-fontenele/orderflow-fulfillment/internal/telemetry"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel()}))

	if cfg.OTel.Enabled {
		shutdownTracer, err := telemetry.InitTracerProvider(ctx, cfg.Tracer("gateway", "0.1.0"))
		if err != nil {
			logger.Error("failed to initialize tracer", "error", err)
			os.Exit(1)
		}
		defer func() { _ = shutdownTracer(ctx) }()
	}

	if cfg.Gateway.UpstreamURL == "" {
		logger.Error("gateway.upstream_url is required")
		os.Exit(1)
	}

	httpClient := &http.Client{
		Timeout:   cfg.Server.WriteTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	upstream := gateway.NewServiceProxy(cfg.Gateway.UpstreamURL, httpClient)
	handler := gateway.NewHandler(upstream, api.NewResponder(logger, cfg.Production()), logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/orders", telemetry.WithHTTPRoute(handler.HandleProxy))
	mux.HandleFunc("/orders/", telemetry.WithHTTPRoute(handler.HandleProxy))
	mux.HandleFunc("/products", telemetry.WithHTTPRoute(handler.HandleProxy))
	mux.HandleFunc("/products/", telemetry.WithHTTPRoute(handler.HandleProxy))

	server := &http.Server{
		Addr: ":" + cfg.Server.Port,
		Handler: otelhttp.NewHandler(mux, "gateway",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("starting gateway service", "port", cfg.Server.Port, "upstream", cfg.Gateway.UpstreamURL)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
