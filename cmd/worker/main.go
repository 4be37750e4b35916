package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel"

	"github.com/joao-fontenele/orderflow-fulfillment/internal/config"
	"github.com/joao-fontenele/orderflow-fulfillment/internal/messaging"
	"github.com/joao-fontenele/orderflow-fulfillment/internal/products"
	"github.com/joao-fontenele/orderflow-fulfillment/internal/telemetry"
	"github.com/joao-fontenele/orderflow-fulfillment/internal/worker"
)

const serviceName = "inventory-worker"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel()}))

	if !cfg.KafkaEnabled() {
		logger.Error("kafka.brokers is required (set ORDERFLOW_KAFKA_BROKERS)")
		os.Exit(1)
	}
	if err := cfg.RequireDatabase(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	if cfg.OTel.Enabled {
		shutdownTracer, err := telemetry.InitTracerProvider(ctx, cfg.Tracer(serviceName, "0.1.0"))
		if err != nil {
			logger.Error("failed to initialize tracer", "error", err)
			os.Exit(1)
		}
		defer func() { _ = shutdownTracer(context.Background()) }()
	}

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(serviceName, "0.1.0")
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(context.Background()) }()

	instruments, err := telemetry.NewInstruments(otel.Meter(serviceName))
	if err != nil {
		logger.Error("failed to create instruments", "error", err)
		os.Exit(1)
	}

	db, err := telemetry.ConnectDB(ctx, "postgres", cfg.DB.URL, telemetry.PoolConfig{
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	consumer := messaging.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID)
	defer func() { _ = consumer.Close() }()

	lowStock := worker.NewLowStockHandler(db, products.NewProductRepository(logger), cfg.Inventory.LowStockThreshold, instruments, logger)

	metricsServer := &http.Server{Addr: ":" + cfg.Server.Port, Handler: metricsHandler}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()
	defer func() { _ = metricsServer.Close() }()

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		logger.Info("shutting down")
		cancel()
	}()

	logger.Info("starting inventory worker",
		"brokers", cfg.Kafka.Brokers,
		"topic", cfg.Kafka.Topic,
		"group_id", cfg.Kafka.GroupID,
		"low_stock_threshold", cfg.Inventory.LowStockThreshold,
	)

	if err := consumer.Consume(ctx, lowStock.Handle); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			logger.Info("consumer stopped")
			return
		}
		logger.Error("consumer error", "error", err)
		os.Exit(1)
	}
}
