package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// InitMeterProvider initializes the Prometheus exporter and MeterProvider.
// It returns an http.Handler for the /metrics endpoint and a shutdown function.
func InitMeterProvider(serviceName, serviceVersion string) (http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(serviceVersion),
	)

	mp := metric.NewMeterProvider(
		metric.WithReader(exporter),
		metric.WithResource(res),
	)

	otel.SetMeterProvider(mp)

	if err := runtime.Start(
		runtime.WithMeterProvider(mp),
		runtime.WithMinimumReadMemStatsInterval(15*time.Second),
	); err != nil {
		return nil, nil, err
	}

	return promhttp.Handler(), mp.Shutdown, nil
}

// Instruments are the business counters recorded by the order workflow,
// the stock ledger and the worker. A nil *Instruments records nothing.
type Instruments struct {
	ordersCreated     otelmetric.Int64Counter
	ordersCancelled   otelmetric.Int64Counter
	ordersDeleted     otelmetric.Int64Counter
	orderRejections   otelmetric.Int64Counter
	orderValue        otelmetric.Float64Histogram
	stockAdjustments  otelmetric.Int64Counter
	stockUnits        otelmetric.Int64Counter
	lowStockAlerts    otelmetric.Int64Counter
	eventPublishFails otelmetric.Int64Counter
}

func NewInstruments(meter otelmetric.Meter) (*Instruments, error) {
	var (
		in   Instruments
		err  error
		errs []error
	)

	in.ordersCreated, err = meter.Int64Counter("orders_created_total",
		otelmetric.WithDescription("Orders committed by the order workflow"))
	errs = append(errs, err)
	in.ordersCancelled, err = meter.Int64Counter("orders_cancelled_total",
		otelmetric.WithDescription("Orders transitioned into cancelled"))
	errs = append(errs, err)
	in.ordersDeleted, err = meter.Int64Counter("orders_deleted_total",
		otelmetric.WithDescription("Orders deleted together with their items"))
	errs = append(errs, err)
	in.orderRejections, err = meter.Int64Counter("order_rejections_total",
		otelmetric.WithDescription("Order creations rejected, by error kind"))
	errs = append(errs, err)
	in.orderValue, err = meter.Float64Histogram("order_total_amount",
		otelmetric.WithDescription("Total amount of created orders"))
	errs = append(errs, err)
	in.stockAdjustments, err = meter.Int64Counter("stock_adjustments_total",
		otelmetric.WithDescription("Stock ledger adjustments, by direction"))
	errs = append(errs, err)
	in.stockUnits, err = meter.Int64Counter("stock_adjusted_units_total",
		otelmetric.WithDescription("Units moved through the stock ledger, by direction"))
	errs = append(errs, err)
	in.lowStockAlerts, err = meter.Int64Counter("inventory_low_stock_alerts_total",
		otelmetric.WithDescription("Products observed at or below the low stock threshold"))
	errs = append(errs, err)
	in.eventPublishFails, err = meter.Int64Counter("order_event_publish_failures_total",
		otelmetric.WithDescription("Order events that could not be published"))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &in, nil
}

func (in *Instruments) OrderCreated(ctx context.Context, amount float64) {
	if in == nil {
		return
	}
	in.ordersCreated.Add(ctx, 1)
	in.orderValue.Record(ctx, amount)
}

func (in *Instruments) OrderCancelled(ctx context.Context) {
	if in == nil {
		return
	}
	in.ordersCancelled.Add(ctx, 1)
}

func (in *Instruments) OrderDeleted(ctx context.Context) {
	if in == nil {
		return
	}
	in.ordersDeleted.Add(ctx, 1)
}

func (in *Instruments) OrderRejected(ctx context.Context, kind string) {
	if in == nil {
		return
	}
	in.orderRejections.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("kind", kind)))
}

func (in *Instruments) StockAdjusted(ctx context.Context, delta int) {
	if in == nil {
		return
	}
	direction, units := "restore", delta
	if delta < 0 {
		direction, units = "reserve", -delta
	}
	attrs := otelmetric.WithAttributes(attribute.String("direction", direction))
	in.stockAdjustments.Add(ctx, 1, attrs)
	in.stockUnits.Add(ctx, int64(units), attrs)
}

func (in *Instruments) LowStock(ctx context.Context, productID string) {
	if in == nil {
		return
	}
	in.lowStockAlerts.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("product_id", productID)))
}

func (in *Instruments) EventPublishFailed(ctx context.Context, eventType string) {
	if in == nil {
		return
	}
	in.eventPublishFails.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("type", eventType)))
}
