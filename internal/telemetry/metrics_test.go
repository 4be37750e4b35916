package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func collect(t *testing.T, reader *metric.ManualReader) map[string]int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	sums := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					sums[m.Name] += dp.Value
				}
			}
		}
	}
	return sums
}

func TestInstruments(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	in, err := NewInstruments(mp.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	in.OrderCreated(ctx, 99.5)
	in.OrderCancelled(ctx)
	in.OrderRejected(ctx, "BAD_REQUEST")
	in.StockAdjusted(ctx, -3)
	in.StockAdjusted(ctx, 2)
	in.LowStock(ctx, "p1")
	in.EventPublishFailed(ctx, "order.created")

	sums := collect(t, reader)
	assert.Equal(t, int64(1), sums["orders_created_total"])
	assert.Equal(t, int64(1), sums["orders_cancelled_total"])
	assert.Equal(t, int64(1), sums["order_rejections_total"])
	assert.Equal(t, int64(2), sums["stock_adjustments_total"])
	assert.Equal(t, int64(5), sums["stock_adjusted_units_total"])
	assert.Equal(t, int64(1), sums["inventory_low_stock_alerts_total"])
	assert.Equal(t, int64(1), sums["order_event_publish_failures_total"])
	assert.Zero(t, sums["orders_deleted_total"])
}

func TestInstruments_NilIsNoop(t *testing.T) {
	var in *Instruments
	ctx := context.Background()

	assert.NotPanics(t, func() {
		in.OrderCreated(ctx, 1)
		in.OrderDeleted(ctx)
		in.StockAdjusted(ctx, 1)
		in.LowStock(ctx, "p1")
	})
}

func TestWithHTTPRoute(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	mux := http.NewServeMux()
	mux.HandleFunc("GET /orders/{id}", WithHTTPRoute(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	ctx, span := tp.Tracer("test").Start(context.Background(), "request")
	req := httptest.NewRequest(http.MethodGet, "/orders/123", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	span.End()

	require.Len(t, recorder.Ended(), 1)
	var route string
	for _, attr := range recorder.Ended()[0].Attributes() {
		if attr.Key == "http.route" {
			route = attr.Value.AsString()
		}
	}
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "GET /orders/{id}", route)
}
