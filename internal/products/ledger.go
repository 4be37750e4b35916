package products

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/orderflow-fulfillment/internal/apperr"
	"github.com/joao-fontenele/orderflow-fulfillment/internal/domain"
	"github.com/joao-fontenele/orderflow-fulfillment/internal/store"
	"github.com/joao-fontenele/orderflow-fulfillment/internal/telemetry"
)

const ledgerContext = "StockLedger.adjustStock"

var tracer = otel.Tracer("products/ledger")

// StockLedger is the only writer of products.stock.
type StockLedger struct {
	db       store.TxBeginner
	products *ProductRepository
	metrics  *telemetry.Instruments
	logger   *slog.Logger
}

func NewStockLedger(db store.TxBeginner, products *ProductRepository, metrics *telemetry.Instruments, logger *slog.Logger) *StockLedger {
	return &StockLedger{
		db:       db,
		products: products,
		metrics:  metrics,
		logger:   logger,
	}
}

// Adjust applies delta to the product's stock inside the caller's transaction.
// The row stays locked until that transaction ends, so concurrent adjustments
// of one product are applied one after another. A result below zero is
// rejected, never clamped.
func (l *StockLedger) Adjust(ctx context.Context, q store.DBTX, productID string, delta int) (*domain.Product, error) {
	ctx, span := tracer.Start(ctx, "StockLedger.Adjust", trace.WithAttributes(
		attribute.String("product.id", productID),
		attribute.Int("stock.delta", delta),
	))
	defer span.End()

	product, err := l.products.FindByIDForUpdate(ctx, q, productID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load product")
		return nil, err
	}
	if product == nil {
		err := apperr.NotFound(fmt.Sprintf("Product with ID %s not found", productID), ledgerContext)
		span.SetStatus(codes.Error, err.Message)
		return nil, err
	}

	newStock := product.Stock + delta
	if newStock < 0 {
		err := apperr.BadRequest(
			fmt.Sprintf("Cannot reduce stock below 0. Current: %d, Change: %d", product.Stock, delta),
			ledgerContext,
		)
		span.SetStatus(codes.Error, err.Message)
		return nil, err
	}

	updated, err := l.products.setStock(ctx, q, productID, newStock)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to write stock")
		return nil, err
	}

	l.metrics.StockAdjusted(ctx, delta)
	l.logger.InfoContext(ctx, "stock adjusted",
		"product_id", productID,
		"previous", product.Stock,
		"delta", delta,
		"stock", newStock,
	)
	return updated, nil
}

// AdjustStock runs Adjust in a transaction of its own.
func (l *StockLedger) AdjustStock(ctx context.Context, productID string, delta int) (*domain.Product, error) {
	var product *domain.Product
	err := store.WithTx(ctx, l.db, ledgerContext, func(tx *sql.Tx) error {
		p, err := l.Adjust(ctx, tx, productID, delta)
		if err != nil {
			return err
		}
		product = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return product, nil
}
