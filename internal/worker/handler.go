package worker

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/joao-fontenele/orderflow-fulfillment/internal/domain"
	"github.com/joao-fontenele/orderflow-fulfillment/internal/messaging"
	"github.com/joao-fontenele/orderflow-fulfillment/internal/store"
	"github.com/joao-fontenele/orderflow-fulfillment/internal/telemetry"
)

type ProductReader interface {
	FindByIDs(ctx context.Context, q store.DBTX, ids []string) ([]domain.Product, error)
}

// LowStockHandler watches order.created events and raises an alert for every
// ordered product whose stock has fallen to the threshold or below.
type LowStockHandler struct {
	db        store.DBTX
	products  ProductReader
	threshold int
	metrics   *telemetry.Instruments
	logger    *slog.Logger
}

func NewLowStockHandler(db store.DBTX, products ProductReader, threshold int, metrics *telemetry.Instruments, logger *slog.Logger) *LowStockHandler {
	return &LowStockHandler{
		db:        db,
		products:  products,
		threshold: threshold,
		metrics:   metrics,
		logger:    logger,
	}
}

// Handle skips events it does not care about and payloads it cannot decode;
// only storage failures are returned so the message is redelivered.
func (h *LowStockHandler) Handle(ctx context.Context, msg messaging.Message) error {
	if msg.Type != "" && msg.Type != string(domain.OrderEventCreated) {
		h.logger.DebugContext(ctx, "ignoring order event", "type", msg.Type, "order_id", msg.Key)
		return nil
	}

	var event domain.OrderEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		h.logger.ErrorContext(ctx, "dropping undecodable order event", "error", err, "key", msg.Key)
		return nil
	}
	if event.Type != domain.OrderEventCreated {
		return nil
	}

	h.logger.InfoContext(ctx, "checking stock after order", "order_id", event.OrderID, "order_number", event.OrderNumber)

	seen := make(map[string]struct{}, len(event.Items))
	ids := make([]string, 0, len(event.Items))
	for _, item := range event.Items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}

	products, err := h.products.FindByIDs(ctx, h.db, ids)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to load ordered products", "error", err, "order_id", event.OrderID)
		return err
	}

	for _, p := range products {
		if p.Stock > h.threshold {
			continue
		}
		h.metrics.LowStock(ctx, p.ID)
		h.logger.WarnContext(ctx, "product stock is low",
			"product_id", p.ID,
			"name", p.Name,
			"stock", p.Stock,
			"threshold", h.threshold,
			"order_id", event.OrderID,
		)
	}

	return nil
}
