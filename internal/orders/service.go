package orders

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/orderflow-fulfillment/internal/apperr"
	"github.com/joao-fontenele/orderflow-fulfillment/internal/domain"
	"github.com/joao-fontenele/orderflow-fulfillment/internal/store"
	"github.com/joao-fontenele/orderflow-fulfillment/internal/telemetry"
	"github.com/joao-fontenele/orderflow-fulfillment/internal/validate"
)

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
	// MaxPage keeps the row offset well inside Postgres' bigint range.
	MaxPage = 1_000_000
)

var tracer = otel.Tracer("orders/service")

// Ledger applies stock deltas inside the caller's transaction.
type Ledger interface {
	Adjust(ctx context.Context, q store.DBTX, productID string, delta int) (*domain.Product, error)
}

// ProductLocker loads products and holds their row locks until the
// transaction ends.
type ProductLocker interface {
	LockByIDs(ctx context.Context, q store.DBTX, ids []string) ([]domain.Product, error)
}

type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

type CreateOrderItemInput struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type CreateOrderInput struct {
	CustomerEmail   string                 `json:"customer_email"`
	CustomerName    string                 `json:"customer_name"`
	ShippingAddress *string                `json:"shipping_address,omitempty"`
	Items           []CreateOrderItemInput `json:"items"`
}

type UpdateOrderInput struct {
	Status          *domain.OrderStatus `json:"status,omitempty"`
	CustomerEmail   *string             `json:"customer_email,omitempty"`
	CustomerName    *string             `json:"customer_name,omitempty"`
	ShippingAddress *string             `json:"shipping_address,omitempty"`
}

type Service struct {
	db        store.DB
	orders    *OrderRepository
	items     *OrderItemRepository
	products  ProductLocker
	ledger    Ledger
	numbers   *NumberGenerator
	validator *validate.Registry
	publisher Publisher
	metrics   *telemetry.Instruments
	logger    *slog.Logger
	now       func() time.Time
}

// NewService wires the order workflow. publisher and metrics may be nil.
func NewService(
	db store.DB,
	products ProductLocker,
	ledger Ledger,
	validator *validate.Registry,
	publisher Publisher,
	metrics *telemetry.Instruments,
	logger *slog.Logger,
) *Service {
	return &Service{
		db:        db,
		orders:    NewOrderRepository(logger),
		items:     NewOrderItemRepository(logger),
		products:  products,
		ledger:    ledger,
		numbers:   NewNumberGenerator(time.Now),
		validator: validator,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// CreateOrder prices the requested lines against locked products, persists
// the order with its items and takes the stock, all in one transaction.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (*domain.Order, error) {
	const op = "OrdersService.createOrder"

	ctx, span := tracer.Start(ctx, "OrdersService.CreateOrder", trace.WithAttributes(
		attribute.Int("order.lines", len(in.Items)),
	))
	defer span.End()

	if err := s.validateCreate(in, op); err != nil {
		s.rejected(ctx, span, err)
		return nil, err
	}

	requested := make(map[string]int, len(in.Items))
	ids := make([]string, 0, len(in.Items))
	for _, item := range in.Items {
		if _, seen := requested[item.ProductID]; !seen {
			ids = append(ids, item.ProductID)
		}
		requested[item.ProductID] += item.Quantity
	}
	slices.Sort(ids)

	var (
		order *domain.Order
		items []domain.OrderItem
	)
	err := store.WithTx(ctx, s.db, op, func(tx *sql.Tx) error {
		locked, err := s.products.LockByIDs(ctx, tx, ids)
		if err != nil {
			return err
		}
		available := make(map[string]domain.Product, len(locked))
		for _, p := range locked {
			if p.IsActive {
				available[p.ID] = p
			}
		}

		total := decimal.Zero
		lines := make([]domain.OrderItem, 0, len(in.Items))
		for _, item := range in.Items {
			product, ok := available[item.ProductID]
			if !ok {
				return apperr.NotFound(fmt.Sprintf("Product with ID %s not found", item.ProductID), op)
			}
			if product.Stock < requested[item.ProductID] {
				return apperr.BadRequest(fmt.Sprintf("Insufficient stock for product %s. Available: %d, Requested: %d",
					product.Name, product.Stock, requested[item.ProductID]), op)
			}

			lineTotal := product.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
			total = total.Add(lineTotal)
			lines = append(lines, domain.OrderItem{
				ProductID:  item.ProductID,
				Quantity:   item.Quantity,
				UnitPrice:  product.Price,
				TotalPrice: lineTotal,
			})
		}

		number, err := s.numbers.Next()
		if err != nil {
			return apperr.Internal("Failed to generate order number", op, err)
		}

		order, err = s.orders.Create(ctx, tx, &domain.Order{
			OrderNumber:     number,
			Status:          domain.OrderStatusPending,
			TotalAmount:     total,
			CustomerEmail:   in.CustomerEmail,
			CustomerName:    in.CustomerName,
			ShippingAddress: in.ShippingAddress,
		})
		if err != nil {
			return err
		}

		items = make([]domain.OrderItem, 0, len(lines))
		for i := range lines {
			lines[i].OrderID = order.ID
			created, err := s.items.Create(ctx, tx, &lines[i])
			if err != nil {
				return err
			}
			items = append(items, *created)
		}

		for _, line := range lines {
			if _, err := s.ledger.Adjust(ctx, tx, line.ProductID, -line.Quantity); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.rejected(ctx, span, err)
		return nil, err
	}

	order.Items = items
	span.SetAttributes(attribute.String("order.id", order.ID), attribute.String("order.number", order.OrderNumber))

	amount, _ := order.TotalAmount.Float64()
	s.metrics.OrderCreated(ctx, amount)
	s.publish(ctx, domain.OrderEventCreated, order, items)
	s.logger.InfoContext(ctx, "order created",
		"order_id", order.ID,
		"order_number", order.OrderNumber,
		"total_amount", order.TotalAmount.StringFixed(2),
		"items", len(items),
	)
	return order, nil
}

func (s *Service) validateCreate(in CreateOrderInput, op string) error {
	if err := s.validator.Email(in.CustomerEmail, op); err != nil {
		return err
	}
	if strings.TrimSpace(in.CustomerName) == "" {
		return apperr.Validation("Customer name is required", op, map[string]any{"customer_name": "required"})
	}
	if len(in.Items) == 0 {
		return apperr.Validation("Order must contain at least one item", op, map[string]any{"items": "required"})
	}
	for _, item := range in.Items {
		if err := s.validator.UUID(item.ProductID, op); err != nil {
			return err
		}
		if err := s.validator.Quantity(item.Quantity, op); err != nil {
			return err
		}
	}
	return nil
}

// UpdateOrder applies the patch under the order's row lock. Moving an order
// into cancelled returns its items to stock and stamps cancelled_at; an order
// that is already cancelled is never restored twice. Other status changes are
// taken as given.
func (s *Service) UpdateOrder(ctx context.Context, id string, in UpdateOrderInput) (*domain.Order, error) {
	const op = "OrdersService.updateOrder"

	ctx, span := tracer.Start(ctx, "OrdersService.UpdateOrder", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	if err := s.validateUpdate(id, in, op); err != nil {
		s.failed(span, err)
		return nil, err
	}

	var (
		order      *domain.Order
		items      []domain.OrderItem
		cancelling bool
	)
	err := store.WithTx(ctx, s.db, op, func(tx *sql.Tx) error {
		current, err := s.orders.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return apperr.NotFound(fmt.Sprintf("Order with ID %s not found", id), op)
		}

		patch := OrderPatch{
			Status:          in.Status,
			CustomerEmail:   in.CustomerEmail,
			CustomerName:    in.CustomerName,
			ShippingAddress: in.ShippingAddress,
		}

		cancelling = in.Status != nil && *in.Status == domain.OrderStatusCancelled && current.Status != domain.OrderStatusCancelled
		if cancelling {
			items, err = s.restoreStock(ctx, tx, id)
			if err != nil {
				return err
			}
			now := s.now().UTC()
			patch.CancelledAt = &now
		}

		order, err = s.orders.Update(ctx, tx, id, patch)
		return err
	})
	if err != nil {
		s.failed(span, err)
		return nil, err
	}

	eventType := domain.OrderEventUpdated
	if cancelling {
		eventType = domain.OrderEventCancelled
		s.metrics.OrderCancelled(ctx)
	}
	s.publish(ctx, eventType, order, items)
	s.logger.InfoContext(ctx, "order updated", "order_id", id, "status", order.Status, "cancelled", cancelling)
	return order, nil
}

func (s *Service) validateUpdate(id string, in UpdateOrderInput, op string) error {
	if err := s.validator.UUID(id, op); err != nil {
		return err
	}
	if in.Status != nil && !in.Status.Valid() {
		return apperr.Validation(fmt.Sprintf("Invalid order status '%s'", *in.Status), op, map[string]any{"status": "invalid"})
	}
	if in.CustomerEmail != nil {
		if err := s.validator.Email(*in.CustomerEmail, op); err != nil {
			return err
		}
	}
	if in.CustomerName != nil && strings.TrimSpace(*in.CustomerName) == "" {
		return apperr.Validation("Customer name is required", op, map[string]any{"customer_name": "required"})
	}
	return nil
}

func (s *Service) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) (*domain.Order, error) {
	return s.UpdateOrder(ctx, id, UpdateOrderInput{Status: &status})
}

// DeleteOrder removes the order and its items. Stock held by an order that
// was not cancelled goes back to the products first.
func (s *Service) DeleteOrder(ctx context.Context, id string) error {
	const op = "OrdersService.deleteOrder"

	ctx, span := tracer.Start(ctx, "OrdersService.DeleteOrder", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	if err := s.validator.UUID(id, op); err != nil {
		s.failed(span, err)
		return err
	}

	var (
		order *domain.Order
		items []domain.OrderItem
	)
	err := store.WithTx(ctx, s.db, op, func(tx *sql.Tx) error {
		var err error
		order, err = s.orders.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if order == nil {
			return apperr.NotFound(fmt.Sprintf("Order with ID %s not found", id), op)
		}

		if order.Status != domain.OrderStatusCancelled {
			if items, err = s.restoreStock(ctx, tx, id); err != nil {
				return err
			}
		}

		if _, err := s.items.DeleteByOrderID(ctx, tx, id); err != nil {
			return err
		}
		return s.orders.Delete(ctx, tx, id)
	})
	if err != nil {
		s.failed(span, err)
		return err
	}

	s.metrics.OrderDeleted(ctx)
	s.publish(ctx, domain.OrderEventDeleted, order, items)
	s.logger.InfoContext(ctx, "order deleted", "order_id", id, "restored_items", len(items))
	return nil
}

// restoreStock gives the order's held quantities back to their products.
// Products are adjusted in ascending id order, the order CreateOrder locks
// them in, so a cancel and a create over the same products cannot deadlock.
func (s *Service) restoreStock(ctx context.Context, tx *sql.Tx, orderID string) ([]domain.OrderItem, error) {
	items, err := s.items.FindByOrderID(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}

	held := make(map[string]int, len(items))
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := held[item.ProductID]; !ok {
			ids = append(ids, item.ProductID)
		}
		held[item.ProductID] += item.Quantity
	}
	slices.Sort(ids)

	for _, id := range ids {
		if _, err := s.ledger.Adjust(ctx, tx, id, held[id]); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (s *Service) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	const op = "OrdersService.findById"

	if err := s.validator.UUID(id, op); err != nil {
		return nil, err
	}

	order, err := s.orders.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, apperr.NotFound(fmt.Sprintf("Order with ID %s not found", id), op)
	}
	return s.withItems(ctx, order)
}

func (s *Service) GetOrderByNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	const op = "OrdersService.findByOrderNumber"

	order, err := s.orders.FindByOrderNumber(ctx, s.db, orderNumber)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, apperr.NotFound(fmt.Sprintf("Order with number %s not found", orderNumber), op)
	}
	return s.withItems(ctx, order)
}

func (s *Service) withItems(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	items, err := s.items.FindByOrderID(ctx, s.db, order.ID)
	if err != nil {
		return nil, err
	}
	order.Items = items
	return order, nil
}

// ListOrders returns one page of orders plus the total number of matches.
// A zero page or limit falls back to the defaults.
func (s *Service) ListOrders(ctx context.Context, f OrderFilter) ([]domain.Order, int64, error) {
	const op = "OrdersService.findAll"

	f = f.withDefaults()
	if f.Page < 1 {
		return nil, 0, apperr.Validation("Page must be at least 1", op, map[string]any{"page": f.Page})
	}
	if f.Limit < 1 || f.Limit > MaxLimit {
		return nil, 0, apperr.Validation(fmt.Sprintf("Limit must be between 1 and %d", MaxLimit), op, map[string]any{"limit": f.Limit})
	}
	if f.Page > MaxPage {
		return nil, 0, apperr.Validation(fmt.Sprintf("Page must be at most %d", MaxPage), op, map[string]any{"page": f.Page})
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, apperr.Validation(fmt.Sprintf("Invalid order status '%s'", f.Status), op, map[string]any{"status": "invalid"})
	}

	return s.orders.FindWithFilters(ctx, s.db, f)
}

func (s *Service) GetOrderStats(ctx context.Context) (domain.OrderStats, error) {
	return s.orders.Stats(ctx, s.db)
}

// publish runs after commit. A failed publish is logged and counted but never
// undoes the committed change.
func (s *Service) publish(ctx context.Context, t domain.OrderEventType, order *domain.Order, items []domain.OrderItem) {
	if s.publisher == nil {
		return
	}
	event := domain.NewOrderEvent(t, order, items, s.now().UTC())
	if err := s.publisher.Publish(ctx, order.ID, event); err != nil {
		s.metrics.EventPublishFailed(ctx, string(t))
		s.logger.ErrorContext(ctx, "failed to publish order event", "error", err, "type", t, "order_id", order.ID)
	}
}

func (s *Service) rejected(ctx context.Context, span trace.Span, err error) {
	s.metrics.OrderRejected(ctx, string(apperr.KindOf(err)))
	s.failed(span, err)
}

func (s *Service) failed(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
