package orders

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joao-fontenele/orderflow-fulfillment/internal/domain"
	"github.com/joao-fontenele/orderflow-fulfillment/internal/store"
)

var orderTable = store.Table[domain.Order]{
	Name:   "orders",
	Entity: "Order",
	Columns: []string{"id", "order_number", "status", "total_amount", "customer_email", "customer_name",
		"shipping_address", "cancelled_at", "created_at", "updated_at"},
	Insert: []string{"id", "order_number", "status", "total_amount", "customer_email", "customer_name", "shipping_address"},
	InsertValues: func(o *domain.Order) []any {
		return []any{o.ID, o.OrderNumber, o.Status, o.TotalAmount, o.CustomerEmail, o.CustomerName, o.ShippingAddress}
	},
	Updatable: []string{"status", "customer_email", "customer_name", "shipping_address", "cancelled_at"},
	Scan: func(s store.Scanner, o *domain.Order) error {
		return s.Scan(&o.ID, &o.OrderNumber, &o.Status, &o.TotalAmount, &o.CustomerEmail, &o.CustomerName,
			&o.ShippingAddress, &o.CancelledAt, &o.CreatedAt, &o.UpdatedAt)
	},
	ID:    func(o *domain.Order) string { return o.ID },
	SetID: func(o *domain.Order, id string) { o.ID = id },
}

var orderItemTable = store.Table[domain.OrderItem]{
	Name:    "order_items",
	Entity:  "OrderItem",
	Columns: []string{"id", "order_id", "product_id", "quantity", "unit_price", "total_price", "created_at", "updated_at"},
	Insert:  []string{"id", "order_id", "product_id", "quantity", "unit_price", "total_price"},
	InsertValues: func(i *domain.OrderItem) []any {
		return []any{i.ID, i.OrderID, i.ProductID, i.Quantity, i.UnitPrice, i.TotalPrice}
	},
	Scan: func(s store.Scanner, i *domain.OrderItem) error {
		return s.Scan(&i.ID, &i.OrderID, &i.ProductID, &i.Quantity, &i.UnitPrice, &i.TotalPrice, &i.CreatedAt, &i.UpdatedAt)
	},
	ID:      func(i *domain.OrderItem) string { return i.ID },
	SetID:   func(i *domain.OrderItem, id string) { i.ID = id },
	OrderBy: "created_at ASC, id ASC",
}

// OrderPatch carries the mutable order fields; nil fields are left alone.
type OrderPatch struct {
	Status          *domain.OrderStatus
	CustomerEmail   *string
	CustomerName    *string
	ShippingAddress *string
	CancelledAt     *time.Time
}

func (p OrderPatch) columns() store.Patch {
	patch := store.Patch{}
	if p.Status != nil {
		patch["status"] = *p.Status
	}
	if p.CustomerEmail != nil {
		patch["customer_email"] = *p.CustomerEmail
	}
	if p.CustomerName != nil {
		patch["customer_name"] = *p.CustomerName
	}
	if p.ShippingAddress != nil {
		patch["shipping_address"] = *p.ShippingAddress
	}
	if p.CancelledAt != nil {
		patch["cancelled_at"] = *p.CancelledAt
	}
	return patch
}

type OrderFilter struct {
	Status        domain.OrderStatus
	CustomerEmail string
	CustomerName  string
	OrderNumber   string
	Page          int
	Limit         int
}

// withDefaults fills a zero page or limit with the list defaults.
func (f OrderFilter) withDefaults() OrderFilter {
	if f.Page == 0 {
		f.Page = DefaultPage
	}
	if f.Limit == 0 {
		f.Limit = DefaultLimit
	}
	return f
}

func (f OrderFilter) where() (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.CustomerEmail != "" {
		add("customer_email ILIKE $%d", "%"+f.CustomerEmail+"%")
	}
	if f.CustomerName != "" {
		add("customer_name ILIKE $%d", "%"+f.CustomerName+"%")
	}
	if f.OrderNumber != "" {
		add("order_number ILIKE $%d", "%"+f.OrderNumber+"%")
	}

	return strings.Join(conds, " AND "), args
}

type OrderRepository struct {
	store *store.Store[domain.Order]
}

func NewOrderRepository(logger *slog.Logger) *OrderRepository {
	return &OrderRepository{
		store: store.New(orderTable, "OrderRepository", logger),
	}
}

func (r *OrderRepository) Create(ctx context.Context, q store.DBTX, order *domain.Order) (*domain.Order, error) {
	return r.store.Create(ctx, q, order)
}

func (r *OrderRepository) FindByID(ctx context.Context, q store.DBTX, id string) (*domain.Order, error) {
	return r.store.FindByID(ctx, q, id)
}

func (r *OrderRepository) FindByIDForUpdate(ctx context.Context, q store.DBTX, id string) (*domain.Order, error) {
	return r.store.FindByIDForUpdate(ctx, q, id)
}

func (r *OrderRepository) FindByOrderNumber(ctx context.Context, q store.DBTX, orderNumber string) (*domain.Order, error) {
	found, err := r.store.Find(ctx, q, store.Query{
		Where: "order_number = $1",
		Args:  []any{orderNumber},
		Limit: 1,
	})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}

// FindWithFilters returns one page of matching orders, newest first, and the
// number of orders matching the filter overall.
func (r *OrderRepository) FindWithFilters(ctx context.Context, q store.DBTX, f OrderFilter) ([]domain.Order, int64, error) {
	where, args := f.where()

	orders, err := r.store.Find(ctx, q, store.Query{
		Where:  where,
		Args:   args,
		Limit:  f.Limit,
		Offset: (f.Page - 1) * f.Limit,
	})
	if err != nil {
		return nil, 0, err
	}

	total, err := r.store.Count(ctx, q, where, args...)
	if err != nil {
		return nil, 0, err
	}

	return orders, total, nil
}

func (r *OrderRepository) Update(ctx context.Context, q store.DBTX, id string, patch OrderPatch) (*domain.Order, error) {
	return r.store.Update(ctx, q, id, patch.columns())
}

func (r *OrderRepository) Delete(ctx context.Context, q store.DBTX, id string) error {
	return r.store.Delete(ctx, q, id)
}

func (r *OrderRepository) Stats(ctx context.Context, q store.DBTX) (domain.OrderStats, error) {
	var stats domain.OrderStats
	err := r.store.Raw(ctx, q, "SELECT status, COUNT(id) FROM orders GROUP BY status", nil, func(s store.Scanner) error {
		var (
			status domain.OrderStatus
			count  int64
		)
		if err := s.Scan(&status, &count); err != nil {
			return err
		}
		stats.Add(status, count)
		return nil
	})
	return stats, err
}

type OrderItemRepository struct {
	store *store.Store[domain.OrderItem]
}

func NewOrderItemRepository(logger *slog.Logger) *OrderItemRepository {
	return &OrderItemRepository{
		store: store.New(orderItemTable, "OrderItemRepository", logger),
	}
}

func (r *OrderItemRepository) Create(ctx context.Context, q store.DBTX, item *domain.OrderItem) (*domain.OrderItem, error) {
	return r.store.Create(ctx, q, item)
}

func (r *OrderItemRepository) FindByOrderID(ctx context.Context, q store.DBTX, orderID string) ([]domain.OrderItem, error) {
	return r.store.Find(ctx, q, store.Query{
		Where: "order_id = $1",
		Args:  []any{orderID},
	})
}

func (r *OrderItemRepository) DeleteByOrderID(ctx context.Context, q store.DBTX, orderID string) (int64, error) {
	return r.store.DeleteWhere(ctx, q, "order_id", orderID)
}
