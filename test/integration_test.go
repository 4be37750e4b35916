//go:build integration

package test

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/orderflow-fulfillment/internal/apperr"
	"github.com/joao-fontenele/orderflow-fulfillment/internal/domain"
	"github.com/joao-fontenele/orderflow-fulfillment/internal/messaging"
	"github.com/joao-fontenele/orderflow-fulfillment/internal/orders"
	"github.com/joao-fontenele/orderflow-fulfillment/internal/products"
	"github.com/joao-fontenele/orderflow-fulfillment/internal/validate"
	"github.com/joao-fontenele/orderflow-fulfillment/internal/worker"
)

type stack struct {
	db       *sql.DB
	repo     *products.ProductRepository
	ledger   *products.StockLedger
	products *products.Service
	orders   *orders.Service
	logger   *slog.Logger
}

func newStack(db *sql.DB, publisher orders.Publisher) *stack {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	validator := validate.NewRegistry()
	repo := products.NewProductRepository(logger)
	ledger := products.NewStockLedger(db, repo, nil, logger)

	return &stack{
		db:       db,
		repo:     repo,
		ledger:   ledger,
		products: products.NewService(db, repo, ledger, validator, logger),
		orders:   orders.NewService(db, repo, ledger, validator, publisher, nil, logger),
		logger:   logger,
	}
}

func (s *stack) createProduct(ctx context.Context, t *testing.T, name, price string, stock int) *domain.Product {
	t.Helper()

	p, err := s.products.CreateProduct(ctx, products.CreateProductInput{
		Name:  name,
		Price: decimal.RequireFromString(price),
		Stock: stock,
	})
	require.NoError(t, err)
	return p
}

func (s *stack) stockOf(ctx context.Context, t *testing.T, id string) int {
	t.Helper()

	p, err := s.products.GetProduct(ctx, id)
	require.NoError(t, err)
	return p.Stock
}

func (s *stack) countOrders(ctx context.Context, t *testing.T) (orderCount, itemCount int) {
	t.Helper()

	require.NoError(t, s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM orders").Scan(&orderCount))
	require.NoError(t, s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM order_items").Scan(&itemCount))
	return orderCount, itemCount
}

func orderInput(lines ...orders.CreateOrderItemInput) orders.CreateOrderInput {
	return orders.CreateOrderInput{
		CustomerEmail: "jane@example.com",
		CustomerName:  "Jane Doe",
		Items:         lines,
	}
}

func line(productID string, qty int) orders.CreateOrderItemInput {
	return orders.CreateOrderItemInput{ProductID: productID, Quantity: qty}
}

func statusPtr(s domain.OrderStatus) *domain.OrderStatus { return &s }

func TestOrderLifecycle(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	s := newStack(OpenDB(ctx, t, pg.ConnStr), nil)
	laptop := s.createProduct(ctx, t, "Laptop Pro", "1299.99", 50)
	mouse := s.createProduct(ctx, t, "Gaming Mouse", "79.99", 200)

	order, err := s.orders.CreateOrder(ctx, orderInput(line(laptop.ID, 2), line(mouse.ID, 3)))
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.True(t, decimal.RequireFromString("2839.95").Equal(order.TotalAmount), "total %s", order.TotalAmount)
	assert.Len(t, order.Items, 2)
	assert.Equal(t, 48, s.stockOf(ctx, t, laptop.ID))
	assert.Equal(t, 197, s.stockOf(ctx, t, mouse.ID))

	byNumber, err := s.orders.GetOrderByNumber(ctx, order.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, order.ID, byNumber.ID)
	assert.Len(t, byNumber.Items, 2)

	t.Run("cancellation restores stock once", func(t *testing.T) {
		cancelled, err := s.orders.UpdateStatus(ctx, order.ID, domain.OrderStatusCancelled)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)
		assert.NotNil(t, cancelled.CancelledAt)
		assert.Equal(t, 50, s.stockOf(ctx, t, laptop.ID))

		_, err = s.orders.UpdateOrder(ctx, order.ID, orders.UpdateOrderInput{Status: statusPtr(domain.OrderStatusCancelled)})
		require.NoError(t, err)
		assert.Equal(t, 50, s.stockOf(ctx, t, laptop.ID))
		assert.Equal(t, 200, s.stockOf(ctx, t, mouse.ID))
	})

	t.Run("deleting a cancelled order leaves stock alone", func(t *testing.T) {
		require.NoError(t, s.orders.DeleteOrder(ctx, order.ID))
		assert.Equal(t, 50, s.stockOf(ctx, t, laptop.ID))

		_, err := s.orders.GetOrder(ctx, order.ID)
		assert.True(t, apperr.Is(err, apperr.KindNotFound))
	})

	t.Run("deleting a live order restores stock", func(t *testing.T) {
		live, err := s.orders.CreateOrder(ctx, orderInput(line(laptop.ID, 5)))
		require.NoError(t, err)
		assert.Equal(t, 45, s.stockOf(ctx, t, laptop.ID))

		require.NoError(t, s.orders.DeleteOrder(ctx, live.ID))
		assert.Equal(t, 50, s.stockOf(ctx, t, laptop.ID))

		err = s.orders.DeleteOrder(ctx, live.ID)
		assert.True(t, apperr.Is(err, apperr.KindNotFound))
		assert.Equal(t, 50, s.stockOf(ctx, t, laptop.ID))

		orderCount, itemCount := s.countOrders(ctx, t)
		assert.Zero(t, orderCount)
		assert.Zero(t, itemCount)
	})

	t.Run("referenced products cannot be deleted", func(t *testing.T) {
		_, err := s.orders.CreateOrder(ctx, orderInput(line(mouse.ID, 1)))
		require.NoError(t, err)

		err = s.products.DeleteProduct(ctx, mouse.ID)
		assert.True(t, apperr.Is(err, apperr.KindConflict))
	})
}

func TestFailedCreationHasNoSideEffects(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	s := newStack(OpenDB(ctx, t, pg.ConnStr), nil)
	laptop := s.createProduct(ctx, t, "Laptop Pro", "1299.99", 50)
	keyboard := s.createProduct(ctx, t, "Mechanical Keyboard", "149.99", 2)

	t.Run("insufficient stock on a later line", func(t *testing.T) {
		_, err := s.orders.CreateOrder(ctx, orderInput(line(laptop.ID, 1), line(keyboard.ID, 3)))
		assert.True(t, apperr.Is(err, apperr.KindBadRequest))
	})

	t.Run("same product split across lines", func(t *testing.T) {
		_, err := s.orders.CreateOrder(ctx, orderInput(line(keyboard.ID, 2), line(keyboard.ID, 1)))
		assert.True(t, apperr.Is(err, apperr.KindBadRequest))
	})

	t.Run("unknown product", func(t *testing.T) {
		_, err := s.orders.CreateOrder(ctx, orderInput(line(laptop.ID, 1), line("7f0b3c2a-1d4e-4a5b-8c6d-9e0f1a2b3c4d", 1)))
		assert.True(t, apperr.Is(err, apperr.KindNotFound))
	})

	assert.Equal(t, 50, s.stockOf(ctx, t, laptop.ID))
	assert.Equal(t, 2, s.stockOf(ctx, t, keyboard.ID))

	orderCount, itemCount := s.countOrders(ctx, t)
	assert.Zero(t, orderCount)
	assert.Zero(t, itemCount)
}

func TestStockNeverNegative(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	s := newStack(OpenDB(ctx, t, pg.ConnStr), nil)
	p := s.createProduct(ctx, t, "Smartphone X", "899.99", 5)

	_, err := s.ledger.AdjustStock(ctx, p.ID, -6)
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))

	updated, err := s.ledger.AdjustStock(ctx, p.ID, -5)
	require.NoError(t, err)
	assert.Zero(t, updated.Stock)

	_, err = s.ledger.AdjustStock(ctx, p.ID, -1)
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))
	assert.Zero(t, s.stockOf(ctx, t, p.ID))
}

func TestConcurrentOrdersDoNotOversell(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	s := newStack(OpenDB(ctx, t, pg.ConnStr), nil)
	p := s.createProduct(ctx, t, "Wireless Headphones", "299.99", 30)

	const attempts = 50
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
		other     []error
	)

	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.orders.CreateOrder(ctx, orderInput(line(p.ID, 1)))

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case apperr.Is(err, apperr.KindBadRequest):
				rejected++
			default:
				other = append(other, err)
			}
		}()
	}
	wg.Wait()

	require.Empty(t, other)
	assert.Equal(t, 30, succeeded)
	assert.Equal(t, 20, rejected)
	assert.Zero(t, s.stockOf(ctx, t, p.ID))

	orderCount, _ := s.countOrders(ctx, t)
	assert.Equal(t, 30, orderCount)
}

func TestConcurrentCancelAndCreateShareProducts(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	s := newStack(OpenDB(ctx, t, pg.ConnStr), nil)
	ids := []string{
		s.createProduct(ctx, t, "Laptop Pro", "1299.99", 100).ID,
		s.createProduct(ctx, t, "Gaming Mouse", "79.99", 100).ID,
		s.createProduct(ctx, t, "USB-C Hub", "49.99", 100).ID,
	}
	slices.Sort(ids)
	descending := slices.Clone(ids)
	slices.Reverse(descending)

	linesOf := func(productIDs []string) []orders.CreateOrderItemInput {
		lines := make([]orders.CreateOrderItemInput, 0, len(productIDs))
		for _, id := range productIDs {
			lines = append(lines, line(id, 1))
		}
		return lines
	}

	const rounds = 20
	pending := make([]string, 0, rounds)
	for range rounds {
		o, err := s.orders.CreateOrder(ctx, orderInput(linesOf(descending)...))
		require.NoError(t, err)
		pending = append(pending, o.ID)
	}
	for _, id := range ids {
		require.Equal(t, 100-rounds, s.stockOf(ctx, t, id))
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		other []error
	)
	record := func(err error) {
		if err == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		other = append(other, err)
	}

	for i := range rounds {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := s.orders.UpdateOrder(ctx, pending[i], orders.UpdateOrderInput{Status: statusPtr(domain.OrderStatusCancelled)})
			record(err)
		}()
		go func() {
			defer wg.Done()
			_, err := s.orders.CreateOrder(ctx, orderInput(linesOf(ids)...))
			record(err)
		}()
	}
	wg.Wait()

	require.Empty(t, other)
	for _, id := range ids {
		assert.Equal(t, 100-rounds, s.stockOf(ctx, t, id))
	}

	orderCount, itemCount := s.countOrders(ctx, t)
	assert.Equal(t, 2*rounds, orderCount)
	assert.Equal(t, 2*rounds*len(ids), itemCount)
}

func TestOrderStatsAndListing(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	s := newStack(OpenDB(ctx, t, pg.ConnStr), nil)
	p := s.createProduct(ctx, t, "Gaming Mouse", "79.99", 200)

	ids := make([]string, 0, 4)
	for range 4 {
		o, err := s.orders.CreateOrder(ctx, orderInput(line(p.ID, 1)))
		require.NoError(t, err)
		ids = append(ids, o.ID)
	}

	_, err := s.orders.UpdateStatus(ctx, ids[0], domain.OrderStatusConfirmed)
	require.NoError(t, err)
	_, err = s.orders.UpdateStatus(ctx, ids[1], domain.OrderStatusShipped)
	require.NoError(t, err)
	_, err = s.orders.UpdateStatus(ctx, ids[2], domain.OrderStatusCancelled)
	require.NoError(t, err)

	stats, err := s.orders.GetOrderStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStats{Total: 4, Pending: 1, Confirmed: 1, Shipped: 1, Cancelled: 1}, stats)

	page, total, err := s.orders.ListOrders(ctx, orders.OrderFilter{Page: 1, Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
	assert.Len(t, page, 3)

	pending, total, err := s.orders.ListOrders(ctx, orders.OrderFilter{Status: domain.OrderStatusPending})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, pending, 1)
	assert.Equal(t, ids[3], pending[0].ID)
}

func TestOrderEventsReachWorker(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	brokers, cleanupKafka := SetupKafka(ctx, t)
	defer cleanupKafka()

	const topic = "order.events"
	createTopic(t, brokers[0], topic)

	producer := messaging.NewProducer(brokers, topic)
	defer func() { _ = producer.Close() }()

	db := OpenDB(ctx, t, pg.ConnStr)
	s := newStack(db, producer)
	p := s.createProduct(ctx, t, "Laptop Pro", "1299.99", 12)

	order, err := s.orders.CreateOrder(ctx, orderInput(line(p.ID, 3)))
	require.NoError(t, err)

	consumer := messaging.NewConsumer(brokers, topic, "integration-worker", messaging.WithStartOffset(kafka.FirstOffset))
	defer func() { _ = consumer.Close() }()

	lowStock := worker.NewLowStockHandler(db, s.repo, 10, nil, s.logger)

	consumeCtx, stop := context.WithTimeout(ctx, time.Minute)
	defer stop()

	var got domain.OrderEvent
	err = consumer.Consume(consumeCtx, func(ctx context.Context, msg messaging.Message) error {
		if err := lowStock.Handle(ctx, msg); err != nil {
			return err
		}
		if err := json.Unmarshal(msg.Payload, &got); err != nil {
			return err
		}
		stop()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, domain.OrderEventCreated, got.Type)
	assert.Equal(t, order.ID, got.OrderID)
	assert.Equal(t, order.OrderNumber, got.OrderNumber)
	require.Len(t, got.Items, 1)
	assert.Equal(t, 3, got.Items[0].Quantity)
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()

	conn, err := kafka.Dial("tcp", broker)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	controller, err := conn.Controller()
	require.NoError(t, err)

	ctrl, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer func() { _ = ctrl.Close() }()

	require.NoError(t, ctrl.CreateTopics(kafka.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1}))
}
