package products

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/orderflow-fulfillment/internal/apperr"
	"github.com/joao-fontenele/orderflow-fulfillment/internal/domain"
	"github.com/joao-fontenele/orderflow-fulfillment/internal/store"
)

const repositoryLabel = "ProductRepository"

var productTable = store.Table[domain.Product]{
	Name:    "products",
	Entity:  "Product",
	Columns: []string{"id", "name", "description", "price", "stock", "is_active", "created_at", "updated_at"},
	Insert:  []string{"id", "name", "description", "price", "stock", "is_active"},
	InsertValues: func(p *domain.Product) []any {
		return []any{p.ID, p.Name, p.Description, p.Price, p.Stock, p.IsActive}
	},
	Updatable: []string{"name", "description", "price", "stock", "is_active"},
	Scan: func(s store.Scanner, p *domain.Product) error {
		return s.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Stock, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	},
	ID:    func(p *domain.Product) string { return p.ID },
	SetID: func(p *domain.Product, id string) { p.ID = id },
}

// ProductPatch carries the editable product fields. Stock is absent on
// purpose: it only changes through the StockLedger.
type ProductPatch struct {
	Name        *string
	Description *string
	Price       *decimal.Decimal
	IsActive    *bool
}

func (p ProductPatch) columns() store.Patch {
	patch := store.Patch{}
	if p.Name != nil {
		patch["name"] = *p.Name
	}
	if p.Description != nil {
		patch["description"] = *p.Description
	}
	if p.Price != nil {
		patch["price"] = *p.Price
	}
	if p.IsActive != nil {
		patch["is_active"] = *p.IsActive
	}
	return patch
}

type ProductRepository struct {
	store *store.Store[domain.Product]
}

func NewProductRepository(logger *slog.Logger) *ProductRepository {
	return &ProductRepository{
		store: store.New(productTable, repositoryLabel, logger),
	}
}

func (r *ProductRepository) Create(ctx context.Context, q store.DBTX, product *domain.Product) (*domain.Product, error) {
	return r.store.Create(ctx, q, product)
}

func (r *ProductRepository) FindByID(ctx context.Context, q store.DBTX, id string) (*domain.Product, error) {
	return r.store.FindByID(ctx, q, id)
}

func (r *ProductRepository) FindByIDForUpdate(ctx context.Context, q store.DBTX, id string) (*domain.Product, error) {
	return r.store.FindByIDForUpdate(ctx, q, id)
}

func (r *ProductRepository) FindByIDs(ctx context.Context, q store.DBTX, ids []string) ([]domain.Product, error) {
	return r.store.FindByIDs(ctx, q, ids)
}

// LockByIDs locks the given products in ascending id order so that
// transactions touching overlapping products always queue in the same order.
func (r *ProductRepository) LockByIDs(ctx context.Context, q store.DBTX, ids []string) ([]domain.Product, error) {
	if len(ids) == 0 {
		return []domain.Product{}, nil
	}
	return r.store.Find(ctx, q, store.Query{
		Where:   "id = ANY($1)",
		Args:    []any{pq.Array(ids)},
		OrderBy: "id",
		Lock:    true,
	})
}

func (r *ProductRepository) FindAll(ctx context.Context, q store.DBTX) ([]domain.Product, error) {
	return r.store.FindAll(ctx, q)
}

func (r *ProductRepository) FindActive(ctx context.Context, q store.DBTX) ([]domain.Product, error) {
	return r.store.Find(ctx, q, store.Query{Where: "is_active = TRUE"})
}

func (r *ProductRepository) FindByPriceRange(ctx context.Context, q store.DBTX, minPrice, maxPrice decimal.Decimal) ([]domain.Product, error) {
	return r.store.Find(ctx, q, store.Query{
		Where:   "price BETWEEN $1 AND $2 AND is_active = TRUE",
		Args:    []any{minPrice, maxPrice},
		OrderBy: "price ASC",
	})
}

func (r *ProductRepository) FindByName(ctx context.Context, q store.DBTX, name string) ([]domain.Product, error) {
	return r.store.Find(ctx, q, store.Query{
		Where: "name ILIKE $1 AND is_active = TRUE",
		Args:  []any{"%" + name + "%"},
	})
}

func (r *ProductRepository) FindLowStock(ctx context.Context, q store.DBTX, threshold int) ([]domain.Product, error) {
	return r.store.Find(ctx, q, store.Query{
		Where:   "stock <= $1 AND is_active = TRUE",
		Args:    []any{threshold},
		OrderBy: "stock ASC",
	})
}

func (r *ProductRepository) Update(ctx context.Context, q store.DBTX, id string, patch ProductPatch) (*domain.Product, error) {
	return r.store.Update(ctx, q, id, patch.columns())
}

func (r *ProductRepository) setStock(ctx context.Context, q store.DBTX, id string, stock int) (*domain.Product, error) {
	return r.store.Update(ctx, q, id, store.Patch{"stock": stock})
}

// Delete refuses to remove a product that order items still reference.
func (r *ProductRepository) Delete(ctx context.Context, q store.DBTX, id string) error {
	var referenced bool
	err := r.store.Raw(ctx, q, "SELECT EXISTS(SELECT 1 FROM order_items WHERE product_id = $1)", []any{id},
		func(s store.Scanner) error { return s.Scan(&referenced) })
	if err != nil {
		return err
	}
	if referenced {
		return apperr.Conflict(fmt.Sprintf("Product with ID %s is referenced by existing orders", id), repositoryLabel)
	}

	return r.store.Delete(ctx, q, id)
}

func (r *ProductRepository) Count(ctx context.Context, q store.DBTX) (int64, error) {
	return r.store.Count(ctx, q, "")
}
