package products

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/orderflow-fulfillment/internal/domain"
	"github.com/joao-fontenele/orderflow-fulfillment/internal/store"
)

const seedContext = "ProductSeeder.seed"

func ptr[T any](v T) *T { return &v }

// DemoProducts is the catalog loaded into an empty database by the seed command.
func DemoProducts() []domain.Product {
	return []domain.Product{
		{Name: "Laptop Pro", Description: ptr("High-performance laptop for professionals"), Price: decimal.RequireFromString("1299.99"), Stock: 50, IsActive: true},
		{Name: "Wireless Headphones", Description: ptr("Premium noise-cancelling wireless headphones"), Price: decimal.RequireFromString("299.99"), Stock: 100, IsActive: true},
		{Name: "Smartphone X", Description: ptr("Latest smartphone with advanced features"), Price: decimal.RequireFromString("899.99"), Stock: 75, IsActive: true},
		{Name: "Gaming Mouse", Description: ptr("High-precision gaming mouse with RGB lighting"), Price: decimal.RequireFromString("79.99"), Stock: 200, IsActive: true},
		{Name: "Mechanical Keyboard", Description: ptr("Premium mechanical keyboard with tactile switches"), Price: decimal.RequireFromString("149.99"), Stock: 60, IsActive: true},
	}
}

// Seed inserts the given products in one transaction, but only when the
// products table is empty. It returns how many rows were inserted.
func Seed(ctx context.Context, db store.TxBeginner, repo *ProductRepository, catalog []domain.Product, logger *slog.Logger) (int, error) {
	inserted := 0
	err := store.WithTx(ctx, db, seedContext, func(tx *sql.Tx) error {
		count, err := repo.Count(ctx, tx)
		if err != nil {
			return err
		}
		if count > 0 {
			logger.InfoContext(ctx, "products already present, skipping seed", "count", count)
			return nil
		}

		for i := range catalog {
			p := catalog[i]
			created, err := repo.Create(ctx, tx, &p)
			if err != nil {
				return err
			}
			logger.InfoContext(ctx, "product seeded", "product_id", created.ID, "name", created.Name)
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}
