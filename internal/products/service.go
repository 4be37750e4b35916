package products

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/orderflow-fulfillment/internal/apperr"
	"github.com/joao-fontenele/orderflow-fulfillment/internal/domain"
	"github.com/joao-fontenele/orderflow-fulfillment/internal/store"
	"github.com/joao-fontenele/orderflow-fulfillment/internal/validate"
)

const DefaultLowStockThreshold = 10

type CreateProductInput struct {
	Name        string          `json:"name"`
	Description *string         `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	IsActive    *bool           `json:"is_active,omitempty"`
}

type UpdateProductInput struct {
	Name        *string          `json:"name,omitempty"`
	Description *string          `json:"description,omitempty"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	Stock       *int             `json:"stock,omitempty"`
	IsActive    *bool            `json:"is_active,omitempty"`
}

// ProductFilter selects which active products ListProducts returns. IDs wins
// over Name, Name over the price range; an empty filter lists every active product.
type ProductFilter struct {
	IDs      []string
	Name     string
	MinPrice *decimal.Decimal
	MaxPrice *decimal.Decimal
}

type Service struct {
	db        store.DB
	repo      *ProductRepository
	ledger    *StockLedger
	validator *validate.Registry
	logger    *slog.Logger
}

func NewService(db store.DB, repo *ProductRepository, ledger *StockLedger, validator *validate.Registry, logger *slog.Logger) *Service {
	return &Service{
		db:        db,
		repo:      repo,
		ledger:    ledger,
		validator: validator,
		logger:    logger,
	}
}

func (s *Service) CreateProduct(ctx context.Context, in CreateProductInput) (*domain.Product, error) {
	const op = "ProductsService.createProduct"

	if strings.TrimSpace(in.Name) == "" {
		return nil, apperr.Validation("Name is required", op, map[string]any{"name": "required"})
	}
	if err := s.validator.Price(in.Price, op); err != nil {
		return nil, err
	}
	if err := s.validator.Stock(in.Stock, op); err != nil {
		return nil, err
	}

	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}

	product, err := s.repo.Create(ctx, s.db, &domain.Product{
		Name:        in.Name,
		Description: in.Description,
		Price:       in.Price,
		Stock:       in.Stock,
		IsActive:    active,
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "product created", "product_id", product.ID, "name", product.Name)
	return product, nil
}

func (s *Service) ListProducts(ctx context.Context, f ProductFilter) ([]domain.Product, error) {
	const op = "ProductsService.getAllProducts"

	switch {
	case len(f.IDs) > 0:
		for _, id := range f.IDs {
			if err := s.validator.UUID(id, op); err != nil {
				return nil, err
			}
		}
		return s.repo.FindByIDs(ctx, s.db, f.IDs)
	case f.Name != "":
		return s.repo.FindByName(ctx, s.db, f.Name)
	case f.MinPrice != nil || f.MaxPrice != nil:
		minPrice, maxPrice := decimal.Zero, decimal.New(1, 8)
		if f.MinPrice != nil {
			minPrice = *f.MinPrice
		}
		if f.MaxPrice != nil {
			maxPrice = *f.MaxPrice
		}
		if err := s.validator.Price(minPrice, op); err != nil {
			return nil, err
		}
		if err := s.validator.Price(maxPrice, op); err != nil {
			return nil, err
		}
		if minPrice.GreaterThan(maxPrice) {
			return nil, apperr.BadRequest("Min price cannot be greater than max price", op)
		}
		return s.repo.FindByPriceRange(ctx, s.db, minPrice, maxPrice)
	default:
		return s.repo.FindActive(ctx, s.db)
	}
}

func (s *Service) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	const op = "ProductsService.getProductById"

	if err := s.validator.UUID(id, op); err != nil {
		return nil, err
	}

	product, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, apperr.NotFound(fmt.Sprintf("Product with ID %s not found", id), op)
	}
	return product, nil
}

func (s *Service) LowStock(ctx context.Context, threshold int) ([]domain.Product, error) {
	if err := s.validator.Stock(threshold, "ProductsService.findLowStockProducts"); err != nil {
		return nil, err
	}
	return s.repo.FindLowStock(ctx, s.db, threshold)
}

// UpdateProduct applies the edit in one transaction. A new stock value is
// turned into a delta and applied through the ledger.
func (s *Service) UpdateProduct(ctx context.Context, id string, in UpdateProductInput) (*domain.Product, error) {
	const op = "ProductsService.updateProduct"

	if err := s.validator.UUID(id, op); err != nil {
		return nil, err
	}
	if in.Name != nil && strings.TrimSpace(*in.Name) == "" {
		return nil, apperr.Validation("Name must not be empty", op, map[string]any{"name": "required"})
	}
	if in.Price != nil {
		if err := s.validator.Price(*in.Price, op); err != nil {
			return nil, err
		}
	}
	if in.Stock != nil {
		if err := s.validator.Stock(*in.Stock, op); err != nil {
			return nil, err
		}
	}

	var product *domain.Product
	err := store.WithTx(ctx, s.db, op, func(tx *sql.Tx) error {
		current, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return apperr.NotFound(fmt.Sprintf("Product with ID %s not found", id), op)
		}

		if in.Stock != nil && *in.Stock != current.Stock {
			if _, err := s.ledger.Adjust(ctx, tx, id, *in.Stock-current.Stock); err != nil {
				return err
			}
		}

		product, err = s.repo.Update(ctx, tx, id, ProductPatch{
			Name:        in.Name,
			Description: in.Description,
			Price:       in.Price,
			IsActive:    in.IsActive,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "product updated", "product_id", id)
	return product, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	const op = "ProductsService.deleteProduct"

	if err := s.validator.UUID(id, op); err != nil {
		return err
	}

	err := store.WithTx(ctx, s.db, op, func(tx *sql.Tx) error {
		return s.repo.Delete(ctx, tx, id)
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "product deleted", "product_id", id)
	return nil
}

func (s *Service) AdjustStock(ctx context.Context, id string, delta int) (*domain.Product, error) {
	if err := s.validator.UUID(id, "ProductsService.updateStock"); err != nil {
		return nil, err
	}
	return s.ledger.AdjustStock(ctx, id, delta)
}
