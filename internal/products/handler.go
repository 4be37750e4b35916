package products

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/orderflow-fulfillment/internal/api"
	"github.com/joao-fontenele/orderflow-fulfillment/internal/apperr"
	"github.com/joao-fontenele/orderflow-fulfillment/internal/domain"
)

type ProductService interface {
	CreateProduct(ctx context.Context, in CreateProductInput) (*domain.Product, error)
	ListProducts(ctx context.Context, f ProductFilter) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	LowStock(ctx context.Context, threshold int) ([]domain.Product, error)
	UpdateProduct(ctx context.Context, id string, in UpdateProductInput) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error
	AdjustStock(ctx context.Context, id string, delta int) (*domain.Product, error)
}

type Handler struct {
	service   ProductService
	responder *api.Responder
	logger    *slog.Logger
}

func NewHandler(service ProductService, responder *api.Responder, logger *slog.Logger) *Handler {
	return &Handler{
		service:   service,
		responder: responder,
		logger:    logger,
	}
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateProductInput
	if err := api.Decode(r, &req); err != nil {
		h.responder.Error(w, r, err)
		return
	}

	product, err := h.service.CreateProduct(r.Context(), req)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}

	h.responder.Success(w, http.StatusCreated, "Product created successfully", product)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}

	products, err := h.service.ListProducts(r.Context(), filter)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}

	h.logger.Info("products listed", "count", len(products))
	h.responder.Success(w, http.StatusOK, "Products retrieved successfully", products)
}

func (h *Handler) HandleLowStock(w http.ResponseWriter, r *http.Request) {
	threshold, err := api.QueryInt(r, "threshold", DefaultLowStockThreshold)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}

	products, err := h.service.LowStock(r.Context(), threshold)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}

	h.responder.Success(w, http.StatusOK, "Low stock products retrieved successfully", products)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	product, err := h.service.GetProduct(r.Context(), r.PathValue("id"))
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}

	h.responder.Success(w, http.StatusOK, "Product retrieved successfully", product)
}

func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var req UpdateProductInput
	if err := api.Decode(r, &req); err != nil {
		h.responder.Error(w, r, err)
		return
	}

	product, err := h.service.UpdateProduct(r.Context(), r.PathValue("id"), req)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}

	h.responder.Success(w, http.StatusOK, "Product updated successfully", product)
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.service.DeleteProduct(r.Context(), id); err != nil {
		h.responder.Error(w, r, err)
		return
	}

	h.responder.Success(w, http.StatusOK, fmt.Sprintf("Product with ID %s deleted successfully", id), nil)
}

type adjustStockRequest struct {
	Delta *int `json:"delta"`
}

func (h *Handler) HandleAdjustStock(w http.ResponseWriter, r *http.Request) {
	var req adjustStockRequest
	if err := api.Decode(r, &req); err != nil {
		h.responder.Error(w, r, err)
		return
	}
	if req.Delta == nil {
		h.responder.Error(w, r, apperr.Validation("Delta is required", "ProductsHandler.adjustStock",
			map[string]any{"delta": "required"}))
		return
	}

	product, err := h.service.AdjustStock(r.Context(), r.PathValue("id"), *req.Delta)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}

	h.responder.Success(w, http.StatusOK, "Stock updated successfully", product)
}

func parseFilter(r *http.Request) (ProductFilter, error) {
	q := r.URL.Query()
	f := ProductFilter{Name: strings.TrimSpace(q.Get("name"))}

	if raw := q.Get("ids"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				f.IDs = append(f.IDs, id)
			}
		}
	}

	for key, dst := range map[string]**decimal.Decimal{"min_price": &f.MinPrice, "max_price": &f.MaxPrice} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return ProductFilter{}, apperr.BadRequest("Query parameter "+key+" must be a number", "")
		}
		*dst = &d
	}

	return f, nil
}
