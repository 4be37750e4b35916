package orders

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/joao-fontenele/orderflow-fulfillment/internal/api"
	"github.com/joao-fontenele/orderflow-fulfillment/internal/apperr"
	"github.com/joao-fontenele/orderflow-fulfillment/internal/domain"
)

type OrderService interface {
	CreateOrder(ctx context.Context, in CreateOrderInput) (*domain.Order, error)
	ListOrders(ctx context.Context, f OrderFilter) ([]domain.Order, int64, error)
	GetOrderStats(ctx context.Context) (domain.OrderStats, error)
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (*domain.Order, error)
	UpdateOrder(ctx context.Context, id string, in UpdateOrderInput) (*domain.Order, error)
	UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) (*domain.Order, error)
	DeleteOrder(ctx context.Context, id string) error
}

type Handler struct {
	service   OrderService
	responder *api.Responder
	logger    *slog.Logger
}

func NewHandler(service OrderService, responder *api.Responder, logger *slog.Logger) *Handler {
	return &Handler{
		service:   service,
		responder: responder,
		logger:    logger,
	}
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderInput
	if err := api.Decode(r, &req); err != nil {
		h.responder.Error(w, r, err)
		return
	}

	order, err := h.service.CreateOrder(r.Context(), req)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}

	h.responder.Success(w, http.StatusCreated, "Order created successfully", order)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	page, err := api.QueryInt(r, "page", DefaultPage)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}
	limit, err := api.QueryInt(r, "limit", DefaultLimit)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}

	q := r.URL.Query()
	filter := OrderFilter{
		Status:        domain.OrderStatus(strings.TrimSpace(q.Get("status"))),
		CustomerEmail: strings.TrimSpace(q.Get("customer_email")),
		CustomerName:  strings.TrimSpace(q.Get("customer_name")),
		OrderNumber:   strings.TrimSpace(q.Get("order_number")),
		Page:          page,
		Limit:         limit,
	}.withDefaults()

	orders, total, err := h.service.ListOrders(r.Context(), filter)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}

	h.logger.Info("orders listed", "count", len(orders), "total", total)
	h.responder.Page(w, "Orders retrieved successfully", orders, api.NewPagination(filter.Page, filter.Limit, total))
}

func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetOrderStats(r.Context())
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}

	h.responder.Success(w, http.StatusOK, "Order statistics retrieved successfully", stats)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.GetOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}

	h.responder.Success(w, http.StatusOK, "Order retrieved successfully", order)
}

func (h *Handler) HandleGetByNumber(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.GetOrderByNumber(r.Context(), r.PathValue("orderNumber"))
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}

	h.responder.Success(w, http.StatusOK, "Order retrieved successfully", order)
}

func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var req UpdateOrderInput
	if err := api.Decode(r, &req); err != nil {
		h.responder.Error(w, r, err)
		return
	}

	order, err := h.service.UpdateOrder(r.Context(), r.PathValue("id"), req)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}

	h.responder.Success(w, http.StatusOK, "Order updated successfully", order)
}

type updateStatusRequest struct {
	Status domain.OrderStatus `json:"status"`
}

func (h *Handler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := api.Decode(r, &req); err != nil {
		h.responder.Error(w, r, err)
		return
	}
	if req.Status == "" {
		h.responder.Error(w, r, apperr.Validation("Status is required", "OrdersHandler.updateStatus",
			map[string]any{"status": "required"}))
		return
	}

	order, err := h.service.UpdateStatus(r.Context(), r.PathValue("id"), req.Status)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}

	h.responder.Success(w, http.StatusOK, "Order status updated successfully", order)
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteOrder(r.Context(), r.PathValue("id")); err != nil {
		h.responder.Error(w, r, err)
		return
	}

	h.responder.Success(w, http.StatusOK, "Order deleted successfully", nil)
}
