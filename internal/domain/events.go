package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderEventType string

const (
	OrderEventCreated   OrderEventType = "order.created"
	OrderEventUpdated   OrderEventType = "order.updated"
	OrderEventCancelled OrderEventType = "order.cancelled"
	OrderEventDeleted   OrderEventType = "order.deleted"
)

type OrderEventItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// OrderEvent is published after the transaction that produced it commits.
type OrderEvent struct {
	Type        OrderEventType   `json:"type"`
	OrderID     string           `json:"order_id"`
	OrderNumber string           `json:"order_number"`
	Status      OrderStatus      `json:"status"`
	TotalAmount decimal.Decimal  `json:"total_amount"`
	Items       []OrderEventItem `json:"items,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
}

func NewOrderEvent(t OrderEventType, order *Order, items []OrderItem, at time.Time) OrderEvent {
	event := OrderEvent{
		Type:        t,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      order.Status,
		TotalAmount: order.TotalAmount,
		Timestamp:   at,
	}
	for _, item := range items {
		event.Items = append(event.Items, OrderEventItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return event
}

func (e OrderEvent) EventType() string {
	return string(e.Type)
}
