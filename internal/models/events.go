package models

import "time"

// Event types
const (
	EventTypeOrderCreated       = "ORDER_CREATED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when an order is persisted
type OrderCreatedEvent struct {
	BaseEvent
	OrderID     string          `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	UserID      string          `json:"user_id"`
	Total       int64           `json:"total"`
	Items       []OrderItemData `json:"items"`
}

// OrderStatusChangedEvent published after every lifecycle transition
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID string          `json:"order_id"`
	From    OrderStatus     `json:"from"`
	To      OrderStatus     `json:"to"`
	Note    string          `json:"note,omitempty"`
	Items   []OrderItemData `json:"items"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

// ItemData converts order lines into their event representation.
func ItemData(items []OrderItem) []OrderItemData {
	out := make([]OrderItemData, 0, len(items))
	for _, it := range items {
		out = append(out, OrderItemData{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.Price,
		})
	}
	return out
}
