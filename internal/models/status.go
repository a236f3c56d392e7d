package models

import "strings"

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

// Order statuses
const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusReturned   OrderStatus = "returned"
)

// orderTransitions is the lifecycle graph. Cancelled and returned are terminal.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed:  {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered, OrderStatusReturned},
	OrderStatusDelivered:  {OrderStatusReturned},
	OrderStatusCancelled:  nil,
	OrderStatusReturned:   nil,
}

// ParseOrderStatus normalizes s and reports whether it names a known status.
func ParseOrderStatus(s string) (OrderStatus, bool) {
	st := OrderStatus(strings.ToLower(strings.TrimSpace(s)))
	_, ok := orderTransitions[st]
	return st, ok
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsCancellable reports whether an order in this status may still be cancelled.
func (s OrderStatus) IsCancellable() bool {
	return s.CanTransitionTo(OrderStatusCancelled)
}

// IsTerminal reports whether no further transitions exist.
func (s OrderStatus) IsTerminal() bool {
	return len(orderTransitions[s]) == 0
}

// ReleasesStock reports whether entering this status returns reserved units to the catalog.
func (s OrderStatus) ReleasesStock() bool {
	return s == OrderStatusCancelled || s == OrderStatusReturned
}
