package order

import (
	"time"

	"florahub-be/internal/auth"
)

type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusPaid      OrderStatus = "paid"
	StatusConfirmed OrderStatus = "confirmed"
	StatusPreparing OrderStatus = "preparing"
	StatusShipped   OrderStatus = "shipped"
	StatusDelivered OrderStatus = "delivered"
	StatusCompleted OrderStatus = "completed"
	StatusCancelled OrderStatus = "cancelled"
	StatusDisputed  OrderStatus = "disputed"
)

// transitions is the full lifecycle graph. Cancellation is allowed from
// any state before delivery; disputes from any non-terminal state;
// disputed orders are resolved by an admin into cancelled or completed.
var transitions = map[OrderStatus][]OrderStatus{
	StatusPending:   {StatusPaid, StatusCancelled, StatusDisputed},
	StatusPaid:      {StatusConfirmed, StatusCancelled, StatusDisputed},
	StatusConfirmed: {StatusPreparing, StatusCancelled, StatusDisputed},
	StatusPreparing: {StatusShipped, StatusCancelled, StatusDisputed},
	StatusShipped:   {StatusDelivered, StatusCancelled, StatusDisputed},
	StatusDelivered: {StatusCompleted, StatusDisputed},
	StatusDisputed:  {StatusCancelled, StatusCompleted},
	StatusCompleted: {},
	StatusCancelled: {},
}

func ValidStatus(s OrderStatus) bool {
	_, ok := transitions[s]
	return ok
}

func IsTerminal(s OrderStatus) bool {
	return len(transitions[s]) == 0
}

// CanTransition reports whether the edge from -> to exists in the
// lifecycle graph.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Order struct {
	ID              int64       `json:"id"`
	BuyerID         int64       `json:"buyer_id"`
	TotalAmount     int64       `json:"total_amount"`
	Status          OrderStatus `json:"status"`
	ShippingAddress string      `json:"shipping_address"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
	Items           []OrderItem `json:"items"`
}

type OrderItem struct {
	ID          int64  `json:"id"`
	OrderID     int64  `json:"order_id"`
	ProductID   int64  `json:"product_id"`
	FarmerID    int64  `json:"farmer_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
	Subtotal    int64  `json:"subtotal"`
}

// FarmerSubtotals groups the order's line items by farmer. Escrow release
// is computed per farmer sub-total, never per whole order.
func (o *Order) FarmerSubtotals() map[int64]int64 {
	totals := make(map[int64]int64, len(o.Items))
	for _, item := range o.Items {
		totals[item.FarmerID] += item.Subtotal
	}
	return totals
}

// StatusHistory is the append-only audit trail; one entry per transition,
// written in the same transaction as the status update.
type StatusHistory struct {
	ID         int64       `json:"id"`
	OrderID    int64       `json:"order_id"`
	PrevStatus OrderStatus `json:"prev_status"`
	NewStatus  OrderStatus `json:"new_status"`
	Note       string      `json:"note"`
	ActorID    int64       `json:"actor_id"`
	ActorRole  auth.Role   `json:"actor_role"`
	CreatedAt  time.Time   `json:"created_at"`
}
