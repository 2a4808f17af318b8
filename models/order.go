package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPaid      OrderStatus = "paid"
	OrderPreparing OrderStatus = "preparing"
	OrderShipped   OrderStatus = "shipped"
	OrderDelivered OrderStatus = "delivered"
	OrderCancelled OrderStatus = "cancelled"
)

var orderRank = map[OrderStatus]int{
	OrderPending:   0,
	OrderPaid:      1,
	OrderPreparing: 2,
	OrderShipped:   3,
	OrderDelivered: 4,
}

// CanTransitionTo enforces the forward-only order lifecycle. Cancellation is
// only reachable from pending.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if next == OrderCancelled {
		return s == OrderPending
	}
	from, ok := orderRank[s]
	if !ok {
		return false
	}
	to, ok := orderRank[next]
	if !ok {
		return false
	}
	return to == from+1
}

func (s OrderStatus) Valid() bool {
	if s == OrderCancelled {
		return true
	}
	_, ok := orderRank[s]
	return ok
}

type Contact struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address,omitempty"`
}

type LineItem struct {
	ID          string          `json:"id"`
	OrderID     string          `json:"order_id"`
	ProductID   string          `json:"product_id"`
	VariantID   string          `json:"variant_id,omitempty"`
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

func (i LineItem) Total() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Order struct {
	ID            string          `json:"id"`
	Number        string          `json:"number"`
	PurchaserID   string          `json:"purchaser_id,omitempty"`
	Contact       Contact         `json:"contact"`
	Items         []LineItem      `json:"items"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	ShippingCost  decimal.Decimal `json:"shipping_cost"`
	Discount      decimal.Decimal `json:"discount"`
	Total         decimal.Decimal `json:"total"`
	Status        OrderStatus     `json:"status"`
	PaymentMethod string          `json:"payment_method"`
	PaymentID     string          `json:"payment_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
}

type Product struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
	Stock  int             `json:"stock"`
	Active bool            `json:"active"`
}

type Variant struct {
	ID        string           `json:"id"`
	ProductID string           `json:"product_id"`
	Name      string           `json:"name"`
	Price     *decimal.Decimal `json:"price,omitempty"` // overrides the product price when set
	Stock     int              `json:"stock"`
	Active    bool             `json:"active"`
}
