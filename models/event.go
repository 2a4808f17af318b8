package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Event struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Slug        string    `json:"slug"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
	Location    string    `json:"location"`
	Capacity    *int      `json:"capacity,omitempty"`
	MembersOnly bool      `json:"members_only"`
	Published   bool      `json:"published"`
	Active      bool      `json:"active"`
}

// OnSale reports whether the event accepts purchases at all.
func (e *Event) OnSale() bool {
	return e.Published && e.Active
}

// Lot is a time-boxed sales window of an event.
type Lot struct {
	ID           string    `json:"id"`
	EventID      string    `json:"event_id"`
	Name         string    `json:"name"`
	StartsAt     time.Time `json:"starts_at"`
	EndsAt       time.Time `json:"ends_at"`
	MaxQuantity  *int      `json:"max_quantity,omitempty"`
	Active       bool      `json:"active"`
	DisplayOrder int       `json:"display_order"`
}

// InWindow reports whether now falls inside [StartsAt, EndsAt], both inclusive.
func (l *Lot) InWindow(now time.Time) bool {
	return !now.Before(l.StartsAt) && !now.After(l.EndsAt)
}

type TicketType struct {
	ID             string           `json:"id"`
	LotID          string           `json:"lot_id"`
	Name           string           `json:"name"`
	Price          decimal.Decimal  `json:"price"`
	MemberPrice    *decimal.Decimal `json:"member_price,omitempty"`
	TotalQuantity  int              `json:"total_quantity"`
	QuantitySold   int              `json:"quantity_sold"`
	MaxPerPurchase int              `json:"max_per_purchase"`
	Active         bool             `json:"active"`
	DisplayOrder   int              `json:"display_order"`
}

// Available is total_quantity - quantity_sold, never negative.
func (t *TicketType) Available() int {
	if n := t.TotalQuantity - t.QuantitySold; n > 0 {
		return n
	}
	return 0
}

// PriceFor returns the unit price a purchaser pays.
func (t *TicketType) PriceFor(member bool) decimal.Decimal {
	if member && t.MemberPrice != nil {
		return *t.MemberPrice
	}
	return t.Price
}
