package store

import (
	"context"
	"time"

	"clubsite/models"
)

// Catalog is the admin-owned part of the store: events, their lots and the
// ticket types sold within each lot.
type Catalog interface {
	Event(ctx context.Context, id string) (*models.Event, error)
	EventsStartingBetween(ctx context.Context, from, to time.Time) ([]models.Event, error)
	Lot(ctx context.Context, id string) (*models.Lot, error)
	LotsByEvent(ctx context.Context, eventID string) ([]models.Lot, error)
	TicketType(ctx context.Context, id string) (*models.TicketType, error)
	TicketTypesByLot(ctx context.Context, lotID string) ([]models.TicketType, error)

	// IncrementSold adds n to quantity_sold only if the result stays within
	// total_quantity. It reports false when the guard rejected the update.
	IncrementSold(ctx context.Context, ticketTypeID string, n int) (bool, error)
}

type TicketFilter struct {
	IDs          []string
	EventID      string
	LotID        string
	TicketTypeID string
	PurchaserID  string
	Statuses     []models.TicketStatus
	// PurchasedBefore restricts to tickets purchased strictly before the given instant.
	PurchasedBefore time.Time
}

// TicketTransition is a compare-and-set on a ticket's status.
type TicketTransition struct {
	ID        string
	From      models.TicketStatus
	To        models.TicketStatus
	At        time.Time // stamped as used_at when To is used
	PaymentID string    // stored when not empty
}

type Tickets interface {
	InsertTicket(ctx context.Context, t *models.Ticket) error
	Ticket(ctx context.Context, id string) (*models.Ticket, error)
	TicketByCode(ctx context.Context, code string) (*models.Ticket, error)
	FindTickets(ctx context.Context, f TicketFilter) ([]models.Ticket, error)
	CountTickets(ctx context.Context, f TicketFilter) (int, error)
	// TransitionTicket applies the transition only while the ticket is still in
	// From and reports whether this call won.
	TransitionTicket(ctx context.Context, tr TicketTransition) (bool, error)
	DeleteTickets(ctx context.Context, ids []string) error
}

type Scans interface {
	InsertScan(ctx context.Context, s *models.ScanAttempt) error
	ScansByEvent(ctx context.Context, eventID string) ([]models.ScanAttempt, error)
}

type OrderTransition struct {
	ID        string
	From      models.OrderStatus
	To        models.OrderStatus
	At        time.Time // stamped as paid_at when To is paid
	PaymentID string
}

type Orders interface {
	// InsertOrder stores the order and its line items.
	InsertOrder(ctx context.Context, o *models.Order) error
	Order(ctx context.Context, id string) (*models.Order, error)
	ListOrders(ctx context.Context) ([]models.Order, error)
	TransitionOrder(ctx context.Context, tr OrderTransition) (bool, error)
	DeleteOrder(ctx context.Context, id string) error
}

type Products interface {
	Product(ctx context.Context, id string) (*models.Product, error)
	Variant(ctx context.Context, id string) (*models.Variant, error)
	// DecrementStock lowers the variant stock when the item names a variant,
	// the product stock otherwise, refusing to go below zero.
	DecrementStock(ctx context.Context, item models.LineItem) (bool, error)
}

// Tx is the full set of store operations available inside a transaction.
type Tx interface {
	Catalog
	Tickets
	Scans
	Orders
	Products
}

type Store interface {
	Tx
	// RunInTx runs fn so that all of its writes commit or roll back together.
	RunInTx(ctx context.Context, fn func(tx Tx) error) error
}
