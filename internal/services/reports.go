package services

import (
	"context"
	"fmt"

	"clubsite/internal/status"
	"clubsite/internal/store"
	"clubsite/models"

	"github.com/shopspring/decimal"
)

type TicketTypeReport struct {
	TicketTypeID string `json:"ticket_type_id"`
	LotID        string `json:"lot_id"`
	Name         string `json:"name"`
	Sold         int    `json:"sold"`
	Total        int    `json:"total"`
	Pending      int    `json:"pending"`
}

type EventReport struct {
	EventID     string                      `json:"event_id"`
	Title       string                      `json:"title"`
	TicketTypes []TicketTypeReport          `json:"ticket_types"`
	Tickets     map[models.TicketStatus]int `json:"tickets"`
	Revenue     decimal.Decimal             `json:"revenue"`
	Scans       map[models.ScanOutcome]int  `json:"scans"`
}

type OrdersReport struct {
	Orders  map[models.OrderStatus]int `json:"orders"`
	Revenue decimal.Decimal            `json:"revenue"`
}

type ReportService struct {
	store store.Tx
}

func NewReportService(s store.Tx) *ReportService {
	return &ReportService{store: s}
}

func (s *ReportService) EventReport(ctx context.Context, eventID string, actor *models.Actor) (*EventReport, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	ev, err := s.store.Event(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("event report: %w", err)
	}

	r := &EventReport{
		EventID:     ev.ID,
		Title:       ev.Title,
		TicketTypes: []TicketTypeReport{},
		Tickets:     map[models.TicketStatus]int{},
		Revenue:     decimal.Zero,
		Scans:       map[models.ScanOutcome]int{},
	}

	tickets, err := s.store.FindTickets(ctx, store.TicketFilter{EventID: ev.ID})
	if err != nil {
		return nil, fmt.Errorf("event report: %w", err)
	}
	pendingByType := map[string]int{}
	for _, t := range tickets {
		r.Tickets[t.Status]++
		switch t.Status {
		case models.TicketValid, models.TicketUsed:
			r.Revenue = r.Revenue.Add(t.Price)
		case models.TicketPending:
			pendingByType[t.TicketTypeID]++
		}
	}

	lots, err := s.store.LotsByEvent(ctx, ev.ID)
	if err != nil {
		return nil, fmt.Errorf("event report: %w", err)
	}
	for _, lot := range lots {
		types, err := s.store.TicketTypesByLot(ctx, lot.ID)
		if err != nil {
			return nil, fmt.Errorf("event report: %w", err)
		}
		for _, tt := range types {
			r.TicketTypes = append(r.TicketTypes, TicketTypeReport{
				TicketTypeID: tt.ID,
				LotID:        lot.ID,
				Name:         tt.Name,
				Sold:         tt.QuantitySold,
				Total:        tt.TotalQuantity,
				Pending:      pendingByType[tt.ID],
			})
		}
	}

	scans, err := s.store.ScansByEvent(ctx, ev.ID)
	if err != nil {
		return nil, fmt.Errorf("event report: %w", err)
	}
	for _, sc := range scans {
		r.Scans[sc.Outcome]++
	}
	return r, nil
}

func (s *ReportService) OrdersReport(ctx context.Context, actor *models.Actor) (*OrdersReport, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	orders, err := s.store.ListOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("orders report: %w", err)
	}

	r := &OrdersReport{Orders: map[models.OrderStatus]int{}, Revenue: decimal.Zero}
	for _, o := range orders {
		r.Orders[o.Status]++
		if o.Status != models.OrderPending && o.Status != models.OrderCancelled {
			r.Revenue = r.Revenue.Add(o.Total)
		}
	}
	return r, nil
}

func requireAdmin(actor *models.Actor) error {
	if actor == nil {
		return status.ErrUnauthorized
	}
	if !actor.IsAdmin() {
		return status.ErrForbidden
	}
	return nil
}
