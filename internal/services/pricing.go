package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"clubsite/internal/store"
	"clubsite/models"

	"github.com/shopspring/decimal"
)

type PricingStatus string

const (
	PricingAvailable PricingStatus = "available"
	PricingSoldOut   PricingStatus = "sold_out"
	PricingNotOnSale PricingStatus = "not_on_sale"
	PricingNoLots    PricingStatus = "no_lots"
)

// LotIsActive is the single definition of an active lot shared by the
// resolver and the issuance checks. Both window boundaries are inclusive.
func LotIsActive(now time.Time, lot models.Lot, soldInLot int) bool {
	if !lot.Active || !lot.InWindow(now) {
		return false
	}
	return lot.MaxQuantity == nil || soldInLot < *lot.MaxQuantity
}

// TicketTypeContributes reports whether a ticket type still counts towards
// the prices shown for an event.
func TicketTypeContributes(tt models.TicketType) bool {
	return tt.Active && tt.QuantitySold < tt.TotalQuantity
}

type LotPricing struct {
	LotID    string           `json:"lot_id"`
	Name     string           `json:"name"`
	Status   PricingStatus    `json:"status"`
	MinPrice *decimal.Decimal `json:"min_price,omitempty"`
}

type Pricing struct {
	EventID        string           `json:"event_id"`
	Status         PricingStatus    `json:"status"`
	MinPrice       *decimal.Decimal `json:"min_price,omitempty"`
	MinMemberPrice *decimal.Decimal `json:"min_member_price,omitempty"`
	TotalSold      int              `json:"total_sold"`
	ActiveLots     []string         `json:"active_lots"`
	Lots           []LotPricing     `json:"lots"`
}

type TicketTypeOffer struct {
	models.TicketType
	Remaining int `json:"remaining"`
}

type LotOffer struct {
	Lot         models.Lot        `json:"lot"`
	TicketTypes []TicketTypeOffer `json:"ticket_types"`
}

type PricingService struct {
	store store.Tx
	now   func() time.Time
}

func NewPricingService(s store.Tx) *PricingService {
	return &PricingService{store: s, now: time.Now}
}

// ResolvePricing derives the display prices and sale status of an event from
// the live catalog on every call.
func (s *PricingService) ResolvePricing(ctx context.Context, eventID string) (*Pricing, error) {
	if _, err := s.store.Event(ctx, eventID); err != nil {
		return nil, fmt.Errorf("resolve pricing: %w", err)
	}
	lots, err := s.store.LotsByEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("resolve pricing: %w", err)
	}

	p := &Pricing{EventID: eventID, ActiveLots: []string{}, Lots: []LotPricing{}}
	if len(lots) == 0 {
		p.Status = PricingNoLots
		return p, nil
	}

	now := s.now()
	anyInWindow := false
	for _, lot := range lots {
		types, err := s.store.TicketTypesByLot(ctx, lot.ID)
		if err != nil {
			return nil, fmt.Errorf("resolve pricing: %w", err)
		}
		sold := soldInLot(types)
		p.TotalSold += sold

		lp := LotPricing{LotID: lot.ID, Name: lot.Name, Status: PricingNotOnSale}
		inWindow := lot.Active && lot.InWindow(now)
		if inWindow {
			anyInWindow = true
			lp.Status = PricingSoldOut
		}
		if !LotIsActive(now, lot, sold) {
			p.Lots = append(p.Lots, lp)
			continue
		}

		contributed := false
		for _, tt := range types {
			if !TicketTypeContributes(tt) {
				continue
			}
			contributed = true
			lp.MinPrice = minDecimal(lp.MinPrice, tt.Price)
			p.MinPrice = minDecimal(p.MinPrice, tt.Price)
			if tt.MemberPrice != nil {
				p.MinMemberPrice = minDecimal(p.MinMemberPrice, *tt.MemberPrice)
			}
		}
		if contributed {
			lp.Status = PricingAvailable
			p.ActiveLots = append(p.ActiveLots, lot.ID)
		}
		p.Lots = append(p.Lots, lp)
	}

	switch {
	case len(p.ActiveLots) > 0:
		p.Status = PricingAvailable
	case anyInWindow:
		p.Status = PricingSoldOut
	default:
		p.Status = PricingNotOnSale
	}
	return p, nil
}

// ListOnSale returns the active lots of an event with the ticket types a
// purchaser can still select. Remaining discounts pending reservations.
func (s *PricingService) ListOnSale(ctx context.Context, eventID string) ([]LotOffer, error) {
	if _, err := s.store.Event(ctx, eventID); err != nil {
		return nil, fmt.Errorf("list on sale: %w", err)
	}
	lots, err := s.store.LotsByEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("list on sale: %w", err)
	}
	sort.SliceStable(lots, func(i, j int) bool { return lots[i].DisplayOrder < lots[j].DisplayOrder })

	now := s.now()
	offers := []LotOffer{}
	for _, lot := range lots {
		types, err := s.store.TicketTypesByLot(ctx, lot.ID)
		if err != nil {
			return nil, fmt.Errorf("list on sale: %w", err)
		}
		if !LotIsActive(now, lot, soldInLot(types)) {
			continue
		}
		sort.SliceStable(types, func(i, j int) bool { return types[i].DisplayOrder < types[j].DisplayOrder })

		offer := LotOffer{Lot: lot, TicketTypes: []TicketTypeOffer{}}
		for _, tt := range types {
			if !TicketTypeContributes(tt) {
				continue
			}
			pending, err := s.store.CountTickets(ctx, store.TicketFilter{
				TicketTypeID: tt.ID,
				Statuses:     []models.TicketStatus{models.TicketPending},
			})
			if err != nil {
				return nil, fmt.Errorf("list on sale: %w", err)
			}
			remaining := tt.Available() - pending
			if remaining <= 0 {
				continue
			}
			offer.TicketTypes = append(offer.TicketTypes, TicketTypeOffer{TicketType: tt, Remaining: remaining})
		}
		if len(offer.TicketTypes) > 0 {
			offers = append(offers, offer)
		}
	}
	return offers, nil
}

func soldInLot(types []models.TicketType) int {
	n := 0
	for _, tt := range types {
		n += tt.QuantitySold
	}
	return n
}

func minDecimal(cur *decimal.Decimal, v decimal.Decimal) *decimal.Decimal {
	if cur == nil || v.LessThan(*cur) {
		return &v
	}
	return cur
}
